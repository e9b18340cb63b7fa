package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/factory_backend/appctx"
	"github.com/mmdatafocus/factory_backend/models"
)

type stagesRequest struct {
	Stages []string `json:"stages"`
}

type stagesResponse struct {
	Stages models.StageList `json:"stages"`
}

func setTenantStages(c *gin.Context) {
	var req stagesRequest
	if !bindJSON(c, &req) {
		return
	}
	run(c, "SetTenantStages", http.StatusOK, func(ctx context.Context, actor appctx.Actor) (stagesResponse, error) {
		list, err := models.SetTenantStages(ctx, actor, req.Stages)
		return stagesResponse{Stages: list}, err
	})
}

func getTenantStages(c *gin.Context) {
	run(c, "GetTenantStages", http.StatusOK, func(ctx context.Context, actor appctx.Actor) (stagesResponse, error) {
		list, err := models.GetTenantStages(ctx, actor)
		return stagesResponse{Stages: list}, err
	})
}

func createClient(c *gin.Context) {
	var input models.NewClient
	if !bindJSON(c, &input) {
		return
	}
	run(c, "CreateClient", http.StatusCreated, func(ctx context.Context, actor appctx.Actor) (*models.Client, error) {
		return models.CreateClient(ctx, actor, &input)
	})
}

func createProject(c *gin.Context) {
	var input models.NewProject
	if !bindJSON(c, &input) {
		return
	}
	run(c, "CreateProject", http.StatusCreated, func(ctx context.Context, actor appctx.Actor) (*models.Project, error) {
		return models.CreateProject(ctx, actor, &input)
	})
}

func getProject(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	run(c, "GetProject", http.StatusOK, func(ctx context.Context, actor appctx.Actor) (*models.Project, error) {
		return models.GetProject(ctx, actor, id)
	})
}

// ---- production jobs ----

func createProductionJob(c *gin.Context) {
	var input models.NewProductionJob
	if !bindJSON(c, &input) {
		return
	}
	run(c, "CreateProductionJob", http.StatusCreated, func(ctx context.Context, actor appctx.Actor) (*models.ProductionJob, error) {
		return models.CreateProductionJob(ctx, actor, &input)
	})
}

func listProductionJobs(c *gin.Context) {
	var filter models.ProductionJobFilter
	if !bindQuery(c, &filter) {
		return
	}
	run(c, "ListProductionJobs", http.StatusOK, func(ctx context.Context, actor appctx.Actor) ([]*models.ProductionJob, error) {
		return models.ListProductionJobs(ctx, actor, filter)
	})
}

func getProductionJob(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	run(c, "GetProductionJob", http.StatusOK, func(ctx context.Context, actor appctx.Actor) (*models.ProductionJob, error) {
		return models.GetProductionJob(ctx, actor, id)
	})
}

func transitionProductionJob(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	var input models.TransitionJobInput
	if !bindJSON(c, &input) {
		return
	}
	run(c, "TransitionProductionJobStatus", http.StatusOK, func(ctx context.Context, actor appctx.Actor) (*models.ProductionJob, error) {
		return models.TransitionProductionJobStatus(ctx, actor, id, &input)
	})
}

func moveProductionJobStage(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	var input models.MoveStageInput
	if !bindJSON(c, &input) {
		return
	}
	run(c, "MoveProductionJobStage", http.StatusOK, func(ctx context.Context, actor appctx.Actor) (*models.ProductionJob, error) {
		return models.MoveProductionJobStage(ctx, actor, id, &input)
	})
}

func logProductionWork(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	var input models.LogWorkInput
	if !bindJSON(c, &input) {
		return
	}
	run(c, "LogProductionWork", http.StatusCreated, func(ctx context.Context, actor appctx.Actor) (*models.ProductionStageLog, error) {
		return models.LogProductionWork(ctx, actor, id, &input)
	})
}

type photosRequest struct {
	Photos []string `json:"photos"`
}

func attachStagePhotos(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	var req photosRequest
	if !bindJSON(c, &req) {
		return
	}
	run(c, "AttachStagePhotos", http.StatusOK, func(ctx context.Context, actor appctx.Actor) (*models.ProductionStageLog, error) {
		return models.AttachStagePhotos(ctx, actor, id, req.Photos)
	})
}

// ---- qc and rework ----

func recordQC(c *gin.Context) {
	var input models.NewQCRecord
	if !bindJSON(c, &input) {
		return
	}
	run(c, "RecordQC", http.StatusCreated, func(ctx context.Context, actor appctx.Actor) (*models.QCResult, error) {
		return models.RecordQC(ctx, actor, &input)
	})
}

func listQCRecords(c *gin.Context) {
	var filter models.QCRecordFilter
	if !bindQuery(c, &filter) {
		return
	}
	run(c, "ListQCRecords", http.StatusOK, func(ctx context.Context, actor appctx.Actor) ([]*models.QCRecord, error) {
		return models.ListQCRecords(ctx, actor, filter)
	})
}

func createReworkJob(c *gin.Context) {
	var input models.NewReworkJob
	if !bindJSON(c, &input) {
		return
	}
	run(c, "CreateReworkJob", http.StatusCreated, func(ctx context.Context, actor appctx.Actor) (*models.ReworkJob, error) {
		return models.CreateReworkJob(ctx, actor, &input)
	})
}

func listReworkJobs(c *gin.Context) {
	var filter models.ReworkJobFilter
	if !bindQuery(c, &filter) {
		return
	}
	run(c, "ListReworkJobs", http.StatusOK, func(ctx context.Context, actor appctx.Actor) ([]*models.ReworkJob, error) {
		return models.ListReworkJobs(ctx, actor, filter)
	})
}

func getReworkJob(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	run(c, "GetReworkJob", http.StatusOK, func(ctx context.Context, actor appctx.Actor) (*models.ReworkJob, error) {
		return models.GetReworkJob(ctx, actor, id)
	})
}

func updateReworkJob(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	var input models.UpdateReworkJobInput
	if !bindJSON(c, &input) {
		return
	}
	run(c, "UpdateReworkJob", http.StatusOK, func(ctx context.Context, actor appctx.Actor) (*models.ReworkJob, error) {
		return models.UpdateReworkJob(ctx, actor, id, &input)
	})
}
