package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mmdatafocus/factory_backend/appctx"
	"github.com/mmdatafocus/factory_backend/config"
	"github.com/mmdatafocus/factory_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ProductionJob struct {
	ID              int                  `gorm:"primary_key" json:"id"`
	BusinessId      string               `gorm:"size:64;not null;index" json:"business_id"`
	ProjectId       int                  `gorm:"not null;index" json:"project_id"`
	SubGroup        string               `gorm:"size:100" json:"sub_group"`
	Title           string               `gorm:"size:255" json:"title"`
	InventoryItemId *int                 `json:"inventory_item_id"`
	Stage           string               `gorm:"size:100;not null;index" json:"stage"`
	StageIndex      *int                 `json:"stage_index"`
	Status          ProductionJobStatus  `gorm:"size:20;not null;index" json:"status"`
	PlannedQty      decimal.Decimal      `gorm:"type:decimal(20,4);default:0" json:"planned_qty"`
	PlannedHours    decimal.Decimal      `gorm:"type:decimal(20,4);default:0" json:"planned_hours"`
	ActualQty       decimal.Decimal      `gorm:"type:decimal(20,4);default:0" json:"actual_qty"`
	ActualHours     decimal.Decimal      `gorm:"type:decimal(20,4);default:0" json:"actual_hours"`
	AssigneeId      *int                 `gorm:"index" json:"assignee_id"`
	CreatedBy       int                  `json:"created_by"`
	CreatedAt       time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
	StageLogs       []ProductionStageLog `gorm:"foreignKey:ProductionJobId" json:"stage_logs,omitempty"`
}

// ProductionStageLog is one visit of a job to one stage. The open log of a visit has no CompletedAt.
type ProductionStageLog struct {
	ID              int             `gorm:"primary_key" json:"id"`
	BusinessId      string          `gorm:"size:64;not null;index" json:"business_id"`
	ProductionJobId int             `gorm:"not null;index" json:"production_job_id"`
	Stage           string          `gorm:"size:100;not null" json:"stage"`
	StartedAt       *time.Time      `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at"`
	HoursLogged     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"hours_logged"`
	OutputQty       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"output_qty"`
	QcStatus        *QCStatus       `gorm:"size:10" json:"qc_status"`
	Photos          DocumentRefs    `json:"photos"`
	Notes           string          `gorm:"type:text" json:"notes"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProductionJob struct {
	ProjectId       int              `json:"project_id" validate:"required,gt=0"`
	SubGroup        string           `json:"sub_group" validate:"omitempty,max=100"`
	Title           string           `json:"title" validate:"omitempty,max=255"`
	InventoryItemId *int             `json:"inventory_item_id"`
	PlannedQty      *decimal.Decimal `json:"planned_qty"`
	PlannedHours    *decimal.Decimal `json:"planned_hours"`
	AssigneeId      *int             `json:"assignee_id"`
}

type TransitionJobInput struct {
	Status    ProductionJobStatus `json:"status" validate:"required"`
	OutputQty *decimal.Decimal    `json:"output_qty"`
	Notes     string              `json:"notes"`
}

type MoveStageInput struct {
	Stage          string `json:"stage" validate:"required,max=100"`
	OverrideReason string `json:"override_reason" validate:"omitempty,max=512"`
}

type LogWorkInput struct {
	Hours     decimal.Decimal  `json:"hours"`
	OutputQty *decimal.Decimal `json:"output_qty"`
	Notes     string           `json:"notes"`
}

type ProductionJobFilter struct {
	ProjectId *int                 `form:"project_id"`
	Status    *ProductionJobStatus `form:"status"`
	Stage     string               `form:"stage"`
}

// stageListOrNil treats an unconfigured tenant as one where every stage is unresolvable.
func stageListOrNil(ctx context.Context, tx *gorm.DB, businessId string) (StageList, error) {
	list, err := GetTenantStageList(ctx, tx, businessId)
	if errors.Is(err, utils.ErrStagesNotConfigured) {
		return nil, nil
	}
	return list, err
}

func openStageLog(ctx context.Context, tx *gorm.DB, job *ProductionJob, startedAt *time.Time) (*ProductionStageLog, error) {
	log := ProductionStageLog{
		BusinessId:      job.BusinessId,
		ProductionJobId: job.ID,
		Stage:           job.Stage,
		StartedAt:       startedAt,
		HoursLogged:     decimal.Zero,
		OutputQty:       decimal.Zero,
		Photos:          DocumentRefs{},
	}
	if err := tx.WithContext(ctx).Create(&log).Error; err != nil {
		return nil, err
	}
	return &log, nil
}

func findOpenStageLog(ctx context.Context, tx *gorm.DB, job *ProductionJob) (*ProductionStageLog, error) {
	var log ProductionStageLog
	err := tx.WithContext(ctx).
		Where("business_id = ? AND production_job_id = ? AND stage = ? AND completed_at IS NULL", job.BusinessId, job.ID, job.Stage).
		Order("id DESC").
		Limit(1).
		Find(&log).Error
	if err != nil {
		return nil, err
	}
	if log.ID == 0 {
		return nil, nil
	}
	return &log, nil
}

// findOrOpenStageLog returns the open log of the job's current stage visit, opening one if the
// previous visit was closed.
func findOrOpenStageLog(ctx context.Context, tx *gorm.DB, job *ProductionJob) (*ProductionStageLog, error) {
	log, err := findOpenStageLog(ctx, tx, job)
	if err != nil || log != nil {
		return log, err
	}
	return openStageLog(ctx, tx, job, nil)
}

func closeStageLog(ctx context.Context, tx *gorm.DB, log *ProductionStageLog, at time.Time, note string) error {
	log.CompletedAt = &at
	log.Notes = utils.AppendNote(log.Notes, note)
	return tx.WithContext(ctx).Model(&ProductionStageLog{}).
		Where("id = ? AND business_id = ?", log.ID, log.BusinessId).
		Updates(map[string]interface{}{
			"completed_at": at,
			"output_qty":   log.OutputQty,
			"notes":        log.Notes,
		}).Error
}

func saveJobState(ctx context.Context, tx *gorm.DB, job *ProductionJob) error {
	return tx.WithContext(ctx).Model(&ProductionJob{}).
		Where("id = ? AND business_id = ?", job.ID, job.BusinessId).
		Updates(map[string]interface{}{
			"stage":        job.Stage,
			"stage_index":  job.StageIndex,
			"status":       job.Status,
			"actual_qty":   job.ActualQty,
			"actual_hours": job.ActualHours,
		}).Error
}

func CreateProductionJob(ctx context.Context, actor appctx.Actor, input *NewProductionJob) (*ProductionJob, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if input.PlannedQty != nil && input.PlannedQty.IsNegative() {
		return nil, utils.NewValidationError("planned qty cannot be negative")
	}
	if input.PlannedHours != nil && input.PlannedHours.IsNegative() {
		return nil, utils.NewValidationError("planned hours cannot be negative")
	}
	ctx = actor.Scope(ctx)
	db := config.GetDB()
	if err := utils.ValidateResourceId[Project](ctx, db, actor.BusinessId, "project", input.ProjectId); err != nil {
		return nil, err
	}
	if input.InventoryItemId != nil {
		if err := utils.ValidateResourceId[InventoryItem](ctx, db, actor.BusinessId, "inventory item", *input.InventoryItemId); err != nil {
			return nil, err
		}
	}

	var job ProductionJob
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		first, err := FirstStage(ctx, tx, actor.BusinessId)
		if err != nil {
			return err
		}
		firstIndex, err := IndexOfStage(ctx, tx, actor.BusinessId, first)
		if err != nil {
			return err
		}
		job = ProductionJob{
			BusinessId:      actor.BusinessId,
			ProjectId:       input.ProjectId,
			SubGroup:        input.SubGroup,
			Title:           input.Title,
			InventoryItemId: input.InventoryItemId,
			Stage:           first,
			StageIndex:      firstIndex,
			Status:          ProductionJobStatusNotStarted,
			PlannedQty:      utils.DereferencePtr(input.PlannedQty, decimal.Zero),
			PlannedHours:    utils.DereferencePtr(input.PlannedHours, decimal.Zero),
			ActualQty:       decimal.Zero,
			ActualHours:     decimal.Zero,
			AssigneeId:      input.AssigneeId,
			CreatedBy:       actor.UserId,
		}
		if err := tx.Create(&job).Error; err != nil {
			return err
		}
		if _, err := openStageLog(ctx, tx, &job, nil); err != nil {
			return err
		}
		recordAudit(ctx, tx, actor, AuditActionCreate, "production_job", job.ID, nil, job)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// TransitionProductionJobStatus applies one move from ProductionJobTransitions with its stage log
// side effects. Completing a stage that did not fail QC advances the job to the next configured
// stage as NOT_STARTED; completing the last stage leaves it COMPLETED.
func TransitionProductionJobStatus(ctx context.Context, actor appctx.Actor, jobId int, input *TransitionJobInput) (*ProductionJob, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if !containsEnum(productionJobStatuses, input.Status) {
		return nil, utils.NewValidationError("invalid production job status: %s", input.Status)
	}
	if input.OutputQty != nil && input.OutputQty.IsNegative() {
		return nil, utils.NewValidationError("output qty cannot be negative")
	}
	ctx = actor.Scope(ctx)

	var job *ProductionJob
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		job, err = utils.FetchModelForUpdate[ProductionJob](ctx, tx, actor.BusinessId, "production job", jobId)
		if err != nil {
			return err
		}
		old := *job
		to := input.Status
		if !job.Status.CanTransitionTo(to) {
			return utils.NewInvalidTransitionError("production job", string(job.Status), string(to),
				enumStrings(ProductionJobTransitions(job.Status)))
		}
		now := time.Now().UTC()

		switch to {
		case ProductionJobStatusInProgress:
			log, err := findOrOpenStageLog(ctx, tx, job)
			if err != nil {
				return err
			}
			updates := map[string]interface{}{"notes": utils.AppendNote(log.Notes, input.Notes)}
			if log.StartedAt == nil {
				updates["started_at"] = now
			}
			if err := tx.Model(&ProductionStageLog{}).Where("id = ? AND business_id = ?", log.ID, actor.BusinessId).
				Updates(updates).Error; err != nil {
				return err
			}
			job.Status = ProductionJobStatusInProgress

		case ProductionJobStatusCompleted:
			log, err := findOrOpenStageLog(ctx, tx, job)
			if err != nil {
				return err
			}
			if input.OutputQty != nil {
				job.ActualQty = job.ActualQty.Add(input.OutputQty.Sub(log.OutputQty))
				log.OutputQty = *input.OutputQty
			}
			if err := closeStageLog(ctx, tx, log, now, input.Notes); err != nil {
				return err
			}
			job.Status = ProductionJobStatusCompleted
			failed, err := stageQCBlocked(ctx, tx, job)
			if err != nil {
				return err
			}
			if failed == nil {
				next, ok, err := NextStage(ctx, tx, actor.BusinessId, job.Stage)
				if err != nil && !errors.Is(err, utils.ErrStagesNotConfigured) {
					return err
				}
				if ok {
					if job.StageIndex, err = IndexOfStage(ctx, tx, actor.BusinessId, next); err != nil {
						return err
					}
					job.Stage = next
					job.Status = ProductionJobStatusNotStarted
					if _, err := openStageLog(ctx, tx, job, nil); err != nil {
						return err
					}
				}
			}

		case ProductionJobStatusRework:
			if err := sendToRework(ctx, tx, job, now, input.Notes); err != nil {
				return err
			}

		case ProductionJobStatusCancelled:
			log, err := findOpenStageLog(ctx, tx, job)
			if err != nil {
				return err
			}
			if log != nil {
				if err := closeStageLog(ctx, tx, log, now, utils.AppendNote("cancelled", input.Notes)); err != nil {
					return err
				}
			}
			job.Status = ProductionJobStatusCancelled
		}

		if err := saveJobState(ctx, tx, job); err != nil {
			return err
		}
		recordAudit(ctx, tx, actor, AuditActionStatusChange, "production_job", job.ID, old, job)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// sendToRework closes the current visit; work resumes in a fresh log for the same stage.
func sendToRework(ctx context.Context, tx *gorm.DB, job *ProductionJob, at time.Time, note string) error {
	log, err := findOpenStageLog(ctx, tx, job)
	if err != nil {
		return err
	}
	if log != nil {
		if err := closeStageLog(ctx, tx, log, at, note); err != nil {
			return err
		}
	}
	job.Status = ProductionJobStatusRework
	return nil
}

// MoveProductionJobStage moves a job to another stage. Backward moves between listed stages need
// an override role and a reason; unlisted stages are always accepted.
func MoveProductionJobStage(ctx context.Context, actor appctx.Actor, jobId int, input *MoveStageInput) (*ProductionJob, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	target := strings.TrimSpace(input.Stage)
	if target == "" {
		return nil, utils.NewValidationError("stage is required")
	}
	ctx = actor.Scope(ctx)

	var job *ProductionJob
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		job, err = utils.FetchModelForUpdate[ProductionJob](ctx, tx, actor.BusinessId, "production job", jobId)
		if err != nil {
			return err
		}
		if job.Status == ProductionJobStatusCancelled {
			return utils.NewStateError("production job", string(job.Status),
				enumStrings([]ProductionJobStatus{ProductionJobStatusNotStarted, ProductionJobStatusInProgress, ProductionJobStatusCompleted, ProductionJobStatusRework})...)
		}
		list, err := stageListOrNil(ctx, tx, actor.BusinessId)
		if err != nil {
			return err
		}
		target = list.Canonical(target)
		if strings.EqualFold(target, job.Stage) {
			return nil
		}

		action := AuditActionStageMove
		reason := ""
		i, iok := list.IndexOf(job.Stage)
		j, jok := list.IndexOf(target)
		if iok && jok && j < i {
			if !actor.HasRole(config.StageOverrideRoles()...) {
				return utils.NewInvalidTransitionError("production job stage", job.Stage, target, list[i:])
			}
			reason = strings.TrimSpace(input.OverrideReason)
			if reason == "" {
				return utils.NewValidationError("override reason is required to move back from %s to %s", job.Stage, target)
			}
			action = AuditActionStageOverride
		}

		old := *job
		now := time.Now().UTC()
		log, err := findOpenStageLog(ctx, tx, job)
		if err != nil {
			return err
		}
		if log != nil {
			note := ""
			if reason != "" {
				note = "stage override to " + target + ": " + reason
			}
			if err := closeStageLog(ctx, tx, log, now, note); err != nil {
				return err
			}
		}

		job.Stage = target
		job.StageIndex = list.IndexPtr(target)
		var startedAt *time.Time
		if job.Status == ProductionJobStatusInProgress {
			startedAt = &now
		}
		if _, err := openStageLog(ctx, tx, job, startedAt); err != nil {
			return err
		}
		if err := saveJobState(ctx, tx, job); err != nil {
			return err
		}
		recordAudit(ctx, tx, actor, action, "production_job", job.ID, old, job, reason)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// LogProductionWork adds hours and output to the current stage visit and mirrors them on the job.
func LogProductionWork(ctx context.Context, actor appctx.Actor, jobId int, input *LogWorkInput) (*ProductionStageLog, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	if !input.Hours.IsPositive() {
		return nil, utils.NewValidationError("hours must be greater than 0")
	}
	output := decimal.Zero
	if input.OutputQty != nil {
		if input.OutputQty.IsNegative() {
			return nil, utils.NewValidationError("output qty cannot be negative")
		}
		output = *input.OutputQty
	}
	ctx = actor.Scope(ctx)

	var log *ProductionStageLog
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		job, err := utils.FetchModelForUpdate[ProductionJob](ctx, tx, actor.BusinessId, "production job", jobId)
		if err != nil {
			return err
		}
		if job.Status != ProductionJobStatusInProgress && job.Status != ProductionJobStatusRework {
			return utils.NewStateError("production job", string(job.Status),
				string(ProductionJobStatusInProgress), string(ProductionJobStatusRework))
		}
		log, err = findOrOpenStageLog(ctx, tx, job)
		if err != nil {
			return err
		}
		log.HoursLogged = log.HoursLogged.Add(input.Hours)
		log.OutputQty = log.OutputQty.Add(output)
		log.Notes = utils.AppendNote(log.Notes, input.Notes)
		updates := map[string]interface{}{
			"hours_logged": log.HoursLogged,
			"output_qty":   log.OutputQty,
			"notes":        log.Notes,
		}
		if log.StartedAt == nil {
			now := time.Now().UTC()
			log.StartedAt = &now
			updates["started_at"] = now
		}
		if err := tx.Model(&ProductionStageLog{}).Where("id = ? AND business_id = ?", log.ID, actor.BusinessId).
			Updates(updates).Error; err != nil {
			return err
		}
		job.ActualHours = job.ActualHours.Add(input.Hours)
		job.ActualQty = job.ActualQty.Add(output)
		if err := saveJobState(ctx, tx, job); err != nil {
			return err
		}
		recordAudit(ctx, tx, actor, AuditActionWorkLog, "production_job", job.ID, nil, log)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return log, nil
}

// AttachStagePhotos appends document references to the current stage visit.
func AttachStagePhotos(ctx context.Context, actor appctx.Actor, jobId int, photos []string) (*ProductionStageLog, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	ctx = actor.Scope(ctx)
	refs, err := prepareRefs(ctx, photos)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, utils.NewValidationError("at least one photo is required")
	}

	var log *ProductionStageLog
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		job, err := utils.FetchModelForUpdate[ProductionJob](ctx, tx, actor.BusinessId, "production job", jobId)
		if err != nil {
			return err
		}
		if job.Status == ProductionJobStatusCancelled {
			return utils.NewStateError("production job", string(job.Status), "not CANCELLED")
		}
		log, err = findOrOpenStageLog(ctx, tx, job)
		if err != nil {
			return err
		}
		log.Photos = append(log.Photos, refs...)
		if err := tx.Model(&ProductionStageLog{}).Where("id = ? AND business_id = ?", log.ID, actor.BusinessId).
			Update("photos", log.Photos).Error; err != nil {
			return err
		}
		recordAudit(ctx, tx, actor, AuditActionUpdate, "production_stage_log", log.ID, nil, log)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return log, nil
}

// withCurrentStageIndex recomputes StageIndex against the tenant's list as it is now.
func withCurrentStageIndex(list StageList, jobs ...*ProductionJob) {
	for _, job := range jobs {
		job.StageIndex = list.IndexPtr(job.Stage)
	}
}

func GetProductionJob(ctx context.Context, actor appctx.Actor, id int) (*ProductionJob, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	ctx = actor.Scope(ctx)
	db := config.GetDB()
	var job ProductionJob
	err := db.WithContext(ctx).
		Preload("StageLogs", func(tx *gorm.DB) *gorm.DB { return tx.Order("id ASC") }).
		Where("business_id = ?", actor.BusinessId).
		First(&job, id).Error
	if err != nil {
		return nil, utils.NotFoundOr(err, "production job", id)
	}
	list, err := stageListOrNil(ctx, db, actor.BusinessId)
	if err != nil {
		return nil, err
	}
	withCurrentStageIndex(list, &job)
	return &job, nil
}

func ListProductionJobs(ctx context.Context, actor appctx.Actor, filter ProductionJobFilter) ([]*ProductionJob, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	ctx = actor.Scope(ctx)
	db := config.GetDB()
	q := db.WithContext(ctx).Where("business_id = ?", actor.BusinessId)
	if filter.ProjectId != nil {
		q = q.Where("project_id = ?", *filter.ProjectId)
	}
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	if s := strings.TrimSpace(filter.Stage); s != "" {
		q = q.Where("stage = ?", s)
	}
	var jobs []*ProductionJob
	if err := q.Order("id DESC").Find(&jobs).Error; err != nil {
		return nil, err
	}
	list, err := stageListOrNil(ctx, db, actor.BusinessId)
	if err != nil {
		return nil, err
	}
	withCurrentStageIndex(list, jobs...)
	return jobs, nil
}
