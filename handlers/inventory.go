package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/factory_backend/appctx"
	"github.com/mmdatafocus/factory_backend/models"
)

func createInventoryItem(c *gin.Context) {
	var input models.NewInventoryItem
	if !bindJSON(c, &input) {
		return
	}
	run(c, "CreateInventoryItem", http.StatusCreated, func(ctx context.Context, actor appctx.Actor) (*models.InventoryItem, error) {
		return models.CreateInventoryItem(ctx, actor, &input)
	})
}

func listInventoryItems(c *gin.Context) {
	search := c.Query("search")
	run(c, "ListInventoryItems", http.StatusOK, func(ctx context.Context, actor appctx.Actor) ([]*models.InventoryItem, error) {
		return models.ListInventoryItems(ctx, actor, search)
	})
}

func getInventoryItem(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	run(c, "GetInventoryItem", http.StatusOK, func(ctx context.Context, actor appctx.Actor) (*models.InventoryItem, error) {
		return models.GetInventoryItem(ctx, actor, id)
	})
}

func receiveStock(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	var input models.ReceiveStockInput
	if !bindJSON(c, &input) {
		return
	}
	run(c, "ReceiveStock", http.StatusCreated, func(ctx context.Context, actor appctx.Actor) (*models.StockTransaction, error) {
		return models.ReceiveStock(ctx, actor, id, &input)
	})
}

func adjustStock(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	var input models.AdjustStockInput
	if !bindJSON(c, &input) {
		return
	}
	run(c, "AdjustStock", http.StatusCreated, func(ctx context.Context, actor appctx.Actor) (*models.StockTransaction, error) {
		return models.AdjustStock(ctx, actor, id, &input)
	})
}

func listStockTransactions(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	run(c, "ListStockTransactions", http.StatusOK, func(ctx context.Context, actor appctx.Actor) ([]*models.StockTransaction, error) {
		return models.ListStockTransactions(ctx, actor, id)
	})
}

type ledgerVerificationResponse struct {
	*models.LedgerVerification
	Consistent bool `json:"consistent"`
}

func verifyStockLedger(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	run(c, "VerifyStockLedger", http.StatusOK, func(ctx context.Context, actor appctx.Actor) (*ledgerVerificationResponse, error) {
		v, err := models.VerifyStockLedger(ctx, actor, id)
		if err != nil {
			return nil, err
		}
		return &ledgerVerificationResponse{LedgerVerification: v, Consistent: v.Consistent()}, nil
	})
}

// ---- returns ----

func createReturn(c *gin.Context) {
	var input models.NewReturnRecord
	if !bindJSON(c, &input) {
		return
	}
	run(c, "CreateReturn", http.StatusCreated, func(ctx context.Context, actor appctx.Actor) (*models.ReturnRecord, error) {
		return models.CreateReturn(ctx, actor, &input)
	})
}

func listReturns(c *gin.Context) {
	var filter models.ReturnFilter
	if !bindQuery(c, &filter) {
		return
	}
	run(c, "ListReturns", http.StatusOK, func(ctx context.Context, actor appctx.Actor) ([]*models.ReturnRecord, error) {
		return models.ListReturns(ctx, actor, filter)
	})
}

func getReturn(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	run(c, "GetReturn", http.StatusOK, func(ctx context.Context, actor appctx.Actor) (*models.ReturnRecord, error) {
		return models.GetReturn(ctx, actor, id)
	})
}

func inspectReturn(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	var input models.InspectReturnInput
	if !bindJSON(c, &input) {
		return
	}
	run(c, "InspectReturn", http.StatusOK, func(ctx context.Context, actor appctx.Actor) (*models.ReturnRecord, error) {
		return models.InspectReturn(ctx, actor, id, &input)
	})
}

func listWastageRecords(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	run(c, "ListWastageRecords", http.StatusOK, func(ctx context.Context, actor appctx.Actor) ([]*models.WastageRecord, error) {
		return models.ListWastageRecords(ctx, actor, id)
	})
}
