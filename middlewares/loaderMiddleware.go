package middlewares

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/graph-gophers/dataloader/v7"
	"github.com/mmdatafocus/factory_backend/appctx"
	"github.com/mmdatafocus/factory_backend/models"
)

type ctxKey string

const (
	loadersKey = ctxKey("dataloaders")
)

// Loaders batch the reference lookups made while rendering delivery notes.
type Loaders struct {
	vehicleLoader       *dataloader.Loader[int, *models.Vehicle]
	driverLoader        *dataloader.Loader[int, *models.Driver]
	inventoryItemLoader *dataloader.Loader[int, *models.InventoryItem]
}

// NewLoaders instantiates data loaders scoped to one tenant.
func NewLoaders(businessId string) *Loaders {
	vehicleReader := &vehicleReader{businessId: businessId}
	driverReader := &driverReader{businessId: businessId}
	inventoryItemReader := &inventoryItemReader{businessId: businessId}

	return &Loaders{
		vehicleLoader:       dataloader.NewBatchedLoader(vehicleReader.getVehicles, dataloader.WithWait[int, *models.Vehicle](time.Millisecond)),
		driverLoader:        dataloader.NewBatchedLoader(driverReader.getDrivers, dataloader.WithWait[int, *models.Driver](time.Millisecond)),
		inventoryItemLoader: dataloader.NewBatchedLoader(inventoryItemReader.getInventoryItems, dataloader.WithWait[int, *models.InventoryItem](time.Millisecond)),
	}
}

// LoaderMiddleware must run after SessionMiddleware.
func LoaderMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, _ := appctx.ActorFrom(c.Request.Context())
		loader := NewLoaders(actor.BusinessId)
		ctx := context.WithValue(c.Request.Context(), loadersKey, loader)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// For returns the request's loaders, or fresh ones for the context's tenant when none were installed.
func For(ctx context.Context) *Loaders {
	if loaders, ok := ctx.Value(loadersKey).(*Loaders); ok {
		return loaders
	}
	actor, _ := appctx.ActorFrom(ctx)
	return NewLoaders(actor.BusinessId)
}

// handleError creates array of result with the same error repeated for as many items requested
func handleError[T any](itemsLength int, err error) []*dataloader.Result[T] {
	result := make([]*dataloader.Result[T], itemsLength)
	for i := 0; i < itemsLength; i++ {
		result[i] = &dataloader.Result[T]{Error: err}
	}
	return result
}

// generateLoaderResults orders rows by the requested ids; a missing id yields a nil result.
func generateLoaderResults[T any](rows []*T, ids []int, idOf func(*T) int) []*dataloader.Result[*T] {
	resultMap := make(map[int]*T, len(rows))
	for _, row := range rows {
		resultMap[idOf(row)] = row
	}
	loaderResults := make([]*dataloader.Result[*T], 0, len(ids))
	for _, id := range ids {
		loaderResults = append(loaderResults, &dataloader.Result[*T]{Data: resultMap[id]})
	}
	return loaderResults
}
