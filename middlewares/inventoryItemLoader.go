package middlewares

import (
	"context"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/mmdatafocus/factory_backend/models"
)

type inventoryItemReader struct {
	businessId string
}

func (r *inventoryItemReader) getInventoryItems(ctx context.Context, ids []int) []*dataloader.Result[*models.InventoryItem] {
	results, err := models.FindInventoryItemsByIds(ctx, r.businessId, ids)
	if err != nil {
		return handleError[*models.InventoryItem](len(ids), err)
	}
	return generateLoaderResults(results, ids, func(i *models.InventoryItem) int { return i.ID })
}

func GetInventoryItem(ctx context.Context, id int) (*models.InventoryItem, error) {
	loaders := For(ctx)
	return loaders.inventoryItemLoader.Load(ctx, id)()
}

func GetInventoryItems(ctx context.Context, ids []int) ([]*models.InventoryItem, []error) {
	loaders := For(ctx)
	return loaders.inventoryItemLoader.LoadMany(ctx, ids)()
}
