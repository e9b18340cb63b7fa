package middlewares

import (
	"context"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/mmdatafocus/factory_backend/models"
)

type driverReader struct {
	businessId string
}

func (r *driverReader) getDrivers(ctx context.Context, ids []int) []*dataloader.Result[*models.Driver] {
	results, err := models.FindDriversByIds(ctx, r.businessId, ids)
	if err != nil {
		return handleError[*models.Driver](len(ids), err)
	}
	return generateLoaderResults(results, ids, func(d *models.Driver) int { return d.ID })
}

func GetDriver(ctx context.Context, id int) (*models.Driver, error) {
	loaders := For(ctx)
	return loaders.driverLoader.Load(ctx, id)()
}
