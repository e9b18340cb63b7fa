package middlewares

import (
	"context"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/mmdatafocus/factory_backend/models"
)

type vehicleReader struct {
	businessId string
}

func (r *vehicleReader) getVehicles(ctx context.Context, ids []int) []*dataloader.Result[*models.Vehicle] {
	results, err := models.FindVehiclesByIds(ctx, r.businessId, ids)
	if err != nil {
		return handleError[*models.Vehicle](len(ids), err)
	}
	return generateLoaderResults(results, ids, func(v *models.Vehicle) int { return v.ID })
}

func GetVehicle(ctx context.Context, id int) (*models.Vehicle, error) {
	loaders := For(ctx)
	return loaders.vehicleLoader.Load(ctx, id)()
}

func GetVehicles(ctx context.Context, ids []int) ([]*models.Vehicle, []error) {
	loaders := For(ctx)
	return loaders.vehicleLoader.LoadMany(ctx, ids)()
}
