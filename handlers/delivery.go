package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/factory_backend/appctx"
	"github.com/mmdatafocus/factory_backend/middlewares"
	"github.com/mmdatafocus/factory_backend/models"
)

// deliveryNoteView adds the referenced vehicle, driver and inventory items to a note.
type deliveryNoteView struct {
	*models.DeliveryNote
	Vehicle        *models.Vehicle         `json:"vehicle,omitempty"`
	Driver         *models.Driver          `json:"driver,omitempty"`
	InventoryItems []*models.InventoryItem `json:"inventory_items,omitempty"`
}

func renderDeliveryNote(ctx context.Context, dn *models.DeliveryNote) (*deliveryNoteView, error) {
	view := &deliveryNoteView{DeliveryNote: dn}
	if dn.VehicleId != nil {
		vehicle, err := middlewares.GetVehicle(ctx, *dn.VehicleId)
		if err != nil {
			return nil, err
		}
		view.Vehicle = vehicle
	}
	if dn.DriverId != nil {
		driver, err := middlewares.GetDriver(ctx, *dn.DriverId)
		if err != nil {
			return nil, err
		}
		view.Driver = driver
	}
	var itemIds []int
	seen := map[int]bool{}
	for _, line := range dn.Items {
		if line.InventoryItemId != nil && !seen[*line.InventoryItemId] {
			seen[*line.InventoryItemId] = true
			itemIds = append(itemIds, *line.InventoryItemId)
		}
	}
	if len(itemIds) > 0 {
		items, errs := middlewares.GetInventoryItems(ctx, itemIds)
		for _, err := range errs {
			if err != nil {
				return nil, err
			}
		}
		for _, item := range items {
			if item != nil {
				view.InventoryItems = append(view.InventoryItems, item)
			}
		}
	}
	return view, nil
}

func renderDeliveryNotes(ctx context.Context, notes []*models.DeliveryNote) ([]*deliveryNoteView, error) {
	// prime the vehicle loader in one batch
	var vehicleIds []int
	for _, dn := range notes {
		if dn.VehicleId != nil {
			vehicleIds = append(vehicleIds, *dn.VehicleId)
		}
	}
	if len(vehicleIds) > 0 {
		middlewares.GetVehicles(ctx, vehicleIds)
	}
	views := make([]*deliveryNoteView, 0, len(notes))
	for _, dn := range notes {
		view, err := renderDeliveryNote(ctx, dn)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// deliveryOp runs a note operation and renders the returned note.
func deliveryOp(c *gin.Context, op string, status int, fn func(ctx context.Context, actor appctx.Actor) (*models.DeliveryNote, error)) {
	run(c, op, status, func(ctx context.Context, actor appctx.Actor) (*deliveryNoteView, error) {
		dn, err := fn(ctx, actor)
		if err != nil {
			return nil, err
		}
		return renderDeliveryNote(ctx, dn)
	})
}

func createDeliveryNote(c *gin.Context) {
	var input models.NewDeliveryNote
	if !bindJSON(c, &input) {
		return
	}
	deliveryOp(c, "CreateDeliveryNote", http.StatusCreated, func(ctx context.Context, actor appctx.Actor) (*models.DeliveryNote, error) {
		return models.CreateDeliveryNote(ctx, actor, &input)
	})
}

func listDeliveryNotes(c *gin.Context) {
	var filter models.DeliveryNoteFilter
	if !bindQuery(c, &filter) {
		return
	}
	run(c, "ListDeliveryNotes", http.StatusOK, func(ctx context.Context, actor appctx.Actor) ([]*deliveryNoteView, error) {
		notes, err := models.ListDeliveryNotes(ctx, actor, filter)
		if err != nil {
			return nil, err
		}
		return renderDeliveryNotes(ctx, notes)
	})
}

func getDeliveryNote(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	deliveryOp(c, "GetDeliveryNote", http.StatusOK, func(ctx context.Context, actor appctx.Actor) (*models.DeliveryNote, error) {
		return models.GetDeliveryNote(ctx, actor, id)
	})
}

func loadDeliveryNote(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	var input models.LoadDeliveryNoteInput
	if !bindJSON(c, &input) {
		return
	}
	deliveryOp(c, "LoadDeliveryNote", http.StatusOK, func(ctx context.Context, actor appctx.Actor) (*models.DeliveryNote, error) {
		return models.LoadDeliveryNote(ctx, actor, id, &input)
	})
}

func assignVehicle(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	var input models.AssignVehicleInput
	if !bindJSON(c, &input) {
		return
	}
	deliveryOp(c, "AssignVehicleToDeliveryNote", http.StatusOK, func(ctx context.Context, actor appctx.Actor) (*models.DeliveryNote, error) {
		return models.AssignVehicleToDeliveryNote(ctx, actor, id, &input)
	})
}

type remarksRequest struct {
	Remarks string `json:"remarks"`
}

func dispatchDeliveryNote(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	var req remarksRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	deliveryOp(c, "DispatchDeliveryNote", http.StatusOK, func(ctx context.Context, actor appctx.Actor) (*models.DeliveryNote, error) {
		return models.DispatchDeliveryNote(ctx, actor, id, req.Remarks)
	})
}

func addDeliveryTracking(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	var input models.NewDeliveryTracking
	if !bindJSON(c, &input) {
		return
	}
	run(c, "AddDeliveryTracking", http.StatusCreated, func(ctx context.Context, actor appctx.Actor) (*models.DeliveryTracking, error) {
		return models.AddDeliveryTracking(ctx, actor, id, &input)
	})
}

func deliverDeliveryNote(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	var input models.DeliverDeliveryNoteInput
	if c.Request.ContentLength > 0 && !bindJSON(c, &input) {
		return
	}
	deliveryOp(c, "DeliverDeliveryNote", http.StatusOK, func(ctx context.Context, actor appctx.Actor) (*models.DeliveryNote, error) {
		return models.DeliverDeliveryNote(ctx, actor, id, &input)
	})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func cancelDeliveryNote(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	var req cancelRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	deliveryOp(c, "CancelDeliveryNote", http.StatusOK, func(ctx context.Context, actor appctx.Actor) (*models.DeliveryNote, error) {
		return models.CancelDeliveryNote(ctx, actor, id, req.Reason)
	})
}

// ---- vehicles and drivers ----

func createVehicle(c *gin.Context) {
	var input models.NewVehicle
	if !bindJSON(c, &input) {
		return
	}
	run(c, "CreateVehicle", http.StatusCreated, func(ctx context.Context, actor appctx.Actor) (*models.Vehicle, error) {
		return models.CreateVehicle(ctx, actor, &input)
	})
}

type vehicleFilter struct {
	Status *models.VehicleStatus `form:"status"`
}

func listVehicles(c *gin.Context) {
	var filter vehicleFilter
	if !bindQuery(c, &filter) {
		return
	}
	run(c, "ListVehicles", http.StatusOK, func(ctx context.Context, actor appctx.Actor) ([]*models.Vehicle, error) {
		return models.ListVehicles(ctx, actor, filter.Status)
	})
}

func getVehicle(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	run(c, "GetVehicle", http.StatusOK, func(ctx context.Context, actor appctx.Actor) (*models.Vehicle, error) {
		return models.GetVehicle(ctx, actor, id)
	})
}

func updateVehicle(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	var input models.NewVehicle
	if !bindJSON(c, &input) {
		return
	}
	run(c, "UpdateVehicle", http.StatusOK, func(ctx context.Context, actor appctx.Actor) (*models.Vehicle, error) {
		return models.UpdateVehicle(ctx, actor, id, &input)
	})
}

func deleteVehicle(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	run(c, "DeleteVehicle", http.StatusOK, func(ctx context.Context, actor appctx.Actor) (*models.Vehicle, error) {
		return models.DeleteVehicle(ctx, actor, id)
	})
}

func createDriver(c *gin.Context) {
	var input models.NewDriver
	if !bindJSON(c, &input) {
		return
	}
	run(c, "CreateDriver", http.StatusCreated, func(ctx context.Context, actor appctx.Actor) (*models.Driver, error) {
		return models.CreateDriver(ctx, actor, &input)
	})
}

type driverFilter struct {
	Status *models.DriverStatus `form:"status"`
}

func listDrivers(c *gin.Context) {
	var filter driverFilter
	if !bindQuery(c, &filter) {
		return
	}
	run(c, "ListDrivers", http.StatusOK, func(ctx context.Context, actor appctx.Actor) ([]*models.Driver, error) {
		return models.ListDrivers(ctx, actor, filter.Status)
	})
}

func getDriver(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	run(c, "GetDriver", http.StatusOK, func(ctx context.Context, actor appctx.Actor) (*models.Driver, error) {
		return models.GetDriver(ctx, actor, id)
	})
}

func updateDriver(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	var input models.NewDriver
	if !bindJSON(c, &input) {
		return
	}
	run(c, "UpdateDriver", http.StatusOK, func(ctx context.Context, actor appctx.Actor) (*models.Driver, error) {
		return models.UpdateDriver(ctx, actor, id, &input)
	})
}

func deleteDriver(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	run(c, "DeleteDriver", http.StatusOK, func(ctx context.Context, actor appctx.Actor) (*models.Driver, error) {
		return models.DeleteDriver(ctx, actor, id)
	})
}
