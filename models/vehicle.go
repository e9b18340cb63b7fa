package models

import (
	"context"
	"strings"
	"time"

	"github.com/mmdatafocus/factory_backend/appctx"
	"github.com/mmdatafocus/factory_backend/config"
	"github.com/mmdatafocus/factory_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type Vehicle struct {
	ID                    int             `gorm:"primary_key" json:"id"`
	BusinessId            string          `gorm:"size:64;not null;uniqueIndex:idx_vehicle_registration,priority:1" json:"business_id"`
	RegistrationNo        string          `gorm:"size:32;not null;uniqueIndex:idx_vehicle_registration,priority:2" json:"registration_no"`
	Name                  string          `gorm:"size:100" json:"name"`
	Capacity              decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"capacity"`
	Status                VehicleStatus   `gorm:"size:20;not null;default:'AVAILABLE';index" json:"status"`
	DriverId              *int            `json:"driver_id"`
	CurrentDeliveryNoteId *int            `gorm:"index" json:"current_delivery_note_id"`
	CreatedAt             time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt             gorm.DeletedAt  `gorm:"index" json:"-"`
}

type NewVehicle struct {
	RegistrationNo string          `json:"registration_no" validate:"required,max=32"`
	Name           string          `json:"name" validate:"omitempty,max=100"`
	Capacity       decimal.Decimal `json:"capacity"`
	Status         VehicleStatus   `json:"status"`
	DriverId       *int            `json:"driver_id"`
}

func (input *NewVehicle) validate(ctx context.Context, tx *gorm.DB, businessId string, id int) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if input.Capacity.IsNegative() {
		return utils.NewValidationError("capacity cannot be negative")
	}
	switch input.Status {
	case "", VehicleStatusAvailable, VehicleStatusMaintenance:
	case VehicleStatusInUse:
		return utils.NewValidationError("vehicle status IN_USE is set by delivery note assignment only")
	default:
		return utils.NewValidationError("invalid vehicle status: %s", input.Status)
	}
	if err := utils.ValidateUnique[Vehicle](ctx, tx, businessId, "registration_no", strings.TrimSpace(input.RegistrationNo), id); err != nil {
		return err
	}
	if input.DriverId != nil && *input.DriverId > 0 {
		if err := utils.ValidateResourceId[Driver](ctx, tx, businessId, "driver", *input.DriverId); err != nil {
			return err
		}
	}
	return nil
}

// vehicleInFlight returns the in-flight delivery note holding the vehicle, or 0.
func vehicleInFlight(ctx context.Context, tx *gorm.DB, businessId string, vehicle *Vehicle) (int, error) {
	if vehicle.CurrentDeliveryNoteId != nil && *vehicle.CurrentDeliveryNoteId > 0 {
		return *vehicle.CurrentDeliveryNoteId, nil
	}
	var dn DeliveryNote
	err := tx.WithContext(ctx).Select("id").
		Where("business_id = ? AND vehicle_id = ? AND status IN ?", businessId, vehicle.ID, inFlightDeliveryStatuses()).
		Limit(1).Find(&dn).Error
	if err != nil {
		return 0, err
	}
	return dn.ID, nil
}

func CreateVehicle(ctx context.Context, actor appctx.Actor, input *NewVehicle) (*Vehicle, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	ctx = actor.Scope(ctx)
	db := config.GetDB()
	if err := input.validate(ctx, db, actor.BusinessId, 0); err != nil {
		return nil, err
	}
	status := input.Status
	if status == "" {
		status = VehicleStatusAvailable
	}
	vehicle := Vehicle{
		BusinessId:     actor.BusinessId,
		RegistrationNo: strings.TrimSpace(input.RegistrationNo),
		Name:           input.Name,
		Capacity:       input.Capacity,
		Status:         status,
		DriverId:       input.DriverId,
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&vehicle).Error; err != nil {
			if utils.IsDuplicateKeyErr(err) {
				return utils.NewConflictError("duplicate registration_no: %s", vehicle.RegistrationNo)
			}
			return err
		}
		recordAudit(ctx, tx, actor, AuditActionCreate, "vehicle", vehicle.ID, nil, vehicle)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &vehicle, nil
}

// UpdateVehicle edits a vehicle. Status or driver changes on a vehicle held by an in-flight
// delivery note are rejected.
func UpdateVehicle(ctx context.Context, actor appctx.Actor, id int, input *NewVehicle) (*Vehicle, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	ctx = actor.Scope(ctx)
	var result Vehicle
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		oldVehicle, err := utils.FetchModelForUpdate[Vehicle](ctx, tx, actor.BusinessId, "vehicle", id)
		if err != nil {
			return err
		}
		if err := input.validate(ctx, tx, actor.BusinessId, id); err != nil {
			return err
		}
		status := input.Status
		if status == "" {
			status = oldVehicle.Status
		}
		if status != oldVehicle.Status || !sameIntPtr(input.DriverId, oldVehicle.DriverId) {
			dnId, err := vehicleInFlight(ctx, tx, actor.BusinessId, oldVehicle)
			if err != nil {
				return err
			}
			if dnId > 0 {
				return utils.NewConflictError("vehicle %s is held by in-flight delivery note %d", oldVehicle.RegistrationNo, dnId)
			}
		}
		if err := tx.Model(&Vehicle{}).Where("id = ? AND business_id = ?", id, actor.BusinessId).
			Updates(map[string]interface{}{
				"registration_no": strings.TrimSpace(input.RegistrationNo),
				"name":            input.Name,
				"capacity":        input.Capacity,
				"status":          status,
				"driver_id":       input.DriverId,
			}).Error; err != nil {
			if utils.IsDuplicateKeyErr(err) {
				return utils.NewConflictError("duplicate registration_no: %s", input.RegistrationNo)
			}
			return err
		}
		if err := tx.Where("business_id = ?", actor.BusinessId).First(&result, id).Error; err != nil {
			return err
		}
		recordAudit(ctx, tx, actor, AuditActionUpdate, "vehicle", id, oldVehicle, result)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func DeleteVehicle(ctx context.Context, actor appctx.Actor, id int) (*Vehicle, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	ctx = actor.Scope(ctx)
	var result *Vehicle
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		vehicle, err := utils.FetchModelForUpdate[Vehicle](ctx, tx, actor.BusinessId, "vehicle", id)
		if err != nil {
			return err
		}
		dnId, err := vehicleInFlight(ctx, tx, actor.BusinessId, vehicle)
		if err != nil {
			return err
		}
		if dnId > 0 {
			return utils.NewConflictError("vehicle %s is held by in-flight delivery note %d", vehicle.RegistrationNo, dnId)
		}
		if err := tx.Where("business_id = ?", actor.BusinessId).Delete(&Vehicle{}, id).Error; err != nil {
			return err
		}
		recordAudit(ctx, tx, actor, AuditActionDelete, "vehicle", id, vehicle, nil)
		result = vehicle
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func GetVehicle(ctx context.Context, actor appctx.Actor, id int) (*Vehicle, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	return utils.FetchModel[Vehicle](actor.Scope(ctx), config.GetDB(), actor.BusinessId, "vehicle", id)
}

func ListVehicles(ctx context.Context, actor appctx.Actor, status *VehicleStatus) ([]*Vehicle, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	if status != nil {
		return utils.FetchAllModels[Vehicle](actor.Scope(ctx), config.GetDB(), actor.BusinessId, 0, "status = ?", *status)
	}
	return utils.FetchAllModels[Vehicle](actor.Scope(ctx), config.GetDB(), actor.BusinessId, 0, "")
}

// FindVehiclesByIds is the batch function behind the vehicle dataloader.
func FindVehiclesByIds(ctx context.Context, businessId string, ids []int) ([]*Vehicle, error) {
	var vehicles []*Vehicle
	if err := config.GetDB().WithContext(ctx).Unscoped().
		Where("business_id = ? AND id IN ?", businessId, ids).
		Find(&vehicles).Error; err != nil {
		return nil, err
	}
	return vehicles, nil
}

// ---- allocation ----

// assignVehicle claims an AVAILABLE vehicle (and optional ACTIVE driver) for dnId on tx.
// The claim is a conditional update, so of two concurrent callers only one sees a changed row.
func assignVehicle(ctx context.Context, tx *gorm.DB, actor appctx.Actor, vehicleId int, driverId *int, dnId int) (*Vehicle, error) {
	var vehicle Vehicle
	if err := tx.WithContext(ctx).Where("business_id = ?", actor.BusinessId).First(&vehicle, vehicleId).Error; err != nil {
		return nil, utils.NotFoundOr(err, "vehicle", vehicleId)
	}
	if vehicle.Status != VehicleStatusAvailable {
		return nil, utils.NewConflictError("vehicle not AVAILABLE: %s", vehicle.Status)
	}

	if driverId == nil {
		driverId = vehicle.DriverId
	}
	if driverId != nil && *driverId > 0 {
		if err := checkDriverAssignable(ctx, tx, actor.BusinessId, *driverId, dnId); err != nil {
			return nil, err
		}
	}

	res := tx.WithContext(ctx).Model(&Vehicle{}).
		Where("id = ? AND business_id = ? AND status = ?", vehicleId, actor.BusinessId, VehicleStatusAvailable).
		Updates(map[string]interface{}{
			"status":                   VehicleStatusInUse,
			"driver_id":                driverId,
			"current_delivery_note_id": dnId,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, utils.NewConflictError("vehicle not AVAILABLE: %s", VehicleStatusInUse)
	}
	vehicle.Status = VehicleStatusInUse
	vehicle.DriverId = driverId
	vehicle.CurrentDeliveryNoteId = &dnId
	return &vehicle, nil
}

// releaseVehicle returns a vehicle held by dnId to AVAILABLE.
func releaseVehicle(ctx context.Context, tx *gorm.DB, actor appctx.Actor, vehicleId int, dnId int, clearDriver bool) error {
	updates := map[string]interface{}{
		"status":                   VehicleStatusAvailable,
		"current_delivery_note_id": nil,
	}
	if clearDriver {
		updates["driver_id"] = nil
	}
	res := tx.WithContext(ctx).Model(&Vehicle{}).
		Where("id = ? AND business_id = ? AND current_delivery_note_id = ?", vehicleId, actor.BusinessId, dnId).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		config.GetLogger().WithFields(logrus.Fields{
			"field":            "releaseVehicle",
			"business_id":      actor.BusinessId,
			"vehicle_id":       vehicleId,
			"delivery_note_id": dnId,
		}).Warn("vehicle was not held by this delivery note")
	}
	return nil
}

func sameIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
