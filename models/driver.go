package models

import (
	"context"
	"strings"
	"time"

	"github.com/mmdatafocus/factory_backend/appctx"
	"github.com/mmdatafocus/factory_backend/config"
	"github.com/mmdatafocus/factory_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Driver struct {
	ID         int            `gorm:"primary_key" json:"id"`
	BusinessId string         `gorm:"size:64;not null;uniqueIndex:idx_driver_license,priority:1" json:"business_id"`
	Name       string         `gorm:"size:100;not null" json:"name"`
	Phone      string         `gorm:"size:32" json:"phone"`
	LicenseNo  string         `gorm:"size:50;not null;uniqueIndex:idx_driver_license,priority:2" json:"license_no"`
	Status     DriverStatus   `gorm:"size:20;not null;default:'ACTIVE'" json:"status"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

type NewDriver struct {
	Name      string       `json:"name" validate:"required,max=100"`
	Phone     string       `json:"phone" validate:"omitempty,max=32"`
	LicenseNo string       `json:"license_no" validate:"required,max=50"`
	Status    DriverStatus `json:"status"`
}

func (input *NewDriver) validate(ctx context.Context, tx *gorm.DB, businessId string, id int) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	switch input.Status {
	case "", DriverStatusActive, DriverStatusInactive:
	default:
		return utils.NewValidationError("invalid driver status: %s", input.Status)
	}
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, utils.CountryCode); err != nil {
			return utils.NewValidationError("invalid phone: %s", err.Error())
		}
		input.Phone = utils.FormatPhoneNumber(input.Phone, utils.CountryCode)
	}
	return utils.ValidateUnique[Driver](ctx, tx, businessId, "license_no", strings.TrimSpace(input.LicenseNo), id)
}

// driverInFlight returns an in-flight delivery note carried by the driver, or 0.
func driverInFlight(ctx context.Context, tx *gorm.DB, businessId string, driverId int, exceptDnId int) (int, error) {
	var dn DeliveryNote
	err := tx.WithContext(ctx).Select("id").
		Where("business_id = ? AND driver_id = ? AND status IN ? AND id <> ?", businessId, driverId, inFlightDeliveryStatuses(), exceptDnId).
		Limit(1).Find(&dn).Error
	if err != nil {
		return 0, err
	}
	return dn.ID, nil
}

// checkDriverAssignable locks the driver row and requires ACTIVE and not carrying another delivery.
func checkDriverAssignable(ctx context.Context, tx *gorm.DB, businessId string, driverId int, dnId int) error {
	var driver Driver
	if err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ?", businessId).First(&driver, driverId).Error; err != nil {
		return utils.NotFoundOr(err, "driver", driverId)
	}
	if driver.Status != DriverStatusActive {
		return utils.NewConflictError("driver not ACTIVE: %s", driver.Status)
	}
	other, err := driverInFlight(ctx, tx, businessId, driverId, dnId)
	if err != nil {
		return err
	}
	if other > 0 {
		return utils.NewConflictError("driver %s is assigned to in-flight delivery note %d", driver.Name, other)
	}
	return nil
}

func CreateDriver(ctx context.Context, actor appctx.Actor, input *NewDriver) (*Driver, error) {
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
		status = DriverStatusActive
	}
	driver := Driver{
		BusinessId: actor.BusinessId,
		Name:       strings.TrimSpace(input.Name),
		Phone:      input.Phone,
		LicenseNo:  strings.TrimSpace(input.LicenseNo),
		Status:     status,
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&driver).Error; err != nil {
			if utils.IsDuplicateKeyErr(err) {
				return utils.NewConflictError("duplicate license_no: %s", driver.LicenseNo)
			}
			return err
		}
		recordAudit(ctx, tx, actor, AuditActionCreate, "driver", driver.ID, nil, driver)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &driver, nil
}

// UpdateDriver edits a driver; deactivating one who carries an in-flight delivery note fails.
func UpdateDriver(ctx context.Context, actor appctx.Actor, id int, input *NewDriver) (*Driver, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	ctx = actor.Scope(ctx)
	var result Driver
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		oldDriver, err := utils.FetchModelForUpdate[Driver](ctx, tx, actor.BusinessId, "driver", id)
		if err != nil {
			return err
		}
		if err := input.validate(ctx, tx, actor.BusinessId, id); err != nil {
			return err
		}
		status := input.Status
		if status == "" {
			status = oldDriver.Status
		}
		if status == DriverStatusInactive && oldDriver.Status != DriverStatusInactive {
			dnId, err := driverInFlight(ctx, tx, actor.BusinessId, id, 0)
			if err != nil {
				return err
			}
			if dnId > 0 {
				return utils.NewConflictError("driver %s is assigned to in-flight delivery note %d", oldDriver.Name, dnId)
			}
		}
		if err := tx.Model(&Driver{}).Where("id = ? AND business_id = ?", id, actor.BusinessId).
			Updates(map[string]interface{}{
				"name":       strings.TrimSpace(input.Name),
				"phone":      input.Phone,
				"license_no": strings.TrimSpace(input.LicenseNo),
				"status":     status,
			}).Error; err != nil {
			if utils.IsDuplicateKeyErr(err) {
				return utils.NewConflictError("duplicate license_no: %s", input.LicenseNo)
			}
			return err
		}
		if err := tx.Where("business_id = ?", actor.BusinessId).First(&result, id).Error; err != nil {
			return err
		}
		recordAudit(ctx, tx, actor, AuditActionUpdate, "driver", id, oldDriver, result)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func DeleteDriver(ctx context.Context, actor appctx.Actor, id int) (*Driver, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	ctx = actor.Scope(ctx)
	var result *Driver
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		driver, err := utils.FetchModelForUpdate[Driver](ctx, tx, actor.BusinessId, "driver", id)
		if err != nil {
			return err
		}
		dnId, err := driverInFlight(ctx, tx, actor.BusinessId, id, 0)
		if err != nil {
			return err
		}
		if dnId > 0 {
			return utils.NewConflictError("driver %s is assigned to in-flight delivery note %d", driver.Name, dnId)
		}
		// vehicles keep no dangling driver
		if err := tx.Model(&Vehicle{}).Where("business_id = ? AND driver_id = ?", actor.BusinessId, id).
			Update("driver_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Where("business_id = ?", actor.BusinessId).Delete(&Driver{}, id).Error; err != nil {
			return err
		}
		recordAudit(ctx, tx, actor, AuditActionDelete, "driver", id, driver, nil)
		result = driver
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func GetDriver(ctx context.Context, actor appctx.Actor, id int) (*Driver, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	return utils.FetchModel[Driver](actor.Scope(ctx), config.GetDB(), actor.BusinessId, "driver", id)
}

func ListDrivers(ctx context.Context, actor appctx.Actor, status *DriverStatus) ([]*Driver, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	if status != nil {
		return utils.FetchAllModels[Driver](actor.Scope(ctx), config.GetDB(), actor.BusinessId, 0, "status = ?", *status)
	}
	return utils.FetchAllModels[Driver](actor.Scope(ctx), config.GetDB(), actor.BusinessId, 0, "")
}

func FindDriversByIds(ctx context.Context, businessId string, ids []int) ([]*Driver, error) {
	var drivers []*Driver
	if err := config.GetDB().WithContext(ctx).Unscoped().
		Where("business_id = ? AND id IN ?", businessId, ids).
		Find(&drivers).Error; err != nil {
		return nil, err
	}
	return drivers, nil
}
