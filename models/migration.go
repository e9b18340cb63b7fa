package models

import (
	"log"

	"github.com/mmdatafocus/factory_backend/config"
	"gorm.io/gorm"
)

func MigrateTable() {
	if err := AutoMigrate(config.GetDB()); err != nil {
		log.Fatal(err)
	}
}

// AutoMigrate creates or updates every table on db.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&TenantStageSetting{},
		&Client{}, &Project{},
		&ProductionJob{}, &ProductionStageLog{},
		&QCRecord{}, &ReworkJob{},
		&Vehicle{}, &Driver{},
		&DeliveryNote{}, &DeliveryNoteItem{}, &DeliveryTracking{}, &DeliveryAcknowledgement{},
		&InventoryItem{}, &StockTransaction{},
		&ReturnRecord{}, &ReturnItem{}, &WastageRecord{},
		&OutboxEvent{},
	)
}
