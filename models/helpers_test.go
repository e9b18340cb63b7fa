package models_test

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/mmdatafocus/factory_backend/appctx"
	"github.com/mmdatafocus/factory_backend/config"
	"github.com/mmdatafocus/factory_backend/models"
	"github.com/mmdatafocus/factory_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	operator = appctx.Actor{BusinessId: "biz-1", UserId: 7, UserName: "operator", Role: "OPERATOR"}
	manager  = appctx.Actor{BusinessId: "biz-1", UserId: 8, UserName: "manager", Role: "PRODUCTION_MANAGER"}
	outsider = appctx.Actor{BusinessId: "biz-2", UserId: 9, UserName: "outsider", Role: "ADMIN"}
)

// setupDB installs a fresh in-memory database. One connection makes concurrent transactions
// serialize the way row locks serialize them on MySQL.
func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.Use(config.NewTenantGuardPlugin()); err != nil {
		t.Fatalf("tenant guard: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	config.UseDB(db)
	config.UseRedis(nil)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func decPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func intPtr(v int) *int {
	return &v
}

func requireKind(t *testing.T, err error, kind utils.ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := utils.KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %s: %v", kind, got, err)
	}
}

func requireDecimal(t *testing.T, what string, got decimal.Decimal, want int64) {
	t.Helper()
	if !got.Equal(decimal.NewFromInt(want)) {
		t.Fatalf("%s: got %s want %d", what, got.String(), want)
	}
}

func seedStages(t *testing.T, actor appctx.Actor, stages ...string) {
	t.Helper()
	if _, err := models.SetTenantStages(context.Background(), actor, stages); err != nil {
		t.Fatalf("SetTenantStages: %v", err)
	}
}

func seedProject(t *testing.T, actor appctx.Actor) *models.Project {
	t.Helper()
	ctx := context.Background()
	client, err := models.CreateClient(ctx, actor, &models.NewClient{Name: "Acme Builders", Address: "No. 1 Strand Rd"})
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	project, err := models.CreateProject(ctx, actor, &models.NewProject{ClientId: client.ID, Name: "Tower A", Code: "TWR-A"})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	return project
}

func seedItem(t *testing.T, actor appctx.Actor, code string, opening int64, rate int64) *models.InventoryItem {
	t.Helper()
	item, err := models.CreateInventoryItem(context.Background(), actor, &models.NewInventoryItem{
		Code:             code,
		Name:             "Item " + code,
		Unit:             "pcs",
		OpeningQty:       decPtr(opening),
		LastPurchaseRate: dec(rate),
	})
	if err != nil {
		t.Fatalf("CreateInventoryItem %s: %v", code, err)
	}
	return item
}

func seedVehicle(t *testing.T, actor appctx.Actor, registration string) *models.Vehicle {
	t.Helper()
	vehicle, err := models.CreateVehicle(context.Background(), actor, &models.NewVehicle{RegistrationNo: registration, Name: "Truck " + registration})
	if err != nil {
		t.Fatalf("CreateVehicle %s: %v", registration, err)
	}
	return vehicle
}

func seedDriver(t *testing.T, actor appctx.Actor, license string) *models.Driver {
	t.Helper()
	driver, err := models.CreateDriver(context.Background(), actor, &models.NewDriver{Name: "Driver " + license, LicenseNo: license})
	if err != nil {
		t.Fatalf("CreateDriver %s: %v", license, err)
	}
	return driver
}

// seedDeliveryNote creates a DRAFT note with one line per qty, each linked to item.
func seedDeliveryNote(t *testing.T, actor appctx.Actor, project *models.Project, item *models.InventoryItem, qtys ...int64) *models.DeliveryNote {
	t.Helper()
	input := &models.NewDeliveryNote{
		ProjectId: project.ID,
		ClientId:  project.ClientId,
		Address:   "Site office, Tower A",
	}
	for _, q := range qtys {
		input.Items = append(input.Items, models.NewDeliveryNoteItem{InventoryItemId: &item.ID, Qty: dec(q)})
	}
	dn, err := models.CreateDeliveryNote(context.Background(), actor, input)
	if err != nil {
		t.Fatalf("CreateDeliveryNote: %v", err)
	}
	return dn
}

// loadAll loads every line of dn in full.
func loadAll(t *testing.T, actor appctx.Actor, dn *models.DeliveryNote) *models.DeliveryNote {
	t.Helper()
	input := &models.LoadDeliveryNoteInput{}
	for _, item := range dn.Items {
		input.Items = append(input.Items, models.LoadLine{ItemId: item.ID, LoadedQty: item.Qty})
	}
	loaded, err := models.LoadDeliveryNote(context.Background(), actor, dn.ID, input)
	if err != nil {
		t.Fatalf("LoadDeliveryNote: %v", err)
	}
	return loaded
}

func stockTransactions(t *testing.T, actor appctx.Actor, itemId int) []*models.StockTransaction {
	t.Helper()
	txns, err := models.ListStockTransactions(context.Background(), actor, itemId)
	if err != nil {
		t.Fatalf("ListStockTransactions: %v", err)
	}
	return txns
}

func outboxCount(t *testing.T, db *gorm.DB, sink string, eventType string) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&models.OutboxEvent{}).Where("sink = ? AND event_type = ?", sink, eventType).Count(&n).Error; err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	return n
}
