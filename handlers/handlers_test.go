package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/mmdatafocus/factory_backend/config"
	"github.com/mmdatafocus/factory_backend/handlers"
	"github.com/mmdatafocus/factory_backend/middlewares"
	"github.com/mmdatafocus/factory_backend/models"
	"github.com/mmdatafocus/factory_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type identity struct {
	businessId string
	userId     string
	role       string
}

var (
	operator = identity{businessId: "biz-1", userId: "7", role: "OPERATOR"}
	admin    = identity{businessId: "biz-1", userId: "1", role: "ADMIN"}
)

func setupServer(t *testing.T) *gin.Engine {
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

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middlewares.SessionMiddleware())
	r.Use(middlewares.LoaderMiddleware())
	handlers.Register(r)
	return r
}

func do(t *testing.T, r *gin.Engine, who *identity, method string, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if who != nil {
		req.Header.Set(middlewares.HeaderBusinessId, who.businessId)
		req.Header.Set(middlewares.HeaderUserId, who.userId)
		req.Header.Set(middlewares.HeaderUserName, "tester")
		req.Header.Set(middlewares.HeaderUserRole, who.role)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d; body = %s", w.Code, want, w.Body.String())
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return out
}

type errorResponse struct {
	Error struct {
		Kind    string   `json:"kind"`
		Message string   `json:"message"`
		From    string   `json:"from"`
		Allowed []string `json:"allowed"`
	} `json:"error"`
}

type idResponse struct {
	ID        int    `json:"id"`
	ClientId  int    `json:"client_id"`
	Status    string `json:"status"`
	VehicleId *int   `json:"vehicle_id"`
	Items     []struct {
		ID  int    `json:"id"`
		Qty string `json:"qty"`
	} `json:"items"`
	Vehicle *struct {
		ID             int    `json:"id"`
		RegistrationNo string `json:"registration_no"`
		Status         string `json:"status"`
	} `json:"vehicle"`
	InventoryItems []struct {
		ID   int    `json:"id"`
		Code string `json:"code"`
	} `json:"inventory_items"`
}

func TestStatusForKind(t *testing.T) {
	cases := map[utils.ErrorKind]int{
		utils.KindValidation:        http.StatusBadRequest,
		utils.KindNotFound:          http.StatusNotFound,
		utils.KindInvalidTransition: http.StatusUnprocessableEntity,
		utils.KindResourceConflict:  http.StatusConflict,
		utils.KindFatal:             http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := handlers.StatusForKind(kind); got != want {
			t.Errorf("StatusForKind(%s) = %d, want %d", kind, got, want)
		}
	}
}

func TestRequestsWithoutGatewayHeadersAreRejected(t *testing.T) {
	r := setupServer(t)
	expectStatus(t, do(t, r, nil, http.MethodGet, "/api/v1/vehicles", nil), http.StatusUnauthorized)
	expectStatus(t, do(t, r, &identity{businessId: "biz-1", userId: "x"}, http.MethodGet, "/api/v1/vehicles", nil), http.StatusUnauthorized)
}

func TestDeliveryFlowOverHTTP(t *testing.T) {
	r := setupServer(t)

	w := do(t, r, &operator, http.MethodPost, "/api/v1/clients", map[string]any{"name": "Acme Builders"})
	expectStatus(t, w, http.StatusCreated)
	client := decode[idResponse](t, w)

	w = do(t, r, &operator, http.MethodPost, "/api/v1/projects", map[string]any{"client_id": client.ID, "name": "Tower A"})
	expectStatus(t, w, http.StatusCreated)
	project := decode[idResponse](t, w)

	w = do(t, r, &operator, http.MethodPost, "/api/v1/inventory-items", map[string]any{"code": "PNL-100", "name": "Panel", "opening_qty": "150"})
	expectStatus(t, w, http.StatusCreated)
	item := decode[idResponse](t, w)

	w = do(t, r, &operator, http.MethodPost, "/api/v1/vehicles", map[string]any{"registration_no": "YGN-1A-0001"})
	expectStatus(t, w, http.StatusCreated)
	vehicle := decode[idResponse](t, w)

	w = do(t, r, &operator, http.MethodPost, "/api/v1/delivery-notes", map[string]any{
		"project_id": project.ID,
		"client_id":  project.ClientId,
		"address":    "Site office",
		"items":      []map[string]any{{"inventory_item_id": item.ID, "qty": "100"}},
	})
	expectStatus(t, w, http.StatusCreated)
	dn := decode[idResponse](t, w)
	if dn.Status != "DRAFT" || len(dn.Items) != 1 {
		t.Fatalf("created note = %+v", dn)
	}
	if len(dn.InventoryItems) != 1 || dn.InventoryItems[0].Code != "PNL-100" {
		t.Fatalf("inventory items not resolved: %+v", dn.InventoryItems)
	}
	base := fmt.Sprintf("/api/v1/delivery-notes/%d", dn.ID)

	// dispatch before loading
	w = do(t, r, &operator, http.MethodPost, base+"/dispatch", nil)
	expectStatus(t, w, http.StatusUnprocessableEntity)
	if e := decode[errorResponse](t, w); e.Error.Kind != string(utils.KindInvalidTransition) || e.Error.From != "DRAFT" {
		t.Fatalf("dispatch from draft error = %+v", e)
	}

	w = do(t, r, &operator, http.MethodPost, base+"/load", map[string]any{
		"items": []map[string]any{{"item_id": dn.Items[0].ID, "loaded_qty": "100"}},
	})
	expectStatus(t, w, http.StatusOK)

	w = do(t, r, &operator, http.MethodPost, base+"/vehicle", map[string]any{"vehicle_id": vehicle.ID})
	expectStatus(t, w, http.StatusOK)
	assigned := decode[idResponse](t, w)
	if assigned.Vehicle == nil || assigned.Vehicle.Status != "IN_USE" {
		t.Fatalf("assigned vehicle = %+v", assigned.Vehicle)
	}

	w = do(t, r, &operator, http.MethodPost, base+"/dispatch", map[string]any{"remarks": "left gate 2"})
	expectStatus(t, w, http.StatusOK)
	if got := decode[idResponse](t, w); got.Status != "DISPATCHED" {
		t.Fatalf("dispatched status = %s", got.Status)
	}

	w = do(t, r, &operator, http.MethodPost, base+"/dispatch", nil)
	expectStatus(t, w, http.StatusUnprocessableEntity)

	w = do(t, r, &operator, http.MethodGet, fmt.Sprintf("/api/v1/inventory-items/%d/verify", item.ID), nil)
	expectStatus(t, w, http.StatusOK)
	verification := decode[struct {
		Consistent      bool   `json:"consistent"`
		Entries         int    `json:"entries"`
		ReplayedBalance string `json:"replayed_balance"`
	}](t, w)
	if !verification.Consistent || verification.Entries != 2 || verification.ReplayedBalance != "50" {
		t.Fatalf("verification = %+v", verification)
	}

	w = do(t, r, &operator, http.MethodGet, "/api/v1/delivery-notes?status=DISPATCHED", nil)
	expectStatus(t, w, http.StatusOK)
	if list := decode[[]idResponse](t, w); len(list) != 1 || list[0].Vehicle == nil || list[0].Vehicle.ID != vehicle.ID {
		t.Fatalf("listed notes = %+v", list)
	}
}

func TestErrorKindsMapToStatuses(t *testing.T) {
	r := setupServer(t)

	expectStatus(t, do(t, r, &operator, http.MethodGet, "/api/v1/delivery-notes/999", nil), http.StatusNotFound)
	expectStatus(t, do(t, r, &operator, http.MethodGet, "/api/v1/delivery-notes/abc", nil), http.StatusBadRequest)
	expectStatus(t, do(t, r, &operator, http.MethodPost, "/api/v1/production-jobs", map[string]any{"project_id": 0}), http.StatusBadRequest)
	expectStatus(t, do(t, r, &operator, http.MethodPost, "/api/v1/production-jobs", "not-an-object"), http.StatusBadRequest)

	expectStatus(t, do(t, r, &operator, http.MethodPost, "/api/v1/vehicles", map[string]any{"registration_no": "YGN-2B-0002"}), http.StatusCreated)
	w := do(t, r, &operator, http.MethodPost, "/api/v1/vehicles", map[string]any{"registration_no": "YGN-2B-0002"})
	expectStatus(t, w, http.StatusConflict)
	if e := decode[errorResponse](t, w); e.Error.Kind != string(utils.KindResourceConflict) {
		t.Fatalf("duplicate vehicle error = %+v", e)
	}
}

func TestStagesRoundTripAndTenantIsolation(t *testing.T) {
	r := setupServer(t)
	w := do(t, r, &operator, http.MethodPut, "/api/v1/settings/stages", map[string]any{"stages": []string{" CUTTING ", "ASSEMBLY"}})
	expectStatus(t, w, http.StatusOK)

	w = do(t, r, &operator, http.MethodGet, "/api/v1/settings/stages", nil)
	expectStatus(t, w, http.StatusOK)
	got := decode[struct {
		Stages []string `json:"stages"`
	}](t, w)
	if len(got.Stages) != 2 || got.Stages[0] != "CUTTING" {
		t.Fatalf("stages = %v", got.Stages)
	}

	other := identity{businessId: "biz-2", userId: "9", role: "OPERATOR"}
	w = do(t, r, &other, http.MethodGet, "/api/v1/settings/stages", nil)
	expectStatus(t, w, http.StatusBadRequest)
}

func TestOutboxOpsRequireAdmin(t *testing.T) {
	r := setupServer(t)
	expectStatus(t, do(t, r, &operator, http.MethodGet, "/internal/ops/outbox", nil), http.StatusForbidden)

	w := do(t, r, &admin, http.MethodPost, "/api/v1/clients", map[string]any{"name": "Acme"})
	expectStatus(t, w, http.StatusCreated)

	w = do(t, r, &admin, http.MethodGet, "/internal/ops/outbox?sink=audit", nil)
	expectStatus(t, w, http.StatusOK)
	events := decode[[]struct {
		ID            int    `json:"id"`
		PublishStatus string `json:"publish_status"`
	}](t, w)
	if len(events) == 0 {
		t.Fatalf("expected audit events after client creation")
	}

	// a PENDING event cannot be replayed
	w = do(t, r, &admin, http.MethodPost, "/internal/ops/outbox/replay", map[string]any{"business_id": "biz-1", "record_id": events[0].ID})
	expectStatus(t, w, http.StatusUnprocessableEntity)
	expectStatus(t, do(t, r, &admin, http.MethodPost, "/internal/ops/outbox/replay", map[string]any{"business_id": "biz-1"}), http.StatusBadRequest)
}
