package models_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mmdatafocus/factory_backend/models"
	"github.com/mmdatafocus/factory_backend/utils"
)

func getDN(t *testing.T, id int) *models.DeliveryNote {
	t.Helper()
	dn, err := models.GetDeliveryNote(context.Background(), operator, id)
	if err != nil {
		t.Fatalf("GetDeliveryNote: %v", err)
	}
	return dn
}

func getVehicle(t *testing.T, id int) *models.Vehicle {
	t.Helper()
	v, err := models.GetVehicle(context.Background(), operator, id)
	if err != nil {
		t.Fatalf("GetVehicle: %v", err)
	}
	return v
}

func assign(t *testing.T, dn *models.DeliveryNote, vehicle *models.Vehicle, driverId *int) *models.DeliveryNote {
	t.Helper()
	got, err := models.AssignVehicleToDeliveryNote(context.Background(), operator, dn.ID, &models.AssignVehicleInput{VehicleId: vehicle.ID, DriverId: driverId})
	if err != nil {
		t.Fatalf("AssignVehicleToDeliveryNote: %v", err)
	}
	return got
}

func outTransactions(t *testing.T, itemId int) int {
	t.Helper()
	n := 0
	for _, txn := range stockTransactions(t, operator, itemId) {
		if txn.Type == models.StockTransactionTypeOut {
			n++
		}
	}
	return n
}

func TestDispatchPostsStockAndIsNotRepeatable(t *testing.T) {
	setupDB(t)
	ctx := context.Background()
	item := seedItem(t, operator, "PNL-100", 150, 20)
	dn := seedDeliveryNote(t, operator, seedProject(t, operator), item, 100)
	if dn.DeliveryNumber != "DN-000001" || dn.Status != models.DeliveryNoteStatusDraft {
		t.Fatalf("new note = %s/%s", dn.DeliveryNumber, dn.Status)
	}

	loaded := loadAll(t, operator, dn)
	if loaded.Status != models.DeliveryNoteStatusLoading {
		t.Fatalf("after load status = %s", loaded.Status)
	}
	v1 := seedVehicle(t, operator, "YGN-1A-0001")
	assign(t, dn, v1, nil)
	if v := getVehicle(t, v1.ID); v.Status != models.VehicleStatusInUse || v.CurrentDeliveryNoteId == nil || *v.CurrentDeliveryNoteId != dn.ID {
		t.Fatalf("vehicle after assign = %+v", v)
	}

	dispatched, err := models.DispatchDeliveryNote(ctx, operator, dn.ID, "left gate 2")
	if err != nil {
		t.Fatalf("DispatchDeliveryNote: %v", err)
	}
	if dispatched.Status != models.DeliveryNoteStatusDispatched || dispatched.DispatchedAt == nil {
		t.Fatalf("dispatched note = %+v", dispatched)
	}
	txns := stockTransactions(t, operator, item.ID)
	if len(txns) != 2 {
		t.Fatalf("ledger rows = %d, want opening + OUT", len(txns))
	}
	out := txns[1]
	if out.Type != models.StockTransactionTypeOut || out.ReferenceType != models.StockReferenceDeliveryNote || out.ReferenceId != dn.ID {
		t.Fatalf("OUT row = %+v", out)
	}
	requireDecimal(t, "out qty", out.Qty, 100)
	requireDecimal(t, "balance after", out.BalanceAfter, 50)
	stored, err := models.GetInventoryItem(ctx, operator, item.ID)
	if err != nil {
		t.Fatalf("GetInventoryItem: %v", err)
	}
	requireDecimal(t, "available", stored.AvailableQty, 50)

	_, err = models.DispatchDeliveryNote(ctx, operator, dn.ID, "")
	requireKind(t, err, utils.KindInvalidTransition)
	if n := outTransactions(t, item.ID); n != 1 {
		t.Fatalf("OUT rows after second dispatch = %d", n)
	}
}

func TestDispatchGuardsLeaveStockUntouched(t *testing.T) {
	setupDB(t)
	ctx := context.Background()
	item := seedItem(t, operator, "PNL-100", 50, 20)
	project := seedProject(t, operator)
	v1 := seedVehicle(t, operator, "YGN-1A-0001")

	t.Run("no vehicle", func(t *testing.T) {
		dn := seedDeliveryNote(t, operator, project, item, 10)
		loadAll(t, operator, dn)
		_, err := models.DispatchDeliveryNote(ctx, operator, dn.ID, "")
		requireKind(t, err, utils.KindInvalidTransition)
		if !errors.Is(err, utils.ErrVehicleNotAssigned) {
			t.Fatalf("err = %v, want ErrVehicleNotAssigned", err)
		}
		if _, err := models.CancelDeliveryNote(ctx, operator, dn.ID, "test cleanup"); err != nil {
			t.Fatalf("CancelDeliveryNote: %v", err)
		}
	})

	t.Run("unloaded line", func(t *testing.T) {
		dn := seedDeliveryNote(t, operator, project, item, 10, 5)
		_, err := models.LoadDeliveryNote(ctx, operator, dn.ID, &models.LoadDeliveryNoteInput{
			Items: []models.LoadLine{{ItemId: dn.Items[0].ID, LoadedQty: dec(10)}, {ItemId: dn.Items[1].ID, LoadedQty: dec(0)}},
		})
		if err != nil {
			t.Fatalf("LoadDeliveryNote: %v", err)
		}
		assign(t, dn, v1, nil)
		_, err = models.DispatchDeliveryNote(ctx, operator, dn.ID, "")
		requireKind(t, err, utils.KindInvalidTransition)
		if got := getDN(t, dn.ID); got.Status != models.DeliveryNoteStatusLoading {
			t.Fatalf("status after failed dispatch = %s", got.Status)
		}
		if _, err := models.CancelDeliveryNote(ctx, operator, dn.ID, "test cleanup"); err != nil {
			t.Fatalf("CancelDeliveryNote: %v", err)
		}
	})

	t.Run("failed QC", func(t *testing.T) {
		dn := seedDeliveryNote(t, operator, project, item, 10)
		loadAll(t, operator, dn)
		assign(t, dn, v1, nil)
		if _, err := models.RecordQC(ctx, operator, &models.NewQCRecord{DeliveryNoteId: &dn.ID, QcStatus: models.QCStatusFail}); err != nil {
			t.Fatalf("RecordQC: %v", err)
		}
		_, err := models.DispatchDeliveryNote(ctx, operator, dn.ID, "")
		requireKind(t, err, utils.KindInvalidTransition)
		if n := outTransactions(t, item.ID); n != 0 {
			t.Fatalf("OUT rows after blocked dispatch = %d", n)
		}

		// NA does not clear a failure, a later PASS does
		if _, err := models.RecordQC(ctx, operator, &models.NewQCRecord{DeliveryNoteId: &dn.ID, QcStatus: models.QCStatusNA}); err != nil {
			t.Fatalf("RecordQC: %v", err)
		}
		_, err = models.DispatchDeliveryNote(ctx, operator, dn.ID, "")
		requireKind(t, err, utils.KindInvalidTransition)
		if _, err := models.RecordQC(ctx, operator, &models.NewQCRecord{DeliveryNoteId: &dn.ID, QcStatus: models.QCStatusPass}); err != nil {
			t.Fatalf("RecordQC: %v", err)
		}
		if _, err := models.DispatchDeliveryNote(ctx, operator, dn.ID, ""); err != nil {
			t.Fatalf("dispatch after PASS: %v", err)
		}
	})

	stored, err := models.GetInventoryItem(ctx, operator, item.ID)
	if err != nil {
		t.Fatalf("GetInventoryItem: %v", err)
	}
	requireDecimal(t, "available", stored.AvailableQty, 40)
	if n := outTransactions(t, item.ID); n != 1 {
		t.Fatalf("OUT rows = %d, want only the successful dispatch", n)
	}
}

func TestStrictDispatchRejectsNegativeStock(t *testing.T) {
	setupDB(t)
	t.Setenv("STRICT_STOCK_ON_DISPATCH", "true")
	ctx := context.Background()
	item := seedItem(t, operator, "PNL-100", 5, 20)
	dn := seedDeliveryNote(t, operator, seedProject(t, operator), item, 10)
	loadAll(t, operator, dn)
	assign(t, dn, seedVehicle(t, operator, "YGN-1A-0001"), nil)

	_, err := models.DispatchDeliveryNote(ctx, operator, dn.ID, "")
	requireKind(t, err, utils.KindResourceConflict)
	if got := getDN(t, dn.ID); got.Status != models.DeliveryNoteStatusLoading {
		t.Fatalf("status = %s", got.Status)
	}
	if n := outTransactions(t, item.ID); n != 0 {
		t.Fatalf("OUT rows = %d", n)
	}
}

func TestLoadDeliveryNoteValidation(t *testing.T) {
	setupDB(t)
	ctx := context.Background()
	item := seedItem(t, operator, "PNL-100", 50, 20)
	dn := seedDeliveryNote(t, operator, seedProject(t, operator), item, 10)
	line := dn.Items[0].ID

	_, err := models.LoadDeliveryNote(ctx, operator, dn.ID, &models.LoadDeliveryNoteInput{Items: []models.LoadLine{{ItemId: line, LoadedQty: dec(11)}}})
	requireKind(t, err, utils.KindValidation)
	_, err = models.LoadDeliveryNote(ctx, operator, dn.ID, &models.LoadDeliveryNoteInput{Items: []models.LoadLine{{ItemId: line, LoadedQty: dec(-1)}}})
	requireKind(t, err, utils.KindValidation)
	_, err = models.LoadDeliveryNote(ctx, operator, dn.ID, &models.LoadDeliveryNoteInput{Items: []models.LoadLine{{ItemId: 9999, LoadedQty: dec(1)}}})
	requireKind(t, err, utils.KindNotFound)
	if got := getDN(t, dn.ID); got.Status != models.DeliveryNoteStatusDraft || !got.Items[0].LoadedQty.IsZero() {
		t.Fatalf("rejected loads changed the note: %+v", got)
	}

	// loading again while LOADING replaces the quantity
	loadAll(t, operator, dn)
	again, err := models.LoadDeliveryNote(ctx, operator, dn.ID, &models.LoadDeliveryNoteInput{Items: []models.LoadLine{{ItemId: line, LoadedQty: dec(7)}}, Photos: []string{"dn/1/load.jpg"}})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	requireDecimal(t, "loaded qty", again.Items[0].LoadedQty, 7)
	if len(again.LoadingPhotos) != 1 {
		t.Fatalf("loading photos = %v", again.LoadingPhotos)
	}
}

func TestCreateDeliveryNoteValidationAndNumbering(t *testing.T) {
	setupDB(t)
	ctx := context.Background()
	item := seedItem(t, operator, "PNL-100", 50, 20)
	project := seedProject(t, operator)

	_, err := models.CreateDeliveryNote(ctx, operator, &models.NewDeliveryNote{ProjectId: project.ID, ClientId: project.ClientId, Address: "site"})
	requireKind(t, err, utils.KindValidation)
	_, err = models.CreateDeliveryNote(ctx, operator, &models.NewDeliveryNote{
		ProjectId: project.ID, ClientId: project.ClientId, Address: "site",
		Items: []models.NewDeliveryNoteItem{{InventoryItemId: &item.ID, Qty: dec(0)}},
	})
	requireKind(t, err, utils.KindValidation)
	_, err = models.CreateDeliveryNote(ctx, operator, &models.NewDeliveryNote{
		ProjectId: project.ID, ClientId: project.ClientId + 1, Address: "site",
		Items: []models.NewDeliveryNoteItem{{InventoryItemId: &item.ID, Qty: dec(1)}},
	})
	if k := utils.KindOf(err); k != utils.KindValidation && k != utils.KindNotFound {
		t.Fatalf("client mismatch err = %v", err)
	}

	first := seedDeliveryNote(t, operator, project, item, 1)
	second := seedDeliveryNote(t, operator, project, item, 1)
	if first.DeliveryNumber != "DN-000001" || second.DeliveryNumber != "DN-000002" {
		t.Fatalf("numbers = %s, %s", first.DeliveryNumber, second.DeliveryNumber)
	}
	otherItem := seedItem(t, outsider, "PNL-100", 5, 20)
	other := seedDeliveryNote(t, outsider, seedProject(t, outsider), otherItem, 1)
	if other.DeliveryNumber != "DN-000001" {
		t.Fatalf("numbering is per tenant, got %s", other.DeliveryNumber)
	}
	_, err = models.GetDeliveryNote(ctx, outsider, first.ID)
	requireKind(t, err, utils.KindNotFound)
}

func TestDeliverReleasesVehicleAndRecordsAcknowledgement(t *testing.T) {
	setupDB(t)
	ctx := context.Background()
	item := seedItem(t, operator, "PNL-100", 50, 20)
	dn := seedDeliveryNote(t, operator, seedProject(t, operator), item, 10, 4)
	loadAll(t, operator, dn)
	driver := seedDriver(t, operator, "DL-0001")
	v1 := seedVehicle(t, operator, "YGN-1A-0001")
	assign(t, dn, v1, &driver.ID)

	_, err := models.DeliverDeliveryNote(ctx, operator, dn.ID, &models.DeliverDeliveryNoteInput{})
	requireKind(t, err, utils.KindInvalidTransition)
	_, err = models.AddDeliveryTracking(ctx, operator, dn.ID, &models.NewDeliveryTracking{Location: "Hlaing bridge"})
	requireKind(t, err, utils.KindInvalidTransition)

	if _, err := models.DispatchDeliveryNote(ctx, operator, dn.ID, ""); err != nil {
		t.Fatalf("DispatchDeliveryNote: %v", err)
	}
	_, err = models.AddDeliveryTracking(ctx, operator, dn.ID, &models.NewDeliveryTracking{Latitude: decPtr(16)})
	requireKind(t, err, utils.KindValidation)
	if _, err := models.AddDeliveryTracking(ctx, operator, dn.ID, &models.NewDeliveryTracking{Latitude: decPtr(16), Longitude: decPtr(96)}); err != nil {
		t.Fatalf("AddDeliveryTracking: %v", err)
	}

	_, err = models.DeliverDeliveryNote(ctx, operator, dn.ID, &models.DeliverDeliveryNoteInput{
		Items: []models.DeliverLine{{ItemId: dn.Items[0].ID, DeliveredQty: decPtr(11)}},
	})
	requireKind(t, err, utils.KindValidation)

	delivered, err := models.DeliverDeliveryNote(ctx, operator, dn.ID, &models.DeliverDeliveryNoteInput{
		Items:      []models.DeliverLine{{ItemId: dn.Items[0].ID, DeliveredQty: decPtr(9)}},
		ReceivedBy: "Site engineer",
		Photos:     []string{"dn/1/pod.jpg"},
	})
	if err != nil {
		t.Fatalf("DeliverDeliveryNote: %v", err)
	}
	if delivered.Status != models.DeliveryNoteStatusDelivered || delivered.DeliveredAt == nil {
		t.Fatalf("delivered note = %+v", delivered)
	}

	got := getDN(t, dn.ID)
	requireDecimal(t, "line 1 delivered", got.Items[0].DeliveredQty, 9)
	requireDecimal(t, "line 2 delivered", got.Items[1].DeliveredQty, 4)
	if got.Acknowledgement == nil || got.Acknowledgement.ReceivedBy != "Site engineer" || len(got.Acknowledgement.Photos) != 1 {
		t.Fatalf("acknowledgement = %+v", got.Acknowledgement)
	}
	if len(got.Tracking) != 1 {
		t.Fatalf("tracking rows = %d", len(got.Tracking))
	}
	if got.VehicleId == nil || *got.VehicleId != v1.ID {
		t.Fatalf("delivered note should keep its vehicle as history")
	}

	v := getVehicle(t, v1.ID)
	if v.Status != models.VehicleStatusAvailable || v.CurrentDeliveryNoteId != nil {
		t.Fatalf("vehicle after delivery = %+v", v)
	}
	if v.DriverId == nil || *v.DriverId != driver.ID {
		t.Fatalf("driver should stay on the vehicle by default, got %v", v.DriverId)
	}
	if _, err := models.DeleteVehicle(ctx, operator, v1.ID); err != nil {
		t.Fatalf("DeleteVehicle after delivery: %v", err)
	}
}

func TestCancelDeliveryNote(t *testing.T) {
	setupDB(t)
	ctx := context.Background()
	item := seedItem(t, operator, "PNL-100", 50, 20)
	project := seedProject(t, operator)
	v1 := seedVehicle(t, operator, "YGN-1A-0001")

	dn := seedDeliveryNote(t, operator, project, item, 10)
	loadAll(t, operator, dn)
	assign(t, dn, v1, nil)

	_, err := models.CancelDeliveryNote(ctx, operator, dn.ID, "  ")
	requireKind(t, err, utils.KindValidation)
	cancelled, err := models.CancelDeliveryNote(ctx, operator, dn.ID, "client postponed")
	if err != nil {
		t.Fatalf("CancelDeliveryNote: %v", err)
	}
	if cancelled.Status != models.DeliveryNoteStatusCancelled || cancelled.VehicleId != nil {
		t.Fatalf("cancelled note = %+v", cancelled)
	}
	if v := getVehicle(t, v1.ID); v.Status != models.VehicleStatusAvailable {
		t.Fatalf("vehicle after cancel = %s", v.Status)
	}
	_, err = models.LoadDeliveryNote(ctx, operator, dn.ID, &models.LoadDeliveryNoteInput{Items: []models.LoadLine{{ItemId: dn.Items[0].ID, LoadedQty: dec(1)}}})
	requireKind(t, err, utils.KindInvalidTransition)

	gone := seedDeliveryNote(t, operator, project, item, 10)
	loadAll(t, operator, gone)
	assign(t, gone, v1, nil)
	if _, err := models.DispatchDeliveryNote(ctx, operator, gone.ID, ""); err != nil {
		t.Fatalf("DispatchDeliveryNote: %v", err)
	}
	_, err = models.CancelDeliveryNote(ctx, operator, gone.ID, "too late")
	requireKind(t, err, utils.KindInvalidTransition)
}

func TestConcurrentVehicleAssignmentHasOneWinner(t *testing.T) {
	setupDB(t)
	ctx := context.Background()
	item := seedItem(t, operator, "PNL-100", 50, 20)
	project := seedProject(t, operator)
	v1 := seedVehicle(t, operator, "YGN-1A-0001")
	notes := []*models.DeliveryNote{
		seedDeliveryNote(t, operator, project, item, 5),
		seedDeliveryNote(t, operator, project, item, 5),
	}
	for _, dn := range notes {
		loadAll(t, operator, dn)
	}

	errs := make([]error, len(notes))
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, dn := range notes {
		wg.Add(1)
		go func(i int, id int) {
			defer wg.Done()
			<-start
			_, errs[i] = models.AssignVehicleToDeliveryNote(ctx, operator, id, &models.AssignVehicleInput{VehicleId: v1.ID})
		}(i, dn.ID)
	}
	close(start)
	wg.Wait()

	winner := -1
	for i, err := range errs {
		if err == nil {
			if winner >= 0 {
				t.Fatalf("both assignments succeeded")
			}
			winner = i
			continue
		}
		requireKind(t, err, utils.KindResourceConflict)
	}
	if winner < 0 {
		t.Fatalf("no assignment succeeded: %v", errs)
	}
	v := getVehicle(t, v1.ID)
	if v.Status != models.VehicleStatusInUse || v.CurrentDeliveryNoteId == nil || *v.CurrentDeliveryNoteId != notes[winner].ID {
		t.Fatalf("vehicle = %+v, want held by note %d", v, notes[winner].ID)
	}
	loser := getDN(t, notes[1-winner].ID)
	if loser.VehicleId != nil {
		t.Fatalf("losing note got vehicle %d", *loser.VehicleId)
	}
}

func TestReassigningVehicleReleasesPrevious(t *testing.T) {
	setupDB(t)
	ctx := context.Background()
	item := seedItem(t, operator, "PNL-100", 50, 20)
	project := seedProject(t, operator)
	dn := seedDeliveryNote(t, operator, project, item, 5)
	loadAll(t, operator, dn)
	v1 := seedVehicle(t, operator, "YGN-1A-0001")
	v2 := seedVehicle(t, operator, "YGN-1A-0002")

	assign(t, dn, v1, nil)
	again := assign(t, dn, v1, nil)
	if again.VehicleId == nil || *again.VehicleId != v1.ID {
		t.Fatalf("re-assigning the same vehicle should be a no-op")
	}
	moved := assign(t, dn, v2, nil)
	if *moved.VehicleId != v2.ID {
		t.Fatalf("vehicle = %d", *moved.VehicleId)
	}
	if v := getVehicle(t, v1.ID); v.Status != models.VehicleStatusAvailable {
		t.Fatalf("previous vehicle = %s", v.Status)
	}

	draft := seedDeliveryNote(t, operator, project, item, 5)
	_, err := models.AssignVehicleToDeliveryNote(ctx, operator, draft.ID, &models.AssignVehicleInput{VehicleId: v1.ID})
	requireKind(t, err, utils.KindInvalidTransition)
}

func TestConcurrentDispatchesSerializeOnSharedItem(t *testing.T) {
	setupDB(t)
	ctx := context.Background()
	item := seedItem(t, operator, "PNL-100", 100, 20)
	project := seedProject(t, operator)
	notes := []*models.DeliveryNote{
		seedDeliveryNote(t, operator, project, item, 30),
		seedDeliveryNote(t, operator, project, item, 45),
	}
	vehicles := []*models.Vehicle{
		seedVehicle(t, operator, "YGN-1A-0001"),
		seedVehicle(t, operator, "YGN-1A-0002"),
	}
	for i, dn := range notes {
		loadAll(t, operator, dn)
		assign(t, dn, vehicles[i], nil)
	}

	errs := make([]error, len(notes))
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, dn := range notes {
		wg.Add(1)
		go func(i int, id int) {
			defer wg.Done()
			<-start
			_, errs[i] = models.DispatchDeliveryNote(ctx, operator, id, "")
		}(i, dn.ID)
	}
	close(start)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
	}
	stored, err := models.GetInventoryItem(ctx, operator, item.ID)
	if err != nil {
		t.Fatalf("GetInventoryItem: %v", err)
	}
	requireDecimal(t, "available", stored.AvailableQty, 25)

	report, err := models.VerifyStockLedger(ctx, operator, item.ID)
	if err != nil {
		t.Fatalf("VerifyStockLedger: %v", err)
	}
	if !report.Consistent() || report.Entries != 3 {
		t.Fatalf("ledger after concurrent dispatch = %+v", report)
	}
	txns := stockTransactions(t, operator, item.ID)
	if len(txns) != 3 {
		t.Fatalf("ledger rows = %d, want opening + two OUT", len(txns))
	}
	requireDecimal(t, "last balance", txns[2].BalanceAfter, 25)
}
