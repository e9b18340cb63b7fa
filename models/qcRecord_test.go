package models_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mmdatafocus/factory_backend/config"
	"github.com/mmdatafocus/factory_backend/models"
	"github.com/mmdatafocus/factory_backend/utils"
)

// jobAtAssembly returns an IN_PROGRESS job whose CUTTING visit is complete.
func jobAtAssembly(t *testing.T) *models.ProductionJob {
	t.Helper()
	seedStages(t, operator, "CUTTING", "ASSEMBLY", "FINISHING")
	job := newJob(t, operator)
	setStatus(t, operator, job.ID, models.ProductionJobStatusInProgress)
	setStatus(t, operator, job.ID, models.ProductionJobStatusCompleted)
	return setStatus(t, operator, job.ID, models.ProductionJobStatusInProgress)
}

func TestQCFailWithReworkMovesJobToRework(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	job := jobAtAssembly(t)
	if job.Stage != "ASSEMBLY" {
		t.Fatalf("fixture stage = %s", job.Stage)
	}

	result, err := models.RecordQC(ctx, operator, &models.NewQCRecord{
		ProductionJobId:      &job.ID,
		Stage:                "assembly",
		QcStatus:             models.QCStatusFail,
		Defects:              json.RawMessage(`[{"code":"GAP","note":"corner gap 3mm"}]`),
		Remarks:              "corner joints open",
		CreateRework:         true,
		ReworkExpectedHours:  decPtr(2),
		ReworkMaterialNeeded: json.RawMessage(`"[{\"item\":\"sealant\",\"qty\":1}]"`),
	})
	if err != nil {
		t.Fatalf("RecordQC: %v", err)
	}
	if result.ProductionJob.Status != models.ProductionJobStatusRework {
		t.Fatalf("job status = %s, want REWORK", result.ProductionJob.Status)
	}
	rework := result.Rework
	if rework == nil || rework.Status != models.ReworkStatusOpen {
		t.Fatalf("rework = %+v, want OPEN", rework)
	}
	if rework.SourceProductionJobId == nil || *rework.SourceProductionJobId != job.ID {
		t.Fatalf("rework source = %v", rework.SourceProductionJobId)
	}
	if rework.QcRecordId == nil || *rework.QcRecordId != result.Record.ID {
		t.Fatalf("rework qc record = %v", rework.QcRecordId)
	}
	if string(rework.MaterialNeeded) != `[{"item":"sealant","qty":1}]` {
		t.Fatalf("material needed = %s", rework.MaterialNeeded)
	}

	stored := getJob(t, operator, job.ID)
	if stored.Status != models.ProductionJobStatusRework || stored.Stage != "ASSEMBLY" {
		t.Fatalf("stored job = %s/%s", stored.Stage, stored.Status)
	}
	last := stored.StageLogs[len(stored.StageLogs)-1]
	if last.QcStatus == nil || *last.QcStatus != models.QCStatusFail || last.CompletedAt == nil {
		t.Fatalf("inspected log = %+v", last)
	}

	records, err := models.ListQCRecords(ctx, operator, models.QCRecordFilter{ProductionJobId: &job.ID})
	if err != nil {
		t.Fatalf("ListQCRecords: %v", err)
	}
	if len(records) != 1 || records[0].ReworkJobId == nil || *records[0].ReworkJobId != rework.ID {
		t.Fatalf("qc records = %+v", records)
	}
	if n := outboxCount(t, db, config.SinkNotification, string(models.NotificationQCFail)); n != 1 {
		t.Fatalf("QC_FAIL notifications = %d", n)
	}
	if n := outboxCount(t, db, config.SinkNotification, string(models.NotificationReworkCreated)); n != 1 {
		t.Fatalf("REWORK_CREATED notifications = %d", n)
	}
}

func TestQCFailOnEarlierStageKeepsCurrentStage(t *testing.T) {
	setupDB(t)
	job := jobAtAssembly(t)

	result, err := models.RecordQC(context.Background(), operator, &models.NewQCRecord{
		ProductionJobId: &job.ID,
		Stage:           "CUTTING",
		QcStatus:        models.QCStatusFail,
	})
	if err != nil {
		t.Fatalf("RecordQC: %v", err)
	}
	if result.Rework != nil {
		t.Fatalf("rework created without being asked")
	}
	if result.Record.Stage != "CUTTING" {
		t.Fatalf("record stage = %s", result.Record.Stage)
	}
	stored := getJob(t, operator, job.ID)
	if stored.Stage != "ASSEMBLY" || stored.Status != models.ProductionJobStatusRework {
		t.Fatalf("job = %s/%s, want ASSEMBLY/REWORK", stored.Stage, stored.Status)
	}
	if stored.StageIndex == nil || *stored.StageIndex != 1 {
		t.Fatalf("stage index = %v, want 1", stored.StageIndex)
	}
	for _, l := range stored.StageLogs {
		failed := l.QcStatus != nil && *l.QcStatus == models.QCStatusFail
		if failed != (l.Stage == "CUTTING") {
			t.Fatalf("log %s qc status = %v", l.Stage, l.QcStatus)
		}
	}
	if open := openLogs(stored); len(open) != 0 {
		t.Fatalf("rework should close the current visit, open logs = %d", len(open))
	}
}

func TestQCPassLeavesJobUntouched(t *testing.T) {
	setupDB(t)
	ctx := context.Background()
	job := jobAtAssembly(t)

	result, err := models.RecordQC(ctx, operator, &models.NewQCRecord{ProductionJobId: &job.ID, QcStatus: models.QCStatusPass, CreateRework: true})
	if err != nil {
		t.Fatalf("RecordQC: %v", err)
	}
	if result.Rework != nil || result.ProductionJob.Status != models.ProductionJobStatusInProgress {
		t.Fatalf("PASS changed the job: %+v", result)
	}
	if result.Record.Stage != "ASSEMBLY" {
		t.Fatalf("record stage defaults to current stage, got %s", result.Record.Stage)
	}

	// a passed stage completes and advances as usual
	done := setStatus(t, operator, job.ID, models.ProductionJobStatusCompleted)
	if done.Stage != "FINISHING" {
		t.Fatalf("after PASS completion stage = %s", done.Stage)
	}
}

func TestRecordQCValidation(t *testing.T) {
	setupDB(t)
	ctx := context.Background()
	job := jobAtAssembly(t)
	item := seedItem(t, operator, "FRM-1", 10, 5)
	dn := seedDeliveryNote(t, operator, seedProject(t, operator), item, 1)

	_, err := models.RecordQC(ctx, operator, &models.NewQCRecord{QcStatus: models.QCStatusFail})
	requireKind(t, err, utils.KindValidation)
	_, err = models.RecordQC(ctx, operator, &models.NewQCRecord{ProductionJobId: &job.ID, DeliveryNoteId: &dn.ID, QcStatus: models.QCStatusFail})
	requireKind(t, err, utils.KindValidation)
	_, err = models.RecordQC(ctx, operator, &models.NewQCRecord{ProductionJobId: &job.ID, QcStatus: "MAYBE"})
	requireKind(t, err, utils.KindValidation)
	_, err = models.RecordQC(ctx, operator, &models.NewQCRecord{ProductionJobId: &job.ID, QcStatus: models.QCStatusFail, Defects: json.RawMessage(`{broken`)})
	requireKind(t, err, utils.KindValidation)
	_, err = models.RecordQC(ctx, operator, &models.NewQCRecord{ProductionJobId: &job.ID, Stage: "FINISHING", QcStatus: models.QCStatusFail})
	requireKind(t, err, utils.KindValidation)
	_, err = models.RecordQC(ctx, outsider, &models.NewQCRecord{ProductionJobId: &job.ID, QcStatus: models.QCStatusFail})
	requireKind(t, err, utils.KindNotFound)

	if got := getJob(t, operator, job.ID); got.Status != models.ProductionJobStatusInProgress {
		t.Fatalf("rejected inspections changed the job: %s", got.Status)
	}
}

func TestQCOnCancelledJobIsRejected(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	job := jobAtAssembly(t)
	setStatus(t, operator, job.ID, models.ProductionJobStatusCancelled)

	_, err := models.RecordQC(ctx, operator, &models.NewQCRecord{ProductionJobId: &job.ID, QcStatus: models.QCStatusFail, CreateRework: true})
	requireKind(t, err, utils.KindInvalidTransition)

	var records, reworks int64
	db.Model(&models.QCRecord{}).Where("business_id = ?", operator.BusinessId).Count(&records)
	db.Model(&models.ReworkJob{}).Where("business_id = ?", operator.BusinessId).Count(&reworks)
	if records != 0 || reworks != 0 {
		t.Fatalf("rejected QC left rows behind: %d records, %d reworks", records, reworks)
	}
}

func TestQCRecordsAreImmutable(t *testing.T) {
	db := setupDB(t)
	job := jobAtAssembly(t)
	result, err := models.RecordQC(context.Background(), operator, &models.NewQCRecord{ProductionJobId: &job.ID, QcStatus: models.QCStatusPass})
	if err != nil {
		t.Fatalf("RecordQC: %v", err)
	}
	record := result.Record

	err = db.Model(record).Where("business_id = ?", operator.BusinessId).Update("remarks", "edited").Error
	if !errors.Is(err, utils.ErrQCRecordImmutable) {
		t.Fatalf("update err = %v", err)
	}
	err = db.Where("business_id = ?", operator.BusinessId).Delete(record).Error
	if !errors.Is(err, utils.ErrQCRecordImmutable) {
		t.Fatalf("delete err = %v", err)
	}
}

func TestDeliveryNoteQCFailLeavesNoteUnchanged(t *testing.T) {
	setupDB(t)
	ctx := context.Background()
	item := seedItem(t, operator, "FRM-1", 10, 5)
	dn := seedDeliveryNote(t, operator, seedProject(t, operator), item, 2)

	result, err := models.RecordQC(ctx, operator, &models.NewQCRecord{DeliveryNoteId: &dn.ID, QcStatus: models.QCStatusFail, CreateRework: true})
	if err != nil {
		t.Fatalf("RecordQC: %v", err)
	}
	if result.ProductionJob != nil {
		t.Fatalf("delivery note inspection returned a job")
	}
	if result.Rework == nil || result.Rework.SourceDeliveryNoteId == nil || *result.Rework.SourceDeliveryNoteId != dn.ID {
		t.Fatalf("rework = %+v", result.Rework)
	}
	got, err := models.GetDeliveryNote(ctx, operator, dn.ID)
	if err != nil {
		t.Fatalf("GetDeliveryNote: %v", err)
	}
	if got.Status != models.DeliveryNoteStatusDraft {
		t.Fatalf("delivery note status = %s", got.Status)
	}
}

func TestFailedStageDoesNotAdvanceUntilPassed(t *testing.T) {
	setupDB(t)
	ctx := context.Background()
	job := jobAtAssembly(t)

	if _, err := models.RecordQC(ctx, operator, &models.NewQCRecord{ProductionJobId: &job.ID, QcStatus: models.QCStatusFail}); err != nil {
		t.Fatalf("RecordQC FAIL: %v", err)
	}
	setStatus(t, operator, job.ID, models.ProductionJobStatusInProgress)
	done := setStatus(t, operator, job.ID, models.ProductionJobStatusCompleted)
	if done.Stage != "ASSEMBLY" || done.Status != models.ProductionJobStatusCompleted {
		t.Fatalf("completing a failed stage = %s/%s, want ASSEMBLY/COMPLETED", done.Stage, done.Status)
	}

	setStatus(t, operator, job.ID, models.ProductionJobStatusInProgress)
	if _, err := models.RecordQC(ctx, operator, &models.NewQCRecord{ProductionJobId: &job.ID, QcStatus: models.QCStatusNA}); err != nil {
		t.Fatalf("RecordQC NA: %v", err)
	}
	if still := setStatus(t, operator, job.ID, models.ProductionJobStatusCompleted); still.Stage != "ASSEMBLY" {
		t.Fatalf("NA should not clear a FAIL, stage = %s", still.Stage)
	}

	setStatus(t, operator, job.ID, models.ProductionJobStatusInProgress)
	if _, err := models.RecordQC(ctx, operator, &models.NewQCRecord{ProductionJobId: &job.ID, QcStatus: models.QCStatusPass}); err != nil {
		t.Fatalf("RecordQC PASS: %v", err)
	}
	advanced := setStatus(t, operator, job.ID, models.ProductionJobStatusCompleted)
	if advanced.Stage != "FINISHING" || advanced.Status != models.ProductionJobStatusNotStarted {
		t.Fatalf("after PASS = %s/%s, want FINISHING/NOT_STARTED", advanced.Stage, advanced.Status)
	}
}
