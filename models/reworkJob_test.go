package models_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mmdatafocus/factory_backend/models"
	"github.com/mmdatafocus/factory_backend/utils"
)

func reworkStatus(s models.ReworkStatus) *models.ReworkStatus {
	return &s
}

func TestCompletingReworkResumesSourceJob(t *testing.T) {
	setupDB(t)
	ctx := context.Background()
	job := jobAtAssembly(t)

	result, err := models.RecordQC(ctx, operator, &models.NewQCRecord{ProductionJobId: &job.ID, QcStatus: models.QCStatusFail, CreateRework: true})
	if err != nil {
		t.Fatalf("RecordQC: %v", err)
	}
	reworkId := result.Rework.ID

	if _, err := models.UpdateReworkJob(ctx, operator, reworkId, &models.UpdateReworkJobInput{Status: reworkStatus(models.ReworkStatusInProgress), ActualHours: decPtr(1)}); err != nil {
		t.Fatalf("start rework: %v", err)
	}
	done, err := models.UpdateReworkJob(ctx, operator, reworkId, &models.UpdateReworkJobInput{Status: reworkStatus(models.ReworkStatusCompleted)})
	if err != nil {
		t.Fatalf("complete rework: %v", err)
	}
	if done.CompletedAt == nil {
		t.Fatalf("completedAt not set")
	}
	requireDecimal(t, "rework actual hours", done.ActualHours, 1)

	resumed := getJob(t, operator, job.ID)
	if resumed.Status != models.ProductionJobStatusInProgress || resumed.Stage != "ASSEMBLY" {
		t.Fatalf("job after rework = %s/%s", resumed.Stage, resumed.Status)
	}
	open := openLogs(resumed)
	if len(open) != 1 || open[0].StartedAt == nil || open[0].QcStatus != nil {
		t.Fatalf("resumed visit = %+v", open)
	}

	_, err = models.UpdateReworkJob(ctx, operator, reworkId, &models.UpdateReworkJobInput{ActualHours: decPtr(3)})
	requireKind(t, err, utils.KindInvalidTransition)
}

func TestReworkTransitionsAreEnforced(t *testing.T) {
	setupDB(t)
	ctx := context.Background()
	job := jobAtAssembly(t)

	rework, err := models.CreateReworkJob(ctx, operator, &models.NewReworkJob{SourceProductionJobId: &job.ID, Description: "re-sand panel"})
	if err != nil {
		t.Fatalf("CreateReworkJob: %v", err)
	}
	if rework.Status != models.ReworkStatusOpen {
		t.Fatalf("new rework status = %s", rework.Status)
	}
	_, err = models.UpdateReworkJob(ctx, operator, rework.ID, &models.UpdateReworkJobInput{Status: reworkStatus("DONE")})
	requireKind(t, err, utils.KindValidation)

	if _, err := models.UpdateReworkJob(ctx, operator, rework.ID, &models.UpdateReworkJobInput{Status: reworkStatus(models.ReworkStatusCancelled)}); err != nil {
		t.Fatalf("cancel rework: %v", err)
	}
	_, err = models.UpdateReworkJob(ctx, operator, rework.ID, &models.UpdateReworkJobInput{Status: reworkStatus(models.ReworkStatusInProgress)})
	requireKind(t, err, utils.KindInvalidTransition)

	// a job that never entered REWORK is not touched by a rework completing
	other, err := models.CreateReworkJob(ctx, operator, &models.NewReworkJob{SourceProductionJobId: &job.ID})
	if err != nil {
		t.Fatalf("CreateReworkJob: %v", err)
	}
	if _, err := models.UpdateReworkJob(ctx, operator, other.ID, &models.UpdateReworkJobInput{Status: reworkStatus(models.ReworkStatusCompleted)}); err != nil {
		t.Fatalf("complete rework: %v", err)
	}
	if got := getJob(t, operator, job.ID); got.Status != models.ProductionJobStatusInProgress {
		t.Fatalf("job status = %s", got.Status)
	}
}

func TestCreateReworkJobValidation(t *testing.T) {
	setupDB(t)
	ctx := context.Background()
	job := jobAtAssembly(t)
	item := seedItem(t, operator, "FRM-1", 10, 5)
	dn := seedDeliveryNote(t, operator, seedProject(t, operator), item, 1)

	cases := []struct {
		name  string
		input *models.NewReworkJob
		kind  utils.ErrorKind
	}{
		{"no source", &models.NewReworkJob{}, utils.KindValidation},
		{"both sources", &models.NewReworkJob{SourceProductionJobId: &job.ID, SourceDeliveryNoteId: &dn.ID}, utils.KindValidation},
		{"negative hours", &models.NewReworkJob{SourceProductionJobId: &job.ID, ExpectedHours: decPtr(-1)}, utils.KindValidation},
		{"bad material", &models.NewReworkJob{SourceProductionJobId: &job.ID, MaterialNeeded: json.RawMessage(`[1,`)}, utils.KindValidation},
		{"unknown job", &models.NewReworkJob{SourceProductionJobId: intPtr(9999)}, utils.KindNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := models.CreateReworkJob(ctx, operator, tc.input)
			requireKind(t, err, tc.kind)
		})
	}

	fromDN, err := models.CreateReworkJob(ctx, operator, &models.NewReworkJob{SourceDeliveryNoteId: &dn.ID, MaterialNeeded: json.RawMessage(`{"glass":2}`)})
	if err != nil {
		t.Fatalf("CreateReworkJob from delivery note: %v", err)
	}
	list, err := models.ListReworkJobs(ctx, operator, models.ReworkJobFilter{SourceDeliveryNoteId: &dn.ID})
	if err != nil {
		t.Fatalf("ListReworkJobs: %v", err)
	}
	if len(list) != 1 || list[0].ID != fromDN.ID {
		t.Fatalf("listed reworks = %+v", list)
	}
}
