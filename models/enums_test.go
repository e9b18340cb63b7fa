package models_test

import (
	"testing"

	"github.com/mmdatafocus/factory_backend/models"
)

func TestProductionJobTransitions(t *testing.T) {
	all := []models.ProductionJobStatus{
		models.ProductionJobStatusNotStarted,
		models.ProductionJobStatusInProgress,
		models.ProductionJobStatusCompleted,
		models.ProductionJobStatusRework,
		models.ProductionJobStatusCancelled,
	}
	allowed := map[models.ProductionJobStatus][]models.ProductionJobStatus{
		models.ProductionJobStatusNotStarted: {models.ProductionJobStatusInProgress, models.ProductionJobStatusCancelled},
		models.ProductionJobStatusInProgress: {models.ProductionJobStatusCompleted, models.ProductionJobStatusRework, models.ProductionJobStatusCancelled},
		models.ProductionJobStatusCompleted:  {models.ProductionJobStatusInProgress},
		models.ProductionJobStatusRework:     {models.ProductionJobStatusInProgress, models.ProductionJobStatusCancelled},
		models.ProductionJobStatusCancelled:  nil,
	}
	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			if got := from.CanTransitionTo(to); got != want {
				t.Errorf("%s -> %s: got %v want %v", from, to, got, want)
			}
		}
	}
}

func TestDeliveryNoteTransitions(t *testing.T) {
	cases := []struct {
		from, to models.DeliveryNoteStatus
		want     bool
	}{
		{models.DeliveryNoteStatusDraft, models.DeliveryNoteStatusLoading, true},
		{models.DeliveryNoteStatusLoading, models.DeliveryNoteStatusLoading, true},
		{models.DeliveryNoteStatusLoading, models.DeliveryNoteStatusDispatched, true},
		{models.DeliveryNoteStatusDraft, models.DeliveryNoteStatusDispatched, false},
		{models.DeliveryNoteStatusDispatched, models.DeliveryNoteStatusDelivered, true},
		{models.DeliveryNoteStatusDispatched, models.DeliveryNoteStatusDispatched, false},
		{models.DeliveryNoteStatusDispatched, models.DeliveryNoteStatusCancelled, false},
		{models.DeliveryNoteStatusDelivered, models.DeliveryNoteStatusReturned, true},
		{models.DeliveryNoteStatusDelivered, models.DeliveryNoteStatusLoading, false},
		{models.DeliveryNoteStatusCancelled, models.DeliveryNoteStatusLoading, false},
		{models.DeliveryNoteStatusReturned, models.DeliveryNoteStatusDelivered, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
			t.Errorf("%s -> %s: got %v want %v", tc.from, tc.to, got, tc.want)
		}
	}
	if !models.DeliveryNoteStatusLoading.InFlight() || !models.DeliveryNoteStatusDispatched.InFlight() {
		t.Fatalf("LOADING and DISPATCHED are in flight")
	}
	if models.DeliveryNoteStatusDelivered.InFlight() || models.DeliveryNoteStatusDraft.InFlight() {
		t.Fatalf("DRAFT and DELIVERED are not in flight")
	}
}

func TestReworkTransitions(t *testing.T) {
	if !models.ReworkStatusOpen.CanTransitionTo(models.ReworkStatusCompleted) {
		t.Fatalf("OPEN -> COMPLETED should be allowed")
	}
	if !models.ReworkStatusInProgress.CanTransitionTo(models.ReworkStatusCancelled) {
		t.Fatalf("IN_PROGRESS -> CANCELLED should be allowed")
	}
	if models.ReworkStatusCompleted.CanTransitionTo(models.ReworkStatusInProgress) {
		t.Fatalf("COMPLETED is terminal")
	}
	if models.ReworkStatusInProgress.CanTransitionTo(models.ReworkStatusOpen) {
		t.Fatalf("IN_PROGRESS -> OPEN should be rejected")
	}
}

func TestEnumUnmarshalRejectsUnknown(t *testing.T) {
	var s models.ProductionJobStatus
	if err := s.UnmarshalText([]byte("in_progress")); err != nil || s != models.ProductionJobStatusInProgress {
		t.Fatalf("UnmarshalText(in_progress) = %q, %v", s, err)
	}
	if err := s.UnmarshalText([]byte("PAUSED")); err == nil {
		t.Fatalf("UnmarshalText(PAUSED) should fail")
	}
	var o models.ReturnOutcome
	if err := o.UnmarshalText([]byte("SCRAP")); err != nil || o != models.ReturnOutcomeScrap {
		t.Fatalf("UnmarshalText(SCRAP) = %q, %v", o, err)
	}
}
