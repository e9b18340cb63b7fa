package models_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mmdatafocus/factory_backend/config"
	"github.com/mmdatafocus/factory_backend/models"
	"github.com/mmdatafocus/factory_backend/utils"
)

func TestParseStageList(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		want    []string
		wantErr bool
	}{
		{name: "json array", raw: `["CUTTING","ASSEMBLY","FINISHING"]`, want: []string{"CUTTING", "ASSEMBLY", "FINISHING"}},
		{name: "double encoded", raw: `"[\"CUTTING\",\"ASSEMBLY\"]"`, want: []string{"CUTTING", "ASSEMBLY"}},
		{name: "trims and drops blanks", raw: `[" CUTTING ",""," ASSEMBLY"]`, want: []string{"CUTTING", "ASSEMBLY"}},
		{name: "drops duplicates", raw: `["CUTTING","cutting","ASSEMBLY"]`, want: []string{"CUTTING", "ASSEMBLY"}},
		{name: "empty array", raw: `[]`, wantErr: true},
		{name: "empty", raw: ``, wantErr: true},
		{name: "object", raw: `{"stages":["A"]}`, wantErr: true},
		{name: "garbage", raw: `CUTTING,ASSEMBLY`, wantErr: true},
		{name: "null", raw: `null`, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := models.ParseStageList([]byte(tc.raw))
			if tc.wantErr {
				if !errors.Is(err, utils.ErrStagesNotConfigured) {
					t.Fatalf("expected ErrStagesNotConfigured, got %v (%v)", err, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseStageList: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %v want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("got %v want %v", got, tc.want)
				}
			}
		})
	}
}

func TestStageListMath(t *testing.T) {
	list := models.StageList{"CUTTING", "ASSEMBLY", "FINISHING"}

	if first, ok := list.First(); !ok || first != "CUTTING" {
		t.Fatalf("First: %q %v", first, ok)
	}
	if next, ok := list.Next("cutting"); !ok || next != "ASSEMBLY" {
		t.Fatalf("Next(cutting): %q %v", next, ok)
	}
	if _, ok := list.Next("FINISHING"); ok {
		t.Fatalf("Next(last) should be absent")
	}
	if _, ok := list.Next("PAINTING"); ok {
		t.Fatalf("Next(unlisted) should be absent")
	}
	if i := list.IndexPtr("Assembly"); i == nil || *i != 1 {
		t.Fatalf("IndexPtr(Assembly): %v", i)
	}
	if i := list.IndexPtr("PAINTING"); i != nil {
		t.Fatalf("IndexPtr(unlisted) = %d", *i)
	}
	if got := list.Canonical(" assembly "); got != "ASSEMBLY" {
		t.Fatalf("Canonical: %q", got)
	}
}

func TestNewStageListRejectsBadInput(t *testing.T) {
	for _, in := range [][]string{nil, {}, {"A", " "}, {"A", "a"}} {
		if _, err := models.NewStageList(in); !utils.IsKind(err, utils.KindValidation) {
			t.Fatalf("NewStageList(%v): expected validation error, got %v", in, err)
		}
	}
}

func TestTenantStagesNotConfigured(t *testing.T) {
	setupDB(t)
	ctx := context.Background()

	if _, err := models.GetTenantStages(ctx, operator); !errors.Is(err, utils.ErrStagesNotConfigured) {
		t.Fatalf("expected ErrStagesNotConfigured, got %v", err)
	}
	project := seedProject(t, operator)
	_, err := models.CreateProductionJob(ctx, operator, &models.NewProductionJob{ProjectId: project.ID})
	if !errors.Is(err, utils.ErrStagesNotConfigured) {
		t.Fatalf("CreateProductionJob without stages: expected ErrStagesNotConfigured, got %v", err)
	}
}

func TestSetTenantStagesReplacesListPerTenant(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	seedStages(t, operator, "CUTTING", "ASSEMBLY")
	seedStages(t, operator, "CUTTING", "WELDING", "ASSEMBLY")
	seedStages(t, outsider, "PRINT")

	list, err := models.GetTenantStages(ctx, operator)
	if err != nil {
		t.Fatalf("GetTenantStages: %v", err)
	}
	if len(list) != 3 || list[1] != "WELDING" {
		t.Fatalf("stages = %v", list)
	}
	other, err := models.GetTenantStages(ctx, outsider)
	if err != nil {
		t.Fatalf("GetTenantStages outsider: %v", err)
	}
	if len(other) != 1 || other[0] != "PRINT" {
		t.Fatalf("outsider stages = %v", other)
	}
	if n := outboxCount(t, db, config.SinkAudit, string(models.AuditActionUpdate)); n != 3 {
		t.Fatalf("audit facts = %d, want 3", n)
	}
}

func TestTenantStageResolver(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	seedStages(t, operator, "CUTTING", "ASSEMBLY", "FINISHING")

	first, err := models.FirstStage(ctx, db, operator.BusinessId)
	if err != nil || first != "CUTTING" {
		t.Fatalf("FirstStage = %q, %v", first, err)
	}
	next, ok, err := models.NextStage(ctx, db, operator.BusinessId, "ASSEMBLY")
	if err != nil || !ok || next != "FINISHING" {
		t.Fatalf("NextStage(ASSEMBLY) = %q, %v, %v", next, ok, err)
	}
	if _, ok, _ := models.NextStage(ctx, db, operator.BusinessId, "FINISHING"); ok {
		t.Fatalf("NextStage(FINISHING) should be exhausted")
	}
	if _, ok, _ := models.NextStage(ctx, db, operator.BusinessId, "POLISH"); ok {
		t.Fatalf("NextStage of an unlisted stage should be exhausted")
	}
	idx, err := models.IndexOfStage(ctx, db, operator.BusinessId, "FINISHING")
	if err != nil || idx == nil || *idx != 2 {
		t.Fatalf("IndexOfStage(FINISHING) = %v, %v", idx, err)
	}
	if idx, _ := models.IndexOfStage(ctx, db, operator.BusinessId, "POLISH"); idx != nil {
		t.Fatalf("IndexOfStage of an unlisted stage = %d", *idx)
	}
	if _, err := models.FirstStage(ctx, db, outsider.BusinessId); !errors.Is(err, utils.ErrStagesNotConfigured) {
		t.Fatalf("FirstStage for unconfigured tenant: %v", err)
	}
}
