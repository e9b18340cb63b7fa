package models

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/factory_backend/appctx"
	"github.com/mmdatafocus/factory_backend/config"
	"github.com/mmdatafocus/factory_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ReworkJob struct {
	ID                    int             `gorm:"primary_key" json:"id"`
	BusinessId            string          `gorm:"size:64;not null;index" json:"business_id"`
	SourceProductionJobId *int            `gorm:"index" json:"source_production_job_id"`
	SourceDeliveryNoteId  *int            `gorm:"index" json:"source_delivery_note_id"`
	QcRecordId            *int            `json:"qc_record_id"`
	ReturnRecordId        *int            `json:"return_record_id"`
	AssigneeId            *int            `gorm:"index" json:"assignee_id"`
	Status                ReworkStatus    `gorm:"size:20;not null;index" json:"status"`
	Description           string          `gorm:"type:text" json:"description"`
	ExpectedHours         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"expected_hours"`
	ActualHours           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"actual_hours"`
	MaterialNeeded        datatypes.JSON  `json:"material_needed"`
	CompletedAt           *time.Time      `json:"completed_at"`
	CreatedBy             int             `json:"created_by"`
	CreatedAt             time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewReworkJob struct {
	SourceProductionJobId *int             `json:"source_production_job_id"`
	SourceDeliveryNoteId  *int             `json:"source_delivery_note_id"`
	AssigneeId            *int             `json:"assignee_id"`
	Description           string           `json:"description" validate:"omitempty,max=2000"`
	ExpectedHours         *decimal.Decimal `json:"expected_hours"`
	MaterialNeeded        json.RawMessage  `json:"material_needed"`
}

type UpdateReworkJobInput struct {
	Status         *ReworkStatus    `json:"status"`
	AssigneeId     *int             `json:"assignee_id"`
	Description    *string          `json:"description" validate:"omitempty,max=2000"`
	ExpectedHours  *decimal.Decimal `json:"expected_hours"`
	ActualHours    *decimal.Decimal `json:"actual_hours"`
	MaterialNeeded json.RawMessage  `json:"material_needed"`
}

type ReworkJobFilter struct {
	Status                *ReworkStatus `form:"status"`
	SourceProductionJobId *int          `form:"source_production_job_id"`
	SourceDeliveryNoteId  *int          `form:"source_delivery_note_id"`
}

// normalizeMaterialNeeded accepts a JSON value or a string holding one.
func normalizeMaterialNeeded(raw json.RawMessage) (datatypes.JSON, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if !json.Valid([]byte(trimmed)) {
		return nil, utils.NewValidationError("material_needed must be valid JSON")
	}
	var inner string
	if err := json.Unmarshal([]byte(trimmed), &inner); err == nil {
		inner = strings.TrimSpace(inner)
		if json.Valid([]byte(inner)) && (strings.HasPrefix(inner, "{") || strings.HasPrefix(inner, "[")) {
			return datatypes.JSON(inner), nil
		}
	}
	return datatypes.JSON(trimmed), nil
}

func validateReworkSource(productionJobId, deliveryNoteId *int) error {
	hasJob := productionJobId != nil && *productionJobId > 0
	hasDN := deliveryNoteId != nil && *deliveryNoteId > 0
	if hasJob == hasDN {
		return utils.NewValidationError("exactly one of source_production_job_id and source_delivery_note_id is required")
	}
	return nil
}

// createReworkJob opens an OPEN rework job on tx and announces it.
func createReworkJob(ctx context.Context, tx *gorm.DB, actor appctx.Actor, rework *ReworkJob) error {
	if err := validateReworkSource(rework.SourceProductionJobId, rework.SourceDeliveryNoteId); err != nil {
		return err
	}
	rework.BusinessId = actor.BusinessId
	rework.Status = ReworkStatusOpen
	rework.CreatedBy = actor.UserId
	if err := tx.WithContext(ctx).Create(rework).Error; err != nil {
		return err
	}
	source := "delivery note"
	sourceId := 0
	if rework.SourceProductionJobId != nil {
		source, sourceId = "production job", *rework.SourceProductionJobId
	} else {
		sourceId = *rework.SourceDeliveryNoteId
	}
	recordAudit(ctx, tx, actor, AuditActionCreate, "rework_job", rework.ID, nil, rework)
	notify(ctx, tx, actor, "rework_job", rework.ID, NotificationFact{
		Type:    NotificationReworkCreated,
		Title:   "Rework job created",
		Message: fmt.Sprintf("Rework job #%d opened for %s #%d", rework.ID, source, sourceId),
		Link:    fmt.Sprintf("/rework-jobs/%d", rework.ID),
		Metadata: map[string]any{
			"rework_job_id": rework.ID,
			"source":        source,
			"source_id":     sourceId,
			"assignee_id":   rework.AssigneeId,
		},
	})
	return nil
}

func CreateReworkJob(ctx context.Context, actor appctx.Actor, input *NewReworkJob) (*ReworkJob, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if err := validateReworkSource(input.SourceProductionJobId, input.SourceDeliveryNoteId); err != nil {
		return nil, err
	}
	if input.ExpectedHours != nil && input.ExpectedHours.IsNegative() {
		return nil, utils.NewValidationError("expected hours cannot be negative")
	}
	material, err := normalizeMaterialNeeded(input.MaterialNeeded)
	if err != nil {
		return nil, err
	}
	ctx = actor.Scope(ctx)

	rework := ReworkJob{
		SourceProductionJobId: input.SourceProductionJobId,
		SourceDeliveryNoteId:  input.SourceDeliveryNoteId,
		AssigneeId:            input.AssigneeId,
		Description:           input.Description,
		ExpectedHours:         utils.DereferencePtr(input.ExpectedHours, decimal.Zero),
		ActualHours:           decimal.Zero,
		MaterialNeeded:        material,
	}
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if input.SourceProductionJobId != nil {
			if err := utils.ValidateResourceId[ProductionJob](ctx, tx, actor.BusinessId, "production job", *input.SourceProductionJobId); err != nil {
				return err
			}
		} else if err := utils.ValidateResourceId[DeliveryNote](ctx, tx, actor.BusinessId, "delivery note", *input.SourceDeliveryNoteId); err != nil {
			return err
		}
		return createReworkJob(ctx, tx, actor, &rework)
	})
	if err != nil {
		return nil, err
	}
	return &rework, nil
}

// resumeFromRework puts a job waiting on rework back to IN_PROGRESS in a fresh visit of its stage.
func resumeFromRework(ctx context.Context, tx *gorm.DB, actor appctx.Actor, jobId int, at time.Time, note string) error {
	job, err := utils.FetchModelForUpdate[ProductionJob](ctx, tx, actor.BusinessId, "production job", jobId)
	if err != nil {
		return err
	}
	if job.Status != ProductionJobStatusRework {
		return nil
	}
	old := *job
	log, err := findOrOpenStageLog(ctx, tx, job)
	if err != nil {
		return err
	}
	updates := map[string]interface{}{"notes": utils.AppendNote(log.Notes, note)}
	if log.StartedAt == nil {
		updates["started_at"] = at
	}
	if err := tx.Model(&ProductionStageLog{}).Where("id = ? AND business_id = ?", log.ID, actor.BusinessId).
		Updates(updates).Error; err != nil {
		return err
	}
	job.Status = ProductionJobStatusInProgress
	if err := saveJobState(ctx, tx, job); err != nil {
		return err
	}
	recordAudit(ctx, tx, actor, AuditActionStatusChange, "production_job", job.ID, old, job, note)
	return nil
}

// UpdateReworkJob edits an active rework job. Completing it resumes a source production job that is
// still in REWORK.
func UpdateReworkJob(ctx context.Context, actor appctx.Actor, id int, input *UpdateReworkJobInput) (*ReworkJob, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if input.Status != nil && !containsEnum(reworkStatuses, *input.Status) {
		return nil, utils.NewValidationError("invalid rework status: %s", *input.Status)
	}
	if input.ExpectedHours != nil && input.ExpectedHours.IsNegative() {
		return nil, utils.NewValidationError("expected hours cannot be negative")
	}
	if input.ActualHours != nil && input.ActualHours.IsNegative() {
		return nil, utils.NewValidationError("actual hours cannot be negative")
	}
	material, err := normalizeMaterialNeeded(input.MaterialNeeded)
	if err != nil {
		return nil, err
	}
	ctx = actor.Scope(ctx)

	var rework *ReworkJob
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		rework, err = utils.FetchModelForUpdate[ReworkJob](ctx, tx, actor.BusinessId, "rework job", id)
		if err != nil {
			return err
		}
		old := *rework
		if len(ReworkTransitions(rework.Status)) == 0 {
			return utils.NewStateError("rework job", string(rework.Status),
				string(ReworkStatusOpen), string(ReworkStatusInProgress))
		}
		now := time.Now().UTC()
		updates := map[string]interface{}{}
		if input.Status != nil && *input.Status != rework.Status {
			if !rework.Status.CanTransitionTo(*input.Status) {
				return utils.NewInvalidTransitionError("rework job", string(rework.Status), string(*input.Status),
					enumStrings(ReworkTransitions(rework.Status)))
			}
			rework.Status = *input.Status
			updates["status"] = rework.Status
			if rework.Status == ReworkStatusCompleted {
				rework.CompletedAt = &now
				updates["completed_at"] = now
			}
		}
		if input.AssigneeId != nil {
			rework.AssigneeId = input.AssigneeId
			updates["assignee_id"] = input.AssigneeId
		}
		if input.Description != nil {
			rework.Description = *input.Description
			updates["description"] = rework.Description
		}
		if input.ExpectedHours != nil {
			rework.ExpectedHours = *input.ExpectedHours
			updates["expected_hours"] = rework.ExpectedHours
		}
		if input.ActualHours != nil {
			rework.ActualHours = *input.ActualHours
			updates["actual_hours"] = rework.ActualHours
		}
		if material != nil {
			rework.MaterialNeeded = material
			updates["material_needed"] = material
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&ReworkJob{}).Where("id = ? AND business_id = ?", id, actor.BusinessId).
			Updates(updates).Error; err != nil {
			return err
		}
		if rework.Status == ReworkStatusCompleted && old.Status != ReworkStatusCompleted && rework.SourceProductionJobId != nil {
			note := fmt.Sprintf("rework job #%d completed", rework.ID)
			if err := resumeFromRework(ctx, tx, actor, *rework.SourceProductionJobId, now, note); err != nil {
				return err
			}
		}
		action := AuditActionUpdate
		if old.Status != rework.Status {
			action = AuditActionStatusChange
		}
		recordAudit(ctx, tx, actor, action, "rework_job", rework.ID, old, rework)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rework, nil
}

func GetReworkJob(ctx context.Context, actor appctx.Actor, id int) (*ReworkJob, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	return utils.FetchModel[ReworkJob](actor.Scope(ctx), config.GetDB(), actor.BusinessId, "rework job", id)
}

func ListReworkJobs(ctx context.Context, actor appctx.Actor, filter ReworkJobFilter) ([]*ReworkJob, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	q := config.GetDB().WithContext(actor.Scope(ctx)).Where("business_id = ?", actor.BusinessId)
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	if filter.SourceProductionJobId != nil {
		q = q.Where("source_production_job_id = ?", *filter.SourceProductionJobId)
	}
	if filter.SourceDeliveryNoteId != nil {
		q = q.Where("source_delivery_note_id = ?", *filter.SourceDeliveryNoteId)
	}
	var reworks []*ReworkJob
	if err := q.Order("id DESC").Find(&reworks).Error; err != nil {
		return nil, err
	}
	return reworks, nil
}
