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

// QCRecord is an inspection of exactly one production job or delivery note. It is never changed.
type QCRecord struct {
	ID              int            `gorm:"primary_key" json:"id"`
	BusinessId      string         `gorm:"size:64;not null;index" json:"business_id"`
	ProductionJobId *int           `gorm:"index" json:"production_job_id"`
	DeliveryNoteId  *int           `gorm:"index" json:"delivery_note_id"`
	StageLogId      *int           `json:"stage_log_id"`
	Stage           string         `gorm:"size:100" json:"stage"`
	InspectorId     int            `json:"inspector_id"`
	InspectorName   string         `gorm:"size:100" json:"inspector_name"`
	QcStatus        QCStatus       `gorm:"size:10;not null" json:"qc_status"`
	Defects         datatypes.JSON `json:"defects"`
	Remarks         string         `gorm:"type:text" json:"remarks"`
	ReworkJobId     *int           `json:"rework_job_id"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

func (QCRecord) BeforeUpdate(tx *gorm.DB) error {
	return utils.ErrQCRecordImmutable
}

func (QCRecord) BeforeDelete(tx *gorm.DB) error {
	return utils.ErrQCRecordImmutable
}

type NewQCRecord struct {
	ProductionJobId *int            `json:"production_job_id"`
	DeliveryNoteId  *int            `json:"delivery_note_id"`
	Stage           string          `json:"stage" validate:"omitempty,max=100"`
	QcStatus        QCStatus        `json:"qc_status" validate:"required"`
	Defects         json.RawMessage `json:"defects"`
	Remarks         string          `json:"remarks" validate:"omitempty,max=2000"`

	CreateRework         bool             `json:"create_rework"`
	ReworkAssigneeId     *int             `json:"rework_assignee_id"`
	ReworkExpectedHours  *decimal.Decimal `json:"rework_expected_hours"`
	ReworkMaterialNeeded json.RawMessage  `json:"rework_material_needed"`
}

type QCResult struct {
	Record        *QCRecord      `json:"record"`
	ProductionJob *ProductionJob `json:"production_job,omitempty"`
	Rework        *ReworkJob     `json:"rework,omitempty"`
}

type QCRecordFilter struct {
	ProductionJobId *int `form:"production_job_id"`
	DeliveryNoteId  *int `form:"delivery_note_id"`
}

// RecordQC appends an inspection. A FAIL on a production job moves the job to REWORK at its
// current stage and can open a rework job in the same transaction. A FAIL on a delivery note
// changes nothing on the note; dispatch checks the inspections itself.
func RecordQC(ctx context.Context, actor appctx.Actor, input *NewQCRecord) (*QCResult, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	hasJob := input.ProductionJobId != nil && *input.ProductionJobId > 0
	hasDN := input.DeliveryNoteId != nil && *input.DeliveryNoteId > 0
	if hasJob == hasDN {
		return nil, utils.NewValidationError("exactly one of production_job_id and delivery_note_id is required")
	}
	if !input.QcStatus.IsValid() {
		return nil, utils.NewValidationError("invalid qc status: %s", input.QcStatus)
	}
	var defects datatypes.JSON
	if d := strings.TrimSpace(string(input.Defects)); d != "" && d != "null" {
		if !json.Valid([]byte(d)) {
			return nil, utils.NewValidationError("defects must be valid JSON")
		}
		defects = datatypes.JSON(d)
	}
	var rework *ReworkJob
	if input.CreateRework && input.QcStatus == QCStatusFail {
		if input.ReworkExpectedHours != nil && input.ReworkExpectedHours.IsNegative() {
			return nil, utils.NewValidationError("rework expected hours cannot be negative")
		}
		material, err := normalizeMaterialNeeded(input.ReworkMaterialNeeded)
		if err != nil {
			return nil, err
		}
		rework = &ReworkJob{
			AssigneeId:     input.ReworkAssigneeId,
			Description:    input.Remarks,
			ExpectedHours:  utils.DereferencePtr(input.ReworkExpectedHours, decimal.Zero),
			ActualHours:    decimal.Zero,
			MaterialNeeded: material,
		}
	}
	ctx = actor.Scope(ctx)

	result := &QCResult{}
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := &QCRecord{
			BusinessId:    actor.BusinessId,
			InspectorId:   actor.UserId,
			InspectorName: actor.UserName,
			QcStatus:      input.QcStatus,
			Defects:       defects,
			Remarks:       input.Remarks,
		}
		var err error
		if hasJob {
			result.ProductionJob, err = inspectProductionJob(ctx, tx, actor, *input.ProductionJobId, input.Stage, record)
		} else {
			err = inspectDeliveryNote(ctx, tx, actor, *input.DeliveryNoteId, record)
		}
		if err != nil {
			return err
		}

		if rework != nil {
			rework.QcRecordId = &record.ID
			if hasJob {
				rework.SourceProductionJobId = input.ProductionJobId
			} else {
				rework.SourceDeliveryNoteId = input.DeliveryNoteId
			}
			if err := createReworkJob(ctx, tx, actor, rework); err != nil {
				return err
			}
			record.ReworkJobId = &rework.ID
			// the record is immutable once written, so the link is set with a raw update
			if err := tx.Model(&QCRecord{}).Where("id = ? AND business_id = ?", record.ID, actor.BusinessId).
				UpdateColumn("rework_job_id", rework.ID).Error; err != nil {
				return err
			}
			result.Rework = rework
		}

		if record.QcStatus == QCStatusFail {
			target, targetId, link := "production job", 0, ""
			if hasJob {
				targetId = *input.ProductionJobId
				link = fmt.Sprintf("/production-jobs/%d", targetId)
			} else {
				target, targetId = "delivery note", *input.DeliveryNoteId
				link = fmt.Sprintf("/delivery-notes/%d", targetId)
			}
			notify(ctx, tx, actor, "qc_record", record.ID, NotificationFact{
				Type:    NotificationQCFail,
				Title:   "QC failed",
				Message: fmt.Sprintf("QC failed for %s #%d %s", target, targetId, record.Stage),
				Link:    link,
				Metadata: map[string]any{
					"qc_record_id":  record.ID,
					"target":        target,
					"target_id":     targetId,
					"stage":         record.Stage,
					"rework_job_id": record.ReworkJobId,
				},
			})
		}
		recordAudit(ctx, tx, actor, AuditActionInspect, "qc_record", record.ID, nil, record)
		result.Record = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func inspectProductionJob(ctx context.Context, tx *gorm.DB, actor appctx.Actor, jobId int, stage string, record *QCRecord) (*ProductionJob, error) {
	job, err := utils.FetchModelForUpdate[ProductionJob](ctx, tx, actor.BusinessId, "production job", jobId)
	if err != nil {
		return nil, err
	}
	if !job.Status.AcceptsQCFail() {
		return nil, utils.NewInvalidTransitionError("production job", string(job.Status), string(ProductionJobStatusRework), nil)
	}
	list, err := stageListOrNil(ctx, tx, actor.BusinessId)
	if err != nil {
		return nil, err
	}
	stage = strings.TrimSpace(stage)
	if stage == "" {
		stage = job.Stage
	}
	stage = list.Canonical(stage)

	var log ProductionStageLog
	if err := tx.WithContext(ctx).
		Where("business_id = ? AND production_job_id = ? AND stage = ?", actor.BusinessId, job.ID, stage).
		Order("id DESC").Limit(1).Find(&log).Error; err != nil {
		return nil, err
	}
	if log.ID == 0 {
		return nil, utils.NewValidationError("production job %d has not visited stage %s", job.ID, stage)
	}

	record.ProductionJobId = &job.ID
	record.Stage = stage
	record.StageLogId = &log.ID
	if err := tx.WithContext(ctx).Create(record).Error; err != nil {
		return nil, err
	}
	if err := tx.Model(&ProductionStageLog{}).Where("id = ? AND business_id = ?", log.ID, actor.BusinessId).
		Update("qc_status", record.QcStatus).Error; err != nil {
		return nil, err
	}

	if record.QcStatus != QCStatusFail {
		return job, nil
	}
	old := *job
	now := time.Now().UTC()
	note := fmt.Sprintf("QC FAIL (record #%d)", record.ID)
	if err := sendToRework(ctx, tx, job, now, note); err != nil {
		return nil, err
	}
	if err := saveJobState(ctx, tx, job); err != nil {
		return nil, err
	}
	recordAudit(ctx, tx, actor, AuditActionStatusChange, "production_job", job.ID, old, job, note)
	return job, nil
}

func inspectDeliveryNote(ctx context.Context, tx *gorm.DB, actor appctx.Actor, dnId int, record *QCRecord) error {
	dn, err := utils.FetchModelForUpdate[DeliveryNote](ctx, tx, actor.BusinessId, "delivery note", dnId)
	if err != nil {
		return err
	}
	if dn.Status == DeliveryNoteStatusCancelled {
		return utils.NewStateError("delivery note", string(dn.Status), "not CANCELLED")
	}
	record.DeliveryNoteId = &dn.ID
	return tx.WithContext(ctx).Create(record).Error
}

// latestQCFail returns the latest PASS/FAIL inspection matched by scope when it is a FAIL.
func latestQCFail(scope *gorm.DB) (*QCRecord, error) {
	var record QCRecord
	err := scope.Where("qc_status <> ?", QCStatusNA).Order("id DESC").Limit(1).Find(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 || record.QcStatus != QCStatusFail {
		return nil, nil
	}
	return &record, nil
}

// deliveryNoteQCBlocked reports whether the latest PASS/FAIL inspection of the note is a FAIL.
func deliveryNoteQCBlocked(ctx context.Context, tx *gorm.DB, businessId string, dnId int) (*QCRecord, error) {
	return latestQCFail(tx.WithContext(ctx).Model(&QCRecord{}).
		Where("business_id = ? AND delivery_note_id = ?", businessId, dnId))
}

// stageQCBlocked looks across every visit of the stage, so a fresh visit after rework still needs a PASS.
func stageQCBlocked(ctx context.Context, tx *gorm.DB, job *ProductionJob) (*QCRecord, error) {
	return latestQCFail(tx.WithContext(ctx).Model(&QCRecord{}).
		Where("business_id = ? AND production_job_id = ? AND stage = ?", job.BusinessId, job.ID, job.Stage))
}

func ListQCRecords(ctx context.Context, actor appctx.Actor, filter QCRecordFilter) ([]*QCRecord, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	q := config.GetDB().WithContext(actor.Scope(ctx)).Where("business_id = ?", actor.BusinessId)
	if filter.ProductionJobId != nil {
		q = q.Where("production_job_id = ?", *filter.ProductionJobId)
	}
	if filter.DeliveryNoteId != nil {
		q = q.Where("delivery_note_id = ?", *filter.DeliveryNoteId)
	}
	var records []*QCRecord
	if err := q.Order("id DESC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
