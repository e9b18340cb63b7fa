package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/factory_backend/appctx"
	"github.com/mmdatafocus/factory_backend/config"
	"github.com/mmdatafocus/factory_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Outbox publish statuses for OutboxEvent.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// OutboxEvent is a fact for an external sink, written in the same transaction as the change it
// describes and published after commit by workflow.OutboxDispatcher.
type OutboxEvent struct {
	ID               int            `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	EventId          string         `gorm:"size:64;uniqueIndex;not null" json:"event_id"`
	BusinessId       string         `gorm:"size:64;not null;index" json:"business_id"`
	Sink             string         `gorm:"size:20;not null;index" json:"sink"`
	EventType        string         `gorm:"size:50;not null" json:"event_type"`
	EntityType       string         `gorm:"size:50" json:"entity_type"`
	EntityId         int            `json:"entity_id"`
	Payload          datatypes.JSON `json:"payload"`
	PublishStatus    string         `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"`
	PublishedAt      *time.Time     `json:"published_at"`
	MessageId        *string        `gorm:"size:255" json:"message_id"`
	PublishAttempts  int            `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time     `gorm:"index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time     `json:"locked_at"`
	LockedBy         *string        `gorm:"size:100" json:"locked_by"`
	LastPublishError *string        `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string         `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

type AuditFact struct {
	TenantId   string          `json:"tenant_id"`
	UserId     int             `json:"user_id"`
	UserName   string          `json:"user_name,omitempty"`
	Action     AuditAction     `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityId   int             `json:"entity_id"`
	OldData    json.RawMessage `json:"old_data,omitempty"`
	NewData    json.RawMessage `json:"new_data,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

type NotificationFact struct {
	TenantId string           `json:"tenant_id"`
	Type     NotificationType `json:"type"`
	Title    string           `json:"title"`
	Message  string           `json:"message"`
	Link     string           `json:"link"`
	Metadata map[string]any   `json:"metadata,omitempty"`
}

type CreditNoteLine struct {
	InventoryItemId int    `json:"inventory_item_id"`
	Qty             string `json:"qty"`
	Rate            string `json:"rate"`
	Amount          string `json:"amount"`
	Description     string `json:"description,omitempty"`
}

type CreditNoteFact struct {
	TenantId       string           `json:"tenant_id"`
	ReturnRecordId int              `json:"return_record_id"`
	InvoiceId      int              `json:"invoice_id"`
	ClientId       int              `json:"client_id"`
	Outcome        ReturnOutcome    `json:"outcome"`
	Amount         string           `json:"amount"`
	Lines          []CreditNoteLine `json:"lines"`
}

const outboxSavepoint = "outbox_enqueue"

// enqueueOutbox writes ev under a savepoint of tx. A failure rolls back to the savepoint and is
// logged; it never fails the caller's transaction.
func enqueueOutbox(ctx context.Context, tx *gorm.DB, ev *OutboxEvent) {
	logger := config.GetLogger()
	if ev.EventId == "" {
		ev.EventId = uuid.NewString()
	}
	if ev.CorrelationId == "" {
		ev.CorrelationId = correlationIdFromContextOrNew(ctx)
	}
	ev.PublishStatus = OutboxPublishStatusPending

	if err := tx.SavePoint(outboxSavepoint).Error; err != nil {
		config.LogError(logger, "outbox.go", "enqueueOutbox", "savepoint", ev.EventType, err)
		return
	}
	if err := tx.WithContext(ctx).Create(ev).Error; err != nil {
		if rbErr := tx.RollbackTo(outboxSavepoint).Error; rbErr != nil {
			config.LogError(logger, "outbox.go", "enqueueOutbox", "rollback to savepoint", ev.EventType, rbErr)
		}
		logger.WithFields(logrus.Fields{
			"field":       "enqueueOutbox",
			"business_id": ev.BusinessId,
			"sink":        ev.Sink,
			"event_type":  ev.EventType,
		}).Warn("outbox enqueue failed; continuing without it: " + err.Error())
	}
}

func marshalOrNil(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		config.LogError(config.GetLogger(), "outbox.go", "marshalOrNil", "json.Marshal", nil, err)
		return nil
	}
	return b
}

// recordAudit enqueues one audit fact for a successful state change.
func recordAudit(ctx context.Context, tx *gorm.DB, actor appctx.Actor, action AuditAction, entityType string, entityId int, oldData any, newData any, reason ...string) {
	fact := AuditFact{
		TenantId:   actor.BusinessId,
		UserId:     actor.UserId,
		UserName:   actor.UserName,
		Action:     action,
		EntityType: entityType,
		EntityId:   entityId,
		OldData:    marshalOrNil(oldData),
		NewData:    marshalOrNil(newData),
		OccurredAt: time.Now().UTC(),
	}
	if len(reason) > 0 {
		fact.Reason = reason[0]
	}
	enqueueOutbox(ctx, tx, &OutboxEvent{
		BusinessId: actor.BusinessId,
		Sink:       config.SinkAudit,
		EventType:  string(action),
		EntityType: entityType,
		EntityId:   entityId,
		Payload:    datatypes.JSON(marshalOrNil(fact)),
	})
}

func notify(ctx context.Context, tx *gorm.DB, actor appctx.Actor, entityType string, entityId int, fact NotificationFact) {
	fact.TenantId = actor.BusinessId
	enqueueOutbox(ctx, tx, &OutboxEvent{
		BusinessId: actor.BusinessId,
		Sink:       config.SinkNotification,
		EventType:  string(fact.Type),
		EntityType: entityType,
		EntityId:   entityId,
		Payload:    datatypes.JSON(marshalOrNil(fact)),
	})
}

func emitCreditNote(ctx context.Context, tx *gorm.DB, actor appctx.Actor, fact CreditNoteFact) {
	fact.TenantId = actor.BusinessId
	enqueueOutbox(ctx, tx, &OutboxEvent{
		BusinessId: actor.BusinessId,
		Sink:       config.SinkFinance,
		EventType:  "CREDIT_NOTE",
		EntityType: "return_record",
		EntityId:   fact.ReturnRecordId,
		Payload:    datatypes.JSON(marshalOrNil(fact)),
	})
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

// ListOutboxEvents returns the tenant's events, oldest first, optionally filtered by sink.
func ListOutboxEvents(ctx context.Context, actor appctx.Actor, sink string) ([]*OutboxEvent, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	q := config.GetDB().WithContext(actor.Scope(ctx)).Where("business_id = ?", actor.BusinessId)
	if sink != "" {
		q = q.Where("sink = ?", sink)
	}
	var events []*OutboxEvent
	if err := q.Order("id ASC").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// ReplayOutboxEvent re-queues a FAILED or DEAD event for immediate publishing.
func ReplayOutboxEvent(ctx context.Context, businessId string, id int) (*OutboxEvent, error) {
	db := config.GetDB()
	var ev OutboxEvent
	if err := db.WithContext(ctx).Where("business_id = ?", businessId).First(&ev, id).Error; err != nil {
		return nil, utils.NotFoundOr(err, "outbox event", id)
	}
	if ev.PublishStatus != OutboxPublishStatusDead && ev.PublishStatus != OutboxPublishStatusFailed {
		return nil, utils.NewStateError("outbox event", ev.PublishStatus, OutboxPublishStatusDead, OutboxPublishStatusFailed)
	}
	now := time.Now().UTC()
	if err := db.WithContext(ctx).Model(&OutboxEvent{}).
		Where("id = ? AND business_id = ?", id, businessId).
		Updates(map[string]interface{}{
			"publish_status":     OutboxPublishStatusFailed,
			"publish_attempts":   0,
			"next_attempt_at":    &now,
			"locked_at":          nil,
			"locked_by":          nil,
			"last_publish_error": nil,
		}).Error; err != nil {
		return nil, err
	}
	ev.PublishStatus = OutboxPublishStatusFailed
	ev.PublishAttempts = 0
	ev.NextAttemptAt = &now
	return &ev, nil
}
