package models

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mmdatafocus/factory_backend/appctx"
	"github.com/mmdatafocus/factory_backend/config"
	"github.com/mmdatafocus/factory_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ReturnRecord struct {
	ID                int             `gorm:"primary_key" json:"id"`
	BusinessId        string          `gorm:"size:64;not null;index" json:"business_id"`
	DeliveryNoteId    int             `gorm:"not null;index" json:"delivery_note_id"`
	ClientId          int             `gorm:"not null;index" json:"client_id"`
	InvoiceId         *int            `json:"invoice_id"`
	Reason            string          `gorm:"type:text" json:"reason"`
	Status            ReturnStatus    `gorm:"size:20;not null;index" json:"status"`
	Outcome           *ReturnOutcome  `gorm:"size:20" json:"outcome"`
	InspectedBy       *int            `json:"inspected_by"`
	InspectedAt       *time.Time      `json:"inspected_at"`
	InspectionRemarks string          `gorm:"type:text" json:"inspection_remarks"`
	ReworkJobId       *int            `json:"rework_job_id"`
	CreditNoteAmount  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"credit_note_amount"`
	CreatedBy         int             `json:"created_by"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	Items             []ReturnItem    `gorm:"foreignKey:ReturnRecordId" json:"items,omitempty"`
}

type ReturnItem struct {
	ID                 int             `gorm:"primary_key" json:"id"`
	BusinessId         string          `gorm:"size:64;not null;index" json:"business_id"`
	ReturnRecordId     int             `gorm:"not null;index" json:"return_record_id"`
	DeliveryNoteItemId int             `gorm:"not null;index" json:"delivery_note_item_id"`
	InventoryItemId    *int            `json:"inventory_item_id"`
	Qty                decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
}

// WastageRecord keeps the scrapped quantity as inspected, even when the ledger entry was clamped.
type WastageRecord struct {
	ID                 int             `gorm:"primary_key" json:"id"`
	BusinessId         string          `gorm:"size:64;not null;index" json:"business_id"`
	ReturnRecordId     int             `gorm:"not null;index" json:"return_record_id"`
	InventoryItemId    int             `gorm:"not null;index" json:"inventory_item_id"`
	Qty                decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
	Reason             string          `gorm:"size:512" json:"reason"`
	StockTransactionId *int            `json:"stock_transaction_id"`
	CreatedBy          int             `json:"created_by"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewReturnItem struct {
	DeliveryNoteItemId int             `json:"delivery_note_item_id" validate:"required,gt=0"`
	Qty                decimal.Decimal `json:"qty"`
}

type NewReturnRecord struct {
	DeliveryNoteId int             `json:"delivery_note_id" validate:"required,gt=0"`
	InvoiceId      *int            `json:"invoice_id"`
	Reason         string          `json:"reason" validate:"required,max=2000"`
	Items          []NewReturnItem `json:"items" validate:"required,min=1,dive"`
}

type InspectReturnInput struct {
	Outcome             ReturnOutcome    `json:"outcome" validate:"required"`
	Remarks             string           `json:"remarks" validate:"omitempty,max=2000"`
	ReworkAssigneeId    *int             `json:"rework_assignee_id"`
	ReworkExpectedHours *decimal.Decimal `json:"rework_expected_hours"`
}

type ReturnFilter struct {
	Status         *ReturnStatus `form:"status"`
	DeliveryNoteId *int          `form:"delivery_note_id"`
}

// CreateReturn claims delivered lines back. Each line may claim at most what was loaded minus what
// earlier returns already claimed; a note whose every loaded line is fully claimed becomes RETURNED.
func CreateReturn(ctx context.Context, actor appctx.Actor, input *NewReturnRecord) (*ReturnRecord, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	for i, line := range input.Items {
		if !line.Qty.IsPositive() {
			return nil, utils.NewValidationError("items[%d]: qty must be greater than 0", i)
		}
	}
	ctx = actor.Scope(ctx)

	var record ReturnRecord
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dn, err := lockDeliveryNote(ctx, tx, actor, input.DeliveryNoteId)
		if err != nil {
			return err
		}
		if dn.Status != DeliveryNoteStatusDelivered {
			return utils.NewStateError("delivery note", string(dn.Status), string(DeliveryNoteStatusDelivered))
		}
		items, err := deliveryNoteItems(ctx, tx, actor.BusinessId, dn.ID)
		if err != nil {
			return err
		}

		record = ReturnRecord{
			BusinessId:       actor.BusinessId,
			DeliveryNoteId:   dn.ID,
			ClientId:         dn.ClientId,
			InvoiceId:        input.InvoiceId,
			Reason:           strings.TrimSpace(input.Reason),
			Status:           ReturnStatusPending,
			CreditNoteAmount: decimal.Zero,
			CreatedBy:        actor.UserId,
		}
		touched := map[int]bool{}
		for _, line := range input.Items {
			i, ok := findDeliveryNoteItem(items, line.DeliveryNoteItemId)
			if !ok {
				return utils.NewNotFoundError("delivery note item", line.DeliveryNoteItemId)
			}
			returnable := items[i].LoadedQty.Sub(items[i].ReturnedQty)
			if line.Qty.GreaterThan(returnable) {
				return utils.NewValidationError("item %d: return qty %s exceeds returnable qty %s",
					line.DeliveryNoteItemId, line.Qty.String(), returnable.String())
			}
			items[i].ReturnedQty = items[i].ReturnedQty.Add(line.Qty)
			touched[i] = true
			record.Items = append(record.Items, ReturnItem{
				BusinessId:         actor.BusinessId,
				DeliveryNoteItemId: line.DeliveryNoteItemId,
				InventoryItemId:    items[i].InventoryItemId,
				Qty:                line.Qty,
			})
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		for i := range touched {
			if err := tx.Model(&DeliveryNoteItem{}).Where("id = ? AND business_id = ?", items[i].ID, actor.BusinessId).
				Update("returned_qty", items[i].ReturnedQty).Error; err != nil {
				return err
			}
		}
		if fullyReturned(items) {
			old := *dn
			dn.Status = DeliveryNoteStatusReturned
			if err := tx.Model(&DeliveryNote{}).Where("id = ? AND business_id = ?", dn.ID, actor.BusinessId).
				Update("status", dn.Status).Error; err != nil {
				return err
			}
			recordAudit(ctx, tx, actor, AuditActionStatusChange, "delivery_note", dn.ID, old, dn)
		}

		recordAudit(ctx, tx, actor, AuditActionCreate, "return_record", record.ID, nil, record)
		notify(ctx, tx, actor, "return_record", record.ID, NotificationFact{
			Type:    NotificationReturnCreated,
			Title:   "Return created",
			Message: fmt.Sprintf("Return #%d created for delivery note %s", record.ID, dn.DeliveryNumber),
			Link:    fmt.Sprintf("/returns/%d", record.ID),
			Metadata: map[string]any{
				"return_record_id": record.ID,
				"delivery_note_id": dn.ID,
				"client_id":        dn.ClientId,
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func fullyReturned(items []DeliveryNoteItem) bool {
	loaded := 0
	for _, item := range items {
		if !item.LoadedQty.IsPositive() {
			continue
		}
		loaded++
		if item.ReturnedQty.LessThan(item.LoadedQty) {
			return false
		}
	}
	return loaded > 0
}

func returnItems(ctx context.Context, tx *gorm.DB, businessId string, returnId int) ([]ReturnItem, error) {
	var items []ReturnItem
	err := tx.WithContext(ctx).
		Where("business_id = ? AND return_record_id = ?", businessId, returnId).
		Order("id ASC").
		Find(&items).Error
	return items, err
}

// InspectReturn decides a PENDING return once. SCRAP and ACCEPT_RETURN post ledger entries for
// every line with an inventory item; REWORK opens a rework job on the delivery note.
func InspectReturn(ctx context.Context, actor appctx.Actor, id int, input *InspectReturnInput) (*ReturnRecord, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if !containsEnum(returnOutcomes, input.Outcome) {
		return nil, utils.NewValidationError("invalid return outcome: %s", input.Outcome)
	}
	if input.ReworkExpectedHours != nil && input.ReworkExpectedHours.IsNegative() {
		return nil, utils.NewValidationError("rework expected hours cannot be negative")
	}
	ctx = actor.Scope(ctx)
	db := config.GetDB()

	preview, err := returnItems(ctx, db, actor.BusinessId, id)
	if err != nil {
		return nil, err
	}
	itemIds := make([]int, 0, len(preview))
	for _, item := range preview {
		if item.InventoryItemId != nil {
			itemIds = append(itemIds, *item.InventoryItemId)
		}
	}
	release, err := lockStockItems(ctx, actor.BusinessId, itemIds)
	if err != nil {
		return nil, err
	}
	defer release()

	var record *ReturnRecord
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		record, err = utils.FetchModelForUpdate[ReturnRecord](ctx, tx, actor.BusinessId, "return", id)
		if err != nil {
			return err
		}
		if record.Status != ReturnStatusPending {
			return utils.ErrAlreadyInspected
		}
		old := *record
		items, err := returnItems(ctx, tx, actor.BusinessId, id)
		if err != nil {
			return err
		}
		sort.SliceStable(items, func(a, b int) bool {
			return utils.DereferencePtr(items[a].InventoryItemId) < utils.DereferencePtr(items[b].InventoryItemId)
		})

		var credit []CreditNoteLine
		total := decimal.Zero
		addCredit := func(item *InventoryItem, qty decimal.Decimal) {
			if !item.LastPurchaseRate.IsPositive() {
				return
			}
			amount := item.LastPurchaseRate.Mul(qty).Round(4)
			total = total.Add(amount)
			credit = append(credit, CreditNoteLine{
				InventoryItemId: item.ID,
				Qty:             qty.String(),
				Rate:            item.LastPurchaseRate.String(),
				Amount:          amount.String(),
				Description:     item.Name,
			})
		}

		switch input.Outcome {
		case ReturnOutcomeRework:
			rework := &ReworkJob{
				SourceDeliveryNoteId: &record.DeliveryNoteId,
				ReturnRecordId:       &record.ID,
				AssigneeId:           input.ReworkAssigneeId,
				Description:          utils.AppendNote(record.Reason, input.Remarks),
				ExpectedHours:        utils.DereferencePtr(input.ReworkExpectedHours, decimal.Zero),
				ActualHours:          decimal.Zero,
			}
			if err := createReworkJob(ctx, tx, actor, rework); err != nil {
				return err
			}
			record.ReworkJobId = &rework.ID

		case ReturnOutcomeScrap:
			strict := config.StrictScrapLedger()
			for _, item := range items {
				if item.InventoryItemId == nil {
					continue
				}
				posted, err := PostStockTransaction(ctx, tx, actor, StockEntry{
					InventoryItemId: *item.InventoryItemId,
					Type:            StockTransactionTypeOut,
					Qty:             item.Qty,
					ReferenceType:   StockReferenceReturn,
					ReferenceId:     record.ID,
					Remarks:         "scrap",
					ClampAtZero:     !strict,
					FailIfNegative:  strict,
				})
				if err != nil {
					return err
				}
				wastage := WastageRecord{
					BusinessId:         actor.BusinessId,
					ReturnRecordId:     record.ID,
					InventoryItemId:    *item.InventoryItemId,
					Qty:                item.Qty,
					Reason:             record.Reason,
					StockTransactionId: &posted.Transaction.ID,
					CreatedBy:          actor.UserId,
				}
				if err := tx.Create(&wastage).Error; err != nil {
					return err
				}
				if posted.Clamped {
					notify(ctx, tx, actor, "inventory_item", posted.Item.ID, NotificationFact{
						Type:  NotificationStockReconciliation,
						Title: "Stock needs reconciliation",
						Message: fmt.Sprintf("Scrap of %s %s on return #%d removed only %s",
							item.Qty.String(), posted.Item.Code, record.ID, posted.Transaction.Qty.String()),
						Link: fmt.Sprintf("/inventory-items/%d/transactions", posted.Item.ID),
						Metadata: map[string]any{
							"inventory_item_id":    posted.Item.ID,
							"return_record_id":     record.ID,
							"requested_qty":        item.Qty.String(),
							"removed_qty":          posted.Transaction.Qty.String(),
							"stock_transaction_id": posted.Transaction.ID,
						},
					})
				}
				addCredit(posted.Item, item.Qty)
			}

		case ReturnOutcomeAcceptReturn:
			for _, item := range items {
				if item.InventoryItemId == nil {
					continue
				}
				posted, err := PostStockTransaction(ctx, tx, actor, StockEntry{
					InventoryItemId: *item.InventoryItemId,
					Type:            StockTransactionTypeIn,
					Qty:             item.Qty,
					ReferenceType:   StockReferenceReturn,
					ReferenceId:     record.ID,
					Remarks:         "return accepted",
				})
				if err != nil {
					return err
				}
				addCredit(posted.Item, item.Qty)
			}
		}

		if record.InvoiceId != nil && total.IsPositive() {
			record.CreditNoteAmount = total
			emitCreditNote(ctx, tx, actor, CreditNoteFact{
				ReturnRecordId: record.ID,
				InvoiceId:      *record.InvoiceId,
				ClientId:       record.ClientId,
				Outcome:        input.Outcome,
				Amount:         total.String(),
				Lines:          credit,
			})
		}

		now := time.Now().UTC()
		outcome := input.Outcome
		record.Status = ReturnStatusInspected
		record.Outcome = &outcome
		record.InspectedBy = &actor.UserId
		record.InspectedAt = &now
		record.InspectionRemarks = input.Remarks
		if err := tx.Model(&ReturnRecord{}).Where("id = ? AND business_id = ?", id, actor.BusinessId).
			Updates(map[string]interface{}{
				"status":             record.Status,
				"outcome":            outcome,
				"inspected_by":       actor.UserId,
				"inspected_at":       now,
				"inspection_remarks": record.InspectionRemarks,
				"rework_job_id":      record.ReworkJobId,
				"credit_note_amount": record.CreditNoteAmount,
			}).Error; err != nil {
			return err
		}
		record.Items = items
		recordAudit(ctx, tx, actor, AuditActionInspect, "return_record", id, old, record)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func GetReturn(ctx context.Context, actor appctx.Actor, id int) (*ReturnRecord, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	var record ReturnRecord
	err := config.GetDB().WithContext(actor.Scope(ctx)).
		Preload("Items", func(tx *gorm.DB) *gorm.DB { return tx.Order("id ASC") }).
		Where("business_id = ?", actor.BusinessId).
		First(&record, id).Error
	if err != nil {
		return nil, utils.NotFoundOr(err, "return", id)
	}
	return &record, nil
}

func ListReturns(ctx context.Context, actor appctx.Actor, filter ReturnFilter) ([]*ReturnRecord, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	q := config.GetDB().WithContext(actor.Scope(ctx)).
		Preload("Items", func(tx *gorm.DB) *gorm.DB { return tx.Order("id ASC") }).
		Where("business_id = ?", actor.BusinessId)
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	if filter.DeliveryNoteId != nil {
		q = q.Where("delivery_note_id = ?", *filter.DeliveryNoteId)
	}
	var records []*ReturnRecord
	if err := q.Order("id DESC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func ListWastageRecords(ctx context.Context, actor appctx.Actor, returnId int) ([]*WastageRecord, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	return utils.FetchAllModels[WastageRecord](actor.Scope(ctx), config.GetDB(), actor.BusinessId, 0, "return_record_id = ?", returnId)
}
