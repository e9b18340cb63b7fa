package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/factory_backend/appctx"
	"github.com/mmdatafocus/factory_backend/config"
	"github.com/mmdatafocus/factory_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type InventoryItem struct {
	ID               int             `gorm:"primary_key" json:"id"`
	BusinessId       string          `gorm:"size:64;not null;uniqueIndex:idx_inventory_item_code,priority:1" json:"business_id"`
	Code             string          `gorm:"size:64;not null;uniqueIndex:idx_inventory_item_code,priority:2" json:"code"`
	Name             string          `gorm:"size:255;not null" json:"name"`
	Unit             string          `gorm:"size:20" json:"unit"`
	AvailableQty     decimal.Decimal `gorm:"type:decimal(20,4);default:0;not null" json:"available_qty"`
	LastPurchaseRate decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"last_purchase_rate"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// StockTransaction is an append-only ledger row. Qty is always positive; Type carries the sign.
type StockTransaction struct {
	ID              int                  `gorm:"primary_key;index:idx_stock_txn_item,priority:3" json:"id"`
	BusinessId      string               `gorm:"size:64;not null;index:idx_stock_txn_item,priority:1" json:"business_id"`
	InventoryItemId int                  `gorm:"not null;index:idx_stock_txn_item,priority:2" json:"inventory_item_id"`
	Type            StockTransactionType `gorm:"size:10;not null" json:"type"`
	ReferenceType   StockReferenceType   `gorm:"size:20;not null;index:idx_stock_txn_ref,priority:1" json:"reference_type"`
	ReferenceId     int                  `gorm:"index:idx_stock_txn_ref,priority:2" json:"reference_id"`
	Qty             decimal.Decimal      `gorm:"type:decimal(20,4);not null" json:"qty"`
	BalanceAfter    decimal.Decimal      `gorm:"type:decimal(20,4);not null" json:"balance_after"`
	Remarks         string               `gorm:"size:512" json:"remarks"`
	CreatedBy       int                  `json:"created_by"`
	CreatedAt       time.Time            `gorm:"autoCreateTime" json:"created_at"`
}

func (StockTransaction) BeforeUpdate(tx *gorm.DB) error {
	return utils.ErrStockLedgerImmutable
}

func (StockTransaction) BeforeDelete(tx *gorm.DB) error {
	return utils.ErrStockLedgerImmutable
}

// StockEntry is a requested ledger movement.
type StockEntry struct {
	InventoryItemId int
	Type            StockTransactionType
	Qty             decimal.Decimal
	ReferenceType   StockReferenceType
	ReferenceId     int
	Remarks         string
	// OUT only: remove at most what is available instead of going negative.
	ClampAtZero bool
	// OUT only: reject instead of going negative.
	FailIfNegative bool
}

type PostedStock struct {
	Transaction  *StockTransaction
	Item         *InventoryItem
	RequestedQty decimal.Decimal
	Clamped      bool
}

// PostStockTransaction is the only writer of InventoryItem.AvailableQty. It locks the item row,
// appends the ledger row and sets AvailableQty to the same balance, all on tx.
func PostStockTransaction(ctx context.Context, tx *gorm.DB, actor appctx.Actor, entry StockEntry) (*PostedStock, error) {
	if entry.Type != StockTransactionTypeIn && entry.Type != StockTransactionTypeOut {
		return nil, utils.NewValidationError("invalid stock transaction type: %s", entry.Type)
	}
	if !entry.Qty.IsPositive() {
		return nil, utils.NewValidationError("stock qty must be greater than 0")
	}

	var item InventoryItem
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ?", actor.BusinessId).
		First(&item, entry.InventoryItemId).Error
	if err != nil {
		return nil, utils.NotFoundOr(err, "inventory item", entry.InventoryItemId)
	}

	prev := item.AvailableQty
	qty := entry.Qty
	clamped := false
	var balance decimal.Decimal
	remarks := entry.Remarks

	if entry.Type == StockTransactionTypeIn {
		balance = prev.Add(qty)
	} else {
		balance = prev.Sub(qty)
		if balance.IsNegative() {
			switch {
			case entry.ClampAtZero:
				qty = decimal.Max(prev, decimal.Zero)
				balance = prev.Sub(qty)
				clamped = true
				remarks = utils.AppendNote(remarks, fmt.Sprintf("clamped: requested %s, removed %s", entry.Qty.String(), qty.String()))
			case entry.FailIfNegative:
				return nil, utils.NewConflictError("insufficient stock for %s: available %s, requested %s", item.Code, prev.String(), entry.Qty.String())
			}
		}
	}

	if err := tx.WithContext(ctx).Model(&InventoryItem{}).
		Where("id = ? AND business_id = ?", item.ID, actor.BusinessId).
		Update("available_qty", balance).Error; err != nil {
		return nil, err
	}
	item.AvailableQty = balance

	txn := StockTransaction{
		BusinessId:      actor.BusinessId,
		InventoryItemId: item.ID,
		Type:            entry.Type,
		ReferenceType:   entry.ReferenceType,
		ReferenceId:     entry.ReferenceId,
		Qty:             qty,
		BalanceAfter:    balance,
		Remarks:         remarks,
		CreatedBy:       actor.UserId,
	}
	if err := tx.WithContext(ctx).Create(&txn).Error; err != nil {
		return nil, err
	}

	if clamped {
		config.GetLogger().WithFields(logrus.Fields{
			"field":             "PostStockTransaction",
			"business_id":       actor.BusinessId,
			"inventory_item_id": item.ID,
			"reference_type":    entry.ReferenceType,
			"reference_id":      entry.ReferenceId,
			"requested_qty":     entry.Qty.String(),
			"removed_qty":       qty.String(),
		}).Warn("stock out clamped at zero; ledger and physical count need reconciliation")
	}

	return &PostedStock{Transaction: &txn, Item: &item, RequestedQty: entry.Qty, Clamped: clamped}, nil
}

func stockLockKey(businessId string, itemId int) string {
	return fmt.Sprintf("StockLock:%s:%d", businessId, itemId)
}

// lockStockItems holds redis locks on the items for the duration of a ledger transaction.
func lockStockItems(ctx context.Context, businessId string, itemIds []int) (func(), error) {
	keys := make([]string, 0, len(itemIds))
	for _, id := range itemIds {
		if id > 0 {
			keys = append(keys, stockLockKey(businessId, id))
		}
	}
	return utils.ObtainLocks(ctx, keys, 30*time.Second)
}

// ---- replay ----

type LedgerDiscrepancy struct {
	TransactionId int             `json:"transaction_id"`
	Expected      decimal.Decimal `json:"expected"`
	Recorded      decimal.Decimal `json:"recorded"`
}

type LedgerVerification struct {
	BusinessId      string              `json:"business_id"`
	InventoryItemId int                 `json:"inventory_item_id"`
	ItemCode        string              `json:"item_code"`
	Entries         int                 `json:"entries"`
	ReplayedBalance decimal.Decimal     `json:"replayed_balance"`
	AvailableQty    decimal.Decimal     `json:"available_qty"`
	Discrepancies   []LedgerDiscrepancy `json:"discrepancies"`
}

func (v LedgerVerification) Consistent() bool {
	return len(v.Discrepancies) == 0 && v.ReplayedBalance.Equal(v.AvailableQty)
}

// ReplayStockTransactions applies txns in order from 0 and reports every row whose BalanceAfter
// differs from the replayed balance. Replay continues from the recorded value after a mismatch so
// one bad row is reported once.
func ReplayStockTransactions(txns []StockTransaction) (decimal.Decimal, []LedgerDiscrepancy) {
	balance := decimal.Zero
	var discrepancies []LedgerDiscrepancy
	for _, t := range txns {
		if t.Type == StockTransactionTypeIn {
			balance = balance.Add(t.Qty)
		} else {
			balance = balance.Sub(t.Qty)
		}
		if !balance.Equal(t.BalanceAfter) {
			discrepancies = append(discrepancies, LedgerDiscrepancy{
				TransactionId: t.ID,
				Expected:      balance,
				Recorded:      t.BalanceAfter,
			})
			balance = t.BalanceAfter
		}
	}
	return balance, discrepancies
}

func verifyItemLedger(ctx context.Context, tx *gorm.DB, item InventoryItem) (*LedgerVerification, error) {
	var txns []StockTransaction
	if err := tx.WithContext(ctx).
		Where("business_id = ? AND inventory_item_id = ?", item.BusinessId, item.ID).
		Order("id ASC").
		Find(&txns).Error; err != nil {
		return nil, err
	}
	final, discrepancies := ReplayStockTransactions(txns)
	return &LedgerVerification{
		BusinessId:      item.BusinessId,
		InventoryItemId: item.ID,
		ItemCode:        item.Code,
		Entries:         len(txns),
		ReplayedBalance: final,
		AvailableQty:    item.AvailableQty,
		Discrepancies:   discrepancies,
	}, nil
}

func VerifyStockLedger(ctx context.Context, actor appctx.Actor, itemId int) (*LedgerVerification, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	ctx = actor.Scope(ctx)
	db := config.GetDB()
	item, err := utils.FetchModel[InventoryItem](ctx, db, actor.BusinessId, "inventory item", itemId)
	if err != nil {
		return nil, err
	}
	return verifyItemLedger(ctx, db, *item)
}

// VerifyAllStockLedgers replays every item; an empty businessId covers all tenants.
func VerifyAllStockLedgers(ctx context.Context, db *gorm.DB, businessId string) ([]*LedgerVerification, error) {
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)
	q := db.WithContext(ctx).Order("business_id ASC, id ASC")
	if businessId != "" {
		q = q.Where("business_id = ?", businessId)
	}
	var items []InventoryItem
	if err := q.Find(&items).Error; err != nil {
		return nil, err
	}
	results := make([]*LedgerVerification, 0, len(items))
	for _, item := range items {
		v, err := verifyItemLedger(ctx, db, item)
		if err != nil {
			return nil, err
		}
		results = append(results, v)
	}
	return results, nil
}

// ---- item operations ----

type NewInventoryItem struct {
	Code             string           `json:"code" validate:"required,max=64"`
	Name             string           `json:"name" validate:"required,max=255"`
	Unit             string           `json:"unit" validate:"omitempty,max=20"`
	OpeningQty       *decimal.Decimal `json:"opening_qty"`
	LastPurchaseRate decimal.Decimal  `json:"last_purchase_rate"`
}

type ReceiveStockInput struct {
	Qty         decimal.Decimal  `json:"qty"`
	Rate        *decimal.Decimal `json:"rate"`
	ReferenceId int              `json:"reference_id"`
	Remarks     string           `json:"remarks" validate:"omitempty,max=512"`
}

type AdjustStockInput struct {
	Type   StockTransactionType `json:"type" validate:"required"`
	Qty    decimal.Decimal      `json:"qty"`
	Reason string               `json:"reason" validate:"required,max=512"`
}

func CreateInventoryItem(ctx context.Context, actor appctx.Actor, input *NewInventoryItem) (*InventoryItem, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if input.OpeningQty != nil && input.OpeningQty.IsNegative() {
		return nil, utils.NewValidationError("opening qty cannot be negative")
	}
	if input.LastPurchaseRate.IsNegative() {
		return nil, utils.NewValidationError("last purchase rate cannot be negative")
	}
	ctx = actor.Scope(ctx)
	db := config.GetDB()
	code := strings.TrimSpace(input.Code)
	if err := utils.ValidateUnique[InventoryItem](ctx, db, actor.BusinessId, "code", code, nil); err != nil {
		return nil, err
	}

	item := InventoryItem{
		BusinessId:       actor.BusinessId,
		Code:             code,
		Name:             strings.TrimSpace(input.Name),
		Unit:             input.Unit,
		AvailableQty:     decimal.Zero,
		LastPurchaseRate: input.LastPurchaseRate,
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&item).Error; err != nil {
			if utils.IsDuplicateKeyErr(err) {
				return utils.NewConflictError("duplicate code: %s", code)
			}
			return err
		}
		if input.OpeningQty != nil && input.OpeningQty.IsPositive() {
			posted, err := PostStockTransaction(ctx, tx, actor, StockEntry{
				InventoryItemId: item.ID,
				Type:            StockTransactionTypeIn,
				Qty:             *input.OpeningQty,
				ReferenceType:   StockReferenceAdjust,
				ReferenceId:     item.ID,
				Remarks:         "opening stock",
			})
			if err != nil {
				return err
			}
			item.AvailableQty = posted.Item.AvailableQty
		}
		recordAudit(ctx, tx, actor, AuditActionCreate, "inventory_item", item.ID, nil, item)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func GetInventoryItem(ctx context.Context, actor appctx.Actor, id int) (*InventoryItem, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	return utils.FetchModel[InventoryItem](actor.Scope(ctx), config.GetDB(), actor.BusinessId, "inventory item", id)
}

func ListInventoryItems(ctx context.Context, actor appctx.Actor, search string) ([]*InventoryItem, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	search = strings.TrimSpace(search)
	if search == "" {
		return utils.FetchAllModels[InventoryItem](actor.Scope(ctx), config.GetDB(), actor.BusinessId, config.SearchLimit, "")
	}
	like := "%" + search + "%"
	return utils.FetchAllModels[InventoryItem](actor.Scope(ctx), config.GetDB(), actor.BusinessId, config.SearchLimit,
		"code LIKE ? OR name LIKE ?", like, like)
}

// ReceiveStock books a goods receipt (GRN) and remembers the purchase rate.
func ReceiveStock(ctx context.Context, actor appctx.Actor, itemId int, input *ReceiveStockInput) (*StockTransaction, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if !input.Qty.IsPositive() {
		return nil, utils.NewValidationError("qty must be greater than 0")
	}
	if input.Rate != nil && input.Rate.IsNegative() {
		return nil, utils.NewValidationError("rate cannot be negative")
	}
	ctx = actor.Scope(ctx)
	release, err := lockStockItems(ctx, actor.BusinessId, []int{itemId})
	if err != nil {
		return nil, err
	}
	defer release()

	var result *StockTransaction
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		posted, err := PostStockTransaction(ctx, tx, actor, StockEntry{
			InventoryItemId: itemId,
			Type:            StockTransactionTypeIn,
			Qty:             input.Qty,
			ReferenceType:   StockReferenceGRN,
			ReferenceId:     input.ReferenceId,
			Remarks:         input.Remarks,
		})
		if err != nil {
			return err
		}
		if input.Rate != nil && input.Rate.IsPositive() {
			if err := tx.Model(&InventoryItem{}).
				Where("id = ? AND business_id = ?", itemId, actor.BusinessId).
				Update("last_purchase_rate", *input.Rate).Error; err != nil {
				return err
			}
		}
		result = posted.Transaction
		recordAudit(ctx, tx, actor, AuditActionStockPost, "inventory_item", itemId, nil, posted.Transaction)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AdjustStock books a manual correction; an OUT adjustment never takes stock below zero.
func AdjustStock(ctx context.Context, actor appctx.Actor, itemId int, input *AdjustStockInput) (*StockTransaction, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if !input.Qty.IsPositive() {
		return nil, utils.NewValidationError("qty must be greater than 0")
	}
	ctx = actor.Scope(ctx)
	release, err := lockStockItems(ctx, actor.BusinessId, []int{itemId})
	if err != nil {
		return nil, err
	}
	defer release()

	var result *StockTransaction
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		posted, err := PostStockTransaction(ctx, tx, actor, StockEntry{
			InventoryItemId: itemId,
			Type:            input.Type,
			Qty:             input.Qty,
			ReferenceType:   StockReferenceAdjust,
			ReferenceId:     itemId,
			Remarks:         input.Reason,
			FailIfNegative:  true,
		})
		if err != nil {
			return err
		}
		result = posted.Transaction
		recordAudit(ctx, tx, actor, AuditActionStockPost, "inventory_item", itemId, nil, posted.Transaction, input.Reason)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func ListStockTransactions(ctx context.Context, actor appctx.Actor, itemId int) ([]*StockTransaction, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	ctx = actor.Scope(ctx)
	db := config.GetDB()
	if err := utils.ValidateResourceId[InventoryItem](ctx, db, actor.BusinessId, "inventory item", itemId); err != nil {
		return nil, err
	}
	var txns []*StockTransaction
	if err := db.WithContext(ctx).
		Where("business_id = ? AND inventory_item_id = ?", actor.BusinessId, itemId).
		Order("id ASC").
		Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

func FindInventoryItemsByIds(ctx context.Context, businessId string, ids []int) ([]*InventoryItem, error) {
	var items []*InventoryItem
	if err := config.GetDB().WithContext(ctx).
		Where("business_id = ? AND id IN ?", businessId, ids).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
