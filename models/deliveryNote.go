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

type DeliveryNote struct {
	ID              int                      `gorm:"primary_key" json:"id"`
	BusinessId      string                   `gorm:"size:64;not null;index;uniqueIndex:idx_delivery_note_seq,priority:1" json:"business_id"`
	SequenceNo      int                      `gorm:"not null;uniqueIndex:idx_delivery_note_seq,priority:2" json:"sequence_no"`
	DeliveryNumber  string                   `gorm:"size:32;not null" json:"delivery_number"`
	ProjectId       int                      `gorm:"not null;index" json:"project_id"`
	ClientId        int                      `gorm:"not null;index" json:"client_id"`
	Address         string                   `gorm:"size:512;not null" json:"address"`
	Status          DeliveryNoteStatus       `gorm:"size:20;not null;index" json:"status"`
	VehicleId       *int                     `gorm:"index" json:"vehicle_id"`
	DriverId        *int                     `gorm:"index" json:"driver_id"`
	DispatchedAt    *time.Time               `json:"dispatched_at"`
	DeliveredAt     *time.Time               `json:"delivered_at"`
	CancelledAt     *time.Time               `json:"cancelled_at"`
	Remarks         string                   `gorm:"type:text" json:"remarks"`
	LoadingPhotos   DocumentRefs             `json:"loading_photos"`
	CreatedBy       int                      `json:"created_by"`
	CreatedAt       time.Time                `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time                `gorm:"autoUpdateTime" json:"updated_at"`
	Items           []DeliveryNoteItem       `gorm:"foreignKey:DeliveryNoteId" json:"items,omitempty"`
	Tracking        []DeliveryTracking       `gorm:"foreignKey:DeliveryNoteId" json:"tracking,omitempty"`
	Acknowledgement *DeliveryAcknowledgement `gorm:"foreignKey:DeliveryNoteId" json:"acknowledgement,omitempty"`
}

// DeliveryNoteItem keeps 0 <= DeliveredQty <= LoadedQty <= Qty.
type DeliveryNoteItem struct {
	ID              int             `gorm:"primary_key" json:"id"`
	BusinessId      string          `gorm:"size:64;not null;index" json:"business_id"`
	DeliveryNoteId  int             `gorm:"not null;index" json:"delivery_note_id"`
	InventoryItemId *int            `gorm:"index" json:"inventory_item_id"`
	ProductionJobId *int            `gorm:"index" json:"production_job_id"`
	Description     string          `gorm:"size:255" json:"description"`
	Qty             decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
	LoadedQty       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"loaded_qty"`
	DeliveredQty    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"delivered_qty"`
	ReturnedQty     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"returned_qty"`
}

type DeliveryTracking struct {
	ID             int              `gorm:"primary_key" json:"id"`
	BusinessId     string           `gorm:"size:64;not null;index" json:"business_id"`
	DeliveryNoteId int              `gorm:"not null;index" json:"delivery_note_id"`
	Latitude       *decimal.Decimal `gorm:"type:decimal(10,7)" json:"latitude"`
	Longitude      *decimal.Decimal `gorm:"type:decimal(10,7)" json:"longitude"`
	Location       string           `gorm:"size:255" json:"location"`
	Remarks        string           `gorm:"size:512" json:"remarks"`
	RecordedBy     int              `json:"recorded_by"`
	CreatedAt      time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

type DeliveryAcknowledgement struct {
	ID             int          `gorm:"primary_key" json:"id"`
	BusinessId     string       `gorm:"size:64;not null;index" json:"business_id"`
	DeliveryNoteId int          `gorm:"not null;uniqueIndex" json:"delivery_note_id"`
	ReceivedBy     string       `gorm:"size:100" json:"received_by"`
	Remarks        string       `gorm:"size:512" json:"remarks"`
	Photos         DocumentRefs `json:"photos"`
	AcknowledgedAt time.Time    `json:"acknowledged_at"`
	CreatedAt      time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewDeliveryNoteItem struct {
	InventoryItemId *int            `json:"inventory_item_id"`
	ProductionJobId *int            `json:"production_job_id"`
	Description     string          `json:"description" validate:"omitempty,max=255"`
	Qty             decimal.Decimal `json:"qty"`
}

type NewDeliveryNote struct {
	ProjectId int                   `json:"project_id" validate:"required,gt=0"`
	ClientId  int                   `json:"client_id" validate:"required,gt=0"`
	Address   string                `json:"address" validate:"required,max=512"`
	Remarks   string                `json:"remarks"`
	Items     []NewDeliveryNoteItem `json:"items" validate:"required,min=1,dive"`
}

type LoadLine struct {
	ItemId    int             `json:"item_id" validate:"required,gt=0"`
	LoadedQty decimal.Decimal `json:"loaded_qty"`
}

type LoadDeliveryNoteInput struct {
	Items   []LoadLine `json:"items" validate:"required,min=1,dive"`
	Photos  []string   `json:"photos"`
	Remarks string     `json:"remarks"`
}

type AssignVehicleInput struct {
	VehicleId int  `json:"vehicle_id" validate:"required,gt=0"`
	DriverId  *int `json:"driver_id"`
}

type NewDeliveryTracking struct {
	Latitude  *decimal.Decimal `json:"latitude"`
	Longitude *decimal.Decimal `json:"longitude"`
	Location  string           `json:"location" validate:"omitempty,max=255"`
	Remarks   string           `json:"remarks" validate:"omitempty,max=512"`
}

type DeliverLine struct {
	ItemId       int              `json:"item_id" validate:"required,gt=0"`
	DeliveredQty *decimal.Decimal `json:"delivered_qty"`
}

type DeliverDeliveryNoteInput struct {
	Items      []DeliverLine `json:"items" validate:"omitempty,dive"`
	ReceivedBy string        `json:"received_by" validate:"omitempty,max=100"`
	Remarks    string        `json:"remarks" validate:"omitempty,max=512"`
	Photos     []string      `json:"photos"`
}

type DeliveryNoteFilter struct {
	Status    *DeliveryNoteStatus `form:"status"`
	ProjectId *int                `form:"project_id"`
	VehicleId *int                `form:"vehicle_id"`
}

func inFlightDeliveryStatuses() []DeliveryNoteStatus {
	return deliveryNoteInFlight
}

func deliveryNumberKey(businessId string) string {
	return "DeliveryNoteSeq:" + businessId
}

// nextDeliveryNumber allocates the tenant's next DN sequence. The redis counter keeps concurrent
// creators apart; the unique index on (business_id, sequence_no) is the final word.
func nextDeliveryNumber(ctx context.Context, tx *gorm.DB, businessId string) (int, string, error) {
	var maxSeq int64
	if err := tx.WithContext(ctx).Model(&DeliveryNote{}).
		Where("business_id = ?", businessId).
		Select("COALESCE(MAX(sequence_no), 0)").
		Scan(&maxSeq).Error; err != nil {
		return 0, "", err
	}
	seq := maxSeq + 1
	key := deliveryNumberKey(businessId)
	if err := config.SeedRedisCounter(ctx, key, maxSeq); err == nil {
		if n, ok, err := config.GetRedisCounter(ctx, key); ok && err == nil && n > seq {
			seq = n
		}
	}
	return int(seq), fmt.Sprintf("DN-%06d", seq), nil
}

func findDeliveryNoteItem(items []DeliveryNoteItem, id int) (int, bool) {
	for i := range items {
		if items[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

func deliveryNoteItems(ctx context.Context, tx *gorm.DB, businessId string, dnId int) ([]DeliveryNoteItem, error) {
	var items []DeliveryNoteItem
	err := tx.WithContext(ctx).
		Where("business_id = ? AND delivery_note_id = ?", businessId, dnId).
		Order("id ASC").
		Find(&items).Error
	return items, err
}

func lockDeliveryNote(ctx context.Context, tx *gorm.DB, actor appctx.Actor, id int) (*DeliveryNote, error) {
	return utils.FetchModelForUpdate[DeliveryNote](ctx, tx, actor.BusinessId, "delivery note", id)
}

func requireDeliveryTransition(dn *DeliveryNote, to DeliveryNoteStatus) error {
	if !dn.Status.CanTransitionTo(to) {
		return utils.NewInvalidTransitionError("delivery note", string(dn.Status), string(to),
			enumStrings(DeliveryNoteTransitions(dn.Status)))
	}
	return nil
}

func CreateDeliveryNote(ctx context.Context, actor appctx.Actor, input *NewDeliveryNote) (*DeliveryNote, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Address) == "" {
		return nil, utils.NewValidationError("address is required")
	}
	for i, line := range input.Items {
		if !line.Qty.IsPositive() {
			return nil, utils.NewValidationError("items[%d]: qty must be greater than 0", i)
		}
		if line.InventoryItemId == nil && line.ProductionJobId == nil {
			return nil, utils.NewValidationError("items[%d]: inventory_item_id or production_job_id is required", i)
		}
	}
	ctx = actor.Scope(ctx)
	db := config.GetDB()

	project, err := utils.FetchModel[Project](ctx, db, actor.BusinessId, "project", input.ProjectId)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateResourceId[Client](ctx, db, actor.BusinessId, "client", input.ClientId); err != nil {
		return nil, err
	}
	if project.ClientId != input.ClientId {
		return nil, utils.NewValidationError("client %d does not match project client %d", input.ClientId, project.ClientId)
	}
	for _, line := range input.Items {
		if line.InventoryItemId != nil {
			if err := utils.ValidateResourceId[InventoryItem](ctx, db, actor.BusinessId, "inventory item", *line.InventoryItemId); err != nil {
				return nil, err
			}
		}
		if line.ProductionJobId != nil {
			if err := utils.ValidateResourceId[ProductionJob](ctx, db, actor.BusinessId, "production job", *line.ProductionJobId); err != nil {
				return nil, err
			}
		}
	}

	dn := DeliveryNote{
		BusinessId:    actor.BusinessId,
		ProjectId:     input.ProjectId,
		ClientId:      input.ClientId,
		Address:       strings.TrimSpace(input.Address),
		Status:        DeliveryNoteStatusDraft,
		Remarks:       input.Remarks,
		LoadingPhotos: DocumentRefs{},
		CreatedBy:     actor.UserId,
	}
	for _, line := range input.Items {
		dn.Items = append(dn.Items, DeliveryNoteItem{
			BusinessId:      actor.BusinessId,
			InventoryItemId: line.InventoryItemId,
			ProductionJobId: line.ProductionJobId,
			Description:     line.Description,
			Qty:             line.Qty,
			LoadedQty:       decimal.Zero,
			DeliveredQty:    decimal.Zero,
			ReturnedQty:     decimal.Zero,
		})
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq, number, err := nextDeliveryNumber(ctx, tx, actor.BusinessId)
		if err != nil {
			return err
		}
		dn.SequenceNo = seq
		dn.DeliveryNumber = number
		if err := tx.Create(&dn).Error; err != nil {
			if utils.IsDuplicateKeyErr(err) {
				return utils.NewConflictError("delivery number %s was taken concurrently, retry", number)
			}
			return err
		}
		recordAudit(ctx, tx, actor, AuditActionCreate, "delivery_note", dn.ID, nil, dn)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &dn, nil
}

// LoadDeliveryNote records loaded quantities per line and moves the note to LOADING.
func LoadDeliveryNote(ctx context.Context, actor appctx.Actor, id int, input *LoadDeliveryNoteInput) (*DeliveryNote, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	for _, line := range input.Items {
		if line.LoadedQty.IsNegative() {
			return nil, utils.NewValidationError("item %d: loadedQty cannot be negative", line.ItemId)
		}
	}
	ctx = actor.Scope(ctx)
	photos, err := prepareRefs(ctx, input.Photos)
	if err != nil {
		return nil, err
	}

	var dn *DeliveryNote
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		dn, err = lockDeliveryNote(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		if err := requireDeliveryTransition(dn, DeliveryNoteStatusLoading); err != nil {
			return err
		}
		old := *dn
		items, err := deliveryNoteItems(ctx, tx, actor.BusinessId, id)
		if err != nil {
			return err
		}
		for _, line := range input.Items {
			i, ok := findDeliveryNoteItem(items, line.ItemId)
			if !ok {
				return utils.NewNotFoundError("delivery note item", line.ItemId)
			}
			if line.LoadedQty.GreaterThan(items[i].Qty) {
				return utils.NewValidationError("item %d: loadedQty %s exceeds qty %s",
					line.ItemId, line.LoadedQty.String(), items[i].Qty.String())
			}
			items[i].LoadedQty = line.LoadedQty
			if err := tx.Model(&DeliveryNoteItem{}).Where("id = ? AND business_id = ?", line.ItemId, actor.BusinessId).
				Update("loaded_qty", line.LoadedQty).Error; err != nil {
				return err
			}
		}
		dn.Status = DeliveryNoteStatusLoading
		dn.LoadingPhotos = append(dn.LoadingPhotos, photos...)
		dn.Remarks = utils.AppendNote(dn.Remarks, input.Remarks)
		if err := tx.Model(&DeliveryNote{}).Where("id = ? AND business_id = ?", id, actor.BusinessId).
			Updates(map[string]interface{}{
				"status":         dn.Status,
				"loading_photos": dn.LoadingPhotos,
				"remarks":        dn.Remarks,
			}).Error; err != nil {
			return err
		}
		dn.Items = items
		recordAudit(ctx, tx, actor, AuditActionLoad, "delivery_note", id, old, dn)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dn, nil
}

// AssignVehicleToDeliveryNote binds an AVAILABLE vehicle to a LOADING note. A vehicle already held
// by the note is released in the same transaction.
func AssignVehicleToDeliveryNote(ctx context.Context, actor appctx.Actor, id int, input *AssignVehicleInput) (*DeliveryNote, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	ctx = actor.Scope(ctx)

	var dn *DeliveryNote
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		dn, err = lockDeliveryNote(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		if dn.Status != DeliveryNoteStatusLoading {
			return utils.NewStateError("delivery note", string(dn.Status), string(DeliveryNoteStatusLoading))
		}
		if dn.VehicleId != nil && *dn.VehicleId == input.VehicleId &&
			(input.DriverId == nil || sameIntPtr(dn.DriverId, input.DriverId)) {
			return nil
		}
		old := *dn
		if dn.VehicleId != nil {
			if err := releaseVehicle(ctx, tx, actor, *dn.VehicleId, dn.ID, false); err != nil {
				return err
			}
		}
		vehicle, err := assignVehicle(ctx, tx, actor, input.VehicleId, input.DriverId, dn.ID)
		if err != nil {
			return err
		}
		dn.VehicleId = &vehicle.ID
		dn.DriverId = vehicle.DriverId
		if err := tx.Model(&DeliveryNote{}).Where("id = ? AND business_id = ?", id, actor.BusinessId).
			Updates(map[string]interface{}{
				"vehicle_id": dn.VehicleId,
				"driver_id":  dn.DriverId,
			}).Error; err != nil {
			return err
		}
		recordAudit(ctx, tx, actor, AuditActionAssignVehicle, "delivery_note", id, old, dn)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dn, nil
}

// DispatchDeliveryNote moves a LOADING note to DISPATCHED and books one OUT ledger entry per loaded
// line that carries an inventory item. Any failed guard leaves stock untouched.
func DispatchDeliveryNote(ctx context.Context, actor appctx.Actor, id int, remarks string) (*DeliveryNote, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	ctx = actor.Scope(ctx)
	db := config.GetDB()

	preview, err := deliveryNoteItems(ctx, db, actor.BusinessId, id)
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

	var dn *DeliveryNote
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		dn, err = lockDeliveryNote(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		if err := requireDeliveryTransition(dn, DeliveryNoteStatusDispatched); err != nil {
			return err
		}
		if dn.VehicleId == nil {
			return utils.ErrVehicleNotAssigned
		}
		items, err := deliveryNoteItems(ctx, tx, actor.BusinessId, id)
		if err != nil {
			return err
		}
		for _, item := range items {
			if !item.LoadedQty.IsPositive() {
				return utils.NewGuardError("delivery note", string(dn.Status), string(DeliveryNoteStatusDispatched),
					fmt.Sprintf("item %d is not loaded", item.ID))
			}
		}
		failing, err := deliveryNoteQCBlocked(ctx, tx, actor.BusinessId, id)
		if err != nil {
			return err
		}
		if failing != nil {
			return utils.NewGuardError("delivery note", string(dn.Status), string(DeliveryNoteStatusDispatched),
				fmt.Sprintf("QC record %d is FAIL", failing.ID))
		}

		old := *dn
		// post in item order so concurrent dispatches take row locks in the same order
		ordered := append([]DeliveryNoteItem(nil), items...)
		sort.SliceStable(ordered, func(a, b int) bool {
			return utils.DereferencePtr(ordered[a].InventoryItemId) < utils.DereferencePtr(ordered[b].InventoryItemId)
		})
		for _, item := range ordered {
			if item.InventoryItemId == nil {
				continue
			}
			if _, err := PostStockTransaction(ctx, tx, actor, StockEntry{
				InventoryItemId: *item.InventoryItemId,
				Type:            StockTransactionTypeOut,
				Qty:             item.LoadedQty,
				ReferenceType:   StockReferenceDeliveryNote,
				ReferenceId:     dn.ID,
				Remarks:         dn.DeliveryNumber,
				FailIfNegative:  config.StrictStockOnDispatch(),
			}); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		dn.Status = DeliveryNoteStatusDispatched
		dn.DispatchedAt = &now
		dn.Remarks = utils.AppendNote(dn.Remarks, remarks)
		if err := tx.Model(&DeliveryNote{}).Where("id = ? AND business_id = ?", id, actor.BusinessId).
			Updates(map[string]interface{}{
				"status":        dn.Status,
				"dispatched_at": now,
				"remarks":       dn.Remarks,
			}).Error; err != nil {
			return err
		}
		dn.Items = items
		recordAudit(ctx, tx, actor, AuditActionDispatch, "delivery_note", id, old, dn)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dn, nil
}

func AddDeliveryTracking(ctx context.Context, actor appctx.Actor, id int, input *NewDeliveryTracking) (*DeliveryTracking, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if (input.Latitude == nil) != (input.Longitude == nil) {
		return nil, utils.NewValidationError("latitude and longitude must be given together")
	}
	if input.Latitude != nil {
		if input.Latitude.Abs().GreaterThan(decimal.NewFromInt(90)) || input.Longitude.Abs().GreaterThan(decimal.NewFromInt(180)) {
			return nil, utils.NewValidationError("coordinates out of range")
		}
	} else if strings.TrimSpace(input.Location) == "" {
		return nil, utils.NewValidationError("location or coordinates are required")
	}
	ctx = actor.Scope(ctx)

	tracking := DeliveryTracking{
		BusinessId:     actor.BusinessId,
		DeliveryNoteId: id,
		Latitude:       input.Latitude,
		Longitude:      input.Longitude,
		Location:       strings.TrimSpace(input.Location),
		Remarks:        input.Remarks,
		RecordedBy:     actor.UserId,
	}
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dn, err := lockDeliveryNote(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		if dn.Status != DeliveryNoteStatusDispatched {
			return utils.NewStateError("delivery note", string(dn.Status), string(DeliveryNoteStatusDispatched))
		}
		if err := tx.Create(&tracking).Error; err != nil {
			return err
		}
		recordAudit(ctx, tx, actor, AuditActionTrack, "delivery_note", id, nil, tracking)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &tracking, nil
}

// DeliverDeliveryNote closes a DISPATCHED note. Lines not supplied are delivered in full.
func DeliverDeliveryNote(ctx context.Context, actor appctx.Actor, id int, input *DeliverDeliveryNoteInput) (*DeliveryNote, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	supplied := make(map[int]decimal.Decimal, len(input.Items))
	for _, line := range input.Items {
		if line.DeliveredQty == nil {
			continue
		}
		if line.DeliveredQty.IsNegative() {
			return nil, utils.NewValidationError("item %d: deliveredQty cannot be negative", line.ItemId)
		}
		supplied[line.ItemId] = *line.DeliveredQty
	}
	ctx = actor.Scope(ctx)
	photos, err := prepareRefs(ctx, input.Photos)
	if err != nil {
		return nil, err
	}

	var dn *DeliveryNote
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		dn, err = lockDeliveryNote(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		if err := requireDeliveryTransition(dn, DeliveryNoteStatusDelivered); err != nil {
			return err
		}
		old := *dn
		items, err := deliveryNoteItems(ctx, tx, actor.BusinessId, id)
		if err != nil {
			return err
		}
		for itemId := range supplied {
			if _, ok := findDeliveryNoteItem(items, itemId); !ok {
				return utils.NewNotFoundError("delivery note item", itemId)
			}
		}
		for i := range items {
			delivered, ok := supplied[items[i].ID]
			if !ok {
				delivered = items[i].LoadedQty
			}
			if delivered.GreaterThan(items[i].LoadedQty) {
				return utils.NewValidationError("item %d: deliveredQty %s exceeds loadedQty %s",
					items[i].ID, delivered.String(), items[i].LoadedQty.String())
			}
			items[i].DeliveredQty = delivered
			if err := tx.Model(&DeliveryNoteItem{}).Where("id = ? AND business_id = ?", items[i].ID, actor.BusinessId).
				Update("delivered_qty", delivered).Error; err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		ack, err := upsertAcknowledgement(ctx, tx, actor, id, input, photos, now)
		if err != nil {
			return err
		}
		if dn.VehicleId != nil {
			if err := releaseVehicle(ctx, tx, actor, *dn.VehicleId, dn.ID, config.ReleaseDriverOnDelivery()); err != nil {
				return err
			}
		}
		dn.Status = DeliveryNoteStatusDelivered
		dn.DeliveredAt = &now
		if err := tx.Model(&DeliveryNote{}).Where("id = ? AND business_id = ?", id, actor.BusinessId).
			Updates(map[string]interface{}{
				"status":       dn.Status,
				"delivered_at": now,
			}).Error; err != nil {
			return err
		}
		dn.Items = items
		dn.Acknowledgement = ack
		recordAudit(ctx, tx, actor, AuditActionDeliver, "delivery_note", id, old, dn)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dn, nil
}

// upsertAcknowledgement keeps one acknowledgement per delivery note.
func upsertAcknowledgement(ctx context.Context, tx *gorm.DB, actor appctx.Actor, dnId int, input *DeliverDeliveryNoteInput, photos DocumentRefs, at time.Time) (*DeliveryAcknowledgement, error) {
	var ack DeliveryAcknowledgement
	if err := tx.WithContext(ctx).
		Where("business_id = ? AND delivery_note_id = ?", actor.BusinessId, dnId).
		Limit(1).Find(&ack).Error; err != nil {
		return nil, err
	}
	if ack.ID == 0 {
		ack = DeliveryAcknowledgement{
			BusinessId:     actor.BusinessId,
			DeliveryNoteId: dnId,
			ReceivedBy:     input.ReceivedBy,
			Remarks:        input.Remarks,
			Photos:         photos,
			AcknowledgedAt: at,
		}
		return &ack, tx.WithContext(ctx).Create(&ack).Error
	}
	ack.ReceivedBy = input.ReceivedBy
	ack.Remarks = input.Remarks
	ack.Photos = append(ack.Photos, photos...)
	ack.AcknowledgedAt = at
	err := tx.WithContext(ctx).Model(&DeliveryAcknowledgement{}).
		Where("id = ? AND business_id = ?", ack.ID, actor.BusinessId).
		Updates(map[string]interface{}{
			"received_by":     ack.ReceivedBy,
			"remarks":         ack.Remarks,
			"photos":          ack.Photos,
			"acknowledged_at": at,
		}).Error
	return &ack, err
}

// CancelDeliveryNote cancels a note that has not left, releasing its vehicle.
func CancelDeliveryNote(ctx context.Context, actor appctx.Actor, id int, reason string) (*DeliveryNote, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, utils.NewValidationError("cancel reason is required")
	}
	ctx = actor.Scope(ctx)

	var dn *DeliveryNote
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		dn, err = lockDeliveryNote(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		if err := requireDeliveryTransition(dn, DeliveryNoteStatusCancelled); err != nil {
			return err
		}
		old := *dn
		if dn.VehicleId != nil {
			if err := releaseVehicle(ctx, tx, actor, *dn.VehicleId, dn.ID, false); err != nil {
				return err
			}
		}
		now := time.Now().UTC()
		dn.Status = DeliveryNoteStatusCancelled
		dn.CancelledAt = &now
		dn.VehicleId = nil
		dn.DriverId = nil
		dn.Remarks = utils.AppendNote(dn.Remarks, "cancelled: "+reason)
		if err := tx.Model(&DeliveryNote{}).Where("id = ? AND business_id = ?", id, actor.BusinessId).
			Updates(map[string]interface{}{
				"status":       dn.Status,
				"cancelled_at": now,
				"vehicle_id":   nil,
				"driver_id":    nil,
				"remarks":      dn.Remarks,
			}).Error; err != nil {
			return err
		}
		recordAudit(ctx, tx, actor, AuditActionCancel, "delivery_note", id, old, dn, reason)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dn, nil
}

func GetDeliveryNote(ctx context.Context, actor appctx.Actor, id int) (*DeliveryNote, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	var dn DeliveryNote
	err := config.GetDB().WithContext(actor.Scope(ctx)).
		Preload("Items", func(tx *gorm.DB) *gorm.DB { return tx.Order("id ASC") }).
		Preload("Tracking", func(tx *gorm.DB) *gorm.DB { return tx.Order("id ASC") }).
		Preload("Acknowledgement").
		Where("business_id = ?", actor.BusinessId).
		First(&dn, id).Error
	if err != nil {
		return nil, utils.NotFoundOr(err, "delivery note", id)
	}
	return &dn, nil
}

func ListDeliveryNotes(ctx context.Context, actor appctx.Actor, filter DeliveryNoteFilter) ([]*DeliveryNote, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	q := config.GetDB().WithContext(actor.Scope(ctx)).
		Preload("Items", func(tx *gorm.DB) *gorm.DB { return tx.Order("id ASC") }).
		Where("business_id = ?", actor.BusinessId)
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	if filter.ProjectId != nil {
		q = q.Where("project_id = ?", *filter.ProjectId)
	}
	if filter.VehicleId != nil {
		q = q.Where("vehicle_id = ?", *filter.VehicleId)
	}
	var notes []*DeliveryNote
	if err := q.Order("id DESC").Find(&notes).Error; err != nil {
		return nil, err
	}
	return notes, nil
}
