package models

import (
	"fmt"
	"strings"
)

// parseEnum resolves raw case-insensitively against the closed set.
func parseEnum[T ~string](name string, values []T, raw string) (T, error) {
	raw = strings.TrimSpace(raw)
	for _, v := range values {
		if strings.EqualFold(string(v), raw) {
			return v, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("invalid %s: %q", name, raw)
}

func containsEnum[T ~string](values []T, v T) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

func enumStrings[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

// ---- production job ----

type ProductionJobStatus string

const (
	ProductionJobStatusNotStarted ProductionJobStatus = "NOT_STARTED"
	ProductionJobStatusInProgress ProductionJobStatus = "IN_PROGRESS"
	ProductionJobStatusCompleted  ProductionJobStatus = "COMPLETED"
	ProductionJobStatusRework     ProductionJobStatus = "REWORK"
	ProductionJobStatusCancelled  ProductionJobStatus = "CANCELLED"
)

var productionJobStatuses = []ProductionJobStatus{
	ProductionJobStatusNotStarted, ProductionJobStatusInProgress, ProductionJobStatusCompleted,
	ProductionJobStatusRework, ProductionJobStatusCancelled,
}

func (s *ProductionJobStatus) UnmarshalText(b []byte) error {
	v, err := parseEnum("production job status", productionJobStatuses, string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ProductionJobTransitions is the only place production job status moves are decided.
func ProductionJobTransitions(from ProductionJobStatus) []ProductionJobStatus {
	switch from {
	case ProductionJobStatusNotStarted:
		return []ProductionJobStatus{ProductionJobStatusInProgress, ProductionJobStatusCancelled}
	case ProductionJobStatusInProgress:
		return []ProductionJobStatus{ProductionJobStatusCompleted, ProductionJobStatusRework, ProductionJobStatusCancelled}
	case ProductionJobStatusCompleted:
		return []ProductionJobStatus{ProductionJobStatusInProgress}
	case ProductionJobStatusRework:
		return []ProductionJobStatus{ProductionJobStatusInProgress, ProductionJobStatusCancelled}
	default:
		return nil
	}
}

func (s ProductionJobStatus) CanTransitionTo(to ProductionJobStatus) bool {
	return containsEnum(ProductionJobTransitions(s), to)
}

// A failing QC inspection forces REWORK from any status except the terminal one.
func (s ProductionJobStatus) AcceptsQCFail() bool {
	return s != ProductionJobStatusCancelled && containsEnum(productionJobStatuses, s)
}

// ---- QC ----

type QCStatus string

const (
	QCStatusPass QCStatus = "PASS"
	QCStatusFail QCStatus = "FAIL"
	QCStatusNA   QCStatus = "NA"
)

var qcStatuses = []QCStatus{QCStatusPass, QCStatusFail, QCStatusNA}

func (s *QCStatus) UnmarshalText(b []byte) error {
	v, err := parseEnum("qc status", qcStatuses, string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s QCStatus) IsValid() bool { return containsEnum(qcStatuses, s) }

// ---- rework ----

type ReworkStatus string

const (
	ReworkStatusOpen       ReworkStatus = "OPEN"
	ReworkStatusInProgress ReworkStatus = "IN_PROGRESS"
	ReworkStatusCompleted  ReworkStatus = "COMPLETED"
	ReworkStatusCancelled  ReworkStatus = "CANCELLED"
)

var reworkStatuses = []ReworkStatus{ReworkStatusOpen, ReworkStatusInProgress, ReworkStatusCompleted, ReworkStatusCancelled}

func (s *ReworkStatus) UnmarshalText(b []byte) error {
	v, err := parseEnum("rework status", reworkStatuses, string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func ReworkTransitions(from ReworkStatus) []ReworkStatus {
	switch from {
	case ReworkStatusOpen:
		return []ReworkStatus{ReworkStatusInProgress, ReworkStatusCompleted, ReworkStatusCancelled}
	case ReworkStatusInProgress:
		return []ReworkStatus{ReworkStatusCompleted, ReworkStatusCancelled}
	default:
		return nil
	}
}

func (s ReworkStatus) CanTransitionTo(to ReworkStatus) bool {
	return containsEnum(ReworkTransitions(s), to)
}

// ---- delivery note ----

type DeliveryNoteStatus string

const (
	DeliveryNoteStatusDraft      DeliveryNoteStatus = "DRAFT"
	DeliveryNoteStatusLoading    DeliveryNoteStatus = "LOADING"
	DeliveryNoteStatusDispatched DeliveryNoteStatus = "DISPATCHED"
	DeliveryNoteStatusDelivered  DeliveryNoteStatus = "DELIVERED"
	DeliveryNoteStatusReturned   DeliveryNoteStatus = "RETURNED"
	DeliveryNoteStatusCancelled  DeliveryNoteStatus = "CANCELLED"
)

var deliveryNoteStatuses = []DeliveryNoteStatus{
	DeliveryNoteStatusDraft, DeliveryNoteStatusLoading, DeliveryNoteStatusDispatched,
	DeliveryNoteStatusDelivered, DeliveryNoteStatusReturned, DeliveryNoteStatusCancelled,
}

// in-flight statuses hold a vehicle/driver
var deliveryNoteInFlight = []DeliveryNoteStatus{DeliveryNoteStatusLoading, DeliveryNoteStatusDispatched}

func (s *DeliveryNoteStatus) UnmarshalText(b []byte) error {
	v, err := parseEnum("delivery note status", deliveryNoteStatuses, string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func DeliveryNoteTransitions(from DeliveryNoteStatus) []DeliveryNoteStatus {
	switch from {
	case DeliveryNoteStatusDraft:
		return []DeliveryNoteStatus{DeliveryNoteStatusLoading, DeliveryNoteStatusCancelled}
	case DeliveryNoteStatusLoading:
		return []DeliveryNoteStatus{DeliveryNoteStatusLoading, DeliveryNoteStatusDispatched, DeliveryNoteStatusCancelled}
	case DeliveryNoteStatusDispatched:
		return []DeliveryNoteStatus{DeliveryNoteStatusDelivered}
	case DeliveryNoteStatusDelivered:
		return []DeliveryNoteStatus{DeliveryNoteStatusReturned}
	default:
		return nil
	}
}

func (s DeliveryNoteStatus) CanTransitionTo(to DeliveryNoteStatus) bool {
	return containsEnum(DeliveryNoteTransitions(s), to)
}

func (s DeliveryNoteStatus) InFlight() bool {
	return containsEnum(deliveryNoteInFlight, s)
}

// ---- vehicle / driver ----

type VehicleStatus string

const (
	VehicleStatusAvailable   VehicleStatus = "AVAILABLE"
	VehicleStatusInUse       VehicleStatus = "IN_USE"
	VehicleStatusMaintenance VehicleStatus = "MAINTENANCE"
)

var vehicleStatuses = []VehicleStatus{VehicleStatusAvailable, VehicleStatusInUse, VehicleStatusMaintenance}

func (s *VehicleStatus) UnmarshalText(b []byte) error {
	v, err := parseEnum("vehicle status", vehicleStatuses, string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

type DriverStatus string

const (
	DriverStatusActive   DriverStatus = "ACTIVE"
	DriverStatusInactive DriverStatus = "INACTIVE"
)

var driverStatuses = []DriverStatus{DriverStatusActive, DriverStatusInactive}

func (s *DriverStatus) UnmarshalText(b []byte) error {
	v, err := parseEnum("driver status", driverStatuses, string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ---- stock ledger ----

type StockTransactionType string

const (
	StockTransactionTypeIn  StockTransactionType = "IN"
	StockTransactionTypeOut StockTransactionType = "OUT"
)

var stockTransactionTypes = []StockTransactionType{StockTransactionTypeIn, StockTransactionTypeOut}

func (s *StockTransactionType) UnmarshalText(b []byte) error {
	v, err := parseEnum("stock transaction type", stockTransactionTypes, string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

type StockReferenceType string

const (
	StockReferenceDeliveryNote StockReferenceType = "DN"
	StockReferenceReturn       StockReferenceType = "RETURN"
	StockReferenceAdjust       StockReferenceType = "ADJUST"
	StockReferenceGRN          StockReferenceType = "GRN"
)

// ---- returns ----

type ReturnStatus string

const (
	ReturnStatusPending   ReturnStatus = "PENDING"
	ReturnStatusInspected ReturnStatus = "INSPECTED"
)

type ReturnOutcome string

const (
	ReturnOutcomeRework       ReturnOutcome = "REWORK"
	ReturnOutcomeScrap        ReturnOutcome = "SCRAP"
	ReturnOutcomeAcceptReturn ReturnOutcome = "ACCEPT_RETURN"
)

var returnOutcomes = []ReturnOutcome{ReturnOutcomeRework, ReturnOutcomeScrap, ReturnOutcomeAcceptReturn}

func (s *ReturnOutcome) UnmarshalText(b []byte) error {
	v, err := parseEnum("return outcome", returnOutcomes, string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ---- outbound facts ----

type AuditAction string

const (
	AuditActionCreate        AuditAction = "CREATE"
	AuditActionUpdate        AuditAction = "UPDATE"
	AuditActionDelete        AuditAction = "DELETE"
	AuditActionStatusChange  AuditAction = "STATUS_CHANGE"
	AuditActionStageMove     AuditAction = "STAGE_MOVE"
	AuditActionStageOverride AuditAction = "STAGE_OVERRIDE"
	AuditActionWorkLog       AuditAction = "WORK_LOG"
	AuditActionLoad          AuditAction = "LOAD"
	AuditActionAssignVehicle AuditAction = "ASSIGN_VEHICLE"
	AuditActionDispatch      AuditAction = "DISPATCH"
	AuditActionTrack         AuditAction = "TRACK"
	AuditActionDeliver       AuditAction = "DELIVER"
	AuditActionCancel        AuditAction = "CANCEL"
	AuditActionInspect       AuditAction = "INSPECT"
	AuditActionStockPost     AuditAction = "STOCK_POST"
)

type NotificationType string

const (
	NotificationQCFail              NotificationType = "QC_FAIL"
	NotificationReturnCreated       NotificationType = "RETURN_CREATED"
	NotificationReworkCreated       NotificationType = "REWORK_CREATED"
	NotificationStockReconciliation NotificationType = "STOCK_RECONCILIATION"
)
