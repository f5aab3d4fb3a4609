package models

// EntityKind identifies the status-bearing entities known to the transition
// validator.
type EntityKind string

const (
	EntityKindPurchaseOrder     EntityKind = "purchase_order"
	EntityKindPurchaseOrderLine EntityKind = "purchase_order_line"
	EntityKindPartDemand        EntityKind = "part_demand"
	EntityKindPartArrival       EntityKind = "part_arrival"
)

type PurchaseOrderStatus string

const (
	PurchaseOrderStatusDraft     PurchaseOrderStatus = "Draft"
	PurchaseOrderStatusOrdered   PurchaseOrderStatus = "Ordered"
	PurchaseOrderStatusShipped   PurchaseOrderStatus = "Shipped"
	PurchaseOrderStatusArrived   PurchaseOrderStatus = "Arrived"
	PurchaseOrderStatusCancelled PurchaseOrderStatus = "Cancelled"
)

type PurchaseOrderLineStatus string

const (
	PurchaseOrderLineStatusPending   PurchaseOrderLineStatus = "Pending"
	PurchaseOrderLineStatusOrdered   PurchaseOrderLineStatus = "Ordered"
	PurchaseOrderLineStatusShipped   PurchaseOrderLineStatus = "Shipped"
	PurchaseOrderLineStatusComplete  PurchaseOrderLineStatus = "Complete"
	PurchaseOrderLineStatusCancelled PurchaseOrderLineStatus = "Cancelled"
)

// IsTerminal reports whether the line can still take part in ordering,
// receiving or allocation.
func (s PurchaseOrderLineStatus) IsTerminal() bool {
	return s == PurchaseOrderLineStatusComplete || s == PurchaseOrderLineStatusCancelled
}

type PartDemandStatus string

const (
	PartDemandStatusPlanned           PartDemandStatus = "Planned"
	PartDemandStatusManagerApproval   PartDemandStatus = "Manager Approval Pending"
	PartDemandStatusInventoryApproval PartDemandStatus = "Inventory Approval Pending"
	PartDemandStatusOrdered           PartDemandStatus = "Ordered"
	PartDemandStatusShipped           PartDemandStatus = "Shipped"
	PartDemandStatusArrived           PartDemandStatus = "Arrived"
	PartDemandStatusAtInventory       PartDemandStatus = "At Inventory"
	PartDemandStatusIssued            PartDemandStatus = "Issued"
	PartDemandStatusInstalled         PartDemandStatus = "Installed"
)

// IsTerminal reports whether the demand has left the procurement lifecycle;
// status cascades skip terminal demands.
func (s PartDemandStatus) IsTerminal() bool {
	return s == PartDemandStatusIssued || s == PartDemandStatusInstalled
}

type ArrivalStatus string

const (
	ArrivalStatusPending   ArrivalStatus = "Pending"
	ArrivalStatusReceived  ArrivalStatus = "Received"
	ArrivalStatusProcessed ArrivalStatus = "Processed"
)

type ArrivalCondition string

const (
	ArrivalConditionGood    ArrivalCondition = "Good"
	ArrivalConditionDamaged ArrivalCondition = "Damaged"
	ArrivalConditionMixed   ArrivalCondition = "Mixed"
)

type MovementType string

const (
	MovementTypeReceipt     MovementType = "Receipt"
	MovementTypeBinTransfer MovementType = "BinTransfer"
	MovementTypeRelocation  MovementType = "Relocation"
	MovementTypeIssue       MovementType = "Issue"
	MovementTypeAdjustment  MovementType = "Adjustment"
)

// Incoming reports whether a movement of this type can carry a unit cost into
// the rolling cost windows (receipts and physical relocations keep the cost
// attached to the quantity; issues consume it).
func (t MovementType) Incoming() bool {
	return t == MovementTypeReceipt || t == MovementTypeBinTransfer || t == MovementTypeRelocation
}

type OutboxPublishStatus string

const (
	OutboxPublishStatusPending   OutboxPublishStatus = "Pending"
	OutboxPublishStatusPublished OutboxPublishStatus = "Published"
	OutboxPublishStatusDead      OutboxPublishStatus = "Dead"
)
