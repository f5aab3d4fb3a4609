package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ActiveInventory is one stock bucket: a (part, storeroom, location, bin)
// tuple with its on-hand quantity and rolling average unit cost. Location
// and bin stay null while the stock sits in the storeroom's unassigned
// area. Rows are deleted when their quantity reaches zero.
type ActiveInventory struct {
	ID          int              `gorm:"primary_key" json:"id"`
	PartId      int              `gorm:"not null;uniqueIndex:uidx_active_inventory" json:"part_id"`
	StoreroomId int              `gorm:"not null;uniqueIndex:uidx_active_inventory" json:"storeroom_id"`
	LocationId  *int             `gorm:"uniqueIndex:uidx_active_inventory" json:"location_id"`
	BinId       *int             `gorm:"uniqueIndex:uidx_active_inventory" json:"bin_id"`
	Quantity    decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"quantity"`
	UnitCostAvg *decimal.Decimal `gorm:"type:decimal(20,4)" json:"unit_cost_avg"`
	LastMovedAt *time.Time       `gorm:"default:null" json:"last_moved_at"`
	Audited
}

// InventoryMovement is the append-only ledger. Exactly one row is written
// per operation: Quantity is always positive and direction is carried by
// the From/To tuples. Receipts have no source tuple and start a
// traceability chain; every later movement copies initial_arrival_id
// from, and points previous_movement_id at, the movement it consumes.
type InventoryMovement struct {
	ID                  int              `gorm:"primary_key" json:"id"`
	PartId              int              `gorm:"index;not null" json:"part_id"`
	MovementType        MovementType     `gorm:"size:20;not null" json:"movement_type"`
	Quantity            decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"quantity"`
	UnitCost            *decimal.Decimal `gorm:"type:decimal(20,4)" json:"unit_cost"`
	FromStoreroomId     *int             `gorm:"default:null" json:"from_storeroom_id"`
	FromLocationId      *int             `gorm:"default:null" json:"from_location_id"`
	FromBinId           *int             `gorm:"default:null" json:"from_bin_id"`
	ToStoreroomId       *int             `gorm:"default:null" json:"to_storeroom_id"`
	ToLocationId        *int             `gorm:"default:null" json:"to_location_id"`
	ToBinId             *int             `gorm:"default:null" json:"to_bin_id"`
	ArrivalLineId       *int             `gorm:"index;default:null" json:"arrival_line_id"`
	PurchaseOrderLineId *int             `gorm:"index;default:null" json:"purchase_order_line_id"`
	PartDemandId        *int             `gorm:"index;default:null" json:"part_demand_id"`
	InitialArrivalId    *int             `gorm:"index;default:null" json:"initial_arrival_id"`
	PreviousMovementId  *int             `gorm:"default:null" json:"previous_movement_id"`
	MovementDate        time.Time        `gorm:"index;not null" json:"movement_date"`
	PerformedById       int              `gorm:"default:null" json:"performed_by_id"`
	Notes               string           `gorm:"type:text;default:null" json:"notes"`
	Audited
}

// InventorySummary is a denormalized per-(part, storeroom) rollup kept
// for reporting. It is refreshed on receipts, issues, adjustments and
// cross-storeroom relocations; bin-local moves leave it untouched.
type InventorySummary struct {
	ID              int              `gorm:"primary_key" json:"id"`
	PartId          int              `gorm:"not null;uniqueIndex:uidx_inventory_summary" json:"part_id"`
	StoreroomId     int              `gorm:"not null;uniqueIndex:uidx_inventory_summary" json:"storeroom_id"`
	QuantityOnHand  decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"quantity_on_hand"`
	UnitCostAvg     *decimal.Decimal `gorm:"type:decimal(20,4)" json:"unit_cost_avg"`
	LastReceiptDate *time.Time       `gorm:"default:null" json:"last_receipt_date"`
	LastIssueDate   *time.Time       `gorm:"default:null" json:"last_issue_date"`
	Audited
}
