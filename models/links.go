package models

import (
	"github.com/shopspring/decimal"
)

// ArrivalPurchaseOrderLink records how much of an arrival line was
// received against a purchase order line. The pair is unique; quantity
// changes go through the linkage engine, never through raw updates.
type ArrivalPurchaseOrderLink struct {
	ID                  int             `gorm:"primary_key" json:"id"`
	ArrivalLineId       int             `gorm:"not null;uniqueIndex:uidx_arrival_po_link" json:"arrival_line_id"`
	PurchaseOrderLineId int             `gorm:"not null;uniqueIndex:uidx_arrival_po_link" json:"purchase_order_line_id"`
	QuantityLinked      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity_linked"`
	Audited
}

// PartDemandPurchaseOrderLink allocates part of a purchase order line to
// a demand. The pair is unique.
type PartDemandPurchaseOrderLink struct {
	ID                  int             `gorm:"primary_key" json:"id"`
	PartDemandId        int             `gorm:"not null;uniqueIndex:uidx_demand_po_link" json:"part_demand_id"`
	PurchaseOrderLineId int             `gorm:"not null;uniqueIndex:uidx_demand_po_link" json:"purchase_order_line_id"`
	QuantityLinked      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity_linked"`
	Audited
}
