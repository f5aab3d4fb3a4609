package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PurchaseOrder struct {
	ID                   int                 `gorm:"primary_key" json:"id"`
	PONumber             string              `gorm:"size:50;uniqueIndex;not null" json:"po_number"`
	VendorName           string              `gorm:"size:255;not null" json:"vendor_name"`
	VendorContact        string              `gorm:"size:255;default:null" json:"vendor_contact"`
	MajorLocationId      int                 `gorm:"index;not null" json:"major_location_id"`
	StoreroomId          *int                `gorm:"index;default:null" json:"storeroom_id"`
	OrderDate            time.Time           `gorm:"not null" json:"order_date"`
	ExpectedDeliveryDate *time.Time          `gorm:"default:null" json:"expected_delivery_date"`
	ShippingCost         decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"shipping_cost"`
	TaxAmount            decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"tax_amount"`
	OtherCost            decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"other_cost"`
	// sum(line_total) + shipping_cost + tax_amount + other_cost
	TotalCost decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"total_cost"`
	Status    PurchaseOrderStatus `gorm:"size:20;not null" json:"status"`
	// set exactly once, the first time the order reaches Ordered
	EventId *int                `gorm:"default:null" json:"event_id"`
	Notes   string              `gorm:"type:text;default:null" json:"notes"`
	Lines   []PurchaseOrderLine `json:"lines"`
	Audited
}

type PurchaseOrderLine struct {
	ID                   int                     `gorm:"primary_key" json:"id"`
	PurchaseOrderId      int                     `gorm:"index;not null" json:"purchase_order_id"`
	PartId               int                     `gorm:"index;not null" json:"part_id"`
	LineNumber           int                     `gorm:"not null" json:"line_number"`
	QuantityOrdered      decimal.Decimal         `gorm:"type:decimal(20,4);not null" json:"quantity_ordered"`
	UnitCost             decimal.Decimal         `gorm:"type:decimal(20,4);not null" json:"unit_cost"`
	Status               PurchaseOrderLineStatus `gorm:"size:20;not null" json:"status"`
	ExpectedDeliveryDate *time.Time              `gorm:"default:null" json:"expected_delivery_date"`
	Notes                string                  `gorm:"type:text;default:null" json:"notes"`
	Audited
}

// GeneratePONumber returns a stable, unique, human-readable identifier.
func GeneratePONumber() string {
	return fmt.Sprintf("PO-%s-%s", time.Now().UTC().Format("2006-01-02"), strings.ToUpper(uuid.NewString()[:8]))
}

func (line PurchaseOrderLine) LineTotal() decimal.Decimal {
	return line.QuantityOrdered.Mul(line.UnitCost)
}

// QuantityReceivedTotal sums the arrival-link quantities attached to the line.
func (line PurchaseOrderLine) QuantityReceivedTotal(tx *gorm.DB) (decimal.Decimal, error) {
	var links []ArrivalPurchaseOrderLink
	if err := tx.Where("purchase_order_line_id = ?", line.ID).Find(&links).Error; err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, l := range links {
		total = total.Add(l.QuantityLinked)
	}
	return total, nil
}

// QuantityAllocated sums the demand-link quantities attached to the line.
func (line PurchaseOrderLine) QuantityAllocated(tx *gorm.DB) (decimal.Decimal, error) {
	var links []PartDemandPurchaseOrderLink
	if err := tx.Where("purchase_order_line_id = ?", line.ID).Find(&links).Error; err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, l := range links {
		total = total.Add(l.QuantityLinked)
	}
	return total, nil
}

// QuantityRemainingToReceive is the room left for arrival links, floored at 0.
func (line PurchaseOrderLine) QuantityRemainingToReceive(tx *gorm.DB) (decimal.Decimal, error) {
	received, err := line.QuantityReceivedTotal(tx)
	if err != nil {
		return decimal.Zero, err
	}
	remaining := line.QuantityOrdered.Sub(received)
	if remaining.IsNegative() {
		return decimal.Zero, nil
	}
	return remaining, nil
}

// RecomputeTotalCost re-derives the header total from its lines and cost
// fields, persisting the result.
func (po *PurchaseOrder) RecomputeTotalCost(tx *gorm.DB) error {
	var lines []PurchaseOrderLine
	if err := tx.Where("purchase_order_id = ?", po.ID).Find(&lines).Error; err != nil {
		return err
	}
	total := po.ShippingCost.Add(po.TaxAmount).Add(po.OtherCost)
	for _, line := range lines {
		total = total.Add(line.LineTotal())
	}
	po.TotalCost = total
	return tx.Model(&PurchaseOrder{}).Where("id = ?", po.ID).Update("total_cost", total).Error
}
