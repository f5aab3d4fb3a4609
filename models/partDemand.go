package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PartDemand is a request for parts raised against a work order or a
// stocking decision. Once linked to purchase order lines it tracks the
// downstream order through to issue.
type PartDemand struct {
	ID               int              `gorm:"primary_key" json:"id"`
	PartId           int              `gorm:"index;not null" json:"part_id"`
	MajorLocationId  int              `gorm:"index;not null" json:"major_location_id"`
	StoreroomId      *int             `gorm:"default:null" json:"storeroom_id"`
	WorkOrderNumber  string           `gorm:"size:100;default:null" json:"work_order_number"`
	QuantityRequired decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"quantity_required"`
	QuantityOnOrder  decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"quantity_on_order"`
	NeededByDate     *time.Time       `gorm:"default:null" json:"needed_by_date"`
	Status           PartDemandStatus `gorm:"size:40;not null" json:"status"`
	PriceConfirmed   bool             `gorm:"default:false" json:"price_confirmed"`
	RequestedById    int              `gorm:"default:null" json:"requested_by_id"`
	Notes            string           `gorm:"type:text;default:null" json:"notes"`
	Audited
}

// LinkedQuantityTotal sums the demand's PO-line link quantities.
func (demand PartDemand) LinkedQuantityTotal(tx *gorm.DB) (decimal.Decimal, error) {
	var links []PartDemandPurchaseOrderLink
	if err := tx.Where("part_demand_id = ?", demand.ID).Find(&links).Error; err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, l := range links {
		total = total.Add(l.QuantityLinked)
	}
	return total, nil
}

// QuantityUnlinked is quantity_required minus linked quantity, floored at
// zero for display purposes.
func (demand PartDemand) QuantityUnlinked(tx *gorm.DB) (decimal.Decimal, error) {
	linked, err := demand.LinkedQuantityTotal(tx)
	if err != nil {
		return decimal.Zero, err
	}
	remaining := demand.QuantityRequired.Sub(linked)
	if remaining.IsNegative() {
		return decimal.Zero, nil
	}
	return remaining, nil
}

// RecomputeQuantityOnOrder refreshes the denormalized quantity_on_order
// column from the demand's current links.
func (demand *PartDemand) RecomputeQuantityOnOrder(tx *gorm.DB) error {
	linked, err := demand.LinkedQuantityTotal(tx)
	if err != nil {
		return err
	}
	demand.QuantityOnOrder = linked
	return tx.Model(demand).Update("quantity_on_order", linked).Error
}
