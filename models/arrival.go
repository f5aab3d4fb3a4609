package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Arrival is a logged physical package. Lines are created directly in
// Received state when the package is booked in.
type Arrival struct {
	ID              int           `gorm:"primary_key" json:"id"`
	PackageNumber   string        `gorm:"size:100;uniqueIndex;not null" json:"package_number"`
	MajorLocationId int           `gorm:"index;not null" json:"major_location_id"`
	StoreroomId     int           `gorm:"index;not null" json:"storeroom_id"`
	Carrier         string        `gorm:"size:100;default:null" json:"carrier"`
	TrackingNumber  string        `gorm:"size:100;default:null" json:"tracking_number"`
	ReceivedById    int           `gorm:"default:null" json:"received_by_id"`
	ReceivedDate    time.Time     `gorm:"not null" json:"received_date"`
	Status          ArrivalStatus `gorm:"size:20;not null" json:"status"`
	Notes           string        `gorm:"type:text;default:null" json:"notes"`
	Lines           []ArrivalLine `json:"lines"`
	Audited
}

type ArrivalLine struct {
	ID               int              `gorm:"primary_key" json:"id"`
	ArrivalId        int              `gorm:"index;not null" json:"arrival_id"`
	PartId           int              `gorm:"index;not null" json:"part_id"`
	MajorLocationId  int              `gorm:"not null" json:"major_location_id"`
	StoreroomId      int              `gorm:"not null" json:"storeroom_id"`
	QuantityReceived decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"quantity_received"`
	Condition        ArrivalCondition `gorm:"size:20;default:Good" json:"condition"`
	InspectionNotes  string           `gorm:"type:text;default:null" json:"inspection_notes"`
	ReceivedDate     time.Time        `gorm:"not null" json:"received_date"`
	Status           ArrivalStatus    `gorm:"size:20;not null" json:"status"`
	Audited
}

// TotalQuantityLinked sums the line's PO-line link quantities.
func (line ArrivalLine) TotalQuantityLinked(tx *gorm.DB) (decimal.Decimal, error) {
	var links []ArrivalPurchaseOrderLink
	if err := tx.Where("arrival_line_id = ?", line.ID).Find(&links).Error; err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, l := range links {
		total = total.Add(l.QuantityLinked)
	}
	return total, nil
}

// QuantityAvailableForLinking is quantity_received minus what is already
// linked; the linkage engine keeps this >= 0.
func (line ArrivalLine) QuantityAvailableForLinking(tx *gorm.DB) (decimal.Decimal, error) {
	linked, err := line.TotalQuantityLinked(tx)
	if err != nil {
		return decimal.Zero, err
	}
	return line.QuantityReceived.Sub(linked), nil
}
