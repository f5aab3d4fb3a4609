package models

import (
	"fmt"
	"time"

	"bitbucket.org/fleetdatahub/parts_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Read-side queries over the movement ledger. Nothing here mutates state;
// the six-month views are computed on read so the ledger stays the single
// source of truth.

const sixMonthWindow = 180 * 24 * time.Hour

// GetTraceabilityChain returns every movement rooted in the given arrival,
// oldest first. This is the full where-did-this-stock-go history for one
// received package.
func GetTraceabilityChain(tx *gorm.DB, initialArrivalId int) ([]InventoryMovement, error) {
	var movements []InventoryMovement
	err := tx.Where("initial_arrival_id = ?", initialArrivalId).
		Order("movement_date asc, id asc").
		Find(&movements).Error
	if err != nil {
		return nil, err
	}
	return movements, nil
}

// GetMovementChain walks previous_movement_id pointers from the given
// movement back to its root and returns the path root-first.
func GetMovementChain(tx *gorm.DB, movementId int) ([]InventoryMovement, error) {
	var chain []InventoryMovement
	id := &movementId
	seen := map[int]bool{}
	for id != nil {
		if seen[*id] {
			return nil, fmt.Errorf("movement chain cycle at movement %d", *id)
		}
		seen[*id] = true
		var movement InventoryMovement
		if err := tx.First(&movement, *id).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil, fmt.Errorf("%w: inventory movement %d", ErrNotFound, *id)
			}
			return nil, err
		}
		chain = append([]InventoryMovement{movement}, chain...)
		id = movement.PreviousMovementId
	}
	return chain, nil
}

// GetMovementHistory lists a part's movements in a storeroom, newest
// first, capped at limit (0 means no cap).
func GetMovementHistory(tx *gorm.DB, partId int, storeroomId int, limit int) ([]InventoryMovement, error) {
	q := tx.Where("part_id = ?", partId).
		Where("from_storeroom_id = ? OR to_storeroom_id = ?", storeroomId, storeroomId).
		Order("movement_date desc, id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var movements []InventoryMovement
	if err := q.Find(&movements).Error; err != nil {
		return nil, err
	}
	return movements, nil
}

// SixMonthAverageCost is the weighted average unit cost over the part's
// costed inbound movements in the trailing 180 days. Zero with ok=false
// when the window has no costed receipts.
func SixMonthAverageCost(tx *gorm.DB, partId int, storeroomId int) (decimal.Decimal, bool, error) {
	cutoff := time.Now().UTC().Add(-sixMonthWindow)
	var movements []InventoryMovement
	err := tx.Where("part_id = ?", partId).
		Where("to_storeroom_id = ?", storeroomId).
		Where("movement_type IN ?", []MovementType{MovementTypeReceipt, MovementTypeBinTransfer, MovementTypeRelocation}).
		Where("movement_date >= ?", cutoff).
		Find(&movements).Error
	if err != nil {
		return decimal.Zero, false, err
	}
	weighted := decimal.Zero
	totalQty := decimal.Zero
	for _, m := range movements {
		if m.UnitCost == nil {
			continue
		}
		weighted = weighted.Add(m.Quantity.Mul(*m.UnitCost))
		totalQty = totalQty.Add(m.Quantity)
	}
	if !totalQty.IsPositive() {
		return decimal.Zero, false, nil
	}
	return weighted.Div(totalQty).Round(4), true, nil
}

// StockSummaryRow is one storeroom's view of a part for the stock screens
// and the spreadsheet export.
type StockSummaryRow struct {
	PartId              int              `json:"part_id"`
	StoreroomId         int              `json:"storeroom_id"`
	QuantityOnHand      decimal.Decimal  `json:"quantity_on_hand"`
	QuantityUnassigned  decimal.Decimal  `json:"quantity_unassigned"`
	UnitCostAvg         *decimal.Decimal `json:"unit_cost_avg"`
	SixMonthAverageCost *decimal.Decimal `json:"six_month_average_cost"`
	LastReceiptDate     *time.Time       `json:"last_receipt_date"`
	LastIssueDate       *time.Time       `json:"last_issue_date"`
}

// GetStockSummary builds the per-storeroom rollup for a part from the live
// rows plus the six-month read-side cost. Results are cached briefly in
// Redis; the cache degrades to a direct read when Redis is absent.
func GetStockSummary(tx *gorm.DB, partId int) ([]StockSummaryRow, error) {
	cacheKey := fmt.Sprintf("stockSummary:%d", partId)
	var cached []StockSummaryRow
	if hit, err := config.GetRedisObject(cacheKey, &cached); err == nil && hit {
		return cached, nil
	}

	var summaries []InventorySummary
	if err := tx.Where("part_id = ?", partId).Order("storeroom_id asc").Find(&summaries).Error; err != nil {
		return nil, err
	}
	rows := make([]StockSummaryRow, 0, len(summaries))
	for _, s := range summaries {
		row := StockSummaryRow{
			PartId:          s.PartId,
			StoreroomId:     s.StoreroomId,
			QuantityOnHand:  s.QuantityOnHand,
			UnitCostAvg:     s.UnitCostAvg,
			LastReceiptDate: s.LastReceiptDate,
			LastIssueDate:   s.LastIssueDate,
		}
		var unassigned []ActiveInventory
		if err := tx.Where("part_id = ? AND storeroom_id = ? AND location_id IS NULL AND bin_id IS NULL",
			s.PartId, s.StoreroomId).Find(&unassigned).Error; err != nil {
			return nil, err
		}
		for _, u := range unassigned {
			row.QuantityUnassigned = row.QuantityUnassigned.Add(u.Quantity)
		}
		avg, ok, err := SixMonthAverageCost(tx, s.PartId, s.StoreroomId)
		if err != nil {
			return nil, err
		}
		if ok {
			row.SixMonthAverageCost = &avg
		}
		rows = append(rows, row)
	}

	_ = config.SetRedisObject(cacheKey, rows, 1*time.Minute)
	return rows, nil
}

// InvalidateStockSummary drops the cached rollup after a write.
func InvalidateStockSummary(partId int) {
	_ = config.DeleteRedisKey(fmt.Sprintf("stockSummary:%d", partId))
}
