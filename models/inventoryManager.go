package models

import (
	"errors"
	"fmt"
	"time"

	"bitbucket.org/fleetdatahub/parts_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Inventory ledger engine. ActiveInventory rows are the current truth,
// InventoryMovement rows are the append-only history; every operation here
// writes exactly one movement and adjusts the affected rows inside the
// caller's transaction. Quantities on hand never go negative and rows at
// zero are deleted.

// BinRef addresses one stock bucket. Nil Location/Bin is the storeroom's
// unassigned area.
type BinRef struct {
	StoreroomId int  `json:"storeroom_id"`
	LocationId  *int `json:"location_id"`
	BinId       *int `json:"bin_id"`
}

func (b BinRef) Same(other BinRef) bool {
	return utils.SameBinTuple(b.StoreroomId, b.LocationId, b.BinId, other.StoreroomId, other.LocationId, other.BinId)
}

// ReceiveIntoUnassignedBin books an arrival line's quantity into its
// storeroom's unassigned area at the given unit cost, blending the cost
// into the bucket's rolling average. The movement is a chain root carrying
// the arrival id. purchaseOrderLineId records the first order line the
// arrival was linked to; nil for untracked walk-ins.
func ReceiveIntoUnassignedBin(tx *gorm.DB, arrivalLine *ArrivalLine, unitCost decimal.Decimal, purchaseOrderLineId *int, performedById int) (*InventoryMovement, error) {
	if !arrivalLine.QuantityReceived.IsPositive() {
		return nil, fmt.Errorf("%w: received quantity must be positive", ErrValidation)
	}
	if unitCost.IsNegative() {
		return nil, fmt.Errorf("%w: unit cost cannot be negative", ErrValidation)
	}
	dest := BinRef{StoreroomId: arrivalLine.StoreroomId}
	if err := addStock(tx, arrivalLine.PartId, dest, arrivalLine.QuantityReceived, &unitCost); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	movement := InventoryMovement{
		PartId:              arrivalLine.PartId,
		MovementType:        MovementTypeReceipt,
		Quantity:            arrivalLine.QuantityReceived,
		UnitCost:            &unitCost,
		ToStoreroomId:       utils.IntPtr(dest.StoreroomId),
		ArrivalLineId:       utils.IntPtr(arrivalLine.ID),
		PurchaseOrderLineId: purchaseOrderLineId,
		InitialArrivalId:    utils.IntPtr(arrivalLine.ArrivalId),
		MovementDate:        now,
		PerformedById:       performedById,
		Audited:             Audited{CreatedById: performedById},
	}
	if err := tx.Create(&movement).Error; err != nil {
		return nil, err
	}
	if err := refreshSummaryAfter(tx, arrivalLine.PartId, dest.StoreroomId, &now, nil); err != nil {
		return nil, err
	}
	return &movement, nil
}

// AssignUnassignedToBin moves quantity from a storeroom's unassigned area
// to a location in the same storeroom. binId is nil when the location has
// no bin subdivision. Cost travels with the stock.
func AssignUnassignedToBin(tx *gorm.DB, partId int, storeroomId int, locationId int, binId *int, quantity decimal.Decimal, performedById int) (*InventoryMovement, error) {
	source := BinRef{StoreroomId: storeroomId}
	dest := BinRef{StoreroomId: storeroomId, LocationId: utils.IntPtr(locationId), BinId: binId}
	return moveStock(tx, partId, source, dest, quantity, MovementTypeBinTransfer, nil, performedById)
}

// TransferStock moves quantity between any two buckets, including across
// storerooms. Same-tuple transfers are rejected before any write.
func TransferStock(tx *gorm.DB, partId int, source BinRef, dest BinRef, quantity decimal.Decimal, performedById int) (*InventoryMovement, error) {
	if source.Same(dest) {
		return nil, fmt.Errorf("%w: source and destination are the same bin", ErrPreconditionFailed)
	}
	movementType := MovementTypeBinTransfer
	if source.StoreroomId != dest.StoreroomId {
		movementType = MovementTypeRelocation
	}
	return moveStock(tx, partId, source, dest, quantity, movementType, nil, performedById)
}

// IssueToPartDemand consumes quantity from a bucket against a demand. The
// movement has no destination; the stock leaves the ledger.
func IssueToPartDemand(tx *gorm.DB, partDemandId int, source BinRef, quantity decimal.Decimal, performedById int) (*InventoryMovement, error) {
	demand, err := utils.FetchModelForUpdate[PartDemand](tx, partDemandId)
	if err != nil {
		return nil, notFoundOr(err, "part demand", partDemandId)
	}
	_, unitCost, err := removeStock(tx, demand.PartId, source, quantity)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	movement := InventoryMovement{
		PartId:          demand.PartId,
		MovementType:    MovementTypeIssue,
		Quantity:        quantity,
		UnitCost:        unitCost,
		FromStoreroomId: utils.IntPtr(source.StoreroomId),
		FromLocationId:  source.LocationId,
		FromBinId:       source.BinId,
		PartDemandId:    utils.IntPtr(partDemandId),
		MovementDate:    now,
		PerformedById:   performedById,
		Audited:         Audited{CreatedById: performedById},
	}
	if err := chainMovement(tx, &movement, source); err != nil {
		return nil, err
	}
	if err := tx.Create(&movement).Error; err != nil {
		return nil, err
	}
	if err := refreshSummaryAfter(tx, demand.PartId, source.StoreroomId, nil, &now); err != nil {
		return nil, err
	}
	return &movement, nil
}

// CreateAdjustmentMovement corrects a bucket by quantityDelta. Positive
// deltas add at the bucket's current average cost (or the given unitCost
// when the bucket is new); negative deltas remove. The movement quantity
// is the absolute delta with direction carried by the tuples.
func CreateAdjustmentMovement(tx *gorm.DB, partId int, bin BinRef, quantityDelta decimal.Decimal, unitCost *decimal.Decimal, reason string, performedById int) (*InventoryMovement, error) {
	if quantityDelta.IsZero() {
		return nil, fmt.Errorf("%w: adjustment delta cannot be zero", ErrValidation)
	}
	now := time.Now().UTC()
	movement := InventoryMovement{
		PartId:        partId,
		MovementType:  MovementTypeAdjustment,
		Quantity:      quantityDelta.Abs(),
		MovementDate:  now,
		PerformedById: performedById,
		Notes:         reason,
		Audited:       Audited{CreatedById: performedById},
	}
	if quantityDelta.IsPositive() {
		if err := addStock(tx, partId, bin, quantityDelta, unitCost); err != nil {
			return nil, err
		}
		movement.UnitCost = unitCost
		movement.ToStoreroomId = utils.IntPtr(bin.StoreroomId)
		movement.ToLocationId = bin.LocationId
		movement.ToBinId = bin.BinId
	} else {
		_, removedCost, err := removeStock(tx, partId, bin, quantityDelta.Abs())
		if err != nil {
			return nil, err
		}
		movement.UnitCost = removedCost
		movement.FromStoreroomId = utils.IntPtr(bin.StoreroomId)
		movement.FromLocationId = bin.LocationId
		movement.FromBinId = bin.BinId
		if err := chainMovement(tx, &movement, bin); err != nil {
			return nil, err
		}
	}
	if err := tx.Create(&movement).Error; err != nil {
		return nil, err
	}
	if err := refreshSummaryAfter(tx, partId, bin.StoreroomId, nil, nil); err != nil {
		return nil, err
	}
	return &movement, nil
}

// moveStock is the shared transfer body: debit source, credit destination
// at the source's average cost, write one chained movement.
func moveStock(tx *gorm.DB, partId int, source BinRef, dest BinRef, quantity decimal.Decimal, movementType MovementType, unitCostOverride *decimal.Decimal, performedById int) (*InventoryMovement, error) {
	_, sourceCost, err := removeStock(tx, partId, source, quantity)
	if err != nil {
		return nil, err
	}
	cost := sourceCost
	if unitCostOverride != nil {
		cost = unitCostOverride
	}
	if err := addStock(tx, partId, dest, quantity, cost); err != nil {
		return nil, err
	}

	movement := InventoryMovement{
		PartId:          partId,
		MovementType:    movementType,
		Quantity:        quantity,
		UnitCost:        cost,
		FromStoreroomId: utils.IntPtr(source.StoreroomId),
		FromLocationId:  source.LocationId,
		FromBinId:       source.BinId,
		ToStoreroomId:   utils.IntPtr(dest.StoreroomId),
		ToLocationId:    dest.LocationId,
		ToBinId:         dest.BinId,
		MovementDate:    time.Now().UTC(),
		PerformedById:   performedById,
		Audited:         Audited{CreatedById: performedById},
	}
	if err := chainMovement(tx, &movement, source); err != nil {
		return nil, err
	}
	if err := tx.Create(&movement).Error; err != nil {
		return nil, err
	}
	// Bin-local moves leave the per-storeroom summary untouched; a
	// relocation changes on-hand on both sides.
	if movementType == MovementTypeRelocation {
		if _, err := RefreshInventorySummary(tx, partId, source.StoreroomId); err != nil {
			return nil, err
		}
		if _, err := RefreshInventorySummary(tx, partId, dest.StoreroomId); err != nil {
			return nil, err
		}
	}
	return &movement, nil
}

// chainMovement stamps the traceability columns from the latest movement
// that delivered stock into the operation's source bucket. Stock with no
// recorded inbound movement (legacy or adjusted-in) starts an unrooted
// chain.
func chainMovement(tx *gorm.DB, movement *InventoryMovement, source BinRef) error {
	previous, err := latestInboundMovement(tx, movement.PartId, source)
	if err != nil {
		return err
	}
	if previous == nil {
		return nil
	}
	movement.PreviousMovementId = utils.IntPtr(previous.ID)
	movement.InitialArrivalId = previous.InitialArrivalId
	return nil
}

func latestInboundMovement(tx *gorm.DB, partId int, bin BinRef) (*InventoryMovement, error) {
	q := tx.Model(&InventoryMovement{}).
		Where("part_id = ?", partId).
		Where("to_storeroom_id = ?", bin.StoreroomId)
	q = whereNullableEquals(q, "to_location_id", bin.LocationId)
	q = whereNullableEquals(q, "to_bin_id", bin.BinId)

	var previous InventoryMovement
	err := q.Order("movement_date desc, id desc").First(&previous).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &previous, nil
}

// addStock credits a bucket, creating the row on first use and blending
// unitCost into the rolling weighted average when given.
func addStock(tx *gorm.DB, partId int, bin BinRef, quantity decimal.Decimal, unitCost *decimal.Decimal) error {
	if !quantity.IsPositive() {
		return fmt.Errorf("%w: stock credit must be positive", ErrValidation)
	}
	row, err := lockActiveRow(tx, partId, bin)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if row == nil {
		row = &ActiveInventory{
			PartId:      partId,
			StoreroomId: bin.StoreroomId,
			LocationId:  bin.LocationId,
			BinId:       bin.BinId,
			Quantity:    quantity,
			UnitCostAvg: unitCost,
			LastMovedAt: &now,
		}
		return tx.Create(row).Error
	}
	row.UnitCostAvg = blendAverageCost(row.Quantity, row.UnitCostAvg, quantity, unitCost)
	row.Quantity = row.Quantity.Add(quantity)
	row.LastMovedAt = &now
	return tx.Model(row).Updates(map[string]interface{}{
		"quantity":      row.Quantity,
		"unit_cost_avg": row.UnitCostAvg,
		"last_moved_at": now,
	}).Error
}

// removeStock debits a bucket, deleting the row when it empties. Returns
// the row as it was before the debit plus the bucket's average cost.
func removeStock(tx *gorm.DB, partId int, bin BinRef, quantity decimal.Decimal) (*ActiveInventory, *decimal.Decimal, error) {
	if !quantity.IsPositive() {
		return nil, nil, fmt.Errorf("%w: stock debit must be positive", ErrValidation)
	}
	row, err := lockActiveRow(tx, partId, bin)
	if err != nil {
		return nil, nil, err
	}
	if row == nil || row.Quantity.LessThan(quantity) {
		onHand := decimal.Zero
		if row != nil {
			onHand = row.Quantity
		}
		return nil, nil, fmt.Errorf("%w: part %d has %s on hand in storeroom %d, wanted %s",
			ErrInsufficientCapacity, partId, onHand, bin.StoreroomId, quantity)
	}
	remaining := row.Quantity.Sub(quantity)
	if remaining.IsZero() {
		if err := tx.Delete(row).Error; err != nil {
			return nil, nil, err
		}
		return row, row.UnitCostAvg, nil
	}
	now := time.Now().UTC()
	if err := tx.Model(row).Updates(map[string]interface{}{
		"quantity":      remaining,
		"last_moved_at": now,
	}).Error; err != nil {
		return nil, nil, err
	}
	return row, row.UnitCostAvg, nil
}

func lockActiveRow(tx *gorm.DB, partId int, bin BinRef) (*ActiveInventory, error) {
	q := tx.Model(&ActiveInventory{}).
		Where("part_id = ? AND storeroom_id = ?", partId, bin.StoreroomId)
	q = whereNullableEquals(q, "location_id", bin.LocationId)
	q = whereNullableEquals(q, "bin_id", bin.BinId)

	var row ActiveInventory
	err := utils.WithUpdateLock(q).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func whereNullableEquals(q *gorm.DB, column string, value *int) *gorm.DB {
	if value == nil {
		return q.Where(column + " IS NULL")
	}
	return q.Where(column+" = ?", *value)
}

// blendAverageCost folds addQty at addCost into an existing (qty, avg)
// pair. A nil cost on either side leaves the other side's cost standing.
func blendAverageCost(oldQty decimal.Decimal, oldAvg *decimal.Decimal, addQty decimal.Decimal, addCost *decimal.Decimal) *decimal.Decimal {
	if addCost == nil {
		return oldAvg
	}
	if oldAvg == nil || oldQty.IsZero() {
		return addCost
	}
	total := oldQty.Add(addQty)
	if total.IsZero() {
		return oldAvg
	}
	blended := oldQty.Mul(*oldAvg).Add(addQty.Mul(*addCost)).Div(total).Round(4)
	return &blended
}

// RefreshInventorySummary recomputes the per-(part, storeroom) rollup from
// the live ActiveInventory rows.
func RefreshInventorySummary(tx *gorm.DB, partId int, storeroomId int) (*InventorySummary, error) {
	var rows []ActiveInventory
	if err := tx.Where("part_id = ? AND storeroom_id = ?", partId, storeroomId).Find(&rows).Error; err != nil {
		return nil, err
	}
	onHand := decimal.Zero
	weighted := decimal.Zero
	costedQty := decimal.Zero
	for _, row := range rows {
		onHand = onHand.Add(row.Quantity)
		if row.UnitCostAvg != nil {
			weighted = weighted.Add(row.Quantity.Mul(*row.UnitCostAvg))
			costedQty = costedQty.Add(row.Quantity)
		}
	}
	var avg *decimal.Decimal
	if costedQty.IsPositive() {
		v := weighted.Div(costedQty).Round(4)
		avg = &v
	}

	var summary InventorySummary
	err := tx.Where("part_id = ? AND storeroom_id = ?", partId, storeroomId).First(&summary).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		summary = InventorySummary{
			PartId:         partId,
			StoreroomId:    storeroomId,
			QuantityOnHand: onHand,
			UnitCostAvg:    avg,
		}
		if err := tx.Create(&summary).Error; err != nil {
			return nil, err
		}
		return &summary, nil
	}
	if err != nil {
		return nil, err
	}
	summary.QuantityOnHand = onHand
	summary.UnitCostAvg = avg
	if err := tx.Model(&summary).Updates(map[string]interface{}{
		"quantity_on_hand": onHand,
		"unit_cost_avg":    avg,
	}).Error; err != nil {
		return nil, err
	}
	return &summary, nil
}

func refreshSummaryAfter(tx *gorm.DB, partId int, storeroomId int, receiptAt *time.Time, issueAt *time.Time) error {
	summary, err := RefreshInventorySummary(tx, partId, storeroomId)
	if err != nil {
		return err
	}
	updates := map[string]interface{}{}
	if receiptAt != nil {
		updates["last_receipt_date"] = *receiptAt
	}
	if issueAt != nil {
		updates["last_issue_date"] = *issueAt
	}
	if len(updates) == 0 {
		return nil
	}
	return tx.Model(summary).Updates(updates).Error
}
