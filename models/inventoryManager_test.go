package models_test

import (
	"errors"
	"testing"

	"bitbucket.org/fleetdatahub/parts_backend/models"
	"bitbucket.org/fleetdatahub/parts_backend/utils"
	"github.com/shopspring/decimal"
)

func unassigned(storeroomId int) models.BinRef {
	return models.BinRef{StoreroomId: storeroomId}
}

func binRef(storeroomId, locationId, binId int) models.BinRef {
	return models.BinRef{StoreroomId: storeroomId, LocationId: utils.IntPtr(locationId), BinId: utils.IntPtr(binId)}
}

func TestReceiveIntoUnassignedBin(t *testing.T) {
	db := setupTestDB(t)
	major, storeroom, _, _ := seedTopology(t, db)
	part := seedPart(t, db, "BRG-001")
	arrival, line := seedArrivalWithLine(t, db, major.ID, storeroom.ID, part.ID, "10")
	po := seedPurchaseOrder(t, db, major.ID, models.PurchaseOrderStatusOrdered)
	poLine := seedPurchaseOrderLine(t, db, po.ID, part.ID, 1, "10", "2.50", models.PurchaseOrderLineStatusOrdered)

	movement, err := models.ReceiveIntoUnassignedBin(db, &line, dec("2.5000"), utils.IntPtr(poLine.ID), 1)
	if err != nil {
		t.Fatalf("ReceiveIntoUnassignedBin: %v", err)
	}
	if movement.MovementType != models.MovementTypeReceipt {
		t.Fatalf("movement type = %s", movement.MovementType)
	}
	if movement.InitialArrivalId == nil || *movement.InitialArrivalId != arrival.ID {
		t.Fatalf("receipt should root the chain at arrival %d, got %v", arrival.ID, movement.InitialArrivalId)
	}
	if movement.PurchaseOrderLineId == nil || *movement.PurchaseOrderLineId != poLine.ID {
		t.Fatalf("receipt should record order line %d, got %v", poLine.ID, movement.PurchaseOrderLineId)
	}
	if movement.PreviousMovementId != nil {
		t.Fatal("receipts have no previous movement")
	}
	if movement.FromStoreroomId != nil {
		t.Fatal("receipts have no source tuple")
	}

	var rows []models.ActiveInventory
	if err := db.Where("part_id = ?", part.ID).Find(&rows).Error; err != nil {
		t.Fatalf("load rows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 unassigned row, got %d", len(rows))
	}
	if rows[0].LocationId != nil || rows[0].BinId != nil {
		t.Fatal("receipt should land in the unassigned area")
	}
	decEqual(t, rows[0].Quantity, "10", "on hand")
	if rows[0].UnitCostAvg == nil {
		t.Fatal("unit cost avg missing")
	}
	decEqual(t, *rows[0].UnitCostAvg, "2.5", "unit cost avg")

	var summary models.InventorySummary
	if err := db.Where("part_id = ? AND storeroom_id = ?", part.ID, storeroom.ID).First(&summary).Error; err != nil {
		t.Fatalf("summary row: %v", err)
	}
	decEqual(t, summary.QuantityOnHand, "10", "summary on hand")
	if summary.LastReceiptDate == nil {
		t.Fatal("summary last receipt date missing")
	}
}

func TestReceiptBlendsWeightedAverageCost(t *testing.T) {
	db := setupTestDB(t)
	major, storeroom, _, _ := seedTopology(t, db)
	part := seedPart(t, db, "BRG-002")

	_, first := seedArrivalWithLine(t, db, major.ID, storeroom.ID, part.ID, "10")
	if _, err := models.ReceiveIntoUnassignedBin(db, &first, dec("1.00"), nil, 1); err != nil {
		t.Fatalf("first receipt: %v", err)
	}
	_, second := seedArrivalWithLine(t, db, major.ID, storeroom.ID, part.ID, "10")
	if _, err := models.ReceiveIntoUnassignedBin(db, &second, dec("3.00"), nil, 1); err != nil {
		t.Fatalf("second receipt: %v", err)
	}

	var row models.ActiveInventory
	if err := db.Where("part_id = ?", part.ID).First(&row).Error; err != nil {
		t.Fatalf("row: %v", err)
	}
	decEqual(t, row.Quantity, "20", "quantity")
	decEqual(t, *row.UnitCostAvg, "2", "blended average of 10@1.00 + 10@3.00")
}

func TestAssignUnassignedToBinMovesStockAndChains(t *testing.T) {
	db := setupTestDB(t)
	major, storeroom, location, bin := seedTopology(t, db)
	part := seedPart(t, db, "BRG-003")
	arrival, line := seedArrivalWithLine(t, db, major.ID, storeroom.ID, part.ID, "10")
	receipt, err := models.ReceiveIntoUnassignedBin(db, &line, dec("4.00"), nil, 1)
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}

	movement, err := models.AssignUnassignedToBin(db, part.ID, storeroom.ID, location.ID, utils.IntPtr(bin.ID), dec("6"), 1)
	if err != nil {
		t.Fatalf("AssignUnassignedToBin: %v", err)
	}
	if movement.MovementType != models.MovementTypeBinTransfer {
		t.Fatalf("movement type = %s", movement.MovementType)
	}
	if movement.PreviousMovementId == nil || *movement.PreviousMovementId != receipt.ID {
		t.Fatalf("assignment should chain to receipt %d, got %v", receipt.ID, movement.PreviousMovementId)
	}
	if movement.InitialArrivalId == nil || *movement.InitialArrivalId != arrival.ID {
		t.Fatalf("assignment should keep chain root %d, got %v", arrival.ID, movement.InitialArrivalId)
	}

	var rows []models.ActiveInventory
	if err := db.Where("part_id = ?", part.ID).Order("id asc").Find(&rows).Error; err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected unassigned remainder + bin row, got %d", len(rows))
	}
	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.Quantity)
	}
	decEqual(t, total, "10", "conservation across buckets")

	var binRow models.ActiveInventory
	if err := db.Where("part_id = ? AND bin_id = ?", part.ID, bin.ID).First(&binRow).Error; err != nil {
		t.Fatalf("bin row: %v", err)
	}
	decEqual(t, binRow.Quantity, "6", "bin quantity")
	decEqual(t, *binRow.UnitCostAvg, "4", "cost travels with the stock")
}

func TestAssignToLocationWithoutBin(t *testing.T) {
	db := setupTestDB(t)
	major, storeroom, location, _ := seedTopology(t, db)
	part := seedPart(t, db, "BRG-007")
	_, line := seedArrivalWithLine(t, db, major.ID, storeroom.ID, part.ID, "9")
	if _, err := models.ReceiveIntoUnassignedBin(db, &line, dec("1.50"), nil, 1); err != nil {
		t.Fatalf("receipt: %v", err)
	}

	movement, err := models.AssignUnassignedToBin(db, part.ID, storeroom.ID, location.ID, nil, dec("9"), 1)
	if err != nil {
		t.Fatalf("assign without bin: %v", err)
	}
	if movement.ToLocationId == nil || *movement.ToLocationId != location.ID {
		t.Fatalf("destination location = %v, want %d", movement.ToLocationId, location.ID)
	}
	if movement.ToBinId != nil {
		t.Fatalf("destination bin should stay null, got %v", movement.ToBinId)
	}

	var row models.ActiveInventory
	if err := db.Where("part_id = ? AND location_id = ? AND bin_id IS NULL", part.ID, location.ID).First(&row).Error; err != nil {
		t.Fatalf("bin-less location row: %v", err)
	}
	decEqual(t, row.Quantity, "9", "location quantity")
}

func TestAssignAllDeletesEmptyUnassignedRow(t *testing.T) {
	db := setupTestDB(t)
	major, storeroom, location, bin := seedTopology(t, db)
	part := seedPart(t, db, "BRG-004")
	_, line := seedArrivalWithLine(t, db, major.ID, storeroom.ID, part.ID, "5")
	if _, err := models.ReceiveIntoUnassignedBin(db, &line, dec("1.00"), nil, 1); err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if _, err := models.AssignUnassignedToBin(db, part.ID, storeroom.ID, location.ID, utils.IntPtr(bin.ID), dec("5"), 1); err != nil {
		t.Fatalf("assign: %v", err)
	}

	var count int64
	db.Model(&models.ActiveInventory{}).
		Where("part_id = ? AND location_id IS NULL AND bin_id IS NULL", part.ID).
		Count(&count)
	if count != 0 {
		t.Fatal("emptied unassigned row must be deleted")
	}
}

func TestTransferRejectsSameTupleBeforeAnyWrite(t *testing.T) {
	db := setupTestDB(t)
	major, storeroom, location, bin := seedTopology(t, db)
	part := seedPart(t, db, "BRG-005")
	_, line := seedArrivalWithLine(t, db, major.ID, storeroom.ID, part.ID, "5")
	if _, err := models.ReceiveIntoUnassignedBin(db, &line, dec("1.00"), nil, 1); err != nil {
		t.Fatalf("receipt: %v", err)
	}

	var before int64
	db.Model(&models.InventoryMovement{}).Count(&before)

	_, err := models.TransferStock(db, part.ID, binRef(storeroom.ID, location.ID, bin.ID), binRef(storeroom.ID, location.ID, bin.ID), dec("1"), 1)
	if !errors.Is(err, models.ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}

	var after int64
	db.Model(&models.InventoryMovement{}).Count(&after)
	if before != after {
		t.Fatal("rejected transfer must not write a movement")
	}
}

func TestCrossStoreroomTransferIsRelocation(t *testing.T) {
	db := setupTestDB(t)
	major, storeroom, _, _ := seedTopology(t, db)
	other := models.Storeroom{Name: "Overflow Storeroom", MajorLocationId: major.ID}
	mustCreate(t, db, &other)
	part := seedPart(t, db, "BRG-006")
	_, line := seedArrivalWithLine(t, db, major.ID, storeroom.ID, part.ID, "8")
	if _, err := models.ReceiveIntoUnassignedBin(db, &line, dec("2.00"), nil, 1); err != nil {
		t.Fatalf("receipt: %v", err)
	}

	movement, err := models.TransferStock(db, part.ID, unassigned(storeroom.ID), unassigned(other.ID), dec("3"), 1)
	if err != nil {
		t.Fatalf("TransferStock: %v", err)
	}
	if movement.MovementType != models.MovementTypeRelocation {
		t.Fatalf("cross-storeroom transfer should be a Relocation, got %s", movement.MovementType)
	}

	var destRow models.ActiveInventory
	if err := db.Where("part_id = ? AND storeroom_id = ?", part.ID, other.ID).First(&destRow).Error; err != nil {
		t.Fatalf("destination row: %v", err)
	}
	decEqual(t, destRow.Quantity, "3", "destination quantity")

	// On-hand moved between storerooms, so both summary rows must follow.
	var sourceSummary models.InventorySummary
	if err := db.Where("part_id = ? AND storeroom_id = ?", part.ID, storeroom.ID).First(&sourceSummary).Error; err != nil {
		t.Fatalf("source summary: %v", err)
	}
	decEqual(t, sourceSummary.QuantityOnHand, "5", "source summary on hand")
	var destSummary models.InventorySummary
	if err := db.Where("part_id = ? AND storeroom_id = ?", part.ID, other.ID).First(&destSummary).Error; err != nil {
		t.Fatalf("destination summary: %v", err)
	}
	decEqual(t, destSummary.QuantityOnHand, "3", "destination summary on hand")
}

func TestIssueToPartDemand(t *testing.T) {
	db := setupTestDB(t)
	major, storeroom, _, _ := seedTopology(t, db)
	part := seedPart(t, db, "BRG-007")
	demand := seedDemand(t, db, part.ID, major.ID, "4", models.PartDemandStatusAtInventory)
	_, line := seedArrivalWithLine(t, db, major.ID, storeroom.ID, part.ID, "10")
	if _, err := models.ReceiveIntoUnassignedBin(db, &line, dec("5.00"), nil, 1); err != nil {
		t.Fatalf("receipt: %v", err)
	}

	movement, err := models.IssueToPartDemand(db, demand.ID, unassigned(storeroom.ID), dec("4"), 1)
	if err != nil {
		t.Fatalf("IssueToPartDemand: %v", err)
	}
	if movement.MovementType != models.MovementTypeIssue {
		t.Fatalf("movement type = %s", movement.MovementType)
	}
	if movement.ToStoreroomId != nil {
		t.Fatal("issues have no destination tuple")
	}
	if movement.PartDemandId == nil || *movement.PartDemandId != demand.ID {
		t.Fatalf("issue must reference the demand, got %v", movement.PartDemandId)
	}

	var row models.ActiveInventory
	if err := db.Where("part_id = ?", part.ID).First(&row).Error; err != nil {
		t.Fatalf("row: %v", err)
	}
	decEqual(t, row.Quantity, "6", "remaining on hand")

	var summary models.InventorySummary
	if err := db.Where("part_id = ? AND storeroom_id = ?", part.ID, storeroom.ID).First(&summary).Error; err != nil {
		t.Fatalf("summary: %v", err)
	}
	decEqual(t, summary.QuantityOnHand, "6", "summary after issue")
	if summary.LastIssueDate == nil {
		t.Fatal("summary last issue date missing")
	}
}

func TestIssueMoreThanOnHandFails(t *testing.T) {
	db := setupTestDB(t)
	major, storeroom, _, _ := seedTopology(t, db)
	part := seedPart(t, db, "BRG-008")
	demand := seedDemand(t, db, part.ID, major.ID, "10", models.PartDemandStatusAtInventory)
	_, line := seedArrivalWithLine(t, db, major.ID, storeroom.ID, part.ID, "3")
	if _, err := models.ReceiveIntoUnassignedBin(db, &line, dec("1.00"), nil, 1); err != nil {
		t.Fatalf("receipt: %v", err)
	}

	_, err := models.IssueToPartDemand(db, demand.ID, unassigned(storeroom.ID), dec("4"), 1)
	if !errors.Is(err, models.ErrInsufficientCapacity) {
		t.Fatalf("expected ErrInsufficientCapacity, got %v", err)
	}
}

func TestAdjustmentMovements(t *testing.T) {
	db := setupTestDB(t)
	major, storeroom, _, _ := seedTopology(t, db)
	part := seedPart(t, db, "BRG-009")
	_, line := seedArrivalWithLine(t, db, major.ID, storeroom.ID, part.ID, "10")
	if _, err := models.ReceiveIntoUnassignedBin(db, &line, dec("2.00"), nil, 1); err != nil {
		t.Fatalf("receipt: %v", err)
	}

	if _, err := models.CreateAdjustmentMovement(db, part.ID, unassigned(storeroom.ID), dec("0"), nil, "count", 1); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("zero delta: expected ErrValidation, got %v", err)
	}

	down, err := models.CreateAdjustmentMovement(db, part.ID, unassigned(storeroom.ID), dec("-3"), nil, "cycle count short", 1)
	if err != nil {
		t.Fatalf("negative adjustment: %v", err)
	}
	decEqual(t, down.Quantity, "3", "movement quantity is absolute")
	if down.FromStoreroomId == nil || down.ToStoreroomId != nil {
		t.Fatal("negative adjustment should only carry a source tuple")
	}

	cost := dec("2.00")
	up, err := models.CreateAdjustmentMovement(db, part.ID, unassigned(storeroom.ID), dec("1"), &cost, "found on floor", 1)
	if err != nil {
		t.Fatalf("positive adjustment: %v", err)
	}
	if up.ToStoreroomId == nil || up.FromStoreroomId != nil {
		t.Fatal("positive adjustment should only carry a destination tuple")
	}

	var row models.ActiveInventory
	if err := db.Where("part_id = ?", part.ID).First(&row).Error; err != nil {
		t.Fatalf("row: %v", err)
	}
	decEqual(t, row.Quantity, "8", "10 - 3 + 1")
}

func TestTraceabilityChainAcrossMoves(t *testing.T) {
	db := setupTestDB(t)
	major, storeroom, location, bin := seedTopology(t, db)
	part := seedPart(t, db, "BRG-010")
	demand := seedDemand(t, db, part.ID, major.ID, "2", models.PartDemandStatusAtInventory)
	arrival, line := seedArrivalWithLine(t, db, major.ID, storeroom.ID, part.ID, "5")

	receipt, err := models.ReceiveIntoUnassignedBin(db, &line, dec("3.00"), nil, 1)
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	assign, err := models.AssignUnassignedToBin(db, part.ID, storeroom.ID, location.ID, utils.IntPtr(bin.ID), dec("5"), 1)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	issue, err := models.IssueToPartDemand(db, demand.ID, binRef(storeroom.ID, location.ID, bin.ID), dec("2"), 1)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	chain, err := models.GetTraceabilityChain(db, arrival.ID)
	if err != nil {
		t.Fatalf("GetTraceabilityChain: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("expected receipt/assign/issue, got %d movements", len(chain))
	}
	if chain[0].ID != receipt.ID || chain[1].ID != assign.ID || chain[2].ID != issue.ID {
		t.Fatalf("chain out of order: %d, %d, %d", chain[0].ID, chain[1].ID, chain[2].ID)
	}

	walked, err := models.GetMovementChain(db, issue.ID)
	if err != nil {
		t.Fatalf("GetMovementChain: %v", err)
	}
	if len(walked) != 3 || walked[0].ID != receipt.ID {
		t.Fatalf("back-walk should reach the receipt root, got %+v", walked)
	}
}

func TestSixMonthAverageCost(t *testing.T) {
	db := setupTestDB(t)
	major, storeroom, _, _ := seedTopology(t, db)
	part := seedPart(t, db, "BRG-011")

	_, noCost, err := models.SixMonthAverageCost(db, part.ID, storeroom.ID)
	if err != nil {
		t.Fatalf("SixMonthAverageCost: %v", err)
	}
	if noCost {
		t.Fatal("no receipts yet, expected ok=false")
	}

	_, first := seedArrivalWithLine(t, db, major.ID, storeroom.ID, part.ID, "10")
	if _, err := models.ReceiveIntoUnassignedBin(db, &first, dec("2.00"), nil, 1); err != nil {
		t.Fatalf("first receipt: %v", err)
	}
	_, second := seedArrivalWithLine(t, db, major.ID, storeroom.ID, part.ID, "30")
	if _, err := models.ReceiveIntoUnassignedBin(db, &second, dec("4.00"), nil, 1); err != nil {
		t.Fatalf("second receipt: %v", err)
	}

	avg, ok, err := models.SixMonthAverageCost(db, part.ID, storeroom.ID)
	if err != nil {
		t.Fatalf("SixMonthAverageCost: %v", err)
	}
	if !ok {
		t.Fatal("expected a costed window")
	}
	// (10*2 + 30*4) / 40
	decEqual(t, avg, "3.5", "weighted window average")
}

func TestRefreshInventorySummaryRecomputesFromRows(t *testing.T) {
	db := setupTestDB(t)
	major, storeroom, location, bin := seedTopology(t, db)
	part := seedPart(t, db, "BRG-012")
	_, line := seedArrivalWithLine(t, db, major.ID, storeroom.ID, part.ID, "9")
	if _, err := models.ReceiveIntoUnassignedBin(db, &line, dec("1.00"), nil, 1); err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if _, err := models.AssignUnassignedToBin(db, part.ID, storeroom.ID, location.ID, utils.IntPtr(bin.ID), dec("4"), 1); err != nil {
		t.Fatalf("assign: %v", err)
	}

	summary, err := models.RefreshInventorySummary(db, part.ID, storeroom.ID)
	if err != nil {
		t.Fatalf("RefreshInventorySummary: %v", err)
	}
	decEqual(t, summary.QuantityOnHand, "9", "summary spans all buckets in the storeroom")
}
