package models_test

import (
	"context"
	"errors"
	"testing"

	"bitbucket.org/fleetdatahub/parts_backend/models"
)

func TestCanTransitionFailsClosed(t *testing.T) {
	cases := []struct {
		kind models.EntityKind
		from string
		to   string
		want bool
	}{
		{models.EntityKindPurchaseOrder, "Draft", "Ordered", true},
		{models.EntityKindPurchaseOrder, "Draft", "Shipped", false},
		{models.EntityKindPurchaseOrder, "Shipped", "Arrived", true},
		{models.EntityKindPurchaseOrder, "Arrived", "Shipped", false},
		{models.EntityKindPurchaseOrder, "Cancelled", "Draft", false},
		{models.EntityKindPurchaseOrder, "Draft", "Draft", true},
		{models.EntityKindPurchaseOrder, "Bogus", "Ordered", false},
		{models.EntityKindPurchaseOrder, "Draft", "Bogus", false},
		{models.EntityKindPurchaseOrderLine, "Pending", "Ordered", true},
		{models.EntityKindPurchaseOrderLine, "Pending", "Complete", false},
		{models.EntityKindPurchaseOrderLine, "Ordered", "Complete", true},
		{models.EntityKindPurchaseOrderLine, "Complete", "Ordered", false},
		{models.EntityKindPartArrival, "Pending", "Received", true},
		{models.EntityKindPartArrival, "Received", "Pending", false},
		{models.EntityKind("mystery"), "Pending", "Received", false},
	}
	for _, c := range cases {
		if got := models.CanTransition(c.kind, c.from, c.to); got != c.want {
			t.Fatalf("CanTransition(%s, %s, %s) = %v, want %v", c.kind, c.from, c.to, got, c.want)
		}
	}
}

func TestDemandTransitionsAreForwardOnly(t *testing.T) {
	kind := models.EntityKindPartDemand
	if !models.CanTransition(kind, "Planned", "Ordered") {
		t.Fatal("skipping ahead along the demand chain should be allowed")
	}
	if !models.CanTransition(kind, "Planned", "Arrived") {
		t.Fatal("a walk-in purchase can jump straight to Arrived")
	}
	if models.CanTransition(kind, "Ordered", "Planned") {
		t.Fatal("moving backwards along the demand chain must be rejected")
	}
	if models.CanTransition(kind, "Issued", "Installed") == false {
		t.Fatal("Issued -> Installed is the final forward step")
	}
	if models.CanTransition(kind, "Installed", "Issued") {
		t.Fatal("Installed is terminal")
	}
	if models.CanTransition(kind, "NotAStatus", "Ordered") {
		t.Fatal("unknown statuses must fail closed")
	}
}

func TestPropagateOrderedCascadesAndCreatesEventOnce(t *testing.T) {
	db := setupTestDB(t)
	major, _, _, _ := seedTopology(t, db)
	part := seedPart(t, db, "BRG-6204")
	po := seedPurchaseOrder(t, db, major.ID, models.PurchaseOrderStatusDraft)
	line := seedPurchaseOrderLine(t, db, po.ID, part.ID, 1, "10", "4.25", models.PurchaseOrderLineStatusPending)
	demand := seedDemand(t, db, part.ID, major.ID, "10", models.PartDemandStatusPlanned)
	if _, err := models.CreateDemandLink(db, demand.ID, line.ID, dec("10")); err != nil {
		t.Fatalf("CreateDemandLink: %v", err)
	}
	var linked models.PartDemand
	if err := db.First(&linked, demand.ID).Error; err != nil {
		t.Fatalf("reload linked demand: %v", err)
	}
	if linked.Status != models.PartDemandStatusOrdered {
		t.Fatalf("linking should move the demand to Ordered, got %s", linked.Status)
	}

	ctx := context.Background()
	changes, err := models.PropagatePurchaseOrderStatus(ctx, db, po.ID, models.PurchaseOrderStatusOrdered)
	if err != nil {
		t.Fatalf("PropagatePurchaseOrderStatus: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("expected header+line changes, got %d: %+v", len(changes), changes)
	}

	var gotLine models.PurchaseOrderLine
	if err := db.First(&gotLine, line.ID).Error; err != nil {
		t.Fatalf("reload line: %v", err)
	}
	if gotLine.Status != models.PurchaseOrderLineStatusOrdered {
		t.Fatalf("line status = %s, want Ordered", gotLine.Status)
	}
	var gotDemand models.PartDemand
	if err := db.First(&gotDemand, demand.ID).Error; err != nil {
		t.Fatalf("reload demand: %v", err)
	}
	if gotDemand.Status != models.PartDemandStatusOrdered {
		t.Fatalf("demand status = %s, want Ordered", gotDemand.Status)
	}

	var gotPO models.PurchaseOrder
	if err := db.First(&gotPO, po.ID).Error; err != nil {
		t.Fatalf("reload po: %v", err)
	}
	if gotPO.EventId == nil {
		t.Fatal("expected event_id stamped on first Ordered")
	}
	var eventCount, outboxCount int64
	db.Model(&models.Event{}).Count(&eventCount)
	db.Model(&models.EventOutbox{}).Count(&outboxCount)
	if eventCount != 1 || outboxCount != 1 {
		t.Fatalf("expected 1 event + 1 outbox row, got %d/%d", eventCount, outboxCount)
	}

	// Shipped must not create a second event.
	if _, err := models.PropagatePurchaseOrderStatus(ctx, db, po.ID, models.PurchaseOrderStatusShipped); err != nil {
		t.Fatalf("propagate Shipped: %v", err)
	}
	db.Model(&models.Event{}).Count(&eventCount)
	if eventCount != 1 {
		t.Fatalf("event created twice, count = %d", eventCount)
	}
}

func TestPropagateSameStatusIsNoOp(t *testing.T) {
	db := setupTestDB(t)
	major, _, _, _ := seedTopology(t, db)
	po := seedPurchaseOrder(t, db, major.ID, models.PurchaseOrderStatusDraft)

	changes, err := models.PropagatePurchaseOrderStatus(context.Background(), db, po.ID, models.PurchaseOrderStatusDraft)
	if err != nil {
		t.Fatalf("same-status propagation should be a no-op, got %v", err)
	}
	if len(changes) != 0 {
		t.Fatalf("expected no changes, got %+v", changes)
	}
}

func TestPropagateArrivedRequiresCompleteLines(t *testing.T) {
	db := setupTestDB(t)
	major, _, _, _ := seedTopology(t, db)
	part := seedPart(t, db, "FLT-100")
	po := seedPurchaseOrder(t, db, major.ID, models.PurchaseOrderStatusShipped)
	seedPurchaseOrderLine(t, db, po.ID, part.ID, 1, "5", "1.10", models.PurchaseOrderLineStatusShipped)

	_, err := models.PropagatePurchaseOrderStatus(context.Background(), db, po.ID, models.PurchaseOrderStatusArrived)
	if !errors.Is(err, models.ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed with an open line, got %v", err)
	}

	if err := db.Model(&models.PurchaseOrderLine{}).Where("purchase_order_id = ?", po.ID).
		Update("status", models.PurchaseOrderLineStatusComplete).Error; err != nil {
		t.Fatalf("complete line: %v", err)
	}
	if _, err := models.PropagatePurchaseOrderStatus(context.Background(), db, po.ID, models.PurchaseOrderStatusArrived); err != nil {
		t.Fatalf("propagate Arrived with complete lines: %v", err)
	}
}

func TestPropagateArrivedRejectsCancelledLine(t *testing.T) {
	db := setupTestDB(t)
	major, _, _, _ := seedTopology(t, db)
	part := seedPart(t, db, "FLT-200")
	po := seedPurchaseOrder(t, db, major.ID, models.PurchaseOrderStatusShipped)
	seedPurchaseOrderLine(t, db, po.ID, part.ID, 1, "5", "1.10", models.PurchaseOrderLineStatusComplete)
	cancelled := seedPurchaseOrderLine(t, db, po.ID, part.ID, 2, "3", "1.10", models.PurchaseOrderLineStatusCancelled)

	_, err := models.PropagatePurchaseOrderStatus(context.Background(), db, po.ID, models.PurchaseOrderStatusArrived)
	if !errors.Is(err, models.ErrPreconditionFailed) {
		t.Fatalf("a Cancelled line must block Arrived, got %v", err)
	}

	var gotPO models.PurchaseOrder
	db.First(&gotPO, po.ID)
	if gotPO.Status != models.PurchaseOrderStatusShipped {
		t.Fatalf("header moved to %s despite cancelled line %d", gotPO.Status, cancelled.ID)
	}
}

func TestPropagateInvalidTransitionRejected(t *testing.T) {
	db := setupTestDB(t)
	major, _, _, _ := seedTopology(t, db)
	po := seedPurchaseOrder(t, db, major.ID, models.PurchaseOrderStatusDraft)

	_, err := models.PropagatePurchaseOrderStatus(context.Background(), db, po.ID, models.PurchaseOrderStatusShipped)
	if !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for Draft -> Shipped, got %v", err)
	}
}

func TestCascadeSkipsTerminalDemands(t *testing.T) {
	db := setupTestDB(t)
	major, _, _, _ := seedTopology(t, db)
	part := seedPart(t, db, "HOSE-22")
	po := seedPurchaseOrder(t, db, major.ID, models.PurchaseOrderStatusDraft)
	line := seedPurchaseOrderLine(t, db, po.ID, part.ID, 1, "8", "2.00", models.PurchaseOrderLineStatusPending)
	issued := seedDemand(t, db, part.ID, major.ID, "4", models.PartDemandStatusIssued)
	open := seedDemand(t, db, part.ID, major.ID, "4", models.PartDemandStatusPlanned)
	// Seed links directly; the issued demand predates this order.
	mustCreate(t, db, &models.PartDemandPurchaseOrderLink{PartDemandId: issued.ID, PurchaseOrderLineId: line.ID, QuantityLinked: dec("4")})
	mustCreate(t, db, &models.PartDemandPurchaseOrderLink{PartDemandId: open.ID, PurchaseOrderLineId: line.ID, QuantityLinked: dec("4")})

	if _, err := models.PropagatePurchaseOrderStatus(context.Background(), db, po.ID, models.PurchaseOrderStatusOrdered); err != nil {
		t.Fatalf("propagate: %v", err)
	}

	var gotIssued, gotOpen models.PartDemand
	db.First(&gotIssued, issued.ID)
	db.First(&gotOpen, open.ID)
	if gotIssued.Status != models.PartDemandStatusIssued {
		t.Fatalf("terminal demand moved to %s", gotIssued.Status)
	}
	if gotOpen.Status != models.PartDemandStatusOrdered {
		t.Fatalf("open demand = %s, want Ordered", gotOpen.Status)
	}
}

func TestLineCompletionCascadesDemandToArrived(t *testing.T) {
	db := setupTestDB(t)
	major, storeroom, _, _ := seedTopology(t, db)
	part := seedPart(t, db, "SEAL-9")
	po := seedPurchaseOrder(t, db, major.ID, models.PurchaseOrderStatusOrdered)
	line := seedPurchaseOrderLine(t, db, po.ID, part.ID, 1, "6", "3.00", models.PurchaseOrderLineStatusOrdered)
	demand := seedDemand(t, db, part.ID, major.ID, "6", models.PartDemandStatusOrdered)
	if _, err := models.CreateDemandLink(db, demand.ID, line.ID, dec("6")); err != nil {
		t.Fatalf("CreateDemandLink: %v", err)
	}

	_, arrivalLine := seedArrivalWithLine(t, db, major.ID, storeroom.ID, part.ID, "6")
	if _, err := models.CreateArrivalLink(db, arrivalLine.ID, line.ID, dec("6")); err != nil {
		t.Fatalf("CreateArrivalLink: %v", err)
	}

	changes, err := models.PropagatePurchaseOrderLineUpdate(db, line.ID)
	if err != nil {
		t.Fatalf("PropagatePurchaseOrderLineUpdate: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("expected line+demand changes, got %+v", changes)
	}

	var gotLine models.PurchaseOrderLine
	db.First(&gotLine, line.ID)
	if gotLine.Status != models.PurchaseOrderLineStatusComplete {
		t.Fatalf("line = %s, want Complete", gotLine.Status)
	}
	var gotDemand models.PartDemand
	db.First(&gotDemand, demand.ID)
	if gotDemand.Status != models.PartDemandStatusArrived {
		t.Fatalf("demand = %s, want Arrived", gotDemand.Status)
	}
	var gotPO models.PurchaseOrder
	db.First(&gotPO, po.ID)
	if gotPO.ExpectedDeliveryDate == nil {
		t.Fatal("expected_delivery_date should be stamped on first receipt")
	}
}

func TestPartialReceiptLeavesLineOpen(t *testing.T) {
	db := setupTestDB(t)
	major, storeroom, _, _ := seedTopology(t, db)
	part := seedPart(t, db, "GSKT-3")
	po := seedPurchaseOrder(t, db, major.ID, models.PurchaseOrderStatusOrdered)
	line := seedPurchaseOrderLine(t, db, po.ID, part.ID, 1, "10", "1.00", models.PurchaseOrderLineStatusOrdered)

	_, arrivalLine := seedArrivalWithLine(t, db, major.ID, storeroom.ID, part.ID, "4")
	if _, err := models.CreateArrivalLink(db, arrivalLine.ID, line.ID, dec("4")); err != nil {
		t.Fatalf("CreateArrivalLink: %v", err)
	}
	if _, err := models.PropagatePurchaseOrderLineUpdate(db, line.ID); err != nil {
		t.Fatalf("propagate: %v", err)
	}
	var gotLine models.PurchaseOrderLine
	db.First(&gotLine, line.ID)
	if gotLine.Status != models.PurchaseOrderLineStatusOrdered {
		t.Fatalf("partially received line = %s, want Ordered", gotLine.Status)
	}
}

func TestPropagateDemandStatusUpdate(t *testing.T) {
	db := setupTestDB(t)
	major, _, _, _ := seedTopology(t, db)
	part := seedPart(t, db, "VLT-77")
	demand := seedDemand(t, db, part.ID, major.ID, "2", models.PartDemandStatusAtInventory)

	changes, err := models.PropagateDemandStatusUpdate(db, demand.ID, models.PartDemandStatusIssued)
	if err != nil {
		t.Fatalf("PropagateDemandStatusUpdate: %v", err)
	}
	if len(changes) != 1 || changes[0].To != string(models.PartDemandStatusIssued) {
		t.Fatalf("unexpected changes: %+v", changes)
	}

	_, err = models.PropagateDemandStatusUpdate(db, demand.ID, models.PartDemandStatusPlanned)
	if !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition going backwards, got %v", err)
	}
}
