package models

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bitbucket.org/fleetdatahub/parts_backend/config"
	"bitbucket.org/fleetdatahub/parts_backend/utils"
	"gorm.io/gorm"
)

// Status propagation engine. Every function here takes the caller's
// transaction and returns the ordered list of changes it applied, so the
// workflow layer commits header, lines and demands atomically and can log
// what moved.

// PropagatePurchaseOrderStatus moves a purchase order to newStatus and
// cascades to its lines and their linked demands. Same-status is a no-op
// returning no changes. Arrived requires every line to already be
// Complete; a Cancelled line blocks it.
func PropagatePurchaseOrderStatus(ctx context.Context, tx *gorm.DB, purchaseOrderId int, newStatus PurchaseOrderStatus) ([]StatusChange, error) {
	po, err := utils.FetchModelForUpdate[PurchaseOrder](tx, purchaseOrderId)
	if err != nil {
		if err == utils.ErrorRecordNotFound {
			return nil, fmt.Errorf("%w: purchase order %d", ErrNotFound, purchaseOrderId)
		}
		return nil, err
	}
	if po.Status == newStatus {
		return nil, nil
	}
	if err := ValidateTransition(EntityKindPurchaseOrder, string(po.Status), string(newStatus)); err != nil {
		return nil, err
	}

	var lines []PurchaseOrderLine
	if err := tx.Where("purchase_order_id = ?", po.ID).Order("line_number asc").Find(&lines).Error; err != nil {
		return nil, err
	}

	if newStatus == PurchaseOrderStatusArrived {
		for _, line := range lines {
			if line.Status != PurchaseOrderLineStatusComplete {
				return nil, fmt.Errorf("%w: line %d is %s, purchase order %s cannot be marked Arrived",
					ErrPreconditionFailed, line.ID, line.Status, po.PONumber)
			}
		}
	}

	changes := []StatusChange{}
	from := po.Status
	po.Status = newStatus
	if err := tx.Model(po).Update("status", newStatus).Error; err != nil {
		return nil, err
	}
	changes = append(changes, StatusChange{Kind: EntityKindPurchaseOrder, EntityId: po.ID, From: string(from), To: string(newStatus)})

	if newStatus == PurchaseOrderStatusOrdered && po.EventId == nil {
		if err := createOrderedEvent(ctx, tx, po); err != nil {
			return nil, err
		}
	}

	lineTarget, cascadeLines := purchaseOrderLineTargetFor(newStatus)
	if !cascadeLines {
		return changes, nil
	}

	for i := range lines {
		line := &lines[i]
		if line.Status.IsTerminal() || line.Status == lineTarget {
			continue
		}
		if !CanTransition(EntityKindPurchaseOrderLine, string(line.Status), string(lineTarget)) {
			continue
		}
		lineChanges, err := applyLineStatus(tx, line, lineTarget)
		if err != nil {
			return nil, err
		}
		changes = append(changes, lineChanges...)
	}
	return changes, nil
}

// purchaseOrderLineTargetFor maps a header status to the line status the
// cascade should push. Draft and Arrived do not cascade: lines start out
// Pending, and Arrived is reached line by line through receipts.
func purchaseOrderLineTargetFor(s PurchaseOrderStatus) (PurchaseOrderLineStatus, bool) {
	switch s {
	case PurchaseOrderStatusOrdered:
		return PurchaseOrderLineStatusOrdered, true
	case PurchaseOrderStatusShipped:
		return PurchaseOrderLineStatusShipped, true
	case PurchaseOrderStatusCancelled:
		return PurchaseOrderLineStatusCancelled, true
	default:
		return "", false
	}
}

// applyLineStatus persists a validated line transition and cascades to the
// line's linked, non-terminal demands.
func applyLineStatus(tx *gorm.DB, line *PurchaseOrderLine, target PurchaseOrderLineStatus) ([]StatusChange, error) {
	from := line.Status
	line.Status = target
	if err := tx.Model(line).Update("status", target).Error; err != nil {
		return nil, err
	}
	changes := []StatusChange{{Kind: EntityKindPurchaseOrderLine, EntityId: line.ID, From: string(from), To: string(target)}}

	demandTarget, cascade := partDemandTargetFor(target)
	if !cascade {
		return changes, nil
	}
	demandChanges, err := cascadeLineDemands(tx, line.ID, demandTarget)
	if err != nil {
		return nil, err
	}
	return append(changes, demandChanges...), nil
}

func partDemandTargetFor(s PurchaseOrderLineStatus) (PartDemandStatus, bool) {
	switch s {
	case PurchaseOrderLineStatusOrdered:
		return PartDemandStatusOrdered, true
	case PurchaseOrderLineStatusShipped:
		return PartDemandStatusShipped, true
	case PurchaseOrderLineStatusComplete:
		return PartDemandStatusArrived, true
	default:
		// Cancelled lines leave their demands alone so they can be
		// re-linked to a replacement order.
		return "", false
	}
}

func cascadeLineDemands(tx *gorm.DB, purchaseOrderLineId int, target PartDemandStatus) ([]StatusChange, error) {
	var links []PartDemandPurchaseOrderLink
	if err := tx.Where("purchase_order_line_id = ?", purchaseOrderLineId).Find(&links).Error; err != nil {
		return nil, err
	}
	changes := []StatusChange{}
	for _, link := range links {
		demand, err := utils.FetchModelForUpdate[PartDemand](tx, link.PartDemandId)
		if err != nil {
			return nil, err
		}
		if demand.Status.IsTerminal() || demand.Status == target {
			continue
		}
		if !CanTransition(EntityKindPartDemand, string(demand.Status), string(target)) {
			continue
		}
		from := demand.Status
		if err := tx.Model(demand).Update("status", target).Error; err != nil {
			return nil, err
		}
		changes = append(changes, StatusChange{Kind: EntityKindPartDemand, EntityId: demand.ID, From: string(from), To: string(target)})
	}
	return changes, nil
}

// PropagatePurchaseOrderLineUpdate recomputes a line's received quantity
// after a linkage change and completes the line when the order quantity is
// fully covered. Completion cascades the line's demands to Arrived. The
// header's expected_delivery_date is stamped on first receipt when unset.
func PropagatePurchaseOrderLineUpdate(tx *gorm.DB, purchaseOrderLineId int) ([]StatusChange, error) {
	line, err := utils.FetchModelForUpdate[PurchaseOrderLine](tx, purchaseOrderLineId)
	if err != nil {
		if err == utils.ErrorRecordNotFound {
			return nil, fmt.Errorf("%w: purchase order line %d", ErrNotFound, purchaseOrderLineId)
		}
		return nil, err
	}
	received, err := line.QuantityReceivedTotal(tx)
	if err != nil {
		return nil, err
	}

	changes := []StatusChange{}
	if received.IsPositive() {
		po, err := utils.FetchModel[PurchaseOrder](tx, line.PurchaseOrderId)
		if err != nil {
			return nil, err
		}
		if po.ExpectedDeliveryDate == nil {
			now := time.Now().UTC()
			if err := tx.Model(po).Update("expected_delivery_date", now).Error; err != nil {
				return nil, err
			}
		}
	}

	if line.Status.IsTerminal() || received.LessThan(line.QuantityOrdered) {
		return changes, nil
	}
	if err := ValidateTransition(EntityKindPurchaseOrderLine, string(line.Status), string(PurchaseOrderLineStatusComplete)); err != nil {
		return nil, err
	}
	lineChanges, err := applyLineStatus(tx, line, PurchaseOrderLineStatusComplete)
	if err != nil {
		return nil, err
	}
	return append(changes, lineChanges...), nil
}

// PropagateDemandStatusUpdate moves a single demand along its lifecycle.
// Same-status is a no-op.
func PropagateDemandStatusUpdate(tx *gorm.DB, partDemandId int, newStatus PartDemandStatus) ([]StatusChange, error) {
	demand, err := utils.FetchModelForUpdate[PartDemand](tx, partDemandId)
	if err != nil {
		if err == utils.ErrorRecordNotFound {
			return nil, fmt.Errorf("%w: part demand %d", ErrNotFound, partDemandId)
		}
		return nil, err
	}
	if demand.Status == newStatus {
		return nil, nil
	}
	if err := ValidateTransition(EntityKindPartDemand, string(demand.Status), string(newStatus)); err != nil {
		return nil, err
	}
	from := demand.Status
	if err := tx.Model(demand).Update("status", newStatus).Error; err != nil {
		return nil, err
	}
	return []StatusChange{{Kind: EntityKindPartDemand, EntityId: demand.ID, From: string(from), To: string(newStatus)}}, nil
}

// createOrderedEvent writes the once-per-order timeline event plus its
// outbox row and stamps event_id on the header.
func createOrderedEvent(ctx context.Context, tx *gorm.DB, po *PurchaseOrder) error {
	description := fmt.Sprintf("Purchase Order %s - %s", po.PONumber, po.VendorName)
	if po.Notes != "" {
		notes := po.Notes
		if len(notes) > 100 {
			notes = notes[:100]
		}
		description = description + ": " + notes
	}
	userId, _ := utils.GetUserIdFromContext(ctx)
	event := Event{
		EventType:     "purchase_order_ordered",
		ReferenceId:   po.ID,
		ReferenceType: string(EntityKindPurchaseOrder),
		Description:   description,
		OccurredAt:    time.Now().UTC(),
		Audited:       Audited{CreatedById: userId},
	}
	if err := tx.Create(&event).Error; err != nil {
		return err
	}
	if err := tx.Model(po).Update("event_id", event.ID).Error; err != nil {
		return err
	}
	po.EventId = &event.ID

	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	payload, err := json.Marshal(config.EventMessage{
		ID:            event.ID,
		EventType:     event.EventType,
		ReferenceId:   event.ReferenceId,
		ReferenceType: event.ReferenceType,
		Description:   event.Description,
		OccurredAt:    event.OccurredAt,
		CorrelationId: correlationId,
	})
	if err != nil {
		return err
	}
	outbox := EventOutbox{
		EventId:       event.ID,
		Payload:       string(payload),
		PublishStatus: OutboxPublishStatusPending,
	}
	return tx.Create(&outbox).Error
}
