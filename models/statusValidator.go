package models

import (
	"fmt"
)

// Transition tables, keyed by current status. A status absent from its
// table has no legal outgoing transitions; terminal states are simply
// missing. Unknown statuses fail closed.

var purchaseOrderTransitions = map[PurchaseOrderStatus][]PurchaseOrderStatus{
	PurchaseOrderStatusDraft:   {PurchaseOrderStatusOrdered, PurchaseOrderStatusCancelled},
	PurchaseOrderStatusOrdered: {PurchaseOrderStatusShipped, PurchaseOrderStatusCancelled},
	PurchaseOrderStatusShipped: {PurchaseOrderStatusArrived},
}

var purchaseOrderLineTransitions = map[PurchaseOrderLineStatus][]PurchaseOrderLineStatus{
	PurchaseOrderLineStatusPending: {PurchaseOrderLineStatusOrdered, PurchaseOrderLineStatusCancelled},
	PurchaseOrderLineStatusOrdered: {PurchaseOrderLineStatusShipped, PurchaseOrderLineStatusComplete, PurchaseOrderLineStatusCancelled},
	PurchaseOrderLineStatusShipped: {PurchaseOrderLineStatusComplete},
}

// Demands move along a forward-only chain. Skipping ahead is allowed (a
// walk-in purchase may jump straight to Arrived); moving backwards is not.
var partDemandChain = []PartDemandStatus{
	PartDemandStatusPlanned,
	PartDemandStatusManagerApproval,
	PartDemandStatusInventoryApproval,
	PartDemandStatusOrdered,
	PartDemandStatusShipped,
	PartDemandStatusArrived,
	PartDemandStatusAtInventory,
	PartDemandStatusIssued,
	PartDemandStatusInstalled,
}

var arrivalTransitions = map[ArrivalStatus][]ArrivalStatus{
	ArrivalStatusPending:  {ArrivalStatusReceived},
	ArrivalStatusReceived: {ArrivalStatusProcessed},
}

// CanTransition reports whether from -> to is a legal move for the given
// entity kind. Same-status is always allowed (the status manager treats it
// as a no-op). Anything not explicitly listed is rejected.
func CanTransition(kind EntityKind, from string, to string) bool {
	if from == to {
		return true
	}
	switch kind {
	case EntityKindPurchaseOrder:
		return contains(purchaseOrderTransitions[PurchaseOrderStatus(from)], PurchaseOrderStatus(to))
	case EntityKindPurchaseOrderLine:
		return contains(purchaseOrderLineTransitions[PurchaseOrderLineStatus(from)], PurchaseOrderLineStatus(to))
	case EntityKindPartDemand:
		fromIdx := demandChainIndex(PartDemandStatus(from))
		toIdx := demandChainIndex(PartDemandStatus(to))
		if fromIdx < 0 || toIdx < 0 {
			return false
		}
		return toIdx > fromIdx
	case EntityKindPartArrival:
		return contains(arrivalTransitions[ArrivalStatus(from)], ArrivalStatus(to))
	default:
		return false
	}
}

// ValidateTransition is CanTransition with a wrapped ErrInvalidTransition
// for the engine call sites.
func ValidateTransition(kind EntityKind, from string, to string) error {
	if !CanTransition(kind, from, to) {
		return fmt.Errorf("%w: %s %q -> %q", ErrInvalidTransition, kind, from, to)
	}
	return nil
}

func demandChainIndex(s PartDemandStatus) int {
	for i, status := range partDemandChain {
		if status == s {
			return i
		}
	}
	return -1
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
