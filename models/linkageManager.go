package models

import (
	"errors"
	"fmt"

	"bitbucket.org/fleetdatahub/parts_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Linkage engine. Links are the only quantity relationships between
// arrivals, demands and purchase order lines; every create/update runs its
// capacity checks against rows locked FOR UPDATE so concurrent links
// cannot oversubscribe a line.

// CreateArrivalLink links quantity from an arrival line to a purchase
// order line. Both sides must reference the same part, the pair must not
// already be linked, and the quantity must fit the arrival line's
// unlinked remainder and the order line's remaining-to-receive.
func CreateArrivalLink(tx *gorm.DB, arrivalLineId int, purchaseOrderLineId int, quantity decimal.Decimal) (*ArrivalPurchaseOrderLink, error) {
	if !quantity.IsPositive() {
		return nil, fmt.Errorf("%w: link quantity must be positive", ErrValidation)
	}
	arrivalLine, err := utils.FetchModelForUpdate[ArrivalLine](tx, arrivalLineId)
	if err != nil {
		return nil, notFoundOr(err, "arrival line", arrivalLineId)
	}
	poLine, err := utils.FetchModelForUpdate[PurchaseOrderLine](tx, purchaseOrderLineId)
	if err != nil {
		return nil, notFoundOr(err, "purchase order line", purchaseOrderLineId)
	}
	if arrivalLine.PartId != poLine.PartId {
		return nil, fmt.Errorf("%w: arrival line part %d vs order line part %d", ErrPartMismatch, arrivalLine.PartId, poLine.PartId)
	}

	var count int64
	if err := tx.Model(&ArrivalPurchaseOrderLink{}).
		Where("arrival_line_id = ? AND purchase_order_line_id = ?", arrivalLineId, purchaseOrderLineId).
		Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: arrival line %d already linked to order line %d", ErrDuplicateLink, arrivalLineId, purchaseOrderLineId)
	}

	available, err := arrivalLine.QuantityAvailableForLinking(tx)
	if err != nil {
		return nil, err
	}
	if quantity.GreaterThan(available) {
		return nil, fmt.Errorf("%w: arrival line %d has %s available, wanted %s",
			ErrInsufficientCapacity, arrivalLineId, available, quantity)
	}
	remaining, err := poLine.QuantityRemainingToReceive(tx)
	if err != nil {
		return nil, err
	}
	if quantity.GreaterThan(remaining) {
		return nil, fmt.Errorf("%w: order line %d has %s remaining to receive, wanted %s",
			ErrInsufficientCapacity, purchaseOrderLineId, remaining, quantity)
	}

	link := ArrivalPurchaseOrderLink{
		ArrivalLineId:       arrivalLineId,
		PurchaseOrderLineId: purchaseOrderLineId,
		QuantityLinked:      quantity,
	}
	if err := tx.Create(&link).Error; err != nil {
		return nil, classifyDuplicate(err)
	}
	return &link, nil
}

// UpdateArrivalLinkQuantity changes an existing link's quantity. Capacity
// is checked with the link's current quantity added back, so shrinking a
// link always succeeds.
func UpdateArrivalLinkQuantity(tx *gorm.DB, linkId int, quantity decimal.Decimal) (*ArrivalPurchaseOrderLink, error) {
	if !quantity.IsPositive() {
		return nil, fmt.Errorf("%w: link quantity must be positive", ErrValidation)
	}
	link, err := utils.FetchModelForUpdate[ArrivalPurchaseOrderLink](tx, linkId)
	if err != nil {
		return nil, notFoundOr(err, "arrival link", linkId)
	}
	arrivalLine, err := utils.FetchModelForUpdate[ArrivalLine](tx, link.ArrivalLineId)
	if err != nil {
		return nil, err
	}
	poLine, err := utils.FetchModelForUpdate[PurchaseOrderLine](tx, link.PurchaseOrderLineId)
	if err != nil {
		return nil, err
	}

	available, err := arrivalLine.QuantityAvailableForLinking(tx)
	if err != nil {
		return nil, err
	}
	if quantity.GreaterThan(available.Add(link.QuantityLinked)) {
		return nil, fmt.Errorf("%w: arrival line %d has %s available, wanted %s",
			ErrInsufficientCapacity, link.ArrivalLineId, available.Add(link.QuantityLinked), quantity)
	}
	remaining, err := poLine.QuantityRemainingToReceive(tx)
	if err != nil {
		return nil, err
	}
	if quantity.GreaterThan(remaining.Add(link.QuantityLinked)) {
		return nil, fmt.Errorf("%w: order line %d has %s remaining to receive, wanted %s",
			ErrInsufficientCapacity, link.PurchaseOrderLineId, remaining.Add(link.QuantityLinked), quantity)
	}

	link.QuantityLinked = quantity
	if err := tx.Model(link).Update("quantity_linked", quantity).Error; err != nil {
		return nil, err
	}
	return link, nil
}

// DeleteArrivalLink removes a link. Statuses already cascaded from the
// linked quantities are left as they are; correcting them is a manual
// follow-up.
func DeleteArrivalLink(tx *gorm.DB, linkId int) error {
	link, err := utils.FetchModelForUpdate[ArrivalPurchaseOrderLink](tx, linkId)
	if err != nil {
		return notFoundOr(err, "arrival link", linkId)
	}
	return tx.Delete(link).Error
}

// CreateDemandLink allocates quantity on a purchase order line to a part
// demand and refreshes the demand's quantity_on_order.
func CreateDemandLink(tx *gorm.DB, partDemandId int, purchaseOrderLineId int, quantity decimal.Decimal) (*PartDemandPurchaseOrderLink, error) {
	if !quantity.IsPositive() {
		return nil, fmt.Errorf("%w: link quantity must be positive", ErrValidation)
	}
	demand, err := utils.FetchModelForUpdate[PartDemand](tx, partDemandId)
	if err != nil {
		return nil, notFoundOr(err, "part demand", partDemandId)
	}
	poLine, err := utils.FetchModelForUpdate[PurchaseOrderLine](tx, purchaseOrderLineId)
	if err != nil {
		return nil, notFoundOr(err, "purchase order line", purchaseOrderLineId)
	}
	if demand.PartId != poLine.PartId {
		return nil, fmt.Errorf("%w: demand part %d vs order line part %d", ErrPartMismatch, demand.PartId, poLine.PartId)
	}

	var count int64
	if err := tx.Model(&PartDemandPurchaseOrderLink{}).
		Where("part_demand_id = ? AND purchase_order_line_id = ?", partDemandId, purchaseOrderLineId).
		Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: demand %d already linked to order line %d", ErrDuplicateLink, partDemandId, purchaseOrderLineId)
	}

	linked, err := demand.LinkedQuantityTotal(tx)
	if err != nil {
		return nil, err
	}
	if linked.Add(quantity).GreaterThan(demand.QuantityRequired) {
		return nil, fmt.Errorf("%w: demand %d requires %s, already linked %s, wanted %s",
			ErrInsufficientCapacity, partDemandId, demand.QuantityRequired, linked, quantity)
	}
	allocated, err := poLine.QuantityAllocated(tx)
	if err != nil {
		return nil, err
	}
	if allocated.Add(quantity).GreaterThan(poLine.QuantityOrdered) {
		return nil, fmt.Errorf("%w: order line %d ordered %s, already allocated %s, wanted %s",
			ErrInsufficientCapacity, purchaseOrderLineId, poLine.QuantityOrdered, allocated, quantity)
	}

	link := PartDemandPurchaseOrderLink{
		PartDemandId:        partDemandId,
		PurchaseOrderLineId: purchaseOrderLineId,
		QuantityLinked:      quantity,
	}
	if err := tx.Create(&link).Error; err != nil {
		return nil, classifyDuplicate(err)
	}
	if err := demand.RecomputeQuantityOnOrder(tx); err != nil {
		return nil, err
	}
	// Linking a demand to an order line means it is on order now. Demands
	// already past Ordered keep their position in the chain.
	if demand.Status != PartDemandStatusOrdered &&
		CanTransition(EntityKindPartDemand, string(demand.Status), string(PartDemandStatusOrdered)) {
		if err := tx.Model(demand).Update("status", PartDemandStatusOrdered).Error; err != nil {
			return nil, err
		}
	}
	return &link, nil
}

// UpdateDemandLinkQuantity changes an allocation, checking capacity with
// the old quantity added back on both sides.
func UpdateDemandLinkQuantity(tx *gorm.DB, linkId int, quantity decimal.Decimal) (*PartDemandPurchaseOrderLink, error) {
	if !quantity.IsPositive() {
		return nil, fmt.Errorf("%w: link quantity must be positive", ErrValidation)
	}
	link, err := utils.FetchModelForUpdate[PartDemandPurchaseOrderLink](tx, linkId)
	if err != nil {
		return nil, notFoundOr(err, "demand link", linkId)
	}
	demand, err := utils.FetchModelForUpdate[PartDemand](tx, link.PartDemandId)
	if err != nil {
		return nil, err
	}
	poLine, err := utils.FetchModelForUpdate[PurchaseOrderLine](tx, link.PurchaseOrderLineId)
	if err != nil {
		return nil, err
	}

	linked, err := demand.LinkedQuantityTotal(tx)
	if err != nil {
		return nil, err
	}
	if linked.Sub(link.QuantityLinked).Add(quantity).GreaterThan(demand.QuantityRequired) {
		return nil, fmt.Errorf("%w: demand %d requires %s, wanted %s",
			ErrInsufficientCapacity, link.PartDemandId, demand.QuantityRequired, quantity)
	}
	allocated, err := poLine.QuantityAllocated(tx)
	if err != nil {
		return nil, err
	}
	if allocated.Sub(link.QuantityLinked).Add(quantity).GreaterThan(poLine.QuantityOrdered) {
		return nil, fmt.Errorf("%w: order line %d ordered %s, wanted %s",
			ErrInsufficientCapacity, link.PurchaseOrderLineId, poLine.QuantityOrdered, quantity)
	}

	link.QuantityLinked = quantity
	if err := tx.Model(link).Update("quantity_linked", quantity).Error; err != nil {
		return nil, err
	}
	if err := demand.RecomputeQuantityOnOrder(tx); err != nil {
		return nil, err
	}
	return link, nil
}

// DeleteDemandLink removes an allocation and refreshes quantity_on_order.
// Demand status is not reverted.
func DeleteDemandLink(tx *gorm.DB, linkId int) error {
	link, err := utils.FetchModelForUpdate[PartDemandPurchaseOrderLink](tx, linkId)
	if err != nil {
		return notFoundOr(err, "demand link", linkId)
	}
	if err := tx.Delete(link).Error; err != nil {
		return err
	}
	demand, err := utils.FetchModelForUpdate[PartDemand](tx, link.PartDemandId)
	if err != nil {
		return err
	}
	return demand.RecomputeQuantityOnOrder(tx)
}

// AutoLinkArrivalLine spreads an arrival line's unlinked quantity across
// open purchase order lines for the same part, oldest line first. Lines on
// orders outside majorLocationId are skipped when the filter is non-nil.
// Returns the links it created; an arrival with nothing linkable returns
// an empty slice, not an error.
func AutoLinkArrivalLine(tx *gorm.DB, arrivalLineId int, majorLocationId *int) ([]ArrivalPurchaseOrderLink, error) {
	arrivalLine, err := utils.FetchModelForUpdate[ArrivalLine](tx, arrivalLineId)
	if err != nil {
		return nil, notFoundOr(err, "arrival line", arrivalLineId)
	}
	available, err := arrivalLine.QuantityAvailableForLinking(tx)
	if err != nil {
		return nil, err
	}
	if !available.IsPositive() {
		return []ArrivalPurchaseOrderLink{}, nil
	}

	candidates, err := openLinesForPart(tx, arrivalLine.PartId, majorLocationId)
	if err != nil {
		return nil, err
	}

	created := []ArrivalPurchaseOrderLink{}
	for _, line := range candidates {
		if !available.IsPositive() {
			break
		}
		remaining, err := line.QuantityRemainingToReceive(tx)
		if err != nil {
			return nil, err
		}
		if !remaining.IsPositive() {
			continue
		}
		take := decimal.Min(available, remaining)
		link, err := CreateArrivalLink(tx, arrivalLineId, line.ID, take)
		if err != nil {
			if errors.Is(err, ErrDuplicateLink) {
				continue
			}
			return nil, err
		}
		created = append(created, *link)
		available = available.Sub(take)
	}
	return created, nil
}

// FindFullyLinkablePurchaseOrderLine returns the oldest open line that can
// absorb the arrival line's entire unlinked quantity in one link, or
// ErrNotFound when no single line has the capacity.
func FindFullyLinkablePurchaseOrderLine(tx *gorm.DB, arrivalLineId int, majorLocationId *int) (*PurchaseOrderLine, error) {
	arrivalLine, err := utils.FetchModel[ArrivalLine](tx, arrivalLineId)
	if err != nil {
		return nil, notFoundOr(err, "arrival line", arrivalLineId)
	}
	available, err := arrivalLine.QuantityAvailableForLinking(tx)
	if err != nil {
		return nil, err
	}
	candidates, err := openLinesForPart(tx, arrivalLine.PartId, majorLocationId)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		remaining, err := candidates[i].QuantityRemainingToReceive(tx)
		if err != nil {
			return nil, err
		}
		if remaining.GreaterThanOrEqual(available) {
			return &candidates[i], nil
		}
	}
	return nil, fmt.Errorf("%w: no single order line can absorb %s of part %d", ErrNotFound, available, arrivalLine.PartId)
}

func openLinesForPart(tx *gorm.DB, partId int, majorLocationId *int) ([]PurchaseOrderLine, error) {
	q := tx.Model(&PurchaseOrderLine{}).
		Joins("JOIN purchase_orders ON purchase_orders.id = purchase_order_lines.purchase_order_id").
		Where("purchase_order_lines.part_id = ?", partId).
		Where("purchase_order_lines.status IN ?", []PurchaseOrderLineStatus{
			PurchaseOrderLineStatusPending,
			PurchaseOrderLineStatusOrdered,
			PurchaseOrderLineStatusShipped,
		}).
		Order("purchase_order_lines.id asc")
	if majorLocationId != nil {
		q = q.Where("purchase_orders.major_location_id = ?", *majorLocationId)
	}
	var lines []PurchaseOrderLine
	if err := q.Find(&lines).Error; err != nil {
		return nil, err
	}
	return lines, nil
}

// LinkageInfo is the per-line rollup the back office screens show.
type LinkageInfo struct {
	PurchaseOrderLineId int                           `json:"purchase_order_line_id"`
	QuantityOrdered     decimal.Decimal               `json:"quantity_ordered"`
	QuantityReceived    decimal.Decimal               `json:"quantity_received"`
	QuantityAllocated   decimal.Decimal               `json:"quantity_allocated"`
	QuantityRemaining   decimal.Decimal               `json:"quantity_remaining"`
	ArrivalLinks        []ArrivalPurchaseOrderLink    `json:"arrival_links"`
	DemandLinks         []PartDemandPurchaseOrderLink `json:"demand_links"`
}

func GetLinkageInfo(tx *gorm.DB, purchaseOrderLineId int) (*LinkageInfo, error) {
	line, err := utils.FetchModel[PurchaseOrderLine](tx, purchaseOrderLineId)
	if err != nil {
		return nil, notFoundOr(err, "purchase order line", purchaseOrderLineId)
	}
	info := LinkageInfo{
		PurchaseOrderLineId: line.ID,
		QuantityOrdered:     line.QuantityOrdered,
	}
	if err := tx.Where("purchase_order_line_id = ?", line.ID).Find(&info.ArrivalLinks).Error; err != nil {
		return nil, err
	}
	if err := tx.Where("purchase_order_line_id = ?", line.ID).Find(&info.DemandLinks).Error; err != nil {
		return nil, err
	}
	received := decimal.Zero
	for _, l := range info.ArrivalLinks {
		received = received.Add(l.QuantityLinked)
	}
	allocated := decimal.Zero
	for _, l := range info.DemandLinks {
		allocated = allocated.Add(l.QuantityLinked)
	}
	info.QuantityReceived = received
	info.QuantityAllocated = allocated
	info.QuantityRemaining = line.QuantityOrdered.Sub(received)
	if info.QuantityRemaining.IsNegative() {
		info.QuantityRemaining = decimal.Zero
	}
	return &info, nil
}

// BrokenDemandLink is a demand link whose two sides no longer reference
// the same part (master data edits can cause this). Reported for manual
// repair, never auto-deleted.
type BrokenDemandLink struct {
	LinkId              int `json:"link_id"`
	PartDemandId        int `json:"part_demand_id"`
	DemandPartId        int `json:"demand_part_id"`
	PurchaseOrderLineId int `json:"purchase_order_line_id"`
	LinePartId          int `json:"line_part_id"`
}

func DetectBrokenDemandLinks(tx *gorm.DB) ([]BrokenDemandLink, error) {
	var broken []BrokenDemandLink
	err := tx.Model(&PartDemandPurchaseOrderLink{}).
		Select("part_demand_purchase_order_links.id AS link_id",
			"part_demand_purchase_order_links.part_demand_id",
			"part_demands.part_id AS demand_part_id",
			"part_demand_purchase_order_links.purchase_order_line_id",
			"purchase_order_lines.part_id AS line_part_id").
		Joins("JOIN part_demands ON part_demands.id = part_demand_purchase_order_links.part_demand_id").
		Joins("JOIN purchase_order_lines ON purchase_order_lines.id = part_demand_purchase_order_links.purchase_order_line_id").
		Where("part_demands.part_id <> purchase_order_lines.part_id").
		Order("part_demand_purchase_order_links.id asc").
		Scan(&broken).Error
	if err != nil {
		return nil, err
	}
	return broken, nil
}

func notFoundOr(err error, what string, id int) error {
	if err == utils.ErrorRecordNotFound {
		return fmt.Errorf("%w: %s %d", ErrNotFound, what, id)
	}
	return err
}
