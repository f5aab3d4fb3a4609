package workflow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"bitbucket.org/fleetdatahub/parts_backend/config"
	"bitbucket.org/fleetdatahub/parts_backend/models"
	"bitbucket.org/fleetdatahub/parts_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// NewPurchaseOrderFromDemands is the input for turning a batch of
// confirmed demands into one vendor order. UnitCosts is keyed by part id;
// every part appearing in the demands must have a cost.
type NewPurchaseOrderFromDemands struct {
	DemandIds     []int                   `json:"demand_ids" validate:"required,min=1"`
	VendorName    string                  `json:"vendor_name" validate:"required"`
	VendorContact string                  `json:"vendor_contact"`
	OrderDate     *time.Time              `json:"order_date"`
	ShippingCost  decimal.Decimal         `json:"shipping_cost"`
	TaxAmount     decimal.Decimal         `json:"tax_amount"`
	OtherCost     decimal.Decimal         `json:"other_cost"`
	UnitCosts     map[int]decimal.Decimal `json:"unit_costs" validate:"required"`
	Notes         string                  `json:"notes"`
}

// CreatePurchaseOrderFromDemands builds a purchase order covering the
// given demands: one line per part sized to the demands' unlinked
// quantities, demand links for the allocation, and a propagation to
// Ordered. Every demand must have its price confirmed; the whole call
// aborts before any write otherwise. Commits atomically.
func CreatePurchaseOrderFromDemands(ctx context.Context, input NewPurchaseOrderFromDemands) (*models.PurchaseOrder, error) {
	logger := config.GetLogger()
	if err := utils.ValidateStruct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}

	release, err := utils.AggregateLock(ctx, "purchaseOrder:create", "purchaseOrderWorkflow.go", "CreatePurchaseOrderFromDemands")
	if err != nil {
		return nil, err
	}
	defer release()

	userId, _ := utils.GetUserIdFromContext(ctx)

	var created *models.PurchaseOrder
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		demands := make([]*models.PartDemand, 0, len(input.DemandIds))
		for _, id := range input.DemandIds {
			demand, err := utils.FetchModelForUpdate[models.PartDemand](tx, id)
			if err != nil {
				if err == utils.ErrorRecordNotFound {
					return fmt.Errorf("%w: part demand %d", models.ErrNotFound, id)
				}
				return err
			}
			demands = append(demands, demand)
		}

		majorLocationId := demands[0].MajorLocationId
		for _, demand := range demands {
			if !demand.PriceConfirmed {
				return fmt.Errorf("%w: demand %d price not confirmed", models.ErrPreconditionFailed, demand.ID)
			}
			if demand.Status.IsTerminal() {
				return fmt.Errorf("%w: demand %d is already %s", models.ErrPreconditionFailed, demand.ID, demand.Status)
			}
			if demand.MajorLocationId != majorLocationId {
				return fmt.Errorf("%w: demands span multiple major locations", models.ErrValidation)
			}
			if _, ok := input.UnitCosts[demand.PartId]; !ok {
				return fmt.Errorf("%w: no unit cost for part %d", models.ErrValidation, demand.PartId)
			}
		}

		orderDate := time.Now().UTC()
		if input.OrderDate != nil {
			orderDate = *input.OrderDate
		}
		po := models.PurchaseOrder{
			PONumber:        models.GeneratePONumber(),
			VendorName:      input.VendorName,
			VendorContact:   input.VendorContact,
			MajorLocationId: majorLocationId,
			OrderDate:       orderDate,
			ShippingCost:    input.ShippingCost,
			TaxAmount:       input.TaxAmount,
			OtherCost:       input.OtherCost,
			Status:          models.PurchaseOrderStatusDraft,
			Notes:           input.Notes,
			Audited:         models.Audited{CreatedById: userId},
		}
		if err := tx.Create(&po).Error; err != nil {
			if models.IsDuplicateKeyErr(err) {
				po.PONumber = models.GeneratePONumber()
				if err := tx.Create(&po).Error; err != nil {
					return err
				}
			} else {
				return err
			}
		}

		// One line per part, sized to the demands' unlinked remainders.
		perPart := map[int]decimal.Decimal{}
		demandRemainder := map[int]decimal.Decimal{}
		for _, demand := range demands {
			remainder, err := demand.QuantityUnlinked(tx)
			if err != nil {
				return err
			}
			if !remainder.IsPositive() {
				return fmt.Errorf("%w: demand %d is already fully linked", models.ErrPreconditionFailed, demand.ID)
			}
			demandRemainder[demand.ID] = remainder
			perPart[demand.PartId] = perPart[demand.PartId].Add(remainder)
		}
		partIds := make([]int, 0, len(perPart))
		for partId := range perPart {
			partIds = append(partIds, partId)
		}
		sort.Ints(partIds)

		linePerPart := map[int]int{}
		for i, partId := range partIds {
			line := models.PurchaseOrderLine{
				PurchaseOrderId: po.ID,
				PartId:          partId,
				LineNumber:      i + 1,
				QuantityOrdered: perPart[partId],
				UnitCost:        input.UnitCosts[partId],
				Status:          models.PurchaseOrderLineStatusPending,
				Audited:         models.Audited{CreatedById: userId},
			}
			if err := tx.Create(&line).Error; err != nil {
				return err
			}
			linePerPart[partId] = line.ID
		}

		for _, demand := range demands {
			if _, err := models.CreateDemandLink(tx, demand.ID, linePerPart[demand.PartId], demandRemainder[demand.ID]); err != nil {
				config.LogError(logger, "purchaseOrderWorkflow.go", "CreatePurchaseOrderFromDemands", "CreateDemandLink", demand.ID, err)
				return err
			}
		}

		if _, err := models.PropagatePurchaseOrderStatus(ctx, tx, po.ID, models.PurchaseOrderStatusOrdered); err != nil {
			config.LogError(logger, "purchaseOrderWorkflow.go", "CreatePurchaseOrderFromDemands", "PropagateOrdered", po.ID, err)
			return err
		}
		if err := po.RecomputeTotalCost(tx); err != nil {
			return err
		}

		result, err := utils.FetchModel[models.PurchaseOrder](tx, po.ID, "Lines")
		if err != nil {
			return err
		}
		created = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// UpdatePurchaseOrderStatus drives a header transition (Shipped, Arrived,
// Cancelled) with its cascade and returns what moved.
func UpdatePurchaseOrderStatus(ctx context.Context, purchaseOrderId int, newStatus models.PurchaseOrderStatus) ([]models.StatusChange, error) {
	release, err := utils.AggregateLock(ctx, fmt.Sprintf("purchaseOrder:%d", purchaseOrderId), "purchaseOrderWorkflow.go", "UpdatePurchaseOrderStatus")
	if err != nil {
		return nil, err
	}
	defer release()

	var changes []models.StatusChange
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		changes, err = models.PropagatePurchaseOrderStatus(ctx, tx, purchaseOrderId, newStatus)
		return err
	})
	if err != nil {
		return nil, err
	}
	return changes, nil
}
