package workflow

import (
	"context"
	"fmt"

	"bitbucket.org/fleetdatahub/parts_backend/config"
	"bitbucket.org/fleetdatahub/parts_backend/models"
	"bitbucket.org/fleetdatahub/parts_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type AssignStockInput struct {
	PartId      int             `json:"part_id" validate:"required"`
	StoreroomId int             `json:"storeroom_id" validate:"required"`
	LocationId  int             `json:"location_id" validate:"required"`
	BinId       *int            `json:"bin_id"`
	Quantity    decimal.Decimal `json:"quantity" validate:"required"`
}

// AssignStock moves received quantity out of a storeroom's unassigned
// area into a concrete bin.
func AssignStock(ctx context.Context, input AssignStockInput) (*models.InventoryMovement, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	release, err := utils.AggregateLock(ctx, stockLockKey(input.PartId, input.StoreroomId), "inventoryWorkflow.go", "AssignStock")
	if err != nil {
		return nil, err
	}
	defer release()

	userId, _ := utils.GetUserIdFromContext(ctx)
	var movement *models.InventoryMovement
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		movement, err = models.AssignUnassignedToBin(tx, input.PartId, input.StoreroomId, input.LocationId, input.BinId, input.Quantity, userId)
		return err
	})
	if err != nil {
		return nil, err
	}
	models.InvalidateStockSummary(input.PartId)
	return movement, nil
}

type TransferStockInput struct {
	PartId   int             `json:"part_id" validate:"required"`
	Source   models.BinRef   `json:"source" validate:"required"`
	Dest     models.BinRef   `json:"dest" validate:"required"`
	Quantity decimal.Decimal `json:"quantity" validate:"required"`
}

// TransferStock moves quantity between bins, within or across storerooms.
// A transfer onto the same bin tuple is rejected before any write.
func TransferStock(ctx context.Context, input TransferStockInput) (*models.InventoryMovement, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	release, err := utils.AggregateLock(ctx, stockLockKey(input.PartId, input.Source.StoreroomId), "inventoryWorkflow.go", "TransferStock")
	if err != nil {
		return nil, err
	}
	defer release()

	userId, _ := utils.GetUserIdFromContext(ctx)
	var movement *models.InventoryMovement
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		movement, err = models.TransferStock(tx, input.PartId, input.Source, input.Dest, input.Quantity, userId)
		return err
	})
	if err != nil {
		return nil, err
	}
	models.InvalidateStockSummary(input.PartId)
	return movement, nil
}

type IssueStockInput struct {
	PartDemandId int             `json:"part_demand_id" validate:"required"`
	Source       models.BinRef   `json:"source" validate:"required"`
	Quantity     decimal.Decimal `json:"quantity" validate:"required"`
}

// IssueStock consumes quantity against a demand and moves the demand to
// Issued.
func IssueStock(ctx context.Context, input IssueStockInput) (*models.InventoryMovement, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	release, err := utils.AggregateLock(ctx, fmt.Sprintf("demand:%d", input.PartDemandId), "inventoryWorkflow.go", "IssueStock")
	if err != nil {
		return nil, err
	}
	defer release()

	userId, _ := utils.GetUserIdFromContext(ctx)
	var movement *models.InventoryMovement
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		movement, err = models.IssueToPartDemand(tx, input.PartDemandId, input.Source, input.Quantity, userId)
		if err != nil {
			return err
		}
		_, err = models.PropagateDemandStatusUpdate(tx, input.PartDemandId, models.PartDemandStatusIssued)
		return err
	})
	if err != nil {
		return nil, err
	}
	if movement != nil {
		models.InvalidateStockSummary(movement.PartId)
	}
	return movement, nil
}

type AdjustStockInput struct {
	PartId        int              `json:"part_id" validate:"required"`
	Bin           models.BinRef    `json:"bin" validate:"required"`
	QuantityDelta decimal.Decimal  `json:"quantity_delta" validate:"required"`
	UnitCost      *decimal.Decimal `json:"unit_cost"`
	Reason        string           `json:"reason" validate:"required"`
}

// AdjustStock books a counted correction, positive or negative, with a
// mandatory reason for the audit trail.
func AdjustStock(ctx context.Context, input AdjustStockInput) (*models.InventoryMovement, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	release, err := utils.AggregateLock(ctx, stockLockKey(input.PartId, input.Bin.StoreroomId), "inventoryWorkflow.go", "AdjustStock")
	if err != nil {
		return nil, err
	}
	defer release()

	userId, _ := utils.GetUserIdFromContext(ctx)
	var movement *models.InventoryMovement
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		movement, err = models.CreateAdjustmentMovement(tx, input.PartId, input.Bin, input.QuantityDelta, input.UnitCost, input.Reason, userId)
		return err
	})
	if err != nil {
		return nil, err
	}
	models.InvalidateStockSummary(input.PartId)
	return movement, nil
}

func stockLockKey(partId int, storeroomId int) string {
	return fmt.Sprintf("stock:%d:%d", partId, storeroomId)
}
