package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/fleetdatahub/parts_backend/config"
	"bitbucket.org/fleetdatahub/parts_backend/models"
	"bitbucket.org/fleetdatahub/parts_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ExplicitArrivalLink pins part of an arrival line to a specific purchase
// order line instead of letting the auto-linker choose.
type ExplicitArrivalLink struct {
	PurchaseOrderLineId int             `json:"purchase_order_line_id" validate:"required"`
	Quantity            decimal.Decimal `json:"quantity" validate:"required"`
}

type NewArrivalLine struct {
	PartId           int                     `json:"part_id" validate:"required"`
	QuantityReceived decimal.Decimal         `json:"quantity_received" validate:"required"`
	Condition        models.ArrivalCondition `json:"condition"`
	InspectionNotes  string                  `json:"inspection_notes"`
	UnitCost         *decimal.Decimal        `json:"unit_cost"`
	Links            []ExplicitArrivalLink   `json:"links"`
	AutoLink         bool                    `json:"auto_link"`
}

type NewPackageArrival struct {
	PackageNumber   string           `json:"package_number" validate:"required"`
	MajorLocationId int              `json:"major_location_id" validate:"required"`
	StoreroomId     int              `json:"storeroom_id" validate:"required"`
	Carrier         string           `json:"carrier"`
	TrackingNumber  string           `json:"tracking_number"`
	ReceivedDate    *time.Time       `json:"received_date"`
	Notes           string           `json:"notes"`
	Lines           []NewArrivalLine `json:"lines" validate:"required,min=1,dive"`
}

// CreatePackageArrival books a physical package in one transaction:
// header and lines land as Received, each line is linked to open order
// lines (explicitly or via the auto-linker), the quantity is received
// into the storeroom's unassigned area, and every touched order line is
// re-propagated. The arrival finishes Processed. A reused package number
// fails with ErrDuplicateIdentifier before anything else is written.
func CreatePackageArrival(ctx context.Context, input NewPackageArrival) (*models.Arrival, error) {
	logger := config.GetLogger()
	if err := utils.ValidateStruct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}

	release, err := utils.AggregateLock(ctx, fmt.Sprintf("arrival:%s", input.PackageNumber), "arrivalWorkflow.go", "CreatePackageArrival")
	if err != nil {
		return nil, err
	}
	defer release()

	userId, _ := utils.GetUserIdFromContext(ctx)
	receivedDate := time.Now().UTC()
	if input.ReceivedDate != nil {
		receivedDate = *input.ReceivedDate
	}

	var created *models.Arrival
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Arrival{}).Where("package_number = ?", input.PackageNumber).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: package number %q already logged", models.ErrDuplicateIdentifier, input.PackageNumber)
		}

		arrival := models.Arrival{
			PackageNumber:   input.PackageNumber,
			MajorLocationId: input.MajorLocationId,
			StoreroomId:     input.StoreroomId,
			Carrier:         input.Carrier,
			TrackingNumber:  input.TrackingNumber,
			ReceivedById:    userId,
			ReceivedDate:    receivedDate,
			Status:          models.ArrivalStatusReceived,
			Notes:           input.Notes,
			Audited:         models.Audited{CreatedById: userId},
		}
		if err := tx.Create(&arrival).Error; err != nil {
			if models.IsDuplicateKeyErr(err) {
				return fmt.Errorf("%w: package number %q already logged", models.ErrDuplicateIdentifier, input.PackageNumber)
			}
			return err
		}

		for _, lineInput := range input.Lines {
			if err := processArrivalLine(ctx, tx, &arrival, lineInput, receivedDate, userId); err != nil {
				config.LogError(logger, "arrivalWorkflow.go", "CreatePackageArrival", "processArrivalLine", lineInput.PartId, err)
				return err
			}
		}

		if err := tx.Model(&arrival).Update("status", models.ArrivalStatusProcessed).Error; err != nil {
			return err
		}
		result, err := utils.FetchModel[models.Arrival](tx, arrival.ID, "Lines")
		if err != nil {
			return err
		}
		created = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, line := range input.Lines {
		models.InvalidateStockSummary(line.PartId)
	}
	return created, nil
}

// AddPartArrivals appends lines to an already-logged package, running the
// same link/receive/propagate pipeline per line.
func AddPartArrivals(ctx context.Context, arrivalId int, lines []NewArrivalLine) (*models.Arrival, error) {
	logger := config.GetLogger()
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", models.ErrValidation)
	}
	for _, line := range lines {
		if err := utils.ValidateStruct(line); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
		}
	}

	release, err := utils.AggregateLock(ctx, fmt.Sprintf("arrival:%d", arrivalId), "arrivalWorkflow.go", "AddPartArrivals")
	if err != nil {
		return nil, err
	}
	defer release()

	userId, _ := utils.GetUserIdFromContext(ctx)

	var updated *models.Arrival
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		arrival, err := utils.FetchModelForUpdate[models.Arrival](tx, arrivalId)
		if err != nil {
			if err == utils.ErrorRecordNotFound {
				return fmt.Errorf("%w: arrival %d", models.ErrNotFound, arrivalId)
			}
			return err
		}

		receivedDate := time.Now().UTC()
		for _, lineInput := range lines {
			if err := processArrivalLine(ctx, tx, arrival, lineInput, receivedDate, userId); err != nil {
				config.LogError(logger, "arrivalWorkflow.go", "AddPartArrivals", "processArrivalLine", lineInput.PartId, err)
				return err
			}
		}

		if arrival.Status != models.ArrivalStatusProcessed {
			if err := tx.Model(arrival).Update("status", models.ArrivalStatusProcessed).Error; err != nil {
				return err
			}
		}
		result, err := utils.FetchModel[models.Arrival](tx, arrival.ID, "Lines")
		if err != nil {
			return err
		}
		updated = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, line := range lines {
		models.InvalidateStockSummary(line.PartId)
	}
	return updated, nil
}

// processArrivalLine persists one line, links it, receives its quantity
// into unassigned stock and re-propagates the touched order lines. The
// receipt cost falls back from the explicit input cost to the first
// linked order line's cost, then to zero for untracked walk-ins.
func processArrivalLine(ctx context.Context, tx *gorm.DB, arrival *models.Arrival, input NewArrivalLine, receivedDate time.Time, userId int) error {
	if !input.QuantityReceived.IsPositive() {
		return fmt.Errorf("%w: received quantity must be positive", models.ErrValidation)
	}
	condition := input.Condition
	if condition == "" {
		condition = models.ArrivalConditionGood
	}
	line := models.ArrivalLine{
		ArrivalId:        arrival.ID,
		PartId:           input.PartId,
		MajorLocationId:  arrival.MajorLocationId,
		StoreroomId:      arrival.StoreroomId,
		QuantityReceived: input.QuantityReceived,
		Condition:        condition,
		InspectionNotes:  input.InspectionNotes,
		ReceivedDate:     receivedDate,
		Status:           models.ArrivalStatusReceived,
		Audited:          models.Audited{CreatedById: userId},
	}
	if err := tx.Create(&line).Error; err != nil {
		return err
	}

	touchedPOLines := []int{}
	for _, explicit := range input.Links {
		if _, err := models.CreateArrivalLink(tx, line.ID, explicit.PurchaseOrderLineId, explicit.Quantity); err != nil {
			return err
		}
		touchedPOLines = append(touchedPOLines, explicit.PurchaseOrderLineId)
	}
	if len(input.Links) == 0 && input.AutoLink {
		links, err := models.AutoLinkArrivalLine(tx, line.ID, utils.IntPtr(arrival.MajorLocationId))
		if err != nil {
			return err
		}
		for _, link := range links {
			touchedPOLines = append(touchedPOLines, link.PurchaseOrderLineId)
		}
	}

	unitCost, err := receiptUnitCost(tx, input, touchedPOLines)
	if err != nil {
		return err
	}
	// Only the first linked order line travels with the movement record;
	// the full link set stays on the arrival line itself.
	var firstPOLine *int
	if len(touchedPOLines) > 0 {
		firstPOLine = utils.IntPtr(touchedPOLines[0])
	}
	if _, err := models.ReceiveIntoUnassignedBin(tx, &line, unitCost, firstPOLine, userId); err != nil {
		return err
	}
	if err := tx.Model(&line).Update("status", models.ArrivalStatusProcessed).Error; err != nil {
		return err
	}

	for _, poLineId := range touchedPOLines {
		if _, err := models.PropagatePurchaseOrderLineUpdate(tx, poLineId); err != nil {
			return err
		}
	}
	return nil
}

func receiptUnitCost(tx *gorm.DB, input NewArrivalLine, touchedPOLines []int) (decimal.Decimal, error) {
	if input.UnitCost != nil {
		return *input.UnitCost, nil
	}
	if len(touchedPOLines) > 0 {
		poLine, err := utils.FetchModel[models.PurchaseOrderLine](tx, touchedPOLines[0])
		if err != nil {
			return decimal.Zero, err
		}
		return poLine.UnitCost, nil
	}
	return decimal.Zero, nil
}
