package models_test

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"bitbucket.org/fleetdatahub/parts_backend/config"
	"bitbucket.org/fleetdatahub/parts_backend/models"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBSeq atomic.Int64

// setupTestDB opens a fresh in-memory database per test and installs it as
// the ambient connection so workflow-level code paths see the same DB.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	config.SetDB(db)
	models.MigrateTable()
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
		config.SetDB(nil)
	})
	return db
}

func mustCreate(t *testing.T, db *gorm.DB, value interface{}) {
	t.Helper()
	if err := db.Create(value).Error; err != nil {
		t.Fatalf("create %T: %v", value, err)
	}
}

func seedTopology(t *testing.T, db *gorm.DB) (models.MajorLocation, models.Storeroom, models.Location, models.Bin) {
	t.Helper()
	major := models.MajorLocation{Name: "North Depot"}
	mustCreate(t, db, &major)
	storeroom := models.Storeroom{Name: "Main Storeroom", MajorLocationId: major.ID}
	mustCreate(t, db, &storeroom)
	location := models.Location{Name: "Aisle 1", StoreroomId: storeroom.ID}
	mustCreate(t, db, &location)
	bin := models.Bin{Name: "A1-01", LocationId: location.ID}
	mustCreate(t, db, &bin)
	return major, storeroom, location, bin
}

func seedPart(t *testing.T, db *gorm.DB, partNumber string) models.Part {
	t.Helper()
	part := models.Part{PartNumber: partNumber, PartName: "Test part " + partNumber}
	mustCreate(t, db, &part)
	return part
}

func seedPurchaseOrder(t *testing.T, db *gorm.DB, majorLocationId int, status models.PurchaseOrderStatus) models.PurchaseOrder {
	t.Helper()
	po := models.PurchaseOrder{
		PONumber:        models.GeneratePONumber(),
		VendorName:      "Acme Industrial",
		MajorLocationId: majorLocationId,
		OrderDate:       time.Now().UTC(),
		Status:          status,
	}
	mustCreate(t, db, &po)
	return po
}

func seedPurchaseOrderLine(t *testing.T, db *gorm.DB, poId int, partId int, lineNumber int, qty string, unitCost string, status models.PurchaseOrderLineStatus) models.PurchaseOrderLine {
	t.Helper()
	line := models.PurchaseOrderLine{
		PurchaseOrderId: poId,
		PartId:          partId,
		LineNumber:      lineNumber,
		QuantityOrdered: dec(qty),
		UnitCost:        dec(unitCost),
		Status:          status,
	}
	mustCreate(t, db, &line)
	return line
}

func seedDemand(t *testing.T, db *gorm.DB, partId int, majorLocationId int, qty string, status models.PartDemandStatus) models.PartDemand {
	t.Helper()
	demand := models.PartDemand{
		PartId:           partId,
		MajorLocationId:  majorLocationId,
		QuantityRequired: dec(qty),
		Status:           status,
		PriceConfirmed:   true,
	}
	mustCreate(t, db, &demand)
	return demand
}

func seedArrivalWithLine(t *testing.T, db *gorm.DB, majorLocationId int, storeroomId int, partId int, qty string) (models.Arrival, models.ArrivalLine) {
	t.Helper()
	arrival := models.Arrival{
		PackageNumber:   fmt.Sprintf("PKG-%d", testDBSeq.Add(1)),
		MajorLocationId: majorLocationId,
		StoreroomId:     storeroomId,
		ReceivedDate:    time.Now().UTC(),
		Status:          models.ArrivalStatusReceived,
	}
	mustCreate(t, db, &arrival)
	line := models.ArrivalLine{
		ArrivalId:        arrival.ID,
		PartId:           partId,
		MajorLocationId:  majorLocationId,
		StoreroomId:      storeroomId,
		QuantityReceived: dec(qty),
		Condition:        models.ArrivalConditionGood,
		ReceivedDate:     arrival.ReceivedDate,
		Status:           models.ArrivalStatusReceived,
	}
	mustCreate(t, db, &line)
	return arrival, line
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decEqual(t *testing.T, got decimal.Decimal, want string, label string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Fatalf("%s: got %s, want %s", label, got, want)
	}
}
