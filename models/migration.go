package models

import (
	"log"

	"bitbucket.org/fleetdatahub/parts_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Part{}, &MajorLocation{}, &Storeroom{}, &Location{}, &Bin{},
		&PurchaseOrder{}, &PurchaseOrderLine{},
		&PartDemand{},
		&Arrival{}, &ArrivalLine{},
		&ArrivalPurchaseOrderLink{}, &PartDemandPurchaseOrderLink{},
		&ActiveInventory{}, &InventoryMovement{}, &InventorySummary{},
		&Event{}, &EventOutbox{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
