package main

import (
	"log"

	"bitbucket.org/fleetdatahub/parts_backend/config"
	"bitbucket.org/fleetdatahub/parts_backend/models"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Rebuilds every InventorySummary row from the live ActiveInventory rows.
// Run as a one-off job after manual data fixes or a bad deploy; safe to
// re-run.
func main() {
	_ = godotenv.Load()
	logger := config.GetLogger()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	models.MigrateTable()

	type pair struct {
		PartId      int
		StoreroomId int
	}
	var pairs []pair
	err := db.Raw(`
		SELECT part_id, storeroom_id FROM active_inventories
		UNION
		SELECT part_id, storeroom_id FROM inventory_summaries
	`).Scan(&pairs).Error
	if err != nil {
		log.Fatal(err)
	}

	rebuilt := 0
	for _, p := range pairs {
		err := db.Transaction(func(tx *gorm.DB) error {
			_, err := models.RefreshInventorySummary(tx, p.PartId, p.StoreroomId)
			return err
		})
		if err != nil {
			config.LogError(logger, "summary-rebuild", "main", "RefreshInventorySummary", p, err)
			continue
		}
		models.InvalidateStockSummary(p.PartId)
		rebuilt++
	}

	logger.WithFields(logrus.Fields{
		"pairs":   len(pairs),
		"rebuilt": rebuilt,
	}).Info("inventory summary rebuild finished")
}
