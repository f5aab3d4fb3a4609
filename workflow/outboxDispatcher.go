package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bitbucket.org/fleetdatahub/parts_backend/config"
	"bitbucket.org/fleetdatahub/parts_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OutboxDispatcher drains pending EventOutbox rows to Pub/Sub. Rows are
// claimed in small batches under SKIP LOCKED so multiple replicas can run
// side by side; a row that keeps failing goes Dead after MaxAttempts.
type OutboxDispatcher struct {
	DB     *gorm.DB
	Logger *logrus.Logger

	BatchSize    int
	PollInterval time.Duration
	MaxAttempts  int
}

func NewOutboxDispatcher(db *gorm.DB, logger *logrus.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{
		DB:           db,
		Logger:       logger,
		BatchSize:    50,
		PollInterval: 1 * time.Second,
		MaxAttempts:  20,
	}
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

// DispatchOnce claims one batch, publishes each row and records the
// outcome. Publish happens outside the claiming transaction; a crash
// between publish and mark leaves the row Pending, so consumers must
// tolerate duplicates.
func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) {
	if d.DB == nil {
		return
	}
	var claimed []models.EventOutbox
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("publish_status = ?", models.OutboxPublishStatusPending).
			Order("id ASC").
			Limit(d.BatchSize)
		// sqlite (tests) has no row locks; replicas share via SKIP LOCKED.
		if tx.Dialector.Name() != "sqlite" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		return q.Find(&claimed).Error
	})
	if err != nil {
		config.LogError(d.Logger, "outboxDispatcher.go", "DispatchOnce", "claim batch", nil, err)
		return
	}

	for _, row := range claimed {
		d.publishRow(ctx, row)
	}
}

func (d *OutboxDispatcher) publishRow(ctx context.Context, row models.EventOutbox) {
	var msg config.EventMessage
	if err := json.Unmarshal([]byte(row.Payload), &msg); err != nil {
		config.LogError(d.Logger, "outboxDispatcher.go", "publishRow", "unmarshal payload", row.ID, err)
		d.markDead(row.ID, fmt.Sprintf("bad payload: %v", err))
		return
	}

	_, err := config.PublishEventMessage(ctx, msg)
	if err != nil {
		config.LogError(d.Logger, "outboxDispatcher.go", "publishRow", "publish", row.ID, err)
		attempts := row.Attempts + 1
		if d.MaxAttempts > 0 && attempts >= d.MaxAttempts {
			d.markDead(row.ID, err.Error())
			return
		}
		uerr := d.DB.Model(&models.EventOutbox{}).Where("id = ?", row.ID).Updates(map[string]interface{}{
			"attempts":   attempts,
			"last_error": err.Error(),
		}).Error
		if uerr != nil {
			config.LogError(d.Logger, "outboxDispatcher.go", "publishRow", "record failure", row.ID, uerr)
		}
		return
	}

	now := time.Now().UTC()
	uerr := d.DB.Model(&models.EventOutbox{}).Where("id = ?", row.ID).Updates(map[string]interface{}{
		"publish_status": models.OutboxPublishStatusPublished,
		"attempts":       row.Attempts + 1,
		"published_at":   now,
	}).Error
	if uerr != nil {
		config.LogError(d.Logger, "outboxDispatcher.go", "publishRow", "mark published", row.ID, uerr)
	}
}

func (d *OutboxDispatcher) markDead(id int, reason string) {
	err := d.DB.Model(&models.EventOutbox{}).Where("id = ?", id).Updates(map[string]interface{}{
		"publish_status": models.OutboxPublishStatusDead,
		"last_error":     reason,
	}).Error
	if err != nil {
		config.LogError(d.Logger, "outboxDispatcher.go", "markDead", "mark dead", id, err)
	}
}
