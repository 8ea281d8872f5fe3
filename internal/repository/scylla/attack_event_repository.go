package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"deception-service/internal/models"
	"deception-service/internal/util"
)

// AttackEventRepository persists handled attempts to the attack_events table,
// partitioned by attacker fingerprint. The durable log outlives service
// restarts; the in-memory session store does not.
type AttackEventRepository struct {
	client *ScyllaClient
}

func NewAttackEventRepository(client *ScyllaClient, logger *zap.Logger) *AttackEventRepository {
	return &AttackEventRepository{client: client}
}

// RecordEvent writes one attack event. A missing ID is assigned here so
// callers that never touch the durable log do not pay for UUID generation.
func (r *AttackEventRepository) RecordEvent(ctx context.Context, event *models.AttackEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	delayMs := int(event.DelayApplied * 1000)

	query := r.client.Prepared.InsertEvent.Bind(
		event.Fingerprint, event.ID, event.Timestamp, event.AttackType, event.Stage,
		event.DBType, event.RawInput, event.Response, event.Novel, delayMs).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("failed to record attack event",
			zap.String("fingerprint", event.Fingerprint),
			zap.String("event_id", event.ID),
			zap.Error(err))
		return fmt.Errorf("failed to record attack event: %w", err)
	}

	util.Debug("attack event recorded",
		zap.String("fingerprint", event.Fingerprint),
		zap.String("event_id", event.ID),
		zap.String("attack_type", event.AttackType))

	return nil
}

// EventsByFingerprint returns up to limit events for one attacker, newest
// first per the table's clustering order.
func (r *AttackEventRepository) EventsByFingerprint(fingerprint string, limit int) ([]models.AttackEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	iter := r.client.Prepared.RecentEventsByFP.Bind(fingerprint, limit).Iter()

	var events []models.AttackEvent
	var event models.AttackEvent
	var delayMs int
	for iter.Scan(&event.Fingerprint, &event.ID, &event.Timestamp, &event.AttackType,
		&event.Stage, &event.DBType, &event.RawInput, &event.Response, &event.Novel, &delayMs) {
		event.DelayApplied = float64(delayMs) / 1000
		events = append(events, event)
		event = models.AttackEvent{}
	}

	if err := iter.Close(); err != nil {
		if err == gocql.ErrNotFound {
			return nil, nil
		}
		util.Error("failed to read attack events",
			zap.String("fingerprint", fingerprint),
			zap.Error(err))
		return nil, fmt.Errorf("failed to read attack events: %w", err)
	}

	return events, nil
}
