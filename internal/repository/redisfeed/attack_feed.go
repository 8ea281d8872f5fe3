package redisfeed

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"deception-service/internal/client"
	"deception-service/internal/models"
	"deception-service/internal/util"
)

const (
	recentKey   = "attack_feed:recent"
	countersKey = "attack_feed:counters"

	// feedLimit caps the recent list; older entries are trimmed away.
	feedLimit = 100
)

// AttackFeed maintains a bounded list of recent attack events in Redis so
// dashboards can poll live activity without touching the in-memory stores.
type AttackFeed struct {
	client *client.RedisClient
}

func NewAttackFeed(client *client.RedisClient, logger *zap.Logger) *AttackFeed {
	return &AttackFeed{client: client}
}

// RecordEvent pushes one event onto the feed, trims it to the cap, and bumps
// the per-type counter. The three writes go through one transactional pipeline.
func (f *AttackFeed) RecordEvent(ctx context.Context, event *models.AttackEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal attack event: %w", err)
	}

	pipe := f.client.TxPipeline()
	pipe.LPush(ctx, recentKey, payload)
	pipe.LTrim(ctx, recentKey, 0, feedLimit-1)
	pipe.HIncrBy(ctx, countersKey, event.AttackType, 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish attack event: %w", err)
	}

	util.Debug("attack event published to feed",
		zap.String("event_id", event.ID),
		zap.String("attack_type", event.AttackType),
	)
	return nil
}

// Recent returns up to limit of the newest events, newest first.
func (f *AttackFeed) Recent(ctx context.Context, limit int) ([]models.AttackEvent, error) {
	if limit <= 0 || limit > feedLimit {
		limit = feedLimit
	}

	raw, err := f.client.LRange(ctx, recentKey, 0, int64(limit-1))
	if err != nil {
		return nil, fmt.Errorf("failed to read attack feed: %w", err)
	}

	events := make([]models.AttackEvent, 0, len(raw))
	for _, entry := range raw {
		var event models.AttackEvent
		if err := json.Unmarshal([]byte(entry), &event); err != nil {
			util.Warn("skipping malformed feed entry", zap.Error(err))
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// Counters returns cumulative per-type attack counts.
func (f *AttackFeed) Counters(ctx context.Context) (map[string]string, error) {
	counts, err := f.client.HGetAll(ctx, countersKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read attack counters: %w", err)
	}
	return counts, nil
}
