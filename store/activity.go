package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coconiss/WalkTracker/model"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

const (
	activityKeyPrefix = "activity:"
	dateLayout        = "2006-01-02"
)

// ActivityStore reads the per-day activity lists owned by the tracking app.
// This module never writes them.
type ActivityStore struct {
	redis *redis.Client
}

func NewActivityStore(rdb *redis.Client) *ActivityStore {
	return &ActivityStore{redis: rdb}
}

// StreamRange invokes fn for every decodable activity record dated within
// the inclusive [start, end] range, one day's list at a time. Undecodable
// list items are skipped; malformed input must not abort a whole period.
func (s *ActivityStore) StreamRange(ctx context.Context, start, end time.Time, fn func(model.ActivityRecord)) error {
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		key := activityKeyPrefix + day.Format(dateLayout)
		items, err := s.redis.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return fmt.Errorf("read activities %s: %w", key, err)
		}

		for _, raw := range items {
			var record model.ActivityRecord
			if err := json.Unmarshal([]byte(raw), &record); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("Skipping undecodable activity record")
				continue
			}
			fn(record)
		}
	}
	return nil
}
