package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/coconiss/WalkTracker/model"

	"github.com/go-redis/redis/v8"
)

const profileKeyPrefix = "user:"

var ErrProfileNotFound = errors.New("user profile not found")

// ProfileStore reads user profile documents. Read-only here.
type ProfileStore struct {
	redis *redis.Client
}

func NewProfileStore(rdb *redis.Client) *ProfileStore {
	return &ProfileStore{redis: rdb}
}

// DisplayName looks up the display name for a user. Returns
// ErrProfileNotFound when no profile document exists or it carries no name.
func (s *ProfileStore) DisplayName(ctx context.Context, userID string) (string, error) {
	data, err := s.redis.Get(ctx, profileKeyPrefix+userID).Bytes()
	if err == redis.Nil {
		return "", ErrProfileNotFound
	} else if err != nil {
		return "", fmt.Errorf("read profile %s: %w", userID, err)
	}

	var profile model.UserProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return "", fmt.Errorf("decode profile %s: %w", userID, err)
	}
	if profile.DisplayName == "" {
		return "", ErrProfileNotFound
	}
	return profile.DisplayName, nil
}
