package players

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/sololeveling/internal/progression"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var errMissingRedisClient = errors.New("redis client is required")

// RedisStoreConfig describes the dependencies of RedisStore.
type RedisStoreConfig struct {
	Client *redis.Client
	Clock  func() time.Time
	Logger *zap.Logger
}

// RedisStore persists the player record as a JSON string under PlayerKey.
type RedisStore struct {
	client *redis.Client
	clock  func() time.Time
	logger *zap.Logger
}

// NewRedisStore constructs a Redis-backed Store.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Client == nil {
		return nil, errMissingRedisClient
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: cfg.Client, clock: clock, logger: logger}, nil
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context) (progression.Player, error) {
	data, err := s.client.Get(ctx, PlayerKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return resolveStored(nil, false, s.clock, s.logger), nil
		}
		return progression.Player{}, fmt.Errorf("players: load player: %w", err)
	}
	return resolveStored(data, true, s.clock, s.logger), nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, player progression.Player) error {
	payload, err := encodePlayer(player)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, PlayerKey, payload, 0).Err(); err != nil {
		return fmt.Errorf("players: save player: %w", err)
	}
	return nil
}
