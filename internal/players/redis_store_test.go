package players

import (
	"context"
	"testing"

	"github.com/MarcoPoloResearchLab/sololeveling/internal/progression"
	"github.com/alicebob/miniredis/v2"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/prop"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := NewRedisStore(RedisStoreConfig{Client: client, Clock: fixedClock})
	require.NoError(t, err)
	return store, mr
}

func TestRedisStoreRoundTripProperty(t *testing.T) {
	store, _ := newTestRedisStore(t)
	properties := gopter.NewProperties(nil)

	properties.Property("RedisStore persists and loads players correctly", prop.ForAll(
		func(player progression.Player) bool {
			if err := store.Save(context.Background(), player); err != nil {
				return false
			}
			loaded, err := store.Load(context.Background())
			if err != nil {
				return false
			}
			return loaded == player
		},
		genPlayer(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestRedisStoreUsesPlayerKey(t *testing.T) {
	store, mr := newTestRedisStore(t)

	player, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, progression.NewPlayer(fixedNow), player)
	assert.False(t, mr.Exists(PlayerKey), "load must not create a record")

	require.NoError(t, store.Save(context.Background(), player))
	raw, err := mr.Get(PlayerKey)
	require.NoError(t, err)
	assert.Contains(t, raw, `"xpForNextLevel":100`)
	assert.Contains(t, raw, `"lastActiveDate":"2026-10-18"`)
}

func TestRedisStoreDiscardsCorruptRecord(t *testing.T) {
	store, mr := newTestRedisStore(t)
	require.NoError(t, mr.Set(PlayerKey, "not json"))

	player, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, progression.NewPlayer(fixedNow), player)
}

func TestRedisStoreSurfacesConnectionErrors(t *testing.T) {
	store, mr := newTestRedisStore(t)
	mr.Close()

	_, err := store.Load(context.Background())
	assert.Error(t, err)
}
