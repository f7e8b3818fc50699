package players

import (
	"fmt"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/sololeveling/internal/progression"
	sqlite "github.com/glebarez/sqlite"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"gorm.io/gorm"
)

var fixedNow = time.Date(2026, time.October, 18, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time {
	return fixedNow
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&KeyValue{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(SQLiteStoreConfig{Database: openTestDatabase(t), Clock: fixedClock})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

// genPlayer generates normalized players reachable through the engine.
func genPlayer() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(0, 2_000_000),
		gen.IntRange(0, 365),
		gen.Int64Range(0, 4_000_000_000_000),
		gen.IntRange(0, 3650),
		gen.OneConstOf("HUNTER", "SHADOW MONARCH", ""),
	).Map(func(values []interface{}) progression.Player {
		createdAt := time.UnixMilli(values[2].(int64)).UTC()
		player := progression.NewPlayer(createdAt)
		player, _ = progression.ApplyExperience(player, progression.Experience(values[0].(int)))
		player.Streak = values[1].(int)
		player.LastActiveDate = progression.DateOf(createdAt.AddDate(0, 0, values[3].(int)))
		player.Title = values[4].(string)
		return player
	})
}
