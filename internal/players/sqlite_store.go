package players

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/sololeveling/internal/progression"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingDatabase = errors.New("database handle is required")

// KeyValue is a durable key/value row holding serialized records.
type KeyValue struct {
	Key              string `gorm:"column:record_key;primaryKey;size:190;not null"`
	ValueJSON        string `gorm:"column:value_json;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (KeyValue) TableName() string {
	return "kv_records"
}

// SQLiteStoreConfig describes the dependencies of SQLiteStore.
type SQLiteStoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// SQLiteStore persists the player record as JSON text in kv_records.
type SQLiteStore struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewSQLiteStore constructs a gorm-backed Store. The kv_records table must
// already be migrated.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteStore{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context) (progression.Player, error) {
	var record KeyValue
	err := s.db.WithContext(ctx).Where("record_key = ?", PlayerKey).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return resolveStored(nil, false, s.clock, s.logger), nil
	}
	if err != nil {
		return progression.Player{}, fmt.Errorf("players: load player: %w", err)
	}
	return resolveStored([]byte(record.ValueJSON), true, s.clock, s.logger), nil
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, player progression.Player) error {
	payload, err := encodePlayer(player)
	if err != nil {
		return err
	}
	record := KeyValue{
		Key:              PlayerKey,
		ValueJSON:        string(payload),
		UpdatedAtSeconds: s.clock().UTC().Unix(),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "record_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value_json", "updated_at_s"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("players: save player: %w", err)
	}
	return nil
}
