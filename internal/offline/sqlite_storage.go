package offline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingDatabase = errors.New("database handle is required")

// CacheGeneration is one named, versioned bucket of cached responses.
type CacheGeneration struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (CacheGeneration) TableName() string {
	return "cache_generations"
}

// CacheEntry stores one response under its request key within a generation.
type CacheEntry struct {
	Generation      string `gorm:"column:generation;primaryKey;size:190;not null"`
	RequestKey      string `gorm:"column:request_key;primaryKey;size:2048;not null"`
	URL             string `gorm:"column:url;type:text;not null"`
	Status          int    `gorm:"column:status;not null"`
	HeaderJSON      string `gorm:"column:header_json;type:text;not null"`
	Body            []byte `gorm:"column:body;type:blob"`
	StoredAtSeconds int64  `gorm:"column:stored_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (CacheEntry) TableName() string {
	return "cache_entries"
}

// SQLiteStorage keeps cache generations in the application database.
type SQLiteStorage struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewSQLiteStorage constructs a gorm-backed Storage. The cache tables must
// already be migrated.
func NewSQLiteStorage(db *gorm.DB, clock func() time.Time) (*SQLiteStorage, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if clock == nil {
		clock = time.Now
	}
	return &SQLiteStorage{db: db, clock: clock}, nil
}

// Generations implements Storage.
func (s *SQLiteStorage) Generations(ctx context.Context) ([]string, error) {
	var names []string
	if err := s.db.WithContext(ctx).
		Model(&CacheGeneration{}).
		Order("name ASC").
		Pluck("name", &names).Error; err != nil {
		return nil, fmt.Errorf("offline: list generations: %w", err)
	}
	return names, nil
}

// Delete implements Storage.
func (s *SQLiteStorage) Delete(ctx context.Context, generation string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("generation = ?", generation).Delete(&CacheEntry{}).Error; err != nil {
			return fmt.Errorf("offline: delete entries of %s: %w", generation, err)
		}
		result := tx.Where("name = ?", generation).Delete(&CacheGeneration{})
		if result.Error != nil {
			return fmt.Errorf("offline: delete generation %s: %w", generation, result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrGenerationNotFound
		}
		return nil
	})
}

// PutAll implements Storage.
func (s *SQLiteStorage) PutAll(ctx context.Context, generation string, entries []Entry) error {
	if err := validateGeneration(generation); err != nil {
		return err
	}
	now := s.clock().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&CacheGeneration{Name: generation, CreatedAtSeconds: now.Unix()}).Error; err != nil {
			return fmt.Errorf("offline: create generation %s: %w", generation, err)
		}
		for _, entry := range entries {
			row, err := toCacheEntry(generation, entry, now)
			if err != nil {
				return err
			}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
				return fmt.Errorf("offline: store %s: %w", entry.Key, err)
			}
		}
		return nil
	})
}

// Put implements Storage.
func (s *SQLiteStorage) Put(ctx context.Context, generation string, entry Entry) error {
	return s.PutAll(ctx, generation, []Entry{entry})
}

// Match implements Storage.
func (s *SQLiteStorage) Match(ctx context.Context, generation, key string) (Entry, bool, error) {
	var row CacheEntry
	err := s.db.WithContext(ctx).
		Where("generation = ? AND request_key = ?", generation, key).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("offline: match %s: %w", key, err)
	}
	header, err := decodeHeader(row.HeaderJSON)
	if err != nil {
		return Entry{}, false, fmt.Errorf("offline: decode headers of %s: %w", key, err)
	}
	return Entry{
		Key:      row.RequestKey,
		URL:      row.URL,
		Status:   row.Status,
		Header:   header,
		Body:     row.Body,
		StoredAt: time.Unix(row.StoredAtSeconds, 0).UTC(),
	}, true, nil
}

func toCacheEntry(generation string, entry Entry, now time.Time) (CacheEntry, error) {
	headerJSON, err := encodeHeader(entry.Header)
	if err != nil {
		return CacheEntry{}, fmt.Errorf("offline: encode headers of %s: %w", entry.Key, err)
	}
	storedAt := entry.StoredAt
	if storedAt.IsZero() {
		storedAt = now
	}
	body := entry.Body
	if body == nil {
		body = []byte{}
	}
	return CacheEntry{
		Generation:      generation,
		RequestKey:      entry.Key,
		URL:             entry.URL,
		Status:          entry.Status,
		HeaderJSON:      headerJSON,
		Body:            body,
		StoredAtSeconds: storedAt.Unix(),
	}, nil
}
