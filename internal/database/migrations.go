package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/sololeveling/internal/players"
	"github.com/MarcoPoloResearchLab/sololeveling/internal/progression"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizePlayerRank = "2026-10-18_normalize_player_rank"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB, *zap.Logger) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizePlayerRank, apply: normalizePlayerRank},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db, logger); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// normalizePlayerRank rewrites a stored player whose rank, threshold or
// surplus experience drifted from the progression table. Unreadable records
// are left for the store to discard on load.
func normalizePlayerRank(db *gorm.DB, logger *zap.Logger) error {
	var row players.KeyValue
	err := db.Where("record_key = ?", players.PlayerKey).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var stored progression.Player
	if err := json.Unmarshal([]byte(row.ValueJSON), &stored); err != nil || stored.Validate() != nil {
		if logger != nil {
			logger.Warn("skipping normalization of unreadable player record")
		}
		return nil
	}
	normalized := progression.Normalize(stored)
	if normalized == stored {
		return nil
	}

	payload, err := json.Marshal(normalized)
	if err != nil {
		return err
	}
	return db.Model(&players.KeyValue{}).
		Where("record_key = ?", players.PlayerKey).
		Updates(map[string]interface{}{
			"value_json":   string(payload),
			"updated_at_s": time.Now().UTC().Unix(),
		}).Error
}
