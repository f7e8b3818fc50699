package players

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/sololeveling/internal/metrics"
	"github.com/MarcoPoloResearchLab/sololeveling/internal/progression"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// PlayerKey is the durable key holding the serialized player record.
const PlayerKey = "player"

var errCorruptRecord = errors.New("players: corrupt player record")

// Store is the durable read-modify-write surface for the single player record.
type Store interface {
	// Load returns the stored player, or a default player when nothing is stored.
	Load(ctx context.Context) (progression.Player, error)
	// Save overwrites the stored player.
	Save(ctx context.Context, player progression.Player) error
}

func encodePlayer(player progression.Player) ([]byte, error) {
	if err := player.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(player)
}

func decodePlayer(raw []byte) (progression.Player, error) {
	var player progression.Player
	if err := json.Unmarshal(raw, &player); err != nil {
		return progression.Player{}, fmt.Errorf("%w: %v", errCorruptRecord, err)
	}
	if err := player.Validate(); err != nil {
		return progression.Player{}, fmt.Errorf("%w: %v", errCorruptRecord, err)
	}
	return progression.Normalize(player), nil
}

// resolveStored turns raw stored bytes into a player, falling back to a
// default record when nothing is stored or the stored value is unreadable.
func resolveStored(raw []byte, found bool, clock func() time.Time, logger *zap.Logger) progression.Player {
	if !found {
		return progression.NewPlayer(clock())
	}
	player, err := decodePlayer(raw)
	if err != nil {
		metrics.CorruptPlayerRecordsTotal.Inc()
		logger.Warn("players: corrupt player record discarded", zap.Error(err), zap.Int("bytes", len(raw)))
		return progression.NewPlayer(clock())
	}
	return player
}
