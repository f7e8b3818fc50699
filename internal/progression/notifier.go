package progression

import (
	"context"

	"go.uber.org/zap"
)

// Notifier consumes level-up events in order, one transient effect per event.
type Notifier interface {
	NotifyLevelUps(ctx context.Context, player Player, events []LevelUp)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, player Player, events []LevelUp)

// NotifyLevelUps calls f.
func (f NotifierFunc) NotifyLevelUps(ctx context.Context, player Player, events []LevelUp) {
	f(ctx, player, events)
}

// Notifiers fans events out to every notifier in order.
type Notifiers []Notifier

// NotifyLevelUps implements Notifier.
func (n Notifiers) NotifyLevelUps(ctx context.Context, player Player, events []LevelUp) {
	for _, notifier := range n {
		if notifier == nil {
			continue
		}
		notifier.NotifyLevelUps(ctx, player, events)
	}
}

// LogNotifier writes one structured log line per level gained.
type LogNotifier struct {
	Logger *zap.Logger
}

// NotifyLevelUps implements Notifier.
func (n LogNotifier) NotifyLevelUps(_ context.Context, player Player, events []LevelUp) {
	logger := n.Logger
	if logger == nil {
		return
	}
	for _, event := range events {
		logger.Info("level up",
			zap.Int("level", event.NewLevel),
			zap.String("rank", event.Rank.String()),
			zap.Int("gold", player.Gold))
	}
}
