package players

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/sololeveling/internal/metrics"
	"github.com/MarcoPoloResearchLab/sololeveling/internal/progression"
	"go.uber.org/zap"
)

var (
	errMissingStore = errors.New("player store is required")
	noOpLogger      = zap.NewNop()
)

// ServiceError carries a dotted operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the machine-readable error code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew      = "players.service.new"
	opLoadPlayer      = "players.load_player"
	opGrantExperience = "players.grant_experience"
	opRolloverPlayer  = "players.rollover"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies of Service.
type ServiceConfig struct {
	Store    Store
	Notifier progression.Notifier
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service owns the load→mutate→save critical section for the player record.
// Every mutation is serialized so concurrent callers never interleave a
// read-modify-write.
type Service struct {
	mu       sync.Mutex
	store    Store
	notifier progression.Notifier
	clock    func() time.Time
	logger   *zap.Logger
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		store:    cfg.Store,
		notifier: cfg.Notifier,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Progress is the outcome of a single experience grant.
type Progress struct {
	Player   progression.Player
	LevelUps []progression.LevelUp
}

// Player returns the current player record.
func (s *Service) Player(ctx context.Context) (progression.Player, error) {
	if s.store == nil {
		return progression.Player{}, newServiceError(opLoadPlayer, "missing_store", errMissingStore)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	player, err := s.store.Load(ctx)
	if err != nil {
		s.logError(opLoadPlayer, "load_failed", err)
		return progression.Player{}, newServiceError(opLoadPlayer, "load_failed", err)
	}
	return player, nil
}

// GrantExperience deposits xp, persists the result and then notifies the
// level-up events in ascending level order.
func (s *Service) GrantExperience(ctx context.Context, xp progression.Experience) (Progress, error) {
	if s.store == nil {
		return Progress{}, newServiceError(opGrantExperience, "missing_store", errMissingStore)
	}
	s.mu.Lock()
	player, err := s.store.Load(ctx)
	if err != nil {
		s.mu.Unlock()
		s.logError(opGrantExperience, "load_failed", err)
		return Progress{}, newServiceError(opGrantExperience, "load_failed", err)
	}

	updated, events := progression.ApplyExperience(player, xp)
	if err := s.store.Save(ctx, updated); err != nil {
		s.mu.Unlock()
		s.logError(opGrantExperience, "save_failed", err, zap.Int("xp", xp.Int()))
		return Progress{}, newServiceError(opGrantExperience, "save_failed", err)
	}
	s.mu.Unlock()

	if len(events) > 0 {
		metrics.LevelUpsTotal.Add(float64(len(events)))
		if s.notifier != nil {
			s.notifier.NotifyLevelUps(ctx, updated, events)
		}
	}

	return Progress{Player: updated, LevelUps: events}, nil
}

// Rollover records today's date as the last active day when a day boundary
// was crossed since the previous activity.
func (s *Service) Rollover(ctx context.Context) (progression.Player, bool, error) {
	if s.store == nil {
		return progression.Player{}, false, newServiceError(opRolloverPlayer, "missing_store", errMissingStore)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	player, err := s.store.Load(ctx)
	if err != nil {
		s.logError(opRolloverPlayer, "load_failed", err)
		return progression.Player{}, false, newServiceError(opRolloverPlayer, "load_failed", err)
	}

	today := progression.DateOf(s.clock())
	updated, changed := progression.DailyRollover(player, today)
	if !changed {
		return player, false, nil
	}
	if err := s.store.Save(ctx, updated); err != nil {
		s.logError(opRolloverPlayer, "save_failed", err, zap.String("today", today.String()))
		return progression.Player{}, false, newServiceError(opRolloverPlayer, "save_failed", err)
	}
	s.loggerOrDefault().Info("daily rollover", zap.String("last_active_date", today.String()))
	return updated, true, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("players service error", attrs...)
}
