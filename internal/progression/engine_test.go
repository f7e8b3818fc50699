package progression

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var fixedNow = time.Date(2026, time.October, 18, 9, 30, 0, 0, time.UTC)

func mustExperience(t *testing.T, value int) Experience {
	t.Helper()
	xp, err := NewExperience(value)
	if err != nil {
		t.Fatalf("unexpected experience error: %v", err)
	}
	return xp
}

func TestApplyExperienceCrossesSingleThreshold(t *testing.T) {
	player := NewPlayer(fixedNow)
	player.XP = 90

	updated, events := ApplyExperience(player, mustExperience(t, 15))

	if updated.Level != 2 {
		t.Fatalf("expected level 2, got %d", updated.Level)
	}
	if updated.XP != 5 {
		t.Fatalf("expected xp 5, got %d", updated.XP)
	}
	if updated.Gold != 100 {
		t.Fatalf("expected gold 100, got %d", updated.Gold)
	}
	if updated.XPForNextLevel != 200 {
		t.Fatalf("expected threshold 200, got %d", updated.XPForNextLevel)
	}
	if len(events) != 1 || events[0].NewLevel != 2 {
		t.Fatalf("expected a single level-up to 2, got %#v", events)
	}
	if player.Level != 1 || player.XP != 90 {
		t.Fatalf("input player must not be modified, got %#v", player)
	}
}

func TestApplyExperienceMatchesIterativeSimulation(t *testing.T) {
	tests := []struct {
		name  string
		delta int
	}{
		{name: "below-threshold", delta: 99},
		{name: "exact-threshold", delta: 100},
		{name: "past-first-threshold", delta: 260},
		{name: "four-levels", delta: 1000},
		{name: "large", delta: 123456},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, xp, threshold, gold := 1, tt.delta, 100, 0
			var simulated []int
			for xp >= threshold {
				xp -= threshold
				level++
				gold += 100
				threshold = 100 + level*50
				simulated = append(simulated, level)
			}

			updated, events := ApplyExperience(NewPlayer(fixedNow), mustExperience(t, tt.delta))
			if updated.Level != level || updated.XP != xp || updated.XPForNextLevel != threshold || updated.Gold != gold {
				t.Fatalf("expected level=%d xp=%d threshold=%d gold=%d, got %#v", level, xp, threshold, gold, updated)
			}
			if len(events) != len(simulated) {
				t.Fatalf("expected %d events, got %d", len(simulated), len(events))
			}
			for index, event := range events {
				if event.NewLevel != simulated[index] {
					t.Fatalf("event %d: expected level %d, got %d", index, simulated[index], event.NewLevel)
				}
			}
		})
	}
}

func TestApplyExperienceFourLevelsInOneDeposit(t *testing.T) {
	updated, events := ApplyExperience(NewPlayer(fixedNow), mustExperience(t, 1000))

	if updated.Level != 5 || updated.XP != 150 || updated.Gold != 400 {
		t.Fatalf("unexpected player after deposit: %#v", updated)
	}
	if updated.Rank != RankD {
		t.Fatalf("expected rank D at level 5, got %s", updated.Rank)
	}
	expected := []int{2, 3, 4, 5}
	if len(events) != len(expected) {
		t.Fatalf("expected %d events, got %d", len(expected), len(events))
	}
	for index, level := range expected {
		if events[index].NewLevel != level {
			t.Fatalf("event %d: expected level %d, got %d", index, level, events[index].NewLevel)
		}
	}
	if events[3].Rank != RankD || events[2].Rank != RankE {
		t.Fatalf("events should carry the rank reached at each level, got %#v", events)
	}
}

func TestApplyExperienceIsDeterministic(t *testing.T) {
	player := NewPlayer(fixedNow)
	player.Level, player.XP, player.XPForNextLevel = 7, 120, XPForNextLevel(7)

	first, firstEvents := ApplyExperience(player, mustExperience(t, 5000))
	second, secondEvents := ApplyExperience(player, mustExperience(t, 5000))
	if first != second || len(firstEvents) != len(secondEvents) {
		t.Fatalf("replaying the same deposit diverged: %#v vs %#v", first, second)
	}
}

func TestApplyExperienceProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("xp stays below the next threshold", prop.ForAll(
		func(level, xpSeed, delta int) bool {
			player := NewPlayer(fixedNow)
			player.Level = level
			player.XPForNextLevel = XPForNextLevel(level)
			player.XP = xpSeed % player.XPForNextLevel
			player.Rank = RankForLevel(level)

			updated, _ := ApplyExperience(player, Experience(delta))
			return updated.XP >= 0 && updated.XP < updated.XPForNextLevel
		},
		gen.IntRange(1, 500),
		gen.IntRange(0, 1_000_000),
		gen.IntRange(0, 5_000_000),
	))

	properties.Property("derived fields follow the level", prop.ForAll(
		func(delta int) bool {
			start := NewPlayer(fixedNow)
			updated, events := ApplyExperience(start, Experience(delta))
			gained := updated.Level - start.Level
			return updated.XPForNextLevel == XPForNextLevel(updated.Level) &&
				updated.Rank == RankForLevel(updated.Level) &&
				updated.Gold == start.Gold+gained*GoldPerLevel &&
				len(events) == gained
		},
		gen.IntRange(0, 5_000_000),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestNewExperienceRejectsOutOfRangeValues(t *testing.T) {
	if _, err := NewExperience(-1); err == nil {
		t.Fatalf("expected negative experience to be rejected")
	}
	if _, err := NewExperience(MaxExperienceGrant + 1); err == nil {
		t.Fatalf("expected oversized experience to be rejected")
	}
	if xp, err := NewExperience(0); err != nil || xp != 0 {
		t.Fatalf("expected zero experience to be accepted, got %d %v", xp, err)
	}
}

func TestDailyRolloverOnlyChangesOnNewDay(t *testing.T) {
	player := NewPlayer(fixedNow)

	same, changed := DailyRollover(player, DateOf(fixedNow))
	if changed || same != player {
		t.Fatalf("expected no change on the same day")
	}

	tomorrow := DateOf(fixedNow.Add(24 * time.Hour))
	next, changed := DailyRollover(player, tomorrow)
	if !changed {
		t.Fatalf("expected rollover on a new day")
	}
	if next.LastActiveDate != tomorrow {
		t.Fatalf("expected last active date %s, got %s", tomorrow, next.LastActiveDate)
	}
	if next.Streak != player.Streak {
		t.Fatalf("rollover must not touch the streak")
	}
}

func TestNormalizeRepairsDerivedFields(t *testing.T) {
	player := NewPlayer(fixedNow)
	player.Level = 12
	player.Rank = RankE
	player.XPForNextLevel = 1
	player.XP = XPForNextLevel(12) + 10

	normalized := Normalize(player)
	if normalized.Level != 13 || normalized.XP != 10 {
		t.Fatalf("expected excess xp to be drained into level 13, got %#v", normalized)
	}
	if normalized.Rank != RankC || normalized.XPForNextLevel != XPForNextLevel(13) {
		t.Fatalf("expected derived fields to follow level, got %#v", normalized)
	}
}

func TestNormalizeTerminatesOnOverflowingThreshold(t *testing.T) {
	player := NewPlayer(fixedNow)
	player.Level = 1 << 62
	player.XP = 10

	done := make(chan Player, 1)
	go func() { done <- Normalize(player) }()
	select {
	case normalized := <-done:
		if normalized.Level != player.Level {
			t.Fatalf("expected level to stay put on a non-positive threshold, got %d", normalized.Level)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("normalize did not return for an overflowing level")
	}
}

func TestMaxLevelKeepsThresholdPositive(t *testing.T) {
	if XPForNextLevel(MaxLevel) <= 0 {
		t.Fatalf("threshold at max level overflowed: %d", XPForNextLevel(MaxLevel))
	}
	player := NewPlayer(fixedNow)
	player.Level = MaxLevel
	player.XPForNextLevel = XPForNextLevel(MaxLevel)
	player.XP = MaxStoredExperience
	if err := player.Validate(); err != nil {
		t.Fatalf("bounded player should validate: %v", err)
	}
	normalized := Normalize(player)
	if normalized.XPForNextLevel <= 0 || normalized.XP < 0 {
		t.Fatalf("expected bounded progression, got %#v", normalized)
	}
}

func TestApplyExperienceStopsAtMaxLevel(t *testing.T) {
	player := NewPlayer(fixedNow)
	player.Level = MaxLevel - 1
	player.XPForNextLevel = XPForNextLevel(player.Level)
	player.XP = MaxStoredExperience

	next, events := ApplyExperience(player, mustExperience(t, MaxExperienceGrant))
	if next.Level != MaxLevel || len(events) != 1 {
		t.Fatalf("expected a single level-up to the cap, got level %d with %d events", next.Level, len(events))
	}
	if next.XP != MaxStoredExperience {
		t.Fatalf("expected experience to saturate, got %d", next.XP)
	}
	if err := next.Validate(); err != nil {
		t.Fatalf("capped player should still validate: %v", err)
	}
}

func TestPlayerValidate(t *testing.T) {
	valid := NewPlayer(fixedNow)
	if err := valid.Validate(); err != nil {
		t.Fatalf("default player should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Player)
	}{
		{name: "level", mutate: func(p *Player) { p.Level = 0 }},
		{name: "xp", mutate: func(p *Player) { p.XP = -1 }},
		{name: "level-above-max", mutate: func(p *Player) { p.Level = MaxLevel + 1 }},
		{name: "level-overflowing-threshold", mutate: func(p *Player) { p.Level = 1 << 62 }},
		{name: "xp-above-max", mutate: func(p *Player) { p.XP = MaxStoredExperience + 1 }},
		{name: "gold", mutate: func(p *Player) { p.Gold = -5 }},
		{name: "streak", mutate: func(p *Player) { p.Streak = -1 }},
		{name: "rank", mutate: func(p *Player) { p.Rank = "Z" }},
		{name: "date", mutate: func(p *Player) { p.LastActiveDate = "Sun Oct 18 2026" }},
		{name: "created", mutate: func(p *Player) { p.CreatedAt = time.Time{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			player := valid
			tt.mutate(&player)
			if err := player.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLogNotifierLogsEachLevel(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	notifier := Notifiers{LogNotifier{Logger: zap.New(core)}, nil}

	updated, events := ApplyExperience(NewPlayer(fixedNow), Experience(1000))
	notifier.NotifyLevelUps(context.Background(), updated, events)

	entries := logs.FilterMessage("level up").All()
	if len(entries) != 4 {
		t.Fatalf("expected 4 level up log entries, got %d", len(entries))
	}
	if entries[0].ContextMap()["level"] != int64(2) {
		t.Fatalf("expected first entry for level 2, got %v", entries[0].ContextMap())
	}
}

func TestXPForNextLevel(t *testing.T) {
	tests := map[int]int{1: 100, 2: 200, 3: 250, 5: 350, 30: 1600}
	for level, want := range tests {
		if got := XPForNextLevel(level); got != want {
			t.Fatalf("XPForNextLevel(%d) = %d, want %d", level, got, want)
		}
	}
	if NewPlayer(fixedNow).XPForNextLevel != InitialXPForNextLevel {
		t.Fatalf("default player must start at the initial threshold")
	}
}
