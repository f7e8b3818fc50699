package progression

import (
	"errors"
	"fmt"
	"time"
)

const (
	// InitialXPForNextLevel is the threshold of a level 1 player.
	InitialXPForNextLevel = 100
	// BaseXPForNextLevel is the constant term of the threshold formula.
	BaseXPForNextLevel = 100
	// XPPerLevel is added to the threshold for every level held.
	XPPerLevel = 50
	// GoldPerLevel is awarded for every level gained.
	GoldPerLevel = 100
	// DefaultTitle is assigned to freshly created players.
	DefaultTitle = "HUNTER"
	// MaxExperienceGrant bounds a single deposit so the level loop stays finite in practice.
	MaxExperienceGrant = 1_000_000_000
	// MaxLevel bounds stored levels so the threshold formula never overflows.
	MaxLevel = 1_000_000
	// MaxStoredExperience bounds the experience a stored record may carry.
	MaxStoredExperience = 1 << 40

	dateLayout = "2006-01-02"
)

var (
	// ErrNegativeExperience indicates a deposit below zero.
	ErrNegativeExperience = errors.New("progression: negative experience")
	// ErrExperienceTooLarge indicates a deposit above MaxExperienceGrant.
	ErrExperienceTooLarge = errors.New("progression: experience exceeds maximum grant")
	// ErrInvalidPlayer indicates a structurally invalid player record.
	ErrInvalidPlayer = errors.New("progression: invalid player")
	// ErrInvalidDate indicates a calendar date that does not parse.
	ErrInvalidDate = errors.New("progression: invalid date")
)

// Experience is a validated, non-negative experience deposit.
type Experience int

// NewExperience validates raw input and returns an Experience.
func NewExperience(raw int) (Experience, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNegativeExperience, raw)
	}
	if raw > MaxExperienceGrant {
		return 0, fmt.Errorf("%w: %d > %d", ErrExperienceTooLarge, raw, MaxExperienceGrant)
	}
	return Experience(raw), nil
}

// Int exposes the raw amount.
func (e Experience) Int() int {
	return int(e)
}

// Date is a calendar day in YYYY-MM-DD form.
type Date string

// DateOf returns the calendar day of t in t's location.
func DateOf(t time.Time) Date {
	return Date(t.Format(dateLayout))
}

// ParseDate validates raw input and returns a Date.
func ParseDate(raw string) (Date, error) {
	parsed, err := time.Parse(dateLayout, raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	return DateOf(parsed), nil
}

// String returns the underlying string form.
func (d Date) String() string {
	return string(d)
}

// Player is the single progression record of the device owner.
type Player struct {
	Level          int       `json:"level"`
	XP             int       `json:"xp"`
	XPForNextLevel int       `json:"xpForNextLevel"`
	Gold           int       `json:"gold"`
	Rank           Rank      `json:"rank"`
	Streak         int       `json:"streak"`
	Title          string    `json:"title"`
	LastActiveDate Date      `json:"lastActiveDate"`
	CreatedAt      time.Time `json:"createdAt"`
}

// NewPlayer builds the default record for a player first seen at now.
func NewPlayer(now time.Time) Player {
	return Player{
		Level:          1,
		XP:             0,
		XPForNextLevel: XPForNextLevel(1),
		Gold:           0,
		Rank:           RankE,
		Streak:         0,
		Title:          DefaultTitle,
		LastActiveDate: DateOf(now),
		CreatedAt:      now.UTC().Truncate(time.Millisecond),
	}
}

// Validate reports structural problems that make a record unusable.
// Derived fields (threshold, rank, excess xp) are repaired by Normalize instead.
func (p Player) Validate() error {
	switch {
	case p.Level < 1:
		return fmt.Errorf("%w: level %d", ErrInvalidPlayer, p.Level)
	case p.Level > MaxLevel:
		return fmt.Errorf("%w: level %d exceeds %d", ErrInvalidPlayer, p.Level, MaxLevel)
	case p.XP < 0:
		return fmt.Errorf("%w: xp %d", ErrInvalidPlayer, p.XP)
	case p.XP > MaxStoredExperience:
		return fmt.Errorf("%w: xp %d exceeds %d", ErrInvalidPlayer, p.XP, MaxStoredExperience)
	case p.Gold < 0:
		return fmt.Errorf("%w: gold %d", ErrInvalidPlayer, p.Gold)
	case p.Streak < 0:
		return fmt.Errorf("%w: streak %d", ErrInvalidPlayer, p.Streak)
	case !p.Rank.Valid():
		return fmt.Errorf("%w: rank %q", ErrInvalidPlayer, p.Rank)
	case p.CreatedAt.IsZero():
		return fmt.Errorf("%w: missing createdAt", ErrInvalidPlayer)
	}
	if _, err := ParseDate(p.LastActiveDate.String()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPlayer, err)
	}
	return nil
}

// XPForNextLevel returns the threshold a player at level must reach to level
// up. Level 1 starts at InitialXPForNextLevel; every level reached through a
// level-up uses the formula.
func XPForNextLevel(level int) int {
	if level <= 1 {
		return InitialXPForNextLevel
	}
	return BaseXPForNextLevel + level*XPPerLevel
}

// LevelUp records a single level gained during ApplyExperience.
type LevelUp struct {
	NewLevel int  `json:"newLevel"`
	Rank     Rank `json:"rank"`
}
