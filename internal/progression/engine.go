package progression

// ApplyExperience deposits delta into the player's experience and resolves
// every level threshold crossed, in ascending order. The input is not
// modified; the returned events carry one entry per level gained.
// Progression stops at MaxLevel and experience saturates at MaxStoredExperience.
func ApplyExperience(player Player, delta Experience) (Player, []LevelUp) {
	next := player
	next.XP += delta.Int()

	var events []LevelUp
	for next.Level < MaxLevel && next.XPForNextLevel > 0 && next.XP >= next.XPForNextLevel {
		next.XP -= next.XPForNextLevel
		next.Level++
		next.Gold += GoldPerLevel
		next.XPForNextLevel = XPForNextLevel(next.Level)
		next.Rank = RankForLevel(next.Level)
		events = append(events, LevelUp{NewLevel: next.Level, Rank: next.Rank})
	}
	if next.XP > MaxStoredExperience {
		next.XP = MaxStoredExperience
	}
	return next, events
}

// DailyRollover moves lastActiveDate to today when a day boundary was crossed.
// The boolean reports whether the record changed and needs to be persisted.
func DailyRollover(player Player, today Date) (Player, bool) {
	if player.LastActiveDate == today {
		return player, false
	}
	player.LastActiveDate = today
	return player, true
}

// Normalize re-derives the threshold and rank from level and drains any
// excess experience through the level loop. Records written by older
// clients may carry stale derived fields.
func Normalize(player Player) Player {
	player.XPForNextLevel = XPForNextLevel(player.Level)
	player.Rank = RankForLevel(player.Level)
	normalized, _ := ApplyExperience(player, 0)
	return normalized
}
