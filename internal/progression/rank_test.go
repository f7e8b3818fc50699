package progression

import "testing"

func TestRankForLevelBoundaries(t *testing.T) {
	tests := []struct {
		level int
		rank  Rank
	}{
		{level: 1, rank: RankE},
		{level: 4, rank: RankE},
		{level: 5, rank: RankD},
		{level: 9, rank: RankD},
		{level: 10, rank: RankC},
		{level: 15, rank: RankB},
		{level: 20, rank: RankA},
		{level: 29, rank: RankA},
		{level: 30, rank: RankS},
		{level: 250, rank: RankS},
	}

	for _, tt := range tests {
		if got := RankForLevel(tt.level); got != tt.rank {
			t.Fatalf("level %d: expected rank %s, got %s", tt.level, tt.rank, got)
		}
	}
}

func TestRankThresholdsAscending(t *testing.T) {
	for index := 1; index < len(rankThresholds); index++ {
		if rankThresholds[index].minLevel <= rankThresholds[index-1].minLevel {
			t.Fatalf("rank thresholds out of order at %d", index)
		}
	}
}
