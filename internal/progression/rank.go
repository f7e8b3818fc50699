package progression

// Rank is the coarse tier label derived from level.
type Rank string

const (
	RankE Rank = "E"
	RankD Rank = "D"
	RankC Rank = "C"
	RankB Rank = "B"
	RankA Rank = "A"
	RankS Rank = "S"
)

type rankThreshold struct {
	minLevel int
	rank     Rank
}

// rankThresholds must stay sorted by minLevel ascending.
var rankThresholds = []rankThreshold{
	{minLevel: 1, rank: RankE},
	{minLevel: 5, rank: RankD},
	{minLevel: 10, rank: RankC},
	{minLevel: 15, rank: RankB},
	{minLevel: 20, rank: RankA},
	{minLevel: 30, rank: RankS},
}

// RankForLevel returns the rank of the highest threshold not above level.
func RankForLevel(level int) Rank {
	rank := RankE
	for _, threshold := range rankThresholds {
		if level < threshold.minLevel {
			break
		}
		rank = threshold.rank
	}
	return rank
}

// Valid reports whether r is one of the known ranks.
func (r Rank) Valid() bool {
	for _, threshold := range rankThresholds {
		if threshold.rank == r {
			return true
		}
	}
	return false
}

func (r Rank) String() string {
	return string(r)
}
