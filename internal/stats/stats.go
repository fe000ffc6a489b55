// Package stats derives progress statistics from a progression graph.
package stats

import (
	"math"

	"github.com/p-n-ai/pai-quest/internal/graph"
)

// ZoneProgress is the completion count of a single zone.
type ZoneProgress struct {
	ZoneID    string `json:"zoneId"`
	Title     string `json:"title"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

// Mastered reports whether every level of a non-empty zone is complete.
func (z ZoneProgress) Mastered() bool {
	return z.Total > 0 && z.Completed == z.Total
}

// Stats is a point-in-time summary of a graph.
type Stats struct {
	TotalXP       int            `json:"totalXp"`
	EarnedXP      int            `json:"earnedXp"`
	Completed     int            `json:"completed"`
	Total         int            `json:"total"`
	Percent       int            `json:"percent"`
	Zones         []ZoneProgress `json:"zones"`
	ZonesMastered int            `json:"zonesMastered"`
}

// Aggregate computes Stats for zones. It does not modify its input.
func Aggregate(zones []graph.Zone) Stats {
	s := Stats{Zones: make([]ZoneProgress, 0, len(zones))}

	for _, z := range zones {
		zp := ZoneProgress{ZoneID: z.ID, Title: z.Title, Total: len(z.Levels)}
		for _, l := range z.Levels {
			xp := l.XPValue()
			s.TotalXP += xp
			if l.Status == graph.Complete {
				s.EarnedXP += xp
				zp.Completed++
			}
		}
		s.Completed += zp.Completed
		s.Total += zp.Total
		if zp.Mastered() {
			s.ZonesMastered++
		}
		s.Zones = append(s.Zones, zp)
	}

	if s.TotalXP > 0 {
		s.Percent = int(math.Round(float64(s.EarnedXP) / float64(s.TotalXP) * 100))
	}
	return s
}

// EarnedXP sums the XP of every complete level.
func EarnedXP(zones []graph.Zone) int {
	total := 0
	for _, z := range zones {
		for _, l := range z.Levels {
			if l.Status == graph.Complete {
				total += l.XPValue()
			}
		}
	}
	return total
}
