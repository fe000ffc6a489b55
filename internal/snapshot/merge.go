package snapshot

import (
	"fmt"
	"strings"

	"github.com/p-n-ai/pai-quest/internal/graph"
)

// Strategy selects how an imported snapshot reconciles with the live one.
type Strategy string

const (
	Overwrite Strategy = "overwrite"
	Merge     Strategy = "merge"
	Skip      Strategy = "skip"
)

// ParseStrategy parses a strategy name. An empty name selects Merge.
func ParseStrategy(v string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(v))) {
	case "", Merge:
		return Merge, nil
	case Overwrite:
		return Overwrite, nil
	case Skip:
		return Skip, nil
	default:
		return "", fmt.Errorf("unknown merge strategy %q", v)
	}
}

// Combine reconciles imported into live using strategy and returns a new
// snapshot. Neither input is modified. The result has not been resolved.
func Combine(live, imported *Snapshot, strategy Strategy) *Snapshot {
	if strategy == Overwrite {
		return imported.Clone()
	}

	out := &Snapshot{
		Zones:    mergeZones(live.Zones, imported.Zones, strategy),
		User:     mergeLearner(live.User, imported.User, strategy),
		Settings: live.Settings,
	}
	return out
}

func mergeZones(live, imported []graph.Zone, strategy Strategy) []graph.Zone {
	out := graph.Clone(live)
	if out == nil {
		out = []graph.Zone{}
	}

	// Level identifiers are matched across the whole graph, so a level that
	// moved zones between curriculum versions is reconciled, not duplicated.
	for _, iz := range graph.Clone(imported) {
		zi := zoneIndex(out, iz.ID)
		added := zi < 0
		if added {
			out = append(out, graph.Zone{ID: iz.ID, Title: iz.Title, Color: iz.Color, Icon: iz.Icon, Levels: []graph.Level{}})
			zi = len(out) - 1
		}
		for _, il := range iz.Levels {
			l := graph.FindLevel(out, il.ID)
			if l == nil {
				out[zi].Levels = append(out[zi].Levels, il)
				continue
			}
			if strategy == Merge && il.Status > l.Status {
				l.Status = il.Status
			}
		}
		if added && len(out[zi].Levels) == 0 && len(iz.Levels) > 0 {
			out = out[:zi]
		}
	}
	return out
}

func zoneIndex(zones []graph.Zone, id string) int {
	for i := range zones {
		if zones[i].ID == id {
			return i
		}
	}
	return -1
}

func mergeLearner(live, imported Learner, strategy Strategy) Learner {
	out := live.Clone()

	if strategy == Merge && imported.XP > out.XP {
		out.XP = imported.XP
	}
	out.Level = LevelForXP(out.XP)

	have := make(map[string]bool, len(out.Badges))
	for _, b := range out.Badges {
		have[b] = true
	}
	for _, b := range imported.Badges {
		if !have[b] {
			have[b] = true
			out.Badges = append(out.Badges, b)
		}
	}

	for k, v := range imported.Notes {
		if _, ok := out.Notes[k]; !ok {
			out.Notes[k] = v
		}
	}
	for k, v := range imported.Journal {
		if _, ok := out.Journal[k]; !ok {
			out.Journal[k] = append([]JournalEntry(nil), v...)
		}
	}
	return out
}
