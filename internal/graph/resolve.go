package graph

// ZoneUnlockPercent is the share of the previous zone that must be complete
// before the first level of the next zone opens.
const ZoneUnlockPercent = 70

// Resolve recomputes Locked/Unlocked for every level that is neither Complete
// nor InProgress. It returns a new slice and leaves zones untouched.
func Resolve(zones []Zone) []Zone {
	out := Clone(zones)
	done := CompleteSet(out)

	for zi := range out {
		levels := out[zi].Levels
		for li := range levels {
			l := &levels[li]
			if l.Status == Complete || l.Status == InProgress {
				continue
			}
			if unlockable(out, zi, li, done) {
				l.Status = Unlocked
			} else {
				l.Status = Locked
			}
		}
	}
	return out
}

func unlockable(zones []Zone, zi, li int, done map[string]bool) bool {
	l := zones[zi].Levels[li]

	if len(l.Prereqs) > 0 {
		for _, req := range l.Prereqs {
			if !done[req] {
				return false
			}
		}
		return true
	}

	switch {
	case li == 0 && zi == 0:
		return true
	case li == 0:
		return zoneThresholdMet(zones[zi-1])
	default:
		return zones[zi].Levels[li-1].Status == Complete
	}
}

// zoneThresholdMet compares completed/total against ZoneUnlockPercent without
// floating point. An empty zone never blocks the next one.
func zoneThresholdMet(z Zone) bool {
	completed := 0
	for _, l := range z.Levels {
		if l.Status == Complete {
			completed++
		}
	}
	return completed*100 >= ZoneUnlockPercent*len(z.Levels)
}

// LockDependents forces the given levels to Locked and then, transitively,
// every level that lists a re-locked level as a prerequisite. Levels that only
// depend on zone order are left for Resolve to re-derive.
func LockDependents(zones []Zone, ids []string) []Zone {
	out := Clone(zones)
	idx := Index(out)

	dependents := make(map[string][]string)
	for _, z := range out {
		for _, l := range z.Levels {
			for _, req := range l.Prereqs {
				dependents[req] = append(dependents[req], l.ID)
			}
		}
	}

	seen := make(map[string]bool)
	queue := append([]string(nil), ids...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		ref, ok := idx[id]
		if !ok {
			continue
		}
		out[ref.Zone].Levels[ref.Index].Status = Locked
		queue = append(queue, dependents[id]...)
	}
	return out
}
