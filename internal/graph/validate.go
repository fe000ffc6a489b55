package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateID is returned when two zones or two levels share an identifier.
	ErrDuplicateID = errors.New("graph: duplicate identifier")
	// ErrUnknownPrereq is returned when a prerequisite references a missing level.
	ErrUnknownPrereq = errors.New("graph: unknown prerequisite")
	// ErrCycle is returned when the prerequisite relation is not acyclic.
	ErrCycle = errors.New("graph: prerequisite cycle")
)

// Validate checks identifier uniqueness, prerequisite references and acyclicity.
func Validate(zones []Zone) error {
	zoneIDs := make(map[string]bool, len(zones))
	levels := make(map[string]*Level)

	for zi := range zones {
		z := &zones[zi]
		if zoneIDs[z.ID] {
			return fmt.Errorf("%w: zone %s", ErrDuplicateID, z.ID)
		}
		zoneIDs[z.ID] = true
		for li := range z.Levels {
			l := &z.Levels[li]
			if _, dup := levels[l.ID]; dup {
				return fmt.Errorf("%w: level %s", ErrDuplicateID, l.ID)
			}
			levels[l.ID] = l
		}
	}

	dependents := make(map[string][]string)
	for id, l := range levels {
		for _, req := range l.Prereqs {
			if _, ok := levels[req]; !ok {
				return fmt.Errorf("%w: level %s requires %s", ErrUnknownPrereq, id, req)
			}
			dependents[req] = append(dependents[req], id)
		}
	}

	// Kahn's algorithm: any level left unprocessed sits on a cycle.
	inDegree := make(map[string]int, len(levels))
	var queue []string
	for id, l := range levels {
		inDegree[id] = len(l.Prereqs)
		if len(l.Prereqs) == 0 {
			queue = append(queue, id)
		}
	}
	processed := 0
	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]
		processed++
		for _, dep := range dependents[curr] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	if processed != len(levels) {
		var stuck []string
		for id, deg := range inDegree {
			if deg > 0 {
				stuck = append(stuck, id)
			}
		}
		return fmt.Errorf("%w: %d levels involved", ErrCycle, len(stuck))
	}

	return nil
}
