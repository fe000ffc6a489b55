// Package graph holds the curriculum progression graph: zones, levels, their
// prerequisite edges, and the unlock resolver that derives lock state.
package graph

import (
	"encoding/json"
	"fmt"
)

// DefaultXP is the XP value of a level that does not declare one.
const DefaultXP = 100

// Status is the progression state of a single level.
type Status int

const (
	Locked Status = iota
	Unlocked
	InProgress
	Complete
)

var statusNames = map[Status]string{
	Locked:     "locked",
	Unlocked:   "unlocked",
	InProgress: "in-progress",
	Complete:   "complete",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ParseStatus converts a persisted status string into a Status.
// An empty string parses as Locked.
func ParseStatus(v string) (Status, error) {
	if v == "" {
		return Locked, nil
	}
	for s, name := range statusNames {
		if name == v {
			return s, nil
		}
	}
	return Locked, fmt.Errorf("unknown status %q", v)
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("status must be a string: %w", err)
	}
	parsed, err := ParseStatus(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Level is the atomic progression unit.
type Level struct {
	ID              string   `json:"id" yaml:"id"`
	Title           string   `json:"title" yaml:"title"`
	Description     string   `json:"description,omitempty" yaml:"description"`
	LongDescription string   `json:"longDescription,omitempty" yaml:"long_description"`
	XP              int      `json:"xp,omitempty" yaml:"xp"`
	Hours           *float64 `json:"hours,omitempty" yaml:"hours"`
	Prereqs         []string `json:"prereqs,omitempty" yaml:"prereqs"`
	Status          Status   `json:"status" yaml:"-"`
}

// XPValue returns the level's XP, falling back to DefaultXP.
func (l Level) XPValue() int {
	if l.XP <= 0 {
		return DefaultXP
	}
	return l.XP
}

// Zone is an ordered group of levels forming a curriculum section.
type Zone struct {
	ID     string  `json:"id" yaml:"id"`
	Title  string  `json:"title" yaml:"title"`
	Color  string  `json:"color,omitempty" yaml:"color"`
	Icon   string  `json:"icon,omitempty" yaml:"icon"`
	Levels []Level `json:"levels" yaml:"levels"`
}

// Clone returns a deep copy of zones so callers can mutate it freely.
func Clone(zones []Zone) []Zone {
	if zones == nil {
		return nil
	}
	out := make([]Zone, len(zones))
	for i, z := range zones {
		out[i] = z
		out[i].Levels = make([]Level, len(z.Levels))
		for j, l := range z.Levels {
			if l.Hours != nil {
				h := *l.Hours
				l.Hours = &h
			}
			if l.Prereqs != nil {
				l.Prereqs = append([]string(nil), l.Prereqs...)
			}
			out[i].Levels[j] = l
		}
	}
	return out
}

// Ref locates a level inside a zone slice.
type Ref struct {
	Zone  int
	Index int
}

// Index maps level IDs to their position.
func Index(zones []Zone) map[string]Ref {
	idx := make(map[string]Ref)
	for zi, z := range zones {
		for li, l := range z.Levels {
			idx[l.ID] = Ref{Zone: zi, Index: li}
		}
	}
	return idx
}

// FindLevel returns a pointer to the level with the given ID, or nil.
func FindLevel(zones []Zone, id string) *Level {
	for zi := range zones {
		for li := range zones[zi].Levels {
			if zones[zi].Levels[li].ID == id {
				return &zones[zi].Levels[li]
			}
		}
	}
	return nil
}

// FindZone returns a pointer to the zone with the given ID, or nil.
func FindZone(zones []Zone, id string) *Zone {
	for zi := range zones {
		if zones[zi].ID == id {
			return &zones[zi]
		}
	}
	return nil
}

// CompleteSet returns the IDs of every Complete level.
func CompleteSet(zones []Zone) map[string]bool {
	done := make(map[string]bool)
	for _, z := range zones {
		for _, l := range z.Levels {
			if l.Status == Complete {
				done[l.ID] = true
			}
		}
	}
	return done
}
