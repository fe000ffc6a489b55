// Package snapshot defines the persisted progress snapshot, its validating
// codec, and the merge used when importing a foreign snapshot.
package snapshot

import (
	"time"

	"github.com/p-n-ai/pai-quest/internal/graph"
)

// XPPerLevel is the XP needed for each learner level.
const XPPerLevel = 1000

// DefaultViewMode is used when a snapshot has no view mode.
const DefaultViewMode = "map"

// JournalEntry is a timestamped note attached to a level.
type JournalEntry struct {
	ID   string    `json:"id"`
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

// Learner is the per-session learner state.
type Learner struct {
	XP        int                       `json:"xp"`
	Level     int                       `json:"level"`
	Badges    []string                  `json:"badges"`
	Notes     map[string]string         `json:"notes"`
	Journal   map[string][]JournalEntry `json:"journal"`
	LastVisit string                    `json:"lastVisit,omitempty"`
	Streak    int                       `json:"streak"`
}

// Settings holds presentation preferences.
type Settings struct {
	Shortcuts bool   `json:"shortcuts"`
	ViewMode  string `json:"viewMode"`
}

// Snapshot is the full serializable progress state.
type Snapshot struct {
	Zones    []graph.Zone `json:"zones"`
	User     Learner      `json:"user"`
	Settings Settings     `json:"settings"`
}

// LevelForXP derives the learner level from cumulative XP.
func LevelForXP(xp int) int {
	if xp <= 0 {
		return 0
	}
	return xp / XPPerLevel
}

// NewLearner returns an empty learner with initialised maps.
func NewLearner() Learner {
	return Learner{
		Badges:  []string{},
		Notes:   map[string]string{},
		Journal: map[string][]JournalEntry{},
	}
}

// DefaultSettings returns the settings of a fresh install.
func DefaultSettings() Settings {
	return Settings{Shortcuts: true, ViewMode: DefaultViewMode}
}

// Clone returns a deep copy of the learner.
func (l Learner) Clone() Learner {
	out := l
	out.Badges = append([]string{}, l.Badges...)
	out.Notes = make(map[string]string, len(l.Notes))
	for k, v := range l.Notes {
		out.Notes[k] = v
	}
	out.Journal = make(map[string][]JournalEntry, len(l.Journal))
	for k, v := range l.Journal {
		out.Journal[k] = append([]JournalEntry(nil), v...)
	}
	return out
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	return &Snapshot{
		Zones:    graph.Clone(s.Zones),
		User:     s.User.Clone(),
		Settings: s.Settings,
	}
}
