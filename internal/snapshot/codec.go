package snapshot

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/text/unicode/norm"

	"github.com/p-n-ai/pai-quest/internal/graph"
)

// ErrMalformed is returned when a snapshot fails validation.
var ErrMalformed = errors.New("malformed snapshot")

//go:embed snapshot.schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	})
	return schema, schemaErr
}

// Decode validates data against the snapshot schema and the graph invariants
// and returns the typed snapshot. Any failure wraps ErrMalformed.
func Decode(data []byte) (*Snapshot, error) {
	s, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compiling snapshot schema: %w", err)
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrMalformed, strings.Join(msgs, "; "))
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if err := Normalize(&snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Encode renders the snapshot in its persisted JSON shape.
func Encode(snap *Snapshot) ([]byte, error) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return data, nil
}

// Normalize canonicalises identifiers, fills defaults and checks graph
// invariants. Snapshots built in code go through it too.
func Normalize(snap *Snapshot) error {
	if snap.Zones == nil {
		return fmt.Errorf("%w: missing zones", ErrMalformed)
	}

	for zi := range snap.Zones {
		z := &snap.Zones[zi]
		z.ID = canonicalID(z.ID)
		if z.ID == "" {
			return fmt.Errorf("%w: zone %d has an empty id", ErrMalformed, zi)
		}
		if z.Levels == nil {
			z.Levels = []graph.Level{}
		}
		for li := range z.Levels {
			l := &z.Levels[li]
			l.ID = canonicalID(l.ID)
			if l.ID == "" {
				return fmt.Errorf("%w: zone %s level %d has an empty id", ErrMalformed, z.ID, li)
			}
			if strings.TrimSpace(l.Title) == "" {
				return fmt.Errorf("%w: level %s has no title", ErrMalformed, l.ID)
			}
			if l.XP <= 0 {
				l.XP = graph.DefaultXP
			}
			for pi, req := range l.Prereqs {
				l.Prereqs[pi] = canonicalID(req)
			}
		}
	}

	if err := graph.Validate(snap.Zones); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	normalizeLearner(&snap.User)
	if snap.Settings.ViewMode == "" {
		snap.Settings.ViewMode = DefaultViewMode
	}
	return nil
}

func normalizeLearner(u *Learner) {
	badges := make([]string, 0, len(u.Badges))
	seen := make(map[string]bool, len(u.Badges))
	for _, b := range u.Badges {
		b = canonicalID(b)
		if b == "" || seen[b] {
			continue
		}
		seen[b] = true
		badges = append(badges, b)
	}
	u.Badges = badges

	notes := make(map[string]string, len(u.Notes))
	for k, v := range u.Notes {
		notes[canonicalID(k)] = v
	}
	u.Notes = notes

	journal := make(map[string][]JournalEntry, len(u.Journal))
	for k, entries := range u.Journal {
		key := canonicalID(k)
		for _, e := range entries {
			if e.ID == "" {
				e.ID = uuid.NewString()
			}
			journal[key] = append(journal[key], e)
		}
	}
	u.Journal = journal

	if u.XP < 0 {
		u.XP = 0
	}
	u.Level = LevelForXP(u.XP)
}

// canonicalID trims and NFC-normalises an identifier so that snapshots
// authored on different systems compare equal during merge.
func canonicalID(id string) string {
	return norm.NFC.String(strings.TrimSpace(id))
}
