// Package progress runs the progression engine: it owns the live graph and
// learner state, applies start/complete/reset/import operations, and keeps
// derived state (unlocks, XP, badges, statistics) consistent after each one.
package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/p-n-ai/pai-quest/internal/achievement"
	"github.com/p-n-ai/pai-quest/internal/graph"
	"github.com/p-n-ai/pai-quest/internal/platform/metrics"
	"github.com/p-n-ai/pai-quest/internal/snapshot"
	"github.com/p-n-ai/pai-quest/internal/stats"
	"github.com/p-n-ai/pai-quest/internal/streak"
)

// ErrNotLoaded is returned by mutations issued before a snapshot is installed.
var ErrNotLoaded = errors.New("progress engine not loaded")

// Notifier receives engine events for live delivery to the presentation layer.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// EngineConfig holds dependencies for the progression engine.
type EngineConfig struct {
	Store        Store
	Events       EventLogger
	Notifier     Notifier
	DefaultZones []graph.Zone // installed when the store holds no snapshot
	SaveDebounce time.Duration
	Now          func() time.Time
}

// Engine is the progression controller. All operations run to completion
// under a single lock; only saving happens asynchronously.
type Engine struct {
	store        Store
	saver        *Saver
	events       EventLogger
	notifier     Notifier
	defaultZones []graph.Zone
	now          func() time.Time

	mu       sync.Mutex
	loaded   bool
	loadErr  error
	zones    []graph.Zone
	learner  snapshot.Learner
	settings snapshot.Settings
	stats    stats.Stats
}

// NewEngine creates an engine. Call Load before issuing mutations.
func NewEngine(cfg EngineConfig) *Engine {
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	events := cfg.Events
	if events == nil {
		events = NopEventLogger{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:        store,
		saver:        NewSaver(store, cfg.SaveDebounce),
		events:       events,
		notifier:     cfg.Notifier,
		defaultZones: graph.Clone(cfg.DefaultZones),
		now:          now,
	}
}

// Load fetches the snapshot from the store and installs it. When the store
// is empty the default curriculum is installed instead. On failure the
// engine keeps whatever state it had before.
func (e *Engine) Load(ctx context.Context) error {
	snap, err := e.store.Load(ctx)
	if errors.Is(err, ErrNotFound) {
		snap = &snapshot.Snapshot{
			Zones:    graph.Clone(e.defaultZones),
			User:     snapshot.NewLearner(),
			Settings: snapshot.DefaultSettings(),
		}
		if snap.Zones == nil {
			snap.Zones = []graph.Zone{}
		}
		if err := snapshot.Normalize(snap); err != nil {
			return e.loadFailed(fmt.Errorf("installing default curriculum: %w", err))
		}
		slog.Info("no stored snapshot, using default curriculum", "zones", len(snap.Zones))
	} else if err != nil {
		return e.loadFailed(fmt.Errorf("loading snapshot: %w", err))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.loadErr = nil

	e.zones = graph.Resolve(snap.Zones)
	e.learner = snap.User.Clone()
	e.learner.Level = snapshot.LevelForXP(e.learner.XP)
	e.settings = snap.Settings
	e.refreshStats()
	e.loaded = true

	slog.Info("progress loaded",
		"zones", len(e.zones),
		"levels", e.stats.Total,
		"completed", e.stats.Completed,
		"xp", e.learner.XP,
	)
	return nil
}

func (e *Engine) loadFailed(err error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loadErr = err
	return err
}

// LoadError returns the error of the last failed Load, or nil.
func (e *Engine) LoadError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadErr
}

// Activate runs the streak tracker for a new session.
func (e *Engine) Activate(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return ErrNotLoaded
	}

	before := e.learner.Streak
	e.learner.Streak, e.learner.LastVisit = streak.Update(e.learner.LastVisit, e.learner.Streak, e.now())
	if e.learner.Streak != before {
		e.emit(ctx, Event{Type: EventStreakUpdated, Data: map[string]any{"streak": e.learner.Streak}})
	}
	e.awardBadges(ctx)
	e.scheduleSave()
	return nil
}

// StartLevel moves an unlocked level to in-progress.
func (e *Engine) StartLevel(ctx context.Context, levelID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return ErrNotLoaded
	}

	next := graph.Clone(e.zones)
	l := graph.FindLevel(next, levelID)
	if l == nil || l.Status != graph.Unlocked {
		return nil
	}
	l.Status = graph.InProgress

	e.apply(ctx, next)
	e.emit(ctx, Event{Type: EventLevelStarted, LevelID: levelID})
	e.scheduleSave()
	return nil
}

// CompleteLevel marks a level complete and awards its XP once.
func (e *Engine) CompleteLevel(ctx context.Context, levelID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return ErrNotLoaded
	}

	next := graph.Clone(e.zones)
	l := graph.FindLevel(next, levelID)
	if l == nil || l.Status == graph.Locked || l.Status == graph.Complete {
		return nil
	}
	l.Status = graph.Complete
	e.learner.XP += l.XPValue()
	e.learner.Level = snapshot.LevelForXP(e.learner.XP)

	e.apply(ctx, next)
	e.emit(ctx, Event{Type: EventLevelCompleted, LevelID: levelID, Data: map[string]any{"xp": l.XPValue()}})
	e.awardBadges(ctx)
	e.scheduleSave()
	return nil
}

// ResetLevel re-locks a level and everything that depends on it.
func (e *Engine) ResetLevel(ctx context.Context, levelID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return ErrNotLoaded
	}
	if graph.FindLevel(e.zones, levelID) == nil {
		return nil
	}

	e.apply(ctx, graph.LockDependents(e.zones, []string{levelID}))
	e.restoreInvariants()
	e.emit(ctx, Event{Type: EventLevelReset, LevelID: levelID})
	e.scheduleSave()
	return nil
}

// ResetZone re-locks every level of a zone and their dependents.
func (e *Engine) ResetZone(ctx context.Context, zoneID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return ErrNotLoaded
	}
	z := graph.FindZone(e.zones, zoneID)
	if z == nil {
		return nil
	}

	ids := make([]string, 0, len(z.Levels))
	for _, l := range z.Levels {
		ids = append(ids, l.ID)
	}

	e.apply(ctx, graph.LockDependents(e.zones, ids))
	e.restoreInvariants()
	e.emit(ctx, Event{Type: EventZoneReset, ZoneID: zoneID})
	e.scheduleSave()
	return nil
}

// ResetAll locks every level and clears all learner progress. Settings survive.
func (e *Engine) ResetAll(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return ErrNotLoaded
	}

	next := graph.Clone(e.zones)
	for zi := range next {
		for li := range next[zi].Levels {
			next[zi].Levels[li].Status = graph.Locked
		}
	}
	e.learner = snapshot.NewLearner()
	e.zones = graph.Resolve(next)
	e.refreshStats()

	e.emit(ctx, Event{Type: EventResetAll})
	e.scheduleSave()
	return nil
}

// Import reconciles a decoded snapshot into the live state. A merge result
// that violates graph invariants is rejected and live state is kept.
func (e *Engine) Import(ctx context.Context, imported *snapshot.Snapshot, strategy snapshot.Strategy) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return ErrNotLoaded
	}

	merged := snapshot.Combine(e.snapshotLocked(), imported, strategy)
	if err := snapshot.Normalize(merged); err != nil {
		metrics.Imports.WithLabelValues(string(strategy), "rejected").Inc()
		return fmt.Errorf("importing snapshot: %w", err)
	}

	e.learner = merged.User
	e.settings = merged.Settings
	if strategy == snapshot.Overwrite {
		// A wholesale replacement has nothing to diff unlocks against.
		e.zones = graph.Resolve(merged.Zones)
		e.refreshStats()
	} else {
		e.apply(ctx, merged.Zones)
	}
	e.learner.Level = snapshot.LevelForXP(e.learner.XP)
	e.awardBadges(ctx)

	metrics.Imports.WithLabelValues(string(strategy), "ok").Inc()
	e.emit(ctx, Event{Type: EventImported, Data: map[string]any{
		"strategy": string(strategy),
		"levels":   e.stats.Total,
	}})
	e.scheduleSave()
	return nil
}

// ImportJSON decodes data and imports it.
func (e *Engine) ImportJSON(ctx context.Context, data []byte, strategy snapshot.Strategy) error {
	imported, err := snapshot.Decode(data)
	if err != nil {
		metrics.Imports.WithLabelValues(string(strategy), "malformed").Inc()
		return err
	}
	return e.Import(ctx, imported, strategy)
}

// SetNote stores free text for a level. An empty text removes the note.
func (e *Engine) SetNote(_ context.Context, levelID, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return ErrNotLoaded
	}
	if graph.FindLevel(e.zones, levelID) == nil {
		return nil
	}

	if strings.TrimSpace(text) == "" {
		delete(e.learner.Notes, levelID)
	} else {
		e.learner.Notes[levelID] = text
	}
	e.scheduleSave()
	return nil
}

// AddJournalEntry appends a timestamped entry to a level's journal.
func (e *Engine) AddJournalEntry(_ context.Context, levelID, text string) (*snapshot.JournalEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return nil, ErrNotLoaded
	}
	if graph.FindLevel(e.zones, levelID) == nil || strings.TrimSpace(text) == "" {
		return nil, nil
	}

	entry := snapshot.JournalEntry{ID: uuid.NewString(), At: e.now().UTC(), Text: text}
	e.learner.Journal[levelID] = append(e.learner.Journal[levelID], entry)
	e.scheduleSave()
	return &entry, nil
}

// UpdateSettings replaces the presentation settings.
func (e *Engine) UpdateSettings(_ context.Context, s snapshot.Settings) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return ErrNotLoaded
	}
	if s.ViewMode == "" {
		s.ViewMode = snapshot.DefaultViewMode
	}
	e.settings = s
	e.scheduleSave()
	return nil
}

// Loaded reports whether a snapshot has been installed.
func (e *Engine) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded
}

// Zones returns a copy of the current graph.
func (e *Engine) Zones() []graph.Zone {
	e.mu.Lock()
	defer e.mu.Unlock()
	return graph.Clone(e.zones)
}

// Learner returns a copy of the learner state.
func (e *Engine) Learner() snapshot.Learner {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.learner.Clone()
}

// Settings returns the presentation settings.
func (e *Engine) Settings() snapshot.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// Stats returns the derived statistics of the current graph.
func (e *Engine) Stats() stats.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stats
	s.Zones = append([]stats.ZoneProgress(nil), e.stats.Zones...)
	return s
}

// State is a consistent view of the engine taken under one lock.
type State struct {
	Zones      []graph.Zone     `json:"zones"`
	User       snapshot.Learner `json:"user"`
	Stats      stats.Stats      `json:"stats"`
	SaveStatus SaveStatus       `json:"saveStatus"`
}

// State returns copies of the graph, learner, statistics and save status.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := State{
		Zones:      graph.Clone(e.zones),
		User:       e.learner.Clone(),
		Stats:      e.stats,
		SaveStatus: e.saver.Status(),
	}
	st.Stats.Zones = append([]stats.ZoneProgress(nil), e.stats.Zones...)
	return st
}

// Snapshot returns a deep copy of the full state, as it would be saved.
func (e *Engine) Snapshot() *snapshot.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// SaveStatus returns the advisory persistence status.
func (e *Engine) SaveStatus() SaveStatus {
	return e.saver.Status()
}

// Close flushes any pending save.
func (e *Engine) Close(ctx context.Context) {
	e.saver.Flush(ctx)
}

func (e *Engine) snapshotLocked() *snapshot.Snapshot {
	return &snapshot.Snapshot{
		Zones:    graph.Clone(e.zones),
		User:     e.learner.Clone(),
		Settings: e.settings,
	}
}

// apply resolves next, installs it and reports levels that became unlocked.
func (e *Engine) apply(ctx context.Context, next []graph.Zone) {
	prev := make(map[string]graph.Status)
	for _, z := range e.zones {
		for _, l := range z.Levels {
			prev[l.ID] = l.Status
		}
	}

	e.zones = graph.Resolve(next)
	e.refreshStats()

	for _, z := range e.zones {
		for _, l := range z.Levels {
			if l.Status == graph.Unlocked && prev[l.ID] == graph.Locked {
				e.emit(ctx, Event{Type: EventLevelUnlocked, LevelID: l.ID, ZoneID: z.ID})
			}
		}
	}
}

// restoreInvariants rebuilds XP, learner level and badges from the graph.
// It runs after every structural mutation instead of incremental bookkeeping.
func (e *Engine) restoreInvariants() {
	e.learner.XP = stats.EarnedXP(e.zones)
	e.learner.Level = snapshot.LevelForXP(e.learner.XP)
	e.learner.Badges = achievement.Recompute(e.achievementInput())
	if e.learner.Badges == nil {
		e.learner.Badges = []string{}
	}
}

func (e *Engine) awardBadges(ctx context.Context) {
	for _, id := range achievement.Evaluate(e.achievementInput(), e.learner.Badges) {
		e.learner.Badges = append(e.learner.Badges, id)
		e.emit(ctx, Event{Type: EventBadgeEarned, Badge: id})
	}
}

func (e *Engine) achievementInput() achievement.Input {
	return achievement.Input{Stats: e.stats, XP: e.learner.XP, Streak: e.learner.Streak}
}

func (e *Engine) refreshStats() {
	e.stats = stats.Aggregate(e.zones)
	metrics.CompletionPercent.Set(float64(e.stats.Percent))
}

func (e *Engine) emit(ctx context.Context, event Event) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = e.now()
	}
	metrics.ProgressEvents.WithLabelValues(event.Type).Inc()
	if err := e.events.LogEvent(event); err != nil {
		slog.Warn("failed to log progress event", "type", event.Type, "error", err)
	}
	if e.notifier != nil {
		e.notifier.Notify(ctx, event)
	}
}

func (e *Engine) scheduleSave() {
	e.saver.Schedule(e.snapshotLocked())
}
