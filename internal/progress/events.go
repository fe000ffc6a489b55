package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Event types recorded by the engine.
const (
	EventLevelStarted   = "level_started"
	EventLevelCompleted = "level_completed"
	EventLevelUnlocked  = "level_unlocked"
	EventLevelReset     = "level_reset"
	EventZoneReset      = "zone_reset"
	EventResetAll       = "reset_all"
	EventBadgeEarned    = "badge_earned"
	EventImported       = "snapshot_imported"
	EventStreakUpdated  = "streak_updated"
)

// Event is a single progression event.
type Event struct {
	Type      string         `json:"type"`
	LevelID   string         `json:"levelId,omitempty"`
	ZoneID    string         `json:"zoneId,omitempty"`
	Badge     string         `json:"badge,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// EventLogger defines event logging behavior.
type EventLogger interface {
	LogEvent(event Event) error
}

// NopEventLogger ignores all events.
type NopEventLogger struct{}

func (NopEventLogger) LogEvent(Event) error {
	return nil
}

// MemoryEventLogger stores events in memory for tests.
type MemoryEventLogger struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryEventLogger() *MemoryEventLogger {
	return &MemoryEventLogger{
		events: []Event{},
	}
}

func (l *MemoryEventLogger) LogEvent(event Event) error {
	if event.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()

	return nil
}

func (l *MemoryEventLogger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event{}, l.events...)
}

// OfType returns the recorded events with the given type.
func (l *MemoryEventLogger) OfType(eventType string) []Event {
	var out []Event
	for _, e := range l.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// PostgresEventLogger inserts events into the progress_events table.
type PostgresEventLogger struct {
	pool      *pgxpool.Pool
	learnerID string
}

func NewPostgresEventLogger(pool *pgxpool.Pool, learnerID string) *PostgresEventLogger {
	return &PostgresEventLogger{pool: pool, learnerID: learnerID}
}

func (l *PostgresEventLogger) LogEvent(event Event) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("event logger pool is nil")
	}
	if event.Type == "" {
		return fmt.Errorf("event type is required")
	}

	payload := event.Data
	if payload == nil {
		payload = map[string]any{}
	}
	if event.Badge != "" {
		payload["badge"] = event.Badge
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	_, err = l.pool.Exec(ctx,
		`INSERT INTO progress_events (learner_id, event_type, level_id, zone_id, data, created_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6)`,
		l.learnerID,
		event.Type,
		nullIfEmpty(event.LevelID),
		nullIfEmpty(event.ZoneID),
		string(data),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	slog.Debug("event logged",
		"type", event.Type,
		"level_id", event.LevelID,
		"learner_id", l.learnerID,
	)
	return nil
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
