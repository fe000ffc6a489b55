// Package notify fans progression events out to live delivery channels
// (WebSocket subscribers, test doubles).
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/p-n-ai/pai-quest/internal/achievement"
	"github.com/p-n-ai/pai-quest/internal/progress"
)

// Message is a notification delivered to a channel.
type Message struct {
	Type    string         `json:"type"`
	Text    string         `json:"text"`
	LevelID string         `json:"levelId,omitempty"`
	ZoneID  string         `json:"zoneId,omitempty"`
	Badge   string         `json:"badge,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	At      time.Time      `json:"at"`
}

// Channel is the interface each delivery mechanism must implement.
type Channel interface {
	Send(ctx context.Context, msg Message) error
	Stop() error
}

// Gateway routes notifications to registered channels.
type Gateway struct {
	channels map[string]Channel
	mu       sync.RWMutex
}

// NewGateway creates a new notification gateway.
func NewGateway() *Gateway {
	return &Gateway{
		channels: make(map[string]Channel),
	}
}

// Register adds a channel to the gateway.
func (g *Gateway) Register(name string, ch Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.channels[name] = ch
	slog.Info("notify channel registered", "channel", name)
}

// Broadcast dispatches a message to every channel. Failures are logged and
// do not stop delivery to the remaining channels.
func (g *Gateway) Broadcast(ctx context.Context, msg Message) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for name, ch := range g.channels {
		if err := ch.Send(ctx, msg); err != nil {
			slog.Warn("notification delivery failed", "channel", name, "type", msg.Type, "error", err)
		}
	}
}

// Notify implements progress.Notifier.
func (g *Gateway) Notify(ctx context.Context, event progress.Event) {
	g.Broadcast(ctx, FromEvent(event))
}

// StopAll stops every registered channel.
func (g *Gateway) StopAll() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for name, ch := range g.channels {
		slog.Info("stopping channel", "channel", name)
		if err := ch.Stop(); err != nil {
			return fmt.Errorf("stopping channel %s: %w", name, err)
		}
	}
	return nil
}

// FromEvent renders an engine event as a user-facing message.
func FromEvent(e progress.Event) Message {
	msg := Message{
		Type:    e.Type,
		LevelID: e.LevelID,
		ZoneID:  e.ZoneID,
		Badge:   e.Badge,
		Data:    e.Data,
		At:      e.CreatedAt,
	}

	switch e.Type {
	case progress.EventLevelStarted:
		msg.Text = fmt.Sprintf("Started %s", e.LevelID)
	case progress.EventLevelCompleted:
		msg.Text = fmt.Sprintf("Completed %s", e.LevelID)
		if xp, ok := e.Data["xp"]; ok {
			msg.Text = fmt.Sprintf("Completed %s (+%v XP)", e.LevelID, xp)
		}
	case progress.EventLevelUnlocked:
		msg.Text = fmt.Sprintf("Unlocked %s", e.LevelID)
	case progress.EventLevelReset:
		msg.Text = fmt.Sprintf("Reset %s", e.LevelID)
	case progress.EventZoneReset:
		msg.Text = fmt.Sprintf("Reset zone %s", e.ZoneID)
	case progress.EventResetAll:
		msg.Text = "All progress reset"
	case progress.EventBadgeEarned:
		msg.Text = "Badge earned: " + e.Badge
		if b, ok := achievement.Lookup(e.Badge); ok {
			msg.Text = fmt.Sprintf("Badge earned: %s %s", b.Icon, b.Title)
		}
	case progress.EventImported:
		msg.Text = "Progress imported"
	case progress.EventStreakUpdated:
		msg.Text = fmt.Sprintf("Streak: %v days", e.Data["streak"])
	default:
		msg.Text = e.Type
	}
	return msg
}

// MockChannel is a test double for Channel.
type MockChannel struct {
	mu       sync.Mutex
	Messages []Message
	Err      error
	Stopped  bool
}

func (m *MockChannel) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Messages = append(m.Messages, msg)
	return nil
}

func (m *MockChannel) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Stopped = true
	return nil
}

// Sent returns a copy of the delivered messages.
func (m *MockChannel) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.Messages...)
}
