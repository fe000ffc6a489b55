// Package achievement evaluates badge predicates against learner progress.
package achievement

import "github.com/p-n-ai/pai-quest/internal/stats"

// Input is the immutable view a predicate is evaluated against.
type Input struct {
	Stats  stats.Stats
	XP     int
	Streak int
}

// Badge describes one earnable badge.
type Badge struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Icon        string           `json:"icon"`
	Earned      func(Input) bool `json:"-"`
}

const (
	FirstStep      = "first_step"
	GettingStarted = "getting_started"
	ZoneMaster     = "zone_master"
	Halfway        = "halfway"
	Completionist  = "completionist"
	OnFire         = "on_fire"
	XPHoarder      = "xp_hoarder"
)

// Registry is the ordered badge list. Order only drives notification order.
var Registry = []Badge{
	{FirstStep, "First Step", "Complete your first level", "🎯", func(in Input) bool { return in.Stats.Completed >= 1 }},
	{GettingStarted, "Getting Started", "Complete 5 levels", "🚀", func(in Input) bool { return in.Stats.Completed >= 5 }},
	{ZoneMaster, "Zone Master", "Complete every level in a zone", "🏆", func(in Input) bool { return in.Stats.ZonesMastered >= 1 }},
	{Halfway, "Halfway There", "Reach 50% completion", "⛰️", func(in Input) bool { return in.Stats.Percent >= 50 }},
	{Completionist, "Completionist", "Reach 100% completion", "👑", func(in Input) bool { return in.Stats.Percent >= 100 }},
	{OnFire, "On Fire", "Keep a 7 day streak", "🔥", func(in Input) bool { return in.Streak >= 7 }},
	{XPHoarder, "XP Hoarder", "Earn 5000 XP", "💎", func(in Input) bool { return in.XP >= 5000 }},
}

// Lookup returns the badge definition for id.
func Lookup(id string) (Badge, bool) {
	for _, b := range Registry {
		if b.ID == id {
			return b, true
		}
	}
	return Badge{}, false
}

// Evaluate returns the badges earned by in that are not already in have,
// in registry order.
func Evaluate(in Input, have []string) []string {
	owned := make(map[string]bool, len(have))
	for _, id := range have {
		owned[id] = true
	}

	var earned []string
	for _, b := range Registry {
		if !owned[b.ID] && b.Earned(in) {
			earned = append(earned, b.ID)
		}
	}
	return earned
}

// Recompute returns the complete badge set for in, ignoring history.
func Recompute(in Input) []string {
	return Evaluate(in, nil)
}
