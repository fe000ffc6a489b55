package snapshot_test

import (
	"reflect"
	"testing"

	"github.com/p-n-ai/pai-quest/internal/graph"
	"github.com/p-n-ai/pai-quest/internal/snapshot"
)

func single(id string, s graph.Status) *snapshot.Snapshot {
	return &snapshot.Snapshot{
		Zones: []graph.Zone{{ID: "z", Title: "Z", Levels: []graph.Level{{ID: id, Title: id, Status: s}}}},
		User:  snapshot.NewLearner(),
	}
}

func TestCombine_L5Scenario(t *testing.T) {
	live := single("L5", graph.Complete)
	imported := single("L5", graph.Locked)

	tests := []struct {
		strategy snapshot.Strategy
		want     graph.Status
	}{
		{snapshot.Skip, graph.Complete},
		{snapshot.Merge, graph.Complete},
		{snapshot.Overwrite, graph.Locked},
	}

	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			got := snapshot.Combine(live, imported, tt.strategy)
			if s := graph.FindLevel(got.Zones, "L5").Status; s != tt.want {
				t.Errorf("L5 = %v, want %v", s, tt.want)
			}
		})
	}
}

func TestCombine_MergeTakesMaxStatus(t *testing.T) {
	all := []graph.Status{graph.Locked, graph.Unlocked, graph.InProgress, graph.Complete}
	for _, x := range all {
		for _, y := range all {
			got := snapshot.Combine(single("a", x), single("a", y), snapshot.Merge)
			want := x
			if y > x {
				want = y
			}
			if s := graph.FindLevel(got.Zones, "a").Status; s != want {
				t.Errorf("merge(%v, %v) = %v, want %v", x, y, s, want)
			}

			skipped := snapshot.Combine(single("a", x), single("a", y), snapshot.Skip)
			if s := graph.FindLevel(skipped.Zones, "a").Status; s != x {
				t.Errorf("skip(%v, %v) = %v, want %v", x, y, s, x)
			}
		}
	}
}

func TestCombine_AppendsAbsentZonesAndLevels(t *testing.T) {
	live := single("a", graph.Complete)
	imported := &snapshot.Snapshot{
		Zones: []graph.Zone{
			{ID: "z", Levels: []graph.Level{{ID: "a", Title: "a"}, {ID: "b", Title: "b", Status: graph.Complete}}},
			{ID: "new", Levels: []graph.Level{{ID: "c", Title: "c"}}},
		},
		User: snapshot.NewLearner(),
	}

	for _, strategy := range []snapshot.Strategy{snapshot.Merge, snapshot.Skip} {
		got := snapshot.Combine(live, imported, strategy)
		if len(got.Zones) != 2 {
			t.Fatalf("%s: zones = %d, want 2", strategy, len(got.Zones))
		}
		if ids := levelIDs(got.Zones[0]); !reflect.DeepEqual(ids, []string{"a", "b"}) {
			t.Errorf("%s: zone z levels = %v", strategy, ids)
		}
		if got.Zones[1].ID != "new" || len(got.Zones[1].Levels) != 1 {
			t.Errorf("%s: appended zone = %+v", strategy, got.Zones[1])
		}
		if s := graph.FindLevel(got.Zones, "b").Status; s != graph.Complete {
			t.Errorf("%s: appended level keeps its status, got %v", strategy, s)
		}
	}
}

func TestCombine_LevelMovedToAnotherZone(t *testing.T) {
	live := single("a", graph.Unlocked)
	imported := &snapshot.Snapshot{
		Zones: []graph.Zone{{ID: "other", Levels: []graph.Level{{ID: "a", Title: "a", Status: graph.Complete}}}},
		User:  snapshot.NewLearner(),
	}

	got := snapshot.Combine(live, imported, snapshot.Merge)
	if len(got.Zones) != 1 {
		t.Fatalf("zones = %d, want the moved level reconciled in place", len(got.Zones))
	}
	if err := graph.Validate(got.Zones); err != nil {
		t.Fatalf("merged graph invalid: %v", err)
	}
	if s := graph.FindLevel(got.Zones, "a").Status; s != graph.Complete {
		t.Errorf("a = %v, want complete", s)
	}
}

func TestCombine_Learner(t *testing.T) {
	live := single("a", graph.Locked)
	live.User.XP = 300
	live.User.Badges = []string{"first_step"}
	live.User.Notes = map[string]string{"a": "live note"}
	live.User.Journal = map[string][]snapshot.JournalEntry{"a": {{ID: "1", Text: "live"}}}
	live.Settings = snapshot.Settings{ViewMode: "list"}

	imported := single("a", graph.Locked)
	imported.User.XP = 2500
	imported.User.Badges = []string{"halfway", "first_step"}
	imported.User.Notes = map[string]string{"a": "imported note", "b": "other"}
	imported.User.Journal = map[string][]snapshot.JournalEntry{"a": {{ID: "2", Text: "imp"}}, "b": {{ID: "3", Text: "b"}}}
	imported.Settings = snapshot.Settings{ViewMode: "map", Shortcuts: true}

	merged := snapshot.Combine(live, imported, snapshot.Merge)
	if merged.User.XP != 2500 || merged.User.Level != 2 {
		t.Errorf("merge XP/Level = %d/%d, want 2500/2", merged.User.XP, merged.User.Level)
	}
	if !reflect.DeepEqual(merged.User.Badges, []string{"first_step", "halfway"}) {
		t.Errorf("merge badges = %v", merged.User.Badges)
	}
	if merged.User.Notes["a"] != "live note" || merged.User.Notes["b"] != "other" {
		t.Errorf("merge notes = %v", merged.User.Notes)
	}
	if merged.User.Journal["a"][0].Text != "live" || len(merged.User.Journal["b"]) != 1 {
		t.Errorf("merge journal = %v", merged.User.Journal)
	}
	if merged.Settings.ViewMode != "list" {
		t.Errorf("merge settings = %+v, want live settings", merged.Settings)
	}

	skipped := snapshot.Combine(live, imported, snapshot.Skip)
	if skipped.User.XP != 300 {
		t.Errorf("skip XP = %d, want live 300", skipped.User.XP)
	}

	over := snapshot.Combine(live, imported, snapshot.Overwrite)
	if over.User.XP != 2500 || over.User.Notes["a"] != "imported note" || over.Settings.ViewMode != "map" {
		t.Errorf("overwrite = %+v", over)
	}

	if live.User.XP != 300 || len(live.User.Badges) != 1 {
		t.Error("Combine() mutated the live snapshot")
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    snapshot.Strategy
		wantErr bool
	}{
		{"", snapshot.Merge, false},
		{"merge", snapshot.Merge, false},
		{"Overwrite", snapshot.Overwrite, false},
		{" skip ", snapshot.Skip, false},
		{"replace", "", true},
	}

	for _, tt := range tests {
		got, err := snapshot.ParseStrategy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseStrategy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseStrategy(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func levelIDs(z graph.Zone) []string {
	ids := make([]string, 0, len(z.Levels))
	for _, l := range z.Levels {
		ids = append(ids, l.ID)
	}
	return ids
}
