package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/p-n-ai/pai-quest/internal/graph"
	"github.com/p-n-ai/pai-quest/internal/platform/config"
	"github.com/p-n-ai/pai-quest/internal/progress"
	"github.com/p-n-ai/pai-quest/internal/snapshot"
)

func testZones() []graph.Zone {
	return []graph.Zone{
		{ID: "z1", Title: "Basics", Levels: []graph.Level{
			{ID: "L1", Title: "One", XP: 100},
			{ID: "L2", Title: "Two", XP: 100},
		}},
		{ID: "z2", Title: "Next", Levels: []graph.Level{
			{ID: "L3", Title: "Three", XP: 100, Prereqs: []string{"L2"}},
		}},
	}
}

func newTestServer(t *testing.T, load bool) (*server, *http.ServeMux) {
	t.Helper()
	engine := progress.NewEngine(progress.EngineConfig{
		DefaultZones: testZones(),
		SaveDebounce: time.Hour,
	})
	if load {
		if err := engine.Load(context.Background()); err != nil {
			t.Fatalf("Load() error = %v", err)
		}
	}
	s := &server{engine: engine}
	return s, newMux(s)
}

func do(t *testing.T, mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeState(t *testing.T, rec *httptest.ResponseRecorder) progress.State {
	t.Helper()
	var st progress.State
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decoding state: %v (body %s)", err, rec.Body.String())
	}
	return st
}

func TestHealthEndpoints(t *testing.T) {
	_, mux := newTestServer(t, true)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "healthz returns 200",
			path:       "/healthz",
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ok"}`,
		},
		{
			name:       "readyz returns 200",
			path:       "/readyz",
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ready"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, mux, http.MethodGet, tt.path, "")

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestReadyz_NotLoaded(t *testing.T) {
	_, mux := newTestServer(t, false)

	if rec := do(t, mux, http.MethodGet, "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz status = %d, want 503", rec.Code)
	}
	if rec := do(t, mux, http.MethodPost, "/api/levels/L1/complete", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("complete status = %d, want 503 before load", rec.Code)
	}
}

func TestReadyz_FailingCheck(t *testing.T) {
	s, _ := newTestServer(t, true)
	s.checks = []readinessCheck{{name: "database", check: func(context.Context) error { return errors.New("down") }}}
	mux := newMux(s)

	rec := do(t, mux, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "database") {
		t.Errorf("body = %s, want failing check named", rec.Body.String())
	}
}

func TestLevelLifecycle(t *testing.T) {
	_, mux := newTestServer(t, true)

	rec := do(t, mux, http.MethodPost, "/api/levels/L1/start", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := graph.FindLevel(decodeState(t, rec).Zones, "L1").Status; got != graph.InProgress {
		t.Errorf("L1 = %v, want in-progress", got)
	}

	do(t, mux, http.MethodPost, "/api/levels/L1/complete", "")
	rec = do(t, mux, http.MethodPost, "/api/levels/L2/complete", "")
	st := decodeState(t, rec)
	if st.User.XP != 200 {
		t.Errorf("XP = %d, want 200", st.User.XP)
	}
	if got := graph.FindLevel(st.Zones, "L3").Status; got != graph.Unlocked {
		t.Errorf("L3 = %v, want unlocked", got)
	}
	if st.Stats.Completed != 2 {
		t.Errorf("Stats.Completed = %d, want 2", st.Stats.Completed)
	}

	rec = do(t, mux, http.MethodPost, "/api/levels/L2/reset", "")
	st = decodeState(t, rec)
	if got := graph.FindLevel(st.Zones, "L3").Status; got != graph.Locked {
		t.Errorf("L3 = %v, want locked after reset of L2", got)
	}
	if st.User.XP != 100 {
		t.Errorf("XP = %d, want 100", st.User.XP)
	}

	rec = do(t, mux, http.MethodPost, "/api/zones/z1/reset", "")
	if st := decodeState(t, rec); st.User.XP != 0 {
		t.Errorf("XP = %d, want 0 after zone reset", st.User.XP)
	}
}

func TestUnknownLevelIsNoOp(t *testing.T) {
	_, mux := newTestServer(t, true)

	rec := do(t, mux, http.MethodPost, "/api/levels/missing/complete", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if st := decodeState(t, rec); st.User.XP != 0 {
		t.Errorf("XP = %d, want 0", st.User.XP)
	}
}

func TestResetAll_RequiresConfirmation(t *testing.T) {
	_, mux := newTestServer(t, true)
	do(t, mux, http.MethodPost, "/api/levels/L1/complete", "")

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"missing body", "", http.StatusBadRequest},
		{"wrong token", `{"confirm":"yes"}`, http.StatusBadRequest},
		{"confirmed", `{"confirm":"RESET"}`, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, mux, http.MethodPost, "/api/reset", tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestImport(t *testing.T) {
	s, mux := newTestServer(t, true)

	zones := testZones()
	zones[0].Levels[0].Status = graph.Complete
	user := snapshot.NewLearner()
	user.XP = 100
	data, err := snapshot.Encode(&snapshot.Snapshot{Zones: zones, User: user, Settings: snapshot.DefaultSettings()})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	tests := []struct {
		name       string
		query      string
		body       []byte
		wantStatus int
	}{
		{"bad strategy", "?strategy=squash", data, http.StatusBadRequest},
		{"malformed", "?strategy=merge", []byte(`{"zones":[{"id":"z"}]}`), http.StatusBadRequest},
		{"not json", "", []byte(`nope`), http.StatusBadRequest},
		{"merge", "?strategy=merge", data, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/import"+tt.query, bytes.NewReader(tt.body))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}

	if got := graph.FindLevel(s.engine.Zones(), "L1").Status; got != graph.Complete {
		t.Errorf("L1 = %v, want complete after merge import", got)
	}
}

func TestSnapshotExportRoundTrip(t *testing.T) {
	_, mux := newTestServer(t, true)
	do(t, mux, http.MethodPost, "/api/levels/L1/complete", "")

	rec := do(t, mux, http.MethodGet, "/api/snapshot?download=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "progress.json") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	snap, err := snapshot.Decode(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got := graph.FindLevel(snap.Zones, "L1").Status; got != graph.Complete {
		t.Errorf("exported L1 = %v, want complete", got)
	}
}

func TestNotesJournalAndSettings(t *testing.T) {
	s, mux := newTestServer(t, true)

	if rec := do(t, mux, http.MethodPut, "/api/levels/L1/note", `{"text":"tricky"}`); rec.Code != http.StatusOK {
		t.Fatalf("note status = %d", rec.Code)
	}
	if got := s.engine.Learner().Notes["L1"]; got != "tricky" {
		t.Errorf("note = %q, want tricky", got)
	}

	rec := do(t, mux, http.MethodPost, "/api/levels/L1/journal", `{"text":"day one"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("journal status = %d", rec.Code)
	}
	var entry snapshot.JournalEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entry); err != nil || entry.ID == "" {
		t.Errorf("entry = %+v, err = %v", entry, err)
	}

	rec = do(t, mux, http.MethodPut, "/api/settings", `{"shortcuts":false,"viewMode":"list"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("settings status = %d", rec.Code)
	}
	if got := s.engine.Settings().ViewMode; got != "list" {
		t.Errorf("ViewMode = %q, want list", got)
	}

	if rec := do(t, mux, http.MethodPut, "/api/settings", `{`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad settings status = %d, want 400", rec.Code)
	}
}

func TestBadgesAndReport(t *testing.T) {
	_, mux := newTestServer(t, true)
	do(t, mux, http.MethodPost, "/api/levels/L1/complete", "")

	rec := do(t, mux, http.MethodGet, "/api/badges", "")
	var badges []badgeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &badges); err != nil {
		t.Fatalf("decoding badges: %v", err)
	}
	if len(badges) == 0 || badges[0].ID != "first_step" || !badges[0].Earned {
		t.Errorf("badges[0] = %+v, want earned first_step", badges[0])
	}

	rec = do(t, mux, http.MethodGet, "/api/report.xlsx", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("report status = %d", rec.Code)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")) {
		t.Error("report body is not a zip container")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, mux := newTestServer(t, true)
	do(t, mux, http.MethodPost, "/api/levels/L1/complete", "")

	rec := do(t, mux, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "quest_progress_events_total") {
		t.Error("metrics output missing quest_progress_events_total")
	}
}

func TestOpenBackend_Memory(t *testing.T) {
	cfg := &config.Config{Quest: config.QuestConfig{Store: config.StoreMemory, LearnerID: "t"}}

	b, err := openBackend(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openBackend() error = %v", err)
	}
	defer b.close()
	if _, ok := b.store.(*progress.MemoryStore); !ok {
		t.Errorf("store = %T, want *progress.MemoryStore", b.store)
	}
}

func TestLoadCurriculum_Default(t *testing.T) {
	zones, err := loadCurriculum("")
	if err != nil {
		t.Fatalf("loadCurriculum() error = %v", err)
	}
	if len(zones) == 0 {
		t.Error("default curriculum has no zones")
	}
}

func writeMalformedSnapshot(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "progress.json")
	if err := os.WriteFile(path, []byte(`{"zones":"nope"}`), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestReadyz_LoadFailed(t *testing.T) {
	engine := progress.NewEngine(progress.EngineConfig{
		Store:        progress.NewFileStore(writeMalformedSnapshot(t)),
		SaveDebounce: time.Hour,
	})
	if err := engine.Load(context.Background()); err == nil {
		t.Fatal("Load() should fail for a malformed snapshot")
	}
	mux := newMux(&server{engine: engine})

	rec := do(t, mux, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "load_failed") {
		t.Errorf("body = %s, want load_failed", rec.Body.String())
	}
	if rec := do(t, mux, http.MethodPost, "/api/levels/L1/complete", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("complete status = %d, want 503", rec.Code)
	}
}

func TestRun_KeepsServingWhenLoadFails(t *testing.T) {
	path := writeMalformedSnapshot(t)
	cfg := &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0, ShutdownTimeout: 2 * time.Second},
		Quest: config.QuestConfig{
			Store:        config.StoreFile,
			File:         path,
			LearnerID:    "default",
			SaveDebounce: time.Hour,
		},
		Log: config.LogConfig{Level: "info", Format: "json"},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg) }()

	select {
	case err := <-done:
		t.Fatalf("run() returned early: %v", err)
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v, want clean shutdown", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run() did not stop after cancel")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != `{"zones":"nope"}` {
		t.Errorf("stored snapshot was rewritten: %s", data)
	}
}
