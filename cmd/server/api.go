package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/p-n-ai/pai-quest/internal/achievement"
	"github.com/p-n-ai/pai-quest/internal/progress"
	"github.com/p-n-ai/pai-quest/internal/report"
	"github.com/p-n-ai/pai-quest/internal/snapshot"
)

const (
	maxImportBytes = 10 << 20
	maxBodyBytes   = 1 << 20
	resetConfirm   = "RESET"
)

// readinessCheck reports whether a backing service is reachable.
type readinessCheck struct {
	name  string
	check func(ctx context.Context) error
}

// server holds the dependencies of the HTTP handlers.
type server struct {
	engine *progress.Engine
	ws     http.Handler // nil when WebSocket notifications are disabled
	checks []readinessCheck
}

type badgeResponse struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Earned      bool   `json:"earned"`
}

type textRequest struct {
	Text string `json:"text"`
}

type resetRequest struct {
	Confirm string `json:"confirm"`
}

// newMux creates the HTTP router.
func newMux(s *server) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/badges", s.handleBadges)
	mux.HandleFunc("GET /api/report.xlsx", s.handleReport)

	mux.HandleFunc("POST /api/levels/{id}/start", s.levelAction(s.engine.StartLevel))
	mux.HandleFunc("POST /api/levels/{id}/complete", s.levelAction(s.engine.CompleteLevel))
	mux.HandleFunc("POST /api/levels/{id}/reset", s.levelAction(s.engine.ResetLevel))
	mux.HandleFunc("POST /api/zones/{id}/reset", s.levelAction(s.engine.ResetZone))
	mux.HandleFunc("POST /api/reset", s.handleResetAll)
	mux.HandleFunc("POST /api/import", s.handleImport)

	mux.HandleFunc("PUT /api/levels/{id}/note", s.handleNote)
	mux.HandleFunc("POST /api/levels/{id}/journal", s.handleJournal)
	mux.HandleFunc("PUT /api/settings", s.handleSettings)

	if s.ws != nil {
		mux.Handle("GET /ws", s.ws)
	}
	return mux
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !s.engine.Loaded() {
		body := map[string]string{"status": "loading"}
		if err := s.engine.LoadError(); err != nil {
			body = map[string]string{"status": "load_failed", "error": err.Error()}
		}
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	for _, c := range s.checks {
		if err := c.check(r.Context()); err != nil {
			slog.Warn("readiness check failed", "check", c.name, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "check": c.name})
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

func (s *server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if !s.engine.Loaded() {
		writeError(w, progress.ErrNotLoaded)
		return
	}
	data, err := snapshot.Encode(s.engine.Snapshot())
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if r.URL.Query().Get("download") != "" {
		w.Header().Set("Content-Disposition", `attachment; filename="progress.json"`)
	}
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state())
}

func (s *server) handleBadges(w http.ResponseWriter, r *http.Request) {
	earned := s.engine.Learner().Badges
	out := make([]badgeResponse, 0, len(achievement.Registry))
	for _, b := range achievement.Registry {
		out = append(out, badgeResponse{
			ID:          b.ID,
			Title:       b.Title,
			Description: b.Description,
			Icon:        b.Icon,
			Earned:      slices.Contains(earned, b.ID),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleReport(w http.ResponseWriter, r *http.Request) {
	if !s.engine.Loaded() {
		writeError(w, progress.ErrNotLoaded)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="progress.xlsx"`)
	if err := report.Write(w, s.engine.Snapshot()); err != nil {
		slog.Error("failed to write report", "error", err)
	}
}

// levelAction adapts an engine mutation keyed by the {id} path value.
func (s *server) levelAction(op func(context.Context, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(r.Context(), r.PathValue("id")); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.state())
	}
}

func (s *server) handleResetAll(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Confirm != resetConfirm {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("confirm must be %q", resetConfirm),
		})
		return
	}
	if err := s.engine.ResetAll(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.state())
}

func (s *server) handleImport(w http.ResponseWriter, r *http.Request) {
	strategy, err := snapshot.ParseStrategy(r.URL.Query().Get("strategy"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "import too large"})
		return
	}
	if err := s.engine.ImportJSON(r.Context(), data, strategy); err != nil {
		writeError(w, err)
		return
	}
	slog.Info("snapshot imported", "strategy", strategy, "bytes", len(data))
	writeJSON(w, http.StatusOK, s.state())
}

func (s *server) handleNote(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.engine.SetNote(r.Context(), r.PathValue("id"), req.Text); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.state())
}

func (s *server) handleJournal(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	entry, err := s.engine.AddJournalEntry(r.Context(), r.PathValue("id"), req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	if entry == nil {
		writeJSON(w, http.StatusOK, s.state())
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *server) handleSettings(w http.ResponseWriter, r *http.Request) {
	var req snapshot.Settings
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.engine.UpdateSettings(r.Context(), req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Settings())
}

// state is returned by every mutation so clients can redraw at once.
func (s *server) state() progress.State {
	return s.engine.State()
}

var errBadRequest = errors.New("bad request")

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, snapshot.ErrMalformed), errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, progress.ErrNotLoaded):
		status = http.StatusServiceUnavailable
	default:
		slog.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}
