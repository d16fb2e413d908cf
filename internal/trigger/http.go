// Package trigger exposes the two ways a job run starts: an
// authenticated HTTP endpoint for manual and backfill triggers, and a
// cron scheduler for the recurring ones.
package trigger

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/storelytics/aggregation-engine/internal/controller"
	"github.com/storelytics/aggregation-engine/internal/jobrun"
)

// Authorizer decides whether a trigger request may run a job.
type Authorizer interface {
	Authorize(r *http.Request) error
}

// TokenAuthorizer accepts requests carrying the configured bearer token.
type TokenAuthorizer struct {
	token string
}

func NewTokenAuthorizer(token string) *TokenAuthorizer {
	return &TokenAuthorizer{token: token}
}

func (a *TokenAuthorizer) Authorize(r *http.Request) error {
	got := r.Header.Get("Authorization")
	want := "Bearer " + a.token
	if a.token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return fmt.Errorf("invalid or missing bearer token")
	}
	return nil
}

// Handler serves the trigger API. Runs execute synchronously on the
// request goroutine; callers that want fire-and-forget set a short
// client timeout and poll the record endpoint.
type Handler struct {
	runner *controller.Runner
	repo   jobrun.Repository
	auth   Authorizer
	logger *zap.Logger
}

func NewHandler(runner *controller.Runner, repo jobrun.Repository, auth Authorizer, logger *zap.Logger) *Handler {
	return &Handler{runner: runner, repo: repo, auth: auth, logger: logger}
}

// Routes registers the trigger endpoints on the router.
func (h *Handler) Routes(r *mux.Router) {
	r.HandleFunc("/health", h.health).Methods("GET")
	r.HandleFunc("/api/v1/jobs/{kind}/{period}/run", h.runJob).Methods("POST")
	r.HandleFunc("/api/v1/jobs/{kind}/{period}", h.getJob).Methods("GET")
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *Handler) runJob(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Authorize(r); err != nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	kind, period := vars["kind"], vars["period"]
	if !h.runner.Registered(kind) {
		http.Error(w, fmt.Sprintf(`{"error":"unknown job kind %q"}`, kind), http.StatusNotFound)
		return
	}

	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			http.Error(w, `{"error":"force must be a boolean"}`, http.StatusBadRequest)
			return
		}
		force = parsed
	}

	triggeredBy := jobrun.TriggeredByManual
	if force {
		triggeredBy = jobrun.TriggeredByBackfill
	}

	result := h.runner.Run(r.Context(), controller.Request{
		Kind:        kind,
		PeriodKey:   period,
		TriggeredBy: triggeredBy,
		Force:       force,
	})

	w.Header().Set("Content-Type", "application/json")
	switch result.Status {
	case controller.RunCompleted:
		w.WriteHeader(http.StatusOK)
	case controller.RunSkipped:
		w.WriteHeader(http.StatusConflict)
	default:
		w.WriteHeader(http.StatusInternalServerError)
	}
	json.NewEncoder(w).Encode(result)
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	// Run records carry error messages and counts; same privilege as
	// triggering.
	if err := h.auth.Authorize(r); err != nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	id := jobrun.Identity{Kind: vars["kind"], PeriodKey: vars["period"]}

	rec, err := h.repo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, jobrun.ErrNotFound) {
			http.Error(w, `{"error":"no run recorded for this identity"}`, http.StatusNotFound)
			return
		}
		h.logger.Error("get job record failed", zap.Error(err))
		http.Error(w, `{"error":"failed to load job record"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}
