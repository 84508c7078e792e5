/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes playback control over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/timelapse/internal/animation"
	"github.com/friendsincode/timelapse/internal/auth"
	"github.com/friendsincode/timelapse/internal/events"
	"github.com/friendsincode/timelapse/internal/journal"
	"github.com/friendsincode/timelapse/internal/planfile"
	"github.com/friendsincode/timelapse/internal/playback"
)

// maxBodyBytes bounds request bodies; plan definitions are the largest.
const maxBodyBytes = 4 << 20

// API exposes HTTP handlers.
type API struct {
	ctrl      *playback.Controller
	journal   *journal.Journal
	bus       *events.Bus
	jwtSecret []byte
	logger    zerolog.Logger
}

// New creates the API. A nil jwtSecret leaves control routes open.
func New(ctrl *playback.Controller, j *journal.Journal, bus *events.Bus, jwtSecret []byte, logger zerolog.Logger) *API {
	return &API{
		ctrl:      ctrl,
		journal:   j,
		bus:       bus,
		jwtSecret: jwtSecret,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes registers the API under /api/v1.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Route("/playback", func(r chi.Router) {
			r.Get("/", a.handleSnapshot)
			r.Get("/journal", a.handleJournal)
			r.Get("/journal/stats", a.handleJournalStats)
			r.Get("/events", a.handleEvents)

			r.Group(func(pr chi.Router) {
				pr.Use(auth.RequireScope(a.jwtSecret, auth.ScopeControl))

				pr.Post("/plan", a.handleSetPlan)
				pr.Delete("/plan", a.handleAbandonPlan)
				pr.Post("/step/{op}", a.handleStep)
				pr.Post("/jump", a.handleJump)
				pr.Post("/play", a.handlePlay)
				pr.Post("/pause", a.handlePause)
				pr.Put("/rate", a.handleSetRate)
			})
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// fence resolves planID to the controller's current plan.
func (a *API) fence(planID string) (animation.Plan, error) {
	if planID == "" {
		return nil, errPlanIDRequired
	}
	plan := a.ctrl.Plan()
	if plan == nil {
		return nil, playback.ErrNoPlan
	}
	if plan.ID() != planID {
		return nil, playback.ErrPlanMismatch
	}
	return plan, nil
}

var (
	errPlanIDRequired = errors.New("plan_id is required")
	errInvalidJSON    = errors.New("invalid json body")
)

// writeControlError maps controller errors to status codes.
func (a *API) writeControlError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errInvalidJSON):
		writeError(w, http.StatusBadRequest, "invalid_json")
	case errors.Is(err, errPlanIDRequired):
		writeError(w, http.StatusBadRequest, "plan_id_required")
	case errors.Is(err, animation.ErrValidation), errors.Is(err, planfile.ErrInvalid):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation_failed", "detail": err.Error()})
	case errors.Is(err, animation.ErrOutOfRange):
		writeError(w, http.StatusBadRequest, "out_of_range")
	case errors.Is(err, playback.ErrNoPlan):
		writeError(w, http.StatusNotFound, "no_plan")
	case errors.Is(err, playback.ErrPlanMismatch):
		writeError(w, http.StatusConflict, "plan_mismatch")
	case errors.Is(err, playback.ErrTransitionInProgress):
		writeError(w, http.StatusConflict, "transition_in_progress")
	default:
		a.logger.Error().Err(err).Msg("playback request failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errInvalidJSON
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
