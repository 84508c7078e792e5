/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/timelapse/internal/animation"
	"github.com/friendsincode/timelapse/internal/journal"
	"github.com/friendsincode/timelapse/internal/planfile"
	"github.com/friendsincode/timelapse/internal/playback"
	"github.com/friendsincode/timelapse/internal/prefs"
	"github.com/friendsincode/timelapse/internal/timespan"
)

// planRequest is a plan definition plus an optional autoplay flag.
type planRequest struct {
	planfile.Definition
	Play bool `json:"play,omitempty"`
}

type stepRequest struct {
	PlanID string `json:"plan_id"`
	Wait   bool   `json:"wait"`
}

type jumpRequest struct {
	PlanID string    `json:"plan_id"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Wait   bool      `json:"wait"`
}

type playRequest struct {
	PlanID    string `json:"plan_id"`
	Direction string `json:"direction,omitempty"`
}

type rateRequest struct {
	PlanID     string `json:"plan_id"`
	ChangeRate string `json:"change_rate"`
}

func (a *API) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.ctrl.Snapshot())
}

func (a *API) handleSetPlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeControlError(w, err)
		return
	}

	compiled, err := req.Compile()
	if err != nil {
		a.writeControlError(w, err)
		return
	}

	opts := []playback.PlanOption{playback.WithDirection(compiled.Direction)}
	if compiled.ChangeRate > 0 {
		opts = append(opts, playback.WithChangeRate(compiled.ChangeRate))
	}
	if err := a.ctrl.SetPlan(compiled.Plan, opts...); err != nil {
		a.writeControlError(w, err)
		return
	}
	if req.Play {
		if err := a.ctrl.Play(compiled.Plan, compiled.Direction); err != nil {
			a.writeControlError(w, err)
			return
		}
	}

	a.logger.Info().Str("plan_id", compiled.Plan.ID()).Bool("play", req.Play).Msg("plan installed via api")
	writeJSON(w, http.StatusCreated, a.ctrl.Snapshot())
}

func (a *API) handleAbandonPlan(w http.ResponseWriter, r *http.Request) {
	if planID := r.URL.Query().Get("plan_id"); planID != "" {
		if _, err := a.fence(planID); err != nil {
			a.writeControlError(w, err)
			return
		}
	}
	a.ctrl.AbandonPlan()
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleStep(w http.ResponseWriter, r *http.Request) {
	op, err := playback.ParseOp(chi.URLParam(r, "op"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown_op")
		return
	}

	var req stepRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeControlError(w, err)
		return
	}
	plan, err := a.fence(req.PlanID)
	if err != nil {
		a.writeControlError(w, err)
		return
	}

	if err := a.ctrl.Step(r.Context(), plan, op, req.Wait); err != nil {
		a.writeControlError(w, err)
		return
	}
	writeJSON(w, stepStatus(req.Wait), a.ctrl.Snapshot())
}

func (a *API) handleJump(w http.ResponseWriter, r *http.Request) {
	var req jumpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeControlError(w, err)
		return
	}
	window, err := timespan.New(req.Start, req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_window")
		return
	}
	plan, err := a.fence(req.PlanID)
	if err != nil {
		a.writeControlError(w, err)
		return
	}

	found, err := a.ctrl.JumpToStep(r.Context(), plan, window, req.Wait)
	if err != nil {
		a.writeControlError(w, err)
		return
	}
	writeJSON(w, stepStatus(req.Wait), map[string]any{
		"found":    found,
		"playback": a.ctrl.Snapshot(),
	})
}

func (a *API) handlePlay(w http.ResponseWriter, r *http.Request) {
	var req playRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeControlError(w, err)
		return
	}
	direction, err := animation.ParseDirection(req.Direction)
	if err != nil {
		a.writeControlError(w, err)
		return
	}
	plan, err := a.fence(req.PlanID)
	if err != nil {
		a.writeControlError(w, err)
		return
	}

	if err := a.ctrl.Play(plan, direction); err != nil {
		a.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.ctrl.Snapshot())
}

func (a *API) handlePause(w http.ResponseWriter, r *http.Request) {
	var req stepRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeControlError(w, err)
		return
	}
	plan, err := a.fence(req.PlanID)
	if err != nil {
		a.writeControlError(w, err)
		return
	}

	if err := a.ctrl.Pause(plan); err != nil {
		a.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.ctrl.Snapshot())
}

func (a *API) handleSetRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeControlError(w, err)
		return
	}
	rate, ok := prefs.ParseDuration(req.ChangeRate)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_change_rate")
		return
	}
	plan, err := a.fence(req.PlanID)
	if err != nil {
		a.writeControlError(w, err)
		return
	}

	if err := a.ctrl.SetChangeRate(plan, rate); err != nil {
		a.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.ctrl.Snapshot())
}

func (a *API) handleJournal(w http.ResponseWriter, r *http.Request) {
	if a.journal == nil {
		writeJSON(w, http.StatusOK, map[string]any{"entries": []journal.Entry{}, "count": 0})
		return
	}

	q := r.URL.Query()
	params := journal.QueryParams{
		PlanID:       q.Get("plan_id"),
		Op:           q.Get("op"),
		TimedOutOnly: q.Get("timed_out") == "true",
		Descending:   strings.EqualFold(q.Get("order"), "desc"),
		Limit:        100,
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		params.Limit = min(limit, 1000)
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since")
			return
		}
		params.Since = since
	}

	entries := a.journal.Query(params)
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (a *API) handleJournalStats(w http.ResponseWriter, r *http.Request) {
	if a.journal == nil {
		writeJSON(w, http.StatusOK, journal.Stats{OpCount: map[string]int{}})
		return
	}
	writeJSON(w, http.StatusOK, a.journal.Stats())
}

// stepStatus is 202 for scheduled transitions and 200 for committed ones.
func stepStatus(wait bool) int {
	if wait {
		return http.StatusOK
	}
	return http.StatusAccepted
}
