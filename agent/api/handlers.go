package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	orchestratorx "github.com/tanpawarit/healthguard-agent/agent/agents/orchestrator"
	contractx "github.com/tanpawarit/healthguard-agent/agent/contract"
	statex "github.com/tanpawarit/healthguard-agent/agent/state"
	toolx "github.com/tanpawarit/healthguard-agent/agent/tool"
)

const (
	defaultTurnLimit = 20
	maxTurnLimit     = 200
	maxBodyBytes     = 64 << 10

	defaultAdherenceWindow = 7 * 24 * time.Hour
	defaultTrendWindow     = 30 * 24 * time.Hour
)

type turnRequest struct {
	Message  string `json:"message" validate:"required,max=4000"`
	DedupKey string `json:"dedup_key" validate:"max=120"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) postTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var opts []orchestratorx.TurnOption
	if key := strings.TrimSpace(req.DedupKey); key != "" {
		opts = append(opts, orchestratorx.WithDedupKey(key))
	}

	resp, err := s.turns.HandleTurn(r.Context(), chi.URLParam(r, "patientID"), req.Message, opts...)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listTurns(w http.ResponseWriter, r *http.Request) {
	limit := defaultTurnLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxTurnLimit)
	}

	turns, err := s.store.RecentTurns(r.Context(), chi.URLParam(r, "patientID"), limit)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(turns), "turns": nonNil(turns)})
}

func (s *Server) listMedications(w http.ResponseWriter, r *http.Request) {
	meds, err := s.store.ListMedications(r.Context(), chi.URLParam(r, "patientID"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(meds), "medications": nonNil(meds)})
}

func (s *Server) listSymptoms(w http.ResponseWriter, r *http.Request) {
	from, to, err := s.timeRange(r, 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := s.store.QuerySymptoms(r.Context(), statex.SymptomQuery{
		PatientID: chi.URLParam(r, "patientID"),
		Label:     statex.NormalizeLabel(r.URL.Query().Get("label")),
		From:      from,
		To:        to,
	})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(entries), "entries": nonNil(entries)})
}

func (s *Server) adherence(w http.ResponseWriter, r *http.Request) {
	from, to, err := s.timeRange(r, defaultAdherenceWindow)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := s.analyzer.Adherence(r.Context(), chi.URLParam(r, "patientID"), chi.URLParam(r, "medication"), from, to, s.loc)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) adherenceOverview(w http.ResponseWriter, r *http.Request) {
	from, to, err := s.timeRange(r, defaultAdherenceWindow)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	overview, err := s.analyzer.AdherenceOverview(r.Context(), chi.URLParam(r, "patientID"), from, to, s.loc)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (s *Server) trend(w http.ResponseWriter, r *http.Request) {
	from, to, err := s.timeRange(r, defaultTrendWindow)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := s.analyzer.SymptomTrend(r.Context(), chi.URLParam(r, "patientID"), chi.URLParam(r, "label"), from, to, s.loc)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// timeRange reads the from/to query parameters. With def > 0 missing bounds
// default to the def-long window ending now; otherwise they stay open.
func (s *Server) timeRange(r *http.Request, def time.Duration) (time.Time, time.Time, error) {
	now := s.now().UTC()
	parse := func(name string, fallback time.Time) (time.Time, error) {
		v := strings.TrimSpace(r.URL.Query().Get(name))
		if v == "" {
			return fallback, nil
		}
		t, err := toolx.ParseTime(v, now, s.loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid %s: %q", name, v)
		}
		return t, nil
	}

	var defTo time.Time
	if def > 0 {
		defTo = now
	}
	to, err := parse("to", defTo)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	var defFrom time.Time
	if def > 0 {
		defFrom = to.Add(-def)
	}
	from, err := parse("from", defFrom)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !from.IsZero() && !to.IsZero() && !to.After(from) {
		return time.Time{}, time.Time{}, errors.New("to must be after from")
	}
	return from, to, nil
}

func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, status, msg)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, orchestratorx.ErrInvalidPatient),
		errors.Is(err, orchestratorx.ErrInvalidMessage),
		errors.Is(err, contractx.ErrValidation),
		errors.Is(err, contractx.ErrInvalidArguments),
		errors.Is(err, statex.ErrInvalidRecord):
		return http.StatusBadRequest
	case errors.Is(err, contractx.ErrNotFound),
		errors.Is(err, statex.ErrPatientNotFound),
		errors.Is(err, statex.ErrMedicationNotFound):
		return http.StatusNotFound
	case errors.Is(err, contractx.ErrModelInvoke):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
