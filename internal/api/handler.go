package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"traffic-router/internal/engine"
	"traffic-router/internal/observability"
)

const version = "1.0.0"

// TargetStore is the registry surface the handlers need. Implemented
// by storage.Store; faked in tests.
type TargetStore interface {
	ListAll(ctx context.Context) ([]engine.Target, error)
	Get(ctx context.Context, id int64) (engine.Target, bool, error)
	Insert(ctx context.Context, id int64, t engine.Target) (bool, error)
	Update(ctx context.Context, id int64, t engine.Target) (bool, error)
}

type Handler struct {
	Eng   *engine.Engine
	Store TargetStore

	// Refresh reloads the local target snapshot after a write, so
	// decisions on this node see the change immediately. Optional.
	Refresh func(context.Context) error

	// Pings back the health endpoint; one per backing store.
	Pings []func(context.Context) error
}

func NewHandler(eng *engine.Engine, store TargetStore) *Handler {
	return &Handler{Eng: eng, Store: store}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusBody struct {
	Status string `json:"status"`
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, statusBody{Status: msg})
}

func notFound(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusNotFound, statusBody{Status: msg})
}

func serverError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

// Route handles POST /route: one visitor in, one decision out.
// Visitor input shape is validated here; the engine assumes a valid
// (geoState, timestamp) pair.
func (h *Handler) Route(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var visitor struct {
		GeoState  string `json:"geoState"`
		Publisher string `json:"publisher"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(body, &visitor); err != nil {
		badRequest(w, err.Error())
		return
	}
	if visitor.GeoState == "" || visitor.Timestamp == "" {
		badRequest(w, "Required fields are missing")
		return
	}
	if len(visitor.GeoState) != 2 {
		badRequest(w, "geoState must be a string of length 2")
		return
	}
	at, err := time.Parse(time.RFC3339, visitor.Timestamp)
	if err != nil {
		badRequest(w, "The timestamp should be in the Date format.")
		return
	}

	d, err := h.Eng.Decide(r.Context(), visitor.GeoState, at)
	if err != nil {
		log.Error().Err(err).Str("geoState", visitor.GeoState).Msg("decision failed")
		serverError(w, err)
		return
	}
	observability.DecisionsTotal.WithLabelValues(string(d.Outcome)).Inc()
	writeJSON(w, http.StatusOK, map[string]string{"decision": d.String()})
}

// AddTarget handles POST /api/targets.
func (h *Handler) AddTarget(w http.ResponseWriter, r *http.Request) {
	id, target, msg := decodeTarget(r.Body)
	if msg != "" {
		badRequest(w, msg)
		return
	}
	inserted, err := h.Store.Insert(r.Context(), id, target)
	if err != nil {
		serverError(w, err)
		return
	}
	if !inserted {
		badRequest(w, "Target already exists. Please try with a different target id.")
		return
	}
	h.refresh(r.Context())
	writeJSON(w, http.StatusOK, statusBody{Status: "OK"})
}

// ListTargets handles GET /api/targets.
func (h *Handler) ListTargets(w http.ResponseWriter, r *http.Request) {
	ts, err := h.Store.ListAll(r.Context())
	if err != nil {
		serverError(w, err)
		return
	}
	if ts == nil {
		ts = []engine.Target{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "OK", "data": ts})
}

// GetTarget handles GET /api/target/{id}.
func (h *Handler) GetTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, "Id param should be a positive integer")
		return
	}
	t, found, err := h.Store.Get(r.Context(), id)
	if err != nil {
		serverError(w, err)
		return
	}
	if !found {
		notFound(w, "Target does not exist with this ID")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "OK", "target": t})
}

// UpdateTarget handles POST /api/target/{id}. The path id is
// authoritative; the body carries the new field values.
func (h *Handler) UpdateTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, "Id param should be a positive integer")
		return
	}
	_, target, msg := decodeTarget(r.Body)
	if msg != "" {
		badRequest(w, msg)
		return
	}
	updated, err := h.Store.Update(r.Context(), id, target)
	if err != nil {
		serverError(w, err)
		return
	}
	if !updated {
		notFound(w, "The specified target ID does not exist. Please enter a valid target ID")
		return
	}
	h.refresh(r.Context())
	writeJSON(w, http.StatusOK, statusBody{Status: "OK"})
}

// Health handles GET /health: pings every backing store.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	for _, ping := range h.Pings {
		if err := ping(r.Context()); err != nil {
			log.Warn().Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable", "version": version,
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK", "version": version})
}

func (h *Handler) refresh(ctx context.Context) {
	if h.Refresh == nil {
		return
	}
	if err := h.Refresh(ctx); err != nil {
		log.Error().Err(err).Msg("snapshot refresh after write")
	}
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// decodeTarget validates an incoming target payload. Returns the
// numeric id and the target, or a non-empty rejection message.
func decodeTarget(body io.Reader) (int64, engine.Target, string) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return 0, engine.Target{}, err.Error()
	}

	var payload struct {
		ID               engine.Scalar `json:"id"`
		URL              string        `json:"url"`
		Value            engine.Scalar `json:"value"`
		MaxAcceptsPerDay engine.Scalar `json:"maxAcceptsPerDay"`
		Accept           *struct {
			GeoState json.RawMessage `json:"geoState"`
			Hour     json.RawMessage `json:"hour"`
		} `json:"accept"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return 0, engine.Target{}, err.Error()
	}

	if payload.ID == "" || payload.URL == "" || payload.Value == "" ||
		payload.MaxAcceptsPerDay == "" || payload.Accept == nil ||
		len(payload.Accept.GeoState) == 0 || len(payload.Accept.Hour) == 0 {
		return 0, engine.Target{}, "Required fields are absent"
	}

	geo, gok := decodeMatchSet(payload.Accept.GeoState)
	hour, hok := decodeMatchSet(payload.Accept.Hour)
	if !gok || !hok {
		return 0, engine.Target{}, `Both "geoState.$in" and "hour.$in" fields must be arrays.`
	}

	id, err := strconv.ParseInt(string(payload.ID), 10, 64)
	if err != nil || id <= 0 {
		return 0, engine.Target{}, "Id param should be a positive integer"
	}

	return id, engine.Target{
		ID:               payload.ID,
		URL:              payload.URL,
		Value:            payload.Value,
		MaxAcceptsPerDay: payload.MaxAcceptsPerDay,
		Accept:           engine.Accept{GeoState: geo, Hour: hour},
	}, ""
}

func decodeMatchSet(raw json.RawMessage) (engine.MatchSet, bool) {
	var m engine.MatchSet
	if err := json.Unmarshal(raw, &m); err != nil || m.In == nil {
		return engine.MatchSet{}, false
	}
	return m, true
}
