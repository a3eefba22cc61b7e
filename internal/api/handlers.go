// Fleetglass - Real-Time Vehicle Fleet Tracking
// Copyright 2026 Fleetglass contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetglass/fleetglass

package api

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/fleetglass/fleetglass/internal/fleet"
	"github.com/fleetglass/fleetglass/internal/ingest"
	"github.com/fleetglass/fleetglass/internal/locationlog"
	"github.com/fleetglass/fleetglass/internal/logging"
	"github.com/fleetglass/fleetglass/internal/models"
	"github.com/fleetglass/fleetglass/internal/tracker"
	"github.com/fleetglass/fleetglass/internal/validation"
	ws "github.com/fleetglass/fleetglass/internal/websocket"
)

// deviceKeyHeader carries the shared device secret on ingestion requests.
const deviceKeyHeader = "X-Device-Key"

// maxTrailRecords caps one archive query.
const maxTrailRecords = 1000

// Handler holds dependencies for all HTTP handlers.
type Handler struct {
	gateway *ingest.Gateway
	fleet   *fleet.Registry
	store   *tracker.Store
	archive *locationlog.Log // nil when durable storage is disabled
	hub     *ws.Hub

	upgrader websocket.Upgrader
}

// NewHandler creates a Handler. archive may be nil. allowedOrigins
// restricts WebSocket upgrades; empty means same-host only.
func NewHandler(gateway *ingest.Gateway, reg *fleet.Registry, store *tracker.Store, archive *locationlog.Log, hub *ws.Hub, allowedOrigins []string) *Handler {
	return &Handler{
		gateway: gateway,
		fleet:   reg,
		store:   store,
		archive: archive,
		hub:     hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// originChecker builds the WebSocket origin check. With no configured
// origins the gorilla default applies: only same-host upgrades pass.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set[origin]; ok {
			return true
		}
		// Same-host upgrades are always allowed.
		if u, err := url.Parse(origin); err == nil && u.Host == r.Host {
			return true
		}
		return false
	}
}

// DeviceLocation handles POST /api/v1/device/location, the ingestion
// boundary for tracking devices.
func (h *Handler) DeviceLocation(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var report ingest.DeviceReport
	if err := decodeJSON(w, r, &report); err != nil {
		rw.BadRequest("invalid JSON body")
		return
	}

	result, err := h.gateway.Ingest(r.Context(), r.Header.Get(deviceKeyHeader), report)
	switch {
	case err == nil:
		rw.Success(models.IngestResult{
			Applied:  result.Applied,
			Stale:    result.Stale,
			Position: result.Position,
		})
	case errors.Is(err, ingest.ErrUnauthorized):
		rw.Unauthorized("invalid device credentials")
	case errors.Is(err, ingest.ErrVehicleNotFound):
		rw.NotFound("unknown vehicle")
	case errors.Is(err, ingest.ErrInvalidReport):
		var ve *validation.RequestValidationError
		if errors.As(err, &ve) {
			rw.ValidationError("invalid position report", ve.Fields)
			return
		}
		rw.ValidationError("invalid position report", nil)
	case errors.Is(err, tracker.ErrStorage):
		rw.StorageError(err)
	default:
		rw.InternalError("failed to process position report")
	}
}

// VehiclesList handles GET /api/v1/vehicles. Each vehicle is paired with
// its latest reconciled position, if any. A ?number= query looks up one
// vehicle by its painted fleet number, which is what devices and
// dispatchers know it by.
func (h *Handler) VehiclesList(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if number := r.URL.Query().Get("number"); number != "" {
		v, err := h.fleet.GetByNumber(number)
		if err != nil {
			rw.NotFound("vehicle not found")
			return
		}
		out := []models.VehicleState{h.vehicleState(v)}
		rw.SuccessWithMeta(out, &APIMeta{Count: len(out)})
		return
	}

	vehicles := h.fleet.List()
	positions := h.store.Snapshot()
	out := make([]models.VehicleState, len(vehicles))
	for i, v := range vehicles {
		state := models.VehicleState{Vehicle: v}
		if pos, ok := positions[v.ID]; ok {
			state.Latest = &pos
			state.Reported = true
		}
		out[i] = state
	}

	rw.SuccessWithMeta(out, &APIMeta{Count: len(out)})
}

// VehicleGet handles GET /api/v1/vehicles/{id}.
func (h *Handler) VehicleGet(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	v, err := h.fleet.Get(chi.URLParam(r, "id"))
	if err != nil {
		rw.NotFound("vehicle not found")
		return
	}

	rw.Success(h.vehicleState(v))
}

func (h *Handler) vehicleState(v models.Vehicle) models.VehicleState {
	state := models.VehicleState{Vehicle: v}
	if pos, ok := h.store.Current(v.ID); ok {
		state.Latest = &pos
		state.Reported = true
	}
	return state
}

// VehicleCreate handles POST /api/v1/vehicles.
func (h *Handler) VehicleCreate(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req CreateVehicleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		rw.BadRequest("invalid JSON body")
		return
	}
	if verr := validation.ValidateStruct(req); verr != nil {
		rw.ValidationError("invalid vehicle", verr.Fields)
		return
	}

	v, err := h.fleet.Create(req.Number, req.Route, models.VehicleStatus(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, fleet.ErrDuplicateNumber):
			rw.Conflict("vehicle number already registered")
		case errors.Is(err, fleet.ErrInvalidStatus):
			rw.BadRequest("invalid vehicle status")
		default:
			rw.InternalError("failed to create vehicle")
		}
		return
	}

	logging.Info().Str("vehicle_id", v.ID).Str("number", v.Number).Msg("vehicle registered")
	rw.Created(v)
}

// VehicleUpdate handles PUT /api/v1/vehicles/{id}.
func (h *Handler) VehicleUpdate(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req UpdateVehicleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		rw.BadRequest("invalid JSON body")
		return
	}
	if verr := validation.ValidateStruct(req); verr != nil {
		rw.ValidationError("invalid vehicle", verr.Fields)
		return
	}

	v, err := h.fleet.Update(chi.URLParam(r, "id"), req.Number, req.Route, models.VehicleStatus(req.Status))
	switch {
	case err == nil:
		rw.Success(v)
	case errors.Is(err, fleet.ErrVehicleNotFound):
		rw.NotFound("vehicle not found")
	case errors.Is(err, fleet.ErrDuplicateNumber):
		rw.Conflict("vehicle number already registered")
	case errors.Is(err, fleet.ErrInvalidStatus):
		rw.BadRequest("invalid vehicle status")
	default:
		rw.InternalError("failed to update vehicle")
	}
}

// VehicleDelete handles DELETE /api/v1/vehicles/{id}. Tracking state for
// the vehicle is dropped along with the registry record.
func (h *Handler) VehicleDelete(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id := chi.URLParam(r, "id")
	if err := h.fleet.Delete(id); err != nil {
		rw.NotFound("vehicle not found")
		return
	}
	h.store.Forget(id)

	logging.Info().Str("vehicle_id", id).Msg("vehicle removed")
	rw.NoContent()
}

// VehicleHistory handles GET /api/v1/vehicles/{id}/history: the bounded
// in-memory record of recent reports, newest first.
func (h *Handler) VehicleHistory(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id := chi.URLParam(r, "id")
	if !h.fleet.Exists(id) {
		rw.NotFound("vehicle not found")
		return
	}

	limit, err := intQueryParam(r, "limit", h.store.HistoryLimit(), h.store.HistoryLimit())
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	history := h.store.History(id, limit)
	if history == nil {
		history = []models.Position{}
	}
	rw.SuccessWithMeta(history, &APIMeta{Count: len(history)})
}

// VehicleTrail handles GET /api/v1/vehicles/{id}/trail: the durable
// archive of reports, newest first. Deeper than the in-memory history.
func (h *Handler) VehicleTrail(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if h.archive == nil {
		rw.Error(http.StatusServiceUnavailable, ErrCodeStorageError, "position archive is disabled")
		return
	}

	id := chi.URLParam(r, "id")
	if !h.fleet.Exists(id) {
		rw.NotFound("vehicle not found")
		return
	}

	limit, err := intQueryParam(r, "limit", 500, maxTrailRecords)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	trail, err := h.archive.Recent(r.Context(), id, limit)
	if err != nil {
		rw.StorageError(err)
		return
	}
	if trail == nil {
		trail = []models.Position{}
	}
	rw.SuccessWithMeta(trail, &APIMeta{Count: len(trail)})
}

// WebSocket handles GET /api/v1/ws: upgrades the connection and registers
// an observer session with the hub.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		logging.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	client := ws.NewClient(h.hub, conn)
	h.hub.Register <- client
	client.Start()
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	rw.Success(map[string]interface{}{
		"status":          "ok",
		"vehicles":        h.fleet.Count(),
		"sessions":        h.hub.SessionCount(),
		"archive_enabled": h.archive != nil,
	})
}
