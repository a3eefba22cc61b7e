// Fleetglass - Real-Time Vehicle Fleet Tracking
// Copyright 2026 Fleetglass contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetglass/fleetglass

package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/fleetglass/fleetglass/internal/fleet"
	"github.com/fleetglass/fleetglass/internal/ingest"
	"github.com/fleetglass/fleetglass/internal/locationlog"
	"github.com/fleetglass/fleetglass/internal/models"
	"github.com/fleetglass/fleetglass/internal/subscription"
	"github.com/fleetglass/fleetglass/internal/tracker"
	ws "github.com/fleetglass/fleetglass/internal/websocket"
)

const testDeviceKey = "test-device-key"

type testEnv struct {
	server *httptest.Server
	fleet  *fleet.Registry
	store  *tracker.Store
}

// envelope mirrors APIResponse with raw data for per-test decoding.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
	Meta    *APIMeta        `json:"meta"`
}

func newTestEnv(t *testing.T, archive *locationlog.Log) *testEnv {
	t.Helper()

	subs := subscription.NewRegistry()
	hub := ws.NewHub(subs, 8)

	var appender tracker.Appender
	if archive != nil {
		appender = archive
	}
	store := tracker.NewStore(100, appender, hub)

	reg := fleet.NewRegistry()
	gateway := ingest.NewGateway(testDeviceKey, reg, store)

	handler := NewHandler(gateway, reg, store, archive, hub, nil)
	chiMw := NewChiMiddleware(&ChiMiddlewareConfig{
		CORSAllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		RateLimitDisabled:  true,
	})
	router := NewRouter(handler, chiMw)

	server := httptest.NewServer(router.SetupChi())
	t.Cleanup(server.Close)

	return &testEnv{server: server, fleet: reg, store: store}
}

func newTestArchive(t *testing.T) *locationlog.Log {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("open in-memory badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return locationlog.NewLog(db)
}

func (e *testEnv) request(t *testing.T, method, path string, body interface{}, headers map[string]string) (*http.Response, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	var env envelope
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
	}
	return resp, env
}

func deviceHeaders() map[string]string {
	return map[string]string{"X-Device-Key": testDeviceKey}
}

func locationBody(vehicleID string) map[string]interface{} {
	return map[string]interface{}{
		"vehicle_id": vehicleID,
		"latitude":   40.7128,
		"longitude":  -74.0060,
		"speed":      28.0,
	}
}

func TestDeviceLocationApplied(t *testing.T) {
	env := newTestEnv(t, nil)
	v, _ := env.fleet.Create("101", "downtown loop", models.VehicleStatusActive)

	resp, body := env.request(t, http.MethodPost, "/api/v1/device/location", locationBody(v.ID), deviceHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !body.Success {
		t.Fatalf("expected success envelope, got error %+v", body.Error)
	}

	var result models.IngestResult
	if err := json.Unmarshal(body.Data, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !result.Applied || result.Stale {
		t.Errorf("result = %+v, want applied", result)
	}
	if result.Position.ObservedAt.IsZero() {
		t.Error("server did not assign ObservedAt")
	}
}

func TestDeviceLocationUnauthorized(t *testing.T) {
	env := newTestEnv(t, nil)
	v, _ := env.fleet.Create("101", "", models.VehicleStatusActive)

	resp, body := env.request(t, http.MethodPost, "/api/v1/device/location", locationBody(v.ID),
		map[string]string{"X-Device-Key": "wrong"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if body.Error == nil || body.Error.Code != ErrCodeUnauthorized {
		t.Errorf("error = %+v, want code %s", body.Error, ErrCodeUnauthorized)
	}

	if _, ok := env.store.Current(v.ID); ok {
		t.Error("unauthorized report must not touch tracking state")
	}
}

func TestDeviceLocationUnknownVehicle(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.request(t, http.MethodPost, "/api/v1/device/location", locationBody("missing"), deviceHeaders())
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if body.Error == nil || body.Error.Code != ErrCodeNotFound {
		t.Errorf("error = %+v, want code %s", body.Error, ErrCodeNotFound)
	}
}

func TestDeviceLocationValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	v, _ := env.fleet.Create("101", "", models.VehicleStatusActive)

	body := locationBody(v.ID)
	body["latitude"] = 91.0

	resp, env2 := env.request(t, http.MethodPost, "/api/v1/device/location", body, deviceHeaders())
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if env2.Error == nil || env2.Error.Code != ErrCodeValidationFailed {
		t.Errorf("error = %+v, want code %s", env2.Error, ErrCodeValidationFailed)
	}

	// An omitted coordinate is rejected rather than read as zero.
	body = locationBody(v.ID)
	delete(body, "latitude")
	resp, env2 = env.request(t, http.MethodPost, "/api/v1/device/location", body, deviceHeaders())
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing latitude status = %d, want 400", resp.StatusCode)
	}
	if env2.Error == nil || env2.Error.Code != ErrCodeValidationFailed {
		t.Errorf("missing latitude error = %+v, want code %s", env2.Error, ErrCodeValidationFailed)
	}
}

func TestDeviceLocationMalformedBody(t *testing.T) {
	env := newTestEnv(t, nil)

	req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/api/v1/device/location", bytes.NewBufferString("{not json"))
	req.Header.Set("X-Device-Key", testDeviceKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestVehicleCRUD(t *testing.T) {
	env := newTestEnv(t, nil)

	// Create
	resp, body := env.request(t, http.MethodPost, "/api/v1/vehicles",
		CreateVehicleRequest{Number: "101", Route: "downtown loop"}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	var created models.Vehicle
	if err := json.Unmarshal(body.Data, &created); err != nil {
		t.Fatalf("decode vehicle: %v", err)
	}
	if created.Status != models.VehicleStatusActive {
		t.Errorf("default status = %q, want active", created.Status)
	}

	// Duplicate number
	resp, body = env.request(t, http.MethodPost, "/api/v1/vehicles",
		CreateVehicleRequest{Number: "101"}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", resp.StatusCode)
	}
	if body.Error == nil || body.Error.Code != ErrCodeConflict {
		t.Errorf("duplicate error = %+v", body.Error)
	}

	// Update
	resp, body = env.request(t, http.MethodPut, "/api/v1/vehicles/"+created.ID,
		UpdateVehicleRequest{Status: "maintenance"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d, want 200", resp.StatusCode)
	}
	var updated models.Vehicle
	if err := json.Unmarshal(body.Data, &updated); err != nil {
		t.Fatalf("decode vehicle: %v", err)
	}
	if updated.Status != models.VehicleStatusMaintenance {
		t.Errorf("updated status = %q, want maintenance", updated.Status)
	}

	// Get
	resp, body = env.request(t, http.MethodGet, "/api/v1/vehicles/"+created.ID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", resp.StatusCode)
	}
	var state models.VehicleState
	if err := json.Unmarshal(body.Data, &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.Reported || state.Latest != nil {
		t.Errorf("vehicle without reports should have no latest position: %+v", state)
	}

	// Delete
	resp, _ = env.request(t, http.MethodDelete, "/api/v1/vehicles/"+created.ID, nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}
	resp, _ = env.request(t, http.MethodGet, "/api/v1/vehicles/"+created.ID, nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", resp.StatusCode)
	}
}

func TestVehicleUpdateInvalidStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	v, _ := env.fleet.Create("101", "", models.VehicleStatusActive)

	resp, body := env.request(t, http.MethodPut, "/api/v1/vehicles/"+v.ID,
		map[string]string{"status": "exploded"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if body.Error == nil || body.Error.Code != ErrCodeValidationFailed {
		t.Errorf("error = %+v, want validation failure", body.Error)
	}
}

func TestVehiclesListWithPositions(t *testing.T) {
	env := newTestEnv(t, nil)
	v, _ := env.fleet.Create("101", "", models.VehicleStatusActive)
	if _, err := env.fleet.Create("102", "", models.VehicleStatusActive); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	resp, _ := env.request(t, http.MethodPost, "/api/v1/device/location", locationBody(v.ID), deviceHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ingest status = %d", resp.StatusCode)
	}

	resp, body := env.request(t, http.MethodGet, "/api/v1/vehicles/", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d, want 200", resp.StatusCode)
	}
	if body.Meta == nil || body.Meta.Count != 2 {
		t.Errorf("meta = %+v, want count 2", body.Meta)
	}

	var states []models.VehicleState
	if err := json.Unmarshal(body.Data, &states); err != nil {
		t.Fatalf("decode states: %v", err)
	}
	if states[0].Vehicle.Number != "101" || !states[0].Reported || states[0].Latest == nil {
		t.Errorf("states[0] = %+v, want 101 with latest position", states[0])
	}
	if states[1].Reported {
		t.Errorf("vehicle 102 should not have reported: %+v", states[1])
	}
}

func TestVehiclesListByNumber(t *testing.T) {
	env := newTestEnv(t, nil)
	v, _ := env.fleet.Create("101", "", models.VehicleStatusActive)
	if _, err := env.fleet.Create("102", "", models.VehicleStatusActive); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	resp, body := env.request(t, http.MethodGet, "/api/v1/vehicles/?number=101", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("lookup status = %d, want 200", resp.StatusCode)
	}
	if body.Meta == nil || body.Meta.Count != 1 {
		t.Errorf("meta = %+v, want count 1", body.Meta)
	}

	var states []models.VehicleState
	if err := json.Unmarshal(body.Data, &states); err != nil {
		t.Fatalf("decode states: %v", err)
	}
	if len(states) != 1 || states[0].Vehicle.ID != v.ID {
		t.Errorf("states = %+v, want only vehicle 101", states)
	}

	resp, _ = env.request(t, http.MethodGet, "/api/v1/vehicles/?number=999", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown number status = %d, want 404", resp.StatusCode)
	}
}

func TestVehicleHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	v, _ := env.fleet.Create("101", "", models.VehicleStatusActive)

	for i := 0; i < 3; i++ {
		resp, _ := env.request(t, http.MethodPost, "/api/v1/device/location", locationBody(v.ID), deviceHeaders())
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("ingest %d status = %d", i, resp.StatusCode)
		}
	}

	resp, body := env.request(t, http.MethodGet, "/api/v1/vehicles/"+v.ID+"/history", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d, want 200", resp.StatusCode)
	}

	var history []models.Position
	if err := json.Unmarshal(body.Data, &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].ObservedAt.After(history[i-1].ObservedAt) {
			t.Error("history is not newest first")
		}
	}

	// Limit parameter
	resp, body = env.request(t, http.MethodGet, "/api/v1/vehicles/"+v.ID+"/history?limit=2", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body.Data, &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("limited history length = %d, want 2", len(history))
	}

	// Bad limit
	resp, _ = env.request(t, http.MethodGet, "/api/v1/vehicles/"+v.ID+"/history?limit=zero", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", resp.StatusCode)
	}

	// Unknown vehicle
	resp, _ = env.request(t, http.MethodGet, "/api/v1/vehicles/missing/history", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown vehicle status = %d, want 404", resp.StatusCode)
	}
}

func TestVehicleTrail(t *testing.T) {
	archive := newTestArchive(t)
	env := newTestEnv(t, archive)
	v, _ := env.fleet.Create("101", "", models.VehicleStatusActive)

	for i := 0; i < 3; i++ {
		resp, _ := env.request(t, http.MethodPost, "/api/v1/device/location", locationBody(v.ID), deviceHeaders())
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("ingest status = %d", resp.StatusCode)
		}
		time.Sleep(2 * time.Millisecond)
	}

	resp, body := env.request(t, http.MethodGet, "/api/v1/vehicles/"+v.ID+"/trail", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("trail status = %d, want 200", resp.StatusCode)
	}

	var trail []models.Position
	if err := json.Unmarshal(body.Data, &trail); err != nil {
		t.Fatalf("decode trail: %v", err)
	}
	if len(trail) != 3 {
		t.Errorf("trail length = %d, want 3", len(trail))
	}
}

func TestVehicleTrailArchiveDisabled(t *testing.T) {
	env := newTestEnv(t, nil)
	v, _ := env.fleet.Create("101", "", models.VehicleStatusActive)

	resp, body := env.request(t, http.MethodGet, "/api/v1/vehicles/"+v.ID+"/trail", nil, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	if body.Error == nil || body.Error.Code != ErrCodeStorageError {
		t.Errorf("error = %+v, want code %s", body.Error, ErrCodeStorageError)
	}
}

func TestDeleteForgetsTrackingState(t *testing.T) {
	env := newTestEnv(t, nil)
	v, _ := env.fleet.Create("101", "", models.VehicleStatusActive)

	resp, _ := env.request(t, http.MethodPost, "/api/v1/device/location", locationBody(v.ID), deviceHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ingest status = %d", resp.StatusCode)
	}

	resp, _ = env.request(t, http.MethodDelete, "/api/v1/vehicles/"+v.ID, nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}

	if _, ok := env.store.Current(v.ID); ok {
		t.Error("tracking state should be dropped with the vehicle")
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.request(t, http.MethodGet, "/api/v1/health/", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want 200", resp.StatusCode)
	}
	if !body.Success {
		t.Errorf("health should succeed, got %+v", body.Error)
	}

	var data map[string]interface{}
	if err := json.Unmarshal(body.Data, &data); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if data["status"] != "ok" {
		t.Errorf("health data = %v", data)
	}
}
