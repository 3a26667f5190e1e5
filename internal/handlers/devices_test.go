package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"devicesync/internal/models"
	"devicesync/internal/service"
)

func TestHealth(t *testing.T) {
	r := newTestRouter(&service.Service{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), statusOK) {
		t.Fatalf("health status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestDevices_GetAndList(t *testing.T) {
	sync := newMockSync(models.DeviceState{DeviceID: "lamp", ConfirmedValue: 40, TargetValue: 40, DisplayValue: 40})
	r := newTestRouter(&service.Service{Sync: sync})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/devices/lamp", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("get status=%d body=%s", w.Code, w.Body.String())
	}
	var st models.DeviceState
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if st.DeviceID != "lamp" || st.ConfirmedValue != 40 {
		t.Fatalf("unexpected state: %+v", st)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/devices/toaster", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown device, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("list status=%d", w.Code)
	}
	var out struct {
		Count   int                  `json:"count"`
		Devices []models.DeviceState `json:"devices"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	if out.Count != 1 || len(out.Devices) != 1 {
		t.Fatalf("unexpected list: %+v", out)
	}

	sync.getErr = errors.New("boom")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/devices/lamp", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestDevices_SetValue(t *testing.T) {
	sync := newMockSync(models.DeviceState{DeviceID: "lamp"})
	r := newTestRouter(&service.Service{Sync: sync})

	cases := []struct {
		name   string
		path   string
		body   string
		setErr error
		want   int
	}{
		{"accepted", "/api/v1/devices/lamp/value", `{"value":75}`, nil, http.StatusAccepted},
		{"zero is a value", "/api/v1/devices/lamp/value", `{"value":0}`, nil, http.StatusAccepted},
		{"missing value", "/api/v1/devices/lamp/value", `{}`, nil, http.StatusBadRequest},
		{"malformed body", "/api/v1/devices/lamp/value", `{"value":`, nil, http.StatusBadRequest},
		{"unknown device", "/api/v1/devices/toaster/value", `{"value":1}`, service.ErrUnknownDevice, http.StatusNotFound},
		{"invalid value", "/api/v1/devices/lamp/value", `{"value":1}`, service.ErrInvalidValue, http.StatusBadRequest},
		{"store failure", "/api/v1/devices/lamp/value", `{"value":1}`, errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sync.setErr = tc.setErr
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPut, tc.path, strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("status=%d want %d body=%s", w.Code, tc.want, w.Body.String())
			}
		})
	}

	sync.setErr = nil
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/v1/devices/lamp/value", strings.NewReader(`{"value":33.5}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	var st models.DeviceState
	_ = json.Unmarshal(w.Body.Bytes(), &st)
	if sync.lastValue != 33.5 || st.TargetValue != 33.5 || !st.IsPending {
		t.Fatalf("unexpected set: last=%v state=%+v", sync.lastValue, st)
	}
}

func TestSessionReset(t *testing.T) {
	sync := newMockSync()
	r := newTestRouter(&service.Service{Sync: sync})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/session/reset", nil))
	if w.Code != http.StatusOK || sync.resets != 1 {
		t.Fatalf("reset status=%d resets=%d", w.Code, sync.resets)
	}
}

func TestConnectionRoutes(t *testing.T) {
	conn := &mockConnection{state: models.ConnectionState{Mode: models.ModeDisconnected}}
	r := newTestRouter(&service.Service{Connection: conn})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/connection/connect", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("connect status=%d body=%s", w.Code, w.Body.String())
	}
	var cs models.ConnectionState
	_ = json.Unmarshal(w.Body.Bytes(), &cs)
	if cs.Mode != models.ModeConnectedPush {
		t.Fatalf("mode = %q", cs.Mode)
	}

	conn.connectErr = service.ErrAlreadyConnected
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/connection/connect", nil))
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}

	conn.connectErr = errors.New("dial tcp: connection refused")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/connection/connect", nil))
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/connection/disconnect", nil))
	if w.Code != http.StatusOK || conn.disconnectCnt != 1 {
		t.Fatalf("disconnect status=%d calls=%d", w.Code, conn.disconnectCnt)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/connection", nil))
	_ = json.Unmarshal(w.Body.Bytes(), &cs)
	if w.Code != http.StatusOK || cs.Mode != models.ModeDisconnected {
		t.Fatalf("state status=%d mode=%q", w.Code, cs.Mode)
	}
}
