package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"devicesync/internal/models"
	"devicesync/internal/service"
)

func getEventsRequest(t *testing.T, logs *mockEventLog, query string) *httptest.ResponseRecorder {
	t.Helper()
	r := newTestRouter(&service.Service{EventLog: logs})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/events"+query, nil))
	return w
}

func TestEventsHandler_DeviceTimeline(t *testing.T) {
	at := time.Date(2025, 8, 1, 10, 0, 0, 0, time.UTC)
	logs := &mockEventLog{resp: []models.SyncEvent{
		{EventID: "e1", OccurredAt: at, Type: models.EventCommit, DeviceID: "lamp", Description: "committed 40"},
		{EventID: "e2", OccurredAt: at.Add(time.Second), Type: models.EventReconcile, DeviceID: "lamp", Description: "external 55"},
	}}

	w := getEventsRequest(t, logs, "?device=lamp&type=commit&limit=50")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var out struct {
		Count  int                `json:"count"`
		Events []models.SyncEvent `json:"events"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Count != 2 || out.Events[1].Description != "external 55" {
		t.Fatalf("unexpected response: %+v", out)
	}
	want := service.EventFilter{DeviceID: "lamp", Type: "commit", Limit: 50}
	if logs.last != want {
		t.Fatalf("filter = %+v, want %+v", logs.last, want)
	}
}

func TestEventsHandler_TimeWindow(t *testing.T) {
	logs := &mockEventLog{}

	w := getEventsRequest(t, logs, "?from=2025-08-01T09:00:00%2B03:00&to=2025-08-01")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	wantFrom := time.Date(2025, 8, 1, 6, 0, 0, 0, time.UTC)
	wantTo := time.Date(2025, 8, 1, 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC)
	if !logs.last.From.Equal(wantFrom) || !logs.last.To.Equal(wantTo) {
		t.Fatalf("window = [%v, %v], want [%v, %v]", logs.last.From, logs.last.To, wantFrom, wantTo)
	}
}

func TestEventsHandler_BadQueryNeverReachesService(t *testing.T) {
	for _, q := range []string{
		"?from=yesterday",
		"?to=31/08/2025",
		"?limit=ten",
		"?limit=0",
		"?limit=-5",
	} {
		logs := &mockEventLog{}
		w := getEventsRequest(t, logs, q)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d, want 400", q, w.Code)
		}
		if logs.calls != 0 {
			t.Fatalf("%s: service called", q)
		}
	}
}

func TestEventsHandler_ServiceErrors(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: toaster", service.ErrUnknownDevice), http.StatusNotFound},
		{fmt.Errorf("%w: unknown event type \"START\"", service.ErrInvalidFilter), http.StatusBadRequest},
		{errors.New("database is locked"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := getEventsRequest(t, &mockEventLog{err: tc.err}, "?device=toaster")
		if w.Code != tc.code {
			t.Fatalf("%v: status=%d, want %d", tc.err, w.Code, tc.code)
		}
	}
}

func TestParseQueryTime(t *testing.T) {
	cases := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "2025-08-27T15:04:05+02:00", want: time.Date(2025, 8, 27, 13, 4, 5, 0, time.UTC)},
		{in: "2025-08-27 15:04:05", want: time.Date(2025, 8, 27, 15, 4, 5, 0, time.UTC)},
		{in: "2025-08-27", want: time.Date(2025, 8, 27, 0, 0, 0, 0, time.UTC)},
		{in: "27/08/2025", wantErr: true},
	}
	for _, tc := range cases {
		got, err := parseQueryTime(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseQueryTime(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil || !got.Equal(tc.want) {
			t.Fatalf("parseQueryTime(%q) = %v, %v; want %v", tc.in, got, err, tc.want)
		}
	}
}
