package handlers

import (
	"context"
	"sync"

	"devicesync/internal/models"
	"devicesync/internal/service"

	"github.com/gin-gonic/gin"
)

// ---- Service Mocks ----

type mockSync struct {
	mu sync.Mutex

	states    map[string]models.DeviceState
	setErr    error
	getErr    error
	watchErr  error
	lastSetID string
	lastValue float64
	resets    int
	watchers  map[string][]func(models.DeviceState)
	cancelled int
}

func newMockSync(states ...models.DeviceState) *mockSync {
	m := &mockSync{
		states:   make(map[string]models.DeviceState),
		watchers: make(map[string][]func(models.DeviceState)),
	}
	for _, st := range states {
		m.states[st.DeviceID] = st
	}
	return m
}

func (m *mockSync) SetValue(ctx context.Context, deviceID string, value float64) (models.DeviceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSetID = deviceID
	m.lastValue = value
	if m.setErr != nil {
		return models.DeviceState{}, m.setErr
	}
	st := m.states[deviceID]
	st.TargetValue = value
	st.DisplayValue = value
	st.IsPending = true
	st.Source = models.SourceUser
	m.states[deviceID] = st
	return st, nil
}

func (m *mockSync) Device(ctx context.Context, deviceID string) (models.DeviceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return models.DeviceState{}, m.getErr
	}
	st, ok := m.states[deviceID]
	if !ok {
		return models.DeviceState{}, service.ErrUnknownDevice
	}
	return st, nil
}

func (m *mockSync) Devices(ctx context.Context) []models.DeviceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.DeviceState, 0, len(m.states))
	for _, st := range m.states {
		out = append(out, st)
	}
	return out
}

func (m *mockSync) Watch(ctx context.Context, deviceID string, fn func(models.DeviceState)) (func(), error) {
	m.mu.Lock()
	if m.watchErr != nil {
		m.mu.Unlock()
		return nil, m.watchErr
	}
	st, ok := m.states[deviceID]
	if !ok {
		m.mu.Unlock()
		return nil, service.ErrUnknownDevice
	}
	m.watchers[deviceID] = append(m.watchers[deviceID], fn)
	m.mu.Unlock()

	fn(st)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.cancelled++
	}, nil
}

func (m *mockSync) Reset(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
}

// emit pushes st to every watcher of its device.
func (m *mockSync) emit(st models.DeviceState) {
	m.mu.Lock()
	fns := append([]func(models.DeviceState){}, m.watchers[st.DeviceID]...)
	m.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

func (m *mockSync) watcherCount(deviceID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watchers[deviceID])
}

func (m *mockSync) cancelCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled
}

type mockConnection struct {
	state         models.ConnectionState
	connectErr    error
	connectCalls  int
	disconnectCnt int
}

func (m *mockConnection) Connect(ctx context.Context) error {
	m.connectCalls++
	if m.connectErr == nil {
		m.state.Mode = models.ModeConnectedPush
	}
	return m.connectErr
}

func (m *mockConnection) Disconnect(ctx context.Context) {
	m.disconnectCnt++
	m.state.Mode = models.ModeDisconnected
}

func (m *mockConnection) State(ctx context.Context) models.ConnectionState {
	return m.state
}

type mockEventLog struct {
	resp  []models.SyncEvent
	err   error
	calls int
	last  service.EventFilter
}

func (m *mockEventLog) List(ctx context.Context, f service.EventFilter) ([]models.SyncEvent, error) {
	m.calls++
	m.last = f
	return m.resp, m.err
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	h := NewHandler(s, nil)
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}
