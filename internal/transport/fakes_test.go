package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"devicesync/internal/config"
	"devicesync/internal/executor"
	"devicesync/internal/mapping"
	"devicesync/internal/models"
	"devicesync/internal/remote"
)

type fakeStream struct {
	updates chan models.RemoteState
	done    chan struct{}

	mu      sync.Mutex
	watched map[string]bool
	err     error
	closed  bool
	once    sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		updates: make(chan models.RemoteState, 16),
		done:    make(chan struct{}),
		watched: make(map[string]bool),
	}
}

func (s *fakeStream) Updates() <-chan models.RemoteState { return s.updates }
func (s *fakeStream) Done() <-chan struct{}              { return s.done }

func (s *fakeStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeStream) Watch(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.watched[id] = true
	}
}

func (s *fakeStream) Unwatch(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.watched, id)
	}
}

func (s *fakeStream) isWatched(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watched[id]
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeStream) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})
	return nil
}

// drop simulates the backend closing the push channel.
func (s *fakeStream) drop() {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = remote.ErrStreamClosed
		s.mu.Unlock()
		close(s.done)
	})
}

type fakeBackend struct {
	mu        sync.Mutex
	subscribe func(n int) (remote.Stream, error)
	subCalls  int
	streams   []*fakeStream
	values    map[string]float64
	readCalls int
	readGate  chan struct{}
}

func (b *fakeBackend) ReadState(ctx context.Context, entityID string) (models.RemoteState, error) {
	b.mu.Lock()
	b.readCalls++
	gate := b.readGate
	v, ok := b.values[entityID]
	b.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return models.RemoteState{}, ctx.Err()
		}
	}
	if !ok {
		return models.RemoteState{}, remote.NewClientError(404, "unknown entity")
	}
	return models.RemoteState{EntityID: entityID, Value: v}, nil
}

func (b *fakeBackend) WriteState(_ context.Context, entityID string, value float64) (models.RemoteState, error) {
	return models.RemoteState{EntityID: entityID, Value: value}, nil
}

func (b *fakeBackend) Subscribe(context.Context) (remote.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subCalls++
	if b.subscribe != nil {
		st, err := b.subscribe(b.subCalls)
		if fs, ok := st.(*fakeStream); ok && err == nil {
			b.streams = append(b.streams, fs)
		}
		return st, err
	}
	fs := newFakeStream()
	b.streams = append(b.streams, fs)
	return fs, nil
}

func (b *fakeBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subCalls
}

func (b *fakeBackend) reads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readCalls
}

func (b *fakeBackend) lastStream() *fakeStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.streams) == 0 {
		return nil
	}
	return b.streams[len(b.streams)-1]
}

var errDial = errors.New("dial tcp: connection refused")

type sinkRecorder struct {
	mu     sync.Mutex
	values map[string][]float64
	accept bool
}

func newSinkRecorder(accept bool) *sinkRecorder {
	return &sinkRecorder{values: make(map[string][]float64), accept: accept}
}

func (r *sinkRecorder) sink(deviceID string, v float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[deviceID] = append(r.values[deviceID], v)
	return r.accept
}

func (r *sinkRecorder) got(deviceID string) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.values[deviceID]...)
}

func testMapping() *mapping.Mapping {
	m, err := mapping.New([]config.DeviceConfig{
		{ID: "lamp", EntityID: "light.lamp", FromRemote: "x / 2"},
		{ID: "fan", EntityID: "fan.ceiling"},
	})
	if err != nil {
		panic(err)
	}
	return m
}

func testExecutor() *executor.Executor {
	return executor.New(executor.Config{MaxAttempts: 1, BaseDelay: time.Millisecond}, nil)
}

func newTestSupervisor(cfg Config, b *fakeBackend, sink Sink) *Supervisor {
	if cfg.PollingInterval == 0 {
		cfg.PollingInterval = 10 * time.Millisecond
	}
	if cfg.ReconnectBaseDelay == 0 {
		cfg.ReconnectBaseDelay = time.Millisecond
	}
	if cfg.ReconnectMaxDelay == 0 {
		cfg.ReconnectMaxDelay = 10 * time.Millisecond
	}
	return NewSupervisor(cfg, b, testExecutor(), testMapping(), sink, nil)
}
