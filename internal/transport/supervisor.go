// Package transport keeps exactly one inbound transport alive per logical
// connection: a push subscription, or a polling loop when push is unavailable
// or reconnecting. It drives reconnection with capped exponential backoff and
// fans inbound values out through a reference-counted registry.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"devicesync/internal/config"
	"devicesync/internal/executor"
	"devicesync/internal/logger"
	"devicesync/internal/models"
	"devicesync/internal/remote"
)

var (
	ErrAlreadyConnected   = errors.New("transport already connected")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrConnectAborted     = errors.New("connect aborted by disconnect")
)

// State is the supervisor lifecycle.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	default:
		return "UNKNOWN"
	}
}

// Executor is the retrying call path used for polling reads.
type Executor interface {
	Execute(ctx context.Context, name string, op executor.Operation) error
}

// Resolver maps devices to backend entities and values to the device scale.
type Resolver interface {
	Entity(deviceID string) (string, error)
	Device(entityID string) (string, bool)
	FromRemote(deviceID string, x float64) (float64, error)
}

// Sink receives every inbound value once and reports whether it was applied.
type Sink func(deviceID string, value float64) bool

type Config struct {
	Mode                 string
	PollingInterval      time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int
}

// ConfigFrom extracts the supervisor tunables from the service configuration.
func ConfigFrom(c config.TransportConfig) Config {
	return Config{
		Mode:                 c.Mode,
		PollingInterval:      c.PollingInterval,
		ReconnectBaseDelay:   c.ReconnectBaseDelay,
		ReconnectMaxDelay:    c.ReconnectMaxDelay,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
	}
}

type Supervisor struct {
	cfg      Config
	backend  remote.Backend
	exec     Executor
	resolver Resolver
	sink     Sink
	log      *logger.Logger

	registry *Registry
	poller   *Poller

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	mode    models.ConnectionMode
	attempt int
	lastErr error
	stream  remote.Stream
	timer   *time.Timer
	gen     uint64

	onStateChange  func(oldState, newState State)
	onReconnecting func(attempt int, delay time.Duration)
	onError        func(err error)
}

func NewSupervisor(cfg Config, backend remote.Backend, exec Executor, resolver Resolver, sink Sink, log *logger.Logger) *Supervisor {
	if cfg.Mode == "" {
		cfg.Mode = config.TransportAuto
	}
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = config.DefaultPollingInterval
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = config.DefaultReconnectBaseDelay
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = config.DefaultReconnectMaxDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = config.DefaultMaxReconnectAttempts
	}
	if log == nil {
		log = logger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		cfg:      cfg,
		backend:  backend,
		exec:     exec,
		resolver: resolver,
		sink:     sink,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		state:    StateDisconnected,
		mode:     models.ModeDisconnected,
	}
	s.registry = NewRegistry(s.watch, s.unwatch)
	s.poller = NewPoller(cfg.PollingInterval, s.registry.Devices, s.readDevice, s.pollDelivered, log)
	return s
}

// OnStateChange sets a callback for lifecycle transitions.
func (s *Supervisor) OnStateChange(fn func(oldState, newState State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateChange = fn
}

// OnReconnecting sets a callback invoked whenever a reconnect attempt is
// scheduled; attempt is 1-based.
func (s *Supervisor) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReconnecting = fn
}

// OnError sets a callback for the terminal error raised when reconnection
// gives up.
func (s *Supervisor) OnError(fn func(err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

// Subscribe registers h for updates of deviceID. The first subscriber of a
// device starts watching it on the backend; the last cancel stops it.
func (s *Supervisor) Subscribe(deviceID string, h Handler) func() {
	return s.registry.Subscribe(deviceID, h)
}

// Subscribers returns the number of live subscriptions for deviceID.
func (s *Supervisor) Subscribers(deviceID string) int {
	return s.registry.Count(deviceID)
}

func (s *Supervisor) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// State returns the process-wide connection snapshot.
func (s *Supervisor) State() models.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs := models.ConnectionState{Mode: s.mode, ReconnectAttempt: s.attempt}
	if s.lastErr != nil {
		cs.LastError = s.lastErr.Error()
	}
	return cs
}

// Connect establishes the transport. A failure leaves the supervisor
// Disconnected and is returned without any automatic retry.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.gen++
	gen := s.gen
	s.setLocked(StateConnecting, models.ModeConnecting)
	s.mu.Unlock()
	s.fireState(StateDisconnected, StateConnecting)

	if s.cfg.Mode == config.TransportPoll {
		return s.connectPoll(gen)
	}

	stream, err := s.backend.Subscribe(ctx)
	if errors.Is(err, remote.ErrPushUnsupported) && s.cfg.Mode == config.TransportAuto {
		s.log.Infow("push_unsupported_fallback_poll")
		return s.connectPoll(gen)
	}
	if err != nil {
		s.mu.Lock()
		if s.gen == gen {
			s.lastErr = err
			s.setLocked(StateDisconnected, models.ModeDisconnected)
		}
		s.mu.Unlock()
		s.fireState(StateConnecting, StateDisconnected)
		s.log.Errorw("transport_connect_failed", "err", err)
		return fmt.Errorf("connect: %w", err)
	}
	if !s.attach(gen, stream) {
		_ = stream.Close()
		return ErrConnectAborted
	}
	s.fireState(StateConnecting, StateConnected)
	s.log.Infow("transport_connected", "mode", models.ModeConnectedPush)
	return nil
}

func (s *Supervisor) connectPoll(gen uint64) error {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return ErrConnectAborted
	}
	s.attempt = 0
	s.lastErr = nil
	s.setLocked(StateConnected, models.ModeConnectedPoll)
	s.mu.Unlock()

	s.poller.Start(s.ctx)
	s.fireState(StateConnecting, StateConnected)
	s.log.Infow("transport_connected", "mode", models.ModeConnectedPoll)
	return nil
}

// attach installs a live stream and starts pumping it. Returns false if the
// connection generation moved on meanwhile.
func (s *Supervisor) attach(gen uint64, stream remote.Stream) bool {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return false
	}
	s.stream = stream
	s.attempt = 0
	s.lastErr = nil
	s.setLocked(StateConnected, models.ModeConnectedPush)
	s.mu.Unlock()

	s.poller.Stop()
	for _, id := range s.registry.Devices() {
		s.watchOn(stream, id)
	}
	go s.pump(stream)
	return true
}

// Disconnect tears down the stream, the poller and any scheduled reconnect.
// In-flight executor calls are left to finish on their own.
func (s *Supervisor) Disconnect() {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	old := s.state
	s.gen++
	stream := s.stream
	s.stream = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.attempt = 0
	s.lastErr = nil
	s.setLocked(StateDisconnected, models.ModeDisconnected)
	s.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	s.poller.Stop()
	s.fireState(old, StateDisconnected)
	s.log.Infow("transport_disconnected")
}

// Close disconnects and releases the supervisor for good.
func (s *Supervisor) Close() {
	s.Disconnect()
	s.cancel()
}

func (s *Supervisor) pump(stream remote.Stream) {
	updates := stream.Updates()
	for {
		select {
		case rs, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			s.dispatch(rs)
		case <-stream.Done():
			s.drain(updates)
			s.connectionLost(stream)
			return
		}
	}
}

// drain dispatches values the stream buffered before it closed.
func (s *Supervisor) drain(updates <-chan models.RemoteState) {
	if updates == nil {
		return
	}
	for {
		select {
		case rs, ok := <-updates:
			if !ok {
				return
			}
			s.dispatch(rs)
		default:
			return
		}
	}
}

func (s *Supervisor) connectionLost(stream remote.Stream) {
	s.mu.Lock()
	if s.stream != stream || s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	s.stream = nil
	s.attempt = 0
	s.lastErr = stream.Err()
	mode := models.ModeConnecting
	if s.cfg.Mode == config.TransportAuto {
		mode = models.ModeConnectedPoll
	}
	s.setLocked(StateReconnecting, mode)
	if mode == models.ModeConnectedPoll {
		s.poller.Start(s.ctx)
	}
	gen := s.gen
	s.mu.Unlock()

	s.log.Warnw("transport_connection_lost", "err", stream.Err())
	s.fireState(StateConnected, StateReconnecting)
	s.schedule(gen, 0)
}

// schedule reports the upcoming attempt and then arms its timer, unless the
// connection generation moved on in between. failures is the number of
// consecutive failed attempts so far.
func (s *Supervisor) schedule(gen uint64, failures int) {
	delay := ReconnectDelay(failures, s.cfg.ReconnectBaseDelay, s.cfg.ReconnectMaxDelay)
	s.fireReconnecting(failures+1, delay)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.state != StateReconnecting {
		return
	}
	s.timer = time.AfterFunc(delay, func() { s.reconnect(gen) })
}

func (s *Supervisor) reconnect(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.state != StateReconnecting {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()

	stream, err := s.backend.Subscribe(s.ctx)
	if err == nil {
		if s.attach(gen, stream) {
			s.fireState(StateReconnecting, StateConnected)
			s.log.Infow("transport_reconnected")
		} else {
			_ = stream.Close()
		}
		return
	}

	s.mu.Lock()
	if s.gen != gen || s.state != StateReconnecting {
		s.mu.Unlock()
		return
	}
	s.attempt++
	s.lastErr = err
	failures := s.attempt
	if failures >= s.cfg.MaxReconnectAttempts {
		s.gen++
		s.setLocked(StateDisconnected, models.ModeDisconnected)
		s.mu.Unlock()

		s.poller.Stop()
		terminal := fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, failures, err)
		s.log.Errorw("transport_reconnect_exhausted", "attempts", failures, "err", err)
		s.fireState(StateReconnecting, StateDisconnected)
		s.fireError(terminal)
		return
	}
	s.mu.Unlock()

	s.log.Warnw("transport_reconnect_failed", "attempt", failures, "err", err)
	s.schedule(gen, failures)
}

func (s *Supervisor) dispatch(rs models.RemoteState) {
	id, ok := s.resolver.Device(rs.EntityID)
	if !ok {
		s.log.Debugw("inbound_unmapped_entity", "entity_id", rs.EntityID)
		return
	}
	v, err := s.resolver.FromRemote(id, rs.Value)
	if err != nil {
		s.log.Warnw("inbound_conversion_failed", "device_id", id, "err", err)
		return
	}
	s.deliver(id, v, OriginPush)
}

func (s *Supervisor) pollDelivered(deviceID string, value float64) {
	s.deliver(deviceID, value, OriginPoll)
}

func (s *Supervisor) deliver(deviceID string, value float64, origin Origin) {
	applied := s.sink(deviceID, value)
	s.registry.Publish(Update{DeviceID: deviceID, Value: value, Applied: applied, Origin: origin})
}

// readDevice is the poll read: entity lookup, executor-wrapped ReadState,
// conversion to the device scale.
func (s *Supervisor) readDevice(ctx context.Context, deviceID string) (float64, error) {
	entity, err := s.resolver.Entity(deviceID)
	if err != nil {
		return 0, err
	}
	var rs models.RemoteState
	err = s.exec.Execute(ctx, "read_state "+deviceID, func(ctx context.Context) error {
		var err error
		rs, err = s.backend.ReadState(ctx, entity)
		return err
	})
	if err != nil {
		return 0, err
	}
	return s.resolver.FromRemote(deviceID, rs.Value)
}

// watch and unwatch run under the registry lock and take the supervisor lock.
// The poll loop takes the registry lock, so Poller.Stop must never be called
// with the supervisor lock held.
func (s *Supervisor) watch(deviceID string) {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream != nil {
		s.watchOn(stream, deviceID)
	}
}

func (s *Supervisor) unwatch(deviceID string) {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return
	}
	if entity, err := s.resolver.Entity(deviceID); err == nil {
		stream.Unwatch(entity)
	}
}

func (s *Supervisor) watchOn(stream remote.Stream, deviceID string) {
	entity, err := s.resolver.Entity(deviceID)
	if err != nil {
		s.log.Warnw("watch_unmapped_device", "device_id", deviceID, "err", err)
		return
	}
	stream.Watch(entity)
}

func (s *Supervisor) setLocked(state State, mode models.ConnectionMode) {
	s.state = state
	s.mode = mode
}

func (s *Supervisor) fireState(oldState, newState State) {
	s.mu.Lock()
	fn := s.onStateChange
	s.mu.Unlock()
	if fn != nil && oldState != newState {
		fn(oldState, newState)
	}
}

func (s *Supervisor) fireReconnecting(attempt int, delay time.Duration) {
	s.mu.Lock()
	fn := s.onReconnecting
	s.mu.Unlock()
	if fn != nil {
		fn(attempt, delay)
	}
}

func (s *Supervisor) fireError(err error) {
	s.mu.Lock()
	fn := s.onError
	s.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}
