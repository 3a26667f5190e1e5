package homeassistant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"devicesync/internal/logger"
	"devicesync/internal/models"
	"devicesync/internal/remote"

	"github.com/gorilla/websocket"
)

// Send/receive timing configuration and message size limits.
const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxMsgSize       = 1 << 20
	updateBuffer     = 64

	subscribeID = 1
)

// wsMessage covers every frame of the Home Assistant WebSocket API we use.
type wsMessage struct {
	ID          int      `json:"id,omitempty"`
	Type        string   `json:"type"`
	AccessToken string   `json:"access_token,omitempty"`
	EventType   string   `json:"event_type,omitempty"`
	Success     *bool    `json:"success,omitempty"`
	Message     string   `json:"message,omitempty"`
	Error       *wsError `json:"error,omitempty"`
	Event       *wsEvent `json:"event,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wsEvent struct {
	EventType string `json:"event_type"`
	Data      struct {
		EntityID string   `json:"entity_id"`
		NewState *haState `json:"new_state"`
	} `json:"data"`
}

type stream struct {
	conn *websocket.Conn
	log  *logger.Logger

	updates chan models.RemoteState
	done    chan struct{}
	stop    chan struct{}

	mu      sync.Mutex
	watched map[string]struct{}
	err     error
	closed  bool

	writeMu sync.Mutex
	nextID  int

	closeOnce sync.Once
}

// openStream authenticates, subscribes to state_changed and starts the
// reader and keepalive goroutines.
func openStream(ctx context.Context, conn *websocket.Conn, token string, log *logger.Logger) (*stream, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(handshakeTimeout)
	}
	_ = conn.SetReadDeadline(deadline)
	conn.SetReadLimit(maxMsgSize)

	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return nil, fmt.Errorf("read auth_required: %w", err)
	}
	if msg.Type != "auth_required" {
		return nil, fmt.Errorf("unexpected handshake message %q", msg.Type)
	}
	if err := conn.WriteJSON(wsMessage{Type: "auth", AccessToken: token}); err != nil {
		return nil, fmt.Errorf("send auth: %w", err)
	}
	msg = wsMessage{}
	if err := conn.ReadJSON(&msg); err != nil {
		return nil, fmt.Errorf("read auth result: %w", err)
	}
	switch msg.Type {
	case "auth_ok":
	case "auth_invalid":
		return nil, remote.NewClientError(401, "auth_invalid: "+msg.Message)
	default:
		return nil, fmt.Errorf("unexpected auth result %q", msg.Type)
	}

	if err := conn.WriteJSON(wsMessage{ID: subscribeID, Type: "subscribe_events", EventType: "state_changed"}); err != nil {
		return nil, fmt.Errorf("send subscribe_events: %w", err)
	}
	msg = wsMessage{}
	if err := conn.ReadJSON(&msg); err != nil {
		return nil, fmt.Errorf("read subscribe result: %w", err)
	}
	if msg.Type != "result" || msg.Success == nil || !*msg.Success {
		reason := msg.Type
		if msg.Error != nil {
			reason = msg.Error.Code + ": " + msg.Error.Message
		}
		return nil, fmt.Errorf("subscribe_events rejected: %s", reason)
	}

	s := &stream{
		conn:    conn,
		log:     log,
		updates: make(chan models.RemoteState, updateBuffer),
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
		watched: make(map[string]struct{}),
		nextID:  subscribeID + 1,
	}
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	go s.readLoop()
	go s.pingLoop()
	return s, nil
}

func (s *stream) Updates() <-chan models.RemoteState { return s.updates }
func (s *stream) Done() <-chan struct{}              { return s.done }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stream) Watch(entityIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range entityIDs {
		s.watched[id] = struct{}{}
	}
}

func (s *stream) Unwatch(entityIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range entityIDs {
		delete(s.watched, id)
	}
}

func (s *stream) isWatched(entityID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.watched[entityID]
	return ok
}

// Close terminates the stream locally; Err stays nil.
func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.stop)
		err = s.conn.Close()
	})
	return err
}

func (s *stream) readLoop() {
	defer close(s.done)
	for {
		var msg wsMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			s.mu.Lock()
			if !s.closed {
				s.err = fmt.Errorf("%w: %v", remote.ErrStreamClosed, err)
			}
			s.mu.Unlock()
			_ = s.Close()
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		if msg.Type != "event" || msg.Event == nil || msg.Event.EventType != "state_changed" {
			continue
		}
		data := msg.Event.Data
		if data.NewState == nil || !s.isWatched(data.EntityID) {
			continue
		}
		rs, err := toRemoteState(*data.NewState)
		if err != nil {
			s.log.Debugw("ha_event_skipped", "entity_id", data.EntityID, "err", err)
			continue
		}
		select {
		case s.updates <- rs:
		case <-s.stop:
			return
		}
	}
}

func (s *stream) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.send(wsMessage{Type: "ping"}); err != nil {
				s.log.Infow("ha_ping_failed", "err", err)
				_ = s.conn.Close()
				return
			}
		}
	}
}

func (s *stream) send(msg wsMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	msg.ID = s.nextID
	s.nextID++
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(msg); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return remote.ErrStreamClosed
		}
		return err
	}
	return nil
}
