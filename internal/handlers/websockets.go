package handlers

import (
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"devicesync/internal/models"
	"devicesync/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Send/receive timing configuration and message size limits.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 1 << 12 // 4 KB
	maxDevices = 64

	errDevicesRequired = "query parameter 'devices' is required"
	errTooManyDevices  = "too many devices"
)

// Envelope used for WebSocket messages.
type wsEnvelope struct {
	Type  string      `json:"type"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// stateBox keeps the latest undelivered state per device so that slow
// clients never block the synchronization core.
type stateBox struct {
	mu     sync.Mutex
	latest map[string]models.DeviceState
	notify chan struct{}
}

func newStateBox() *stateBox {
	return &stateBox{
		latest: make(map[string]models.DeviceState),
		notify: make(chan struct{}, 1),
	}
}

func (b *stateBox) put(st models.DeviceState) {
	b.mu.Lock()
	b.latest[st.DeviceID] = st
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// drain returns the pending states ordered by device id.
func (b *stateBox) drain() []models.DeviceState {
	b.mu.Lock()
	out := make([]models.DeviceState, 0, len(b.latest))
	for _, st := range b.latest {
		out = append(out, st)
	}
	b.latest = make(map[string]models.DeviceState)
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// @Summary      Device state stream
// @Description  WebSocket. Watches the listed devices for the lifetime of the socket, sends their current state, then every change as {"type":"state","data":DeviceState}.
// @Tags         devices
// @Param        devices  query  string  true  "Comma-separated device ids"  example(lamp,fan)
// @Router       /ws [get]
func (h *Handler) wsConnect(c *gin.Context) {
	ids, err := parseDevices(c.Query("devices"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.log != nil {
			h.log.Errorw("ws_upgrade_failed", "err", err)
		}
		return
	}
	defer func() { _ = conn.Close() }()

	// Configure read limits and pong handler to extend read deadline.
	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx := c.Request.Context()
	box := newStateBox()
	for _, id := range ids {
		cancel, err := h.services.Sync.Watch(ctx, id, box.put)
		if err != nil {
			msg := err.Error()
			if errors.Is(err, service.ErrUnknownDevice) {
				msg = errUnknownDevice + ": " + id
			}
			if h.log != nil {
				h.log.Infow("ws_watch_failed", "device_id", id, "err", err)
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteJSON(wsEnvelope{Type: "error", Error: msg})
			return
		}
		defer cancel()
	}

	// Reader goroutine to handle control frames and detect disconnects.
	done := make(chan struct{})
	go h.startReader(conn, done)

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if h.log != nil {
					h.log.Infow("ws_ping_failed", "err", err)
				}
				return
			}
		case <-box.notify:
			for _, st := range box.drain() {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(wsEnvelope{Type: "state", Data: st}); err != nil {
					if h.log != nil {
						h.log.Infow("ws_write_failed", "err", err)
					}
					return
				}
			}
		}
	}
}

// parseDevices splits ?devices=a,b into unique trimmed ids.
func parseDevices(raw string) ([]string, error) {
	seen := make(map[string]struct{})
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		id := strings.TrimSpace(part)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, errors.New(errDevicesRequired)
	}
	if len(ids) > maxDevices {
		return nil, errors.New(errTooManyDevices)
	}
	return ids, nil
}

// startReader drains incoming messages to handle control frames and detect closure.
func (h *Handler) startReader(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if h.log != nil {
				h.log.Infow("ws_read_closed", "err", err)
			}
			return
		}
	}
}
