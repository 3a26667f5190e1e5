package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"devicesync/internal/logger"
	"devicesync/internal/models"
	"devicesync/internal/remote"

	"github.com/gorilla/websocket"
)

var errNotConfigured = errors.New("home assistant not configured")

const (
	defaultHTTPTimeout = 10 * time.Second
	maxErrorBody       = 512
)

// Client talks to the Home Assistant REST and WebSocket APIs.
type Client struct {
	url        string
	token      string
	httpClient *http.Client
	dialer     *websocket.Dialer
	log        *logger.Logger
}

func NewClient(baseURL, token string, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		url:        strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		dialer:     &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		log:        log,
	}
}

func (c *Client) IsConfigured() bool {
	return c.url != "" && c.token != ""
}

// haState is the subset of a Home Assistant state object we consume.
type haState struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// ReadState implements remote.Backend.
func (c *Client) ReadState(ctx context.Context, entityID string) (models.RemoteState, error) {
	if !c.IsConfigured() {
		return models.RemoteState{}, remote.AsClientError(errNotConfigured)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/api/states/"+url.PathEscape(entityID), nil)
	if err != nil {
		return models.RemoteState{}, remote.AsClientError(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.RemoteState{}, err
	}
	defer resp.Body.Close()

	if err := remote.StatusError(resp.StatusCode, readErrorBody(resp.Body)); err != nil {
		return models.RemoteState{}, fmt.Errorf("read %s: %w", entityID, err)
	}

	var st haState
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return models.RemoteState{}, fmt.Errorf("decode state %s: %w", entityID, err)
	}
	return toRemoteState(st)
}

// WriteState implements remote.Backend.
func (c *Client) WriteState(ctx context.Context, entityID string, value float64) (models.RemoteState, error) {
	if !c.IsConfigured() {
		return models.RemoteState{}, remote.AsClientError(errNotConfigured)
	}
	call, err := serviceFor(entityID, value)
	if err != nil {
		return models.RemoteState{}, err
	}

	body, err := json.Marshal(call.payload)
	if err != nil {
		return models.RemoteState{}, remote.AsClientError(err)
	}
	endpoint := fmt.Sprintf("%s/api/services/%s/%s", c.url, call.domain, call.service)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(body))
	if err != nil {
		return models.RemoteState{}, remote.AsClientError(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.RemoteState{}, err
	}
	defer resp.Body.Close()

	if err := remote.StatusError(resp.StatusCode, readErrorBody(resp.Body)); err != nil {
		return models.RemoteState{}, fmt.Errorf("write %s: %w", entityID, err)
	}

	// The service call answers with the states it changed; an entity
	// already at the requested value is absent from the list.
	var changed []haState
	if err := json.NewDecoder(resp.Body).Decode(&changed); err == nil {
		for _, st := range changed {
			if st.EntityID == entityID {
				if rs, err := toRemoteState(st); err == nil {
					return rs, nil
				}
			}
		}
	}
	return models.RemoteState{EntityID: entityID, Value: value, ReceivedAt: time.Now().UTC()}, nil
}

// Subscribe implements remote.Backend.
func (c *Client) Subscribe(ctx context.Context) (remote.Stream, error) {
	if !c.IsConfigured() {
		return nil, remote.AsClientError(errNotConfigured)
	}
	wsURL, err := websocketURL(c.url)
	if err != nil {
		return nil, remote.AsClientError(err)
	}
	conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	s, err := openStream(ctx, conn, c.token, c.log)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func websocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/websocket"
	return u.String(), nil
}

func readErrorBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(b))
}
