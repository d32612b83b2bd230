package subscriber

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aquaflow/sensorhub/internal/sensor"
	"github.com/aquaflow/sensorhub/internal/ws"
)

var (
	ErrNoData        = errors.New("no sensor data available yet")
	ErrAlreadyClosed = errors.New("subscription closed")
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultRetryDelay     = 3 * time.Second
	defaultMaxRetries     = 5
	defaultEventBuffer    = 32
	defaultDedupSize      = 256
)

// Options tune the reconnect machine. Zero values take the defaults
// above; tests shrink the timings.
type Options struct {
	ConnectTimeout time.Duration
	RetryDelay     time.Duration
	MaxRetries     int
	EventBuffer    int
}

func (o *Options) fill() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultRetryDelay
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = defaultEventBuffer
	}
}

// Client is the dashboard-side counterpart of the ingestion service.
// It keeps a live subscription open across transient failures with a
// fixed-delay, bounded-retry reconnect machine, and exposes the REST
// read/write paths independently of subscription state.
type Client struct {
	apiBaseURL string
	wsURL      string
	httpc      *http.Client
	dialer     *websocket.Dialer
	opts       Options

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	attempts   int
	manual     bool
	retryTimer *time.Timer

	events chan Event

	// Readings replayed as "initial" after a reconnect carry ids the
	// consumer has already seen; the cache suppresses the duplicates.
	seen *lru.Cache[string, struct{}]
}

func New(apiBaseURL, wsURL string, opts Options) *Client {
	opts.fill()
	seen, _ := lru.New[string, struct{}](defaultDedupSize)

	return &Client{
		apiBaseURL: apiBaseURL,
		wsURL:      wsURL,
		httpc:      &http.Client{Timeout: 10 * time.Second},
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.ConnectTimeout,
		},
		opts:   opts,
		state:  StateDisconnected,
		events: make(chan Event, opts.EventBuffer),
		seen:   seen,
	}
}

// Events delivers life-cycle and update notifications. A consumer that
// stops draining loses events rather than blocking the subscription.
func (c *Client) Events() <-chan Event {
	return c.events
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the live subscription. It returns once the connection
// is open, or with an error after the connect timeout. Calling it from
// the FAILED state resets the retry budget and resumes the machine.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.attempts = 0
	c.manual = false
	c.mu.Unlock()

	err := c.dial(ctx)
	if err != nil {
		// A failed initial connect feeds the same retry machine as a
		// dropped connection.
		c.mu.Lock()
		c.state = StateDisconnected
		c.scheduleReconnectLocked()
		c.mu.Unlock()
	}
	return err
}

func (c *Client) dial(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	conn, resp, err := c.dialer.DialContext(dialCtx, c.wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("websocket connect: %w", err)
	}

	c.mu.Lock()
	if c.manual {
		// Disconnect raced the dial; drop the fresh connection.
		c.mu.Unlock()
		conn.Close()
		return ErrAlreadyClosed
	}
	c.conn = conn
	c.state = StateConnected
	c.attempts = 0
	c.mu.Unlock()

	c.emit(Event{Type: EventConnected})
	go c.readLoop(conn)
	return nil
}

// readLoop consumes messages until the connection drops, then routes
// the close through the reconnect machine.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var msg ws.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Printf("Subscriber: bad message: %v", err)
			continue
		}

		switch msg.Type {
		case ws.MessageInitial, ws.MessageUpdate:
			if _, dup := c.seen.Get(msg.Reading.ID); dup {
				continue
			}
			c.seen.Add(msg.Reading.ID, struct{}{})
			reading := msg.Reading
			c.emit(Event{Type: EventUpdate, Reading: &reading})
		default:
			log.Printf("Subscriber: unknown message type %q", msg.Type)
		}
	}

	conn.Close()

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	wasManual := c.manual
	c.state = StateDisconnected
	c.mu.Unlock()

	c.emit(Event{Type: EventDisconnected})

	if !wasManual {
		c.mu.Lock()
		c.scheduleReconnectLocked()
		c.mu.Unlock()
	}
}

// scheduleReconnectLocked arms the retry timer, or transitions to the
// terminal FAILED state once the budget is spent. Caller holds c.mu.
func (c *Client) scheduleReconnectLocked() {
	if c.state == StateFailed || c.manual {
		return
	}
	if c.attempts >= c.opts.MaxRetries {
		c.state = StateFailed
		log.Printf("Subscriber: max reconnection attempts (%d) reached", c.opts.MaxRetries)
		c.emit(Event{Type: EventError, Err: fmt.Errorf("max reconnection attempts (%d) reached", c.opts.MaxRetries)})
		return
	}

	c.attempts++
	attempt := c.attempts
	log.Printf("Subscriber: reconnect attempt %d/%d in %v", attempt, c.opts.MaxRetries, c.opts.RetryDelay)

	c.retryTimer = time.AfterFunc(c.opts.RetryDelay, func() {
		c.mu.Lock()
		if c.manual || c.state != StateDisconnected {
			c.mu.Unlock()
			return
		}
		c.state = StateConnecting
		c.mu.Unlock()

		if err := c.dial(context.Background()); err != nil {
			log.Printf("Subscriber: reconnect failed: %v", err)
			c.mu.Lock()
			if c.state == StateConnecting {
				c.state = StateDisconnected
			}
			c.scheduleReconnectLocked()
			c.mu.Unlock()
		}
	})
}

// Disconnect closes the subscription deliberately and suppresses the
// automatic reconnect for this close.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.manual = true
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	conn := c.conn
	if conn == nil {
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
}

func (c *Client) emit(evt Event) {
	select {
	case c.events <- evt:
	default:
		log.Printf("Subscriber: event buffer full, dropping %s event", evt.Type)
	}
}

// --- REST paths (usable regardless of subscription state) ---

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBaseURL+path, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody struct {
			Code  string `json:"code"`
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			return resp.StatusCode, fmt.Errorf("server error: status=%d code=%s: %s", resp.StatusCode, errBody.Code, errBody.Error)
		}
		return resp.StatusCode, fmt.Errorf("server error: status=%d", resp.StatusCode)
	}

	if out != nil {
		return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode, nil
}

// GetLatest fetches the most recent accepted reading. Returns ErrNoData
// when the service holds no readings.
func (c *Client) GetLatest(ctx context.Context) (*sensor.Reading, error) {
	var resp struct {
		Reading sensor.Reading `json:"reading"`
	}
	status, err := c.do(ctx, http.MethodGet, "/api/v1/sensors/latest", nil, &resp)
	if status == http.StatusNotFound {
		return nil, ErrNoData
	}
	if err != nil {
		return nil, err
	}
	return &resp.Reading, nil
}

// GetReadings fetches the last limit readings, newest first.
func (c *Client) GetReadings(ctx context.Context, limit int) ([]sensor.Reading, error) {
	var resp struct {
		Count    int              `json:"count"`
		Readings []sensor.Reading `json:"readings"`
	}
	path := "/api/v1/sensors"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	if _, err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Readings, nil
}

// GetStatus fetches the ingestion runtime status.
func (c *Client) GetStatus(ctx context.Context) (*sensor.Status, error) {
	var status sensor.Status
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/sensors/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// SubmitReading pushes a manual reading through the write path and
// returns the accepted reading with the predicted next pH.
func (c *Client) SubmitReading(ctx context.Context, ph, turbidity float64) (*sensor.AcceptResult, error) {
	body := map[string]float64{"ph": ph, "turbidity": turbidity}
	var result sensor.AcceptResult
	if _, err := c.do(ctx, http.MethodPost, "/api/v1/sensors", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
