package obs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
)

const (
	// DefaultPort is the obs-websocket default listen port.
	DefaultPort = 4455

	maxMessageSize = 16 * 1024 * 1024 // screenshots arrive base64 encoded

	dialTimeout           = 10 * time.Second
	defaultRequestTimeout = 10 * time.Second
	defaultReconnectDelay = 5 * time.Second
	defaultMaxReconnects  = 10
)

var (
	ErrNotConnected     = errors.New("obs: not connected")
	ErrRequestTimeout   = errors.New("obs: request timed out")
	ErrPasswordRequired = errors.New("obs: server requires authentication but no password is configured")
	ErrIdentifyRejected = errors.New("obs: identify rejected")
)

// RequestError is a request the server processed and refused.
type RequestError struct {
	Code    int
	Comment string
}

func (e *RequestError) Error() string {
	if e.Comment == "" {
		return fmt.Sprintf("obs: request failed with code %d", e.Code)
	}

	return fmt.Sprintf("obs: request failed with code %d: %s", e.Code, e.Comment)
}

// State describes where the client currently is in its connection
// lifecycle. Reads are safe from any goroutine.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateReady
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	}

	return fmt.Sprintf("state(%d)", int32(s))
}

type callResult struct {
	data json.RawMessage
	err  error
}

// EventHandler receives a single protocol event. Handlers run on the
// read goroutine, a panicking handler is recovered and logged without
// affecting the connection.
type EventHandler func(eventType string, data json.RawMessage)

// Client is a obs-websocket 5.x client. Create one with NewClient, run
// the connection with Run and issue requests from any goroutine while
// the state is ready.
type Client struct {
	url        string
	password   string
	logger     zerolog.Logger
	httpClient *http.Client

	requestTimeout time.Duration
	reconnectDelay time.Duration
	maxReconnects  int

	state  atomic.Int32
	reqSeq atomic.Uint64

	writeMu sync.Mutex

	mu          sync.Mutex
	conn        *websocket.Conn
	pending     map[string]chan callResult
	handlers    map[string][]EventHandler
	anyHandlers []EventHandler
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger, zerolog.Nop is used otherwise.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets the HTTP client used for the websocket handshake.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithRequestTimeout overrides how long a single request may stay
// unanswered before it fails with ErrRequestTimeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.requestTimeout = d
	}
}

// WithReconnectPolicy overrides the delay between connection attempts
// and how many consecutive failures Run tolerates before giving up.
func WithReconnectPolicy(delay time.Duration, maxAttempts int) Option {
	return func(c *Client) {
		c.reconnectDelay = delay
		c.maxReconnects = maxAttempts
	}
}

// NewClient creates a client for the obs-websocket server at url,
// e.g. ws://localhost:4455. The password may be empty when the server
// has authentication disabled.
func NewClient(url, password string, opts ...Option) *Client {
	c := &Client{
		url:            url,
		password:       password,
		logger:         zerolog.Nop(),
		httpClient:     http.DefaultClient,
		requestTimeout: defaultRequestTimeout,
		reconnectDelay: defaultReconnectDelay,
		maxReconnects:  defaultMaxReconnects,
		pending:        map[string]chan callResult{},
		handlers:       map[string][]EventHandler{},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// IsReady reports whether requests can currently be issued.
func (c *Client) IsReady() bool {
	return c.State() == StateReady
}

func (c *Client) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		c.logger.Debug().Stringer("from", old).Stringer("to", s).Msg("connection state changed")
	}
}

// OnEvent registers a handler for one event type.
func (c *Client) OnEvent(eventType string, handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[eventType] = append(c.handlers[eventType], handler)
}

// OnAnyEvent registers a handler invoked for every event.
func (c *Client) OnAnyEvent(handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.anyHandlers = append(c.anyHandlers, handler)
}

// Run dials the server and serves the connection until ctx is
// canceled. Dropped connections are retried with a fixed delay, a
// successful identify resets the attempt counter. After maxReconnects
// consecutive failures Run settles in the disconnected state and
// returns the last error.
func (c *Client) Run(ctx context.Context) error {
	var attempts int

	for {
		if attempts == 0 {
			c.setState(StateConnecting)
		} else {
			c.setState(StateReconnecting)
		}

		served, err := c.connectOnce(ctx)

		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return ctx.Err()
		}

		if served {
			attempts = 0
		}

		attempts++
		c.logger.Warn().Err(err).Int("attempt", attempts).Int("max", c.maxReconnects).Msg("connection lost")

		if attempts >= c.maxReconnects {
			c.setState(StateDisconnected)
			return fmt.Errorf("giving up after %d attempts: %w", attempts, err)
		}

		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return ctx.Err()
		case <-time.After(c.reconnectDelay):
		}
	}
}

// connectOnce performs a single dial, identify and read cycle. The
// served result reports whether the connection reached the ready state
// before failing.
func (c *Client) connectOnce(ctx context.Context) (served bool, err error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{
		HTTPClient: c.httpClient,
	})
	cancel()
	if err != nil {
		return false, fmt.Errorf("failed to dial %s: %w", c.url, err)
	}

	defer conn.Close(websocket.StatusNormalClosure, "closing")
	conn.SetReadLimit(maxMessageSize)

	if err := c.identify(ctx, conn); err != nil {
		return false, err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer c.teardown()

	c.setState(StateReady)
	c.logger.Info().Str("url", c.url).Msg("connected to obs")

	return true, c.readLoop(ctx, conn)
}

// identify performs the Hello/Identify/Identified handshake.
func (c *Client) identify(ctx context.Context, conn *websocket.Conn) error {
	c.setState(StateAuthenticating)

	hctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	hello, err := readFrame(hctx, conn)
	if err != nil {
		return fmt.Errorf("failed to read hello: %w", err)
	}

	if hello.Op != OpHello {
		return fmt.Errorf("expected hello, got op %d", hello.Op)
	}

	var helloPayload helloData
	if err := json.Unmarshal(hello.D, &helloPayload); err != nil {
		return fmt.Errorf("failed to decode hello: %w", err)
	}

	identify := identifyData{RPCVersion: rpcVersion}
	if helloPayload.Authentication != nil {
		if c.password == "" {
			return ErrPasswordRequired
		}

		identify.Authentication = authToken(c.password, helloPayload.Authentication.Salt, helloPayload.Authentication.Challenge)
	}

	if err := c.writeFrame(hctx, conn, OpIdentify, identify); err != nil {
		return fmt.Errorf("failed to send identify: %w", err)
	}

	identified, err := readFrame(hctx, conn)
	if err != nil {
		// the server closes the socket instead of answering when the
		// authentication string is wrong
		return fmt.Errorf("%w: %s", ErrIdentifyRejected, err)
	}

	if identified.Op != OpIdentified {
		return fmt.Errorf("%w: expected identified, got op %d", ErrIdentifyRejected, identified.Op)
	}

	var identifiedPayload identifiedData
	if err := json.Unmarshal(identified.D, &identifiedPayload); err != nil {
		return fmt.Errorf("failed to decode identified: %w", err)
	}

	c.logger.Debug().Int("rpc_version", identifiedPayload.NegotiatedRPCVersion).Msg("identified with obs")

	return nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		frame, err := readFrame(ctx, conn)
		if err != nil {
			return fmt.Errorf("failed to read message: %w", err)
		}

		switch frame.Op {
		case OpEvent:
			var event eventData
			if err := json.Unmarshal(frame.D, &event); err != nil {
				c.logger.Error().Err(err).Msg("failed to decode event")
				continue
			}

			c.dispatchEvent(event)
		case OpRequestResponse:
			var resp requestResponseData
			if err := json.Unmarshal(frame.D, &resp); err != nil {
				c.logger.Error().Err(err).Msg("failed to decode request response")
				continue
			}

			c.resolve(resp)
		default:
			c.logger.Debug().Int("op", frame.Op).Msg("unhandled op code")
		}
	}
}

// teardown drops the connection reference and fails every request
// still waiting for an answer.
func (c *Client) teardown() {
	c.mu.Lock()
	c.conn = nil
	pending := c.pending
	c.pending = map[string]chan callResult{}
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- callResult{err: ErrNotConnected}
	}
}

// resolve delivers a response to the waiting caller. Each request id
// is answered at most once, late responses for ids already failed by a
// timeout are dropped.
func (c *Client) resolve(resp requestResponseData) {
	c.mu.Lock()
	ch, ok := c.pending[resp.RequestID]
	if ok {
		delete(c.pending, resp.RequestID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug().Str("request_id", resp.RequestID).Str("request_type", resp.RequestType).Msg("dropped response for unknown request")
		return
	}

	if !resp.RequestStatus.Result {
		ch <- callResult{err: &RequestError{Code: resp.RequestStatus.Code, Comment: resp.RequestStatus.Comment}}
		return
	}

	ch <- callResult{data: resp.ResponseData}
}

func (c *Client) dispatchEvent(event eventData) {
	c.mu.Lock()
	handlers := make([]EventHandler, 0, len(c.anyHandlers)+len(c.handlers[event.EventType]))
	handlers = append(handlers, c.anyHandlers...)
	handlers = append(handlers, c.handlers[event.EventType]...)
	c.mu.Unlock()

	for _, handler := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error().Any("panic", r).Str("event_type", event.EventType).Msg("recovered panic in event handler")
				}
			}()
			handler(event.EventType, event.EventData)
		}()
	}
}

// call issues a request and waits for the matching response. body may
// be nil for requests without a payload.
func (c *Client) call(ctx context.Context, requestType string, body any) (json.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || c.State() != StateReady {
		return nil, ErrNotConnected
	}

	req := requestData{
		RequestType: requestType,
		RequestID:   fmt.Sprintf("lobby-%d", c.reqSeq.Add(1)),
	}

	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request data: %w", err)
		}

		req.RequestData = raw
	}

	resultCh := make(chan callResult, 1)
	c.mu.Lock()
	c.pending[req.RequestID] = resultCh
	c.mu.Unlock()

	abandon := func() {
		c.mu.Lock()
		delete(c.pending, req.RequestID)
		c.mu.Unlock()
	}

	callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	if err := c.writeFrame(callCtx, conn, OpRequest, req); err != nil {
		abandon()
		return nil, fmt.Errorf("failed to send %s: %w", requestType, err)
	}

	select {
	case result := <-resultCh:
		if result.err != nil {
			return nil, result.err
		}

		return result.data, nil
	case <-callCtx.Done():
		abandon()

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, fmt.Errorf("%s: %w", requestType, ErrRequestTimeout)
	}
}

// callInto issues a request and decodes the response data into out.
func (c *Client) callInto(ctx context.Context, requestType string, body, out any) error {
	data, err := c.call(ctx, requestType, body)
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}

	if len(data) == 0 {
		return fmt.Errorf("%s: response carried no data", requestType)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", requestType, err)
	}

	return nil
}

func (c *Client) writeFrame(ctx context.Context, conn *websocket.Conn, op int, d any) error {
	frame, err := newFrame(op, d)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return conn.Write(ctx, websocket.MessageText, raw)
}

func readFrame(ctx context.Context, conn *websocket.Conn) (Frame, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return Frame{}, err
	}

	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Frame{}, fmt.Errorf("failed to decode frame: %w", err)
	}

	return frame, nil
}
