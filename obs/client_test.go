package obs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestStudio(t *testing.T, handler func(ws *websocket.Conn)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Logf("websocket accept error: %v", err)
			return
		}
		defer ws.Close(websocket.StatusNormalClosure, "")
		handler(ws)
	}))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func sendOp(ws *websocket.Conn, op int, d any) error {
	frame, err := newFrame(op, d)
	if err != nil {
		return err
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	return ws.Write(context.Background(), websocket.MessageText, data)
}

func recvOp(ws *websocket.Conn) (Frame, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return readFrame(ctx, ws)
}

// greet runs the server side of the handshake. With a password set the
// client's authentication string is checked and the socket closed on
// mismatch, like the real server does.
func greet(ws *websocket.Conn, password string) bool {
	hello := map[string]any{"obsWebSocketVersion": "5.5.2", "rpcVersion": 1}
	if password != "" {
		hello["authentication"] = map[string]string{
			"challenge": "test-challenge",
			"salt":      "test-salt",
		}
	}

	if err := sendOp(ws, OpHello, hello); err != nil {
		return false
	}

	frame, err := recvOp(ws)
	if err != nil || frame.Op != OpIdentify {
		return false
	}

	var identify identifyData
	if err := json.Unmarshal(frame.D, &identify); err != nil {
		return false
	}

	if password != "" && identify.Authentication != authToken(password, "test-salt", "test-challenge") {
		ws.Close(websocket.StatusProtocolError, "authentication failed")
		return false
	}

	return sendOp(ws, OpIdentified, identifiedData{NegotiatedRPCVersion: 1}) == nil
}

// serveRequests answers every incoming request with whatever respond
// returns until the connection drops.
func serveRequests(ws *websocket.Conn, respond func(req requestData) (any, requestStatus)) {
	for {
		frame, err := recvOp(ws)
		if err != nil {
			return
		}

		if frame.Op != OpRequest {
			continue
		}

		var req requestData
		if err := json.Unmarshal(frame.D, &req); err != nil {
			return
		}

		data, status := respond(req)
		resp := requestResponseData{
			RequestType:   req.RequestType,
			RequestID:     req.RequestID,
			RequestStatus: status,
		}

		if data != nil {
			raw, _ := json.Marshal(data)
			resp.ResponseData = raw
		}

		if err := sendOp(ws, OpRequestResponse, resp); err != nil {
			return
		}
	}
}

func waitReady(t *testing.T, client *Client) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if client.IsReady() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("client never became ready")
}

func TestClient_IdentifyAndReady(t *testing.T) {
	t.Parallel()

	server := newTestStudio(t, func(ws *websocket.Conn) {
		if !greet(ws, "") {
			return
		}
		<-time.After(time.Second)
	})

	client := NewClient(wsURL(server), "")
	require.Equal(t, StateDisconnected, client.State())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	waitReady(t, client)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for run to return")
	}

	require.Equal(t, StateDisconnected, client.State())
}

func TestClient_IdentifyWithPassword(t *testing.T) {
	t.Parallel()

	server := newTestStudio(t, func(ws *websocket.Conn) {
		if !greet(ws, "hunter2") {
			return
		}
		<-time.After(time.Second)
	})

	client := NewClient(wsURL(server), "hunter2")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go client.Run(ctx)

	// greet only answers Identified when the authentication string
	// checks out, so reaching ready proves the derivation
	waitReady(t, client)
}

func TestClient_WrongPasswordRejected(t *testing.T) {
	t.Parallel()

	server := newTestStudio(t, func(ws *websocket.Conn) {
		greet(ws, "correct")
	})

	client := NewClient(wsURL(server), "wrong", WithReconnectPolicy(time.Millisecond, 2))

	err := client.Run(context.Background())
	require.ErrorIs(t, err, ErrIdentifyRejected)
	require.Equal(t, StateDisconnected, client.State())
}

func TestClient_PasswordRequired(t *testing.T) {
	t.Parallel()

	server := newTestStudio(t, func(ws *websocket.Conn) {
		greet(ws, "secret")
	})

	client := NewClient(wsURL(server), "", WithReconnectPolicy(time.Millisecond, 2))

	err := client.Run(context.Background())
	require.ErrorIs(t, err, ErrPasswordRequired)
}

func TestClient_CallRoundTrip(t *testing.T) {
	t.Parallel()

	requestIDs := make(chan string, 1)

	server := newTestStudio(t, func(ws *websocket.Conn) {
		if !greet(ws, "") {
			return
		}

		serveRequests(ws, func(req requestData) (any, requestStatus) {
			requestIDs <- req.RequestID
			return map[string]string{"currentProgramSceneName": "Main"}, requestStatus{Result: true, Code: 100}
		})
	})

	client := NewClient(wsURL(server), "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go client.Run(ctx)
	waitReady(t, client)

	scene, err := client.GetCurrentProgramScene(ctx)
	require.NoError(t, err)
	require.Equal(t, "Main", scene)

	select {
	case id := <-requestIDs:
		require.True(t, strings.HasPrefix(id, "lobby-"), "unexpected request id %q", id)
	case <-time.After(time.Second):
		t.Fatal("server never saw the request")
	}
}

func TestClient_RequestErrorSurfaces(t *testing.T) {
	t.Parallel()

	server := newTestStudio(t, func(ws *websocket.Conn) {
		if !greet(ws, "") {
			return
		}

		serveRequests(ws, func(req requestData) (any, requestStatus) {
			return nil, requestStatus{Result: false, Code: 600, Comment: "No source was found by the name of `Nope`."}
		})
	})

	client := NewClient(wsURL(server), "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go client.Run(ctx)
	waitReady(t, client)

	err := client.SetCurrentProgramScene(ctx, "Nope")

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	require.Equal(t, 600, reqErr.Code)
	require.Contains(t, reqErr.Comment, "Nope")
}

func TestClient_RequestTimeoutAbandonsPending(t *testing.T) {
	t.Parallel()

	server := newTestStudio(t, func(ws *websocket.Conn) {
		if !greet(ws, "") {
			return
		}

		// swallow every request
		for {
			if _, err := recvOp(ws); err != nil {
				return
			}
		}
	})

	client := NewClient(wsURL(server), "", WithRequestTimeout(50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go client.Run(ctx)
	waitReady(t, client)

	_, err := client.GetVersion(ctx)
	require.ErrorIs(t, err, ErrRequestTimeout)

	client.mu.Lock()
	defer client.mu.Unlock()
	require.Empty(t, client.pending)
}

func TestClient_ManyCallsLeaveNoPending(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	seen := map[string]int{}

	server := newTestStudio(t, func(ws *websocket.Conn) {
		if !greet(ws, "") {
			return
		}

		serveRequests(ws, func(req requestData) (any, requestStatus) {
			mu.Lock()
			seen[req.RequestID]++
			mu.Unlock()
			return map[string]any{"obsVersion": "31.0.0", "rpcVersion": 1}, requestStatus{Result: true, Code: 100}
		})
	})

	client := NewClient(wsURL(server), "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go client.Run(ctx)
	waitReady(t, client)

	// 10k cycles, with a sprinkling of near-instant deadlines so both
	// resolution paths (response and abandon) run under contention.
	const workers, perWorker = 10, 1000

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if i%50 == 0 {
					hurried, expire := context.WithTimeout(ctx, time.Millisecond)
					_, _ = client.GetVersion(hurried)
					expire()
					continue
				}

				if _, err := client.GetVersion(ctx); err != nil {
					t.Errorf("call failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	for id, count := range seen {
		require.Equal(t, 1, count, "request id %s sent %d times", id, count)
	}
	mu.Unlock()

	client.mu.Lock()
	defer client.mu.Unlock()
	require.Empty(t, client.pending)
}

func TestClient_EventDispatch(t *testing.T) {
	t.Parallel()

	server := newTestStudio(t, func(ws *websocket.Conn) {
		if !greet(ws, "") {
			return
		}

		sendOp(ws, OpEvent, eventData{
			EventType: EventStreamStateChanged,
			EventData: json.RawMessage(`{"outputActive":true,"outputState":"OBS_WEBSOCKET_OUTPUT_STARTED"}`),
		})
		sendOp(ws, OpEvent, eventData{
			EventType: "SomethingNew",
			EventData: json.RawMessage(`{}`),
		})

		<-time.After(time.Second)
	})

	client := NewClient(wsURL(server), "")

	var anyCount atomic.Int32
	streamEvents := make(chan json.RawMessage, 1)

	// a panicking handler must not take down the connection or stop
	// later handlers from running
	client.OnAnyEvent(func(eventType string, data json.RawMessage) {
		panic("boom")
	})
	client.OnAnyEvent(func(eventType string, data json.RawMessage) {
		anyCount.Add(1)
	})
	client.OnEvent(EventStreamStateChanged, func(eventType string, data json.RawMessage) {
		streamEvents <- data
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go client.Run(ctx)
	waitReady(t, client)

	select {
	case data := <-streamEvents:
		var payload struct {
			OutputActive bool `json:"outputActive"`
		}
		require.NoError(t, json.Unmarshal(data, &payload))
		require.True(t, payload.OutputActive)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for stream event")
	}

	deadline := time.Now().Add(time.Second)
	for anyCount.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, int32(2), anyCount.Load())
	require.True(t, client.IsReady(), "connection should survive panicking handlers")
}

func TestClient_ReconnectExhaustionSettlesDisconnected(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		// no websocket upgrade, every dial fails
	}))
	t.Cleanup(server.Close)

	client := NewClient(wsURL(server), "", WithReconnectPolicy(5*time.Millisecond, 3))

	err := client.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, StateDisconnected, client.State())
	require.Equal(t, int32(3), hits.Load())
}

func TestClient_DroppedConnFailsPendingCalls(t *testing.T) {
	t.Parallel()

	server := newTestStudio(t, func(ws *websocket.Conn) {
		if !greet(ws, "") {
			return
		}

		// drop the connection once the first request arrives
		recvOp(ws)
		ws.Close(websocket.StatusGoingAway, "bye")
		<-time.After(time.Second)
	})

	client := NewClient(wsURL(server), "", WithReconnectPolicy(time.Hour, 10))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go client.Run(ctx)
	waitReady(t, client)

	start := time.Now()
	_, err := client.GetVersion(ctx)
	require.ErrorIs(t, err, ErrNotConnected)
	require.Less(t, time.Since(start), 2*time.Second, "pending call should fail on disconnect, not wait for the timeout")
}

func TestClient_CallBeforeConnect(t *testing.T) {
	t.Parallel()

	client := NewClient("ws://127.0.0.1:1", "")

	_, err := client.GetVersion(context.Background())
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestClient_StateString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "disconnected", StateDisconnected.String())
	require.Equal(t, "ready", StateReady.String())
	require.Equal(t, "reconnecting", StateReconnecting.String())
}

func TestRequestError_Error(t *testing.T) {
	t.Parallel()

	err := &RequestError{Code: 604, Comment: "not found"}
	require.Contains(t, err.Error(), "604")
	require.Contains(t, err.Error(), "not found")

	bare := &RequestError{Code: 100}
	require.Contains(t, bare.Error(), "100")

	var target *RequestError
	require.True(t, errors.As(err, &target))
}
