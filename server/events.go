package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/watari-ai/lobby/emotion"
	"github.com/watari-ai/lobby/live"
)

// subscriberBuffer is how many undelivered events a subscriber may
// accumulate before the hub gives up on it.
const subscriberBuffer = 16

const writeTimeout = 5 * time.Second

type eventMessage struct {
	Type         string      `json:"type"`
	ID           string      `json:"id"`
	Input        inputBody   `json:"input"`
	ResponseText string      `json:"response_text"`
	Emotion      emotionBody `json:"emotion"`
	AudioPath    string      `json:"audio_path"`
	At           time.Time   `json:"at"`
}

type inputBody struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Author string `json:"author"`
}

type emotionBody struct {
	Primary   string  `json:"primary"`
	Secondary string  `json:"secondary,omitempty"`
	Intensity float64 `json:"intensity"`
}

func emotionBodyFrom(res emotion.Result) emotionBody {
	return emotionBody{
		Primary:   string(res.Primary),
		Secondary: string(res.Secondary),
		Intensity: res.Intensity,
	}
}

func eventMessageFrom(out live.Output) eventMessage {
	return eventMessage{
		Type: "output",
		ID:   out.ID,
		Input: inputBody{
			Text:   out.Input.Text,
			Source: string(out.Input.Source),
			Author: out.Input.Author,
		},
		ResponseText: out.ResponseText,
		Emotion:      emotionBodyFrom(out.Emotion),
		AudioPath:    out.AudioPath,
		At:           out.At,
	}
}

// hub fans processed outputs out to every connected event feed.
type hub struct {
	logger zerolog.Logger

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	out chan []byte
}

func newHub(logger zerolog.Logger) *hub {
	return &hub{
		logger: logger,
		subs:   map[*subscriber]struct{}{},
	}
}

func (h *hub) add() *subscriber {
	sub := &subscriber{out: make(chan []byte, subscriberBuffer)}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	return sub
}

func (h *hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.out)
	}
}

func (h *hub) subscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// broadcastOutput runs on the pipeline consumer goroutine, so it never
// blocks. A subscriber whose buffer is full gets cut loose instead.
func (h *hub) broadcastOutput(out live.Output) {
	msg, err := json.Marshal(eventMessageFrom(out))
	if err != nil {
		h.logger.Err(err).Msg("could not marshal output event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		select {
		case sub.out <- msg:
		default:
			delete(h.subs, sub)
			close(sub.out)
			h.logger.Warn().Msg("dropping slow event feed subscriber")
		}
	}
}

// handleGetEvents upgrades to a WebSocket and pushes every processed
// output as JSON until the client goes away.
func (a *API) handleGetEvents() http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := a.getLoggerFrom(r.Context())

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			logger.Err(err).Msg("could not accept websocket")
			return
		}

		sub := a.hub.add()
		defer a.hub.remove(sub)

		// the feed is write only, CloseRead keeps control frames
		// flowing and cancels the context once the peer is gone
		ctx := conn.CloseRead(r.Context())

		for {
			select {
			case <-ctx.Done():
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return
			case msg, ok := <-sub.out:
				if !ok {
					_ = conn.Close(websocket.StatusPolicyViolation, "event feed lagged too far behind")
					return
				}

				if err := a.writeEvent(ctx, conn, msg); err != nil {
					logger.Debug().Err(err).Msg("event feed write failed")
					return
				}
			}
		}
	})
}

func (a *API) writeEvent(ctx context.Context, conn *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	return conn.Write(ctx, websocket.MessageText, msg)
}
