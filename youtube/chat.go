package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"

	"github.com/watari-ai/lobby/httputil"
)

const (
	// DefaultBaseURL is the Data API v3 endpoint.
	DefaultBaseURL = "https://www.googleapis.com/youtube/v3"

	// DefaultMaxResults is the page size for liveChat/messages.
	DefaultMaxResults = 200

	// minPollInterval is the documented lower bound for polling the
	// live chat endpoint. Server hints below it are clamped up.
	minPollInterval = 2 * time.Second

	// pagination hiccups can redeliver messages, remember seen ids
	// for a while to filter them out
	duplicateTTL = 15 * time.Minute

	// maxForbiddenPolls is how many consecutive 403 answers Run
	// tolerates before giving up on the key.
	maxForbiddenPolls = 3
)

var (
	ErrVideoNotFound = errors.New("youtube: video not found")
	ErrNotLive       = errors.New("youtube: video is not live or chat is disabled")
	ErrNotConnected  = errors.New("youtube: not connected, call Connect first")
	ErrChatEnded     = errors.New("youtube: live chat ended")
)

// Config holds the polling client settings.
type Config struct {
	APIKey       string
	BaseURL      string
	MaxResults   int
	PollInterval time.Duration
}

func (cfg Config) withDefaults() Config {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}

	if cfg.PollInterval < minPollInterval {
		cfg.PollInterval = minPollInterval
	}

	return cfg
}

// Chat polls the live chat of one video. Connect resolves the active
// live chat id, Run polls it at the interval the server suggests and
// feeds messages to the registered callbacks.
type Chat struct {
	cfg    Config
	client *http.Client
	logger zerolog.Logger

	duplicate *ttlcache.Cache[string, struct{}]

	mu           sync.Mutex
	onMessage    func(Message)
	onPaid       func(Message)
	onError      func(error)
	liveChatID   string
	pageToken    string
	pollInterval time.Duration
}

// NewChat creates a polling client. A nil httpClient falls back to
// http.DefaultClient.
func NewChat(cfg Config, httpClient *http.Client, logger zerolog.Logger) *Chat {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	cfg = cfg.withDefaults()

	return &Chat{
		cfg:          cfg,
		client:       httpClient,
		logger:       logger,
		pollInterval: cfg.PollInterval,
		duplicate: ttlcache.New[string, struct{}](
			ttlcache.WithTTL[string, struct{}](duplicateTTL),
		),
	}
}

// OnMessage registers the callback for plain text messages.
func (c *Chat) OnMessage(fn func(Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

// OnPaid registers the callback for super chats, super stickers and
// membership events.
func (c *Chat) OnPaid(fn func(Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPaid = fn
}

// OnError registers the callback for transient polling errors.
func (c *Chat) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// LiveChatID returns the resolved chat id, empty before Connect.
func (c *Chat) LiveChatID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveChatID
}

// Connect resolves the video id or url to its active live chat.
func (c *Chat) Connect(ctx context.Context, videoIDOrURL string) error {
	videoID, err := ExtractVideoID(videoIDOrURL)
	if err != nil {
		return err
	}

	params := url.Values{}
	params.Set("part", "liveStreamingDetails")
	params.Set("id", videoID)

	resp, err := getJSON[videoListResponse](ctx, c, "/videos", params)
	if err != nil {
		return err
	}

	if len(resp.Items) == 0 {
		return fmt.Errorf("%w: %s", ErrVideoNotFound, videoID)
	}

	chatID := resp.Items[0].LiveStreamingDetails.ActiveLiveChatID
	if chatID == "" {
		return fmt.Errorf("%w: %s", ErrNotLive, videoID)
	}

	c.mu.Lock()
	c.liveChatID = chatID
	c.pageToken = ""
	c.mu.Unlock()

	c.logger.Info().Str("video_id", videoID).Str("live_chat_id", chatID).Msg("connected to youtube live chat")

	return nil
}

// FetchOnce polls the chat a single time. It advances the page cursor,
// adopts the polling interval the server suggests and filters message
// ids seen before. When the chat has ended the messages of the final
// page are returned together with ErrChatEnded.
func (c *Chat) FetchOnce(ctx context.Context) ([]Message, error) {
	c.mu.Lock()
	chatID, pageToken := c.liveChatID, c.pageToken
	c.mu.Unlock()

	if chatID == "" {
		return nil, ErrNotConnected
	}

	params := url.Values{}
	params.Set("liveChatId", chatID)
	params.Set("part", "snippet,authorDetails")
	params.Set("maxResults", fmt.Sprintf("%d", c.cfg.MaxResults))

	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}

	resp, err := getJSON[liveChatMessagesResponse](ctx, c, "/liveChat/messages", params)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.pageToken = resp.NextPageToken
	if resp.PollingIntervalMillis > 0 {
		c.pollInterval = max(time.Duration(resp.PollingIntervalMillis)*time.Millisecond, minPollInterval)
	}
	c.mu.Unlock()

	messages := make([]Message, 0, len(resp.Items))
	for _, item := range resp.Items {
		if c.duplicate.Has(item.ID) {
			continue
		}

		c.duplicate.Set(item.ID, struct{}{}, ttlcache.DefaultTTL)
		messages = append(messages, messageFromItem(item))
	}

	if resp.OfflineAt != "" {
		return messages, ErrChatEnded
	}

	return messages, nil
}

// Run polls until ctx is canceled or the chat ends. Transient API
// errors are logged and reported to the error callback, polling keeps
// going. Three 403 answers in a row count as an exhausted quota or a
// revoked key and end the run.
func (c *Chat) Run(ctx context.Context) error {
	if c.LiveChatID() == "" {
		return ErrNotConnected
	}

	go c.duplicate.Start()
	defer c.duplicate.Stop()

	var forbidden int

	for {
		messages, err := c.FetchOnce(ctx)

		for _, msg := range messages {
			c.dispatch(msg)
		}

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			if errors.Is(err, ErrChatEnded) {
				c.logger.Info().Msg("youtube live chat ended")
				return err
			}

			var apiErr APIError
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusForbidden {
				forbidden++
				if forbidden >= maxForbiddenPolls {
					return fmt.Errorf("youtube API keeps refusing requests: %w", err)
				}
			}

			c.logger.Error().Err(err).Msg("failed to poll youtube live chat")

			c.mu.Lock()
			onError := c.onError
			c.mu.Unlock()

			if onError != nil {
				onError(err)
			}
		} else {
			forbidden = 0
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.interval()):
		}
	}
}

func (c *Chat) interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pollInterval
}

func (c *Chat) dispatch(msg Message) {
	c.mu.Lock()
	onMessage, onPaid := c.onMessage, c.onPaid
	c.mu.Unlock()

	if msg.Paid() {
		if onPaid != nil {
			onPaid(msg)
		}
		return
	}

	if onMessage != nil {
		onMessage(msg)
	}
}

func getJSON[T any](ctx context.Context, c *Chat, endpoint string, params url.Values) (T, error) {
	var data T

	params.Set("key", c.cfg.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return data, err
	}

	resp, err := httputil.RetryOn429(ctx, func() (*http.Response, error) {
		return c.client.Do(req)
	})
	if err != nil {
		return data, err
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return data, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp apiErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			return data, APIError{Status: resp.StatusCode, Code: errResp.Error.Code, Message: errResp.Error.Message}
		}

		return data, APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	if err := json.Unmarshal(body, &data); err != nil {
		return data, err
	}

	return data, nil
}
