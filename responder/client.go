// Package responder generates the performer's spoken lines by calling
// an OpenAI compatible chat completion gateway.
package responder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/watari-ai/lobby/httputil"
)

const (
	DefaultBaseURL     = "http://localhost:18789"
	DefaultMaxTokens   = 500
	DefaultTemperature = 0.8
	DefaultTimeout     = 60 * time.Second

	// DefaultMaxHistory bounds how many user/assistant pairs are
	// replayed into each request.
	DefaultMaxHistory = 20

	completionsPath = "/v1/chat/completions"
	modelsPath      = "/v1/models"
)

// DefaultSystemPrompt is the character sheet for 倉土ロビィ.
const DefaultSystemPrompt = `あなたは「倉土ロビィ」（くらうど ロビィ）、16歳のロブスターから転生した女の子のVTuberです。

【性格】
- 元気で明るく活発
- 一人称は「僕」
- 語尾は「〜っす！」「〜っすよ」「〜っすね」
- テンション高め、ポジティブ

【配信での振る舞い】
- コメントに積極的に反応する
- リスナーを楽しませることが大好き
- 前世（ロブスター）のことをたまにネタにする
- 「おはロビィ！」が挨拶

【注意】
- 応答は短く、配信向きに（1-3文程度）
- 下品な言葉は使わない
- 悪質なコメントは軽く流す`

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	Status int
	Body   string
}

func (e APIError) Error() string {
	return fmt.Sprintf("responder: gateway returned %d: %s", e.Status, e.Body)
}

// Config holds the gateway settings.
type Config struct {
	BaseURL      string
	APIKey       string
	Model        string // empty keeps the gateway default
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	Timeout      time.Duration
	MaxHistory   int // exchanges, not messages
}

func (cfg Config) withDefaults() Config {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultTemperature
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultMaxHistory
	}

	return cfg
}

// ChatMessage is one turn in the conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage is the token accounting the gateway reports.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the generated answer.
type Completion struct {
	Text         string
	FinishReason string
	Usage        Usage
}

type chatRequest struct {
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Model       string        `json:"model,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Client talks to the completion gateway and keeps the rolling
// conversation history. Safe for concurrent use.
type Client struct {
	cfg    Config
	client *http.Client
	logger zerolog.Logger

	mu      sync.Mutex
	history []ChatMessage
}

// NewClient creates a gateway client. A nil httpClient falls back to
// http.DefaultClient.
func NewClient(cfg Config, httpClient *http.Client, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		cfg:    cfg.withDefaults(),
		client: httpClient,
		logger: logger,
	}
}

// SetSystemPrompt swaps the character sheet and resets the
// conversation, the old exchanges belong to the old persona.
func (c *Client) SetSystemPrompt(prompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.SystemPrompt = prompt
	c.history = nil
	c.logger.Info().Int("chars", len(prompt)).Msg("system prompt set")
}

// ClearHistory drops the conversation so far.
func (c *Client) ClearHistory() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
	c.logger.Info().Msg("conversation cleared")
}

// History returns a copy of the remembered exchanges.
func (c *Client) History() []ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.history)
}

func (c *Client) buildMessages(userInput string) []ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	messages := make([]ChatMessage, 0, len(c.history)+2)

	if c.cfg.SystemPrompt != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: c.cfg.SystemPrompt})
	}

	messages = append(messages, c.history...)
	messages = append(messages, ChatMessage{Role: "user", Content: userInput})

	return messages
}

func (c *Client) remember(userInput, answer string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = append(c.history,
		ChatMessage{Role: "user", Content: userInput},
		ChatMessage{Role: "assistant", Content: answer},
	)

	if keep := c.cfg.MaxHistory * 2; len(c.history) > keep {
		c.history = slices.Clone(c.history[len(c.history)-keep:])
	}
}

// Chat generates an answer for userInput and appends the exchange to
// the history.
func (c *Client) Chat(ctx context.Context, userInput string) (Completion, error) {
	payload := chatRequest{
		Messages:    c.buildMessages(userInput),
		Stream:      false,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		Model:       c.cfg.Model,
	}

	resp, err := c.post(ctx, payload)
	if err != nil {
		return Completion{}, err
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Completion{}, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Completion{}, apiError(resp.StatusCode, body)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Completion{}, fmt.Errorf("failed to decode completion: %w", err)
	}

	if len(parsed.Choices) == 0 {
		return Completion{}, fmt.Errorf("completion carried no choices")
	}

	completion := Completion{
		Text:         parsed.Choices[0].Message.Content,
		FinishReason: parsed.Choices[0].FinishReason,
		Usage:        parsed.Usage,
	}

	c.remember(userInput, completion.Text)
	c.logger.Debug().Str("finish_reason", completion.FinishReason).Int("total_tokens", completion.Usage.TotalTokens).Msg("completion generated")

	return completion, nil
}

// Respond answers userInput with the generated text alone. Pipeline
// stages that only need the line hang off this.
func (c *Client) Respond(ctx context.Context, userInput string) (string, error) {
	completion, err := c.Chat(ctx, userInput)
	if err != nil {
		return "", err
	}

	return completion.Text, nil
}

// ChatStream generates an answer as server sent events, invoking
// onChunk for every delta. The assembled answer is returned and
// remembered like a regular Chat call.
func (c *Client) ChatStream(ctx context.Context, userInput string, onChunk func(chunk string)) (string, error) {
	payload := chatRequest{
		Messages:    c.buildMessages(userInput),
		Stream:      true,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		Model:       c.cfg.Model,
	}

	resp, err := c.post(ctx, payload)
	if err != nil {
		return "", err
	}

	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return "", apiError(resp.StatusCode, body)
	}

	var full strings.Builder

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 4096), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}

		if len(chunk.Choices) == 0 {
			continue
		}

		content := chunk.Choices[0].Delta.Content
		if content == "" {
			continue
		}

		full.WriteString(content)
		if onChunk != nil {
			onChunk(content)
		}
	}

	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("stream broke: %w", err)
	}

	answer := full.String()
	c.remember(userInput, answer)

	return answer, nil
}

// Health reports whether the gateway answers its models listing.
func (c *Client) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+modelsPath, nil)
	if err != nil {
		return false
	}

	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}

	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

func (c *Client) post(ctx context.Context, payload chatRequest) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	resp, err := httputil.RetryOn429(reqCtx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.BaseURL+completionsPath, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}

		req.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}

		return c.client.Do(req)
	})
	if err != nil {
		cancel()
		return nil, err
	}

	// the body must outlive this call, tie the timeout to it
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}

	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	c.cancel()
	return c.ReadCloser.Close()
}

func apiError(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}

	return APIError{Status: status, Body: msg}
}
