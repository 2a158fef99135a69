// Package speech turns the performer's lines into audio through an
// OpenAI compatible text to speech endpoint.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/watari-ai/lobby/emotion"
	"github.com/watari-ai/lobby/httputil"
)

const (
	DefaultBaseURL = "http://localhost:8880/v1"
	DefaultVoice   = "Vivian"
	DefaultAPIKey  = "not-needed"
	DefaultModel   = "qwen3-tts"
	DefaultFormat  = "mp3"
	DefaultTimeout = 60 * time.Second

	speechPath = "/audio/speech"
	modelsPath = "/models"
)

// DefaultStylePrompts maps emotions to the spoken direction the
// synthesizer understands.
func DefaultStylePrompts() map[emotion.Emotion]string {
	return map[emotion.Emotion]string{
		emotion.Happy:     "明るく楽しそうに",
		emotion.Sad:       "しんみりと悲しげに",
		emotion.Excited:   "テンション高く興奮して",
		emotion.Angry:     "怒った声で",
		emotion.Surprised: "驚いた声で",
		emotion.Neutral:   "",
	}
}

// APIError is a non-2xx answer from the synthesizer.
type APIError struct {
	Status int
	Body   string
}

func (e APIError) Error() string {
	return fmt.Sprintf("speech: synthesizer returned %d: %s", e.Status, e.Body)
}

// Config holds the synthesizer settings.
type Config struct {
	BaseURL      string
	Voice        string
	APIKey       string
	Model        string
	Format       string
	Timeout      time.Duration
	StylePrompts map[emotion.Emotion]string
}

func (cfg Config) withDefaults() Config {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}

	if cfg.APIKey == "" {
		cfg.APIKey = DefaultAPIKey
	}

	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	if cfg.Format == "" {
		cfg.Format = DefaultFormat
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.StylePrompts == nil {
		cfg.StylePrompts = DefaultStylePrompts()
	}

	return cfg
}

type speechRequest struct {
	Model          string `json:"model"`
	Voice          string `json:"voice"`
	Input          string `json:"input"`
	ResponseFormat string `json:"response_format"`
}

// Client calls the synthesizer and writes the returned audio to disk.
type Client struct {
	cfg    Config
	client *http.Client
	fs     afero.Fs
	logger zerolog.Logger
}

// NewClient creates a synthesizer client. A nil httpClient falls back
// to http.DefaultClient, a nil fs to the os filesystem.
func NewClient(cfg Config, httpClient *http.Client, fs afero.Fs, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if fs == nil {
		fs = afero.NewOsFs()
	}

	return &Client{
		cfg:    cfg.withDefaults(),
		client: httpClient,
		fs:     fs,
		logger: logger,
	}
}

// Format returns the configured audio container, mp3 unless overridden.
func (c *Client) Format() string {
	return c.cfg.Format
}

func (c *Client) styledInput(text string, emo emotion.Emotion) string {
	prompt := c.cfg.StylePrompts[emo]
	if prompt == "" {
		return text
	}

	return "[" + prompt + "]" + text
}

// Synthesize converts text to audio, spoken in the given emotion when a
// style direction is mapped for it. When outPath is non empty the audio
// is also written there, parent directories included.
func (c *Client) Synthesize(ctx context.Context, text string, emo emotion.Emotion, outPath string) ([]byte, error) {
	payload := speechRequest{
		Model:          c.cfg.Model,
		Voice:          c.cfg.Voice,
		Input:          c.styledInput(text, emo),
		ResponseFormat: c.cfg.Format,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := httputil.RetryOn429(reqCtx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.BaseURL+speechPath, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

		return c.client.Do(req)
	})
	if err != nil {
		return nil, err
	}

	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return nil, APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}

	if outPath != "" {
		if err := c.fs.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
			return nil, err
		}

		if err := afero.WriteFile(c.fs, outPath, audio, 0o644); err != nil {
			return nil, err
		}

		c.logger.Info().Str("path", outPath).Int("bytes", len(audio)).Msg("audio saved")
	}

	c.logger.Debug().Str("emotion", string(emo)).Int("bytes", len(audio)).Msg("speech synthesized")

	return audio, nil
}

// Health reports whether the synthesizer answers its models listing.
func (c *Client) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+modelsPath, nil)
	if err != nil {
		return false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}

	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// Speaker writes every synthesized line into dir under a generated
// name. It satisfies the pipeline synthesizer contract.
type Speaker struct {
	client *Client
	dir    string
}

// NewSpeaker creates a Speaker storing audio files under dir.
func NewSpeaker(client *Client, dir string) *Speaker {
	return &Speaker{client: client, dir: dir}
}

// Synthesize speaks text and returns the path of the written audio
// file.
func (s *Speaker) Synthesize(ctx context.Context, text string, emo emotion.Emotion) (string, error) {
	path := filepath.Join(s.dir, fmt.Sprintf("line-%s.%s", uuid.NewString(), s.client.Format()))

	if _, err := s.client.Synthesize(ctx, text, emo, path); err != nil {
		return "", err
	}

	return path, nil
}
