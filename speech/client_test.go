package speech

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/watari-ai/lobby/emotion"
)

func newSynthesizer(t *testing.T, audio []byte) (*Client, afero.Fs, *[]speechRequest, *sync.Mutex) {
	t.Helper()

	var mu sync.Mutex
	var requests []speechRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != speechPath {
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer not-needed" {
			t.Errorf("unexpected authorization %q", got)
		}

		var payload speechRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("bad request body: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		mu.Lock()
		requests = append(requests, payload)
		mu.Unlock()

		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write(audio)
	}))
	t.Cleanup(server.Close)

	fs := afero.NewMemMapFs()
	client := NewClient(Config{BaseURL: server.URL}, server.Client(), fs, zerolog.Nop())

	return client, fs, &requests, &mu
}

func TestClient_Synthesize(t *testing.T) {
	t.Parallel()

	audio := []byte("fake-mp3-bytes")
	client, fs, requests, mu := newSynthesizer(t, audio)

	got, err := client.Synthesize(context.Background(), "おはロビィ！", emotion.Happy, "clips/greeting.mp3")
	require.NoError(t, err)
	require.Equal(t, audio, got)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *requests, 1)
	require.Equal(t, speechRequest{
		Model:          DefaultModel,
		Voice:          DefaultVoice,
		Input:          "[明るく楽しそうに]おはロビィ！",
		ResponseFormat: DefaultFormat,
	}, (*requests)[0])

	saved, err := afero.ReadFile(fs, "clips/greeting.mp3")
	require.NoError(t, err)
	require.Equal(t, audio, saved)
}

func TestClient_SynthesizeStylePrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		emotion emotion.Emotion
		want    string
	}{
		{name: "sad", emotion: emotion.Sad, want: "[しんみりと悲しげに]そっか"},
		{name: "neutral has no direction", emotion: emotion.Neutral, want: "そっか"},
		{name: "unmapped emotion passes through", emotion: emotion.Emotion("confused"), want: "そっか"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client, _, requests, mu := newSynthesizer(t, []byte("x"))

			_, err := client.Synthesize(context.Background(), "そっか", tt.emotion, "")
			require.NoError(t, err)

			mu.Lock()
			defer mu.Unlock()
			require.Equal(t, tt.want, (*requests)[0].Input)
		})
	}
}

func TestClient_SynthesizeError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("voice not found"))
	}))
	t.Cleanup(server.Close)

	fs := afero.NewMemMapFs()
	client := NewClient(Config{BaseURL: server.URL}, server.Client(), fs, zerolog.Nop())

	_, err := client.Synthesize(context.Background(), "test", emotion.Neutral, "clips/out.mp3")

	var apiErr APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusInternalServerError, apiErr.Status)
	require.Contains(t, apiErr.Body, "voice not found")

	exists, err := afero.Exists(fs, "clips/out.mp3")
	require.NoError(t, err)
	require.False(t, exists, "failed synthesis must not leave a file")
}

func TestClient_SynthesizeRetriesRateLimit(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	calls := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()

		if first {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		w.Write([]byte("audio"))
	}))
	t.Cleanup(server.Close)

	client := NewClient(Config{BaseURL: server.URL}, server.Client(), afero.NewMemMapFs(), zerolog.Nop())

	got, err := client.Synthesize(context.Background(), "test", emotion.Neutral, "")
	require.NoError(t, err)
	require.Equal(t, []byte("audio"), got)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 2, calls)
}

func TestClient_Health(t *testing.T) {
	t.Parallel()

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != modelsPath {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"data":[]}`))
	}))
	t.Cleanup(healthy.Close)

	client := NewClient(Config{BaseURL: healthy.URL}, healthy.Client(), afero.NewMemMapFs(), zerolog.Nop())
	require.True(t, client.Health(context.Background()))

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(broken.Close)

	client = NewClient(Config{BaseURL: broken.URL}, broken.Client(), afero.NewMemMapFs(), zerolog.Nop())
	require.False(t, client.Health(context.Background()))

	gone := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := gone.URL
	gone.Close()

	client = NewClient(Config{BaseURL: url}, nil, afero.NewMemMapFs(), zerolog.Nop())
	require.False(t, client.Health(context.Background()))
}

func TestSpeaker_Synthesize(t *testing.T) {
	t.Parallel()

	audio := []byte("spoken-line")
	client, fs, _, _ := newSynthesizer(t, audio)
	speaker := NewSpeaker(client, filepath.Join("out", "audio"))

	first, err := speaker.Synthesize(context.Background(), "おはロビィ！", emotion.Happy)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(first, filepath.Join("out", "audio")))
	require.True(t, strings.HasSuffix(first, ".mp3"))

	saved, err := afero.ReadFile(fs, first)
	require.NoError(t, err)
	require.Equal(t, audio, saved)

	second, err := speaker.Synthesize(context.Background(), "二本目", emotion.Neutral)
	require.NoError(t, err)
	require.NotEqual(t, first, second, "every line gets its own file")
}
