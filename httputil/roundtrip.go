package httputil

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

type RoundTripperFunc func(req *http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// LobbyRoundTrip tags outgoing requests with the lobby user agent and
// logs method, url, duration and status of every request.
type LobbyRoundTrip struct {
	rt      http.RoundTripper
	logger  zerolog.Logger
	version string
}

func NewLobbyRoundTrip(rt http.RoundTripper, logger zerolog.Logger, userAgentVersion string) *LobbyRoundTrip {
	return &LobbyRoundTrip{
		rt:      rt,
		logger:  logger,
		version: userAgentVersion,
	}
}

func (t *LobbyRoundTrip) RoundTrip(req *http.Request) (*http.Response, error) {
	rt := t.rt

	if rt == nil {
		rt = http.DefaultTransport
	}

	req = req.Clone(req.Context())

	req.Header.Set("User-Agent", fmt.Sprintf("Lobby/%s", t.version))

	now := time.Now()
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.logger.Error().Err(err).Msg("error while making request")
		return nil, err
	}

	dur := time.Since(now)
	t.logger.Info().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Dur("took", dur).
		Int("status", resp.StatusCode).Msg("request made")

	return resp, nil
}
