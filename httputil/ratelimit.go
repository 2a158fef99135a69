package httputil

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

// RetryOn429 executes retryFunc and retries it once when the response
// is a 429 (Too Many Requests), waiting out the period the server
// announced. Both header conventions the lobby backends use are
// understood: Retry-After carrying seconds and Ratelimit-Reset
// carrying a unix timestamp. Without either header the 429 response is
// returned as-is.
func RetryOn429(ctx context.Context, retryFunc func() (*http.Response, error)) (*http.Response, error) {
	resp, err := retryFunc()
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusTooManyRequests {
		return resp, nil
	}

	wait, ok := retryDelay(resp.Header)
	if !ok {
		return resp, nil
	}

	// the 429 body is not coming back to the caller
	resp.Body.Close()

	timer := time.NewTimer(wait)
	defer func() {
		timer.Stop()
		select {
		case <-timer.C:
		default:
		}
	}()

	select {
	case <-timer.C:
		return retryFunc()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// retryDelay extracts the wait period from a 429 response, with a one
// second buffer on top of what the server asked for.
func retryDelay(header http.Header) (time.Duration, bool) {
	if retryAfter := header.Get("Retry-After"); retryAfter != "" {
		seconds, err := strconv.ParseInt(retryAfter, 10, 64)
		if err != nil || seconds < 0 {
			return 0, false
		}

		return time.Duration(seconds)*time.Second + time.Second, true
	}

	if reset := header.Get("Ratelimit-Reset"); reset != "" {
		waitUntil, err := strconv.ParseInt(reset, 10, 64)
		if err != nil {
			return 0, false
		}

		return time.Until(time.Unix(waitUntil, 0)) + time.Second, true
	}

	return 0, false
}
