package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/rs/zerolog"
)

type ctxKeyLogger int

const loggerKey ctxKeyLogger = 0

func requestLogger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			t := time.Now()

			log := logger.With().Logger()

			if id := r.Context().Value(middleware.RequestIDKey); id != nil {
				if str, ok := id.(string); ok {
					log = log.With().Str("request_id", str).Logger()
				}
			}

			ctx := context.WithValue(r.Context(), loggerKey, log)
			r = r.WithContext(ctx)

			defer func() {
				log.Info().
					Dict("request_data", zerolog.Dict().
						Str("type", "access").
						Str("remote_ip", r.RemoteAddr).
						Str("url", r.URL.Path).
						Str("proto", r.Proto).
						Str("method", r.Method).
						Str("user_agent", r.Header.Get("User-Agent")).
						Int("status", ww.Status()).
						Float64("latency_ms", float64(time.Since(t).Milliseconds())).
						Str("bytes_in", r.Header.Get("Content-Length")).
						Int("bytes_out", ww.BytesWritten())).
					Msg("incoming_request")
			}()

			next.ServeHTTP(ww, r)
		}

		return http.HandlerFunc(fn)
	}
}
