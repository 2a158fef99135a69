package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func router(logger zerolog.Logger, api *API) *chi.Mux {
	c := chi.NewMux()

	c.Use(
		middleware.RequestID,
		requestLogger(logger),
		middleware.RequestSize(64*1024),
		middleware.Recoverer,
	)

	c.Route("/api", func(r chi.Router) {
		r.Get("/health", api.handleGetHealth())
		r.Get("/status", api.handleGetStatus())

		r.Route("/live", func(r chi.Router) {
			r.Post("/input", api.handlePostInput())
			r.Post("/chat", api.handlePostChat())
			r.Post("/system-prompt", api.handlePostSystemPrompt())
			r.Post("/history/clear", api.handlePostHistoryClear())
			r.Get("/events", api.handleGetEvents())
			r.Get("/transcript", api.handleGetTranscript())
		})

		r.Route("/studio", func(r chi.Router) {
			r.Get("/status", api.handleGetStudioStatus())
			r.Get("/scenes", api.handleGetScenes())
			r.Get("/scenes/current", api.handleGetCurrentScene())
			r.Post("/scenes/current", api.handlePostCurrentScene())
			r.Get("/scenes/{scene}/items", api.handleGetSceneItems())
			r.Post("/scenes/items/enabled", api.handlePostSceneItemEnabled())

			r.Route("/avatar", func(r chi.Router) {
				r.Post("/setup", api.handlePostAvatarSetup())
				r.Post("/show", api.handlePostAvatarShow())
				r.Post("/hide", api.handlePostAvatarHide())
				r.Post("/position", api.handlePostAvatarPosition())
				r.Post("/scale", api.handlePostAvatarScale())
				r.Post("/image", api.handlePostAvatarImage())
			})

			r.Route("/virtualcam", func(r chi.Router) {
				r.Get("/status", api.handleGetVirtualCamStatus())
				r.Post("/start", api.handlePostVirtualCamStart())
				r.Post("/stop", api.handlePostVirtualCamStop())
				r.Post("/toggle", api.handlePostVirtualCamToggle())
			})
		})
	})

	c.Method("GET", "/metrics", promhttp.Handler())

	return c
}
