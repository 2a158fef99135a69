package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

func (a *API) handleGetHealth() http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, "UP")
	})
}

type statusResponse struct {
	Running   bool              `json:"running"`
	Queue     queueStatus       `json:"queue"`
	Counters  counterStatus     `json:"counters"`
	Sources   map[string]string `json:"sources"`
	StartedAt time.Time         `json:"started_at"`
	Uptime    string            `json:"uptime"`
}

type queueStatus struct {
	Normal   int `json:"normal"`
	Priority int `json:"priority"`
}

type counterStatus struct {
	Processed uint64 `json:"processed"`
	Filtered  uint64 `json:"filtered"`
	Failed    uint64 `json:"failed"`
}

func (a *API) handleGetStatus() http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		normal, priority := a.pipeline.QueueDepth()
		stats := a.pipeline.Stats()

		writeJSON(w, http.StatusOK, statusResponse{
			Running: a.pipeline.Running(),
			Queue:   queueStatus{Normal: normal, Priority: priority},
			Counters: counterStatus{
				Processed: stats.Processed,
				Filtered:  stats.Filtered,
				Failed:    stats.Failed,
			},
			Sources:   a.snapshotSourceStates(),
			StartedAt: a.startedAt,
			Uptime:    strings.TrimSpace(humanize.RelTime(a.startedAt, time.Now(), "", "")),
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (a *API) readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		logger := a.getLoggerFrom(r.Context())
		logger.Err(err).Msg("could not decode request body")
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}

	return true
}
