package server

import (
	"encoding/base64"
	"net/http"
	"os"
	"time"

	"github.com/watari-ai/lobby/live"
)

type inputRequest struct {
	Text   string `json:"text"`
	Author string `json:"author"`
}

func (in inputRequest) toInput() live.Input {
	built := live.NewInput(in.Text, live.SourceManual)
	if in.Author != "" {
		built.Author = in.Author
	}

	return built
}

type inputResponse struct {
	Status    string `json:"status"`
	QueueSize int    `json:"queue_size"`
}

// handlePostInput queues a manual line as if it came from chat.
func (a *API) handlePostInput() http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req inputRequest
		if !a.readJSON(w, r, &req) {
			return
		}

		admitted := a.pipeline.AddInput(req.toInput())
		normal, priority := a.pipeline.QueueDepth()

		resp := inputResponse{Status: "queued", QueueSize: normal + priority}
		status := http.StatusAccepted

		if !admitted {
			resp.Status = "filtered"
			status = http.StatusUnprocessableEntity
		}

		writeJSON(w, status, resp)
	})
}

type chatResponse struct {
	ResponseText string      `json:"response_text"`
	Emotion      emotionBody `json:"emotion"`
	AudioPath    string      `json:"audio_path,omitempty"`
	AudioBase64  string      `json:"audio_base64,omitempty"`
}

// handlePostChat runs one line through the whole pipeline right away,
// skipping the queue, and hands the synthesized audio back inline.
func (a *API) handlePostChat() http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := a.getLoggerFrom(r.Context())

		var req inputRequest
		if !a.readJSON(w, r, &req) {
			return
		}

		if req.Text == "" {
			writeError(w, http.StatusBadRequest, "text must not be empty")
			return
		}

		out, err := a.pipeline.ProcessNow(r.Context(), req.toInput())
		if err != nil {
			logger.Err(err).Msg("could not process chat input")
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}

		resp := chatResponse{
			ResponseText: out.ResponseText,
			Emotion:      emotionBodyFrom(out.Emotion),
			AudioPath:    out.AudioPath,
		}

		if out.AudioPath != "" {
			audio, err := os.ReadFile(out.AudioPath)
			if err != nil {
				logger.Err(err).Str("path", out.AudioPath).Msg("could not read synthesized audio")
			} else {
				resp.AudioBase64 = base64.StdEncoding.EncodeToString(audio)
			}
		}

		writeJSON(w, http.StatusOK, resp)
	})
}

func (a *API) handlePostSystemPrompt() http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.persona == nil {
			writeError(w, http.StatusServiceUnavailable, "responder not configured")
			return
		}

		var req struct {
			SystemPrompt string `json:"system_prompt"`
		}
		if !a.readJSON(w, r, &req) {
			return
		}

		if req.SystemPrompt == "" {
			writeError(w, http.StatusBadRequest, "system_prompt must not be empty")
			return
		}

		a.persona.SetSystemPrompt(req.SystemPrompt)
		w.WriteHeader(http.StatusNoContent)
	})
}

func (a *API) handlePostHistoryClear() http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.persona == nil {
			writeError(w, http.StatusServiceUnavailable, "responder not configured")
			return
		}

		a.persona.ClearHistory()
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleGetTranscript replays the persisted chat log. The since query
// parameter is RFC 3339 and defaults to process start.
func (a *API) handleGetTranscript() http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.transcript == nil {
			writeError(w, http.StatusServiceUnavailable, "chat log not configured")
			return
		}

		since := a.startedAt
		if raw := r.URL.Query().Get("since"); raw != "" {
			parsed, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "since must be RFC 3339")
				return
			}
			since = parsed
		}

		entries, err := a.transcript.MessagesSince(r.Context(), since)
		if err != nil {
			logger := a.getLoggerFrom(r.Context())
			logger.Err(err).Msg("could not read transcript")
			writeError(w, http.StatusInternalServerError, "could not read transcript")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"count":    len(entries),
			"messages": entries,
		})
	})
}
