package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/watari-ai/lobby/obs"
)

// requireStudio answers 503 when no studio connection is configured.
func (a *API) requireStudio(w http.ResponseWriter) bool {
	if a.studio == nil {
		writeError(w, http.StatusServiceUnavailable, "studio not configured")
		return false
	}

	return true
}

func (a *API) requireAvatar(w http.ResponseWriter) bool {
	if a.avatar == nil {
		writeError(w, http.StatusServiceUnavailable, "avatar not configured")
		return false
	}

	return true
}

// writeStudioError maps studio failures onto HTTP statuses. A dropped
// connection is 503, a rejected request 502.
func (a *API) writeStudioError(w http.ResponseWriter, r *http.Request, err error) {
	logger := a.getLoggerFrom(r.Context())
	logger.Err(err).Msg("studio request failed")

	if errors.Is(err, obs.ErrNotConnected) {
		writeError(w, http.StatusServiceUnavailable, "studio not connected")
		return
	}

	var reqErr *obs.RequestError
	if errors.As(err, &reqErr) {
		writeError(w, http.StatusBadGateway, reqErr.Error())
		return
	}

	writeError(w, http.StatusInternalServerError, err.Error())
}

type studioStatusResponse struct {
	State     string `json:"state"`
	Connected bool   `json:"connected"`

	OBSVersion       string `json:"obs_version,omitempty"`
	WebSocketVersion string `json:"websocket_version,omitempty"`
	Platform         string `json:"platform,omitempty"`
}

func (a *API) handleGetStudioStatus() http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.requireStudio(w) {
			return
		}

		state := a.studio.State()
		resp := studioStatusResponse{
			State:     state.String(),
			Connected: state == obs.StateReady,
		}

		if resp.Connected {
			version, err := a.studio.GetVersion(r.Context())
			if err != nil {
				logger := a.getLoggerFrom(r.Context())
				logger.Err(err).Msg("could not fetch studio version")
			} else {
				resp.OBSVersion = version.OBSVersion
				resp.WebSocketVersion = version.OBSWebSocketVersion
				resp.Platform = version.Platform
			}
		}

		writeJSON(w, http.StatusOK, resp)
	})
}

type sceneBody struct {
	Name  string `json:"name"`
	Index int    `json:"index"`
}

func (a *API) handleGetScenes() http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.requireStudio(w) {
			return
		}

		scenes, current, err := a.studio.GetSceneList(r.Context())
		if err != nil {
			a.writeStudioError(w, r, err)
			return
		}

		bodies := make([]sceneBody, 0, len(scenes))
		for _, scene := range scenes {
			bodies = append(bodies, sceneBody{Name: scene.Name, Index: scene.Index})
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"scenes":  bodies,
			"current": current,
		})
	})
}

func (a *API) handleGetCurrentScene() http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.requireStudio(w) {
			return
		}

		name, err := a.studio.GetCurrentProgramScene(r.Context())
		if err != nil {
			a.writeStudioError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"name": name})
	})
}

func (a *API) handlePostCurrentScene() http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.requireStudio(w) {
			return
		}

		var req struct {
			Name string `json:"name"`
		}
		if !a.readJSON(w, r, &req) {
			return
		}

		if req.Name == "" {
			writeError(w, http.StatusBadRequest, "name must not be empty")
			return
		}

		if err := a.studio.SetCurrentProgramScene(r.Context(), req.Name); err != nil {
			a.writeStudioError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

type sceneItemBody struct {
	ID         int    `json:"id"`
	SourceName string `json:"source_name"`
	Enabled    bool   `json:"enabled"`
}

func (a *API) handleGetSceneItems() http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.requireStudio(w) {
			return
		}

		scene := chi.URLParam(r, "scene")

		items, err := a.studio.GetSceneItemList(r.Context(), scene)
		if err != nil {
			a.writeStudioError(w, r, err)
			return
		}

		bodies := make([]sceneItemBody, 0, len(items))
		for _, item := range items {
			bodies = append(bodies, sceneItemBody{
				ID:         item.ID,
				SourceName: item.SourceName,
				Enabled:    item.Enabled,
			})
		}

		writeJSON(w, http.StatusOK, map[string]any{"items": bodies})
	})
}

func (a *API) handlePostSceneItemEnabled() http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.requireStudio(w) {
			return
		}

		var req struct {
			SceneName string `json:"scene_name"`
			ItemID    int    `json:"item_id"`
			Enabled   bool   `json:"enabled"`
		}
		if !a.readJSON(w, r, &req) {
			return
		}

		if req.SceneName == "" {
			writeError(w, http.StatusBadRequest, "scene_name must not be empty")
			return
		}

		if err := a.studio.SetSceneItemEnabled(r.Context(), req.SceneName, req.ItemID, req.Enabled); err != nil {
			a.writeStudioError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

func (a *API) handlePostAvatarSetup() http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.requireAvatar(w) {
			return
		}

		var req struct {
			SceneName  string `json:"scene_name"`
			SourceName string `json:"source_name"`
		}
		if !a.readJSON(w, r, &req) {
			return
		}

		if req.SceneName == "" || req.SourceName == "" {
			writeError(w, http.StatusBadRequest, "scene_name and source_name must not be empty")
			return
		}

		a.avatar.Rebind(req.SceneName, req.SourceName)
		w.WriteHeader(http.StatusNoContent)
	})
}

func (a *API) handlePostAvatarShow() http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.requireAvatar(w) {
			return
		}

		if err := a.avatar.Show(r.Context()); err != nil {
			a.writeStudioError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

func (a *API) handlePostAvatarHide() http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.requireAvatar(w) {
			return
		}

		if err := a.avatar.Hide(r.Context()); err != nil {
			a.writeStudioError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

func (a *API) handlePostAvatarPosition() http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.requireAvatar(w) {
			return
		}

		var req struct {
			X float64 `json:"x"`
			Y float64 `json:"y"`
		}
		if !a.readJSON(w, r, &req) {
			return
		}

		if err := a.avatar.SetPosition(r.Context(), req.X, req.Y); err != nil {
			a.writeStudioError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

func (a *API) handlePostAvatarScale() http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.requireAvatar(w) {
			return
		}

		var req struct {
			ScaleX float64  `json:"scale_x"`
			ScaleY *float64 `json:"scale_y"`
		}
		if !a.readJSON(w, r, &req) {
			return
		}

		// a single value scales uniformly
		scaleY := req.ScaleX
		if req.ScaleY != nil {
			scaleY = *req.ScaleY
		}

		if err := a.avatar.SetScale(r.Context(), req.ScaleX, scaleY); err != nil {
			a.writeStudioError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

func (a *API) handlePostAvatarImage() http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.requireAvatar(w) {
			return
		}

		var req struct {
			ImagePath string `json:"image_path"`
		}
		if !a.readJSON(w, r, &req) {
			return
		}

		if req.ImagePath == "" {
			writeError(w, http.StatusBadRequest, "image_path must not be empty")
			return
		}

		if err := a.avatar.SetImage(r.Context(), req.ImagePath); err != nil {
			a.writeStudioError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

func (a *API) handleGetVirtualCamStatus() http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.requireStudio(w) {
			return
		}

		active, err := a.studio.GetVirtualCamStatus(r.Context())
		if err != nil {
			a.writeStudioError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]bool{"active": active})
	})
}

func (a *API) handlePostVirtualCamStart() http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.requireStudio(w) {
			return
		}

		if err := a.studio.StartVirtualCam(r.Context()); err != nil {
			a.writeStudioError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

func (a *API) handlePostVirtualCamStop() http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.requireStudio(w) {
			return
		}

		if err := a.studio.StopVirtualCam(r.Context()); err != nil {
			a.writeStudioError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

func (a *API) handlePostVirtualCamToggle() http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.requireStudio(w) {
			return
		}

		active, err := a.studio.ToggleVirtualCam(r.Context())
		if err != nil {
			a.writeStudioError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]bool{"active": active})
	})
}
