package obs

import "context"

// Version describes the running studio instance.
type Version struct {
	OBSVersion          string   `json:"obsVersion"`
	OBSWebSocketVersion string   `json:"obsWebSocketVersion"`
	RPCVersion          int      `json:"rpcVersion"`
	Platform            string   `json:"platform"`
	AvailableRequests   []string `json:"availableRequests"`
}

// Scene is a single entry of the studio scene collection.
type Scene struct {
	Name  string `json:"sceneName"`
	UUID  string `json:"sceneUuid"`
	Index int    `json:"sceneIndex"`
}

// SceneItem is a source placed inside a scene. Transform values are
// kept untyped, the server mixes numbers and enum strings in there.
type SceneItem struct {
	ID         int            `json:"sceneItemId"`
	Index      int            `json:"sceneItemIndex"`
	SourceName string         `json:"sourceName"`
	SourceUUID string         `json:"sourceUuid"`
	SourceType string         `json:"sourceType"`
	Enabled    bool           `json:"sceneItemEnabled"`
	Locked     bool           `json:"sceneItemLocked"`
	Transform  map[string]any `json:"sceneItemTransform"`
}

// RecordStatus describes the record output.
type RecordStatus struct {
	Active   bool   `json:"outputActive"`
	Paused   bool   `json:"outputPaused"`
	Timecode string `json:"outputTimecode"`
	Duration int64  `json:"outputDuration"`
	Bytes    int64  `json:"outputBytes"`
}

// StreamStatus describes the stream output.
type StreamStatus struct {
	Active        bool    `json:"outputActive"`
	Reconnecting  bool    `json:"outputReconnecting"`
	Timecode      string  `json:"outputTimecode"`
	Duration      int64   `json:"outputDuration"`
	Congestion    float64 `json:"outputCongestion"`
	Bytes         int64   `json:"outputBytes"`
	SkippedFrames int64   `json:"outputSkippedFrames"`
	TotalFrames   int64   `json:"outputTotalFrames"`
}

// GetVersion fetches version information, also useful as a cheap probe
// that requests actually flow.
func (c *Client) GetVersion(ctx context.Context) (Version, error) {
	var resp Version
	if err := c.callInto(ctx, "GetVersion", nil, &resp); err != nil {
		return Version{}, err
	}

	return resp, nil
}

// GetSceneList fetches all scenes and the name of the active one.
func (c *Client) GetSceneList(ctx context.Context) ([]Scene, string, error) {
	var resp struct {
		Scenes                  []Scene `json:"scenes"`
		CurrentProgramSceneName string  `json:"currentProgramSceneName"`
	}

	if err := c.callInto(ctx, "GetSceneList", nil, &resp); err != nil {
		return nil, "", err
	}

	return resp.Scenes, resp.CurrentProgramSceneName, nil
}

// GetCurrentProgramScene returns the name of the active scene.
func (c *Client) GetCurrentProgramScene(ctx context.Context) (string, error) {
	var resp struct {
		CurrentProgramSceneName string `json:"currentProgramSceneName"`
	}

	if err := c.callInto(ctx, "GetCurrentProgramScene", nil, &resp); err != nil {
		return "", err
	}

	return resp.CurrentProgramSceneName, nil
}

// SetCurrentProgramScene switches the active scene.
func (c *Client) SetCurrentProgramScene(ctx context.Context, sceneName string) error {
	body := struct {
		SceneName string `json:"sceneName"`
	}{SceneName: sceneName}

	_, err := c.call(ctx, "SetCurrentProgramScene", body)
	return err
}

// GetSceneItemList fetches the items of one scene.
func (c *Client) GetSceneItemList(ctx context.Context, sceneName string) ([]SceneItem, error) {
	body := struct {
		SceneName string `json:"sceneName"`
	}{SceneName: sceneName}

	var resp struct {
		SceneItems []SceneItem `json:"sceneItems"`
	}

	if err := c.callInto(ctx, "GetSceneItemList", body, &resp); err != nil {
		return nil, err
	}

	return resp.SceneItems, nil
}

// GetSceneItemID resolves a source name inside a scene to its item id.
func (c *Client) GetSceneItemID(ctx context.Context, sceneName, sourceName string) (int, error) {
	items, err := c.GetSceneItemList(ctx, sceneName)
	if err != nil {
		return 0, err
	}

	for _, item := range items {
		if item.SourceName == sourceName {
			return item.ID, nil
		}
	}

	return 0, &RequestError{Code: 600, Comment: "no scene item named " + sourceName + " in " + sceneName}
}

// SetSceneItemEnabled shows or hides a scene item.
func (c *Client) SetSceneItemEnabled(ctx context.Context, sceneName string, sceneItemID int, enabled bool) error {
	body := struct {
		SceneName        string `json:"sceneName"`
		SceneItemID      int    `json:"sceneItemId"`
		SceneItemEnabled bool   `json:"sceneItemEnabled"`
	}{SceneName: sceneName, SceneItemID: sceneItemID, SceneItemEnabled: enabled}

	_, err := c.call(ctx, "SetSceneItemEnabled", body)
	return err
}

// SetSceneItemTransform patches the transform of a scene item. Only
// the keys present in transform change, e.g. positionX/positionY or
// scaleX/scaleY.
func (c *Client) SetSceneItemTransform(ctx context.Context, sceneName string, sceneItemID int, transform map[string]float64) error {
	body := struct {
		SceneName          string             `json:"sceneName"`
		SceneItemID        int                `json:"sceneItemId"`
		SceneItemTransform map[string]float64 `json:"sceneItemTransform"`
	}{SceneName: sceneName, SceneItemID: sceneItemID, SceneItemTransform: transform}

	_, err := c.call(ctx, "SetSceneItemTransform", body)
	return err
}

// GetInputSettings fetches the settings and kind of an input.
func (c *Client) GetInputSettings(ctx context.Context, inputName string) (map[string]any, string, error) {
	body := struct {
		InputName string `json:"inputName"`
	}{InputName: inputName}

	var resp struct {
		InputSettings map[string]any `json:"inputSettings"`
		InputKind     string         `json:"inputKind"`
	}

	if err := c.callInto(ctx, "GetInputSettings", body, &resp); err != nil {
		return nil, "", err
	}

	return resp.InputSettings, resp.InputKind, nil
}

// SetInputSettings patches the settings of an input. With overlay set
// the given settings merge over the current ones instead of replacing
// them.
func (c *Client) SetInputSettings(ctx context.Context, inputName string, settings map[string]any, overlay bool) error {
	body := struct {
		InputName     string         `json:"inputName"`
		InputSettings map[string]any `json:"inputSettings"`
		Overlay       bool           `json:"overlay"`
	}{InputName: inputName, InputSettings: settings, Overlay: overlay}

	_, err := c.call(ctx, "SetInputSettings", body)
	return err
}

// GetInputMute reports whether an input is muted.
func (c *Client) GetInputMute(ctx context.Context, inputName string) (bool, error) {
	body := struct {
		InputName string `json:"inputName"`
	}{InputName: inputName}

	var resp struct {
		InputMuted bool `json:"inputMuted"`
	}

	if err := c.callInto(ctx, "GetInputMute", body, &resp); err != nil {
		return false, err
	}

	return resp.InputMuted, nil
}

// SetInputMute mutes or unmutes an input.
func (c *Client) SetInputMute(ctx context.Context, inputName string, muted bool) error {
	body := struct {
		InputName  string `json:"inputName"`
		InputMuted bool   `json:"inputMuted"`
	}{InputName: inputName, InputMuted: muted}

	_, err := c.call(ctx, "SetInputMute", body)
	return err
}

// SetInputVolume sets the volume of an input in dB.
func (c *Client) SetInputVolume(ctx context.Context, inputName string, volumeDb float64) error {
	body := struct {
		InputName     string  `json:"inputName"`
		InputVolumeDb float64 `json:"inputVolumeDb"`
	}{InputName: inputName, InputVolumeDb: volumeDb}

	_, err := c.call(ctx, "SetInputVolume", body)
	return err
}

// GetVirtualCamStatus reports whether the virtual camera is running.
func (c *Client) GetVirtualCamStatus(ctx context.Context) (bool, error) {
	var resp struct {
		OutputActive bool `json:"outputActive"`
	}

	if err := c.callInto(ctx, "GetVirtualCamStatus", nil, &resp); err != nil {
		return false, err
	}

	return resp.OutputActive, nil
}

// StartVirtualCam starts the virtual camera output.
func (c *Client) StartVirtualCam(ctx context.Context) error {
	_, err := c.call(ctx, "StartVirtualCam", nil)
	return err
}

// StopVirtualCam stops the virtual camera output.
func (c *Client) StopVirtualCam(ctx context.Context) error {
	_, err := c.call(ctx, "StopVirtualCam", nil)
	return err
}

// ToggleVirtualCam toggles the virtual camera output and returns the
// new state.
func (c *Client) ToggleVirtualCam(ctx context.Context) (bool, error) {
	var resp struct {
		OutputActive bool `json:"outputActive"`
	}

	if err := c.callInto(ctx, "ToggleVirtualCam", nil, &resp); err != nil {
		return false, err
	}

	return resp.OutputActive, nil
}

// GetRecordStatus fetches the state of the record output.
func (c *Client) GetRecordStatus(ctx context.Context) (RecordStatus, error) {
	var resp RecordStatus
	if err := c.callInto(ctx, "GetRecordStatus", nil, &resp); err != nil {
		return RecordStatus{}, err
	}

	return resp, nil
}

// StartRecord starts recording.
func (c *Client) StartRecord(ctx context.Context) error {
	_, err := c.call(ctx, "StartRecord", nil)
	return err
}

// StopRecord stops recording and returns the path of the written file.
func (c *Client) StopRecord(ctx context.Context) (string, error) {
	var resp struct {
		OutputPath string `json:"outputPath"`
	}

	if err := c.callInto(ctx, "StopRecord", nil, &resp); err != nil {
		return "", err
	}

	return resp.OutputPath, nil
}

// PauseRecord pauses the record output.
func (c *Client) PauseRecord(ctx context.Context) error {
	_, err := c.call(ctx, "PauseRecord", nil)
	return err
}

// ResumeRecord resumes a paused record output.
func (c *Client) ResumeRecord(ctx context.Context) error {
	_, err := c.call(ctx, "ResumeRecord", nil)
	return err
}

// GetStreamStatus fetches the state of the stream output.
func (c *Client) GetStreamStatus(ctx context.Context) (StreamStatus, error) {
	var resp StreamStatus
	if err := c.callInto(ctx, "GetStreamStatus", nil, &resp); err != nil {
		return StreamStatus{}, err
	}

	return resp, nil
}

// StartStream starts the stream output.
func (c *Client) StartStream(ctx context.Context) error {
	_, err := c.call(ctx, "StartStream", nil)
	return err
}

// StopStream stops the stream output.
func (c *Client) StopStream(ctx context.Context) error {
	_, err := c.call(ctx, "StopStream", nil)
	return err
}

// ToggleStream toggles the stream output and returns the new state.
func (c *Client) ToggleStream(ctx context.Context) (bool, error) {
	var resp struct {
		OutputActive bool `json:"outputActive"`
	}

	if err := c.callInto(ctx, "ToggleStream", nil, &resp); err != nil {
		return false, err
	}

	return resp.OutputActive, nil
}

// GetSourceScreenshot renders a source to a base64 encoded image.
// Width, height and quality are optional, zero leaves them to the
// server.
func (c *Client) GetSourceScreenshot(ctx context.Context, sourceName, imageFormat string, width, height, quality int) (string, error) {
	body := map[string]any{
		"sourceName":  sourceName,
		"imageFormat": imageFormat,
	}

	if width > 0 {
		body["imageWidth"] = width
	}

	if height > 0 {
		body["imageHeight"] = height
	}

	if quality > 0 {
		body["imageCompressionQuality"] = quality
	}

	var resp struct {
		ImageData string `json:"imageData"`
	}

	if err := c.callInto(ctx, "GetSourceScreenshot", body, &resp); err != nil {
		return "", err
	}

	return resp.ImageData, nil
}

// TriggerHotkeyByName fires a hotkey registered in the studio by its
// internal name.
func (c *Client) TriggerHotkeyByName(ctx context.Context, hotkeyName string) error {
	body := struct {
		HotkeyName string `json:"hotkeyName"`
	}{HotkeyName: hotkeyName}

	_, err := c.call(ctx, "TriggerHotkeyByName", body)
	return err
}
