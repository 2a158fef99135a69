package obs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/watari-ai/lobby/live"
)

const (
	// cueBump scales the pulse by emotional intensity, a flat line
	// barely moves, an excited one visibly pops.
	cueBump = 0.1

	cuePulseDuration = 400 * time.Millisecond
)

// Avatar drives the performer source inside the studio scene: show and
// hide it, move it, scale it and swap the rendered image. The scene
// item id is resolved by source name on every call, so rearranging the
// scene in the studio never leaves the avatar pointing at a stale item.
// An avatar without a binding ignores every cue until Rebind is called.
type Avatar struct {
	client *Client
	logger zerolog.Logger

	mu     sync.Mutex
	scene  string
	source string
}

// NewAvatar creates an avatar bound to the given scene and source.
func NewAvatar(client *Client, scene, source string, logger zerolog.Logger) *Avatar {
	return &Avatar{
		client: client,
		logger: logger,
		scene:  scene,
		source: source,
	}
}

// Rebind points the avatar at a different scene and source.
func (a *Avatar) Rebind(scene, source string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scene = scene
	a.source = source
	a.logger.Info().Str("scene", scene).Str("source", source).Msg("avatar source configured")
}

// Binding returns the scene and source the avatar currently drives.
func (a *Avatar) Binding() (scene, source string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scene, a.source
}

func (a *Avatar) binding() (scene, source string, ok bool) {
	scene, source = a.Binding()
	if scene == "" || source == "" {
		a.logger.Debug().Msg("avatar not bound, skipping")
		return "", "", false
	}

	return scene, source, true
}

// Show enables the avatar scene item.
func (a *Avatar) Show(ctx context.Context) error {
	return a.setEnabled(ctx, true)
}

// Hide disables the avatar scene item.
func (a *Avatar) Hide(ctx context.Context) error {
	return a.setEnabled(ctx, false)
}

func (a *Avatar) setEnabled(ctx context.Context, enabled bool) error {
	scene, source, ok := a.binding()
	if !ok {
		return nil
	}

	itemID, err := a.client.GetSceneItemID(ctx, scene, source)
	if err != nil {
		return err
	}

	return a.client.SetSceneItemEnabled(ctx, scene, itemID, enabled)
}

// SetPosition moves the avatar to the given scene coordinates.
func (a *Avatar) SetPosition(ctx context.Context, x, y float64) error {
	return a.transform(ctx, map[string]float64{
		"positionX": x,
		"positionY": y,
	})
}

// SetScale scales the avatar. Pass the same value twice for uniform
// scaling.
func (a *Avatar) SetScale(ctx context.Context, scaleX, scaleY float64) error {
	return a.transform(ctx, map[string]float64{
		"scaleX": scaleX,
		"scaleY": scaleY,
	})
}

func (a *Avatar) transform(ctx context.Context, transform map[string]float64) error {
	scene, source, ok := a.binding()
	if !ok {
		return nil
	}

	itemID, err := a.client.GetSceneItemID(ctx, scene, source)
	if err != nil {
		return err
	}

	return a.client.SetSceneItemTransform(ctx, scene, itemID, transform)
}

// Pulse scales the avatar up by factor, holds for d, then restores the
// previous scale. A canceled context leaves the avatar unrestored.
func (a *Avatar) Pulse(ctx context.Context, factor float64, d time.Duration) error {
	scene, source, ok := a.binding()
	if !ok {
		return nil
	}

	itemID, err := a.client.GetSceneItemID(ctx, scene, source)
	if err != nil {
		return err
	}

	scaleX, scaleY, err := a.currentScale(ctx, scene, itemID)
	if err != nil {
		return err
	}

	err = a.client.SetSceneItemTransform(ctx, scene, itemID, map[string]float64{
		"scaleX": scaleX * factor,
		"scaleY": scaleY * factor,
	})
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
	}

	return a.client.SetSceneItemTransform(ctx, scene, itemID, map[string]float64{
		"scaleX": scaleX,
		"scaleY": scaleY,
	})
}

func (a *Avatar) currentScale(ctx context.Context, scene string, itemID int) (float64, float64, error) {
	items, err := a.client.GetSceneItemList(ctx, scene)
	if err != nil {
		return 0, 0, err
	}

	for _, item := range items {
		if item.ID != itemID {
			continue
		}

		scaleX, okX := item.Transform["scaleX"].(float64)
		scaleY, okY := item.Transform["scaleY"].(float64)
		if !okX || !okY {
			break
		}

		return scaleX, scaleY, nil
	}

	return 1, 1, nil
}

// Cue acknowledges a finished line in the studio: the avatar is made
// visible and pulses once, sized by the line's emotional intensity.
func (a *Avatar) Cue(ctx context.Context, out live.Output) error {
	if err := a.Show(ctx); err != nil {
		return err
	}

	a.logger.Debug().Str("emotion", string(out.Emotion.Primary)).Str("audio", out.AudioPath).Msg("cueing avatar")

	return a.Pulse(ctx, 1+cueBump*out.Emotion.Intensity, cuePulseDuration)
}

// SetImage points the avatar image source at a new file.
func (a *Avatar) SetImage(ctx context.Context, imagePath string) error {
	_, source := a.Binding()
	if source == "" {
		a.logger.Warn().Msg("avatar not bound, image not updated")
		return nil
	}

	return a.client.SetInputSettings(ctx, source, map[string]any{
		"file": imagePath,
	}, true)
}

// StartSession starts a capture session, the virtual camera plus the
// record output.
func (a *Avatar) StartSession(ctx context.Context) error {
	if err := a.client.StartVirtualCam(ctx); err != nil {
		return err
	}

	if err := a.client.StartRecord(ctx); err != nil {
		return err
	}

	a.logger.Info().Msg("capture session started")

	return nil
}

// StopSession stops the capture session and returns the path of the
// recorded file.
func (a *Avatar) StopSession(ctx context.Context) (string, error) {
	outputPath, err := a.client.StopRecord(ctx)
	if err != nil {
		return "", err
	}

	if err := a.client.StopVirtualCam(ctx); err != nil {
		return "", err
	}

	a.logger.Info().Str("output_path", outputPath).Msg("capture session stopped")

	return outputPath, nil
}
