// Package server is the local control surface of the performer. It
// exposes pipeline status, manual input injection, the live output
// event feed and studio remote control over plain HTTP on localhost.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/watari-ai/lobby/chatlog"
	"github.com/watari-ai/lobby/live"
	"github.com/watari-ai/lobby/obs"
)

// Pipeline is the part of the orchestrator the front door drives.
type Pipeline interface {
	Running() bool
	QueueDepth() (normal, priority int)
	Stats() live.Stats
	AddInput(in live.Input) bool
	ProcessNow(ctx context.Context, in live.Input) (live.Output, error)
	OnOutput(fn func(live.Output))
}

// Studio is the studio connection surface exposed over HTTP.
type Studio interface {
	State() obs.State
	GetVersion(ctx context.Context) (obs.Version, error)
	GetSceneList(ctx context.Context) ([]obs.Scene, string, error)
	GetCurrentProgramScene(ctx context.Context) (string, error)
	SetCurrentProgramScene(ctx context.Context, sceneName string) error
	GetSceneItemList(ctx context.Context, sceneName string) ([]obs.SceneItem, error)
	SetSceneItemEnabled(ctx context.Context, sceneName string, sceneItemID int, enabled bool) error
	GetVirtualCamStatus(ctx context.Context) (bool, error)
	StartVirtualCam(ctx context.Context) error
	StopVirtualCam(ctx context.Context) error
	ToggleVirtualCam(ctx context.Context) (bool, error)
}

// AvatarControl moves the performer sprite.
type AvatarControl interface {
	Rebind(scene, source string)
	Binding() (scene, source string)
	Show(ctx context.Context) error
	Hide(ctx context.Context) error
	SetPosition(ctx context.Context, x, y float64) error
	SetScale(ctx context.Context, scaleX, scaleY float64) error
	SetImage(ctx context.Context, imagePath string) error
}

// Persona is the responder surface exposed for runtime tweaks.
type Persona interface {
	SetSystemPrompt(prompt string)
	ClearHistory()
}

// Transcript reads back the persisted chat log.
type Transcript interface {
	MessagesSince(ctx context.Context, since time.Time) ([]chatlog.Entry, error)
}

var (
	_ Pipeline      = (*live.Orchestrator)(nil)
	_ Studio        = (*obs.Client)(nil)
	_ AvatarControl = (*obs.Avatar)(nil)
	_ Transcript    = (*chatlog.Logger)(nil)
)

type Config struct {
	HostAndPort string
}

// Deps carries everything the routes talk to. Only Pipeline is
// required, the rest may be nil and their routes answer 503.
type Deps struct {
	Pipeline   Pipeline
	Studio     Studio
	Avatar     AvatarControl
	Persona    Persona
	Transcript Transcript
}

type API struct {
	logger zerolog.Logger
	conf   Config

	pipeline   Pipeline
	studio     Studio
	avatar     AvatarControl
	persona    Persona
	transcript Transcript

	hub       *hub
	startedAt time.Time

	mu           sync.RWMutex
	sourceStates map[string]string
}

func New(logger zerolog.Logger, config Config, deps Deps) *API {
	a := &API{
		logger:       logger,
		conf:         config,
		pipeline:     deps.Pipeline,
		studio:       deps.Studio,
		avatar:       deps.Avatar,
		persona:      deps.Persona,
		transcript:   deps.Transcript,
		hub:          newHub(logger),
		startedAt:    time.Now(),
		sourceStates: map[string]string{},
	}

	if a.pipeline != nil {
		a.pipeline.OnOutput(a.hub.broadcastOutput)
	}

	return a
}

// SetSourceState records the connection state of a chat source for the
// status endpoint, for example "twitch" -> "connected".
func (a *API) SetSourceState(source, state string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sourceStates[source] = state
}

func (a *API) snapshotSourceStates() map[string]string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	states := make(map[string]string, len(a.sourceStates)+1)
	for source, state := range a.sourceStates {
		states[source] = state
	}

	if a.studio != nil {
		states["studio"] = a.studio.State().String()
	}

	return states
}

func (a *API) Launch(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:           a.conf.HostAndPort,
		WriteTimeout:   time.Second * 15,
		ReadTimeout:    time.Second * 15,
		IdleTimeout:    time.Second * 60,
		MaxHeaderBytes: 2 * 1024,
		Handler:        router(a.logger, a),
	}

	httpSrv.RegisterOnShutdown(func() {
		a.logger.Info().Msg("http shutdown started")
	})

	wg, ctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		a.logger.Info().
			Str("addr", httpSrv.Addr).
			Msg("starting http server")

		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	wg.Go(func() error {
		<-ctx.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second*15)
		defer cancel()

		if err := httpSrv.Shutdown(ctx); err != nil {
			return err
		}

		a.logger.Info().Msg("shutdown done")

		return nil
	})

	if err := wg.Wait(); err != nil {
		return err
	}

	return nil
}

func (a *API) getLoggerFrom(ctx context.Context) zerolog.Logger {
	if logger := ctx.Value(loggerKey); logger != nil {
		typed, ok := logger.(zerolog.Logger)

		if ok {
			return typed
		}
	}

	return a.logger
}
