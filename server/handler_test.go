package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/watari-ai/lobby/chatlog"
	"github.com/watari-ai/lobby/live"
	"github.com/watari-ai/lobby/obs"
)

type fakePipeline struct {
	mu sync.Mutex

	running  bool
	normal   int
	priority int
	stats    live.Stats

	admit bool
	added []live.Input

	processNow func(live.Input) (live.Output, error)
	onOutput   func(live.Output)
}

func (f *fakePipeline) Running() bool { return f.running }

func (f *fakePipeline) QueueDepth() (int, int) { return f.normal, f.priority }

func (f *fakePipeline) Stats() live.Stats { return f.stats }

func (f *fakePipeline) AddInput(in live.Input) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, in)
	return f.admit
}

func (f *fakePipeline) ProcessNow(_ context.Context, in live.Input) (live.Output, error) {
	if f.processNow == nil {
		return live.Output{}, nil
	}
	return f.processNow(in)
}

func (f *fakePipeline) OnOutput(fn func(live.Output)) { f.onOutput = fn }

func (f *fakePipeline) addedInputs() []live.Input {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]live.Input(nil), f.added...)
}

type fakeStudio struct {
	mu    sync.Mutex
	calls []string

	state      obs.State
	version    obs.Version
	scenes     []obs.Scene
	current    string
	items      []obs.SceneItem
	vcamActive bool

	err error
}

func (f *fakeStudio) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeStudio) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeStudio) State() obs.State { return f.state }

func (f *fakeStudio) GetVersion(context.Context) (obs.Version, error) {
	return f.version, f.err
}

func (f *fakeStudio) GetSceneList(context.Context) ([]obs.Scene, string, error) {
	return f.scenes, f.current, f.err
}

func (f *fakeStudio) GetCurrentProgramScene(context.Context) (string, error) {
	return f.current, f.err
}

func (f *fakeStudio) SetCurrentProgramScene(_ context.Context, sceneName string) error {
	f.record("SetCurrentProgramScene:%s", sceneName)
	return f.err
}

func (f *fakeStudio) GetSceneItemList(_ context.Context, sceneName string) ([]obs.SceneItem, error) {
	f.record("GetSceneItemList:%s", sceneName)
	return f.items, f.err
}

func (f *fakeStudio) SetSceneItemEnabled(_ context.Context, sceneName string, sceneItemID int, enabled bool) error {
	f.record("SetSceneItemEnabled:%s:%d:%t", sceneName, sceneItemID, enabled)
	return f.err
}

func (f *fakeStudio) GetVirtualCamStatus(context.Context) (bool, error) {
	return f.vcamActive, f.err
}

func (f *fakeStudio) StartVirtualCam(context.Context) error {
	f.record("StartVirtualCam")
	return f.err
}

func (f *fakeStudio) StopVirtualCam(context.Context) error {
	f.record("StopVirtualCam")
	return f.err
}

func (f *fakeStudio) ToggleVirtualCam(context.Context) (bool, error) {
	f.record("ToggleVirtualCam")
	return !f.vcamActive, f.err
}

type fakeAvatar struct {
	mu     sync.Mutex
	calls  []string
	scene  string
	source string

	err error
}

func (f *fakeAvatar) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeAvatar) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAvatar) Rebind(scene, source string) {
	f.mu.Lock()
	f.scene, f.source = scene, source
	f.mu.Unlock()
	f.record("Rebind:%s:%s", scene, source)
}

func (f *fakeAvatar) Binding() (string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scene, f.source
}

func (f *fakeAvatar) Show(context.Context) error {
	f.record("Show")
	return f.err
}

func (f *fakeAvatar) Hide(context.Context) error {
	f.record("Hide")
	return f.err
}

func (f *fakeAvatar) SetPosition(_ context.Context, x, y float64) error {
	f.record("SetPosition:%v:%v", x, y)
	return f.err
}

func (f *fakeAvatar) SetScale(_ context.Context, scaleX, scaleY float64) error {
	f.record("SetScale:%v:%v", scaleX, scaleY)
	return f.err
}

func (f *fakeAvatar) SetImage(_ context.Context, imagePath string) error {
	f.record("SetImage:%s", imagePath)
	return f.err
}

type fakePersona struct {
	mu      sync.Mutex
	prompt  string
	cleared int
}

func (f *fakePersona) SetSystemPrompt(prompt string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompt = prompt
}

func (f *fakePersona) ClearHistory() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
}

type fakeTranscript struct {
	entries []chatlog.Entry
	since   time.Time
	err     error
}

func (f *fakeTranscript) MessagesSince(_ context.Context, since time.Time) ([]chatlog.Entry, error) {
	f.since = since
	return f.entries, f.err
}

func newTestAPI(t *testing.T, deps Deps) *API {
	t.Helper()
	return New(zerolog.Nop(), Config{HostAndPort: "localhost:0"}, deps)
}

// serveJSON runs a request through the full router and decodes the
// JSON answer.
func serveJSON(t *testing.T, api *API, req *http.Request, dst any) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	router(zerolog.Nop(), api).ServeHTTP(rec, req)

	if dst != nil && rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
	}

	return rec
}

func TestHandleGetHealth(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t, Deps{Pipeline: &fakePipeline{}})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	router(zerolog.Nop(), api).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "UP", rec.Body.String())
}

func TestHandleGetStatus(t *testing.T) {
	t.Parallel()

	pipe := &fakePipeline{
		running:  true,
		normal:   3,
		priority: 1,
		stats:    live.Stats{Processed: 42, Filtered: 5, Failed: 2},
	}
	studio := &fakeStudio{state: obs.StateReady}

	api := newTestAPI(t, Deps{Pipeline: pipe, Studio: studio})
	api.SetSourceState("twitch", "connected")
	api.SetSourceState("youtube", "polling")

	var resp statusResponse
	rec := serveJSON(t, api, httptest.NewRequest(http.MethodGet, "/api/status", nil), &resp)

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Running)
	require.Equal(t, 3, resp.Queue.Normal)
	require.Equal(t, 1, resp.Queue.Priority)
	require.Equal(t, uint64(42), resp.Counters.Processed)
	require.Equal(t, uint64(5), resp.Counters.Filtered)
	require.Equal(t, uint64(2), resp.Counters.Failed)
	require.Equal(t, "connected", resp.Sources["twitch"])
	require.Equal(t, "polling", resp.Sources["youtube"])
	require.Equal(t, "ready", resp.Sources["studio"])
	require.NotEmpty(t, resp.Uptime)
	require.False(t, resp.StartedAt.IsZero())
}

func TestHandleGetStatus_NoStudioConfigured(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t, Deps{Pipeline: &fakePipeline{}})

	var resp statusResponse
	rec := serveJSON(t, api, httptest.NewRequest(http.MethodGet, "/api/status", nil), &resp)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, resp.Sources, "studio")
}
