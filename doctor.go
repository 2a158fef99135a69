package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"

	"github.com/watari-ai/lobby/httputil"
	"github.com/watari-ai/lobby/obs"
	"github.com/watari-ai/lobby/responder"
	"github.com/watari-ai/lobby/save"
	"github.com/watari-ai/lobby/speech"
)

const probeTimeout = 3 * time.Second

var doctorCMD = &cli.Command{
	Name:  "doctor",
	Usage: "Check that every backing service is reachable",
	Description: "Probes the studio, the responder and the speech service at their " +
		"configured addresses and reports what is missing before going live",
	Action: runDoctor,
}

type checkResult struct {
	name   string
	ok     bool
	detail string
}

func runDoctor(ctx context.Context, command *cli.Command) error {
	// The probes stay silent, the report below is the output.
	quiet := zerolog.Nop()

	var results []checkResult

	settings, err := loadSettings(command)
	if err != nil {
		results = append(results, checkResult{name: "settings", detail: err.Error()})
		settings = save.BuildDefaultSettings()
	} else {
		results = append(results, checkResult{name: "settings", ok: true, detail: settingsOrigin(command)})
	}

	secrets := save.NewSecrets(afero.NewOsFs())
	if secrets.Plain() {
		results = append(results, checkResult{name: "secrets", ok: true, detail: "plain file, no OS keyring found"})
	} else {
		results = append(results, checkResult{name: "secrets", ok: true, detail: "OS keyring"})
	}

	httpClient := &http.Client{
		Transport: httputil.NewLobbyRoundTrip(nil, quiet, Version),
	}

	results = append(results,
		checkStudio(ctx, settings, secrets),
		checkResponder(ctx, settings, secrets, httpClient, quiet),
		checkSpeech(ctx, settings, secrets, httpClient, quiet),
		checkAudioDir(settings),
	)

	failed := 0

	for _, res := range results {
		verdict := "ok"
		if !res.ok {
			verdict = "FAIL"
			failed++
		}

		fmt.Fprintf(os.Stdout, "%-10s %-5s %s\n", res.name, verdict, res.detail)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d checks failed", failed, len(results))
	}

	return nil
}

func settingsOrigin(command *cli.Command) string {
	if path := command.String("config"); path != "" {
		return path
	}

	path, err := save.SettingsPath()
	if err != nil {
		return "user config dir"
	}

	return path
}

// checkStudio dials the studio websocket, waits for the ready state
// and asks for the version.
func checkStudio(ctx context.Context, settings save.Settings, secrets *save.Secrets) checkResult {
	res := checkResult{name: "studio"}

	password, err := secrets.GetOr(save.SecretStudioPassword, "")
	if err != nil {
		res.detail = err.Error()
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	url := settings.Studio.URL()
	client := obs.NewClient(url, password,
		obs.WithLogger(zerolog.Nop()),
		obs.WithReconnectPolicy(probeTimeout, 1),
	)

	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			res.detail = fmt.Sprintf("%s: %v", url, err)
			return res
		case <-ticker.C:
			if !client.IsReady() {
				continue
			}

			version, err := client.GetVersion(ctx)
			cancel()
			<-done

			res.ok = true

			if err != nil {
				res.detail = url
				return res
			}

			res.detail = fmt.Sprintf("OBS %s on %s at %s", version.OBSVersion, version.Platform, url)
			return res
		}
	}
}

func checkResponder(ctx context.Context, settings save.Settings, secrets *save.Secrets, httpClient *http.Client, logger zerolog.Logger) checkResult {
	base := settings.Pipeline.Responder.BaseURL
	if base == "" {
		base = responder.DefaultBaseURL
	}

	res := checkResult{name: "responder", detail: base}

	client, err := buildResponder(settings, secrets, httpClient, logger)
	if err != nil {
		res.detail = err.Error()
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if !client.Health(ctx) {
		res.detail = base + " not reachable"
		return res
	}

	res.ok = true
	return res
}

func checkSpeech(ctx context.Context, settings save.Settings, secrets *save.Secrets, httpClient *http.Client, logger zerolog.Logger) checkResult {
	base := settings.Pipeline.Speech.BaseURL
	if base == "" {
		base = speech.DefaultBaseURL
	}

	res := checkResult{name: "speech", detail: base}

	apiKey, err := secrets.GetOr(save.SecretSpeechAPIKey, "")
	if err != nil {
		res.detail = err.Error()
		return res
	}

	client := speech.NewClient(speech.Config{
		BaseURL: settings.Pipeline.Speech.BaseURL,
		Voice:   settings.Pipeline.Speech.Voice,
		APIKey:  apiKey,
		Model:   settings.Pipeline.Speech.Model,
		Format:  settings.Pipeline.Speech.Format,
	}, httpClient, afero.NewOsFs(), logger)

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if !client.Health(ctx) {
		res.detail = base + " not reachable"
		return res
	}

	res.ok = true
	return res
}

// checkAudioDir verifies the synthesized audio location is writable.
func checkAudioDir(settings save.Settings) checkResult {
	dir := settings.Pipeline.Speech.AudioDir
	if dir == "" {
		dir = save.AudioDir()
	}

	res := checkResult{name: "audio dir", detail: dir}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		res.detail = fmt.Sprintf("%s: %v", dir, err)
		return res
	}

	f, err := os.CreateTemp(dir, "doctor-*")
	if err != nil {
		res.detail = fmt.Sprintf("%s not writable: %v", dir, err)
		return res
	}

	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)

	res.ok = true
	return res
}
