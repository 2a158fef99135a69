package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/watari-ai/lobby/emotion"
	"github.com/watari-ai/lobby/httputil"
	"github.com/watari-ai/lobby/live"
	"github.com/watari-ai/lobby/obs"
	"github.com/watari-ai/lobby/save"
	"github.com/watari-ai/lobby/server"
	"github.com/watari-ai/lobby/telemetry"
)

var serveCMD = &cli.Command{
	Name:  "serve",
	Usage: "Rehearsal mode: the pipeline and the control API without chat",
	Description: "Runs the response pipeline and the control API so lines can be fed " +
		"manually over HTTP. No chat source is connected and nothing is logged " +
		"to the transcript",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "no-studio",
			Usage: "Run without a studio connection",
		},
	},
	Action: runServe,
}

func runServe(ctx context.Context, command *cli.Command) error {
	logger, closeLogger, err := setupLogger(command)
	if err != nil {
		return err
	}
	defer closeLogger()

	settings, err := loadSettings(command)
	if err != nil {
		logger.Err(err).Msg("could not load settings")
		return err
	}

	secrets := save.NewSecrets(afero.NewOsFs())

	telemetry.Init()

	httpClient := &http.Client{
		Transport: httputil.NewLobbyRoundTrip(nil, logger.With().Str("component", "http").Logger(), Version),
	}

	responderClient, err := buildResponder(settings, secrets, httpClient, logger)
	if err != nil {
		return err
	}

	speaker, err := buildSpeaker(settings, secrets, httpClient, logger)
	if err != nil {
		return err
	}

	var studio *obs.Client
	var avatar *obs.Avatar

	if !command.Bool("no-studio") {
		password, err := secrets.GetOr(save.SecretStudioPassword, "")
		if err != nil {
			return fmt.Errorf("could not read the studio password: %w", err)
		}

		studio = obs.NewClient(settings.Studio.URL(), password,
			obs.WithLogger(logger.With().Str("component", "studio").Logger()),
		)
		avatar = obs.NewAvatar(studio, "", "", logger.With().Str("component", "avatar").Logger())
	}

	deps := live.Deps{
		Responder:   responderClient,
		Classifier:  emotion.Analyzer{},
		Synthesizer: speaker,
	}
	if avatar != nil {
		deps.Avatar = avatar
	}

	orc := live.New(live.Config{
		NormalQueueCap:   settings.Queue.NormalCap,
		PriorityQueueCap: settings.Queue.PriorityCap,
		MaxPriorityBurst: settings.Queue.PriorityBurst,
		Filter: live.Filter{
			MinLength:    settings.Filter.MinLength,
			MaxLength:    settings.Filter.MaxLength,
			BlockedWords: settings.Filter.BlockedWords,
		},
	}, deps, logger.With().Str("component", "pipeline").Logger())

	serverDeps := server.Deps{
		Pipeline: orc,
		Persona:  responderClient,
	}
	if studio != nil {
		serverDeps.Studio = studio
		serverDeps.Avatar = avatar
	}

	api := server.New(logger.With().Str("component", "server").Logger(), server.Config{
		HostAndPort: settings.Server.Addr,
	}, serverDeps)

	group, ctx := errgroup.WithContext(ctx)

	if studio != nil {
		group.Go(func() error {
			return studio.Run(ctx)
		})
	}

	group.Go(func() error {
		return api.Launch(ctx)
	})

	orc.Start(ctx)
	defer orc.Stop()

	logger.Info().Str("addr", settings.Server.Addr).Msg("rehearsal server running")

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Err(err).Msg("rehearsal run failed")
		return err
	}

	return nil
}
