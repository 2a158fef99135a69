package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/watari-ai/lobby/chatlog"
	"github.com/watari-ai/lobby/emotion"
	"github.com/watari-ai/lobby/httputil"
	"github.com/watari-ai/lobby/live"
	"github.com/watari-ai/lobby/obs"
	"github.com/watari-ai/lobby/responder"
	"github.com/watari-ai/lobby/save"
	"github.com/watari-ai/lobby/server"
	"github.com/watari-ai/lobby/speech"
	"github.com/watari-ai/lobby/telemetry"
	"github.com/watari-ai/lobby/twitch"
	"github.com/watari-ai/lobby/youtube"
)

var liveCMD = &cli.Command{
	Name:  "live",
	Usage: "Go live: chat sources, pipeline, studio and the control API",
	Description: "Connects the chat sources and the studio, starts the response pipeline " +
		"and serves the local control API until interrupted",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "no-twitch",
			Usage: "Do not read twitch chat",
		},
		&cli.BoolFlag{
			Name:  "no-youtube",
			Usage: "Do not read youtube chat",
		},
		&cli.BoolFlag{
			Name:  "no-studio",
			Usage: "Run without a studio connection",
		},
		&cli.StringFlag{
			Name:    "youtube-stream",
			Usage:   "Video id or URL of the running youtube stream, overrides settings",
			Sources: cli.EnvVars("LOBBY_YOUTUBE_STREAM"),
		},
	},
	Action: runLive,
}

func runLive(ctx context.Context, command *cli.Command) error {
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
	if secrets.Plain() {
		logger.Warn().Msg("no OS keyring found, secrets are stored in a plain file")
	}

	telemetry.Init()

	shutdownTracing, err := telemetry.InitTracing("lobby", Version, logger)
	if err != nil {
		logger.Err(err).Msg("could not set up tracing")
		return err
	}
	defer func() {
		if err := shutdownTracing(context.WithoutCancel(ctx)); err != nil {
			logger.Err(err).Msg("could not shut down tracing")
		}
	}()

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

		// The avatar starts unbound, POST /api/studio/avatar/setup
		// points it at a scene item.
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

	var twitchChat *twitch.Chat

	if !command.Bool("no-twitch") && settings.Twitch.Channel != "" {
		token, err := secrets.GetOr(save.SecretTwitchToken, "")
		if err != nil {
			return fmt.Errorf("could not read the twitch token: %w", err)
		}

		twitchChat = twitch.NewChat(twitch.Config{
			Nick:    settings.Twitch.Nick,
			Token:   token,
			Channel: settings.Twitch.Channel,
			TLS:     settings.Twitch.TLS,
		}, logger.With().Str("component", "twitch").Logger())

		orc.AttachTwitch(twitchChat)
	}

	stream := command.String("youtube-stream")
	if stream == "" {
		stream = settings.YouTube.Stream
	}

	var youtubeChat *youtube.Chat

	if !command.Bool("no-youtube") && stream != "" {
		apiKey, err := secrets.GetOr(save.SecretYouTubeAPIKey, "")
		if err != nil {
			return fmt.Errorf("could not read the youtube API key: %w", err)
		}

		if apiKey == "" {
			return errors.New("youtube chat needs an API key, set one with: lobby auth set youtube_api_key")
		}

		youtubeChat = youtube.NewChat(youtube.Config{
			APIKey: apiKey,
		}, httpClient, logger.With().Str("component", "youtube").Logger())

		orc.AttachYouTube(youtubeChat)
	}

	var chatLogger *chatlog.Logger
	var entries chan chatlog.Entry

	if settings.ChatLog.Enabled {
		path := settings.ChatLog.Path
		if path == "" {
			path = save.DefaultChatLogPath()
		}

		db, err := chatlog.Open(path)
		if err != nil {
			return fmt.Errorf("could not open the transcript database: %w", err)
		}
		defer db.Close()

		roDB, err := chatlog.Open(path)
		if err != nil {
			return fmt.Errorf("could not open the transcript database: %w", err)
		}
		defer roDB.Close()

		chatLogger = chatlog.NewLogger(logger.With().Str("component", "chatlog").Logger(), db, roDB)

		if err := chatLogger.Prepare(ctx); err != nil {
			return fmt.Errorf("could not prepare the transcript database: %w", err)
		}

		channelOf := func(in live.Input) string {
			switch in.Source {
			case live.SourceTwitch:
				return settings.Twitch.Channel
			case live.SourceYouTube:
				return stream
			default:
				return ""
			}
		}

		entries = make(chan chatlog.Entry, 128)
		orc.OnInput(func(in live.Input) {
			select {
			case entries <- chatlog.FromInput(in, channelOf(in)):
			default:
				logger.Warn().Msg("transcript backlog full, dropping entry")
			}
		})
	}

	serverDeps := server.Deps{
		Pipeline: orc,
		Persona:  responderClient,
	}
	if studio != nil {
		serverDeps.Studio = studio
		serverDeps.Avatar = avatar
	}
	if chatLogger != nil {
		serverDeps.Transcript = chatLogger
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

	if twitchChat != nil {
		api.SetSourceState(string(live.SourceTwitch), "connecting")

		group.Go(func() error {
			return twitchChat.Run(ctx)
		})

		group.Go(func() error {
			return watchTwitch(ctx, twitchChat, api)
		})
	}

	if youtubeChat != nil {
		api.SetSourceState(string(live.SourceYouTube), "connecting")

		group.Go(func() error {
			if err := youtubeChat.Connect(ctx, stream); err != nil {
				return fmt.Errorf("could not join the youtube live chat: %w", err)
			}

			api.SetSourceState(string(live.SourceYouTube), "polling")
			telemetry.SetChatConnected("youtube", true)
			defer telemetry.SetChatConnected("youtube", false)

			err := youtubeChat.Run(ctx)
			if errors.Is(err, youtube.ErrChatEnded) {
				api.SetSourceState(string(live.SourceYouTube), "ended")
				return nil
			}

			return err
		})
	}

	if chatLogger != nil {
		group.Go(func() error {
			return chatLogger.Log(ctx, entries)
		})
	}

	group.Go(func() error {
		return api.Launch(ctx)
	})

	orc.Start(ctx)
	defer orc.Stop()

	logger.Info().Str("addr", settings.Server.Addr).Msg("lobby is live")

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Err(err).Msg("live run failed")
		return err
	}

	return nil
}

// watchTwitch mirrors the IRC connection state into the status
// endpoint and the connection gauge.
func watchTwitch(ctx context.Context, chat *twitch.Chat, api *server.API) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			telemetry.SetChatConnected("twitch", false)
			return ctx.Err()
		case <-ticker.C:
			state := "connecting"
			if chat.IsConnected() {
				state = "connected"
			}

			api.SetSourceState(string(live.SourceTwitch), state)
			telemetry.SetChatConnected("twitch", chat.IsConnected())
		}
	}
}

func buildResponder(settings save.Settings, secrets *save.Secrets, httpClient *http.Client, logger zerolog.Logger) (*responder.Client, error) {
	apiKey, err := secrets.GetOr(save.SecretResponderAPIKey, "")
	if err != nil {
		return nil, fmt.Errorf("could not read the responder API key: %w", err)
	}

	systemPrompt := settings.Pipeline.Responder.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = responder.DefaultSystemPrompt
	}

	return responder.NewClient(responder.Config{
		BaseURL:      settings.Pipeline.Responder.BaseURL,
		APIKey:       apiKey,
		Model:        settings.Pipeline.Responder.Model,
		SystemPrompt: systemPrompt,
		MaxTokens:    settings.Pipeline.Responder.MaxTokens,
		Temperature:  settings.Pipeline.Responder.Temperature,
		MaxHistory:   settings.Pipeline.Responder.MaxHistory,
	}, httpClient, logger.With().Str("component", "responder").Logger()), nil
}

func buildSpeaker(settings save.Settings, secrets *save.Secrets, httpClient *http.Client, logger zerolog.Logger) (*speech.Speaker, error) {
	apiKey, err := secrets.GetOr(save.SecretSpeechAPIKey, "")
	if err != nil {
		return nil, fmt.Errorf("could not read the speech API key: %w", err)
	}

	client := speech.NewClient(speech.Config{
		BaseURL: settings.Pipeline.Speech.BaseURL,
		Voice:   settings.Pipeline.Speech.Voice,
		APIKey:  apiKey,
		Model:   settings.Pipeline.Speech.Model,
		Format:  settings.Pipeline.Speech.Format,
	}, httpClient, afero.NewOsFs(), logger.With().Str("component", "speech").Logger())

	audioDir := settings.Pipeline.Speech.AudioDir
	if audioDir == "" {
		audioDir = save.AudioDir()
	}

	return speech.NewSpeaker(client, audioDir), nil
}
