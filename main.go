package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"

	"github.com/watari-ai/lobby/save"
)

const logFileName = "log.txt"

func main() {
	_ = godotenv.Load()

	app := &cli.Command{
		Name:        "lobby",
		Description: "Control plane for the virtual performer 倉土ロビィ",
		Usage:       "Run 倉土ロビィ's live pipeline, studio remote and chat ingestion",
		Commands: []*cli.Command{
			liveCMD,
			serveCMD,
			doctorCMD,
			authCMD,
			versionCMD,
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to a settings file, defaults to the user config dir",
				Sources: cli.EnvVars("LOBBY_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (trace, debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOBBY_LOG_LEVEL"),
			},
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error while running lobby: %v\n", err)
		os.Exit(1)
	}
}

// setupLogger writes pretty logs to the terminal when attached to one
// and JSON lines into the data dir otherwise, so a service run leaves
// a trail.
func setupLogger(command *cli.Command) (zerolog.Logger, func(), error) {
	level, err := zerolog.ParseLevel(command.String("log-level"))
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("invalid log level %q: %w", command.String("log-level"), err)
	}

	if isatty.IsTerminal(os.Stderr.Fd()) {
		logger := zerolog.New(zerolog.NewConsoleWriter()).
			Level(level).
			With().Timestamp().Logger()
		log.Logger = logger

		return logger, func() {}, nil
	}

	dir := save.DataDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("could not create data dir: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, logFileName), os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("could not open log file: %w", err)
	}

	logger := zerolog.New(f).Level(level).With().Timestamp().Logger()
	log.Logger = logger

	return logger, func() { _ = f.Close() }, nil
}

func loadSettings(command *cli.Command) (save.Settings, error) {
	if path := command.String("config"); path != "" {
		return save.LoadSettingsFile(afero.NewOsFs(), path)
	}

	return save.SettingsFromDisk()
}
