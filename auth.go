package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"

	"github.com/watari-ai/lobby/save"
)

var authCMD = &cli.Command{
	Name:        "auth",
	Usage:       "Manage the stored credentials",
	Description: "Stores service credentials in the OS keyring. Known names: " + strings.Join(save.KnownSecrets, ", "),
	Commands: []*cli.Command{
		{
			Name:      "set",
			Usage:     "Store a credential, value from the argument or stdin",
			ArgsUsage: "<name> [value]",
			Action: func(_ context.Context, command *cli.Command) error {
				name, err := secretName(command)
				if err != nil {
					return err
				}

				value := command.Args().Get(1)
				if value == "" {
					value, err = readSecretLine()
					if err != nil {
						return err
					}
				}

				if value == "" {
					return errors.New("refusing to store an empty value, use delete instead")
				}

				secrets := save.NewSecrets(afero.NewOsFs())
				if err := secrets.Set(name, value); err != nil {
					return fmt.Errorf("could not store %s: %w", name, err)
				}

				if secrets.Plain() {
					fmt.Fprintln(os.Stderr, "warning: no OS keyring found, the value went into a plain file")
				}

				return nil
			},
		},
		{
			Name:      "get",
			Usage:     "Print a stored credential",
			ArgsUsage: "<name>",
			Action: func(_ context.Context, command *cli.Command) error {
				name, err := secretName(command)
				if err != nil {
					return err
				}

				value, err := save.NewSecrets(afero.NewOsFs()).Get(name)
				if err != nil {
					return err
				}

				fmt.Fprintln(os.Stdout, value)

				return nil
			},
		},
		{
			Name:      "delete",
			Usage:     "Remove a stored credential",
			ArgsUsage: "<name>",
			Action: func(_ context.Context, command *cli.Command) error {
				name, err := secretName(command)
				if err != nil {
					return err
				}

				err = save.NewSecrets(afero.NewOsFs()).Delete(name)
				if errors.Is(err, save.ErrSecretNotFound) {
					return nil
				}

				return err
			},
		},
		{
			Name:  "list",
			Usage: "Show which credentials are set",
			Action: func(_ context.Context, _ *cli.Command) error {
				secrets := save.NewSecrets(afero.NewOsFs())

				for _, name := range save.KnownSecrets {
					state := "unset"
					if _, err := secrets.Get(name); err == nil {
						state = "set"
					}

					fmt.Fprintf(os.Stdout, "%-20s %s\n", name, state)
				}

				return nil
			},
		},
	},
}

func secretName(command *cli.Command) (string, error) {
	name := command.Args().Get(0)
	if name == "" {
		return "", errors.New("missing credential name")
	}

	if !slices.Contains(save.KnownSecrets, name) {
		return "", fmt.Errorf("unknown credential %q, known names: %s", name, strings.Join(save.KnownSecrets, ", "))
	}

	return name, nil
}

// readSecretLine reads one line from stdin, so values can be piped in
// without ending up in the shell history.
func readSecretLine() (string, error) {
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}

		return "", errors.New("no value on stdin")
	}

	return strings.TrimSpace(scanner.Text()), nil
}
