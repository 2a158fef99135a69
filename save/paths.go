package save

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/spf13/afero"
)

const lobbyDirName = "lobby"

// ConfigDir returns the lobby config directory for this user.
func ConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, lobbyDirName), nil
}

// DataDir is where generated artifacts live, the audio clips and the
// transcript database.
func DataDir() string {
	return filepath.Join(xdg.DataHome, lobbyDirName)
}

// AudioDir is the default location for synthesized audio files.
func AudioDir() string {
	return filepath.Join(DataDir(), "audio")
}

// DefaultChatLogPath is the default location of the transcript database.
func DefaultChatLogPath() string {
	return filepath.Join(DataDir(), "chatlog.db")
}

func openCreateFile(fsys afero.Fs, base, file string) (afero.File, error) {
	dir := filepath.Join(base, lobbyDirName)

	if err := fsys.MkdirAll(dir, 0o755); err != nil && !errors.Is(err, afero.ErrFileExists) {
		return nil, err
	}

	return fsys.OpenFile(filepath.Join(dir, file), os.O_RDWR|os.O_CREATE, 0o600)
}

func openCreateConfigFile(fsys afero.Fs, file string) (afero.File, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, err
	}

	return openCreateFile(fsys, configDir, file)
}
