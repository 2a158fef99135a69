// Package save owns everything lobby persists between runs: the yaml
// settings file in the user config dir, the keyring-backed secret
// store and the xdg data paths for generated artifacts.
package save

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/watari-ai/lobby/live"
	"github.com/watari-ai/lobby/responder"
	"github.com/watari-ai/lobby/speech"
)

const settingsFileName = "settings.yaml"

type Settings struct {
	Studio   StudioSettings   `yaml:"studio"`
	Twitch   TwitchSettings   `yaml:"twitch"`
	YouTube  YouTubeSettings  `yaml:"youtube"`
	Pipeline PipelineSettings `yaml:"pipeline"`
	Filter   FilterSettings   `yaml:"filter"`
	Queue    QueueSettings    `yaml:"queue"`
	Server   ServerSettings   `yaml:"server"`
	ChatLog  ChatLogSettings  `yaml:"chatlog"`
}

type StudioSettings struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// URL renders the websocket address the studio client dials.
func (s StudioSettings) URL() string {
	return fmt.Sprintf("ws://%s:%d", s.Host, s.Port)
}

type TwitchSettings struct {
	Channel string `yaml:"channel"`
	Nick    string `yaml:"nick"`
	TLS     bool   `yaml:"tls"`
}

type YouTubeSettings struct {
	Stream string `yaml:"stream"`
}

type PipelineSettings struct {
	Responder ResponderSettings `yaml:"responder"`
	Speech    SpeechSettings    `yaml:"speech"`
}

type ResponderSettings struct {
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	// SystemPrompt replaces the built-in persona when set.
	SystemPrompt string `yaml:"system_prompt"`
	MaxHistory   int    `yaml:"max_history"`
}

type SpeechSettings struct {
	BaseURL string `yaml:"base_url"`
	Voice   string `yaml:"voice"`
	Model   string `yaml:"model"`
	Format  string `yaml:"format"`
	// AudioDir overrides the xdg data location for generated audio.
	AudioDir string `yaml:"audio_dir"`
}

type FilterSettings struct {
	MinLength    int      `yaml:"min_length"`
	MaxLength    int      `yaml:"max_length"`
	BlockedWords []string `yaml:"blocked_words"`
}

type QueueSettings struct {
	NormalCap     int `yaml:"normal_cap"`
	PriorityCap   int `yaml:"priority_cap"`
	PriorityBurst int `yaml:"priority_burst"`
}

type ServerSettings struct {
	Addr string `yaml:"addr"`
}

type ChatLogSettings struct {
	Enabled bool `yaml:"enabled"`
	// Path overrides the xdg data location for the transcript DB.
	Path string `yaml:"path"`
}

func BuildDefaultSettings() Settings {
	return Settings{
		Studio: StudioSettings{
			Host: "localhost",
			Port: 4455,
		},
		Twitch: TwitchSettings{
			Nick: "justinfan12345",
		},
		Pipeline: PipelineSettings{
			Responder: ResponderSettings{
				BaseURL:     responder.DefaultBaseURL,
				MaxTokens:   responder.DefaultMaxTokens,
				Temperature: responder.DefaultTemperature,
				MaxHistory:  responder.DefaultMaxHistory,
			},
			Speech: SpeechSettings{
				BaseURL: speech.DefaultBaseURL,
				Voice:   speech.DefaultVoice,
				Model:   speech.DefaultModel,
				Format:  speech.DefaultFormat,
			},
		},
		Filter: FilterSettings{
			MinLength: live.DefaultMinLength,
			MaxLength: live.DefaultMaxLength,
		},
		Queue: QueueSettings{
			NormalCap:   live.DefaultNormalQueueCap,
			PriorityCap: live.DefaultPriorityQueueCap,
		},
		Server: ServerSettings{
			Addr: "localhost:8920",
		},
		ChatLog: ChatLogSettings{
			Enabled: true,
		},
	}
}

// defaultSettingsYAML is written on first run. It must stay parseable
// into BuildDefaultSettings, settings_test.go checks that.
const defaultSettingsYAML = `# lobby settings
studio:
  # obs websocket server, password lives in the keyring (lobby auth set studio_password)
  host: localhost
  port: 4455
twitch:
  # channel to read, without the leading #
  channel: ""
  # the justinfan nick connects anonymously read-only, set your own nick
  # plus the keyring token (lobby auth set twitch_token) to chat back
  nick: justinfan12345
  tls: false
youtube:
  # live stream id, api key comes from the keyring (lobby auth set youtube_api_key)
  stream: ""
pipeline:
  responder:
    base_url: http://localhost:18789
    # empty keeps the gateway's default model
    model: ""
    max_tokens: 500
    temperature: 0.8
    # empty keeps the built-in persona
    system_prompt: ""
    # remembered exchanges per conversation
    max_history: 20
  speech:
    base_url: http://localhost:8880/v1
    voice: Vivian
    model: qwen3-tts
    format: mp3
    # empty stores audio under the xdg data dir
    audio_dir: ""
filter:
  min_length: 1
  max_length: 200
  blocked_words: []
queue:
  normal_cap: 50
  priority_cap: 20
  # 0 never interrupts a priority streak for normal chat
  priority_burst: 0
server:
  addr: localhost:8920
chatlog:
  enabled: true
  # empty stores the transcript db under the xdg data dir
  path: ""
`

func (s Settings) Validate() error {
	if s.Studio.Host == "" {
		return fmt.Errorf("studio.host cannot be empty")
	}

	if s.Studio.Port < 1 || s.Studio.Port > 65535 {
		return fmt.Errorf("studio.port %d is not a valid port", s.Studio.Port)
	}

	if s.Twitch.Channel != "" && s.Twitch.Nick == "" {
		return fmt.Errorf("twitch.nick cannot be empty when twitch.channel is set")
	}

	if s.Filter.MinLength < 0 {
		return fmt.Errorf("filter.min_length cannot be negative")
	}

	if s.Filter.MaxLength > 0 && s.Filter.MinLength > s.Filter.MaxLength {
		return fmt.Errorf("filter.min_length %d exceeds filter.max_length %d", s.Filter.MinLength, s.Filter.MaxLength)
	}

	for _, word := range s.Filter.BlockedWords {
		if word == "" {
			return fmt.Errorf("filter.blocked_words entry cannot be an empty string")
		}
	}

	if s.Queue.NormalCap < 1 {
		return fmt.Errorf("queue.normal_cap must be at least 1")
	}

	if s.Queue.PriorityCap < 1 {
		return fmt.Errorf("queue.priority_cap must be at least 1")
	}

	if s.Queue.PriorityBurst < 0 {
		return fmt.Errorf("queue.priority_burst cannot be negative")
	}

	if s.Pipeline.Responder.MaxTokens < 1 {
		return fmt.Errorf("pipeline.responder.max_tokens must be at least 1")
	}

	if s.Pipeline.Responder.Temperature < 0 || s.Pipeline.Responder.Temperature > 2 {
		return fmt.Errorf("pipeline.responder.temperature %g must be between 0 and 2", s.Pipeline.Responder.Temperature)
	}

	if s.Pipeline.Speech.Format == "" {
		return fmt.Errorf("pipeline.speech.format cannot be empty")
	}

	if s.Server.Addr == "" {
		return fmt.Errorf("server.addr cannot be empty")
	}

	return nil
}

// LoadSettings reads settings.yaml from the config dir on fsys. A
// missing or empty file writes the commented default template and
// returns the defaults. Values absent from the file keep their
// defaults.
func LoadSettings(fsys afero.Fs) (Settings, error) {
	f, err := openCreateConfigFile(fsys, settingsFileName)
	if err != nil {
		return Settings{}, err
	}

	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return Settings{}, err
	}

	if stat.Size() == 0 {
		if _, err := io.WriteString(f, defaultSettingsYAML); err != nil {
			return Settings{}, err
		}

		return BuildDefaultSettings(), nil
	}

	b, err := io.ReadAll(f)
	if err != nil {
		return Settings{}, err
	}

	return parseSettings(b)
}

// LoadSettingsFile reads settings from an explicit path instead of the
// config dir. The file must exist, no template is written.
func LoadSettingsFile(fsys afero.Fs, path string) (Settings, error) {
	b, err := afero.ReadFile(fsys, path)
	if err != nil {
		return Settings{}, err
	}

	return parseSettings(b)
}

func parseSettings(b []byte) (Settings, error) {
	settings := BuildDefaultSettings()

	if err := yaml.Unmarshal(b, &settings); err != nil {
		return Settings{}, err
	}

	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}

	return settings, nil
}

func SettingsFromDisk() (Settings, error) {
	return LoadSettings(afero.NewOsFs())
}

// SettingsPath is where SettingsFromDisk reads and creates the
// settings file.
func SettingsPath() (string, error) {
	configDir, err := ConfigDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, settingsFileName), nil
}
