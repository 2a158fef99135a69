package save

import (
	"errors"
	"sync"

	"github.com/spf13/afero"
	"github.com/zalando/go-keyring"
)

// keyringService namespaces every lobby credential in the OS keyring.
const keyringService = "lobby"

// Names of the credentials lobby knows how to use.
const (
	SecretStudioPassword  = "studio_password"
	SecretTwitchToken     = "twitch_token"
	SecretYouTubeAPIKey   = "youtube_api_key"
	SecretResponderAPIKey = "responder_api_key"
	SecretSpeechAPIKey    = "speech_api_key"
)

// KnownSecrets lists every credential name the auth command accepts.
var KnownSecrets = []string{
	SecretStudioPassword,
	SecretTwitchToken,
	SecretYouTubeAPIKey,
	SecretResponderAPIKey,
	SecretSpeechAPIKey,
}

var ErrSecretNotFound = errors.New("secret not found")

// probeSecret is looked up once to find out whether an OS keyring
// answers at all.
const probeSecret = "keyring_probe"

var _ keyring.Keyring = keyringWrapper{}

// keyringWrapper serializes access to the process-global keyring
// functions.
type keyringWrapper struct {
	m *sync.Mutex
}

func newKeyringWrapper() keyringWrapper {
	return keyringWrapper{m: &sync.Mutex{}}
}

func (k keyringWrapper) Set(service, user, password string) error {
	k.m.Lock()
	defer k.m.Unlock()
	return keyring.Set(service, user, password)
}

func (k keyringWrapper) Get(service, user string) (string, error) {
	k.m.Lock()
	defer k.m.Unlock()
	return keyring.Get(service, user)
}

func (k keyringWrapper) Delete(service, user string) error {
	k.m.Lock()
	defer k.m.Unlock()
	return keyring.Delete(service, user)
}

func (k keyringWrapper) DeleteAll(service string) error {
	k.m.Lock()
	defer k.m.Unlock()
	return keyring.DeleteAll(service)
}

// Secrets stores lobby credentials under one keyring service.
type Secrets struct {
	ring  keyring.Keyring
	plain bool
}

// NewSecrets probes the OS keyring and falls back to the plain file
// store on fsys when none answers. Headless hosts rarely run one.
func NewSecrets(fsys afero.Fs) *Secrets {
	ring := newKeyringWrapper()

	if _, err := ring.Get(keyringService, probeSecret); err == nil || errors.Is(err, keyring.ErrNotFound) {
		return &Secrets{ring: ring}
	}

	return &Secrets{ring: NewPlainSecretStore(fsys), plain: true}
}

// NewSecretsWithKeyring wires an explicit keyring implementation.
func NewSecretsWithKeyring(ring keyring.Keyring) *Secrets {
	return &Secrets{ring: ring}
}

// Plain reports whether secrets end up in the unencrypted fallback
// file. The doctor command warns about it.
func (s *Secrets) Plain() bool {
	return s.plain
}

func (s *Secrets) Set(name, value string) error {
	return s.ring.Set(keyringService, name, value)
}

func (s *Secrets) Get(name string) (string, error) {
	value, err := s.ring.Get(keyringService, name)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrSecretNotFound
		}

		return "", err
	}

	return value, nil
}

// GetOr returns the stored value, or fallback when the secret is not
// set. Other lookup failures still surface.
func (s *Secrets) GetOr(name, fallback string) (string, error) {
	value, err := s.Get(name)
	if errors.Is(err, ErrSecretNotFound) {
		return fallback, nil
	}

	if err != nil {
		return "", err
	}

	return value, nil
}

func (s *Secrets) Delete(name string) error {
	err := s.ring.Delete(keyringService, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrSecretNotFound
	}

	return err
}
