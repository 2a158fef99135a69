package save

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

type fakeKeyring struct {
	entries map[string]string
}

func newFakeKeyring() *fakeKeyring {
	return &fakeKeyring{entries: map[string]string{}}
}

func (f *fakeKeyring) Set(service, user, password string) error {
	f.entries[service+"/"+user] = password
	return nil
}

func (f *fakeKeyring) Get(service, user string) (string, error) {
	v, ok := f.entries[service+"/"+user]
	if !ok {
		return "", keyring.ErrNotFound
	}
	return v, nil
}

func (f *fakeKeyring) Delete(service, user string) error {
	key := service + "/" + user
	if _, ok := f.entries[key]; !ok {
		return keyring.ErrNotFound
	}
	delete(f.entries, key)
	return nil
}

func (f *fakeKeyring) DeleteAll(service string) error {
	for k := range f.entries {
		delete(f.entries, k)
	}
	return nil
}

func TestSecrets_RoundTrip(t *testing.T) {
	t.Parallel()

	ring := newFakeKeyring()
	secrets := NewSecretsWithKeyring(ring)

	require.NoError(t, secrets.Set(SecretStudioPassword, "hunter2"))

	got, err := secrets.Get(SecretStudioPassword)
	require.NoError(t, err)
	require.Equal(t, "hunter2", got)

	require.Equal(t, "hunter2", ring.entries[keyringService+"/"+SecretStudioPassword])

	require.NoError(t, secrets.Delete(SecretStudioPassword))

	_, err = secrets.Get(SecretStudioPassword)
	require.ErrorIs(t, err, ErrSecretNotFound)
}

func TestSecrets_GetOr(t *testing.T) {
	t.Parallel()

	secrets := NewSecretsWithKeyring(newFakeKeyring())

	got, err := secrets.GetOr(SecretTwitchToken, "")
	require.NoError(t, err)
	require.Empty(t, got)

	require.NoError(t, secrets.Set(SecretTwitchToken, "oauth:abc"))

	got, err = secrets.GetOr(SecretTwitchToken, "")
	require.NoError(t, err)
	require.Equal(t, "oauth:abc", got)
}

func TestSecrets_DeleteMissing(t *testing.T) {
	t.Parallel()

	secrets := NewSecretsWithKeyring(newFakeKeyring())
	require.ErrorIs(t, secrets.Delete(SecretSpeechAPIKey), ErrSecretNotFound)
}

func TestPlainSecretStore_RoundTrip(t *testing.T) {
	t.Parallel()

	store := NewPlainSecretStore(afero.NewMemMapFs())

	_, err := store.Get(keyringService, SecretYouTubeAPIKey)
	require.ErrorIs(t, err, keyring.ErrNotFound)

	require.NoError(t, store.Set(keyringService, SecretYouTubeAPIKey, "yt-key"))
	require.NoError(t, store.Set(keyringService, SecretStudioPassword, "hunter2"))

	got, err := store.Get(keyringService, SecretYouTubeAPIKey)
	require.NoError(t, err)
	require.Equal(t, "yt-key", got)

	require.NoError(t, store.Delete(keyringService, SecretYouTubeAPIKey))

	_, err = store.Get(keyringService, SecretYouTubeAPIKey)
	require.ErrorIs(t, err, keyring.ErrNotFound)

	// the other entry survives the delete
	got, err = store.Get(keyringService, SecretStudioPassword)
	require.NoError(t, err)
	require.Equal(t, "hunter2", got)
}

func TestPlainSecretStore_DeleteAll(t *testing.T) {
	t.Parallel()

	store := NewPlainSecretStore(afero.NewMemMapFs())

	require.NoError(t, store.Set(keyringService, SecretStudioPassword, "hunter2"))
	require.NoError(t, store.Set(keyringService, SecretTwitchToken, "oauth:abc"))

	require.NoError(t, store.DeleteAll(keyringService))

	_, err := store.Get(keyringService, SecretStudioPassword)
	require.ErrorIs(t, err, keyring.ErrNotFound)
}

func TestPlainSecretStore_GarbageFileTreatedAsEmpty(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	store := NewPlainSecretStore(fsys)

	f, err := openCreateConfigFile(fsys, plainSecretFile)
	require.NoError(t, err)
	_, err = f.WriteString("not json at all")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = store.Get(keyringService, SecretStudioPassword)
	require.ErrorIs(t, err, keyring.ErrNotFound)
}

func TestSecretsPlainFallbackThroughFacade(t *testing.T) {
	t.Parallel()

	secrets := NewSecretsWithKeyring(NewPlainSecretStore(afero.NewMemMapFs()))

	require.NoError(t, secrets.Set(SecretResponderAPIKey, "sk-123"))

	got, err := secrets.Get(SecretResponderAPIKey)
	require.NoError(t, err)
	require.Equal(t, "sk-123", got)
}

func TestKnownSecretsCoverEveryName(t *testing.T) {
	t.Parallel()

	require.ElementsMatch(t, KnownSecrets, []string{
		SecretStudioPassword,
		SecretTwitchToken,
		SecretYouTubeAPIKey,
		SecretResponderAPIKey,
		SecretSpeechAPIKey,
	})
}
