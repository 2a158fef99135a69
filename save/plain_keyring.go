package save

import (
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/spf13/afero"
	"github.com/zalando/go-keyring"
)

var _ keyring.Keyring = &PlainSecretStore{}

const plainSecretFile = "secret_fallback.json"

// PlainSecretStore keeps credentials in an unencrypted JSON file in
// the config dir, keyed by secret name. It only exists for hosts
// without a working OS keyring.
type PlainSecretStore struct {
	m    *sync.RWMutex
	fsys afero.Fs
}

func NewPlainSecretStore(fsys afero.Fs) *PlainSecretStore {
	return &PlainSecretStore{
		m:    &sync.RWMutex{},
		fsys: fsys,
	}
}

func (p *PlainSecretStore) Set(_, user, password string) error {
	p.m.Lock()
	defer p.m.Unlock()

	secrets, err := p.read()
	if err != nil {
		return err
	}

	secrets[user] = password

	return p.write(secrets)
}

func (p *PlainSecretStore) Get(_, user string) (string, error) {
	p.m.RLock()
	defer p.m.RUnlock()

	secrets, err := p.read()
	if err != nil {
		return "", err
	}

	value, ok := secrets[user]
	if !ok {
		return "", keyring.ErrNotFound
	}

	return value, nil
}

func (p *PlainSecretStore) Delete(_, user string) error {
	p.m.Lock()
	defer p.m.Unlock()

	secrets, err := p.read()
	if err != nil {
		return err
	}

	if _, ok := secrets[user]; !ok {
		return keyring.ErrNotFound
	}

	delete(secrets, user)

	return p.write(secrets)
}

func (p *PlainSecretStore) DeleteAll(_ string) error {
	p.m.Lock()
	defer p.m.Unlock()

	return p.write(map[string]string{})
}

func (p *PlainSecretStore) read() (map[string]string, error) {
	f, err := openCreateConfigFile(p.fsys, plainSecretFile)
	if err != nil {
		return nil, err
	}

	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	secrets := map[string]string{}
	if len(data) == 0 {
		return secrets, nil
	}

	if err := json.Unmarshal(data, &secrets); err != nil {
		syntaxErr := &json.SyntaxError{}
		if errors.As(err, &syntaxErr) {
			return map[string]string{}, nil
		}

		return nil, err
	}

	return secrets, nil
}

func (p *PlainSecretStore) write(secrets map[string]string) error {
	f, err := openCreateConfigFile(p.fsys, plainSecretFile)
	if err != nil {
		return err
	}

	defer f.Close()

	data, err := json.Marshal(secrets)
	if err != nil {
		return err
	}

	if err := f.Truncate(0); err != nil {
		return err
	}

	if _, err := f.Seek(0, 0); err != nil {
		return err
	}

	_, err = f.Write(data)

	return err
}
