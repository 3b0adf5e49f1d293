package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/99designs/keyring"
	"golang.org/x/oauth2"
)

// tokenFormatVersion is the current version of the persisted token envelope.
// Documents without a version field are read as version 0 (a bare token).
const tokenFormatVersion = 1

// TokenStore is an interface for saving and loading OAuth tokens.
// LoadToken returns nil, nil when no token has been stored yet.
type TokenStore interface {
	SaveToken(token *oauth2.Token) error
	LoadToken() (*oauth2.Token, error)
}

type tokenEnvelope struct {
	Version int           `json:"version"`
	Token   *oauth2.Token `json:"token"`
}

func encodeToken(token *oauth2.Token) ([]byte, error) {
	data, err := json.Marshal(tokenEnvelope{Version: tokenFormatVersion, Token: token})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token: %w", err)
	}
	return data, nil
}

func decodeToken(data []byte) (*oauth2.Token, error) {
	var header struct {
		Version *int            `json:"version"`
		Token   json.RawMessage `json:"token"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}

	var token oauth2.Token
	switch {
	case header.Version == nil:
		if err := json.Unmarshal(data, &token); err != nil {
			return nil, fmt.Errorf("failed to unmarshal legacy token: %w", err)
		}
	case *header.Version == tokenFormatVersion:
		if len(header.Token) == 0 {
			return nil, errors.New("token envelope has no token")
		}
		if err := json.Unmarshal(header.Token, &token); err != nil {
			return nil, fmt.Errorf("failed to unmarshal token: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported token format version %d", *header.Version)
	}

	return &token, nil
}

// FileTokenStore is a file-based implementation of token storage.
type FileTokenStore struct {
	Path string
}

// NewFileTokenStore creates a new FileTokenStore with the given path.
func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{Path: path}
}

// SaveToken writes the token envelope next to store.Path and renames it into
// place, so a crash never leaves a truncated token behind.
func (store *FileTokenStore) SaveToken(token *oauth2.Token) error {
	data, err := encodeToken(token)
	if err != nil {
		return err
	}

	dir := filepath.Dir(store.Path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".token-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp token file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set token file mode: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}

	if err := os.Rename(tmpPath, store.Path); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}

	return nil
}

// LoadToken loads an OAuth token from the file at store.Path.
// Returns nil, nil if the file does not exist (no error).
func (store *FileTokenStore) LoadToken() (*oauth2.Token, error) {
	data, err := os.ReadFile(store.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	return decodeToken(data)
}

// KeyringTokenStore keeps the token envelope in the OS keychain.
type KeyringTokenStore struct {
	ring keyring.Keyring
	key  string
}

// NewKeyringTokenStore wraps an already opened keyring.
func NewKeyringTokenStore(ring keyring.Keyring, key string) *KeyringTokenStore {
	return &KeyringTokenStore{ring: ring, key: key}
}

// OpenKeyringTokenStore opens the platform keyring for service.
func OpenKeyringTokenStore(service, key string) (*KeyringTokenStore, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: service,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	return NewKeyringTokenStore(ring, key), nil
}

func (store *KeyringTokenStore) SaveToken(token *oauth2.Token) error {
	data, err := encodeToken(token)
	if err != nil {
		return err
	}

	if err := store.ring.Set(keyring.Item{
		Key:   store.key,
		Data:  data,
		Label: "calmirror OAuth token",
	}); err != nil {
		return fmt.Errorf("failed to store token in keyring: %w", err)
	}
	return nil
}

func (store *KeyringTokenStore) LoadToken() (*oauth2.Token, error) {
	item, err := store.ring.Get(store.key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read token from keyring: %w", err)
	}

	return decodeToken(item.Data)
}
