package oauth2

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/99designs/keyring"
	"golang.org/x/oauth2"
)

const keyringService = "thread-archiver"

var ErrNoToken = errors.New("no OAuth2 token stored")

// TokenStore persists one token per account.
type TokenStore interface {
	Load(account string) (*oauth2.Token, error)
	Save(account string, token *oauth2.Token) error
	Delete(account string) error
}

// NewTokenStore opens the store named by kind ("file" or "keyring"). dir
// holds token files, or the keyring's file fallback.
func NewTokenStore(kind, dir string) (TokenStore, error) {
	switch kind {
	case "", "file":
		return NewFileTokenStore(dir)
	case "keyring":
		return NewKeyringTokenStore(dir)
	default:
		return nil, fmt.Errorf("unsupported token store: %s", kind)
	}
}

type FileTokenStore struct {
	dir string
}

func NewFileTokenStore(dir string) (*FileTokenStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create token directory: %w", err)
	}
	return &FileTokenStore{dir: dir}, nil
}

func (s *FileTokenStore) path(account string) string {
	return filepath.Join(s.dir, account+".json")
}

func (s *FileTokenStore) Load(account string) (*oauth2.Token, error) {
	data, err := os.ReadFile(s.path(account))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	return decodeToken(data)
}

func (s *FileTokenStore) Save(account string, token *oauth2.Token) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	if err := os.WriteFile(s.path(account), data, 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

func (s *FileTokenStore) Delete(account string) error {
	err := os.Remove(s.path(account))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNoToken
	}
	if err != nil {
		return fmt.Errorf("failed to delete token file: %w", err)
	}
	return nil
}

// KeyringTokenStore keeps tokens in the system keyring, falling back to an
// encrypted file keyring under dir.
type KeyringTokenStore struct {
	ring keyring.Keyring
}

func NewKeyringTokenStore(dir string) (*KeyringTokenStore, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  dir,
		FilePasswordFunc:         keyring.FixedStringPrompt(keyringService + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	return &KeyringTokenStore{ring: ring}, nil
}

// NewKeyringTokenStoreFrom wraps an already opened keyring.
func NewKeyringTokenStoreFrom(ring keyring.Keyring) *KeyringTokenStore {
	return &KeyringTokenStore{ring: ring}
}

func (s *KeyringTokenStore) Load(account string) (*oauth2.Token, error) {
	item, err := s.ring.Get(account)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token %q from keyring: %w", account, err)
	}
	return decodeToken(item.Data)
}

func (s *KeyringTokenStore) Save(account string, token *oauth2.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	err = s.ring.Set(keyring.Item{
		Key:         account,
		Data:        data,
		Label:       keyringService + " " + account,
		Description: "OAuth2 token",
	})
	if err != nil {
		return fmt.Errorf("failed to store token %q in keyring: %w", account, err)
	}
	return nil
}

func (s *KeyringTokenStore) Delete(account string) error {
	err := s.ring.Remove(account)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return ErrNoToken
	}
	if err != nil {
		return fmt.Errorf("failed to delete token %q from keyring: %w", account, err)
	}
	return nil
}

func decodeToken(data []byte) (*oauth2.Token, error) {
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return &token, nil
}
