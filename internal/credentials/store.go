// Package credentials keeps the session token issued by the story API.
package credentials

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"filippo.io/age"

	"stories-go/internal/config"
)

// Session is what a successful login leaves behind.
type Session struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Token  string `json:"token"`
}

// TokenStore persists the current session.
type TokenStore interface {
	// Save replaces the stored session.
	Save(s Session) error
	// Load returns the stored session, or nil if there is none.
	Load() (*Session, error)
	// Clear forgets the stored session. Clearing an empty store is not an error.
	Clear() error
}

// NewTokenStoreFromConfig creates a TokenStore based on the credentials config type.
func NewTokenStoreFromConfig(cfg config.CredentialsConfig) (TokenStore, error) {
	switch cfg.Type {
	case "age", "":
		if cfg.KeyPath == "" || cfg.TokenPath == "" {
			return nil, fmt.Errorf("age credentials require key_path and token_path")
		}
		return NewAgeTokenStore(cfg.KeyPath, cfg.TokenPath), nil
	case "memory":
		return NewMemoryTokenStore(), nil
	default:
		return nil, fmt.Errorf("unknown credentials type: %q", cfg.Type)
	}
}

// AgeTokenStore keeps the session in a file encrypted with filippo.io/age.
// The X25519 identity is generated on first save and stored next to it with
// owner-only permissions, so the token is never written to disk in plaintext.
type AgeTokenStore struct {
	keyPath   string
	tokenPath string
	mu        sync.Mutex
}

var _ TokenStore = (*AgeTokenStore)(nil)

// NewAgeTokenStore creates a store using the identity at keyPath and the ciphertext at tokenPath.
func NewAgeTokenStore(keyPath, tokenPath string) *AgeTokenStore {
	return &AgeTokenStore{keyPath: keyPath, tokenPath: tokenPath}
}

func (s *AgeTokenStore) Save(sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, err := s.loadOrCreateIdentity()
	if err != nil {
		return err
	}

	plain, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, identity.Recipient())
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := w.Write(plain); err != nil {
		return fmt.Errorf("encrypting session: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.tokenPath), 0700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	tmpPath := s.tokenPath + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	if err := os.Rename(tmpPath, s.tokenPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing token file: %w", err)
	}
	return nil
}

func (s *AgeTokenStore) Load() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.tokenPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading token file: %w", err)
	}

	identity, err := s.loadIdentity()
	if err != nil {
		return nil, err
	}

	r, err := age.Decrypt(bytes.NewReader(data), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting token file: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted token: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(plain, &sess); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return &sess, nil
}

func (s *AgeTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.tokenPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing token file: %w", err)
	}
	return nil
}

func (s *AgeTokenStore) loadIdentity() (*age.X25519Identity, error) {
	data, err := os.ReadFile(s.keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading identity: %w", err)
	}
	identity, err := age.ParseX25519Identity(string(bytes.TrimSpace(data)))
	if err != nil {
		return nil, fmt.Errorf("parsing identity: %w", err)
	}
	return identity, nil
}

func (s *AgeTokenStore) loadOrCreateIdentity() (*age.X25519Identity, error) {
	identity, err := s.loadIdentity()
	if err == nil {
		return identity, nil
	}
	if _, statErr := os.Stat(s.keyPath); !os.IsNotExist(statErr) {
		return nil, err
	}

	identity, err = age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating identity: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.keyPath), 0700); err != nil {
		return nil, fmt.Errorf("creating key directory: %w", err)
	}
	f, err := os.OpenFile(s.keyPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("creating identity file: %w", err)
	}
	defer f.Close()
	if _, err := io.WriteString(f, identity.String()+"\n"); err != nil {
		return nil, fmt.Errorf("writing identity: %w", err)
	}
	return identity, nil
}

// MemoryTokenStore keeps the session in memory. Use in tests.
type MemoryTokenStore struct {
	mu   sync.Mutex
	sess *Session
}

var _ TokenStore = (*MemoryTokenStore)(nil)

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (s *MemoryTokenStore) Save(sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess = &sess
	return nil
}

func (s *MemoryTokenStore) Load() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return nil, nil
	}
	cp := *s.sess
	return &cp, nil
}

func (s *MemoryTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess = nil
	return nil
}
