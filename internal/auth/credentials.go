// Package auth holds the file-backed credential and session stores used for
// sites that need a login before automation can proceed.
package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EnvCredentialsKey names the env var holding the encryption passphrase.
const EnvCredentialsKey = "WEBPILOT_CREDENTIALS_KEY"

// Credential is one stored login. Password never appears in logs or audit
// entries.
type Credential struct {
	Username string    `json:"username"`
	Password string    `json:"password"`
	SavedAt  time.Time `json:"saved_at"`
}

// ErrNoKey is returned when the encryption passphrase is not set.
var ErrNoKey = errors.New("credentials key not set; export " + EnvCredentialsKey)

// ErrNotFound is returned when a domain has no stored credential.
var ErrNotFound = errors.New("no credential stored for domain")

// CredentialStore keeps domain-keyed logins encrypted at rest with
// AES-256-GCM. The file is written with mode 0600.
type CredentialStore struct {
	mu    sync.Mutex
	path  string
	key   []byte // nil until the passphrase is read
	audit *AuditLog
	log   zerolog.Logger
}

func NewCredentialStore(path string, audit *AuditLog, log zerolog.Logger) *CredentialStore {
	return &CredentialStore{
		path:  path,
		audit: audit,
		log:   log.With().Str("component", "credentials").Logger(),
	}
}

func (s *CredentialStore) encryptionKey() ([]byte, error) {
	if s.key != nil {
		return s.key, nil
	}
	passphrase := strings.TrimSpace(os.Getenv(EnvCredentialsKey))
	if passphrase == "" {
		return nil, ErrNoKey
	}
	sum := sha256.Sum256([]byte(passphrase))
	s.key = sum[:]
	return s.key, nil
}

// Save stores or replaces the credential for a domain.
func (s *CredentialStore) Save(domain, username, password string) error {
	domain = NormalizeDomain(domain)
	if domain == "" {
		return errors.New("domain is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.loadLocked()
	if err != nil {
		return err
	}
	creds[domain] = Credential{
		Username: username,
		Password: password,
		SavedAt:  time.Now(),
	}
	if err := s.storeLocked(creds); err != nil {
		return err
	}

	s.audit.Record("credential_saved", domain)
	s.log.Info().Str("domain", domain).Msg("credential saved")
	return nil
}

// Get returns the credential for a domain.
func (s *CredentialStore) Get(domain string) (Credential, error) {
	domain = NormalizeDomain(domain)

	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.loadLocked()
	if err != nil {
		return Credential{}, err
	}
	cred, ok := creds[domain]
	if !ok {
		return Credential{}, ErrNotFound
	}

	s.audit.Record("credential_read", domain)
	return cred, nil
}

// Delete removes a domain's credential.
func (s *CredentialStore) Delete(domain string) error {
	domain = NormalizeDomain(domain)

	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.loadLocked()
	if err != nil {
		return err
	}
	if _, ok := creds[domain]; !ok {
		return ErrNotFound
	}
	delete(creds, domain)
	if err := s.storeLocked(creds); err != nil {
		return err
	}

	s.audit.Record("credential_deleted", domain)
	return nil
}

// Domains lists the domains with stored credentials, sorted.
func (s *CredentialStore) Domains() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	domains := make([]string, 0, len(creds))
	for d := range creds {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains, nil
}

func (s *CredentialStore) loadLocked() (map[string]Credential, error) {
	key, err := s.encryptionKey()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]Credential), nil
		}
		return nil, err
	}

	plaintext, err := decrypt(key, data)
	if err != nil {
		return nil, fmt.Errorf("decrypt credentials: %w", err)
	}

	var creds map[string]Credential
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, fmt.Errorf("corrupt credential store: %w", err)
	}
	return creds, nil
}

func (s *CredentialStore) storeLocked(creds map[string]Credential) error {
	key, err := s.encryptionKey()
	if err != nil {
		return err
	}

	plaintext, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	ciphertext, err := encrypt(key, plaintext)
	if err != nil {
		return fmt.Errorf("encrypt credentials: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, ciphertext, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func encrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decrypt(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(data) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// NormalizeDomain reduces a domain or full URL to the bare-host form both
// stores key by.
func NormalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")
	domain = strings.TrimPrefix(domain, "www.")
	if i := strings.IndexByte(domain, '/'); i >= 0 {
		domain = domain[:i]
	}
	return domain
}
