package auth

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
)

// DefaultSessionTTL applies when the config leaves the TTL unset.
const DefaultSessionTTL = 30 * time.Minute

// Cookie is the persisted shape of one browser cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"http_only,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
}

// Session is a domain's saved cookie jar.
type Session struct {
	Cookies   []Cookie      `json:"cookies"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
	TTL       time.Duration `json:"ttl"`
}

// Expired reports whether the session is past its deadline.
func (s Session) Expired() bool {
	return time.Now().After(s.ExpiresAt)
}

// ErrSessionExpired is returned when a stored session has passed its TTL.
var ErrSessionExpired = errors.New("session expired")

// SessionStore persists domain-keyed sessions as JSON and evicts them on
// expiry.
type SessionStore struct {
	mu    sync.Mutex
	path  string
	ttl   time.Duration
	audit *AuditLog
	log   zerolog.Logger
}

func NewSessionStore(path string, ttl time.Duration, audit *AuditLog, log zerolog.Logger) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{
		path:  path,
		ttl:   ttl,
		audit: audit,
		log:   log.With().Str("component", "sessions").Logger(),
	}
}

// Save captures the page's current cookies as the domain's session.
func (s *SessionStore) Save(domain string, page *rod.Page) error {
	domain = NormalizeDomain(domain)
	if domain == "" {
		return errors.New("domain is required")
	}

	raw, err := page.Cookies(nil)
	if err != nil {
		return err
	}

	cookies := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}

	now := time.Now()
	session := Session{
		Cookies:   cookies,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
		TTL:       s.ttl,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.loadLocked()
	if err != nil {
		return err
	}
	sessions[domain] = session
	if err := s.storeLocked(sessions); err != nil {
		return err
	}

	s.audit.Record("session_saved", domain)
	s.log.Info().Str("domain", domain).Int("cookies", len(cookies)).Msg("session saved")
	return nil
}

// Get returns the live session for a domain, evicting it when expired.
func (s *SessionStore) Get(domain string) (Session, error) {
	domain = NormalizeDomain(domain)

	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.loadLocked()
	if err != nil {
		return Session{}, err
	}
	session, ok := sessions[domain]
	if !ok {
		return Session{}, ErrNotFound
	}
	if session.Expired() {
		delete(sessions, domain)
		_ = s.storeLocked(sessions)
		s.audit.Record("session_evicted", domain)
		return Session{}, ErrSessionExpired
	}
	return session, nil
}

// Restore installs the domain's session cookies into a page before
// navigation.
func (s *SessionStore) Restore(domain string, page *rod.Page) error {
	session, err := s.Get(domain)
	if err != nil {
		return err
	}

	params := make([]*proto.NetworkCookieParam, 0, len(session.Cookies))
	for _, c := range session.Cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  proto.TimeSinceEpoch(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}
	if err := page.SetCookies(params); err != nil {
		return err
	}

	s.audit.Record("session_restored", NormalizeDomain(domain))
	return nil
}

// Delete removes a domain's session.
func (s *SessionStore) Delete(domain string) error {
	domain = NormalizeDomain(domain)

	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.loadLocked()
	if err != nil {
		return err
	}
	if _, ok := sessions[domain]; !ok {
		return ErrNotFound
	}
	delete(sessions, domain)
	if err := s.storeLocked(sessions); err != nil {
		return err
	}

	s.audit.Record("session_deleted", domain)
	return nil
}

// Cleanup evicts every expired session and reports how many were removed.
func (s *SessionStore) Cleanup() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.loadLocked()
	if err != nil {
		return 0, err
	}

	removed := 0
	for domain, session := range sessions {
		if session.Expired() {
			delete(sessions, domain)
			s.audit.Record("session_evicted", domain)
			removed++
		}
	}
	if removed > 0 {
		if err := s.storeLocked(sessions); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (s *SessionStore) loadLocked() (map[string]Session, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]Session), nil
		}
		return nil, err
	}
	var sessions map[string]Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *SessionStore) storeLocked(sessions map[string]Session) error {
	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
