package auth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEntry records an auth-store operation. Secrets never appear here.
type AuditEntry struct {
	Timestamp time.Time `json:"ts"`
	Action    string    `json:"action"`
	Domain    string    `json:"domain"`
}

// AuditLog is an append-only JSONL log of credential and session operations.
type AuditLog struct {
	mu   sync.Mutex
	path string
}

func NewAuditLog(path string) *AuditLog {
	return &AuditLog{path: path}
}

// Record appends one entry. Audit failures never block the store operation.
func (a *AuditLog) Record(action, domain string) {
	if a == nil || a.path == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.path), 0o700); err != nil {
		return
	}
	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return
	}
	defer f.Close()

	_ = json.NewEncoder(f).Encode(AuditEntry{
		Timestamp: time.Now(),
		Action:    action,
		Domain:    domain,
	})
}
