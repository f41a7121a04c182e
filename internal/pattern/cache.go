// Package pattern remembers which approach worked for which kind of task so
// later runs can skip approaches that historically fail.
package pattern

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"webpilot-mcp-server/internal/automation"

	"github.com/rs/zerolog"
)

// minAttempts is how many recorded attempts a pattern needs before its
// success rate is trusted for routing decisions.
const minAttempts = 3

// Action is one abstract step of a synthesized sequence.
type Action struct {
	Type        string                 `json:"type"` // observe, act, or extract
	Description string                 `json:"description"`
	Options     map[string]interface{} `json:"options,omitempty"`
}

// Record is the learned action sequence and outcome history for one task
// signature.
type Record struct {
	Key          string              `json:"key"`
	Task         string              `json:"task"`
	Action       string              `json:"action"`
	Target       string              `json:"target"`
	Approach     automation.Approach `json:"approach"`
	Actions      []Action            `json:"actions,omitempty"`
	SuccessCount int                 `json:"success_count"`
	FailureCount int                 `json:"failure_count"`
	Confidence   float64             `json:"confidence"`
	CreatedAt    time.Time           `json:"created_at"`
	LastUsed     time.Time           `json:"last_used"`
}

// Attempts is the total number of recorded outcomes.
func (r Record) Attempts() int {
	return r.SuccessCount + r.FailureCount
}

// SuccessRate is successes over total attempts, 0 when empty.
func (r Record) SuccessRate() float64 {
	total := r.Attempts()
	if total == 0 {
		return 0
	}
	return float64(r.SuccessCount) / float64(total)
}

// Key derives the cache key for a task signature: the first 16 hex chars of
// md5 over the lowercased task, action, and target joined by '|'.
func Key(task, action, target string) string {
	payload := strings.ToLower(task) + "|" + strings.ToLower(action) + "|" + strings.ToLower(target)
	sum := md5.Sum([]byte(payload))
	return hex.EncodeToString(sum[:])[:16]
}

// Cache is a persisted map of task signatures to outcome records.
type Cache struct {
	mu      sync.RWMutex
	records map[string]*Record
	path    string
	log     zerolog.Logger
}

func NewCache(path string, log zerolog.Logger) *Cache {
	c := &Cache{
		records: make(map[string]*Record),
		path:    path,
		log:     log.With().Str("component", "pattern-cache").Logger(),
	}
	if path != "" {
		if err := c.load(); err != nil {
			c.log.Warn().Err(err).Str("path", path).Msg("pattern cache load failed, starting empty")
		}
	}
	return c
}

// Get returns the record stored under a key and marks it used. The second
// return is false when no pattern exists yet.
func (c *Cache) Get(key string) (Record, bool) {
	c.mu.Lock()
	rec, ok := c.records[key]
	if ok {
		rec.LastUsed = time.Now()
	}
	var out Record
	if ok {
		out = *rec
	}
	c.mu.Unlock()

	if ok {
		if err := c.save(); err != nil {
			c.log.Warn().Err(err).Msg("pattern cache save failed")
		}
	}
	return out, ok
}

// Put stores a freshly synthesized pattern. An existing record under the same
// key keeps its counters; only the action sequence is replaced.
func (c *Cache) Put(rec Record) {
	now := time.Now()
	c.mu.Lock()
	existing, ok := c.records[rec.Key]
	if ok {
		existing.Actions = rec.Actions
		existing.LastUsed = now
	} else {
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		rec.LastUsed = now
		stored := rec
		c.records[rec.Key] = &stored
	}
	c.mu.Unlock()

	if err := c.save(); err != nil {
		c.log.Warn().Err(err).Msg("pattern cache save failed")
	}
}

// Lookup returns the record for a task signature if it has enough attempts
// to be trusted. Fresh or thin records are not exposed to callers.
func (c *Cache) Lookup(task, action, target string) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[Key(task, action, target)]
	if !ok || rec.Attempts() < minAttempts {
		return Record{}, false
	}
	return *rec, true
}

// RecordOutcome folds one execution outcome into the pattern for the task
// signature, creating the pattern on first sight. The stored approach tracks
// the most recently successful one.
func (c *Cache) RecordOutcome(task, action, target string, approach automation.Approach, success bool, confidence float64) {
	key := Key(task, action, target)
	now := time.Now()

	c.mu.Lock()
	rec, ok := c.records[key]
	if !ok {
		rec = &Record{
			Key:       key,
			Task:      task,
			Action:    action,
			Target:    target,
			Approach:  approach,
			CreatedAt: now,
		}
		c.records[key] = rec
	}
	if success {
		rec.SuccessCount++
		rec.Approach = approach
		rec.Confidence = confidence
	} else {
		rec.FailureCount++
	}
	rec.LastUsed = now
	c.mu.Unlock()

	if err := c.save(); err != nil {
		c.log.Warn().Err(err).Msg("pattern cache save failed")
	}
}

// Mark adjusts the counters of an existing pattern by key.
func (c *Cache) Mark(key string, success bool) {
	c.mu.Lock()
	rec, ok := c.records[key]
	if ok {
		if success {
			rec.SuccessCount++
		} else {
			rec.FailureCount++
		}
		rec.LastUsed = time.Now()
	}
	c.mu.Unlock()

	if ok {
		if err := c.save(); err != nil {
			c.log.Warn().Err(err).Msg("pattern cache save failed")
		}
	}
}

// Stats exports all records sorted by success rate descending, ties broken
// by attempt count then key.
func (c *Cache) Stats() []Record {
	c.mu.RLock()
	out := make([]Record, 0, len(c.records))
	for _, rec := range c.records {
		out = append(out, *rec)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].SuccessRate(), out[j].SuccessRate()
		if ri != rj {
			return ri > rj
		}
		if out[i].Attempts() != out[j].Attempts() {
			return out[i].Attempts() > out[j].Attempts()
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Size reports how many patterns are stored.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Clear drops all records and removes the persisted file.
func (c *Cache) Clear() error {
	c.mu.Lock()
	c.records = make(map[string]*Record)
	c.mu.Unlock()
	if c.path == "" {
		return nil
	}
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove pattern cache: %w", err)
	}
	return nil
}

func (c *Cache) load() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var records map[string]*Record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("corrupt pattern cache: %w", err)
	}

	c.mu.Lock()
	c.records = records
	c.mu.Unlock()
	c.log.Info().Int("patterns", len(records)).Msg("pattern cache loaded")
	return nil
}

func (c *Cache) save() error {
	if c.path == "" {
		return nil
	}

	c.mu.RLock()
	data, err := json.MarshalIndent(c.records, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}
