package orchestrator

import (
	"sync"
	"time"

	"webpilot-mcp-server/internal/automation"
	"webpilot-mcp-server/internal/recovery"
	"webpilot-mcp-server/internal/route"
)

// urlFailure is one remembered approach failure for a URL.
type urlFailure struct {
	approach automation.Approach
	at       time.Time
}

// state holds the orchestrator's mutable shared data behind one mutex.
// Writers are serialized; readers get snapshots.
type state struct {
	mu            sync.RWMutex
	history       []ExecutionRecord
	failures      map[string][]urlFailure
	cb            recovery.Callback
	interactiveOn bool
}

func newState(interactive bool) *state {
	return &state{
		failures:      make(map[string][]urlFailure),
		interactiveOn: interactive,
	}
}

func (s *state) setCallback(cb recovery.Callback) {
	s.mu.Lock()
	s.cb = cb
	s.mu.Unlock()
}

func (s *state) callback() recovery.Callback {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cb
}

func (s *state) setInteractive(on bool) {
	s.mu.Lock()
	s.interactiveOn = on
	s.mu.Unlock()
}

func (s *state) interactive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interactiveOn
}

func (s *state) appendHistory(rec ExecutionRecord) {
	s.mu.Lock()
	s.history = append(s.history, rec)
	if len(s.history) > historyCap {
		s.history = s.history[len(s.history)-historyCap:]
	}
	s.mu.Unlock()
}

func (s *state) snapshotHistory() []ExecutionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ExecutionRecord, len(s.history))
	copy(out, s.history)
	return out
}

func (s *state) clearHistory() int {
	s.mu.Lock()
	n := len(s.history)
	s.history = nil
	s.failures = make(map[string][]urlFailure)
	s.mu.Unlock()
	return n
}

// routingHistory projects the history for the decider.
func (s *state) routingHistory() []route.HistoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]route.HistoryRecord, 0, len(s.history))
	for _, rec := range s.history {
		out = append(out, route.HistoryRecord{
			Approach:      rec.Approach,
			Success:       rec.Success,
			DOMConfidence: rec.DOMConfidence,
		})
	}
	return out
}

func (s *state) noteFailure(url string, approach automation.Approach) {
	if approach == "" {
		return
	}
	s.mu.Lock()
	s.failures[url] = append(s.failures[url], urlFailure{approach: approach, at: time.Now()})
	s.mu.Unlock()
}

// urlFailures returns the distinct approaches that failed for a URL within
// the window, oldest first.
func (s *state) urlFailures(url string, window time.Duration) []automation.Approach {
	cutoff := time.Now().Add(-window)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.failures[url][:0]
	for _, f := range s.failures[url] {
		if f.at.After(cutoff) {
			kept = append(kept, f)
		}
	}
	s.failures[url] = kept

	var out []automation.Approach
	seen := make(map[automation.Approach]bool)
	for _, f := range kept {
		if !seen[f.approach] {
			seen[f.approach] = true
			out = append(out, f.approach)
		}
	}
	return out
}
