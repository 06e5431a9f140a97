package security

import (
	"sync"
	"time"

	"github.com/dmitrijs2005/gophnotes/internal/models"
	"github.com/google/uuid"
)

// Filter narrows an event query. Zero fields match everything.
type Filter struct {
	Types       []models.EventType
	Actor       string
	MinSeverity models.Severity
	Since       time.Time
	Until       time.Time
	Limit       int
}

func severityRank(s models.Severity) int {
	switch s {
	case models.SeverityLow:
		return 1
	case models.SeverityMedium:
		return 2
	case models.SeverityHigh:
		return 3
	case models.SeverityCritical:
		return 4
	}
	return 0
}

func (f Filter) match(ev models.SecurityEvent) bool {
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == ev.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Actor != "" && ev.Actor != f.Actor {
		return false
	}
	if f.MinSeverity != "" && severityRank(ev.Severity) < severityRank(f.MinSeverity) {
		return false
	}
	if !f.Since.IsZero() && ev.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && ev.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// EventLog keeps security events in arrival order, capped at max entries.
// The oldest entries fall off first.
type EventLog struct {
	mu     sync.RWMutex
	events []models.SecurityEvent
	max    int
}

func NewEventLog(max int) *EventLog {
	if max <= 0 {
		max = 1000
	}
	return &EventLog{max: max}
}

// Append stores ev, filling in ID when empty. It returns the stored copy.
func (l *EventLog) Append(ev models.SecurityEvent) models.SecurityEvent {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Metadata == nil {
		ev.Metadata = map[string]any{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	if over := len(l.events) - l.max; over > 0 {
		// copy so the dropped prefix can be collected
		l.events = append([]models.SecurityEvent(nil), l.events[over:]...)
	}
	return ev
}

// Query returns matching events, oldest first. With Limit set only the
// newest Limit matches are returned.
func (l *EventLog) Query(f Filter) []models.SecurityEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]models.SecurityEvent, 0)
	for _, ev := range l.events {
		if f.match(ev) {
			result = append(result, ev)
		}
	}
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[len(result)-f.Limit:]
	}
	return result
}

// Prune drops events older than cutoff and returns how many were removed.
func (l *EventLog) Prune(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.events[:0]
	for _, ev := range l.events {
		if !ev.Timestamp.Before(cutoff) {
			kept = append(kept, ev)
		}
	}
	removed := len(l.events) - len(kept)
	for i := len(kept); i < len(l.events); i++ {
		l.events[i] = models.SecurityEvent{}
	}
	l.events = kept
	return removed
}

func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
