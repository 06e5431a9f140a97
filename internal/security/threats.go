package security

import (
	"sort"
	"time"

	"github.com/dmitrijs2005/gophnotes/internal/models"
)

// Action is what the coordinator does when a pattern fires.
type Action string

const (
	ActionBlockIdentity Action = "block_identity"
	ActionLockAccount   Action = "lock_account"
	ActionAlert         Action = "alert"
)

// ThreatPattern fires once Threshold matching events from one actor fall
// inside Window.
type ThreatPattern struct {
	Name      string
	Match     func(models.SecurityEvent) bool
	Threshold int
	Window    time.Duration
	Action    Action
	Severity  models.Severity
}

func DefaultPatterns() []ThreatPattern {
	return []ThreatPattern{
		{
			Name:      "rapid_auth",
			Match:     func(ev models.SecurityEvent) bool { return ev.Type.IsAuth() },
			Threshold: 10,
			Window:    5 * time.Minute,
			Action:    ActionBlockIdentity,
			Severity:  models.SeverityHigh,
		},
		{
			Name:      "decryption_failures",
			Match:     func(ev models.SecurityEvent) bool { return ev.Type == models.EventDecryptFailed },
			Threshold: 5,
			Window:    10 * time.Minute,
			Action:    ActionLockAccount,
			Severity:  models.SeverityCritical,
		},
		{
			Name:      "integrity_warnings",
			Match:     func(ev models.SecurityEvent) bool { return ev.Type == models.EventIntegrityWarning },
			Threshold: 3,
			Window:    10 * time.Minute,
			Action:    ActionAlert,
			Severity:  models.SeverityCritical,
		},
	}
}

// Detection is one pattern match for one actor.
type Detection struct {
	Pattern ThreatPattern
	Actor   string
	Count   int
}

// Analyze evaluates patterns against events as of now. Events without an
// actor are grouped together under the empty actor.
func Analyze(events []models.SecurityEvent, patterns []ThreatPattern, now time.Time) []Detection {
	var detections []Detection
	for _, p := range patterns {
		cutoff := now.Add(-p.Window)
		counts := make(map[string]int)
		for _, ev := range events {
			if ev.Timestamp.Before(cutoff) || ev.Timestamp.After(now) {
				continue
			}
			if p.Match(ev) {
				counts[ev.Actor]++
			}
		}

		actors := make([]string, 0, len(counts))
		for a, n := range counts {
			if n >= p.Threshold {
				actors = append(actors, a)
			}
		}
		sort.Strings(actors)
		for _, a := range actors {
			detections = append(detections, Detection{Pattern: p, Actor: a, Count: counts[a]})
		}
	}
	return detections
}
