package security

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/gophnotes/internal/models"
)

// ViolationReport is a content-security violation report as browsers and
// embedding shells post it.
type ViolationReport struct {
	Report map[string]any `json:"csp-report"`
}

// Directive returns the effective directive, falling back to the first
// token of violated-directive.
func (r ViolationReport) Directive() string {
	if d, ok := r.Report["effective-directive"].(string); ok && d != "" {
		return d
	}
	if d, ok := r.Report["violated-directive"].(string); ok {
		if fields := strings.Fields(d); len(fields) > 0 {
			return fields[0]
		}
	}
	return ""
}

// knownDirectives bounds the label set of the violation counter. Report
// bodies are unauthenticated, anything else is counted as "other".
var knownDirectives = map[string]struct{}{
	"default-src": {}, "script-src": {}, "script-src-elem": {}, "script-src-attr": {},
	"style-src": {}, "style-src-elem": {}, "style-src-attr": {}, "img-src": {},
	"font-src": {}, "connect-src": {}, "media-src": {}, "object-src": {},
	"frame-src": {}, "child-src": {}, "worker-src": {}, "manifest-src": {},
	"frame-ancestors": {}, "form-action": {}, "base-uri": {}, "navigate-to": {},
	"unknown": {},
}

func directiveLabel(directive string) string {
	if _, ok := knownDirectives[directive]; ok {
		return directive
	}
	return "other"
}

// ReportViolation records a violation. A violation of a sensitive
// directive signs the user out, wipes the key and raises a critical alert.
func (c *Coordinator) ReportViolation(ctx context.Context, report ViolationReport) {
	directive := report.Directive()
	if directive == "" {
		directive = "unknown"
	}

	fields := make([]any, 0, 2*len(report.Report))
	for k, v := range report.Report {
		fields = append(fields, k, v)
	}
	c.logger.Warn(ctx, "csp violation", fields...)
	c.metrics.CSPViolationsTotal.WithLabelValues(directiveLabel(directive)).Inc()

	severity := models.SeverityMedium
	sensitive := c.policy.IsSensitive(directive)
	if sensitive {
		severity = models.SeverityCritical
	}
	c.LogEvent(ctx, models.EventCSPViolation, c.currentActor(), severity, map[string]any{
		"directive":   directive,
		"blocked_uri": report.Report["blocked-uri"],
	})
	if !sensitive {
		return
	}

	c.notes.Cleanup(ctx)
	c.forceSignOut(ctx, "csp_violation")
	c.publishAlert(Alert{
		Severity: models.SeverityCritical,
		Title:    "Security violation",
		Message:  "A " + directive + " violation was detected. You have been signed out and your key was cleared from memory.",
	})
}

// ViolationHandler accepts POSTed violation reports.
func (c *Coordinator) ViolationHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var v ViolationReport
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			c.logger.Warn(r.Context(), "csp violation", "error", err)
			http.Error(rw, "failed to read body", http.StatusBadRequest)
			return
		}
		c.ReportViolation(r.Context(), v)
		rw.WriteHeader(http.StatusOK)
	})
}
