package security

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophnotes/internal/common"
	"github.com/dmitrijs2005/gophnotes/internal/session"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type PasswordPolicy struct {
	MinLength      int     `json:"min_length" validate:"gte=8,lte=128"`
	RequireUpper   bool    `json:"require_upper"`
	RequireLower   bool    `json:"require_lower"`
	RequireDigit   bool    `json:"require_digit"`
	RequireSpecial bool    `json:"require_special"`
	MinEntropyBits float64 `json:"min_entropy_bits" validate:"gte=0,lte=256"`
}

type SessionPolicy struct {
	IdleTimeout      time.Duration `json:"idle_timeout" validate:"gt=0s"`
	RefreshThreshold time.Duration `json:"refresh_threshold" validate:"gt=0s"`
	CheckInterval    time.Duration `json:"check_interval" validate:"gt=0s"`
	RefreshInterval  time.Duration `json:"refresh_interval" validate:"gt=0s"`
}

type AccessPolicy struct {
	MaxFailedAttempts int           `json:"max_failed_attempts" validate:"gte=1"`
	LockoutWindow     time.Duration `json:"lockout_window" validate:"gt=0s"`
	// BlockDuration is how long the threat analyzer keeps an identity
	// blocked or locked.
	BlockDuration time.Duration `json:"block_duration" validate:"gt=0s"`
}

type DataPolicy struct {
	RetentionPeriod time.Duration `json:"retention_period" validate:"gt=0s"`
	MaxEvents       int           `json:"max_events" validate:"gte=1"`
}

type ThreatPolicy struct {
	AnalysisInterval       time.Duration `json:"analysis_interval" validate:"gt=0s"`
	RetentionSweepInterval time.Duration `json:"retention_sweep_interval" validate:"gt=0s"`
}

// Policy is the full set of knobs the coordinator enforces.
type Policy struct {
	Password PasswordPolicy `json:"password"`
	Session  SessionPolicy  `json:"session"`
	Access   AccessPolicy   `json:"access"`
	Data     DataPolicy     `json:"data"`
	Threat   ThreatPolicy   `json:"threat"`

	// SensitiveDirectives are the content-security directives whose
	// violation signs the user out.
	SensitiveDirectives []string `json:"sensitive_directives" validate:"dive,required"`
}

func DefaultPolicy() Policy {
	return Policy{
		Password: PasswordPolicy{
			MinLength:      8,
			RequireUpper:   true,
			RequireLower:   true,
			RequireDigit:   true,
			RequireSpecial: true,
		},
		Session: SessionPolicy{
			IdleTimeout:      30 * time.Minute,
			RefreshThreshold: 5 * time.Minute,
			CheckInterval:    time.Minute,
			RefreshInterval:  time.Minute,
		},
		Access: AccessPolicy{
			MaxFailedAttempts: 5,
			LockoutWindow:     15 * time.Minute,
			BlockDuration:     time.Hour,
		},
		Data: DataPolicy{
			RetentionPeriod: 365 * 24 * time.Hour,
			MaxEvents:       1000,
		},
		Threat: ThreatPolicy{
			AnalysisInterval:       5 * time.Minute,
			RetentionSweepInterval: time.Hour,
		},
		SensitiveDirectives: []string{"script-src", "connect-src", "default-src", "frame-ancestors"},
	}
}

// Validate checks p and reports every broken field at once.
func (p Policy) Validate() error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	reasons := make([]string, 0, len(verrs))
	for _, e := range verrs {
		switch e.Tag() {
		case "required":
			reasons = append(reasons, fmt.Sprintf("%s: field is required", e.Namespace()))
		case "gt", "gte":
			reasons = append(reasons, fmt.Sprintf("%s: must be at least %s", e.Namespace(), e.Param()))
		case "lte":
			reasons = append(reasons, fmt.Sprintf("%s: must not exceed %s", e.Namespace(), e.Param()))
		default:
			reasons = append(reasons, fmt.Sprintf("%s: validation failed (%s)", e.Namespace(), e.Tag()))
		}
	}
	return &common.PolicyViolationError{Reasons: reasons}
}

// IsSensitive reports whether a violation of directive is critical.
func (p Policy) IsSensitive(directive string) bool {
	for _, d := range p.SensitiveDirectives {
		if d == directive {
			return true
		}
	}
	return false
}

// SessionConfig projects the policy onto the session manager settings.
func (p Policy) SessionConfig() session.Config {
	return session.Config{
		Password: session.PasswordRules{
			MinLength:      p.Password.MinLength,
			RequireUpper:   p.Password.RequireUpper,
			RequireLower:   p.Password.RequireLower,
			RequireDigit:   p.Password.RequireDigit,
			RequireSpecial: p.Password.RequireSpecial,
			MinEntropyBits: p.Password.MinEntropyBits,
		},
		Lockout: session.LockoutRules{
			MaxFailedAttempts: p.Access.MaxFailedAttempts,
			Window:            p.Access.LockoutWindow,
		},
		RefreshThreshold: p.Session.RefreshThreshold,
	}
}
