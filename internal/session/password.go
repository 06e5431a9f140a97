package session

import (
	"fmt"
	"unicode"

	"github.com/dmitrijs2005/gophnotes/internal/common"
	passwordvalidator "github.com/wagslane/go-password-validator"
)

// PasswordRules is the password part of the security policy.
type PasswordRules struct {
	MinLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
	// MinEntropyBits enables an additional entropy floor when > 0.
	MinEntropyBits float64
}

func DefaultPasswordRules() PasswordRules {
	return PasswordRules{
		MinLength:      8,
		RequireUpper:   true,
		RequireLower:   true,
		RequireDigit:   true,
		RequireSpecial: true,
	}
}

// ValidatePassword returns a *common.PolicyViolationError listing every
// rule password breaks, or nil.
func (r PasswordRules) ValidatePassword(password string) error {
	var (
		reasons                                  []string
		hasUpper, hasLower, hasDigit, hasSpecial bool
		length                                   int
	)
	for _, c := range password {
		length++
		switch {
		case unicode.IsUpper(c):
			hasUpper = true
		case unicode.IsLower(c):
			hasLower = true
		case unicode.IsDigit(c):
			hasDigit = true
		case unicode.IsPunct(c) || unicode.IsSymbol(c) || unicode.IsSpace(c):
			hasSpecial = true
		}
	}

	if length < r.MinLength {
		reasons = append(reasons, fmt.Sprintf("must be at least %d characters", r.MinLength))
	}
	if r.RequireUpper && !hasUpper {
		reasons = append(reasons, "must contain an uppercase letter")
	}
	if r.RequireLower && !hasLower {
		reasons = append(reasons, "must contain a lowercase letter")
	}
	if r.RequireDigit && !hasDigit {
		reasons = append(reasons, "must contain a digit")
	}
	if r.RequireSpecial && !hasSpecial {
		reasons = append(reasons, "must contain a special character")
	}
	if r.MinEntropyBits > 0 {
		if err := passwordvalidator.Validate(password, r.MinEntropyBits); err != nil {
			reasons = append(reasons, err.Error())
		}
	}

	if len(reasons) > 0 {
		return &common.PolicyViolationError{Reasons: reasons}
	}
	return nil
}
