package security

import (
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophnotes/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy_Valid(t *testing.T) {
	p := DefaultPolicy()
	require.NoError(t, p.Validate())

	assert.Equal(t, 30*time.Minute, p.Session.IdleTimeout)
	assert.Equal(t, 5, p.Access.MaxFailedAttempts)
	assert.Equal(t, 15*time.Minute, p.Access.LockoutWindow)
	assert.Equal(t, 1000, p.Data.MaxEvents)
}

func TestPolicy_ValidateCollectsAllReasons(t *testing.T) {
	p := DefaultPolicy()
	p.Password.MinLength = 4
	p.Data.MaxEvents = 0
	p.Session.IdleTimeout = 0

	err := p.Validate()
	require.ErrorIs(t, err, common.ErrPolicyViolation)

	var pv *common.PolicyViolationError
	require.True(t, errors.As(err, &pv))
	assert.Len(t, pv.Reasons, 3)
	assert.Contains(t, err.Error(), "Policy.Password.MinLength")
}

func TestPolicy_IsSensitive(t *testing.T) {
	p := DefaultPolicy()
	assert.True(t, p.IsSensitive("script-src"))
	assert.False(t, p.IsSensitive("img-src"))
}

func TestPolicy_SessionConfig(t *testing.T) {
	p := DefaultPolicy()
	p.Access.MaxFailedAttempts = 3
	p.Password.MinEntropyBits = 40

	cfg := p.SessionConfig()
	assert.Equal(t, 3, cfg.Lockout.MaxFailedAttempts)
	assert.Equal(t, 15*time.Minute, cfg.Lockout.Window)
	assert.Equal(t, 5*time.Minute, cfg.RefreshThreshold)
	assert.Equal(t, 40.0, cfg.Password.MinEntropyBits)
	assert.Equal(t, 8, cfg.Password.MinLength)
}
