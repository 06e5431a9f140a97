package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAAD_Format(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "n1_2024-01-01T00:00:00Z", string(AAD("n1", ts)))

	// sub-millisecond precision is dropped so the value survives databases
	withNanos := ts.Add(1500 * time.Microsecond)
	assert.Equal(t, "n1_2024-01-01T00:00:00.001Z", string(AAD("n1", withNanos)))

	local := ts.In(time.FixedZone("X", 3*3600))
	assert.Equal(t, string(AAD("n1", ts)), string(AAD("n1", local)))
}

func TestSession_NeedsRefresh(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	threshold := 5 * time.Minute

	tests := []struct {
		name   string
		expiry time.Time
		want   bool
	}{
		{name: "far future", expiry: now.Add(time.Hour), want: false},
		{name: "exactly at threshold", expiry: now.Add(5 * time.Minute), want: false},
		{name: "just inside threshold", expiry: now.Add(5*time.Minute - time.Second), want: true},
		{name: "already expired", expiry: now.Add(-time.Minute), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Session{ExpiresAt: tt.expiry.Unix()}
			assert.Equal(t, tt.want, s.NeedsRefresh(now, threshold))
		})
	}
}

func TestSession_Expired(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := &Session{ExpiresAt: now.Unix()}
	assert.False(t, s.Expired(now))
	assert.True(t, s.Expired(now.Add(time.Second)))
}

func TestNote_EncryptedPartDefaults(t *testing.T) {
	part := Note{Title: "T"}.EncryptedPart()
	assert.NotNil(t, part.Tags)
	assert.NotNil(t, part.Metadata)
}

func TestEventType_IsAuth(t *testing.T) {
	assert.True(t, EventSignInFailed.IsAuth())
	assert.False(t, EventDecryptFailed.IsAuth())
}
