package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_IndependentInstances(t *testing.T) {
	r1 := NewRegistry()
	r2 := NewRegistry()

	r1.AuthFailuresTotal.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(r1.AuthFailuresTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(r2.AuthFailuresTotal))
}

func TestSecurityEventsTotal_Labels(t *testing.T) {
	r := NewRegistry()
	r.SecurityEventsTotal.WithLabelValues("data.decrypt_failed", "high").Inc()
	r.SecurityEventsTotal.WithLabelValues("data.decrypt_failed", "high").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(r.SecurityEventsTotal.WithLabelValues("data.decrypt_failed", "high")))
}

func TestRecordCryptoOperation(t *testing.T) {
	r := NewRegistry()
	r.RecordCryptoOperation("encrypt", nil, 2*time.Millisecond)
	r.RecordCryptoOperation("decrypt", errors.New("x"), time.Millisecond)

	assert.Equal(t, 2, testutil.CollectAndCount(r.CryptoOperationDuration))
}

func TestSetEncryptionReady(t *testing.T) {
	r := NewRegistry()
	r.SetEncryptionReady(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.EncryptionReady))
	r.SetEncryptionReady(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(r.EncryptionReady))
}

func TestHandler_ServesMetrics(t *testing.T) {
	r := NewRegistry()
	r.LockoutsTotal.Inc()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "gophnotes_auth_lockouts_total 1"))
}
