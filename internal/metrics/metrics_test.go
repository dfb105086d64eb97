package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_CountersAndHandler(t *testing.T) {
	m := New("ledger")

	m.UnitsAllocated.Add(7)
	m.OverrideAllocations.Inc()
	m.AllocationFailures.WithLabelValues("INSUFFICIENT_STOCK").Inc()
	m.PeriodTransitions.WithLabelValues("lock").Inc()

	assert.Equal(t, float64(7), testutil.ToFloat64(m.UnitsAllocated))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AllocationFailures.WithLabelValues("INSUFFICIENT_STOCK")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ledger_units_allocated_total 7")
	assert.Contains(t, string(body), `ledger_period_transitions_total{transition="lock"} 1`)
}
