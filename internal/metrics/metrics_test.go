package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Patch("applied")
	m.Patch("applied")
	m.Patch("failed")
	m.Reconcile("superseded", 3)
	m.Reconcile("conflict", 0)
	m.Drop("unknown_action")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Patches.WithLabelValues("applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Patches.WithLabelValues("failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Reconciled.WithLabelValues("superseded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dropped.WithLabelValues("unknown_action")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Patch("applied")
	m.Rollback()
	m.Reconcile("conflict", 1)
	m.Drop("line")
	m.Chunk("ok")
	m.Trip()
}

func TestHandler(t *testing.T) {
	m := New()
	m.Rollback()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "seopatch_rollbacks_total 1"))
}
