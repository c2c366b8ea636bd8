package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/stridesync/pkg/core"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObservePage(core.EntityStops, 5000)
	m.ObservePage(core.EntityStops, 12)
	m.ObserveRetry(core.EntityRoutes)
	m.ObserveChunk(core.TableStops, 1000, nil)
	m.ObserveChunk(core.TableStops, 1000, errors.New("boom"))
	m.ObserveStage(core.StageResult{Stage: "stops", Outcome: core.OutcomeSuccess, Duration: time.Second})
	m.ObserveStage(core.StageResult{Stage: "trips", Outcome: core.OutcomeSkipped})
	m.ObserveRun(core.RunStatusCompleted, time.Minute, time.Unix(1760000000, 0))
	m.SetTableRows(core.TableStops, 28000)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.pagesFetched.WithLabelValues("gtfs_stops")))
	assert.Equal(t, 5012.0, testutil.ToFloat64(m.recordsFetched.WithLabelValues("gtfs_stops")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries.WithLabelValues("gtfs_routes")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.chunks.WithLabelValues("stops", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.chunks.WithLabelValues("stops", "failure")))
	assert.Equal(t, 1000.0, testutil.ToFloat64(m.rowsWritten.WithLabelValues("stops")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stageOutcomes.WithLabelValues("trips", "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("completed")))
	assert.Equal(t, 1760000000.0, testutil.ToFloat64(m.lastRun))
	assert.Equal(t, 28000.0, testutil.ToFloat64(m.tableRows.WithLabelValues("stops")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.SetTableRows(core.TableRoutes, 7)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `stridesync_table_rows{table="routes"} 7`), body)
	assert.Contains(t, body, "go_goroutines")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObservePage(core.EntityStops, 1)
		m.ObserveRetry(core.EntityStops)
		m.ObserveChunk("stops", 1, nil)
		m.ObserveStage(core.StageResult{})
		m.ObserveRun(core.RunStatusFailed, 0, time.Now())
		m.SetTableRows("stops", 1)
	})
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
