package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eisei-komiya/econ-cal-sync/internal/engine"
)

func TestObserveRunOK(t *testing.T) {
	r := NewRecorder("127.0.0.1:0")

	r.ObserveRun(engine.Summary{
		Created:  2,
		Updated:  1,
		Deleted:  3,
		Skipped:  4,
		Failed:   1,
		Duration: 1200 * time.Millisecond,
	})

	assert.Equal(t, float64(2), testutil.ToFloat64(r.actionsTotal.WithLabelValues("created")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.actionsTotal.WithLabelValues("updated")))
	assert.Equal(t, float64(3), testutil.ToFloat64(r.actionsTotal.WithLabelValues("deleted")))
	assert.Equal(t, float64(4), testutil.ToFloat64(r.actionsTotal.WithLabelValues("skipped")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.actionsTotal.WithLabelValues("failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.runsTotal.WithLabelValues("ok")))
	assert.Equal(t, float64(0), testutil.ToFloat64(r.runsTotal.WithLabelValues("fatal")))
	assert.Greater(t, testutil.ToFloat64(r.lastSuccessTS), float64(0))
}

func TestObserveRunFatal(t *testing.T) {
	r := NewRecorder("127.0.0.1:0")

	r.ObserveRun(engine.Summary{FatalErr: errors.New("auth failed")})

	assert.Equal(t, float64(1), testutil.ToFloat64(r.runsTotal.WithLabelValues("fatal")))
	assert.Equal(t, float64(0), testutil.ToFloat64(r.runsTotal.WithLabelValues("ok")))
	// No success yet, so the timestamp stays unset.
	assert.Equal(t, float64(0), testutil.ToFloat64(r.lastSuccessTS))
}

func TestEndpoints(t *testing.T) {
	r := NewRecorder("127.0.0.1:0")
	r.ObserveRun(engine.Summary{Created: 1})

	srv := httptest.NewServer(r.server.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "econcal_sync_actions_total")
	assert.Contains(t, string(body), "econcal_sync_runs_total")
}
