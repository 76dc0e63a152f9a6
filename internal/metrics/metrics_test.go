package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveDeployment(t *testing.T) {
	m := New()

	m.ObserveDeployment("NitroCollection", StatusSuccess, 1_200_000)
	m.ObserveDeployment("NitroCollection", StatusSuccess, 1_300_000)
	m.ObserveDeployment("NitroCollection", StatusFailed, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.deployments.WithLabelValues("NitroCollection", StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deployments.WithLabelValues("NitroCollection", StatusFailed)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.gasUsed))
}

func TestSetLastCompleted(t *testing.T) {
	m := New()
	m.SetLastCompleted(11155111, 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.lastCompleted.WithLabelValues("11155111")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveDeployment("Migrations", StatusSuccess, 1)
		m.ObserveMigration(1, time.Second)
		m.SetLastCompleted(1, 1)
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveMigration(1, 3*time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `nitro_migrate_migration_duration_seconds_count{migration="1"} 1`)
}
