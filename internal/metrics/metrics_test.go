package metrics_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/blitze-fs/blitze/internal/metrics"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesRegisteredSeries(t *testing.T) {
	m := metrics.New()
	m.ArchivesIndexed.Inc()
	m.CacheHits.Add(3)
	m.TCPCommands.WithLabelValues("search").Inc()
	m.LastIno.Set(20042)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	require.True(t, strings.Contains(body, "blitze_archives_indexed_total 1"))
	require.True(t, strings.Contains(body, "blitze_cache_hits_total 3"))
	require.True(t, strings.Contains(body, `blitze_tcp_commands_total{command="search"} 1`))
	require.True(t, strings.Contains(body, "blitze_last_ino 20042"))
}
