// Package metrics exposes blitze's operational counters over Prometheus:
// archives and entries indexed, extraction cache hits and misses, TCP
// command counts, and the most recently minted catalog inode.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every counter/gauge blitze reports, registered against a
// private registry so tests can construct independent instances.
type Metrics struct {
	Registry *prometheus.Registry

	ArchivesIndexed prometheus.Counter
	EntriesIndexed  prometheus.Counter
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	TCPCommands     *prometheus.CounterVec
	LastIno         prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		ArchivesIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blitze_archives_indexed_total",
			Help: "Number of archives successfully catalogued.",
		}),
		EntriesIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blitze_entries_indexed_total",
			Help: "Number of archive members successfully catalogued.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blitze_cache_hits_total",
			Help: "Number of extraction cache requests served from a materialized file.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blitze_cache_misses_total",
			Help: "Number of extraction cache requests that required materializing a member.",
		}),
		TCPCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blitze_tcp_commands_total",
			Help: "Number of TCP commands handled, by command name.",
		}, []string{"command"}),
		LastIno: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blitze_last_ino",
			Help: "The most recently minted catalog inode number.",
		}),
	}

	reg.MustRegister(m.ArchivesIndexed, m.EntriesIndexed, m.CacheHits, m.CacheMisses, m.TCPCommands, m.LastIno)
	return m
}

// Handler returns the HTTP handler to mount at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
