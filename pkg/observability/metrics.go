package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of the plugin host
type Metrics struct {
	// Plugin lifecycle metrics
	PluginsDiscovered  prometheus.Gauge
	PluginsLoaded      prometheus.Gauge
	PluginRescansTotal prometheus.Counter
	PluginLoadFailures *prometheus.CounterVec
	PluginInitErrors   *prometheus.CounterVec

	// Positional-data metrics
	PositionalArbitrationTotal *prometheus.CounterVec
	PositionalFetchTotal       prometheus.Counter
	PositionalFetchFailures    prometheus.Counter
	ActivePositionalPlugin     prometheus.Gauge

	// Event fan-out metrics
	EventFanoutTotal    *prometheus.CounterVec
	AudioPipelineFrames *prometheus.CounterVec

	// Host API metrics
	HostAPICallsTotal      *prometheus.CounterVec
	OutstandingAllocations prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		PluginsDiscovered: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "timbre_plugins_discovered",
				Help: "Number of plugin libraries found during the last rescan",
			},
		),
		PluginsLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "timbre_plugins_loaded",
				Help: "Number of plugins currently loaded",
			},
		),
		PluginRescansTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "timbre_plugin_rescans_total",
				Help: "Total number of plugin directory rescans",
			},
		),
		PluginLoadFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timbre_plugin_load_failures_total",
				Help: "Total number of plugin load failures",
			},
			[]string{"reason"},
		),
		PluginInitErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timbre_plugin_init_errors_total",
				Help: "Total number of non-OK results from plugin init entry points",
			},
			[]string{"status"},
		),
		PositionalArbitrationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timbre_positional_arbitration_total",
				Help: "Total number of positional-data arbitration offers by outcome",
			},
			[]string{"outcome"},
		),
		PositionalFetchTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "timbre_positional_fetch_total",
				Help: "Total number of positional-data fetches from the active plugin",
			},
		),
		PositionalFetchFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "timbre_positional_fetch_failures_total",
				Help: "Total number of fetches where the active plugin gave up",
			},
		),
		ActivePositionalPlugin: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "timbre_positional_active_plugin_id",
				Help: "ID of the currently active positional-data plugin (0 when none)",
			},
		),
		EventFanoutTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timbre_plugin_event_fanout_total",
				Help: "Total number of events fanned out to plugins",
			},
			[]string{"event"},
		),
		AudioPipelineFrames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timbre_plugin_audio_frames_total",
				Help: "Total number of audio frames run through the plugin pipeline",
			},
			[]string{"stage"},
		),
		HostAPICallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timbre_host_api_calls_total",
				Help: "Total number of host API invocations by plugins",
			},
			[]string{"function", "status"},
		),
		OutstandingAllocations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "timbre_host_outstanding_allocations",
				Help: "Host allocations handed to plugins and not yet freed",
			},
		),
	}

	registry.MustRegister(
		m.PluginsDiscovered,
		m.PluginsLoaded,
		m.PluginRescansTotal,
		m.PluginLoadFailures,
		m.PluginInitErrors,
		m.PositionalArbitrationTotal,
		m.PositionalFetchTotal,
		m.PositionalFetchFailures,
		m.ActivePositionalPlugin,
		m.EventFanoutTotal,
		m.AudioPipelineFrames,
		m.HostAPICallsTotal,
		m.OutstandingAllocations,
	)

	return m
}

// MetricsHandler returns an HTTP handler serving the registry
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
