// Package metrics provides Prometheus metrics for the console shell.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Sidebar tree metrics
	treeReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_console_tree_reloads_total",
			Help: "Total number of full sidebar tree reloads",
		},
		[]string{"status"},
	)

	treeReloadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "livechat_console_tree_reload_duration_seconds",
			Help:    "Full tree reload duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	treeSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "livechat_console_tree_size",
			Help: "Number of entries in the held sidebar tree",
		},
	)

	fallbackTreesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livechat_console_fallback_trees_total",
			Help: "Times the backend served a fallback tree",
		},
	)

	treeMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_console_tree_mutations_total",
			Help: "Sidebar tree mutations by operation and status",
		},
		[]string{"op", "status"},
	)

	// Module registry metrics
	moduleLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_console_module_loads_total",
			Help: "Module view loads by outcome",
		},
		[]string{"module", "status"},
	)

	modulePrefetchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livechat_console_module_prefetches_total",
			Help: "Module chunk prefetches actually performed",
		},
	)

	// Routing metrics
	routeTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_console_route_transitions_total",
			Help: "Route state machine transitions by target tab",
		},
		[]string{"tab"},
	)

	// Backend health
	backendUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "livechat_console_backend_up",
			Help: "1 when the backend health probe succeeds, 0 otherwise",
		},
	)

	// UI-state persistence
	uiStateFlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_console_uistate_flushes_total",
			Help: "UI-state server flushes by status",
		},
		[]string{"status"},
	)

	uiStateSwallowedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livechat_console_uistate_swallowed_errors_total",
			Help: "Storage errors swallowed by Save",
		},
	)

	// Notifications
	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_console_notifications_total",
			Help: "Desktop notifications by disposition (sent, throttled)",
		},
		[]string{"disposition"},
	)
)

// RecordTreeReload records a full tree reload.
func RecordTreeReload(status string, d time.Duration) {
	treeReloadsTotal.WithLabelValues(status).Inc()
	treeReloadDuration.Observe(d.Seconds())
}

// SetTreeSize sets the held tree entry count.
func SetTreeSize(n int) {
	treeSize.Set(float64(n))
}

// RecordFallbackTree records a fallback tree response.
func RecordFallbackTree() {
	fallbackTreesTotal.Inc()
}

// RecordTreeMutation records one mutation round-trip.
func RecordTreeMutation(op, status string) {
	treeMutationsTotal.WithLabelValues(op, status).Inc()
}

// RecordModuleLoad records one module view load.
func RecordModuleLoad(module, status string) {
	moduleLoadsTotal.WithLabelValues(module, status).Inc()
}

// RecordModulePrefetch records a prefetch that actually hit the network.
func RecordModulePrefetch() {
	modulePrefetchesTotal.Inc()
}

// RecordRouteTransition records a transition to a tab.
func RecordRouteTransition(tab string) {
	routeTransitionsTotal.WithLabelValues(tab).Inc()
}

// SetBackendUp sets the health gauge.
func SetBackendUp(up bool) {
	if up {
		backendUp.Set(1)
	} else {
		backendUp.Set(0)
	}
}

// RecordUIStateFlush records a server flush attempt.
func RecordUIStateFlush(status string) {
	uiStateFlushesTotal.WithLabelValues(status).Inc()
}

// RecordUIStateSwallowed records a storage error swallowed by Save.
func RecordUIStateSwallowed() {
	uiStateSwallowedTotal.Inc()
}

// RecordNotification records a notification disposition.
func RecordNotification(disposition string) {
	notificationsTotal.WithLabelValues(disposition).Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
