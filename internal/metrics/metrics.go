package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dlnamedia/internal/library"
)

const namespace = "dlnamedia"

// Metrics holds the Prometheus collectors of the media server.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal prometheus.Counter
	errorsTotal   prometheus.Counter

	soapActions  *prometheus.CounterVec
	soapDuration *prometheus.HistogramVec

	streamsStarted  *prometheus.CounterVec
	streamsFinished *prometheus.CounterVec
	streamBytes     *prometheus.CounterVec
	activeStreams   prometheus.Gauge

	ssdpNotify    *prometheus.CounterVec
	ssdpResponses prometheus.Counter

	catalogObjects  prometheus.Gauge
	catalogUpdateID prometheus.Gauge
	rebuildsTotal   prometheus.Counter
	rebuildDuration prometheus.Gauge

	artCacheItems prometheus.Gauge
	artCacheBytes prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_errors_total",
			Help:      "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		soapActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "soap_actions_total",
			Help:      "SOAP control requests by service, action and UPnP error code (0 for success)",
		}, []string{"service", "action", "code"}),
		soapDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "soap_action_duration_seconds",
			Help:      "Time spent handling SOAP control requests",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1},
		}, []string{"service", "action"}),
		streamsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_started_total",
			Help:      "Streams started by output profile",
		}, []string{"profile"}),
		streamsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_finished_total",
			Help:      "Streams finished by output profile and result",
		}, []string{"profile", "result"}),
		streamBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_bytes_total",
			Help:      "Bytes written to stream clients",
		}, []string{"profile"}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Number of streams being served",
		}),
		ssdpNotify: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ssdp_notify_total",
			Help:      "SSDP NOTIFY messages sent by NTS",
		}, []string{"nts"}),
		ssdpResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ssdp_search_responses_total",
			Help:      "Unicast responses sent to M-SEARCH queries",
		}),
		catalogObjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "catalog_objects",
			Help:      "Objects in the current catalog, root included",
		}),
		catalogUpdateID: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "catalog_update_id",
			Help:      "Current SystemUpdateID",
		}),
		rebuildsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "library_rebuilds_total",
			Help:      "Completed catalog rebuilds",
		}),
		rebuildDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "library_last_rebuild_seconds",
			Help:      "Duration of the most recent catalog rebuild",
		}),
		artCacheItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "art_cache_items",
			Help:      "Cover images held in memory",
		}),
		artCacheBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "art_cache_bytes",
			Help:      "Bytes of cover images held in memory",
		}),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.soapActions,
		m.soapDuration,
		m.streamsStarted,
		m.streamsFinished,
		m.streamBytes,
		m.activeStreams,
		m.ssdpNotify,
		m.ssdpResponses,
		m.catalogObjects,
		m.catalogUpdateID,
		m.rebuildsTotal,
		m.rebuildDuration,
		m.artCacheItems,
		m.artCacheBytes,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRequest counts one HTTP request; statuses of 400 and above also
// count as errors.
func (m *Metrics) ObserveRequest(status int) {
	m.requestsTotal.Inc()
	if status >= http.StatusBadRequest {
		m.errorsTotal.Inc()
	}
}

// ObserveAction records one SOAP control request.
func (m *Metrics) ObserveAction(service, action string, faultCode int, elapsed time.Duration) {
	m.soapActions.WithLabelValues(service, action, strconv.Itoa(faultCode)).Inc()
	m.soapDuration.WithLabelValues(service, action).Observe(elapsed.Seconds())
}

func (m *Metrics) StreamStarted(profile string) {
	m.streamsStarted.WithLabelValues(profile).Inc()
	m.activeStreams.Inc()
}

func (m *Metrics) StreamFinished(profile string, bytes int64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.streamsFinished.WithLabelValues(profile, result).Inc()
	m.streamBytes.WithLabelValues(profile).Add(float64(bytes))
	m.activeStreams.Dec()
}

func (m *Metrics) NotifySent(nts string, count int) {
	m.ssdpNotify.WithLabelValues(nts).Add(float64(count))
}

func (m *Metrics) SearchAnswered(_ string, responses int) {
	m.ssdpResponses.Add(float64(responses))
}

// ObserveRebuild records a finished catalog rebuild.
func (m *Metrics) ObserveRebuild(stats library.Stats) {
	m.rebuildsTotal.Inc()
	m.rebuildDuration.Set(stats.Duration.Seconds())
}

func (m *Metrics) SetCatalog(objects int, updateID uint32) {
	m.catalogObjects.Set(float64(objects))
	m.catalogUpdateID.Set(float64(updateID))
}

func (m *Metrics) SetArtCache(items int, bytes int64) {
	m.artCacheItems.Set(float64(items))
	m.artCacheBytes.Set(float64(bytes))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	inner := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		inner.ServeHTTP(w, r)
	})
}
