package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/R3E-Network/raffle/internal/events"
)

const namespace = "raffle"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	entries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "raffle",
			Name:      "entries_total",
			Help:      "Total number of accepted entries.",
		},
	)

	rejectedEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "raffle",
			Name:      "rejected_entries_total",
			Help:      "Total number of rejected entries by reason.",
		},
		[]string{"reason"},
	)

	drawsRequested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "raffle",
			Name:      "draws_requested_total",
			Help:      "Total number of draws started.",
		},
	)

	drawsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "raffle",
			Name:      "draws_completed_total",
			Help:      "Total number of draws paid out.",
		},
	)

	payoutFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "raffle",
			Name:      "payout_failures_total",
			Help:      "Total number of failed payouts.",
		},
	)

	pot = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "raffle",
			Name:      "pot",
			Help:      "Current pot in the smallest unit.",
		},
		[]string{"raffle_id"},
	)

	vrfRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vrf",
			Name:      "requests_total",
			Help:      "Total number of randomness requests by provider.",
		},
		[]string{"provider"},
	)

	vrfFulfilments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vrf",
			Name:      "fulfilments_total",
			Help:      "Total number of randomness fulfilments by provider and outcome.",
		},
		[]string{"provider", "success"},
	)

	keeperChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "checks_total",
			Help:      "Total number of upkeep checks by result.",
		},
		[]string{"needed"},
	)

	keeperDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "perform_duration_seconds",
			Help:      "Duration of upkeep performs.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"success"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		entries,
		rejectedEntries,
		drawsRequested,
		drawsCompleted,
		payoutFailures,
		pot,
		vrfRequests,
		vrfFulfilments,
		keeperChecks,
		keeperDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordRejectedEntry counts an entry refused for reason.
func RecordRejectedEntry(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	rejectedEntries.WithLabelValues(reason).Inc()
}

// SetPot publishes the current pot of a raffle.
func SetPot(raffleID string, amount int64) {
	pot.WithLabelValues(raffleID).Set(float64(amount))
}

// RecordUpkeepCheck counts a keeper check.
func RecordUpkeepCheck(needed bool) {
	keeperChecks.WithLabelValues(strconv.FormatBool(needed)).Inc()
}

// RecordUpkeepPerform records a keeper perform.
func RecordUpkeepPerform(duration time.Duration, success bool) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	keeperDuration.WithLabelValues(strconv.FormatBool(success)).Observe(duration.Seconds())
}

// ObserveEvents keeps the raffle and vrf collectors current from the event
// log. The returned func detaches it.
func ObserveEvents(log *events.Log) func() {
	return log.Subscribe(func(e events.Event) {
		switch e.Type {
		case events.EventRaffleEnter:
			entries.Inc()
			pot.WithLabelValues(e.RaffleID).Add(float64(e.Amount))
		case events.EventRaffleWinnerRequested:
			drawsRequested.Inc()
		case events.EventRaffleWinnerPicked:
			drawsCompleted.Inc()
			pot.WithLabelValues(e.RaffleID).Set(0)
		case events.EventRafflePayoutFailed:
			payoutFailures.Inc()
		case events.EventVRFWordsRequested:
			vrfRequests.WithLabelValues(providerLabel(e.Source)).Inc()
		case events.EventVRFWordsFulfilled:
			vrfFulfilments.WithLabelValues(providerLabel(e.Source), "true").Inc()
		case events.EventVRFFulfillmentFailed:
			vrfFulfilments.WithLabelValues(providerLabel(e.Source), "false").Inc()
		}
	})
}

func providerLabel(source string) string {
	if source == "" {
		return "unknown"
	}
	return source
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Flush lets websocket and streaming handlers see through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack is required for websocket upgrades.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// canonicalPath collapses path parameters so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "raffle":
		if len(parts) >= 3 && parts[1] == "participants" {
			return "/raffle/participants/:index"
		}
	case "ledger":
		if len(parts) >= 3 && parts[1] == "accounts" {
			if len(parts) == 4 {
				return "/ledger/accounts/:id/" + parts[3]
			}
			return "/ledger/accounts/:id"
		}
	case "vrf":
		if len(parts) >= 3 && parts[1] == "requests" {
			return "/vrf/requests/:id/fulfill"
		}
	}
	return "/" + trimmed
}
