package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the kiosk's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	channelState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kiosk",
			Subsystem: "control_channel",
			Name:      "state",
			Help:      "Control-channel state (0 disconnected, 1 connecting, 2 connected, 3 registered).",
		},
	)

	reconnectAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kiosk",
			Subsystem: "control_channel",
			Name:      "reconnect_attempts_total",
			Help:      "Total number of scheduled reconnect attempts.",
		},
	)

	commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kiosk",
			Name:      "commands_total",
			Help:      "Dispatcher commands handled, by type and result.",
		},
		[]string{"type", "result"},
	)

	sessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kiosk",
			Name:      "sessions_total",
			Help:      "Session lifecycle events.",
		},
		[]string{"event"},
	)

	currentCost = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kiosk",
			Subsystem: "session",
			Name:      "current_cost",
			Help:      "Running cost of the active session.",
		},
	)

	settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kiosk",
			Name:      "settlements_total",
			Help:      "Balance settlements, by result.",
		},
		[]string{"result"},
	)

	heartbeats = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kiosk",
			Name:      "heartbeats_total",
			Help:      "Liveness updates sent for this computer, by result.",
		},
		[]string{"result"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kiosk",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of local API requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kiosk",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of local API requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)
)

func init() {
	Registry.MustRegister(
		channelState,
		reconnectAttempts,
		commands,
		sessions,
		currentCost,
		settlements,
		heartbeats,
		httpRequests,
		httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetChannelState records the numeric control-channel state.
func SetChannelState(state int) {
	channelState.Set(float64(state))
}

func IncReconnectAttempts() {
	reconnectAttempts.Inc()
}

// ObserveCommand counts a handled dispatcher command.
func ObserveCommand(commandType string, success bool) {
	if commandType == "" {
		commandType = "unknown"
	}
	commands.WithLabelValues(commandType, result(success)).Inc()
}

// ObserveSession counts a session lifecycle event (started, ended, cancelled).
func ObserveSession(event string) {
	sessions.WithLabelValues(event).Inc()
}

// SetCurrentCost publishes the running cost of the active session; zero when idle.
func SetCurrentCost(cost float64) {
	currentCost.Set(cost)
}

func ObserveSettlement(success bool) {
	settlements.WithLabelValues(result(success)).Inc()
}

func ObserveHeartbeat(success bool) {
	heartbeats.WithLabelValues(result(success)).Inc()
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

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
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

// canonicalPath replaces id segments so customer routes share one label.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	for i, part := range parts {
		if _, err := uuid.Parse(part); err == nil {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}
