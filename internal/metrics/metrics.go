package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	ActiveRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "http_requests_in_progress",
			Help: "Number of HTTP requests currently being processed",
		},
		[]string{"method", "path"},
	)

	VoteOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gather_vote_operations_total",
			Help: "Total number of vote operations by voting system",
		},
		[]string{"operation", "system", "status"},
	)

	PollOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gather_poll_operations_total",
			Help: "Total number of poll and option operations",
		},
		[]string{"operation", "status"},
	)

	PhaseTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gather_poll_phase_transitions_total",
			Help: "Total number of committed poll phase transitions",
		},
		[]string{"from", "to"},
	)

	Finalizations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gather_poll_finalizations_total",
			Help: "Total number of finalization attempts",
		},
		[]string{"strategy", "outcome"},
	)

	PublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gather_event_publish_failures_total",
			Help: "Total number of poll events that could not be delivered",
		},
		[]string{"type"},
	)

	CacheOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_operations_total",
			Help: "Total number of cache operations",
		},
		[]string{"operation", "status"},
	)
)

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}

		method := c.Request.Method
		start := time.Now()

		ActiveRequests.WithLabelValues(method, path).Inc()
		defer ActiveRequests.WithLabelValues(method, path).Dec()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		RequestDuration.WithLabelValues(method, path, status).Observe(duration)
		RequestTotal.WithLabelValues(method, path, status).Inc()

		switch {
		case path == "/api/events/:eventId/polls":
			if method == http.MethodPost {
				PollOperations.WithLabelValues("create", status).Inc()
			} else {
				PollOperations.WithLabelValues("list", status).Inc()
			}
		case path == "/api/polls/:id" && method == http.MethodDelete:
			PollOperations.WithLabelValues("delete", status).Inc()
		case path == "/api/polls/:id/phase":
			PollOperations.WithLabelValues("transition", status).Inc()
		case path == "/api/polls/:id/options" && method == http.MethodPost:
			PollOperations.WithLabelValues("propose", status).Inc()
		case path == "/api/polls/:id/finalize":
			PollOperations.WithLabelValues("finalize", status).Inc()
		}
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func RecordVoteOperation(operation, system string, err error) {
	VoteOperations.WithLabelValues(operation, system, outcome(err)).Inc()
}

func RecordPhaseTransition(from, to string) {
	PhaseTransitions.WithLabelValues(from, to).Inc()
}

// RecordFinalization labels failures with their state code when present.
func RecordFinalization(strategy, result string) {
	Finalizations.WithLabelValues(strategy, result).Inc()
}

func RecordPublishFailure(eventType string) {
	PublishFailures.WithLabelValues(eventType).Inc()
}

func RecordCacheOperation(operation string, hit bool) {
	status := "miss"
	if hit {
		status = "hit"
	}
	CacheOperations.WithLabelValues(operation, status).Inc()
}
