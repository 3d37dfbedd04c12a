package observability

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rlm_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rlm_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Session metrics
	SessionIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rlm_session_iterations",
			Help:    "Number of loop iterations per completion session",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 50},
		},
	)

	SessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rlm_session_duration_seconds",
			Help:    "Wall-clock duration of a completion session",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	TokenUsage = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rlm_token_usage_total",
			Help: "Total number of tokens used",
		},
		[]string{"model", "tier", "type"}, // type: input, output
	)

	RecursiveCalls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rlm_recursive_calls_total",
			Help: "Total number of recursive model calls issued from the sandbox",
		},
	)

	SandboxExecutions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rlm_sandbox_executions_total",
			Help: "Total number of code fragments executed in the sandbox",
		},
	)

	SessionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rlm_errors_total",
			Help: "Total number of fatal session errors",
		},
	)
)

// SetupLogger installs a JSON slog handler as the process default. The
// level is read from RLM_LOG_LEVEL (debug, info, warn, error).
func SetupLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("RLM_LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "timestamp"
				a.Value = slog.StringValue(time.Now().Format(time.RFC3339))
			}
			return a
		},
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
