package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rlmkit/rlm/internal/client"
	"github.com/rlmkit/rlm/internal/config"
	"github.com/rlmkit/rlm/internal/ledger"
	"github.com/rlmkit/rlm/internal/observability"
	"github.com/rlmkit/rlm/internal/rlm"
)

type completionRequest struct {
	Query         string `json:"query"`
	Context       any    `json:"context,omitempty"`
	MaxIterations int    `json:"max_iterations,omitempty"`
}

func main() {
	_ = godotenv.Load()
	logger := observability.SetupLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	root, recursive, err := buildClients(cfg)
	if err != nil {
		logger.Error("Failed to create model clients", "error", err)
		os.Exit(1)
	}

	// The client pair is shared by every request; pin the models before
	// serving so misconfiguration fails at startup, not under load.
	if err := root.Resolve(context.Background()); err != nil {
		logger.Error("Failed to resolve root model", "error", err)
		os.Exit(1)
	}
	if err := recursive.Resolve(context.Background()); err != nil {
		logger.Error("Failed to resolve recursive model", "error", err)
		os.Exit(1)
	}

	// One ledger for the process lifetime; each request runs its own
	// session against it.
	costs := ledger.New()
	newEngine := func(maxIter int) *rlm.RLM {
		if maxIter <= 0 {
			maxIter = cfg.MaxIterations
		}
		return rlm.New(root, recursive,
			rlm.WithMaxIterations(maxIter),
			rlm.WithMaxOutputChars(cfg.MaxOutputChars),
			rlm.WithMaxRecursiveCalls(cfg.MaxRecursiveCalls),
			rlm.WithLedger(costs),
		)
	}

	mux := newMux(logger, costs, newEngine)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting server", "port", cfg.Port, "backend", string(cfg.Backend), "endpoint", cfg.BaseURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-stop
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exited properly")
}

func newMux(logger *slog.Logger, costs *ledger.Ledger, newEngine func(maxIter int) *rlm.RLM) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/cost", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(costs.Summary())
	})

	mux.HandleFunc("/completion", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			duration := time.Since(start).Seconds()
			observability.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, http.StatusText(rw.status)).Inc()
			observability.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
			logger.Info("Request handled", "method", r.Method, "path", r.URL.Path, "status", rw.status, "duration", duration)
		}()

		if r.Method != http.MethodPost {
			respondError(rw, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		var req completionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(rw, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		if req.Query == "" {
			respondError(rw, http.StatusBadRequest, "Query is required")
			return
		}

		resp, err := newEngine(req.MaxIterations).Completion(r.Context(), req.Context, req.Query)
		if err != nil {
			logger.Error("Completion failed", "error", err)
			respondError(rw, http.StatusInternalServerError, err.Error())
			return
		}

		rw.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(rw).Encode(resp); err != nil {
			logger.Error("Failed to encode response", "error", err)
		}
	})

	return mux
}

func buildClients(cfg config.Config) (root, recursive client.Client, err error) {
	switch cfg.Backend {
	case config.BackendGemini:
		root, err = client.NewGemini(cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, nil, err
		}
		recursive, err = client.NewGemini(cfg.APIKey, cfg.RecursiveModel)
		if err != nil {
			return nil, nil, err
		}
	default:
		root = client.NewOpenAI(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Temperature, cfg.MaxTokens)
		recursive = client.NewOpenAI(cfg.BaseURL, cfg.APIKey, cfg.RecursiveModel, cfg.Temperature, cfg.MaxTokens)
	}
	return root, recursive, nil
}

func respondError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// Custom ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
