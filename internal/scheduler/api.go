package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"autotrader/internal/broker"
	"go.uber.org/zap"
)

// APIServer exposes a read-only operational view of the orchestrator. The
// full tenant-facing API lives elsewhere; this is for operators and probes.
type APIServer struct {
	server       *http.Server
	orchestrator *Orchestrator
	brokers      *broker.Manager
	logger       *zap.Logger
}

// NewAPIServer creates the status server on the given port.
func NewAPIServer(orchestrator *Orchestrator, brokers *broker.Manager, port int, logger *zap.Logger) *APIServer {
	mux := http.NewServeMux()
	s := &APIServer{
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
		orchestrator: orchestrator,
		brokers:      brokers,
		logger:       logger.Named("api-server"),
	}

	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/brokers", s.brokersHandler)
	return s
}

// Start runs the HTTP server in a new goroutine.
func (s *APIServer) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

func (s *APIServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func (s *APIServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant")
	if tenantID == "" {
		http.Error(w, "missing tenant parameter", http.StatusBadRequest)
		return
	}

	status := s.orchestrator.StatusFor(r.Context(), tenantID)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("Failed to write status response", zap.Error(err))
		http.Error(w, "Failed to encode status", http.StatusInternalServerError)
	}
}

func (s *APIServer) brokersHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.brokers.List()); err != nil {
		s.logger.Error("Failed to write brokers response", zap.Error(err))
		http.Error(w, "Failed to encode brokers", http.StatusInternalServerError)
	}
}
