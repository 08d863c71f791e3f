package adminapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Server is the administrative HTTP surface (spec.md §6, SPEC_FULL §4.9):
// the seven /manual/* routes, fronted by the same middleware chain as the
// rest of the service's owned resources.
type Server struct {
	cfg      *Config
	handler  *Handler
	queue    *WorkQueue
	logger   *zap.Logger
	server   *http.Server
	auditLog *AuditLogger
}

// NewServer builds the admin server. The caller is responsible for
// starting queue.Run before Start is called, and stopping it after
// Shutdown returns.
func NewServer(cfg *Config, h *Handler, queue *WorkQueue, logger *zap.Logger) (*Server, error) {
	var auditLog *AuditLogger
	var err error
	if cfg.AuditEnabled {
		auditLog, err = NewAuditLogger(cfg.AuditLogPath, cfg.AuditRotateSize, cfg.AuditMaxBackups)
		if err != nil {
			return nil, fmt.Errorf("adminapi: create audit logger: %w", err)
		}
	}
	return &Server{cfg: cfg, handler: h, queue: queue, logger: logger, auditLog: auditLog}, nil
}

// Start runs the HTTP server, blocking until it stops.
func (s *Server) Start() error {
	handler := s.applyMiddleware(s.routes())
	s.server = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.logger.Info("starting admin api server",
		zap.String("addr", s.cfg.ListenAddr),
		zap.Bool("auth_enabled", s.cfg.RequireAuth))

	if s.cfg.TLSEnabled {
		return s.server.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.auditLog != nil {
		s.auditLog.Close()
	}
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// routes builds the gorilla/mux router for every /manual/* endpoint.
func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	r.HandleFunc("/manual/create", s.handler.HandleCreate).Methods(http.MethodPost)
	r.HandleFunc("/manual/topic", s.handler.HandleTopic).Methods(http.MethodPost)
	r.HandleFunc("/manual/async/topic", s.handler.HandleAsyncTopic).Methods(http.MethodPost)
	r.HandleFunc("/manual/batch/topic", s.handler.HandleBatchTopic).Methods(http.MethodPost)
	r.HandleFunc("/manual/status/{id}", s.handler.HandleStatus).Methods(http.MethodGet)
	r.HandleFunc("/manual/scheduler/trigger", s.handler.HandleSchedulerTrigger).Methods(http.MethodPost)
	r.HandleFunc("/manual/cleanup/trigger", s.handler.HandleCleanupTrigger).Methods(http.MethodPost)
	return r
}

// applyMiddleware wraps handler with the server's configured chain,
// innermost first: Recovery sits closest to the handler and Auth, when
// enabled, is the outermost wrapper.
func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	handler = RecoveryMiddleware(s.logger)(handler)
	handler = RequestIDMiddleware()(handler)
	if s.cfg.CORSEnabled {
		handler = CORSMiddleware(s.cfg.CORSAllowOrigins)(handler)
	}
	if s.cfg.AuditEnabled && s.auditLog != nil {
		handler = AuditMiddleware(s.auditLog, s.logger)(handler)
	}
	if s.cfg.RateLimitEnabled {
		handler = RateLimitMiddleware(s.cfg.RateLimitPerMinute, s.cfg.RateLimitBurst, s.logger)(handler)
	}
	if s.cfg.RequireAuth {
		handler = AuthMiddleware(s.cfg.JWTSecret, s.cfg.DenyByDefault, s.logger)(handler)
	}
	return handler
}
