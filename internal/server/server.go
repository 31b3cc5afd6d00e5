package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"fints-agent/internal/handler"
	"fints-agent/internal/logger"
	"fints-agent/internal/service"
)

// Services are the already wired dependencies the HTTP surface exposes.
type Services struct {
	Transfers *service.TransferService
	Accounts  *service.AccountService
	// PollTimeout bounds waiting requests and is the default for ?timeout.
	PollTimeout time.Duration
	Backend     string
}

// Server represents the HTTP server
type Server struct {
	router      *mux.Router
	server      *http.Server
	logger      zerolog.Logger
	pollTimeout time.Duration
	addr        string
}

// NewServer creates a new server instance
func NewServer(svc Services, logger zerolog.Logger) *Server {
	transferHandler := handler.NewTransferHandler(svc.Transfers, svc.PollTimeout)
	pendingHandler := handler.NewPendingHandler(svc.Transfers, svc.PollTimeout)

	router := mux.NewRouter()
	router.Use(loggingMiddleware(logger))

	router.HandleFunc("/transfers", transferHandler.Transfer).Methods("POST")

	router.HandleFunc("/pending", pendingHandler.List).Methods("GET")
	router.HandleFunc("/pending/{id}", pendingHandler.Get).Methods("GET")
	router.HandleFunc("/pending/{id}/poll", pendingHandler.Poll).Methods("POST")
	router.HandleFunc("/pending/{id}", pendingHandler.Discard).Methods("DELETE")

	if svc.Accounts != nil {
		accountHandler := handler.NewAccountHandler(svc.Accounts)
		router.HandleFunc("/accounts", accountHandler.ListAccounts).Methods("GET")
		router.HandleFunc("/accounts/{iban}/transactions", accountHandler.Transactions).Methods("GET")
		router.HandleFunc("/capabilities", accountHandler.Capabilities).Methods("GET")
	}

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":    "healthy",
			"backend":   svc.Backend,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}).Methods("GET")

	return &Server{
		router:      router,
		logger:      logger,
		pollTimeout: svc.PollTimeout,
	}
}

// loggingMiddleware adds request logging and puts a request scoped logger
// into the request context.
func loggingMiddleware(base zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqLog := logger.WithFields(base, map[string]interface{}{
				"request_id": uuid.NewString(),
				"method":     r.Method,
				"path":       r.URL.Path,
			})
			r = r.WithContext(logger.WithContext(r.Context(), reqLog))

			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(ww, r)

			reqLog.Info().
				Int("status", ww.statusCode).
				Dur("duration", time.Since(start)).
				Str("user_agent", r.UserAgent()).
				Msg("request completed")
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start listens on addr and serves in the background. It returns the bound
// address, which differs from addr when the port is 0.
func (s *Server) Start(addr string) (string, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	s.addr = listener.Addr().String()

	s.server = &http.Server{
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// sync transfers and waiting polls hold the request open
		WriteTimeout: s.pollTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", s.addr).Msg("Starting server")

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Server failed")
		}
	}()

	return s.addr, nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down server")

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// GetBaseURL returns the base URL for the server
func (s *Server) GetBaseURL() string {
	return "http://" + s.addr
}

// GetRouter returns the router for testing purposes
func (s *Server) GetRouter() *mux.Router {
	return s.router
}
