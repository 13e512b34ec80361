package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/futuresys/introbot/internal/auth"
	"github.com/futuresys/introbot/internal/ratelimit"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger      *slog.Logger
	Resolver    Resolver           // Required
	Quota       *ratelimit.Limiter // Required
	Store       Counter            // Optional: nil disables passage count in /ready
	Pool        *pgxpool.Pool      // Optional: nil makes /ready report unavailable
	Generator   Prober             // Optional: generation backend probe for /ready
	CORSOrigins []string           // Allowed origins for CORS
	TrustProxy  bool               // Trust X-Real-IP/X-Forwarded-For headers
	FloodBurst  int                // Flood guard burst size per IP (0 = default 60)
	Auth        *auth.Credentials  // Optional: nil disables basic auth
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if cfg.Quota == nil {
		return nil, errors.New("quota limiter is required")
	}
	if cfg.Auth != nil {
		if err := cfg.Auth.Validate(); err != nil {
			return nil, err
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ah := &askHandler{
		resolver:   cfg.Resolver,
		quota:      cfg.Quota,
		trustProxy: cfg.TrustProxy,
		logger:     logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/ask", ah.ask)
	mux.HandleFunc("POST /api/v1/ask/stream", ah.askStream)
	mux.HandleFunc("GET /api/v1/quota", ah.quotaUsage)

	burst := cfg.FloodBurst
	if burst <= 0 {
		burst = 60
	}
	fg := newFloodGuard(1.0, burst)

	// Build middleware stack (outermost first):
	//   Recovery → Logging → CORS → FloodGuard → BasicAuth → Routes
	// CORS must be before FloodGuard so preflight OPTIONS gets proper
	// CORS headers even under load.
	var handler http.Handler = mux
	if cfg.Auth != nil {
		handler = auth.Middleware(*cfg.Auth, handler)
	}
	handler = floodMiddleware(fg, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w)
		handler.ServeHTTP(w, r)
	})

	// Top-level mux separates health probes from the middleware stack so
	// load balancer checks never consume quota or need credentials.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health(logger))
	var db Pinger
	if cfg.Pool != nil {
		db = cfg.Pool
	}
	topMux.Handle("GET /ready", readiness(db, cfg.Store, cfg.Generator, logger))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
