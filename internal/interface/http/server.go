// Package http implements the REST API of the analytics service.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/analizadordatos/smart-analytics/internal/application/command"
	"github.com/analizadordatos/smart-analytics/internal/application/query"
	"github.com/analizadordatos/smart-analytics/internal/domain/access"
	"github.com/analizadordatos/smart-analytics/internal/domain/shared"
	"github.com/analizadordatos/smart-analytics/internal/interface/http/handlers"
	"github.com/analizadordatos/smart-analytics/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	Host string
	Port int

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int

	// AllowedOrigins for CORS; "*" allows any origin.
	AllowedOrigins []string

	// Per-IP token bucket. RateLimitRPS 0 disables limiting.
	RateLimitRPS   float64
	RateLimitBurst int

	// TrustedProxies lists proxy IPs or CIDRs whose X-Forwarded-For and
	// X-Real-IP headers are honoured. Other peers are keyed by RemoteAddr.
	TrustedProxies []string

	// MaxBodyBytes bounds upload bodies.
	MaxBodyBytes int64

	// SessionCookie is read when no Authorization header is present.
	SessionCookie string

	Version string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
		AllowedOrigins: []string{"*"},
		RateLimitRPS:   10,
		RateLimitBurst: 20,
		MaxBodyBytes:   10 << 20,
		SessionCookie:  "session_token",
		Version:        "v1",
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Dependencies contains everything the routes call into. Nil handlers make
// their routes answer 501.
type Dependencies struct {
	// Query handlers
	GetSession   *query.GetSessionHandler
	GetStudent   *query.GetStudentHandler
	ListStudents *query.ListStudentsHandler
	GetSummary   *query.GetSummaryHandler

	// Command handlers
	AnalyzeRoster *command.AnalyzeRosterHandler
	ImportRoster  *command.ImportRosterHandler
	ClearRoster   *command.ClearRosterHandler
	Logout        *command.LogoutHandler

	// Sessions resolves bearer tokens. Without it every request is anonymous.
	Sessions access.SessionSource

	// ServiceAuth guards roster import. Without it the route is not mounted.
	ServiceAuth *handlers.APIKeyAuth

	// ImportEnabled gates roster import per calling service.
	ImportEnabled func(service string) bool

	HealthChecker handlers.HealthChecker
	Logger        *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	httpServer *http.Server
	router     *http.ServeMux
	logger     *logger.Logger

	limiter *ipRateLimiter
	proxies []netip.Prefix

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) *Server {
	s := &Server{
		config: config,
		deps:   deps,
		router: http.NewServeMux(),
		logger: deps.Logger,
	}
	if s.logger == nil {
		s.logger = logger.Default()
	}
	if s.config.SessionCookie == "" {
		s.config.SessionCookie = DefaultConfig().SessionCookie
	}
	if config.RateLimitRPS > 0 {
		s.limiter = newIPRateLimiter(rate.Limit(config.RateLimitRPS), config.RateLimitBurst)
	}
	for _, p := range config.TrustedProxies {
		prefix, err := parseProxy(p)
		if err != nil {
			s.logger.Warn("ignoring trusted proxy", logger.String("value", p), logger.Err(err))
			continue
		}
		s.proxies = append(s.proxies, prefix)
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           config.Address(),
		Handler:        s.Handler(),
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}
	return s
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return s.buildMiddlewareChain(s.router)
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	// ─────────────────────────────────────────────────────────────────────────
	// Health & Status
	// ─────────────────────────────────────────────────────────────────────────
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /live", s.handleLive)
	s.router.HandleFunc("GET /{$}", s.handleRoot)

	// ─────────────────────────────────────────────────────────────────────────
	// Session-authenticated API
	// ─────────────────────────────────────────────────────────────────────────
	authed := func(pattern string, h http.HandlerFunc) {
		s.router.Handle(pattern, s.sessionMiddleware(h))
	}
	authed("GET /api/v1/session", s.handleGetSession)
	authed("DELETE /api/v1/session", s.handleLogout)
	authed("GET /api/v1/students", s.handleListStudents)
	authed("GET /api/v1/students/{id}", s.handleGetStudent)
	authed("GET /api/v1/roster/summary", s.handleGetSummary)
	authed("POST /api/v1/roster/analyze", s.handleAnalyzeRoster)
	authed("DELETE /api/v1/roster", s.handleClearRoster)

	// ─────────────────────────────────────────────────────────────────────────
	// Service API
	// ─────────────────────────────────────────────────────────────────────────
	if s.deps.ServiceAuth != nil {
		s.router.Handle("POST /api/v1/roster/import", s.deps.ServiceAuth.Middleware(http.HandlerFunc(s.handleImportRoster)))
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE CHAIN
// ══════════════════════════════════════════════════════════════════════════════

// buildMiddlewareChain wraps the router; the first middleware listed runs first.
func (s *Server) buildMiddlewareChain(h http.Handler) http.Handler {
	chain := []handlers.MiddlewareFunc{
		s.recoveryMiddleware,
		s.requestIDMiddleware,
		s.loggingMiddleware,
		s.corsMiddleware,
	}
	if s.limiter != nil {
		chain = append(chain, s.rateLimitMiddleware)
	}
	chain = append(chain,
		handlers.SecurityHeadersMiddleware,
		handlers.RequestSizeLimitMiddleware(s.maxBodyBytes()),
	)
	return handlers.Chain(chain...)(h)
}

func (s *Server) maxBodyBytes() int64 {
	if s.config.MaxBodyBytes > 0 {
		return s.config.MaxBodyBytes
	}
	return DefaultConfig().MaxBodyBytes
}

// requestIDMiddleware propagates or assigns X-Request-ID and attaches a
// request-scoped logger to the context.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		ctx := context.WithValue(r.Context(), contextKeyRequestID, requestID)
		ctx = logger.WithContext(ctx, s.logger.WithRequestID(requestID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs every request after it completes.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		fields := []logger.Field{
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", rw.statusCode),
			logger.Latency(time.Since(start)),
			logger.String("ip", s.clientIP(r)),
		}
		if sess := rw.session; sess != nil {
			fields = append(fields, logger.Role(sess.Role.String()))
		}
		log := logger.FromContext(r.Context())
		if rw.statusCode >= 500 {
			log.Error("http request", fields...)
			return
		}
		log.Info("http request", fields...)
	})
}

// recoveryMiddleware recovers from panics and returns 500.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					logger.Any("error", rec),
					logger.String("stack", string(debug.Stack())),
					logger.String("path", r.URL.Path),
				)
				writeJSONError(w, r, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers for allowed origins.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Request-ID")
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Max-Age", "86400")
			h.Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.config.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// rateLimitMiddleware applies the per-IP token bucket.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.get(s.clientIP(r)).Allow() {
			w.Header().Set("Retry-After", "1")
			writeJSONError(w, r, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests, please try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// sessionMiddleware resolves the bearer token (or session cookie) and puts
// the session into the request context. Requests without a token pass
// through anonymously; handlers then reject them as unauthenticated.
func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.sessionToken(r)
		if token == "" || s.deps.Sessions == nil {
			next.ServeHTTP(w, r)
			return
		}

		sess, err := s.deps.Sessions.Lookup(r.Context(), token)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		if rw, ok := w.(*responseWriter); ok {
			rw.session = sess
		}
		next.ServeHTTP(w, r.WithContext(access.WithSession(r.Context(), sess)))
	})
}

func (s *Server) sessionToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if scheme, token, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if c, err := r.Cookie(s.config.SessionCookie); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", logger.String("address", s.config.Address()))

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	if s.limiter != nil {
		s.limiter.stop()
	}
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse is the envelope of every API response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      any           `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version,omitempty"`
	TotalCount int       `json:"total_count,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSONWithMeta(w, r, status, data, nil)
}

func writeJSONWithMeta(w http.ResponseWriter, r *http.Request, status int, data any, meta *ResponseMeta) {
	if meta == nil {
		meta = &ResponseMeta{}
	}
	meta.Timestamp = time.Now().UTC()
	meta.Version = "v1"

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(JSONResponse{
		Success:   status >= 200 && status < 300,
		Data:      data,
		Meta:      meta,
		RequestID: getRequestID(r.Context()),
	})
}

func writeJSONError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(JSONResponse{
		Success:   false,
		Error:     &APIError{Code: code, Message: message},
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC()},
		RequestID: getRequestID(r.Context()),
	})
}

// writeError maps a domain error to its HTTP status. Unexpected errors are
// logged and reported without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	message := publicMessage(err)

	if status >= 500 {
		logger.FromContext(r.Context()).Error("request failed",
			logger.String("path", r.URL.Path),
			logger.Err(err),
		)
		if status == http.StatusInternalServerError {
			message = "An unexpected error occurred"
		}
	}
	writeJSONError(w, r, status, code, message)
}

// statusFor classifies err. Order matters: a DomainError may match several
// kinds through its wrapped cause.
func statusFor(err error) (int, string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, "payload_too_large"
	case shared.IsUnauthenticated(err):
		return http.StatusUnauthorized, "unauthenticated"
	case shared.IsForbidden(err):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, shared.ErrServiceUnavailable), errors.Is(err, shared.ErrTimeout):
		return http.StatusServiceUnavailable, "service_unavailable"
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case shared.IsAlreadyExists(err):
		return http.StatusConflict, "conflict"
	case shared.IsValidation(err):
		return http.StatusBadRequest, "invalid_request"
	default:
		return http.StatusInternalServerError, "internal_server_error"
	}
}

func publicMessage(err error) string {
	var de *shared.DomainError
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return err.Error()
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER TYPES AND FUNCTIONS
// ══════════════════════════════════════════════════════════════════════════════

type contextKey string

const contextKeyRequestID contextKey = "request_id"

// responseWriter captures the status code and the resolved session for logging.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
	session     *access.Session
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// clientIP returns the peer address. Behind a trusted proxy it prefers the
// first X-Forwarded-For hop, then X-Real-IP.
func (s *Server) clientIP(r *http.Request) string {
	peer := remoteHost(r.RemoteAddr)
	if !s.trustedProxy(peer) {
		return peer
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

func (s *Server) trustedProxy(host string) bool {
	if len(s.proxies) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range s.proxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// parseProxy accepts "10.0.0.1" or "10.0.0.0/8".
func parseProxy(v string) (netip.Prefix, error) {
	v = strings.TrimSpace(v)
	if strings.Contains(v, "/") {
		p, err := netip.ParsePrefix(v)
		return p.Masked(), err
	}
	addr, err := netip.ParseAddr(v)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return strings.Trim(remoteAddr, "[]")
	}
	return host
}

func getRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return id
	}
	return ""
}

func getQueryParamBool(r *http.Request, key string) bool {
	switch strings.ToLower(r.URL.Query().Get(key)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER
// ══════════════════════════════════════════════════════════════════════════════

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipRateLimiter keeps one token bucket per client IP and forgets idle ones.
type ipRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	idle     time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

func newIPRateLimiter(limit rate.Limit, burst int) *ipRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	rl := &ipRateLimiter{
		visitors: make(map[string]*visitor),
		limit:    limit,
		burst:    burst,
		idle:     3 * time.Minute,
		done:     make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *ipRateLimiter) get(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

func (rl *ipRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-rl.done:
			return
		case now := <-ticker.C:
			rl.mu.Lock()
			for ip, v := range rl.visitors {
				if now.Sub(v.lastSeen) > rl.idle {
					delete(rl.visitors, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *ipRateLimiter) stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}
