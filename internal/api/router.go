package api

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"ipguardian/internal/cache"
	"ipguardian/internal/metrics"
)

// RouterOptions selects optional routes and limits
type RouterOptions struct {
	// CrossChain mounts the payment routes
	CrossChain bool
	// QuoteRateLimit is the per-client request rate for POST /quotes; <= 0 disables limiting
	QuoteRateLimit float64
	QuoteBurst     int
}

// SetupRouter creates and configures the HTTP router
func SetupRouter(handler *Handler, opts RouterOptions, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()

	// Apply middleware
	router.Use(loggingMiddleware(logger))
	router.Use(metricsMiddleware())
	router.Use(corsMiddleware())
	router.Use(recoveryMiddleware(logger))

	// Health check endpoint
	router.HandleFunc("/health", handler.HandleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/config", handler.HandleGetConfig).Methods(http.MethodGet, http.MethodOptions)

	// Chain registry
	api.HandleFunc("/chains", handler.HandleListChains).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/chains/{chainId}/tokens", handler.HandleListTokens).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/chains/{chainId}/tokens/{symbol}", handler.HandleTokenAddress).Methods(http.MethodGet, http.MethodOptions)

	// Quotes
	var quote http.Handler = http.HandlerFunc(handler.HandleQuote)
	if opts.QuoteRateLimit > 0 {
		quote = newClientLimiter(opts.QuoteRateLimit, opts.QuoteBurst).middleware(quote)
	}
	api.Handle("/quotes", quote).Methods(http.MethodPost, http.MethodOptions)

	// Payments
	if opts.CrossChain {
		api.HandleFunc("/payments", handler.HandleCreatePayment).Methods(http.MethodPost, http.MethodOptions)
		api.HandleFunc("/payments", handler.HandleListPayments).Methods(http.MethodGet)
		api.HandleFunc("/payments/{paymentId}", handler.HandleGetPayment).Methods(http.MethodGet, http.MethodOptions)
		api.HandleFunc("/payments/{paymentId}/status", handler.HandleUpdateStatus).Methods(http.MethodPost, http.MethodOptions)
		api.HandleFunc("/payments/{paymentId}/tx", handler.HandleAttachTx).Methods(http.MethodPost, http.MethodOptions)
	}

	return router
}

// ==================== Middleware ====================

// loggingMiddleware logs HTTP requests
func loggingMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			logger.Info("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

// metricsMiddleware records request counts and latency by route template
func metricsMiddleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			route := "unknown"
			if current := mux.CurrentRoute(r); current != nil {
				if tpl, err := current.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()
			metrics.HTTPLatency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
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

// corsMiddleware adds CORS headers
func corsMiddleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+WalletHeader)

			// Handle preflight requests
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// recoveryMiddleware recovers from panics and logs them
func recoveryMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("Panic recovered",
						zap.Any("error", err),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
					)

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					w.Write([]byte(`{"error":"Internal server error","message":"An unexpected error occurred"}`))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// ==================== Rate Limiting ====================

const (
	limiterCapacity = 10000
	limiterIdleTTL  = 10 * time.Minute
)

// clientLimiter hands each client address its own token bucket.
// Idle buckets age out of the LRU.
type clientLimiter struct {
	limit    rate.Limit
	burst    int
	limiters *cache.LRU[string, *rate.Limiter]
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &clientLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: cache.NewLRU[string, *rate.Limiter](limiterCapacity, limiterIdleTTL),
	}
}

func (l *clientLimiter) allow(client string) bool {
	limiter := l.limiters.Update(client, func(old *rate.Limiter, found bool) *rate.Limiter {
		if found {
			return old
		}
		return rate.NewLimiter(l.limit, l.burst)
	})
	return limiter.Allow()
}

func (l *clientLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			respondError(w, http.StatusTooManyRequests, "Too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
