package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/fieldops/fieldops/internal/observability"
	"github.com/fieldops/fieldops/internal/platform/httpx"
	"github.com/fieldops/fieldops/internal/shared"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Metrics        *observability.Metrics
}

// MiddlewareStack returns the global chain in mount order. The access log sits
// after the session loader so it can record the principal.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		sessionLoader(logger, cfg.SessionManager),
		requestLogger(logger),
		middleware.Recoverer,
		middleware.Timeout(requestTimeout(cfg.Config)),
		securityHeaders(logger, cfg.Config),
		middleware.Compress(5),
		httprate.Limit(rateLimit(cfg.Config), time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				httpx.Fail(w, http.StatusTooManyRequests, httpx.CategoryValidation, "rate limit exceeded")
			}),
		),
		csrfGuard(logger, cfg.CSRFManager),
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, cfg.Metrics.Middleware)
	}
	return middlewares
}

// requestLogger writes one structured line per request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			}
			if userID, ok := shared.SessionUserID(r.Context()); ok {
				attrs = append(attrs, slog.Int64("user_id", userID))
			}
			logger.LogAttrs(r.Context(), level, "http request", attrs...)
		})
	}
}

// sessionLoader attaches the Redis session to the request and commits it
// before the first byte of the response.
func sessionLoader(logger *slog.Logger, sessions *shared.SessionManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := sessions.Load(r.Context(), r)
			if err != nil {
				logger.Error("load session", slog.Any("error", err))
				httpx.Fail(w, http.StatusInternalServerError, httpx.CategoryInternal, "session unavailable")
				return
			}
			ctx := shared.ContextWithSession(r.Context(), sess)
			r = r.WithContext(ctx)
			next.ServeHTTP(&committingWriter{
				ResponseWriter: w,
				logger:         logger,
				sess:           sess,
				sessions:       sessions,
				ctx:            ctx,
				req:            r,
			}, r)
		})
	}
}

type committingWriter struct {
	http.ResponseWriter
	logger        *slog.Logger
	sess          *shared.Session
	sessions      *shared.SessionManager
	ctx           context.Context
	req           *http.Request
	headerWritten bool
}

func (w *committingWriter) WriteHeader(statusCode int) {
	if !w.headerWritten {
		w.headerWritten = true
		if err := w.sessions.Commit(w.ctx, w.ResponseWriter, w.req, w.sess); err != nil {
			w.logger.Error("commit session", slog.Any("error", err))
		}
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *committingWriter) Write(data []byte) (int, error) {
	if !w.headerWritten {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(data)
}

func securityHeaders(logger *slog.Logger, cfg *Config) func(http.Handler) http.Handler {
	headers := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		FeaturePolicy:         "none",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		SSLRedirect:           cfg.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := headers.Process(w, r); err != nil {
				logger.Warn("secure headers blocked request", slog.Any("error", err))
				httpx.Fail(w, http.StatusBadRequest, httpx.CategoryValidation, "request blocked")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// csrfGuard requires X-CSRF-Token on every unsafe method.
func csrfGuard(logger *slog.Logger, csrf *shared.CSRFManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			sess := shared.SessionFromContext(r.Context())
			if sess == nil {
				httpx.Fail(w, http.StatusForbidden, httpx.CategoryForbidden, "session missing")
				return
			}
			if err := csrf.VerifyToken(r.Context(), sess, r.Header.Get(shared.CSRFHeader)); err != nil {
				logger.Warn("csrf validation failed", slog.String("path", r.URL.Path), slog.Any("error", err))
				httpx.Fail(w, http.StatusForbidden, httpx.CategoryForbidden, "invalid csrf token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestTimeout(cfg *Config) time.Duration {
	if cfg != nil && cfg.AppRequestTimeout > 0 {
		return cfg.AppRequestTimeout
	}
	return 30 * time.Second
}

func rateLimit(cfg *Config) int {
	if cfg != nil && cfg.RateLimitPerMinute > 0 {
		return cfg.RateLimitPerMinute
	}
	return 120
}
