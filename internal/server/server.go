package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/trendly/apiserver/config"
	"github.com/trendly/apiserver/internal/db"
	"github.com/trendly/apiserver/internal/handlers"
	"github.com/trendly/apiserver/internal/logging"
	"github.com/trendly/apiserver/internal/notify"
	"github.com/trendly/apiserver/internal/oauth"
	"github.com/trendly/apiserver/internal/otp"
	"github.com/trendly/apiserver/internal/services"
	"github.com/trendly/apiserver/internal/session"
	"github.com/trendly/apiserver/internal/storage"
	"github.com/trendly/apiserver/internal/store"
	"go.uber.org/zap"
)

const requestTimeout = 60 * time.Second

// Deps are the services the router exposes. Assets may be nil, in which case
// the asset routes are not registered.
type Deps struct {
	Auth        *services.AuthService
	Assets      *services.AssetService
	Cookies     handlers.Cookies
	FrontendURL string
	Logger      *zap.Logger
}

// NewRouter builds the HTTP router with its middleware stack.
func NewRouter(deps Deps) *chi.Mux {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		logging.Middleware(logger),
		middleware.Timeout(requestTimeout),
	)
	if deps.FrontendURL != "" {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{deps.FrontendURL},
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	router.Get("/healthz", handlers.Healthz)
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, deps.Auth, deps.Cookies)
	})
	router.Route("/otp", func(r chi.Router) {
		handlers.OTPRouter(r, deps.Auth)
	})
	router.Route("/oauth", func(r chi.Router) {
		handlers.OAuthRouter(r, deps.Auth, deps.Cookies, deps.FrontendURL, logger)
	})
	if deps.Assets != nil {
		router.Route("/assets", func(r chi.Router) {
			handlers.AssetRouter(r, deps.Assets, handlers.RequireSession(deps.Auth), logger)
		})
	}
	return router
}

// Server wraps the HTTP server, router and the connections behind it.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	logger     *zap.Logger
	closers    []io.Closer
}

// New connects every backend named by cfg and wires the services onto a router.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{logger: logger}
	ok := false
	defer func() {
		if !ok {
			s.closeAll()
		}
	}()

	dbConn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, dbConn)

	sessions, err := session.NewIssuer(cfg.Auth.JWTSecret, session.WithTTL(cfg.Auth.TokenTTL))
	if err != nil {
		return nil, fmt.Errorf("JWT_SECRET: %w", err)
	}

	otpStore, err := s.openOTPStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	dispatcher, dispatcherCloser, err := notify.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("notify: %w", err)
	}
	s.closers = append(s.closers, dispatcherCloser)

	var provider oauth.Provider
	if cfg.Google.Enabled() {
		google, err := oauth.NewGoogle(cfg.Google)
		if err != nil {
			return nil, err
		}
		provider = google
	} else {
		logger.Info("google oauth not configured, federated login disabled")
	}

	authService := services.NewAuthService(services.AuthDeps{
		Users:                store.NewUserRepository(dbConn),
		Tokens:               store.NewProviderTokenRepository(dbConn),
		OTP:                  otp.NewRegistry(otpStore, otp.WithTTL(cfg.OTP.TTL)),
		Dispatcher:           dispatcher,
		Sessions:             sessions,
		Provider:             provider,
		Logger:               logger,
		BcryptCost:           cfg.Auth.BcryptCost,
		RequireVerifiedEmail: cfg.OTP.RequireVerifiedEmail,
	})

	objects, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	var assetService *services.AssetService
	if objects != nil {
		assetService = services.NewAssetService(store.NewAssetRepository(dbConn), objects, logger)
	} else {
		logger.Info("storage backend not configured, asset routes disabled")
	}

	s.router = NewRouter(Deps{
		Auth:   authService,
		Assets: assetService,
		Cookies: handlers.Cookies{
			Secure: cfg.CookieSecure,
			TTL:    sessions.TTL(),
		},
		FrontendURL: cfg.FrontendURL,
		Logger:      logger,
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: requestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ok = true
	return s, nil
}

func (s *Server) openOTPStore(ctx context.Context, cfg config.Config) (otp.Store, error) {
	switch cfg.OTP.Backend {
	case "", "memory":
		return otp.NewMemoryStore(), nil
	case "redis":
		client, err := otp.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, client)
		return otp.NewRedisStore(client), nil
	default:
		return nil, fmt.Errorf("unknown otp backend %q", cfg.OTP.Backend)
	}
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start runs the HTTP server. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and then releases the backends.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.closeAll()
	return err
}

func (s *Server) closeAll() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.logger.Warn("close backend", zap.Error(err))
		}
	}
	s.closers = nil
}
