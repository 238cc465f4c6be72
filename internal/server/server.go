package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/elskow/ditzler/internal/api"
	"github.com/elskow/ditzler/internal/auth"
	"github.com/elskow/ditzler/internal/config"
	"github.com/elskow/ditzler/internal/dashboard"
	"github.com/elskow/ditzler/internal/database"
	"github.com/elskow/ditzler/internal/metrics"
)

const msgUnhealthy = "Service unavailable."

type Server struct {
	config        *config.AppConfig
	log           *zap.Logger
	httpServer    *http.Server
	router        chi.Router
	metricsServer *http.Server
	database      *database.Manager
	redis         *redis.Client
}

type Params struct {
	fx.In

	Config           *config.AppConfig
	Logger           *zap.Logger
	Metrics          *metrics.Metrics
	Database         *database.Manager
	Redis            *redis.Client `optional:"true"`
	AuthHandler      *auth.Handler
	AuthMiddleware   *auth.AuthMiddleware
	DashboardHandler *dashboard.Handler
}

func NewServer(p Params) (*Server, error) {
	proxies, err := config.ParseTrustedProxies(p.Config.Server.TrustedProxies)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:   p.Config,
		log:      p.Logger,
		database: p.Database,
		redis:    p.Redis,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(realIP(proxies))
	r.Use(requestLogger(p.Logger.Named("http"), p.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(p.AuthMiddleware.Guard)

	r.Get(api.Health, s.health)

	r.Group(func(r chi.Router) {
		if p.Config.RateLimit.Enabled {
			r.Use(newClientLimiter(&p.Config.RateLimit, p.Metrics, p.Logger.Named("ratelimit")).Middleware)
		}
		p.AuthHandler.Routes(r)
	})

	// Everything below is behind the guard.
	r.Get(api.AuthMe, p.AuthHandler.Me)
	p.DashboardHandler.Routes(r)
	r.With(p.AuthMiddleware.RequireRole(auth.RoleAdmin)).Get(api.Users, p.AuthHandler.ListUsers)

	s.router = r
	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(p.Config.Server.Host, p.Config.Server.Port),
		Handler:      r,
		ReadTimeout:  p.Config.Server.ReadTimeout,
		WriteTimeout: p.Config.Server.WriteTimeout,
		IdleTimeout:  p.Config.Server.IdleTimeout,
	}

	// Metrics get a listener of their own, meant for a private interface.
	if p.Config.Metrics.Enabled {
		mr := chi.NewRouter()
		mr.Method(http.MethodGet, api.Metrics, p.Metrics.Handler())
		s.metricsServer = &http.Server{
			Addr:        p.Config.Metrics.Addr,
			Handler:     mr,
			ReadTimeout: p.Config.Server.ReadTimeout,
			IdleTimeout: p.Config.Server.IdleTimeout,
		}
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// MetricsHandler is nil when metrics are disabled.
func (s *Server) MetricsHandler() http.Handler {
	if s.metricsServer == nil {
		return nil
	}
	return s.metricsServer.Handler
}

// Start blocks until the server is shut down.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	if s.metricsServer != nil {
		mlis, err := net.Listen("tcp", s.metricsServer.Addr)
		if err != nil {
			lis.Close()
			return fmt.Errorf("failed to listen for metrics: %w", err)
		}
		s.log.Info("Starting metrics server", zap.String("address", mlis.Addr().String()))
		go func() {
			if err := s.metricsServer.Serve(mlis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	s.log.Info("Starting HTTP server",
		zap.String("address", lis.Addr().String()),
		zap.Object("config", serverConfigToField(s.config)),
	)

	if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

func serverConfigToField(config *config.AppConfig) zapcore.ObjectMarshaler {
	return zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
		enc.AddString("environment", config.Env)
		enc.AddString("database_driver", config.Database.Driver)
		enc.AddBool("redis_enabled", config.Redis.Enabled)
		enc.AddBool("rate_limit_enabled", config.RateLimit.Enabled)
		enc.AddBool("metrics_enabled", config.Metrics.Enabled)
		enc.AddInt("trusted_proxies", len(config.Server.TrustedProxies))
		enc.AddBool("anomaly_fail_open", config.Anomaly.FailOpen)
		return nil
	})
}

func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	if s.config.Server.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
		defer cancel()
	}
	err := s.httpServer.Shutdown(ctx)
	if s.metricsServer != nil {
		err = errors.Join(err, s.metricsServer.Shutdown(ctx))
	}
	return err
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"database": "ok"}
	healthy := true

	if err := s.database.Ping(r.Context()); err != nil {
		s.log.Error("database health check failed", zap.Error(err))
		checks["database"] = "unavailable"
		healthy = false
	}
	if s.redis != nil {
		checks["redis"] = "ok"
		if err := s.redis.Ping(r.Context()).Err(); err != nil {
			s.log.Error("redis health check failed", zap.Error(err))
			checks["redis"] = "unavailable"
			healthy = false
		}
	}

	if !healthy {
		api.JSON(w, r, http.StatusServiceUnavailable, api.Response{Error: msgUnhealthy, Data: checks})
		return
	}
	api.JSON(w, r, http.StatusOK, api.Data(checks))
}
