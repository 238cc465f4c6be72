package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/elskow/ditzler/internal/api"
	"github.com/elskow/ditzler/internal/auth"
	"github.com/elskow/ditzler/internal/config"
	"github.com/elskow/ditzler/internal/dashboard"
	"github.com/elskow/ditzler/internal/database"
	"github.com/elskow/ditzler/internal/metrics"
	"github.com/elskow/ditzler/internal/notify"
)

type testServer struct {
	*Server
	cfg     *config.AppConfig
	auth    *auth.Service
	metrics *metrics.Metrics
}

func newTestAppConfig(t *testing.T) *config.AppConfig {
	return &config.AppConfig{
		Env: EnvTesting,
		Server: config.ServerConfig{
			Host: "127.0.0.1",
			Port: "0",
		},
		Database: config.DatabaseConfig{
			Driver:   config.DriverSQLite,
			Path:     filepath.Join(t.TempDir(), "ditzler.db"),
			LogLevel: "silent",
		},
		Auth: config.AuthConfig{
			JWTSecret:  "server-test-secret-of-decent-length",
			SessionTTL: 24 * time.Hour,
			BcryptCost: 4,
			LoginPath:  "/login",
			HomePath:   "/dashboard",
			Cookie:     config.CookieConfig{Name: "auth_token"},
			Lockout:    config.LockoutConfig{Enabled: true, Threshold: 5, Window: 15 * time.Minute},
		},
		Anomaly:   config.AnomalyConfig{FailOpen: true, Timeout: time.Second},
		Reset:     config.ResetConfig{TokenTTL: time.Hour, LinkBaseURL: "http://localhost/reset"},
		RateLimit: config.RateLimitConfig{Enabled: false},
		Metrics:   config.MetricsConfig{Enabled: true, Addr: "127.0.0.1:0"},
		Dashboard: config.DashboardConfig{OverdueAfter: 30 * 24 * time.Hour},
	}
}

func newTestServer(t *testing.T, cfg *config.AppConfig, rdb *redis.Client) *testServer {
	t.Helper()
	log := zap.NewNop()

	manager, err := database.NewManager(&cfg.Database, log)
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })
	require.NoError(t, manager.AutoMigrate(append(auth.Models(), dashboard.Models()...)...))

	m := metrics.New()
	svc := auth.NewService(cfg, log,
		auth.NewRepository(manager.DB()),
		auth.NewMemoryAttemptTracker(cfg.Auth.Lockout.Window),
		auth.NoopAnomalyChecker{},
		notify.NewLogMailer(log),
		m,
	)
	dash := dashboard.NewService(dashboard.NewRepository(manager.DB()), svc, &cfg.Dashboard, log)

	srv, err := NewServer(Params{
		Config:           cfg,
		Logger:           log,
		Metrics:          m,
		Database:         manager,
		Redis:            rdb,
		AuthHandler:      auth.NewHandler(svc, &cfg.Auth, log),
		AuthMiddleware:   auth.NewAuthMiddleware(svc, &cfg.Auth, log),
		DashboardHandler: dashboard.NewHandler(dash, log),
	})
	require.NoError(t, err)
	return &testServer{Server: srv, cfg: cfg, auth: svc, metrics: m}
}

func (s *testServer) do(t *testing.T, method, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	return s.doWithHeaders(t, method, path, body, cookie, nil)
}

func (s *testServer) doWithHeaders(t *testing.T, method, path string, body any, cookie *http.Cookie, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func (s *testServer) login(t *testing.T, email, password string) *http.Cookie {
	t.Helper()
	rec := s.do(t, http.MethodPost, api.AuthLogin, map[string]string{"email": email, "password": password}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	for _, c := range rec.Result().Cookies() {
		if c.Name == "auth_token" {
			return c
		}
	}
	t.Fatal("login response has no session cookie")
	return nil
}

func TestServer_AuthFlow(t *testing.T) {
	s := newTestServer(t, newTestAppConfig(t), nil)

	rec := s.do(t, http.MethodGet, api.DashboardSummary, nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, api.AuthRegister, map[string]string{
		"name": "Ana", "email": "ana@example.com", "password": "secret1", "confirmPassword": "secret1",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	cookie := s.login(t, "ana@example.com", "secret1")

	for _, path := range []string{api.AuthMe, api.DashboardSummary, api.Totes, api.Clients} {
		rec = s.do(t, http.MethodGet, path, nil, cookie)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec = s.do(t, http.MethodGet, api.Users, nil, cookie)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, api.AuthLogout, nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, api.DashboardSummary, nil, cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_AdminListsUsers(t *testing.T) {
	s := newTestServer(t, newTestAppConfig(t), nil)
	_, err := s.auth.CreateAdmin(t.Context(), "Root", "root@example.com", "admin-secret")
	require.NoError(t, err)

	rec := s.do(t, http.MethodGet, api.Users, nil, s.login(t, "root@example.com", "admin-secret"))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data []auth.UserView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, auth.RoleAdmin, body.Data[0].Role)
}

func TestServer_Health(t *testing.T) {
	t.Run("database only", func(t *testing.T) {
		s := newTestServer(t, newTestAppConfig(t), nil)
		rec := s.do(t, http.MethodGet, api.Health, nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"data":{"database":"ok"}}`, rec.Body.String())
	})

	t.Run("redis down", func(t *testing.T) {
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { rdb.Close() })
		s := newTestServer(t, newTestAppConfig(t), rdb)

		rec := s.do(t, http.MethodGet, api.Health, nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		mr.Close()
		rec = s.do(t, http.MethodGet, api.Health, nil, nil)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), `"redis":"unavailable"`)
	})
}

func TestServer_Metrics(t *testing.T) {
	s := newTestServer(t, newTestAppConfig(t), nil)
	s.do(t, http.MethodGet, api.Health, nil, nil)

	metricsHandler := s.MetricsHandler()
	require.NotNil(t, metricsHandler)
	rec := httptest.NewRecorder()
	metricsHandler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, api.Metrics, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `ditzler_http_request_duration_seconds_count{method="GET",route="/healthz",status="200"} 1`)

	// The public listener does not expose metrics, not even anonymously.
	rec = s.do(t, http.MethodGet, api.Metrics, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotContains(t, rec.Body.String(), "ditzler_login_attempts_total")

	cfg := newTestAppConfig(t)
	cfg.Metrics.Enabled = false
	s = newTestServer(t, cfg, nil)
	assert.Nil(t, s.MetricsHandler())
}

func TestServer_InvalidTrustedProxies(t *testing.T) {
	cfg := newTestAppConfig(t)
	cfg.Server.TrustedProxies = []string{"not-an-address"}
	_, err := NewServer(Params{Config: cfg})
	assert.Error(t, err)
}

func TestServer_RateLimitsAuthRoutes(t *testing.T) {
	cfg := newTestAppConfig(t)
	cfg.RateLimit = config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 0.001,
		Burst:             2,
		MaxClients:        100,
		ClientTTL:         time.Minute,
	}
	s := newTestServer(t, cfg, nil)
	body := map[string]string{"email": "nobody@example.com"}

	for i := 0; i < 2; i++ {
		rec := s.do(t, http.MethodPost, api.AuthForgotPassword, body, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := s.do(t, http.MethodPost, api.AuthForgotPassword, body, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"error":"Too many requests. Please slow down."}`, rec.Body.String())

	// Health checks are not limited.
	rec = s.do(t, http.MethodGet, api.Health, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// httptest requests come from 192.0.2.1.
func TestServer_LockoutIgnoresSpoofedForwardedFor(t *testing.T) {
	s := newTestServer(t, newTestAppConfig(t), nil)
	_, err := s.auth.Register(t.Context(), auth.RegisterInput{
		Name: "Ana", Email: "ana@example.com", Password: "correct-horse", ConfirmPassword: "correct-horse",
	})
	require.NoError(t, err)
	body := map[string]string{"email": "ana@example.com", "password": "wrong"}

	for i := 0; i < 6; i++ {
		rec := s.doWithHeaders(t, http.MethodPost, api.AuthLogin, body, nil,
			map[string]string{"X-Forwarded-For": fmt.Sprintf("198.51.100.%d", i+1)})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.LoginAttempts.WithLabelValues(auth.ReasonRateLimited)))

	rec := s.doWithHeaders(t, http.MethodPost, api.AuthLogin,
		map[string]string{"email": "ana@example.com", "password": "correct-horse"}, nil,
		map[string]string{"X-Forwarded-For": "198.51.100.200"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "a fresh header does not lift the lockout")
}

func TestServer_LockoutFollowsTrustedProxy(t *testing.T) {
	cfg := newTestAppConfig(t)
	cfg.Server.TrustedProxies = []string{"192.0.2.1"}
	s := newTestServer(t, cfg, nil)
	_, err := s.auth.Register(t.Context(), auth.RegisterInput{
		Name: "Ana", Email: "ana@example.com", Password: "correct-horse", ConfirmPassword: "correct-horse",
	})
	require.NoError(t, err)
	wrong := map[string]string{"email": "ana@example.com", "password": "wrong"}

	// A client prepending its own entries still lands on the hop our proxy saw.
	for i := 0; i < 5; i++ {
		s.doWithHeaders(t, http.MethodPost, api.AuthLogin, wrong, nil,
			map[string]string{"X-Forwarded-For": fmt.Sprintf("1.1.1.%d, 198.51.100.7", i)})
	}
	rec := s.doWithHeaders(t, http.MethodPost, api.AuthLogin,
		map[string]string{"email": "ana@example.com", "password": "correct-horse"}, nil,
		map[string]string{"X-Forwarded-For": "198.51.100.7"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.LoginAttempts.WithLabelValues(auth.ReasonRateLimited)))

	// A different client behind the same proxy is unaffected.
	rec = s.doWithHeaders(t, http.MethodPost, api.AuthLogin,
		map[string]string{"email": "ana@example.com", "password": "correct-horse"}, nil,
		map[string]string{"X-Forwarded-For": "198.51.100.8"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	cfg := newTestAppConfig(t)
	cfg.RateLimit = config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 0.001,
		Burst:             2,
		MaxClients:        100,
		ClientTTL:         time.Minute,
	}
	s := newTestServer(t, cfg, nil)
	body := map[string]string{"email": "nobody@example.com"}

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := s.doWithHeaders(t, http.MethodPost, api.AuthForgotPassword, body, nil,
			map[string]string{"X-Forwarded-For": fmt.Sprintf("198.51.100.%d", i+1)})
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestServer_StartStop(t *testing.T) {
	s := newTestServer(t, newTestAppConfig(t), nil)

	done := make(chan error, 1)
	go func() { done <- s.Start() }()

	require.Eventually(t, func() bool {
		return s.Stop(t.Context()) == nil
	}, time.Second, 10*time.Millisecond)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("server did not stop")
	}
}
