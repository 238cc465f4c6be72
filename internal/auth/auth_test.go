package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/elskow/ditzler/internal/config"
	"github.com/elskow/ditzler/internal/metrics"
	"github.com/elskow/ditzler/internal/notify"
)

const (
	testEmail    = "ana@example.com"
	testPassword = "correct-horse"
	testAddress  = "10.0.0.7"
)

func newTestLogger(t *testing.T) *zap.Logger {
	logger, err := zap.NewDevelopment()
	assert.NoError(t, err)
	return logger
}

func newTestConfig() *config.AppConfig {
	return &config.AppConfig{
		Env: "testing",
		Auth: config.AuthConfig{
			JWTSecret:  "test-secret-key-that-is-long-enough",
			SessionTTL: 24 * time.Hour,
			BcryptCost: 4,
			LoginPath:  "/login",
			HomePath:   "/dashboard",
			Cookie:     config.CookieConfig{Name: "auth_token"},
			Lockout: config.LockoutConfig{
				Enabled:   true,
				Threshold: 5,
				Window:    15 * time.Minute,
			},
			LocationHeader: "X-Geo-Location",
		},
		Anomaly: config.AnomalyConfig{
			Timeout:  time.Second,
			FailOpen: true,
		},
		Reset: config.ResetConfig{
			TokenTTL:    time.Hour,
			LinkBaseURL: "http://localhost:8080/reset-password",
		},
	}
}

type mockAnomalyChecker struct {
	mock.Mock
}

func (m *mockAnomalyChecker) Check(ctx context.Context, req AnomalyRequest) (*AnomalyVerdict, error) {
	args := m.Called(ctx, req)
	verdict, _ := args.Get(0).(*AnomalyVerdict)
	return verdict, args.Error(1)
}

// allowAll makes the checker accept every attempt.
func (m *mockAnomalyChecker) allowAll() *mockAnomalyChecker {
	m.On("Check", mock.Anything, mock.Anything).Return(&AnomalyVerdict{}, nil)
	return m
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []notify.PasswordReset
	err  error
}

func (m *recordingMailer) SendPasswordReset(_ context.Context, msg notify.PasswordReset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return m.err
}

func (m *recordingMailer) messages() []notify.PasswordReset {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notify.PasswordReset(nil), m.sent...)
}

type testEnv struct {
	cfg      *config.AppConfig
	repo     Repository
	attempts *MemoryAttemptTracker
	checker  *mockAnomalyChecker
	mailer   *recordingMailer
	metrics  *metrics.Metrics
	svc      *Service
}

type envOption func(*testEnv)

func withRepository(repo Repository) envOption {
	return func(e *testEnv) { e.repo = repo }
}

func withConfig(fn func(*config.AppConfig)) envOption {
	return func(e *testEnv) { fn(e.cfg) }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	e := &testEnv{
		cfg:     newTestConfig(),
		repo:    newMockRepository(),
		checker: new(mockAnomalyChecker),
		mailer:  &recordingMailer{},
		metrics: metrics.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.attempts = NewMemoryAttemptTracker(e.cfg.Auth.Lockout.Window)
	e.svc = NewService(e.cfg, newTestLogger(t), e.repo, e.attempts, e.checker, e.mailer, e.metrics)
	return e
}

func newTestService(t *testing.T) *Service {
	return newTestEnv(t).svc
}

// seedUser stores a user with testPassword through the service's own hashing.
func (e *testEnv) seedUser(t *testing.T, email string, role Role) *User {
	t.Helper()
	hash, err := e.svc.HashPassword(testPassword)
	require.NoError(t, err)
	user := &User{Name: "Ana", Email: email, PasswordHash: hash, Role: role}
	require.NoError(t, e.repo.CreateUser(context.Background(), user))
	return user
}

func (e *testEnv) login(email, password string) (*LoginResult, error) {
	return e.svc.Login(context.Background(),
		LoginInput{Email: email, Password: password},
		RequestMeta{SourceAddress: testAddress, UserAgent: "test"})
}

func (e *testEnv) failures(t *testing.T, email string) int {
	t.Helper()
	a, err := e.attempts.Peek(context.Background(), emailKey(email))
	require.NoError(t, err)
	return a.Count
}

// newTestDB opens a private in-memory sqlite database with the auth schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(Models()...))
	return db
}

// fakeClock is shared by the service, session manager and tracker in tests
// that move time forward.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (e *testEnv) useClock(c *fakeClock) {
	e.svc.now = c.Now
	e.svc.sessions.now = c.Now
	e.attempts.now = c.Now
}
