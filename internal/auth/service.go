package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/elskow/ditzler/internal/config"
	"github.com/elskow/ditzler/internal/metrics"
	"github.com/elskow/ditzler/internal/notify"
)

const (
	MsgLoginSuccess       = "Login successful!"
	MsgRegisterSuccess    = "Registration successful! You can now log in."
	MsgForgotSuccess      = "Password reset instructions sent to your email."
	MsgResetSuccess       = "Password updated. You can now log in."
	MsgLogoutSuccess      = "You have been logged out."
	MsgBadCredentials     = "Invalid email or password."
	MsgDuplicateEmail     = "An account with this email already exists."
	MsgInvalidResetToken  = "Reset link is invalid or has expired."
	MsgTryAgain           = "Something went wrong. Please try again."
	resetTokenBytes       = 32
	dummyPasswordForTimer = "ditzler-timing-equaliser"
)

// RequestMeta is what the transport knows about the caller.
type RequestMeta struct {
	SourceAddress string
	UserAgent     string
	Location      string
}

func (m RequestMeta) address() string {
	if m.SourceAddress == "" {
		return loopbackAddress
	}
	return m.SourceAddress
}

func (m RequestMeta) location() string {
	if m.Location == "" {
		return unknownLocation
	}
	return m.Location
}

type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      UserView
}

type Service struct {
	config     *config.AuthConfig
	anomaly    *config.AnomalyConfig
	reset      *config.ResetConfig
	log        *zap.Logger
	repository Repository
	attempts   AttemptTracker
	checker    AnomalyChecker
	sessions   *SessionManager
	mailer     notify.Mailer
	metrics    *metrics.Metrics
	validator  *Validator
	now        func() time.Time

	dummyOnce sync.Once
	dummyHash []byte
}

func NewService(
	cfg *config.AppConfig,
	log *zap.Logger,
	repo Repository,
	attempts AttemptTracker,
	checker AnomalyChecker,
	mailer notify.Mailer,
	m *metrics.Metrics,
) *Service {
	return &Service{
		config:     &cfg.Auth,
		anomaly:    &cfg.Anomaly,
		reset:      &cfg.Reset,
		log:        log,
		repository: repo,
		attempts:   attempts,
		checker:    checker,
		sessions:   NewSessionManager(&cfg.Auth, repo),
		mailer:     mailer,
		metrics:    m,
		validator:  NewValidator(),
		now:        time.Now,
	}
}

func (s *Service) Sessions() *SessionManager {
	return s.sessions
}

func (s *Service) bcryptCost() int {
	if s.config.BcryptCost < bcrypt.MinCost {
		return bcrypt.DefaultCost
	}
	return s.config.BcryptCost
}

func (s *Service) HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost())
	return string(bytes), err
}

// CheckPasswordHash compares in constant time.
func (s *Service) CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// compareDummy spends the same time as a real comparison so that an unknown
// email cannot be told apart from a wrong password by latency.
func (s *Service) compareDummy(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte(dummyPasswordForTimer), s.bcryptCost())
	})
	_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
}

// Login runs validation, lockout, anomaly check and credential check in that
// order and opens a session on success.
func (s *Service) Login(ctx context.Context, in LoginInput, meta RequestMeta) (*LoginResult, error) {
	result, err := s.login(ctx, in, meta)
	s.metrics.LoginAttempts.WithLabelValues(Reason(err)).Inc()
	return result, err
}

func (s *Service) login(ctx context.Context, in LoginInput, meta RequestMeta) (*LoginResult, error) {
	in, err := s.validator.Login(in)
	if err != nil {
		return nil, err
	}

	email := NormalizeEmail(in.Email)
	address := meta.address()
	log := s.log.With(zap.String("email", email), zap.String("address", address))

	if s.config.Lockout.Enabled {
		attempt, err := s.attempts.Peek(ctx, lockoutKey(address, email))
		if err != nil {
			log.Warn("failed to read lockout counter", zap.Error(err))
		} else if attempt.Count >= s.config.Lockout.Threshold {
			log.Warn("login rejected: too many failed attempts", zap.Int("failed_attempts", attempt.Count))
			return nil, ErrRateLimited
		}
	}

	var failed int
	if attempt, err := s.attempts.Peek(ctx, emailKey(email)); err != nil {
		log.Warn("failed to read failed-attempt counter", zap.Error(err))
	} else {
		failed = attempt.Count
	}

	if s.isAnomalous(ctx, log, AnomalyRequest{
		UserID:         email,
		IPAddress:      address,
		Timestamp:      s.now(),
		FailedAttempts: failed,
		Location:       meta.location(),
	}) {
		return nil, ErrBlockedSuspicious
	}

	user, err := s.repository.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.compareDummy(in.Password)
			s.recordFailure(ctx, log, address, email)
			return nil, ErrInvalidCredentials
		}
		log.Error("credential store lookup failed", zap.Error(err))
		return nil, &DependencyError{Op: "find user", Err: err}
	}

	if !s.CheckPasswordHash(in.Password, user.PasswordHash) {
		s.recordFailure(ctx, log, address, email)
		return nil, ErrInvalidCredentials
	}

	s.clearFailures(ctx, log, address, email)

	token, session, err := s.sessions.Issue(ctx, user, meta)
	if err != nil {
		log.Error("failed to issue session", zap.Error(err))
		return nil, &DependencyError{Op: "issue session", Err: err}
	}

	log.Info("user logged in", zap.Uint("user_id", user.ID))
	return &LoginResult{
		Token:     token,
		ExpiresAt: session.ExpiresAt,
		User:      user.View(),
	}, nil
}

func (s *Service) isAnomalous(ctx context.Context, log *zap.Logger, req AnomalyRequest) bool {
	if s.anomaly.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.anomaly.Timeout)
		defer cancel()
	}

	verdict, err := s.checker.Check(ctx, req)
	if err != nil {
		s.metrics.AnomalyCheckErrors.Inc()
		if s.anomaly.FailOpen {
			log.Warn("anomaly check failed, continuing", zap.Error(err))
			return false
		}
		log.Warn("anomaly check failed, rejecting login", zap.Error(err))
		return true
	}

	if verdict != nil && verdict.IsAnomalous {
		log.Warn("login blocked as anomalous",
			zap.String("reason", verdict.Reason),
			zap.Int("failed_attempts", req.FailedAttempts),
		)
		return true
	}
	return false
}

// recordFailure bumps both counters. Errors are logged only; the caller still
// gets the bad-credentials rejection.
func (s *Service) recordFailure(ctx context.Context, log *zap.Logger, address, email string) {
	attempt, err := s.attempts.Increment(ctx, emailKey(email))
	if err != nil {
		log.Error("failed to record failed login", zap.Error(err))
	} else {
		log.Info("login failed", zap.Int("failed_attempts", attempt.Count))
	}

	if s.config.Lockout.Enabled {
		if _, err := s.attempts.Increment(ctx, lockoutKey(address, email)); err != nil {
			log.Error("failed to record lockout attempt", zap.Error(err))
		}
	}
}

func (s *Service) clearFailures(ctx context.Context, log *zap.Logger, address, email string) {
	if err := s.attempts.Reset(ctx, emailKey(email)); err != nil {
		log.Error("failed to reset failed-attempt counter", zap.Error(err))
	}
	if s.config.Lockout.Enabled {
		if err := s.attempts.Reset(ctx, lockoutKey(address, email)); err != nil {
			log.Error("failed to reset lockout counter", zap.Error(err))
		}
	}
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*UserView, error) {
	view, err := s.register(ctx, in)
	s.metrics.Registrations.WithLabelValues(Reason(err)).Inc()
	return view, err
}

func (s *Service) register(ctx context.Context, in RegisterInput) (*UserView, error) {
	in, err := s.validator.Register(in)
	if err != nil {
		return nil, err
	}

	email := NormalizeEmail(in.Email)
	log := s.log.With(zap.String("email", email))

	if _, err := s.repository.FindByEmail(ctx, email); err == nil {
		log.Info("registration rejected: email already registered")
		return nil, ErrDuplicateEmail
	} else if !errors.Is(err, ErrUserNotFound) {
		log.Error("credential store lookup failed", zap.Error(err))
		return nil, &DependencyError{Op: "find user", Err: err}
	}

	hash, err := s.HashPassword(in.Password)
	if err != nil {
		return nil, &DependencyError{Op: "hash password", Err: err}
	}

	user := &User{
		Name:         in.Name,
		Email:        email,
		PasswordHash: hash,
		Role:         RoleUser,
	}
	if err := s.repository.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrUserExists) {
			return nil, ErrDuplicateEmail
		}
		log.Error("failed to create user", zap.Error(err))
		return nil, &DependencyError{Op: "create user", Err: err}
	}

	log.Info("user registered", zap.Uint("user_id", user.ID))
	view := user.View()
	return &view, nil
}

// ForgotPassword answers the same way whether or not the email is known, and
// never faster than reset.min_response_time.
func (s *Service) ForgotPassword(ctx context.Context, in ForgotPasswordInput) error {
	in, err := s.validator.ForgotPassword(in)
	if err != nil {
		s.metrics.PasswordResets.WithLabelValues("request", Reason(err)).Inc()
		return err
	}

	start := s.now()
	err = s.requestReset(ctx, NormalizeEmail(in.Email))
	s.padLatency(ctx, start)

	s.metrics.PasswordResets.WithLabelValues("request", Reason(err)).Inc()
	return err
}

func (s *Service) requestReset(ctx context.Context, email string) error {
	log := s.log.With(zap.String("email", email))

	user, err := s.repository.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			log.Info("password reset requested for unknown email")
			return nil
		}
		log.Error("credential store lookup failed", zap.Error(err))
		return &DependencyError{Op: "find user", Err: err}
	}

	raw, hash, err := newResetToken()
	if err != nil {
		return &DependencyError{Op: "generate reset token", Err: err}
	}

	now := s.now()
	token := &PasswordResetToken{
		UserID:    user.ID,
		TokenHash: hash,
		ExpiresAt: now.Add(s.reset.TokenTTL),
		CreatedAt: now,
	}
	if err := s.repository.CreateResetToken(ctx, token); err != nil {
		log.Error("failed to store reset token", zap.Error(err))
		return &DependencyError{Op: "create reset token", Err: err}
	}

	err = s.mailer.SendPasswordReset(ctx, notify.PasswordReset{
		To:        user.Email,
		Name:      user.Name,
		Link:      s.resetLink(raw),
		ExpiresAt: token.ExpiresAt,
	})
	if err != nil {
		// Delivery problems are not reported to the caller.
		log.Error("failed to deliver password reset", zap.Error(err))
		return nil
	}

	log.Info("password reset issued", zap.Uint("user_id", user.ID))
	return nil
}

func (s *Service) resetLink(token string) string {
	return s.reset.LinkBaseURL + "?token=" + url.QueryEscape(token)
}

func (s *Service) padLatency(ctx context.Context, start time.Time) {
	remaining := s.reset.MinResponseTime - s.now().Sub(start)
	if remaining <= 0 {
		return
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// ResetPassword consumes a reset token, sets the new password and ends every
// session the user had.
func (s *Service) ResetPassword(ctx context.Context, in ResetPasswordInput) error {
	err := s.resetPassword(ctx, in)
	s.metrics.PasswordResets.WithLabelValues("complete", Reason(err)).Inc()
	return err
}

func (s *Service) resetPassword(ctx context.Context, in ResetPasswordInput) error {
	in, err := s.validator.ResetPassword(in)
	if err != nil {
		return err
	}

	hash, err := s.HashPassword(in.Password)
	if err != nil {
		return &DependencyError{Op: "hash password", Err: err}
	}

	token, err := s.repository.ResetPassword(ctx, hashResetToken(in.Token), hash, s.now())
	if err != nil {
		if errors.Is(err, ErrResetTokenInvalid) {
			return &ValidationError{
				Message: MsgInvalidResetToken,
				Fields:  map[string]string{"token": MsgInvalidResetToken},
				Reason:  ReasonInvalidToken,
			}
		}
		s.log.Error("failed to reset password", zap.Error(err))
		return &DependencyError{Op: "reset password", Err: err}
	}

	log := s.log.With(zap.Uint("user_id", token.UserID))

	if err := s.sessions.RevokeAll(ctx, token.UserID); err != nil {
		log.Error("failed to revoke sessions after password reset", zap.Error(err))
	}
	if user, err := s.repository.FindByID(ctx, token.UserID); err == nil {
		if err := s.attempts.Reset(ctx, emailKey(user.Email)); err != nil {
			log.Warn("failed to reset failed-attempt counter", zap.Error(err))
		}
	}

	log.Info("password reset completed")
	return nil
}

// Logout revokes the session behind token. It never fails: errors and panics
// from the session store are logged and dropped.
func (s *Service) Logout(ctx context.Context, token string) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("recovered from panic during logout", zap.Any("panic", r))
		}
	}()

	if token == "" {
		return
	}
	if err := s.sessions.Revoke(ctx, token); err != nil {
		s.log.Warn("failed to revoke session on logout", zap.Error(err))
		return
	}
	s.log.Info("user logged out")
}

func (s *Service) VerifySession(ctx context.Context, token string) (*SessionInfo, error) {
	return s.sessions.Verify(ctx, token)
}

func (s *Service) CurrentUser(ctx context.Context, userID uint) (*UserView, error) {
	user, err := s.repository.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, &DependencyError{Op: "find user", Err: err}
	}
	view := user.View()
	return &view, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]UserView, error) {
	users, err := s.repository.ListUsers(ctx)
	if err != nil {
		return nil, &DependencyError{Op: "list users", Err: err}
	}
	views := make([]UserView, 0, len(users))
	for i := range users {
		views = append(views, users[i].View())
	}
	return views, nil
}

// CreateAdmin provisions an Admin account through the same hashing path as
// registration.
func (s *Service) CreateAdmin(ctx context.Context, name, email, password string) (*UserView, error) {
	in, err := s.validator.Register(RegisterInput{
		Name:            name,
		Email:           email,
		Password:        password,
		ConfirmPassword: password,
	})
	if err != nil {
		return nil, err
	}

	hash, err := s.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := &User{
		Name:         in.Name,
		Email:        NormalizeEmail(in.Email),
		PasswordHash: hash,
		Role:         RoleAdmin,
	}
	if err := s.repository.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrUserExists) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	view := user.View()
	return &view, nil
}

func newResetToken() (raw, hash string, err error) {
	b := make([]byte, resetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("read random: %w", err)
	}
	raw = base64.RawURLEncoding.EncodeToString(b)
	return raw, hashResetToken(raw), nil
}

func hashResetToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
