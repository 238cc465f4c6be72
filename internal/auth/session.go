package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/elskow/ditzler/internal/config"
)

type Claims struct {
	UserID uint   `json:"uid"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
	jwt.RegisteredClaims
}

// SessionInfo is what a verified token resolves to.
type SessionInfo struct {
	SessionID string
	User      UserView
	ExpiresAt time.Time
}

// SessionManager signs session tokens and keeps the matching server side
// rows, so a token stops working as soon as its session is revoked.
type SessionManager struct {
	config *config.AuthConfig
	store  SessionStore
	now    func() time.Time
}

func NewSessionManager(config *config.AuthConfig, store SessionStore) *SessionManager {
	return &SessionManager{
		config: config,
		store:  store,
		now:    time.Now,
	}
}

// Issue creates a session row for user and returns the signed token.
func (m *SessionManager) Issue(ctx context.Context, user *User, meta RequestMeta) (string, *Session, error) {
	now := m.now()
	session := &Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		ExpiresAt: now.Add(m.config.SessionTTL),
		IPAddress: meta.SourceAddress,
		UserAgent: truncate(meta.UserAgent, 255),
		CreatedAt: now,
	}

	if err := m.store.CreateSession(ctx, session); err != nil {
		return "", nil, fmt.Errorf("create session: %w", err)
	}

	token, err := m.sign(user, session)
	if err != nil {
		return "", nil, err
	}
	return token, session, nil
}

func (m *SessionManager) sign(user *User, session *Session) (string, error) {
	claims := &Claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        session.ID,
			Subject:   fmt.Sprint(user.ID),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(session.CreatedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.config.JWTSecret))
}

// Parse checks the signature and expiry only.
func (m *SessionManager) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(m.config.JWTSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if !token.Valid || claims.ID == "" {
		return nil, ErrInvalidSession
	}
	return claims, nil
}

// Verify parses the token and confirms its session is still active.
func (m *SessionManager) Verify(ctx context.Context, tokenString string) (*SessionInfo, error) {
	claims, err := m.Parse(tokenString)
	if err != nil {
		return nil, err
	}

	session, err := m.store.FindSession(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, &DependencyError{Op: "find session", Err: err}
	}
	if session.UserID != claims.UserID || !session.Active(m.now()) {
		return nil, ErrInvalidSession
	}

	return &SessionInfo{
		SessionID: session.ID,
		User: UserView{
			ID:    claims.UserID,
			Email: claims.Email,
			Role:  claims.Role,
		},
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// Revoke ends the session behind tokenString. Expired tokens are still
// revoked as long as the signature is valid.
func (m *SessionManager) Revoke(ctx context.Context, tokenString string) error {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(m.config.JWTSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if claims.ID == "" {
		return ErrInvalidSession
	}
	return m.store.RevokeSession(ctx, claims.ID, m.now())
}

func (m *SessionManager) RevokeAll(ctx context.Context, userID uint) error {
	return m.store.RevokeUserSessions(ctx, userID, m.now())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
