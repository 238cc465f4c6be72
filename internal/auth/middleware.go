package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/elskow/ditzler/internal/api"
	"github.com/elskow/ditzler/internal/config"
)

// Define a custom type for context keys
type contextKey string

const (
	// SessionContextKey is the key used to store the verified session in the context
	SessionContextKey contextKey = "session"
)

type AuthMiddleware struct {
	service *Service
	config  *config.AuthConfig
	log     *zap.Logger
}

func NewAuthMiddleware(service *Service, config *config.AuthConfig, log *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		service: service,
		config:  config,
		log:     log,
	}
}

// RequireSession lets the request through only with a cookie whose token
// verifies against an active session. Browsers are redirected to the login
// page; API clients get a 401.
func (m *AuthMiddleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(m.config.Cookie.Name)
		if err != nil || c.Value == "" {
			m.reject(w, r, false)
			return
		}

		info, err := m.service.VerifySession(r.Context(), c.Value)
		if err != nil {
			var derr *DependencyError
			if errors.As(err, &derr) {
				m.log.Error("session lookup failed",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.Error(err))
				api.JSON(w, r, http.StatusServiceUnavailable, api.Error(MsgTryAgain))
				return
			}
			m.log.Info("rejected invalid session",
				zap.String("path", r.URL.Path),
				zap.Error(err))
			m.reject(w, r, true)
			return
		}

		ctx := context.WithValue(r.Context(), SessionContextKey, info)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Guard applies RequireSession to every path api.IsProtected reports as
// protected.
func (m *AuthMiddleware) Guard(next http.Handler) http.Handler {
	protected := m.RequireSession(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !api.IsProtected(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		protected.ServeHTTP(w, r)
	})
}

// RequireRole must run after RequireSession.
func (m *AuthMiddleware) RequireRole(role Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, err := GetSessionFromContext(r.Context())
			if err != nil {
				m.reject(w, r, false)
				return
			}
			if info.User.Role != role {
				api.JSON(w, r, http.StatusForbidden, api.Error(msgForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *AuthMiddleware) reject(w http.ResponseWriter, r *http.Request, clear bool) {
	if clear {
		clearCookie(w, r, m.config)
	}
	if render.GetAcceptedContentType(r) == render.ContentTypeHTML {
		http.Redirect(w, r, m.config.LoginPath, http.StatusSeeOther)
		return
	}
	api.JSON(w, r, http.StatusUnauthorized, api.Response{
		Error:    msgAuthRequired,
		Redirect: m.config.LoginPath,
	})
}

// GetSessionFromContext returns the session stored by RequireSession.
func GetSessionFromContext(ctx context.Context) (*SessionInfo, error) {
	info, ok := ctx.Value(SessionContextKey).(*SessionInfo)
	if !ok || info == nil {
		return nil, errors.New("session not found in context")
	}
	return info, nil
}
