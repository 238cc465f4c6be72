package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/elskow/ditzler/internal/api"
	"github.com/elskow/ditzler/internal/config"
)

const (
	msgAuthRequired = "Authentication required."
	msgForbidden    = "You do not have access to this resource."
)

type Handler struct {
	service *Service
	config  *config.AuthConfig
	log     *zap.Logger
}

func NewHandler(service *Service, config *config.AuthConfig, log *zap.Logger) *Handler {
	return &Handler{
		service: service,
		config:  config,
		log:     log,
	}
}

// Routes registers the public auth flows on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post(api.AuthLogin, h.Login)
	r.Post(api.AuthRegister, h.Register)
	r.Post(api.AuthForgotPassword, h.ForgotPassword)
	r.Post(api.AuthResetPassword, h.ResetPassword)
	r.Post(api.AuthLogout, h.Logout)
	r.Get(api.AuthLogout, h.Logout)
}

func (h *Handler) requestLogger(r *http.Request, op string) *zap.Logger {
	return h.log.With(
		zap.String("op", op),
		zap.String("request_id", middleware.GetReqID(r.Context())),
	)
}

func (h *Handler) meta(r *http.Request) RequestMeta {
	meta := RequestMeta{
		SourceAddress: api.ClientIP(r),
		UserAgent:     r.UserAgent(),
	}
	if h.config.LocationHeader != "" {
		meta.Location = strings.TrimSpace(r.Header.Get(h.config.LocationHeader))
	}
	return meta
}

// decode accepts JSON and url-encoded forms.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, log *zap.Logger, v any) bool {
	if err := render.Decode(r, v); err != nil {
		log.Warn("failed to decode request body", zap.Error(err))
		api.JSON(w, r, http.StatusBadRequest, api.Error(MsgInvalidFields))
		return false
	}
	return true
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	log := h.requestLogger(r, "auth.Handler.Login")

	var in LoginInput
	if !h.decode(w, r, log, &in) {
		return
	}

	result, err := h.service.Login(r.Context(), in, h.meta(r))
	if err != nil {
		h.writeError(w, r, log, err)
		return
	}

	h.setSessionCookie(w, r, result.Token, result.ExpiresAt)
	api.JSON(w, r, http.StatusOK, api.Response{
		Success:  MsgLoginSuccess,
		Redirect: h.config.HomePath,
	})
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	log := h.requestLogger(r, "auth.Handler.Register")

	var in RegisterInput
	if !h.decode(w, r, log, &in) {
		return
	}

	if _, err := h.service.Register(r.Context(), in); err != nil {
		h.writeError(w, r, log, err)
		return
	}

	api.JSON(w, r, http.StatusCreated, api.Success(MsgRegisterSuccess))
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	log := h.requestLogger(r, "auth.Handler.ForgotPassword")

	var in ForgotPasswordInput
	if !h.decode(w, r, log, &in) {
		return
	}

	if err := h.service.ForgotPassword(r.Context(), in); err != nil {
		h.writeError(w, r, log, err)
		return
	}

	api.JSON(w, r, http.StatusOK, api.Success(MsgForgotSuccess))
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	log := h.requestLogger(r, "auth.Handler.ResetPassword")

	var in ResetPasswordInput
	if !h.decode(w, r, log, &in) {
		return
	}

	if err := h.service.ResetPassword(r.Context(), in); err != nil {
		h.writeError(w, r, log, err)
		return
	}

	api.JSON(w, r, http.StatusOK, api.Response{
		Success:  MsgResetSuccess,
		Redirect: h.config.LoginPath,
	})
}

// Logout clears the cookie before anything else so that a failure further
// down cannot leave the browser holding it.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.clearSessionCookie(w, r)

	if c, err := r.Cookie(h.config.Cookie.Name); err == nil {
		h.service.Logout(r.Context(), c.Value)
	}

	if r.Method == http.MethodGet {
		http.Redirect(w, r, h.config.LoginPath, http.StatusSeeOther)
		return
	}
	api.JSON(w, r, http.StatusOK, api.Response{
		Success:  MsgLogoutSuccess,
		Redirect: h.config.LoginPath,
	})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	log := h.requestLogger(r, "auth.Handler.Me")

	session, err := GetSessionFromContext(r.Context())
	if err != nil {
		api.JSON(w, r, http.StatusUnauthorized, api.Error(msgAuthRequired))
		return
	}

	user, err := h.service.CurrentUser(r.Context(), session.User.ID)
	if err != nil {
		if errors.Is(err, ErrInvalidSession) {
			h.clearSessionCookie(w, r)
			api.JSON(w, r, http.StatusUnauthorized, api.Error(msgAuthRequired))
			return
		}
		h.writeError(w, r, log, err)
		return
	}

	api.JSON(w, r, http.StatusOK, api.Data(user))
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	log := h.requestLogger(r, "auth.Handler.ListUsers")

	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.writeError(w, r, log, err)
		return
	}
	api.JSON(w, r, http.StatusOK, api.Data(users))
}

// writeError maps a flow error onto a status and a message that is safe to
// show. Authentication failures all share one message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		api.JSON(w, r, http.StatusBadRequest, api.Response{Error: verr.Message, Fields: verr.Fields})
	case IsAuthenticationError(err):
		api.JSON(w, r, http.StatusUnauthorized, api.Error(MsgBadCredentials))
	case errors.Is(err, ErrDuplicateEmail):
		api.JSON(w, r, http.StatusConflict, api.Error(MsgDuplicateEmail))
	default:
		log.Error("request failed", zap.Error(err))
		api.JSON(w, r, http.StatusServiceUnavailable, api.Error(MsgTryAgain))
	}
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, r *http.Request, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.config.Cookie.Name,
		Value:    token,
		Path:     "/",
		Domain:   h.config.Cookie.Domain,
		Expires:  expires,
		MaxAge:   int(h.config.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.config.Cookie.Secure || r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	clearCookie(w, r, h.config)
}

func clearCookie(w http.ResponseWriter, r *http.Request, cfg *config.AuthConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Cookie.Name,
		Value:    "",
		Path:     "/",
		Domain:   cfg.Cookie.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.Cookie.Secure || r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}
