package dashboard

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"go.uber.org/zap"

	"github.com/elskow/ditzler/internal/api"
)

const msgLoadFailed = "Could not load data. Please try again."

type Handler struct {
	service *Service
	log     *zap.Logger
}

func NewHandler(service *Service, log *zap.Logger) *Handler {
	return &Handler{service: service, log: log}
}

// Routes expects r to be behind the session guard.
func (h *Handler) Routes(r chi.Router) {
	r.Get(api.DashboardSummary, h.Summary)
	r.Get(api.Totes, h.Totes)
	r.Get(api.Clients, h.Clients)
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context())
	h.respond(w, r, "dashboard.Handler.Summary", summary, err)
}

func (h *Handler) Totes(w http.ResponseWriter, r *http.Request) {
	totes, err := h.service.Totes(r.Context())
	h.respond(w, r, "dashboard.Handler.Totes", totes, err)
}

func (h *Handler) Clients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.service.Clients(r.Context())
	h.respond(w, r, "dashboard.Handler.Clients", clients, err)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, op string, data any, err error) {
	if err != nil {
		h.log.Error("failed to load dashboard data",
			zap.String("op", op),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		api.JSON(w, r, http.StatusServiceUnavailable, api.Error(msgLoadFailed))
		return
	}
	api.JSON(w, r, http.StatusOK, api.Data(data))
}
