package farms

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pluma-erp/pluma-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for farms.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the farms handler.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers farm routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{farmID}", h.get)
	r.Patch("/{farmID}", h.update)
	r.Get("/{farmID}/inventory", h.inventory)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input CreateFarmInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	farm, err := h.service.Create(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, farm)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	includeInactive := q.Get("include_inactive") == "true"

	farms, pagination, err := h.service.List(r.Context(), includeInactive, page, perPage)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"farms": farms, "pagination": pagination})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "farmID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Farm", err.Error())
		return
	}
	farm, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, farm)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "farmID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Farm", err.Error())
		return
	}
	var input UpdateFarmInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	farm, err := h.service.Update(r.Context(), id, input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, farm)
}

func (h *Handler) inventory(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "farmID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Farm", err.Error())
		return
	}
	inv, err := h.service.Inventory(r.Context(), id)
	if err != nil {
		h.logger.Warn("inventory query failed", slog.Any("error", err), slog.Int64("farm_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func urlID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}
