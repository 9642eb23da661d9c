package batches

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pluma-erp/pluma-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for chicken batches.
type Handler struct {
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the batches handler.
func NewHandler(service *Service, validate *validator.Validate) *Handler {
	return &Handler{service: service, validate: validate}
}

// MountRoutes registers batch routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{batchID}", h.get)
	r.Post("/{batchID}/status", h.advanceStatus)
	r.Post("/{batchID}/health", h.updateHealth)
	r.Post("/{batchID}/farm", h.assignFarm)
	r.Delete("/{batchID}", h.softDelete)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input CreateBatchInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	batch, err := h.service.Create(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, batch)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	farmID, _ := strconv.ParseInt(q.Get("farm_id"), 10, 64)

	filter := ListFilter{
		FarmID:         farmID,
		Status:         BatchStatus(q.Get("status")),
		IncludeDeleted: q.Get("include_deleted") == "true",
		Page:           page,
		PerPage:        perPage,
	}
	batches, pagination, err := h.service.List(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"batches": batches, "pagination": pagination})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "batchID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Batch", err.Error())
		return
	}
	includeDeleted := r.URL.Query().Get("include_deleted") == "true"
	batch, err := h.service.Get(r.Context(), id, includeDeleted)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

type statusRequest struct {
	Status BatchStatus `json:"status" validate:"required"`
}

func (h *Handler) advanceStatus(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "batchID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Batch", err.Error())
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	batch, err := h.service.AdvanceStatus(r.Context(), id, req.Status)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

type healthRequest struct {
	Health HealthStatus `json:"health_status" validate:"required"`
}

func (h *Handler) updateHealth(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "batchID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Batch", err.Error())
		return
	}
	var req healthRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	batch, err := h.service.UpdateHealth(r.Context(), id, req.Health)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

type assignFarmRequest struct {
	FarmID int64 `json:"farm_id" validate:"required,gt=0"`
}

func (h *Handler) assignFarm(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "batchID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Batch", err.Error())
		return
	}
	var req assignFarmRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	batch, err := h.service.AssignFarm(r.Context(), id, req.FarmID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

func (h *Handler) softDelete(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "batchID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Batch", err.Error())
		return
	}
	if err := h.service.SoftDelete(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func urlID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}
