package orders

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pluma-erp/pluma-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for orders.
type Handler struct {
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the orders handler.
func NewHandler(service *Service, validate *validator.Validate) *Handler {
	return &Handler{service: service, validate: validate}
}

// MountRoutes registers order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{orderID}", h.get)
	r.Post("/{orderID}/approve", h.approve)
	r.Post("/{orderID}/reject", h.reject)
	r.Post("/{orderID}/fulfillment", h.updateFulfillment)
	r.Post("/{orderID}/cancel", h.cancel)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input CreateOrderInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.Create(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	shopID, _ := strconv.ParseInt(q.Get("shop_id"), 10, 64)

	filter := ListFilter{
		ShopID:  shopID,
		Status:  Status(q.Get("status")),
		Page:    page,
		PerPage: perPage,
	}
	orders, pagination, err := h.service.List(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"orders": orders, "pagination": pagination})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "orderID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Order", err.Error())
		return
	}
	order, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "orderID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Order", err.Error())
		return
	}
	order, err := h.service.Approve(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "orderID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Order", err.Error())
		return
	}
	var req rejectRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	order, err := h.service.Reject(r.Context(), id, req.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

type fulfillmentRequest struct {
	Updates []FulfillmentUpdate `json:"updates" validate:"required,min=1,dive"`
}

func (h *Handler) updateFulfillment(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "orderID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Order", err.Error())
		return
	}
	var req fulfillmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.UpdateFulfillment(r.Context(), id, req.Updates)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "orderID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Order", err.Error())
		return
	}
	order, err := h.service.Cancel(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func urlID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}
