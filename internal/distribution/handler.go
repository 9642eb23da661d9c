package distribution

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pluma-erp/pluma-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for distributions and deliveries.
type Handler struct {
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the distribution handler.
func NewHandler(service *Service, validate *validator.Validate) *Handler {
	return &Handler{service: service, validate: validate}
}

// MountRoutes registers distribution routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{distributionID}", h.get)
	r.Post("/{distributionID}/status", h.updateStatus)
	r.Get("/{distributionID}/deliveries", h.deliveries)
}

// MountDeliveryRoutes registers delivery reconciliation routes.
func (h *Handler) MountDeliveryRoutes(r chi.Router) {
	r.Post("/{deliveryID}/verify", h.verifyDelivery)
	r.Post("/{deliveryID}/cancel", h.cancelDelivery)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input CreateDistributionInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	d, err := h.service.Create(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, d)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	vehicleID, _ := strconv.ParseInt(q.Get("vehicle_id"), 10, 64)

	filter := ListFilter{
		VehicleID: vehicleID,
		Status:    Status(q.Get("status")),
		Page:      page,
		PerPage:   perPage,
	}
	distributions, pagination, err := h.service.List(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"distributions": distributions, "pagination": pagination})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "distributionID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Distribution", err.Error())
		return
	}
	d, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

type statusRequest struct {
	Status Status `json:"status" validate:"required"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "distributionID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Distribution", err.Error())
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	d, err := h.service.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) deliveries(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "distributionID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Distribution", err.Error())
		return
	}
	deliveries, err := h.service.Deliveries(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deliveries": deliveries})
}

type verifyRequest struct {
	VerifiedQuantity int64 `json:"verified_quantity" validate:"gte=0"`
}

func (h *Handler) verifyDelivery(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "deliveryID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Delivery", err.Error())
		return
	}
	var req verifyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	delivery, err := h.service.VerifyDelivery(r.Context(), id, req.VerifiedQuantity)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, delivery)
}

func (h *Handler) cancelDelivery(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "deliveryID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Delivery", err.Error())
		return
	}
	delivery, err := h.service.CancelDelivery(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, delivery)
}

func urlID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}
