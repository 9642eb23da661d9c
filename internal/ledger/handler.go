package ledger

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pluma-erp/pluma-erp/internal/platform/httpx"
	"github.com/pluma-erp/pluma-erp/internal/shared"
)

// Handler wires HTTP endpoints for the stock ledger.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/movements", h.recordMovement)
	r.Get("/movements", h.listMovements)
	r.Get("/stock", h.availableStock)
	r.Get("/summary", h.summary)
	r.Post("/farms/{farmID}/reconcile", h.reconcile)
}

func (h *Handler) recordMovement(w http.ResponseWriter, r *http.Request) {
	var input RecordMovementInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input.ActorID = shared.ActorFromContext(r.Context()).UserID

	movement, err := h.service.RecordMovement(r.Context(), input)
	if err != nil {
		h.logger.Warn("record movement failed", slog.Any("error", err),
			slog.Int64("farm_id", input.FarmID), slog.Int64("batch_id", input.BatchID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	filter, err := movementFilterFromQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	movements, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (h *Handler) availableStock(w http.ResponseWriter, r *http.Request) {
	farmID := queryInt64(r, "farm_id")
	batchID := queryInt64(r, "batch_id")
	stock, err := h.service.AvailableStock(r.Context(), farmID, batchID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"farm_id":         farmID,
		"batch_id":        batchID,
		"available_stock": stock,
	})
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	filter, err := movementFilterFromQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	summary, err := h.service.Summarize(r.Context(), filter.FarmID, filter.From, filter.To)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	farmID, err := strconv.ParseInt(chi.URLParam(r, "farmID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Farm", "farm id must be numeric")
		return
	}
	report, err := h.service.Reconcile(r.Context(), farmID)
	if err != nil {
		h.logger.Error("reconcile failed", slog.Any("error", err), slog.Int64("farm_id", farmID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func movementFilterFromQuery(r *http.Request) (MovementFilter, error) {
	filter := MovementFilter{
		FarmID:  queryInt64(r, "farm_id"),
		BatchID: queryInt64(r, "batch_id"),
	}
	q := r.URL.Query()
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return MovementFilter{}, shared.Validationf("invalid from date %q", raw)
		}
		filter.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return MovementFilter{}, shared.Validationf("invalid to date %q", raw)
		}
		// Include the whole end day.
		filter.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	if raw := q.Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil {
			filter.Limit = limit
		}
	}
	return filter, nil
}

func queryInt64(r *http.Request, key string) int64 {
	v, _ := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	return v
}
