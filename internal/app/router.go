package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/pluma-erp/pluma-erp/internal/batches"
	"github.com/pluma-erp/pluma-erp/internal/distribution"
	"github.com/pluma-erp/pluma-erp/internal/farms"
	"github.com/pluma-erp/pluma-erp/internal/ledger"
	"github.com/pluma-erp/pluma-erp/internal/orders"
	"github.com/pluma-erp/pluma-erp/internal/sales"
	"github.com/pluma-erp/pluma-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger              *slog.Logger
	Config              *Config
	FarmsHandler        *farms.Handler
	BatchesHandler      *batches.Handler
	LedgerHandler       *ledger.Handler
	OrdersHandler       *orders.Handler
	DistributionHandler *distribution.Handler
	SalesHandler        *sales.Handler
	JobsHandler         *jobs.Handler
}

// NewRouter constructs the chi.Router with Pluma defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(api chi.Router) {
		api.Route("/farms", params.FarmsHandler.MountRoutes)
		api.Route("/batches", params.BatchesHandler.MountRoutes)
		api.Route("/stock", params.LedgerHandler.MountRoutes)
		api.Route("/orders", params.OrdersHandler.MountRoutes)
		api.Route("/distributions", params.DistributionHandler.MountRoutes)
		api.Route("/deliveries", params.DistributionHandler.MountDeliveryRoutes)
		api.Route("/sales", params.SalesHandler.MountRoutes)
		if params.JobsHandler != nil {
			api.Route("/jobs", params.JobsHandler.MountRoutes)
		}
	})

	return r
}
