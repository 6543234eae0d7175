package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/provisioner/internal/api/handler"
	"github.com/mcoot/provisioner/internal/api/middleware"
	"github.com/mcoot/provisioner/internal/api/response"
	"github.com/mcoot/provisioner/internal/dependencies/clock"
	"github.com/mcoot/provisioner/internal/metrics"
	"github.com/mcoot/provisioner/internal/services/oauth"
	"github.com/mcoot/provisioner/internal/services/pipeline"
	"github.com/mcoot/provisioner/internal/services/task"
	"github.com/mcoot/provisioner/internal/storage"
)

// RouterConfig holds configuration for the API router
type RouterConfig struct {
	Logger      *slog.Logger
	Storage     storage.Storage
	StorageType string
	Clock       clock.Clock
	Tasks       *task.Service
	Pipeline    *pipeline.Pipeline
	OAuth       *oauth.Client
	Metrics     *metrics.Metrics
}

// NewRouter creates a new API router with all routes configured
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	// Create handlers
	taskHandler := handler.NewTaskHandler(cfg.Tasks, cfg.Pipeline, cfg.Logger)
	accountHandler := handler.NewAccountHandler(cfg.Storage, cfg.OAuth, cfg.Clock)

	// Create middleware
	loggingMiddleware := middleware.Logging(cfg.Logger)
	recoveryMiddleware := middleware.Recovery(cfg.Logger)

	// API subrouter with common middleware
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(loggingMiddleware)
	api.Use(recoveryMiddleware)

	// Task routes
	tasks := api.PathPrefix("/tasks").Subrouter()
	tasks.HandleFunc("", taskHandler.List).Methods(http.MethodGet)
	tasks.HandleFunc("/provision", taskHandler.Provision).Methods(http.MethodPost)
	tasks.HandleFunc("/tokens", taskHandler.Tokens).Methods(http.MethodPost)
	tasks.HandleFunc("/{id}", taskHandler.Get).Methods(http.MethodGet)
	tasks.HandleFunc("/{id}/stop", taskHandler.Stop).Methods(http.MethodPost)
	tasks.HandleFunc("/{id}/events", taskHandler.Events).Methods(http.MethodGet)

	// Account routes
	accounts := api.PathPrefix("/accounts").Subrouter()
	accounts.HandleFunc("", accountHandler.List).Methods(http.MethodGet)
	accounts.HandleFunc("/export", accountHandler.Export).Methods(http.MethodGet)
	accounts.HandleFunc("/{email}", accountHandler.Get).Methods(http.MethodGet)
	accounts.HandleFunc("/{email}", accountHandler.Delete).Methods(http.MethodDelete)
	accounts.HandleFunc("/{email}/used", accountHandler.MarkUsed).Methods(http.MethodPost)
	accounts.HandleFunc("/{email}/refresh", accountHandler.Refresh).Methods(http.MethodPost)

	// Health check endpoint
	api.HandleFunc("/health", healthHandler(cfg.StorageType, cfg.Tasks)).Methods(http.MethodGet)

	// Prometheus scrape endpoint
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler()).Methods(http.MethodGet)
	}

	return r
}

func healthHandler(storageType string, tasks *task.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusOK, response.Health{
			Status:       "ok",
			Storage:      storageType,
			RunningTasks: tasks.Running(),
		})
	}
}
