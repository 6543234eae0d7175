package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/mcoot/provisioner/internal/api/request"
	"github.com/mcoot/provisioner/internal/api/response"
	"github.com/mcoot/provisioner/internal/api/sse"
	"github.com/mcoot/provisioner/internal/model"
	"github.com/mcoot/provisioner/internal/services/pipeline"
	"github.com/mcoot/provisioner/internal/services/progress"
	"github.com/mcoot/provisioner/internal/services/task"
)

// TaskHandler handles task submission and tracking endpoints
type TaskHandler struct {
	tasks    *task.Service
	pipeline *pipeline.Pipeline
	logger   *slog.Logger
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(tasks *task.Service, p *pipeline.Pipeline, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		tasks:    tasks,
		pipeline: p,
		logger:   logger.With(slog.String("component", "task-handler")),
	}
}

// Provision handles POST /api/v1/tasks/provision
func (h *TaskHandler) Provision(w http.ResponseWriter, r *http.Request) {
	var body request.ProvisionRequest
	if err := decodeBody(w, r, &body); err != nil {
		WriteError(w, err)
		return
	}
	req, err := body.ToPipeline()
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := req.Validate(h.pipeline.MaxQuantity()); err != nil {
		WriteError(w, err)
		return
	}

	t, err := h.tasks.Submit(r.Context(), model.TaskKindProvision, req.Quantity,
		func(ctx context.Context, id model.TaskID, emit progress.Emitter) (*pipeline.Summary, error) {
			res, err := h.pipeline.Provision(ctx, id, req, emit)
			if err != nil {
				return nil, err
			}
			return &res.Summary, nil
		})
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusAccepted, response.TaskFromModel(t))
}

// Tokens handles POST /api/v1/tasks/tokens
func (h *TaskHandler) Tokens(w http.ResponseWriter, r *http.Request) {
	var body request.TokenRequest
	if err := decodeBody(w, r, &body); err != nil {
		WriteError(w, err)
		return
	}
	req := body.ToPipeline()
	if err := req.Validate(h.pipeline.MaxQuantity()); err != nil {
		WriteError(w, err)
		return
	}

	t, err := h.tasks.Submit(r.Context(), model.TaskKindTokens, len(req.Emails),
		func(ctx context.Context, id model.TaskID, emit progress.Emitter) (*pipeline.Summary, error) {
			res, err := h.pipeline.Authorize(ctx, id, req, emit)
			if err != nil {
				return nil, err
			}
			return &res.Summary, nil
		})
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusAccepted, response.TaskFromModel(t))
}

// List handles GET /api/v1/tasks
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.tasks.List(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.TaskListFromModel(tasks))
}

// Get handles GET /api/v1/tasks/{id}
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := model.TaskID(mux.Vars(r)["id"])

	t, err := h.tasks.Get(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.TaskFromModel(t))
}

// Stop handles POST /api/v1/tasks/{id}/stop
func (h *TaskHandler) Stop(w http.ResponseWriter, r *http.Request) {
	id := model.TaskID(mux.Vars(r)["id"])

	if err := h.tasks.Stop(r.Context(), id); err != nil {
		WriteError(w, err)
		return
	}
	t, err := h.tasks.Get(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusAccepted, response.TaskFromModel(t))
}

// Events handles GET /api/v1/tasks/{id}/events.
// Clients asking for JSON get the log so far; everyone else gets a live SSE stream.
func (h *TaskHandler) Events(w http.ResponseWriter, r *http.Request) {
	id := model.TaskID(mux.Vars(r)["id"])

	if wantsJSON(r) {
		events, err := h.tasks.Events(id)
		if err != nil {
			WriteError(w, err)
			return
		}
		response.JSON(w, http.StatusOK, response.EventList{TaskID: string(id), Events: events})
		return
	}

	sub, err := h.tasks.Subscribe(id, 0)
	if err != nil {
		WriteError(w, err)
		return
	}
	defer sub.Close()

	h.logger.Info("event stream opened", slog.String("task_id", string(id)))
	sse.Serve(w, r, sub.C, h.logger)
}

func wantsJSON(r *http.Request) bool {
	if r.URL.Query().Get("format") == "json" {
		return true
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/event-stream")
}
