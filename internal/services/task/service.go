package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/mcoot/provisioner/internal/dependencies/clock"
	"github.com/mcoot/provisioner/internal/model"
	"github.com/mcoot/provisioner/internal/services/pipeline"
	"github.com/mcoot/provisioner/internal/services/progress"
	"github.com/mcoot/provisioner/internal/storage"
)

// Func is the body of a background task
type Func func(ctx context.Context, id model.TaskID, emit progress.Emitter) (*pipeline.Summary, error)

// Config holds task service settings
type Config struct {
	// MaxFinished is how many finished tasks keep their event log in memory
	MaxFinished int
}

// DefaultConfig returns the default task service configuration
func DefaultConfig() Config {
	return Config{MaxFinished: 100}
}

type run struct {
	reporter *progress.Reporter
	cancel   context.CancelCauseFunc
	done     chan struct{}
	finished bool
}

// Service runs batches in the background and tracks their progress
type Service struct {
	store  storage.Storage
	clock  clock.Clock
	logger *slog.Logger
	cfg    Config
	newID  func() model.TaskID

	mu       sync.Mutex
	runs     map[model.TaskID]*run
	finished []model.TaskID
	wg       sync.WaitGroup
}

// NewService creates a new task Service
func NewService(store storage.Storage, clk clock.Clock, cfg Config, logger *slog.Logger) *Service {
	if cfg.MaxFinished <= 0 {
		cfg.MaxFinished = DefaultConfig().MaxFinished
	}
	return &Service{
		store:  store,
		clock:  clk,
		logger: logger.With(slog.String("component", "task-service")),
		cfg:    cfg,
		newID:  func() model.TaskID { return model.TaskID(uuid.NewString()) },
		runs:   make(map[model.TaskID]*run),
	}
}

// Submit records a running task and starts fn in the background. The task outlives ctx;
// use Stop to end it.
func (s *Service) Submit(ctx context.Context, kind model.TaskKind, quantity int, fn Func) (*model.Task, error) {
	task := &model.Task{
		ID:        s.newID(),
		Kind:      kind,
		State:     model.TaskStateRunning,
		Quantity:  quantity,
		StartedAt: s.clock.Now(),
	}
	if err := s.store.SaveTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to save task: %w", err)
	}

	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	r := &run{
		reporter: progress.NewReporter(task.ID, s.clock, s.logger),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	s.runs[task.ID] = r
	s.mu.Unlock()

	s.logger.Info("task submitted",
		slog.String("task_id", string(task.ID)),
		slog.String("kind", string(kind)),
		slog.Int("quantity", quantity))

	snapshot := *task
	s.wg.Add(1)
	go s.execute(runCtx, task, r, fn)
	return &snapshot, nil
}

func (s *Service) execute(ctx context.Context, task *model.Task, r *run, fn Func) {
	defer s.wg.Done()
	defer close(r.done)

	summary, err := s.call(ctx, task.ID, r.reporter, fn)
	stopped := errors.Is(context.Cause(ctx), model.ErrCancelled)
	r.cancel(nil)

	switch {
	case stopped && interrupted(summary, err):
		task.State = model.TaskStateCancelled
	case err != nil:
		task.State = model.TaskStateFailed
		task.Error = err.Error()
	default:
		task.State = model.TaskStateCompleted
	}
	if summary != nil {
		applySummary(task, *summary)
	}
	ended := s.clock.Now()
	task.EndedAt = &ended

	if err := s.store.SaveTask(context.WithoutCancel(ctx), task); err != nil {
		s.logger.Error("failed to save finished task",
			slog.String("task_id", string(task.ID)),
			slog.String("error", err.Error()))
	}
	r.reporter.Close()
	s.retire(task.ID, r)

	s.logger.Info("task finished",
		slog.String("task_id", string(task.ID)),
		slog.String("state", string(task.State)),
		slog.Int("success", task.SuccessCount),
		slog.Int("fail", task.FailCount))
}

func (s *Service) call(ctx context.Context, id model.TaskID, emit progress.Emitter, fn Func) (summary *pipeline.Summary, err error) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("task panicked",
				slog.String("task_id", string(id)),
				slog.Any("panic", p))
			summary, err = nil, fmt.Errorf("task panicked: %v", p)
		}
	}()
	return fn(ctx, id, emit)
}

// interrupted reports whether a stop actually cut the work short. A stop that lands
// after every identity was handled leaves the task completed.
func interrupted(summary *pipeline.Summary, err error) bool {
	return err != nil || summary == nil || summary.Cancelled > 0
}

func applySummary(task *model.Task, sum pipeline.Summary) {
	task.TokenCount = sum.Authorized
	if task.Kind == model.TaskKindTokens {
		task.SuccessCount = sum.Authorized
		task.FailCount = sum.AuthorizationFailed
		return
	}
	task.SuccessCount = sum.Registered
	task.FailCount = sum.RegistrationFailed
}

// retire marks a run finished and forgets the oldest finished runs beyond MaxFinished
func (s *Service) retire(id model.TaskID, r *run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.finished = true
	s.finished = append(s.finished, id)
	for len(s.finished) > s.cfg.MaxFinished {
		delete(s.runs, s.finished[0])
		s.finished = s.finished[1:]
	}
}

func (s *Service) lookup(id model.TaskID) (*run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	return r, ok
}

// Get returns the stored task record
func (s *Service) Get(ctx context.Context, id model.TaskID) (*model.Task, error) {
	return s.store.GetTask(ctx, id)
}

// List returns every stored task, newest first
func (s *Service) List(ctx context.Context) ([]*model.Task, error) {
	return s.store.ListTasks(ctx)
}

// Events returns the event log of a task still held in memory
func (s *Service) Events(id model.TaskID) ([]model.Event, error) {
	r, ok := s.lookup(id)
	if !ok {
		return nil, model.ErrTaskNotFound
	}
	return r.reporter.Events(), nil
}

// Subscribe streams a task's events, replaying the log first. The channel closes when
// the task finishes or the subscription is closed.
func (s *Service) Subscribe(id model.TaskID, bufferSize int) (*progress.Subscription, error) {
	r, ok := s.lookup(id)
	if !ok {
		return nil, model.ErrTaskNotFound
	}
	return r.reporter.Subscribe(bufferSize, true), nil
}

// Stop asks a running task to finish. In-flight registrations complete; nothing new starts.
// Stopping a finished task is a no-op.
func (s *Service) Stop(ctx context.Context, id model.TaskID) error {
	r, ok := s.lookup(id)
	if !ok {
		if _, err := s.store.GetTask(ctx, id); err != nil {
			return err
		}
		return nil
	}

	s.mu.Lock()
	finished := r.finished
	s.mu.Unlock()
	if finished {
		return nil
	}

	r.reporter.Emit(model.Event{
		Type:    model.EventWarning,
		Step:    model.StepTaskStopRequested,
		Message: "stop requested",
	})
	r.cancel(model.ErrCancelled)
	s.logger.Info("task stop requested", slog.String("task_id", string(id)))
	return nil
}

// Running returns how many tasks have not yet finished
func (s *Service) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.runs {
		if !r.finished {
			n++
		}
	}
	return n
}

// Wait blocks until the task finishes or ctx is done
func (s *Service) Wait(ctx context.Context, id model.TaskID) error {
	r, ok := s.lookup(id)
	if !ok {
		return model.ErrTaskNotFound
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops every running task and waits for them to record their final state
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, r := range s.runs {
		if !r.finished {
			r.cancel(model.ErrCancelled)
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
