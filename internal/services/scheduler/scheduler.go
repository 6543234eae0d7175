package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mcoot/provisioner/internal/dependencies/clock"
	"github.com/mcoot/provisioner/internal/dependencies/random"
	"github.com/mcoot/provisioner/internal/metrics"
	"github.com/mcoot/provisioner/internal/model"
	"github.com/mcoot/provisioner/internal/services/progress"
	"github.com/mcoot/provisioner/internal/services/proxy"
	"github.com/mcoot/provisioner/internal/services/registration"
	"github.com/mcoot/provisioner/internal/services/session"
)

// Config holds the pacing configuration for the scheduler
type Config struct {
	// JitterMin and JitterMax bound the delay between identities sharing a session
	JitterMin time.Duration
	JitterMax time.Duration
}

// DefaultConfig returns default scheduler configuration
func DefaultConfig() Config {
	return Config{
		JitterMin: 3 * time.Second,
		JitterMax: 5 * time.Second,
	}
}

// Options are the per-run parameters
type Options struct {
	// Concurrency bounds the number of workers, and so the number of open sessions
	Concurrency int
	// SessionShare is the maximum number of identities registered on one session
	SessionShare int
	// Proxies are rotated across sessions in sub-batch order; empty means direct
	Proxies []model.ProxyCredential
}

// Validate checks the options before any work starts
func (o Options) Validate() error {
	if o.Concurrency < 1 {
		return model.Errorf(model.KindValidation, "validate options", "%w: concurrency must be at least 1, got %d", model.ErrInvalidRequest, o.Concurrency)
	}
	if o.SessionShare < 1 {
		return model.Errorf(model.KindValidation, "validate options", "%w: session share must be at least 1, got %d", model.ErrInvalidRequest, o.SessionShare)
	}
	return nil
}

// Scheduler runs the registration phase: identities are grouped into sub-batches, each
// sub-batch shares one browser session, and at most Concurrency sub-batches run at once.
type Scheduler struct {
	sessions  *session.Manager
	registrar registration.Registrar
	clock     clock.Clock
	random    random.Random
	metrics   *metrics.Metrics
	logger    *slog.Logger
	cfg       Config
}

// New creates a new Scheduler
func New(sessions *session.Manager, registrar registration.Registrar, clk clock.Clock, rnd random.Random, m *metrics.Metrics, cfg Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		sessions:  sessions,
		registrar: registrar,
		clock:     clk,
		random:    rnd,
		metrics:   m,
		logger:    logger.With(slog.String("component", "scheduler")),
		cfg:       cfg,
	}
}

// Partition splits identities into consecutive sub-batches of at most w, preserving order
func Partition(identities []model.Identity, w int) []model.SubBatch {
	if w < 1 {
		w = 1
	}
	batches := make([]model.SubBatch, 0, (len(identities)+w-1)/w)
	for start := 0; start < len(identities); start += w {
		end := min(start+w, len(identities))
		b := model.SubBatch{
			Number:     len(batches) + 1,
			Identities: identities[start:end:end],
			Indexes:    make([]int, 0, end-start),
		}
		for i := start; i < end; i++ {
			b.Indexes = append(b.Indexes, i)
		}
		batches = append(batches, b)
	}
	return batches
}

// Workers returns the number of workers Run starts for n identities
func Workers(n int, opts Options) int {
	if n == 0 {
		return 0
	}
	share := max(opts.SessionShare, 1)
	return min(max(opts.Concurrency, 1), (n+share-1)/share)
}

// workQueue is the sub-batch queue shared by all workers. Popping a sub-batch and drawing
// its proxy happen under one lock, so proxies follow sub-batch order.
type workQueue struct {
	mu      sync.Mutex
	batches []model.SubBatch
	next    int
	rotator *proxy.Rotator
}

func (q *workQueue) pop() (model.SubBatch, *model.ProxyCredential, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.next >= len(q.batches) {
		return model.SubBatch{}, nil, false
	}
	b := q.batches[q.next]
	q.next++
	return b, q.rotator.Next(), true
}

// Run registers every identity and returns one outcome per identity, in input order.
// Only invalid options produce an error; every other failure is reported in the outcomes.
// Cancelling ctx stops workers from taking new sub-batches and skips the rest of the
// current one; identities never started are marked cancelled.
func (s *Scheduler) Run(ctx context.Context, identities []model.Identity, opts Options, emit progress.Emitter) ([]model.RegistrationOutcome, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if emit == nil {
		emit = progress.Discard
	}

	q := &workQueue{
		batches: Partition(identities, opts.SessionShare),
		rotator: proxy.NewRotator(opts.Proxies),
	}
	results := make([]model.RegistrationOutcome, len(identities))
	done := make([]bool, len(identities))

	workers := Workers(len(identities), opts)
	s.logger.Info("registration phase starting",
		slog.Int("identities", len(identities)),
		slog.Int("sub_batches", len(q.batches)),
		slog.Int("workers", workers),
		slog.Int("proxies", len(opts.Proxies)))

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for ctx.Err() == nil {
				batch, px, ok := q.pop()
				if !ok {
					return nil
				}
				r := &subBatchRun{s: s, batch: batch, proxy: px, emit: emit, results: results, done: done}
				r.run(ctx)
			}
			return nil
		})
	}
	_ = g.Wait()

	cancelled := model.NewError(model.KindCancelled, "register", model.ErrCancelled)
	for i, id := range identities {
		if !done[i] {
			results[i] = model.RegistrationOutcome{Identity: id, Err: cancelled.WithEmail(id.Email)}
		}
	}
	return results, nil
}

// subBatchRun processes one sub-batch on one worker. Each index it writes belongs to its
// sub-batch only, so results need no locking.
type subBatchRun struct {
	s       *Scheduler
	batch   model.SubBatch
	proxy   *model.ProxyCredential
	emit    progress.Emitter
	results []model.RegistrationOutcome
	done    []bool

	arena     *session.Arena
	closeOnce sync.Once
}

func (r *subBatchRun) run(ctx context.Context) {
	arena, err := r.s.sessions.OpenArena(ctx, r.proxy)
	if err != nil {
		r.emit.Emit(model.Event{
			Type:    model.EventError,
			Step:    model.StepSessionFailed,
			Message: fmt.Sprintf("sub-batch %d: %v", r.batch.Number, err),
			Data:    model.NewFailureData(err),
		})
		for i := range r.batch.Identities {
			r.fail(i, err)
		}
		return
	}
	r.arena = arena
	defer r.closeSession(ctx)

	h := arena.Handle()
	r.emit.Emit(model.Event{
		Type:    model.EventInfo,
		Step:    model.StepSessionOpened,
		Message: fmt.Sprintf("session %s opened for sub-batch %d", h.SessionID, r.batch.Number),
		Data:    r.sessionData(),
	})

	var abort error
	for i, id := range r.batch.Identities {
		if abort != nil {
			r.skip(i, abort)
			continue
		}

		if i > 0 {
			delay := random.Duration(r.s.random, r.s.cfg.JitterMin, r.s.cfg.JitterMax)
			if delay > 0 {
				r.emit.Emit(model.Event{
					Type:    model.EventInfo,
					Email:   id.Email,
					Step:    model.StepDelay,
					Message: fmt.Sprintf("waiting %s before next registration", delay.Round(time.Millisecond)),
				})
			}
			if err := r.s.clock.Sleep(ctx, delay); err != nil {
				abort = model.NewError(model.KindCancelled, "register", model.ErrCancelled)
				r.skip(i, abort)
				continue
			}
		}

		r.emit.Emit(model.Event{
			Type:    model.EventProgress,
			Email:   id.Email,
			Step:    model.StepIdentityStarted,
			Message: fmt.Sprintf("registering %s", id.Email),
		})

		if err := r.register(ctx, id); err != nil {
			r.fail(i, err)
			// Release straight away; the session may be in an unknown state
			r.closeSession(ctx)
			abort = model.NewError(model.KindAborted, "register",
				fmt.Errorf("%w: %s failed", model.ErrSubBatchAborted, id.Email))
			continue
		}

		r.succeed(i)
	}
}

func (r *subBatchRun) register(ctx context.Context, id model.Identity) (err error) {
	h, giveBack, err := r.arena.Borrow(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	defer giveBack()

	defer func() {
		if p := recover(); p != nil {
			r.s.logger.Error("registration driver panicked",
				slog.String("email", id.Email),
				slog.Any("panic", p))
			err = model.NewError(model.KindRegistration, "register",
				fmt.Errorf("%w: %v", model.ErrRegistrationPanic, p)).WithEmail(id.Email)
		}
	}()

	// An in-flight registration finishes its current step even when the batch is stopped
	if err := r.s.registrar.Register(context.WithoutCancel(ctx), h, id); err != nil {
		var typed *model.Error
		if errors.As(err, &typed) {
			return err
		}
		return model.NewError(model.KindRegistration, "register",
			fmt.Errorf("%w: %w", model.ErrRegistration, err)).WithEmail(id.Email)
	}
	return nil
}

func (r *subBatchRun) closeSession(ctx context.Context) {
	r.closeOnce.Do(func() {
		r.arena.Close(ctx)
		r.emit.Emit(model.Event{
			Type:    model.EventInfo,
			Step:    model.StepSessionClosed,
			Message: fmt.Sprintf("session %s closed for sub-batch %d", r.arena.Handle().SessionID, r.batch.Number),
			Data:    r.sessionData(),
		})
	})
}

func (r *subBatchRun) sessionData() model.SessionEventData {
	d := model.SessionEventData{
		SessionID: r.arena.Handle().SessionID,
		SubBatch:  r.batch.Number,
		Size:      r.batch.Len(),
	}
	if r.proxy != nil {
		d.Proxy = r.proxy.String()
	}
	return d
}

func (r *subBatchRun) succeed(i int) {
	id := r.batch.Identities[i]
	r.record(i, model.RegistrationOutcome{Identity: id, Success: true})
	r.s.metrics.Registrations.WithLabelValues(metrics.ResultSuccess).Inc()
	r.emit.Emit(model.Event{
		Type:    model.EventSuccess,
		Email:   id.Email,
		Step:    model.StepIdentitySucceeded,
		Message: fmt.Sprintf("registered %s", id.Email),
	})
}

func (r *subBatchRun) fail(i int, err error) {
	id := r.batch.Identities[i]
	r.record(i, model.RegistrationOutcome{Identity: id, Err: err})
	r.s.metrics.Registrations.WithLabelValues(metrics.ResultFailure).Inc()
	r.emit.Emit(model.Event{
		Type:    model.EventError,
		Email:   id.Email,
		Step:    model.StepIdentityFailed,
		Message: err.Error(),
		Data:    model.NewFailureData(err),
	})
}

func (r *subBatchRun) skip(i int, reason error) {
	id := r.batch.Identities[i]
	err := reason
	var typed *model.Error
	if errors.As(reason, &typed) {
		err = typed.WithEmail(id.Email)
	}
	r.record(i, model.RegistrationOutcome{Identity: id, Err: err})
	r.s.metrics.Registrations.WithLabelValues(metrics.ResultAborted).Inc()
	r.emit.Emit(model.Event{
		Type:    model.EventWarning,
		Email:   id.Email,
		Step:    model.StepIdentitySkipped,
		Message: err.Error(),
		Data:    model.NewFailureData(err),
	})
}

func (r *subBatchRun) record(i int, o model.RegistrationOutcome) {
	idx := r.batch.Indexes[i]
	r.results[idx] = o
	r.done[idx] = true
}
