package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mcoot/provisioner/internal/dependencies/clock"
	"github.com/mcoot/provisioner/internal/model"
	"github.com/mcoot/provisioner/internal/services/identity"
	"github.com/mcoot/provisioner/internal/services/oauth"
	"github.com/mcoot/provisioner/internal/services/progress"
	"github.com/mcoot/provisioner/internal/services/scheduler"
	"github.com/mcoot/provisioner/internal/storage"
)

// Phase names used in summary events
const (
	PhaseRegistration  = "registration"
	PhaseAuthorization = "authorization"
)

// Config holds configuration for the pipeline
type Config struct {
	// MaxQuantity bounds the accounts created by one request
	MaxQuantity int
	// TokenConcurrency is used when a request does not set one
	TokenConcurrency int
}

// DefaultConfig returns default pipeline configuration
func DefaultConfig() Config {
	return Config{
		MaxQuantity:      20,
		TokenConcurrency: 1,
	}
}

// Request describes one provisioning batch
type Request struct {
	Quantity     int                     `json:"quantity"`
	Concurrency  int                     `json:"concurrency"`
	SessionShare int                     `json:"session_share"`
	Domain       string                  `json:"domain"`
	ClientID     string                  `json:"client_id"`
	Proxies      []model.ProxyCredential `json:"proxies,omitempty"`
	// TokenConcurrency bounds parallel token acquisitions; zero uses the configured default
	TokenConcurrency int `json:"token_concurrency,omitempty"`
	// SkipAuthorization stops after registration
	SkipAuthorization bool `json:"skip_authorization,omitempty"`
}

// Validate checks every parameter. maxQuantity <= 0 means the default bound.
func (r Request) Validate(maxQuantity int) error {
	if maxQuantity <= 0 {
		maxQuantity = DefaultConfig().MaxQuantity
	}
	var problems []string
	if r.Quantity < 1 || r.Quantity > maxQuantity {
		problems = append(problems, fmt.Sprintf("quantity must be between 1 and %d", maxQuantity))
	}
	if r.Concurrency < 1 {
		problems = append(problems, "concurrency must be at least 1")
	}
	if r.SessionShare < 1 {
		problems = append(problems, "session_share must be at least 1")
	}
	if r.TokenConcurrency < 0 {
		problems = append(problems, "token_concurrency must not be negative")
	}
	if err := identity.ValidateDomain(r.Domain); err != nil {
		problems = append(problems, err.Error())
	}
	if !r.SkipAuthorization && strings.TrimSpace(r.ClientID) == "" {
		problems = append(problems, "client_id is required")
	}
	for i, p := range r.Proxies {
		if p.Host == "" || p.Port < 1 || p.Port > 65535 {
			problems = append(problems, fmt.Sprintf("proxy %d is not a valid host:port", i+1))
		}
	}
	if len(problems) > 0 {
		return model.Errorf(model.KindValidation, "validate request", "%w: %s", model.ErrInvalidRequest, strings.Join(problems, "; "))
	}
	return nil
}

// TokenRequest asks for tokens for accounts already in the store
type TokenRequest struct {
	// Emails selects accounts; empty means every account without a token
	Emails      []string `json:"emails,omitempty"`
	ClientID    string   `json:"client_id"`
	Concurrency int      `json:"concurrency"`
}

// Validate checks the token request
func (r TokenRequest) Validate(maxQuantity int) error {
	if maxQuantity <= 0 {
		maxQuantity = DefaultConfig().MaxQuantity
	}
	var problems []string
	if strings.TrimSpace(r.ClientID) == "" {
		problems = append(problems, "client_id is required")
	}
	if r.Concurrency < 0 {
		problems = append(problems, "concurrency must not be negative")
	}
	if len(r.Emails) > maxQuantity {
		problems = append(problems, fmt.Sprintf("at most %d emails per request", maxQuantity))
	}
	if len(problems) > 0 {
		return model.Errorf(model.KindValidation, "validate token request", "%w: %s", model.ErrInvalidRequest, strings.Join(problems, "; "))
	}
	return nil
}

// Summary counts the outcome of a batch
type Summary struct {
	Total               int `json:"total"`
	Registered          int `json:"registered"`
	RegistrationFailed  int `json:"registration_failed"`
	Authorized          int `json:"authorized"`
	AuthorizationFailed int `json:"authorization_failed"`
	// Cancelled counts failures that were skipped because the batch was stopped
	Cancelled int `json:"cancelled"`
}

// Result is everything a batch produced
type Result struct {
	Registrations []model.RegistrationOutcome
	Tokens        []model.TokenOutcome
	Summary       Summary
}

// Grants returns the successful token grants in request order
func (r *Result) Grants() []model.TokenGrant {
	var out []model.TokenGrant
	for _, t := range r.Tokens {
		if t.Success() {
			out = append(out, *t.Grant)
		}
	}
	return out
}

// Pipeline runs the two phases of a batch: registration, then authorization
type Pipeline struct {
	generator *identity.Generator
	scheduler *scheduler.Scheduler
	acquirer  *oauth.Acquirer
	store     storage.Storage
	clock     clock.Clock
	logger    *slog.Logger
	cfg       Config
}

// New creates a new Pipeline
func New(gen *identity.Generator, sched *scheduler.Scheduler, acq *oauth.Acquirer, store storage.Storage, clk clock.Clock, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.MaxQuantity <= 0 {
		cfg.MaxQuantity = DefaultConfig().MaxQuantity
	}
	if cfg.TokenConcurrency <= 0 {
		cfg.TokenConcurrency = DefaultConfig().TokenConcurrency
	}
	return &Pipeline{
		generator: gen,
		scheduler: sched,
		acquirer:  acq,
		store:     store,
		clock:     clk,
		logger:    logger.With(slog.String("component", "pipeline")),
		cfg:       cfg,
	}
}

// MaxQuantity returns the configured quantity bound
func (p *Pipeline) MaxQuantity() int {
	return p.cfg.MaxQuantity
}

// Provision validates req, generates identities, registers them and authorizes the
// ones that registered. Only validation failures are returned as errors; everything
// else is in the result.
func (p *Pipeline) Provision(ctx context.Context, taskID model.TaskID, req Request, emit progress.Emitter) (*Result, error) {
	if err := req.Validate(p.cfg.MaxQuantity); err != nil {
		return nil, err
	}
	if emit == nil {
		emit = progress.Discard
	}

	identities, err := p.generator.GenerateN(req.Domain, req.Quantity)
	if err != nil {
		return nil, err
	}

	emit.Emit(model.Event{
		Type:    model.EventStart,
		Step:    model.StepBatchStarted,
		Message: fmt.Sprintf("provisioning %d accounts on %s", req.Quantity, req.Domain),
		Data: map[string]int{
			"quantity":      req.Quantity,
			"concurrency":   req.Concurrency,
			"session_share": req.SessionShare,
			"proxies":       len(req.Proxies),
		},
	})
	p.logger.Info("batch started",
		slog.String("task_id", string(taskID)),
		slog.Int("quantity", req.Quantity),
		slog.String("domain", req.Domain))

	outcomes, err := p.scheduler.Run(ctx, identities, scheduler.Options{
		Concurrency:  req.Concurrency,
		SessionShare: req.SessionShare,
		Proxies:      req.Proxies,
	}, emit)
	if err != nil {
		return nil, err
	}

	res := &Result{Registrations: outcomes, Summary: Summary{Total: len(identities)}}
	registered := make([]model.Identity, 0, len(outcomes))
	for _, o := range outcomes {
		if !o.Success {
			res.Summary.RegistrationFailed++
			if model.KindOf(o.Err) == model.KindCancelled {
				res.Summary.Cancelled++
			}
			continue
		}
		res.Summary.Registered++
		registered = append(registered, o.Identity)
		p.persist(ctx, model.AccountFromIdentity(o.Identity, taskID, p.clock.Now()), emit)
	}
	p.emitSummary(emit, PhaseRegistration, len(identities), res.Summary.Registered, res.Summary.RegistrationFailed)

	if req.SkipAuthorization {
		return res, nil
	}
	if len(registered) == 0 {
		emit.Emit(model.Event{
			Type:    model.EventWarning,
			Step:    model.StepAuthPhaseSkipped,
			Message: "no account registered, skipping authorization",
		})
		return res, nil
	}

	concurrency := req.TokenConcurrency
	if concurrency <= 0 {
		concurrency = p.cfg.TokenConcurrency
	}
	p.authorize(ctx, taskID, registered, req.ClientID, concurrency, res, emit)
	return res, nil
}

// Authorize acquires tokens for accounts already in the store
func (p *Pipeline) Authorize(ctx context.Context, taskID model.TaskID, req TokenRequest, emit progress.Emitter) (*Result, error) {
	if err := req.Validate(p.cfg.MaxQuantity); err != nil {
		return nil, err
	}
	if emit == nil {
		emit = progress.Discard
	}

	identities, err := p.selectAccounts(ctx, req.Emails)
	if err != nil {
		return nil, err
	}

	res := &Result{Summary: Summary{Total: len(identities)}}
	emit.Emit(model.Event{
		Type:    model.EventStart,
		Step:    model.StepBatchStarted,
		Message: fmt.Sprintf("authorizing %d accounts", len(identities)),
		Data:    map[string]int{"quantity": len(identities)},
	})
	if len(identities) == 0 {
		emit.Emit(model.Event{
			Type:    model.EventWarning,
			Step:    model.StepAuthPhaseSkipped,
			Message: "no account needs a token",
		})
		return res, nil
	}

	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = p.cfg.TokenConcurrency
	}
	p.authorize(ctx, taskID, identities, req.ClientID, concurrency, res, emit)
	return res, nil
}

func (p *Pipeline) selectAccounts(ctx context.Context, emails []string) ([]model.Identity, error) {
	if len(emails) == 0 {
		unauthorized := false
		accounts, err := p.store.ListAccounts(ctx, storage.AccountFilter{Authorized: &unauthorized})
		if err != nil {
			return nil, err
		}
		if len(accounts) > p.cfg.MaxQuantity {
			accounts = accounts[:p.cfg.MaxQuantity]
		}
		out := make([]model.Identity, len(accounts))
		for i, a := range accounts {
			out[i] = a.Identity()
		}
		return out, nil
	}

	out := make([]model.Identity, 0, len(emails))
	for _, email := range emails {
		a, err := p.store.GetAccount(ctx, email)
		if err != nil {
			return nil, model.NewError(model.KindValidation, "select accounts", err).WithEmail(email)
		}
		out = append(out, a.Identity())
	}
	return out, nil
}

func (p *Pipeline) authorize(ctx context.Context, taskID model.TaskID, identities []model.Identity, clientID string, concurrency int, res *Result, emit progress.Emitter) {
	res.Tokens = p.acquirer.AcquireMany(ctx, identities, clientID, concurrency, emit)
	for _, t := range res.Tokens {
		if !t.Success() {
			res.Summary.AuthorizationFailed++
			if model.KindOf(t.Err) == model.KindCancelled {
				res.Summary.Cancelled++
			}
			continue
		}
		res.Summary.Authorized++

		account, err := p.store.GetAccount(ctx, t.Identity.Email)
		if err != nil {
			account = model.AccountFromIdentity(t.Identity, taskID, p.clock.Now())
		}
		account.ApplyGrant(*t.Grant, p.clock.Now())
		p.persist(ctx, account, emit)
	}
	p.emitSummary(emit, PhaseAuthorization, len(identities), res.Summary.Authorized, res.Summary.AuthorizationFailed)
}

// persist saves an account. A storage failure is reported but does not fail the batch.
func (p *Pipeline) persist(ctx context.Context, account *model.Account, emit progress.Emitter) {
	if err := p.store.SaveAccount(context.WithoutCancel(ctx), account); err != nil {
		p.logger.Error("failed to persist account",
			slog.String("email", account.Email),
			slog.String("error", err.Error()))
		emit.Emit(model.Event{
			Type:    model.EventError,
			Email:   account.Email,
			Step:    model.StepAccountPersisted,
			Message: fmt.Sprintf("failed to save account: %v", err),
		})
		return
	}
	emit.Emit(model.Event{
		Type:    model.EventInfo,
		Email:   account.Email,
		Step:    model.StepAccountPersisted,
		Message: "account saved",
	})
}

func (p *Pipeline) emitSummary(emit progress.Emitter, phase string, total, success, fail int) {
	emit.Emit(model.Event{
		Type:    model.EventProgress,
		Step:    model.StepBatchCompleted,
		Message: fmt.Sprintf("%s phase finished: %d succeeded, %d failed of %d", phase, success, fail, total),
		Data:    model.PhaseSummary{Phase: phase, Total: total, Success: success, Fail: fail},
	})
	p.logger.Info("phase finished",
		slog.String("phase", phase),
		slog.Int("total", total),
		slog.Int("success", success),
		slog.Int("fail", fail))
}
