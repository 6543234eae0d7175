package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mcoot/provisioner/internal/dependencies/clock"
	"github.com/mcoot/provisioner/internal/metrics"
	"github.com/mcoot/provisioner/internal/model"
	"github.com/mcoot/provisioner/internal/services/progress"
)

// Acquirer obtains refresh tokens for identities
type Acquirer struct {
	client   *Client
	approver Approver
	clock    clock.Clock
	metrics  *metrics.Metrics
	logger   *slog.Logger
	cfg      Config
}

// NewAcquirer creates a new Acquirer. approver drives the device-code fallback.
func NewAcquirer(cfg Config, approver Approver, clk clock.Clock, m *metrics.Metrics, logger *slog.Logger) *Acquirer {
	cfg = cfg.withDefaults()
	if approver == nil {
		approver = ManualApprover{}
	}
	return &Acquirer{
		client:   NewClient(cfg, clk),
		approver: approver,
		clock:    clk,
		metrics:  m,
		logger:   logger.With(slog.String("component", "oauth")),
		cfg:      cfg,
	}
}

// Client returns the underlying wire client
func (a *Acquirer) Client() *Client {
	return a.client
}

// fallbackFor decides, from the typed error of a failed grant, which grant to try next
func fallbackFor(err error) (model.GrantMethod, bool) {
	if errors.Is(err, model.ErrUnauthorizedClient) {
		return model.GrantMethodDeviceCode, true
	}
	return "", false
}

// Acquire returns a token grant for identity according to the configured mode
func (a *Acquirer) Acquire(ctx context.Context, identity model.Identity, clientID string, emit progress.Emitter) (*model.TokenGrant, error) {
	if emit == nil {
		emit = progress.Discard
	}
	emit.Emit(model.Event{
		Type:    model.EventStart,
		Email:   identity.Email,
		Step:    model.StepAuthStarted,
		Message: fmt.Sprintf("authorizing %s", identity.Email),
	})

	var grant *model.TokenGrant
	var err error
	switch a.cfg.Mode {
	case ModePassword:
		grant, err = a.withMethod(ctx, model.GrantMethodPassword, identity, clientID, emit)
	case ModeDeviceCode:
		grant, err = a.withMethod(ctx, model.GrantMethodDeviceCode, identity, clientID, emit)
	default:
		grant, err = a.withMethod(ctx, model.GrantMethodPassword, identity, clientID, emit)
		if next, ok := fallbackFor(err); ok {
			emit.Emit(model.Event{
				Type:    model.EventWarning,
				Email:   identity.Email,
				Step:    model.StepPasswordGrant,
				Message: "password grant not allowed for this client, falling back to device code",
			})
			grant, err = a.withMethod(ctx, next, identity, clientID, emit)
		}
	}

	if err != nil {
		emit.Emit(model.Event{
			Type:    model.EventError,
			Email:   identity.Email,
			Step:    model.StepAuthFailed,
			Message: err.Error(),
			Data:    model.NewFailureData(err),
		})
		return nil, err
	}
	emit.Emit(model.Event{
		Type:    model.EventSuccess,
		Email:   identity.Email,
		Step:    model.StepAuthSucceeded,
		Message: fmt.Sprintf("authorized %s via %s", identity.Email, grant.Method),
	})
	return grant, nil
}

func (a *Acquirer) withMethod(ctx context.Context, method model.GrantMethod, identity model.Identity, clientID string, emit progress.Emitter) (*model.TokenGrant, error) {
	var grant *model.TokenGrant
	var err error
	if method == model.GrantMethodDeviceCode {
		grant, err = a.deviceCode(ctx, identity, clientID, emit)
	} else {
		emit.Emit(model.Event{
			Type:    model.EventInfo,
			Email:   identity.Email,
			Step:    model.StepPasswordGrant,
			Message: "requesting token with password grant",
		})
		grant, err = a.client.PasswordToken(ctx, clientID, identity)
	}

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultFailure
		a.logger.Warn("grant failed",
			slog.String("email", identity.Email),
			slog.String("method", string(method)),
			slog.String("kind", string(model.KindOf(err))),
			slog.String("error", err.Error()))
	}
	a.metrics.Grants.WithLabelValues(string(method), result).Inc()
	return grant, err
}

// deviceCode runs the device authorization grant. Approval runs alongside polling;
// an approval failure stops polling, and a finished poll stops approval.
func (a *Acquirer) deviceCode(ctx context.Context, identity model.Identity, clientID string, emit progress.Emitter) (*model.TokenGrant, error) {
	dc, err := a.client.RequestDeviceCode(ctx, clientID)
	if err != nil {
		var typed *model.Error
		if errors.As(err, &typed) {
			return nil, typed.WithEmail(identity.Email)
		}
		return nil, err
	}
	a.logger.Info("device code issued",
		slog.String("email", identity.Email),
		slog.String("user_code", dc.UserCode),
		slog.Time("expires_at", dc.ExpiresAt),
		slog.Int("interval", dc.IntervalSeconds))

	pollCtx, stopPolling := context.WithCancelCause(ctx)
	defer stopPolling(nil)
	approveCtx, stopApproval := context.WithCancel(ctx)
	defer stopApproval()

	approved := make(chan struct{})
	go func() {
		defer close(approved)
		err := a.approve(approveCtx, identity, dc, emit)
		if err != nil && approveCtx.Err() == nil {
			stopPolling(err)
		}
	}()

	grant, err := a.poll(pollCtx, identity, clientID, dc, emit)
	stopApproval()
	<-approved

	if err != nil {
		if cause := context.Cause(pollCtx); errors.Is(cause, model.ErrApproval) {
			return nil, cause
		}
		return nil, err
	}
	return grant, nil
}

func (a *Acquirer) approve(ctx context.Context, identity model.Identity, dc model.DeviceCodeSession, emit progress.Emitter) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = model.NewError(model.KindApproval, "approve device code",
				fmt.Errorf("%w: panic: %v", model.ErrApproval, p)).WithEmail(identity.Email)
		}
	}()
	if err := a.approver.Approve(ctx, identity, dc, emit); err != nil {
		return model.NewError(model.KindApproval, "approve device code",
			fmt.Errorf("%w: %w", model.ErrApproval, err)).WithEmail(identity.Email)
	}
	return nil
}

// poll drives the state machine until a terminal state. The first request goes out
// immediately; every later one waits the current interval. A poll that would land after
// the server-reported expiry is not sent.
func (a *Acquirer) poll(ctx context.Context, identity model.Identity, clientID string, dc model.DeviceCodeSession, emit progress.Emitter) (*model.TokenGrant, error) {
	interval := max(time.Duration(dc.IntervalSeconds)*time.Second, a.cfg.MinPollInterval)
	state := StatePending

	emit.Emit(model.Event{
		Type:    model.EventProgress,
		Email:   identity.Email,
		Step:    model.StepDeviceCodePolling,
		Message: fmt.Sprintf("polling for approval every %s until %s", interval, dc.ExpiresAt.Format(time.RFC3339)),
	})

	var last pollResult
	if !a.clock.Now().Before(dc.ExpiresAt) {
		last = pollResult{signal: SignalDeadline}
		state = Transition(state, last.signal)
	}

	for !state.Terminal() {
		resp, err := a.client.pollDeviceToken(ctx, clientID, dc.DeviceCode)
		last = classifyPoll(resp, err)
		if errors.Is(err, model.ErrCancelled) {
			return nil, err
		}
		a.metrics.TokenPolls.WithLabelValues(string(last.signal)).Inc()

		prev := state
		state = Transition(state, last.signal)
		if state.Terminal() {
			break
		}
		if state == StateSlowDown {
			interval += a.cfg.SlowDownIncrement
			emit.Emit(model.Event{
				Type:    model.EventWarning,
				Email:   identity.Email,
				Step:    model.StepDeviceCodePolling,
				Message: fmt.Sprintf("server asked to slow down, polling every %s", interval),
			})
		}
		a.logger.Debug("device code poll",
			slog.String("email", identity.Email),
			slog.String("from", prev.String()),
			slog.String("to", state.String()),
			slog.Duration("interval", interval))

		if a.clock.Now().Add(interval).After(dc.ExpiresAt) {
			last = pollResult{signal: SignalDeadline}
			state = Transition(state, last.signal)
			break
		}
		if err := a.clock.Sleep(ctx, interval); err != nil {
			return nil, model.NewError(model.KindCancelled, "poll device code", fmt.Errorf("%w: %w", model.ErrCancelled, err)).WithEmail(identity.Email)
		}
	}

	if state != StateSuccess {
		err := terminalError(state, last)
		var typed *model.Error
		if errors.As(err, &typed) {
			err = typed.WithEmail(identity.Email)
		}
		return nil, err
	}
	if last.token.RefreshToken == "" {
		return nil, model.NewError(model.KindProtocol, "poll device code", model.ErrMissingRefreshToken).WithEmail(identity.Email)
	}
	return &model.TokenGrant{
		Email:        identity.Email,
		ClientID:     clientID,
		RefreshToken: last.token.RefreshToken,
		AccessToken:  last.token.AccessToken,
		ExpiresIn:    last.token.ExpiresIn,
		Method:       model.GrantMethodDeviceCode,
	}, nil
}

// AcquireMany runs independent acquisitions with at most concurrency in flight and
// returns one outcome per identity in input order. Identities not started before ctx is
// cancelled are marked cancelled.
func (a *Acquirer) AcquireMany(ctx context.Context, identities []model.Identity, clientID string, concurrency int, emit progress.Emitter) []model.TokenOutcome {
	outcomes := make([]model.TokenOutcome, len(identities))
	var g errgroup.Group
	g.SetLimit(max(concurrency, 1))
	for i, id := range identities {
		g.Go(func() error {
			outcomes[i].Identity = id
			if ctx.Err() != nil {
				outcomes[i].Err = model.NewError(model.KindCancelled, "acquire token", model.ErrCancelled).WithEmail(id.Email)
				return nil
			}
			outcomes[i].Grant, outcomes[i].Err = a.Acquire(ctx, id, clientID, emit)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}
