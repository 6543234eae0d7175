package oauth

import (
	"errors"
	"fmt"

	"github.com/mcoot/provisioner/internal/model"
)

// State is a step of the device-code polling state machine
type State int

const (
	// StatePending means the device code was issued and nothing has been polled yet
	StatePending State = iota
	StatePolling
	StateSlowDown
	StateSuccess
	StateDeclined
	StateExpired
	StateError
)

var stateNames = map[State]string{
	StatePending:  "pending",
	StatePolling:  "polling",
	StateSlowDown: "slow_down",
	StateSuccess:  "success",
	StateDeclined: "declined",
	StateExpired:  "expired",
	StateError:    "error",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether polling ends in this state
func (s State) Terminal() bool {
	switch s {
	case StateSuccess, StateDeclined, StateExpired, StateError:
		return true
	default:
		return false
	}
}

// Signal is what one poll, or the local deadline, reports
type Signal string

const (
	SignalPending  Signal = "authorization_pending"
	SignalSlowDown Signal = "slow_down"
	SignalToken    Signal = "token"
	SignalExpired  Signal = "expired_token"
	SignalDeclined Signal = "authorization_declined"
	SignalBadCode  Signal = "bad_verification_code"
	SignalOther    Signal = "error"
	SignalNetwork  Signal = "network"
	// SignalDeadline fires when the next poll would land after expiresAt
	SignalDeadline Signal = "deadline"
)

// Transition is the single transition function of the polling state machine.
// Terminal states absorb every signal.
func Transition(s State, sig Signal) State {
	if s.Terminal() {
		return s
	}
	switch sig {
	case SignalPending:
		return StatePolling
	case SignalSlowDown:
		return StateSlowDown
	case SignalToken:
		return StateSuccess
	case SignalDeclined:
		return StateDeclined
	case SignalExpired, SignalDeadline:
		return StateExpired
	default:
		return StateError
	}
}

// pollResult is one classified token poll
type pollResult struct {
	signal Signal
	token  tokenResponse
	err    error
}

func classifyPoll(resp tokenResponse, err error) pollResult {
	if err != nil {
		return pollResult{signal: SignalNetwork, err: err}
	}
	switch resp.Error {
	case "":
		if resp.AccessToken == "" && resp.RefreshToken == "" {
			return pollResult{signal: SignalOther, token: resp}
		}
		return pollResult{signal: SignalToken, token: resp}
	case codeAuthorizationPending:
		return pollResult{signal: SignalPending, token: resp}
	case codeSlowDown:
		return pollResult{signal: SignalSlowDown, token: resp}
	case codeExpiredToken:
		return pollResult{signal: SignalExpired, token: resp}
	case codeAuthorizationDeclined:
		return pollResult{signal: SignalDeclined, token: resp}
	case codeBadVerificationCode:
		return pollResult{signal: SignalBadCode, token: resp}
	default:
		return pollResult{signal: SignalOther, token: resp}
	}
}

// terminalError maps a failed terminal state to a typed error
func terminalError(state State, last pollResult) error {
	const op = "poll device code"
	switch state {
	case StateExpired:
		if last.signal == SignalDeadline {
			return model.Errorf(model.KindExpired, op, "%w: deadline reached before approval", model.ErrDeviceCodeExpired)
		}
		return model.NewError(model.KindExpired, op, model.ErrDeviceCodeExpired)
	case StateDeclined:
		return model.NewError(model.KindDeclined, op, model.ErrAuthorizationDeclined)
	case StateError:
		if last.err != nil {
			var typed *model.Error
			if errors.As(last.err, &typed) {
				return last.err
			}
			return model.NewError(model.KindNetwork, op, last.err)
		}
		if last.signal == SignalBadCode {
			return model.NewError(model.KindProtocol, op, model.ErrBadVerificationCode)
		}
		if last.token.Error == "" {
			return model.Errorf(model.KindProtocol, op, "response has neither a token nor an error")
		}
		return model.Errorf(model.KindProtocol, op, "%s: %s", last.token.Error, last.token.ErrorDescription)
	default:
		return nil
	}
}
