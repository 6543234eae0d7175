package model

import (
	"strings"
	"time"
)

// Account is a provisioned identity as stored by the account store
type Account struct {
	Email        string      `json:"email"`
	Password     string      `json:"password"`
	FirstName    string      `json:"first_name"`
	LastName     string      `json:"last_name"`
	BirthDate    time.Time   `json:"birth_date"`
	ClientID     string      `json:"client_id,omitempty"`
	RefreshToken string      `json:"refresh_token,omitempty"`
	AccessToken  string      `json:"access_token,omitempty"`
	Method       GrantMethod `json:"method,omitempty"`
	Authorized   bool        `json:"authorized"`
	Used         bool        `json:"used"`
	TaskID       TaskID      `json:"task_id,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// AccountFromIdentity builds an unauthorized account record for an identity
func AccountFromIdentity(id Identity, taskID TaskID, now time.Time) *Account {
	return &Account{
		Email:     id.Email,
		Password:  id.Password,
		FirstName: id.FirstName,
		LastName:  id.LastName,
		BirthDate: id.BirthDate,
		TaskID:    taskID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ApplyGrant records an acquired token on the account
func (a *Account) ApplyGrant(g TokenGrant, now time.Time) {
	a.ClientID = g.ClientID
	a.RefreshToken = g.RefreshToken
	a.AccessToken = g.AccessToken
	a.Method = g.Method
	a.Authorized = true
	a.UpdatedAt = now
}

// TaskID uniquely identifies a background task
type TaskID string

// TaskKind identifies what a task does
type TaskKind string

const (
	TaskKindProvision TaskKind = "provision"
	TaskKindTokens    TaskKind = "tokens"
)

// TaskState represents the lifecycle state of a task
type TaskState string

const (
	TaskStateRunning   TaskState = "running"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
	TaskStateCancelled TaskState = "cancelled"
)

// Task records one batch invocation
type Task struct {
	ID           TaskID     `json:"id"`
	Kind         TaskKind   `json:"kind"`
	State        TaskState  `json:"state"`
	Quantity     int        `json:"quantity"`
	SuccessCount int        `json:"success_count"`
	FailCount    int        `json:"fail_count"`
	TokenCount   int        `json:"token_count"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

// IsTerminal returns true once the task has stopped running
func (t *Task) IsTerminal() bool {
	return t.State != TaskStateRunning
}

// Identity returns the identity the account was created from
func (a *Account) Identity() Identity {
	domain := ""
	if i := strings.LastIndexByte(a.Email, '@'); i >= 0 {
		domain = a.Email[i+1:]
	}
	return Identity{
		Email:     a.Email,
		Password:  a.Password,
		FirstName: a.FirstName,
		LastName:  a.LastName,
		BirthDate: a.BirthDate,
		Domain:    domain,
	}
}

// Grant returns the account's stored token, if it has one
func (a *Account) Grant() (TokenGrant, bool) {
	if !a.Authorized || a.RefreshToken == "" {
		return TokenGrant{}, false
	}
	return TokenGrant{
		Email:        a.Email,
		ClientID:     a.ClientID,
		RefreshToken: a.RefreshToken,
		AccessToken:  a.AccessToken,
		Method:       a.Method,
	}, true
}
