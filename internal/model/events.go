package model

import "time"

// EventType is the severity/category of a progress event
type EventType string

const (
	EventStart    EventType = "start"
	EventInfo     EventType = "info"
	EventSuccess  EventType = "success"
	EventError    EventType = "error"
	EventWarning  EventType = "warning"
	EventProgress EventType = "progress"
)

// Step names the phase transition an event reports
type Step string

const (
	StepBatchStarted      Step = "batch_started"
	StepBatchCompleted    Step = "batch_completed"
	StepSessionOpened     Step = "session_opened"
	StepSessionClosed     Step = "session_closed"
	StepSessionFailed     Step = "session_failed"
	StepIdentityStarted   Step = "identity_started"
	StepIdentitySucceeded Step = "identity_succeeded"
	StepIdentityFailed    Step = "identity_failed"
	StepIdentitySkipped   Step = "identity_skipped"
	StepDelay             Step = "delay"
	StepAuthStarted       Step = "auth_started"
	StepPasswordGrant     Step = "password_grant"
	StepDeviceCodeIssued  Step = "device_code_issued"
	StepDeviceCodePolling Step = "device_code_polling"
	StepAuthSucceeded     Step = "auth_succeeded"
	StepAuthFailed        Step = "auth_failed"
	StepAuthPhaseSkipped  Step = "auth_phase_skipped"
	StepAccountPersisted  Step = "account_persisted"
	StepTaskStopRequested Step = "task_stop_requested"
)

// Event is one entry in the append-only progress stream
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	TaskID    TaskID    `json:"task_id,omitempty"`
	Email     string    `json:"email,omitempty"`
	Step      Step      `json:"step,omitempty"`
	Message   string    `json:"message"`
	Data      any       `json:"data,omitempty"`
}

// SessionEventData accompanies session_opened/session_closed events
type SessionEventData struct {
	SessionID string `json:"session_id"`
	SubBatch  int    `json:"sub_batch"`
	Size      int    `json:"size"`
	Proxy     string `json:"proxy,omitempty"`
}

// PhaseSummary accompanies batch_completed events
type PhaseSummary struct {
	Phase   string `json:"phase"`
	Total   int    `json:"total"`
	Success int    `json:"success"`
	Fail    int    `json:"fail"`
}

// DeviceCodeEventData accompanies device_code_issued events
type DeviceCodeEventData struct {
	UserCode        string    `json:"user_code"`
	VerificationURI string    `json:"verification_uri"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// FailureData accompanies identity_failed, session_failed and auth_failed events
type FailureData struct {
	Kind      ErrorKind `json:"kind"`
	Retryable bool      `json:"retryable"`
}

// NewFailureData classifies err for an event payload
func NewFailureData(err error) FailureData {
	return FailureData{Kind: KindOf(err), Retryable: IsRetryable(err)}
}
