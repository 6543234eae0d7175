package response

import (
	"time"

	"github.com/mcoot/provisioner/internal/model"
)

// Task represents a task in API responses
type Task struct {
	ID           string     `json:"id"`
	Kind         string     `json:"kind"`
	State        string     `json:"state"`
	Quantity     int        `json:"quantity"`
	SuccessCount int        `json:"success_count"`
	FailCount    int        `json:"fail_count"`
	TokenCount   int        `json:"token_count"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

// TaskFromModel converts a model.Task to a response Task
func TaskFromModel(t *model.Task) Task {
	return Task{
		ID:           string(t.ID),
		Kind:         string(t.Kind),
		State:        string(t.State),
		Quantity:     t.Quantity,
		SuccessCount: t.SuccessCount,
		FailCount:    t.FailCount,
		TokenCount:   t.TokenCount,
		Error:        t.Error,
		StartedAt:    t.StartedAt,
		EndedAt:      t.EndedAt,
	}
}

// TaskList is the response for listing tasks
type TaskList struct {
	Tasks []Task `json:"tasks"`
}

// TaskListFromModel converts a slice of tasks
func TaskListFromModel(tasks []*model.Task) TaskList {
	out := TaskList{Tasks: make([]Task, 0, len(tasks))}
	for _, t := range tasks {
		out.Tasks = append(out.Tasks, TaskFromModel(t))
	}
	return out
}

// Account represents a stored account in API responses. Access tokens are never returned.
type Account struct {
	Email        string    `json:"email"`
	Password     string    `json:"password"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	BirthDate    string    `json:"birth_date"`
	ClientID     string    `json:"client_id,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Method       string    `json:"method,omitempty"`
	Authorized   bool      `json:"authorized"`
	Used         bool      `json:"used"`
	TaskID       string    `json:"task_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AccountFromModel converts a model.Account to a response Account
func AccountFromModel(a *model.Account) Account {
	return Account{
		Email:        a.Email,
		Password:     a.Password,
		FirstName:    a.FirstName,
		LastName:     a.LastName,
		BirthDate:    a.BirthDate.Format(time.DateOnly),
		ClientID:     a.ClientID,
		RefreshToken: a.RefreshToken,
		Method:       string(a.Method),
		Authorized:   a.Authorized,
		Used:         a.Used,
		TaskID:       string(a.TaskID),
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

// AccountList is the response for listing accounts
type AccountList struct {
	Accounts []Account `json:"accounts"`
	Total    int       `json:"total"`
}

// AccountListFromModel converts a slice of accounts
func AccountListFromModel(accounts []*model.Account) AccountList {
	out := AccountList{Accounts: make([]Account, 0, len(accounts)), Total: len(accounts)}
	for _, a := range accounts {
		out.Accounts = append(out.Accounts, AccountFromModel(a))
	}
	return out
}

// EventList is the response for a task's event log
type EventList struct {
	TaskID string        `json:"task_id"`
	Events []model.Event `json:"events"`
}

// Health is the response for the health endpoint
type Health struct {
	Status       string `json:"status"`
	Storage      string `json:"storage"`
	RunningTasks int    `json:"running_tasks"`
}
