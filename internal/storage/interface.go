package storage

import (
	"context"
	"sort"
	"strings"

	"github.com/mcoot/provisioner/internal/model"
)

// Storage defines the interface for data persistence
type Storage interface {
	// Account operations
	SaveAccount(ctx context.Context, account *model.Account) error
	GetAccount(ctx context.Context, email string) (*model.Account, error)
	ListAccounts(ctx context.Context, filter AccountFilter) ([]*model.Account, error)
	MarkAccountUsed(ctx context.Context, email string) error
	DeleteAccount(ctx context.Context, email string) error

	// Task operations
	SaveTask(ctx context.Context, task *model.Task) error
	GetTask(ctx context.Context, id model.TaskID) (*model.Task, error)
	ListTasks(ctx context.Context) ([]*model.Task, error)
}

// AccountFilter narrows ListAccounts. The zero value matches every account.
type AccountFilter struct {
	TaskID     model.TaskID
	Authorized *bool
	Used       *bool
}

// Match reports whether a passes the filter
func (f AccountFilter) Match(a *model.Account) bool {
	if f.TaskID != "" && a.TaskID != f.TaskID {
		return false
	}
	if f.Authorized != nil && a.Authorized != *f.Authorized {
		return false
	}
	if f.Used != nil && a.Used != *f.Used {
		return false
	}
	return true
}

// NormalizeEmail is the storage key form of an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SortAccounts orders accounts oldest first, then by email
func SortAccounts(accounts []*model.Account) {
	sort.Slice(accounts, func(i, j int) bool {
		if !accounts[i].CreatedAt.Equal(accounts[j].CreatedAt) {
			return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
		}
		return accounts[i].Email < accounts[j].Email
	})
}

// SortTasks orders tasks newest first
func SortTasks(tasks []*model.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].StartedAt.Equal(tasks[j].StartedAt) {
			return tasks[i].StartedAt.After(tasks[j].StartedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}
