package memory

import (
	"context"
	"sync"

	"github.com/mcoot/provisioner/internal/model"
	"github.com/mcoot/provisioner/internal/storage"
)

// Storage is an in-memory implementation of the storage interface.
// Records are copied on the way in and out so callers never share them.
type Storage struct {
	mu sync.RWMutex

	accounts map[string]model.Account
	tasks    map[model.TaskID]model.Task
}

// New creates a new in-memory storage instance
func New() *Storage {
	return &Storage{
		accounts: make(map[string]model.Account),
		tasks:    make(map[model.TaskID]model.Task),
	}
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// Account operations

func (s *Storage) SaveAccount(ctx context.Context, account *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[storage.NormalizeEmail(account.Email)] = *account
	return nil
}

func (s *Storage) GetAccount(ctx context.Context, email string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[storage.NormalizeEmail(email)]
	if !ok {
		return nil, model.ErrAccountNotFound
	}
	return &a, nil
}

func (s *Storage) ListAccounts(ctx context.Context, filter storage.AccountFilter) ([]*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		if filter.Match(&a) {
			out = append(out, &a)
		}
	}
	storage.SortAccounts(out)
	return out, nil
}

func (s *Storage) MarkAccountUsed(ctx context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storage.NormalizeEmail(email)
	a, ok := s.accounts[key]
	if !ok {
		return model.ErrAccountNotFound
	}
	a.Used = true
	s.accounts[key] = a
	return nil
}

func (s *Storage) DeleteAccount(ctx context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, storage.NormalizeEmail(email))
	return nil
}

// Task operations

func (s *Storage) SaveTask(ctx context.Context, task *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = *task
	return nil
}

func (s *Storage) GetTask(ctx context.Context, id model.TaskID) (*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, model.ErrTaskNotFound
	}
	return &t, nil
}

func (s *Storage) ListTasks(ctx context.Context) ([]*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, &t)
	}
	storage.SortTasks(out)
	return out, nil
}
