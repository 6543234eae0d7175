package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/provisioner/internal/model"
	"github.com/mcoot/provisioner/internal/storage"
)

type StorageSuite struct {
	suite.Suite
	mini    *miniredis.Miniredis
	storage *Storage
	ctx     context.Context
	now     time.Time
}

func TestStorageSuite(t *testing.T) {
	suite.Run(t, new(StorageSuite))
}

func (s *StorageSuite) SetupTest() {
	s.mini = miniredis.RunT(s.T())

	client := redis.NewClient(&redis.Options{
		Addr: s.mini.Addr(),
	})

	cfg := DefaultConfig()
	cfg.TaskTTL = time.Hour

	s.storage = NewWithClient(client, cfg)
	s.ctx = context.Background()
	s.now = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}

func (s *StorageSuite) TearDownTest() {
	if s.storage != nil {
		_ = s.storage.Close()
	}
	if s.mini != nil {
		s.mini.Close()
	}
}

func (s *StorageSuite) account(email string, task model.TaskID, offset time.Duration) *model.Account {
	return &model.Account{
		Email:        email,
		Password:     "Secret-Pass1",
		FirstName:    "James",
		LastName:     "Smith",
		BirthDate:    time.Date(1990, 5, 17, 0, 0, 0, 0, time.UTC),
		TaskID:       task,
		RefreshToken: "rt",
		CreatedAt:    s.now.Add(offset),
	}
}

// Account tests

func (s *StorageSuite) TestSaveAndGetAccount() {
	a := s.account("Alice@Example.com", "t1", 0)

	err := s.storage.SaveAccount(s.ctx, a)
	s.Require().NoError(err)

	got, err := s.storage.GetAccount(s.ctx, "alice@example.com")
	s.Require().NoError(err)
	s.Equal(a.Email, got.Email)
	s.Equal(a.RefreshToken, got.RefreshToken)
	s.True(a.BirthDate.Equal(got.BirthDate))

	s.True(s.mini.Exists("prov:account:alice@example.com"))
	members, err := s.mini.SMembers("prov:idx:task_accounts:t1")
	s.Require().NoError(err)
	s.Equal([]string{"alice@example.com"}, members)
}

func (s *StorageSuite) TestGetAccountNotFound() {
	_, err := s.storage.GetAccount(s.ctx, "nobody@example.com")
	s.ErrorIs(err, model.ErrAccountNotFound)
}

func (s *StorageSuite) TestAccountsNeverExpire() {
	_ = s.storage.SaveAccount(s.ctx, s.account("a@example.com", "", 0))
	s.Equal(time.Duration(0), s.mini.TTL("prov:account:a@example.com"))
}

func (s *StorageSuite) TestListAccountsFiltersAndSorts() {
	no := false
	_ = s.storage.SaveAccount(s.ctx, s.account("c@example.com", "t1", 2*time.Second))
	_ = s.storage.SaveAccount(s.ctx, s.account("a@example.com", "t1", time.Second))
	used := s.account("b@example.com", "t2", 0)
	used.Used = true
	_ = s.storage.SaveAccount(s.ctx, used)

	all, err := s.storage.ListAccounts(s.ctx, storage.AccountFilter{})
	s.Require().NoError(err)
	s.Require().Len(all, 3)
	s.Equal("b@example.com", all[0].Email)
	s.Equal("c@example.com", all[2].Email)

	byTask, err := s.storage.ListAccounts(s.ctx, storage.AccountFilter{TaskID: "t1"})
	s.Require().NoError(err)
	s.Len(byTask, 2)

	unused, err := s.storage.ListAccounts(s.ctx, storage.AccountFilter{Used: &no})
	s.Require().NoError(err)
	s.Len(unused, 2)

	none, err := s.storage.ListAccounts(s.ctx, storage.AccountFilter{TaskID: "unknown"})
	s.Require().NoError(err)
	s.Empty(none)
}

func (s *StorageSuite) TestMarkAccountUsed() {
	_ = s.storage.SaveAccount(s.ctx, s.account("a@example.com", "", 0))

	s.Require().NoError(s.storage.MarkAccountUsed(s.ctx, "a@example.com"))

	got, _ := s.storage.GetAccount(s.ctx, "a@example.com")
	s.True(got.Used)
	s.Equal("rt", got.RefreshToken)
	s.ErrorIs(s.storage.MarkAccountUsed(s.ctx, "missing@example.com"), model.ErrAccountNotFound)
}

func (s *StorageSuite) TestDeleteAccountRemovesIndexes() {
	_ = s.storage.SaveAccount(s.ctx, s.account("a@example.com", "t1", 0))

	s.Require().NoError(s.storage.DeleteAccount(s.ctx, "a@example.com"))

	s.False(s.mini.Exists("prov:account:a@example.com"))
	all, _ := s.storage.ListAccounts(s.ctx, storage.AccountFilter{})
	s.Empty(all)
	byTask, _ := s.storage.ListAccounts(s.ctx, storage.AccountFilter{TaskID: "t1"})
	s.Empty(byTask)
	s.NoError(s.storage.DeleteAccount(s.ctx, "a@example.com"))
}

// Task tests

func (s *StorageSuite) TestRunningTaskHasNoTTL() {
	task := &model.Task{ID: "t1", State: model.TaskStateRunning, StartedAt: s.now}
	s.Require().NoError(s.storage.SaveTask(s.ctx, task))
	s.Equal(time.Duration(0), s.mini.TTL("prov:task:t1"))

	ended := s.now.Add(time.Minute)
	task.State = model.TaskStateCompleted
	task.EndedAt = &ended
	s.Require().NoError(s.storage.SaveTask(s.ctx, task))
	s.Equal(time.Hour, s.mini.TTL("prov:task:t1"))

	got, err := s.storage.GetTask(s.ctx, "t1")
	s.Require().NoError(err)
	s.Equal(model.TaskStateCompleted, got.State)
	s.Require().NotNil(got.EndedAt)
	s.True(ended.Equal(*got.EndedAt))
}

func (s *StorageSuite) TestListTasksPrunesExpired() {
	_ = s.storage.SaveTask(s.ctx, &model.Task{ID: "old", State: model.TaskStateFailed, StartedAt: s.now})
	_ = s.storage.SaveTask(s.ctx, &model.Task{ID: "new", State: model.TaskStateRunning, StartedAt: s.now.Add(time.Minute)})

	s.mini.FastForward(2 * time.Hour)

	tasks, err := s.storage.ListTasks(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(tasks, 1)
	s.Equal(model.TaskID("new"), tasks[0].ID)

	members, _ := s.mini.SMembers("prov:idx:tasks")
	s.Equal([]string{"new"}, members)
}

func (s *StorageSuite) TestGetTaskNotFound() {
	_, err := s.storage.GetTask(s.ctx, "missing")
	s.ErrorIs(err, model.ErrTaskNotFound)
}

func (s *StorageSuite) TestNewConnectsFromURL() {
	cfg := DefaultConfig()
	cfg.URL = "redis://" + s.mini.Addr() + "/0"

	store, err := New(cfg)
	s.Require().NoError(err)
	defer store.Close()

	s.Require().NoError(store.SaveAccount(s.ctx, &model.Account{Email: "a@example.com", CreatedAt: s.now}))
	s.True(s.mini.Exists(accountKey("a@example.com")))
}

func (s *StorageSuite) TestNewRejectsBadURL() {
	cfg := DefaultConfig()
	cfg.URL = "not-a-url"

	_, err := New(cfg)
	s.Error(err)
}
