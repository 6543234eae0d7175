package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/provisioner/internal/model"
	"github.com/mcoot/provisioner/internal/storage"
)

type StorageSuite struct {
	suite.Suite
	storage *Storage
	ctx     context.Context
	now     time.Time
}

func TestStorageSuite(t *testing.T) {
	suite.Run(t, new(StorageSuite))
}

func (s *StorageSuite) SetupTest() {
	s.storage = New()
	s.ctx = context.Background()
	s.now = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}

func (s *StorageSuite) account(email string, task model.TaskID, offset time.Duration) *model.Account {
	return &model.Account{Email: email, Password: "pw", TaskID: task, CreatedAt: s.now.Add(offset)}
}

// Account tests

func (s *StorageSuite) TestSaveAndGetAccount() {
	err := s.storage.SaveAccount(s.ctx, s.account("Alice@Example.com", "t1", 0))
	s.Require().NoError(err)

	got, err := s.storage.GetAccount(s.ctx, "alice@example.com")
	s.Require().NoError(err)
	s.Equal("Alice@Example.com", got.Email)
	s.Equal(model.TaskID("t1"), got.TaskID)
}

func (s *StorageSuite) TestGetAccountNotFound() {
	_, err := s.storage.GetAccount(s.ctx, "nobody@example.com")
	s.ErrorIs(err, model.ErrAccountNotFound)
}

func (s *StorageSuite) TestReturnedAccountIsACopy() {
	_ = s.storage.SaveAccount(s.ctx, s.account("a@example.com", "", 0))

	got, _ := s.storage.GetAccount(s.ctx, "a@example.com")
	got.Authorized = true

	again, _ := s.storage.GetAccount(s.ctx, "a@example.com")
	s.False(again.Authorized)
}

func (s *StorageSuite) TestListAccountsFiltersAndSorts() {
	yes := true
	_ = s.storage.SaveAccount(s.ctx, s.account("c@example.com", "t1", 2*time.Second))
	_ = s.storage.SaveAccount(s.ctx, s.account("a@example.com", "t1", time.Second))
	authorized := s.account("b@example.com", "t2", 0)
	authorized.Authorized = true
	_ = s.storage.SaveAccount(s.ctx, authorized)

	all, err := s.storage.ListAccounts(s.ctx, storage.AccountFilter{})
	s.Require().NoError(err)
	s.Require().Len(all, 3)
	s.Equal([]string{"b@example.com", "a@example.com", "c@example.com"},
		[]string{all[0].Email, all[1].Email, all[2].Email})

	byTask, _ := s.storage.ListAccounts(s.ctx, storage.AccountFilter{TaskID: "t1"})
	s.Len(byTask, 2)

	authed, _ := s.storage.ListAccounts(s.ctx, storage.AccountFilter{Authorized: &yes})
	s.Require().Len(authed, 1)
	s.Equal("b@example.com", authed[0].Email)
}

func (s *StorageSuite) TestMarkAccountUsed() {
	_ = s.storage.SaveAccount(s.ctx, s.account("a@example.com", "", 0))

	s.Require().NoError(s.storage.MarkAccountUsed(s.ctx, "A@example.com"))

	got, _ := s.storage.GetAccount(s.ctx, "a@example.com")
	s.True(got.Used)
	s.ErrorIs(s.storage.MarkAccountUsed(s.ctx, "missing@example.com"), model.ErrAccountNotFound)
}

func (s *StorageSuite) TestDeleteAccount() {
	_ = s.storage.SaveAccount(s.ctx, s.account("a@example.com", "", 0))

	s.Require().NoError(s.storage.DeleteAccount(s.ctx, "a@example.com"))

	_, err := s.storage.GetAccount(s.ctx, "a@example.com")
	s.ErrorIs(err, model.ErrAccountNotFound)
	s.NoError(s.storage.DeleteAccount(s.ctx, "a@example.com"))
}

// Task tests

func (s *StorageSuite) TestSaveAndListTasks() {
	older := &model.Task{ID: "t1", Kind: model.TaskKindProvision, State: model.TaskStateCompleted, StartedAt: s.now}
	newer := &model.Task{ID: "t2", Kind: model.TaskKindTokens, State: model.TaskStateRunning, StartedAt: s.now.Add(time.Minute)}
	s.Require().NoError(s.storage.SaveTask(s.ctx, older))
	s.Require().NoError(s.storage.SaveTask(s.ctx, newer))

	got, err := s.storage.GetTask(s.ctx, "t1")
	s.Require().NoError(err)
	s.Equal(model.TaskStateCompleted, got.State)

	tasks, err := s.storage.ListTasks(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(tasks, 2)
	s.Equal(model.TaskID("t2"), tasks[0].ID)
}

func (s *StorageSuite) TestGetTaskNotFound() {
	_, err := s.storage.GetTask(s.ctx, "missing")
	s.ErrorIs(err, model.ErrTaskNotFound)
}
