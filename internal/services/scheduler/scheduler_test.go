package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/provisioner/internal/dependencies/mocks"
	"github.com/mcoot/provisioner/internal/metrics"
	"github.com/mcoot/provisioner/internal/model"
	"github.com/mcoot/provisioner/internal/services/progress"
	"github.com/mcoot/provisioner/internal/services/registration"
	"github.com/mcoot/provisioner/internal/services/scheduler"
	"github.com/mcoot/provisioner/internal/services/session"
	"github.com/mcoot/provisioner/internal/testutil"
)

func identities(n int) []model.Identity {
	out := make([]model.Identity, n)
	for i := range out {
		out[i] = model.Identity{Email: fmt.Sprintf("user%d@example.com", i), Domain: "example.com"}
	}
	return out
}

type SchedulerSuite struct {
	suite.Suite
	provisioner *mocks.MockProvisioner
	registrar   *mocks.MockRegistrar
	clock       *mocks.MockClock
	random      *mocks.MockRandom
	sessions    *session.Manager
	recorder    *progress.Recorder
	ctx         context.Context
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerSuite))
}

func (s *SchedulerSuite) SetupTest() {
	s.provisioner = mocks.NewMockProvisioner()
	s.registrar = mocks.NewMockRegistrar()
	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.random = mocks.NewMockRandom()
	s.sessions = session.NewManager(s.provisioner, s.clock, metrics.NewUnregistered(), session.DefaultConfig(), testutil.NopLogger())
	s.recorder = &progress.Recorder{}
	s.ctx = context.Background()
}

func (s *SchedulerSuite) newScheduler(registrar registration.Registrar) *scheduler.Scheduler {
	return scheduler.New(s.sessions, registrar, s.clock, s.random, metrics.NewUnregistered(),
		scheduler.Config{}, testutil.NopLogger())
}

func (s *SchedulerSuite) run(ids []model.Identity, opts scheduler.Options) []model.RegistrationOutcome {
	out, err := s.newScheduler(s.registrar).Run(s.ctx, ids, opts, s.recorder)
	s.Require().NoError(err)
	s.Require().Len(out, len(ids))
	return out
}

func (s *SchedulerSuite) TestFiveIdentitiesTwoWorkersShareThree() {
	proxies := []model.ProxyCredential{{Host: "p1", Port: 8080}, {Host: "p2", Port: 8080}}

	out := s.run(identities(5), scheduler.Options{Concurrency: 2, SessionShare: 3, Proxies: proxies})

	for _, o := range out {
		s.True(o.Success, o.Error())
	}
	s.Equal(2, s.provisioner.ProvisionCalls())

	opened := s.recorder.Steps(model.StepSessionOpened)
	s.Require().Len(opened, 2)
	sizes := map[int]int{}
	proxyOf := map[int]string{}
	for _, ev := range opened {
		d := ev.Data.(model.SessionEventData)
		sizes[d.SubBatch] = d.Size
		proxyOf[d.SubBatch] = d.Proxy
	}
	s.Equal(map[int]int{1: 3, 2: 2}, sizes)
	s.Equal(map[int]string{1: "p1:8080", 2: "p2:8080"}, proxyOf)
}

func (s *SchedulerSuite) TestSessionCountIsCeilOfNOverW() {
	cases := []struct{ n, w, want int }{
		{1, 3, 1}, {3, 3, 1}, {4, 3, 2}, {7, 2, 4}, {20, 3, 7}, {6, 1, 6},
	}
	for _, tc := range cases {
		s.SetupTest()
		s.run(identities(tc.n), scheduler.Options{Concurrency: 3, SessionShare: tc.w})
		s.Equal(tc.want, s.provisioner.ProvisionCalls(), "n=%d w=%d", tc.n, tc.w)
		s.Equal(0, s.sessions.Held())
	}
}

func (s *SchedulerSuite) TestOpenSessionsNeverExceedConcurrency() {
	s.registrar.Delay = 5 * time.Millisecond

	s.run(identities(12), scheduler.Options{Concurrency: 3, SessionShare: 2})

	s.Equal(6, s.provisioner.ProvisionCalls())
	s.LessOrEqual(s.provisioner.PeakOpen(), 3)
	s.LessOrEqual(s.registrar.PeakConcurrent(), 3)
	s.Equal(0, s.provisioner.OpenCount())
}

func (s *SchedulerSuite) TestEveryAcquireReleasedWhenRegistrationPanics() {
	ids := identities(6)
	s.registrar.PanicFor[ids[1].Email] = true

	out := s.run(ids, scheduler.Options{Concurrency: 2, SessionShare: 3})

	s.ErrorIs(out[1].Err, model.ErrRegistrationPanic)
	s.Equal(model.KindRegistration, model.KindOf(out[1].Err))
	s.Equal(0, s.sessions.Held())
	s.Equal(0, s.provisioner.OpenCount())
	s.Equal(s.provisioner.ProvisionCalls(), s.provisioner.TotalDeletes())
}

func (s *SchedulerSuite) TestFailureAbortsOnlyItsSubBatch() {
	ids := identities(6)
	s.registrar.FailFor[ids[0].Email] = errors.New("captcha not solved")

	out := s.run(ids, scheduler.Options{Concurrency: 1, SessionShare: 3})

	s.ErrorIs(out[0].Err, model.ErrRegistration)
	for _, i := range []int{1, 2} {
		s.ErrorIs(out[i].Err, model.ErrSubBatchAborted, "identity %d", i)
		s.Equal(model.KindAborted, model.KindOf(out[i].Err))
		s.True(model.IsRetryable(out[i].Err))
	}
	for _, i := range []int{3, 4, 5} {
		s.True(out[i].Success, "identity %d", i)
	}

	s.Equal(1, s.registrar.CallsOnSession("sess-1"))
	s.Equal(3, s.registrar.CallsOnSession("sess-2"))
	s.Equal(1, s.provisioner.DeleteCalls("sess-1"))
}

func (s *SchedulerSuite) TestSessionReleasedBeforeSiblingsMarked() {
	ids := identities(3)
	s.registrar.FailFor[ids[0].Email] = errors.New("boom")

	s.run(ids, scheduler.Options{Concurrency: 1, SessionShare: 3})

	var steps []model.Step
	for _, ev := range s.recorder.Events() {
		steps = append(steps, ev.Step)
	}
	s.Equal([]model.Step{
		model.StepSessionOpened,
		model.StepIdentityStarted,
		model.StepIdentityFailed,
		model.StepSessionClosed,
		model.StepIdentitySkipped,
		model.StepIdentitySkipped,
	}, steps)
}

func (s *SchedulerSuite) TestProvisioningFailureMarksWholeSubBatch() {
	s.provisioner.FailProvisionAt = 1

	out := s.run(identities(5), scheduler.Options{Concurrency: 1, SessionShare: 3})

	for i := 0; i < 3; i++ {
		s.ErrorIs(out[i].Err, model.ErrProvisioning, "identity %d", i)
		s.Equal(model.KindProvisioning, model.KindOf(out[i].Err))
	}
	s.True(out[3].Success)
	s.True(out[4].Success)
	s.Len(s.recorder.Steps(model.StepSessionFailed), 1)
	s.Len(s.registrar.Calls(), 2)
}

func (s *SchedulerSuite) TestOutcomesFollowInputOrder() {
	ids := identities(10)
	s.registrar.FailFor[ids[4].Email] = errors.New("rejected")

	out := s.run(ids, scheduler.Options{Concurrency: 4, SessionShare: 2})

	for i, o := range out {
		s.Equal(ids[i].Email, o.Identity.Email)
		if i == 4 || i == 5 {
			s.False(o.Success)
		} else {
			s.True(o.Success, o.Error())
		}
	}
}

func (s *SchedulerSuite) TestIdentitiesWithinSubBatchRunSequentially() {
	s.registrar.Delay = 2 * time.Millisecond

	s.run(identities(3), scheduler.Options{Concurrency: 5, SessionShare: 3})

	s.Equal(1, s.registrar.PeakConcurrent())
	s.Equal([]string{"user0@example.com", "user1@example.com", "user2@example.com"}, s.registrar.Emails())
}

func (s *SchedulerSuite) TestJitterBetweenIdentities() {
	s.random.QueueIntn(500, 1500)
	sch := scheduler.New(s.sessions, s.registrar, s.clock, s.random, metrics.NewUnregistered(),
		scheduler.DefaultConfig(), testutil.NopLogger())

	_, err := sch.Run(s.ctx, identities(3), scheduler.Options{Concurrency: 1, SessionShare: 3}, s.recorder)

	s.Require().NoError(err)
	s.Equal([]time.Duration{3500 * time.Millisecond, 4500 * time.Millisecond}, s.clock.Sleeps())
	s.Len(s.recorder.Steps(model.StepDelay), 2)
}

func (s *SchedulerSuite) TestCancelledBeforeStart() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	out, err := s.newScheduler(s.registrar).Run(ctx, identities(4), scheduler.Options{Concurrency: 2, SessionShare: 2}, nil)

	s.Require().NoError(err)
	s.Equal(0, s.provisioner.ProvisionCalls())
	for _, o := range out {
		s.ErrorIs(o.Err, model.ErrCancelled)
		s.Equal(model.KindCancelled, model.KindOf(o.Err))
	}
}

func (s *SchedulerSuite) TestStopLetsCurrentRegistrationFinish() {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	reg := registration.RegistrarFunc(func(rctx context.Context, h model.SessionHandle, id model.Identity) error {
		cancel()
		return rctx.Err()
	})
	out, err := s.newScheduler(reg).Run(ctx, identities(4), scheduler.Options{Concurrency: 1, SessionShare: 2}, nil)

	s.Require().NoError(err)
	s.True(out[0].Success, "in-flight registration is not interrupted")
	for _, o := range out[1:] {
		s.ErrorIs(o.Err, model.ErrCancelled)
	}
	s.Equal(1, s.provisioner.ProvisionCalls())
	s.Equal(0, s.sessions.Held())
}

func (s *SchedulerSuite) TestInvalidOptionsStartNoWork() {
	sch := s.newScheduler(s.registrar)

	_, err := sch.Run(s.ctx, identities(2), scheduler.Options{Concurrency: 0, SessionShare: 1}, nil)
	s.Equal(model.KindValidation, model.KindOf(err))

	_, err = sch.Run(s.ctx, identities(2), scheduler.Options{Concurrency: 1, SessionShare: 0}, nil)
	s.ErrorIs(err, model.ErrInvalidRequest)

	s.Equal(0, s.provisioner.ProvisionCalls())
}

func TestPartition(t *testing.T) {
	ids := identities(5)

	batches := scheduler.Partition(ids, 3)

	require.Len(t, batches, 2)
	assert.Equal(t, 1, batches[0].Number)
	assert.Equal(t, []int{0, 1, 2}, batches[0].Indexes)
	assert.Equal(t, []int{3, 4}, batches[1].Indexes)
	assert.Equal(t, ids[3:], batches[1].Identities)
	assert.Empty(t, scheduler.Partition(nil, 3))
}

func TestPartitionCoversEveryIdentityOnce(t *testing.T) {
	for n := 0; n <= 20; n++ {
		for w := 1; w <= 6; w++ {
			seen := make([]int, n)
			for _, b := range scheduler.Partition(identities(n), w) {
				assert.LessOrEqual(t, b.Len(), w)
				assert.NotZero(t, b.Len())
				for _, idx := range b.Indexes {
					seen[idx]++
				}
			}
			for idx, c := range seen {
				assert.Equal(t, 1, c, "n=%d w=%d idx=%d", n, w, idx)
			}
		}
	}
}

func TestWorkers(t *testing.T) {
	assert.Equal(t, 2, scheduler.Workers(5, scheduler.Options{Concurrency: 2, SessionShare: 3}))
	assert.Equal(t, 1, scheduler.Workers(3, scheduler.Options{Concurrency: 4, SessionShare: 3}))
	assert.Equal(t, 4, scheduler.Workers(20, scheduler.Options{Concurrency: 4, SessionShare: 1}))
	assert.Equal(t, 0, scheduler.Workers(0, scheduler.Options{Concurrency: 4, SessionShare: 1}))
}
