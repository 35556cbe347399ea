package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/psantana5/gentrack/pkg/gateway"
	"github.com/psantana5/gentrack/pkg/gateway/gatewaytest"
	"github.com/psantana5/gentrack/pkg/models"
	"github.com/psantana5/gentrack/pkg/poller"
	"github.com/psantana5/gentrack/pkg/tenancy"
)

const (
	accountX = "acct-x"
	accountY = "acct-y"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTracker(t *testing.T) (*Tracker, *gatewaytest.Server, *clocktesting.FakeClock) {
	t.Helper()
	srv := gatewaytest.NewServer(t)
	cfg := gateway.DefaultConfig(srv.URL)
	cfg.RateLimit = 0
	fc := clocktesting.NewFakeClock(t0)
	client := gateway.NewClient(cfg, tenancy.NewSession("k", accountX), gateway.WithClock(fc))

	tr := New(client, DefaultConfig(), WithClock(fc))
	t.Cleanup(tr.Close)
	return tr, srv, fc
}

func waitForRequests(t *testing.T, srv *gatewaytest.Server, route string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return srv.Requests(route) == n
	}, time.Second, 5*time.Millisecond, "expected %d %s requests", n, route)
}

func waitForPolls(t *testing.T, tr *Tracker, jobID string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, ok := tr.State(jobID)
		return ok && s.Polls == n
	}, time.Second, 5*time.Millisecond)
}

func TestWatchersShareOnePoller(t *testing.T) {
	tr, srv, fc := newTracker(t)
	srv.SetJob(accountX, models.Job{ID: "abc", Status: models.JobStatusProcessing, UpdatedAt: t0})

	first, stopFirst := tr.Watch("abc")
	second, stopSecond := tr.Watch("abc")
	defer stopFirst()
	defer stopSecond()
	assert.Equal(t, 2, tr.Watchers("abc"))

	waitForPolls(t, tr, "abc", 1)
	fc.Step(poller.DefaultInterval)
	waitForPolls(t, tr, "abc", 2)
	time.Sleep(20 * time.Millisecond)

	// One request per tick for both watchers
	assert.Equal(t, 2, srv.Requests(gatewaytest.RouteGetJob))

	for _, ch := range []<-chan poller.State{first, second} {
		select {
		case s := <-ch:
			assert.Equal(t, models.JobStatusProcessing, s.Job.Status)
		case <-time.After(time.Second):
			t.Fatal("watcher received no state")
		}
	}
}

func TestLastUnwatchStopsPoller(t *testing.T) {
	tr, srv, fc := newTracker(t)
	srv.SetJob(accountX, models.Job{ID: "abc", Status: models.JobStatusQueued, UpdatedAt: t0})

	_, stopFirst := tr.Watch("abc")
	_, stopSecond := tr.Watch("abc")
	waitForPolls(t, tr, "abc", 1)

	stopFirst()
	stopFirst()
	assert.Equal(t, 1, tr.Watchers("abc"), "unsubscribe must be idempotent")

	stopSecond()
	assert.Equal(t, 0, tr.Watchers("abc"))
	_, tracked := tr.State("abc")
	assert.False(t, tracked)

	for i := 0; i < 3; i++ {
		fc.Step(poller.DefaultInterval)
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, srv.Requests(gatewaytest.RouteGetJob))
}

func TestSubmitAndFollow(t *testing.T) {
	tr, srv, fc := newTracker(t)

	id, err := tr.Submit(context.Background(), models.DomainCourse, models.SubmitRequest{Title: "Intro to Go"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	subs := srv.Submissions()
	require.Len(t, subs, 1)
	assert.NotEmpty(t, subs[0].ClientTaskID)

	updates, stop := tr.Watch(id)
	defer stop()
	waitForPolls(t, tr, id, 1)

	require.NoError(t, tr.Cancel(context.Background(), id, "changed my mind"))
	fc.Step(poller.DefaultInterval)

	var last poller.State
	for s := range updates {
		last = s
	}
	assert.Equal(t, models.JobStatusCancelled, last.Job.Status)
	assert.Equal(t, models.DomainCourse, last.Job.Domain)
}

func TestCancelUnwatchedJob(t *testing.T) {
	tr, srv, _ := newTracker(t)
	srv.SetJob(accountX, models.Job{ID: "abc", Status: models.JobStatusProcessing})

	require.NoError(t, tr.Cancel(context.Background(), "abc", ""))
	assert.ErrorIs(t, tr.Cancel(context.Background(), "abc", ""), gateway.ErrCancellationRejected)
}

func TestAccountSwitchInvalidatesQueue(t *testing.T) {
	tr, srv, fc := newTracker(t)
	srv.SetQueue(accountX, models.QueueSnapshot{QueueLength: 9})
	srv.SetQueue(accountY, models.QueueSnapshot{QueueLength: 1})

	monitor := tr.Queue()
	waitForRequests(t, srv, gatewaytest.RouteQueue, 1)
	require.Eventually(t, func() bool {
		_, ok := monitor.Snapshot()
		return ok
	}, time.Second, 5*time.Millisecond)

	// Still inside the throttle window of the old account
	fc.Step(100 * time.Millisecond)
	require.NoError(t, tr.SwitchAccount(accountY))

	waitForRequests(t, srv, gatewaytest.RouteQueue, 2)
	require.Eventually(t, func() bool {
		snap, ok := monitor.Snapshot()
		return ok && snap.QueueLength == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, accountY, srv.LastHeader(gatewaytest.RouteQueue).Get(tenancy.AccountHeader))
}

func TestAccountSwitchDropsInFlightQueueRefresh(t *testing.T) {
	tr, srv, _ := newTracker(t)
	srv.SetQueue(accountX, models.QueueSnapshot{QueueLength: 9})
	srv.SetQueue(accountY, models.QueueSnapshot{QueueLength: 1})
	release := srv.Hold(gatewaytest.RouteQueue, 1)
	defer release()

	monitor := tr.Queue()
	waitForRequests(t, srv, gatewaytest.RouteQueue, 1)

	require.NoError(t, tr.SwitchAccount(accountY))
	require.Eventually(t, func() bool {
		snap, ok := monitor.Snapshot()
		return ok && snap.QueueLength == 1
	}, time.Second, 5*time.Millisecond)

	release()
	time.Sleep(50 * time.Millisecond)
	snap, _ := monitor.Snapshot()
	assert.Equal(t, 1, snap.QueueLength, "the old account's snapshot must not replace the new one")
}

func TestAccountSwitchResetsRunningPoller(t *testing.T) {
	tr, srv, _ := newTracker(t)
	srv.SetJob(accountX, models.Job{ID: "abc", Title: "X secret", Status: models.JobStatusProcessing, UpdatedAt: t0.Add(10 * time.Second)})
	srv.SetJob(accountY, models.Job{ID: "abc", Title: "Y job", Status: models.JobStatusProcessing, UpdatedAt: t0.Add(5 * time.Second)})

	updates, stop := tr.Watch("abc")
	defer stop()
	waitForPolls(t, tr, "abc", 1)
	s, _ := tr.State("abc")
	require.Equal(t, "X secret", s.Job.Title)

	require.NoError(t, tr.SwitchAccount(accountY))

	// Y's snapshot is older than X's but must not be discarded as stale
	require.Eventually(t, func() bool {
		s, ok := tr.State("abc")
		return ok && s.Job.Title == "Y job"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, accountY, srv.LastHeader(gatewaytest.RouteGetJob).Get(tenancy.AccountHeader))

	require.Eventually(t, func() bool {
		select {
		case s := <-updates:
			return s.Job.Title == "Y job"
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestAccountSwitchDropsInFlightStatus(t *testing.T) {
	tr, srv, fc := newTracker(t)
	srv.SetJob(accountX, models.Job{ID: "abc", Title: "X secret", Status: models.JobStatusProcessing, UpdatedAt: t0})
	srv.SetJob(accountY, models.Job{ID: "abc", Title: "Y job", Status: models.JobStatusProcessing, UpdatedAt: t0})
	release := srv.Hold(gatewaytest.RouteGetJob, 1)
	defer release()

	_, stop := tr.Watch("abc")
	defer stop()
	waitForRequests(t, srv, gatewaytest.RouteGetJob, 1)

	require.NoError(t, tr.SwitchAccount(accountY))
	release()
	time.Sleep(50 * time.Millisecond)

	s, ok := tr.State("abc")
	require.True(t, ok)
	assert.True(t, s.Job.IsZero(), "a status fetched for the old account must not be applied")

	fc.Step(poller.DefaultInterval)
	require.Eventually(t, func() bool {
		s, _ := tr.State("abc")
		return s.Job.Title == "Y job"
	}, time.Second, 5*time.Millisecond)
}

func TestWatchAfterSwitchStartsFreshPoller(t *testing.T) {
	tr, srv, _ := newTracker(t)
	srv.SetJob(accountX, models.Job{ID: "abc", Title: "X secret", Status: models.JobStatusCompleted, ResultLocation: "x-result", UpdatedAt: t0})
	srv.SetJob(accountY, models.Job{ID: "abc", Title: "Y job", Status: models.JobStatusProcessing, UpdatedAt: t0})

	// A watcher that never unsubscribes keeps the finished poller registered
	first, stopFirst := tr.Watch("abc")
	defer stopFirst()
	for range first {
	}

	require.NoError(t, tr.SwitchAccount(accountY))

	second, stopSecond := tr.Watch("abc")
	defer stopSecond()
	select {
	case s := <-second:
		assert.Equal(t, "Y job", s.Job.Title)
		assert.Empty(t, s.Job.ResultLocation)
	case <-time.After(time.Second):
		t.Fatal("no state for the new account")
	}
	assert.Equal(t, 2, srv.Requests(gatewaytest.RouteGetJob))
	assert.Equal(t, 1, tr.Watchers("abc"))
}

func TestAccountSwitchInvalidatesCachedList(t *testing.T) {
	tr, srv, _ := newTracker(t)
	srv.SetJob(accountX, models.Job{ID: "shared", Title: "from X", Status: models.JobStatusQueued})
	srv.SetJob(accountY, models.Job{ID: "shared", Title: "from Y", Status: models.JobStatusQueued})

	lp := tr.JobList(models.ListOptions{Limit: 10})
	defer lp.Stop()

	require.NoError(t, lp.Refresh(context.Background()))
	list, _ := lp.Latest()
	require.Len(t, list.Tasks, 1)
	assert.Equal(t, "from X", list.Tasks[0].Title)

	require.NoError(t, tr.SwitchAccount(accountY))
	require.NoError(t, lp.Refresh(context.Background()))

	list, _ = lp.Latest()
	require.Len(t, list.Tasks, 1)
	assert.Equal(t, "from Y", list.Tasks[0].Title)
	assert.Equal(t, 2, srv.Requests(gatewaytest.RouteList))
}

func TestSwitchAccountRejectsInvalidID(t *testing.T) {
	tr, _, _ := newTracker(t)
	assert.ErrorIs(t, tr.SwitchAccount("bad id!"), tenancy.ErrInvalidAccountID)
}

func TestWatchAfterClose(t *testing.T) {
	tr, srv, _ := newTracker(t)
	tr.Close()
	tr.Close()

	updates, stop := tr.Watch("abc")
	stop()
	_, ok := <-updates
	assert.False(t, ok)
	assert.Equal(t, 0, srv.Requests(gatewaytest.RouteGetJob))
}
