package poller

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/gentrack/pkg/coordinator"
	"github.com/psantana5/gentrack/pkg/gateway/gatewaytest"
	"github.com/psantana5/gentrack/pkg/models"
)

func TestListPollerRefreshesThroughCache(t *testing.T) {
	f := newFixture(t)
	f.srv.SetJob(testAccount, models.Job{ID: "a", Status: models.JobStatusQueued})
	f.srv.SetJob(testAccount, models.Job{ID: "b", Status: models.JobStatusProcessing})

	lp := NewListPoller(f.client, f.coord, models.ListOptions{Limit: 20}, WithClock(f.clock))
	updates, unsubscribe := lp.Subscribe()
	defer unsubscribe()

	lp.Start(context.Background())
	defer lp.Stop()

	select {
	case list := <-updates:
		assert.Equal(t, 2, list.Total)
		require.Len(t, list.Tasks, 2)
	case <-time.After(time.Second):
		t.Fatal("no list delivered")
	}

	// A second refresh inside the TTL is served from cache
	require.NoError(t, lp.Refresh(context.Background()))
	assert.Equal(t, 1, f.srv.Requests(gatewaytest.RouteList))

	f.clock.Step(DefaultListInterval)
	require.Eventually(t, func() bool {
		return f.srv.Requests(gatewaytest.RouteList) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestListPollerKeepsLastListOnFailure(t *testing.T) {
	f := newFixture(t)
	f.srv.SetJob(testAccount, models.Job{ID: "a", Status: models.JobStatusQueued})

	lp := NewListPoller(f.client, f.coord, models.ListOptions{}, WithClock(f.clock), WithCacheTTL(time.Second))
	require.NoError(t, lp.Refresh(context.Background()))

	f.clock.Step(2 * time.Second)
	f.srv.FailNext(gatewaytest.RouteList, http.StatusBadRequest, 1)
	require.Error(t, lp.Refresh(context.Background()))

	list, ok := lp.Latest()
	require.True(t, ok)
	assert.Equal(t, 1, list.Total)
}

func TestListPollerStopClosesSubscribers(t *testing.T) {
	f := newFixture(t)
	lp := NewListPoller(f.client, f.coord, models.ListOptions{}, WithClock(f.clock))
	updates, _ := lp.Subscribe()

	lp.Stop()
	lp.Stop()

	_, ok := <-updates
	assert.False(t, ok)
	_, have := lp.Latest()
	assert.False(t, have)
}

func TestListPollerDropsInvalidatedRefresh(t *testing.T) {
	f := newFixture(t)
	f.srv.SetJob(testAccount, models.Job{ID: "a", Status: models.JobStatusQueued})
	release := f.srv.Hold(gatewaytest.RouteList, 1)
	defer release()

	lp := NewListPoller(f.client, f.coord, models.ListOptions{}, WithClock(f.clock))
	done := make(chan error, 1)
	go func() { done <- lp.Refresh(context.Background()) }()
	require.Eventually(t, func() bool {
		return f.srv.Requests(gatewaytest.RouteList) == 1
	}, time.Second, 5*time.Millisecond)

	f.coord.Invalidate(coordinator.JobListPattern)
	release()
	require.NoError(t, <-done)

	_, ok := lp.Latest()
	assert.False(t, ok, "a list fetched before invalidation must not be kept")
}

func TestListPollerResetForgetsList(t *testing.T) {
	f := newFixture(t)
	f.srv.SetJob(testAccount, models.Job{ID: "a", Status: models.JobStatusQueued})

	lp := NewListPoller(f.client, f.coord, models.ListOptions{}, WithClock(f.clock))
	require.NoError(t, lp.Refresh(context.Background()))

	lp.Reset()
	_, ok := lp.Latest()
	assert.False(t, ok)
	assert.False(t, lp.Stopped())

	lp.Stop()
	assert.True(t, lp.Stopped())
}
