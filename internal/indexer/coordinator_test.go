package indexer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingRunner struct {
	release chan struct{}
	entered chan struct{}
	result  BuildResult
}

func newBlockingRunner(res BuildResult) *blockingRunner {
	return &blockingRunner{release: make(chan struct{}), entered: make(chan struct{}, 1), result: res}
}

func (r *blockingRunner) Build(ctx context.Context, rebuild bool, _ Progress) BuildResult {
	r.entered <- struct{}{}
	<-r.release
	res := r.result
	res.Rebuild = rebuild
	return res
}

type recordingListener struct {
	mu       sync.Mutex
	started  []Build
	finished []Build
}

func (l *recordingListener) BuildStarted(_ context.Context, b Build) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = append(l.started, b)
}

func (l *recordingListener) BuildFinished(_ context.Context, b Build) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finished = append(l.finished, b)
}

func TestCoordinator_RejectsConcurrentBuilds(t *testing.T) {
	runner := newBlockingRunner(BuildResult{Success: true, TotalChunks: 3})
	c := NewCoordinator(runner, nil)

	id, err := c.Start(context.Background(), true, TriggerHTTP)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	<-runner.entered

	_, err = c.Start(context.Background(), false, TriggerHTTP)
	assert.ErrorIs(t, err, ErrBuildInProgress)
	_, err = c.Run(context.Background(), false, TriggerCLI, nil)
	assert.ErrorIs(t, err, ErrBuildInProgress)

	s := c.Status()
	assert.Equal(t, StateRunning, s.State)
	require.NotNil(t, s.Current)
	assert.Equal(t, id, s.Current.ID)

	close(runner.release)
	c.Wait()

	s = c.Status()
	assert.Equal(t, StateDone, s.State)
	assert.Nil(t, s.Current)
	require.NotNil(t, s.Last)
	assert.Equal(t, id, s.Last.ID)
	assert.Equal(t, 3, s.Last.Result.TotalChunks)
	assert.NotNil(t, s.Last.FinishedAt)
}

func TestCoordinator_StartOutlivesCallerContext(t *testing.T) {
	runner := newBlockingRunner(BuildResult{Success: true})
	c := NewCoordinator(runner, nil)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := c.Start(ctx, false, TriggerHTTP)
	require.NoError(t, err)
	<-runner.entered
	cancel()
	close(runner.release)
	c.Wait()

	assert.Equal(t, StateDone, c.Status().State)
}

func TestCoordinator_RunNotifiesListeners(t *testing.T) {
	runner := newBlockingRunner(BuildResult{Success: false, Error: "boom"})
	close(runner.release)
	l := &recordingListener{}
	c := NewCoordinator(runner, nil, l)

	b, err := c.Run(context.Background(), true, TriggerCLI, nil)
	require.NoError(t, err)

	assert.Equal(t, StateFailed, b.State)
	assert.Equal(t, "boom", b.Result.Error)
	assert.True(t, b.Result.Rebuild)
	assert.Equal(t, StateFailed, c.Status().State)

	require.Len(t, l.started, 1)
	require.Len(t, l.finished, 1)
	assert.Equal(t, StateRunning, l.started[0].State)
	assert.Equal(t, b.ID, l.finished[0].ID)
	assert.Equal(t, TriggerCLI, l.finished[0].Trigger)
}

func TestCoordinator_IdleInitially(t *testing.T) {
	c := NewCoordinator(newBlockingRunner(BuildResult{}), nil)
	s := c.Status()
	assert.Equal(t, StateIdle, s.State)
	assert.Nil(t, s.Current)
	assert.Nil(t, s.Last)
}

func TestCoordinator_RealBuilder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "alpha")
	b, _ := newTestBuilder(t, dir, &fakeEmbedder{})
	c := NewCoordinator(b, nil)

	_, err := c.Start(context.Background(), true, TriggerQueue)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return c.Status().State == StateDone
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, c.Status().Last.Result.TotalChunks)
}
