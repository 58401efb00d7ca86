package indexer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"docsearch/internal/metrics"
	"docsearch/internal/middleware"
)

type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// Triggers recorded with each build.
const (
	TriggerHTTP    = "http"
	TriggerMCP     = "mcp"
	TriggerQueue   = "queue"
	TriggerWatcher = "watcher"
	TriggerCLI     = "cli"
)

// Build describes one build run, current or finished.
type Build struct {
	ID         string       `json:"build_id"`
	Trigger    string       `json:"trigger"`
	Rebuild    bool         `json:"rebuild"`
	State      State        `json:"state"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	Result     *BuildResult `json:"result,omitempty"`
}

// Status is the coordinator's view: the running build, if any, and the last
// finished one.
type Status struct {
	State   State  `json:"state"`
	Current *Build `json:"current,omitempty"`
	Last    *Build `json:"last,omitempty"`
}

// Listener is notified around every build. Implementations handle their
// own failures; a listener cannot fail a build.
type Listener interface {
	BuildStarted(ctx context.Context, b Build)
	BuildFinished(ctx context.Context, b Build)
}

type Runner interface {
	Build(ctx context.Context, rebuild bool, progress Progress) BuildResult
}

// Coordinator serialises builds: at most one runs at a time, and a request
// made while one is running is rejected with ErrBuildInProgress.
type Coordinator struct {
	runner    Runner
	logger    *slog.Logger
	listeners []Listener

	mu      sync.Mutex
	current *Build
	last    *Build
	wg      sync.WaitGroup
}

func NewCoordinator(runner Runner, logger *slog.Logger, listeners ...Listener) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{runner: runner, logger: logger, listeners: listeners}
}

func (c *Coordinator) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Start launches a build in the background and returns its id. The build
// outlives ctx; only its values are kept.
func (c *Coordinator) Start(ctx context.Context, rebuild bool, trigger string) (string, error) {
	b, err := c.acquire(rebuild, trigger)
	if err != nil {
		return "", err
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.execute(context.WithoutCancel(ctx), b, nil)
	}()
	return b.ID, nil
}

// Run builds synchronously and returns the finished build.
func (c *Coordinator) Run(ctx context.Context, rebuild bool, trigger string, progress Progress) (Build, error) {
	b, err := c.acquire(rebuild, trigger)
	if err != nil {
		return Build{}, err
	}
	return c.execute(context.WithoutCancel(ctx), b, progress), nil
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{State: StateIdle}
	if c.last != nil {
		last := *c.last
		s.Last = &last
		s.State = last.State
	}
	if c.current != nil {
		cur := *c.current
		s.Current = &cur
		s.State = StateRunning
	}
	return s
}

// Wait blocks until background builds have finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) acquire(rebuild bool, trigger string) (*Build, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		metrics.IndexBuildsTotal.WithLabelValues(mode(rebuild), "rejected").Inc()
		return nil, ErrBuildInProgress
	}
	c.current = &Build{
		ID:        uuid.New().String(),
		Trigger:   trigger,
		Rebuild:   rebuild,
		State:     StateRunning,
		StartedAt: time.Now().UTC(),
	}
	return c.current, nil
}

func (c *Coordinator) execute(ctx context.Context, b *Build, progress Progress) Build {
	ctx = middleware.WithBuildID(ctx, b.ID)
	c.logger.InfoContext(ctx, "index build started", "trigger", b.Trigger, "rebuild", b.Rebuild)

	c.mu.Lock()
	listeners := append([]Listener(nil), c.listeners...)
	started := *b
	c.mu.Unlock()

	for _, l := range listeners {
		l.BuildStarted(ctx, started)
	}

	res := c.runner.Build(ctx, b.Rebuild, progress)
	finished := time.Now().UTC()

	status := "success"
	state := StateDone
	if !res.Success {
		status = "failure"
		state = StateFailed
	}
	metrics.IndexBuildsTotal.WithLabelValues(mode(b.Rebuild), status).Inc()
	metrics.IndexBuildDuration.WithLabelValues(mode(b.Rebuild)).Observe(finished.Sub(b.StartedAt).Seconds())
	if res.Success {
		metrics.IndexedChunksTotal.Add(float64(res.NewChunks()))
		metrics.CollectionChunks.Set(float64(res.TotalChunks))
	}

	c.mu.Lock()
	b.State = state
	b.FinishedAt = &finished
	b.Result = &res
	done := *b
	c.last = &done
	c.current = nil
	c.mu.Unlock()

	for _, l := range listeners {
		l.BuildFinished(ctx, done)
	}
	return done
}

func mode(rebuild bool) string {
	if rebuild {
		return "rebuild"
	}
	return "incremental"
}
