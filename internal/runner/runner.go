package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/bakkerme/marketwatch/internal/config"
	"github.com/bakkerme/marketwatch/internal/core"
	"github.com/bakkerme/marketwatch/internal/observability/metrics"
	"github.com/bakkerme/marketwatch/internal/sources/marketplace"
)

var (
	ErrAlreadyRunning = errors.New("monitor is already running")
	ErrNotRunning     = errors.New("monitor is not running")
)

const statusTimeout = 15 * time.Second

// BackoffFunc picks the sleep after a failed cycle; see Backoff.
type BackoffFunc func(retry, maxRetries int, cooldown time.Duration) (time.Duration, int)

type Options struct {
	Config  config.EnvConfig
	Cycle   *Cycle
	Sources marketplace.Factory
	// Schedule defaults to one built from Config.Monitor.
	Schedule Schedule
	Backoff  BackoffFunc
	Now      func() time.Time
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Runner drives the monitor loop. One Runner owns one store and one source;
// cycles never overlap.
type Runner struct {
	opts     Options
	schedule Schedule
	backoff  BackoffFunc
	logger   *slog.Logger

	cycleMu sync.Mutex

	mu     sync.Mutex
	state  core.MonitorState
	cancel context.CancelFunc
	done   chan struct{}
	active marketplace.Searcher
}

func New(opts Options) (*Runner, error) {
	if opts.Cycle == nil {
		return nil, fmt.Errorf("cycle is required")
	}
	if opts.Sources == nil {
		return nil, fmt.Errorf("source factory is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sched := opts.Schedule
	if sched == nil {
		var err error
		sched, err = NewSchedule(opts.Config.Monitor.CheckInterval, opts.Config.Monitor.Schedule)
		if err != nil {
			return nil, err
		}
	}
	backoff := opts.Backoff
	if backoff == nil {
		backoff = Backoff
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{
		opts:     opts,
		schedule: sched,
		backoff:  backoff,
		logger:   logger,
		state:    core.MonitorState{Phase: core.PhaseIdle},
	}, nil
}

// Run validates the configuration and then loops until ctx is done or Stop
// is called. A clean stop returns nil.
func (r *Runner) Run(ctx context.Context) error {
	loopCtx, err := r.begin(ctx)
	if err != nil {
		return err
	}
	r.loop(loopCtx)
	return nil
}

// Start runs the loop on its own goroutine. ctx must outlive the call; a
// request context is the wrong choice.
func (r *Runner) Start(ctx context.Context) error {
	loopCtx, err := r.begin(ctx)
	if err != nil {
		return err
	}
	go r.loop(loopCtx)
	return nil
}

// Stop cancels the loop and waits for it to release the source.
func (r *Runner) Stop() error {
	r.mu.Lock()
	if !r.state.Running || r.cancel == nil {
		r.mu.Unlock()
		return ErrNotRunning
	}
	r.cancel()
	done := r.done
	r.mu.Unlock()
	<-done
	return nil
}

// Status returns a snapshot of the loop state.
func (r *Runner) Status() core.MonitorState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// RunOnce performs a single cycle outside the loop. It reuses the loop's
// source when the loop is running and opens a scoped one otherwise. The loop
// releases its source under cycleMu, so a source read here stays open for
// the whole cycle.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	if err := r.validate(); err != nil {
		return 0, err
	}
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()
	r.mu.Lock()
	src := r.active
	r.mu.Unlock()

	if src == nil {
		opened, err := r.opts.Sources(ctx)
		if err != nil {
			return 0, fmt.Errorf("open source: %w", err)
		}
		defer r.closeSource(opened)
		src = opened
	}

	n, err := r.runCycle(ctx, src)
	r.mu.Lock()
	r.recordCheck(n, err)
	r.mu.Unlock()
	return n, err
}

func (r *Runner) validate() error {
	problems := r.opts.Config.Validate()
	// Validate already reports missing SEARCH_KEYWORDS when no watch file is set.
	reported := len(r.opts.Config.Search.Keywords) == 0 && strings.TrimSpace(r.opts.Config.WatchFile) == ""
	if !reported && r.opts.Cycle.Queries != nil && len(r.opts.Cycle.Queries.Queries()) == 0 {
		problems = append(problems, "no search terms configured")
	}
	if len(problems) > 0 {
		return &config.ValidationError{Problems: problems}
	}
	return nil
}

func (r *Runner) begin(ctx context.Context) (context.Context, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Running {
		return nil, ErrAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.state.Running = true
	r.state.Phase = core.PhaseRunning
	r.state.RetryCount = 0
	r.state.LastError = ""
	return loopCtx, nil
}

func (r *Runner) loop(ctx context.Context) {
	defer r.finish()

	src, err := r.opts.Sources(ctx)
	if err != nil {
		r.logger.Error("failed to open source", "error", err)
		r.mu.Lock()
		r.state.LastError = err.Error()
		r.mu.Unlock()
		return
	}
	r.mu.Lock()
	r.active = src
	r.mu.Unlock()
	defer func() {
		r.cycleMu.Lock()
		defer r.cycleMu.Unlock()
		r.mu.Lock()
		r.active = nil
		r.mu.Unlock()
		r.closeSource(src)
	}()

	r.sendStatus(ctx, r.startupMessage())
	defer func() {
		statusCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusTimeout)
		defer cancel()
		r.sendStatus(statusCtx, "🛑 Marketplace Monitor Stopped")
	}()

	r.logger.Info("monitor started")
	retry := 0
	for {
		if ctx.Err() != nil {
			r.logger.Info("monitor stopping")
			return
		}
		r.setPhase(core.PhaseChecking)
		r.cycleMu.Lock()
		n, err := r.runCycle(ctx, src)
		r.cycleMu.Unlock()
		if ctx.Err() != nil {
			r.mu.Lock()
			r.recordCheck(n, err)
			r.mu.Unlock()
			return
		}

		var sleep time.Duration
		if err != nil {
			retry++
			r.logger.Error("check failed", "attempt", retry, "error", err)
			if retry >= r.opts.Config.Monitor.MaxRetries {
				r.logger.Error("max retries reached, cooling down", "cooldown", r.opts.Config.Monitor.RetryCooldown)
			}
			sleep, retry = r.backoff(retry, r.opts.Config.Monitor.MaxRetries, r.opts.Config.Monitor.RetryCooldown)
		} else {
			retry = 0
			if n > 0 {
				r.logger.Info("check complete", "sent", n)
			}
			now := r.opts.Now()
			sleep = r.schedule.Next(now).Sub(now)
		}
		r.opts.Metrics.SetRetryCount(retry)

		r.mu.Lock()
		r.recordCheck(n, err)
		r.state.RetryCount = retry
		r.state.Phase = core.PhaseSleeping
		r.state.NextCheckTime = r.opts.Now().Add(sleep).UTC()
		r.mu.Unlock()

		r.logger.Info("next check scheduled", "in", sleep.Round(time.Second))
		if err := sleepCtx(ctx, sleep); err != nil {
			r.logger.Info("monitor stopping")
			return
		}
	}
}

func (r *Runner) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
	r.cancel = nil
	r.state.Running = false
	r.state.Phase = core.PhaseStopped
	r.state.NextCheckTime = time.Time{}
	if r.done != nil {
		close(r.done)
	}
	r.logger.Info("monitor stopped")
}

// runCycle turns a panic into an error. Callers hold cycleMu.
func (r *Runner) runCycle(ctx context.Context, src marketplace.Searcher) (n int, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("cycle panicked", "panic", p, "stack", string(debug.Stack()))
			n, err = 0, fmt.Errorf("cycle panicked: %v", p)
		}
	}()
	return r.opts.Cycle.Run(ctx, src)
}

// recordCheck must be called with r.mu held.
func (r *Runner) recordCheck(n int, err error) {
	r.state.LastCheckTime = r.opts.Now().UTC()
	r.state.LastCheckCount = n
	if err != nil {
		r.state.LastError = err.Error()
	} else {
		r.state.LastError = ""
	}
}

func (r *Runner) setPhase(phase core.MonitorPhase) {
	r.mu.Lock()
	r.state.Phase = phase
	r.mu.Unlock()
}

func (r *Runner) sendStatus(ctx context.Context, text string) {
	if r.opts.Cycle.Notifier == nil {
		return
	}
	if !r.opts.Cycle.Notifier.NotifyStatus(ctx, text) {
		r.logger.Warn("status message not delivered")
	}
}

func (r *Runner) startupMessage() string {
	var terms []string
	if r.opts.Cycle.Queries != nil {
		for _, q := range r.opts.Cycle.Queries.Queries() {
			terms = append(terms, q.Term)
		}
	}
	every := r.opts.Config.Monitor.CheckInterval.String()
	if r.opts.Config.Monitor.Schedule != "" {
		every = r.opts.Config.Monitor.Schedule
	}
	return fmt.Sprintf("🚀 Marketplace Monitor Started\n📍 Keywords: %s\n⏰ Check interval: %s",
		strings.Join(terms, ", "), every)
}

func (r *Runner) closeSource(src marketplace.Searcher) {
	if err := src.Close(); err != nil {
		r.logger.Warn("failed to close source", "error", err)
	}
}
