package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/botdeployer/deployer/internal/deploy"
)

// Observer receives timing and outcome events, typically for metrics.
type Observer interface {
	StageCompleted(stage string, elapsed time.Duration)
	DeploymentFinished(status deploy.Status)
}

type driverConfig struct {
	stages  []Stage
	logger  *slog.Logger
	scale   float64
	obs     Observer
	gates   map[string][]Gate
	retries map[string]RetryPolicy
}

type Option func(*driverConfig)

// WithStages replaces the default stage table.
func WithStages(stages []Stage) Option {
	return func(c *driverConfig) {
		c.stages = append([]Stage(nil), stages...)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *driverConfig) {
		c.logger = logger
	}
}

// WithDelayScale multiplies every stage delay and retry backoff by scale.
func WithDelayScale(scale float64) Option {
	return func(c *driverConfig) {
		c.scale = scale
	}
}

func WithObserver(obs Observer) Option {
	return func(c *driverConfig) {
		c.obs = obs
	}
}

// WithGate attaches a gate to the named stage. Several gates on one stage
// run in the order they were attached.
func WithGate(stage string, g Gate) Option {
	return func(c *driverConfig) {
		if g != nil {
			c.gates[stage] = append(c.gates[stage], g)
		}
	}
}

func WithRetry(stage string, p RetryPolicy) Option {
	return func(c *driverConfig) {
		c.retries[stage] = p
	}
}

// Driver advances deployments through the stage table.
//
// State machine per deployment:
//
//	initializing --(all stages passed)--> running
//	initializing --(gate rejected)------> failed
type Driver struct {
	store  deploy.DeployStore
	stages []Stage
	logger *slog.Logger
	scale  float64
	obs    Observer

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewDriver(store deploy.DeployStore, opts ...Option) (*Driver, error) {
	cfg := &driverConfig{
		stages:  DefaultStages(),
		logger:  slog.Default(),
		scale:   1,
		gates:   make(map[string][]Gate),
		retries: make(map[string]RetryPolicy),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.stages) == 0 {
		return nil, errEmptyStages
	}
	if cfg.scale < 0 {
		return nil, fmt.Errorf("lifecycle: negative delay scale %g", cfg.scale)
	}

	known := make(map[string]bool, len(cfg.stages))
	for i := range cfg.stages {
		st := &cfg.stages[i]
		known[st.Name] = true
		if gs := cfg.gates[st.Name]; len(gs) > 0 {
			st.Gate = Gates(append([]Gate{st.Gate}, gs...)...)
		}
		if p, ok := cfg.retries[st.Name]; ok {
			st.Retry = p
		}
	}
	for name := range cfg.gates {
		if !known[name] {
			return nil, fmt.Errorf("lifecycle: gate for unknown stage %q", name)
		}
	}
	for name := range cfg.retries {
		if !known[name] {
			return nil, fmt.Errorf("lifecycle: retry policy for unknown stage %q", name)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Driver{
		store:  store,
		stages: cfg.stages,
		logger: cfg.logger,
		scale:  cfg.scale,
		obs:    cfg.obs,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start runs the deployment in the background and returns immediately.
// Starts after Shutdown are ignored.
func (d *Driver) Start(id string) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("driver stopped, deployment not started", "deployment_id", id)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		err := d.Run(d.ctx, id)
		var stageErr *StageError
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			d.logger.Info("deployment run cancelled", "deployment_id", id)
		case errors.As(err, &stageErr):
			d.logger.Warn("deployment failed", "deployment_id", id, "stage", stageErr.Stage, "error", stageErr.Err)
		default:
			d.logger.Error("deployment run error", "deployment_id", id, "error", err)
		}
	}()
}

// Run drives one deployment to completion on the calling goroutine. It
// returns a *StageError when a gate rejected the deployment, or the context
// error when cancelled. Unknown ids are not an error: every store call on
// them is a no-op.
func (d *Driver) Run(ctx context.Context, id string) error {
	log := d.logger.With("deployment_id", id)
	log.Info("deployment started")

	for _, st := range d.stages {
		started := time.Now()
		if err := d.sleep(ctx, st.Delay); err != nil {
			return err
		}

		if err := d.checkGate(ctx, log, id, st); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.fail(id, st, err)
			return &StageError{Stage: st.Name, Err: err}
		}

		d.store.AppendLog(id, st.Message)
		log.Debug("stage completed", "stage", st.Name)
		if d.obs != nil {
			d.obs.StageCompleted(st.Name, time.Since(started))
		}
		if st.Terminal {
			break
		}
	}

	if !d.store.Finish(id, deploy.StatusRunning, CompletedMessage) {
		log.Warn("deployment record gone before completion")
		return nil
	}
	if d.obs != nil {
		d.obs.DeploymentFinished(deploy.StatusRunning)
	}
	log.Info("deployment running")
	return nil
}

func (d *Driver) checkGate(ctx context.Context, log *slog.Logger, id string, st Stage) error {
	if st.Gate == nil {
		return nil
	}

	attempts := st.Retry.attempts()
	for attempt := 1; ; attempt++ {
		rec, err := d.store.Get(id)
		if errors.Is(err, deploy.ErrNotFound) {
			return nil
		}
		if err != nil {
			err = Transient(err)
		} else {
			err = st.Gate.Check(ctx, rec)
		}
		if err == nil {
			return nil
		}
		if !IsTransient(err) || attempt >= attempts || ctx.Err() != nil {
			return err
		}

		wait := st.Retry.backoff(attempt)
		log.Warn("stage check failed, retrying", "stage", st.Name, "attempt", attempt, "max_attempts", attempts, "wait", wait, "error", err)
		if err := d.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (d *Driver) fail(id string, st Stage, err error) {
	reason := strings.TrimSuffix(st.Message, "...")
	d.store.AppendLog(id, fmt.Sprintf("%s failed: %v", reason, err))
	if !d.store.Finish(id, deploy.StatusFailed, FailedMessage) {
		return
	}
	if d.obs != nil {
		d.obs.DeploymentFinished(deploy.StatusFailed)
	}
}

func (d *Driver) sleep(ctx context.Context, delay time.Duration) error {
	delay = time.Duration(float64(delay) * d.scale)
	if delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Shutdown cancels in-flight runs and waits for them to return.
func (d *Driver) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
