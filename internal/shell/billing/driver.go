package billing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stackrent/stackrent/internal/core/domain"
	"github.com/stackrent/stackrent/internal/shell/store"
)

// DriverConfig configures a billing driver.
type DriverConfig struct {
	// Interval is the time between billing cycles. Default: 10 minutes.
	Interval time.Duration

	// StalenessThreshold is how old the standalone daemon's heartbeat may be
	// before the in-process driver takes over. Default: 90 minutes.
	StalenessThreshold time.Duration
}

// DefaultDriverConfig returns the default configuration.
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		Interval:           10 * time.Minute,
		StalenessThreshold: 90 * time.Minute,
	}
}

// Driver runs the billing engine periodically under one of the two driver
// identities. The standalone daemon always runs its passes; the in-process
// scheduler stands down while the daemon's heartbeat is fresh, so billing
// keeps flowing when the daemon dies without doubling up while it lives.
type Driver struct {
	engine *Engine
	store  store.Store
	name   string
	config DriverConfig
	logger *slog.Logger

	now func() time.Time

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDriver creates a billing driver. name must be domain.DriverDaemon or
// domain.DriverScheduler.
func NewDriver(engine *Engine, s store.Store, name string, config DriverConfig, logger *slog.Logger) *Driver {
	if config.Interval == 0 {
		config.Interval = 10 * time.Minute
	}
	if config.StalenessThreshold == 0 {
		config.StalenessThreshold = 90 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Driver{
		engine: engine,
		store:  s,
		name:   name,
		config: config,
		logger: logger.With("component", "billing_driver", "driver", name),
		now:    time.Now,
	}
}

// Start begins the driver background goroutine.
func (d *Driver) Start() {
	d.ctx, d.cancel = context.WithCancel(context.Background())

	d.wg.Add(1)
	go d.run()

	d.logger.Info("billing driver started",
		"interval", d.config.Interval,
		"staleness_threshold", d.config.StalenessThreshold,
	)
}

// Stop gracefully stops the driver, waiting for an in-progress pass.
func (d *Driver) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	d.logger.Info("billing driver stopped")
}

func (d *Driver) run() {
	defer d.wg.Done()

	// Run immediately on start
	d.RunCycle(d.ctx)

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.RunCycle(d.ctx)
		}
	}
}

// RunCycle performs one heartbeat-and-maybe-bill cycle. Exported so the
// standalone daemon binary can drive it directly and tests can step it.
func (d *Driver) RunCycle(ctx context.Context) {
	now := d.now()

	if d.name == domain.DriverScheduler && d.daemonIsAlive(ctx, now) {
		d.logger.Debug("standalone daemon heartbeat is fresh, standing down")
		d.recordHeartbeat(ctx, now, nil)
		return
	}

	result := d.engine.RunPass(ctx)
	d.recordHeartbeat(ctx, now, result)
}

// daemonIsAlive reports whether the standalone daemon has heartbeated within
// the staleness threshold.
func (d *Driver) daemonIsAlive(ctx context.Context, now time.Time) bool {
	status, err := d.store.GetDaemonStatus(ctx, domain.DriverDaemon)
	if err != nil {
		// No row yet, or a read failure: act rather than stall billing.
		return false
	}
	return status.HeartbeatFresherThan(d.config.StalenessThreshold, now)
}

// recordHeartbeat upserts this driver's coordination row. A nil result means
// the cycle heartbeated without running a pass.
func (d *Driver) recordHeartbeat(ctx context.Context, now time.Time, result *PassResult) {
	status := &domain.DaemonStatus{
		Driver:        d.name,
		LastHeartbeat: now,
		AmountBilled:  decimal.Zero,
	}

	if result != nil {
		runAt := now
		status.LastRunAt = &runAt
		status.LastRunSuccess = len(result.Errors) == 0
		status.InstancesBilled = result.InstancesBilled
		status.AmountBilled = result.AmountBilled
		if len(result.Errors) > 0 {
			status.LastRunError = result.Errors[0].Error()
		}
	} else if prev, err := d.store.GetDaemonStatus(ctx, d.name); err == nil {
		// Keep the last run's outcome visible across idle heartbeats.
		status.LastRunAt = prev.LastRunAt
		status.LastRunSuccess = prev.LastRunSuccess
		status.LastRunError = prev.LastRunError
		status.InstancesBilled = prev.InstancesBilled
		status.AmountBilled = prev.AmountBilled
	}

	if err := d.store.UpsertDaemonStatus(ctx, status); err != nil {
		d.logger.Error("failed to record heartbeat", "error", err)
	}
}
