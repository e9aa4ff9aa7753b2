package app

import (
	"context"
	"time"

	"stillalive/internal/will"
	logx "stillalive/pkg/logx"
)

// SweepOnce runs a single sweep without delivering. Triggered notifications
// stay pending in the outbox for the next relay tick.
func (a *App) SweepOnce(ctx context.Context) (will.Report, error) {
	sw := will.NewSweeper(a.store, nil, a.will.Sweep, a.log.With(logx.Component("sweep")), a.bus, will.WithSweepMetrics(a.metrics))
	return sw.Run(ctx)
}

// RelayOnce leases due outbox rows, makes one delivery attempt for each on a
// private engine run and returns once the engine is idle or ctx ends. Failed
// rows are rescheduled in the outbox for a later run.
func (a *App) RelayOnce(ctx context.Context) (int, error) {
	a.engine.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		a.engine.Stop(stopCtx)
		cancel()
	}()

	n, err := a.relay.Tick(ctx)
	if err != nil || n == 0 {
		return n, err
	}
	tk := time.NewTicker(200 * time.Millisecond)
	defer tk.Stop()
	// Two idle polls in a row, since a task is briefly neither queued nor in flight.
	idle := 0
	for {
		snap := a.engine.Snapshot()
		if snap.QueueLen == 0 && snap.InFlight == 0 {
			idle++
			if idle >= 2 {
				return n, nil
			}
		} else {
			idle = 0
		}
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		case <-tk.C:
		}
	}
}

// Close releases resources of an App that was never started.
func (a *App) Close() error {
	err := a.closeResources()
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}
