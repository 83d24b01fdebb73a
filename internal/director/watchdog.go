package director

import (
	"context"
	"fmt"
	"time"
)

// watchdogLoop periodically sweeps the trackers for runs that went quiet
// or ran too long, and fails their tasks.
func (d *Director) watchdogLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweep(ctx)
		}
	}
}

// sweep blocks every tracked task that crossed the inactivity or total
// runtime threshold and tears the run down.
func (d *Director) sweep(ctx context.Context) {
	now := d.now().UTC()

	type stuck struct {
		taskID string
		reason string
	}
	var found []stuck

	d.mu.Lock()
	for id, t := range d.trackers {
		elapsed := now.Sub(t.StartTime)
		inactive := now.Sub(t.LastActivity)
		switch {
		case inactive > d.cfg.InactivityTimeout:
			found = append(found, stuck{id, fmt.Sprintf(
				"Inactivity: no chunk for %s (limit %s)",
				inactive.Round(time.Second), d.cfg.InactivityTimeout)})
		case elapsed > d.cfg.MaxTotalTime:
			found = append(found, stuck{id, fmt.Sprintf(
				"running for %s (limit %s)",
				elapsed.Round(time.Second), d.cfg.MaxTotalTime)})
		}
	}
	d.mu.Unlock()

	for _, s := range found {
		d.logger.Warn("watchdog blocking stuck task", "task_id", s.taskID, "reason", s.reason)
		d.blockTask(ctx, s.taskID, s.reason)
		d.deregister(s.taskID)
	}
}
