package main

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/sellhub/pkg/config"
	"github.com/platinummonkey/sellhub/pkg/observability"
)

// orderJobs is the part of *orders.Service the reconciler drives
type orderJobs interface {
	ExpireStale(ctx context.Context, olderThan time.Duration) (int, error)
	ReconcilePending(ctx context.Context, olderThan time.Duration) (int, error)
}

type jobs struct {
	orders  orderJobs
	cfg     *config.Config
	logger  *observability.Logger
	timeout time.Duration

	// pollProcessor is false for the sandbox, whose charges this process
	// cannot see
	pollProcessor bool
}

func (j *jobs) expire() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	n, err := j.orders.ExpireStale(ctx, j.cfg.Checkout.OrderTTL)
	if err != nil {
		return fmt.Errorf("failed to expire stale orders: %w", err)
	}
	if n > 0 {
		j.logger.WithField("expired", n).Info("Expired stale orders")
	}
	return nil
}

func (j *jobs) reconcile() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	n, err := j.orders.ReconcilePending(ctx, j.cfg.Reconciler.ReconcileAfter)
	if err != nil {
		return fmt.Errorf("failed to reconcile pending orders: %w", err)
	}
	if n > 0 {
		j.logger.WithField("reconciled", n).Info("Reconciled pending orders")
	}
	return nil
}

// runOnce runs both jobs in order and reports the first failure
func (j *jobs) runOnce() error {
	if err := j.expire(); err != nil {
		return err
	}
	if !j.pollProcessor {
		j.logger.Info("Processor polling disabled for the sandbox processor")
		return nil
	}
	return j.reconcile()
}

type scheduledJob struct {
	name string
	spec string
	run  func() error
}

// schedule registers the jobs on c. A job still running when its next tick
// fires is skipped.
func (j *jobs) schedule(c *cron.Cron) error {
	entries := []scheduledJob{
		{"expire", j.cfg.Reconciler.ExpireSchedule, j.expire},
	}
	if j.pollProcessor {
		entries = append(entries, scheduledJob{"reconcile", j.cfg.Reconciler.ReconcileSchedule, j.reconcile})
	} else {
		j.logger.Info("Processor polling disabled for the sandbox processor")
	}

	for _, e := range entries {
		job := cron.FuncJob(func() {
			if err := e.run(); err != nil {
				j.logger.WithError(err).WithField("job", e.name).Error("Job failed")
			}
		})
		if _, err := c.AddJob(e.spec, job); err != nil {
			return fmt.Errorf("failed to schedule %s job %q: %w", e.name, e.spec, err)
		}
		j.logger.WithFields(map[string]interface{}{"job": e.name, "schedule": e.spec}).Info("Scheduled job")
	}
	return nil
}
