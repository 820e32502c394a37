package server

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ThinkParQ/beegfs-sub011/internal/logging"
	"github.com/ThinkParQ/beegfs-sub011/internal/metadata"
	"github.com/ThinkParQ/beegfs-sub011/internal/nodes"
	"github.com/ThinkParQ/beegfs-sub011/internal/resync"
	"github.com/ThinkParQ/beegfs-sub011/internal/utils"
)

var _ resync.StateReporter = (*CoordinatorReporter)(nil)

// CoordinatorReporter pushes consistency states to the coordinator,
// retrying transient failures for up to budget
type CoordinatorReporter struct {
	meta   metadata.Manager
	budget time.Duration
	logger *logging.Logger
}

// NewCoordinatorReporter creates a reporter
func NewCoordinatorReporter(meta metadata.Manager, budget time.Duration, logger *logging.Logger) *CoordinatorReporter {
	if budget <= 0 {
		budget = utils.CoordinatorTimeout
	}
	return &CoordinatorReporter{meta: meta, budget: budget, logger: logger}
}

// SetConsistency stores the state of a target
func (r *CoordinatorReporter) SetConsistency(ctx context.Context, targetID uint16, state nodes.ConsistencyState) error {
	attempts := 0
	operation := func() error {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, utils.CoordinatorTimeout)
		defer cancel()
		return r.meta.SetConsistency(callCtx, targetID, state)
	}

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(100*time.Millisecond),
		backoff.WithMaxElapsedTime(r.budget),
	)
	err := backoff.Retry(operation, backoff.WithContext(b, ctx))
	if err != nil {
		r.logger.Warn("Failed to report consistency state",
			"target", targetID, "state", state.String(), "attempts", attempts, "error", err)
		return err
	}
	r.logger.Debug("Consistency state reported", "target", targetID, "state", state.String())
	return nil
}
