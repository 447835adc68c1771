package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/telique/sbcfleet/internal/logger"
	"github.com/telique/sbcfleet/pkg/fleet/models"
)

// ProcessPendingRemovals executes every removal whose date has passed: the
// active number row is closed with the scheduled date, audit records are
// appended, and the schedule row is deleted. Returns the number of removals
// executed; rows whose number is already gone are dropped silently.
func (o *Orchestrator) ProcessPendingRemovals(ctx context.Context, now time.Time) (int, error) {
	due, err := o.store.ListDuePendingRemovals(ctx, now)
	if err != nil {
		return 0, err
	}

	processed := 0
	var errs *multierror.Error
	for _, p := range due {
		err := o.store.MarkNumberRemoved(ctx, p.Number, p.ApplianceID, p.RemovalDate, p.RemovedBy)
		switch {
		case errors.Is(err, models.ErrNumberNotFound):
			// Already removed through another path; the schedule is stale.
			logger.Debug("pending removal had no active number",
				"number", p.Number, "appliance", p.ApplianceID)
		case err != nil:
			errs = multierror.Append(errs, fmt.Errorf("remove %s on %s: %w", p.Number, p.ApplianceID, err))
			continue
		default:
			processed++
			if aerr := o.store.AppendNumberEvents(ctx, []*models.NumberEvent{{
				Number:       p.Number,
				Action:       models.ActionRemove,
				CustomerName: p.CustomerName,
				ApplianceID:  p.ApplianceID,
				UserID:       optionalUser(p.RemovedBy),
				Details:      "scheduled removal executed",
				Timestamp:    p.RemovalDate,
			}}); aerr != nil {
				errs = multierror.Append(errs, fmt.Errorf("append remove event for %s: %w", p.Number, aerr))
			}
			if aerr := o.store.AppendCustomerNumberChange(ctx, &models.CustomerNumberChange{
				CustomerName: p.CustomerName,
				ChangeType:   models.ChangeRemove,
				Count:        1,
				ApplianceID:  p.ApplianceID,
				UserID:       optionalUser(p.RemovedBy),
				Timestamp:    p.RemovalDate,
			}); aerr != nil {
				errs = multierror.Append(errs, fmt.Errorf("append remove change for %s: %w", p.Number, aerr))
			}
		}

		if derr := o.store.DeletePendingRemoval(ctx, p.ID); derr != nil {
			errs = multierror.Append(errs, fmt.Errorf("delete pending removal %s: %w", p.ID, derr))
		}
	}

	if processed > 0 {
		logger.Info("pending removals processed", "count", processed, "due", len(due))
	}
	return processed, errs.ErrorOrNil()
}
