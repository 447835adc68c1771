package orchestrator

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/telique/sbcfleet/internal/logger"
	"github.com/telique/sbcfleet/pkg/fleet/models"
	"github.com/telique/sbcfleet/pkg/prosbc"
)

// SyncedFile is one successfully synced digit-map file.
type SyncedFile struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// SyncError is one digit-map file whose sync failed.
type SyncError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// SyncReport is the outcome of one inventory sync for one appliance.
type SyncReport struct {
	ApplianceID string       `json:"applianceId"`
	Synced      []SyncedFile `json:"synced"`
	Errors      []SyncError  `json:"errors"`
}

// SyncDmInventory refreshes the digit-map inventory of one appliance: every
// eligible DM file is exported, its called-number column extracted, and the
// inventory row replaced. A file that fails mid-sync is marked inactive and
// the sync moves on.
func (o *Orchestrator) SyncDmInventory(ctx context.Context, applianceID, configRef string) (*SyncReport, error) {
	start := o.now()
	files, err := o.svc.ListFiles(ctx, applianceID, configRef, prosbc.FileKindDigitMap)
	if err != nil {
		return nil, err
	}

	report := &SyncReport{ApplianceID: applianceID}
	for _, fd := range files {
		if !IsInventoryFile(fd.Name) {
			continue
		}
		count, err := o.syncOneFile(ctx, applianceID, configRef, fd)
		if err != nil {
			report.Errors = append(report.Errors, SyncError{Name: fd.Name, Message: err.Error()})
			if serr := o.store.SetInventoryStatus(ctx, applianceID, fd.Name, models.InventoryInactive); serr != nil {
				logger.Warn("failed to mark inventory row inactive",
					"appliance", applianceID, "file", fd.Name, "error", serr)
			}
			continue
		}
		report.Synced = append(report.Synced, SyncedFile{Name: fd.Name, Count: count})
	}

	o.recordSync(applianceID, len(report.Synced), len(report.Errors), start)
	return report, nil
}

func (o *Orchestrator) syncOneFile(ctx context.Context, applianceID, configRef string, fd prosbc.FileDescriptor) (int, error) {
	if err := o.store.SetInventoryStatus(ctx, applianceID, fd.Name, models.InventorySyncing); err != nil {
		return 0, fmt.Errorf("mark syncing: %w", err)
	}

	rc, err := o.svc.ExportFile(ctx, applianceID, configRef, prosbc.FileKindDigitMap, fd.ID)
	if err != nil {
		return 0, err
	}
	body, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return 0, fmt.Errorf("read export: %w", err)
	}

	numbers := ExtractNumbers(body)
	row := &models.DmInventoryRow{
		ApplianceID:      applianceID,
		FileName:         fd.Name,
		CSVBody:          body,
		ExtractedNumbers: numbers,
		NumberCount:      len(numbers),
		LastSyncedAt:     o.now(),
		Status:           models.InventoryActive,
	}
	if err := o.store.UpsertInventoryRow(ctx, row); err != nil {
		return 0, fmt.Errorf("upsert inventory row: %w", err)
	}
	return len(numbers), nil
}

// ReplaceReport is the per-appliance outcome of the number-diff pipeline.
type ReplaceReport struct {
	ApplianceID string `json:"applianceId"`
	Added       int    `json:"added"`
	Renamed     int    `json:"renamed"`
	Scheduled   int    `json:"scheduled"`
	SyncErrors  int    `json:"syncErrors"`
	Error       string `json:"error,omitempty"`
}

// ReplaceAll syncs the digit-map inventory of every active appliance and
// diffs the extracted numbers against the active customer numbers:
// additions are inserted, ownership changes are renamed, and disappeared
// numbers are scheduled for removal at the end of the current month. The
// pipeline is idempotent: a second run over the same inventory produces no
// additions, renames or new schedules.
func (o *Orchestrator) ReplaceAll(ctx context.Context, configRef, actingUser string) ([]ReplaceReport, error) {
	start := o.now()
	apps, err := o.store.ListActiveAppliances(ctx)
	if err != nil {
		return nil, err
	}

	reports := make([]ReplaceReport, len(apps))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i, app := range apps {
		reports[i] = ReplaceReport{ApplianceID: app.ID}
		g.Go(func() error {
			if err := o.global.Acquire(gctx, 1); err != nil {
				reports[i].Error = err.Error()
				return nil
			}
			defer o.global.Release(1)

			report, err := o.replaceOne(gctx, app.ID, configRef, actingUser)
			if err != nil {
				reports[i].Error = err.Error()
				return nil
			}
			reports[i] = *report
			return nil
		})
	}
	_ = g.Wait()

	failures := 0
	for _, r := range reports {
		if r.Error != "" {
			failures++
		}
	}
	o.recordFanOut("replace", len(apps), failures, start)
	return reports, nil
}

func (o *Orchestrator) replaceOne(ctx context.Context, applianceID, configRef, actingUser string) (*ReplaceReport, error) {
	sync, err := o.SyncDmInventory(ctx, applianceID, configRef)
	if err != nil {
		return nil, err
	}

	report := &ReplaceReport{ApplianceID: applianceID, SyncErrors: len(sync.Errors)}

	// Desired state: number -> owning customer (the DM filename). The first
	// file claiming a number wins; duplicates across files are ignored.
	desired := map[string]string{}
	rows, err := o.store.ListInventoryRows(ctx, applianceID)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if row.Status != models.InventoryActive {
			continue
		}
		for _, n := range row.ExtractedNumbers {
			if _, taken := desired[n]; !taken {
				desired[n] = row.FileName
			}
		}
	}

	active, err := o.store.ListActiveNumbers(ctx, applianceID)
	if err != nil {
		return nil, err
	}
	activeByNumber := make(map[string]*models.CustomerNumber, len(active))
	for _, n := range active {
		activeByNumber[n.Number] = n
	}

	var errs *multierror.Error
	now := o.now()

	added, err := o.applyAdditions(ctx, applianceID, actingUser, desired, activeByNumber, now)
	errs = multierror.Append(errs, err)
	report.Added = added

	renamed, err := o.applyRenames(ctx, applianceID, actingUser, desired, activeByNumber, now)
	errs = multierror.Append(errs, err)
	report.Renamed = renamed

	scheduled, err := o.scheduleRemovals(ctx, applianceID, actingUser, desired, activeByNumber, now)
	errs = multierror.Append(errs, err)
	report.Scheduled = scheduled

	return report, errs.ErrorOrNil()
}

func (o *Orchestrator) applyAdditions(ctx context.Context, applianceID, actingUser string, desired map[string]string, activeByNumber map[string]*models.CustomerNumber, now time.Time) (int, error) {
	var rows []*models.CustomerNumber
	for number, customer := range desired {
		if _, exists := activeByNumber[number]; exists {
			continue
		}
		rows = append(rows, &models.CustomerNumber{
			Number:       number,
			CustomerName: customer,
			ApplianceID:  applianceID,
			AddedDate:    now,
			AddedBy:      actingUser,
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}

	total := 0
	for start := 0; start < len(rows); start += batchSize {
		end := min(start+batchSize, len(rows))
		inserted, err := o.store.BulkInsertNumbers(ctx, rows[start:end])
		if err != nil {
			return total, fmt.Errorf("insert additions: %w", err)
		}
		total += inserted
	}

	events := make([]*models.NumberEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, &models.NumberEvent{
			Number:       r.Number,
			Action:       models.ActionAdd,
			CustomerName: r.CustomerName,
			ApplianceID:  applianceID,
			FileName:     r.CustomerName,
			UserID:       optionalUser(actingUser),
			Timestamp:    now,
		})
	}
	if err := o.store.AppendNumberEvents(ctx, events); err != nil {
		return total, fmt.Errorf("append add events: %w", err)
	}
	if err := o.store.AppendCustomerNumberChange(ctx, &models.CustomerNumberChange{
		CustomerName: "*",
		ChangeType:   models.ChangeAdd,
		Count:        total,
		ApplianceID:  applianceID,
		UserID:       optionalUser(actingUser),
		Timestamp:    now,
	}); err != nil {
		return total, fmt.Errorf("append add change: %w", err)
	}
	return total, nil
}

func (o *Orchestrator) applyRenames(ctx context.Context, applianceID, actingUser string, desired map[string]string, activeByNumber map[string]*models.CustomerNumber, now time.Time) (int, error) {
	renamed := 0
	var errs *multierror.Error
	var events []*models.NumberEvent

	for number, customer := range desired {
		cur, exists := activeByNumber[number]
		if !exists || cur.CustomerName == customer {
			continue
		}
		if err := o.store.RenameNumberCustomer(ctx, number, applianceID, customer); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("rename %s: %w", number, err))
			continue
		}
		renamed++
		events = append(events, &models.NumberEvent{
			Number:       number,
			Action:       models.ActionUpdate,
			CustomerName: customer,
			ApplianceID:  applianceID,
			FileName:     customer,
			UserID:       optionalUser(actingUser),
			Details:      "moved from " + cur.CustomerName,
			Timestamp:    now,
		})
	}
	if len(events) > 0 {
		if err := o.store.AppendNumberEvents(ctx, events); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("append rename events: %w", err))
		}
	}
	return renamed, errs.ErrorOrNil()
}

func (o *Orchestrator) scheduleRemovals(ctx context.Context, applianceID, actingUser string, desired map[string]string, activeByNumber map[string]*models.CustomerNumber, now time.Time) (int, error) {
	// Exclude numbers already scheduled so the events stay 1:1 with rows
	// actually inserted and a re-run emits nothing.
	pending, err := o.store.ListPendingRemovals(ctx, applianceID)
	if err != nil {
		return 0, fmt.Errorf("list pending removals: %w", err)
	}
	alreadyScheduled := make(map[string]struct{}, len(pending))
	for _, p := range pending {
		alreadyScheduled[p.Number] = struct{}{}
	}

	removalDate := endOfMonth(now)
	var rows []*models.PendingRemoval
	for number, cur := range activeByNumber {
		if _, wanted := desired[number]; wanted {
			continue
		}
		if _, dup := alreadyScheduled[number]; dup {
			continue
		}
		rows = append(rows, &models.PendingRemoval{
			Number:       number,
			CustomerName: cur.CustomerName,
			ApplianceID:  applianceID,
			RemovalDate:  removalDate,
			RemovedBy:    actingUser,
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}

	total := 0
	for start := 0; start < len(rows); start += batchSize {
		end := min(start+batchSize, len(rows))
		inserted, err := o.store.CreatePendingRemovals(ctx, rows[start:end])
		if err != nil {
			return total, fmt.Errorf("schedule removals: %w", err)
		}
		total += inserted
	}

	events := make([]*models.NumberEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, &models.NumberEvent{
			Number:       r.Number,
			Action:       models.ActionRemove,
			CustomerName: r.CustomerName,
			ApplianceID:  applianceID,
			UserID:       optionalUser(actingUser),
			Details:      "scheduled for " + removalDate.Format(time.RFC3339),
			Timestamp:    now,
		})
	}
	if err := o.store.AppendNumberEvents(ctx, events); err != nil {
		return total, fmt.Errorf("append removal events: %w", err)
	}
	if err := o.store.AppendCustomerNumberChange(ctx, &models.CustomerNumberChange{
		CustomerName: "*",
		ChangeType:   models.ChangeRemove,
		Count:        total,
		ApplianceID:  applianceID,
		UserID:       optionalUser(actingUser),
		Details:      "scheduled for " + removalDate.Format(time.RFC3339),
		Timestamp:    now,
	}); err != nil {
		return total, fmt.Errorf("append removal change: %w", err)
	}
	return total, nil
}

func optionalUser(user string) *string {
	if user == "" {
		return nil
	}
	return &user
}
