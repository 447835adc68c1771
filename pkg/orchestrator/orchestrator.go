// Package orchestrator implements the fleet-wide operations: fan-out file
// updates across every active appliance, digit-map inventory sync, the
// number-diff pipeline and scheduled removals.
package orchestrator

import (
	"context"
	"io"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/telique/sbcfleet/internal/logger"
	"github.com/telique/sbcfleet/pkg/fleet/store"
	"github.com/telique/sbcfleet/pkg/prosbc"
)

const (
	// DefaultFanOutWorkers bounds in-flight appliance operations per fan-out.
	DefaultFanOutWorkers = 8

	// DefaultGlobalInFlight is the hard cap on concurrent appliance requests
	// across all fan-outs sharing one orchestrator.
	DefaultGlobalInFlight = 64

	// batchSize bounds bulk writes to the store.
	batchSize = 1000
)

// FileService is the slice of the appliance driver the orchestrator uses.
// *prosbc.Service satisfies it.
type FileService interface {
	ListFiles(ctx context.Context, applianceID, configRef string, kind prosbc.FileKind) ([]prosbc.FileDescriptor, error)
	ExportFile(ctx context.Context, applianceID, configRef string, kind prosbc.FileKind, fileID string) (io.ReadCloser, error)
	UploadFile(ctx context.Context, applianceID, configRef string, kind prosbc.FileKind, fileName string, content []byte, mode prosbc.UploadMode) (*prosbc.UploadResult, error)
	DeleteFile(ctx context.Context, applianceID, configRef string, kind prosbc.FileKind, nameOrID string) error
}

// Metrics observes orchestrator activity. Pass nil to disable.
type Metrics interface {
	RecordFanOut(op string, appliances int, failures int, duration time.Duration)
	RecordSync(applianceID string, files int, errors int, duration time.Duration)
}

// Options tunes the orchestrator; zero values take the defaults.
type Options struct {
	FanOutWorkers  int
	GlobalInFlight int
	Metrics        Metrics
}

// Orchestrator coordinates appliance I/O (through FileService) with the
// fleet store. All methods are safe for concurrent use.
type Orchestrator struct {
	svc     FileService
	store   store.Store
	metrics Metrics

	workers int
	global  *semaphore.Weighted
	now     func() time.Time // test hook
}

// New creates an orchestrator over the appliance driver and the store.
func New(svc FileService, st store.Store, opts Options) *Orchestrator {
	if opts.FanOutWorkers <= 0 {
		opts.FanOutWorkers = DefaultFanOutWorkers
	}
	if opts.GlobalInFlight <= 0 {
		opts.GlobalInFlight = DefaultGlobalInFlight
	}
	return &Orchestrator{
		svc:     svc,
		store:   st,
		metrics: opts.Metrics,
		workers: opts.FanOutWorkers,
		global:  semaphore.NewWeighted(int64(opts.GlobalInFlight)),
		now:     time.Now,
	}
}

// SearchNumbers returns active numbers matching the query.
func (o *Orchestrator) SearchNumbers(ctx context.Context, query string, limit int) ([]*SearchHit, error) {
	rows, err := o.store.SearchNumbers(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	hits := make([]*SearchHit, 0, len(rows))
	for _, r := range rows {
		hits = append(hits, &SearchHit{
			Number:       r.Number,
			CustomerName: r.CustomerName,
			ApplianceID:  r.ApplianceID,
			AddedDate:    r.AddedDate,
		})
	}
	return hits, nil
}

// SearchHit is one row of a number search.
type SearchHit struct {
	Number       string    `json:"number"`
	CustomerName string    `json:"customerName"`
	ApplianceID  string    `json:"applianceId"`
	AddedDate    time.Time `json:"addedDate"`
}

// MonthlyUsage reports per-customer unique-number counts for one calendar
// month; applianceID "" covers the whole fleet.
func (o *Orchestrator) MonthlyUsage(ctx context.Context, year int, month time.Month, applianceID string) ([]store.CustomerUsage, error) {
	return o.store.MonthlyUsage(ctx, year, month, applianceID)
}

// endOfMonth returns the last representable instant of t's calendar month in
// t's location.
func endOfMonth(t time.Time) time.Time {
	firstOfNext := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, 0)
	return firstOfNext.Add(-time.Nanosecond)
}

func (o *Orchestrator) recordFanOut(op string, appliances, failures int, start time.Time) {
	if o.metrics == nil {
		return
	}
	o.metrics.RecordFanOut(op, appliances, failures, time.Since(start))
}

func (o *Orchestrator) recordSync(applianceID string, files, errors int, start time.Time) {
	if o.metrics != nil {
		o.metrics.RecordSync(applianceID, files, errors, time.Since(start))
	}
	logger.Debug("inventory sync finished", "appliance", applianceID, "files", files, "errors", errors)
}
