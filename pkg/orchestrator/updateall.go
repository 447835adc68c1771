package orchestrator

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/telique/sbcfleet/internal/logger"
	"github.com/telique/sbcfleet/pkg/prosbc"
)

// ApplianceResult is one entry of a fan-out result vector. A file missing on
// an appliance is reported as success=false with a message, not as an error.
type ApplianceResult struct {
	ApplianceID string            `json:"applianceId"`
	URL         string            `json:"url"`
	Success     bool              `json:"success"`
	Message     string            `json:"message,omitempty"`
	Error       string            `json:"error,omitempty"`
	ErrorType   prosbc.ErrorClass `json:"errorType,omitempty"`

	// MatchDistance/MatchRelative carry the fuzzy-match diagnostics when the
	// file was resolved by edit distance rather than an exact rule.
	MatchTier     string  `json:"matchTier,omitempty"`
	MatchDistance int     `json:"matchDistance,omitempty"`
	MatchRelative float64 `json:"matchRelative,omitempty"`
}

// UpdateOnAll pushes one file to every active appliance in parallel with
// bounded concurrency. The file is resolved per appliance by the tiered name
// match, and appliances that do not carry it are reported as skipped. The
// result vector preserves the appliance list order and never short-circuits
// on individual failures.
func (o *Orchestrator) UpdateOnAll(ctx context.Context, kind prosbc.FileKind, fileName string, content []byte) ([]ApplianceResult, error) {
	start := o.now()
	apps, err := o.store.ListActiveAppliances(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]ApplianceResult, len(apps))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)

	for i, app := range apps {
		results[i] = ApplianceResult{ApplianceID: app.ID, URL: app.BaseURL}
		g.Go(func() error {
			if err := o.global.Acquire(gctx, 1); err != nil {
				results[i] = failureResult(results[i], err)
				return nil
			}
			defer o.global.Release(1)

			results[i] = o.updateOne(gctx, results[i], kind, fileName, content)
			return nil
		})
	}
	_ = g.Wait() // workers report through the vector, never through errors

	failures := 0
	for _, r := range results {
		if r.Error != "" {
			failures++
		}
	}
	o.recordFanOut("update", len(apps), failures, start)
	logger.Info("fan-out update finished",
		"kind", string(kind), "file", fileName, "appliances", len(apps), "failures", failures)
	return results, nil
}

func (o *Orchestrator) updateOne(ctx context.Context, res ApplianceResult, kind prosbc.FileKind, fileName string, content []byte) ApplianceResult {
	files, err := o.svc.ListFiles(ctx, res.ApplianceID, "", kind)
	if err != nil {
		return failureResult(res, err)
	}

	m := prosbc.MatchFile(files, fileName)
	if m == nil {
		res.Success = false
		res.Message = "not on this instance"
		return res
	}
	res.MatchTier = m.Tier.String()
	if m.Tier == prosbc.TierLevenshtein {
		res.MatchDistance = m.Distance
		res.MatchRelative = m.Relative
	}

	upload, err := o.svc.UploadFile(ctx, res.ApplianceID, "", kind, m.File.Name, content, prosbc.ModeUpdate)
	if err != nil {
		return failureResult(res, err)
	}

	res.Success = true
	res.Message = "updated " + upload.FileName
	if !upload.Verified {
		res.Message += " (unverified)"
	}
	return res
}

func failureResult(res ApplianceResult, err error) ApplianceResult {
	res.Success = false
	res.Error = err.Error()
	res.ErrorType = prosbc.Classify(err)
	return res
}
