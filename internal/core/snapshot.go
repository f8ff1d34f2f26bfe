package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/valter-silva-au/command-center/pkg/models"
	"golang.org/x/sync/errgroup"
)

// ModuleProvider is the read-only collaborator the snapshot reader pulls
// records from.
type ModuleProvider interface {
	ListRecords(ctx context.Context, module string, since time.Time) ([]models.Record, error)
}

// SnapshotReader builds a bounded, read-only view over the collaborator
// modules that rules evaluate.
type SnapshotReader interface {
	Read(ctx context.Context, lookback time.Duration) models.Snapshot
}

type snapshotReader struct {
	provider      ModuleProvider
	modules       []string
	moduleTimeout time.Duration
	eventLogger   EventLogger
	now           func() time.Time
}

// NewSnapshotReader creates a SnapshotReader over the given modules.
// A moduleTimeout of zero means the caller's context is the only bound.
// eventLogger may be nil.
func NewSnapshotReader(provider ModuleProvider, modules []string, moduleTimeout time.Duration, eventLogger EventLogger) SnapshotReader {
	return &snapshotReader{
		provider:      provider,
		modules:       append([]string(nil), modules...),
		moduleTimeout: moduleTimeout,
		eventLogger:   eventLogger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Read fetches every module concurrently. An unavailable module (error,
// timeout or panic) yields an empty sequence; Read itself never fails.
func (r *snapshotReader) Read(ctx context.Context, lookback time.Duration) models.Snapshot {
	now := r.now()
	snap := models.Snapshot{
		TakenAt: now,
		Since:   now.Add(-lookback),
		Modules: make(map[string][]models.Record, len(r.modules)),
	}

	var mu sync.Mutex
	var g errgroup.Group
	for _, module := range r.modules {
		g.Go(func() error {
			records, err := r.readModule(ctx, module, snap.Since)
			if err != nil {
				logEvent(r.eventLogger, EventModuleUnavailable, map[string]any{
					"module": module,
					"error":  err.Error(),
				})
				records = nil
			}

			mu.Lock()
			snap.Modules[module] = records
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return snap
}

func (r *snapshotReader) readModule(ctx context.Context, module string, since time.Time) (records []models.Record, err error) {
	if r.provider == nil {
		return nil, fmt.Errorf("no module provider configured")
	}

	if r.moduleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.moduleTimeout)
		defer cancel()
	}

	type result struct {
		records []models.Record
		err     error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("provider panicked: %v", p)}
			}
		}()
		recs, err := r.provider.ListRecords(ctx, module, since)
		done <- result{records: recs, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("listing %s records: %w", module, ctx.Err())
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("listing %s records: %w", module, res.err)
		}
		records = normalizeRecords(module, res.records)
		return records, nil
	}
}

// normalizeRecords stamps the module name and orders records by UpdatedAt
// then ID so rule output is deterministic.
func normalizeRecords(module string, in []models.Record) []models.Record {
	out := make([]models.Record, len(in))
	copy(out, in)
	for i := range out {
		if out[i].Module == "" {
			out[i].Module = module
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
