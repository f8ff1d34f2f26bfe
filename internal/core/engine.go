package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/valter-silva-au/command-center/pkg/models"
	"golang.org/x/sync/singleflight"
)

// Engine defaults.
const (
	DefaultLookback     = 180 * 24 * time.Hour
	DefaultTTL          = 72 * time.Hour
	DefaultLowWaterMark = 3
)

// RecommendationRepository persists the active recommendation set.
type RecommendationRepository interface {
	LoadActive() ([]models.Recommendation, error)
	SaveActive(recs []models.Recommendation) error
}

// RecommendationEngine is the lifecycle manager exposed to drivers (CLI,
// dashboard, MCP server).
type RecommendationEngine interface {
	// Load restores persisted state and reconciles active against history.
	Load() error
	// ListActive sweeps expired recommendations, refills the set when it
	// has fallen below the low-water mark, and returns it highest priority
	// first.
	ListActive() ([]models.Recommendation, error)
	// Refresh scans, evaluates and inserts new recommendations. Concurrent
	// calls share one evaluation pass.
	Refresh(ctx context.Context) ([]models.Recommendation, error)
	// Decide accepts or declines an active recommendation and returns the
	// terminal record.
	Decide(ctx context.Context, id string, action models.Action) (*models.Recommendation, error)
	// Sweep expires every recommendation past its ExpiresAt.
	Sweep(ctx context.Context) ([]models.Recommendation, error)
	GetHistory(filter models.HistoryFilter) []models.HistoryEntry
	GetStatistics(filter models.HistoryFilter) models.Statistics
	GetBreakdown(groupBy models.GroupBy, filter models.HistoryFilter) ([]models.GroupStatistics, error)
	GetUsageStatus() (models.UsageStatus, error)
	Rules() []models.RuleInfo
}

// EngineOptions wires an engine. Reader, Evaluator, History and Gate are
// required; everything else is optional.
type EngineOptions struct {
	Reader      SnapshotReader
	Evaluator   Evaluator
	History     HistoryStore
	Gate        UsageGate
	Repo        RecommendationRepository
	EventLogger EventLogger
	Config      models.EngineConfig
	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

type engine struct {
	reader      SnapshotReader
	evaluator   Evaluator
	history     HistoryStore
	gate        UsageGate
	repo        RecommendationRepository
	eventLogger EventLogger
	cfg         models.EngineConfig
	now         func() time.Time
	newID       func() string

	// mu guards active and makes each active->terminal transition, including
	// its history append, a single unit.
	mu     sync.Mutex
	active map[string]models.Recommendation

	flight singleflight.Group
	// flightMu guards call, the refresh pass callers currently join.
	flightMu sync.Mutex
	call     *refreshCall
}

// refreshCall is the context shared by every caller joined on one refresh
// pass. It is cancelled only when all of them have given up.
type refreshCall struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// NewEngine creates a RecommendationEngine.
func NewEngine(opts EngineOptions) (RecommendationEngine, error) {
	if opts.Reader == nil || opts.Evaluator == nil || opts.History == nil || opts.Gate == nil {
		return nil, fmt.Errorf("creating engine: reader, evaluator, history and gate are required")
	}

	cfg := opts.Config
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.LowWaterMark < 0 {
		cfg.LowWaterMark = 0
	}

	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	return &engine{
		reader:      opts.Reader,
		evaluator:   opts.Evaluator,
		history:     opts.History,
		gate:        opts.Gate,
		repo:        opts.Repo,
		eventLogger: opts.EventLogger,
		cfg:         cfg,
		now:         now,
		newID:       newID,
		active:      make(map[string]models.Recommendation),
	}, nil
}

func (e *engine) Load() error {
	if err := e.history.Load(); err != nil {
		return fmt.Errorf("loading engine state: %w", err)
	}
	if e.repo == nil {
		return nil
	}

	recs, err := e.repo.LoadActive()
	if err != nil {
		return fmt.Errorf("loading engine state: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.active = make(map[string]models.Recommendation, len(recs))
	byKey := make(map[string]string, len(recs))
	dropped := 0
	for _, r := range recs {
		if r.ID == "" || r.Status != models.StatusActive || e.history.Has(r.ID) {
			dropped++
			continue
		}
		if otherID, ok := byKey[r.DedupKey]; ok {
			dropped++
			if e.active[otherID].PriorityScore >= r.PriorityScore {
				continue
			}
			delete(e.active, otherID)
		}
		byKey[r.DedupKey] = r.ID
		e.active[r.ID] = r.Clone()
	}

	if dropped > 0 {
		logEvent(e.eventLogger, EventInconsistentRecovery, map[string]any{"dropped": dropped})
		if err := e.persistLocked(); err != nil {
			return fmt.Errorf("loading engine state: %w", err)
		}
	}
	return nil
}

func (e *engine) ListActive() ([]models.Recommendation, error) {
	e.mu.Lock()
	_, err := e.sweepLocked(e.now())
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	// Listing has no caller context; a failed refill only gets logged.
	e.maybeAutoRefresh(context.Background())

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sortedActiveLocked(), nil
}

func (e *engine) Refresh(ctx context.Context) ([]models.Recommendation, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("refreshing: %w", err)
	}

	call, ch := e.joinRefresh(ctx)
	select {
	case res := <-ch:
		e.leaveRefresh(call, false)
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneRecommendations(res.Val.([]models.Recommendation)), nil
	case <-ctx.Done():
		e.leaveRefresh(call, true)
		return nil, fmt.Errorf("refreshing: %w", ctx.Err())
	}
}

// joinRefresh registers a caller on the pending refresh pass, opening a new
// one when none is pending. Registration and joining the flight happen under
// one lock so a pass never runs with a call it did not open.
func (e *engine) joinRefresh(ctx context.Context) (*refreshCall, <-chan singleflight.Result) {
	e.flightMu.Lock()
	defer e.flightMu.Unlock()

	if e.call == nil {
		c, cancel := context.WithCancel(context.WithoutCancel(ctx))
		e.call = &refreshCall{ctx: c, cancel: cancel}
	}
	call := e.call
	call.waiters++
	ch := e.flight.DoChan("refresh", func() (any, error) {
		defer e.finishRefresh(call)
		return e.refresh(call.ctx)
	})
	return call, ch
}

// leaveRefresh unregisters a caller. When the last caller gave up, the pass
// is cancelled and forgotten so later callers start a fresh one.
func (e *engine) leaveRefresh(call *refreshCall, gaveUp bool) {
	e.flightMu.Lock()
	defer e.flightMu.Unlock()

	call.waiters--
	if !gaveUp || call.waiters > 0 {
		return
	}
	call.cancel()
	if e.call == call {
		e.call = nil
		e.flight.Forget("refresh")
	}
}

// finishRefresh closes a pass once it has produced its result; callers that
// arrive afterwards open a new one.
func (e *engine) finishRefresh(call *refreshCall) {
	e.flightMu.Lock()
	defer e.flightMu.Unlock()

	call.cancel()
	if e.call == call {
		e.call = nil
	}
}

// refresh is the single evaluation pass behind Refresh.
func (e *engine) refresh(ctx context.Context) ([]models.Recommendation, error) {
	start := e.now()

	e.mu.Lock()
	if _, err := e.sweepLocked(start); err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("refreshing: %w", err)
	}
	activeSnapshot := e.sortedActiveLocked()
	e.mu.Unlock()

	snap := e.reader.Read(ctx, e.cfg.Lookback)
	candidates, failures := e.evaluator.Evaluate(ctx, RuleInput{
		Snapshot: snap,
		Active:   activeSnapshot,
		History:  e.history.List(models.HistoryFilter{}),
		Now:      start,
	})

	// Up to here nothing has been surfaced; a cancelled refresh stops cleanly.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("refreshing: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	insertAt := e.now()
	// Dedup against the set as it is now; a decide may have run meanwhile.
	drafts := Prepare(candidates, e.sortedActiveLocked(), start)

	granted, err := e.gate.TryConsume(len(drafts), insertAt)
	if err != nil {
		return nil, fmt.Errorf("refreshing: %w", err)
	}
	if granted < len(drafts) {
		logEvent(e.eventLogger, EventQuotaExhausted, map[string]any{
			"requested": len(drafts),
			"granted":   granted,
		})
	}

	inserted := make([]models.Recommendation, 0, granted)
	for _, d := range drafts[:granted] {
		rec := e.newRecommendation(d, insertAt)
		e.active[rec.ID] = rec
		inserted = append(inserted, rec)
	}

	if len(inserted) > 0 {
		if err := e.persistLocked(); err != nil {
			for _, rec := range inserted {
				delete(e.active, rec.ID)
			}
			// Nothing was surfaced, so the grant goes back to the window.
			if relErr := e.gate.Release(len(inserted), insertAt); relErr != nil {
				return nil, fmt.Errorf("refreshing: %w (releasing quota: %v)", err, relErr)
			}
			return nil, fmt.Errorf("refreshing: %w", err)
		}
	}

	for _, rec := range inserted {
		logEvent(e.eventLogger, EventSurfaced, map[string]any{
			"recommendation_id": rec.ID,
			"rule_id":           rec.RuleID,
			"module":            rec.ModuleTag,
			"priority_score":    rec.PriorityScore,
			"confidence":        string(rec.Confidence),
		})
	}
	logEvent(e.eventLogger, EventRefreshCompleted, map[string]any{
		"candidates":  len(candidates),
		"drafts":      len(drafts),
		"inserted":    len(inserted),
		"rule_errors": len(failures),
		"active":      len(e.active),
	})

	return e.sortedActiveLocked(), nil
}

func (e *engine) newRecommendation(d models.Draft, now time.Time) models.Recommendation {
	expires := now.Add(e.cfg.DefaultTTL)
	if d.ExpiresAt != nil && d.ExpiresAt.After(now) {
		expires = *d.ExpiresAt
	}
	return models.Recommendation{
		ID:            e.newID(),
		RuleID:        d.RuleID,
		ModuleTag:     d.ModuleTag,
		SubjectID:     d.SubjectID,
		Title:         d.Title,
		Body:          d.Body,
		Evidence:      models.CloneEvidence(d.Evidence),
		DedupKey:      d.DedupKey,
		PriorityScore: d.PriorityScore,
		Confidence:    d.Confidence,
		Status:        models.StatusActive,
		CreatedAt:     now,
		ExpiresAt:     expires,
	}
}

func (e *engine) Decide(ctx context.Context, id string, action models.Action) (*models.Recommendation, error) {
	status, ok := action.Status()
	if !ok {
		return nil, fmt.Errorf("deciding %s: unsupported action %q (use accept or decline)", id, action)
	}

	e.mu.Lock()
	now := e.now()
	// A recommendation past its expiry can no longer be acted on; expiring it
	// first turns the decision into AlreadyDecided.
	if _, err := e.sweepLocked(now); err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("deciding %s: %w", id, err)
	}
	rec, err := e.transitionLocked(id, status, now)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	e.maybeAutoRefresh(ctx)
	return &rec, nil
}

func (e *engine) Sweep(ctx context.Context) ([]models.Recommendation, error) {
	e.mu.Lock()
	expired, err := e.sweepLocked(e.now())
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	e.maybeAutoRefresh(ctx)
	return expired, nil
}

// sweepLocked expires every active recommendation with now >= ExpiresAt
// through the shared transition path. Callers hold mu.
func (e *engine) sweepLocked(now time.Time) ([]models.Recommendation, error) {
	var due []string
	for id, r := range e.active {
		if !now.Before(r.ExpiresAt) {
			due = append(due, id)
		}
	}
	sort.Strings(due)

	var expired []models.Recommendation
	for _, id := range due {
		rec, err := e.transitionLocked(id, models.StatusExpired, now)
		if err != nil {
			if IsAlreadyDecided(err) {
				// History already holds it; only the active copy was stale.
				delete(e.active, id)
				continue
			}
			return expired, fmt.Errorf("sweeping expired recommendations: %w", err)
		}
		expired = append(expired, rec)
	}
	return expired, nil
}

// transitionLocked moves one active recommendation to a terminal status and
// writes its history entry. The history append happens first so a failure
// leaves the active set untouched. Callers hold mu.
func (e *engine) transitionLocked(id string, status models.RecommendationStatus, now time.Time) (models.Recommendation, error) {
	if e.history.Has(id) {
		return models.Recommendation{}, &AlreadyDecidedError{ID: id}
	}
	rec, ok := e.active[id]
	if !ok {
		return models.Recommendation{}, &UnknownRecommendationError{ID: id}
	}

	decidedAt := now
	terminal := rec.Clone()
	terminal.Status = status
	terminal.DecidedAt = &decidedAt

	entry := models.HistoryEntry{
		RecommendationID:        rec.ID,
		RuleID:                  rec.RuleID,
		ModuleTag:               rec.ModuleTag,
		SubjectID:               rec.SubjectID,
		FinalStatus:             status,
		PriorityScoreAtDecision: rec.PriorityScore,
		CreatedAt:               rec.CreatedAt,
		DecidedAt:               decidedAt,
	}
	if err := e.history.Append(entry); err != nil {
		return models.Recommendation{}, fmt.Errorf("deciding %s: %w", id, err)
	}
	delete(e.active, id)

	// The transition is complete once history holds it; a failed save is
	// repaired by the reconciliation in Load.
	if err := e.persistLocked(); err != nil {
		logEvent(e.eventLogger, EventPersistFailed, map[string]any{
			"recommendation_id": id,
			"error":             err.Error(),
		})
	}

	eventType := EventDecided
	if status == models.StatusExpired {
		eventType = EventExpired
	}
	logEvent(e.eventLogger, eventType, map[string]any{
		"recommendation_id": id,
		"rule_id":           rec.RuleID,
		"module":            rec.ModuleTag,
		"status":            string(status),
		"priority_score":    rec.PriorityScore,
	})

	return terminal, nil
}

// maybeAutoRefresh refreshes when the active set has fallen below the
// low-water mark. Failures are logged, never returned.
func (e *engine) maybeAutoRefresh(ctx context.Context) {
	if !e.cfg.AutoRefresh || e.cfg.LowWaterMark <= 0 {
		return
	}
	e.mu.Lock()
	count := len(e.active)
	e.mu.Unlock()
	if count >= e.cfg.LowWaterMark {
		return
	}
	if _, err := e.Refresh(ctx); err != nil {
		logEvent(e.eventLogger, EventAutoRefreshFailed, map[string]any{
			"active": count,
			"error":  err.Error(),
		})
	}
}

func (e *engine) persistLocked() error {
	if e.repo == nil {
		return nil
	}
	if err := e.repo.SaveActive(e.sortedActiveLocked()); err != nil {
		return fmt.Errorf("saving active recommendations: %w", err)
	}
	return nil
}

// sortedActiveLocked returns copies of the active set by score descending,
// then creation time, then ID. Callers hold mu.
func (e *engine) sortedActiveLocked() []models.Recommendation {
	out := make([]models.Recommendation, 0, len(e.active))
	for _, r := range e.active {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PriorityScore != out[j].PriorityScore {
			return out[i].PriorityScore > out[j].PriorityScore
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (e *engine) GetHistory(filter models.HistoryFilter) []models.HistoryEntry {
	return e.history.List(filter)
}

func (e *engine) GetStatistics(filter models.HistoryFilter) models.Statistics {
	return e.history.Statistics(filter)
}

func (e *engine) GetBreakdown(groupBy models.GroupBy, filter models.HistoryFilter) ([]models.GroupStatistics, error) {
	return e.history.Breakdown(groupBy, filter)
}

func (e *engine) GetUsageStatus() (models.UsageStatus, error) {
	return e.gate.Status(e.now())
}

func (e *engine) Rules() []models.RuleInfo {
	return e.evaluator.RuleSet().Describe()
}

func cloneRecommendations(in []models.Recommendation) []models.Recommendation {
	out := make([]models.Recommendation, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}
