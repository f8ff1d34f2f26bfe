package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/valter-silva-au/command-center/pkg/models"
)

// DefaultUsageWindow is the rolling window length when none is configured.
const DefaultUsageWindow = 24 * time.Hour

// UsageRepository persists the usage window.
type UsageRepository interface {
	// LoadUsage returns nil when no window has been saved yet.
	LoadUsage() (*models.UsageWindow, error)
	SaveUsage(window models.UsageWindow) error
}

// UsageGate limits how many recommendations may be surfaced per window.
type UsageGate interface {
	// TryConsume grants between 0 and n slots and records the grant.
	TryConsume(n int, now time.Time) (int, error)
	// Release returns n previously granted slots to the current window.
	Release(n int, now time.Time) error
	Status(now time.Time) (models.UsageStatus, error)
}

type usageGate struct {
	mu       sync.Mutex
	repo     UsageRepository
	tier     models.Tier
	limit    int
	duration time.Duration
	window   *models.UsageWindow
	loaded   bool
}

// NewUsageGate creates a UsageGate for the configured tier. repo may be nil
// for an in-memory window.
func NewUsageGate(cfg models.UsageConfig, repo UsageRepository) UsageGate {
	duration := cfg.Window
	if duration <= 0 {
		duration = DefaultUsageWindow
	}
	tier := cfg.Tier
	if tier == "" {
		tier = models.TierFree
	}
	return &usageGate{
		repo:     repo,
		tier:     tier,
		limit:    cfg.TierLimit(),
		duration: duration,
	}
}

func (g *usageGate) TryConsume(n int, now time.Time) (int, error) {
	if n < 0 {
		return 0, fmt.Errorf("consuming usage: negative request %d", n)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	w, err := g.current(now)
	if err != nil {
		return 0, err
	}

	available := w.TierLimit - w.ConsumedCount
	if available < 0 {
		available = 0
	}
	granted := n
	if granted > available {
		granted = available
	}
	if granted == 0 {
		return 0, nil
	}

	next := *w
	next.ConsumedCount += granted
	if err := g.save(next); err != nil {
		return 0, err
	}
	return granted, nil
}

func (g *usageGate) Release(n int, now time.Time) error {
	if n <= 0 {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	w, err := g.current(now)
	if err != nil {
		return err
	}
	next := *w
	next.ConsumedCount -= n
	if next.ConsumedCount < 0 {
		next.ConsumedCount = 0
	}
	if next.ConsumedCount == w.ConsumedCount {
		return nil
	}
	return g.save(next)
}

func (g *usageGate) Status(now time.Time) (models.UsageStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	w, err := g.current(now)
	if err != nil {
		return models.UsageStatus{}, err
	}
	remaining := w.TierLimit - w.ConsumedCount
	if remaining < 0 {
		remaining = 0
	}
	return models.UsageStatus{
		Tier:      g.tier,
		Remaining: remaining,
		Limit:     w.TierLimit,
		Consumed:  w.ConsumedCount,
		ResetsAt:  w.ResetsAt(),
	}, nil
}

// current returns the window covering now, creating it on first access and
// rolling it forward by whole durations once it has elapsed. Callers hold mu.
func (g *usageGate) current(now time.Time) (*models.UsageWindow, error) {
	if !g.loaded {
		if g.repo != nil {
			w, err := g.repo.LoadUsage()
			if err != nil {
				return nil, fmt.Errorf("loading usage window: %w", err)
			}
			g.window = w
		}
		g.loaded = true
	}

	if g.window == nil {
		w := models.UsageWindow{
			TierLimit:      g.limit,
			WindowStart:    now,
			WindowDuration: g.duration,
		}
		if err := g.save(w); err != nil {
			return nil, err
		}
		return g.window, nil
	}

	w := *g.window
	changed := false
	// Configuration wins over the persisted tier and duration.
	if w.TierLimit != g.limit || w.WindowDuration != g.duration {
		w.TierLimit = g.limit
		w.WindowDuration = g.duration
		changed = true
	}
	if !now.Before(w.ResetsAt()) {
		elapsed := now.Sub(w.WindowStart) / w.WindowDuration
		w.WindowStart = w.WindowStart.Add(elapsed * w.WindowDuration)
		w.ConsumedCount = 0
		changed = true
	}
	if changed {
		if err := g.save(w); err != nil {
			return nil, err
		}
	}
	return g.window, nil
}

func (g *usageGate) save(w models.UsageWindow) error {
	if g.repo != nil {
		if err := g.repo.SaveUsage(w); err != nil {
			return fmt.Errorf("saving usage window: %w", err)
		}
	}
	g.window = &w
	return nil
}
