package core

import (
	"sort"
	"time"

	"github.com/valter-silva-au/command-center/pkg/models"
)

// Scoring constants. The bonus is a tunable, not a load-bearing value.
const (
	RecencyBonus  = 5
	RecencyWindow = 24 * time.Hour

	// Confidence bucket boundaries: score < mediumFloor is low,
	// score > highFloor is high, everything between is medium.
	mediumFloor = 50
	highFloor   = 75
)

// DedupKey returns the identity used to suppress duplicate suggestions.
func DedupKey(c models.Candidate) string {
	if c.DedupKey != "" {
		return c.DedupKey
	}
	return c.ModuleTag + ":" + c.RuleID + ":" + c.SubjectID
}

// ConfidenceFor maps a score onto its fixed confidence bucket.
func ConfidenceFor(score int) models.Confidence {
	switch {
	case score < mediumFloor:
		return models.ConfidenceLow
	case score <= highFloor:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceHigh
	}
}

// RecencyBonusFor returns RecencyBonus when the newest evidence was observed
// within RecencyWindow of now, and zero otherwise. It never penalises.
func RecencyBonusFor(evidence []models.Evidence, now time.Time) int {
	cutoff := now.Add(-RecencyWindow)
	for _, e := range evidence {
		if !e.ObservedAt.Before(cutoff) {
			return RecencyBonus
		}
	}
	return 0
}

// Score computes clamp(base + recency bonus, 0, 100).
func Score(c models.Candidate, now time.Time) int {
	return clamp(c.BasePriority+RecencyBonusFor(c.Evidence, now), 0, 100)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// earliestEvidence returns the oldest evidence timestamp of a candidate.
func earliestEvidence(evidence []models.Evidence) time.Time {
	var earliest time.Time
	for i, e := range evidence {
		if i == 0 || e.ObservedAt.Before(earliest) {
			earliest = e.ObservedAt
		}
	}
	return earliest
}

// Prepare deduplicates candidates against the active set and each other,
// scores them, and orders them for insertion.
//
// candidates must be in rule registration order: within a batch the higher
// base priority wins a key collision and the earlier candidate wins a tie.
// The result is sorted by score descending, then by earliest evidence, then
// by batch position.
func Prepare(candidates []models.Candidate, active []models.Recommendation, now time.Time) []models.Draft {
	activeKeys := make(map[string]struct{}, len(active))
	for _, r := range active {
		activeKeys[r.DedupKey] = struct{}{}
	}

	type slot struct {
		draft models.Draft
		order int
	}
	byKey := make(map[string]int)
	var slots []slot

	for i, c := range candidates {
		key := DedupKey(c)
		if _, ok := activeKeys[key]; ok {
			continue
		}
		if idx, ok := byKey[key]; ok {
			if c.BasePriority <= slots[idx].draft.BasePriority {
				continue
			}
			slots[idx] = slot{draft: newDraft(c, key, now), order: slots[idx].order}
			continue
		}
		byKey[key] = len(slots)
		slots = append(slots, slot{draft: newDraft(c, key, now), order: i})
	}

	sort.SliceStable(slots, func(i, j int) bool {
		a, b := slots[i].draft, slots[j].draft
		if a.PriorityScore != b.PriorityScore {
			return a.PriorityScore > b.PriorityScore
		}
		ea, eb := earliestEvidence(a.Evidence), earliestEvidence(b.Evidence)
		if !ea.Equal(eb) {
			return ea.Before(eb)
		}
		return slots[i].order < slots[j].order
	})

	drafts := make([]models.Draft, len(slots))
	for i, s := range slots {
		drafts[i] = s.draft
	}
	return drafts
}

func newDraft(c models.Candidate, key string, now time.Time) models.Draft {
	score := Score(c, now)
	c.Evidence = models.CloneEvidence(c.Evidence)
	return models.Draft{
		Candidate:     c,
		DedupKey:      key,
		PriorityScore: score,
		Confidence:    ConfidenceFor(score),
	}
}
