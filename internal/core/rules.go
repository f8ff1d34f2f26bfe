package core

import (
	"fmt"
	"time"

	"github.com/valter-silva-au/command-center/pkg/models"
)

// RuleInput is everything a rule may look at. Rules are pure functions of it.
type RuleInput struct {
	Snapshot models.Snapshot
	Active   []models.Recommendation
	History  []models.HistoryEntry
	Now      time.Time
}

// Rule is a named, stateless evaluator that proposes candidates from a
// snapshot.
type Rule interface {
	// ID returns the stable rule identifier.
	ID() string
	// BasePriority returns the static priority in [0,100] assigned at
	// definition time.
	BasePriority() int
	// Modules lists the collaborator modules the rule reads.
	Modules() []string
	// Evaluate returns zero or more candidates.
	Evaluate(in RuleInput) ([]models.Candidate, error)
}

// describer is implemented by rules that carry a human description.
type describer interface {
	Description() string
}

// RuleSet is an ordered, immutable collection of rules with unique IDs.
// Registration order is the tie-break order during deduplication.
type RuleSet struct {
	rules []Rule
}

// NewRuleSet validates and orders the given rules.
func NewRuleSet(rules ...Rule) (*RuleSet, error) {
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if r == nil {
			return nil, fmt.Errorf("building rule set: rule is nil")
		}
		id := r.ID()
		if id == "" {
			return nil, fmt.Errorf("building rule set: rule ID is empty")
		}
		if seen[id] {
			return nil, fmt.Errorf("building rule set: rule %q registered twice", id)
		}
		if p := r.BasePriority(); p < 0 || p > 100 {
			return nil, fmt.Errorf("building rule set: rule %q base priority %d outside [0,100]", id, p)
		}
		seen[id] = true
	}
	return &RuleSet{rules: append([]Rule(nil), rules...)}, nil
}

// Rules returns the rules in registration order.
func (s *RuleSet) Rules() []Rule {
	if s == nil {
		return nil
	}
	return append([]Rule(nil), s.rules...)
}

// Len returns the number of registered rules.
func (s *RuleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Without returns a new RuleSet excluding the given rule IDs.
func (s *RuleSet) Without(ids ...string) *RuleSet {
	skip := make(map[string]bool, len(ids))
	for _, id := range ids {
		skip[id] = true
	}
	out := &RuleSet{}
	for _, r := range s.Rules() {
		if !skip[r.ID()] {
			out.rules = append(out.rules, r)
		}
	}
	return out
}

// Describe lists the registered rules.
func (s *RuleSet) Describe() []models.RuleInfo {
	infos := make([]models.RuleInfo, 0, s.Len())
	for _, r := range s.Rules() {
		info := models.RuleInfo{
			ID:           r.ID(),
			BasePriority: r.BasePriority(),
			Modules:      r.Modules(),
		}
		if d, ok := r.(describer); ok {
			info.Description = d.Description()
		}
		infos = append(infos, info)
	}
	return infos
}

// RecentlyDeclined reports whether the user declined the rule's suggestion
// for subjectID within window before now.
func RecentlyDeclined(history []models.HistoryEntry, ruleID, subjectID string, now time.Time, window time.Duration) bool {
	if window <= 0 {
		return false
	}
	cutoff := now.Add(-window)
	for _, h := range history {
		if h.RuleID != ruleID || h.SubjectID != subjectID {
			continue
		}
		if h.FinalStatus != models.StatusDeclined {
			continue
		}
		if !h.DecidedAt.Before(cutoff) {
			return true
		}
	}
	return false
}

// IsActive reports whether an active recommendation from ruleID already
// concerns subjectID.
func IsActive(active []models.Recommendation, ruleID, subjectID string) bool {
	for _, r := range active {
		if r.RuleID == ruleID && r.SubjectID == subjectID {
			return true
		}
	}
	return false
}
