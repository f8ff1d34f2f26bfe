package core

import (
	"context"
	"fmt"

	"github.com/valter-silva-au/command-center/pkg/models"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxConcurrency bounds how many rules are evaluated at once.
const DefaultMaxConcurrency = 4

// Evaluator runs every rule of a RuleSet against one input, isolating
// per-rule failures.
type Evaluator interface {
	Evaluate(ctx context.Context, in RuleInput) ([]models.Candidate, []RuleEvaluationError)
	RuleSet() *RuleSet
}

type evaluator struct {
	rules          *RuleSet
	maxConcurrency int
	eventLogger    EventLogger
}

// NewEvaluator creates an Evaluator over rules. maxConcurrency <= 0 selects
// DefaultMaxConcurrency. eventLogger may be nil.
func NewEvaluator(rules *RuleSet, maxConcurrency int, eventLogger EventLogger) Evaluator {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	if rules == nil {
		rules = &RuleSet{}
	}
	return &evaluator{
		rules:          rules,
		maxConcurrency: maxConcurrency,
		eventLogger:    eventLogger,
	}
}

func (e *evaluator) RuleSet() *RuleSet { return e.rules }

// ruleOutcome is the per-rule slot filled by one goroutine.
type ruleOutcome struct {
	candidates []models.Candidate
	err        error
}

// Evaluate invokes every rule; it returns once all of them have finished.
// Candidates come back flattened in registration order.
func (e *evaluator) Evaluate(ctx context.Context, in RuleInput) ([]models.Candidate, []RuleEvaluationError) {
	rules := e.rules.Rules()
	outcomes := make([]ruleOutcome, len(rules))

	var g errgroup.Group
	g.SetLimit(e.maxConcurrency)
	for i, rule := range rules {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i] = ruleOutcome{err: err}
				return nil
			}
			outcomes[i] = runRule(rule, in)
			return nil
		})
	}
	_ = g.Wait()

	var candidates []models.Candidate
	var failures []RuleEvaluationError
	for i, rule := range rules {
		out := outcomes[i]
		if out.err != nil {
			failure := RuleEvaluationError{RuleID: rule.ID(), Cause: out.err}
			failures = append(failures, failure)
			logEvent(e.eventLogger, EventRuleFailed, map[string]any{
				"rule_id": rule.ID(),
				"error":   out.err.Error(),
			})
			continue
		}
		candidates = append(candidates, out.candidates...)
	}
	return candidates, failures
}

// runRule evaluates one rule, recovering panics and validating its output.
func runRule(rule Rule, in RuleInput) (out ruleOutcome) {
	defer func() {
		if p := recover(); p != nil {
			out = ruleOutcome{err: fmt.Errorf("rule panicked: %v", p)}
		}
	}()

	candidates, err := rule.Evaluate(in)
	if err != nil {
		return ruleOutcome{err: err}
	}

	stamped := make([]models.Candidate, 0, len(candidates))
	for i, c := range candidates {
		if err := validateCandidate(c); err != nil {
			return ruleOutcome{err: fmt.Errorf("candidate %d: %w", i, err)}
		}
		c.RuleID = rule.ID()
		c.BasePriority = rule.BasePriority()
		c.Evidence = models.CloneEvidence(c.Evidence)
		stamped = append(stamped, c)
	}
	return ruleOutcome{candidates: stamped}
}

func validateCandidate(c models.Candidate) error {
	if len(c.Evidence) == 0 {
		return fmt.Errorf("%w: evidence is empty", errInvalidCandidate)
	}
	if c.SubjectID == "" && c.DedupKey == "" {
		return fmt.Errorf("%w: subject is empty", errInvalidCandidate)
	}
	if c.Title == "" {
		return fmt.Errorf("%w: title is empty", errInvalidCandidate)
	}
	if c.ModuleTag == "" {
		return fmt.Errorf("%w: module tag is empty", errInvalidCandidate)
	}
	return nil
}
