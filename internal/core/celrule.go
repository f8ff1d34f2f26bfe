package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"
	"github.com/valter-silva-au/command-center/pkg/models"
)

// CELRule is a declarative rule whose predicate is a CEL expression
// evaluated once per record of its module.
type CELRule struct {
	def     models.RuleDefinition
	program cel.Program
}

// newCELEnv declares the variables available to rule expressions.
func newCELEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("now", cel.TimestampType),
		ext.Strings(),
		cel.DefaultUTCTimeZone(true),
	)
}

// CompileRule compiles a rule definition into a CELRule.
func CompileRule(def models.RuleDefinition) (*CELRule, error) {
	if err := validateDefinition(def); err != nil {
		return nil, err
	}

	env, err := newCELEnv()
	if err != nil {
		return nil, fmt.Errorf("compiling rule %s: creating CEL environment: %w", def.ID, err)
	}

	ast, iss := env.Compile(def.Expression)
	if iss.Err() != nil {
		return nil, fmt.Errorf("compiling rule %s: %w", def.ID, iss.Err())
	}
	out := ast.OutputType()
	if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("compiling rule %s: expression must return bool, got %s", def.ID, out)
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("compiling rule %s: building program: %w", def.ID, err)
	}
	return &CELRule{def: def, program: prg}, nil
}

// CompileRules compiles every definition, reporting all failures at once.
func CompileRules(defs []models.RuleDefinition) ([]Rule, error) {
	var rules []Rule
	var errs []string
	for _, def := range defs {
		r, err := CompileRule(def)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		rules = append(rules, r)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("rule compilation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return rules, nil
}

func validateDefinition(def models.RuleDefinition) error {
	var errs []string
	if def.ID == "" {
		errs = append(errs, "id must not be empty")
	}
	if def.Module == "" {
		errs = append(errs, "module must not be empty")
	}
	if strings.TrimSpace(def.Expression) == "" {
		errs = append(errs, "expression must not be empty")
	}
	if def.Title == "" {
		errs = append(errs, "title must not be empty")
	}
	if def.BasePriority < 0 || def.BasePriority > 100 {
		errs = append(errs, fmt.Sprintf("base_priority %d must be between 0 and 100", def.BasePriority))
	}
	if def.Cooldown < 0 || def.TTL < 0 {
		errs = append(errs, "cooldown and ttl must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("rule %q is invalid: %s", def.ID, strings.Join(errs, "; "))
	}
	return nil
}

func (r *CELRule) ID() string          { return r.def.ID }
func (r *CELRule) BasePriority() int   { return r.def.BasePriority }
func (r *CELRule) Modules() []string   { return []string{r.def.Module} }
func (r *CELRule) Description() string { return r.def.Description }

// Evaluate runs the expression against every record of the rule's module.
// An evaluation error fails the whole rule for this pass.
func (r *CELRule) Evaluate(in RuleInput) ([]models.Candidate, error) {
	var out []models.Candidate
	for _, rec := range in.Snapshot.Records(r.def.Module) {
		if IsActive(in.Active, r.def.ID, rec.ID) {
			continue
		}
		if RecentlyDeclined(in.History, r.def.ID, rec.ID, in.Now, r.def.Cooldown) {
			continue
		}

		val, _, err := r.program.Eval(map[string]any{
			"record": recordActivation(rec),
			"now":    in.Now,
		})
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", rec.ID, err)
		}
		matched, ok := val.Value().(bool)
		if !ok {
			return nil, fmt.Errorf("record %s: expression returned %T, want bool", rec.ID, val.Value())
		}
		if !matched {
			continue
		}

		c := models.Candidate{
			ModuleTag: r.def.Module,
			SubjectID: rec.ID,
			Title:     expandTemplate(r.def.Title, rec),
			Body:      expandTemplate(r.def.Body, rec),
			Evidence:  []models.Evidence{evidenceFor(rec)},
		}
		if r.def.TTL > 0 {
			exp := in.Now.Add(r.def.TTL)
			c.ExpiresAt = &exp
		}
		out = append(out, c)
	}
	return out, nil
}

// recordActivation exposes a record to CEL as a map.
func recordActivation(rec models.Record) map[string]any {
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	text := rec.TextFields
	if text == nil {
		text = []string{}
	}
	m := map[string]any{
		"id":         rec.ID,
		"module":     rec.Module,
		"title":      rec.Title(),
		"created_at": rec.CreatedAt,
		"updated_at": rec.UpdatedAt,
		"tags":       tags,
		"text":       text,
		"has_due":    rec.DueAt != nil,
		"due_at":     time.Time{},
	}
	if rec.DueAt != nil {
		m["due_at"] = *rec.DueAt
	}
	return m
}

func expandTemplate(tmpl string, rec models.Record) string {
	return strings.NewReplacer(
		"{title}", rec.Title(),
		"{id}", rec.ID,
		"{module}", rec.Module,
	).Replace(tmpl)
}
