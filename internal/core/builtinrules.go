package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/valter-silva-au/command-center/pkg/models"
)

// Built-in rule IDs.
const (
	RuleTaskOverdue     = "task-overdue"
	RuleTaskDueSoon     = "task-due-soon"
	RuleMeetingPrep     = "meeting-prep"
	RuleTaskStale       = "task-stale"
	RuleNoteUntagged    = "note-untagged"
	RuleContactFollowup = "contact-followup"
)

const (
	defaultCooldown = 7 * 24 * time.Hour
	dueSoonWindow   = 24 * time.Hour
	staleTaskAge    = 14 * 24 * time.Hour
	untaggedNoteAge = 24 * time.Hour
	followupAge     = 90 * 24 * time.Hour
)

// doneTags mark a task as finished.
var doneTags = []string{"done", "completed", "archived"}

func isDone(r models.Record) bool {
	for _, t := range doneTags {
		if r.HasTag(t) {
			return true
		}
	}
	return false
}

// recordRule is a built-in rule that inspects one module record by record.
type recordRule struct {
	id          string
	module      string
	priority    int
	cooldown    time.Duration
	description string
	// match returns the title, body and expiry of a candidate for r, or
	// ok=false when the record does not qualify.
	match func(r models.Record, in RuleInput) (title, body string, expires *time.Time, ok bool)
}

func (r *recordRule) ID() string          { return r.id }
func (r *recordRule) BasePriority() int   { return r.priority }
func (r *recordRule) Modules() []string   { return []string{r.module} }
func (r *recordRule) Description() string { return r.description }

func (r *recordRule) Evaluate(in RuleInput) ([]models.Candidate, error) {
	var out []models.Candidate
	for _, rec := range in.Snapshot.Records(r.module) {
		if IsActive(in.Active, r.id, rec.ID) {
			continue
		}
		if RecentlyDeclined(in.History, r.id, rec.ID, in.Now, r.cooldown) {
			continue
		}
		title, body, expires, ok := r.match(rec, in)
		if !ok {
			continue
		}
		out = append(out, models.Candidate{
			ModuleTag: r.module,
			SubjectID: rec.ID,
			Title:     title,
			Body:      body,
			Evidence:  []models.Evidence{evidenceFor(rec)},
			ExpiresAt: expires,
		})
	}
	return out, nil
}

// evidenceFor builds the evidence entry for a record. ObservedAt is the
// record's last update.
func evidenceFor(rec models.Record) models.Evidence {
	excerpt := rec.Title()
	if len(rec.TextFields) > 1 {
		excerpt = excerpt + ": " + rec.TextFields[1]
	}
	return models.Evidence{
		SourceRecordID: rec.ID,
		SourceModule:   rec.Module,
		ObservedAt:     rec.UpdatedAt,
		Excerpt:        truncate(excerpt, 160),
	}
}

// BuiltinRules returns the stock rule set in registration order.
func BuiltinRules() []Rule {
	return []Rule{
		&recordRule{
			id:          RuleTaskOverdue,
			module:      models.ModuleTasks,
			priority:    90,
			cooldown:    24 * time.Hour,
			description: "Open task past its due date",
			match: func(r models.Record, in RuleInput) (string, string, *time.Time, bool) {
				if r.DueAt == nil || isDone(r) || !r.DueAt.Before(in.Now) {
					return "", "", nil, false
				}
				overdue := in.Now.Sub(*r.DueAt).Round(time.Hour)
				return fmt.Sprintf("Overdue: %s", r.Title()),
					fmt.Sprintf("This task was due %s ago. Reschedule it or mark it done.", formatAge(overdue)),
					nil, true
			},
		},
		&recordRule{
			id:          RuleTaskDueSoon,
			module:      models.ModuleTasks,
			priority:    80,
			cooldown:    defaultCooldown,
			description: "Open task due within the next 24 hours",
			match: func(r models.Record, in RuleInput) (string, string, *time.Time, bool) {
				if r.DueAt == nil || isDone(r) {
					return "", "", nil, false
				}
				if r.DueAt.Before(in.Now) || r.DueAt.Sub(in.Now) > dueSoonWindow {
					return "", "", nil, false
				}
				due := *r.DueAt
				return fmt.Sprintf("Due soon: %s", r.Title()),
					fmt.Sprintf("Due %s. Block time for it today.", due.Format("Mon 15:04")),
					&due, true
			},
		},
		&recordRule{
			id:          RuleMeetingPrep,
			module:      models.ModuleCalendar,
			priority:    75,
			cooldown:    defaultCooldown,
			description: "Upcoming event without a preparation note",
			match: func(r models.Record, in RuleInput) (string, string, *time.Time, bool) {
				if r.DueAt == nil || r.DueAt.Before(in.Now) || r.DueAt.Sub(in.Now) > dueSoonWindow {
					return "", "", nil, false
				}
				if noteMentions(in.Snapshot.Records(models.ModuleNotes), r) {
					return "", "", nil, false
				}
				start := *r.DueAt
				return fmt.Sprintf("Prepare for %s", r.Title()),
					fmt.Sprintf("Starts %s and no note references it yet.", start.Format("Mon 15:04")),
					&start, true
			},
		},
		&recordRule{
			id:          RuleTaskStale,
			module:      models.ModuleTasks,
			priority:    70,
			cooldown:    defaultCooldown,
			description: "Open task untouched for two weeks",
			match: func(r models.Record, in RuleInput) (string, string, *time.Time, bool) {
				if isDone(r) || in.Now.Sub(r.UpdatedAt) < staleTaskAge {
					return "", "", nil, false
				}
				return fmt.Sprintf("Revisit: %s", r.Title()),
					fmt.Sprintf("No updates for %s. Break it down, delegate or drop it.", formatAge(in.Now.Sub(r.UpdatedAt))),
					nil, true
			},
		},
		&recordRule{
			id:          RuleNoteUntagged,
			module:      models.ModuleNotes,
			priority:    40,
			cooldown:    defaultCooldown,
			description: "Note without tags",
			match: func(r models.Record, in RuleInput) (string, string, *time.Time, bool) {
				if len(r.Tags) > 0 || in.Now.Sub(r.CreatedAt) < untaggedNoteAge {
					return "", "", nil, false
				}
				return fmt.Sprintf("Tag note: %s", r.Title()),
					"Untagged notes are hard to find later. Add a tag or two.",
					nil, true
			},
		},
		&recordRule{
			id:          RuleContactFollowup,
			module:      models.ModuleContacts,
			priority:    30,
			cooldown:    defaultCooldown,
			description: "Contact not touched for 90 days",
			match: func(r models.Record, in RuleInput) (string, string, *time.Time, bool) {
				if in.Now.Sub(r.UpdatedAt) < followupAge {
					return "", "", nil, false
				}
				return fmt.Sprintf("Catch up with %s", r.Title()),
					fmt.Sprintf("Last interaction %s ago.", formatAge(in.Now.Sub(r.UpdatedAt))),
					nil, true
			},
		},
	}
}

// noteMentions reports whether any note references the event by ID or title.
func noteMentions(notes []models.Record, event models.Record) bool {
	title := strings.ToLower(event.Title())
	for _, n := range notes {
		for _, field := range n.TextFields {
			lower := strings.ToLower(field)
			if strings.Contains(lower, strings.ToLower(event.ID)) {
				return true
			}
			if title != "" && strings.Contains(lower, title) {
				return true
			}
		}
	}
	return false
}

// formatAge renders a duration as whole days, or hours under two days.
func formatAge(d time.Duration) string {
	if d >= 48*time.Hour {
		return fmt.Sprintf("%d days", int(d.Hours()/24))
	}
	hours := int(d.Hours())
	if hours == 1 {
		return "1 hour"
	}
	return fmt.Sprintf("%d hours", hours)
}

// truncate shortens s to at most n runes, appending "..." when cut.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
