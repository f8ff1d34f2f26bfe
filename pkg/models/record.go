package models

import "time"

// Well-known collaborator module names.
const (
	ModuleNotes    = "notes"
	ModuleTasks    = "tasks"
	ModuleCalendar = "calendar"
	ModuleContacts = "contacts"
)

// Record is a normalized, read-only view of a collaborator record.
type Record struct {
	ID        string     `yaml:"id" json:"id"`
	Module    string     `yaml:"module,omitempty" json:"module,omitempty"`
	CreatedAt time.Time  `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time  `yaml:"updated_at" json:"updated_at"`
	DueAt     *time.Time `yaml:"due_at,omitempty" json:"due_at,omitempty"`
	Tags      []string   `yaml:"tags,omitempty" json:"tags,omitempty"`
	// TextFields holds the record's free text. The first entry is its title.
	TextFields []string `yaml:"text_fields,omitempty" json:"text_fields,omitempty"`
}

// Title returns the first text field, or the record ID when there is none.
func (r Record) Title() string {
	if len(r.TextFields) > 0 && r.TextFields[0] != "" {
		return r.TextFields[0]
	}
	return r.ID
}

// HasTag reports whether the record carries the tag.
func (r Record) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Snapshot maps module names to their records at a point in time.
type Snapshot struct {
	TakenAt time.Time
	Since   time.Time
	Modules map[string][]Record
}

// Records returns the records of a module. A missing module yields nil.
func (s Snapshot) Records(module string) []Record {
	if s.Modules == nil {
		return nil
	}
	return s.Modules[module]
}
