package models

import "time"

// RecommendationStatus represents the lifecycle state of a recommendation.
type RecommendationStatus string

const (
	StatusActive   RecommendationStatus = "active"
	StatusAccepted RecommendationStatus = "accepted"
	StatusDeclined RecommendationStatus = "declined"
	StatusExpired  RecommendationStatus = "expired"
)

// IsTerminal reports whether the status is one a recommendation can never leave.
func (s RecommendationStatus) IsTerminal() bool {
	switch s {
	case StatusAccepted, StatusDeclined, StatusExpired:
		return true
	default:
		return false
	}
}

// Action is a user decision on an active recommendation.
type Action string

const (
	ActionAccept  Action = "accept"
	ActionDecline Action = "decline"
)

// Status returns the terminal status an action leads to, or false for an
// unrecognised action.
func (a Action) Status() (RecommendationStatus, bool) {
	switch a {
	case ActionAccept:
		return StatusAccepted, true
	case ActionDecline:
		return StatusDeclined, true
	default:
		return "", false
	}
}

// Confidence is a coarse classification derived from a priority score.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Rank orders confidence buckets: low < medium < high.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceLow:
		return 1
	case ConfidenceMedium:
		return 2
	case ConfidenceHigh:
		return 3
	default:
		return 0
	}
}

// Evidence links a recommendation to the collaborator record that justifies it.
type Evidence struct {
	SourceRecordID string    `yaml:"source_record_id" json:"source_record_id"`
	SourceModule   string    `yaml:"source_module" json:"source_module"`
	ObservedAt     time.Time `yaml:"observed_at" json:"observed_at"`
	Excerpt        string    `yaml:"excerpt" json:"excerpt"`
}

// Candidate is an unsaved suggestion proposed by a rule. RuleID and
// BasePriority are stamped by the evaluator from the producing rule.
type Candidate struct {
	RuleID       string
	BasePriority int
	ModuleTag    string
	SubjectID    string
	// DedupKey overrides the default moduleTag:ruleId:subjectId identity.
	DedupKey  string
	Title     string
	Body      string
	Evidence  []Evidence
	ExpiresAt *time.Time
}

// Draft is a deduplicated, scored candidate ready to be surfaced.
type Draft struct {
	Candidate
	DedupKey      string
	PriorityScore int
	Confidence    Confidence
}

// Recommendation is a suggestion surfaced to the user.
type Recommendation struct {
	ID            string               `yaml:"id" json:"id"`
	RuleID        string               `yaml:"rule_id" json:"rule_id"`
	ModuleTag     string               `yaml:"module_tag" json:"module_tag"`
	SubjectID     string               `yaml:"subject_id" json:"subject_id"`
	Title         string               `yaml:"title" json:"title"`
	Body          string               `yaml:"body" json:"body"`
	Evidence      []Evidence           `yaml:"evidence" json:"evidence"`
	DedupKey      string               `yaml:"dedup_key" json:"dedup_key"`
	PriorityScore int                  `yaml:"priority_score" json:"priority_score"`
	Confidence    Confidence           `yaml:"confidence" json:"confidence"`
	Status        RecommendationStatus `yaml:"status" json:"status"`
	CreatedAt     time.Time            `yaml:"created_at" json:"created_at"`
	ExpiresAt     time.Time            `yaml:"expires_at" json:"expires_at"`
	DecidedAt     *time.Time           `yaml:"decided_at,omitempty" json:"decided_at,omitempty"`
}

// Clone returns a deep copy so callers can never mutate the evidence of a
// stored recommendation.
func (r Recommendation) Clone() Recommendation {
	out := r
	out.Evidence = CloneEvidence(r.Evidence)
	if r.DecidedAt != nil {
		t := *r.DecidedAt
		out.DecidedAt = &t
	}
	return out
}

// CloneEvidence copies an evidence slice.
func CloneEvidence(in []Evidence) []Evidence {
	if in == nil {
		return nil
	}
	out := make([]Evidence, len(in))
	copy(out, in)
	return out
}
