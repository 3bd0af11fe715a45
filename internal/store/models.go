package store

import "time"

// SkillSource classifies where a skill was discovered.
type SkillSource string

const (
	SourceUser    SkillSource = "user"
	SourceProject SkillSource = "project"
	SourcePlugin  SkillSource = "plugin"
)

// Skill is an indexed capability record.
type Skill struct {
	ID          string
	Name        string
	Path        string
	Description string
	Embedding   []float64
	Metadata    map[string]any
	ContentHash string
	IndexedAt   time.Time
	Source      SkillSource
}

// FileHash tracks what has already been embedded, enabling incremental
// re-indexing.
type FileHash struct {
	Path        string
	ContentHash string
	LastChecked time.Time
}

// Session is one coding-assistant session.
type Session struct {
	SessionID     string
	WorkspacePath string
	StartedAt     time.Time
	LastActive    time.Time
}

// MessageRole is the author of a logged message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// Message is one message_log row.
type Message struct {
	ID               int64
	SessionID        string
	Sequence         int
	Role             MessageRole
	EventType        string
	ToolName         string
	ContentPreview   string
	ContentEmbedding []float64
	ActiveSkills     []string
	LoggedAt         time.Time
}

// SessionSkill marks a skill as active in a session. Presence of a row is
// the sole source of truth for activation.
type SessionSkill struct {
	SessionID        string
	SkillID          string
	ActivatedAt      time.Time
	ActivationReason string
}

// SkillMatch is one search result: a skill and its similarity score.
type SkillMatch struct {
	Skill Skill
	Score float64
}

// Activation asks Reconcile to activate one skill.
type Activation struct {
	SkillID string
	Reason  string
}

// ReconcileResult reports what a reconcile pass changed.
type ReconcileResult struct {
	Activated     []string
	AlreadyActive []string
	Deactivated   []string
	// NoopDeactivations lists requested deactivations that were not
	// active; these are not errors.
	NoopDeactivations []string
	// Snapshot is the active-skill set after reconciliation, id-sorted.
	Snapshot []string
	Sequence int
}
