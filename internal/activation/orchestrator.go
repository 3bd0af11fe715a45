// Package activation turns assistant lifecycle events into skill state
// changes. Each event runs the configured ruleset in a fresh sandboxed
// runtime, resolves the requested skills against the index, and commits
// the outcome plus a message-log entry in one store transaction.
package activation

import (
	"context"
	"fmt"
	"time"

	"skillsense/internal/embedding"
	"skillsense/internal/logging"
	"skillsense/internal/rules"
	"skillsense/internal/store"
)

// contentPreviewLimit bounds how much event content is persisted.
const contentPreviewLimit = 500

// Hook identifies which assistant lifecycle point fired.
type Hook string

const (
	HookSessionStart     Hook = "session_start"
	HookUserPromptSubmit Hook = "user_prompt_submit"
	HookPostToolUse      Hook = "post_tool_use"
	HookStop             Hook = "stop"
)

// Event is one triggering occurrence from the assistant.
type Event struct {
	SessionID string
	Workspace string
	Hook      Hook
	ToolName  string
	Content   string
	// DeactivateOnly suppresses the activation pass; only the
	// deactivation pass and the message log run.
	DeactivateOnly bool
}

// Result reports what an event changed.
type Result struct {
	Activated     []string
	AlreadyActive []string
	Deactivated   []string
	ActiveSkills  []string
	Sequence      int
	// ActivationErr and DeactivationErr carry recoverable script
	// failures; the corresponding pass contributed nothing.
	ActivationErr   error
	DeactivationErr error
}

// Orchestrator wires the store, embedder, and ruleset together.
type Orchestrator struct {
	store    *store.Store
	embedder embedding.Engine
	ruleset  *rules.Ruleset
	params   map[string]string
	timeout  time.Duration
}

// New builds an orchestrator around a loaded ruleset source.
func New(st *store.Store, embedder embedding.Engine, ruleset *rules.Ruleset, params map[string]string, timeout time.Duration) *Orchestrator {
	return &Orchestrator{store: st, embedder: embedder, ruleset: ruleset, params: params, timeout: timeout}
}

// HandleEvent processes one lifecycle event end to end. Script failures
// degrade to a no-change pass; store and ruleset-load failures abort.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev Event) (*Result, error) {
	if ev.SessionID == "" {
		return nil, fmt.Errorf("event has no session id")
	}
	now := time.Now().UTC()

	if err := o.store.EnsureSession(ev.SessionID, ev.Workspace, now); err != nil {
		return nil, err
	}

	// Fresh runtime per event so scripts never observe prior state.
	rt, err := o.newRuntime()
	if err != nil {
		return nil, err
	}

	evalCtx := rules.Context{
		SessionID:     ev.SessionID,
		RecentMessage: ev.Content,
		ToolName:      ev.ToolName,
		HookType:      string(ev.Hook),
	}

	res := &Result{}

	var wanted []string
	if !ev.DeactivateOnly {
		wanted, res.ActivationErr = rt.EvaluateActivation(evalCtx)
		if res.ActivationErr != nil {
			logging.Get(logging.CategorySession).Error("Activation pass failed: %v", res.ActivationErr)
			wanted = nil
		}
	}

	unwanted, derr := rt.EvaluateDeactivation(evalCtx)
	if derr != nil {
		logging.Get(logging.CategorySession).Error("Deactivation pass failed: %v", derr)
		res.DeactivationErr = derr
		unwanted = nil
	}

	activations := o.resolve(dedupe(wanted), ev)
	deactivations := o.resolveIDs(dedupe(unwanted))

	msg := o.buildMessage(ctx, ev)

	rec, err := o.store.Reconcile(ev.SessionID, activations, deactivations, msg, now)
	if err != nil {
		return nil, err
	}

	res.Activated = rec.Activated
	res.AlreadyActive = rec.AlreadyActive
	res.Deactivated = rec.Deactivated
	res.ActiveSkills = rec.Snapshot
	res.Sequence = rec.Sequence

	logging.Session("Event %s/%s: +%d =%d -%d (active=%d, seq=%d)",
		ev.SessionID, ev.Hook, len(rec.Activated), len(rec.AlreadyActive),
		len(rec.Deactivated), len(rec.Snapshot), rec.Sequence)
	return res, nil
}

// LogEvent appends an event to the session message log without running
// the ruleset. Skill state is untouched.
func (o *Orchestrator) LogEvent(ctx context.Context, ev Event) (*Result, error) {
	if ev.SessionID == "" {
		return nil, fmt.Errorf("event has no session id")
	}
	now := time.Now().UTC()

	if err := o.store.EnsureSession(ev.SessionID, ev.Workspace, now); err != nil {
		return nil, err
	}

	rec, err := o.store.Reconcile(ev.SessionID, nil, nil, o.buildMessage(ctx, ev), now)
	if err != nil {
		return nil, err
	}
	return &Result{ActiveSkills: rec.Snapshot, Sequence: rec.Sequence}, nil
}

func (o *Orchestrator) newRuntime() (*rules.Runtime, error) {
	api := rules.NewAPI(o.store, o.embedder, o.params)
	rt, err := rules.NewRuntime(api, o.timeout)
	if err != nil {
		return nil, err
	}
	if err := rt.Load(o.ruleset); err != nil {
		return nil, err
	}
	return rt, nil
}

// resolve maps requested identifiers to indexed skills, dropping and
// logging any the index does not know.
func (o *Orchestrator) resolve(wanted []string, ev Event) []store.Activation {
	out := make([]store.Activation, 0, len(wanted))
	for _, ident := range wanted {
		sk, err := o.store.FindSkill(ident)
		if err != nil {
			logging.Get(logging.CategorySession).Error("Skill lookup %q failed: %v", ident, err)
			continue
		}
		if sk == nil {
			logging.Get(logging.CategorySession).Warn("Ruleset requested unknown skill %q", ident)
			continue
		}
		out = append(out, store.Activation{SkillID: sk.ID, Reason: "hook:" + string(ev.Hook)})
	}
	return out
}

func (o *Orchestrator) resolveIDs(unwanted []string) []string {
	out := make([]string, 0, len(unwanted))
	for _, ident := range unwanted {
		sk, err := o.store.FindSkill(ident)
		if err != nil || sk == nil {
			// Deactivating something unknown is a no-op either way.
			continue
		}
		out = append(out, sk.ID)
	}
	return out
}

// buildMessage prepares the message-log row for this event. The content
// embedding is best effort; logging proceeds without it.
func (o *Orchestrator) buildMessage(ctx context.Context, ev Event) *store.Message {
	msg := &store.Message{
		SessionID:      ev.SessionID,
		Role:           roleFor(ev.Hook),
		EventType:      string(ev.Hook),
		ToolName:       ev.ToolName,
		ContentPreview: preview(ev.Content),
	}
	if o.embedder != nil && ev.Content != "" {
		if vec, err := o.embedder.Embed(ctx, ev.Content); err != nil {
			logging.Get(logging.CategorySession).Warn("Content embedding failed: %v", err)
		} else {
			msg.ContentEmbedding = embedding.ToFloat64(vec)
		}
	}
	return msg
}

func roleFor(h Hook) store.MessageRole {
	switch h {
	case HookUserPromptSubmit:
		return store.RoleUser
	case HookPostToolUse:
		return store.RoleTool
	default:
		return store.RoleAssistant
	}
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= contentPreviewLimit {
		return content
	}
	return string(runes[:contentPreviewLimit])
}

// dedupe drops repeated identifiers preserving first-seen order.
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
