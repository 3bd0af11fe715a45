package rules

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"sync"

	"skillsense/internal/embedding"
	"skillsense/internal/logging"
	"skillsense/internal/store"
)

// Context is the evaluation context handed to ruleset functions.
type Context struct {
	SessionID     string
	RecentMessage string
	ToolName      string
	HookType      string
}

// MessageSummary is a recent-message view exposed to rulesets.
type MessageSummary struct {
	Sequence  int
	Role      string
	EventType string
	ToolName  string
	Preview   string
}

// Match is one skill search result exposed to rulesets.
type Match struct {
	SkillID string
	Name    string
	Score   float64
}

// API is the complete capability set available to rulesets. It is a
// fixed struct of host-callable functions; the sandbox boundary is the
// type system, not a runtime blocklist.
type API struct {
	store    *store.Store
	embedder embedding.Engine
	params   map[string]string
	ruleset  string

	mu  sync.RWMutex
	ctx Context
}

// NewAPI builds the host API over the store, embedder, and config params.
func NewAPI(st *store.Store, embedder embedding.Engine, params map[string]string) *API {
	if params == nil {
		params = map[string]string{}
	}
	return &API{store: st, embedder: embedder, params: params}
}

// SetContext installs the context returned by CurrentContext for the next
// evaluation.
func (a *API) SetContext(ctx Context) {
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()
}

// CurrentContext returns the context of the in-flight evaluation.
func (a *API) CurrentContext() Context {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ctx
}

// GetRecentMessages returns up to count recent message summaries for a
// session, newest first.
func (a *API) GetRecentMessages(sessionID string, count int) []MessageSummary {
	msgs, err := a.store.RecentMessages(sessionID, count)
	if err != nil {
		logging.Get(logging.CategoryRules).Error("get_recent_messages failed: %v", err)
		return nil
	}
	out := make([]MessageSummary, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageSummary{
			Sequence:  m.Sequence,
			Role:      string(m.Role),
			EventType: m.EventType,
			ToolName:  m.ToolName,
			Preview:   m.ContentPreview,
		})
	}
	return out
}

// GetActiveSkills returns the ids of skills currently active in a session.
func (a *API) GetActiveSkills(sessionID string) []string {
	active, err := a.store.ActiveSkills(sessionID)
	if err != nil {
		logging.Get(logging.CategoryRules).Error("get_active_skills failed: %v", err)
		return nil
	}
	out := make([]string, 0, len(active))
	for _, ss := range active {
		out = append(out, ss.SkillID)
	}
	return out
}

// SearchSkills embeds the query text and returns the top-limit skills by
// cosine similarity.
func (a *API) SearchSkills(query string, limit int) []Match {
	vec := a.EmbedText(query)
	if len(vec) == 0 {
		return nil
	}
	matches, err := a.store.SearchSkills(vec, limit)
	if err != nil {
		logging.Get(logging.CategoryRules).Error("search_skills failed: %v", err)
		return nil
	}
	out := make([]Match, 0, len(matches))
	for _, m := range matches {
		out = append(out, Match{SkillID: m.Skill.ID, Name: m.Skill.Name, Score: m.Score})
	}
	return out
}

// EmbedText delegates to the external embedding engine.
func (a *API) EmbedText(text string) []float64 {
	if a.embedder == nil {
		return nil
	}
	vec, err := a.embedder.Embed(context.Background(), text)
	if err != nil {
		logging.Get(logging.CategoryRules).Error("embed_text failed: %v", err)
		return nil
	}
	return embedding.ToFloat64(vec)
}

// CosineSimilarity scores two vectors; see embedding.Similarity for the
// degenerate-input contract.
func (a *API) CosineSimilarity(x, y []float64) float64 {
	return embedding.Similarity(x, y)
}

// GetParam returns a configuration parameter or the supplied default.
func (a *API) GetParam(name, def string) string {
	if v, ok := a.params[name]; ok {
		return v
	}
	return def
}

// GetParamNumber returns a numeric configuration parameter or the
// supplied default.
func (a *API) GetParamNumber(name string, def float64) float64 {
	v, ok := a.params[name]
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// Log writes a diagnostic line tagged with severity. Warnings and errors
// are mirrored to stderr so hook output surfaces them.
func (a *API) Log(level, message string) {
	l := logging.Get(logging.CategoryRules)
	switch level {
	case "debug":
		l.Debug("[ruleset] %s", message)
	case "warn", "warning":
		l.Warn("[ruleset] %s", message)
		fmt.Fprintf(os.Stderr, "[skillsense:ruleset] WARN %s\n", message)
	case "error":
		l.Error("[ruleset] %s", message)
		fmt.Fprintf(os.Stderr, "[skillsense:ruleset] ERROR %s\n", message)
	default:
		l.Info("[ruleset] %s", message)
	}
}

// exports builds the yaegi symbol table for the hostapi package. This is
// the complete surface rulesets can reach.
func (a *API) exports() map[string]reflect.Value {
	return map[string]reflect.Value{
		"GetRecentMessages": reflect.ValueOf(a.GetRecentMessages),
		"GetActiveSkills":   reflect.ValueOf(a.GetActiveSkills),
		"SearchSkills":      reflect.ValueOf(a.SearchSkills),
		"EmbedText":         reflect.ValueOf(a.EmbedText),
		"CosineSimilarity":  reflect.ValueOf(a.CosineSimilarity),
		"GetParam":          reflect.ValueOf(a.GetParam),
		"GetParamNumber":    reflect.ValueOf(a.GetParamNumber),
		"Log":               reflect.ValueOf(a.Log),
		"CurrentContext":    reflect.ValueOf(a.CurrentContext),
		"Context":           reflect.ValueOf((*Context)(nil)),
		"MessageSummary":    reflect.ValueOf((*MessageSummary)(nil)),
		"Match":             reflect.ValueOf((*Match)(nil)),
	}
}
