package activation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillsense/internal/rules"
	"skillsense/internal/store"
)

// steeredRuleset activates and deactivates whatever the params name,
// so tests drive outcomes through configuration.
const steeredRuleset = `
import (
	"strings"
	"skillsense/hostapi"
)

func split(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func EvaluateActivation(ctx hostapi.Context) []string {
	return split(hostapi.GetParam("activate", ""))
}

func EvaluateDeactivation(ctx hostapi.Context) []string {
	return split(hostapi.GetParam("deactivate", ""))
}
`

func seedSkill(t *testing.T, st *store.Store, id, name string) {
	t.Helper()
	require.NoError(t, st.UpsertSkill(&store.Skill{
		ID:          id,
		Name:        name,
		Path:        "/skills/" + name + "/SKILL.md",
		Description: name + " skill",
		ContentHash: "hash-" + id,
		IndexedAt:   time.Now().UTC(),
		Source:      store.SourceProject,
	}))
}

func newOrchestrator(t *testing.T, params map[string]string) (*Orchestrator, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	seedSkill(t, st, "sk-go", "golang")
	seedSkill(t, st, "sk-sql", "sql")

	o := New(st, nil, rules.FromSource("steered", steeredRuleset), params, time.Second)
	return o, st
}

func TestHandleEventActivates(t *testing.T) {
	o, st := newOrchestrator(t, map[string]string{"activate": "sk-go,sk-sql"})

	res, err := o.HandleEvent(context.Background(), Event{
		SessionID: "s1", Workspace: "/ws", Hook: HookUserPromptSubmit, Content: "write some go",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"sk-go", "sk-sql"}, res.Activated)
	assert.Empty(t, res.AlreadyActive)
	assert.Equal(t, []string{"sk-go", "sk-sql"}, res.ActiveSkills)
	assert.Equal(t, 1, res.Sequence)
	assert.NoError(t, res.ActivationErr)

	active, err := st.ActiveSkills("s1")
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestHandleEventIsIdempotent(t *testing.T) {
	o, _ := newOrchestrator(t, map[string]string{"activate": "sk-go"})

	ev := Event{SessionID: "s1", Hook: HookUserPromptSubmit, Content: "go"}
	_, err := o.HandleEvent(context.Background(), ev)
	require.NoError(t, err)

	res, err := o.HandleEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Empty(t, res.Activated)
	assert.Equal(t, []string{"sk-go"}, res.AlreadyActive)
	assert.Equal(t, []string{"sk-go"}, res.ActiveSkills)
	assert.Equal(t, 2, res.Sequence)
}

func TestHandleEventResolvesNames(t *testing.T) {
	o, _ := newOrchestrator(t, map[string]string{"activate": "golang"})

	res, err := o.HandleEvent(context.Background(), Event{SessionID: "s1", Hook: HookSessionStart})
	require.NoError(t, err)
	assert.Equal(t, []string{"sk-go"}, res.Activated)
}

func TestUnknownSkillIsSkipped(t *testing.T) {
	o, _ := newOrchestrator(t, map[string]string{"activate": "sk-go,sk-nope"})

	res, err := o.HandleEvent(context.Background(), Event{SessionID: "s1", Hook: HookUserPromptSubmit})
	require.NoError(t, err)
	assert.Equal(t, []string{"sk-go"}, res.Activated)
}

func TestDeactivation(t *testing.T) {
	o, _ := newOrchestrator(t, map[string]string{"activate": "sk-go,sk-sql"})
	_, err := o.HandleEvent(context.Background(), Event{SessionID: "s1", Hook: HookSessionStart})
	require.NoError(t, err)

	o2, _ := newOrchestratorSharingStore(t, o, map[string]string{"deactivate": "sk-sql"})
	res, err := o2.HandleEvent(context.Background(), Event{SessionID: "s1", Hook: HookStop, DeactivateOnly: true})
	require.NoError(t, err)
	assert.Empty(t, res.Activated)
	assert.Equal(t, []string{"sk-sql"}, res.Deactivated)
	assert.Equal(t, []string{"sk-go"}, res.ActiveSkills)
}

// newOrchestratorSharingStore rebinds new params over an existing store.
func newOrchestratorSharingStore(t *testing.T, base *Orchestrator, params map[string]string) (*Orchestrator, *store.Store) {
	t.Helper()
	o := New(base.store, nil, rules.FromSource("steered", steeredRuleset), params, time.Second)
	return o, base.store
}

func TestDeactivateInactiveIsNoop(t *testing.T) {
	o, _ := newOrchestrator(t, map[string]string{"deactivate": "sk-go"})

	res, err := o.HandleEvent(context.Background(), Event{SessionID: "s1", Hook: HookStop})
	require.NoError(t, err)
	assert.Empty(t, res.Deactivated)
	assert.Empty(t, res.ActiveSkills)
}

func TestScriptFailureDegradesToNoChange(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	seedSkill(t, st, "sk-go", "golang")

	src := `
import "skillsense/hostapi"

func EvaluateActivation(ctx hostapi.Context) []string {
	var xs []string
	return []string{xs[3]}
}

func EvaluateDeactivation(ctx hostapi.Context) []string { return nil }
`
	o := New(st, nil, rules.FromSource("crashy", src), nil, time.Second)

	res, err := o.HandleEvent(context.Background(), Event{SessionID: "s1", Hook: HookUserPromptSubmit, Content: "hi"})
	require.NoError(t, err)
	assert.Error(t, res.ActivationErr)
	assert.True(t, rules.IsEvalError(res.ActivationErr))
	assert.Empty(t, res.Activated)

	// The event is still logged despite the script failure.
	msgs, err := st.RecentMessages("s1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].ContentPreview)
}

func TestBrokenRulesetAborts(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	o := New(st, nil, rules.FromSource("empty", `func nothing() {}`), nil, time.Second)
	_, err = o.HandleEvent(context.Background(), Event{SessionID: "s1", Hook: HookSessionStart})
	require.Error(t, err)
	assert.True(t, rules.IsLoadError(err))
}

func TestMessageLogRolesAndSequence(t *testing.T) {
	o, st := newOrchestrator(t, nil)

	events := []Event{
		{SessionID: "s1", Hook: HookSessionStart, Content: "boot"},
		{SessionID: "s1", Hook: HookUserPromptSubmit, Content: "prompt"},
		{SessionID: "s1", Hook: HookPostToolUse, ToolName: "Bash", Content: "ran"},
		{SessionID: "s1", Hook: HookStop},
	}
	for _, ev := range events {
		_, err := o.HandleEvent(context.Background(), ev)
		require.NoError(t, err)
	}

	msgs, err := st.RecentMessages("s1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	// Newest first.
	assert.Equal(t, 4, msgs[0].Sequence)
	assert.Equal(t, store.RoleAssistant, msgs[0].Role)
	assert.Equal(t, store.RoleTool, msgs[1].Role)
	assert.Equal(t, "Bash", msgs[1].ToolName)
	assert.Equal(t, store.RoleUser, msgs[2].Role)
	assert.Equal(t, store.RoleAssistant, msgs[3].Role)
	assert.Equal(t, 1, msgs[3].Sequence)
}

func TestContentPreviewTruncation(t *testing.T) {
	o, st := newOrchestrator(t, nil)

	long := make([]rune, 0, 600)
	for i := 0; i < 600; i++ {
		long = append(long, 'x')
	}
	_, err := o.HandleEvent(context.Background(), Event{
		SessionID: "s1", Hook: HookUserPromptSubmit, Content: string(long),
	})
	require.NoError(t, err)

	msgs, err := st.RecentMessages("s1", 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Len(t, []rune(msgs[0].ContentPreview), contentPreviewLimit)
}

func TestDedupePreservesOrder(t *testing.T) {
	assert.Equal(t, []string{"b", "a", "c"}, dedupe([]string{"b", "a", "b", "c", "a", ""}))
	assert.Empty(t, dedupe(nil))
}
