package rules

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"skillsense/internal/store"
)

func TestMain(m *testing.M) {
	// The genai client's grpc stack starts an opencensus stats worker at
	// package init; it is not ours to stop.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// staticEmbedder returns a fixed vector for any input.
type staticEmbedder struct {
	vec []float32
}

func (e *staticEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return e.vec, nil
}

func (e *staticEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vec
	}
	return out, nil
}

func (e *staticEmbedder) Dimensions() int { return len(e.vec) }
func (e *staticEmbedder) Name() string    { return "static" }

func testAPI(t *testing.T, params map[string]string) *API {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewAPI(st, &staticEmbedder{vec: []float32{1, 0}}, params)
}

func newTestRuntime(t *testing.T, params map[string]string, timeout time.Duration) *Runtime {
	t.Helper()
	rt, err := NewRuntime(testAPI(t, params), timeout)
	require.NoError(t, err)
	return rt
}

const validRuleset = `
import "skillsense/hostapi"

func EvaluateActivation(ctx hostapi.Context) []string {
	if ctx.HookType == "user_prompt_submit" {
		return []string{"skill-a", "skill-b"}
	}
	return nil
}

func EvaluateDeactivation(ctx hostapi.Context) []string {
	return []string{"skill-stale"}
}
`

func TestLoadAndEvaluate(t *testing.T) {
	rt := newTestRuntime(t, nil, 0)
	require.NoError(t, rt.Load(FromSource("valid", validRuleset)))

	ids, err := rt.EvaluateActivation(Context{SessionID: "s1", HookType: "user_prompt_submit"})
	require.NoError(t, err)
	assert.Equal(t, []string{"skill-a", "skill-b"}, ids)

	ids, err = rt.EvaluateActivation(Context{SessionID: "s1", HookType: "stop"})
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = rt.EvaluateDeactivation(Context{SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"skill-stale"}, ids)
}

func TestLoadAddsPackageClause(t *testing.T) {
	rt := newTestRuntime(t, nil, 0)

	src := `import "skillsense/hostapi"

func EvaluateActivation(ctx hostapi.Context) []string   { return nil }
func EvaluateDeactivation(ctx hostapi.Context) []string { return nil }
`
	require.NoError(t, rt.Load(FromSource("bare", src)))
}

func TestValidateSharesLoadChecks(t *testing.T) {
	rt := newTestRuntime(t, nil, 0)
	require.NoError(t, rt.Validate(FromSource("valid", validRuleset)))

	rt2 := newTestRuntime(t, nil, 0)
	err := rt2.Validate(FromSource("partial", `import "skillsense/hostapi"

func EvaluateActivation(ctx hostapi.Context) []string { return nil }
`))
	require.Error(t, err)
	assert.True(t, IsLoadError(err))
}

func TestLoadMissingFunction(t *testing.T) {
	rt := newTestRuntime(t, nil, 0)

	src := `import "skillsense/hostapi"

func EvaluateActivation(ctx hostapi.Context) []string { return nil }
`
	err := rt.Load(FromSource("partial", src))
	require.Error(t, err)
	assert.True(t, IsLoadError(err))
	assert.Contains(t, err.Error(), FnEvaluateDeactivation)
}

func TestLoadWrongExportType(t *testing.T) {
	rt := newTestRuntime(t, nil, 0)

	src := `import "skillsense/hostapi"

var EvaluateActivation = 42

func EvaluateDeactivation(ctx hostapi.Context) []string { return nil }
`
	err := rt.Load(FromSource("mistyped", src))
	require.Error(t, err)
	assert.True(t, IsLoadError(err))
	assert.Contains(t, err.Error(), FnEvaluateActivation)
}

func TestForbiddenImportRejected(t *testing.T) {
	rt := newTestRuntime(t, nil, 0)

	src := `import (
	"os"
	"skillsense/hostapi"
)

func EvaluateActivation(ctx hostapi.Context) []string   { _ = os.Getenv("HOME"); return nil }
func EvaluateDeactivation(ctx hostapi.Context) []string { return nil }
`
	err := rt.Load(FromSource("escapist", src))
	require.Error(t, err)
	assert.True(t, IsLoadError(err))
	assert.Contains(t, err.Error(), "os")
}

func TestSandboxVerified(t *testing.T) {
	rt := newTestRuntime(t, nil, 0)
	assert.True(t, rt.Sandboxed())
}

func TestEvaluationTimeout(t *testing.T) {
	rt := newTestRuntime(t, nil, 100*time.Millisecond)

	src := `import "skillsense/hostapi"

func EvaluateActivation(ctx hostapi.Context) []string {
	n := 0
	for {
		n++
	}
	return nil
}

func EvaluateDeactivation(ctx hostapi.Context) []string { return nil }
`
	require.NoError(t, rt.Load(FromSource("spinner", src)))

	_, err := rt.EvaluateActivation(Context{SessionID: "s1"})
	require.Error(t, err)
	assert.True(t, IsEvalError(err))
}

func TestScriptErrorIsEvalError(t *testing.T) {
	rt := newTestRuntime(t, nil, 0)

	src := `import "skillsense/hostapi"

func EvaluateActivation(ctx hostapi.Context) []string {
	var ids []string
	return append(ids, ids[5])
}

func EvaluateDeactivation(ctx hostapi.Context) []string { return []string{"ok"} }
`
	require.NoError(t, rt.Load(FromSource("panicky", src)))

	_, err := rt.EvaluateActivation(Context{SessionID: "s1"})
	require.Error(t, err)
	assert.True(t, IsEvalError(err))

	// The deactivation pass is independent of the activation failure.
	ids, err := rt.EvaluateDeactivation(Context{SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, ids)
}

func TestHostAPIReachableFromScript(t *testing.T) {
	rt := newTestRuntime(t, map[string]string{"threshold": "0.75"}, 0)

	src := `import (
	"fmt"
	"skillsense/hostapi"
)

func EvaluateActivation(ctx hostapi.Context) []string {
	th := hostapi.GetParamNumber("threshold", 0.5)
	sim := hostapi.CosineSimilarity([]float64{1, 0}, []float64{1, 0})
	active := hostapi.GetActiveSkills(ctx.SessionID)
	return []string{fmt.Sprintf("th=%.2f sim=%.0f active=%d", th, sim, len(active))}
}

func EvaluateDeactivation(ctx hostapi.Context) []string { return nil }
`
	require.NoError(t, rt.Load(FromSource("api", src)))

	ids, err := rt.EvaluateActivation(Context{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, "th=0.75 sim=1 active=0", ids[0])
}

func TestValidateImports(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		wantErr bool
	}{
		{"allowed single", `import "strings"`, false},
		{"host api", `import "skillsense/hostapi"`, false},
		{"blocked single", `import "net/http"`, true},
		{"blocked in block", "import (\n\t\"fmt\"\n\t\"os/exec\"\n)", true},
		{"aliased blocked", `import x "syscall"`, true},
		{"no imports", `func f() int { return 1 }`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateImports(tt.source)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGetParamFallbacks(t *testing.T) {
	api := testAPI(t, map[string]string{"mode": "strict", "bad": "NaNope"})

	assert.Equal(t, "strict", api.GetParam("mode", "lax"))
	assert.Equal(t, "lax", api.GetParam("missing", "lax"))
	assert.Equal(t, 0.5, api.GetParamNumber("missing", 0.5))
	assert.Equal(t, 0.5, api.GetParamNumber("bad", 0.5))
}
