package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/formula/internal/formula"
)

// isolate points HOME at an empty directory and clears FORMULA_* variables.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, k := range []string{
		"FORMULA_CONFIG", "FORMULA_LOG_LEVEL", "FORMULA_LOG_FORMAT", "FORMULA_BUDGET",
		"FORMULA_ENVELOPE", "FORMULA_MAX_SEQUENCE", "FORMULA_MAX_OUTPUT", "FORMULA_JOURNAL_PATH",
	} {
		t.Setenv(k, "")
	}
}

func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestServeIsDefault(t *testing.T) {
	isolate(t)
	input := strings.Join([]string{
		`eval ||| x + y ||| {"x": 2, "y": 3}`,
		"get_names ||| sin(x) + y*2",
		"foo ||| bar",
		"eval ||| 1/0 ||| {}",
	}, "\n") + "\n"

	for _, args := range [][]string{nil, {"serve"}} {
		out, _, err := run(t, input, args...)
		require.NoError(t, err)
		assert.Equal(t, "5\n[\"x\", \"y\"]\nNo such command\ndivision by zero\n", out)
	}
}

func TestServe_EnvelopeFlag(t *testing.T) {
	isolate(t)
	out, _, err := run(t, "eval ||| 1 + 1 ||| {}\n", "serve", "--envelope")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true,"value":2}`+"\n", out)
}

func TestServe_LogsGoToStderr(t *testing.T) {
	isolate(t)
	out, errOut, err := run(t, "eval ||| q ||| {}\n", "serve", "--log-level", "debug", "--log-format", "json")
	require.NoError(t, err)
	assert.Equal(t, "name 'q' is not defined\n", out)
	assert.Contains(t, errOut, `"msg":"request failed"`)
	assert.Contains(t, errOut, `"command":"eval"`)
	assert.Contains(t, errOut, `"transport":"stdio"`)
}

func TestServe_BudgetFlag(t *testing.T) {
	isolate(t)
	out, _, err := run(t, "eval ||| sum(range(10**15)) ||| {}\n", "--budget", "20ms")
	require.NoError(t, err)
	assert.Contains(t, out, "20ms")
}

func TestServe_MaxOutputFlag(t *testing.T) {
	isolate(t)
	out, _, err := run(t, "eval ||| [0] * 2 ||| {}\neval ||| [0] * 100 ||| {}\n", "--max-output", "32")
	require.NoError(t, err)
	assert.Equal(t, "[0, 0]\nresult exceeds the output limit of 32 bytes\n", out)
}

func TestEvalCommand(t *testing.T) {
	isolate(t)

	out, _, err := run(t, "", "eval", "x * 2", `{"x": 21}`)
	require.NoError(t, err)
	assert.Equal(t, "42\n", out)

	out, _, err = run(t, "", "eval", "2 ** 0.5 > 1")
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)

	out, _, err = run(t, "", "eval", "1/0")
	assert.ErrorIs(t, err, errRequestFailed)
	assert.Equal(t, "division by zero\n", out)

	out, _, err = run(t, "", "eval", "1/0", "{}", "--envelope")
	assert.ErrorIs(t, err, errRequestFailed)
	assert.Equal(t, `{"ok":false,"error":{"code":"RUNTIME_ERROR","message":"division by zero"}}`+"\n", out)
}

func TestNamesCommand(t *testing.T) {
	isolate(t)
	out, _, err := run(t, "", "names", "a if b else a")
	require.NoError(t, err)
	assert.Equal(t, `["a", "b", "a"]`+"\n", out)

	out, _, err = run(t, "", "names", "sum(xs) * e")
	require.NoError(t, err)
	assert.Equal(t, `["xs"]`+"\n", out)

	out, _, err = run(t, "", "names", "sum(xs) * e", "--all")
	require.NoError(t, err)
	assert.Equal(t, `["sum", "xs", "e"]`+"\n", out)

	out, _, err = run(t, "", "names", "(1 +", "--all")
	assert.ErrorIs(t, err, errRequestFailed)
	assert.NotEmpty(t, out)
}

func TestASTCommand(t *testing.T) {
	isolate(t)
	tree, err := formula.Parse("f(x) + 1")
	require.NoError(t, err)

	out, _, err := run(t, "", "ast", "f(x) + 1", "--names")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, formula.Dump(tree), lines[0])

	var refs []formula.NameRef
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &refs))
	require.Len(t, refs, 2)
	assert.Equal(t, "f", refs[0].Name)
	assert.Equal(t, formula.Span{Start: 0, End: 1}, refs[0].Span)
	assert.Equal(t, "x", refs[1].Name)
	assert.Equal(t, formula.Span{Start: 2, End: 3}, refs[1].Span)

	_, _, err = run(t, "", "ast", "(")
	assert.Error(t, err)
}

func TestFunctionsCommand(t *testing.T) {
	isolate(t)
	out, _, err := run(t, "", "functions", "--category", "wave")
	require.NoError(t, err)
	assert.Equal(t, "wave: saw_w sin_w sqr_w tri tri_w\n", out)
}

func TestDeclaredFunctionsFromConfig(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "formula.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[functions]]
name = "double"
engine = "expr"
params = ["x"]
body = "x * 2"

[[functions]]
name = "in_band"
engine = "cel"
params = ["x", "lo", "hi"]
body = "x >= lo && x <= hi"
`), 0o600))

	out, _, err := run(t, "", "eval", "double(21) if in_band(5, 1, 10) else 0", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "42\n", out)

	out, _, err = run(t, "", "functions", "--category", "external", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "external: double in_band\n", out)
}

func TestJournalCommands(t *testing.T) {
	isolate(t)
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	t.Setenv("FORMULA_JOURNAL_PATH", dbPath)

	_, _, err := run(t, "eval ||| 6 * 7 ||| {}\neval ||| 1/0 ||| {}\nget_names ||| a + b\n")
	require.NoError(t, err)

	out, _, err := run(t, "", "journal", "list", "--json")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)

	out, _, err = run(t, "", "journal", "list", "--failed")
	require.NoError(t, err)
	assert.Contains(t, out, "RUNTIME_ERROR: division by zero")
	assert.NotContains(t, out, "6 * 7")

	out, _, err = run(t, "", "journal", "stats")
	require.NoError(t, err)
	var stats struct {
		Total  int64 `json:"total"`
		Failed int64 `json:"failed"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(1), stats.Failed)

	out, _, err = run(t, "", "journal", "prune", "--older-than", "1h")
	require.NoError(t, err)
	assert.Equal(t, "pruned 0 entries older than 1h0m0s\n", out)

	out, _, err = run(t, "", "journal", "prune", "--older-than", "1ns", "--vacuum")
	require.NoError(t, err)
	assert.Equal(t, "pruned 3 entries older than 1ns\n", out)
}

func TestJournalDisabled(t *testing.T) {
	isolate(t)
	_, _, err := run(t, "", "journal", "list")
	assert.ErrorIs(t, err, errJournalDisabled)
}

func TestVersionCommand(t *testing.T) {
	isolate(t)
	out, _, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", out)
}

func TestInvalidConfigFails(t *testing.T) {
	isolate(t)
	t.Setenv("FORMULA_LOG_LEVEL", "chatty")
	_, _, err := run(t, "", "eval", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown log level")
}
