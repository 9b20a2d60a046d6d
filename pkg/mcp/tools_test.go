package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/formula/internal/formula"
	"github.com/rendis/formula/internal/protocol"
	"github.com/rendis/formula/internal/store"
	"github.com/rendis/formula/internal/validation"
	"github.com/rendis/formula/pkg/schema"
)

// mockJournal keeps records in memory and serves List from them.
type mockJournal struct {
	store.Journal
	entries []*store.Evaluation
	filters []store.EvaluationFilter
	listErr error
}

func (m *mockJournal) Record(_ context.Context, ev *store.Evaluation) error {
	m.entries = append(m.entries, ev)
	return nil
}

func (m *mockJournal) List(_ context.Context, filter store.EvaluationFilter) ([]*store.Evaluation, error) {
	m.filters = append(m.filters, filter)
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*store.Evaluation
	for i := len(m.entries) - 1; i >= 0; i-- {
		ev := m.entries[i]
		if filter.Command != "" && ev.Command != filter.Command {
			continue
		}
		if filter.Failed != nil && ev.Failed() != *filter.Failed {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func newTestServer(t *testing.T, j store.Journal) *FormulaServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng, err := formula.NewEngine(formula.Options{Logger: logger})
	require.NoError(t, err)
	v, err := validation.NewJSONSchemaValidator(nil)
	require.NoError(t, err)
	d := protocol.NewDispatcher(protocol.Options{Engine: eng, Validator: v, Journal: j, Logger: logger})
	return NewFormulaServer(FormulaServerDeps{Dispatcher: d, Engine: eng, Journal: j, Logger: logger})
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func TestEvalTool(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]any
		want    string
		wantErr string
	}{
		{"object bindings", map[string]any{"formula": "x + y", "bindings": map[string]any{"x": 2, "y": 3}}, "5", ""},
		{"string bindings text", map[string]any{"formula": "x * 2", "bindings": `{"x": 1.5}`}, "3.0", ""},
		{"splice", map[string]any{"formula": "a + b", "bindings": map[string]any{"a": `"x"`, "b": `"y"`}}, `"xy"`, ""},
		{"no bindings", map[string]any{"formula": "max(1, 7, 3)"}, "7", ""},
		{"runtime error", map[string]any{"formula": "1/0"}, "", "[RUNTIME_ERROR] division by zero"},
		{"unbound", map[string]any{"formula": "nope"}, "", "[UNBOUND_NAME] name 'nope' is not defined"},
		{"bad bindings type", map[string]any{"formula": "1", "bindings": 7.0}, "", "bindings must be an object or a JSON string, got float64"},
		{"missing formula", map[string]any{}, "", "formula is required"},
	}

	s := newTestServer(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := s.handleEval(context.Background(), buildRequest("formula.eval", tt.args))
			require.NoError(t, err)
			if tt.wantErr != "" {
				assert.True(t, result.IsError)
				assert.Equal(t, tt.wantErr, resultText(t, result))
				return
			}
			assert.False(t, result.IsError)
			assert.Equal(t, tt.want, resultText(t, result))
		})
	}
}

func TestGetNamesTool(t *testing.T) {
	s := newTestServer(t, nil)

	result, err := s.handleGetNames(context.Background(), buildRequest("formula.get_names", map[string]any{"formula": "sin(x) + y*2"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, `["x", "y"]`, resultText(t, result))

	result, err = s.handleGetNames(context.Background(), buildRequest("formula.get_names", map[string]any{"formula": "(1 +"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), schema.ErrCodeSyntax)

	result, err = s.handleGetNames(context.Background(), buildRequest("formula.get_names", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestGetNamesTool_All(t *testing.T) {
	s := newTestServer(t, nil)

	result, err := s.handleGetNames(context.Background(), buildRequest("formula.get_names", map[string]any{"formula": "tri(t, e)", "all": true}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, `["tri", "t", "e"]`, resultText(t, result))

	result, err = s.handleGetNames(context.Background(), buildRequest("formula.get_names", map[string]any{"formula": "(1 +", "all": true}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestFunctionsTool(t *testing.T) {
	s := newTestServer(t, nil)

	result, err := s.handleFunctions(context.Background(), buildRequest("formula.functions", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var all map[string][]string
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &all))
	assert.Contains(t, all[formula.CategoryGeneric], "sum")
	assert.Contains(t, all[formula.CategoryMath], "pi")
	assert.Contains(t, all[formula.CategoryRandom], "randint")
	assert.Contains(t, all[formula.CategoryWave], "sin_w")

	result, err = s.handleFunctions(context.Background(), buildRequest("formula.functions", map[string]any{"category": formula.CategoryWave}))
	require.NoError(t, err)
	var waves map[string][]string
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &waves))
	assert.Equal(t, []string{formula.CategoryWave}, keys(waves))
	assert.Equal(t, []string{"saw_w", "sin_w", "sqr_w", "tri", "tri_w"}, waves[formula.CategoryWave])
}

func keys(m map[string][]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestJournalTool(t *testing.T) {
	j := &mockJournal{}
	s := newTestServer(t, j)
	ctx := context.Background()

	_, err := s.handleEval(ctx, buildRequest("formula.eval", map[string]any{"formula": "2 + 2"}))
	require.NoError(t, err)
	_, err = s.handleEval(ctx, buildRequest("formula.eval", map[string]any{"formula": "1/0"}))
	require.NoError(t, err)
	require.Len(t, j.entries, 2)
	assert.Equal(t, "mcp", j.entries[0].Transport)

	result, err := s.handleJournal(ctx, buildRequest("formula.journal", map[string]any{"failed": true, "limit": 5}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var body struct {
		Evaluations []store.Evaluation `json:"evaluations"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &body))
	require.Len(t, body.Evaluations, 1)
	assert.Equal(t, "1/0", body.Evaluations[0].Formula)
	assert.Equal(t, schema.ErrCodeRuntime, body.Evaluations[0].ErrorCode)

	last := j.filters[len(j.filters)-1]
	assert.Equal(t, 5, last.Limit)
	require.NotNil(t, last.Failed)
	assert.True(t, *last.Failed)
}

func TestJournalTool_Defaults(t *testing.T) {
	j := &mockJournal{}
	s := newTestServer(t, j)

	result, err := s.handleJournal(context.Background(), buildRequest("formula.journal", nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.JSONEq(t, `{"evaluations": []}`, resultText(t, result))
	require.Len(t, j.filters, 1)
	assert.Equal(t, defaultJournalLimit, j.filters[0].Limit)
	assert.Nil(t, j.filters[0].Failed)
}

func TestJournalTool_Errors(t *testing.T) {
	s := newTestServer(t, nil)
	result, err := s.handleJournal(context.Background(), buildRequest("formula.journal", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "journal is not enabled", resultText(t, result))

	s = newTestServer(t, &mockJournal{listErr: errors.New("locked")})
	result, err = s.handleJournal(context.Background(), buildRequest("formula.journal", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "journal query failed: locked", resultText(t, result))
}

func TestBindingsText(t *testing.T) {
	got, err := bindingsText(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", got)

	got, err = bindingsText(`{"a": 1}`)
	require.NoError(t, err)
	assert.Equal(t, `{"a": 1}`, got)

	got, err = bindingsText(map[string]any{"a": []any{1.0, "x"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": [1, "x"]}`, got)

	_, err = bindingsText([]any{1})
	assert.Error(t, err)
}
