package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFormulaServer(t *testing.T) {
	s := NewFormulaServer(FormulaServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.Same(t, s.mcpServer, s.MCPServer())
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		toolName    string
		description string
	}{
		{"formula.eval", "Evaluate a formula against variable bindings"},
		{"formula.get_names", "List the variables a formula references, in source order"},
		{"formula.functions", "List the functions and constants available to formulas"},
		{"formula.journal", "List recent journaled evaluations, newest first"},
	}

	s := NewFormulaServer(FormulaServerDeps{})
	require.Len(t, s.mcpServer.ListTools(), len(tests))

	for _, tc := range tests {
		t.Run(tc.toolName, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
}
