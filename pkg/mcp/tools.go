package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/formula/internal/formula"
	"github.com/rendis/formula/internal/logging"
	"github.com/rendis/formula/internal/protocol"
	"github.com/rendis/formula/internal/store"
)

const defaultJournalLimit = 20

// handleEval evaluates a formula through the dispatcher.
func (s *FormulaServer) handleEval(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("formula")
	if err != nil {
		return mcp.NewToolResultError("formula is required"), nil
	}
	bindings, err := bindingsText(req.GetArguments()["bindings"])
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.dispatch(ctx, protocol.Request{
		Command: protocol.CommandEval,
		Args:    []string{text, bindings},
	}), nil
}

// handleGetNames lists a formula's free variables through the dispatcher, or
// every reference when all is set.
func (s *FormulaServer) handleGetNames(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("formula")
	if err != nil {
		return mcp.NewToolResultError("formula is required"), nil
	}
	if req.GetBool("all", false) {
		names, err := s.engine.References(text)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		out, err := formula.EncodeNames(names)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(out)), nil
	}
	return s.dispatch(ctx, protocol.Request{
		Command: protocol.CommandGetNames,
		Args:    []string{text},
	}), nil
}

// handleFunctions lists environment names grouped by category.
func (s *FormulaServer) handleFunctions(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	only := req.GetString("category", "")
	env := s.engine.Environment()

	grouped := make(map[string][]string)
	for _, name := range env.Names() {
		cat := env.Category(name)
		if only != "" && cat != only {
			continue
		}
		grouped[cat] = append(grouped[cat], name)
	}
	return marshalResult(grouped)
}

// handleJournal lists recent journal entries.
func (s *FormulaServer) handleJournal(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.journal == nil {
		return mcp.NewToolResultError("journal is not enabled"), nil
	}
	filter := store.EvaluationFilter{
		Command:   req.GetString("command", ""),
		ErrorCode: req.GetString("error_code", ""),
		Limit:     req.GetInt("limit", defaultJournalLimit),
	}
	if _, ok := req.GetArguments()["failed"]; ok {
		failed := req.GetBool("failed", false)
		filter.Failed = &failed
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultJournalLimit
	}

	entries, err := s.journal.List(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("journal query failed: %v", err)), nil
	}
	if entries == nil {
		entries = []*store.Evaluation{}
	}
	return marshalResult(map[string]any{"evaluations": entries})
}

func (s *FormulaServer) dispatch(ctx context.Context, req protocol.Request) *mcp.CallToolResult {
	resp := s.dispatcher.Dispatch(logging.WithTransport(ctx, "mcp"), req)
	if resp.Err != nil {
		return mcp.NewToolResultError(resp.Err.Error())
	}
	return mcp.NewToolResultText(string(resp.Value))
}

// bindingsText turns the bindings argument back into JSON text for the
// dispatcher. A string is taken as already encoded.
func bindingsText(v any) (string, error) {
	switch b := v.(type) {
	case nil:
		return "{}", nil
	case string:
		return b, nil
	case map[string]any:
		data, err := json.Marshal(b)
		if err != nil {
			return "", fmt.Errorf("bindings: %w", err)
		}
		return string(data), nil
	}
	return "", fmt.Errorf("bindings must be an object or a JSON string, got %T", v)
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
