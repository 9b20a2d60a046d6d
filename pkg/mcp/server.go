package mcp

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/formula/internal/formula"
	"github.com/rendis/formula/internal/protocol"
	"github.com/rendis/formula/internal/store"
)

// FormulaServerDeps holds the dependencies for creating a FormulaServer.
type FormulaServerDeps struct {
	Dispatcher *protocol.Dispatcher
	Engine     *formula.Engine
	// Journal is optional; without it formula.journal reports an error.
	Journal store.Journal
	Logger  *slog.Logger
	Version string
}

// FormulaServer exposes the formula engine as MCP tools. Evaluations go
// through the same Dispatcher as the line protocol, so they are journaled
// and serialized the same way.
type FormulaServer struct {
	dispatcher *protocol.Dispatcher
	engine     *formula.Engine
	journal    store.Journal
	logger     *slog.Logger
	mcpServer  *server.MCPServer
}

// NewFormulaServer creates a FormulaServer with all tools registered.
func NewFormulaServer(deps FormulaServerDeps) *FormulaServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &FormulaServer{
		dispatcher: deps.Dispatcher,
		engine:     deps.Engine,
		journal:    deps.Journal,
		logger:     logger,
	}

	mcpSrv := server.NewMCPServer(
		"formula",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Formula evaluates sandboxed arithmetic and logical expressions. Use formula.get_names to discover the variables a formula needs, formula.eval to evaluate it with bindings, formula.functions to list the callable names, and formula.journal to inspect recent evaluations."),
	)
	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *FormulaServer) Serve(ctx context.Context) error {
	return s.Listen(ctx, os.Stdin, os.Stdout)
}

// Listen runs the stdio transport over arbitrary streams.
func (s *FormulaServer) Listen(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	return stdio.Listen(ctx, in, out)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *FormulaServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *FormulaServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: evalTool(), Handler: s.handleEval},
		{Tool: getNamesTool(), Handler: s.handleGetNames},
		{Tool: functionsTool(), Handler: s.handleFunctions},
		{Tool: journalTool(), Handler: s.handleJournal},
	}
}

// --- Tool definitions ---

func evalTool() mcp.Tool {
	return mcp.NewTool("formula.eval",
		mcp.WithDescription("Evaluate a formula against variable bindings"),
		mcp.WithString("formula", mcp.Required(), mcp.Description("Formula text, e.g. \"x + y * 2\"")),
		mcp.WithObject("bindings", mcp.Description("Variable name to JSON value. String values are spliced into the formula as source text. May also be given as a JSON-encoded string to keep 1 and 1.0 distinct.")),
	)
}

func getNamesTool() mcp.Tool {
	return mcp.NewTool("formula.get_names",
		mcp.WithDescription("List the variables a formula references, in source order"),
		mcp.WithString("formula", mcp.Required(), mcp.Description("Formula text")),
		mcp.WithBoolean("all", mcp.Description("Also list references to built-in names, which a binding of the same name would shadow")),
	)
}

func functionsTool() mcp.Tool {
	return mcp.NewTool("formula.functions",
		mcp.WithDescription("List the functions and constants available to formulas"),
		mcp.WithString("category",
			mcp.Enum(formula.CategoryGeneric, formula.CategoryMath, formula.CategoryExternal, formula.CategoryRandom, formula.CategoryWave),
			mcp.Description("Only list names from this category"),
		),
	)
}

func journalTool() mcp.Tool {
	return mcp.NewTool("formula.journal",
		mcp.WithDescription("List recent journaled evaluations, newest first"),
		mcp.WithString("command", mcp.Description("Only entries for this command (eval or get_names)")),
		mcp.WithString("error_code", mcp.Description("Only entries that failed with this error code")),
		mcp.WithBoolean("failed", mcp.Description("Only failed (true) or successful (false) entries")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of entries (default 20)")),
	)
}
