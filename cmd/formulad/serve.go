package main

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rendis/formula/internal/protocol"
	"github.com/rendis/formula/pkg/mcp"
)

func newServeCmd(cfg func() Config) *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		GroupID: GroupServe,
		Short:   "Serve the line protocol on stdin/stdout (default)",
		Long: `Serve the line protocol on stdin/stdout until stdin closes.

Requests are answered strictly in order, one line each. A failing request
produces an error line; it never stops the loop.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, a.Close()) }()

			if err := a.startPruner(ctx); err != nil {
				return err
			}
			srv := protocol.NewServer(a.dispatcher, protocol.ServerOptions{
				Envelope: a.cfg.Envelope,
				Logger:   a.logger,
			})
			return srv.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func newMCPCmd(cfg func() Config) *cobra.Command {
	return &cobra.Command{
		Use:     "mcp",
		GroupID: GroupServe,
		Short:   "Serve the formula tools over MCP stdio",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, a.Close()) }()

			if err := a.startPruner(ctx); err != nil {
				return err
			}
			srv := mcp.NewFormulaServer(mcp.FormulaServerDeps{
				Dispatcher: a.dispatcher,
				Engine:     a.engine,
				Journal:    a.journal,
				Logger:     a.logger,
				Version:    version,
			})
			a.logger.Info("serving mcp", slog.String("version", version))
			return srv.Listen(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
