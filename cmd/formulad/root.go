package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/formula/internal/formula"
)

// errRequestFailed marks a one-shot command whose error response was
// already printed.
var errRequestFailed = errors.New("request failed")

// Command groups.
const (
	GroupServe   = "serve"
	GroupFormula = "formula"
	GroupJournal = "journal"
)

func newRootCmd() *cobra.Command {
	var configPath string
	var cfg Config

	root := &cobra.Command{
		Use:   "formulad",
		Short: "Sandboxed formula engine worker",
		Long: `formulad evaluates short arithmetic and logical formulas in a sandbox.

Run without a command it serves the line protocol on stdin/stdout:

  eval ||| <formula> ||| <bindings json>
  get_names ||| <formula>

Each request line gets exactly one response line. Logs go to stderr.

Configuration is read from ~/.formula/formula.toml (or $FORMULA_CONFIG),
then FORMULA_* environment variables, then flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := loadConfig(configPath, os.Getenv)
			if err != nil {
				return err
			}
			if err := applyFlags(&loaded, cmd); err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Config file (default ~/.formula/formula.toml)")
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	pf.String("log-format", "text", "Log format (text, json)")
	pf.Duration("budget", formula.DefaultBudget, "Wall-clock budget per evaluation")
	pf.Bool("envelope", false, `Wrap responses as {"ok": ...} objects`)
	pf.Int("max-sequence", formula.DefaultMaxSequence, "Largest sequence a formula may build")
	pf.Int("max-output", formula.DefaultMaxOutput, "Largest encoded result in bytes")
	pf.String("journal", "", "Journal database path (empty disables the journal)")

	root.AddGroup(
		&cobra.Group{ID: GroupServe, Title: "Serving:"},
		&cobra.Group{ID: GroupFormula, Title: "Formulas:"},
		&cobra.Group{ID: GroupJournal, Title: "Journal:"},
	)

	cfgFn := func() Config { return cfg }
	serve := newServeCmd(cfgFn)
	root.RunE = serve.RunE
	root.AddCommand(
		serve,
		newMCPCmd(cfgFn),
		newEvalCmd(cfgFn),
		newNamesCmd(cfgFn),
		newASTCmd(),
		newFunctionsCmd(cfgFn),
		newJournalCmd(cfgFn),
		newVersionCmd(),
	)
	return root
}
