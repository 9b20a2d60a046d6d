package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/formula/internal/store"
)

var errJournalDisabled = errors.New("journal is disabled: set [journal] path, FORMULA_JOURNAL_PATH or --journal")

func newJournalCmd(cfg func() Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "journal",
		GroupID: GroupJournal,
		Short:   "Inspect and prune the evaluation journal",
	}
	cmd.AddCommand(newJournalListCmd(cfg), newJournalStatsCmd(cfg), newJournalPruneCmd(cfg))
	return cmd
}

// withJournal opens the configured journal for the duration of fn.
func withJournal(cmd *cobra.Command, cfg Config, fn func(store.Journal) error) (err error) {
	if cfg.Journal.Path == "" {
		return errJournalDisabled
	}
	j, err := openJournal(cmd.Context(), cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, j.Close()) }()
	return fn(j)
}

func newJournalListCmd(cfg func() Config) *cobra.Command {
	var (
		limit   int
		command string
		code    string
		failed  bool
		since   time.Duration
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List journal entries, newest first",
		Example: `  formulad journal list -n 50
  formulad journal list --failed --since 1h
  formulad journal list --code TIMEOUT_ERROR --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := store.EvaluationFilter{Command: command, ErrorCode: code, Limit: limit}
			if cmd.Flags().Changed("failed") {
				filter.Failed = &failed
			}
			if since > 0 {
				t := time.Now().UTC().Add(-since)
				filter.Since = &t
			}
			return withJournal(cmd, cfg(), func(j store.Journal) error {
				entries, err := j.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					for _, ev := range entries {
						if err := enc.Encode(ev); err != nil {
							return err
						}
					}
					return nil
				}
				return printEntries(cmd, entries)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "tail", "n", 20, "Number of entries to show")
	cmd.Flags().StringVar(&command, "command", "", "Only entries for this command")
	cmd.Flags().StringVar(&code, "code", "", "Only entries that failed with this error code")
	cmd.Flags().BoolVar(&failed, "failed", false, "Only failed entries (--failed=false for successes)")
	cmd.Flags().DurationVar(&since, "since", 0, "Only entries newer than this (e.g. 1h, 30m)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print one JSON object per line")
	return cmd
}

func printEntries(cmd *cobra.Command, entries []*store.Evaluation) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tCOMMAND\tDURATION\tFORMULA\tOUTCOME")
	for _, ev := range entries {
		outcome := ev.Result
		if ev.Failed() {
			outcome = ev.ErrorCode + ": " + ev.ErrorMessage
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			ev.CreatedAt.Local().Format(time.DateTime),
			ev.Command,
			ev.Duration.Round(time.Microsecond),
			truncate(ev.Formula, 40),
			truncate(outcome, 60),
		)
	}
	return w.Flush()
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\t", " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}

func newJournalStatsCmd(cfg func() Config) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the journal as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withJournal(cmd, cfg(), func(j store.Journal) error {
				st, err := j.Stats(cmd.Context())
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			})
		},
	}
}

func newJournalPruneCmd(cfg func() Config) *cobra.Command {
	var olderThan time.Duration
	var vacuum bool
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete journal entries older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := cfg()
			if olderThan <= 0 {
				olderThan = c.Journal.Retention.Duration
			}
			return withJournal(cmd, c, func(j store.Journal) error {
				n, err := j.Prune(cmd.Context(), time.Now().UTC().Add(-olderThan))
				if err != nil {
					return err
				}
				if vacuum {
					if err := j.Vacuum(cmd.Context()); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pruned %d entries older than %s\n", n, olderThan)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Age cutoff (default: configured retention)")
	cmd.Flags().BoolVar(&vacuum, "vacuum", false, "Reclaim space afterwards")
	return cmd
}
