package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rendis/formula/internal/formula"
	"github.com/rendis/formula/internal/logging"
	"github.com/rendis/formula/internal/protocol"
)

func newEvalCmd(cfg func() Config) *cobra.Command {
	return &cobra.Command{
		Use:     "eval <formula> [bindings-json]",
		GroupID: GroupFormula,
		Short:   "Evaluate one formula and print the response line",
		Example: `  formulad eval 'x + y' '{"x": 2, "y": 3}'
  formulad eval 'randint(seed, 1, 6)' '{"seed": 42}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bindings := "{}"
			if len(args) == 2 {
				bindings = args[1]
			}
			return oneShot(cmd, cfg(), protocol.Request{
				Command: protocol.CommandEval,
				Args:    []string{args[0], bindings},
			})
		},
	}
}

func newNamesCmd(cfg func() Config) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:     "names <formula>",
		GroupID: GroupFormula,
		Short:   "Print the variables a formula references",
		Long: `Print the variables a formula references, in source order.

Names the sandbox already defines (sum, e, tri, ...) are left out unless --all
is given; a binding with such a name shadows the built-in.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all {
				return oneShot(cmd, cfg(), protocol.Request{
					Command: protocol.CommandGetNames,
					Args:    []string{args[0]},
				})
			}
			a, err := newApp(cmd.Context(), cfg(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			names, err := a.engine.References(args[0])
			var out []byte
			if err == nil {
				out, err = formula.EncodeNames(names)
			}
			if err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), string(protocol.Response{Err: err}.Render(a.cfg.Envelope)))
				return errRequestFailed
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include names the sandbox defines")
	return cmd
}

// oneShot dispatches a single request and prints its rendered response.
func oneShot(cmd *cobra.Command, cfg Config, req protocol.Request) (err error) {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	resp := a.dispatcher.Dispatch(logging.WithTransport(ctx, "cli"), req)
	fmt.Fprintln(cmd.OutOrStdout(), string(resp.Render(a.cfg.Envelope)))
	if resp.Err != nil {
		return errRequestFailed
	}
	return nil
}

func newASTCmd() *cobra.Command {
	var withNames bool
	cmd := &cobra.Command{
		Use:     "ast <formula>",
		GroupID: GroupFormula,
		Short:   "Print the parsed expression tree",
		Long: `Print the parsed expression tree as an S-expression.

With --names, also print every identifier reference with its byte span, in
the order used for splicing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, err := formula.Parse(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, formula.Dump(tree))
			if !withNames {
				return nil
			}
			refs := formula.CollectNames(tree)
			if refs == nil {
				refs = []formula.NameRef{}
			}
			data, err := json.Marshal(refs)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
			return nil
		},
	}
	cmd.Flags().BoolVar(&withNames, "names", false, "Also print name references with spans")
	return cmd
}

func newFunctionsCmd(cfg func() Config) *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:     "functions",
		GroupID: GroupFormula,
		Short:   "List the names available to formulas, by category",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cfg(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			env := a.engine.Environment()
			grouped := make(map[string][]string)
			for _, name := range env.Names() {
				grouped[env.Category(name)] = append(grouped[env.Category(name)], name)
			}
			cats := make([]string, 0, len(grouped))
			for c := range grouped {
				if category == "" || c == category {
					cats = append(cats, c)
				}
			}
			sort.Strings(cats)
			out := cmd.OutOrStdout()
			for _, c := range cats {
				fmt.Fprintf(out, "%s: %s\n", c, strings.Join(grouped[c], " "))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "Only list this category")
	return cmd
}
