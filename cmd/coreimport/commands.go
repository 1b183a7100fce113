package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/erpimport/internal/config"
	"github.com/JonMunkholm/erpimport/internal/core"
	"github.com/JonMunkholm/erpimport/internal/logging"
	"github.com/JonMunkholm/erpimport/internal/store"
)

var errNotConfirmed = errors.New("import not applied: rerun with --yes to confirm")

type app struct {
	driver   string
	database string
	jsonOut  bool
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "coreimport",
		Short:         "Reconcile the Core Data table with an ERP export",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.driver, "driver", "", "database driver: postgres or sqlite (overrides DB_DRIVER)")
	root.PersistentFlags().StringVar(&a.database, "database", "", "database URL or SQLite path (overrides DATABASE_URL)")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "print results as JSON")

	root.AddCommand(a.analyzeCmd(), a.applyCmd(), a.countCmd(), a.analyticsCmd())
	return root
}

// open loads the configuration and connects to the store. The returned
// func releases the connection.
func (a *app) open(cmd *cobra.Command) (*core.Service, func(), error) {
	if a.driver != "" {
		if err := os.Setenv("DB_DRIVER", a.driver); err != nil {
			return nil, nil, err
		}
	}
	if a.database != "" {
		if err := os.Setenv("DATABASE_URL", a.database); err != nil {
			return nil, nil, err
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logging.SetupWriter(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)

	backend, err := store.Open(cmd.Context(), cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return core.NewService(backend, cfg.Import.Options()), backend.Close, nil
}

func cliContext(ctx context.Context) context.Context {
	return core.ContextWithRequester(ctx, core.Requester{Via: "cli"})
}

func readFile(path string) (string, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("read %s: %w", path, err)
	}
	return filepath.Base(path), data, nil
}

func (a *app) analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze FILE",
		Short: "Show what importing FILE would change, without writing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeStore, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			name, data, err := readFile(args[0])
			if err != nil {
				return err
			}
			plan, err := svc.Analyze(cliContext(cmd.Context()), name, data)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), plan, func(w io.Writer) { printPlan(w, plan) })
		},
	}
}

func (a *app) applyCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "apply FILE",
		Short: "Analyze FILE and, with --yes, replace the Core Data table with it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeStore, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			name, data, err := readFile(args[0])
			if err != nil {
				return err
			}
			ctx := cliContext(cmd.Context())
			plan, err := svc.Analyze(ctx, name, data)
			if err != nil {
				return err
			}
			if !yes {
				if err := a.print(cmd.OutOrStdout(), plan, func(w io.Writer) { printPlan(w, plan) }); err != nil {
					return err
				}
				return errNotConfirmed
			}

			stats, err := svc.Execute(ctx)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), stats, func(w io.Writer) { printStats(w, stats) })
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "apply without further confirmation")
	return cmd
}

func (a *app) countCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of Core Data records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeStore, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			n, err := svc.DatasetCount(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), map[string]int{"records": n}, func(w io.Writer) {
				fmt.Fprintln(w, n)
			})
		},
	}
}

func (a *app) analyticsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analytics FILE",
		Short: "Replace the analytics table with the grouped lines of FILE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeStore, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			name, data, err := readFile(args[0])
			if err != nil {
				return err
			}
			result, err := svc.ImportAnalytics(cliContext(cmd.Context()), name, data)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), result, func(w io.Writer) {
				fmt.Fprintf(w, "%d source rows grouped into %d, %d written\n",
					result.SourceRows, result.Grouped, result.Written)
			})
		},
	}
}

func (a *app) print(w io.Writer, v any, text func(io.Writer)) error {
	if a.jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

func printPlan(w io.Writer, plan core.ImportPlan) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, row := range []struct {
		label string
		value int
	}{
		{"rows in file", plan.TotalRows},
		{"to insert", plan.ToInsert},
		{"to update", plan.ToUpdate},
		{"to delete", plan.ToDelete},
		{"preserved (linked)", plan.Preserved},
		{"currently stored", plan.CurrentInDB},
		{"duplicate keys", plan.Duplicates},
		{"missing key", plan.MissingKey},
	} {
		fmt.Fprintf(tw, "%s\t%d\n", row.label, row.value)
	}
	_ = tw.Flush()
}

func printStats(w io.Writer, stats core.ExecutionStats) {
	fmt.Fprintln(w, stats.Summary())
	for _, f := range stats.Errors {
		fmt.Fprintf(w, "  line %d, cartel %d: %s\n", f.Line, f.Cartel, f.Message)
	}
	if hidden := stats.Failed - len(stats.Errors); hidden > 0 {
		fmt.Fprintf(w, "  ... and %d more\n", hidden)
	}
}
