package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/p-n-ai/pai-quest/internal/achievement"
	"github.com/p-n-ai/pai-quest/internal/curriculum"
	"github.com/p-n-ai/pai-quest/internal/graph"
	"github.com/p-n-ai/pai-quest/internal/progress"
	"github.com/p-n-ai/pai-quest/internal/report"
	"github.com/p-n-ai/pai-quest/internal/snapshot"
	"github.com/p-n-ai/pai-quest/internal/stats"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "questctl",
		Short:        "Inspect and reconcile pai-quest progress snapshots",
		SilenceUsage: true,
	}
	root.AddCommand(
		newValidateCmd(),
		newStatsCmd(),
		newMergeCmd(),
		newReportCmd(),
		newCurriculumCmd(),
	)
	return root
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <snapshot.json>",
		Short: "Check that a snapshot is well formed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := readSnapshot(args[0])
			if err != nil {
				return err
			}
			s := stats.Aggregate(snap.Zones)
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d zones, %d levels, %d complete\n", len(snap.Zones), s.Total, s.Completed)
			return nil
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <snapshot.json>",
		Short: "Print completion statistics for a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := readSnapshot(args[0])
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), snap)
			return nil
		},
	}
}

func printStats(out io.Writer, snap *snapshot.Snapshot) {
	s := stats.Aggregate(graph.Resolve(snap.Zones))

	fmt.Fprintf(out, "XP %d (level %d), streak %d\n", snap.User.XP, snap.User.Level, snap.User.Streak)
	fmt.Fprintf(out, "Completed %d/%d levels (%d%%), %d/%d XP\n", s.Completed, s.Total, s.Percent, s.EarnedXP, s.TotalXP)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ZONE\tTITLE\tDONE\tMASTERED")
	for _, z := range s.Zones {
		mastered := ""
		if z.Mastered() {
			mastered = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\n", z.ZoneID, z.Title, z.Completed, z.Total, mastered)
	}
	tw.Flush()

	if len(snap.User.Badges) > 0 {
		fmt.Fprint(out, "Badges:")
		for _, id := range snap.User.Badges {
			if b, ok := achievement.Lookup(id); ok {
				fmt.Fprintf(out, " %s %s", b.Icon, b.Title)
			}
		}
		fmt.Fprintln(out)
	}
}

func newMergeCmd() *cobra.Command {
	var (
		strategyFlag string
		output       string
	)
	cmd := &cobra.Command{
		Use:   "merge <live.json> <imported.json>",
		Short: "Reconcile an imported snapshot into a live one",
		Long: `Merge applies the same reconciliation the server uses for imports.

Strategies:
  merge      keep the furthest status per level and the higher XP
  skip       keep live progress and only add what is missing
  overwrite  replace live progress with the import`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			strategy, err := snapshot.ParseStrategy(strategyFlag)
			if err != nil {
				return err
			}
			live, err := readSnapshot(args[0])
			if err != nil {
				return err
			}
			imported, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("reading import: %w", err)
			}

			merged, err := mergeSnapshots(cmd.Context(), live, imported, strategy)
			if err != nil {
				return err
			}
			data, err := snapshot.Encode(merged)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), output, data)
		},
	}
	cmd.Flags().StringVarP(&strategyFlag, "strategy", "s", string(snapshot.Merge), "merge strategy: merge, skip or overwrite")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the result to a file instead of stdout")
	return cmd
}

// mergeSnapshots runs an import through an engine seeded with live so the
// result carries the same unlocks, XP and badges the server would produce.
func mergeSnapshots(ctx context.Context, live *snapshot.Snapshot, imported []byte, strategy snapshot.Strategy) (*snapshot.Snapshot, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	store := progress.NewMemoryStore()
	if err := store.Save(ctx, live); err != nil {
		return nil, err
	}

	engine := progress.NewEngine(progress.EngineConfig{
		Store:        store,
		SaveDebounce: time.Hour,
	})
	if err := engine.Load(ctx); err != nil {
		return nil, err
	}
	if err := engine.ImportJSON(ctx, imported, strategy); err != nil {
		return nil, err
	}
	return engine.Snapshot(), nil
}

func newReportCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "report <snapshot.json>",
		Short: "Export a snapshot as an Excel workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := readSnapshot(args[0])
			if err != nil {
				return err
			}
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating report: %w", err)
			}
			if err := report.Write(f, snap); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("closing report: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "progress.xlsx", "workbook path")
	return cmd
}

func newCurriculumCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "curriculum [dir]",
		Short: "Validate a curriculum directory, or list the bundled one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				loader *curriculum.Loader
				err    error
			)
			if len(args) == 1 {
				loader, err = curriculum.NewLoader(args[0])
			} else {
				loader, err = curriculum.Default()
			}
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ZONE\tLEVEL\tXP\tPREREQS")
			for _, z := range loader.Zones() {
				for _, l := range z.Levels {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%v\n", z.ID, l.ID, l.XPValue(), l.Prereqs)
				}
			}
			return tw.Flush()
		},
	}
}

func readSnapshot(path string) (*snapshot.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	snap, err := snapshot.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return snap, nil
}

func writeOutput(stdout io.Writer, path string, data []byte) error {
	if path == "" {
		_, err := stdout.Write(append(data, '\n'))
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	return nil
}
