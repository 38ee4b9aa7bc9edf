package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/terra-clan/treetest-engine/internal/models"
	"github.com/terra-clan/treetest-engine/internal/results"
	"github.com/terra-clan/treetest-engine/internal/seed"
)

func newAnalyzeCmd() *cobra.Command {
	var (
		taskID       string
		destinations string
		maxTime      int
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "analyze <fixture.yaml>",
		Short: "Compute study results from a YAML fixture",
		Long: "Analyze loads a study fixture with recorded attempts and prints the study\n" +
			"overview, or the full report of one task with --task.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := results.ParseDestinationMode(destinations)
			if err != nil {
				return err
			}

			f, err := seed.NewLoader().LoadFromFile(args[0])
			if err != nil {
				return err
			}
			opts := results.Options{DefaultMaxTime: maxTime, Destinations: mode}

			if taskID != "" {
				return analyzeTask(cmd.OutOrStdout(), f, taskID, opts, asJSON)
			}

			overview, err := results.Overview(cmd.Context(), f.Study, f.Tasks, f.Attempts(), f.Participants, f.Index(), opts)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), overview)
			}
			printOverview(cmd.OutOrStdout(), f.Study, overview)
			return nil
		},
	}

	cmd.Flags().StringVar(&taskID, "task", "", "report a single task by id")
	cmd.Flags().StringVar(&destinations, "destinations", string(results.ParticipantPaths),
		"incorrect destination grouping: participant or configured")
	cmd.Flags().IntVar(&maxTime, "max-time", results.DefaultMaxTimeLimit, "fallback display cap for times, in seconds")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func analyzeTask(w io.Writer, f *seed.Fixture, taskID string, opts results.Options, asJSON bool) error {
	var task *models.Task
	for i := range f.Tasks {
		if f.Tasks[i].ID == taskID {
			task = &f.Tasks[i]
		}
	}
	if task == nil {
		return fmt.Errorf("task %q not found in fixture", taskID)
	}

	var attempts []models.TaskAttempt
	for _, a := range f.Attempts() {
		if a.TaskID == taskID {
			attempts = append(attempts, a)
		}
	}

	opts.PathAnalysis = true
	report, err := results.AnalyzeTask(f.Study, *task, attempts, f.Index(), opts)
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(w, report)
	}
	printTask(w, report)
	return nil
}

func printOverview(w io.Writer, st models.Study, o *results.StudyOverview) {
	fmt.Fprintf(w, "Study: %s (%s)\n", st.Name, st.ID)
	fmt.Fprintf(w, "Participants: %d total, %d completed, %d abandoned (%d%% completion)\n",
		o.Participants.Total, o.Participants.Completed, o.Participants.Abandoned, o.Participants.CompletionRate)
	fmt.Fprintf(w, "Attempts: %d  Success: %d%% ±%d  Directness: %d%% ±%d  Score: %d\n\n",
		o.Attempts, o.Success.Rate, o.Success.Margin, o.Directness.Rate, o.Directness.Margin, o.Score)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTASK\tATTEMPTS\tSUCCESS\tDIRECT\tSCORE\tMEDIAN(s)")
	for _, t := range o.Tasks {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d%%\t%d%%\t%d\t%.1f\n",
			t.Position, t.TaskID, t.Attempts, t.Success.Rate, t.Directness.Rate, t.Score, t.Times.Display.Median)
	}
	tw.Flush()
}

func printTask(w io.Writer, r *results.TaskReport) {
	fmt.Fprintf(w, "Task %d: %s\n", r.Position, r.Description)
	fmt.Fprintf(w, "Attempts: %d  Success: %d%% ±%d  Directness: %d%% ±%d  Score: %d\n",
		r.Attempts, r.Success.Rate, r.Success.Margin, r.Directness.Rate, r.Directness.Margin, r.Score)

	fmt.Fprintln(w, "\nOutcomes:")
	for _, o := range results.Outcomes {
		fmt.Fprintf(w, "  %-17s %d\n", o, r.Breakdown.Count(o))
	}

	fmt.Fprintln(w, "\nFirst clicks:")
	for _, c := range r.FirstClicks {
		marker := ""
		if c.IsCorrect {
			marker = " *"
		}
		fmt.Fprintf(w, "  %-30s first %3d%%  total %3d%%%s\n", c.Path, c.FirstClickPercentage, c.TotalClickPercentage, marker)
	}

	fmt.Fprintf(w, "\nIncorrect destinations (%s):\n", r.DestinationMode)
	for _, d := range r.Destinations {
		fmt.Fprintf(w, "  %-30s %d (%d%%)\n", d.Path, d.Count, d.Percentage)
	}
}
