package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/eatd/vl-desktop-agent/internal/trace"
	"github.com/eatd/vl-desktop-agent/internal/types"
)

func init() {
	rootCmd.AddCommand(traceCmd)
	traceCmd.AddCommand(traceListCmd, traceShowCmd, traceClearCmd)
}

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Inspect recorded sessions",
}

var traceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded sessions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rec := trace.NewRecorder(loadConfig().TracePath())
		list, err := rec.List()
		if err != nil {
			return fmt.Errorf("list traces: %w", err)
		}

		if len(list) == 0 {
			fmt.Println("No traces found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tSTEPS\tSTARTED\tGOAL")
		for _, s := range list {
			status := string(s.Reason)
			if status == "" {
				status = "running"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				s.ID,
				status,
				s.StepCount,
				s.StartedAt.Local().Format("2006-01-02 15:04:05"),
				s.Goal,
			)
		}
		return w.Flush()
	},
}

var traceShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show the steps of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec := trace.NewRecorder(loadConfig().TracePath())
		s, err := rec.Load(types.SessionID(args[0]))
		if errors.Is(err, trace.ErrNotFound) {
			return fmt.Errorf("trace not found: %s", args[0])
		}
		if err != nil {
			return err
		}

		fmt.Printf("Session:  %s\n", s.ID)
		fmt.Printf("Goal:     %s\n", s.Goal)
		fmt.Printf("Model:    %s\n", s.Model)
		fmt.Printf("Screen:   %dx%d (reference %dx%d)\n", s.Screen.W, s.Screen.H, s.Reference.W, s.Reference.H)
		fmt.Printf("Dry run:  %v\n", s.DryRun)
		fmt.Printf("Result:   %s\n", s.Reason)
		if s.Error != "" {
			fmt.Printf("Error:    %s\n", s.Error)
		}
		fmt.Println()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STEP\tACTION\tOUTCOME\tCHANGE\tDURATION\tNOTE")
		for _, st := range s.Steps {
			kind := "-"
			if st.Action != nil {
				kind = string(st.Action.Kind())
			}
			change := "-"
			if st.Measured {
				change = fmt.Sprintf("%.2f%%", st.Score)
			}
			note := st.Reason
			if note == "" && st.Hint != "" {
				note = "hint: " + st.Hint
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				st.Number, kind, st.Outcome, change, st.Duration.Round(time.Millisecond), note)
		}
		return w.Flush()
	},
}

var traceClearCmd = &cobra.Command{
	Use:   "clear <id|all>",
	Short: "Delete a recorded session or all of them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec := trace.NewRecorder(loadConfig().TracePath())

		if args[0] == "all" {
			if err := os.RemoveAll(rec.Root()); err != nil {
				return fmt.Errorf("remove traces directory: %w", err)
			}
			fmt.Println("All traces cleared.")
			return nil
		}

		dir, err := rec.Dir(types.SessionID(args[0]))
		if err != nil {
			return err
		}
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return fmt.Errorf("trace not found: %s", args[0])
		}
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove trace directory: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Trace %s cleared.\n", args[0])
		return nil
	},
}
