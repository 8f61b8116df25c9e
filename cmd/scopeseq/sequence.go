package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/gotmc/scopeseq/lib/editor"
	"github.com/gotmc/scopeseq/lib/executor"
	"github.com/gotmc/scopeseq/lib/history"
	"github.com/gotmc/scopeseq/lib/logging"
	"github.com/gotmc/scopeseq/lib/sequence"
	"github.com/gotmc/scopeseq/lib/tui"
	"github.com/spf13/cobra"
)

var (
	saveDir    string
	loadDir    string
	runName    string
	runYes     bool
	runOffline bool
	histLimit  int
)

func init() {
	rootCmd.AddCommand(composeCmd, editCmd, showCmd, runCmd, historyCmd)

	composeCmd.Flags().StringVar(&saveDir, "save-dir", "", "directory receiving the script_<timestamp> folder")
	editCmd.Flags().StringVar(&saveDir, "save-dir", "", "directory receiving saved sequences")
	editCmd.Flags().StringVar(&loadDir, "load", "", "sequence directory to start from")

	runCmd.Flags().StringVar(&runName, "name", "", "capture name used by Wave Cap steps")
	runCmd.Flags().BoolVarP(&runYes, "yes", "y", false, "overwrite existing captures without asking")
	runCmd.Flags().BoolVar(&runOffline, "offline", false, "run without connecting to the instrument")

	historyCmd.Flags().IntVar(&histLimit, "limit", 20, "number of runs to list")
}

func newEditor() (*editor.Editor, error) {
	return editor.New(sequence.NewModel(cfg.Slots), store(), editor.WithLogger(logging.Component("editor")))
}

// parseStepArg parses a compose argument: a step kind, optionally followed
// by =seconds for Delay steps.
func parseStepArg(arg string) (sequence.Kind, *float64, error) {
	name, val, hasVal := strings.Cut(arg, "=")
	kind, err := sequence.ParseKind(name)
	if err != nil {
		return "", nil, err
	}
	if !hasVal {
		return kind, nil, nil
	}
	if kind != sequence.Delay {
		return "", nil, fmt.Errorf("%s: only Delay steps take a value", arg)
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", arg, err)
	}
	return kind, &secs, nil
}

var composeCmd = &cobra.Command{
	Use:   "compose STEP...",
	Short: "Build a sequence from the command line and save it",
	Long: `Build a sequence from the command line and save it.

Steps fill the slots in order. Delay steps take an optional duration:

  scopeseq compose --save-dir data Start Delay=2.5 "Axis Control" "Wave Cap" End`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ed, err := newEditor()
		if err != nil {
			return err
		}
		model := ed.Model()
		if len(args) > model.SlotCount() {
			return fmt.Errorf("%d steps do not fit in %d slots", len(args), model.SlotCount())
		}
		for i, arg := range args {
			kind, secs, err := parseStepArg(arg)
			if err != nil {
				return err
			}
			id, err := model.CreateStep(kind)
			if err != nil {
				return err
			}
			if err := model.Place(id, i); err != nil {
				return err
			}
			if secs != nil {
				if err := ed.SetDelay(id, *secs); err != nil {
					return err
				}
			}
		}
		console.Lines(ed.Render())
		dir, err := ed.Save(saveDir)
		if err != nil {
			return err
		}
		console.Println("Sequence saved to " + dir)
		return nil
	},
}

var editCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit a sequence interactively",
	RunE: func(cmd *cobra.Command, args []string) error {
		ed, err := newEditor()
		if err != nil {
			return err
		}
		if loadDir != "" {
			if err := ed.Load(loadDir); err != nil {
				return err
			}
		}
		m, err := tui.Run(tui.New(ed, saveDir, tui.WithSnapDistance(cfg.SnapDistance)))
		if err != nil {
			return err
		}
		if m.Saved != "" {
			console.Println("Sequence saved to " + m.Saved)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show DIR",
	Short: "Render a saved sequence",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ed, err := newEditor()
		if err != nil {
			return err
		}
		if err := ed.Load(args[0]); err != nil {
			return err
		}
		console.Lines(ed.Render())
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run DIR|FILE",
	Short: "Execute a saved sequence",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := logging.Component("executor")

		opts := []executor.Option{
			executor.WithPrompter(newPrompter(runName, runYes)),
			executor.WithProgress(console),
			executor.WithLogger(log),
			executor.WithBaseDirectory(cfg.BaseDirectory),
			executor.WithDefaultName(cfg.BaseFilename),
		}
		if cfg.HistoryPath != "" {
			hist, err := history.Open(cfg.HistoryPath)
			if err != nil {
				log.Warn().Err(err).Msg("run history unavailable")
			} else {
				defer hist.Close()
				opts = append(opts, executor.WithRecorder(hist))
			}
		}

		var facade executor.Facade
		if !runOffline {
			sc, closeFn, err := openScope(ctx)
			if err != nil {
				console.Errorf("Oscilloscope not connected: %s", err)
			} else {
				defer closeFn()
				facade = sc
			}
		}

		rep, err := executor.New(facade, opts...).Run(ctx, args[0])
		if err != nil {
			return err
		}
		if rep.State != executor.Succeeded {
			return fmt.Errorf("run %s: %s", rep.ID, rep.Summary())
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [RUN-ID]",
	Short: "List past runs, or show one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.HistoryPath == "" {
			return fmt.Errorf("history_path is not configured")
		}
		hist, err := history.Open(cfg.HistoryPath)
		if err != nil {
			return err
		}
		defer hist.Close()

		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		if len(args) == 1 {
			run, err := hist.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "Run:\t%s\n", run.ID)
			fmt.Fprintf(w, "Sequence:\t%s\n", run.Sequence)
			fmt.Fprintf(w, "State:\t%s\n", run.State)
			fmt.Fprintf(w, "Started:\t%s\n", run.Started.Format(time.DateTime))
			fmt.Fprintf(w, "Duration:\t%s\n", run.Finished.Sub(run.Started).Round(time.Millisecond))
			if run.Error != "" {
				fmt.Fprintf(w, "Error:\t%s\n", run.Error)
			}
			for _, s := range run.Steps {
				fmt.Fprintf(w, "  %d.\t%s\t%s\t%s\n", s.Index, s.Kind, s.Outcome, s.Message)
			}
			return w.Flush()
		}

		runs, err := hist.List(cmd.Context(), histLimit)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "ID\tSTARTED\tSTATE\tFAILED\tSEQUENCE")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", r.ID, r.Started.Format(time.DateTime), r.State, r.Failed, r.Sequence)
		}
		return w.Flush()
	},
}
