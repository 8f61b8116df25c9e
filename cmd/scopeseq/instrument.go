package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/gotmc/scopeseq/lib/batch"
	"github.com/gotmc/scopeseq/lib/capture"
	"github.com/gotmc/scopeseq/lib/find"
	"github.com/gotmc/scopeseq/lib/logging"
	"github.com/gotmc/scopeseq/lib/stepconfig"
	"github.com/spf13/cobra"
)

var (
	detectIDN   bool
	captureName string
	captureDir  string
	measureCh   int
)

func init() {
	rootCmd.AddCommand(detectCmd, captureCmd, measureCmd, segmentsCmd, mergeCmd)

	detectCmd.Flags().BoolVar(&detectIDN, "idn", false, "also query *IDN? on the configured address")
	captureCmd.Flags().StringVar(&captureName, "name", "", "capture name (default from waveform_config.json)")
	captureCmd.Flags().StringVar(&captureDir, "dir", "", "capture directory (default from waveform_config.json)")
	measureCmd.Flags().IntVarP(&measureCh, "channel", "c", 1, "channel to measure")
}

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "List USB GPIB adapters and instruments",
	RunE: func(cmd *cobra.Command, args []string) error {
		ttys, err := find.New(find.WithLogger(logging.Component("find"))).All()
		if err != nil {
			console.Errorf("USB scan failed: %s", err)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "DEVICE\tVID:PID\tMANUFACTURER\tPRODUCT\tSERIAL\tKIND")
		for i := range ttys {
			tt := &ttys[i]
			kind := ""
			switch {
			case find.PrologixFilter(tt):
				kind = "prologix"
			case find.ArduinoFilter(tt):
				kind = "ar488"
			case find.KeysightFilter(tt):
				kind = "keysight"
			}
			fmt.Fprintf(w, "%s\t%s:%s\t%s\t%s\t%s\t%s\n", tt.DevPath(), tt.IDv, tt.IDp, tt.Mfg, tt.Prod, tt.Serial, kind)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if !detectIDN {
			return nil
		}
		sc, closeFn, err := openScope(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		idn, err := sc.IDN()
		if err != nil {
			return err
		}
		console.Println(cfg.Address + ": " + idn)
		return nil
	},
}

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture waveforms once using waveform_config.json",
	RunE: func(cmd *cobra.Command, args []string) error {
		wf, err := loadOrDefault(store().Waveform, stepconfig.WaveformFile)
		if err != nil {
			return err
		}
		dir := captureDir
		if dir == "" {
			dir = wf.SaveDirectory
		}
		if dir == "" {
			dir = cfg.BaseDirectory
		}
		name := captureName
		if name == "" {
			name = wf.Name(cfg.BaseFilename)
		}

		sc, closeFn, err := openScope(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		res, err := capture.New(sc, capture.WithLogger(logging.Component("capture"))).Run(filepath.Join(dir, name), name, wf)
		for _, p := range res.Written {
			console.Println("Saved " + p)
		}
		return err
	},
}

var measureCmd = &cobra.Command{
	Use:   "measure NAME...",
	Short: "Run measurements on one channel",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, closeFn, err := openScope(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		for _, name := range args {
			val := "n/a"
			if v, ok := sc.Measure(name, measureCh); ok {
				val = strconv.FormatFloat(v, 'g', -1, 64)
			}
			fmt.Fprintf(w, "%s\tChannel %d\t%s\n", name, measureCh, val)
		}
		return w.Flush()
	},
}

var segmentsCmd = &cobra.Command{
	Use:   "segments",
	Short: "List the time tags of a segmented acquisition",
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, closeFn, err := openScope(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		n, err := sc.SegmentCount()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "SEGMENT\tTIME TAG (s)")
		for i := 1; i <= n; i++ {
			if err := sc.SetSegmentIndex(i); err != nil {
				return err
			}
			tag, err := sc.TimeTag()
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%d\t%g\n", i, tag)
		}
		return w.Flush()
	},
}

var mergeCmd = &cobra.Command{
	Use:   "merge DIR",
	Short: "Merge the measurement spreadsheets of every capture under DIR",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := batch.Merge(cmd.Context(), args[0],
			batch.WithLogger(logging.Component("batch")),
			batch.WithProgress(console.Progress),
		)
		if res.Output != "" {
			console.Println(fmt.Sprintf("%d row(s) from %d file(s) merged into %s", res.Rows, len(res.Sources), res.Output))
		}
		return err
	},
}
