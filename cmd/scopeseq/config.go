package main

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/gotmc/scopeseq/lib/editor"
	"github.com/gotmc/scopeseq/lib/measure"
	"github.com/gotmc/scopeseq/lib/stepconfig"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	axisTimebaseScale float64
	axisTimebasePos   float64
	axisChannel       int
	axisScale         float64
	axisPosition      float64
	axisMarker        int
	axisMarkerX       float64
	axisMarkerY       float64

	wfChannels   []int
	wfMeasure    []string
	wfNoMeasure  []string
	wfScreenshot bool
	wfPlot       bool
	wfCSV        bool
	wfExcel      bool
	wfSaveDir    string
	wfFileName   string

	savePath string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configSaveCmd, configAxisCmd, configWaveformCmd, configDelayCmd)

	configSaveCmd.Flags().StringVar(&savePath, "path", "scopeseq.yaml", "settings file to write")

	f := configAxisCmd.Flags()
	f.Float64Var(&axisTimebaseScale, "timebase-scale", 0, "horizontal scale in s/div")
	f.Float64Var(&axisTimebasePos, "timebase-position", 0, "horizontal position in s")
	f.IntVar(&axisChannel, "channel", 0, "channel (1-4) whose scale/position is set")
	f.Float64Var(&axisScale, "scale", 0, "vertical scale in V/div")
	f.Float64Var(&axisPosition, "position", 0, "vertical position in V")
	f.IntVar(&axisMarker, "marker", 0, "marker pair (1-2) whose x/y is set")
	f.Float64Var(&axisMarkerX, "x", 0, "marker X position")
	f.Float64Var(&axisMarkerY, "y", 0, "marker Y position")

	f = configWaveformCmd.Flags()
	f.IntSliceVar(&wfChannels, "channels", nil, "channels to capture, e.g. 1,3")
	f.StringSliceVar(&wfMeasure, "measure", nil, "measurements to enable")
	f.StringSliceVar(&wfNoMeasure, "no-measure", nil, "measurements to disable")
	f.BoolVar(&wfScreenshot, "screenshot", false, "save a screenshot")
	f.BoolVar(&wfPlot, "plot", false, "save a waveform plot")
	f.BoolVar(&wfCSV, "csv", false, "save waveform data as CSV")
	f.BoolVar(&wfExcel, "excel", false, "save measurements as a spreadsheet")
	f.StringVar(&wfSaveDir, "save-dir", "", "capture directory")
	f.StringVar(&wfFileName, "file-name", "", "capture name")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Edit settings and step configuration documents",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(v.AllSettings())
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	},
}

var configSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Persist the effective settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Save(savePath); err != nil {
			return err
		}
		console.Println("Settings saved to " + savePath)
		return nil
	},
}

var configAxisCmd = &cobra.Command{
	Use:   "axis",
	Short: "Edit axis_config.json used by Axis Control steps",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := store()
		c, err := loadOrDefault(s.Axis, stepconfig.AxisFile)
		if err != nil {
			return err
		}
		f := cmd.Flags()
		if f.Changed("timebase-scale") {
			c.Timebase.Scale = axisTimebaseScale
		}
		if f.Changed("timebase-position") {
			c.Timebase.Position = axisTimebasePos
		}
		if f.Changed("scale") || f.Changed("position") {
			if axisChannel < 1 || axisChannel > stepconfig.NumChannels {
				return fmt.Errorf("--channel must be 1..%d", stepconfig.NumChannels)
			}
			ch := &c.Channels[axisChannel-1]
			if f.Changed("scale") {
				ch.Scale = axisScale
			}
			if f.Changed("position") {
				ch.Position = axisPosition
			}
		}
		if f.Changed("x") || f.Changed("y") {
			if axisMarker < 1 || axisMarker > stepconfig.NumMarkers {
				return fmt.Errorf("--marker must be 1..%d", stepconfig.NumMarkers)
			}
			for len(c.Markers) < axisMarker {
				c.Markers = append(c.Markers, stepconfig.Marker{})
			}
			m := &c.Markers[axisMarker-1]
			if f.Changed("x") {
				m.X = axisMarkerX
			}
			if f.Changed("y") {
				m.Y = axisMarkerY
			}
		}
		if err := c.Validate(); err != nil {
			return err
		}
		if err := s.SaveAxis(c); err != nil {
			return err
		}
		console.Println(fmt.Sprintf("Timebase: scale %g position %g", c.Timebase.Scale, c.Timebase.Position))
		for i, ch := range c.Channels {
			console.Println(fmt.Sprintf("Channel %d: scale %g position %g", i+1, ch.Scale, ch.Position))
		}
		for i, m := range c.Markers {
			console.Println(fmt.Sprintf("Marker %d: x %g y %g", i+1, m.X, m.Y))
		}
		return nil
	},
}

var configWaveformCmd = &cobra.Command{
	Use:   "waveform",
	Short: "Edit waveform_config.json used by Wave Cap steps",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := store()
		c, err := loadOrDefault(s.Waveform, stepconfig.WaveformFile)
		if err != nil {
			return err
		}
		f := cmd.Flags()
		if f.Changed("channels") {
			c.Channels = stepconfig.ChannelFlags{}
			for _, ch := range wfChannels {
				if ch < 1 || ch > stepconfig.NumChannels {
					return fmt.Errorf("channel %d out of range 1..%d", ch, stepconfig.NumChannels)
				}
				c.Channels[ch-1] = true
			}
		}
		for on, names := range map[bool][]string{true: wfMeasure, false: wfNoMeasure} {
			for _, name := range names {
				k, ok := measure.Lookup(name)
				if !ok {
					return fmt.Errorf("unknown measurement %q (known: %s)", name, strings.Join(measure.Names(), ", "))
				}
				c.Measurements[k.Name] = on
			}
		}
		for flag, dst := range map[string]*bool{
			"screenshot": &c.SaveOptions.Screenshot,
			"plot":       &c.SaveOptions.Plot,
			"csv":        &c.SaveOptions.CSV,
			"excel":      &c.SaveOptions.Excel,
		} {
			if f.Changed(flag) {
				*dst, _ = f.GetBool(flag)
			}
		}
		if f.Changed("save-dir") {
			c.SaveDirectory = wfSaveDir
		}
		if f.Changed("file-name") {
			c.FileName = wfFileName
		}
		if err := s.SaveWaveform(c); err != nil {
			return err
		}
		console.Println(fmt.Sprintf("Channels: %v", c.Channels.Enabled()))
		console.Println("Measurements: " + strings.Join(c.EnabledMeasurements(), ", "))
		console.Println(fmt.Sprintf("Save: screenshot=%t plot=%t csv=%t excel=%t", c.SaveOptions.Screenshot, c.SaveOptions.Plot, c.SaveOptions.CSV, c.SaveOptions.Excel))
		console.Println(fmt.Sprintf("Directory: %s  Name: %s", c.SaveDirectory, c.Name(cfg.BaseFilename)))
		return nil
	},
}

func delayArgs(cmd *cobra.Command, args []string) error {
	if len(args) != 0 && len(args) != 2 {
		return fmt.Errorf("need both STEP-ID and SECONDS")
	}
	return nil
}

var configDelayCmd = &cobra.Command{
	Use:   "delay [STEP-ID SECONDS]",
	Short: "List or set the durations of Delay steps",
	Args:  delayArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s := store()
		d, err := s.Delays()
		if err != nil {
			return err
		}
		if len(args) == 2 {
			secs, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return err
			}
			if err := d.Set(args[0], secs); err != nil {
				return err
			}
			if err := s.SaveDelays(d); err != nil {
				return err
			}
		}
		for _, id := range slices.Sorted(maps.Keys(d)) {
			console.Println(id + ": " + editor.Seconds(d[id]) + " seconds")
		}
		return nil
	},
}
