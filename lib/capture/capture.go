// Package capture writes the artifacts of one waveform capture: a
// screenshot, a waveform plot, the raw samples as CSV and a measurement
// spreadsheet. Each artifact is attempted even when another one fails.
package capture

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gotmc/scopeseq/lib/plot"
	"github.com/gotmc/scopeseq/lib/scope"
	"github.com/gotmc/scopeseq/lib/stepconfig"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// Artifact identifies one output file of a capture.
type Artifact string

// Artifacts, in the order they are written.
const (
	Screenshot   Artifact = "screenshot"
	Plot         Artifact = "waveform_plot"
	CSV          Artifact = "waveform_data"
	Measurements Artifact = "measurements"
)

// FileName returns the file name of artifact a for a capture called name.
func FileName(name string, a Artifact) string {
	ext := ".png"
	switch a {
	case CSV:
		ext = ".csv"
	case Measurements:
		ext = ".xlsx"
	}
	return name + "_" + string(a) + ext
}

// Facade is the instrument surface a capture needs.
type Facade interface {
	CaptureScreenshot() ([]byte, error)
	CaptureWaveform(ch int) (scope.Waveform, error)
	CaptureAllWaveforms() ([]scope.Waveform, error)
	Measure(name string, ch int) (float64, bool)
}

// Result lists the files a capture wrote.
type Result struct {
	Dir     string
	Written []string
}

// Capturer writes capture artifacts.
type Capturer struct {
	facade   Facade
	plotOpts plot.Options
	logger   zerolog.Logger
}

// Option configures a Capturer.
type Option func(*Capturer)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(c *Capturer) { c.logger = l } }

// WithPlotOptions sets the plot layout.
func WithPlotOptions(o plot.Options) Option { return func(c *Capturer) { c.plotOpts = o } }

// New returns a Capturer using facade.
func New(facade Facade, opts ...Option) *Capturer {
	c := &Capturer{facade: facade, plotOpts: plot.DefaultOptions(), logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run writes every artifact selected in cfg into dir, naming files after
// name. The directory is created if needed. Artifact failures are collected
// and returned together; the remaining artifacts are still attempted.
func (c *Capturer) Run(dir, name string, cfg stepconfig.WaveformConfig) (Result, error) {
	res := Result{Dir: dir}
	if name == "" {
		return res, errors.New("capture name is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return res, fmt.Errorf("create capture directory: %w", err)
	}

	var errs error
	write := func(a Artifact, fn func(path string) error) {
		path := filepath.Join(dir, FileName(name, a))
		if err := fn(path); err != nil {
			c.logger.Error().Err(err).Str("artifact", string(a)).Msg("artifact not saved")
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", a, err))
			return
		}
		c.logger.Info().Str("path", path).Msg("artifact saved")
		res.Written = append(res.Written, path)
	}

	opts := cfg.SaveOptions
	if opts.Screenshot {
		write(Screenshot, c.writeScreenshot)
	}

	// The plot shows every displayed channel; the CSV holds the selected
	// ones and shares the capture when none are selected.
	displayed := c.fetchOnce(nil)
	selected := displayed
	if chans := cfg.Channels.Enabled(); len(chans) > 0 {
		selected = c.fetchOnce(chans)
	}

	if opts.Plot {
		write(Plot, func(path string) error {
			ws, err := displayed()
			if err != nil {
				return err
			}
			return c.writePlot(path, ws)
		})
	}
	if opts.CSV {
		write(CSV, func(path string) error {
			ws, err := selected()
			if err != nil {
				return err
			}
			return WriteCSVFile(path, ws)
		})
	}
	if opts.Excel {
		write(Measurements, func(path string) error {
			if unknown := cfg.UnknownMeasurements(); len(unknown) > 0 {
				c.logger.Warn().Strs("measurements", unknown).Msg("ignoring unknown measurements")
			}
			names := cfg.EnabledMeasurements()
			rows := c.Measure(cfg.Channels.Enabled(), names)
			return WriteMeasurements(path, names, rows)
		})
	}
	return res, errs
}

func (c *Capturer) writeScreenshot(path string) error {
	img, err := c.facade.CaptureScreenshot()
	if err != nil {
		return err
	}
	return os.WriteFile(path, img, 0o644)
}

func (c *Capturer) writePlot(path string, waves []scope.Waveform) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = plot.Render(f, waves, c.plotOpts)
	return multierr.Append(err, f.Close())
}

// fetchOnce returns a function capturing channels on its first call and
// replaying that result afterwards.
func (c *Capturer) fetchOnce(channels []int) func() ([]scope.Waveform, error) {
	var (
		waves   []scope.Waveform
		err     error
		fetched bool
	)
	return func() ([]scope.Waveform, error) {
		if !fetched {
			waves, err = c.waveforms(channels)
			fetched = true
		}
		return waves, err
	}
}

// waveforms captures the given channels, or every displayed channel when
// none are selected.
func (c *Capturer) waveforms(channels []int) ([]scope.Waveform, error) {
	if len(channels) == 0 {
		ws, err := c.facade.CaptureAllWaveforms()
		if err != nil {
			return nil, err
		}
		if len(ws) == 0 {
			return nil, errors.New("no waveform data captured")
		}
		return ws, nil
	}
	ws := make([]scope.Waveform, 0, len(channels))
	for _, ch := range channels {
		w, err := c.facade.CaptureWaveform(ch)
		if err != nil {
			return nil, fmt.Errorf("capture channel %d: %w", ch, err)
		}
		ws = append(ws, w)
	}
	return ws, nil
}
