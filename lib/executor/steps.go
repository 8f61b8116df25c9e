package executor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gotmc/scopeseq/lib/capture"
	"github.com/gotmc/scopeseq/lib/scope"
	"github.com/gotmc/scopeseq/lib/sequence"
	"github.com/gotmc/scopeseq/lib/stepconfig"
	"github.com/rs/zerolog"
)

// configError fails the step. Only a missing document lets the run go on.
func configError(sr *StepReport, err error) {
	sr.fail(err, !errors.Is(err, stepconfig.ErrConfigMissing))
}

func (e *Executor) runWaveCap(log zerolog.Logger, sr *StepReport, dir string, mod sequence.Module) {
	cfg, err := stepconfig.LoadWaveform(filepath.Join(dir, mod.ConfigFile()))
	if err != nil {
		configError(sr, err)
		return
	}

	saveDir := strings.TrimSpace(cfg.SaveDirectory)
	if saveDir == "" {
		saveDir = e.baseDir
	}
	if saveDir == "" {
		sr.skip(errors.New("no save directory selected"))
		return
	}
	name, ok := e.prompter.FileName(cfg.Name(e.defaultName))
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		sr.skip(errors.New("no file name provided"))
		return
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		sr.fail(fmt.Errorf("invalid file name %q", name), false)
		return
	}

	out := filepath.Join(saveDir, name)
	if _, err := os.Stat(out); err == nil {
		if !e.prompter.ConfirmOverwrite(out) {
			sr.skip(fmt.Errorf("%s exists and was not overwritten", out))
			return
		}
	}
	if !cfg.SaveOptions.Any() {
		sr.applied("no artifacts selected")
		return
	}

	c := capture.New(e.facade, capture.WithLogger(log))
	res, err := c.Run(out, name, cfg)
	if err != nil {
		sr.fail(err, false)
		return
	}
	sr.applied(fmt.Sprintf("%d file(s) saved in %s", len(res.Written), out))
}

func (e *Executor) runAxis(log zerolog.Logger, sr *StepReport, dir string, mod sequence.Module) {
	cfg, err := stepconfig.LoadAxis(filepath.Join(dir, mod.ConfigFile()))
	if err != nil {
		configError(sr, err)
		return
	}
	if err := e.applyAxis(log, cfg); err != nil {
		sr.fail(err, true)
		return
	}
	sr.applied(fmt.Sprintf("timebase %g s/div at %g", cfg.Timebase.Scale, cfg.Timebase.Position))
}

// applyAxis sets the timebase, then every active channel, then the markers.
func (e *Executor) applyAxis(log zerolog.Logger, cfg stepconfig.AxisConfig) error {
	if err := e.facade.SetTimebaseScale(cfg.Timebase.Scale); err != nil {
		return fmt.Errorf("timebase scale: %w", err)
	}
	if err := e.facade.SetTimebasePosition(cfg.Timebase.Position); err != nil {
		return fmt.Errorf("timebase position: %w", err)
	}

	active, err := e.facade.ActiveChannels()
	if err != nil {
		return fmt.Errorf("active channels: %w", err)
	}
	for _, ch := range active {
		if ch < 1 || ch > stepconfig.NumChannels {
			continue
		}
		c := cfg.Channels[ch-1]
		if err := e.facade.SetChannelScale(ch, c.Scale); err != nil {
			return fmt.Errorf("channel %d scale: %w", ch, err)
		}
		if err := e.facade.SetChannelPosition(ch, c.Position); err != nil {
			return fmt.Errorf("channel %d position: %w", ch, err)
		}
		log.Debug().Int("channel", ch).Float64("scale", c.Scale).Float64("position", c.Position).Msg("channel set")
	}

	pairs := [stepconfig.NumMarkers][2]scope.Marker{{scope.X1, scope.Y1}, {scope.X2, scope.Y2}}
	for i, m := range cfg.Markers {
		if i >= len(pairs) {
			break
		}
		if err := e.facade.SetMarker(pairs[i][0], m.X); err != nil {
			return fmt.Errorf("marker %d x: %w", i+1, err)
		}
		if err := e.facade.SetMarker(pairs[i][1], m.Y); err != nil {
			return fmt.Errorf("marker %d y: %w", i+1, err)
		}
	}
	return nil
}
