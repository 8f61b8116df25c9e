// Package stepconfig persists the per-step configuration documents used by
// sequences: axis settings, waveform capture settings and per-instance
// delays. Each document is a small JSON file in a working directory.
package stepconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Document file names.
const (
	AxisFile     = "axis_config.json"
	WaveformFile = "waveform_config.json"
	DelayFile    = "configurations.json"
)

const (
	// NumChannels is the number of analog channels on the scope.
	NumChannels = 4
	// NumMarkers is the number of marker pairs an axis configuration holds.
	NumMarkers = 2
)

// ErrConfigMissing is returned, together with default settings, when a
// configuration document does not exist.
var ErrConfigMissing = errors.New("configuration document missing")

// Store reads and writes the configuration documents of one directory.
type Store struct {
	Dir string
}

// NewStore returns a Store rooted at dir.
func NewStore(dir string) Store {
	if dir == "" {
		dir = "."
	}
	return Store{Dir: dir}
}

// Path returns the location of the named document.
func (s Store) Path(name string) string { return filepath.Join(s.Dir, name) }

// Exists reports whether the named document is present.
func (s Store) Exists(name string) bool {
	info, err := os.Stat(s.Path(name))
	return err == nil && !info.IsDir()
}

// Axis loads the axis configuration. When the document is missing the
// defaults are returned along with ErrConfigMissing.
func (s Store) Axis() (AxisConfig, error) { return LoadAxis(s.Path(AxisFile)) }

// SaveAxis writes the axis configuration.
func (s Store) SaveAxis(c AxisConfig) error { return c.Save(s.Path(AxisFile)) }

// Waveform loads the waveform capture configuration. When the document is
// missing the defaults are returned along with ErrConfigMissing.
func (s Store) Waveform() (WaveformConfig, error) { return LoadWaveform(s.Path(WaveformFile)) }

// SaveWaveform writes the waveform capture configuration.
func (s Store) SaveWaveform(c WaveformConfig) error { return c.Save(s.Path(WaveformFile)) }

// Delays loads the delay table. A missing table is empty.
func (s Store) Delays() (Delays, error) { return LoadDelays(s.Path(DelayFile)) }

// SaveDelays writes the delay table.
func (s Store) SaveDelays(d Delays) error { return d.Save(s.Path(DelayFile)) }

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrConfigMissing, path)
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// encodeBits writes flags as the 0/1 integer arrays the documents use.
// decodeBits also accepts booleans.
func encodeBits(flags []bool) []int {
	out := make([]int, len(flags))
	for i, f := range flags {
		if f {
			out[i] = 1
		}
	}
	return out
}

func decodeBits(data []byte, flags []bool) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) > len(flags) {
		return fmt.Errorf("expected at most %d flags, got %d", len(flags), len(raw))
	}
	for i, r := range raw {
		v, err := decodeBit(r)
		if err != nil {
			return fmt.Errorf("flag %d: %w", i, err)
		}
		flags[i] = v
	}
	return nil
}

func decodeBit(r json.RawMessage) (bool, error) {
	var n float64
	if err := json.Unmarshal(r, &n); err == nil {
		return n != 0, nil
	}
	var b bool
	if err := json.Unmarshal(r, &b); err != nil {
		return false, fmt.Errorf("want 0, 1 or a boolean, got %s", r)
	}
	return b, nil
}
