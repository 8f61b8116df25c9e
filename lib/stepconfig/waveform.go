package stepconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/gotmc/scopeseq/lib/measure"
)

// DefaultFileName is the capture name used when none is configured.
const DefaultFileName = "waveform_data"

// ChannelFlags marks the channels a capture uses, indexed by channel number
// minus one.
type ChannelFlags [NumChannels]bool

// MarshalJSON implements json.Marshaler.
func (f ChannelFlags) MarshalJSON() ([]byte, error) { return json.Marshal(encodeBits(f[:])) }

// UnmarshalJSON implements json.Unmarshaler.
func (f *ChannelFlags) UnmarshalJSON(data []byte) error {
	var out ChannelFlags
	if err := decodeBits(data, out[:]); err != nil {
		return fmt.Errorf("channels: %w", err)
	}
	*f = out
	return nil
}

// Enabled returns the enabled channel numbers in ascending order.
func (f ChannelFlags) Enabled() []int {
	var chans []int
	for i, on := range f {
		if on {
			chans = append(chans, i+1)
		}
	}
	return chans
}

// SaveOptions selects the artifacts a capture writes. It is stored as the
// array [screenshot, plot, csv, excel].
type SaveOptions struct {
	Screenshot bool
	Plot       bool
	CSV        bool
	Excel      bool
}

// MarshalJSON implements json.Marshaler.
func (o SaveOptions) MarshalJSON() ([]byte, error) {
	return json.Marshal(encodeBits([]bool{o.Screenshot, o.Plot, o.CSV, o.Excel}))
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *SaveOptions) UnmarshalJSON(data []byte) error {
	flags := make([]bool, 4)
	if err := decodeBits(data, flags); err != nil {
		return fmt.Errorf("save_options: %w", err)
	}
	*o = SaveOptions{Screenshot: flags[0], Plot: flags[1], CSV: flags[2], Excel: flags[3]}
	return nil
}

// Any reports whether at least one artifact is selected.
func (o SaveOptions) Any() bool { return o.Screenshot || o.Plot || o.CSV || o.Excel }

// Measurements maps measurement names to their enabled state. It is written
// in catalog order with 0/1 values.
type Measurements map[string]bool

// MarshalJSON implements json.Marshaler.
func (m Measurements) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(m))
	seen := make(map[string]bool, len(m))
	for _, name := range measure.Names() {
		if _, ok := m[name]; ok {
			keys = append(keys, name)
			seen[name] = true
		}
	}
	var extra []string
	for name := range m {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	keys = append(keys, extra...)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		if m[k] {
			buf.WriteByte('1')
		} else {
			buf.WriteByte('0')
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Measurements) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Measurements, len(raw))
	for name, r := range raw {
		v, err := decodeBit(r)
		if err != nil {
			return fmt.Errorf("measurement %q: %w", name, err)
		}
		out[name] = v
	}
	*m = out
	return nil
}

// WaveformConfig is the waveform_config.json document.
type WaveformConfig struct {
	Channels      ChannelFlags `json:"channels"`
	Measurements  Measurements `json:"measurements"`
	SaveOptions   SaveOptions  `json:"save_options"`
	SaveDirectory string       `json:"save_directory"`
	FileName      string       `json:"file_name"`
}

// DefaultWaveform returns a configuration with every catalog measurement
// listed and disabled, no channels, no artifacts and the default file name.
func DefaultWaveform() WaveformConfig {
	m := make(Measurements, len(measure.Catalog))
	for _, name := range measure.Names() {
		m[name] = false
	}
	return WaveformConfig{Measurements: m, FileName: DefaultFileName}
}

// EnabledMeasurements returns the enabled catalog measurements in catalog
// order. Names outside the catalog are ignored.
func (c WaveformConfig) EnabledMeasurements() []string {
	var names []string
	for _, name := range measure.Names() {
		if c.Measurements[name] {
			names = append(names, name)
		}
	}
	return names
}

// UnknownMeasurements returns enabled names that are not in the catalog.
func (c WaveformConfig) UnknownMeasurements() []string {
	var names []string
	for name, on := range c.Measurements {
		if _, ok := measure.Lookup(name); on && !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Name returns the configured file name, falling back to fallback and then
// to DefaultFileName.
func (c WaveformConfig) Name(fallback string) string {
	if n := strings.TrimSpace(c.FileName); n != "" {
		return n
	}
	if n := strings.TrimSpace(fallback); n != "" {
		return n
	}
	return DefaultFileName
}

// LoadWaveform reads a waveform configuration from path. A missing document
// yields the defaults and ErrConfigMissing.
func LoadWaveform(path string) (WaveformConfig, error) {
	c := DefaultWaveform()
	if err := readJSON(path, &c); err != nil {
		return DefaultWaveform(), err
	}
	return c, nil
}

// Save writes the configuration to path.
func (c WaveformConfig) Save(path string) error { return writeJSON(path, c) }
