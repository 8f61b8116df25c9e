package stepconfig

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Timebase holds the horizontal settings.
type Timebase struct {
	Scale    float64 `json:"scale"`
	Position float64 `json:"position"`
}

// ChannelAxis holds the vertical settings of one channel.
type ChannelAxis struct {
	Scale    float64 `json:"scale"`
	Position float64 `json:"position"`
}

// Marker is one X/Y marker pair.
type Marker struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Channels holds per-channel settings indexed by channel number minus one.
// It is stored as an object keyed "channel_<n>".
type Channels [NumChannels]ChannelAxis

// MarshalJSON implements json.Marshaler.
func (c Channels) MarshalJSON() ([]byte, error) {
	m := make(map[string]ChannelAxis, NumChannels)
	for i, ch := range c {
		m[channelKey(i+1)] = ch
	}
	return json.Marshal(m)
}

// UnmarshalJSON implements json.Unmarshaler. Channels absent from the
// document keep their current values.
func (c *Channels) UnmarshalJSON(data []byte) error {
	var m map[string]ChannelAxis
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	for key, ch := range m {
		n, err := parseChannelKey(key)
		if err != nil {
			return err
		}
		c[n-1] = ch
	}
	return nil
}

func channelKey(n int) string { return "channel_" + strconv.Itoa(n) }

func parseChannelKey(key string) (int, error) {
	num, ok := strings.CutPrefix(key, "channel_")
	if !ok {
		return 0, fmt.Errorf("unexpected channel key %q", key)
	}
	n, err := strconv.Atoi(num)
	if err != nil || n < 1 || n > NumChannels {
		return 0, fmt.Errorf("channel key %q out of range 1..%d", key, NumChannels)
	}
	return n, nil
}

// AxisConfig is the axis_config.json document.
type AxisConfig struct {
	Timebase Timebase `json:"timebase"`
	Channels Channels `json:"channels"`
	Markers  []Marker `json:"markers"`
}

// DefaultAxis returns unit scales, zero positions and two zero markers.
func DefaultAxis() AxisConfig {
	c := AxisConfig{
		Timebase: Timebase{Scale: 1.0},
		Markers:  make([]Marker, NumMarkers),
	}
	for i := range c.Channels {
		c.Channels[i] = ChannelAxis{Scale: 1.0}
	}
	return c
}

// Validate rejects non-positive scales and more than two markers.
func (c AxisConfig) Validate() error {
	if c.Timebase.Scale <= 0 {
		return fmt.Errorf("timebase scale must be positive, got %g", c.Timebase.Scale)
	}
	for i, ch := range c.Channels {
		if ch.Scale <= 0 {
			return fmt.Errorf("channel %d scale must be positive, got %g", i+1, ch.Scale)
		}
	}
	if len(c.Markers) > NumMarkers {
		return fmt.Errorf("at most %d markers are supported, got %d", NumMarkers, len(c.Markers))
	}
	return nil
}

// LoadAxis reads an axis configuration from path. A missing document yields
// the defaults and ErrConfigMissing.
func LoadAxis(path string) (AxisConfig, error) {
	c := DefaultAxis()
	if err := readJSON(path, &c); err != nil {
		return DefaultAxis(), err
	}
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Save writes the configuration to path.
func (c AxisConfig) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	return writeJSON(path, c)
}
