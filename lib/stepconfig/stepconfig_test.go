package stepconfig

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAxisMissingReturnsDefaults(t *testing.T) {
	s := NewStore(t.TempDir())
	c, err := s.Axis()
	require.ErrorIs(t, err, ErrConfigMissing)
	assert.Equal(t, DefaultAxis(), c)
	assert.Equal(t, 1.0, c.Channels[3].Scale)
	assert.Len(t, c.Markers, NumMarkers)
}

func TestAxisDocumentFormat(t *testing.T) {
	dir := t.TempDir()
	doc := `{
    "timebase": {"scale": 0.001, "position": 0.5},
    "channels": {"channel_2": {"scale": 0.2, "position": -1}},
    "markers": [{"x": 1, "y": 2}]
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, AxisFile), []byte(doc), 0o644))

	c, err := NewStore(dir).Axis()
	require.NoError(t, err)
	assert.Equal(t, Timebase{Scale: 0.001, Position: 0.5}, c.Timebase)
	assert.Equal(t, ChannelAxis{Scale: 0.2, Position: -1}, c.Channels[1])
	assert.Equal(t, ChannelAxis{Scale: 1.0}, c.Channels[0])
	assert.Equal(t, []Marker{{X: 1, Y: 2}}, c.Markers)
}

func TestAxisRejectsBadChannelKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), AxisFile)
	require.NoError(t, os.WriteFile(path, []byte(`{"channels": {"channel_9": {"scale": 1}}}`), 0o644))
	_, err := LoadAxis(path)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrConfigMissing)
}

func TestAxisSaveRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())
	c := DefaultAxis()
	c.Timebase.Scale = 2e-3
	c.Channels[2] = ChannelAxis{Scale: 0.5, Position: 0.25}
	c.Markers[1] = Marker{X: 3, Y: 4}
	require.NoError(t, s.SaveAxis(c))

	data, err := os.ReadFile(s.Path(AxisFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"channel_3"`)

	got, err := s.Axis()
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestAxisValidate(t *testing.T) {
	c := DefaultAxis()
	c.Markers = append(c.Markers, Marker{})
	require.Error(t, c.Validate())

	c = DefaultAxis()
	c.Channels[0].Scale = 0
	require.Error(t, c.Validate())
}

func TestWaveformMissingReturnsDefaults(t *testing.T) {
	c, err := NewStore(t.TempDir()).Waveform()
	require.ErrorIs(t, err, ErrConfigMissing)
	assert.Equal(t, DefaultFileName, c.FileName)
	assert.Empty(t, c.EnabledMeasurements())
	assert.Empty(t, c.Channels.Enabled())
}

func TestWaveformDocument(t *testing.T) {
	dir := t.TempDir()
	doc := `{
    "channels": [1, 0, 1, 0],
    "measurements": {"Vmax": 1, "Vpp": 1, "Frequency": 0, "Bogus": 1},
    "save_options": [0, 1, true, 1],
    "save_directory": "/tmp/out",
    "file_name": "run1"
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, WaveformFile), []byte(doc), 0o644))

	c, err := NewStore(dir).Waveform()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, c.Channels.Enabled())
	assert.Equal(t, []string{"Vpp", "Vmax"}, c.EnabledMeasurements())
	assert.Equal(t, []string{"Bogus"}, c.UnknownMeasurements())
	assert.Equal(t, SaveOptions{Plot: true, CSV: true, Excel: true}, c.SaveOptions)
	assert.True(t, c.SaveOptions.Any())
	assert.Equal(t, "run1", c.Name("fallback"))
}

func TestWaveformSaveUsesIntegersInCatalogOrder(t *testing.T) {
	s := NewStore(t.TempDir())
	c := DefaultWaveform()
	c.Channels[1] = true
	c.Measurements["Vmax"] = true
	c.SaveOptions.Screenshot = true
	require.NoError(t, s.SaveWaveform(c))

	data, err := os.ReadFile(s.Path(WaveformFile))
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.JSONEq(t, `[0,1,0,0]`, string(raw["channels"]))
	assert.JSONEq(t, `[1,0,0,0]`, string(raw["save_options"]))

	text := string(raw["measurements"])
	assert.Less(t, strings.Index(text, `"Vpp"`), strings.Index(text, `"VRatio"`))
	assert.Contains(t, text, `"Vmax": 1`)

	got, err := s.Waveform()
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestWaveformRejectsTooManyFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), WaveformFile)
	require.NoError(t, os.WriteFile(path, []byte(`{"channels": [1,1,1,1,1]}`), 0o644))
	_, err := LoadWaveform(path)
	require.Error(t, err)
}

func TestWaveformNameFallback(t *testing.T) {
	c := WaveformConfig{FileName: "  "}
	assert.Equal(t, "base", c.Name("base"))
	assert.Equal(t, DefaultFileName, c.Name(""))
}

func TestDelays(t *testing.T) {
	s := NewStore(t.TempDir())
	d, err := s.Delays()
	require.NoError(t, err)
	assert.Empty(t, d)

	v, ok := d.Get("Delay_1")
	assert.False(t, ok)
	assert.Equal(t, DefaultDelay, v)

	require.NoError(t, d.Set("Delay_1", 2.5))
	require.Error(t, d.Set("Delay_2", -1))
	require.Error(t, d.Set("Delay_2", MaxDelay*2))
	require.NoError(t, d.Set("Delay_3", MaxDelay))
	require.NoError(t, s.SaveDelays(d))

	got, err := s.Delays()
	require.NoError(t, err)
	v, ok = got.Get("Delay_1")
	assert.True(t, ok)
	assert.Equal(t, 2.5, v)
	assert.True(t, s.Exists(DelayFile))
}
