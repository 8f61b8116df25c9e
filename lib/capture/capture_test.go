package capture

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gotmc/scopeseq/lib/scope"
	"github.com/gotmc/scopeseq/lib/stepconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fakeFacade struct {
	screenshotErr error
	captured      []int
	allCalls      int
}

func (f *fakeFacade) CaptureScreenshot() ([]byte, error) {
	if f.screenshotErr != nil {
		return nil, f.screenshotErr
	}
	return []byte("\x89PNG fake"), nil
}

func (f *fakeFacade) CaptureWaveform(ch int) (scope.Waveform, error) {
	f.captured = append(f.captured, ch)
	return scope.Waveform{
		Channel: ch,
		Time:    []float64{0, 0.001, 0.002},
		Volts:   []float64{float64(ch), float64(ch) * 0.5, 0},
	}, nil
}

func (f *fakeFacade) CaptureAllWaveforms() ([]scope.Waveform, error) {
	f.allCalls++
	w, _ := f.CaptureWaveform(1)
	return []scope.Waveform{w}, nil
}

func (f *fakeFacade) Measure(name string, ch int) (float64, bool) {
	if name == "Frequency" {
		return 0, false
	}
	return float64(ch) * 1.5, true
}

func waveformConfig() stepconfig.WaveformConfig {
	cfg := stepconfig.DefaultWaveform()
	cfg.Channels = stepconfig.ChannelFlags{true, false, true, false}
	cfg.Measurements["Vpp"] = true
	cfg.Measurements["Frequency"] = true
	cfg.Measurements["Vmax"] = true
	cfg.SaveOptions = stepconfig.SaveOptions{Screenshot: true, Plot: true, CSV: true, Excel: true}
	return cfg
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "run_screenshot.png", FileName("run", Screenshot))
	assert.Equal(t, "run_waveform_plot.png", FileName("run", Plot))
	assert.Equal(t, "run_waveform_data.csv", FileName("run", CSV))
	assert.Equal(t, "run_measurements.xlsx", FileName("run", Measurements))
}

func TestRunWritesAllArtifacts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	f := &fakeFacade{}
	res, err := New(f).Run(dir, "run", waveformConfig())
	require.NoError(t, err)
	assert.Len(t, res.Written, 4)
	for _, a := range []Artifact{Screenshot, Plot, CSV, Measurements} {
		assert.FileExists(t, filepath.Join(dir, FileName("run", a)))
	}
	// the plot captures the displayed channels, the CSV the selected ones
	assert.Equal(t, 1, f.allCalls)
	assert.Equal(t, []int{1, 1, 3}, f.captured)

	data, err := os.ReadFile(filepath.Join(dir, FileName("run", CSV)))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, "Time (s), Channel 1 Amplitude (V), Channel 3 Amplitude (V)", lines[0])
	assert.Equal(t, "0, 1, 3", lines[1])
	assert.Equal(t, "0.001, 0.5, 1.5", lines[2])

	book, err := excelize.OpenFile(filepath.Join(dir, FileName("run", Measurements)))
	require.NoError(t, err)
	defer book.Close()
	rows, err := book.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Channel", "Vpp", "Vmax", "Frequency"}, rows[0])
	assert.Equal(t, []string{"Channel 1", "1.5", "1.5"}, rows[1])
	assert.Equal(t, []string{"Channel 3", "4.5", "4.5"}, rows[2])
}

func TestRunContinuesAfterArtifactError(t *testing.T) {
	dir := t.TempDir()
	f := &fakeFacade{screenshotErr: errors.New("bus fault")}
	res, err := New(f).Run(dir, "x", waveformConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "screenshot")
	assert.Len(t, res.Written, 3)
	assert.NoFileExists(t, filepath.Join(dir, FileName("x", Screenshot)))
	assert.FileExists(t, filepath.Join(dir, FileName("x", Measurements)))
}

func TestRunWithoutChannelsPlotsActive(t *testing.T) {
	cfg := stepconfig.DefaultWaveform()
	cfg.SaveOptions.Plot = true
	f := &fakeFacade{}
	_, err := New(f).Run(t.TempDir(), "p", cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, f.allCalls)
}

func TestPlotUsesDisplayedChannels(t *testing.T) {
	cfg := waveformConfig()
	cfg.SaveOptions = stepconfig.SaveOptions{Plot: true}
	f := &fakeFacade{}
	_, err := New(f).Run(t.TempDir(), "p", cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, f.allCalls)
	assert.Equal(t, []int{1}, f.captured)
}

func TestCSVSharesCaptureWithoutSelection(t *testing.T) {
	cfg := stepconfig.DefaultWaveform()
	cfg.SaveOptions = stepconfig.SaveOptions{Plot: true, CSV: true}
	f := &fakeFacade{}
	_, err := New(f).Run(t.TempDir(), "p", cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, f.allCalls)
}

func TestRunRequiresName(t *testing.T) {
	_, err := New(&fakeFacade{}).Run(t.TempDir(), "", waveformConfig())
	require.Error(t, err)
}

func TestWriteCSVShortTrace(t *testing.T) {
	var buf bytes.Buffer
	waves := []scope.Waveform{
		{Channel: 2, Time: []float64{0, 1}, Volts: []float64{0.25, 0.5}},
		{Channel: 4, Time: []float64{0}, Volts: []float64{-1}},
	}
	require.NoError(t, WriteCSV(&buf, waves))
	assert.Equal(t,
		"Time (s), Channel 2 Amplitude (V), Channel 4 Amplitude (V)\n0, 0.25, -1\n1, 0.5, \n",
		buf.String())

	require.Error(t, WriteCSV(&buf, nil))
}
