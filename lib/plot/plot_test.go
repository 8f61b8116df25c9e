package plot

import (
	"bytes"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/gotmc/scopeseq/lib/scope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(ch, n int) scope.Waveform {
	w := scope.Waveform{Channel: ch}
	for i := range n {
		t := float64(i) * 1e-4
		w.Time = append(w.Time, t)
		w.Volts = append(w.Volts, float64(ch)*math.Sin(2*math.Pi*100*t))
	}
	return w
}

func TestRenderPNG(t *testing.T) {
	var buf bytes.Buffer
	opts := DefaultOptions()
	require.NoError(t, Render(&buf, []scope.Waveform{sine(1, 200), sine(3, 200)}, opts))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, opts.Width, img.Bounds().Dx())
	assert.Equal(t, opts.Height, img.Bounds().Dy())

	colored := 0
	for y := marginTop; y < opts.Height-marginBottom; y++ {
		for x := marginLeft; x < opts.Width-marginRight; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			if r != g || g != b {
				colored++
			}
		}
	}
	assert.Positive(t, colored)
}

func TestDrawFlatTrace(t *testing.T) {
	w := scope.Waveform{Channel: 2, Time: []float64{0, 1, 2}, Volts: []float64{0.5, 0.5, 0.5}}
	img, err := Draw([]scope.Waveform{w}, DefaultOptions())
	require.NoError(t, err)
	assert.NotNil(t, img)
}

func TestDrawErrors(t *testing.T) {
	_, err := Draw(nil, DefaultOptions())
	require.Error(t, err)

	_, err = Draw([]scope.Waveform{sine(1, 10)}, Options{Width: 50, Height: 50})
	require.Error(t, err)

	bad := scope.Waveform{Channel: 1, Time: []float64{math.NaN()}, Volts: []float64{1}}
	_, err = Draw([]scope.Waveform{bad}, DefaultOptions())
	require.Error(t, err)
}

func TestColorFor(t *testing.T) {
	assert.Equal(t, traceColors[0], colorFor(1))
	assert.Equal(t, traceColors[3], colorFor(4))
	assert.Equal(t, traceColors[0], colorFor(0))
	assert.IsType(t, color.RGBA{}, colorFor(5))
}
