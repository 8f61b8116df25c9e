// Package plot draws captured waveforms to a PNG image.
package plot

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"strconv"

	"github.com/gotmc/scopeseq/lib/scope"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"
)

const (
	marginLeft   = 80
	marginRight  = 24
	marginTop    = 40
	marginBottom = 56
	ticks        = 5
)

// Trace colors follow the usual front-panel colors of channels 1 to 4.
var traceColors = [...]color.RGBA{
	{R: 0xd4, G: 0xb1, B: 0x06, A: 0xff},
	{R: 0x19, G: 0xa1, B: 0x3c, A: 0xff},
	{R: 0x1f, G: 0x6f, B: 0xd0, A: 0xff},
	{R: 0xd0, G: 0x2c, B: 0x2c, A: 0xff},
}

var (
	axisColor = color.RGBA{A: 0xff}
	gridColor = color.RGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff}
)

// Options controls the image layout.
type Options struct {
	Width  int
	Height int
	Title  string
}

// DefaultOptions returns a 1000x600 image titled "Waveforms".
func DefaultOptions() Options {
	return Options{Width: 1000, Height: 600, Title: "Waveforms"}
}

// Render draws the waveforms with a shared time axis and writes a PNG to w.
func Render(w io.Writer, waves []scope.Waveform, opts Options) error {
	img, err := Draw(waves, opts)
	if err != nil {
		return err
	}
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encode plot: %w", err)
	}
	return nil
}

// Draw renders the waveforms into an image.
func Draw(waves []scope.Waveform, opts Options) (*image.RGBA, error) {
	if opts.Width <= marginLeft+marginRight || opts.Height <= marginTop+marginBottom {
		return nil, fmt.Errorf("plot size %dx%d is too small", opts.Width, opts.Height)
	}
	xmin, xmax, ymin, ymax, ok := bounds(waves)
	if !ok {
		return nil, errors.New("no samples to plot")
	}

	img := image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	area := image.Rect(marginLeft, marginTop, opts.Width-marginRight, opts.Height-marginBottom)
	px := func(x float64) float32 {
		return float32(float64(area.Min.X) + (x-xmin)/(xmax-xmin)*float64(area.Dx()))
	}
	py := func(y float64) float32 {
		return float32(float64(area.Max.Y) - (y-ymin)/(ymax-ymin)*float64(area.Dy()))
	}

	grid := vector.NewRasterizer(opts.Width, opts.Height)
	for i := 0; i <= ticks; i++ {
		f := float64(i) / ticks
		x := xmin + f*(xmax-xmin)
		y := ymin + f*(ymax-ymin)
		segment(grid, px(x), float32(area.Min.Y), px(x), float32(area.Max.Y), 1)
		segment(grid, float32(area.Min.X), py(y), float32(area.Max.X), py(y), 1)

		label(img, axisColor, short(x), int(px(x))-textWidth(short(x))/2, area.Max.Y+16)
		label(img, axisColor, short(y), area.Min.X-8-textWidth(short(y)), int(py(y))+4)
	}
	grid.Draw(img, img.Bounds(), image.NewUniform(gridColor), image.Point{})

	frame := vector.NewRasterizer(opts.Width, opts.Height)
	segment(frame, float32(area.Min.X), float32(area.Max.Y), float32(area.Max.X), float32(area.Max.Y), 1.5)
	segment(frame, float32(area.Min.X), float32(area.Min.Y), float32(area.Min.X), float32(area.Max.Y), 1.5)
	frame.Draw(img, img.Bounds(), image.NewUniform(axisColor), image.Point{})

	for i, wv := range waves {
		n := min(len(wv.Time), len(wv.Volts))
		if n == 0 {
			continue
		}
		z := vector.NewRasterizer(opts.Width, opts.Height)
		for j := 1; j < n; j++ {
			segment(z, px(wv.Time[j-1]), py(wv.Volts[j-1]), px(wv.Time[j]), py(wv.Volts[j]), 1.5)
		}
		if n == 1 {
			segment(z, px(wv.Time[0])-1, py(wv.Volts[0]), px(wv.Time[0])+1, py(wv.Volts[0]), 2)
		}
		c := colorFor(wv.Channel)
		z.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{})

		legend := "Channel " + strconv.Itoa(wv.Channel)
		label(img, c, legend, area.Max.X-textWidth(legend)-8, area.Min.Y+16+14*i)
	}

	label(img, axisColor, opts.Title, (opts.Width-textWidth(opts.Title))/2, marginTop-14)
	xl := "Time (s)"
	label(img, axisColor, xl, area.Min.X+(area.Dx()-textWidth(xl))/2, opts.Height-14)
	label(img, axisColor, "Amplitude (V)", 8, marginTop-14)
	return img, nil
}

func bounds(waves []scope.Waveform) (xmin, xmax, ymin, ymax float64, ok bool) {
	xmin, ymin = math.Inf(1), math.Inf(1)
	xmax, ymax = math.Inf(-1), math.Inf(-1)
	for _, w := range waves {
		n := min(len(w.Time), len(w.Volts))
		for i := 0; i < n; i++ {
			if isBad(w.Time[i]) || isBad(w.Volts[i]) {
				continue
			}
			xmin, xmax = math.Min(xmin, w.Time[i]), math.Max(xmax, w.Time[i])
			ymin, ymax = math.Min(ymin, w.Volts[i]), math.Max(ymax, w.Volts[i])
			ok = true
		}
	}
	if !ok {
		return 0, 0, 0, 0, false
	}
	xmin, xmax = widen(xmin, xmax)
	ymin, ymax = widen(ymin, ymax)
	pad := (ymax - ymin) * 0.05
	return xmin, xmax, ymin - pad, ymax + pad, true
}

func widen(lo, hi float64) (float64, float64) {
	if hi > lo {
		return lo, hi
	}
	d := math.Abs(lo) * 0.5
	if d == 0 {
		d = 1
	}
	return lo - d, hi + d
}

func isBad(v float64) bool { return math.IsNaN(v) || math.IsInf(v, 0) }

// segment adds a line of the given width as a quad. The quad winding does
// not depend on the line direction, so overlapping segments never cancel.
func segment(z *vector.Rasterizer, x0, y0, x1, y1, width float32) {
	dx, dy := x1-x0, y1-y0
	l := float32(math.Hypot(float64(dx), float64(dy)))
	if l == 0 {
		return
	}
	nx, ny := -dy/l*width/2, dx/l*width/2
	z.MoveTo(x0+nx, y0+ny)
	z.LineTo(x1+nx, y1+ny)
	z.LineTo(x1-nx, y1-ny)
	z.LineTo(x0-nx, y0-ny)
	z.ClosePath()
}

func colorFor(ch int) color.RGBA {
	if ch < 1 {
		ch = 1
	}
	return traceColors[(ch-1)%len(traceColors)]
}

func label(img draw.Image, c color.Color, s string, x, y int) {
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func textWidth(s string) int { return font.MeasureString(basicfont.Face7x13, s).Ceil() }

func short(v float64) string { return strconv.FormatFloat(v, 'g', 3, 64) }
