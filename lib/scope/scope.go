// Package scope drives a Keysight InfiniiVision-style oscilloscope over an
// instrument session.
package scope

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/gotmc/query"
	"github.com/gotmc/scopeseq/lib/block"
	"github.com/gotmc/scopeseq/lib/measure"
	"github.com/rs/zerolog"
)

// NumChannels is the number of analog channels.
const NumChannels = 4

// Session is the instrument session the scope talks through.
type Session interface {
	Command(format string, a ...any) error
	Query(cmd string) (string, error)
	ReadBytes(n int) ([]byte, error)
	ReadLine() (string, error)
}

// Marker names one of the four marker cursors.
type Marker string

// Marker cursors.
const (
	X1 Marker = "X1"
	X2 Marker = "X2"
	Y1 Marker = "Y1"
	Y2 Marker = "Y2"
)

// Waveform is one captured trace.
type Waveform struct {
	Channel int
	Time    []float64
	Volts   []float64
}

// Scope is the instrument facade. Compound operations hold a lock so their
// command/response pairs are never interleaved with another caller's.
type Scope struct {
	mu       sync.Mutex
	session  Session
	measurer *measure.Measurer
	logger   zerolog.Logger
}

// Option configures a Scope.
type Option func(*Scope)

// WithLogger sets the scope logger.
func WithLogger(l zerolog.Logger) Option { return func(s *Scope) { s.logger = l } }

// WithMeasurer replaces the default measurer.
func WithMeasurer(m *measure.Measurer) Option { return func(s *Scope) { s.measurer = m } }

// New returns a Scope on session.
func New(session Session, opts ...Option) *Scope {
	s := &Scope{session: session, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.measurer == nil {
		s.measurer = measure.New(session, measure.WithLogger(s.logger))
	}
	return s
}

// Write sends a raw command.
func (s *Scope) Write(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Command("%s", cmd)
}

// Query sends a raw query and returns the response.
func (s *Scope) Query(cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Query(cmd)
}

// IDN returns the identification string.
func (s *Scope) IDN() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return query.String(s.session, "*IDN?")
}

// ActiveChannels returns the displayed channels in ascending order.
func (s *Scope) ActiveChannels() ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeChannels()
}

func (s *Scope) activeChannels() ([]int, error) {
	var active []int
	for ch := 1; ch <= NumChannels; ch++ {
		on, err := query.Int(s.session, fmt.Sprintf(":CHANnel%d:DISPlay?", ch))
		if err != nil {
			return nil, fmt.Errorf("channel %d display state: %w", ch, err)
		}
		if on != 0 {
			active = append(active, ch)
		}
	}
	return active, nil
}

// ActivateChannel turns the channel display on.
func (s *Scope) ActivateChannel(ch int) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	return s.command(":CHANnel%d:DISPlay ON", ch)
}

// SetChannelScale sets the vertical scale in volts per division.
func (s *Scope) SetChannelScale(ch int, scale float64) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	return s.command(":CHANnel%d:SCALe %s", ch, num(scale))
}

// SetChannelPosition sets the vertical position.
func (s *Scope) SetChannelPosition(ch int, pos float64) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	return s.command(":CHANnel%d:POSition %s", ch, num(pos))
}

// SetTimebaseScale sets seconds per division.
func (s *Scope) SetTimebaseScale(scale float64) error {
	return s.command(":TIMebase:SCALe %s", num(scale))
}

// SetTimebasePosition sets the horizontal position.
func (s *Scope) SetTimebasePosition(pos float64) error {
	return s.command(":TIMebase:POSition %s", num(pos))
}

// SetMarker moves a marker cursor.
func (s *Scope) SetMarker(m Marker, pos float64) error {
	switch m {
	case X1, X2, Y1, Y2:
	default:
		return fmt.Errorf("unknown marker %q", m)
	}
	return s.command(":MARKer:%sPosition %s", m, num(pos))
}

// CaptureWaveform reads the channel trace in ASCII format. Sample times are
// derived from the preamble x increment and x origin.
func (s *Scope) CaptureWaveform(ch int) (Waveform, error) {
	if err := checkChannel(ch); err != nil {
		return Waveform{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captureWaveform(ch)
}

func (s *Scope) captureWaveform(ch int) (Waveform, error) {
	if err := s.session.Command(":WAV:SOUR CHAN%d", ch); err != nil {
		return Waveform{}, err
	}
	if err := s.session.Command(":WAV:FORM ASCII"); err != nil {
		return Waveform{}, err
	}
	pre, err := s.session.Query(":WAVeform:PREamble?")
	if err != nil {
		return Waveform{}, fmt.Errorf("preamble: %w", err)
	}
	xinc, xorigin, err := parsePreamble(pre)
	if err != nil {
		return Waveform{}, err
	}
	data, err := s.session.Query(":WAV:DATA?")
	if err != nil {
		return Waveform{}, fmt.Errorf("waveform data: %w", err)
	}
	volts, err := parseSamples(data)
	if err != nil {
		return Waveform{}, fmt.Errorf("channel %d: %w", ch, err)
	}
	times := make([]float64, len(volts))
	for i := range times {
		times[i] = float64(i)*xinc + xorigin
	}
	s.logger.Debug().Int("channel", ch).Int("points", len(volts)).Msg("waveform captured")
	return Waveform{Channel: ch, Time: times, Volts: volts}, nil
}

// CaptureAllWaveforms captures every displayed channel.
func (s *Scope) CaptureAllWaveforms() ([]Waveform, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chans, err := s.activeChannels()
	if err != nil {
		return nil, err
	}
	out := make([]Waveform, 0, len(chans))
	for _, ch := range chans {
		w, err := s.captureWaveform(ch)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// CaptureScreenshot returns the display as PNG bytes.
func (s *Scope) CaptureScreenshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.session.Command(":DISPlay:DATA? PNG, COLOR"); err != nil {
		return nil, err
	}
	img, err := block.Read(s.session)
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	// the block is followed by the response terminator
	if rest, err := s.session.ReadLine(); err != nil {
		s.logger.Warn().Err(err).Msg("screenshot terminator")
	} else if rest != "" {
		s.logger.Warn().Str("trailing", rest).Msg("unexpected data after screenshot block")
	}
	return img, nil
}

// SegmentCount returns the number of acquired segments.
func (s *Scope) SegmentCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return query.Int(s.session, ":WAVeform:SEGMented:COUNt?")
}

// SetSegmentIndex selects the segment to display and read.
func (s *Scope) SetSegmentIndex(i int) error {
	if i < 1 {
		return fmt.Errorf("segment index must be at least 1, got %d", i)
	}
	return s.command(":ACQuire:SEGMented:INDex %d", i)
}

// TimeTag returns the time tag of the current segment.
func (s *Scope) TimeTag() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return query.Float64(s.session, ":WAVeform:SEGMented:TTAG?")
}

// Measure runs a catalog measurement on ch. ok is false when the scope gave
// no usable result.
func (s *Scope) Measure(name string, ch int) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.measurer.MeasureNamed(name, ch)
}

func (s *Scope) command(format string, a ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Command(format, a...)
}

func checkChannel(ch int) error {
	if ch < 1 || ch > NumChannels {
		return fmt.Errorf("channel %d out of range 1..%d", ch, NumChannels)
	}
	return nil
}

func num(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func parsePreamble(pre string) (xinc, xorigin float64, err error) {
	fields := strings.Split(strings.TrimSpace(pre), ",")
	if len(fields) < 6 {
		return 0, 0, fmt.Errorf("preamble has %d fields, want at least 6", len(fields))
	}
	xinc, err = strconv.ParseFloat(strings.TrimSpace(fields[4]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("preamble x increment: %w", err)
	}
	xorigin, err = strconv.ParseFloat(strings.TrimSpace(fields[5]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("preamble x origin: %w", err)
	}
	return xinc, xorigin, nil
}

func parseSamples(data string) ([]float64, error) {
	data = block.TrimHeader(strings.TrimSpace(data))
	var out []float64
	for f := range strings.SplitSeq(data, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", len(out), err)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, errors.New("no waveform samples")
	}
	return out, nil
}
