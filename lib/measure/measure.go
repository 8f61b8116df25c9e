// Package measure runs oscilloscope measurements through the :MEASure
// subsystem. Transient timeouts are retried; any other failure yields an
// absent result instead of an error so one bad reading never stops a capture.
package measure

import (
	"errors"
	"fmt"
	"time"

	"github.com/gotmc/query"
	"github.com/gotmc/scopeseq"
	"github.com/rs/zerolog"
)

const (
	// DefaultRetries is the number of attempts made for one measurement.
	DefaultRetries = 3
	// DefaultBackoff is the fixed wait between attempts.
	DefaultBackoff = 100 * time.Millisecond

	// invalidResult is what Keysight scopes return when a measurement cannot
	// be made on the current signal.
	invalidResult = 9.9e37
)

// Session is the part of the instrument session a Measurer needs.
type Session interface {
	Command(format string, a ...any) error
	Query(cmd string) (string, error)
}

// Measurer issues measurements on a session.
type Measurer struct {
	session Session
	retries int
	backoff time.Duration
	sleep   func(time.Duration)
	logger  zerolog.Logger

	// PhaseChannels are the channels compared by the Phase measurement.
	PhaseChannels [2]int
}

// Option configures a Measurer.
type Option func(*Measurer)

// WithRetries sets the number of attempts per measurement.
func WithRetries(n int) Option { return func(m *Measurer) { m.retries = n } }

// WithBackoff sets the wait between attempts.
func WithBackoff(d time.Duration) Option { return func(m *Measurer) { m.backoff = d } }

// WithSleep replaces time.Sleep, for tests.
func WithSleep(fn func(time.Duration)) Option { return func(m *Measurer) { m.sleep = fn } }

// WithLogger sets the logger used to report absent results.
func WithLogger(l zerolog.Logger) Option { return func(m *Measurer) { m.logger = l } }

// WithPhaseChannels sets the channel pair used by Phase.
func WithPhaseChannels(ch, ref int) Option {
	return func(m *Measurer) { m.PhaseChannels = [2]int{ch, ref} }
}

// New returns a Measurer on the given session.
func New(s Session, opts ...Option) *Measurer {
	m := &Measurer{
		session:       s,
		retries:       DefaultRetries,
		backoff:       DefaultBackoff,
		sleep:         time.Sleep,
		logger:        zerolog.Nop(),
		PhaseChannels: [2]int{2, 3},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.retries < 1 {
		m.retries = 1
	}
	return m
}

// Measure runs the measurement on channel. ok is false when no result could
// be obtained.
func (m *Measurer) Measure(kind Kind, channel int) (value float64, ok bool) {
	if kind.Dual {
		return m.Phase(m.PhaseChannels[0], m.PhaseChannels[1])
	}
	source := fmt.Sprintf("CHANnel%d", channel)
	if err := m.session.Command(":MEASure:%s %s", kind.Mnemonic, source); err != nil {
		m.logger.Warn().Err(err).Str("measurement", kind.Name).Int("channel", channel).
			Msg("measurement setup failed")
	}
	return m.query(kind.Name, fmt.Sprintf(":MEASure:%s? %s", kind.Mnemonic, source))
}

// MeasureNamed looks the measurement up in the catalog by name.
func (m *Measurer) MeasureNamed(name string, channel int) (float64, bool) {
	kind, found := Lookup(name)
	if !found {
		m.logger.Warn().Str("measurement", name).Msg("unknown measurement")
		return 0, false
	}
	return m.Measure(kind, channel)
}

// Phase measures the phase of channel relative to ref.
func (m *Measurer) Phase(channel, ref int) (float64, bool) {
	return m.query("Phase", fmt.Sprintf(":MEASure:PHASe? CHANnel%d,CHANnel%d", channel, ref))
}

func (m *Measurer) query(name, cmd string) (float64, bool) {
	for attempt := 1; attempt <= m.retries; attempt++ {
		v, err := query.Float64(m.session, cmd)
		if err == nil {
			if v >= invalidResult {
				m.logger.Warn().Str("measurement", name).Msg("instrument reported no valid result")
				return 0, false
			}
			return v, true
		}
		if errors.Is(err, scopeseq.ErrTimeout) && attempt < m.retries {
			m.logger.Debug().Err(err).Str("measurement", name).Int("attempt", attempt).Msg("retrying")
			m.sleep(m.backoff)
			continue
		}
		m.logger.Warn().Err(err).Str("measurement", name).Int("attempt", attempt).
			Msg("measurement returned no result")
		return 0, false
	}
	return 0, false
}
