package stepconfig

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// DefaultDelay is the delay in seconds of a Delay step that was never
// configured.
const DefaultDelay = 1.0

// MaxDelay is the longest delay in seconds a time.Duration can hold.
const MaxDelay = float64(math.MaxInt64 / int64(time.Second))

// Delays maps step instance IDs to delay seconds. The table accumulates
// across every Delay step ever configured.
type Delays map[string]float64

// LoadDelays reads the delay table at path. A missing table is empty.
func LoadDelays(path string) (Delays, error) {
	d := Delays{}
	if err := readJSON(path, &d); err != nil {
		if errors.Is(err, ErrConfigMissing) {
			return Delays{}, nil
		}
		return nil, err
	}
	if d == nil {
		d = Delays{}
	}
	return d, nil
}

// Get returns the delay for id and whether it was configured. Unconfigured
// steps get DefaultDelay.
func (d Delays) Get(id string) (float64, bool) {
	if v, ok := d[id]; ok {
		return v, true
	}
	return DefaultDelay, false
}

// Set records seconds for id.
func (d Delays) Set(id string, seconds float64) error {
	if err := ValidateDelay(seconds); err != nil {
		return err
	}
	d[id] = seconds
	return nil
}

// Save writes the table to path.
func (d Delays) Save(path string) error { return writeJSON(path, d) }

// ValidateDelay rejects negative, non-finite and out-of-range durations.
func ValidateDelay(seconds float64) error {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return fmt.Errorf("delay must be a non-negative number of seconds, got %g", seconds)
	}
	if seconds > MaxDelay {
		return fmt.Errorf("delay of %g seconds exceeds the maximum of %g", seconds, MaxDelay)
	}
	return nil
}
