// Package sequence holds the step model: typed steps placed into a fixed
// number of ordered slots, and the sequence.json document that carries them
// from the editor to the executor.
package sequence

import (
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"strings"

	"github.com/oklog/ulid/v2"
)

var (
	// ErrSlotOutOfRange is returned when a slot index is outside the model.
	ErrSlotOutOfRange = errors.New("slot index out of range")
	// ErrUnknownStep is returned for instance IDs or kinds the model does not
	// know.
	ErrUnknownStep = errors.New("unknown step")
)

// Kind is a step type as written in sequence documents.
type Kind string

// Step kinds.
const (
	Start       Kind = "Start"
	End         Kind = "End"
	Delay       Kind = "Delay"
	WaveCap     Kind = "Wave Cap"
	AxisControl Kind = "Axis Control"
)

// Kinds lists every step kind in palette order.
var Kinds = []Kind{Start, End, WaveCap, AxisControl, Delay}

// ParseKind accepts a kind name ignoring case, spaces, underscores and
// hyphens, so "wave_cap" and "WaveCap" both mean WaveCap.
func ParseKind(s string) (Kind, error) {
	key := strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.ToLower(strings.TrimSpace(s)))
	switch key {
	case "start":
		return Start, nil
	case "end":
		return End, nil
	case "delay":
		return Delay, nil
	case "wavecap", "waveformcapture", "waveform":
		return WaveCap, nil
	case "axiscontrol", "axis":
		return AxisControl, nil
	}
	return Kind(s), fmt.Errorf("%w: kind %q", ErrUnknownStep, s)
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case Start, End, Delay, WaveCap, AxisControl:
		return true
	}
	return false
}

func (k Kind) String() string { return string(k) }

// UnmarshalJSON normalises known spellings. Unknown kinds are kept verbatim
// so the executor can report them.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("step type: %w", err)
	}
	parsed, err := ParseKind(s)
	if err != nil {
		*k = Kind(strings.TrimSpace(s))
		return nil
	}
	*k = parsed
	return nil
}

// Step is one step instance. Delay is nil until the step has a configured
// duration.
type Step struct {
	Kind  Kind
	ID    string
	Delay *float64
}

// DelaySeconds returns the configured delay or def.
func (s Step) DelaySeconds(def float64) float64 {
	if s.Delay != nil {
		return *s.Delay
	}
	return def
}

// Point is a position on the editor canvas.
type Point struct {
	X, Y float64
}

// Model owns the slot array and every step instance created during an
// editing session. A step occupies at most one slot and a slot holds at most
// one step.
type Model struct {
	slots []string
	steps map[string]*Step
	order []string
	newID func(Kind) string
}

// NewModel returns a model with n empty slots.
func NewModel(n int) *Model {
	if n < 0 {
		n = 0
	}
	return &Model{
		slots: make([]string, n),
		steps: make(map[string]*Step),
		newID: defaultID,
	}
}

func defaultID(k Kind) string {
	return strings.ReplaceAll(string(k), " ", "") + "_" + ulid.Make().String()
}

// SlotCount returns the number of slots.
func (m *Model) SlotCount() int { return len(m.slots) }

// CreateStep allocates a new unplaced step of kind and returns its ID.
func (m *Model) CreateStep(kind Kind) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: kind %q", ErrUnknownStep, kind)
	}
	id := m.newID(kind)
	m.steps[id] = &Step{Kind: kind, ID: id}
	m.order = append(m.order, id)
	return id, nil
}

// Step returns the step with the given ID.
func (m *Model) Step(id string) (Step, bool) {
	s, ok := m.steps[id]
	if !ok {
		return Step{}, false
	}
	return *s, true
}

// Steps returns every created step in creation order, placed or not.
func (m *Model) Steps() []Step {
	out := make([]Step, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.steps[id])
	}
	return out
}

// SetDelay configures the duration of a Delay step.
func (m *Model) SetDelay(id string, seconds float64) error {
	s, ok := m.steps[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStep, id)
	}
	if s.Kind != Delay {
		return fmt.Errorf("step %s is a %s step, not a Delay", id, s.Kind)
	}
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return fmt.Errorf("delay must be a non-negative number of seconds, got %g", seconds)
	}
	s.Delay = &seconds
	return nil
}

// Place puts the step into slot. A step already in slot is evicted and
// becomes unplaced. If the step sat in another slot it moves.
func (m *Model) Place(id string, slot int) error {
	if slot < 0 || slot >= len(m.slots) {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrSlotOutOfRange, slot, len(m.slots))
	}
	if _, ok := m.steps[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStep, id)
	}
	m.unplace(id)
	m.slots[slot] = id
	return nil
}

// PlaceNearest drops the step at p. The step first leaves its current slot,
// then snaps into the slot whose center is closest to p if that distance is
// less than threshold. centers holds one canvas position per slot.
func (m *Model) PlaceNearest(id string, p Point, centers []Point, threshold float64) (slot int, placed bool, err error) {
	if _, ok := m.steps[id]; !ok {
		return -1, false, fmt.Errorf("%w: %s", ErrUnknownStep, id)
	}
	m.unplace(id)

	best, bestDist := -1, math.Inf(1)
	for i, c := range centers {
		if i >= len(m.slots) {
			break
		}
		if d := math.Hypot(p.X-c.X, p.Y-c.Y); d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 || bestDist >= threshold {
		return -1, false, nil
	}
	m.slots[best] = id
	return best, true, nil
}

// Remove unplaces the step. The step stays known to the model.
func (m *Model) Remove(id string) error {
	if _, ok := m.steps[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStep, id)
	}
	m.unplace(id)
	return nil
}

// Delete unplaces the step and forgets it.
func (m *Model) Delete(id string) error {
	if err := m.Remove(id); err != nil {
		return err
	}
	delete(m.steps, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Model) unplace(id string) {
	for i, v := range m.slots {
		if v == id {
			m.slots[i] = ""
		}
	}
}

// Slot returns the step in slot i.
func (m *Model) Slot(i int) (Step, bool) {
	if i < 0 || i >= len(m.slots) || m.slots[i] == "" {
		return Step{}, false
	}
	return *m.steps[m.slots[i]], true
}

// Position returns the slot holding the step.
func (m *Model) Position(id string) (int, bool) {
	for i, v := range m.slots {
		if v == id {
			return i, true
		}
	}
	return -1, false
}

// OrderedSteps yields the placed steps from the lowest slot to the highest.
// Empty slots are skipped. The sequence can be ranged over repeatedly.
func (m *Model) OrderedSteps() iter.Seq[Step] {
	return func(yield func(Step) bool) {
		for _, id := range m.slots {
			if id == "" {
				continue
			}
			if !yield(*m.steps[id]) {
				return
			}
		}
	}
}

// Reset empties every slot and forgets all steps.
func (m *Model) Reset() {
	clear(m.slots)
	m.steps = make(map[string]*Step)
	m.order = nil
}
