package sequence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gotmc/scopeseq/lib/stepconfig"
)

// FileName is the name of a saved sequence document.
const FileName = "sequence.json"

// Module is one entry of a sequence document.
type Module struct {
	Type   Kind     `json:"type"`
	Delay  *float64 `json:"delay,omitempty"`
	Config string   `json:"config,omitempty"`
}

// Document is the persisted sequence shared by the editor and the executor.
type Document struct {
	Modules []Module `json:"modules"`
}

// ConfigFile returns the configuration document name of the module, or ""
// for kinds without one.
func (m Module) ConfigFile() string {
	if c := strings.TrimSpace(m.Config); c != "" {
		return c
	}
	switch m.Type {
	case WaveCap:
		return stepconfig.WaveformFile
	case AxisControl:
		return stepconfig.AxisFile
	}
	return ""
}

// DelaySeconds returns the module delay, defaulting to
// stepconfig.DefaultDelay.
func (m Module) DelaySeconds() float64 {
	if m.Delay != nil {
		return *m.Delay
	}
	return stepconfig.DefaultDelay
}

// LoadDocument reads a sequence document. path may name the file or the
// directory containing sequence.json.
func LoadDocument(path string) (*Document, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sequence path is required")
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, FileName)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sequence %s: %w", path, err)
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("parse sequence %s: %w", path, err)
	}
	return doc, nil
}

// ParseDocument decodes and checks a sequence document. Unknown step types
// are kept; delays must be non-negative.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	for i, m := range doc.Modules {
		if strings.TrimSpace(string(m.Type)) == "" {
			return nil, fmt.Errorf("module %d: type is required", i+1)
		}
		if m.Delay != nil {
			if err := stepconfig.ValidateDelay(*m.Delay); err != nil {
				return nil, fmt.Errorf("module %d: %w", i+1, err)
			}
		}
	}
	return &doc, nil
}

// Save writes the document to path.
func (d *Document) Save(path string) error {
	data, err := json.MarshalIndent(d, "", "    ")
	if err != nil {
		return fmt.Errorf("encode sequence: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write sequence %s: %w", path, err)
	}
	return nil
}

// Kinds returns the module types in order.
func (d *Document) Kinds() []Kind {
	out := make([]Kind, len(d.Modules))
	for i, m := range d.Modules {
		out[i] = m.Type
	}
	return out
}

// Document builds the sequence document from the placed steps in slot
// order. delays supplies durations for Delay steps without one set on the
// model; it may be nil.
func (m *Model) Document(delays stepconfig.Delays) Document {
	doc := Document{Modules: []Module{}}
	for s := range m.OrderedSteps() {
		mod := Module{Type: s.Kind}
		switch s.Kind {
		case Delay:
			v := s.DelaySeconds(stepconfig.DefaultDelay)
			if s.Delay == nil && delays != nil {
				v, _ = delays.Get(s.ID)
			}
			mod.Delay = &v
		case WaveCap:
			mod.Config = stepconfig.WaveformFile
		case AxisControl:
			mod.Config = stepconfig.AxisFile
		}
		doc.Modules = append(doc.Modules, mod)
	}
	return doc
}

// Load resets the model and recreates the document's modules in slots
// 0..n-1, keeping their order. The model is unchanged on error.
func (m *Model) Load(doc Document) error {
	if len(doc.Modules) > len(m.slots) {
		return fmt.Errorf("%w: sequence has %d modules but only %d slots",
			ErrSlotOutOfRange, len(doc.Modules), len(m.slots))
	}
	for i, mod := range doc.Modules {
		if !mod.Type.Valid() {
			return fmt.Errorf("module %d: %w: kind %q", i+1, ErrUnknownStep, mod.Type)
		}
	}

	m.Reset()
	for i, mod := range doc.Modules {
		id, err := m.CreateStep(mod.Type)
		if err != nil {
			return err
		}
		if mod.Type == Delay && mod.Delay != nil {
			if err := m.SetDelay(id, *mod.Delay); err != nil {
				return fmt.Errorf("module %d: %w", i+1, err)
			}
		}
		if err := m.Place(id, i); err != nil {
			return err
		}
	}
	return nil
}
