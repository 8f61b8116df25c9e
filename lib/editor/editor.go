// Package editor renders, saves and loads sequences built in a
// sequence.Model.
package editor

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gotmc/scopeseq/lib/sequence"
	"github.com/gotmc/scopeseq/lib/stepconfig"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

var (
	// ErrNoSaveDirectory is returned by Save when no target directory was
	// chosen. Nothing is written.
	ErrNoSaveDirectory = errors.New("no save directory selected")
	// ErrSequenceNotFound is returned by Load when the directory has no
	// sequence document.
	ErrSequenceNotFound = errors.New("sequence document not found")
)

// DirPrefix starts the name of every saved sequence directory.
const DirPrefix = "script_"

// Editor wraps a model with the step configuration documents of the working
// directory.
type Editor struct {
	model  *sequence.Model
	store  stepconfig.Store
	delays stepconfig.Delays
	logger zerolog.Logger
	now    func() time.Time
}

// Option configures an Editor.
type Option func(*Editor)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(e *Editor) { e.logger = l } }

// WithClock replaces time.Now when naming saved directories.
func WithClock(now func() time.Time) Option { return func(e *Editor) { e.now = now } }

// New returns an editor on model. store holds the live configuration
// documents; its delay table is read immediately.
func New(model *sequence.Model, store stepconfig.Store, opts ...Option) (*Editor, error) {
	if model == nil {
		return nil, errors.New("sequence model is required")
	}
	delays, err := store.Delays()
	if err != nil {
		return nil, err
	}
	e := &Editor{model: model, store: store, delays: delays, logger: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Model returns the edited model.
func (e *Editor) Model() *sequence.Model { return e.model }

// Store returns the configuration store.
func (e *Editor) Store() stepconfig.Store { return e.store }

// Delay returns the delay of a Delay step and whether it was configured.
func (e *Editor) Delay(s sequence.Step) (float64, bool) {
	if s.Delay != nil {
		return *s.Delay, true
	}
	return e.delays.Get(s.ID)
}

// SetDelay configures a Delay step and records it in the delay table.
func (e *Editor) SetDelay(id string, seconds float64) error {
	if err := e.model.SetDelay(id, seconds); err != nil {
		return err
	}
	if err := e.delays.Set(id, seconds); err != nil {
		return err
	}
	if err := e.store.SaveDelays(e.delays); err != nil {
		return err
	}
	e.logger.Info().Str("step", id).Float64("seconds", seconds).Msg("delay configured")
	return nil
}

// Render returns one line per placed step in slot order, numbered from 1.
// Configured Delay steps show their duration.
func (e *Editor) Render() []string {
	var lines []string
	for s := range e.model.OrderedSteps() {
		line := strconv.Itoa(len(lines)+1) + ". " + s.Kind.String()
		if s.Kind == sequence.Delay {
			if v, ok := e.Delay(s); ok {
				line += " (" + Seconds(v) + " seconds)"
			}
		}
		lines = append(lines, line)
	}
	return lines
}

// Seconds formats a duration the way it is shown to the operator: always
// with a fractional part, so 1 reads "1.0".
func Seconds(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// Save writes the sequence into a new timestamped directory under target
// and copies the waveform and axis configuration documents next to it. It
// returns the directory created.
func (e *Editor) Save(target string) (string, error) {
	if strings.TrimSpace(target) == "" {
		e.logger.Warn().Msg("save skipped: no directory selected")
		return "", ErrNoSaveDirectory
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", fmt.Errorf("create save directory: %w", err)
	}
	dir, err := e.newDir(target)
	if err != nil {
		return "", err
	}

	doc := e.model.Document(e.delays)
	if err := doc.Save(filepath.Join(dir, sequence.FileName)); err != nil {
		return dir, err
	}
	for _, name := range []string{stepconfig.WaveformFile, stepconfig.AxisFile} {
		if !e.store.Exists(name) {
			continue
		}
		if err := copyFile(e.store.Path(name), filepath.Join(dir, name)); err != nil {
			return dir, fmt.Errorf("copy %s: %w", name, err)
		}
	}
	e.logger.Info().Str("dir", dir).Int("modules", len(doc.Modules)).Msg("sequence saved")
	return dir, nil
}

func (e *Editor) newDir(target string) (string, error) {
	base := filepath.Join(target, DirPrefix+e.now().Format("20060102_150405"))
	dir := base
	for i := 2; ; i++ {
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("create sequence directory: %w", err)
		}
		dir = base + "_" + strconv.Itoa(i)
	}
}

// Load replaces the model contents with the sequence saved in source.
func (e *Editor) Load(source string) error {
	path := filepath.Join(source, sequence.FileName)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			e.logger.Warn().Str("dir", source).Msg("no sequence document in directory")
			return fmt.Errorf("%w: %s", ErrSequenceNotFound, path)
		}
		return err
	}
	doc, err := sequence.LoadDocument(path)
	if err != nil {
		return err
	}
	if err := e.model.Load(*doc); err != nil {
		return err
	}
	e.logger.Info().Str("dir", source).Int("modules", len(doc.Modules)).Msg("sequence loaded")
	return nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, out.Close()) }()
	_, err = io.Copy(out, in)
	return err
}
