// Package executor replays a saved sequence against the oscilloscope.
//
// A run moves from Idle to Running and ends Succeeded or Failed. Steps run
// in document order. Instrument errors and unknown step types halt the
// run; a missing step configuration or a failed artifact fails only its
// step. Nothing is retried and nothing is rolled back.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gotmc/scopeseq/lib/capture"
	"github.com/gotmc/scopeseq/lib/scope"
	"github.com/gotmc/scopeseq/lib/sequence"
	"github.com/gotmc/scopeseq/lib/stepconfig"
	"github.com/rs/zerolog"
)

var (
	// ErrNotConnected marks steps skipped because no instrument is attached.
	ErrNotConnected = errors.New("oscilloscope is not connected")
	// ErrAlreadyRunning is returned when Run is called during a run.
	ErrAlreadyRunning = errors.New("a sequence is already running")
)

// Facade is the instrument surface used by sequence steps.
type Facade interface {
	capture.Facade
	ActiveChannels() ([]int, error)
	SetTimebaseScale(scale float64) error
	SetTimebasePosition(pos float64) error
	SetChannelScale(ch int, scale float64) error
	SetChannelPosition(ch int, pos float64) error
	SetMarker(m scope.Marker, pos float64) error
}

// Prompter asks the operator for decisions during a capture step.
type Prompter interface {
	// FileName returns the capture name, offering def. ok is false when the
	// operator gave none.
	FileName(def string) (name string, ok bool)
	// ConfirmOverwrite asks whether an existing capture directory may be
	// reused.
	ConfirmOverwrite(dir string) bool
}

// Auto answers prompts without asking: it always uses Name (or the offered
// default) and Overwrite.
type Auto struct {
	Name      string
	Overwrite bool
}

// FileName implements Prompter.
func (a Auto) FileName(def string) (string, bool) {
	if a.Name != "" {
		return a.Name, true
	}
	return def, def != ""
}

// ConfirmOverwrite implements Prompter.
func (a Auto) ConfirmOverwrite(string) bool { return a.Overwrite }

// Progress receives the operator-facing progress log.
type Progress interface {
	Progress(line string)
}

// ProgressFunc adapts a function to Progress.
type ProgressFunc func(line string)

// Progress implements Progress.
func (f ProgressFunc) Progress(line string) { f(line) }

// Recorder stores finished run reports.
type Recorder interface {
	Record(ctx context.Context, r Report) error
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Executor runs sequences. It is safe for concurrent use but runs one
// sequence at a time.
type Executor struct {
	facade      Facade
	prompter    Prompter
	progress    Progress
	recorder    Recorder
	sleep       SleepFunc
	logger      zerolog.Logger
	baseDir     string
	defaultName string
	now         func() time.Time

	mu    sync.Mutex
	state State
}

// Option configures an Executor.
type Option func(*Executor)

// WithPrompter sets how the operator is asked for names and overwrites.
func WithPrompter(p Prompter) Option { return func(e *Executor) { e.prompter = p } }

// WithProgress sets the progress log.
func WithProgress(p Progress) Option { return func(e *Executor) { e.progress = p } }

// WithRecorder stores every finished report.
func WithRecorder(r Recorder) Option { return func(e *Executor) { e.recorder = r } }

// WithSleep replaces the delay implementation.
func WithSleep(fn SleepFunc) Option { return func(e *Executor) { e.sleep = fn } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(e *Executor) { e.logger = l } }

// WithBaseDirectory sets where captures go when the waveform configuration
// names no directory.
func WithBaseDirectory(dir string) Option { return func(e *Executor) { e.baseDir = dir } }

// WithDefaultName sets the capture name offered to the operator when the
// waveform configuration has none.
func WithDefaultName(name string) Option { return func(e *Executor) { e.defaultName = name } }

// WithClock replaces time.Now in reports.
func WithClock(now func() time.Time) Option { return func(e *Executor) { e.now = now } }

// New returns an executor. facade may be nil when no instrument is
// connected; instrument steps are then skipped.
func New(facade Facade, opts ...Option) *Executor {
	e := &Executor{
		facade:   facade,
		prompter: Auto{},
		progress: ProgressFunc(func(string) {}),
		sleep:    sleepContext,
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the state of the current or last run.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Run loads the sequence at path (a sequence.json file or its directory)
// and executes it. Step configuration documents are read from the same
// directory.
func (e *Executor) Run(ctx context.Context, path string) (Report, error) {
	doc, err := sequence.LoadDocument(path)
	if err != nil {
		return Report{}, err
	}
	dir := path
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		dir = filepath.Dir(path)
	}
	return e.RunDocument(ctx, doc, dir)
}

// RunDocument executes doc, resolving configuration documents in dir. The
// returned error is the one that halted the run, if any.
func (e *Executor) RunDocument(ctx context.Context, doc *sequence.Document, dir string) (Report, error) {
	e.mu.Lock()
	if e.state == Running {
		e.mu.Unlock()
		return Report{}, ErrAlreadyRunning
	}
	e.state = Running
	e.mu.Unlock()

	rep := Report{
		ID:       uuid.NewString(),
		Sequence: dir,
		State:    Running,
		Started:  e.now(),
	}
	log := e.logger.With().Str("run", rep.ID).Logger()
	log.Info().Str("dir", dir).Int("modules", len(doc.Modules)).Msg("sequence started")

	var halt error
	for i, mod := range doc.Modules {
		sr := e.runStep(ctx, log, dir, i, mod)
		rep.Steps = append(rep.Steps, sr)
		e.progress.Progress(sr.Line())
		if sr.Terminal {
			halt = fmt.Errorf("step %d (%s): %w", sr.Index, sr.Kind, sr.Err)
			break
		}
	}

	rep.Finished = e.now()
	rep.Err = halt
	rep.State = Succeeded
	if halt != nil || rep.FailedCount() > 0 {
		rep.State = Failed
	}
	e.progress.Progress(rep.Summary())
	log.Info().Str("state", rep.State.String()).Int("failed", rep.FailedCount()).Msg("sequence finished")

	e.mu.Lock()
	e.state = rep.State
	e.mu.Unlock()

	if e.recorder != nil {
		if err := e.recorder.Record(context.WithoutCancel(ctx), rep); err != nil {
			log.Error().Err(err).Msg("run report not recorded")
		}
	}
	return rep, halt
}

func (e *Executor) runStep(ctx context.Context, log zerolog.Logger, dir string, i int, mod sequence.Module) StepReport {
	sr := StepReport{Index: i + 1, Kind: mod.Type, Started: e.now()}
	log = log.With().Int("step", sr.Index).Str("kind", mod.Type.String()).Logger()

	switch mod.Type {
	case sequence.Start, sequence.End:
		sr.applied("")
	case sequence.Delay:
		e.runDelay(ctx, &sr, mod)
	case sequence.WaveCap:
		if e.facade == nil {
			sr.skip(ErrNotConnected)
			break
		}
		e.runWaveCap(log, &sr, dir, mod)
	case sequence.AxisControl:
		if e.facade == nil {
			sr.skip(ErrNotConnected)
			break
		}
		e.runAxis(log, &sr, dir, mod)
	default:
		sr.fail(fmt.Errorf("%w: type %q", sequence.ErrUnknownStep, mod.Type), true)
	}

	sr.Duration = e.now().Sub(sr.Started)
	ev := log.Info()
	if sr.Outcome == Failure {
		ev = log.Error().Err(sr.Err)
	}
	ev.Str("outcome", string(sr.Outcome)).Str("detail", sr.Message).Msg("step finished")
	return sr
}

func (e *Executor) runDelay(ctx context.Context, sr *StepReport, mod sequence.Module) {
	secs := mod.DelaySeconds()
	if err := stepconfig.ValidateDelay(secs); err != nil {
		sr.fail(err, true)
		return
	}
	d := time.Duration(secs * float64(time.Second))
	if err := e.sleep(ctx, d); err != nil {
		sr.fail(err, true)
		return
	}
	sr.applied(fmt.Sprintf("waited %s seconds", formatSeconds(secs)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
