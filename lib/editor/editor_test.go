package editor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gotmc/scopeseq/lib/sequence"
	"github.com/gotmc/scopeseq/lib/stepconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixed = time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC)

func newEditor(t *testing.T) (*Editor, stepconfig.Store) {
	t.Helper()
	store := stepconfig.NewStore(t.TempDir())
	e, err := New(sequence.NewModel(10), store, WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)
	return e, store
}

func build(t *testing.T, e *Editor) {
	t.Helper()
	m := e.Model()
	for i, k := range []sequence.Kind{sequence.Start, sequence.Delay, sequence.AxisControl, sequence.End} {
		id, err := m.CreateStep(k)
		require.NoError(t, err)
		if k == sequence.Delay {
			require.NoError(t, e.SetDelay(id, 2.5))
		}
		require.NoError(t, m.Place(id, i))
	}
}

func TestRenderEmpty(t *testing.T) {
	e, _ := newEditor(t)
	assert.Empty(t, e.Render())
}

func TestRender(t *testing.T) {
	e, _ := newEditor(t)
	build(t, e)
	assert.Equal(t, []string{
		"1. Start",
		"2. Delay (2.5 seconds)",
		"3. Axis Control",
		"4. End",
	}, e.Render())
}

func TestRenderUnconfiguredDelay(t *testing.T) {
	e, _ := newEditor(t)
	id, err := e.Model().CreateStep(sequence.Delay)
	require.NoError(t, err)
	require.NoError(t, e.Model().Place(id, 3))
	assert.Equal(t, []string{"1. Delay"}, e.Render())
}

func TestSeconds(t *testing.T) {
	assert.Equal(t, "1.0", Seconds(1))
	assert.Equal(t, "2.5", Seconds(2.5))
	assert.Equal(t, "0.1", Seconds(0.1))
}

func TestSaveWithoutDirectoryWritesNothing(t *testing.T) {
	e, store := newEditor(t)
	build(t, e)
	before, err := os.ReadDir(store.Dir)
	require.NoError(t, err)

	dir, err := e.Save("")
	require.ErrorIs(t, err, ErrNoSaveDirectory)
	assert.Empty(t, dir)

	after, err := os.ReadDir(store.Dir)
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after))
}

func TestSaveAndLoad(t *testing.T) {
	e, store := newEditor(t)
	build(t, e)
	require.NoError(t, store.SaveAxis(stepconfig.DefaultAxis()))

	target := t.TempDir()
	dir, err := e.Save(target)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(target, "script_20240517_093000"), dir)
	assert.FileExists(t, filepath.Join(dir, sequence.FileName))
	assert.FileExists(t, filepath.Join(dir, stepconfig.AxisFile))
	assert.NoFileExists(t, filepath.Join(dir, stepconfig.WaveformFile))

	second, err := e.Save(target)
	require.NoError(t, err)
	assert.Equal(t, dir+"_2", second)

	other, _ := newEditor(t)
	require.NoError(t, other.Load(dir))
	assert.Equal(t, e.Render(), other.Render())
}

func TestLoadResetsState(t *testing.T) {
	e, _ := newEditor(t)
	build(t, e)
	dir, err := e.Save(t.TempDir())
	require.NoError(t, err)

	id, err := e.Model().CreateStep(sequence.WaveCap)
	require.NoError(t, err)
	require.NoError(t, e.Model().Place(id, 9))
	require.NoError(t, e.Load(dir))

	assert.Len(t, e.Render(), 4)
	assert.Len(t, e.Model().Steps(), 4)
}

func TestLoadMissing(t *testing.T) {
	e, _ := newEditor(t)
	build(t, e)
	err := e.Load(t.TempDir())
	require.ErrorIs(t, err, ErrSequenceNotFound)
	assert.Len(t, e.Render(), 4)
}

func TestSetDelayPersistsTable(t *testing.T) {
	e, store := newEditor(t)
	id, err := e.Model().CreateStep(sequence.Delay)
	require.NoError(t, err)
	require.NoError(t, e.SetDelay(id, 0.75))

	table, err := store.Delays()
	require.NoError(t, err)
	v, ok := table.Get(id)
	assert.True(t, ok)
	assert.Equal(t, 0.75, v)

	start, err := e.Model().CreateStep(sequence.Start)
	require.NoError(t, err)
	require.Error(t, e.SetDelay(start, 1))
}
