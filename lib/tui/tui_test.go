package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gotmc/scopeseq/lib/editor"
	"github.com/gotmc/scopeseq/lib/sequence"
	"github.com/gotmc/scopeseq/lib/stepconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runes(s string) tea.KeyMsg { return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)} }

func newModel(t *testing.T, saveDir string) Model {
	t.Helper()
	ed, err := editor.New(sequence.NewModel(5), stepconfig.NewStore(t.TempDir()))
	require.NoError(t, err)
	return New(ed, saveDir)
}

func send(t *testing.T, m Model, msgs ...tea.Msg) Model {
	t.Helper()
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		var ok bool
		m, ok = next.(Model)
		require.True(t, ok)
	}
	return m
}

func TestDropAndNavigate(t *testing.T) {
	m := newModel(t, "")
	m = send(t, m,
		runes("s"),
		tea.KeyMsg{Type: tea.KeyDown},
		runes("d"),
		runes("j"),
		runes("a"),
		runes("j"),
		runes("e"),
	)
	assert.Equal(t, 3, m.Cursor())
	assert.Equal(t, []string{"1. Start", "2. Delay", "3. Axis Control", "4. End"}, m.ed.Render())
}

func TestDropReplacesOccupant(t *testing.T) {
	m := newModel(t, "")
	m = send(t, m, runes("s"), runes("w"))
	assert.Equal(t, []string{"1. Wave Cap"}, m.ed.Render())
	assert.Len(t, m.ed.Model().Steps(), 1)
	assert.Contains(t, m.status, "replacing Start")
}

func TestMoveSwapsSteps(t *testing.T) {
	m := newModel(t, "")
	m = send(t, m, runes("s"), runes("j"), runes("e"), runes("K"))
	assert.Equal(t, 0, m.Cursor())
	assert.Equal(t, []string{"1. End", "2. Start"}, m.ed.Render())

	m = send(t, m, runes("J"), runes("J"))
	assert.Equal(t, 2, m.Cursor())
	assert.Equal(t, []string{"1. Start", "2. End"}, m.ed.Render())
}

func TestRemove(t *testing.T) {
	m := newModel(t, "")
	m = send(t, m, runes("s"), runes("x"))
	assert.Empty(t, m.ed.Render())
	assert.Empty(t, m.ed.Model().Steps())
}

func TestAdjustDelay(t *testing.T) {
	m := newModel(t, "")
	m = send(t, m, runes("d"), runes("+"), runes("+"))
	assert.Equal(t, []string{"1. Delay (2.0 seconds)"}, m.ed.Render())
	m = send(t, m, runes("-"), runes("-"), runes("-"), runes("-"), runes("-"))
	assert.Equal(t, []string{"1. Delay (0.0 seconds)"}, m.ed.Render())
}

func TestSave(t *testing.T) {
	m := newModel(t, "")
	m = send(t, m, runes("s"), tea.KeyMsg{Type: tea.KeyCtrlS})
	require.ErrorIs(t, m.err, editor.ErrNoSaveDirectory)
	assert.Empty(t, m.Saved)

	dir := t.TempDir()
	m = newModel(t, dir)
	m = send(t, m, runes("s"), tea.KeyMsg{Type: tea.KeyCtrlS})
	require.NoError(t, m.err)
	assert.NotEmpty(t, m.Saved)
	assert.FileExists(t, m.Saved+"/"+sequence.FileName)
}

func TestQuitAndView(t *testing.T) {
	m := newModel(t, "")
	m = send(t, m, runes("s"))
	view := m.View()
	assert.Contains(t, view, "Start")
	assert.Contains(t, view, "(empty)")

	_, cmd := m.Update(runes("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func press(col, row int) tea.MouseMsg {
	return tea.MouseMsg{X: col, Y: row, Action: tea.MouseActionPress, Button: tea.MouseButtonLeft}
}

func release(col, row int) tea.MouseMsg {
	return tea.MouseMsg{X: col, Y: row, Action: tea.MouseActionRelease, Button: tea.MouseButtonLeft}
}

func TestMouseDragMovesStep(t *testing.T) {
	m := newModel(t, "")
	m = send(t, m, runes("s"))
	m = send(t, m, press(slotCol, slotTop), release(slotCol+3, slotTop+3))
	assert.Equal(t, 3, m.Cursor())
	s, ok := m.ed.Model().Slot(3)
	require.True(t, ok)
	assert.Equal(t, sequence.Start, s.Kind)
	_, ok = m.ed.Model().Slot(0)
	assert.False(t, ok)
	assert.Equal(t, "moved Start to slot 4", m.status)
}

func TestMouseDropReplacesOccupant(t *testing.T) {
	m := newModel(t, "")
	m = send(t, m, runes("s"), runes("j"), runes("e"))
	m = send(t, m, press(slotCol, slotTop+1), release(slotCol, slotTop))
	assert.Equal(t, []string{"1. End"}, m.ed.Render())
	assert.Len(t, m.ed.Model().Steps(), 1)
	assert.Contains(t, m.status, "replacing Start")
}

func TestMouseDropOutsideSnapDistanceRemoves(t *testing.T) {
	m := newModel(t, "")
	m = send(t, m, runes("d"))
	// 7 cells right of the slot is 56 pixels away
	m = send(t, m, press(slotCol, slotTop), release(slotCol+7, slotTop))
	assert.Empty(t, m.ed.Model().Steps())
	assert.Equal(t, "removed Delay from slot 1", m.status)
}

func TestMouseSnapDistanceOption(t *testing.T) {
	ed, err := editor.New(sequence.NewModel(5), stepconfig.NewStore(t.TempDir()))
	require.NoError(t, err)
	m := New(ed, "", WithSnapDistance(100))
	m = send(t, m, runes("w"))
	m = send(t, m, press(slotCol, slotTop), release(slotCol+7, slotTop))
	_, ok := m.ed.Model().Slot(0)
	assert.True(t, ok)
}

func TestMouseReleaseWithoutDragIsIgnored(t *testing.T) {
	m := newModel(t, "")
	m = send(t, m, runes("s"))
	m = send(t, m, press(slotCol, slotTop+2), release(slotCol, slotTop))
	assert.Equal(t, 2, m.Cursor())
	assert.Equal(t, []string{"1. Start"}, m.ed.Render())
}
