// Package tui is the interactive slot editor: a terminal view of the
// sequence slots where steps are dropped, moved, removed and saved.
package tui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gotmc/scopeseq/lib/editor"
	"github.com/gotmc/scopeseq/lib/sequence"
)

// DelayStep is the amount +/- change a Delay step by, in seconds.
const DelayStep = 0.5

// DefaultSnapDistance is how close, in pixels, a dragged step must be
// released to a slot to snap into it.
const DefaultSnapDistance = 50

// Terminal cells are mapped onto an approximate pixel grid so the snap
// distance keeps its canvas meaning.
const (
	cellWidth  = 8
	cellHeight = 16

	slotTop = 2  // top border and title above the first slot row
	slotCol = 10 // middle of a slot label
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	cursorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	emptyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	panelStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

type keyMap struct {
	Up       key.Binding
	Down     key.Binding
	MoveUp   key.Binding
	MoveDown key.Binding
	Start    key.Binding
	End      key.Binding
	Delay    key.Binding
	WaveCap  key.Binding
	Axis     key.Binding
	Remove   key.Binding
	Longer   key.Binding
	Shorter  key.Binding
	Save     key.Binding
	Quit     key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		MoveUp:   key.NewBinding(key.WithKeys("K", "shift+up"), key.WithHelp("K", "move up")),
		MoveDown: key.NewBinding(key.WithKeys("J", "shift+down"), key.WithHelp("J", "move down")),
		Start:    key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "start")),
		End:      key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "end")),
		Delay:    key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delay")),
		WaveCap:  key.NewBinding(key.WithKeys("w"), key.WithHelp("w", "wave cap")),
		Axis:     key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "axis control")),
		Remove:   key.NewBinding(key.WithKeys("x", "delete", "backspace"), key.WithHelp("x", "remove")),
		Longer:   key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+/-", "delay")),
		Shorter:  key.NewBinding(key.WithKeys("-")),
		Save:     key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("ctrl+s", "save")),
		Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"), key.WithHelp("q", "quit")),
	}
}

// Model is the bubbletea model of the slot editor.
type Model struct {
	ed      *editor.Editor
	saveDir string
	keys    keyMap
	cursor  int
	status  string
	err     error
	snap    float64
	drag    string // step being dragged with the mouse

	// Saved is the directory of the last successful save.
	Saved string
}

// Option configures a Model.
type Option func(*Model)

// WithSnapDistance sets the mouse drop snap distance in pixels.
func WithSnapDistance(d float64) Option { return func(m *Model) { m.snap = d } }

// New returns an editor model saving into saveDir.
func New(ed *editor.Editor, saveDir string, opts ...Option) Model {
	m := Model{ed: ed, saveDir: saveDir, keys: defaultKeys(), snap: DefaultSnapDistance}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Run starts m full screen with mouse support and returns the final model.
func Run(m Model, opts ...tea.ProgramOption) (Model, error) {
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithMouseCellMotion()}, opts...)
	final, err := tea.NewProgram(m, opts...).Run()
	if err != nil {
		return Model{}, err
	}
	m, ok := final.(Model)
	if !ok {
		return Model{}, errors.New("unexpected model type")
	}
	return m, nil
}

// Cursor returns the selected slot.
func (m Model) Cursor() int { return m.cursor }

// Init implements tea.Model.
func (m Model) Init() tea.Cmd { return nil }

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if mm, ok := msg.(tea.MouseMsg); ok {
		m.mouse(mm)
		return m, nil
	}
	km, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	model := m.ed.Model()
	m.err = nil

	switch {
	case key.Matches(km, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(km, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(km, m.keys.Down):
		if m.cursor < model.SlotCount()-1 {
			m.cursor++
		}
	case key.Matches(km, m.keys.MoveUp):
		m.move(-1)
	case key.Matches(km, m.keys.MoveDown):
		m.move(1)
	case key.Matches(km, m.keys.Start):
		m.drop(sequence.Start)
	case key.Matches(km, m.keys.End):
		m.drop(sequence.End)
	case key.Matches(km, m.keys.Delay):
		m.drop(sequence.Delay)
	case key.Matches(km, m.keys.WaveCap):
		m.drop(sequence.WaveCap)
	case key.Matches(km, m.keys.Axis):
		m.drop(sequence.AxisControl)
	case key.Matches(km, m.keys.Remove):
		if s, ok := model.Slot(m.cursor); ok {
			m.fail(model.Delete(s.ID))
			m.status = fmt.Sprintf("removed %s from slot %d", s.Kind, m.cursor+1)
		}
	case key.Matches(km, m.keys.Longer):
		m.adjustDelay(DelayStep)
	case key.Matches(km, m.keys.Shorter):
		m.adjustDelay(-DelayStep)
	case key.Matches(km, m.keys.Save):
		dir, err := m.ed.Save(m.saveDir)
		if err != nil {
			m.fail(err)
			break
		}
		m.Saved = dir
		m.status = "saved to " + dir
	}
	return m, nil
}

func (m *Model) fail(err error) {
	if err != nil {
		m.err = err
	}
}

// drop creates a step of kind in the selected slot, replacing its
// occupant.
func (m *Model) drop(kind sequence.Kind) {
	model := m.ed.Model()
	prev, hadPrev := model.Slot(m.cursor)
	id, err := model.CreateStep(kind)
	if err != nil {
		m.fail(err)
		return
	}
	if err := model.Place(id, m.cursor); err != nil {
		m.fail(err)
		return
	}
	m.status = fmt.Sprintf("placed %s in slot %d", kind, m.cursor+1)
	if hadPrev {
		m.fail(model.Delete(prev.ID))
		m.status += fmt.Sprintf(", replacing %s", prev.Kind)
	}
}

// move swaps the selected slot with its neighbour and follows the step.
func (m *Model) move(delta int) {
	model := m.ed.Model()
	target := m.cursor + delta
	if target < 0 || target >= model.SlotCount() {
		return
	}
	cur, ok := model.Slot(m.cursor)
	if !ok {
		return
	}
	other, hadOther := model.Slot(target)
	if err := model.Place(cur.ID, target); err != nil {
		m.fail(err)
		return
	}
	if hadOther {
		m.fail(model.Place(other.ID, m.cursor))
	}
	m.cursor = target
}

func cellPoint(col, row int) sequence.Point {
	return sequence.Point{
		X: float64(col*cellWidth + cellWidth/2),
		Y: float64(row*cellHeight + cellHeight/2),
	}
}

// mouse picks up the step under a left press and drops it on release. A
// step released too far from every slot is removed, and a step it lands on
// is replaced.
func (m *Model) mouse(msg tea.MouseMsg) {
	if msg.Button != tea.MouseButtonLeft && msg.Action != tea.MouseActionRelease {
		return
	}
	model := m.ed.Model()
	switch msg.Action {
	case tea.MouseActionPress:
		slot := msg.Y - slotTop
		if slot < 0 || slot >= model.SlotCount() {
			return
		}
		m.cursor = slot
		m.drag = ""
		if s, ok := model.Slot(slot); ok {
			m.drag = s.ID
		}
	case tea.MouseActionRelease:
		if m.drag == "" {
			return
		}
		id := m.drag
		m.drag = ""
		m.err = nil
		s, _ := model.Step(id)
		from, _ := model.Position(id)

		centers := make([]sequence.Point, model.SlotCount())
		for i := range centers {
			centers[i] = cellPoint(slotCol, slotTop+i)
		}
		prev, hadPrev := sequence.Step{}, false
		slot, placed, err := model.PlaceNearest(id, cellPoint(msg.X, msg.Y), centers, m.snap)
		if err != nil {
			m.fail(err)
			return
		}
		if !placed {
			m.fail(model.Delete(id))
			m.status = fmt.Sprintf("removed %s from slot %d", s.Kind, from+1)
			return
		}
		for _, other := range model.Steps() {
			if _, ok := model.Position(other.ID); !ok {
				prev, hadPrev = other, true
				m.fail(model.Delete(other.ID))
			}
		}
		m.cursor = slot
		m.status = fmt.Sprintf("moved %s to slot %d", s.Kind, slot+1)
		if hadPrev {
			m.status += fmt.Sprintf(", replacing %s", prev.Kind)
		}
	}
}

func (m *Model) adjustDelay(delta float64) {
	s, ok := m.ed.Model().Slot(m.cursor)
	if !ok || s.Kind != sequence.Delay {
		return
	}
	v, _ := m.ed.Delay(s)
	v = max(0, v+delta)
	if err := m.ed.SetDelay(s.ID, v); err != nil {
		m.fail(err)
		return
	}
	m.status = fmt.Sprintf("delay set to %s seconds", editor.Seconds(v))
}

// View implements tea.Model.
func (m Model) View() string {
	model := m.ed.Model()
	var slots strings.Builder
	slots.WriteString(titleStyle.Render("Slots") + "\n")
	for i := 0; i < model.SlotCount(); i++ {
		label := emptyStyle.Render("(empty)")
		if s, ok := model.Slot(i); ok {
			label = s.Kind.String()
			if s.Kind == sequence.Delay {
				v, _ := m.ed.Delay(s)
				label += " " + editor.Seconds(v) + "s"
			}
		}
		prefix := "  "
		line := fmt.Sprintf("%2d  %s", i+1, label)
		if i == m.cursor {
			prefix = cursorStyle.Render("> ")
			line = cursorStyle.Render(fmt.Sprintf("%2d  ", i+1)) + label
		}
		slots.WriteString(prefix + line + "\n")
	}

	var console strings.Builder
	console.WriteString(titleStyle.Render("Sequence") + "\n")
	lines := m.ed.Render()
	if len(lines) == 0 {
		console.WriteString(emptyStyle.Render("no steps placed") + "\n")
	}
	for _, l := range lines {
		console.WriteString(l + "\n")
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		panelStyle.Render(strings.TrimRight(slots.String(), "\n")),
		panelStyle.Render(strings.TrimRight(console.String(), "\n")),
	)

	footer := statusStyle.Render(m.status)
	if m.err != nil {
		footer = errStyle.Render(m.err.Error())
	}
	help := helpStyle.Render("s start  e end  d delay  w wave cap  a axis  x remove  J/K move  +/- delay  ctrl+s save  q quit")
	return lipgloss.JoinVertical(lipgloss.Left, body, footer, help) + "\n"
}
