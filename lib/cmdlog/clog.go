// Package cmdlog is the operator console: styled progress lines and an
// optional trace of every command and response sent to the instrument.
package cmdlog

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/gotmc/scopeseq/lib/scope"
)

func isASCII(s string) bool {
	return !strings.ContainsFunc(s, func(r rune) bool {
		switch {
		case r < 7:
			return true
		case r > 6 && r < 14:
			return false
		case r > 13 && r < 32:
			return true
		case r > 127:
			return true
		}
		return false
	})
}

var (
	CmdStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	R1Style      = lipgloss.NewStyle().Foreground(lipgloss.Color("35"))
	R2Style      = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	ErrStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	SkipStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	SummaryStyle = lipgloss.NewStyle().Bold(true)
)

// Console writes operator-facing lines.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// New returns a console writing to w.
func New(w io.Writer) *Console { return &Console{w: w} }

// Println writes one unstyled line.
func (c *Console) Println(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, line)
}

// Lines writes each line.
func (c *Console) Lines(lines []string) {
	for _, l := range lines {
		c.Println(l)
	}
}

// Progress writes a progress line, coloured by its outcome.
func (c *Console) Progress(line string) {
	switch {
	case strings.HasPrefix(line, "Sequence "):
		line = SummaryStyle.Render(line)
	case strings.Contains(line, ": failed"):
		line = ErrStyle.Render(line)
	case strings.Contains(line, ": skipped"):
		line = SkipStyle.Render(line)
	}
	c.Println(line)
}

// Errorf writes an error line.
func (c *Console) Errorf(format string, a ...any) {
	c.Println(ErrStyle.Render(fmt.Sprintf(format, a...)))
}

// Trace wraps s so every command, query and response is echoed on the
// console.
func (c *Console) Trace(s scope.Session) scope.Session {
	return &traced{next: s, out: c}
}

type traced struct {
	next scope.Session
	out  *Console
}

func (t *traced) Command(format string, a ...any) error {
	cmd := format
	if a != nil {
		cmd = fmt.Sprintf(format, a...)
	}
	err := t.next.Command("%s", cmd)
	if err != nil {
		t.out.Println(fmt.Sprintf("cmd %s: error %s", CmdStyle.Render(cmd), err))
	} else {
		t.out.Println(CmdStyle.Render(cmd) + "()")
	}
	return err
}

func (t *traced) Query(q string) (string, error) {
	a, err := t.next.Query(q)
	styled := CmdStyle.Render(q)
	if err != nil {
		t.out.Println(fmt.Sprintf("query %s: error %s", styled, err))
		return a, err
	}
	t.out.Println(describe(styled, a))
	return a, nil
}

func (t *traced) ReadBytes(n int) ([]byte, error) {
	b, err := t.next.ReadBytes(n)
	if err != nil {
		t.out.Println(fmt.Sprintf("read %d bytes: error %s", n, err))
		return b, err
	}
	t.out.Println(R2Style.Render(fmt.Sprintf("<%d bytes>", len(b))))
	return b, nil
}

func (t *traced) ReadLine() (string, error) {
	l, err := t.next.ReadLine()
	if err != nil {
		t.out.Println(fmt.Sprintf("read line: error %s", err))
		return l, err
	}
	t.out.Println(describe(R2Style.Render("read"), l))
	return l, nil
}

// describe renders a response: quoted when printable, with a hex dump
// when short and binary, hex only when long and binary.
func describe(q, a string) string {
	a = strings.TrimSuffix(a, "\n")
	if len(a) == 1 && a[0] == 0xff {
		// some instruments reply 0xff when the last command has no result
		a = ""
	}
	switch {
	case len(a) == 0:
		return fmt.Sprintf("%s: %s", q, R1Style.Render("<no response>"))
	case isASCII(a):
		return fmt.Sprintf("%s: [%d] %q", q, len(a), a)
	case len(a) < 32:
		return fmt.Sprintf("%s: [%d] %q (% 2x)", q, len(a), a, []byte(a))
	}
	return fmt.Sprintf("%s: [%d] % 2x", q, len(a), []byte(a))
}
