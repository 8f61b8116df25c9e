package cmdlog

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gotmc/scopeseq/lib/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	cmds []string
	resp string
	err  error
}

func (f *fakeSession) Command(format string, a ...any) error {
	f.cmds = append(f.cmds, format)
	if len(a) > 0 {
		f.cmds[len(f.cmds)-1] = a[0].(string)
	}
	return f.err
}

func (f *fakeSession) Query(string) (string, error) { return f.resp, f.err }
func (f *fakeSession) ReadBytes(n int) ([]byte, error) { return make([]byte, n), f.err }
func (f *fakeSession) ReadLine() (string, error)        { return f.resp, f.err }

func TestIsASCII(t *testing.T) {
	assert.True(t, isASCII("1.25E-3\r\n"))
	assert.False(t, isASCII("\x01\x02"))
	assert.False(t, isASCII("é"))
}

func TestDescribe(t *testing.T) {
	assert.Contains(t, describe("q", "\xff"), "<no response>")
	assert.Equal(t, `q: [3] "1.0"`, describe("q", "1.0\n"))
	assert.Equal(t, `q: [2] "\x01\x02" (01 02)`, describe("q", "\x01\x02"))
	long := string(bytes.Repeat([]byte{0x80}, 40))
	assert.Contains(t, describe("q", long), "[40] 80 80")
}

func TestTrace(t *testing.T) {
	var buf bytes.Buffer
	c := New(&buf)
	fs := &fakeSession{resp: "2.5E+00"}
	s := c.Trace(fs)

	require.NoError(t, s.Command(":CHANnel%d:SCALe %s", 1, "0.5"))
	assert.Equal(t, []string{":CHANnel1:SCALe 0.5"}, fs.cmds)

	v, err := s.Query(":MEASure:VPP? CHANnel1")
	require.NoError(t, err)
	assert.Equal(t, "2.5E+00", v)

	b, err := s.ReadBytes(4)
	require.NoError(t, err)
	assert.Len(t, b, 4)

	l, err := s.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "2.5E+00", l)

	out := buf.String()
	assert.Contains(t, out, ":CHANnel1:SCALe 0.5")
	assert.Contains(t, out, `[7] "2.5E+00"`)
	assert.Contains(t, out, "<4 bytes>")

	fs.err = errors.New("bus fault")
	_, err = s.Query("*IDN?")
	require.Error(t, err)
	assert.Contains(t, buf.String(), "error bus fault")
}

func TestProgressImplementsExecutorProgress(t *testing.T) {
	var buf bytes.Buffer
	var p executor.Progress = New(&buf)
	p.Progress("1. Start: applied")
	p.Progress("2. Wave Cap: failed (no waveform config)")
	p.Progress("Sequence completed: 2 step(s)")
	out := buf.String()
	assert.Contains(t, out, "1. Start: applied")
	assert.Contains(t, out, "2. Wave Cap: failed (no waveform config)")
	assert.Contains(t, out, "Sequence completed: 2 step(s)")
	assert.Equal(t, 3, bytes.Count(buf.Bytes(), []byte("\n")))
}
