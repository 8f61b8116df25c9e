package scopeseq

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBus records everything written and serves canned responses.
type fakeBus struct {
	written bytes.Buffer
	resp    *strings.Reader
	readErr error
}

func newFakeBus(resp string) *fakeBus {
	return &fakeBus{resp: strings.NewReader(resp)}
}

func (b *fakeBus) Write(p []byte) (int, error) { return b.written.Write(p) }

func (b *fakeBus) Read(p []byte) (int, error) {
	if b.readErr != nil {
		return 0, b.readErr
	}
	return b.resp.Read(p)
}

func TestNewControllerRaw(t *testing.T) {
	bus := newFakeBus("")
	c, err := NewController(bus)
	require.NoError(t, err)
	assert.False(t, c.Prologix())
	assert.Empty(t, bus.written.String())
}

func TestNewControllerRawClear(t *testing.T) {
	bus := newFakeBus("")
	_, err := NewController(bus, WithClear())
	require.NoError(t, err)
	assert.Equal(t, "*CLS\n", bus.written.String())
}

func TestNewControllerPrologixInit(t *testing.T) {
	bus := newFakeBus("")
	_, err := NewController(bus, WithPrologix(7), WithTimeout(time.Second))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(bus.written.String()), "\n")
	assert.Equal(t, []string{
		"++verbose 0",
		"++savecfg 0",
		"++addr 7",
		"++mode 1",
		"++auto 0",
		"++eoi 1",
		"++eos 0",
		"++read_tmo_ms 1000",
		"++eot_char 10",
		"++eot_enable 1",
		"++savecfg 1",
	}, lines)
}

func TestNewControllerAR488SecondaryAddress(t *testing.T) {
	bus := newFakeBus("")
	_, err := NewController(bus, WithPrologix(4), WithSecondaryAddress(101), WithAR488(), WithClear())
	require.NoError(t, err)

	out := bus.written.String()
	assert.NotContains(t, out, "verbose")
	assert.NotContains(t, out, "savecfg")
	assert.Contains(t, out, "++addr 4 101\n")
	assert.True(t, strings.HasSuffix(out, "++clr\n"))
}

func TestNewControllerInvalidAddress(t *testing.T) {
	_, err := NewController(newFakeBus(""), WithPrologix(31))
	require.Error(t, err)

	_, err = NewController(newFakeBus(""), WithPrologix(3), WithSecondaryAddress(12))
	require.Error(t, err)

	_, err = NewController(nil)
	require.Error(t, err)
}

func TestCommandTrimsAndTerminates(t *testing.T) {
	bus := newFakeBus("")
	c, err := NewController(bus)
	require.NoError(t, err)

	require.NoError(t, c.Command("  :TIMebase:SCALe %g ", 0.001))
	assert.Equal(t, ":TIMebase:SCALe 0.001\n", bus.written.String())
}

func TestQueryRaw(t *testing.T) {
	bus := newFakeBus("KEYSIGHT,DSOX1204G,MY1,1.0\r\n")
	c, err := NewController(bus)
	require.NoError(t, err)

	idn, err := c.Query("*IDN?")
	require.NoError(t, err)
	assert.Equal(t, "KEYSIGHT,DSOX1204G,MY1,1.0", idn)
	assert.Equal(t, "*IDN?\n", bus.written.String())
}

func TestQueryPrologixRequestsRead(t *testing.T) {
	bus := newFakeBus("1\n")
	c, err := NewController(bus, WithPrologix(7))
	require.NoError(t, err)
	bus.written.Reset()

	got, err := c.Query(":CHANnel1:DISPlay?")
	require.NoError(t, err)
	assert.Equal(t, "1", got)
	assert.Equal(t, ":CHANnel1:DISPlay?\n++read eoi\n", bus.written.String())
}

func TestQueryReturnsTrailingDataAtEOF(t *testing.T) {
	c, err := NewController(newFakeBus("+1.5E-03"))
	require.NoError(t, err)

	got, err := c.Query(":MEASure:VPP? CHANnel1")
	require.NoError(t, err)
	assert.Equal(t, "+1.5E-03", got)
}

func TestReadBytesAfterCommand(t *testing.T) {
	bus := newFakeBus("#14abcd")
	c, err := NewController(bus, WithPrologix(7))
	require.NoError(t, err)
	bus.written.Reset()

	require.NoError(t, c.Command(":DISPlay:DATA? PNG, COLOR"))
	head, err := c.ReadBytes(2)
	require.NoError(t, err)
	assert.Equal(t, "#1", string(head))
	rest, err := c.ReadBytes(5)
	require.NoError(t, err)
	assert.Equal(t, "4abcd", string(rest))

	// only one ++read for the pending answer
	assert.Equal(t, ":DISPlay:DATA? PNG, COLOR\n++read eoi\n", bus.written.String())
}

func TestTimeoutIsClassified(t *testing.T) {
	bus := newFakeBus("")
	bus.readErr = os.ErrDeadlineExceeded
	c, err := NewController(bus)
	require.NoError(t, err)

	_, err = c.Query(":MEASure:FREQuency? CHANnel1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestGpibTermString(t *testing.T) {
	assert.Equal(t, `Append LF (\n) to instrument commands`, AppendLF.String())
}
