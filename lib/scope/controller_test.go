package scope

import (
	"bytes"
	"strings"
	"testing"

	"github.com/gotmc/scopeseq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rawStream is a raw SCPI socket: writes are recorded, reads come from a
// canned instrument output.
type rawStream struct {
	written bytes.Buffer
	out     *strings.Reader
}

func (r *rawStream) Write(p []byte) (int, error) { return r.written.Write(p) }
func (r *rawStream) Read(p []byte) (int, error)  { return r.out.Read(p) }

func TestScreenshotKeepsSessionInStep(t *testing.T) {
	stream := &rawStream{out: strings.NewReader("#15hello\n1\n0\n1\n0\n")}
	ctrl, err := scopeseq.NewController(stream)
	require.NoError(t, err)
	s := New(ctrl)

	img, err := s.CaptureScreenshot()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), img)

	active, err := s.ActiveChannels()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, active)
	assert.Zero(t, stream.out.Len())
}
