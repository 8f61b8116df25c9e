// Package block decodes IEEE 488.2 definite-length arbitrary blocks, the
// framing oscilloscopes use for screenshots and binary waveform data.
//
//	'#', one ASCII digit n, n ASCII digits giving the length, data bytes
package block

import (
	"errors"
	"fmt"
	"io"
	"strconv"
)

// ChunkSize bounds a single binary read from the instrument.
const ChunkSize = 1024

// ErrHeader is returned when the data does not start with a block header.
var ErrHeader = errors.New("invalid block header")

// Reader is the part of an instrument session needed to pull a block.
type Reader interface {
	ReadBytes(n int) ([]byte, error)
}

// Read pulls one definite-length block from r, reading the payload in
// ChunkSize pieces.
func Read(r Reader) ([]byte, error) {
	hdr, err := r.ReadBytes(2)
	if err != nil {
		return nil, fmt.Errorf("read block header: %w", err)
	}
	digits, err := headerDigits(hdr)
	if err != nil {
		return nil, err
	}
	raw, err := r.ReadBytes(digits)
	if err != nil {
		return nil, fmt.Errorf("read block length: %w", err)
	}
	size, err := parseLength(raw)
	if err != nil {
		return nil, err
	}

	data := make([]byte, 0, size)
	for remaining := size; remaining > 0; {
		n := min(ChunkSize, remaining)
		chunk, err := r.ReadBytes(n)
		if err != nil {
			return nil, fmt.Errorf("read block data (%d of %d bytes): %w", len(data), size, err)
		}
		data = append(data, chunk...)
		remaining -= len(chunk)
	}
	return data, nil
}

// Unpack decodes a complete block held in memory and returns its payload.
// Trailing bytes after the payload (usually the response terminator) are
// ignored.
func Unpack(pack []byte) ([]byte, error) {
	if len(pack) < 2 {
		return nil, io.ErrUnexpectedEOF
	}
	digits, err := headerDigits(pack[:2])
	if err != nil {
		return nil, err
	}
	if len(pack) < 2+digits {
		return nil, io.ErrUnexpectedEOF
	}
	size, err := parseLength(pack[2 : 2+digits])
	if err != nil {
		return nil, err
	}
	start := 2 + digits
	if len(pack) < start+size {
		return nil, fmt.Errorf("invalid length: expect %d, got %d: %w", size, len(pack)-start, io.ErrUnexpectedEOF)
	}
	return pack[start : start+size], nil
}

// TrimHeader drops a leading block header from an ASCII response such as
// ":WAV:DATA?" in ASCII format. Data without a header is returned unchanged.
func TrimHeader(data string) string {
	if len(data) < 2 || data[0] != '#' {
		return data
	}
	digits, err := headerDigits([]byte(data[:2]))
	if err != nil || len(data) < 2+digits {
		return data
	}
	if _, err := parseLength([]byte(data[2 : 2+digits])); err != nil {
		return data
	}
	return data[2+digits:]
}

func headerDigits(hdr []byte) (int, error) {
	if hdr[0] != '#' {
		return 0, fmt.Errorf("%w: want %q got %q", ErrHeader, '#', hdr[0])
	}
	if hdr[1] < '1' || hdr[1] > '9' {
		// '#0' indefinite blocks are not produced for the queries we issue.
		return 0, fmt.Errorf("%w: unsupported length digit %q", ErrHeader, hdr[1])
	}
	return int(hdr[1] - '0'), nil
}

func parseLength(raw []byte) (int, error) {
	size, err := strconv.Atoi(string(raw))
	if err != nil || size < 0 {
		return 0, fmt.Errorf("%w: bad length field %q", ErrHeader, raw)
	}
	return size, nil
}
