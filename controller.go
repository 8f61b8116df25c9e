// Copyright (c) 2020–2024 The scopeseq developers. All rights reserved.
// Project site: https://github.com/gotmc/scopeseq
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package scopeseq provides the exclusive instrument session used to drive a
// bench oscilloscope, either over a raw SCPI socket or through a Prologix
// GPIB-USB controller.
package scopeseq

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrTimeout is returned (wrapped) when the instrument does not answer before
// the read deadline expires.
var ErrTimeout = errors.New("instrument read timeout")

// Controller models one exclusive communication session with an instrument.
// Each command or query is serialised; callers must not interleave
// independent command/response pairs from concurrent logical operations.
type Controller struct {
	rw io.ReadWriter
	br *bufio.Reader
	mu sync.Mutex

	prologix         bool
	primaryAddr      int
	hasSecondaryAddr bool
	secondaryAddr    int
	auto             bool
	usbTerm          byte
	eotChar          byte
	gpibTerm         GpibTerm
	clear            bool
	debug            bool // if true, log controller commands before sending. Set via WithDebug().
	ar488            bool // compatibility with Arduino AR488 - see WithAR488 documentation for details.

	writeDelay time.Duration
	lastWrite  time.Time
	timeout    time.Duration
	awaiting   bool // a query was sent with Command and its answer has not been read yet
	logger     zerolog.Logger
}

// ControllerOption applies an option to the controller.
type ControllerOption func(*Controller)

// NewController creates a session on the given transport. Without options the
// transport is treated as a raw SCPI stream (LAN socket on port 5025, USBTMC
// character device). WithPrologix switches to a Prologix GPIB controller and
// sends its configuration sequence.
func NewController(rw io.ReadWriter, opts ...ControllerOption) (*Controller, error) {
	if rw == nil {
		return nil, errors.New("transport is required")
	}
	c := Controller{
		rw:       rw,
		br:       bufio.NewReader(rw),
		usbTerm:  '\n',
		eotChar:  '\n',
		gpibTerm: AppendCRLF,
		logger:   zerolog.Nop(),
	}

	// Apply options using the functional option pattern.
	for _, opt := range opts {
		opt(&c)
	}

	if !c.prologix {
		if c.clear {
			if err := c.Command("*CLS"); err != nil {
				return nil, err
			}
		}
		return &c, nil
	}

	if !isPrimaryAddressValid(c.primaryAddr) {
		return nil, fmt.Errorf("invalid primary address %d (must by 0-30)", c.primaryAddr)
	}

	addrCmd := fmt.Sprintf("addr %d", c.primaryAddr)
	if c.hasSecondaryAddr {
		if !isSecondaryAddressValid(c.secondaryAddr) {
			return nil, fmt.Errorf("invalid secondary address %d (must be 96-126)", c.secondaryAddr)
		}
		addrCmd = fmt.Sprintf("addr %d %d", c.primaryAddr, c.secondaryAddr)
	}
	cmds := []string{}
	if !c.ar488 {
		cmds = append(cmds,
			"verbose 0", // turn off verbosity if on
			"savecfg 0", // Disable saving of configuration parameters in EPROM
		)
	}
	cmds = append(cmds,
		addrCmd,
		"mode 1", // controller mode
		"auto 0", // no read-after-write; Query issues ++read explicitly
		"eoi 1",
		fmt.Sprintf("eos %d", c.gpibTerm),
		fmt.Sprintf("read_tmo_ms %d", c.readTimeoutMillis()),
		fmt.Sprintf("eot_char %d", c.eotChar),
		"eot_enable 1",
	)
	if !c.ar488 {
		cmds = append(cmds, "savecfg 1")
	}
	if c.clear {
		cmds = append(cmds, "clr")
	}
	for _, cmd := range cmds {
		if err := c.CommandController(cmd); err != nil {
			return nil, err
		}
	}

	return &c, nil
}

// WithPrologix addresses the instrument through a Prologix GPIB controller at
// the given primary address.
func WithPrologix(addr int) ControllerOption {
	return func(c *Controller) {
		c.prologix = true
		c.primaryAddr = addr
	}
}

// WithSecondaryAddress sets a secondary address, which must be in the range of
// 96 and 126, inclusive.
func WithSecondaryAddress(addr int) ControllerOption {
	return func(c *Controller) {
		c.hasSecondaryAddr = true
		c.secondaryAddr = addr
	}
}

// WithDebug causes commands and responses to be logged at debug level.
func WithDebug() ControllerOption { return func(c *Controller) { c.debug = true } }

// WithAR488 slightly alters the init commands, for compatiblity with the
// Arduino-based AR488. Specifically, we do not emit 'verbose 0', nor do
// we toggle savecfg.
func WithAR488() ControllerOption { return func(c *Controller) { c.ar488 = true } }

// WithClear sends a device clear once the session is configured.
func WithClear() ControllerOption { return func(c *Controller) { c.clear = true } }

// WithWriteDelay enforces a minimum delay between consecutive writes. Some
// older instruments drop commands that arrive back to back.
func WithWriteDelay(d time.Duration) ControllerOption {
	return func(c *Controller) { c.writeDelay = d }
}

// WithTimeout sets the read deadline applied to every response when the
// transport supports deadlines.
func WithTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) { c.timeout = d }
}

// WithGPIBTermination selects the terminator the Prologix appends to
// instrument commands.
func WithGPIBTermination(term GpibTerm) ControllerOption {
	return func(c *Controller) { c.gpibTerm = term }
}

// WithLogger sets the logger used for debug traffic.
func WithLogger(logger zerolog.Logger) ControllerOption {
	return func(c *Controller) { c.logger = logger }
}

// Prologix reports whether the session goes through a Prologix controller.
func (c *Controller) Prologix() bool { return c.prologix }

// Write writes raw data to the instrument.
func (c *Controller) Write(p []byte) (n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(p)
}

// Read reads raw data from the instrument into the given byte slice.
func (c *Controller) Read(p []byte) (n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requestRead(); err != nil {
		return 0, err
	}
	c.setDeadline()
	n, err = c.br.Read(p)
	return n, classify(err)
}

// WriteString writes a string to the instrument, replacing surrounding
// whitespace with the USB terminator.
func (c *Controller) WriteString(s string) (n int, err error) {
	cmd := fmt.Sprintf("%s%c", strings.TrimSpace(s), c.usbTerm)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write([]byte(cmd))
}

// Command formats according to a format specifier if provided and sends a
// SCPI command to the instrument. All leading and trailing whitespace is
// removed before appending the USB terminator. If the command is a query its
// answer must be collected with ReadLine or ReadBytes.
func (c *Controller) Command(format string, a ...any) error {
	cmd := format
	if a != nil {
		cmd = fmt.Sprintf(format, a...)
	}
	cmd = strings.TrimSpace(cmd)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.debug {
		c.logger.Debug().Str("cmd", cmd).Msg("command")
	}
	if _, err := c.write([]byte(fmt.Sprintf("%s%c", cmd, c.usbTerm))); err != nil {
		return fmt.Errorf("write %q: %w", cmd, err)
	}
	c.awaiting = strings.Contains(cmd, "?")
	return nil
}

// Query sends cmd and returns the response line without its terminator. The
// cmd string does not need to include a new line character. When the session
// goes through a Prologix controller with read-after-write disabled, the
// controller is told to read until EOI.
func (c *Controller) Query(cmd string) (string, error) {
	cmd = strings.TrimSpace(cmd)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.debug {
		c.logger.Debug().Str("query", cmd).Msg("query")
	}
	if _, err := c.write([]byte(fmt.Sprintf("%s%c", cmd, c.usbTerm))); err != nil {
		return "", fmt.Errorf("error writing command: %w", err)
	}
	c.awaiting = true
	s, err := c.readLine()
	if err != nil {
		return "", fmt.Errorf("query %q: %w", cmd, err)
	}
	if c.debug {
		c.logger.Debug().Str("query", cmd).Str("response", s).Msg("response")
	}
	return s, nil
}

// ReadLine reads one terminated response, for example the answer to a query
// sent with Command.
func (c *Controller) ReadLine() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readLine()
}

// ReadBytes reads exactly n bytes of a binary response.
func (c *Controller) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("invalid byte count %d", n)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requestRead(); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	c.setDeadline()
	if _, err := io.ReadFull(c.br, buf); err != nil {
		return nil, fmt.Errorf("read %d bytes: %w", n, classify(err))
	}
	return buf, nil
}

// QueryController sends the given command to the Prologix controller and
// returns its response as a string.
func (c *Controller) QueryController(cmd string) (string, error) {
	err := c.CommandController(cmd)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setDeadline()
	s, err := c.br.ReadString(c.eotChar)
	if err != nil && !(errors.Is(err, io.EOF) && s != "") {
		return "", classify(err)
	}
	return strings.TrimRight(s, "\r\n"), nil
}

// CommandController sends the given command to the Prologix controller. To
// indicate this is a command for the Prologix controller, thereby not
// transmitting to the instrument over GPIB, two plus signs `++` are prepended.
func (c *Controller) CommandController(cmd string) error {
	cmd = fmt.Sprintf("++%s%c", strings.ToLower(strings.TrimSpace(cmd)), c.usbTerm)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.debug {
		c.logger.Debug().Str("cmd", strings.TrimSpace(cmd)).Msg("controller command")
	}
	_, err := c.write([]byte(cmd))
	return err
}

// FrontPanel returns the instrument to local (front panel) control. It is a
// no-op on raw sessions.
func (c *Controller) FrontPanel() error {
	if !c.prologix {
		return nil
	}
	return c.CommandController("loc")
}

// Close releases the front panel and closes the transport when it is closable.
func (c *Controller) Close() error {
	var err error
	if ferr := c.FrontPanel(); ferr != nil {
		err = ferr
	}
	if closer, ok := c.rw.(io.Closer); ok {
		if cerr := closer.Close(); cerr != nil {
			err = cerr
		}
	}
	return err
}

func (c *Controller) write(p []byte) (int, error) {
	if c.writeDelay > 0 && !c.lastWrite.IsZero() {
		if wait := c.writeDelay - time.Since(c.lastWrite); wait > 0 {
			time.Sleep(wait)
		}
	}
	n, err := c.rw.Write(p)
	c.lastWrite = time.Now()
	return n, err
}

// requestRead asks the Prologix controller to address the instrument to talk
// when a query answer is pending.
func (c *Controller) requestRead() error {
	if !c.prologix || c.auto || !c.awaiting {
		return nil
	}
	c.awaiting = false
	if _, err := c.write([]byte(fmt.Sprintf("++read eoi%c", c.usbTerm))); err != nil {
		return fmt.Errorf("error sending `++read eoi` command: %w", err)
	}
	return nil
}

func (c *Controller) readLine() (string, error) {
	if err := c.requestRead(); err != nil {
		return "", err
	}
	c.awaiting = false
	c.setDeadline()
	s, err := c.br.ReadString(c.eotChar)
	if err != nil {
		if errors.Is(err, io.EOF) && s != "" {
			c.logger.Debug().Msg("found EOF")
			return strings.TrimRight(s, "\r\n"), nil
		}
		return "", classify(err)
	}
	return strings.TrimRight(s, "\r\n"), nil
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

func (c *Controller) setDeadline() {
	if c.timeout <= 0 {
		return
	}
	if d, ok := c.rw.(deadliner); ok {
		if err := d.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			c.logger.Warn().Err(err).Msg("set read deadline")
		}
	}
}

func (c *Controller) readTimeoutMillis() int {
	// Prologix accepts 1-3000 ms per character.
	ms := int(c.timeout / time.Millisecond)
	switch {
	case ms <= 0:
		return 500
	case ms > 3000:
		return 3000
	}
	return ms
}

// classify maps transport deadline errors onto ErrTimeout.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

// GpibTerm provides the type for the available GPIB terminators.
type GpibTerm int

// Available GPIB terminators for the Prologix Controller.
const (
	AppendCRLF GpibTerm = iota
	AppendCR
	AppendLF
	AppendNothing
)

var gpibTermDesc = map[GpibTerm]string{
	AppendCRLF:    `Append CR+LF (\r\n) to instrument commands`,
	AppendCR:      `Append CR (\r) to instrument commands`,
	AppendLF:      `Append LF (\n) to instrument commands`,
	AppendNothing: `Do not append anything to instrument commands`,
}

func (term GpibTerm) String() string {
	return gpibTermDesc[term]
}

// isPrimaryAddressValid checks that the primary GPIB address is between 0 and
// 30, inclusive.
func isPrimaryAddressValid(addr int) bool {
	return addr >= 0 && addr <= 30
}

// isSecondaryAddressValid checks that the secondary GPIB address is between 96
// and 126, inclusive.
func isSecondaryAddressValid(addr int) bool {
	return addr >= 96 && addr <= 126
}
