// Package connutil turns an instrument address into an open session.
//
// Addresses take two forms:
//
//	tcp://192.168.1.20:5025            raw SCPI socket
//	gpib:///dev/ttyUSB0?pad=7&sad=96   Prologix GPIB-USB controller
//
// gpib://auto?pad=7 locates the adapter through the sysfs finder.
package connutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gotmc/scopeseq"
	"github.com/gotmc/scopeseq/lib/config"
	"github.com/gotmc/scopeseq/lib/find"
	"github.com/rs/zerolog"
	"go.bug.st/serial"
	"go.uber.org/multierr"
)

const (
	// DefaultPort is the SCPI raw socket port.
	DefaultPort = "5025"
	// BaudRate of the Prologix virtual COM port.
	BaudRate = 115200
	// AutoDevice asks for the adapter to be located.
	AutoDevice = "auto"
)

// Scheme is the transport of an address.
type Scheme string

// Supported schemes.
const (
	TCP  Scheme = "tcp"
	GPIB Scheme = "gpib"
)

// Address is a parsed instrument address.
type Address struct {
	Scheme Scheme
	// Host is host:port for TCP.
	Host string
	// Device is the serial port for GPIB, or AutoDevice.
	Device string
	PAD    int
	SAD    int
	HasSAD bool
	AR488  bool
}

func (a Address) String() string {
	if a.Scheme == TCP {
		return "tcp://" + a.Host
	}
	q := url.Values{}
	q.Set("pad", strconv.Itoa(a.PAD))
	if a.HasSAD {
		q.Set("sad", strconv.Itoa(a.SAD))
	}
	if a.AR488 {
		q.Set("ar488", "1")
	}
	dev := a.Device
	if dev != AutoDevice {
		dev = "/" + strings.TrimPrefix(dev, "/")
	}
	return "gpib://" + dev + "?" + q.Encode()
}

// Parse parses an instrument address. A bare host or host:port is taken as
// a TCP address.
func Parse(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Address{}, errors.New("empty instrument address")
	}
	if !strings.Contains(s, "://") {
		s = "tcp://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return Address{}, fmt.Errorf("parse address %q: %w", s, err)
	}

	switch Scheme(strings.ToLower(u.Scheme)) {
	case TCP:
		host := u.Host
		if host == "" {
			return Address{}, fmt.Errorf("address %q has no host", s)
		}
		if u.Port() == "" {
			host = net.JoinHostPort(strings.Trim(host, "[]"), DefaultPort)
		}
		return Address{Scheme: TCP, Host: host}, nil
	case GPIB:
		a := Address{Scheme: GPIB, PAD: -1}
		switch {
		case u.Host == AutoDevice:
			a.Device = AutoDevice
		case u.Host == "" && u.Path != "":
			a.Device = u.Path
		default:
			return Address{}, fmt.Errorf("address %q: want gpib:///dev/<tty> or gpib://auto", s)
		}
		q := u.Query()
		if a.PAD, err = intParam(q, "pad"); err != nil {
			return Address{}, err
		}
		if a.PAD < 0 {
			return Address{}, fmt.Errorf("address %q: pad is required", s)
		}
		if q.Has("sad") {
			if a.SAD, err = intParam(q, "sad"); err != nil {
				return Address{}, err
			}
			a.HasSAD = true
		}
		a.AR488, _ = strconv.ParseBool(q.Get("ar488"))
		return a, nil
	}
	return Address{}, fmt.Errorf("address %q: unsupported scheme %q", s, u.Scheme)
}

func intParam(q url.Values, name string) (int, error) {
	v := q.Get(name)
	if v == "" {
		return -1, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q: %w", name, v, err)
	}
	return n, nil
}

// Conn opens sessions.
type Conn struct {
	Timeout    time.Duration
	WriteDelay time.Duration
	Debug      bool
	Clear      bool

	finder *find.Finder
	logger zerolog.Logger
	dialer net.Dialer
	open   func(dev string) (io.ReadWriteCloser, error)
}

// Option configures a Conn.
type Option func(*Conn)

// WithLogger sets the logger handed to the session.
func WithLogger(l zerolog.Logger) Option { return func(c *Conn) { c.logger = l } }

// WithFinder sets the finder used for gpib://auto.
func WithFinder(f *find.Finder) Option { return func(c *Conn) { c.finder = f } }

// WithSerialOpener replaces the serial port opener.
func WithSerialOpener(fn func(dev string) (io.ReadWriteCloser, error)) Option {
	return func(c *Conn) { c.open = fn }
}

// New returns a Conn using the session settings of cfg.
func New(cfg config.Config, opts ...Option) *Conn {
	c := &Conn{
		Timeout:    cfg.Timeout,
		WriteDelay: cfg.WriteDelay,
		Debug:      cfg.Debug,
		logger:     zerolog.Nop(),
	}
	c.open = c.openSerial
	for _, opt := range opts {
		opt(c)
	}
	if c.finder == nil {
		c.finder = find.New(find.WithLogger(c.logger))
	}
	return c
}

// Resolve replaces gpib://auto with the located adapter.
func (c *Conn) Resolve(a Address) (Address, error) {
	if a.Scheme != GPIB || a.Device != AutoDevice {
		return a, nil
	}
	dev, err := c.finder.Find(find.GPIBAdapterFilter)
	if err != nil {
		return a, fmt.Errorf("locate GPIB adapter: %w", err)
	}
	c.logger.Info().Str("device", dev).Msg("located GPIB adapter")
	a.Device = dev
	return a, nil
}

// Open parses address and opens a session on it. Closing the controller
// returns the instrument to local control and closes the transport.
func (c *Conn) Open(ctx context.Context, address string) (*scopeseq.Controller, error) {
	a, err := Parse(address)
	if err != nil {
		return nil, err
	}
	if a, err = c.Resolve(a); err != nil {
		return nil, err
	}

	opts := []scopeseq.ControllerOption{
		scopeseq.WithLogger(c.logger),
		scopeseq.WithTimeout(c.Timeout),
	}
	if c.Debug {
		opts = append(opts, scopeseq.WithDebug())
	}
	if c.Clear {
		opts = append(opts, scopeseq.WithClear())
	}
	if c.WriteDelay > 0 {
		opts = append(opts, scopeseq.WithWriteDelay(c.WriteDelay))
	}

	var rw io.ReadWriteCloser
	switch a.Scheme {
	case TCP:
		d := c.dialer
		d.Timeout = c.Timeout
		conn, err := d.DialContext(ctx, "tcp", a.Host)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", a.Host, err)
		}
		rw = conn
	case GPIB:
		port, err := c.open(a.Device)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", a.Device, err)
		}
		rw = port
		opts = append(opts, scopeseq.WithPrologix(a.PAD))
		if a.HasSAD {
			opts = append(opts, scopeseq.WithSecondaryAddress(a.SAD))
		}
		if a.AR488 {
			opts = append(opts, scopeseq.WithAR488())
		}
	}

	c.logger.Info().Str("address", a.String()).Msg("opening session")
	ctrl, err := scopeseq.NewController(rw, opts...)
	if err != nil {
		return nil, multierr.Append(err, rw.Close())
	}
	return ctrl, nil
}

func (c *Conn) openSerial(dev string) (io.ReadWriteCloser, error) {
	port, err := serial.Open(dev, &serial.Mode{BaudRate: BaudRate})
	if err != nil {
		return nil, err
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = serial.NoTimeout
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		return nil, multierr.Append(err, port.Close())
	}
	return &serialPort{Port: port}, nil
}

// serialPort reports a read timeout the way sockets do, so the session maps
// it onto scopeseq.ErrTimeout.
type serialPort struct {
	serial.Port
}

func (p *serialPort) Read(b []byte) (int, error) {
	n, err := p.Port.Read(b)
	if n == 0 && err == nil && len(b) > 0 {
		return 0, os.ErrDeadlineExceeded
	}
	return n, err
}

// Close discards unread input before closing the port.
func (p *serialPort) Close() error {
	return multierr.Append(p.Port.ResetInputBuffer(), p.Port.Close())
}
