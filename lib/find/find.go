// Package find locates USB serial adapters and USB instruments by walking
// the Linux sysfs tty classes.
package find

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultRoot is the sysfs mount point.
const DefaultRoot = "/sys"

// USB vendor ids of interest.
const (
	VendorFTDI     = "0403"
	VendorKeysight = "0957"
)

// ErrNoMatch is returned when no tty passes the filter.
var ErrNoMatch = errors.New("no matching ttys found")

// Filter selects ttys.
type Filter func(*Usbtty) bool

// PrologixFilter matches Prologix GPIB-USB controllers, which enumerate as
// FTDI serial converters carrying the Prologix name.
func PrologixFilter(ut *Usbtty) bool {
	return strings.Contains(ut.Mfg, "Prologix") || strings.Contains(ut.Prod, "Prologix") ||
		(ut.IDv == VendorFTDI && strings.Contains(strings.ToUpper(ut.Prod), "GPIB"))
}

// ArduinoFilter matches Arduino boards such as the AR488 GPIB adapter.
func ArduinoFilter(ut *Usbtty) bool {
	return strings.Contains(ut.Mfg, "Arduino")
}

// KeysightFilter matches Keysight/Agilent USB instruments.
func KeysightFilter(ut *Usbtty) bool {
	return ut.IDv == VendorKeysight
}

// SerialFilter matches a device by its USB serial number.
func SerialFilter(s string) Filter {
	return func(ut *Usbtty) bool { return ut.Serial == s }
}

// AnyOf matches a tty accepted by any of filters.
func AnyOf(filters ...Filter) Filter {
	return func(ut *Usbtty) bool {
		for _, f := range filters {
			if f(ut) {
				return true
			}
		}
		return false
	}
}

// GPIBAdapterFilter matches the GPIB adapters a session can be opened on.
var GPIBAdapterFilter = AnyOf(PrologixFilter, ArduinoFilter)

// Finder walks one sysfs tree.
type Finder struct {
	root   string
	logger zerolog.Logger
}

// Option configures a Finder.
type Option func(*Finder)

// WithRoot points the finder at another sysfs tree.
func WithRoot(root string) Option { return func(f *Finder) { f.root = root } }

// WithLogger sets the logger used for unreadable entries.
func WithLogger(l zerolog.Logger) Option { return func(f *Finder) { f.logger = l } }

// New returns a finder on DefaultRoot.
func New(opts ...Option) *Finder {
	f := &Finder{root: DefaultRoot, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Find searches for a usb serial device and returns its /dev path. If filter
// is not nil, it is used to narrow choices down and the first device for
// which it returns true is chosen. Without a filter there must be exactly
// one usb tty.
func (f *Finder) Find(filter Filter) (string, error) {
	ttys, err := f.All()
	if err != nil {
		return "", err
	}
	if filter != nil {
		for i := range ttys {
			if filter(&ttys[i]) {
				return ttys[i].DevPath(), nil
			}
		}
		return "", ErrNoMatch
	}

	switch len(ttys) {
	case 0:
		return "", ErrNoMatch
	case 1:
		return ttys[0].DevPath(), nil
	}
	return "", fmt.Errorf("multiple ttys:\n%s", ttys)
}

// Usbtty describes a tty backed by a usb device.
type Usbtty struct {
	Dev, Path string
	IDp, IDv  string
	Mfg, Prod string
	Serial    string
}

// DevPath returns the device node of the tty.
func (u Usbtty) DevPath() string { return filepath.Join("/dev", u.Dev) }

func (u Usbtty) String() string {
	return fmt.Sprintf("dev %s path %s pid/vid %s/%s mfg/prod %s/%s serial %s", u.Dev, u.Path, u.IDp, u.IDv, u.Mfg, u.Prod, u.Serial)
}

// Usbttys is a list of ttys.
type Usbttys []Usbtty

func (uts Usbttys) String() string {
	s := make([]string, 0, len(uts))
	for _, ut := range uts {
		s = append(s, ut.String())
	}
	return strings.Join(s, "\n")
}

// All lists the ttys on usb devices, by looking at class/tty and following
// each symlink into the devices tree.
func (f *Finder) All() (Usbttys, error) {
	root, err := filepath.EvalSymlinks(f.root)
	if err != nil {
		return nil, err
	}
	sct := filepath.Join(root, "class", "tty")
	entries, err := os.ReadDir(sct)
	if err != nil {
		return nil, err
	}
	var devs Usbttys
	for _, e := range entries {
		if e.Type()&fs.ModeSymlink == 0 {
			continue
		}
		// class/tty/ttyACM0 ->
		// devices/pci0000:00/0000:00:01.3/0000:02:00.0/usb1/1-10/1-10:1.0/tty/ttyACM0
		path := filepath.Join(sct, e.Name())
		abs, err := filepath.EvalSymlinks(path)
		if err != nil {
			f.logger.Warn().Err(err).Str("path", path).Msg("skipping unresolvable tty")
			continue
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil || !strings.Contains(rel, "usb") {
			continue
		}
		// device points at the interface, one level below the usb device
		dev, err := filepath.EvalSymlinks(filepath.Join(abs, "device"))
		if err != nil {
			f.logger.Warn().Err(err).Str("path", abs).Msg("usb tty lacking device link")
			continue
		}
		ut, err := readUsbInfo(filepath.Dir(dev))
		if err != nil {
			f.logger.Warn().Err(err).Str("path", abs).Msg("incomplete usb info")
		}
		ut.Dev, ut.Path = e.Name(), abs
		devs = append(devs, ut)
	}
	return devs, nil
}

// readUsbInfo reads product and vendor ids, and mfg/product/serial strings.
//
// It returns the last error encountered, ignoring os.ErrNotExist. Errors do
// not prevent reading additional files or returning data collected.
func readUsbInfo(dev string) (Usbtty, error) {
	var (
		ut  Usbtty
		err error
	)
	for name, dst := range map[string]*string{
		"idProduct":    &ut.IDp,
		"idVendor":     &ut.IDv,
		"manufacturer": &ut.Mfg,
		"product":      &ut.Prod,
		"serial":       &ut.Serial,
	} {
		b, rerr := os.ReadFile(filepath.Join(dev, name))
		if rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			err = rerr
		}
		*dst = strings.TrimSpace(string(b))
	}
	return ut, err
}
