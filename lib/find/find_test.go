package find

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDevice struct {
	tty, bus            string
	vid, pid, mfg, prod string
	serial              string
}

// fakeSysfs builds class/tty symlinks into a devices tree laid out like a
// real usb-serial adapter, plus one platform serial port.
func fakeSysfs(t *testing.T, devs ...fakeDevice) string {
	t.Helper()
	root := t.TempDir()
	class := filepath.Join(root, "class", "tty")
	require.NoError(t, os.MkdirAll(class, 0o755))

	for _, d := range devs {
		usbDev := filepath.Join(root, "devices", "pci0000:00", "usb1", d.bus)
		iface := filepath.Join(usbDev, d.bus+":1.0")
		ttyDir := filepath.Join(iface, "tty", d.tty)
		require.NoError(t, os.MkdirAll(ttyDir, 0o755))
		require.NoError(t, os.Symlink(filepath.Join("..", ".."), filepath.Join(ttyDir, "device")))
		for name, v := range map[string]string{
			"idVendor": d.vid, "idProduct": d.pid, "manufacturer": d.mfg, "product": d.prod, "serial": d.serial,
		} {
			require.NoError(t, os.WriteFile(filepath.Join(usbDev, name), []byte(v+"\n"), 0o644))
		}
		require.NoError(t, os.Symlink(ttyDir, filepath.Join(class, d.tty)))
	}

	platform := filepath.Join(root, "devices", "platform", "serial8250", "tty", "ttyS0")
	require.NoError(t, os.MkdirAll(platform, 0o755))
	require.NoError(t, os.Symlink(platform, filepath.Join(class, "ttyS0")))
	return root
}

var (
	prologix = fakeDevice{tty: "ttyUSB0", bus: "1-2", vid: VendorFTDI, pid: "6001", mfg: "Prologix", prod: "Prologix GPIB-USB Controller", serial: "PX123"}
	keysight = fakeDevice{tty: "ttyACM0", bus: "1-3", vid: VendorKeysight, pid: "1796", mfg: "Keysight Technologies", prod: "DSO-X 3034T", serial: "MY5"}
)

func TestAll(t *testing.T) {
	f := New(WithRoot(fakeSysfs(t, prologix, keysight)))
	ttys, err := f.All()
	require.NoError(t, err)
	require.Len(t, ttys, 2)

	byDev := map[string]Usbtty{}
	for _, tt := range ttys {
		byDev[tt.Dev] = tt
	}
	px := byDev["ttyUSB0"]
	assert.Equal(t, VendorFTDI, px.IDv)
	assert.Equal(t, "6001", px.IDp)
	assert.Equal(t, "Prologix", px.Mfg)
	assert.Equal(t, "PX123", px.Serial)
	assert.Equal(t, "/dev/ttyUSB0", px.DevPath())
	assert.Equal(t, VendorKeysight, byDev["ttyACM0"].IDv)
}

func TestFind(t *testing.T) {
	f := New(WithRoot(fakeSysfs(t, prologix, keysight)))

	dev, err := f.Find(GPIBAdapterFilter)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", dev)

	dev, err = f.Find(KeysightFilter)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", dev)

	dev, err = f.Find(SerialFilter("MY5"))
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", dev)

	_, err = f.Find(ArduinoFilter)
	require.ErrorIs(t, err, ErrNoMatch)

	_, err = f.Find(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple ttys")
}

func TestFindSingleWithoutFilter(t *testing.T) {
	dev, err := New(WithRoot(fakeSysfs(t, keysight))).Find(nil)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", dev)

	_, err = New(WithRoot(fakeSysfs(t))).Find(nil)
	require.ErrorIs(t, err, ErrNoMatch)
}

func TestMissingRoot(t *testing.T) {
	_, err := New(WithRoot(filepath.Join(t.TempDir(), "nope"))).All()
	require.Error(t, err)
}
