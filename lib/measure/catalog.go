package measure

import "strings"

// Kind is one entry of the measurement catalog.
type Kind struct {
	// Name is the label used in waveform configurations and spreadsheet
	// headers.
	Name string
	// Mnemonic is the :MEASure subsystem keyword.
	Mnemonic string
	// Dual measurements compare two channels.
	Dual bool
}

// Catalog lists the supported measurements in display order. Spreadsheet
// columns follow this order.
var Catalog = []Kind{
	{Name: "Vpp", Mnemonic: "VPP"},
	{Name: "Vmin", Mnemonic: "VMIN"},
	{Name: "Vmax", Mnemonic: "VMAX"},
	{Name: "Frequency", Mnemonic: "FREQuency"},
	{Name: "Period", Mnemonic: "PERiod"},
	{Name: "Pulse Width", Mnemonic: "PWIDth"},
	{Name: "Fall Time", Mnemonic: "FALLtime"},
	{Name: "Rise Time", Mnemonic: "RISetime"},
	{Name: "Duty Cycle", Mnemonic: "DUTYcycle"},
	{Name: "RMS Voltage", Mnemonic: "VRMS"},
	{Name: "Average Voltage", Mnemonic: "VAVerage"},
	{Name: "Amplitude", Mnemonic: "VAMPlitude"},
	{Name: "Overshoot", Mnemonic: "OVERshoot"},
	{Name: "Preshoot", Mnemonic: "PREShoot"},
	{Name: "Phase", Mnemonic: "PHASe", Dual: true},
	{Name: "Edge Count", Mnemonic: "NEDGes"},
	{Name: "Positive Edges", Mnemonic: "PEDGes"},
	{Name: "Negative Pulses", Mnemonic: "NPULses"},
	{Name: "Positive Pulses", Mnemonic: "PPULses"},
	{Name: "XMin", Mnemonic: "XMIN"},
	{Name: "XMax", Mnemonic: "XMAX"},
	{Name: "VTop", Mnemonic: "VTOP"},
	{Name: "VBase", Mnemonic: "VBASe"},
	{Name: "VRatio", Mnemonic: "VRATio"},
}

// Lookup finds a catalog entry by name, ignoring case and surrounding
// whitespace.
func Lookup(name string) (Kind, bool) {
	name = strings.TrimSpace(name)
	for _, k := range Catalog {
		if strings.EqualFold(k.Name, name) {
			return k, true
		}
	}
	return Kind{}, false
}

// Names returns the catalog names in order.
func Names() []string {
	names := make([]string, len(Catalog))
	for i, k := range Catalog {
		names[i] = k.Name
	}
	return names
}
