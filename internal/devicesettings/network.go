// Package devicesettings describes device configuration reported alongside
// enrollment, such as the network settings of a camera.
package devicesettings

import (
	"net"
	"net/netip"

	"github.com/wolfeidau/fleetprov/internal/fault"
)

// NetworkSettings holds validated network addresses in canonical text form.
type NetworkSettings struct {
	MACAddress string `json:"mac_address,omitempty"`
	IPAddress  string `json:"ip_address"`
	SubnetMask string `json:"subnet_mask"`
	Gateway    string `json:"gateway"`
	DNS        string `json:"dns"`
}

// NewNetworkSettings validates every address. The MAC address may be empty.
func NewNetworkSettings(mac, ip, mask, gateway, dns string) (*NetworkSettings, error) {
	const op = "devicesettings.NewNetworkSettings"

	settings := &NetworkSettings{}

	if mac != "" {
		hw, err := net.ParseMAC(mac)
		if err != nil {
			return nil, fault.Validation(op, "mac address %q: %w", mac, err)
		}
		settings.MACAddress = hw.String()
	}

	fields := []struct {
		name  string
		value string
		dst   *string
	}{
		{"ip address", ip, &settings.IPAddress},
		{"subnet mask", mask, &settings.SubnetMask},
		{"gateway", gateway, &settings.Gateway},
		{"dns", dns, &settings.DNS},
	}
	for _, f := range fields {
		addr, err := netip.ParseAddr(f.value)
		if err != nil {
			return nil, fault.Validation(op, "%s %q is not a valid IP address", f.name, f.value)
		}
		*f.dst = addr.String()
	}

	return settings, nil
}
