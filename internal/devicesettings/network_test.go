package devicesettings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/fleetprov/internal/fault"
)

func TestNewNetworkSettings(t *testing.T) {
	settings, err := NewNetworkSettings("", "10.0.0.1", "255.255.255.0", "10.0.0.254", "10.0.0.0")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", settings.IPAddress)
	assert.Equal(t, "255.255.255.0", settings.SubnetMask)
	assert.Equal(t, "10.0.0.254", settings.Gateway)
	assert.Equal(t, "10.0.0.0", settings.DNS)
	assert.Empty(t, settings.MACAddress)
}

func TestNewNetworkSettingsNormalises(t *testing.T) {
	settings, err := NewNetworkSettings("00-1A-2B-3C-4D-5E", "10.0.0.1", "10.0.0.1", "2001:DB8:0:0::1", "::FFFF:10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "00:1a:2b:3c:4d:5e", settings.MACAddress)
	assert.Equal(t, "2001:db8::1", settings.Gateway)
	assert.Equal(t, "::ffff:10.0.0.1", settings.DNS)
}

func TestNewNetworkSettingsRejectsInvalid(t *testing.T) {
	tests := []struct {
		name                        string
		mac, ip, mask, gateway, dns string
	}{
		{"dns octet out of range", "", "10.0.0.1", "10.0.0.1", "10.0.0.1", "10.0.0.258"},
		{"empty ip", "", "", "10.0.0.1", "10.0.0.1", "10.0.0.1"},
		{"hostname gateway", "", "10.0.0.1", "10.0.0.1", "router.local", "10.0.0.1"},
		{"short mask", "", "10.0.0.1", "255.255.0", "10.0.0.1", "10.0.0.1"},
		{"bad mac", "not-a-mac", "10.0.0.1", "10.0.0.1", "10.0.0.1", "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings, err := NewNetworkSettings(tt.mac, tt.ip, tt.mask, tt.gateway, tt.dns)
			require.Nil(t, settings)
			require.ErrorIs(t, err, fault.ErrValidation)
		})
	}
}
