package commands

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/wolfeidau/fleetprov/internal/devicesettings"
	"github.com/wolfeidau/fleetprov/internal/logger"
)

// NetworkCmd validates device network settings and prints them in canonical form
type NetworkCmd struct {
	MAC     string `help:"device MAC address" env:"FLEET_DEVICE_MAC" default:""`
	IP      string `help:"device IP address" env:"FLEET_DEVICE_IP" required:""`
	Mask    string `help:"subnet mask" env:"FLEET_DEVICE_SUBNET_MASK" required:""`
	Gateway string `help:"default gateway" env:"FLEET_DEVICE_GATEWAY" required:""`
	DNS     string `help:"DNS server" env:"FLEET_DEVICE_DNS" required:""`
}

func (cmd *NetworkCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)

	settings, err := devicesettings.NewNetworkSettings(cmd.MAC, cmd.IP, cmd.Mask, cmd.Gateway, cmd.DNS)
	if err != nil {
		return err
	}

	log.Debug().Str("ip", settings.IPAddress).Msg("Validated network settings")

	return printNetworkSettings(os.Stdout, settings)
}

func printNetworkSettings(w io.Writer, settings *devicesettings.NetworkSettings) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(settings)
}
