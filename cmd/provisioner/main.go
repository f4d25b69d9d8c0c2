package main

import (
	"context"

	"github.com/alecthomas/kong"

	"github.com/wolfeidau/fleetprov/cmd/provisioner/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug         bool `help:"Enable debug mode."`
		Version       kong.VersionFlag
		Serve         commands.ServeCmd         `cmd:"" help:"Start the provisioning service"`
		Registrations commands.RegistrationsCmd `cmd:"" help:"Inspect and remove device registrations"`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("provisioner"),
		kong.Description("Development device provisioning service."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
