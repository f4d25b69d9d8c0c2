package main

import (
	"context"

	"github.com/alecthomas/kong"

	"github.com/wolfeidau/fleetprov/cmd/devicectl/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		CA          commands.CACmd          `cmd:"" name:"ca" help:"Manage the signing authority"`
		Issue       commands.IssueCmd       `cmd:"" help:"Issue a device certificate"`
		Enroll      commands.EnrollCmd      `cmd:"" help:"Enroll a device with the provisioning service"`
		Verify      commands.VerifyCmd      `cmd:"" help:"Verify a device certificate against an authority"`
		Credentials commands.CredentialsCmd `cmd:"" help:"Manage saved device credentials"`
		Network     commands.NetworkCmd     `cmd:"" help:"Validate device network settings"`
		Debug       bool                    `help:"Enable debug mode."`
		Version     kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("devicectl"),
		kong.Description("Issue device certificates and enroll devices into a fleet."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
