package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfeidau/fleetprov/internal/credentials"
	"github.com/wolfeidau/fleetprov/internal/logger"
)

// CredentialsCmd groups saved credential commands
type CredentialsCmd struct {
	Show   CredentialsShowCmd   `cmd:"" help:"Show saved credentials"`
	Delete CredentialsDeleteCmd `cmd:"" help:"Delete saved credentials"`
}

// CredentialsShowCmd prints the saved assignment
type CredentialsShowCmd struct {
	Dir string `help:"credentials directory (default: ~/.fleetprov/credentials)" default:""`
}

func (cmd *CredentialsShowCmd) Run(ctx context.Context, globals *Globals) error {
	logger.Setup(globals.Debug)

	store, err := credentials.NewStore(cmd.Dir)
	if err != nil {
		return err
	}

	saved, err := store.Load()
	if errors.Is(err, credentials.ErrNotFound) {
		fmt.Println("No saved credentials.")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Printf("Directory:     %s\n", store.Dir())
	fmt.Printf("Device name:   %s\n", saved.DeviceName)
	fmt.Printf("Saved at:      %s\n", saved.SavedAt.Format("2006-01-02 15:04:05 MST"))
	params, err := saved.ConnectionParameters()
	if err != nil {
		return err
	}
	printConnectionParameters(params, saved.Fingerprint)

	return nil
}

// CredentialsDeleteCmd removes saved credentials so the next enroll issues
// a new certificate
type CredentialsDeleteCmd struct {
	Dir string `help:"credentials directory (default: ~/.fleetprov/credentials)" default:""`
}

func (cmd *CredentialsDeleteCmd) Run(ctx context.Context, globals *Globals) error {
	logger.Setup(globals.Debug)

	store, err := credentials.NewStore(cmd.Dir)
	if err != nil {
		return err
	}

	return store.Delete()
}
