package commands

import (
	"context"
	"fmt"

	"github.com/wolfeidau/fleetprov/internal/logger"
	"github.com/wolfeidau/fleetprov/internal/pki"
)

// VerifyCmd checks a device certificate chains to an authority
type VerifyCmd struct {
	Authority   string `arg:"" help:"authority certificate PEM file" type:"existingfile"`
	Certificate string `arg:"" help:"device certificate PEM file" type:"existingfile"`
}

// Run executes the verify command
func (cmd *VerifyCmd) Run(ctx context.Context, globals *Globals) error {
	logger.Setup(globals.Debug)

	authority, err := loadCertificate(cmd.Authority)
	if err != nil {
		return fmt.Errorf("failed to load authority: %w", err)
	}

	leaf, err := loadCertificate(cmd.Certificate)
	if err != nil {
		return fmt.Errorf("failed to load certificate: %w", err)
	}

	if err := pki.CheckChain(authority, leaf); err != nil {
		fmt.Printf("FAIL  %s\n", pki.Describe(leaf))
		return err
	}

	fmt.Printf("OK    %s\n", pki.Describe(leaf))
	fmt.Printf("      issued by %s\n", pki.Describe(authority))

	return nil
}
