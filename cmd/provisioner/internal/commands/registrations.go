package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/wolfeidau/fleetprov/internal/logger"
	"github.com/wolfeidau/fleetprov/internal/store"
)

// RegistrationsCmd groups registration management commands
type RegistrationsCmd struct {
	List   RegistrationsListCmd   `cmd:"" help:"List device registrations"`
	Get    RegistrationsGetCmd    `cmd:"" help:"Show a registration by id or certificate fingerprint"`
	Delete RegistrationsDeleteCmd `cmd:"" help:"Delete a registration so the device is allocated again"`
}

type RegistrationsListCmd struct {
	Hub   string     `help:"only list registrations assigned to this hub" default:""`
	Limit int        `help:"maximum number of registrations (0 = all)" default:"0"`
	JSON  bool       `help:"print registrations as JSON" default:"false"`
	Store StoreFlags `embed:""`
}

func (c *RegistrationsListCmd) Run(ctx context.Context, globals *Globals) error {
	logger.Setup(globals.Debug)

	registrations, closeStore, err := c.Store.Open(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	regs, err := registrations.List(ctx, store.ListRegistrationsOptions{AssignedHub: c.Hub, Limit: c.Limit})
	if err != nil {
		return err
	}

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(regs)
	}

	return printRegistrations(os.Stdout, regs)
}

func printRegistrations(w io.Writer, regs []*store.Registration) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "REGISTRATION ID\tHUB\tPROOF\tENROLLMENT\tATTEMPTS\tUPDATED")
	for _, reg := range regs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			reg.RegistrationID,
			reg.AssignedHub,
			reg.ProofKind,
			reg.EnrollmentName,
			reg.Attempts,
			reg.UpdatedAt.Format("2006-01-02 15:04:05"),
		)
	}
	return tw.Flush()
}

type RegistrationsGetCmd struct {
	RegistrationID string     `arg:"" optional:"" help:"registration id to show"`
	Fingerprint    string     `help:"base58 fingerprint of the device certificate"`
	Store          StoreFlags `embed:""`
}

func (c *RegistrationsGetCmd) Run(ctx context.Context, globals *Globals) error {
	logger.Setup(globals.Debug)

	registrations, closeStore, err := c.Store.Open(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	reg, err := findRegistration(ctx, registrations, c.RegistrationID, c.Fingerprint)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(reg)
}

func findRegistration(ctx context.Context, registrations store.RegistrationStore, registrationID, fingerprint string) (*store.Registration, error) {
	switch {
	case registrationID != "" && fingerprint != "":
		return nil, fmt.Errorf("specify a registration id or --fingerprint, not both")
	case fingerprint != "":
		reg, err := registrations.GetByFingerprint(ctx, fingerprint)
		if err != nil {
			return nil, fmt.Errorf("failed to find registration for fingerprint %q: %w", fingerprint, err)
		}
		return reg, nil
	case registrationID != "":
		reg, err := registrations.Get(ctx, registrationID)
		if err != nil {
			return nil, fmt.Errorf("failed to find registration %q: %w", registrationID, err)
		}
		return reg, nil
	default:
		return nil, fmt.Errorf("a registration id or --fingerprint is required")
	}
}

type RegistrationsDeleteCmd struct {
	RegistrationID string     `arg:"" help:"registration id to delete"`
	Store          StoreFlags `embed:""`
}

func (c *RegistrationsDeleteCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)

	registrations, closeStore, err := c.Store.Open(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := registrations.Delete(ctx, c.RegistrationID); err != nil {
		return fmt.Errorf("failed to delete registration %q: %w", c.RegistrationID, err)
	}

	log.Info().Str("registration_id", c.RegistrationID).Msg("Deleted registration")

	return nil
}
