package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"connectrpc.com/connect"
	"connectrpc.com/otelconnect"
	"github.com/google/uuid"

	"github.com/wolfeidau/fleetprov/internal/client"
	"github.com/wolfeidau/fleetprov/internal/credentials"
	"github.com/wolfeidau/fleetprov/internal/enrollment"
	"github.com/wolfeidau/fleetprov/internal/logger"
	"github.com/wolfeidau/fleetprov/internal/pki"
	"github.com/wolfeidau/fleetprov/internal/provisioning"
	"github.com/wolfeidau/fleetprov/internal/telemetry"
)

// EnrollCmd issues a device certificate, if needed, and enrolls the device
type EnrollCmd struct {
	Authority AuthorityFlags `embed:"" prefix:"authority-"`

	ServerURL string        `help:"provisioning service URL" default:"https://localhost:8443" env:"FLEET_PROVISIONING_URL"`
	ServerCA  string        `help:"CA certificate trusted for the provisioning service (default: system roots)" default:"" env:"FLEET_PROVISIONING_CA"`
	IDScope   string        `help:"id scope to enroll into" required:"" env:"FLEET_ID_SCOPE"`
	Timeout   time.Duration `help:"timeout of a single registration" default:"30s"`

	DeviceID       string `help:"device id for a new certificate (default: random UUID)" default:""`
	DeviceName     string `help:"device name saved with the credentials" default:"" env:"FLEET_DEVICE_NAME"`
	KeySize        int    `help:"device RSA key size in bits" default:"4096"`
	Persist        bool   `help:"reuse saved credentials and save new ones" default:"false" env:"FLEET_PERSIST_CREDENTIALS"`
	CredentialsDir string `help:"credentials directory (default: ~/.fleetprov/credentials)" default:""`

	MaxTries uint          `help:"maximum enrollment attempts" default:"5"`
	Backoff  time.Duration `help:"initial retry interval" default:"1s"`

	Tracing bool `help:"enable tracing" default:"false" env:"FLEET_TRACING"`
}

// Run executes the enroll command
func (cmd *EnrollCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)

	interceptors := []connect.Interceptor{logger.NewConnectRequests(log)}
	if cmd.Tracing {
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{ServiceName: "fleetprov-devicectl", Version: globals.Version, SampleRatio: 1})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
		otelInterceptor, err := otelconnect.NewInterceptor()
		if err != nil {
			return fmt.Errorf("failed to create OTEL interceptor: %w", err)
		}
		interceptors = append(interceptors, otelInterceptor)
	}

	var store *credentials.Store
	if cmd.Persist {
		var err error
		store, err = credentials.NewStore(cmd.CredentialsDir)
		if err != nil {
			return err
		}

		saved, err := store.Load()
		switch {
		case err == nil:
			params, err := saved.ConnectionParameters()
			if err != nil {
				return err
			}
			log.Info().Str("deviceID", saved.DeviceID).Msg("Using saved credentials")
			printConnectionParameters(params, saved.Fingerprint)
			return nil
		case errors.Is(err, credentials.ErrNotFound):
			log.Info().Msg("No saved credentials, enrolling")
		case errors.Is(err, credentials.ErrInvalidBundle):
			log.Warn().Err(err).Msg("Saved credentials are unusable, enrolling again")
		default:
			return err
		}
	}

	authority, err := cmd.Authority.Load(ctx)
	if err != nil {
		return err
	}

	deviceID := cmd.DeviceID
	if deviceID == "" {
		deviceID = uuid.NewString()
	}

	issued, err := authority.IssueLeafCertificate(ctx, pki.DeviceCertificateRequest{
		DeviceID: deviceID,
		KeySize:  cmd.KeySize,
	})
	if err != nil {
		return err
	}

	rootCAs, err := loadCertPool(cmd.ServerCA)
	if err != nil {
		return err
	}

	provClient, err := provisioning.NewClient(client.Config{
		ServerURL: cmd.ServerURL,
		Timeout:   cmd.Timeout,
		RootCAs:   rootCAs,
		Debug:     globals.Debug,
	}, interceptors...)
	if err != nil {
		return err
	}

	enrollClient, err := enrollment.NewClient(provClient, cmd.IDScope)
	if err != nil {
		return err
	}

	params, err := enrollWithRetry(ctx, enrollClient, issued, retryPolicy{
		MaxTries:        cmd.MaxTries,
		InitialInterval: cmd.Backoff,
	})
	if err != nil {
		return fmt.Errorf("enrollment of %s failed: %w", deviceID, err)
	}

	if store != nil {
		if _, err := store.Save(params, issued, cmd.DeviceName); err != nil {
			return err
		}
	}

	printConnectionParameters(params, issued.Fingerprint())

	return nil
}

func printConnectionParameters(params *enrollment.ConnectionParameters, fingerprint string) {
	fmt.Printf("Assigned hub:  %s\n", params.AssignedHub)
	fmt.Printf("Device id:     %s\n", params.Auth.DeviceID())
	fmt.Printf("Auth:          %s\n", params.Auth.Kind)
	if fingerprint != "" {
		fmt.Printf("Fingerprint:   %s\n", fingerprint)
	}
}
