package commands

import (
	"context"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/fleetprov/internal/bootstrap"
	"github.com/wolfeidau/fleetprov/internal/logger"
	"github.com/wolfeidau/fleetprov/internal/pki"
	"github.com/wolfeidau/fleetprov/internal/secrets"
)

// CACmd groups authority management commands
type CACmd struct {
	Init CAInitCmd `cmd:"" help:"Create a self-signed signing authority"`
}

// CAInitCmd creates a development signing authority on disk
type CAInitCmd struct {
	CommonName string        `help:"authority common name" default:"Fleet Simulation Intermediate CA"`
	Name       string        `help:"file name of the authority" default:"IntermediateSimulationDPSCertificate" env:"FLEET_SIGNING_CERTIFICATE"`
	OutputDir  string        `help:"output directory for the authority" default:"./certs"`
	KeySize    int           `help:"RSA key size in bits" default:"4096"`
	Rotate     time.Duration `help:"regenerate when the authority expires within this window" default:"720h"`
	Force      bool          `help:"force regeneration of the authority" default:"false"`

	PublishSSM  bool   `help:"also publish the authority to SSM as a SecureString" default:"false"`
	SSMPrefix   string `help:"SSM parameter path prefix" default:"/fleet"`
	AWSEndpoint string `help:"AWS endpoint (for LocalStack)" env:"AWS_ENDPOINT" default:""`
}

// authorityPaths returns the combined certificate and key file, readable by
// the file secret provider, and the certificate-only file for enrollment
// groups.
func (cmd *CAInitCmd) authorityPaths() (string, string) {
	return filepath.Join(cmd.OutputDir, cmd.Name+".pem"), filepath.Join(cmd.OutputDir, cmd.Name+".crt")
}

// Run executes the ca init command
func (cmd *CAInitCmd) Run(ctx context.Context, globals *Globals) error {
	logger.Setup(globals.Debug)

	if err := os.MkdirAll(cmd.OutputDir, 0700); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	keyPath, certPath := cmd.authorityPaths()

	validation, err := validateCertificate(certPath, cmd.Rotate, time.Now())
	if err != nil {
		return fmt.Errorf("failed to validate authority certificate: %w", err)
	}

	switch {
	case cmd.Force:
		log.Info().Msg("Force flag set, regenerating authority...")
	case validation.ShouldRotate && validation.Expired:
		log.Error().
			Int("days_expired", -validation.DaysRemaining).
			Msg("Authority is expired, regenerating...")
	case validation.ShouldRotate && validation.Exists:
		log.Warn().
			Int("days_remaining", validation.DaysRemaining).
			Msg("Authority approaching expiry, regenerating...")
	case validation.Exists && fileExists(keyPath):
		log.Info().
			Int("days_remaining", validation.DaysRemaining).
			Str("path", keyPath).
			Msg("Authority is valid, using existing...")
		return cmd.publish(ctx, keyPath)
	default:
		log.Info().Msg("Generating new authority...")
	}

	authority, key, err := pki.CreateSelfSignedAuthority(cmd.CommonName, pki.WithKeySize(cmd.KeySize))
	if err != nil {
		return err
	}

	certPEM := pki.EncodeCertificatePEM(authority.Certificate())
	combined := append(append([]byte{}, certPEM...), encodeKeyPEM("RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key))...)

	if err := os.WriteFile(keyPath, combined, 0600); err != nil {
		return fmt.Errorf("failed to write authority: %w", err)
	}
	// #nosec G306 - the certificate is public and shared with the provisioner
	if err := os.WriteFile(certPath, certPEM, 0644); err != nil {
		return fmt.Errorf("failed to write authority certificate: %w", err)
	}

	log.Info().
		Str("subject", authority.Subject().String()).
		Str("fingerprint", pki.Fingerprint(authority.Certificate())).
		Str("path_cert", certPath).
		Str("path_key", keyPath).
		Msg("Generated and saved authority")

	return cmd.publish(ctx, keyPath)
}

// publish copies the combined authority file to SSM where the ssm
// authority source reads it.
func (cmd *CAInitCmd) publish(ctx context.Context, keyPath string) error {
	if !cmd.PublishSSM {
		return nil
	}

	combined, err := os.ReadFile(keyPath)
	if err != nil {
		return fmt.Errorf("failed to read authority: %w", err)
	}

	awsConfig, err := loadAWSConfig(ctx, cmd.AWSEndpoint)
	if err != nil {
		return err
	}

	name := secrets.ParameterName(cmd.SSMPrefix, cmd.Name)
	if _, err := bootstrap.PutParameters(ctx, ssm.NewFromConfig(awsConfig), map[string]string{name: string(combined)}, true); err != nil {
		return err
	}

	log.Info().Str("parameter", name).Msg("Published authority to SSM")

	return nil
}
