package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/fleetprov/internal/logger"
	"github.com/wolfeidau/fleetprov/internal/pki"
)

// IssueCmd issues a device certificate and writes it to disk
type IssueCmd struct {
	Authority AuthorityFlags `embed:"" prefix:"authority-"`

	DeviceID  string        `help:"device id, used as the certificate common name (default: random UUID)" default:""`
	KeySize   int           `help:"device RSA key size in bits" default:"4096"`
	Validity  time.Duration `help:"certificate validity" default:"2400h"`
	OutputDir string        `help:"output directory for the device files" default:"./devices"`
	Password  string        `help:"password for the PKCS#12 bundle" default:"" env:"FLEET_BUNDLE_PASSWORD"`
}

// Run executes the issue command
func (cmd *IssueCmd) Run(ctx context.Context, globals *Globals) error {
	logger.Setup(globals.Debug)

	authority, err := cmd.Authority.Load(ctx)
	if err != nil {
		return err
	}

	deviceID := cmd.DeviceID
	if deviceID == "" {
		deviceID = uuid.NewString()
	}

	now := time.Now()
	issued, err := authority.IssueLeafCertificate(ctx, pki.DeviceCertificateRequest{
		DeviceID:  deviceID,
		KeySize:   cmd.KeySize,
		NotBefore: now,
		NotAfter:  now.Add(cmd.Validity),
	})
	if err != nil {
		return err
	}

	paths, err := writeIssuedCertificate(cmd.OutputDir, issued, cmd.Password)
	if err != nil {
		return err
	}

	log.Info().
		Str("deviceID", issued.DeviceID).
		Str("fingerprint", issued.Fingerprint()).
		Str("issuer", authority.Subject().CommonName).
		Time("notAfter", issued.Certificate.NotAfter).
		Msg("Issued device certificate")

	fmt.Printf("Device:       %s\n", issued.DeviceID)
	fmt.Printf("Fingerprint:  %s\n", issued.Fingerprint())
	fmt.Printf("Certificate:  %s\n", paths.cert)
	fmt.Printf("Private key:  %s\n", paths.key)
	fmt.Printf("Bundle:       %s\n", paths.bundle)

	return nil
}

type devicePaths struct {
	cert   string
	key    string
	bundle string
}

// writeIssuedCertificate writes the certificate with its chain as PEM, the
// private key as PKCS#8 PEM and a PKCS#12 bundle.
func writeIssuedCertificate(dir string, issued *pki.IssuedCertificate, password string) (devicePaths, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return devicePaths{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	paths := devicePaths{
		cert:   filepath.Join(dir, issued.DeviceID+".pem"),
		key:    filepath.Join(dir, issued.DeviceID+".key"),
		bundle: filepath.Join(dir, issued.DeviceID+".pfx"),
	}

	keyPEM, err := issued.PrivateKeyPEM()
	if err != nil {
		return devicePaths{}, err
	}

	pfx, err := issued.PKCS12(password)
	if err != nil {
		return devicePaths{}, err
	}

	certPEM := issued.ChainPEM()

	// #nosec G306 - certificates are public
	if err := os.WriteFile(paths.cert, certPEM, 0644); err != nil {
		return devicePaths{}, fmt.Errorf("failed to write certificate: %w", err)
	}
	if err := os.WriteFile(paths.key, keyPEM, 0600); err != nil {
		return devicePaths{}, fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(paths.bundle, pfx, 0600); err != nil {
		return devicePaths{}, fmt.Errorf("failed to write bundle: %w", err)
	}

	return paths, nil
}
