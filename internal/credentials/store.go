package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/fleetprov/internal/enrollment"
	"github.com/wolfeidau/fleetprov/internal/pki"
)

const (
	credentialsFile = "credentials.json"
	bundleFile      = "certificate.pfx"
	configVersion   = 1
)

// Sentinel errors
var (
	// ErrNotFound is returned when no credentials have been saved.
	ErrNotFound = errors.New("credentials not found")

	// ErrInvalidBundle is returned when the stored bundle does not match the
	// saved credentials.
	ErrInvalidBundle = errors.New("invalid certificate bundle")
)

// StoredCredentials is the outcome of a successful enrollment, kept so a
// device can reconnect to its hub without enrolling again.
type StoredCredentials struct {
	Version     int       `json:"version"`
	AssignedHub string    `json:"assigned_hub"`
	DeviceID    string    `json:"device_id"`
	DeviceName  string    `json:"device_name"`
	Fingerprint string    `json:"fingerprint,omitempty"` // base58 SHA-256 of the device certificate
	SavedAt     time.Time `json:"saved_at"`

	// Certificate is loaded from the PKCS#12 bundle stored alongside.
	Certificate *pki.IssuedCertificate `json:"-"`
}

// ConnectionParameters rebuilds the parameters returned by enrollment.
func (c *StoredCredentials) ConnectionParameters() (*enrollment.ConnectionParameters, error) {
	if c.Certificate == nil {
		return nil, fmt.Errorf("%w: no certificate stored for %q", ErrInvalidBundle, c.DeviceID)
	}
	return &enrollment.ConnectionParameters{
		AssignedHub: c.AssignedHub,
		Auth: enrollment.AuthenticationMethod{
			Kind: enrollment.AuthCertificate,
			Certificate: &enrollment.CertificateCredential{
				DeviceID:    c.DeviceID,
				Certificate: c.Certificate.Certificate,
				Chain:       c.Certificate.Chain,
				PrivateKey:  c.Certificate.PrivateKey,
			},
		},
	}, nil
}

// Store manages device credential storage on the local filesystem.
type Store struct {
	baseDir string
}

// NewStore creates a new credential store.
// If baseDir is empty, uses ~/.fleetprov/credentials/
func NewStore(baseDir string) (*Store, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".fleetprov", "credentials")
	}

	// Create directory with 0700 permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create credentials directory: %w", err)
	}

	log.Debug().Str("baseDir", baseDir).Msg("credential store initialized")

	return &Store{baseDir: baseDir}, nil
}

// Dir returns the directory credentials are stored in.
func (s *Store) Dir() string {
	return s.baseDir
}

// Load reads saved credentials. It returns ErrNotFound when nothing has been
// saved yet.
func (s *Store) Load() (*StoredCredentials, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, credentialsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	var creds StoredCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}

	pfx, err := os.ReadFile(filepath.Join(s.baseDir, bundleFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: bundle is missing", ErrInvalidBundle)
		}
		return nil, fmt.Errorf("failed to read certificate bundle: %w", err)
	}

	issued, err := pki.ParseBundle(pfx, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	if issued.Fingerprint() != creds.Fingerprint {
		return nil, fmt.Errorf("%w: fingerprint %s does not match %s", ErrInvalidBundle, issued.Fingerprint(), creds.Fingerprint)
	}
	creds.Certificate = issued

	log.Debug().
		Str("deviceID", creds.DeviceID).
		Str("assignedHub", creds.AssignedHub).
		Str("fingerprint", creds.Fingerprint).
		Msg("credentials loaded")

	return &creds, nil
}

// Save persists the assignment and the certificate bundle used to obtain it.
// Both files are written with 0600 permissions.
func (s *Store) Save(params *enrollment.ConnectionParameters, issued *pki.IssuedCertificate, deviceName string) (*StoredCredentials, error) {
	if params == nil || params.Auth.Kind != enrollment.AuthCertificate {
		return nil, errors.New("only certificate credentials can be saved")
	}
	if issued == nil {
		return nil, errors.New("issued certificate is required")
	}

	pfx, err := issued.PKCS12("")
	if err != nil {
		return nil, fmt.Errorf("failed to encode certificate bundle: %w", err)
	}

	creds := &StoredCredentials{
		Version:     configVersion,
		AssignedHub: params.AssignedHub,
		DeviceID:    params.Auth.DeviceID(),
		DeviceName:  deviceName,
		Fingerprint: issued.Fingerprint(),
		SavedAt:     time.Now().UTC(),
		Certificate: issued,
	}

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal credentials: %w", err)
	}

	// bundle first so credentials.json never points at a missing bundle
	if err := s.writeFile(bundleFile, pfx); err != nil {
		return nil, err
	}
	if err := s.writeFile(credentialsFile, data); err != nil {
		return nil, err
	}

	log.Info().
		Str("deviceID", creds.DeviceID).
		Str("assignedHub", creds.AssignedHub).
		Str("fingerprint", creds.Fingerprint).
		Str("dir", s.baseDir).
		Msg("credentials saved")

	return creds, nil
}

// Delete removes saved credentials.
func (s *Store) Delete() error {
	for _, name := range []string{credentialsFile, bundleFile} {
		if err := os.Remove(filepath.Join(s.baseDir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}

	log.Info().Str("dir", s.baseDir).Msg("credentials deleted")

	return nil
}

// writeFile writes a file atomically.
func (s *Store) writeFile(name string, data []byte) error {
	path := filepath.Join(s.baseDir, name)
	tempPath := path + ".tmp"

	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}

	// Atomic rename
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save %s: %w", name, err)
	}

	return nil
}
