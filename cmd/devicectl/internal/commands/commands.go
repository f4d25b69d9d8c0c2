package commands

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/wolfeidau/fleetprov/internal/pki"
	"github.com/wolfeidau/fleetprov/internal/secrets"
)

type Globals struct {
	Debug   bool
	Version string
}

// AuthorityFlags locate the signing authority used to issue device
// certificates.
type AuthorityFlags struct {
	Source   string `help:"where the signing authority is loaded from" default:"file" enum:"file,ssm,vault,kms" env:"FLEET_AUTHORITY_SOURCE"`
	Name     string `help:"secret name of the signing authority" default:"IntermediateSimulationDPSCertificate" env:"FLEET_SIGNING_CERTIFICATE"`
	Password string `help:"password of a PKCS#12 authority bundle" default:"" env:"FLEET_SIGNING_PASSWORD"`

	Dir         string `help:"directory holding file authorities" default:"./certs"`
	SSMPrefix   string `help:"SSM parameter path prefix" default:"/fleet"`
	AWSEndpoint string `help:"AWS endpoint (for LocalStack)" env:"AWS_ENDPOINT" default:""`
	VaultAddr   string `help:"Vault address" env:"VAULT_ADDR" default:""`
	VaultToken  string `help:"Vault token" env:"VAULT_TOKEN" default:""`
	VaultMount  string `help:"Vault KV v2 mount" default:"secret"`
	VaultPath   string `help:"path within the Vault mount" default:"fleet"`
	KMSKeyID    string `help:"KMS key id holding the authority private key" env:"FLEET_KMS_KEY_ID" default:""`
}

// Provider returns the secret backend selected by Source.
func (f *AuthorityFlags) Provider(ctx context.Context) (secrets.Provider, error) {
	switch f.Source {
	case "ssm":
		return secrets.NewSSMProvider(ctx, f.SSMPrefix, f.AWSEndpoint)
	case "vault":
		return secrets.NewVaultProvider(f.VaultAddr, f.VaultToken, f.VaultMount, f.VaultPath)
	default:
		return &secrets.FileProvider{Dir: f.Dir}, nil
	}
}

// Load loads the authority. For KMS the named secret holds only the
// authority certificate and signing happens in KMS.
func (f *AuthorityFlags) Load(ctx context.Context, opts ...pki.Option) (*pki.Authority, error) {
	if f.Source == "kms" {
		return f.loadKMS(ctx, opts...)
	}

	provider, err := f.Provider(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := provider.GetCertificate(ctx, f.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to load authority %q: %w", f.Name, err)
	}

	return pki.LoadAuthority(raw, f.Password, opts...)
}

func (f *AuthorityFlags) loadKMS(ctx context.Context, opts ...pki.Option) (*pki.Authority, error) {
	if f.KMSKeyID == "" {
		return nil, errors.New("KMS key id is required (--kms-key-id or FLEET_KMS_KEY_ID)")
	}

	certPEM, err := (&secrets.FileProvider{Dir: f.Dir}).GetCertificate(ctx, f.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to load authority certificate %q: %w", f.Name, err)
	}

	awsConfig, err := loadAWSConfig(ctx, f.AWSEndpoint)
	if err != nil {
		return nil, err
	}

	return pki.NewKMSAuthority(ctx, awsConfig, f.KMSKeyID, certPEM, opts...)
}

func loadAWSConfig(ctx context.Context, endpoint string) (aws.Config, error) {
	awsConfig, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	// Use BaseEndpoint for LocalStack support
	if endpoint != "" {
		awsConfig.BaseEndpoint = aws.String(endpoint)
	}
	return awsConfig, nil
}

// File utility functions

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func loadCertificate(path string) (*x509.Certificate, error) {
	certPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return pki.ParseCertificatePEM(certPEM)
}

func loadCertPool(path string) (*x509.CertPool, error) {
	if path == "" {
		return nil, nil
	}
	certPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(certPEM) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}

func encodeKeyPEM(blockType string, der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
}

// CertValidation holds certificate validation results
type CertValidation struct {
	Path          string
	Exists        bool
	Expired       bool
	NotAfter      time.Time
	DaysRemaining int
	ShouldRotate  bool
}

// validateCertificate checks if a certificate exists and its validity status
func validateCertificate(path string, rotationThreshold time.Duration, now time.Time) (*CertValidation, error) {
	validation := &CertValidation{Path: path}

	if !fileExists(path) {
		validation.ShouldRotate = true
		return validation, nil
	}

	validation.Exists = true

	cert, err := loadCertificate(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}

	validation.NotAfter = cert.NotAfter
	validation.DaysRemaining = int(cert.NotAfter.Sub(now).Hours() / 24)

	if now.After(cert.NotAfter) {
		validation.Expired = true
		validation.ShouldRotate = true
		return validation, nil
	}

	if cert.NotAfter.Sub(now) < rotationThreshold {
		validation.ShouldRotate = true
	}

	return validation, nil
}
