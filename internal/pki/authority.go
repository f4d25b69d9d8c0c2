package pki

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/fleetprov/internal/fault"
)

const (
	// DefaultKeySize is the RSA modulus size used for authority and device keys.
	DefaultKeySize = 4096

	// MinKeySize is the smallest RSA modulus accepted for a device key.
	MinKeySize = 2048

	// DefaultLeafValidity is how long an issued device certificate is valid.
	DefaultLeafValidity = 100 * 24 * time.Hour

	serialBytes = 16
)

// Option configures an Authority.
type Option func(*options)

type options struct {
	keySize int
	rand    io.Reader
	now     func() time.Time
}

func defaultOptions() options {
	return options{
		keySize: DefaultKeySize,
		rand:    rand.Reader,
		now:     time.Now,
	}
}

// WithKeySize overrides the RSA key size used when generating keys.
func WithKeySize(bits int) Option {
	return func(o *options) { o.keySize = bits }
}

// WithClock overrides the time source used for validity windows.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRandom overrides the randomness source used for keys and serials.
func WithRandom(r io.Reader) Option {
	return func(o *options) { o.rand = r }
}

// Authority is an intermediate certificate authority which issues device
// certificates. It is immutable after construction and safe for concurrent use.
type Authority struct {
	cert   *x509.Certificate
	signer crypto.Signer
	keyID  []byte
	opts   options
}

// NewAuthority validates that cert and signer form a usable issuing authority.
func NewAuthority(cert *x509.Certificate, signer crypto.Signer, opts ...Option) (*Authority, error) {
	const op = "pki.NewAuthority"

	if cert == nil {
		return nil, fault.AuthorityState(op, "authority certificate is missing")
	}
	if signer == nil {
		return nil, fault.AuthorityState(op, "authority private key is missing")
	}

	keyID, err := SubjectKeyID(cert)
	if err != nil {
		return nil, fault.AuthorityState(op, "authority has no usable subject key identifier: %w", err)
	}

	if !cert.BasicConstraintsValid || !cert.IsCA {
		return nil, fault.AuthorityState(op, "certificate %q is not a certificate authority", cert.Subject.CommonName)
	}

	if err := verifyCertKeyPair(cert, signer.Public()); err != nil {
		return nil, fault.AuthorityState(op, "authority key and certificate do not match: %w", err)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &Authority{
		cert:   cert,
		signer: signer,
		keyID:  keyID,
		opts:   o,
	}, nil
}

// Certificate returns the authority certificate.
func (a *Authority) Certificate() *x509.Certificate {
	return a.cert
}

// Subject returns the authority's distinguished name.
func (a *Authority) Subject() pkix.Name {
	return a.cert.Subject
}

// KeyID returns a copy of the authority's subject key identifier.
func (a *Authority) KeyID() []byte {
	return append([]byte(nil), a.keyID...)
}

// Signer returns the authority's signing key.
func (a *Authority) Signer() crypto.Signer {
	return a.signer
}

// CreateSelfSignedAuthority generates a new RSA key and a self-signed CA
// certificate for bootstrap and testing. The certificate is valid from one
// day in the past until two years from now.
func CreateSelfSignedAuthority(commonName string, opts ...Option) (*Authority, *rsa.PrivateKey, error) {
	const op = "pki.CreateSelfSignedAuthority"

	if commonName == "" {
		return nil, nil, fault.Validation(op, "common name must not be empty")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if o.keySize < MinKeySize {
		return nil, nil, fault.Validation(op, "key size %d is below the minimum of %d", o.keySize, MinKeySize)
	}

	key, err := rsa.GenerateKey(o.rand, o.keySize)
	if err != nil {
		return nil, nil, fault.Crypto(op, "failed to generate authority key: %w", err)
	}

	exts, err := authorityExtensions(&key.PublicKey)
	if err != nil {
		return nil, nil, fault.Crypto(op, "failed to build authority extensions: %w", err)
	}

	serial, err := newSerialNumber(o.rand)
	if err != nil {
		return nil, nil, fault.Crypto(op, "%w", err)
	}

	now := o.now()
	template := &x509.Certificate{
		SerialNumber:       serial,
		Subject:            pkix.Name{CommonName: commonName},
		NotBefore:          now.Add(-24 * time.Hour),
		NotAfter:           now.AddDate(2, 0, 0),
		SignatureAlgorithm: x509.SHA256WithRSA,
		ExtraExtensions:    exts,
	}

	certDER, err := x509.CreateCertificate(o.rand, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fault.Crypto(op, "failed to create authority certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, nil, fault.Crypto(op, "failed to parse authority certificate: %w", err)
	}

	log.Debug().
		Str("subject", cert.Subject.String()).
		Time("notAfter", cert.NotAfter).
		Msg("created self-signed authority")

	authority, err := NewAuthority(cert, key, opts...)
	if err != nil {
		return nil, nil, err
	}

	return authority, key, nil
}

func authorityExtensions(pub crypto.PublicKey) ([]pkix.Extension, error) {
	bc, err := BasicConstraints(true, 0, true)
	if err != nil {
		return nil, err
	}
	ku, err := KeyUsage(x509.KeyUsageDigitalSignature|x509.KeyUsageKeyEncipherment|x509.KeyUsageCertSign, false)
	if err != nil {
		return nil, err
	}
	eku, err := ExtendedKeyUsage(deviceKeyPurposes, false)
	if err != nil {
		return nil, err
	}
	ski, err := SubjectKeyIdentifier(pub)
	if err != nil {
		return nil, err
	}
	return []pkix.Extension{bc, ku, eku, ski}, nil
}

// newSerialNumber returns a positive serial built from 16 random bytes.
// Uniqueness is probabilistic; no issuance registry is consulted.
func newSerialNumber(r io.Reader) (*big.Int, error) {
	buf := make([]byte, serialBytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	serial := new(big.Int).SetBytes(buf)
	if serial.Sign() == 0 {
		serial.SetInt64(1)
	}
	return serial, nil
}
