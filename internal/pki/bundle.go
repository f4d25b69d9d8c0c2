package pki

import (
	"bytes"
	"crypto"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/wolfeidau/fleetprov/internal/fault"
)

// IssuedCertificate is a device certificate bundled with its private key and
// the issuing chain.
type IssuedCertificate struct {
	DeviceID    string
	Certificate *x509.Certificate
	PrivateKey  crypto.Signer
	Chain       []*x509.Certificate

	// Bundle is the passwordless PKCS#12 encoding of the certificate, key and chain.
	Bundle []byte
}

// newIssuedCertificate round trips the certificate and key through a PKCS#12
// bundle so that what callers persist is exactly what was verified.
func newIssuedCertificate(deviceID string, cert *x509.Certificate, key crypto.Signer, chain []*x509.Certificate) (*IssuedCertificate, error) {
	pfx, err := EncodePKCS12(cert, key, chain, "")
	if err != nil {
		return nil, err
	}

	issued, err := ParseBundle(pfx, "")
	if err != nil {
		return nil, err
	}

	if !bytes.Equal(issued.Certificate.Raw, cert.Raw) {
		return nil, errors.New("bundle round trip changed the certificate")
	}
	if err := verifyCertKeyPair(issued.Certificate, issued.PrivateKey.Public()); err != nil {
		return nil, fmt.Errorf("bundle round trip changed the private key: %w", err)
	}

	issued.DeviceID = deviceID
	return issued, nil
}

// EncodePKCS12 encodes a certificate, its key and chain. An empty password
// produces an unencrypted bundle, otherwise modern PBES2 encryption is used.
func EncodePKCS12(cert *x509.Certificate, key crypto.Signer, chain []*x509.Certificate, password string) ([]byte, error) {
	encoder := pkcs12.Modern
	if password == "" {
		encoder = pkcs12.Passwordless
	}

	pfx, err := encoder.Encode(key, cert, chain, password)
	if err != nil {
		return nil, fault.Crypto("pki.EncodePKCS12", "failed to encode PKCS#12 bundle: %w", err)
	}
	return pfx, nil
}

// ParseBundle decodes a PKCS#12 bundle into an IssuedCertificate. The device
// id is taken from the certificate's common name.
func ParseBundle(pfx []byte, password string) (*IssuedCertificate, error) {
	const op = "pki.ParseBundle"

	privateKey, cert, chain, err := pkcs12.DecodeChain(pfx, password)
	if err != nil {
		return nil, fault.Crypto(op, "failed to decode PKCS#12 bundle: %w", err)
	}

	key, ok := privateKey.(crypto.Signer)
	if !ok {
		return nil, fault.Crypto(op, "bundle private key %T cannot sign", privateKey)
	}

	if err := verifyCertKeyPair(cert, key.Public()); err != nil {
		return nil, fault.Crypto(op, "bundle key and certificate do not match: %w", err)
	}

	return &IssuedCertificate{
		DeviceID:    cert.Subject.CommonName,
		Certificate: cert,
		PrivateKey:  key,
		Chain:       chain,
		Bundle:      pfx,
	}, nil
}

// PKCS12 re-encodes the bundle protected by password.
func (c *IssuedCertificate) PKCS12(password string) ([]byte, error) {
	if password == "" && len(c.Bundle) > 0 {
		return c.Bundle, nil
	}
	return EncodePKCS12(c.Certificate, c.PrivateKey, c.Chain, password)
}

// CertificatePEM returns the device certificate PEM encoded.
func (c *IssuedCertificate) CertificatePEM() []byte {
	return EncodeCertificatePEM(c.Certificate)
}

// ChainPEM returns the device certificate followed by its chain, PEM encoded.
func (c *IssuedCertificate) ChainPEM() []byte {
	out := EncodeCertificatePEM(c.Certificate)
	for _, cert := range c.Chain {
		out = append(out, EncodeCertificatePEM(cert)...)
	}
	return out
}

// PrivateKeyPEM returns the device private key as a PKCS#8 PEM block.
func (c *IssuedCertificate) PrivateKeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(c.PrivateKey)
	if err != nil {
		return nil, fault.Crypto("pki.PrivateKeyPEM", "failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// TLSCertificate returns the bundle as a client certificate for mutual TLS.
func (c *IssuedCertificate) TLSCertificate() tls.Certificate {
	chain := [][]byte{c.Certificate.Raw}
	for _, cert := range c.Chain {
		chain = append(chain, cert.Raw)
	}
	return tls.Certificate{
		Certificate: chain,
		PrivateKey:  c.PrivateKey,
		Leaf:        c.Certificate,
	}
}

// Fingerprint returns the Base58-encoded SHA-256 of the device certificate.
func (c *IssuedCertificate) Fingerprint() string {
	return Fingerprint(c.Certificate)
}

// Fingerprint returns the Base58-encoded SHA-256 of the DER certificate.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return base58.Encode(sum[:])
}

// EncodeCertificatePEM encodes a certificate as a PEM CERTIFICATE block.
func EncodeCertificatePEM(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}

// ParseCertificatePEM parses the first CERTIFICATE block in data.
func ParseCertificatePEM(data []byte) (*x509.Certificate, error) {
	const op = "pki.ParseCertificatePEM"

	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, fault.Validation(op, "no CERTIFICATE block found")
		}
		if block.Type == "CERTIFICATE" {
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fault.Validation(op, "%w", err)
			}
			return cert, nil
		}
	}
}
