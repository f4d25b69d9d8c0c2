package pki

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
)

// SignCertificate signs a certificate template for pub with the authority key
// using SHA-256 with PKCS#1 v1.5 RSA. Returns DER-encoded certificate bytes.
// The template must be fully populated with subject, validity and extensions.
func (a *Authority) SignCertificate(template *x509.Certificate, pub crypto.PublicKey) ([]byte, error) {
	if _, ok := a.signer.Public().(*rsa.PublicKey); !ok {
		return nil, fmt.Errorf("authority key is not RSA (got %T)", a.signer.Public())
	}
	template.SignatureAlgorithm = x509.SHA256WithRSA
	return x509.CreateCertificate(a.opts.rand, template, a.cert, pub, a.signer)
}

// verifyCertKeyPair checks that a certificate's public key matches pub
func verifyCertKeyPair(cert *x509.Certificate, pub crypto.PublicKey) error {
	certPubKey, ok := cert.PublicKey.(interface{ Equal(crypto.PublicKey) bool })
	if !ok {
		return fmt.Errorf("unsupported certificate public key %T", cert.PublicKey)
	}

	if !certPubKey.Equal(pub) {
		return errors.New("public keys do not match")
	}

	return nil
}
