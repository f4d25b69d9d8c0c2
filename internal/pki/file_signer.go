package pki

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/wolfeidau/fleetprov/internal/fault"
	"software.sslmate.com/src/go-pkcs12"
)

// LoadAuthorityFiles loads an authority from PEM-encoded certificate and key files.
// This is intended for local development only - not for production use.
func LoadAuthorityFiles(certPath, keyPath string, opts ...Option) (*Authority, error) {
	const op = "pki.LoadAuthorityFiles"

	certData, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fault.AuthorityState(op, "failed to read authority cert file: %w", err)
	}

	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fault.AuthorityState(op, "failed to read authority key file: %w", err)
	}

	raw := append(append(certData, '\n'), keyData...)
	return LoadAuthority(raw, "", opts...)
}

// LoadAuthority builds an authority from secret material holding the
// certificate and its private key, either as PEM blocks or a PKCS#12 bundle.
func LoadAuthority(raw []byte, password string, opts ...Option) (*Authority, error) {
	const op = "pki.LoadAuthority"

	var (
		cert *x509.Certificate
		key  crypto.Signer
		err  error
	)

	if isPEM(raw) {
		cert, key, err = parsePEMKeyPair(raw)
	} else {
		cert, key, err = parsePKCS12KeyPair(raw, password)
	}
	if err != nil {
		return nil, fault.AuthorityState(op, "%w", err)
	}

	return NewAuthority(cert, key, opts...)
}

func isPEM(raw []byte) bool {
	return strings.Contains(string(raw), "-----BEGIN ")
}

func parsePEMKeyPair(raw []byte) (*x509.Certificate, crypto.Signer, error) {
	var (
		cert *x509.Certificate
		key  crypto.Signer
	)

	for {
		var block *pem.Block
		block, raw = pem.Decode(raw)
		if block == nil {
			break
		}

		switch block.Type {
		case "CERTIFICATE":
			// the first certificate is the authority, the rest is chain
			if cert != nil {
				continue
			}
			c, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to parse authority certificate: %w", err)
			}
			cert = c
		case "RSA PRIVATE KEY":
			k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to parse authority private key: %w", err)
			}
			key = k
		case "PRIVATE KEY":
			k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to parse authority private key: %w", err)
			}
			signer, ok := k.(crypto.Signer)
			if !ok {
				return nil, nil, fmt.Errorf("authority private key %T cannot sign", k)
			}
			key = signer
		}
	}

	if cert == nil {
		return nil, nil, errors.New("no CERTIFICATE block found")
	}
	if key == nil {
		return nil, nil, errors.New("no private key block found")
	}

	return cert, key, nil
}

func parsePKCS12KeyPair(raw []byte, password string) (*x509.Certificate, crypto.Signer, error) {
	privateKey, cert, _, err := pkcs12.DecodeChain(raw, password)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode authority bundle: %w", err)
	}

	key, ok := privateKey.(crypto.Signer)
	if !ok {
		return nil, nil, fmt.Errorf("authority private key %T cannot sign", privateKey)
	}

	return cert, key, nil
}
