package pki

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/wolfeidau/fleetprov/internal/fault"
)

var (
	// ErrChainUntrusted is returned when no chain can be built to the authority.
	ErrChainUntrusted = errors.New("certificate does not chain to the authority")

	// ErrThumbprintMismatch is returned when the chain terminates at a different certificate.
	ErrThumbprintMismatch = errors.New("chain root is not the authority")

	// ErrKeyIdentifierMismatch is returned when the leaf AKI differs from the authority SKI.
	ErrKeyIdentifierMismatch = errors.New("authority key identifier does not match authority")
)

// VerifyChain reports whether leaf was issued by authority. It is offline
// and performs no revocation checks.
func VerifyChain(authority, leaf *x509.Certificate) bool {
	return CheckChain(authority, leaf) == nil
}

// CheckChain verifies leaf against authority as the sole trust anchor and
// returns the reason when verification fails.
//
// All of the following must hold: a chain builds from leaf to authority, the
// top of that chain has the authority's thumbprint, and the leaf's authority
// key identifier equals the authority's subject key identifier byte for byte.
func CheckChain(authority, leaf *x509.Certificate) error {
	const op = "pki.CheckChain"

	if authority == nil || leaf == nil {
		return fault.Validation(op, "authority and leaf certificates are required")
	}

	roots := x509.NewCertPool()
	roots.AddCert(authority)

	chains, err := leaf.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: x509.NewCertPool(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return fault.Validation(op, "%w: %w", ErrChainUntrusted, err)
	}

	authorityThumbprint := thumbprint(authority)
	found := false
	for _, chain := range chains {
		if bytes.Equal(thumbprint(chain[len(chain)-1]), authorityThumbprint) {
			found = true
			break
		}
	}
	if !found {
		return fault.Validation(op, "%w", ErrThumbprintMismatch)
	}

	leafAKI, err := AuthorityKeyID(leaf)
	if err != nil {
		return fault.Validation(op, "%w: leaf: %w", ErrKeyIdentifierMismatch, err)
	}
	authoritySKI, err := SubjectKeyID(authority)
	if err != nil {
		return fault.Validation(op, "%w: authority: %w", ErrKeyIdentifierMismatch, err)
	}
	if !bytes.Equal(leafAKI, authoritySKI) {
		return fault.Validation(op, "%w: %x != %x", ErrKeyIdentifierMismatch, leafAKI, authoritySKI)
	}

	return nil
}

func thumbprint(cert *x509.Certificate) []byte {
	sum := sha256.Sum256(cert.Raw)
	return sum[:]
}

// Describe returns a short human readable summary of a certificate.
func Describe(cert *x509.Certificate) string {
	return fmt.Sprintf("subject=%q issuer=%q serial=%s notBefore=%s notAfter=%s",
		cert.Subject.String(), cert.Issuer.String(), cert.SerialNumber.Text(16),
		cert.NotBefore.UTC().Format("2006-01-02T15:04:05Z"), cert.NotAfter.UTC().Format("2006-01-02T15:04:05Z"))
}
