package pki

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
)

// Certificate extension identifiers from RFC 5280 section 4.2.1.
var (
	OIDSubjectKeyIdentifier   = asn1.ObjectIdentifier{2, 5, 29, 14}
	OIDKeyUsage               = asn1.ObjectIdentifier{2, 5, 29, 15}
	OIDSubjectAltName         = asn1.ObjectIdentifier{2, 5, 29, 17}
	OIDBasicConstraints       = asn1.ObjectIdentifier{2, 5, 29, 19}
	OIDAuthorityKeyIdentifier = asn1.ObjectIdentifier{2, 5, 29, 35}
	OIDExtendedKeyUsage       = asn1.ObjectIdentifier{2, 5, 29, 37}
)

// Extended key usage purposes.
var (
	OIDServerAuth = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 1}
	OIDClientAuth = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 2}
)

// ErrExtensionNotFound is returned when a required extension is missing
var ErrExtensionNotFound = errors.New("extension not found")

// FindExtension returns the extension identified by oid. Extensions are
// always located by identifier, never by position.
func FindExtension(cert *x509.Certificate, oid asn1.ObjectIdentifier) (pkix.Extension, error) {
	if cert == nil {
		return pkix.Extension{}, ErrExtensionNotFound
	}
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(oid) {
			return ext, nil
		}
	}
	return pkix.Extension{}, ErrExtensionNotFound
}

// SubjectKeyID returns the key identifier carried in the certificate's
// subject key identifier extension.
func SubjectKeyID(cert *x509.Certificate) ([]byte, error) {
	ext, err := FindExtension(cert, OIDSubjectKeyIdentifier)
	if err != nil {
		return nil, err
	}
	return KeyIdentifierFromSKI(ext)
}

// AuthorityKeyID returns the keyIdentifier field of the certificate's
// authority key identifier extension.
func AuthorityKeyID(cert *x509.Certificate) ([]byte, error) {
	ext, err := FindExtension(cert, OIDAuthorityKeyIdentifier)
	if err != nil {
		return nil, err
	}
	return KeyIdentifierFromAKI(ext)
}
