// Package secrets loads authority certificates, with their private keys,
// from a secret backend by name.
package secrets

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
)

// ErrNotFound is returned when a named secret does not exist.
var ErrNotFound = errors.New("secret not found")

// Provider returns the raw certificate material stored under name, either
// PEM (certificate and private key) or a PKCS#12 bundle.
type Provider interface {
	GetCertificate(ctx context.Context, name string) ([]byte, error)
}

// decodeValue returns PEM text as is and base64 encoded bundles decoded.
// String backends cannot hold binary PKCS#12 data directly.
func decodeValue(value string) []byte {
	if strings.Contains(value, "-----BEGIN") {
		return []byte(value)
	}
	trimmed := strings.TrimSpace(value)
	if decoded, err := base64.StdEncoding.DecodeString(trimmed); err == nil {
		return decoded
	}
	return []byte(value)
}
