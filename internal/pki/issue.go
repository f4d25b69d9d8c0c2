package pki

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wolfeidau/fleetprov/internal/fault"
	"github.com/wolfeidau/fleetprov/internal/telemetry"
)

var deviceKeyPurposes = []asn1.ObjectIdentifier{OIDClientAuth, OIDServerAuth}

// DeviceCertificateRequest describes the certificate to issue for a device.
// Zero values select the defaults: a 4096 bit key valid for 100 days from now.
type DeviceCertificateRequest struct {
	DeviceID  string
	KeySize   int
	NotBefore time.Time
	NotAfter  time.Time
}

// IssueLeafCertificate generates a fresh RSA key pair for the device and
// issues a certificate for it signed by the authority.
//
// The subject is CN=<DeviceID> and the device id is also bound as a dNSName
// subject alternative name. The authority key identifier is derived from the
// authority's subject key identifier extension.
func (a *Authority) IssueLeafCertificate(ctx context.Context, req DeviceCertificateRequest) (*IssuedCertificate, error) {
	started := time.Now()

	issued, err := a.issueLeafCertificate(ctx, req)

	metrics := telemetry.GetMetrics()
	if err != nil {
		metrics.CertificateIssueErrorsTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("kind", kindName(err))))
		return nil, err
	}

	metrics.CertificatesIssuedTotal.Add(ctx, 1)
	metrics.CertificateIssueDuration.Record(ctx, float64(time.Since(started).Milliseconds()))

	return issued, nil
}

func (a *Authority) issueLeafCertificate(ctx context.Context, req DeviceCertificateRequest) (*IssuedCertificate, error) {
	const op = "pki.IssueLeafCertificate"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if req.DeviceID == "" {
		return nil, fault.Validation(op, "device id must not be empty")
	}
	if !isIA5String(req.DeviceID) {
		return nil, fault.Validation(op, "device id %q must be printable ASCII without spaces", req.DeviceID)
	}

	keySize := req.KeySize
	if keySize == 0 {
		keySize = a.opts.keySize
	}
	if keySize < MinKeySize {
		return nil, fault.Validation(op, "key size %d is below the minimum of %d", keySize, MinKeySize)
	}

	now := a.opts.now()
	notBefore, notAfter := req.NotBefore, req.NotAfter
	if notBefore.IsZero() {
		notBefore = now
	}
	if notAfter.IsZero() {
		notAfter = notBefore.Add(DefaultLeafValidity)
	}
	if !notAfter.After(notBefore) {
		return nil, fault.Validation(op, "validity window ends before it starts")
	}

	// locate the authority SKI by identifier, never by extension position
	authoritySKI, err := FindExtension(a.cert, OIDSubjectKeyIdentifier)
	if err != nil {
		return nil, fault.AuthorityState(op, "authority certificate has no subject key identifier: %w", err)
	}
	aki, err := AuthorityKeyIdentifier(authoritySKI)
	if err != nil {
		return nil, fault.AuthorityState(op, "%w", err)
	}

	key, err := rsa.GenerateKey(a.opts.rand, keySize)
	if err != nil {
		return nil, fault.Crypto(op, "failed to generate device key: %w", err)
	}

	exts, err := leafExtensions(&key.PublicKey, req.DeviceID)
	if err != nil {
		return nil, fault.Crypto(op, "failed to build device extensions: %w", err)
	}
	exts = append(exts, aki)

	serial, err := newSerialNumber(a.opts.rand)
	if err != nil {
		return nil, fault.Crypto(op, "%w", err)
	}

	template := &x509.Certificate{
		SerialNumber:    serial,
		Subject:         pkix.Name{CommonName: req.DeviceID},
		NotBefore:       notBefore,
		NotAfter:        notAfter,
		ExtraExtensions: exts,
	}

	certDER, err := a.SignCertificate(template, &key.PublicKey)
	if err != nil {
		return nil, fault.Crypto(op, "failed to sign device certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fault.Crypto(op, "failed to parse device certificate: %w", err)
	}

	issued, err := newIssuedCertificate(req.DeviceID, cert, key, []*x509.Certificate{a.cert})
	if err != nil {
		return nil, fault.Crypto(op, "%w", err)
	}

	log.Debug().
		Str("deviceID", req.DeviceID).
		Str("serial", cert.SerialNumber.Text(16)).
		Str("fingerprint", issued.Fingerprint()).
		Time("notAfter", cert.NotAfter).
		Msg("issued device certificate")

	return issued, nil
}

// leafExtensions returns the device extension set in policy order. The
// authority key identifier is appended by the caller.
func leafExtensions(pub *rsa.PublicKey, deviceID string) ([]pkix.Extension, error) {
	bc, err := BasicConstraints(false, -1, true)
	if err != nil {
		return nil, err
	}
	ku, err := KeyUsage(x509.KeyUsageDigitalSignature|x509.KeyUsageKeyEncipherment, false)
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
	san, err := SubjectAltName(deviceID)
	if err != nil {
		return nil, err
	}
	return []pkix.Extension{bc, ku, eku, ski, san}, nil
}

func kindName(err error) string {
	switch fault.KindOf(err) {
	case fault.ErrValidation:
		return "validation"
	case fault.ErrAuthorityState:
		return "authority_state"
	case fault.ErrCrypto:
		return "crypto"
	case nil:
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "cancelled"
		}
		return "other"
	default:
		return "other"
	}
}
