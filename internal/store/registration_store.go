package store

import (
	"context"
	"crypto/x509"
	"errors"
	"time"

	"github.com/wolfeidau/fleetprov/internal/pki"
)

// Registration records a device assignment made by the provisioning service.
type Registration struct {
	RegistrationID string    `json:"registration_id"`
	DeviceID       string    `json:"device_id"`
	AssignedHub    string    `json:"assigned_hub"`
	ProofKind      string    `json:"proof_kind"`
	EnrollmentName string    `json:"enrollment_name,omitempty"`
	Fingerprint    string    `json:"fingerprint,omitempty"` // base58 SHA-256 of the device certificate
	SubjectDN      string    `json:"subject_dn,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	Attempts       int       `json:"attempts"`
}

// RegistrationStore persists device registrations keyed by registration id.
type RegistrationStore interface {
	// Get retrieves a registration by registration id
	Get(ctx context.Context, registrationID string) (*Registration, error)

	// GetByFingerprint retrieves the registration made with a certificate
	GetByFingerprint(ctx context.Context, fingerprint string) (*Registration, error)

	// Put creates or replaces a registration, counting repeat attempts
	Put(ctx context.Context, reg *Registration) error

	// Delete removes a registration so the device can be re-assigned
	Delete(ctx context.Context, registrationID string) error

	// List returns all registrations, optionally filtered by hub
	List(ctx context.Context, opts ListRegistrationsOptions) ([]*Registration, error)
}

// ListRegistrationsOptions specifies filters for listing registrations
type ListRegistrationsOptions struct {
	AssignedHub string // Filter by hub (empty = all)
	Limit       int    // Max results (0 = all)
}

var (
	ErrRegistrationNotFound = errors.New("registration not found")
	ErrInvalidRegistration  = errors.New("registration id is required")
	ErrThrottled            = errors.New("AWS request throttled")
)

// ApplyCertificate fills the certificate derived fields of a registration.
func (r *Registration) ApplyCertificate(cert *x509.Certificate) {
	if cert == nil {
		return
	}
	r.Fingerprint = pki.Fingerprint(cert)
	r.SubjectDN = cert.Subject.String()
}
