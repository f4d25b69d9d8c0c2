package enrollment

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wolfeidau/fleetprov/internal/fault"
	"github.com/wolfeidau/fleetprov/internal/pki"
	"github.com/wolfeidau/fleetprov/internal/telemetry"
)

// RegistrationResult is the provisioning service's answer to a registration.
type RegistrationResult struct {
	Status       Status `json:"status"`
	AssignedHub  string `json:"assigned_hub,omitempty"`
	DeviceID     string `json:"device_id,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// ProvisioningService registers devices within an id scope.
type ProvisioningService interface {
	Register(ctx context.Context, idScope string, proof SecurityProof) (*RegistrationResult, error)
}

// AuthKind identifies how a device authenticates to its assigned hub.
type AuthKind int

const (
	AuthUnknown AuthKind = iota
	AuthCertificate
	AuthModule
)

func (k AuthKind) String() string {
	switch k {
	case AuthCertificate:
		return "certificate"
	case AuthModule:
		return "module"
	default:
		return "unknown"
	}
}

// CertificateCredential authenticates a device with its X.509 certificate.
type CertificateCredential struct {
	DeviceID    string
	Certificate *x509.Certificate
	Chain       []*x509.Certificate
	PrivateKey  crypto.Signer
}

// ModuleCredential authenticates a device with its hardware module.
type ModuleCredential struct {
	DeviceID string
	Module   ModuleHandle
}

// AuthenticationMethod holds exactly one credential, selected by Kind.
type AuthenticationMethod struct {
	Kind        AuthKind
	Certificate *CertificateCredential
	Module      *ModuleCredential
}

// DeviceID returns the hub device id of whichever credential is set.
func (a AuthenticationMethod) DeviceID() string {
	switch a.Kind {
	case AuthCertificate:
		return a.Certificate.DeviceID
	case AuthModule:
		return a.Module.DeviceID
	default:
		return ""
	}
}

// ConnectionParameters are what a device needs to connect to its assigned hub.
type ConnectionParameters struct {
	AssignedHub string
	Auth        AuthenticationMethod
}

// Client enrolls devices with a provisioning service.
// It is safe for concurrent use; each Enroll call uses its own Session.
type Client struct {
	service ProvisioningService
	idScope string
}

// NewClient creates an enrollment client for the given id scope.
func NewClient(service ProvisioningService, idScope string) (*Client, error) {
	if service == nil {
		return nil, errors.New("provisioning service is required")
	}
	if idScope == "" {
		return nil, fault.Validation("enrollment.NewClient", "id scope must not be empty")
	}
	return &Client{service: service, idScope: idScope}, nil
}

// IDScope returns the scope devices are enrolled into.
func (c *Client) IDScope() string {
	return c.idScope
}

// EnrollCertificate enrolls a device using an issued certificate as proof.
func (c *Client) EnrollCertificate(ctx context.Context, issued *pki.IssuedCertificate) (*ConnectionParameters, error) {
	if issued == nil || issued.Certificate == nil {
		return nil, fault.Validation("enrollment.EnrollCertificate", "issued certificate is required")
	}
	return c.Enroll(ctx, NewX509Proof(issued))
}

// Enroll registers the device once and maps the outcome to connection
// parameters. It does not retry; callers own the retry policy.
func (c *Client) Enroll(ctx context.Context, proof SecurityProof) (*ConnectionParameters, error) {
	return c.EnrollSession(ctx, NewSession(), proof)
}

// EnrollSession is Enroll with a caller supplied session, which must be
// Unregistered, so that the caller can observe the final state.
func (c *Client) EnrollSession(ctx context.Context, session *Session, proof SecurityProof) (*ConnectionParameters, error) {
	const op = "enrollment.Enroll"

	if err := checkProof(proof); err != nil {
		return nil, err
	}

	registrationID := proof.RegistrationID()
	if err := ValidateRegistrationID(registrationID); err != nil {
		return nil, err
	}

	if err := session.begin(registrationID); err != nil {
		return nil, fault.Validation(op, "%w", err)
	}

	logger := log.With().
		Str("registrationID", registrationID).
		Str("idScope", c.idScope).
		Stringer("proof", proof.Kind).
		Logger()
	logger.Debug().Msg("registering device")

	metrics := telemetry.GetMetrics()
	started := time.Now()

	result, err := c.service.Register(ctx, c.idScope, proof)
	metrics.EnrollmentDuration.Record(ctx, float64(time.Since(started).Milliseconds()))
	if err != nil {
		session.finish(StatusFailed, "")
		c.record(ctx, StatusFailed)
		return nil, &ProvisioningError{RegistrationID: registrationID, Status: StatusFailed, Err: err}
	}
	if result == nil {
		session.finish(StatusFailed, "")
		c.record(ctx, StatusFailed)
		return nil, &ProvisioningError{RegistrationID: registrationID, Status: StatusFailed, Err: errors.New("empty registration result")}
	}

	if result.Status == StatusAssigned && (result.AssignedHub == "" || result.DeviceID == "") {
		session.finish(StatusFailed, "")
		c.record(ctx, StatusFailed)
		return nil, &ProvisioningError{
			RegistrationID: registrationID,
			Status:         StatusFailed,
			Err:            fmt.Errorf("assignment is missing hub %q or device id %q", result.AssignedHub, result.DeviceID),
		}
	}

	session.finish(result.Status, result.AssignedHub)
	c.record(ctx, result.Status)

	if result.Status != StatusAssigned {
		var cause error
		if result.ErrorMessage != "" {
			cause = errors.New(result.ErrorMessage)
		}
		logger.Warn().Stringer("status", result.Status).Msg("device was not assigned")
		return nil, &ProvisioningError{RegistrationID: registrationID, Status: result.Status, Err: cause}
	}

	auth, err := credentialFor(proof, result.DeviceID)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("assignedHub", result.AssignedHub).
		Str("deviceID", result.DeviceID).
		Msg("device assigned")

	return &ConnectionParameters{
		AssignedHub: result.AssignedHub,
		Auth:        auth,
	}, nil
}

func (c *Client) record(ctx context.Context, status Status) {
	metrics := telemetry.GetMetrics()
	metrics.EnrollmentsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status.String())))
	if status != StatusAssigned {
		metrics.EnrollmentErrorsTotal.Add(ctx, 1)
	}
}

func checkProof(proof SecurityProof) error {
	const op = "enrollment.Enroll"

	switch proof.Kind {
	case ProofX509:
		if proof.X509 == nil || proof.X509.Certificate == nil {
			return fault.Validation(op, "x509 proof requires a certificate")
		}
	case ProofModule:
		if proof.Module == nil {
			return fault.Validation(op, "module proof requires a module handle")
		}
	default:
		return fault.Unsupported(op, "security proof kind %s", proof.Kind)
	}
	return nil
}

// credentialFor maps the proof used for registration to the matching
// credential variant.
func credentialFor(proof SecurityProof, deviceID string) (AuthenticationMethod, error) {
	switch proof.Kind {
	case ProofX509:
		return AuthenticationMethod{
			Kind: AuthCertificate,
			Certificate: &CertificateCredential{
				DeviceID:    deviceID,
				Certificate: proof.X509.Certificate,
				Chain:       proof.X509.Chain,
				PrivateKey:  proof.X509.PrivateKey,
			},
		}, nil
	case ProofModule:
		return AuthenticationMethod{
			Kind: AuthModule,
			Module: &ModuleCredential{
				DeviceID: deviceID,
				Module:   proof.Module,
			},
		}, nil
	default:
		return AuthenticationMethod{}, fault.Unsupported("enrollment.Enroll", "security proof kind %s", proof.Kind)
	}
}
