package provisioning

import (
	"context"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/minio/crc64nvme"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wolfeidau/fleetprov/internal/enrollment"
	"github.com/wolfeidau/fleetprov/internal/pki"
	"github.com/wolfeidau/fleetprov/internal/store"
	"github.com/wolfeidau/fleetprov/internal/telemetry"
)

var _ enrollment.ProvisioningService = (*Registrar)(nil)

type enrollmentGroup struct {
	name      string
	authority *x509.Certificate
	disabled  bool
}

type moduleEnrollment struct {
	endorsementKey []byte
	disabled       bool
}

// Registrar decides device registrations in process. Devices proving
// membership of an enrollment group, or matching a module enrollment, are
// assigned a hub; the assignment is sticky across repeat registrations.
type Registrar struct {
	idScope  string
	hubs     []string
	groups   []enrollmentGroup
	modules  map[string]moduleEnrollment
	disabled map[string]struct{}
	store    store.RegistrationStore
}

// NewRegistrar builds a registrar from a validated config.
func NewRegistrar(cfg *Config, registrations store.RegistrationStore) (*Registrar, error) {
	if cfg == nil {
		return nil, errors.New("provisioning config is required")
	}
	if registrations == nil {
		return nil, errors.New("registration store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Registrar{
		idScope:  cfg.IDScope,
		hubs:     slices.Clone(cfg.Hubs),
		modules:  make(map[string]moduleEnrollment, len(cfg.ModuleEnrollments)),
		disabled: make(map[string]struct{}, len(cfg.DisabledDevices)),
		store:    registrations,
	}

	for _, group := range cfg.EnrollmentGroups {
		authority, err := pki.ParseCertificatePEM([]byte(group.Certificate))
		if err != nil {
			return nil, fmt.Errorf("enrollment group %q: %w", group.Name, err)
		}
		r.groups = append(r.groups, enrollmentGroup{name: group.Name, authority: authority, disabled: group.Disabled})
	}

	for _, module := range cfg.ModuleEnrollments {
		ek, err := base64.StdEncoding.DecodeString(module.EndorsementKey)
		if err != nil {
			return nil, fmt.Errorf("module enrollment %q: %w", module.RegistrationID, err)
		}
		r.modules[module.RegistrationID] = moduleEnrollment{endorsementKey: ek, disabled: module.Disabled}
	}

	for _, id := range cfg.DisabledDevices {
		r.disabled[strings.ToLower(id)] = struct{}{}
	}

	return r, nil
}

// Register decides the outcome of one registration. Rejections are
// reported through the result status; errors are reserved for store
// failures.
func (r *Registrar) Register(ctx context.Context, idScope string, proof enrollment.SecurityProof) (*enrollment.RegistrationResult, error) {
	registrationID := proof.RegistrationID()
	logger := log.With().
		Str("registrationID", registrationID).
		Stringer("proof", proof.Kind).
		Logger()

	if idScope != r.idScope {
		return r.reject(ctx, enrollment.StatusFailed, "unknown id scope %q", idScope)
	}
	if err := enrollment.ValidateRegistrationID(registrationID); err != nil {
		return r.reject(ctx, enrollment.StatusFailed, "%v", err)
	}

	reg := &store.Registration{
		RegistrationID: registrationID,
		DeviceID:       registrationID,
		ProofKind:      proof.Kind.String(),
	}

	switch proof.Kind {
	case enrollment.ProofX509:
		group, ok := r.groupFor(proof.X509.Certificate)
		if !ok {
			return r.reject(ctx, enrollment.StatusFailed, "no enrollment group trusts %s", pki.Describe(proof.X509.Certificate))
		}
		if group.disabled {
			return r.reject(ctx, enrollment.StatusDisabled, "enrollment group %q is disabled", group.name)
		}
		reg.EnrollmentName = group.name
		reg.ApplyCertificate(proof.X509.Certificate)
	case enrollment.ProofModule:
		module, ok := r.modules[registrationID]
		if !ok || subtle.ConstantTimeCompare(module.endorsementKey, proof.Module.EndorsementKey()) != 1 {
			return r.reject(ctx, enrollment.StatusFailed, "no module enrollment matches %q", registrationID)
		}
		if module.disabled {
			return r.reject(ctx, enrollment.StatusDisabled, "module enrollment %q is disabled", registrationID)
		}
		reg.EnrollmentName = "module:" + enrollment.EndorsementKeyFingerprint(module.endorsementKey)
	default:
		return r.reject(ctx, enrollment.StatusFailed, "unsupported proof kind %s", proof.Kind)
	}

	if _, ok := r.disabled[registrationID]; ok {
		return r.reject(ctx, enrollment.StatusDisabled, "device %q is disabled", registrationID)
	}

	reg.AssignedHub = r.AllocateHub(registrationID)
	if existing, err := r.store.Get(ctx, registrationID); err == nil && slices.Contains(r.hubs, existing.AssignedHub) {
		reg.AssignedHub = existing.AssignedHub
	} else if err != nil && !errors.Is(err, store.ErrRegistrationNotFound) {
		return nil, fmt.Errorf("failed to load registration: %w", err)
	}

	if err := r.store.Put(ctx, reg); err != nil {
		return nil, fmt.Errorf("failed to store registration: %w", err)
	}

	r.record(ctx, enrollment.StatusAssigned)
	logger.Info().
		Str("assignedHub", reg.AssignedHub).
		Str("enrollment", reg.EnrollmentName).
		Msg("device assigned")

	return &enrollment.RegistrationResult{
		Status:      enrollment.StatusAssigned,
		AssignedHub: reg.AssignedHub,
		DeviceID:    reg.DeviceID,
	}, nil
}

// AllocateHub maps a registration id onto the hub list, evenly weighted.
func (r *Registrar) AllocateHub(registrationID string) string {
	sum := crc64nvme.Checksum([]byte(registrationID))
	return r.hubs[sum%uint64(len(r.hubs))]
}

func (r *Registrar) groupFor(leaf *x509.Certificate) (enrollmentGroup, bool) {
	for _, group := range r.groups {
		if err := pki.CheckChain(group.authority, leaf); err == nil {
			return group, true
		}
	}
	return enrollmentGroup{}, false
}

func (r *Registrar) reject(ctx context.Context, status enrollment.Status, format string, args ...any) (*enrollment.RegistrationResult, error) {
	msg := fmt.Sprintf(format, args...)
	r.record(ctx, status)
	log.Warn().Stringer("status", status).Str("reason", msg).Msg("registration rejected")
	return &enrollment.RegistrationResult{Status: status, ErrorMessage: msg}, nil
}

func (r *Registrar) record(ctx context.Context, status enrollment.Status) {
	telemetry.GetMetrics().RegistrationsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status.String())))
}
