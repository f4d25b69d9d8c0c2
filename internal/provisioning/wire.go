package provisioning

import (
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/wolfeidau/fleetprov/internal/enrollment"
	"github.com/wolfeidau/fleetprov/internal/fault"
)

const (
	// ServiceName is the fully-qualified name of the device registration service.
	ServiceName = "provisioning.v1.DeviceRegistrationService"

	// RegisterProcedure is the path of the Register RPC.
	RegisterProcedure = "/" + ServiceName + "/Register"
)

// RegisterRequest carries a device's security proof to the provisioning
// service. CertificateChain is DER encoded with the device leaf first.
type RegisterRequest struct {
	IDScope          string               `json:"id_scope"`
	RegistrationID   string               `json:"registration_id"`
	ProofKind        enrollment.ProofKind `json:"proof_kind"`
	CertificateChain [][]byte             `json:"certificate_chain,omitempty"`
	EndorsementKey   []byte               `json:"endorsement_key,omitempty"`
	StorageRootKey   []byte               `json:"storage_root_key,omitempty"`
}

func newRegisterRequest(idScope string, proof enrollment.SecurityProof) (*RegisterRequest, error) {
	const op = "provisioning.Register"

	req := &RegisterRequest{
		IDScope:        idScope,
		RegistrationID: proof.RegistrationID(),
		ProofKind:      proof.Kind,
	}

	switch proof.Kind {
	case enrollment.ProofX509:
		if proof.X509 == nil || proof.X509.Certificate == nil {
			return nil, fault.Validation(op, "x509 proof requires a certificate")
		}
		req.CertificateChain = append(req.CertificateChain, proof.X509.Certificate.Raw)
		for _, cert := range proof.X509.Chain {
			req.CertificateChain = append(req.CertificateChain, cert.Raw)
		}
	case enrollment.ProofModule:
		if proof.Module == nil {
			return nil, fault.Validation(op, "module proof requires a module handle")
		}
		req.EndorsementKey = proof.Module.EndorsementKey()
		req.StorageRootKey = proof.Module.StorageRootKey()
	default:
		return nil, fault.Unsupported(op, "security proof kind %s", proof.Kind)
	}

	return req, nil
}

// SecurityProof rebuilds the proof presented by the device. Module proofs
// carry only public material.
func (r *RegisterRequest) SecurityProof() (enrollment.SecurityProof, error) {
	switch r.ProofKind {
	case enrollment.ProofX509:
		if len(r.CertificateChain) == 0 {
			return enrollment.SecurityProof{}, errors.New("certificate chain is empty")
		}
		certs := make([]*x509.Certificate, 0, len(r.CertificateChain))
		for i, der := range r.CertificateChain {
			cert, err := x509.ParseCertificate(der)
			if err != nil {
				return enrollment.SecurityProof{}, fmt.Errorf("failed to parse certificate %d: %w", i, err)
			}
			certs = append(certs, cert)
		}
		return enrollment.SecurityProof{
			Kind: enrollment.ProofX509,
			X509: &enrollment.X509Proof{Certificate: certs[0], Chain: certs[1:]},
		}, nil
	case enrollment.ProofModule:
		if len(r.EndorsementKey) == 0 {
			return enrollment.SecurityProof{}, errors.New("endorsement key is empty")
		}
		return enrollment.NewModuleProof(&enrollment.SimulatedModule{
			ID:  r.RegistrationID,
			EK:  r.EndorsementKey,
			SRK: r.StorageRootKey,
		}), nil
	default:
		return enrollment.SecurityProof{}, fmt.Errorf("unsupported proof kind %s", r.ProofKind)
	}
}
