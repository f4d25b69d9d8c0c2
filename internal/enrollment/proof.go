package enrollment

import (
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/wolfeidau/fleetprov/internal/pki"
)

// ProofKind identifies which security proof a device presents.
type ProofKind int

const (
	ProofUnknown ProofKind = iota
	ProofX509
	ProofModule
)

func (k ProofKind) String() string {
	switch k {
	case ProofX509:
		return "x509"
	case ProofModule:
		return "module"
	default:
		return "unknown"
	}
}

func (k ProofKind) MarshalText() ([]byte, error) {
	if k != ProofX509 && k != ProofModule {
		return nil, fmt.Errorf("unknown proof kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *ProofKind) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "x509":
		*k = ProofX509
	case "module":
		*k = ProofModule
	default:
		return fmt.Errorf("unknown proof kind %q", text)
	}
	return nil
}

// ModuleHandle is a hardware security module able to attest the device
// identity, such as a TPM.
type ModuleHandle interface {
	RegistrationID() string
	EndorsementKey() []byte
	StorageRootKey() []byte
}

// X509Proof is a device certificate, its issuing chain and private key.
type X509Proof struct {
	Certificate *x509.Certificate
	Chain       []*x509.Certificate
	PrivateKey  crypto.Signer
}

// SecurityProof is exactly one of X509 or Module, selected by Kind.
type SecurityProof struct {
	Kind   ProofKind
	X509   *X509Proof
	Module ModuleHandle
}

// NewX509Proof builds a certificate proof from an issued device certificate.
func NewX509Proof(issued *pki.IssuedCertificate) SecurityProof {
	return SecurityProof{
		Kind: ProofX509,
		X509: &X509Proof{
			Certificate: issued.Certificate,
			Chain:       issued.Chain,
			PrivateKey:  issued.PrivateKey,
		},
	}
}

// NewModuleProof builds a hardware module proof.
func NewModuleProof(handle ModuleHandle) SecurityProof {
	return SecurityProof{Kind: ProofModule, Module: handle}
}

// RegistrationID is the lower-cased certificate common name for X509 proofs
// and the module's own registration id for module proofs. It is not validated.
func (p SecurityProof) RegistrationID() string {
	switch p.Kind {
	case ProofX509:
		if p.X509 == nil || p.X509.Certificate == nil {
			return ""
		}
		return strings.ToLower(p.X509.Certificate.Subject.CommonName)
	case ProofModule:
		if p.Module == nil {
			return ""
		}
		return p.Module.RegistrationID()
	default:
		return ""
	}
}

// SimulatedModule is a software stand-in for a hardware module, used for
// development fleets without a TPM.
type SimulatedModule struct {
	ID  string
	EK  []byte
	SRK []byte
}

func (m *SimulatedModule) RegistrationID() string { return m.ID }
func (m *SimulatedModule) EndorsementKey() []byte { return m.EK }
func (m *SimulatedModule) StorageRootKey() []byte { return m.SRK }

// EndorsementKeyFingerprint returns a short hex digest identifying an
// endorsement key in logs and enrollment lists.
func EndorsementKeyFingerprint(ek []byte) string {
	sum := sha256.Sum256(ek)
	return hex.EncodeToString(sum[:8])
}
