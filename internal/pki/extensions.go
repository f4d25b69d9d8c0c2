package pki

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha1" // #nosec G505 - RFC 5280 key identifier method 1
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// ErrMalformedExtension is returned when an extension payload cannot be decoded.
var ErrMalformedExtension = errors.New("malformed extension")

var (
	tagKeyIdentifier = cryptobyte_asn1.Tag(0).ContextSpecific()
	tagDNSName       = cryptobyte_asn1.Tag(2).ContextSpecific()
)

func marshal(f cryptobyte.BuilderContinuation) ([]byte, error) {
	var b cryptobyte.Builder
	f(&b)
	return b.Bytes()
}

// BasicConstraints builds a basic constraints extension. A negative pathLen
// omits the path length constraint.
func BasicConstraints(isCA bool, pathLen int, critical bool) (pkix.Extension, error) {
	value, err := marshal(func(b *cryptobyte.Builder) {
		b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
			// cA is DEFAULT FALSE so DER omits it unless set
			if isCA {
				b.AddASN1Boolean(true)
			}
			if isCA && pathLen >= 0 {
				b.AddASN1Int64(int64(pathLen))
			}
		})
	})
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("failed to encode basic constraints: %w", err)
	}
	return pkix.Extension{Id: OIDBasicConstraints, Critical: critical, Value: value}, nil
}

// KeyUsage builds a key usage extension from x509.KeyUsage flags.
func KeyUsage(usage x509.KeyUsage, critical bool) (pkix.Extension, error) {
	if usage == 0 {
		return pkix.Extension{}, errors.New("key usage must not be empty")
	}

	// bit i of the named bit list is x509.KeyUsage 1<<i
	var bits [2]byte
	for i := range 9 {
		if usage&(1<<i) != 0 {
			bits[i/8] |= 0x80 >> (i % 8)
		}
	}
	if bits[0] == 0 && bits[1] == 0 {
		return pkix.Extension{}, fmt.Errorf("unknown key usage %d", usage)
	}
	data := bits[:1]
	if bits[1] != 0 {
		data = bits[:2]
	}
	last := data[len(data)-1]
	unused := 0
	for last&(1<<unused) == 0 {
		unused++
	}

	value, err := marshal(func(b *cryptobyte.Builder) {
		b.AddASN1(cryptobyte_asn1.BIT_STRING, func(b *cryptobyte.Builder) {
			b.AddUint8(uint8(unused))
			b.AddBytes(data)
		})
	})
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("failed to encode key usage: %w", err)
	}
	return pkix.Extension{Id: OIDKeyUsage, Critical: critical, Value: value}, nil
}

// ExtendedKeyUsage builds an extended key usage extension listing purposes in order.
func ExtendedKeyUsage(purposes []asn1.ObjectIdentifier, critical bool) (pkix.Extension, error) {
	if len(purposes) == 0 {
		return pkix.Extension{}, errors.New("extended key usage must not be empty")
	}

	value, err := marshal(func(b *cryptobyte.Builder) {
		b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
			for _, oid := range purposes {
				b.AddASN1ObjectIdentifier(oid)
			}
		})
	})
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("failed to encode extended key usage: %w", err)
	}
	return pkix.Extension{Id: OIDExtendedKeyUsage, Critical: critical, Value: value}, nil
}

// SubjectKeyIdentifier builds a non-critical subject key identifier
// extension derived from pub.
func SubjectKeyIdentifier(pub crypto.PublicKey) (pkix.Extension, error) {
	keyID, err := KeyIdentifier(pub)
	if err != nil {
		return pkix.Extension{}, err
	}

	value, err := marshal(func(b *cryptobyte.Builder) {
		b.AddASN1OctetString(keyID)
	})
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("failed to encode subject key identifier: %w", err)
	}
	return pkix.Extension{Id: OIDSubjectKeyIdentifier, Value: value}, nil
}

// KeyIdentifier returns the SHA-1 hash of the subject public key bits.
// For RSA keys these are the PKCS#1 encoded public key.
func KeyIdentifier(pub crypto.PublicKey) ([]byte, error) {
	if rsaPub, ok := pub.(*rsa.PublicKey); ok {
		sum := sha1.Sum(x509.MarshalPKCS1PublicKey(rsaPub)) // #nosec G401
		return sum[:], nil
	}

	spki, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}

	input := cryptobyte.String(spki)
	var info, bits cryptobyte.String
	if !input.ReadASN1(&info, cryptobyte_asn1.SEQUENCE) ||
		!info.SkipASN1(cryptobyte_asn1.SEQUENCE) ||
		!info.ReadASN1(&bits, cryptobyte_asn1.BIT_STRING) ||
		len(bits) < 2 {
		return nil, errors.New("failed to read subject public key bits")
	}

	// skip the unused bits octet
	sum := sha1.Sum(bits[1:]) // #nosec G401
	return sum[:], nil
}

// KeyIdentifierFromSKI strips the OCTET STRING header from a subject key
// identifier extension and returns the raw key identifier.
func KeyIdentifierFromSKI(ext pkix.Extension) ([]byte, error) {
	if !ext.Id.Equal(OIDSubjectKeyIdentifier) {
		return nil, fmt.Errorf("%w: %s is not a subject key identifier", ErrMalformedExtension, ext.Id)
	}

	input := cryptobyte.String(ext.Value)
	var keyID cryptobyte.String
	if !input.ReadASN1(&keyID, cryptobyte_asn1.OCTET_STRING) || !input.Empty() || len(keyID) == 0 {
		return nil, fmt.Errorf("%w: invalid subject key identifier", ErrMalformedExtension)
	}
	return []byte(keyID), nil
}

// KeyIdentifierFromAKI returns the keyIdentifier field of an authority key
// identifier extension.
func KeyIdentifierFromAKI(ext pkix.Extension) ([]byte, error) {
	if !ext.Id.Equal(OIDAuthorityKeyIdentifier) {
		return nil, fmt.Errorf("%w: %s is not an authority key identifier", ErrMalformedExtension, ext.Id)
	}

	input := cryptobyte.String(ext.Value)
	var seq, keyID cryptobyte.String
	var present bool
	if !input.ReadASN1(&seq, cryptobyte_asn1.SEQUENCE) || !input.Empty() ||
		!seq.ReadOptionalASN1(&keyID, &present, tagKeyIdentifier) {
		return nil, fmt.Errorf("%w: invalid authority key identifier", ErrMalformedExtension)
	}
	if !present || len(keyID) == 0 {
		return nil, fmt.Errorf("%w: authority key identifier has no keyIdentifier", ErrMalformedExtension)
	}
	return []byte(keyID), nil
}

// EncodeAuthorityKeyIdentifier encodes keyID as
//
//	AuthorityKeyIdentifier ::= SEQUENCE { keyIdentifier [0] IMPLICIT OCTET STRING }
//
// For a 20 byte identifier the result starts 30 16 80 14.
func EncodeAuthorityKeyIdentifier(keyID []byte) ([]byte, error) {
	if len(keyID) == 0 {
		return nil, errors.New("key identifier must not be empty")
	}

	return marshal(func(b *cryptobyte.Builder) {
		b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1(tagKeyIdentifier, func(b *cryptobyte.Builder) {
				b.AddBytes(keyID)
			})
		})
	})
}

// AuthorityKeyIdentifier derives a non-critical authority key identifier
// extension from the issuer's subject key identifier extension.
func AuthorityKeyIdentifier(issuerSKI pkix.Extension) (pkix.Extension, error) {
	keyID, err := KeyIdentifierFromSKI(issuerSKI)
	if err != nil {
		return pkix.Extension{}, err
	}

	value, err := EncodeAuthorityKeyIdentifier(keyID)
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("failed to encode authority key identifier: %w", err)
	}
	return pkix.Extension{Id: OIDAuthorityKeyIdentifier, Value: value}, nil
}

// SubjectAltName builds a non-critical subject alternative name extension
// holding one dNSName entry per name.
func SubjectAltName(dnsNames ...string) (pkix.Extension, error) {
	if len(dnsNames) == 0 {
		return pkix.Extension{}, errors.New("subject alternative name needs at least one name")
	}
	for _, name := range dnsNames {
		if !isIA5String(name) {
			return pkix.Extension{}, fmt.Errorf("%q is not a valid dNSName", name)
		}
	}

	value, err := marshal(func(b *cryptobyte.Builder) {
		b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
			for _, name := range dnsNames {
				b.AddASN1(tagDNSName, func(b *cryptobyte.Builder) {
					b.AddBytes([]byte(name))
				})
			}
		})
	})
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("failed to encode subject alternative name: %w", err)
	}
	return pkix.Extension{Id: OIDSubjectAltName, Value: value}, nil
}

func isIA5String(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7f || s[i] < 0x21 {
			return false
		}
	}
	return true
}
