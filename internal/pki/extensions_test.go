package pki

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeAuthorityKeyIdentifier(t *testing.T) {
	keyID := bytes.Repeat([]byte{0xab}, 20)

	encoded, err := EncodeAuthorityKeyIdentifier(keyID)
	require.NoError(t, err)

	require.Equal(t, []byte{0x30, 0x16, 0x80, 0x14}, encoded[:4])
	require.Equal(t, keyID, encoded[4:])

	t.Run("empty key id", func(t *testing.T) {
		_, err := EncodeAuthorityKeyIdentifier(nil)
		require.Error(t, err)
	})
}

func TestAuthorityKeyIdentifierFromSKI(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	ski, err := SubjectKeyIdentifier(&key.PublicKey)
	require.NoError(t, err)
	require.False(t, ski.Critical)

	keyID, err := KeyIdentifierFromSKI(ski)
	require.NoError(t, err)
	require.Len(t, keyID, 20)

	aki, err := AuthorityKeyIdentifier(ski)
	require.NoError(t, err)
	require.True(t, aki.Id.Equal(OIDAuthorityKeyIdentifier))
	require.False(t, aki.Critical)

	akiKeyID, err := KeyIdentifierFromAKI(aki)
	require.NoError(t, err)
	require.Equal(t, keyID, akiKeyID)
}

func TestKeyIdentifierFromSKIMalformed(t *testing.T) {
	tests := []struct {
		name string
		ext  pkix.Extension
	}{
		{"wrong oid", pkix.Extension{Id: OIDKeyUsage, Value: []byte{0x04, 0x01, 0x01}}},
		{"not an octet string", pkix.Extension{Id: OIDSubjectKeyIdentifier, Value: []byte{0x30, 0x00}}},
		{"trailing data", pkix.Extension{Id: OIDSubjectKeyIdentifier, Value: []byte{0x04, 0x01, 0x01, 0x00}}},
		{"empty key id", pkix.Extension{Id: OIDSubjectKeyIdentifier, Value: []byte{0x04, 0x00}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := KeyIdentifierFromSKI(tt.ext)
			require.ErrorIs(t, err, ErrMalformedExtension)
		})
	}
}

func TestKeyIdentifierFromAKIMalformed(t *testing.T) {
	t.Run("no keyIdentifier", func(t *testing.T) {
		_, err := KeyIdentifierFromAKI(pkix.Extension{Id: OIDAuthorityKeyIdentifier, Value: []byte{0x30, 0x00}})
		require.ErrorIs(t, err, ErrMalformedExtension)
	})

	t.Run("wrong oid", func(t *testing.T) {
		_, err := KeyIdentifierFromAKI(pkix.Extension{Id: OIDSubjectKeyIdentifier, Value: []byte{0x30, 0x00}})
		require.ErrorIs(t, err, ErrMalformedExtension)
	})
}

func TestBasicConstraints(t *testing.T) {
	t.Run("leaf", func(t *testing.T) {
		ext, err := BasicConstraints(false, -1, true)
		require.NoError(t, err)
		require.True(t, ext.Critical)
		require.Equal(t, []byte{0x30, 0x00}, ext.Value)
	})

	t.Run("authority with zero path length", func(t *testing.T) {
		ext, err := BasicConstraints(true, 0, true)
		require.NoError(t, err)
		require.Equal(t, []byte{0x30, 0x06, 0x01, 0x01, 0xff, 0x02, 0x01, 0x00}, ext.Value)
	})

	t.Run("authority without path length", func(t *testing.T) {
		ext, err := BasicConstraints(true, -1, false)
		require.NoError(t, err)
		require.False(t, ext.Critical)
		require.Equal(t, []byte{0x30, 0x03, 0x01, 0x01, 0xff}, ext.Value)
	})
}

func TestKeyUsage(t *testing.T) {
	tests := []struct {
		name  string
		usage x509.KeyUsage
		want  []byte
	}{
		{"device", x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment, []byte{0x03, 0x02, 0x05, 0xa0}},
		{"authority", x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageCertSign, []byte{0x03, 0x02, 0x02, 0xa4}},
		{"decipher only", x509.KeyUsageDecipherOnly, []byte{0x03, 0x03, 0x07, 0x00, 0x80}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext, err := KeyUsage(tt.usage, false)
			require.NoError(t, err)
			require.Equal(t, tt.want, ext.Value)
			require.True(t, ext.Id.Equal(OIDKeyUsage))
		})
	}

	_, err := KeyUsage(0, false)
	require.Error(t, err)
}

func TestExtendedKeyUsage(t *testing.T) {
	ext, err := ExtendedKeyUsage([]asn1.ObjectIdentifier{OIDClientAuth, OIDServerAuth}, false)
	require.NoError(t, err)

	var purposes []asn1.ObjectIdentifier
	rest, err := asn1.Unmarshal(ext.Value, &purposes)
	require.NoError(t, err)
	require.Empty(t, rest)
	require.Len(t, purposes, 2)
	assert.True(t, purposes[0].Equal(OIDClientAuth))
	assert.True(t, purposes[1].Equal(OIDServerAuth))

	_, err = ExtendedKeyUsage(nil, false)
	require.Error(t, err)
}

func TestSubjectAltName(t *testing.T) {
	ext, err := SubjectAltName("d1")
	require.NoError(t, err)
	require.False(t, ext.Critical)
	require.Equal(t, []byte{0x30, 0x04, 0x82, 0x02, 'd', '1'}, ext.Value)

	for _, name := range []string{"", "abc 123", "dévice"} {
		_, err := SubjectAltName(name)
		require.Error(t, err, name)
	}

	_, err = SubjectAltName()
	require.Error(t, err)
}

func TestKeyIdentifierRSA(t *testing.T) {
	authority, key := testAuthority(t)

	keyID, err := KeyIdentifier(&key.PublicKey)
	require.NoError(t, err)

	sum := sha1.Sum(x509.MarshalPKCS1PublicKey(&key.PublicKey))
	require.Equal(t, sum[:], keyID)
	require.Equal(t, keyID, authority.KeyID())
}
