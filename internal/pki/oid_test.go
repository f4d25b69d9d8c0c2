package pki

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindExtension(t *testing.T) {
	authority, _ := testAuthority(t)

	t.Run("found by identifier", func(t *testing.T) {
		ext, err := FindExtension(authority.Certificate(), OIDSubjectKeyIdentifier)
		require.NoError(t, err)
		require.True(t, ext.Id.Equal(OIDSubjectKeyIdentifier))
	})

	t.Run("position independent", func(t *testing.T) {
		cert := &x509.Certificate{
			Extensions: []pkix.Extension{
				{Id: OIDKeyUsage, Value: []byte{0x03, 0x02, 0x05, 0xa0}},
				{Id: OIDSubjectKeyIdentifier, Value: []byte{0x04, 0x02, 0x01, 0x02}},
			},
		}

		keyID, err := SubjectKeyID(cert)
		require.NoError(t, err)
		require.Equal(t, []byte{0x01, 0x02}, keyID)
	})

	t.Run("missing extension returns error", func(t *testing.T) {
		cert := &x509.Certificate{
			Subject: pkix.Name{CommonName: "test"},
		}

		_, err := FindExtension(cert, OIDAuthorityKeyIdentifier)
		require.Equal(t, ErrExtensionNotFound, err)

		_, err = AuthorityKeyID(cert)
		require.ErrorIs(t, err, ErrExtensionNotFound)
	})

	t.Run("nil certificate", func(t *testing.T) {
		_, err := FindExtension(nil, OIDSubjectKeyIdentifier)
		require.ErrorIs(t, err, ErrExtensionNotFound)
	})
}

func TestAuthorityKeyID(t *testing.T) {
	authority, _ := testAuthority(t)
	issued := issueTestCertificate(t, authority, "device-aki")

	aki, err := AuthorityKeyID(issued.Certificate)
	require.NoError(t, err)

	ski, err := SubjectKeyID(authority.Certificate())
	require.NoError(t, err)

	require.Equal(t, ski, aki)
}
