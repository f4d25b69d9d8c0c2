package pki

import (
	"context"
	"crypto/rsa"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const testKeySize = 2048

var (
	sharedAuthorityOnce sync.Once
	sharedAuthority     *Authority
	sharedAuthorityKey  *rsa.PrivateKey
	sharedAuthorityErr  error
)

// testAuthority returns a self-signed authority shared across tests in this package.
func testAuthority(t *testing.T) (*Authority, *rsa.PrivateKey) {
	t.Helper()

	sharedAuthorityOnce.Do(func() {
		sharedAuthority, sharedAuthorityKey, sharedAuthorityErr = CreateSelfSignedAuthority("Test Fleet CA", WithKeySize(testKeySize))
	})
	require.NoError(t, sharedAuthorityErr)

	return sharedAuthority, sharedAuthorityKey
}

func issueTestCertificate(t *testing.T, authority *Authority, deviceID string) *IssuedCertificate {
	t.Helper()

	issued, err := authority.IssueLeafCertificate(context.Background(), DeviceCertificateRequest{
		DeviceID: deviceID,
		KeySize:  testKeySize,
	})
	require.NoError(t, err)

	return issued
}
