package pki

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/fleetprov/internal/fault"
)

// fakeKMS signs with an in-memory key the way KMS does for RSASSA_PKCS1_V1_5_SHA_256.
type fakeKMS struct {
	key crypto.Signer

	mu    sync.Mutex
	signs []*kms.SignInput
}

func (f *fakeKMS) GetPublicKey(_ context.Context, params *kms.GetPublicKeyInput, _ ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error) {
	der, err := x509.MarshalPKIXPublicKey(f.key.Public())
	if err != nil {
		return nil, err
	}
	return &kms.GetPublicKeyOutput{KeyId: params.KeyId, PublicKey: der}, nil
}

func (f *fakeKMS) Sign(_ context.Context, params *kms.SignInput, _ ...func(*kms.Options)) (*kms.SignOutput, error) {
	f.mu.Lock()
	f.signs = append(f.signs, params)
	f.mu.Unlock()

	sig, err := f.key.Sign(rand.Reader, params.Message, crypto.SHA256)
	if err != nil {
		return nil, err
	}
	return &kms.SignOutput{KeyId: params.KeyId, Signature: sig}, nil
}

type failingKMS struct{ fakeKMS }

func (f *failingKMS) GetPublicKey(context.Context, *kms.GetPublicKeyInput, ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error) {
	return nil, errors.New("AccessDeniedException")
}

func TestKMSAuthority(t *testing.T) {
	authority, key := testAuthority(t)
	client := &fakeKMS{key: key}

	kmsAuthority, err := newKMSAuthority(context.Background(), client, "alias/fleet-intermediate", EncodeCertificatePEM(authority.Certificate()))
	require.NoError(t, err)

	issued := issueTestCertificate(t, kmsAuthority, "device-kms")
	require.True(t, VerifyChain(authority.Certificate(), issued.Certificate))

	require.Len(t, client.signs, 1)
	require.Equal(t, "alias/fleet-intermediate", aws.ToString(client.signs[0].KeyId))
	require.Equal(t, types.MessageTypeDigest, client.signs[0].MessageType)
	require.Equal(t, types.SigningAlgorithmSpecRsassaPkcs1V15Sha256, client.signs[0].SigningAlgorithm)
}

func TestKMSAuthorityErrors(t *testing.T) {
	authority, key := testAuthority(t)
	certPEM := EncodeCertificatePEM(authority.Certificate())

	t.Run("invalid certificate PEM", func(t *testing.T) {
		_, err := newKMSAuthority(context.Background(), &fakeKMS{key: key}, "alias/fleet", []byte("not pem"))
		require.ErrorIs(t, err, fault.ErrAuthorityState)
	})

	t.Run("public key lookup fails", func(t *testing.T) {
		_, err := newKMSAuthority(context.Background(), &failingKMS{}, "alias/fleet", certPEM)
		require.ErrorIs(t, err, fault.ErrAuthorityState)
	})

	t.Run("key does not match certificate", func(t *testing.T) {
		other, err := rsa.GenerateKey(rand.Reader, testKeySize)
		require.NoError(t, err)

		_, err = newKMSAuthority(context.Background(), &fakeKMS{key: other}, "alias/fleet", certPEM)
		require.ErrorIs(t, err, fault.ErrAuthorityState)
	})

	t.Run("non RSA key", func(t *testing.T) {
		ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)

		_, err = NewKMSCryptoSigner(context.Background(), &fakeKMS{key: ecKey}, "alias/fleet")
		require.Error(t, err)
	})
}

func TestKMSCryptoSignerRejectsPSS(t *testing.T) {
	_, key := testAuthority(t)

	signer, err := NewKMSCryptoSigner(context.Background(), &fakeKMS{key: key}, "alias/fleet")
	require.NoError(t, err)

	digest := make([]byte, 32)
	_, err = signer.Sign(rand.Reader, digest, &rsa.PSSOptions{Hash: crypto.SHA256})
	require.Error(t, err)

	_, err = signer.Sign(rand.Reader, digest, crypto.SHA512)
	require.Error(t, err)
}
