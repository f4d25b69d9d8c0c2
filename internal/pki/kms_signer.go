package pki

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/wolfeidau/fleetprov/internal/fault"
)

// KMSAPI is the subset of the AWS KMS client used for authority signing.
type KMSAPI interface {
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
}

// NewKMSAuthority creates an authority whose private key is held in AWS KMS.
// The key never leaves KMS - only signing operations are performed.
// The kmsKeyID can be a key ID, key ARN, alias name, or alias ARN.
// The caCertPEM must contain the PEM-encoded authority certificate.
func NewKMSAuthority(ctx context.Context, awsConfig aws.Config, kmsKeyID string, caCertPEM []byte, opts ...Option) (*Authority, error) {
	return newKMSAuthority(ctx, kms.NewFromConfig(awsConfig), kmsKeyID, caCertPEM, opts...)
}

func newKMSAuthority(ctx context.Context, client KMSAPI, kmsKeyID string, caCertPEM []byte, opts ...Option) (*Authority, error) {
	const op = "pki.NewKMSAuthority"

	certBlock, _ := pem.Decode(caCertPEM)
	if certBlock == nil {
		return nil, fault.AuthorityState(op, "failed to decode CA cert PEM")
	}

	caCert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fault.AuthorityState(op, "failed to parse CA certificate: %w", err)
	}

	signer, err := NewKMSCryptoSigner(ctx, client, kmsKeyID)
	if err != nil {
		return nil, fault.AuthorityState(op, "%w", err)
	}

	return NewAuthority(caCert, signer, opts...)
}

// NewKMSCryptoSigner creates a crypto.Signer backed by an RSA key in AWS KMS.
func NewKMSCryptoSigner(ctx context.Context, client KMSAPI, kmsKeyID string) (crypto.Signer, error) {
	pubKeyOutput, err := client.GetPublicKey(ctx, &kms.GetPublicKeyInput{
		KeyId: aws.String(kmsKeyID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get public key from KMS: %w", err)
	}

	// KMS returns the public key DER-encoded
	kmsPublicKey, err := x509.ParsePKIXPublicKey(pubKeyOutput.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse KMS public key: %w", err)
	}

	rsaPubKey, ok := kmsPublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("KMS key is not RSA (got %T)", kmsPublicKey)
	}

	return &kmsCryptoSigner{
		kmsClient: client,
		kmsKeyID:  kmsKeyID,
		publicKey: rsaPubKey,
		ctx:       ctx,
	}, nil
}

// kmsCryptoSigner implements crypto.Signer using AWS KMS
type kmsCryptoSigner struct {
	kmsClient KMSAPI
	kmsKeyID  string
	publicKey *rsa.PublicKey
	ctx       context.Context
}

// Public returns the public key
func (k *kmsCryptoSigner) Public() crypto.PublicKey {
	return k.publicKey
}

// Sign signs the SHA-256 digest with RSASSA-PKCS1-v1_5 in KMS. The signature
// is returned as is since KMS already produces the PKCS#1 v1.5 encoding.
func (k *kmsCryptoSigner) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	if _, ok := opts.(*rsa.PSSOptions); ok {
		return nil, fmt.Errorf("KMS signer does not support RSA-PSS")
	}
	if opts.HashFunc() != crypto.SHA256 {
		return nil, fmt.Errorf("KMS signer only supports SHA256, got %v", opts.HashFunc())
	}

	signOutput, err := k.kmsClient.Sign(k.ctx, &kms.SignInput{
		KeyId:            aws.String(k.kmsKeyID),
		Message:          digest,
		MessageType:      types.MessageTypeDigest,
		SigningAlgorithm: types.SigningAlgorithmSpecRsassaPkcs1V15Sha256,
	})
	if err != nil {
		return nil, fmt.Errorf("KMS sign operation failed: %w", err)
	}

	return signOutput.Signature, nil
}
