package provisioning

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"

	"connectrpc.com/connect"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/fleetprov/internal/client"
	"github.com/wolfeidau/fleetprov/internal/enrollment"
)

var _ enrollment.ProvisioningService = (*Client)(nil)

// Client calls a remote provisioning service over Connect. Certificate
// proofs are also presented as the TLS client certificate.
type Client struct {
	config       client.Config
	interceptors []connect.Interceptor
}

// NewClient creates a provisioning client for config.ServerURL.
func NewClient(config client.Config, interceptors ...connect.Interceptor) (*Client, error) {
	if config.ServerURL == "" {
		return nil, errors.New("provisioning server url is required")
	}
	config.ServerURL = strings.TrimRight(config.ServerURL, "/")
	return &Client{config: config, interceptors: interceptors}, nil
}

// Register sends a single registration request.
func (c *Client) Register(ctx context.Context, idScope string, proof enrollment.SecurityProof) (*enrollment.RegistrationResult, error) {
	req, err := newRegisterRequest(idScope, proof)
	if err != nil {
		return nil, err
	}

	var certificates []tls.Certificate
	if proof.Kind == enrollment.ProofX509 && proof.X509.PrivateKey != nil {
		certificates = append(certificates, tlsCertificate(proof.X509))
	}

	httpClient := client.NewHTTPClient(c.config, certificates...)
	defer httpClient.CloseIdleConnections()

	rpc := connect.NewClient[RegisterRequest, enrollment.RegistrationResult](
		httpClient,
		c.config.ServerURL+RegisterProcedure,
		connect.WithCodec(jsonCodec{}),
		connect.WithInterceptors(c.interceptors...),
	)

	log.Debug().
		Str("server", c.config.ServerURL).
		Str("registrationID", req.RegistrationID).
		Int("tlsCertificates", len(certificates)).
		Msg("sending registration")

	resp, err := rpc.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, fmt.Errorf("register %q: %w", req.RegistrationID, err)
	}

	return resp.Msg, nil
}

func tlsCertificate(proof *enrollment.X509Proof) tls.Certificate {
	chain := [][]byte{proof.Certificate.Raw}
	for _, cert := range proof.Chain {
		chain = append(chain, cert.Raw)
	}
	return tls.Certificate{
		Certificate: chain,
		PrivateKey:  proof.PrivateKey,
		Leaf:        proof.Certificate,
	}
}
