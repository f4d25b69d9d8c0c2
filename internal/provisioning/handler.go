package provisioning

import (
	"context"
	"crypto/x509"
	"errors"
	"net/http"

	"connectrpc.com/authn"
	"connectrpc.com/connect"

	"github.com/wolfeidau/fleetprov/internal/enrollment"
)

// NewHandler exposes a ProvisioningService as a Connect handler. It returns
// the path to mount the handler on.
func NewHandler(svc enrollment.ProvisioningService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	register := connect.NewUnaryHandler(
		RegisterProcedure,
		func(ctx context.Context, req *connect.Request[RegisterRequest]) (*connect.Response[enrollment.RegistrationResult], error) {
			return handleRegister(ctx, svc, req.Msg)
		},
		opts...,
	)

	mux := http.NewServeMux()
	mux.Handle(RegisterProcedure, register)

	return "/" + ServiceName + "/", mux
}

func handleRegister(ctx context.Context, svc enrollment.ProvisioningService, msg *RegisterRequest) (*connect.Response[enrollment.RegistrationResult], error) {
	proof, err := msg.SecurityProof()
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	if proof.RegistrationID() != msg.RegistrationID {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("registration id does not match the security proof"))
	}

	// possession of the device key is proven by the TLS handshake
	if proof.Kind == enrollment.ProofX509 {
		peer, _ := authn.GetInfo(ctx).(*x509.Certificate)
		if peer == nil || !peer.Equal(proof.X509.Certificate) {
			return nil, connect.NewError(connect.CodeUnauthenticated, errors.New("tls client certificate does not match the device certificate"))
		}
	}

	result, err := svc.Register(ctx, msg.IDScope, proof)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	return connect.NewResponse(result), nil
}

// PeerCertificateAuth is an authn.AuthFunc which requires TLS and exposes
// the client leaf certificate, if one was presented, via authn.GetInfo.
func PeerCertificateAuth(_ context.Context, req *http.Request) (any, error) {
	if req.TLS == nil {
		return nil, authn.Errorf("tls is required")
	}
	if len(req.TLS.PeerCertificates) == 0 {
		return nil, nil
	}
	return req.TLS.PeerCertificates[0], nil
}

// NewAuthMiddleware wraps handlers with PeerCertificateAuth.
func NewAuthMiddleware() *authn.Middleware {
	return authn.NewMiddleware(PeerCertificateAuth)
}
