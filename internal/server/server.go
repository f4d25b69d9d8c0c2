package server

import (
	"crypto/tls"
	"net/http"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"

	"github.com/wolfeidau/fleetprov/internal/enrollment"
	httpmiddleware "github.com/wolfeidau/fleetprov/internal/http"
	"github.com/wolfeidau/fleetprov/internal/logger"
	"github.com/wolfeidau/fleetprov/internal/provisioning"
)

// Server wraps the HTTP handlers of the provisioning service
type Server struct {
	service enrollment.ProvisioningService
}

// NewServer creates a new server for the given provisioning service
func NewServer(service enrollment.ProvisioningService) *Server {
	return &Server{service: service}
}

// Handler returns the HTTP handler for the server. Registration requests
// pass through the peer certificate middleware before reaching Connect.
func (s *Server) Handler(log zerolog.Logger, interceptors ...connect.Interceptor) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint for load balancer
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	interceptors = append([]connect.Interceptor{logger.NewConnectRequests(log)}, interceptors...)

	path, handler := provisioning.NewHandler(
		s.service,
		connect.WithInterceptors(interceptors...),
	)
	mux.Handle(path, provisioning.NewAuthMiddleware().Wrap(handler))

	return httpmiddleware.ClientIPMiddleware(mux)
}

// TLSConfig requests, but does not verify, client certificates. Device
// certificates are checked against enrollment groups by the registrar.
func TLSConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequestClientCert,
	}
}
