package client

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"time"
)

// Config holds common client configuration
type Config struct {
	ServerURL string
	Timeout   time.Duration
	RootCAs   *x509.CertPool // nil uses the system pool
	Debug     bool
}

// DefaultConfig returns a default client configuration
func DefaultConfig() Config {
	return Config{
		ServerURL: "https://localhost:8443",
		Timeout:   30 * time.Second,
		Debug:     false,
	}
}

// NewHTTPClient creates an HTTP client which trusts config.RootCAs and
// presents the given certificates during the TLS handshake.
func NewHTTPClient(config Config, certificates ...tls.Certificate) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		MinVersion:   tls.VersionTLS12,
		RootCAs:      config.RootCAs,
		Certificates: certificates,
	}
	transport.ForceAttemptHTTP2 = true

	return &http.Client{
		Timeout:   config.Timeout,
		Transport: transport,
	}
}
