package client

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "https://localhost:8443", config.ServerURL)
	require.Equal(t, 30*time.Second, config.Timeout)
	require.Nil(t, config.RootCAs)
}

func TestNewHTTPClient(t *testing.T) {
	pool := x509.NewCertPool()
	cert := tls.Certificate{Certificate: [][]byte{[]byte("leaf")}}

	httpClient := NewHTTPClient(Config{Timeout: time.Second, RootCAs: pool}, cert)
	require.Equal(t, time.Second, httpClient.Timeout)

	transport, ok := httpClient.Transport.(*http.Transport)
	require.True(t, ok)
	require.Same(t, pool, transport.TLSClientConfig.RootCAs)
	require.Len(t, transport.TLSClientConfig.Certificates, 1)
	require.Equal(t, uint16(tls.VersionTLS12), transport.TLSClientConfig.MinVersion)

	// the default transport keeps its own tls config
	require.NotSame(t, http.DefaultTransport.(*http.Transport).TLSClientConfig, transport.TLSClientConfig)
}
