package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		realIP     string
		remoteAddr string
		expected   string
	}{
		{name: "forwarded single", xff: "192.168.1.1", expected: "192.168.1.1"},
		{name: "forwarded takes first", xff: "203.0.113.1, 198.51.100.1", expected: "203.0.113.1"},
		{name: "forwarded trims spaces", xff: " 203.0.113.1  ,  198.51.100.1", expected: "203.0.113.1"},
		{name: "forwarded wins over real ip", xff: "203.0.113.1", realIP: "192.168.1.100", expected: "203.0.113.1"},
		{name: "real ip", realIP: "192.168.1.100", expected: "192.168.1.100"},
		{name: "ipv4 remote addr", remoteAddr: "192.168.1.1:54321", expected: "192.168.1.1"},
		{name: "ipv6 remote addr", remoteAddr: "[2001:db8::1]:54321", expected: "2001:db8::1"},
		{name: "remote addr without port", remoteAddr: "192.168.1.1", expected: "192.168.1.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			if tt.remoteAddr != "" {
				r.RemoteAddr = tt.remoteAddr
			}

			require.Equal(t, tt.expected, ExtractClientIP(r))
		})
	}
}

func TestClientIPMiddleware(t *testing.T) {
	var captured string
	handler := ClientIPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = ClientIPFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.RemoteAddr = "10.0.0.7:40000"

	handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "10.0.0.7", captured)
}

func TestClientIPFromContext_missing(t *testing.T) {
	require.Empty(t, ClientIPFromContext(context.Background()))
}
