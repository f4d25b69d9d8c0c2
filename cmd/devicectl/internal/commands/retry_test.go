package commands

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/fleetprov/internal/enrollment"
	"github.com/wolfeidau/fleetprov/internal/fault"
	"github.com/wolfeidau/fleetprov/internal/pki"
)

// fakeEnroller returns errs in order, then succeeds
type fakeEnroller struct {
	errs  []error
	calls int
}

func (f *fakeEnroller) EnrollCertificate(ctx context.Context, issued *pki.IssuedCertificate) (*enrollment.ConnectionParameters, error) {
	f.calls++
	if f.calls <= len(f.errs) {
		return nil, f.errs[f.calls-1]
	}
	return &enrollment.ConnectionParameters{AssignedHub: "hub-a.example.net"}, nil
}

var testPolicy = retryPolicy{MaxTries: 4, InitialInterval: time.Millisecond}

func TestEnrollWithRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds after transient failures", func(t *testing.T) {
		enroller := &fakeEnroller{errs: []error{
			connect.NewError(connect.CodeUnavailable, errors.New("down")),
			&enrollment.ProvisioningError{RegistrationID: "device-1", Status: enrollment.StatusRegistering},
		}}

		params, err := enrollWithRetry(ctx, enroller, nil, testPolicy)
		require.NoError(t, err)
		require.Equal(t, "hub-a.example.net", params.AssignedHub)
		require.Equal(t, 3, enroller.calls)
	})

	t.Run("stops on a final decision", func(t *testing.T) {
		enroller := &fakeEnroller{errs: []error{
			&enrollment.ProvisioningError{RegistrationID: "device-1", Status: enrollment.StatusDisabled},
		}}

		_, err := enrollWithRetry(ctx, enroller, nil, testPolicy)
		var provErr *enrollment.ProvisioningError
		require.ErrorAs(t, err, &provErr)
		require.Equal(t, enrollment.StatusDisabled, provErr.Status)
		require.Equal(t, 1, enroller.calls)
	})

	t.Run("gives up after max tries", func(t *testing.T) {
		down := connect.NewError(connect.CodeUnavailable, errors.New("down"))
		enroller := &fakeEnroller{errs: []error{down, down, down, down, down}}

		_, err := enrollWithRetry(ctx, enroller, nil, testPolicy)
		require.Error(t, err)
		require.Equal(t, connect.CodeUnavailable, connect.CodeOf(err))
		require.Equal(t, 4, enroller.calls)
	})
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unavailable", connect.NewError(connect.CodeUnavailable, errors.New("x")), true},
		{"deadline", connect.NewError(connect.CodeDeadlineExceeded, errors.New("x")), true},
		{"internal", connect.NewError(connect.CodeInternal, errors.New("x")), true},
		{"unauthenticated", connect.NewError(connect.CodeUnauthenticated, errors.New("x")), false},
		{"invalid argument", connect.NewError(connect.CodeInvalidArgument, errors.New("x")), false},
		{"validation", fault.Validation("test", "bad id"), false},
		{"unsupported", fault.Unsupported("test", "no such proof"), false},
		{"registering", &enrollment.ProvisioningError{Status: enrollment.StatusRegistering}, true},
		{"failed", &enrollment.ProvisioningError{Status: enrollment.StatusFailed}, false},
		{
			"failed wrapping transport error",
			&enrollment.ProvisioningError{Status: enrollment.StatusFailed, Err: connect.NewError(connect.CodeUnavailable, errors.New("x"))},
			true,
		},
		{"canceled", fmt.Errorf("register: %w", context.Canceled), false},
		{"network", errors.New("connection reset by peer"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, retryable(tt.err))
		})
	}
}
