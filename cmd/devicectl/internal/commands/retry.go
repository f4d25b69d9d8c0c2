package commands

import (
	"context"
	"errors"
	"time"

	"connectrpc.com/connect"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/fleetprov/internal/enrollment"
	"github.com/wolfeidau/fleetprov/internal/fault"
	"github.com/wolfeidau/fleetprov/internal/pki"
	"github.com/wolfeidau/fleetprov/internal/telemetry"
)

type certificateEnroller interface {
	EnrollCertificate(ctx context.Context, issued *pki.IssuedCertificate) (*enrollment.ConnectionParameters, error)
}

// retryPolicy bounds enrollment retries. Enrollment itself registers once
// per call.
type retryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxElapsedTime  time.Duration
}

func enrollWithRetry(ctx context.Context, enroller certificateEnroller, issued *pki.IssuedCertificate, policy retryPolicy) (*enrollment.ConnectionParameters, error) {
	b := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		b.InitialInterval = policy.InitialInterval
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(policy.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			telemetry.GetMetrics().EnrollmentRetriesTotal.Add(ctx, 1)
			log.Warn().Err(err).Dur("retryIn", next).Msg("enrollment failed, retrying")
		}),
	}
	if policy.MaxElapsedTime > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(policy.MaxElapsedTime))
	}

	return backoff.Retry(ctx, func() (*enrollment.ConnectionParameters, error) {
		params, err := enroller.EnrollCertificate(ctx, issued)
		if err != nil && !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return params, err
	}, opts...)
}

// retryable reports whether an enrollment failure may succeed on a later
// attempt. Decisions made by the provisioning service are final, except
// for a registration still in progress.
func retryable(err error) bool {
	if errors.Is(err, fault.ErrValidation) || errors.Is(err, fault.ErrUnsupportedAuth) || errors.Is(err, fault.ErrCrypto) {
		return false
	}

	var connectErr *connect.Error
	if errors.As(err, &connectErr) {
		switch connectErr.Code() {
		case connect.CodeUnavailable, connect.CodeDeadlineExceeded, connect.CodeResourceExhausted,
			connect.CodeAborted, connect.CodeInternal, connect.CodeUnknown:
			return true
		default:
			return false
		}
	}

	var provErr *enrollment.ProvisioningError
	if errors.As(err, &provErr) {
		return provErr.Status == enrollment.StatusRegistering
	}

	return !errors.Is(err, context.Canceled)
}
