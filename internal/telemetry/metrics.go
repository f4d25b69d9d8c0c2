package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/fleetprov"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Issuance metrics
	CertificatesIssuedTotal     metric.Int64Counter
	CertificateIssueErrorsTotal metric.Int64Counter
	CertificateIssueDuration    metric.Float64Histogram

	// Enrollment metrics (device side)
	EnrollmentsTotal       metric.Int64Counter
	EnrollmentErrorsTotal  metric.Int64Counter
	EnrollmentDuration     metric.Float64Histogram
	EnrollmentRetriesTotal metric.Int64Counter

	// Registration metrics (provisioning service side)
	RegistrationsTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.CertificatesIssuedTotal, _ = meter.Int64Counter(
		"fleetprov.certificates.issued.total",
		metric.WithDescription("Total number of device certificates issued"),
		metric.WithUnit("{certificate}"),
	)

	m.CertificateIssueErrorsTotal, _ = meter.Int64Counter(
		"fleetprov.certificates.issue.errors.total",
		metric.WithDescription("Total number of failed certificate issuance attempts"),
		metric.WithUnit("{error}"),
	)

	m.CertificateIssueDuration, _ = meter.Float64Histogram(
		"fleetprov.certificates.issue.duration",
		metric.WithDescription("Duration of certificate issuance including key generation"),
		metric.WithUnit("ms"),
	)

	m.EnrollmentsTotal, _ = meter.Int64Counter(
		"fleetprov.enrollments.total",
		metric.WithDescription("Total number of enrollment attempts by resulting status"),
		metric.WithUnit("{enrollment}"),
	)

	m.EnrollmentErrorsTotal, _ = meter.Int64Counter(
		"fleetprov.enrollments.errors.total",
		metric.WithDescription("Total number of enrollment attempts that did not produce credentials"),
		metric.WithUnit("{error}"),
	)

	m.EnrollmentDuration, _ = meter.Float64Histogram(
		"fleetprov.enrollments.duration",
		metric.WithDescription("Duration of the registration round trip"),
		metric.WithUnit("ms"),
	)

	m.EnrollmentRetriesTotal, _ = meter.Int64Counter(
		"fleetprov.enrollments.retries.total",
		metric.WithDescription("Total number of enrollment retries made by callers"),
		metric.WithUnit("{retry}"),
	)

	m.RegistrationsTotal, _ = meter.Int64Counter(
		"fleetprov.registrations.total",
		metric.WithDescription("Total number of registrations handled by the provisioning service"),
		metric.WithUnit("{registration}"),
	)

	return m
}
