package commands

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"connectrpc.com/otelconnect"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/rs/zerolog"

	"github.com/wolfeidau/fleetprov/internal/bootstrap"
	"github.com/wolfeidau/fleetprov/internal/logger"
	"github.com/wolfeidau/fleetprov/internal/provisioning"
	"github.com/wolfeidau/fleetprov/internal/server"
	"github.com/wolfeidau/fleetprov/internal/telemetry"
)

const localStackEndpoint = "http://localhost:4566"

type ServeCmd struct {
	Listen string `help:"HTTPS listen address" default:"0.0.0.0:8443" env:"FLEET_PROVISIONER_LISTEN"`
	Cert   string `help:"path to TLS cert file" default:"" env:"FLEET_PROVISIONER_TLS_CERT"`
	Key    string `help:"path to TLS key file" default:"" env:"FLEET_PROVISIONER_TLS_KEY"`
	Config string `help:"path to the provisioning config (YAML)" default:"./provisioner.yaml" env:"FLEET_PROVISIONER_CONFIG"`

	Development      bool `help:"development mode - create the registrations table in LocalStack" default:"false" env:"FLEET_DEVELOPMENT"`
	DevelopmentClean bool `help:"clean resources on startup in development mode (deletes all registrations)" default:"false" env:"FLEET_DEVELOPMENT_CLEAN"`

	Tracing     bool    `help:"enable tracing" default:"false" env:"FLEET_TRACING"`
	SampleRatio float64 `help:"trace sampling ratio (0-1)" default:"1" env:"FLEET_TRACE_SAMPLE_RATIO"`

	Store StoreFlags `embed:""`
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting provisioner")

	interceptors := []connect.Interceptor{}
	if c.Tracing {
		log.Info().Float64("sample_ratio", c.SampleRatio).Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{
			ServiceName: "fleetprov-provisioner",
			Version:     globals.Version,
			SampleRatio: c.SampleRatio,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
		otelInterceptor, err := otelconnect.NewInterceptor()
		if err != nil {
			return fmt.Errorf("failed to create OTEL interceptor: %w", err)
		}
		interceptors = append(interceptors, otelInterceptor)
	}

	if c.Development {
		if err := c.setupDevelopment(ctx, log); err != nil {
			return err
		}
	}

	cfg, err := provisioning.LoadConfig(c.Config)
	if err != nil {
		return err
	}

	registrations, closeStore, err := c.Store.Open(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	registrar, err := provisioning.NewRegistrar(cfg, registrations)
	if err != nil {
		return err
	}

	log.Info().
		Str("id_scope", cfg.IDScope).
		Strs("hubs", cfg.Hubs).
		Int("enrollment_groups", len(cfg.EnrollmentGroups)).
		Int("module_enrollments", len(cfg.ModuleEnrollments)).
		Msg("Loaded provisioning config")

	if c.Cert == "" || c.Key == "" {
		return errors.New("TLS certificate and key are required (--cert and --key)")
	}
	cert, err := tls.LoadX509KeyPair(c.Cert, c.Key)
	if err != nil {
		return fmt.Errorf("failed to load TLS key pair: %w", err)
	}

	srv := configureHTTPServer(c.Listen, server.NewServer(registrar).Handler(log, interceptors...))
	srv.TLSConfig = server.TLSConfig(cert)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Msg("Starting HTTPS server")
		errCh <- srv.ListenAndServeTLS("", "")
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// setupDevelopment creates the registrations table in LocalStack and points
// the DynamoDB store at it.
func (c *ServeCmd) setupDevelopment(ctx context.Context, log zerolog.Logger) error {
	log.Info().Msg("Development mode enabled - setting up LocalStack infrastructure")

	if c.Store.Type == "" || c.Store.Type == "memory" {
		c.Store.Type = "dynamodb"
	}
	if c.Store.Type != "dynamodb" {
		return nil
	}

	localConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "test")),
	)
	if err != nil {
		return fmt.Errorf("failed to create local AWS config: %w", err)
	}

	resources, err := bootstrap.Bootstrap(ctx, bootstrap.Config{
		DynamoClient:   newDynamoDBClient(localConfig, localStackEndpoint),
		Environment:    "dev",
		CleanResources: c.DevelopmentClean,
	})
	if err != nil {
		return fmt.Errorf("failed to bootstrap development infrastructure: %w", err)
	}

	c.Store.DynamoDB.Table = resources.RegistrationsTable
	c.Store.DynamoDB.EndpointURL = localStackEndpoint
	c.Store.awsConfig = &localConfig

	log.Info().
		Str("registrations_table", resources.RegistrationsTable).
		Str("endpoint", localStackEndpoint).
		Msg("Development infrastructure ready")

	return nil
}
