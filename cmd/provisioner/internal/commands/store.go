package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/fleetprov/internal/store"
	awsstore "github.com/wolfeidau/fleetprov/internal/store/aws"
	postgresstore "github.com/wolfeidau/fleetprov/internal/store/postgres"
)

// StoreFlags select where registrations are kept
type StoreFlags struct {
	Type     string             `help:"store type (memory, dynamodb, or postgres)" default:"memory" env:"FLEET_STORE_TYPE" enum:"memory,dynamodb,postgres" name:"store"`
	DynamoDB DynamoDBStoreFlags `embed:"" prefix:"dynamodb-"`
	Postgres PostgresStoreFlags `embed:"" prefix:"postgres-"`

	awsConfig *aws.Config // overrides the default AWS config, set in development mode
}

type DynamoDBStoreFlags struct {
	Table       string `help:"DynamoDB table name for registrations" env:"FLEET_DYNAMODB_TABLE"`
	EndpointURL string `help:"DynamoDB endpoint URL override (for LocalStack)" default:"" env:"FLEET_DYNAMODB_ENDPOINT_URL"`
}

func (s *DynamoDBStoreFlags) Validate() error {
	if s.Table == "" {
		return errors.New("DynamoDB table name is required (--dynamodb-table or FLEET_DYNAMODB_TABLE)")
	}
	return nil
}

type PostgresStoreFlags struct {
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	MaxConns        int32         `help:"maximum number of connections in pool" default:"10"`
	MinConns        int32         `help:"minimum number of connections in pool" default:"1"`
	MaxConnLifetime time.Duration `help:"maximum connection lifetime" default:"1h"`
	MaxConnIdleTime time.Duration `help:"maximum connection idle time" default:"30m"`

	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"FLEET_POSTGRES_AUTO_MIGRATE"`
}

func (s *PostgresStoreFlags) Validate() error {
	if s.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	return nil
}

// Open creates the selected registration store. The returned close func
// releases any connections.
func (s *StoreFlags) Open(ctx context.Context) (store.RegistrationStore, func(), error) {
	switch s.Type {
	case "dynamodb":
		if err := s.DynamoDB.Validate(); err != nil {
			return nil, nil, fmt.Errorf("failed to validate dynamodb flags: %w", err)
		}

		awsConfig, err := s.loadAWSConfig(ctx)
		if err != nil {
			return nil, nil, err
		}

		log.Info().Str("table", s.DynamoDB.Table).Msg("Using DynamoDB registration store")
		return awsstore.NewRegistrationStore(newDynamoDBClient(awsConfig, s.DynamoDB.EndpointURL), s.DynamoDB.Table), func() {}, nil

	case "postgres":
		if err := s.Postgres.Validate(); err != nil {
			return nil, nil, fmt.Errorf("failed to validate postgres flags: %w", err)
		}

		pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
			ConnString:      s.Postgres.ConnString,
			MaxConns:        s.Postgres.MaxConns,
			MinConns:        s.Postgres.MinConns,
			MaxConnLifetime: s.Postgres.MaxConnLifetime,
			MaxConnIdleTime: s.Postgres.MaxConnIdleTime,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
		}

		if s.Postgres.AutoMigrate {
			if err := postgresstore.RunMigrations(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("Database migrations completed")
		}

		log.Info().Msg("Using PostgreSQL registration store")
		return postgresstore.NewRegistrationStore(pool), pool.Close, nil

	default:
		log.Info().Msg("Using in-memory registration store")
		return store.NewMemoryRegistrationStore(), func() {}, nil
	}
}

func (s *StoreFlags) loadAWSConfig(ctx context.Context) (aws.Config, error) {
	if s.awsConfig != nil {
		return *s.awsConfig, nil
	}
	awsConfig, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsConfig, nil
}

func newDynamoDBClient(awsConfig aws.Config, endpointURL string) *dynamodb.Client {
	var opts []func(*dynamodb.Options)
	if endpointURL != "" {
		opts = append(opts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(endpointURL)
		})
	}
	return dynamodb.NewFromConfig(awsConfig, opts...)
}
