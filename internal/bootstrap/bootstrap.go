package bootstrap

import (
	"context"
	"errors"
	"fmt"
)

// Bootstrap creates the registrations table and seeds SSM parameters.
// If CleanResources is true, existing resources are deleted first.
func Bootstrap(ctx context.Context, cfg Config) (*Resources, error) {
	if cfg.DynamoClient == nil {
		return nil, errors.New("DynamoClient is required")
	}
	if len(cfg.Parameters) > 0 && cfg.SSMClient == nil {
		return nil, errors.New("SSMClient is required to seed parameters")
	}
	if cfg.Environment == "" {
		cfg.Environment = "dev"
	}

	table, err := CreateRegistrationsTable(ctx, cfg.DynamoClient, cfg.Environment, cfg.CleanResources)
	if err != nil {
		return nil, fmt.Errorf("failed to create DynamoDB table: %w", err)
	}

	resources := &Resources{RegistrationsTable: table}

	if len(cfg.Parameters) > 0 {
		names, err := PutParameters(ctx, cfg.SSMClient, cfg.Parameters, cfg.CleanResources)
		if err != nil {
			return nil, fmt.Errorf("failed to seed SSM parameters: %w", err)
		}
		resources.Parameters = names
	}

	return resources, nil
}

// Cleanup deletes all resources created by Bootstrap
func Cleanup(ctx context.Context, cfg Config, res *Resources) error {
	if err := deleteTableIfExists(ctx, cfg.DynamoClient, res.RegistrationsTable); err != nil {
		return fmt.Errorf("failed to delete table: %w", err)
	}

	if len(res.Parameters) > 0 {
		if err := DeleteParameters(ctx, cfg.SSMClient, res.Parameters); err != nil {
			return fmt.Errorf("failed to delete parameters: %w", err)
		}
	}

	return nil
}
