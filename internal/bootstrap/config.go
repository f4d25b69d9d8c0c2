package bootstrap

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Config holds configuration for bootstrapping LocalStack infrastructure
type Config struct {
	DynamoClient *dynamodb.Client
	SSMClient    *ssm.Client // optional, only needed to seed authority parameters

	// Environment prefixes resource names, e.g. "dev" gives "dev_registrations"
	Environment string

	// CleanResources deletes existing resources before creating them.
	// Leave false to keep registrations across restarts.
	CleanResources bool

	// Parameters are written to SSM as SecureString values, keyed by full
	// parameter name.
	Parameters map[string]string
}

// Resources holds identifiers for created infrastructure resources
type Resources struct {
	RegistrationsTable string
	Parameters         []string
}
