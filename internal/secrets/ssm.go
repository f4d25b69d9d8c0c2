package secrets

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/rs/zerolog/log"
)

// SSMAPI is the subset of the SSM client used to read parameters.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMProvider reads certificates from SSM Parameter Store SecureString
// parameters under a path prefix.
type SSMProvider struct {
	client SSMAPI
	prefix string
}

// NewSSMProvider creates a provider using the default AWS config. A non-empty
// endpoint overrides the service endpoint, for LocalStack.
func NewSSMProvider(ctx context.Context, prefix, endpoint string) (*SSMProvider, error) {
	awsConfig, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := ssm.NewFromConfig(awsConfig, func(o *ssm.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return NewSSMProviderWithClient(client, prefix), nil
}

// NewSSMProviderWithClient creates a provider with an existing client.
func NewSSMProviderWithClient(client SSMAPI, prefix string) *SSMProvider {
	return &SSMProvider{client: client, prefix: prefix}
}

func (p *SSMProvider) GetCertificate(ctx context.Context, name string) ([]byte, error) {
	value, err := getParameter(ctx, p.client, ParameterName(p.prefix, name))
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate %q from SSM: %w", name, err)
	}
	return decodeValue(value), nil
}

// ParameterName returns the SSM parameter holding the named secret under prefix.
func ParameterName(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return path.Join("/", prefix, name)
}

// getParameter fetches a parameter from SSM
func getParameter(ctx context.Context, client SSMAPI, name string) (string, error) {
	output, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	if output.Parameter == nil || output.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %s has no value", name)
	}

	log.Debug().Str("parameter", name).Msg("loaded parameter")

	return *output.Parameter.Value, nil
}
