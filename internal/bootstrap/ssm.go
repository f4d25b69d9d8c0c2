package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/rs/zerolog/log"
)

// PutParameters writes each value as a SecureString parameter. Existing
// parameters are kept unless overwrite is set. Returns the names written.
func PutParameters(ctx context.Context, client *ssm.Client, params map[string]string, overwrite bool) ([]string, error) {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		_, err := client.PutParameter(ctx, &ssm.PutParameterInput{
			Name:      aws.String(name),
			Value:     aws.String(params[name]),
			Type:      types.ParameterTypeSecureString,
			Tier:      types.ParameterTierIntelligentTiering, // PEM authorities with 4096 bit keys exceed the standard 4KB limit
			Overwrite: aws.Bool(overwrite),
		})
		if err != nil {
			var exists *types.ParameterAlreadyExists
			if !overwrite && errors.As(err, &exists) {
				log.Debug().Str("name", name).Msg("parameter exists, keeping it")
				continue
			}
			return nil, fmt.Errorf("failed to put parameter %s: %w", name, err)
		}
	}

	return names, nil
}

// DeleteParameters removes parameters, ignoring ones already gone
func DeleteParameters(ctx context.Context, client *ssm.Client, names []string) error {
	for _, name := range names {
		_, err := client.DeleteParameter(ctx, &ssm.DeleteParameterInput{Name: aws.String(name)})
		if err != nil {
			var notFound *types.ParameterNotFound
			if errors.As(err, &notFound) {
				continue
			}
			return fmt.Errorf("failed to delete parameter %s: %w", name, err)
		}
	}
	return nil
}
