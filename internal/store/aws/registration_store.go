package aws

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/fleetprov/internal/store"
)

// FingerprintIndex is the sparse GSI keyed by certificate fingerprint.
const FingerprintIndex = "GSI1"

// DynamoDBAPI is the subset of the DynamoDB client used by RegistrationStore
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

var _ store.RegistrationStore = (*RegistrationStore)(nil)

// RegistrationStore is a DynamoDB implementation of store.RegistrationStore
type RegistrationStore struct {
	client    DynamoDBAPI
	tableName string
	now       func() time.Time
}

// NewRegistrationStore creates a new DynamoDB registration store
func NewRegistrationStore(client DynamoDBAPI, tableName string) *RegistrationStore {
	return &RegistrationStore{
		client:    client,
		tableName: tableName,
		now:       time.Now,
	}
}

func (s *RegistrationStore) Get(ctx context.Context, registrationID string) (*store.Registration, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            registrationKey(registrationID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, wrapAWSError(err, "failed to get registration")
	}

	if result.Item == nil {
		return nil, store.ErrRegistrationNotFound
	}

	return unmarshalRegistration(result.Item)
}

func (s *RegistrationStore) GetByFingerprint(ctx context.Context, fingerprint string) (*store.Registration, error) {
	keyEx := expression.Key("fingerprint").Equal(expression.Value(fingerprint))
	expr, err := expression.NewBuilder().WithKeyCondition(keyEx).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		IndexName:                 aws.String(FingerprintIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, wrapAWSError(err, "failed to query registration by fingerprint")
	}

	if len(result.Items) == 0 {
		return nil, store.ErrRegistrationNotFound
	}

	return unmarshalRegistration(result.Items[0])
}

// Put upserts a registration with a single UpdateItem: created_at is only
// written when absent and attempts is incremented atomically.
func (s *RegistrationStore) Put(ctx context.Context, reg *store.Registration) error {
	if reg == nil || reg.RegistrationID == "" {
		return store.ErrInvalidRegistration
	}

	now := s.now().UTC()

	update := expression.Set(expression.Name("device_id"), expression.Value(reg.DeviceID)).
		Set(expression.Name("assigned_hub"), expression.Value(reg.AssignedHub)).
		Set(expression.Name("proof_kind"), expression.Value(reg.ProofKind)).
		Set(expression.Name("updated_at"), expression.Value(now)).
		Set(expression.Name("created_at"), expression.IfNotExists(expression.Name("created_at"), expression.Value(now))).
		Add(expression.Name("attempts"), expression.Value(1))

	// empty optional attributes are removed so the fingerprint index stays sparse
	for name, value := range map[string]string{
		"enrollment_name": reg.EnrollmentName,
		"fingerprint":     reg.Fingerprint,
		"subject_dn":      reg.SubjectDN,
	} {
		if value == "" {
			update = update.Remove(expression.Name(name))
		} else {
			update = update.Set(expression.Name(name), expression.Value(value))
		}
	}

	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return fmt.Errorf("failed to build expression: %w", err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       registrationKey(reg.RegistrationID),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return wrapAWSError(err, "failed to put registration")
	}

	log.Debug().
		Str("registration_id", reg.RegistrationID).
		Str("assigned_hub", reg.AssignedHub).
		Msg("registration stored")

	return nil
}

func (s *RegistrationStore) Delete(ctx context.Context, registrationID string) error {
	condition := expression.AttributeExists(expression.Name("registration_id"))
	expr, err := expression.NewBuilder().WithCondition(condition).Build()
	if err != nil {
		return fmt.Errorf("failed to build expression: %w", err)
	}

	_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(s.tableName),
		Key:                      registrationKey(registrationID),
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return store.ErrRegistrationNotFound
		}
		return wrapAWSError(err, "failed to delete registration")
	}

	return nil
}

// List scans the table, filtering by hub when requested. Results are ordered
// by registration id and the limit is applied after the scan because scan
// limits count items read, not items matched.
func (s *RegistrationStore) List(ctx context.Context, opts store.ListRegistrationsOptions) ([]*store.Registration, error) {
	input := &dynamodb.ScanInput{
		TableName: aws.String(s.tableName),
	}

	if opts.AssignedHub != "" {
		filter := expression.Name("assigned_hub").Equal(expression.Value(opts.AssignedHub))
		expr, err := expression.NewBuilder().WithFilter(filter).Build()
		if err != nil {
			return nil, fmt.Errorf("failed to build filter expression: %w", err)
		}
		input.FilterExpression = expr.Filter()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	var registrations []*store.Registration

	paginator := dynamodb.NewScanPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, wrapAWSError(err, "failed to list registrations")
		}

		for _, item := range page.Items {
			reg, err := unmarshalRegistration(item)
			if err != nil {
				log.Error().Err(err).Msg("failed to unmarshal registration, skipping")
				continue
			}
			registrations = append(registrations, reg)
		}
	}

	sort.Slice(registrations, func(i, j int) bool {
		return registrations[i].RegistrationID < registrations[j].RegistrationID
	})

	if opts.Limit > 0 && len(registrations) > opts.Limit {
		registrations = registrations[:opts.Limit]
	}

	return registrations, nil
}

func registrationKey(registrationID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"registration_id": &types.AttributeValueMemberS{Value: registrationID},
	}
}

func unmarshalRegistration(item map[string]types.AttributeValue) (*store.Registration, error) {
	var reg store.Registration
	err := attributevalue.UnmarshalMapWithOptions(item, &reg, func(o *attributevalue.DecoderOptions) {
		o.TagKey = "json"
	})
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal registration: %w", err)
	}
	return &reg, nil
}
