package aws

import (
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// LoadConfig resolves credentials from the default chain. An empty region
// leaves the chain's own region in place.
func LoadConfig(ctx context.Context, region string) (sdkaws.Config, error) {
	var opts []func(*awscfg.LoadOptions) error
	if region != "" {
		opts = append(opts, awscfg.WithRegion(region))
	}

	cfg, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return sdkaws.Config{}, fmt.Errorf("failed to load aws config: %w", err)
	}
	return cfg, nil
}

// NewDynamoDBClient builds a client, pointing it at endpoint when one is set
// (e.g. DynamoDB Local).
func NewDynamoDBClient(cfg sdkaws.Config, endpoint string) *dynamodb.Client {
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = sdkaws.String(endpoint)
		}
	})
}
