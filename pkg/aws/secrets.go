package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsAPI is the subset of *secretsmanager.Client used here.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type SecretsClient struct {
	client SecretsAPI
	cache  map[string]string
	mu     sync.RWMutex
}

func NewSecretsClient(cfg sdkaws.Config) *SecretsClient {
	return NewSecretsClientWithAPI(secretsmanager.NewFromConfig(cfg))
}

func NewSecretsClientWithAPI(api SecretsAPI) *SecretsClient {
	return &SecretsClient{
		client: api,
		cache:  make(map[string]string),
	}
}

func (s *SecretsClient) GetSecret(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	if v, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return v, nil
	}
	s.mu.RUnlock()

	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &name})
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", name, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", name)
	}

	s.mu.Lock()
	s.cache[name] = *out.SecretString
	s.mu.Unlock()

	return *out.SecretString, nil
}

// GetSecretField reads a secret that is either a bare string or a JSON object.
// For objects, the first key of keys that holds a non-empty string wins.
func (s *SecretsClient) GetSecretField(ctx context.Context, name string, keys ...string) (string, error) {
	raw, err := s.GetSecret(ctx, name)
	if err != nil {
		return "", err
	}

	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return trimmed, nil
	}

	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return "", fmt.Errorf("secret %s is not valid JSON: %w", name, err)
	}
	for _, k := range keys {
		if v, ok := fields[k].(string); ok && v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("secret %s has none of the keys %v", name, keys)
}
