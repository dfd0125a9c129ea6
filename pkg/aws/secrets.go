package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type secretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsClient reads string secrets and caches them for the process lifetime.
type SecretsClient struct {
	client secretsAPI
	cache  map[string]string
	mu     sync.RWMutex
}

func NewSecretsClient(cfg sdkaws.Config) *SecretsClient {
	return &SecretsClient{
		client: secretsmanager.NewFromConfig(cfg),
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

// GetSecretField reads a JSON object secret and returns one string field.
func (s *SecretsClient) GetSecretField(ctx context.Context, name, field string) (string, error) {
	raw, err := s.GetSecret(ctx, name)
	if err != nil {
		return "", err
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return "", fmt.Errorf("secret %s is not a JSON object: %w", name, err)
	}
	v, ok := fields[field].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("secret %s has no field %q", name, field)
	}
	return v, nil
}
