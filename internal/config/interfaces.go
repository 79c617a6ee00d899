package config

import "context"

// SecretProvider resolves parameter paths to plaintext values. Keys that do
// not exist are omitted from the result rather than reported as an error.
type SecretProvider interface {
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
