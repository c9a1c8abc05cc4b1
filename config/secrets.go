package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// ErrSecretNotFound is returned when neither KEY nor KEY_FILE is set.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore resolves secrets by name.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
	GetWithDefault(ctx context.Context, key, def string) string
}

// EnvironmentSecretStore reads KEY from the environment, falling back to the
// file named by KEY_FILE (the Docker and Kubernetes secrets convention).
type EnvironmentSecretStore struct{}

func NewEnvironmentSecretStore() *EnvironmentSecretStore { return &EnvironmentSecretStore{} }

func (EnvironmentSecretStore) Get(_ context.Context, key string) (string, error) {
	if v := os.Getenv(key); v != "" {
		return v, nil
	}
	path := os.Getenv(key + "_FILE")
	if path == "" {
		return "", fmt.Errorf("%s: %w", key, ErrSecretNotFound)
	}
	data, err := os.ReadFile(path) // #nosec G304 - operator supplied path
	if err != nil {
		return "", fmt.Errorf("read secret %s from %s: %w", key, path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (s EnvironmentSecretStore) GetWithDefault(ctx context.Context, key, def string) string {
	v, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	return v
}

// LoadDotEnv loads .env.{IMPACTKIT_ENV} or, failing that, .env into the
// process environment. Production never reads dotenv files and variables
// already set are left alone.
func LoadDotEnv() error {
	env := os.Getenv("IMPACTKIT_ENV")
	if env == string(EnvProduction) {
		return nil
	}
	for _, name := range []string{".env." + env, ".env"} {
		if env == "" && name == ".env." {
			continue
		}
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			return fmt.Errorf("load %s: %w", name, err)
		}
		return nil
	}
	return nil
}

// LoadSecretsFromEnv fills credentials that were supplied as *_FILE secrets.
func LoadSecretsFromEnv(cfg *Config) error {
	return loadSecrets(context.Background(), NewEnvironmentSecretStore(), cfg)
}

func loadSecrets(ctx context.Context, store SecretStore, cfg *Config) error {
	targets := []struct {
		key string
		dst *string
	}{
		{"IMPACTKIT_SQL_DSN", &cfg.Storage.SQL.DSN},
		{"IMPACTKIT_REDIS_PASSWORD", &cfg.Storage.Redis.Password},
	}
	for _, t := range targets {
		v, err := store.Get(ctx, t.key)
		switch {
		case errors.Is(err, ErrSecretNotFound):
			continue
		case err != nil:
			return err
		}
		*t.dst = v
	}

	keys, err := store.Get(ctx, "IMPACTKIT_SECURITY_API_KEYS")
	switch {
	case errors.Is(err, ErrSecretNotFound):
	case err != nil:
		return err
	default:
		cfg.Security.APIKeys = cfg.Security.APIKeys[:0]
		for _, k := range strings.Split(keys, ",") {
			if k = strings.TrimSpace(k); k != "" {
				cfg.Security.APIKeys = append(cfg.Security.APIKeys, k)
			}
		}
	}
	return nil
}
