// sources.go

// Pre-LoadConfig env sources: an AWS Secrets Manager JSON secret and a local .env file.
// Neither overwrites variables already present in the process environment.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/joho/godotenv"
)

// secretFetcher is the slice of the Secrets Manager client used here.
type secretFetcher interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// LoadEnv populates the process environment before LoadConfig runs.
// AWS is consulted only when AWS_SECRET_ID is set; a missing .env file is not an error.
func LoadEnv(ctx context.Context) error {
	if id := os.Getenv("AWS_SECRET_ID"); id != "" {
		client, err := newSecretsClient(ctx, os.Getenv("AWS_SECRETS_REGION"))
		if err != nil {
			return fmt.Errorf("aws config: %w", err)
		}
		n, err := applySecret(ctx, client, id)
		if err != nil {
			return err
		}
		slog.Info("loaded env from secrets manager", "secret", id, "applied", n)
	}

	path := os.Getenv("ENV_FILE")
	if path == "" {
		path = ".env"
	}
	return loadDotEnv(path)
}

func newSecretsClient(ctx context.Context, region string) (*secretsmanager.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return secretsmanager.NewFromConfig(cfg), nil
}

// applySecret fetches secretID and sets each top-level JSON key as an env var
// unless that var is already set. Returns the number of vars applied.
func applySecret(ctx context.Context, client secretFetcher, secretID string) (int, error) {
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(secretID),
		VersionStage: aws.String("AWSCURRENT"),
	})
	if err != nil {
		return 0, fmt.Errorf("fetching secret %s: %w", secretID, err)
	}

	var payload []byte
	switch {
	case out.SecretString != nil:
		payload = []byte(*out.SecretString)
	case len(out.SecretBinary) > 0:
		payload = out.SecretBinary
	default:
		return 0, fmt.Errorf("secret %s has no payload", secretID)
	}

	var kv map[string]any
	if err := json.Unmarshal(payload, &kv); err != nil {
		return 0, fmt.Errorf("parsing secret %s as JSON: %w", secretID, err)
	}

	applied := 0
	for k, v := range kv {
		if _, set := os.LookupEnv(k); set {
			continue
		}
		if err := os.Setenv(k, fmt.Sprint(v)); err != nil {
			return applied, fmt.Errorf("setting env %s from secret: %w", k, err)
		}
		applied++
	}
	return applied, nil
}

// loadDotEnv loads path with godotenv. Missing files are skipped.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Debug("no env file, using process environment", "path", path)
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}
