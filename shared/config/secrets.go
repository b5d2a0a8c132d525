package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"
	"github.com/sirupsen/logrus"
)

// SigningSecret returns the token signing secret. JWT_SECRET wins; otherwise the
// secret is read from AWS Secrets Manager under JWT_SECRET_ID.
func (c *Config) SigningSecret(ctx context.Context) ([]byte, error) {
	if c.JWTSecret != "" {
		return []byte(c.JWTSecret), nil
	}
	if c.JWTSecretID == "" {
		return nil, errors.New("either JWT_SECRET or JWT_SECRET_ID must be set")
	}

	sess, err := session.NewSession(&aws.Config{Region: aws.String(c.AWSRegion)})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return fetchSecret(ctx, secretsmanager.New(sess), c.JWTSecretID)
}

// fetchSecret reads a secret string. JSON secrets of the form {"jwt_secret": "..."} are unwrapped.
func fetchSecret(ctx context.Context, client secretsmanageriface.SecretsManagerAPI, id string) ([]byte, error) {
	out, err := client.GetSecretValueWithContext(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(id),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read secret %s: %w", id, err)
	}

	value := aws.StringValue(out.SecretString)
	if value == "" && len(out.SecretBinary) > 0 {
		value = string(out.SecretBinary)
	}
	if value == "" {
		return nil, fmt.Errorf("secret %s is empty", id)
	}

	var wrapped struct {
		JWTSecret string `json:"jwt_secret"`
	}
	if json.Unmarshal([]byte(value), &wrapped) == nil && wrapped.JWTSecret != "" {
		value = wrapped.JWTSecret
	}

	logrus.WithField("secret_id", id).Info("Loaded signing secret from Secrets Manager")
	return []byte(value), nil
}
