package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/frahmantamala/pix-payments/internal"
	awspkg "github.com/frahmantamala/pix-payments/pkg/aws"
)

// resolveAccessToken returns the configured processor token, reading it from
// Secrets Manager when only a secret name is configured.
func resolveAccessToken(ctx context.Context, cfg *internal.Config) (string, error) {
	if cfg.Payment.AccessToken != "" {
		return cfg.Payment.AccessToken, nil
	}
	if cfg.Payment.AccessTokenSecret == "" {
		return "", errors.New("no processor credential: set MERCADO_PAGO_TOKEN or payment.access_token_secret")
	}

	ctx, cancel := internal.WithTimeout(ctx, cfg.Payment.Timeout)
	defer cancel()

	awsCfg, err := awspkg.LoadConfig(ctx, cfg.Store.DynamoDB.Region)
	if err != nil {
		return "", err
	}
	token, err := awspkg.NewSecretsClient(awsCfg).GetSecretField(ctx, cfg.Payment.AccessTokenSecret, "access_token", "MERCADO_PAGO_TOKEN")
	if err != nil {
		return "", fmt.Errorf("failed to resolve processor credential: %w", err)
	}
	return token, nil
}
