// Package secrets resolves named secrets from Vault, AWS Secrets Manager or
// the process environment, in that order of preference.
package secrets

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	vault "github.com/hashicorp/vault/api"
	"github.com/pkg/errors"
)

var (
	ErrProviderUnavailable = errors.New("secret provider unavailable")
	ErrRequiresPrimary     = errors.New("SECRETS_REQUIRE_PRIMARY is enabled, cannot use fallback provider")
	ErrNotFound            = errors.New("secret not found")
)

type Provider interface {
	GetSecret(ctx context.Context, key string) (string, error)
	Name() string
}

type Loader struct {
	primary        Provider
	fallback       Provider
	failClosed     bool
	requirePrimary bool
}

// NewLoader picks Vault when VAULT_ADDR is reachable, then Secrets Manager
// when AWS_REGION is set. The environment is the fallback.
func NewLoader(ctx context.Context) (*Loader, error) {
	requirePrimary := strings.ToLower(os.Getenv("SECRETS_REQUIRE_PRIMARY")) == "true"
	var primary Provider
	if os.Getenv("VAULT_ADDR") != "" {
		if vp, err := newVaultProvider(ctx); err == nil {
			primary = vp
		}
	}
	if primary == nil && os.Getenv("AWS_REGION") != "" {
		if ap, err := newAWSProvider(ctx); err == nil {
			primary = ap
		}
	}
	if primary == nil && requirePrimary {
		return nil, errors.New("SECRETS_REQUIRE_PRIMARY=true but no primary provider available (checked Vault, AWS Secrets Manager)")
	}
	l := &Loader{
		primary:        primary,
		failClosed:     os.Getenv("SECRETS_FAIL_CLOSED") != "false",
		requirePrimary: requirePrimary,
	}
	if !requirePrimary {
		l.fallback = envProvider{}
	}
	return l, nil
}

// NewLoaderWith builds a loader from explicit providers. Either may be nil.
func NewLoaderWith(primary, fallback Provider, failClosed bool) *Loader {
	return &Loader{primary: primary, fallback: fallback, failClosed: failClosed}
}

// Source names the provider consulted first.
func (l *Loader) Source() string {
	if l.primary != nil {
		return l.primary.Name()
	}
	if l.fallback != nil {
		return l.fallback.Name()
	}
	return "none"
}

func (l *Loader) GetSecret(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if l.primary != nil {
		val, err := l.primary.GetSecret(ctx, key)
		if err == nil {
			return val, nil
		}
		if l.requirePrimary {
			return "", errors.Wrapf(err, "%s: get %s (SECRETS_REQUIRE_PRIMARY=true)", l.primary.Name(), key)
		}
		if l.failClosed {
			return "", errors.Wrapf(err, "%s: get %s (fail-closed)", l.primary.Name(), key)
		}
	}
	if l.fallback != nil {
		return l.fallback.GetSecret(ctx, key)
	}
	return "", ErrProviderUnavailable
}

type vaultProvider struct {
	client     *vault.Client
	secretPath string
}

func newVaultProvider(ctx context.Context) (*vaultProvider, error) {
	cfg := vault.DefaultConfig()
	cfg.Address = os.Getenv("VAULT_ADDR")
	cfg.Timeout = 5 * time.Second
	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if tokenFile := os.Getenv("VAULT_TOKEN_FILE"); tokenFile != "" {
		tokenBytes, err := os.ReadFile(tokenFile)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read VAULT_TOKEN_FILE")
		}
		client.SetToken(strings.TrimSpace(string(tokenBytes)))
	} else if token := os.Getenv("VAULT_TOKEN"); token != "" {
		client.SetToken(token)
	}
	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := client.Sys().HealthWithContext(healthCtx); err != nil {
		return nil, errors.Wrap(err, "vault health check failed")
	}
	return &vaultProvider{
		client:     client,
		secretPath: getEnvOrDefault("VAULT_SECRET_PATH", "secret/data/pobbin"),
	}, nil
}

func (v *vaultProvider) Name() string { return "vault" }

func (v *vaultProvider) GetSecret(ctx context.Context, key string) (string, error) {
	secret, err := v.client.Logical().ReadWithContext(ctx, v.secretPath+"/"+key)
	if err != nil {
		return "", err
	}
	if secret == nil || secret.Data == nil {
		return "", errors.Wrap(ErrNotFound, key)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", errors.New("vault: invalid secret format")
	}
	value, ok := data["value"].(string)
	if !ok {
		return "", errors.New("vault: value not found")
	}
	return value, nil
}

type awsProvider struct {
	client *secretsmanager.Client
	prefix string
}

func newAWSProvider(ctx context.Context) (*awsProvider, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(os.Getenv("AWS_REGION")))
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	return &awsProvider{
		client: secretsmanager.NewFromConfig(cfg),
		prefix: getEnvOrDefault("AWS_SECRET_PREFIX", "pobbin/"),
	}, nil
}

func (a *awsProvider) Name() string { return "secretsmanager" }

func (a *awsProvider) GetSecret(ctx context.Context, key string) (string, error) {
	result, err := a.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(a.prefix + key),
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to get secret %s", key)
	}
	if result.SecretString == nil {
		return "", errors.New("secret is binary, not string")
	}
	return *result.SecretString, nil
}

type envProvider struct{}

func (envProvider) Name() string { return "env" }

func (envProvider) GetSecret(_ context.Context, key string) (string, error) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return "", errors.Wrap(ErrNotFound, key)
	}
	return val, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
