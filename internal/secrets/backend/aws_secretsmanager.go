package backend

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	secretsDomain "github.com/allisson/secretkeeper/internal/secrets/domain"
)

// SecretsManagerClientAPI is the subset of the Secrets Manager client in use.
type SecretsManagerClientAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error)
}

// AWSSecretsManagerBackend fetches secrets from AWS Secrets Manager.
type AWSSecretsManagerBackend struct {
	client SecretsManagerClientAPI
}

// SecretsManagerOption configures an AWSSecretsManagerBackend.
type SecretsManagerOption func(*AWSSecretsManagerBackend)

// WithSecretsManagerClient sets the client instead of building one from AWS config.
func WithSecretsManagerClient(client SecretsManagerClientAPI) SecretsManagerOption {
	return func(b *AWSSecretsManagerBackend) {
		b.client = client
	}
}

// NewAWSSecretsManagerBackend creates the backend, loading the default AWS
// credential chain unless a client is injected.
func NewAWSSecretsManagerBackend(
	ctx context.Context,
	cfg AWSConfig,
	opts ...SecretsManagerOption,
) (*AWSSecretsManagerBackend, error) {
	b := &AWSSecretsManagerBackend{}
	for _, opt := range opts {
		opt(b)
	}
	if b.client != nil {
		return b, nil
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	b.client = secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return b, nil
}

func (b *AWSSecretsManagerBackend) Name() string {
	return "aws-secretsmanager"
}

// Fetch returns SecretString, falling back to SecretBinary.
func (b *AWSSecretsManagerBackend) Fetch(ctx context.Context, name string) (secretsDomain.Envelope, error) {
	out, err := b.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return secretsDomain.Envelope{}, fail("GetSecretValue", name, err)
	}

	if out.SecretString != nil && *out.SecretString != "" {
		return secretsDomain.Envelope{Raw: []byte(*out.SecretString)}, nil
	}
	if len(out.SecretBinary) > 0 {
		return secretsDomain.Envelope{Raw: out.SecretBinary}, nil
	}
	return secretsDomain.Envelope{}, notFound("GetSecretValue", name)
}

// Ping lists at most one secret to verify credentials and connectivity.
func (b *AWSSecretsManagerBackend) Ping(ctx context.Context) error {
	if _, err := b.client.ListSecrets(ctx, &secretsmanager.ListSecretsInput{MaxResults: aws.Int32(1)}); err != nil {
		return fail("ListSecrets", "", err)
	}
	return nil
}
