package backend

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	secretsDomain "github.com/allisson/secretkeeper/internal/secrets/domain"
)

// SSMClientAPI is the subset of the SSM client in use.
type SSMClientAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	DescribeParameters(ctx context.Context, params *ssm.DescribeParametersInput, optFns ...func(*ssm.Options)) (*ssm.DescribeParametersOutput, error)
}

// AWSSSMBackend fetches secrets from SSM Parameter Store, decrypting
// SecureString parameters.
type AWSSSMBackend struct {
	client SSMClientAPI
}

// SSMOption configures an AWSSSMBackend.
type SSMOption func(*AWSSSMBackend)

// WithSSMClient sets the client instead of building one from AWS config.
func WithSSMClient(client SSMClientAPI) SSMOption {
	return func(b *AWSSSMBackend) {
		b.client = client
	}
}

// NewAWSSSMBackend creates the backend.
func NewAWSSSMBackend(ctx context.Context, cfg AWSConfig, opts ...SSMOption) (*AWSSSMBackend, error) {
	b := &AWSSSMBackend{}
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
	b.client = ssm.NewFromConfig(awsCfg, func(o *ssm.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return b, nil
}

func (b *AWSSSMBackend) Name() string {
	return "aws-ssm"
}

func (b *AWSSSMBackend) Fetch(ctx context.Context, name string) (secretsDomain.Envelope, error) {
	out, err := b.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return secretsDomain.Envelope{}, fail("GetParameter", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return secretsDomain.Envelope{}, notFound("GetParameter", name)
	}
	return singleValue(name, *out.Parameter.Value)
}

func (b *AWSSSMBackend) Ping(ctx context.Context) error {
	if _, err := b.client.DescribeParameters(ctx, &ssm.DescribeParametersInput{MaxResults: aws.Int32(1)}); err != nil {
		return fail("DescribeParameters", "", err)
	}
	return nil
}
