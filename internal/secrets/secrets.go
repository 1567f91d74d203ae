// Package secrets resolves configuration values that may live in SSM
// Parameter Store instead of flags or the environment.
package secrets

import (
	"context"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/insightdash/internal/xerrors"
)

type SSMAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Resolver reads SecureString parameters. The SSM client is built on
// first use so processes that never reference a parameter need no AWS
// credentials.
type Resolver struct {
	mu     sync.Mutex
	client SSMAPI
}

// NewResolver uses client when non-nil, otherwise the default AWS config.
func NewResolver(client SSMAPI) *Resolver {
	return &Resolver{client: client}
}

func (r *Resolver) ssm(ctx context.Context) (SSMAPI, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client, nil
	}
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, xerrors.Wrap(err, "load AWS config")
	}
	r.client = ssm.NewFromConfig(cfg)
	return r.client, nil
}

// Resolve returns the decrypted value of param when it is set, else value.
func (r *Resolver) Resolve(ctx context.Context, value, param string) (string, error) {
	if param == "" {
		return value, nil
	}
	client, err := r.ssm(ctx)
	if err != nil {
		return "", err
	}
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", param)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", param)
	}
	v := strings.TrimSpace(*out.Parameter.Value)
	if v == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", param)
	}
	return v, nil
}
