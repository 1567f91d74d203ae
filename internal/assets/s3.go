package assets

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/insightdash/internal/log"
	"github.com/keithlinneman/insightdash/internal/xerrors"
)

// SSMAPI is the part of the SSM client the loader uses.
type SSMAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// S3API is the part of the S3 client the loader uses.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type LoaderOptions struct {
	Logger log.Logger

	// SSMParam holds the hex SHA-256 of the release to serve.
	SSMParam string

	// Bundles live at s3://{S3Bucket}/{S3Prefix}/{hash}.tar.gz
	S3Bucket string
	S3Prefix string

	// AWSConfig is loaded from the environment when nil.
	AWSConfig *aws.Config

	// Clients override the ones built from AWSConfig.
	SSMClient SSMAPI
	S3Client  S3API
}

// Loader fetches SSM-pinned bundles from S3.
type Loader struct {
	opts   LoaderOptions
	ssm    SSMAPI
	s3     S3API
	logger log.Logger
}

func NewLoader(ctx context.Context, opts LoaderOptions) (*Loader, error) {
	if opts.SSMParam == "" {
		return nil, xerrors.New("SSMParam is required")
	}
	if opts.S3Bucket == "" {
		return nil, xerrors.New("S3Bucket is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	l := &Loader{opts: opts, ssm: opts.SSMClient, s3: opts.S3Client, logger: opts.Logger}
	if l.ssm != nil && l.s3 != nil {
		return l, nil
	}

	var awsCfg aws.Config
	if opts.AWSConfig != nil {
		awsCfg = *opts.AWSConfig
	} else {
		var err error
		if awsCfg, err = config.LoadDefaultConfig(ctx); err != nil {
			return nil, xerrors.Wrap(err, "load AWS config")
		}
	}
	if l.ssm == nil {
		l.ssm = ssm.NewFromConfig(awsCfg)
	}
	if l.s3 == nil {
		l.s3 = s3.NewFromConfig(awsCfg)
	}
	return l, nil
}

// CurrentHash reads the pinned bundle hash from SSM.
func (l *Loader) CurrentHash(ctx context.Context) (string, error) {
	out, err := l.ssm.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(l.opts.SSMParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", l.opts.SSMParam)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", l.opts.SSMParam)
	}
	hash := strings.ToLower(strings.TrimSpace(*out.Parameter.Value))
	if !validSHA256(hash) {
		return "", xerrors.Newf("SSM parameter %s is not a sha256 hex digest", l.opts.SSMParam)
	}
	return hash, nil
}

func (l *Loader) key(hash string) string {
	if p := strings.Trim(l.opts.S3Prefix, "/"); p != "" {
		return fmt.Sprintf("%s/%s.tar.gz", p, hash)
	}
	return hash + ".tar.gz"
}

// Load fetches the release currently pinned in SSM.
func (l *Loader) Load(ctx context.Context) (*Bundle, error) {
	hash, err := l.CurrentHash(ctx)
	if err != nil {
		return nil, err
	}
	return l.LoadHash(ctx, hash)
}

// LoadHash downloads the bundle for hash, verifies its digest and
// extracts it into memory.
func (l *Loader) LoadHash(ctx context.Context, hash string) (*Bundle, error) {
	key := l.key(hash)
	l.logger.Info(ctx, "downloading client bundle", "bucket", l.opts.S3Bucket, "key", key)

	out, err := l.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.opts.S3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "get s3://%s/%s", l.opts.S3Bucket, key)
	}
	defer out.Body.Close()

	data, actual, err := readWithHash(out.Body, maxBundleSize)
	if err != nil {
		return nil, xerrors.Wrap(err, "download bundle")
	}
	if !hashEqual(actual, hash) {
		return nil, xerrors.Newf("checksum mismatch: expected %s, got %s", hash, actual)
	}

	fsys, err := extractTarGz(data)
	if err != nil {
		return nil, xerrors.Wrap(err, "extract bundle")
	}

	l.logger.Info(ctx, "client bundle loaded", "sha256", truncHash(hash), "bytes", len(data))
	return &Bundle{
		FS:       fsys,
		SHA256:   hash,
		Source:   SourceS3,
		LoadedAt: time.Now().UTC(),
	}, nil
}

func validSHA256(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// truncHash shortens a digest for logs.
func truncHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
