package gharchive

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	perr "gharchive/internal/platform/errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config configures the object-store transport
type S3Config struct {
	Region       string
	Endpoint     string // S3-compatible endpoint override (MinIO, LocalStack)
	UsePathStyle bool

	// optional static credentials; the default chain is used otherwise
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// objectGetter is the slice of the S3 API the transport needs
type objectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Transport reads s3://bucket/key archives
type S3Transport struct {
	api objectGetter
}

// NewS3Transport loads AWS config and builds the client
func NewS3Transport(ctx context.Context, cfg S3Config) (*S3Transport, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeValidation, "load aws config")
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(cfg.Endpoint) })
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}
	return &S3Transport{api: s3.NewFromConfig(awsCfg, s3Opts...)}, nil
}

// Open streams the object body; the request context lives until Close
func (t *S3Transport) Open(ctx context.Context, id ArchiveID) (io.ReadCloser, error) {
	bucket, key, err := splitS3(id.Locator)
	if err != nil {
		return nil, err
	}
	reqCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, cancel)
	out, err := t.api.GetObject(reqCtx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if !stop() || err != nil {
		cancel()
		if out != nil && out.Body != nil {
			_ = out.Body.Close()
		}
		if err == nil {
			err = context.Cause(ctx)
		}
		return nil, perr.Wrapf(s3Cause(id.Locator, err), perr.ErrorCodeFetchError, "get %s", id)
	}
	return &cancelOnClose{ReadCloser: out.Body, cancel: cancel}, nil
}

// s3Cause maps missing keys and HTTP answers onto StatusError
func s3Cause(loc string, err error) error {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return errors.Join(&StatusError{URL: loc, Code: http.StatusNotFound}, err)
	}
	var re interface{ HTTPStatusCode() int }
	if errors.As(err, &re) && re.HTTPStatusCode() != 0 {
		return errors.Join(&StatusError{URL: loc, Code: re.HTTPStatusCode()}, err)
	}
	return err
}

// splitS3 splits s3://bucket/key
func splitS3(loc string) (bucket, key string, err error) {
	if schemeOf(loc) != "s3" {
		return "", "", perr.InvalidURIf("not an s3 uri: %q", loc)
	}
	rest := loc[len("s3://"):]
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", perr.InvalidURIf("s3 uri %q needs bucket and key", loc)
	}
	return bucket, key, nil
}
