// Package s3 implements the "s3" protocol on Amazon S3 or any S3-compatible
// object store (MinIO, Ceph RGW, Localstack).
//
// Addressing:
// The PFN hostname is the bucket, and the PFN path minus its leading "/" is
// the object key:
//
//	s3://atlas-datadisk/rucio/data18/09/db/AOD.0001
//	bucket: atlas-datadisk
//	key:    rucio/data18/09/db/AOD.0001
package s3

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/rsemgr/internal/logger"
	"github.com/marmos91/rsemgr/pkg/protocol"
	"github.com/marmos91/rsemgr/pkg/rse"
)

// Scheme is the PFN scheme served by this plugin.
const Scheme = "s3"

// S3 allows at most 1000 keys per DeleteObjects request
const maxDeleteBatch = 1000

// API is the subset of *s3.Client the plugin calls.
type API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, opts ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// ClientBuilder creates the S3 client during Connect.
type ClientBuilder func(ctx context.Context, spec rse.ProtocolSpec, creds rse.Credentials) (API, error)

// Protocol implements protocol.Protocol on one bucket.
//
// Write Semantics:
//   - Put is conditional (If-None-Match: *), so a concurrent writer that
//     loses the race fails with ErrFileReplicaAlreadyExists instead of
//     overwriting.
//   - Rename is copy, verify, then delete. The destination is fully
//     readable before the source disappears.
//
// Thread Safety:
// The underlying client is safe for concurrent use; distinct PFNs are
// processed in parallel up to the configured parallelism.
type Protocol struct {
	protocol.Base

	build  ClientBuilder
	client API
	bucket string
	caps   protocol.Capabilities
}

// NewFactory returns a protocol.Factory that builds clients with build.
func NewFactory(build ClientBuilder) protocol.Factory {
	return func(spec rse.ProtocolSpec, opts protocol.Options) (protocol.Protocol, error) {
		if spec.Hostname == "" {
			return nil, fmt.Errorf("s3 protocol: hostname (bucket) is required: %w", rse.ErrInvalidConfiguration)
		}
		if _, err := maxRetries(spec); err != nil {
			return nil, err
		}

		caps := protocol.AllCapabilities
		if spec.ReadOnly() {
			caps = protocol.ReadCapabilities
		}

		return &Protocol{
			Base:   protocol.NewBase(spec, opts),
			build:  build,
			bucket: spec.Hostname,
			caps:   caps,
		}, nil
	}
}

// New is the protocol.Factory for the s3 scheme backed by the AWS SDK.
func New(spec rse.ProtocolSpec, opts protocol.Options) (protocol.Protocol, error) {
	return NewFactory(NewClient)(spec, opts)
}

// NewClient builds an *s3.Client from the protocol attributes and RSE
// credentials.
//
// Recognised attributes (credentials take precedence when set):
//   - region: AWS region (default us-east-1)
//   - endpoint: custom endpoint URL, enables path-style addressing
//   - max_retries: SDK retry attempts for transient failures (default 10)
//
// Without static keys the default AWS credential chain is used.
func NewClient(ctx context.Context, spec rse.ProtocolSpec, creds rse.Credentials) (API, error) {
	region := firstNonEmpty(creds.Region, spec.Attr("region", ""), "us-east-1")
	endpoint := firstNonEmpty(creds.Endpoint, spec.Attr("endpoint", ""))

	retries, err := maxRetries(spec)
	if err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 1: Build AWS Config
	// ========================================================================

	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(region),
	}

	if endpoint != "" {
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		customResolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
				return aws.Endpoint{
					URL:               endpoint,
					HostnameImmutable: true,
					Source:            aws.EndpointSourceCustom,
				}, nil
			},
		)
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		configOptions = append(configOptions, awsConfig.WithEndpointResolverWithOptions(customResolver))
	}

	if creds.AccessKeyID != "" && creds.SecretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken),
		))
	}

	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = retries
		})
	}))

	cfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// ========================================================================
	// Step 2: Create S3 Client
	// ========================================================================

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		// Path-style addressing for MinIO/Localstack/Ceph
		if endpoint != "" {
			o.UsePathStyle = true
		}
	}), nil
}

func maxRetries(spec rse.ProtocolSpec) (int, error) {
	n, err := strconv.Atoi(spec.Attr("max_retries", "10"))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("s3 protocol: invalid max_retries %q: %w", spec.Attr("max_retries", ""), rse.ErrInvalidConfiguration)
	}
	return n, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (p *Protocol) Capabilities() protocol.Capabilities {
	return p.caps
}

// Connect builds the client and verifies bucket access with HeadBucket.
// The bucket must already exist.
func (p *Protocol) Connect(ctx context.Context, creds rse.Credentials) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	client, err := p.build(ctx, p.Spec(), creds)
	if err != nil {
		if errors.Is(err, rse.ErrInvalidConfiguration) {
			return err
		}
		return protocol.Unavailable("s3 client", err)
	}

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(p.bucket)}); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return protocol.Unavailable(fmt.Sprintf("access bucket %q", p.bucket), err)
	}

	logger.Debug("s3: connected to bucket %s", p.bucket)
	p.client = client
	return nil
}

func (p *Protocol) Close() error {
	p.client = nil
	return nil
}

// key maps a PFN to its object key.
func (p *Protocol) key(pfn string) (string, error) {
	path, err := p.Path(pfn)
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(path, "/"), nil
}
