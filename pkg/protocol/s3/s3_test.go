package s3

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/marmos91/rsemgr/pkg/lfn2pfn"
	"github.com/marmos91/rsemgr/pkg/protocol"
	prototesting "github.com/marmos91/rsemgr/pkg/protocol/testing"
	"github.com/marmos91/rsemgr/pkg/rse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBucket = "atlas-datadisk"

func newSpec() rse.ProtocolSpec {
	return rse.ProtocolSpec{
		Scheme:   Scheme,
		Hostname: testBucket,
		Prefix:   "/rucio",
		Domains: map[rse.Domain]rse.Priorities{
			rse.DomainWAN: {Read: 1, Write: 1, Delete: 1},
		},
	}
}

func newConnected(t *testing.T, fake *fakeS3, opts protocol.Options) protocol.Protocol {
	t.Helper()
	p, err := NewFactory(fake.builder())(newSpec(), opts)
	require.NoError(t, err)
	require.NoError(t, p.Connect(context.Background(), rse.Credentials{}))
	return p
}

// TestS3Protocol runs the protocol contract suite against an in-memory S3 API.
func TestS3Protocol(t *testing.T) {
	suite := &prototesting.ProtocolTestSuite{
		NewProtocol: func(t *testing.T) protocol.Protocol {
			p, err := NewFactory(newFakeS3(testBucket).builder())(newSpec(), protocol.Options{Parallelism: 4})
			require.NoError(t, err)
			return p
		},
	}

	suite.Run(t)
}

func TestNew_RequiresBucket(t *testing.T) {
	spec := newSpec()
	spec.Hostname = ""
	_, err := New(spec, protocol.Options{})
	assert.ErrorIs(t, err, rse.ErrInvalidConfiguration)
}

func TestNew_RejectsMaxRetries(t *testing.T) {
	spec := newSpec()
	spec.Attributes = map[string]string{"max_retries": "lots"}
	_, err := New(spec, protocol.Options{})
	assert.ErrorIs(t, err, rse.ErrInvalidConfiguration)
}

func TestConnect_InvalidConfigurationIsNotRetryable(t *testing.T) {
	calls := 0
	build := func(context.Context, rse.ProtocolSpec, rse.Credentials) (API, error) {
		calls++
		return nil, fmt.Errorf("bad endpoint: %w", rse.ErrInvalidConfiguration)
	}
	p, err := NewFactory(build)(newSpec(), protocol.Options{})
	require.NoError(t, err)

	_, err = protocol.Dial(context.Background(), p, rse.Credentials{}, protocol.SessionOptions{
		Policy: protocol.ConnectPolicy{MaxAttempts: 5},
	})
	require.ErrorIs(t, err, rse.ErrInvalidConfiguration)
	assert.False(t, rse.IsRetryable(err))
	assert.Equal(t, 1, calls)
}

func TestConnect_BucketInaccessible(t *testing.T) {
	fake := newFakeS3(testBucket)
	fake.headBucketErr = &smithy.GenericAPIError{Code: "Forbidden"}

	p, err := NewFactory(fake.builder())(newSpec(), protocol.Options{})
	require.NoError(t, err)
	assert.ErrorIs(t, p.Connect(context.Background(), rse.Credentials{}), rse.ErrServiceUnavailable)
}

func TestConnect_ClientBuildFails(t *testing.T) {
	build := func(context.Context, rse.ProtocolSpec, rse.Credentials) (API, error) {
		return nil, errors.New("no credentials")
	}
	p, err := NewFactory(build)(newSpec(), protocol.Options{})
	require.NoError(t, err)
	assert.ErrorIs(t, p.Connect(context.Background(), rse.Credentials{}), rse.ErrServiceUnavailable)
}

func TestNotConnected(t *testing.T) {
	p, err := NewFactory(newFakeS3(testBucket).builder())(newSpec(), protocol.Options{})
	require.NoError(t, err)

	_, err = p.Exists(context.Background(), []string{"s3://atlas-datadisk/rucio/x"})
	assert.ErrorIs(t, err, rse.ErrServiceUnavailable)
}

func TestKeyMapping(t *testing.T) {
	fake := newFakeS3(testBucket)
	p := newConnected(t, fake, protocol.Options{Naming: lfn2pfn.Flat{}})

	pfn, err := p.Translate(rse.LFN("data18", "AOD.0001"))
	require.NoError(t, err)
	assert.Equal(t, "s3://atlas-datadisk/rucio/data18/AOD.0001", pfn)

	key, err := p.(*Protocol).key(pfn)
	require.NoError(t, err)
	assert.Equal(t, "rucio/data18/AOD.0001", key)
}

func TestExists_SharedDirectoryUsesListing(t *testing.T) {
	fake := newFakeS3(testBucket)
	p := newConnected(t, fake, protocol.Options{Naming: lfn2pfn.Flat{}, Parallelism: 2})

	fake.objects["rucio/data18/a"] = []byte("a")
	fake.objects["rucio/data18/b"] = []byte("b")
	fake.objects["rucio/data18/nested/c"] = []byte("c")

	pfns := []string{
		"s3://atlas-datadisk/rucio/data18/a",
		"s3://atlas-datadisk/rucio/data18/b",
		"s3://atlas-datadisk/rucio/data18/missing",
	}
	failures, err := p.Exists(context.Background(), pfns)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[pfns[2]], rse.ErrSourceNotFound)

	assert.Equal(t, 1, fake.count("ListObjectsV2"))
	assert.Zero(t, fake.count("HeadObject"))
}

func TestDelete_Batches(t *testing.T) {
	fake := newFakeS3(testBucket)
	p := newConnected(t, fake, protocol.Options{Naming: lfn2pfn.Flat{}, Parallelism: 8})

	var pfns []string
	for i := 0; i < maxDeleteBatch+5; i++ {
		name := fmt.Sprintf("f%04d", i)
		fake.objects["rucio/data18/"+name] = []byte(name)
		pfns = append(pfns, "s3://atlas-datadisk/rucio/data18/"+name)
	}

	failures, err := p.Delete(context.Background(), pfns)
	require.NoError(t, err)
	assert.Empty(t, failures)
	assert.Empty(t, fake.objects)
	assert.Equal(t, 2, fake.count("DeleteObjects"))
}

func TestCopySource_Escapes(t *testing.T) {
	assert.Equal(t, "bucket/a/b%20c/d%25e", copySource("bucket", "a/b c/d%e"))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"precondition", &smithy.GenericAPIError{Code: "PreconditionFailed"}, rse.ErrFileReplicaAlreadyExists},
		{"denied", &smithy.GenericAPIError{Code: "AccessDenied"}, rse.ErrAccessDenied},
		{"slowdown", &smithy.GenericAPIError{Code: "SlowDown"}, rse.ErrServiceUnavailable},
		{"not found", &smithy.GenericAPIError{Code: "NotFound"}, rse.ErrSourceNotFound},
		{"transport", errors.New("connection reset by peer"), rse.ErrServiceUnavailable},
		{"cancelled", context.Canceled, context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify("op", "key", tt.err), tt.want)
		})
	}
}

func TestReadOnly(t *testing.T) {
	spec := newSpec()
	spec.Attributes = map[string]string{rse.AttrReadOnly: "true"}
	p, err := NewFactory(newFakeS3(testBucket).builder())(spec, protocol.Options{})
	require.NoError(t, err)

	assert.Equal(t, protocol.ReadCapabilities, p.Capabilities())
	_, err = p.Rename(context.Background(), map[string]string{"a": "b"})
	assert.ErrorIs(t, err, rse.ErrUnsupportedOperation)
}

func TestRename_SourceDeleteFailureRollsBack(t *testing.T) {
	fake := newFakeS3(testBucket)
	p := newConnected(t, fake, protocol.Options{Naming: lfn2pfn.Flat{}})

	src := "s3://atlas-datadisk/rucio/data18/old"
	dst := "s3://atlas-datadisk/rucio/data18/new"
	fake.objects["rucio/data18/old"] = []byte("payload")
	fake.deleteObjectErrs["rucio/data18/old"] = errors.New("connection reset")

	failures, err := p.Rename(context.Background(), map[string]string{src: dst})
	require.NoError(t, err)
	require.Len(t, failures, 1)

	ferr := failures[src]
	assert.ErrorIs(t, ferr, rse.ErrRenameIncomplete)
	assert.False(t, rse.IsRetryable(ferr))

	require.Len(t, fake.objects, 1)
	assert.Equal(t, []byte("payload"), fake.objects["rucio/data18/old"])
}

func TestRename_CopyMismatchRollsBack(t *testing.T) {
	fake := newFakeS3(testBucket)
	p := newConnected(t, fake, protocol.Options{Naming: lfn2pfn.Flat{}})

	src := "s3://atlas-datadisk/rucio/data18/old"
	dst := "s3://atlas-datadisk/rucio/data18/new"
	fake.objects["rucio/data18/old"] = []byte("payload")
	fake.corruptCopy = true

	failures, err := p.Rename(context.Background(), map[string]string{src: dst})
	require.NoError(t, err)
	assert.ErrorIs(t, failures[src], rse.ErrRenameIncomplete)

	require.Len(t, fake.objects, 1)
	assert.Contains(t, fake.objects, "rucio/data18/old")
}

func TestSameObject(t *testing.T) {
	out := func(size int64, etag string) *s3.HeadObjectOutput {
		return &s3.HeadObjectOutput{ContentLength: aws.Int64(size), ETag: aws.String(etag)}
	}

	assert.NoError(t, sameObject(out(3, `"abc"`), out(3, `"abc"`)))
	assert.Error(t, sameObject(out(3, `"abc"`), out(2, `"abc"`)))
	assert.Error(t, sameObject(out(3, `"abc"`), out(3, `"abd"`)))
	// multipart etags depend on part layout
	assert.NoError(t, sameObject(out(3, `"abc-2"`), out(3, `"abd"`)))
	assert.NoError(t, sameObject(out(3, ""), out(3, `"abd"`)))
}
