package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/marmos91/rsemgr/pkg/protocol"
	"github.com/marmos91/rsemgr/pkg/rse"
)

// api returns the connected client or an ErrServiceUnavailable error.
func (p *Protocol) api() (API, error) {
	if p.client == nil {
		return nil, fmt.Errorf("s3 %s: not connected: %w", p.bucket, rse.ErrServiceUnavailable)
	}
	return p.client, nil
}

// ============================================================================
// Get / Put
// ============================================================================

func (p *Protocol) Get(ctx context.Context, transfers []protocol.Transfer) (map[string]error, error) {
	client, err := p.api()
	if err != nil {
		return nil, err
	}
	keys, byPFN := protocol.TransferKeys(transfers)

	return protocol.Each(ctx, p.Parallelism(), keys, func(ctx context.Context, pfn string) error {
		key, err := p.key(pfn)
		if err != nil {
			return err
		}

		out, err := client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(p.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return classify("get", key, err)
		}
		defer out.Body.Close()

		local := byPFN[pfn].Local
		tmp, err := os.CreateTemp(filepath.Dir(local), "."+filepath.Base(local)+".*.part")
		if err != nil {
			return fmt.Errorf("get %s: create local file: %w", key, err)
		}
		tmpName := tmp.Name()

		if _, err := io.Copy(tmp, out.Body); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
			return classify("get", key, err)
		}
		if err := tmp.Close(); err != nil {
			_ = os.Remove(tmpName)
			return fmt.Errorf("get %s: %w", key, err)
		}
		if err := os.Rename(tmpName, local); err != nil {
			_ = os.Remove(tmpName)
			return fmt.Errorf("get %s: move into %s: %w", key, local, err)
		}
		return nil
	})
}

func (p *Protocol) Put(ctx context.Context, transfers []protocol.Transfer) (map[string]error, error) {
	if !p.caps.Has(protocol.CapPut) {
		return nil, protocol.Unsupported(Scheme, protocol.CapPut)
	}
	client, err := p.api()
	if err != nil {
		return nil, err
	}
	keys, byPFN := protocol.TransferKeys(transfers)

	return protocol.Each(ctx, p.Parallelism(), keys, func(ctx context.Context, pfn string) error {
		key, err := p.key(pfn)
		if err != nil {
			return err
		}

		local := byPFN[pfn].Local
		in, err := os.Open(local)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("put %s: local %s: %w", key, local, rse.ErrSourceNotFound)
			}
			return fmt.Errorf("put %s: %w", key, err)
		}
		defer in.Close()

		// Cheap precheck; the conditional write below settles races
		switch err := p.head(ctx, client, key); {
		case err == nil:
			return fmt.Errorf("put %s: %w", key, rse.ErrFileReplicaAlreadyExists)
		case !errors.Is(err, rse.ErrSourceNotFound):
			return err
		}

		_, err = client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(p.bucket),
			Key:         aws.String(key),
			Body:        in,
			IfNoneMatch: aws.String("*"),
		})
		if err != nil {
			return classify("put", key, err)
		}
		return nil
	})
}

// ============================================================================
// Exists / Delete
// ============================================================================

// head reports nil when key exists.
func (p *Protocol) head(ctx context.Context, client API, key string) error {
	_, err := p.stat(ctx, client, key)
	return err
}

func (p *Protocol) stat(ctx context.Context, client API, key string) (*s3.HeadObjectOutput, error) {
	out, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify("head", key, err)
	}
	return out, nil
}

// Exists checks keys grouped by parent directory. A group of two or more
// keys is resolved with one listing; a lone key uses HeadObject.
func (p *Protocol) Exists(ctx context.Context, pfns []string) (map[string]error, error) {
	client, err := p.api()
	if err != nil {
		return nil, err
	}
	return p.exists(ctx, client, pfns)
}

func (p *Protocol) exists(ctx context.Context, client API, pfns []string) (map[string]error, error) {
	failures := make(map[string]error)
	var mu sync.Mutex

	groups := make(map[string]map[string]string) // dir -> key -> pfn
	var dirs []string
	for _, pfn := range pfns {
		key, err := p.key(pfn)
		if err != nil {
			failures[pfn] = err
			continue
		}
		dir := path.Dir(key)
		if groups[dir] == nil {
			groups[dir] = make(map[string]string)
			dirs = append(dirs, dir)
		}
		groups[dir][key] = pfn
	}

	dirFailures, err := protocol.Each(ctx, p.Parallelism(), dirs, func(ctx context.Context, dir string) error {
		found, err := p.lookupDir(ctx, client, dir, groups[dir])
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		for key, pfn := range groups[dir] {
			if ferr, ok := found[key]; ok && ferr != nil {
				failures[pfn] = ferr
			} else if !ok {
				failures[pfn] = fmt.Errorf("exists %s: %w", key, rse.ErrSourceNotFound)
			}
		}
		return nil
	})

	for dir, derr := range dirFailures {
		for _, pfn := range groups[dir] {
			failures[pfn] = derr
		}
	}
	return failures, err
}

// lookupDir returns the keys of group that exist, mapped to nil, plus per-key
// errors other than absence.
func (p *Protocol) lookupDir(ctx context.Context, client API, dir string, group map[string]string) (map[string]error, error) {
	found := make(map[string]error, len(group))

	if len(group) == 1 {
		for key := range group {
			err := p.head(ctx, client, key)
			switch {
			case err == nil:
				found[key] = nil
			case !errors.Is(err, rse.ErrSourceNotFound):
				found[key] = err
			}
		}
		return found, nil
	}

	prefix := ""
	if dir != "." {
		prefix = dir + "/"
	}

	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(p.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("list", prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			if _, wanted := group[*obj.Key]; wanted {
				found[*obj.Key] = nil
			}
		}
	}
	return found, nil
}

// Delete verifies every key exists, since DeleteObjects silently succeeds on
// missing keys, then removes the present ones in batches of up to 1000.
func (p *Protocol) Delete(ctx context.Context, pfns []string) (map[string]error, error) {
	if !p.caps.Has(protocol.CapDelete) {
		return nil, protocol.Unsupported(Scheme, protocol.CapDelete)
	}
	client, err := p.api()
	if err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 1: Existence check
	// ========================================================================

	failures, err := p.exists(ctx, client, pfns)
	if err != nil {
		protocol.FailAll(failures, pfns, err)
		return failures, err
	}

	byKey := make(map[string]string, len(pfns))
	var keys []string
	for _, pfn := range pfns {
		if _, failed := failures[pfn]; failed {
			continue
		}
		key, _ := p.key(pfn)
		byKey[key] = pfn
		keys = append(keys, key)
	}

	// ========================================================================
	// Step 2: Batched DeleteObjects
	// ========================================================================

	for i := 0; i < len(keys); i += maxDeleteBatch {
		if err := ctx.Err(); err != nil {
			for _, key := range keys[i:] {
				failures[byKey[key]] = err
			}
			return failures, err
		}

		batch := keys[i:min(i+maxDeleteBatch, len(keys))]

		objects := make([]types.ObjectIdentifier, len(batch))
		for j, key := range batch {
			objects[j] = types.ObjectIdentifier{Key: aws.String(key)}
		}

		result, err := client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(p.bucket),
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			ferr := classify("delete", p.bucket, err)
			for _, key := range batch {
				failures[byKey[key]] = ferr
			}
			continue
		}

		for _, deleteErr := range result.Errors {
			if deleteErr.Key == nil {
				continue
			}
			pfn, ok := byKey[*deleteErr.Key]
			if !ok {
				continue
			}
			failures[pfn] = classify("delete", *deleteErr.Key, &smithy.GenericAPIError{
				Code:    aws.ToString(deleteErr.Code),
				Message: aws.ToString(deleteErr.Message),
			})
		}
	}

	return failures, nil
}

// ============================================================================
// Rename
// ============================================================================

func (p *Protocol) Rename(ctx context.Context, renames map[string]string) (map[string]error, error) {
	if !p.caps.Has(protocol.CapRename) {
		return nil, protocol.Unsupported(Scheme, protocol.CapRename)
	}
	client, err := p.api()
	if err != nil {
		return nil, err
	}

	srcs := make([]string, 0, len(renames))
	for src := range renames {
		srcs = append(srcs, src)
	}

	return protocol.Each(ctx, p.Parallelism(), srcs, func(ctx context.Context, srcPFN string) error {
		src, err := p.key(srcPFN)
		if err != nil {
			return err
		}
		dst, err := p.key(renames[srcPFN])
		if err != nil {
			return err
		}
		return p.rename(ctx, client, src, dst)
	})
}

// rename copies src to dst, verifies the copy against src, then deletes
// src. Once the copy exists, any failure removes dst again so exactly one
// of the two keys survives.
func (p *Protocol) rename(ctx context.Context, client API, src, dst string) error {
	switch err := p.head(ctx, client, dst); {
	case err == nil:
		return fmt.Errorf("rename %s: %w", dst, rse.ErrFileReplicaAlreadyExists)
	case !errors.Is(err, rse.ErrSourceNotFound):
		return err
	}

	srcInfo, err := p.stat(ctx, client, src)
	if err != nil {
		return err
	}

	_, err = client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(p.bucket),
		Key:        aws.String(dst),
		CopySource: aws.String(copySource(p.bucket, src)),
	})
	if err != nil {
		return classify("rename: copy", src, err)
	}

	dstInfo, err := p.stat(ctx, client, dst)
	if err != nil {
		return p.rollback(ctx, client, dst, fmt.Errorf("copy not visible: %v", err))
	}
	if err := sameObject(srcInfo, dstInfo); err != nil {
		return p.rollback(ctx, client, dst, err)
	}

	_, err = client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(src),
	})
	if err != nil {
		return p.rollback(ctx, client, dst, fmt.Errorf("delete source %s: %v", src, classify("delete", src, err)))
	}
	return nil
}

// rollback removes a published rename destination and reports cause as
// ErrRenameIncomplete. The cause is formatted, not wrapped, so a transport
// failure does not make the item retryable on another protocol.
func (p *Protocol) rollback(ctx context.Context, client API, dst string, cause error) error {
	_, err := client.DeleteObject(context.WithoutCancel(ctx), &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(dst),
	})
	if err != nil {
		return fmt.Errorf("rename %s: %v (rollback failed: %v): %w", dst, cause, err, rse.ErrRenameIncomplete)
	}
	return fmt.Errorf("rename %s: %v: %w", dst, cause, rse.ErrRenameIncomplete)
}

// sameObject compares size and, for single-part uploads, the ETag. A
// multipart ETag ("<md5>-<parts>") depends on part sizes and is skipped.
func sameObject(src, dst *s3.HeadObjectOutput) error {
	srcSize, dstSize := aws.ToInt64(src.ContentLength), aws.ToInt64(dst.ContentLength)
	if srcSize != dstSize {
		return fmt.Errorf("copy size mismatch: %d != %d", dstSize, srcSize)
	}

	srcTag, dstTag := aws.ToString(src.ETag), aws.ToString(dst.ETag)
	if srcTag == "" || dstTag == "" || strings.Contains(srcTag, "-") || strings.Contains(dstTag, "-") {
		return nil
	}
	if srcTag != dstTag {
		return fmt.Errorf("copy etag mismatch: %s != %s", dstTag, srcTag)
	}
	return nil
}

// copySource builds the URL-encoded "bucket/key" CopySource value.
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return bucket + "/" + strings.Join(segments, "/")
}

// ============================================================================
// Error classification
// ============================================================================

// classify maps SDK errors onto the rse taxonomy. Errors without an S3 error
// code are transport failures and count as connection-level.
func classify(op, key string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%s %s: %w", op, key, rse.ErrSourceNotFound)
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return protocol.Unavailable(op+" "+key, err)
	}

	switch apiErr.ErrorCode() {
	case "NoSuchKey", "NotFound":
		return fmt.Errorf("%s %s: %w", op, key, rse.ErrSourceNotFound)
	case "PreconditionFailed", "ConditionalRequestConflict":
		return fmt.Errorf("%s %s: %w", op, key, rse.ErrFileReplicaAlreadyExists)
	case "AccessDenied", "Forbidden", "AllAccessDisabled":
		return fmt.Errorf("%s %s: %w: %w", op, key, rse.ErrAccessDenied, err)
	case "NoSuchBucket", "SlowDown", "ServiceUnavailable", "InternalError", "RequestTimeout":
		return protocol.Unavailable(op+" "+key, err)
	default:
		return fmt.Errorf("%s %s: %w", op, key, err)
	}
}
