// Package posix implements the "file" protocol on a locally mounted
// filesystem (local disk, NFS, Lustre, CephFS).
package posix

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/google/uuid"
	"github.com/marmos91/rsemgr/internal/logger"
	"github.com/marmos91/rsemgr/pkg/protocol"
	"github.com/marmos91/rsemgr/pkg/rse"
)

// Scheme is the PFN scheme served by this plugin.
const Scheme = "file"

// Protocol implements protocol.Protocol on the local filesystem.
//
// Write Semantics:
//   - Put writes to a uniquely named temporary file next to the target,
//     fsyncs it, then hard-links it into place. The link fails if the
//     target exists, so no reader ever sees a partial file and an existing
//     replica is never overwritten.
//   - Rename links the destination before unlinking the source, so at every
//     instant at least one of the two names resolves to the full object.
//     If the source cannot be unlinked the destination is removed again.
//
// Thread Safety:
// Distinct PFNs may be processed concurrently. Concurrent calls on the same
// destination name are arbitrated by the filesystem: exactly one link wins.
type Protocol struct {
	protocol.Base

	fileMode os.FileMode
	dirMode  os.FileMode
	caps     protocol.Capabilities
}

// New is the protocol.Factory for the file scheme.
//
// Recognised attributes:
//   - mode: octal permission of created files (default 0644)
//   - dir_mode: octal permission of created directories (default 0755)
//   - read_only: "true" drops put, delete and rename
func New(spec rse.ProtocolSpec, opts protocol.Options) (protocol.Protocol, error) {
	fileMode, err := parseMode(spec.Attr("mode", "0644"))
	if err != nil {
		return nil, fmt.Errorf("file protocol: mode: %v: %w", err, rse.ErrInvalidConfiguration)
	}
	dirMode, err := parseMode(spec.Attr("dir_mode", "0755"))
	if err != nil {
		return nil, fmt.Errorf("file protocol: dir_mode: %v: %w", err, rse.ErrInvalidConfiguration)
	}

	caps := protocol.AllCapabilities
	if spec.ReadOnly() {
		caps = protocol.ReadCapabilities
	}

	return &Protocol{
		Base:     protocol.NewBase(spec, opts),
		fileMode: fileMode,
		dirMode:  dirMode,
		caps:     caps,
	}, nil
}

func parseMode(s string) (os.FileMode, error) {
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, err
	}
	if v > 0o777 {
		return 0, fmt.Errorf("%s is not a permission mode", s)
	}
	return os.FileMode(v), nil
}

func (p *Protocol) Capabilities() protocol.Capabilities {
	return p.caps
}

// Connect verifies the prefix directory is reachable, creating it on
// writable protocols.
func (p *Protocol) Connect(ctx context.Context, _ rse.Credentials) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	info, err := os.Stat(p.Prefix())
	if errors.Is(err, fs.ErrNotExist) && p.caps.Has(protocol.CapPut) {
		if err := os.MkdirAll(p.Prefix(), p.dirMode); err != nil {
			return protocol.Unavailable("create prefix "+p.Prefix(), err)
		}
		return nil
	}
	if err != nil {
		return protocol.Unavailable("stat prefix "+p.Prefix(), err)
	}
	if !info.IsDir() {
		return protocol.Unavailable("prefix "+p.Prefix(), syscall.ENOTDIR)
	}
	return nil
}

func (p *Protocol) Close() error {
	return nil
}

// ============================================================================
// Primitives
// ============================================================================

func (p *Protocol) Get(ctx context.Context, transfers []protocol.Transfer) (map[string]error, error) {
	keys, byPFN := protocol.TransferKeys(transfers)

	return protocol.Each(ctx, p.Parallelism(), keys, func(ctx context.Context, pfn string) error {
		src, err := p.Path(pfn)
		if err != nil {
			return err
		}
		return p.get(src, byPFN[pfn].Local)
	})
}

func (p *Protocol) get(src, local string) error {
	in, err := openRegular(src)
	if err != nil {
		return classify("get", src, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(local), "."+filepath.Base(local)+".*.part")
	if err != nil {
		return fmt.Errorf("get %s: create local file: %w", src, err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return classify("get", src, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("get %s: %w", src, err)
	}
	if err := os.Rename(tmpName, local); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("get %s: move into %s: %w", src, local, err)
	}
	return nil
}

func (p *Protocol) Put(ctx context.Context, transfers []protocol.Transfer) (map[string]error, error) {
	if !p.caps.Has(protocol.CapPut) {
		return nil, protocol.Unsupported(Scheme, protocol.CapPut)
	}
	keys, byPFN := protocol.TransferKeys(transfers)

	return protocol.Each(ctx, p.Parallelism(), keys, func(ctx context.Context, pfn string) error {
		dst, err := p.Path(pfn)
		if err != nil {
			return err
		}

		local := byPFN[pfn].Local
		in, err := openRegular(local)
		if err != nil {
			return classify("put: read local", local, err)
		}
		defer in.Close()

		return p.publish(in, dst)
	})
}

// publish stages r next to dst and links it into place without overwriting.
func (p *Protocol) publish(r io.Reader, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("put %s: %w", dst, rse.ErrFileReplicaAlreadyExists)
	}

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, p.dirMode); err != nil {
		return classify("put: mkdir", dir, err)
	}

	tmpName := filepath.Join(dir, "."+filepath.Base(dst)+"."+uuid.NewString()+".part")
	tmp, err := os.OpenFile(tmpName, os.O_WRONLY|os.O_CREATE|os.O_EXCL, p.fileMode)
	if err != nil {
		return classify("put: stage", tmpName, err)
	}
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return classify("put: write", dst, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return classify("put: sync", dst, err)
	}
	if err := tmp.Close(); err != nil {
		return classify("put: close", dst, err)
	}

	if err := os.Link(tmpName, dst); err != nil {
		return classify("put: link", dst, err)
	}
	return nil
}

func (p *Protocol) Delete(ctx context.Context, pfns []string) (map[string]error, error) {
	if !p.caps.Has(protocol.CapDelete) {
		return nil, protocol.Unsupported(Scheme, protocol.CapDelete)
	}

	return protocol.Each(ctx, p.Parallelism(), pfns, func(ctx context.Context, pfn string) error {
		path, err := p.Path(pfn)
		if err != nil {
			return err
		}
		if err := checkRegular(path); err != nil {
			return classify("delete", path, err)
		}
		if err := os.Remove(path); err != nil {
			return classify("delete", path, err)
		}
		return nil
	})
}

func (p *Protocol) Exists(ctx context.Context, pfns []string) (map[string]error, error) {
	return protocol.Each(ctx, p.Parallelism(), pfns, func(ctx context.Context, pfn string) error {
		path, err := p.Path(pfn)
		if err != nil {
			return err
		}
		return classify("exists", path, checkRegular(path))
	})
}

func (p *Protocol) Rename(ctx context.Context, renames map[string]string) (map[string]error, error) {
	if !p.caps.Has(protocol.CapRename) {
		return nil, protocol.Unsupported(Scheme, protocol.CapRename)
	}

	keys := make([]string, 0, len(renames))
	for src := range renames {
		keys = append(keys, src)
	}

	return protocol.Each(ctx, p.Parallelism(), keys, func(ctx context.Context, srcPFN string) error {
		src, err := p.Path(srcPFN)
		if err != nil {
			return err
		}
		dst, err := p.Path(renames[srcPFN])
		if err != nil {
			return err
		}
		return p.rename(src, dst)
	})
}

func (p *Protocol) rename(src, dst string) error {
	if err := checkRegular(src); err != nil {
		return classify("rename", src, err)
	}

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, p.dirMode); err != nil {
		return classify("rename: mkdir", dir, err)
	}

	err := os.Link(src, dst)
	if errors.Is(err, syscall.EXDEV) || errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.ENOTSUP) {
		// No hard links across devices or on this filesystem: copy, then verify
		logger.Debug("rename %s: hard link unavailable (%v), copying", src, err)
		err = p.copyVerify(src, dst)
	} else if err != nil {
		err = classify("rename", dst, err)
	}
	if err != nil {
		return err
	}

	if err := os.Remove(src); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return rollback(dst, fmt.Errorf("remove source %s: %v", src, err))
	}
	return nil
}

// rollback unlinks a published rename destination so the source stays the
// only name for the object.
func rollback(dst string, cause error) error {
	if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("rename %s: %v (rollback failed: %v): %w", dst, cause, err, rse.ErrRenameIncomplete)
	}
	return fmt.Errorf("rename %s: %v: %w", dst, cause, rse.ErrRenameIncomplete)
}

func (p *Protocol) copyVerify(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return classify("rename", src, err)
	}
	defer in.Close()

	srcInfo, err := in.Stat()
	if err != nil {
		return classify("rename", src, err)
	}
	if err := p.publish(in, dst); err != nil {
		return err
	}

	dstInfo, err := os.Stat(dst)
	if err != nil {
		return rollback(dst, fmt.Errorf("copy not visible: %v", err))
	}
	if dstInfo.Size() != srcInfo.Size() {
		return rollback(dst, fmt.Errorf("copy size mismatch: %d != %d", dstInfo.Size(), srcInfo.Size()))
	}
	return nil
}

// ============================================================================
// Helpers
// ============================================================================

func openRegular(path string) (*os.File, error) {
	if err := checkRegular(path); err != nil {
		return nil, err
	}
	return os.Open(path)
}

// checkRegular treats directories and special files as absent objects.
func checkRegular(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fs.ErrNotExist
	}
	return nil
}

// classify maps filesystem errors onto the transfer error taxonomy.
func classify(op, path string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s %s: %w", op, path, rse.ErrSourceNotFound)
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%s %s: %w", op, path, rse.ErrFileReplicaAlreadyExists)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%s %s: %w: %w", op, path, rse.ErrAccessDenied, err)
	case errors.Is(err, syscall.EIO),
		errors.Is(err, syscall.ENOTCONN),
		errors.Is(err, syscall.ESTALE),
		errors.Is(err, syscall.ETIMEDOUT),
		errors.Is(err, syscall.EHOSTDOWN):
		return protocol.Unavailable(op+" "+path, err)
	default:
		return fmt.Errorf("%s %s: %w", op, path, err)
	}
}
