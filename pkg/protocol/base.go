package protocol

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/marmos91/rsemgr/pkg/lfn2pfn"
	"github.com/marmos91/rsemgr/pkg/rse"
)

// Base implements PFN construction and parsing shared by all plugins.
//
// PFN format:
//
//	<scheme>://<hostname>[:<port>]<prefix>/<relative path>
//
// Names are not URL-escaped; the path is everything after the authority.
type Base struct {
	spec        rse.ProtocolSpec
	naming      lfn2pfn.Scheme
	parallelism int
	prefix      string
}

// NewBase prepares the shared helpers for spec.
func NewBase(spec rse.ProtocolSpec, opts Options) Base {
	naming := opts.Naming
	if naming == nil {
		naming = lfn2pfn.Hash{}
	}
	return Base{
		spec:        spec,
		naming:      naming,
		parallelism: max(opts.Parallelism, 1),
		prefix:      path.Join("/", spec.Prefix),
	}
}

func (b *Base) Spec() rse.ProtocolSpec {
	return b.spec.Clone()
}

// Parallelism is the per-batch concurrency bound, at least 1.
func (b *Base) Parallelism() int {
	return b.parallelism
}

// Prefix is the cleaned absolute prefix, "/" when none is configured.
func (b *Base) Prefix() string {
	return b.prefix
}

func (b *Base) Translate(f rse.File) (string, error) {
	if f.PFN != "" {
		return f.PFN, nil
	}
	if !f.IsLFN() {
		if f.Name == "" {
			return "", fmt.Errorf("empty physical identifier: %w", rse.ErrInvalidDescriptor)
		}
		return f.Name, nil
	}
	if err := f.Validate(); err != nil {
		return "", err
	}

	rel, err := b.naming.Path(f.Scope, f.Name)
	if err != nil {
		return "", err
	}
	return b.PFN(rel), nil
}

// PFN joins a relative path under the prefix and prepends scheme and authority.
func (b *Base) PFN(rel string) string {
	return b.spec.Scheme + "://" + b.authority() + path.Join(b.prefix, rel)
}

func (b *Base) authority() string {
	if b.spec.Port > 0 {
		return b.spec.Hostname + ":" + strconv.Itoa(b.spec.Port)
	}
	return b.spec.Hostname
}

// Path extracts the absolute path of a PFN served by this protocol.
//
// The PFN must carry this protocol's scheme and authority, and its cleaned
// path must stay inside the prefix. Violations wrap ErrInvalidDescriptor.
func (b *Base) Path(pfn string) (string, error) {
	scheme, rest, ok := strings.Cut(pfn, "://")
	if !ok || scheme != b.spec.Scheme {
		return "", fmt.Errorf("pfn %q is not a %s PFN: %w", pfn, b.spec.Scheme, rse.ErrInvalidDescriptor)
	}

	authority, p, _ := strings.Cut(rest, "/")
	if err := b.checkAuthority(authority); err != nil {
		return "", fmt.Errorf("pfn %q: %v: %w", pfn, err, rse.ErrInvalidDescriptor)
	}

	cleaned := path.Clean("/" + p)
	if strings.HasSuffix(p, "/") || cleaned == b.prefix {
		return "", fmt.Errorf("pfn %q does not name a file: %w", pfn, rse.ErrInvalidDescriptor)
	}
	if b.prefix != "/" && !strings.HasPrefix(cleaned, b.prefix+"/") {
		return "", fmt.Errorf("pfn %q is outside prefix %s: %w", pfn, b.prefix, rse.ErrInvalidDescriptor)
	}
	return cleaned, nil
}

func (b *Base) checkAuthority(authority string) error {
	if authority == "" {
		// file:///path form
		return nil
	}

	host, port := authority, ""
	if i := strings.LastIndex(authority, ":"); i >= 0 {
		host, port = authority[:i], authority[i+1:]
	}
	if b.spec.Hostname != "" && !strings.EqualFold(host, b.spec.Hostname) {
		return fmt.Errorf("host %s does not match %s", host, b.spec.Hostname)
	}
	if port != "" && b.spec.Port > 0 && port != strconv.Itoa(b.spec.Port) {
		return fmt.Errorf("port %s does not match %d", port, b.spec.Port)
	}
	return nil
}
