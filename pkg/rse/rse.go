// Package rse defines storage elements (RSEs), the protocols they expose and
// the file descriptors addressed to them.
//
// Everything in this package is immutable configuration or call-scoped data.
package rse

import (
	"fmt"
	"maps"
	"strings"
)

// Domain is the network locality class used to pick among an RSE's protocols.
type Domain string

const (
	DomainLAN Domain = "lan"
	DomainWAN Domain = "wan"
)

// DefaultDomain is used when a caller does not request one.
const DefaultDomain = DomainWAN

// ParseDomain converts a case-insensitive domain name. Empty selects DefaultDomain.
func ParseDomain(s string) (Domain, error) {
	switch strings.ToLower(s) {
	case "":
		return DefaultDomain, nil
	case string(DomainLAN):
		return DomainLAN, nil
	case string(DomainWAN):
		return DomainWAN, nil
	default:
		return "", fmt.Errorf("unknown domain %q (expected lan or wan)", s)
	}
}

// Operation is the priority class a protocol is ranked by.
type Operation string

const (
	OpRead   Operation = "read"
	OpWrite  Operation = "write"
	OpDelete Operation = "delete"
)

// Priorities ranks a protocol within one domain. 1 is the most preferred;
// 0 means the protocol is not offered for that operation.
type Priorities struct {
	Read   int `mapstructure:"read" yaml:"read" validate:"gte=0"`
	Write  int `mapstructure:"write" yaml:"write" validate:"gte=0"`
	Delete int `mapstructure:"delete" yaml:"delete" validate:"gte=0"`
}

// For returns the priority of op.
func (p Priorities) For(op Operation) int {
	switch op {
	case OpRead:
		return p.Read
	case OpWrite:
		return p.Write
	case OpDelete:
		return p.Delete
	default:
		return 0
	}
}

// AttrReadOnly marks a protocol as read-only when set to "true".
const AttrReadOnly = "read_only"

// ProtocolSpec is one transport registered on an RSE.
type ProtocolSpec struct {
	// Scheme selects the plugin (file, s3, mock)
	Scheme string `mapstructure:"scheme" yaml:"scheme" validate:"required"`

	// Hostname is the endpoint host. For s3 it names the bucket.
	Hostname string `mapstructure:"hostname" yaml:"hostname"`

	Port int `mapstructure:"port" yaml:"port,omitempty" validate:"gte=0,lte=65535"`

	// Prefix is prepended to every translated path
	Prefix string `mapstructure:"prefix" yaml:"prefix"`

	// Domains lists the priorities per network domain. A domain missing
	// from the map is not served by this protocol.
	Domains map[Domain]Priorities `mapstructure:"domains" yaml:"domains" validate:"required,min=1,dive,keys,oneof=lan wan,endkeys"`

	// Attributes carries backend-specific settings
	Attributes map[string]string `mapstructure:"attributes" yaml:"attributes,omitempty"`
}

// Priority returns the rank of the protocol for op within d, 0 if not offered.
func (p ProtocolSpec) Priority(d Domain, op Operation) int {
	prio, ok := p.Domains[d]
	if !ok {
		return 0
	}
	if p.ReadOnly() && op != OpRead {
		return 0
	}
	return prio.For(op)
}

// ReadOnly reports whether the read_only attribute is set.
func (p ProtocolSpec) ReadOnly() bool {
	return strings.EqualFold(p.Attributes[AttrReadOnly], "true")
}

// Attr returns an attribute value or def when unset.
func (p ProtocolSpec) Attr(name, def string) string {
	if v, ok := p.Attributes[name]; ok && v != "" {
		return v
	}
	return def
}

func (p ProtocolSpec) String() string {
	if p.Port > 0 {
		return fmt.Sprintf("%s://%s:%d%s", p.Scheme, p.Hostname, p.Port, p.Prefix)
	}
	return fmt.Sprintf("%s://%s%s", p.Scheme, p.Hostname, p.Prefix)
}

// Clone returns a deep copy.
func (p ProtocolSpec) Clone() ProtocolSpec {
	p.Domains = maps.Clone(p.Domains)
	p.Attributes = maps.Clone(p.Attributes)
	return p
}

// Credentials is the per-RSE secret material handed to plugins on connect.
type Credentials struct {
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
	SessionToken    string `mapstructure:"session_token" yaml:"session_token,omitempty"`
	Region          string `mapstructure:"region" yaml:"region,omitempty"`

	// Endpoint overrides the service URL (MinIO, Localstack, Ceph RGW)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	CertFile string `mapstructure:"cert_file" yaml:"cert_file,omitempty"`
	KeyFile  string `mapstructure:"key_file" yaml:"key_file,omitempty"`
	CAFile   string `mapstructure:"ca_file" yaml:"ca_file,omitempty"`
}

// Info is the full configuration of one storage element.
type Info struct {
	Tag string `mapstructure:"tag" yaml:"tag" validate:"required"`

	// NamingScheme selects the LFN to PFN translation (hash, flat)
	NamingScheme string `mapstructure:"naming_scheme" yaml:"naming_scheme"`

	Credentials Credentials `mapstructure:"credentials" yaml:"credentials,omitempty"`

	// Protocols in declaration order. Declaration order breaks priority ties.
	Protocols []ProtocolSpec `mapstructure:"protocols" yaml:"protocols" validate:"required,min=1,dive"`
}

// Clone returns a deep copy so a snapshot cannot be changed through aliases.
func (i *Info) Clone() *Info {
	if i == nil {
		return nil
	}
	out := *i
	out.Protocols = make([]ProtocolSpec, len(i.Protocols))
	for n, p := range i.Protocols {
		out.Protocols[n] = p.Clone()
	}
	return &out
}

// Validate checks structural consistency that does not depend on registries.
func (i *Info) Validate() error {
	if i.Tag == "" {
		return fmt.Errorf("rse: tag is required")
	}
	if len(i.Protocols) == 0 {
		return fmt.Errorf("rse %s: at least one protocol is required", i.Tag)
	}
	for n, p := range i.Protocols {
		if p.Scheme == "" {
			return fmt.Errorf("rse %s: protocols[%d]: scheme is required", i.Tag, n)
		}
		for d, prio := range p.Domains {
			if d != DomainLAN && d != DomainWAN {
				return fmt.Errorf("rse %s: protocols[%d]: unknown domain %q", i.Tag, n, d)
			}
			if prio.Read < 0 || prio.Write < 0 || prio.Delete < 0 {
				return fmt.Errorf("rse %s: protocols[%d]: negative priority in domain %s", i.Tag, n, d)
			}
		}
	}
	return nil
}
