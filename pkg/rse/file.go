package rse

import (
	"fmt"
	"strings"
)

// File addresses one object on a storage element.
//
// A File is either a catalog identity (Scope and Name set, PFN optionally
// overriding the translated location) or a bare physical identifier (Scope
// empty, Name holding the PFN).
//
// NewScope and NewName are only read by rename. For catalog identities an
// empty NewScope or NewName keeps the current value; for bare physical
// identifiers NewName is the destination PFN.
type File struct {
	Scope    string `yaml:"scope,omitempty"`
	Name     string `yaml:"name"`
	PFN      string `yaml:"pfn,omitempty"`
	NewScope string `yaml:"new_scope,omitempty"`
	NewName  string `yaml:"new_name,omitempty"`
}

// LFN builds a catalog identity descriptor.
func LFN(scope, name string) File {
	return File{Scope: scope, Name: name}
}

// PFN builds a bare physical identifier descriptor.
func PFN(pfn string) File {
	return File{Name: pfn}
}

// IsLFN reports whether the descriptor carries a catalog identity.
func (f File) IsLFN() bool {
	return f.Scope != ""
}

// Key is the result map key: "scope:name" for catalog identities, the
// literal physical identifier otherwise.
func (f File) Key() string {
	if f.IsLFN() {
		return f.Scope + ":" + f.Name
	}
	return f.Name
}

// BaseName is the file name used for local staging of a download or upload.
func (f File) BaseName() string {
	name := f.Name
	if !f.IsLFN() {
		name = strings.TrimRight(name, "/")
		if i := strings.LastIndex(name, "/"); i >= 0 {
			name = name[i+1:]
		}
	}
	return name
}

// Validate rejects descriptors that cannot be resolved.
func (f File) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("descriptor %+v: empty name: %w", f, ErrInvalidDescriptor)
	}
	if f.IsLFN() && strings.Contains(f.Scope, ":") {
		return fmt.Errorf("descriptor %s: scope contains ':': %w", f.Key(), ErrInvalidDescriptor)
	}
	return nil
}

// RenameTarget returns the descriptor of the rename destination.
func (f File) RenameTarget() (File, error) {
	if !f.IsLFN() {
		if f.NewName == "" {
			return File{}, fmt.Errorf("descriptor %s: rename needs new_name: %w", f.Key(), ErrInvalidDescriptor)
		}
		if f.NewScope != "" {
			return File{}, fmt.Errorf("descriptor %s: new_scope requires a catalog identity: %w", f.Key(), ErrInvalidDescriptor)
		}
		return PFN(f.NewName), nil
	}

	target := File{Scope: f.Scope, Name: f.Name}
	if f.NewScope != "" {
		target.Scope = f.NewScope
	}
	if f.NewName != "" {
		target.Name = f.NewName
	}
	if target.Scope == f.Scope && target.Name == f.Name {
		return File{}, fmt.Errorf("descriptor %s: rename needs new_name or new_scope: %w", f.Key(), ErrInvalidDescriptor)
	}
	return target, target.Validate()
}
