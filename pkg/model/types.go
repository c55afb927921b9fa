// Package model defines the values exchanged between the registry and its
// collaborators.
package model

import (
	"strings"
)

// LoaderKind identifies the kind of namespace a type was defined in.
type LoaderKind int

const (
	LoaderKindBoot     LoaderKind = 0 // Bootstrap namespace
	LoaderKindPlatform LoaderKind = 1 // Platform namespace
	LoaderKindApp      LoaderKind = 2 // Application namespace
	LoaderKindCustom   LoaderKind = 3 // User-defined namespace
	LoaderKindHidden   LoaderKind = 4 // Anonymous namespace for hidden types
)

// String returns the string representation of LoaderKind.
func (k LoaderKind) String() string {
	switch k {
	case LoaderKindBoot:
		return "boot"
	case LoaderKindPlatform:
		return "platform"
	case LoaderKindApp:
		return "app"
	case LoaderKindCustom:
		return "custom"
	case LoaderKindHidden:
		return "hidden"
	default:
		return "unknown"
	}
}

// IsBuiltin reports whether the kind is one of the boot, platform or app
// namespaces.
func (k LoaderKind) IsBuiltin() bool {
	return k == LoaderKindBoot || k == LoaderKindPlatform || k == LoaderKindApp
}

// ParseLoaderKind parses the String form of a LoaderKind.
func ParseLoaderKind(s string) (LoaderKind, bool) {
	switch strings.ToLower(s) {
	case "boot":
		return LoaderKindBoot, true
	case "platform":
		return LoaderKindPlatform, true
	case "app":
		return LoaderKindApp, true
	case "custom":
		return LoaderKindCustom, true
	case "hidden":
		return LoaderKindHidden, true
	default:
		return LoaderKindCustom, false
	}
}

// NoSharedPathIndex marks a descriptor that was not restored from an archive.
const NoSharedPathIndex = -1

// ObjectTypeName is the root of the type hierarchy; it is the only type
// allowed to have no super type.
const ObjectTypeName = "java/lang/Object"

// TypeDescriptor is the resolved form of a type. The parser collaborator
// produces it and the registry fills in the defining-namespace fields
// before publishing. A published descriptor is never modified and is
// compared by pointer identity.
type TypeDescriptor struct {
	Name       string   `json:"name"`
	SuperName  string   `json:"super_name,omitempty"`
	Interfaces []string `json:"interfaces,omitempty"`

	// Resolved links, set by the parser through the resolver.
	Super          *TypeDescriptor   `json:"-"`
	InterfaceTypes []*TypeDescriptor `json:"-"`

	// Source is where the bytes came from (a classpath entry or a path).
	Source string `json:"source,omitempty"`

	// Defining namespace, filled by the registry.
	LoaderID   uint64     `json:"loader_id"`
	LoaderKind LoaderKind `json:"loader_kind"`
	ModuleName string     `json:"module,omitempty"`

	// SharedPathIndex is the archive classpath entry the type was dumped
	// from, or NoSharedPathIndex.
	SharedPathIndex int  `json:"shared_path_index"`
	Shared          bool `json:"shared"`

	// Digest identifies the bytes the descriptor was parsed from.
	Digest uint64 `json:"digest,omitempty"`

	// Array types have Dimensions > 0. Component is the type of one
	// dimension less, or nil when that is a primitive.
	Dimensions int             `json:"dimensions,omitempty"`
	Component  *TypeDescriptor `json:"-"`

	// Hidden types are never bound by name.
	Hidden bool `json:"hidden,omitempty"`
}

// NewTypeDescriptor creates an unshared descriptor.
func NewTypeDescriptor(name, superName string, interfaces ...string) *TypeDescriptor {
	return &TypeDescriptor{
		Name:            name,
		SuperName:       superName,
		Interfaces:      interfaces,
		SharedPathIndex: NoSharedPathIndex,
	}
}

// PackageName returns the package portion of the descriptor's name.
func (t *TypeDescriptor) PackageName() string {
	return PackageOf(t.Name)
}

// IsArray reports whether the descriptor is an array type.
func (t *TypeDescriptor) IsArray() bool {
	return t.Dimensions > 0
}

// IsShared reports whether the descriptor was restored from an archive.
func (t *TypeDescriptor) IsShared() bool {
	return t.Shared
}

// String returns the type name.
func (t *TypeDescriptor) String() string {
	if t == nil {
		return "<nil>"
	}
	return t.Name
}

// PackageOf returns the package of an internal type name ("a/b/C" → "a/b").
// Types in the unnamed package return "".
func PackageOf(name string) string {
	i := strings.LastIndexByte(name, '/')
	if i < 0 {
		return ""
	}
	return name[:i]
}

// ProtectionDomain is the opaque principal set a namespace attaches to a
// type. Values are compared by pointer identity; a nil domain means none
// was requested and is always approved.
type ProtectionDomain struct {
	CodeSource string `json:"code_source"`
}

// NewProtectionDomain creates a protection domain for a code source.
func NewProtectionDomain(codeSource string) *ProtectionDomain {
	return &ProtectionDomain{CodeSource: codeSource}
}

// String returns the code source.
func (p *ProtectionDomain) String() string {
	if p == nil {
		return "<none>"
	}
	return p.CodeSource
}
