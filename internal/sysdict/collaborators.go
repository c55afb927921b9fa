package sysdict

import (
	"context"
	"strings"

	"github.com/classreg/internal/classfile"
	"github.com/classreg/internal/namespace"
	apperrors "github.com/classreg/pkg/errors"
	"github.com/classreg/pkg/model"
)

// ParseRequest is what the registry hands the parser.
type ParseRequest struct {
	Bytes     []byte
	NameHint  string
	Source    string
	Namespace *namespace.Namespace
	// Resolver resolves super types in the requesting namespace.
	Resolver Resolver
}

// Parser turns class bytes into a descriptor. It is called outside the
// registry lock.
type Parser interface {
	Parse(ctx context.Context, req ParseRequest) (*model.TypeDescriptor, error)
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(ctx context.Context, req ParseRequest) (*model.TypeDescriptor, error)

// Parse calls f.
func (f ParserFunc) Parse(ctx context.Context, req ParseRequest) (*model.TypeDescriptor, error) {
	return f(ctx, req)
}

// Resolver resolves the super types of the type being parsed. Calls made
// through it are tracked so a cycle is reported instead of waited on.
type Resolver interface {
	ResolveSuper(ctx context.Context, childName, superName string, isSuperclass bool) (*model.TypeDescriptor, error)
}

// Loader finds the bytes of a type for a namespace. A type that is not on
// the namespace's search path is NOT_FOUND.
type Loader interface {
	Load(ctx context.Context, name string, ns *namespace.Namespace) ([]byte, string, error)
}

type boundResolver struct {
	d  *Dictionary
	ns *namespace.Namespace
	pd *model.ProtectionDomain
}

func (r boundResolver) ResolveSuper(ctx context.Context, childName, superName string, isSuperclass bool) (*model.TypeDescriptor, error) {
	return r.d.resolveSuper(ctx, childName, superName, r.ns, r.pd, isSuperclass)
}

const moduleSourcePrefix = "jrt:/"

// ClassFileParser parses class file headers and resolves the super class
// and interfaces it names.
type ClassFileParser struct{}

// Parse implements Parser.
func (ClassFileParser) Parse(ctx context.Context, req ParseRequest) (*model.TypeDescriptor, error) {
	info, err := classfile.Decode(req.Bytes)
	if err != nil {
		return nil, err
	}
	if req.NameHint != "" && info.Name != req.NameHint {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput,
			"%s (wrong name: %s)", req.NameHint, info.Name)
	}

	td := model.NewTypeDescriptor(info.Name, info.SuperName, info.Interfaces...)
	td.Source = req.Source
	td.Digest = classfile.Digest(req.Bytes)
	if strings.HasPrefix(req.Source, moduleSourcePrefix) {
		td.ModuleName = strings.TrimPrefix(req.Source, moduleSourcePrefix)
	}

	if td.SuperName != "" {
		if td.Super, err = req.Resolver.ResolveSuper(ctx, td.Name, td.SuperName, true); err != nil {
			return nil, err
		}
	}
	for _, itf := range td.Interfaces {
		it, err := req.Resolver.ResolveSuper(ctx, td.Name, itf, false)
		if err != nil {
			return nil, err
		}
		td.InterfaceTypes = append(td.InterfaceTypes, it)
	}
	return td, nil
}
