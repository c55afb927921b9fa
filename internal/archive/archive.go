// Package archive implements the shared archive: a snapshot of resolved
// types, their classpath entries and the module/package graph that a
// later process restores instead of parsing the types again.
//
// Records refer to each other only by index, so an archive is position
// independent. Restored types are an optimization: a record that fails
// validation is rejected and the type is resolved normally.
package archive

import (
	"time"

	"github.com/classreg/pkg/compression"
	"github.com/classreg/pkg/model"
)

// NoIndex marks an absent record reference.
const NoIndex = -1

// TypeRecord is one archived type.
type TypeRecord struct {
	Name         string           `json:"name"`
	SuperIndex   int              `json:"super_index"`
	Interfaces   []int            `json:"interfaces,omitempty"`
	LoaderKind   model.LoaderKind `json:"loader_kind"`
	PathIndex    int              `json:"path_index"`
	ModuleIndex  int              `json:"module_index"`
	PackageIndex int              `json:"package_index"`
	Digest       uint64           `json:"digest"`
}

// ModuleRecord is one archived named module.
type ModuleRecord struct {
	Name       string           `json:"name"`
	Version    string           `json:"version,omitempty"`
	Location   string           `json:"location,omitempty"`
	LoaderKind model.LoaderKind `json:"loader_kind"`
	Open       bool             `json:"open"`
	PathIndex  int              `json:"path_index"`
	Reads      []int            `json:"reads,omitempty"`
}

// PackageRecord is one archived package. ModuleIndex is NoIndex for a
// package of an unnamed module.
type PackageRecord struct {
	Name             string           `json:"name"`
	LoaderKind       model.LoaderKind `json:"loader_kind"`
	ModuleIndex      int              `json:"module_index"`
	ExportFlags      uint8            `json:"export_flags"`
	QualifiedExports []int            `json:"qualified_exports,omitempty"`
}

// LambdaProxyRecord is a generated type archived for a call site of its
// caller.
type LambdaProxyRecord struct {
	CallerIndex int    `json:"caller_index"`
	Key         string `json:"key"`
	ProxyName   string `json:"proxy_name"`
}

// Header describes an archive file.
type Header struct {
	Version     uint16           `json:"version"`
	Compression compression.Type `json:"compression"`
	CreatedAt   time.Time        `json:"created_at"`
	RootModule  string           `json:"root_module"`
}

// Archive is the in-memory form of an archive file.
type Archive struct {
	Header          Header
	Entries         []*PathEntry
	Types           []*TypeRecord
	Modules         []*ModuleRecord
	Packages        []*PackageRecord
	LambdaProxies   []*LambdaProxyRecord
	LambdaFormLines []string
}

// Type returns type record i, or nil.
func (a *Archive) Type(i int) *TypeRecord {
	if i < 0 || i >= len(a.Types) {
		return nil
	}
	return a.Types[i]
}

// Module returns module record i, or nil.
func (a *Archive) Module(i int) *ModuleRecord {
	if i < 0 || i >= len(a.Modules) {
		return nil
	}
	return a.Modules[i]
}

// Package returns package record i, or nil.
func (a *Archive) Package(i int) *PackageRecord {
	if i < 0 || i >= len(a.Packages) {
		return nil
	}
	return a.Packages[i]
}

// SuperName returns the name of rec's super type, or "".
func (a *Archive) SuperName(rec *TypeRecord) string {
	if s := a.Type(rec.SuperIndex); s != nil {
		return s.Name
	}
	return ""
}

// Stats summarizes the contents of an archive.
type Stats struct {
	Entries       int `json:"entries"`
	Types         int `json:"types"`
	Modules       int `json:"modules"`
	Packages      int `json:"packages"`
	LambdaProxies int `json:"lambda_proxies"`
	LambdaForms   int `json:"lambda_forms"`
}

// Stats returns record counts.
func (a *Archive) Stats() Stats {
	return Stats{
		Entries:       len(a.Entries),
		Types:         len(a.Types),
		Modules:       len(a.Modules),
		Packages:      len(a.Packages),
		LambdaProxies: len(a.LambdaProxies),
		LambdaForms:   len(a.LambdaFormLines),
	}
}
