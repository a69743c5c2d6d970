package codebase

import (
	"github.com/jward/grove/internal/atom"
	"github.com/jward/grove/internal/issue"
	"github.com/jward/grove/internal/refs"
)

// ClassKind distinguishes the class-like declarations.
type ClassKind uint8

const (
	KindClass ClassKind = iota
	KindInterface
	KindTrait
	KindEnum
)

func (k ClassKind) String() string {
	switch k {
	case KindInterface:
		return "interface"
	case KindTrait:
		return "trait"
	case KindEnum:
		return "enum"
	default:
		return "class"
	}
}

// Visibility of a member or promoted parameter.
type Visibility uint8

const (
	Public Visibility = iota
	Protected
	Private
)

// ParseVisibility maps a modifier keyword to a Visibility. Unknown text is
// public.
func ParseVisibility(text string) Visibility {
	switch NormalizeName(text) {
	case "private":
		return Private
	case "protected":
		return Protected
	default:
		return Public
	}
}

func (v Visibility) String() string {
	switch v {
	case Private:
		return "private"
	case Protected:
		return "protected"
	default:
		return "public"
	}
}

// File identifies a source file: an interned path plus the path itself.
type File struct {
	ID      atom.Atom
	Path    string
	Builtin bool
}

// Param is one declared parameter.
type Param struct {
	Name       string
	Type       *Type
	HasDefault bool
	Variadic   bool
	ByRef      bool
	Promoted   bool
	Visibility Visibility
}

// FunctionLikeInfo describes a function or method declaration.
type FunctionLikeInfo struct {
	Name        atom.Atom
	DisplayName string
	Class       atom.Atom // atom.Empty for free functions
	File        File
	Line        int

	Params      []Param
	ReturnType  *Type
	ByRefReturn bool
	Visibility  Visibility
	Static      bool
	Abstract    bool
	Final       bool
	Attributes  []string
}

// ID returns the callable's identifier.
func (f *FunctionLikeInfo) ID() refs.FunctionLikeID {
	if f.Class != atom.Empty {
		return refs.Method(f.Class, f.Name)
	}
	return refs.Function(f.Name)
}

// RequiredParams counts parameters without defaults that are not variadic.
func (f *FunctionLikeInfo) RequiredParams() int {
	n := 0
	for _, p := range f.Params {
		if p.HasDefault || p.Variadic {
			break
		}
		n++
	}
	return n
}

// IsVariadic reports whether the last parameter collects extra arguments.
func (f *FunctionLikeInfo) IsVariadic() bool {
	return len(f.Params) > 0 && f.Params[len(f.Params)-1].Variadic
}

// ParamAt returns the parameter that receives positional argument i.
func (f *FunctionLikeInfo) ParamAt(i int) (Param, bool) {
	if i < len(f.Params) {
		return f.Params[i], true
	}
	if f.IsVariadic() {
		return f.Params[len(f.Params)-1], true
	}
	return Param{}, false
}

// PropertyInfo describes a declared or promoted property.
type PropertyInfo struct {
	Name        atom.Atom
	DisplayName string
	Type        *Type
	Visibility  Visibility
	Static      bool
	Readonly    bool
	HasDefault  bool
	Promoted    bool
	Line        int
}

// ConstantInfo describes a global constant, class constant or enum case.
type ConstantInfo struct {
	Name        atom.Atom
	DisplayName string
	File        File
	Line        int
	Type        *Type
	Value       string
	EnumCase    bool
}

// ClassLikeInfo describes a class, interface, trait or enum.
type ClassLikeInfo struct {
	Name        atom.Atom
	DisplayName string
	Kind        ClassKind
	File        File
	Line        int

	Parent     atom.Atom
	Interfaces []atom.Atom
	Traits     []atom.Atom
	Attributes []string
	Abstract   bool
	Final      bool
	Readonly   bool

	Methods    map[atom.Atom]*FunctionLikeInfo
	Properties map[atom.Atom]*PropertyInfo
	Constants  map[atom.Atom]*ConstantInfo
}

// NewClassLikeInfo returns a ClassLikeInfo with empty member maps.
func NewClassLikeInfo(name atom.Atom, display string, kind ClassKind, file File, line int) *ClassLikeInfo {
	return &ClassLikeInfo{
		Name:        name,
		DisplayName: display,
		Kind:        kind,
		File:        file,
		Line:        line,
		Methods:     make(map[atom.Atom]*FunctionLikeInfo),
		Properties:  make(map[atom.Atom]*PropertyInfo),
		Constants:   make(map[atom.Atom]*ConstantInfo),
	}
}

// PartialMetadata is everything one file declares.
type PartialMetadata struct {
	File      File
	Functions []*FunctionLikeInfo
	Classes   []*ClassLikeInfo
	Constants []*ConstantInfo
}

// ScanResult is the output of scanning one file. It is immutable once
// produced and may be shared between runs.
type ScanResult struct {
	Metadata  *PartialMetadata
	Signature *FileSignature
}

// AnalysisResult is the output of analyzing one file.
type AnalysisResult struct {
	Issues     []issue.Issue
	References *refs.References
}
