// Package codebase holds the declaration metadata of every analyzed file,
// per-file signature hashes, the diff between two signature sets, and the
// inheritance resolution computed over them.
package codebase

import (
	"sort"

	"github.com/jward/grove/internal/atom"
	"github.com/jward/grove/internal/refs"
)

// EntryKind classifies an EntryKey.
type EntryKind uint8

const (
	EntryFunction EntryKind = iota
	EntryClass
	EntryConstant
)

// EntryKey names one declaration a file contributed to the codebase.
type EntryKey struct {
	Kind EntryKind
	Name atom.Atom
}

// Codebase is the merged declaration metadata of all files. Several files
// may declare the same name; every declaration is kept and the one from the
// lexically smallest path is effective. Builtin declarations precede all
// others.
//
// A Codebase is mutated only by the engine between analysis passes and is
// read concurrently by analyzers.
type Codebase struct {
	Interner *atom.Interner

	functions  map[atom.Atom][]*FunctionLikeInfo
	classes    map[atom.Atom][]*ClassLikeInfo
	constants  map[atom.Atom][]*ConstantInfo
	signatures map[atom.Atom]*FileSignature
	resolved   map[atom.Atom]*ClassResolution
}

// New returns an empty Codebase interning names with in.
func New(in *atom.Interner) *Codebase {
	return &Codebase{
		Interner:   in,
		functions:  make(map[atom.Atom][]*FunctionLikeInfo),
		classes:    make(map[atom.Atom][]*ClassLikeInfo),
		constants:  make(map[atom.Atom][]*ConstantInfo),
		signatures: make(map[atom.Atom]*FileSignature),
		resolved:   make(map[atom.Atom]*ClassResolution),
	}
}

// before orders declarations of the same name.
func (f File) before(other File) bool {
	if f.Builtin != other.Builtin {
		return f.Builtin
	}
	return f.Path < other.Path
}

func insertSorted[T any](list []T, item T, fileOf func(T) File) []T {
	f := fileOf(item)
	i := sort.Search(len(list), func(i int) bool { return f.before(fileOf(list[i])) })
	list = append(list, item)
	copy(list[i+1:], list[i:])
	list[i] = item
	return list
}

func functionFile(f *FunctionLikeInfo) File { return f.File }
func classFile(c *ClassLikeInfo) File       { return c.File }
func constantFile(c *ConstantInfo) File     { return c.File }

// Extend adds everything meta declares and returns the keys that were
// added, for later removal.
func (c *Codebase) Extend(meta *PartialMetadata) []EntryKey {
	var keys []EntryKey
	for _, f := range meta.Functions {
		c.functions[f.Name] = insertSorted(c.functions[f.Name], f, functionFile)
		keys = append(keys, EntryKey{Kind: EntryFunction, Name: f.Name})
	}
	for _, cl := range meta.Classes {
		c.classes[cl.Name] = insertSorted(c.classes[cl.Name], cl, classFile)
		keys = append(keys, EntryKey{Kind: EntryClass, Name: cl.Name})
	}
	for _, k := range meta.Constants {
		c.constants[k.Name] = insertSorted(c.constants[k.Name], k, constantFile)
		keys = append(keys, EntryKey{Kind: EntryConstant, Name: k.Name})
	}
	return keys
}

func removeFile[T any](m map[atom.Atom][]T, name, file atom.Atom, fileOf func(T) atom.Atom) {
	list := m[name]
	out := list[:0]
	for _, item := range list {
		if fileOf(item) != file {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		delete(m, name)
		return
	}
	m[name] = out
}

// RemoveEntries drops the declarations file contributed under keys.
func (c *Codebase) RemoveEntries(file atom.Atom, keys []EntryKey) {
	for _, k := range keys {
		switch k.Kind {
		case EntryFunction:
			removeFile(c.functions, k.Name, file, func(f *FunctionLikeInfo) atom.Atom { return f.File.ID })
		case EntryClass:
			removeFile(c.classes, k.Name, file, func(cl *ClassLikeInfo) atom.Atom { return cl.File.ID })
		case EntryConstant:
			removeFile(c.constants, k.Name, file, func(k *ConstantInfo) atom.Atom { return k.File.ID })
		}
	}
}

// SetSignature stores the current signature of a file.
func (c *Codebase) SetSignature(sig *FileSignature) {
	c.signatures[sig.File.ID] = sig
}

// Signature returns the stored signature of file, or nil.
func (c *Codebase) Signature(file atom.Atom) *FileSignature {
	return c.signatures[file]
}

// RemoveSignature forgets the signature of file.
func (c *Codebase) RemoveSignature(file atom.Atom) {
	delete(c.signatures, file)
}

// Function returns the effective declaration of a free function.
func (c *Codebase) Function(name atom.Atom) *FunctionLikeInfo {
	if list := c.functions[name]; len(list) > 0 {
		return list[0]
	}
	return nil
}

// ClassLike returns the effective declaration of a class-like.
func (c *Codebase) ClassLike(name atom.Atom) *ClassLikeInfo {
	if list := c.classes[name]; len(list) > 0 {
		return list[0]
	}
	return nil
}

// Constant returns the effective declaration of a global constant.
func (c *Codebase) Constant(name atom.Atom) *ConstantInfo {
	if list := c.constants[name]; len(list) > 0 {
		return list[0]
	}
	return nil
}

// Winners holds the files of the effective function, class-like and
// constant declared under one name. Absent kinds are atom.Empty.
type Winners [3]atom.Atom

// WinnersOf returns the files whose declarations of name are effective.
func (c *Codebase) WinnersOf(name atom.Atom) Winners {
	var w Winners
	if f := c.Function(name); f != nil {
		w[0] = f.File.ID
	}
	if cl := c.ClassLike(name); cl != nil {
		w[1] = cl.File.ID
	}
	if k := c.Constant(name); k != nil {
		w[2] = k.File.ID
	}
	return w
}

// FunctionByName is Function with a raw name.
func (c *Codebase) FunctionByName(name string) *FunctionLikeInfo {
	id, ok := c.Interner.Find(NormalizeName(name))
	if !ok {
		return nil
	}
	return c.Function(id)
}

// ClassByName is ClassLike with a raw name.
func (c *Codebase) ClassByName(name string) *ClassLikeInfo {
	id, ok := c.Interner.Find(NormalizeName(name))
	if !ok {
		return nil
	}
	return c.ClassLike(id)
}

// Duplicate is a name declared by more than one file.
type Duplicate struct {
	Kind  EntryKind
	Name  string
	Files []File
	Lines []int
}

// Duplicates lists every name with more than one declaration, sorted by
// name.
func (c *Codebase) Duplicates() []Duplicate {
	var out []Duplicate
	for _, list := range c.functions {
		if len(list) > 1 {
			d := Duplicate{Kind: EntryFunction, Name: list[0].DisplayName}
			for _, f := range list {
				d.Files = append(d.Files, f.File)
				d.Lines = append(d.Lines, f.Line)
			}
			out = append(out, d)
		}
	}
	for _, list := range c.classes {
		if len(list) > 1 {
			d := Duplicate{Kind: EntryClass, Name: list[0].DisplayName}
			for _, cl := range list {
				d.Files = append(d.Files, cl.File)
				d.Lines = append(d.Lines, cl.Line)
			}
			out = append(out, d)
		}
	}
	for _, list := range c.constants {
		if len(list) > 1 {
			d := Duplicate{Kind: EntryConstant, Name: list[0].DisplayName}
			for _, k := range list {
				d.Files = append(d.Files, k.File)
				d.Lines = append(d.Lines, k.Line)
			}
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// Classes returns every effective class-like, sorted by name.
func (c *Codebase) Classes() []*ClassLikeInfo {
	out := make([]*ClassLikeInfo, 0, len(c.classes))
	for _, list := range c.classes {
		out = append(out, list[0])
	}
	sort.Slice(out, func(i, j int) bool {
		return c.Interner.String(out[i].Name) < c.Interner.String(out[j].Name)
	})
	return out
}

// DeclaringFiles maps every symbol and member declared by any file
// signature to the files declaring it.
func (c *Codebase) DeclaringFiles() map[refs.SymbolID][]atom.Atom {
	out := make(map[refs.SymbolID][]atom.Atom)
	for file, sig := range c.signatures {
		for id := range sig.Symbols() {
			out[id] = append(out[id], file)
		}
	}
	return out
}
