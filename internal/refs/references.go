// Package refs holds the symbol reference graph that drives incremental
// re-analysis, and the invalidation cascade computed over it.
package refs

import "github.com/jward/grove/internal/atom"

// Source is where a reference originates: a declared symbol or member, or
// the top-level code of a file (Symbol is zero).
type Source struct {
	Symbol SymbolID
	File   atom.Atom
}

// FromSymbol returns a Source for code inside a declared symbol.
func FromSymbol(id SymbolID) Source {
	return Source{Symbol: id}
}

// FromFile returns a Source for top-level code in file.
func FromFile(file atom.Atom) Source {
	return Source{File: file}
}

// IsFile reports whether s is file-scope code.
func (s Source) IsFile() bool {
	return s.Symbol == SymbolID{}
}

// References is the reference graph produced by analysis. Signature edges
// record dependencies of a symbol's externally visible shape; body edges
// record dependencies of its implementation only.
//
// A References value is not safe for concurrent mutation. Analysis workers
// each fill a private graph which the engine merges with Extend.
type References struct {
	body          map[SymbolID]Set
	signature     map[SymbolID]Set
	overridden    map[SymbolID]Set
	returns       map[FunctionLikeID]map[FunctionLikeID]struct{}
	fileBody      map[atom.Atom]Set
	fileSignature map[atom.Atom]Set
	propWrites    map[Source]Set
	propReads     map[Source]Set
}

// New returns an empty graph.
func New() *References {
	return &References{
		body:          make(map[SymbolID]Set),
		signature:     make(map[SymbolID]Set),
		overridden:    make(map[SymbolID]Set),
		returns:       make(map[FunctionLikeID]map[FunctionLikeID]struct{}),
		fileBody:      make(map[atom.Atom]Set),
		fileSignature: make(map[atom.Atom]Set),
		propWrites:    make(map[Source]Set),
		propReads:     make(map[Source]Set),
	}
}

func addTo[K comparable](m map[K]Set, from K, to SymbolID) {
	s, ok := m[from]
	if !ok {
		s = make(Set)
		m[from] = s
	}
	s.Add(to)
}

func dropFrom[K comparable](m map[K]Set, from K, to SymbolID) {
	if s, ok := m[from]; ok {
		delete(s, to)
		if len(s) == 0 {
			delete(m, from)
		}
	}
}

func (r *References) addEdge(from, to SymbolID, inSignature bool) {
	if from == to {
		return
	}
	if inSignature {
		addTo(r.signature, from, to)
		dropFrom(r.body, from, to)
		return
	}
	if r.signature[from].Has(to) {
		return
	}
	addTo(r.body, from, to)
}

func (r *References) addFileEdge(file atom.Atom, to SymbolID, inSignature bool) {
	if inSignature {
		addTo(r.fileSignature, file, to)
		dropFrom(r.fileBody, file, to)
		return
	}
	if r.fileSignature[file].Has(to) {
		return
	}
	addTo(r.fileBody, file, to)
}

// AddSymbolReferenceToSymbol records that top-level symbol from uses to.
func (r *References) AddSymbolReferenceToSymbol(from, to atom.Atom, inSignature bool) {
	r.addEdge(Symbol(from), Symbol(to), inSignature)
}

// AddSymbolReferenceToClassMember records that top-level symbol from uses
// member to. The owning class is referenced as well.
func (r *References) AddSymbolReferenceToClassMember(from atom.Atom, to SymbolID, inSignature bool) {
	r.addEdge(Symbol(from), to, inSignature)
	r.addEdge(Symbol(from), to.Container(), inSignature)
}

// AddClassMemberReferenceToSymbol records that member from uses top-level
// symbol to. The member's class is recorded as a user too.
func (r *References) AddClassMemberReferenceToSymbol(from SymbolID, to atom.Atom, inSignature bool) {
	r.addEdge(from, Symbol(to), inSignature)
	r.addEdge(from.Container(), Symbol(to), inSignature)
}

// AddClassMemberReferenceToClassMember records that member from uses member
// to. The edges from→to's class and from's class→to's class are added too.
func (r *References) AddClassMemberReferenceToClassMember(from, to SymbolID, inSignature bool) {
	r.addEdge(from, to, inSignature)
	r.addEdge(from, to.Container(), inSignature)
	if from.Symbol != to.Symbol {
		r.addEdge(from.Container(), to.Container(), inSignature)
	}
}

// AddFileReferenceToSymbol records that top-level code of file uses to.
func (r *References) AddFileReferenceToSymbol(file, to atom.Atom, inSignature bool) {
	r.addFileEdge(file, Symbol(to), inSignature)
}

// AddFileReferenceToClassMember records that top-level code of file uses
// member to and its class.
func (r *References) AddFileReferenceToClassMember(file atom.Atom, to SymbolID, inSignature bool) {
	r.addFileEdge(file, to, inSignature)
	r.addFileEdge(file, to.Container(), inSignature)
}

// AddReference dispatches to the Add* method matching the shapes of src and to.
func (r *References) AddReference(src Source, to SymbolID, inSignature bool) {
	switch {
	case src.IsFile() && to.IsMember():
		r.AddFileReferenceToClassMember(src.File, to, inSignature)
	case src.IsFile():
		r.AddFileReferenceToSymbol(src.File, to.Symbol, inSignature)
	case src.Symbol.IsMember() && to.IsMember():
		r.AddClassMemberReferenceToClassMember(src.Symbol, to, inSignature)
	case src.Symbol.IsMember():
		r.AddClassMemberReferenceToSymbol(src.Symbol, to.Symbol, inSignature)
	case to.IsMember():
		r.AddSymbolReferenceToClassMember(src.Symbol.Symbol, to, inSignature)
	default:
		r.AddSymbolReferenceToSymbol(src.Symbol.Symbol, to.Symbol, inSignature)
	}
}

// AddReferenceToOverriddenMember records that member from delegates to the
// parent implementation to, as in parent::method().
func (r *References) AddReferenceToOverriddenMember(from, to SymbolID) {
	if from == to {
		return
	}
	addTo(r.overridden, from, to)
}

// AddReferenceToFunctionLikeReturn records that from consumes the return
// value of to.
func (r *References) AddReferenceToFunctionLikeReturn(from, to FunctionLikeID) {
	if from == to {
		return
	}
	s, ok := r.returns[from]
	if !ok {
		s = make(map[FunctionLikeID]struct{})
		r.returns[from] = s
	}
	s[to] = struct{}{}
}

// AddReferenceForPropertyRead records a read of class::prop from src. The
// read is also a body reference to the property.
func (r *References) AddReferenceForPropertyRead(src Source, class, prop atom.Atom) {
	id := Member(class, prop)
	r.AddReference(src, id, false)
	addTo(r.propReads, src, id)
}

// AddReferenceForPropertyWrite records a write of class::prop from src.
func (r *References) AddReferenceForPropertyWrite(src Source, class, prop atom.Atom) {
	id := Member(class, prop)
	r.AddReference(src, id, false)
	addTo(r.propWrites, src, id)
}

// SignatureReferences returns the symbols whose shape from's shape depends on.
func (r *References) SignatureReferences(from SymbolID) Set {
	return r.signature[from]
}

// BodyReferences returns the symbols from's body depends on.
func (r *References) BodyReferences(from SymbolID) Set {
	return r.body[from]
}

// FileReferences returns the symbols the top-level code of file depends on,
// signature and body edges combined.
func (r *References) FileReferences(file atom.Atom) Set {
	out := make(Set, len(r.fileBody[file])+len(r.fileSignature[file]))
	out.Extend(r.fileBody[file])
	out.Extend(r.fileSignature[file])
	return out
}

// ReadProperties returns every property read anywhere in the graph.
func (r *References) ReadProperties() Set {
	out := make(Set)
	for _, s := range r.propReads {
		out.Extend(s)
	}
	return out
}

// WrittenProperties returns every property written anywhere in the graph.
func (r *References) WrittenProperties() Set {
	out := make(Set)
	for _, s := range r.propWrites {
		out.Extend(s)
	}
	return out
}

// Len returns the total number of edges across all maps.
func (r *References) Len() int {
	n := 0
	for _, s := range r.body {
		n += len(s)
	}
	for _, s := range r.signature {
		n += len(s)
	}
	for _, s := range r.overridden {
		n += len(s)
	}
	for _, s := range r.returns {
		n += len(s)
	}
	for _, s := range r.fileBody {
		n += len(s)
	}
	for _, s := range r.fileSignature {
		n += len(s)
	}
	for _, s := range r.propWrites {
		n += len(s)
	}
	for _, s := range r.propReads {
		n += len(s)
	}
	return n
}

// Extend merges other into r. Merging is commutative and idempotent.
func (r *References) Extend(other *References) {
	if other == nil {
		return
	}
	for from, tos := range other.signature {
		for to := range tos {
			r.addEdge(from, to, true)
		}
	}
	for from, tos := range other.body {
		for to := range tos {
			r.addEdge(from, to, false)
		}
	}
	for file, tos := range other.fileSignature {
		for to := range tos {
			r.addFileEdge(file, to, true)
		}
	}
	for file, tos := range other.fileBody {
		for to := range tos {
			r.addFileEdge(file, to, false)
		}
	}
	for from, tos := range other.overridden {
		for to := range tos {
			addTo(r.overridden, from, to)
		}
	}
	for from, tos := range other.returns {
		for to := range tos {
			r.AddReferenceToFunctionLikeReturn(from, to)
		}
	}
	for src, tos := range other.propWrites {
		for to := range tos {
			addTo(r.propWrites, src, to)
		}
	}
	for src, tos := range other.propReads {
		for to := range tos {
			addTo(r.propReads, src, to)
		}
	}
}

// Clone returns a deep copy of r.
func (r *References) Clone() *References {
	out := New()
	out.Extend(r)
	return out
}

// keyOf maps a Source to the symbol it is attributed to for removal
// purposes. ok is false for file-scope sources.
func keyOf(src Source) (SymbolID, bool) {
	if src.IsFile() {
		return SymbolID{}, false
	}
	return src.Symbol, true
}

// RemoveBodyReferencesForSymbols drops every body-level edge originating in
// symbols, and every file-scope body edge of files. Signature edges stay.
func (r *References) RemoveBodyReferencesForSymbols(symbols Set, files []atom.Atom) {
	for id := range symbols {
		delete(r.body, id)
		delete(r.overridden, id)
	}
	for fn := range r.returns {
		if symbols.Has(fn.SymbolID()) {
			delete(r.returns, fn)
		}
	}
	fileSet := make(map[atom.Atom]struct{}, len(files))
	for _, f := range files {
		fileSet[f] = struct{}{}
		delete(r.fileBody, f)
	}
	r.removeProperties(func(src Source) bool {
		if id, ok := keyOf(src); ok {
			return symbols.Has(id)
		}
		_, ok := fileSet[src.File]
		return ok
	})
}

// RemoveDirtySymbolReferences drops every edge, signature or body, that
// originates in symbols or in the top-level code of files.
func (r *References) RemoveDirtySymbolReferences(symbols Set, files []atom.Atom) {
	for id := range symbols {
		delete(r.signature, id)
	}
	for _, f := range files {
		delete(r.fileSignature, f)
	}
	r.RemoveBodyReferencesForSymbols(symbols, files)
}

// RetainSafeSymbolReferences keeps only edges whose origin is in safe.
func (r *References) RetainSafeSymbolReferences(safe *SafeSet) {
	for id := range r.body {
		if !safe.Contains(id) {
			delete(r.body, id)
		}
	}
	for id := range r.signature {
		if !safe.Contains(id) {
			delete(r.signature, id)
		}
	}
	for id := range r.overridden {
		if !safe.Contains(id) {
			delete(r.overridden, id)
		}
	}
	for fn := range r.returns {
		if !safe.Contains(fn.SymbolID()) {
			delete(r.returns, fn)
		}
	}
	for f := range r.fileBody {
		if !safe.ContainsFile(f) {
			delete(r.fileBody, f)
		}
	}
	for f := range r.fileSignature {
		if !safe.ContainsFile(f) {
			delete(r.fileSignature, f)
		}
	}
	r.removeProperties(func(src Source) bool {
		if id, ok := keyOf(src); ok {
			return !safe.Contains(id)
		}
		return !safe.ContainsFile(src.File)
	})
}

// RestoreReferencesForSafeSymbols copies into r every edge of prev whose
// origin is in safe.
func (r *References) RestoreReferencesForSafeSymbols(prev *References, safe *SafeSet) {
	kept := prev.Clone()
	kept.RetainSafeSymbolReferences(safe)
	r.Extend(kept)
}

func (r *References) removeProperties(drop func(Source) bool) {
	for src := range r.propWrites {
		if drop(src) {
			delete(r.propWrites, src)
		}
	}
	for src := range r.propReads {
		if drop(src) {
			delete(r.propReads, src)
		}
	}
}
