package refs

import "github.com/jward/grove/internal/atom"

// SymbolID identifies a top-level symbol (Member == atom.Empty) or a class
// member (both set). Both halves are case-folded atoms.
type SymbolID struct {
	Symbol atom.Atom
	Member atom.Atom
}

// Symbol returns the identifier of a top-level symbol.
func Symbol(name atom.Atom) SymbolID {
	return SymbolID{Symbol: name}
}

// Member returns the identifier of a class member.
func Member(class, member atom.Atom) SymbolID {
	return SymbolID{Symbol: class, Member: member}
}

// IsMember reports whether id names a class member.
func (id SymbolID) IsMember() bool {
	return id.Member != atom.Empty
}

// Container returns the top-level symbol that owns id. For a top-level
// symbol it returns id itself.
func (id SymbolID) Container() SymbolID {
	return SymbolID{Symbol: id.Symbol}
}

// Format renders id as "name" or "class::member" using in.
func (id SymbolID) Format(in *atom.Interner) string {
	if id.IsMember() {
		return in.String(id.Symbol) + "::" + in.String(id.Member)
	}
	return in.String(id.Symbol)
}

// Set is a set of symbol identifiers.
type Set map[SymbolID]struct{}

// NewSet returns a set holding ids.
func NewSet(ids ...SymbolID) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id.
func (s Set) Add(id SymbolID) {
	s[id] = struct{}{}
}

// Has reports whether id is present. A nil set holds nothing.
func (s Set) Has(id SymbolID) bool {
	_, ok := s[id]
	return ok
}

// Extend adds every member of other.
func (s Set) Extend(other Set) {
	for id := range other {
		s[id] = struct{}{}
	}
}

// Clone returns a copy of s.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	out.Extend(s)
	return out
}

// FunctionKind distinguishes free functions from methods.
type FunctionKind uint8

const (
	KindFunction FunctionKind = iota
	KindMethod
)

// FunctionLikeID identifies something callable.
type FunctionLikeID struct {
	Kind   FunctionKind
	Symbol atom.Atom
	Member atom.Atom
}

// Function returns the identifier of a free function.
func Function(name atom.Atom) FunctionLikeID {
	return FunctionLikeID{Kind: KindFunction, Symbol: name}
}

// Method returns the identifier of a method.
func Method(class, name atom.Atom) FunctionLikeID {
	return FunctionLikeID{Kind: KindMethod, Symbol: class, Member: name}
}

// SymbolID returns the symbol identifier the callable is declared under.
func (f FunctionLikeID) SymbolID() SymbolID {
	return SymbolID{Symbol: f.Symbol, Member: f.Member}
}

// SafeSet is the set of symbols, members and files whose previous analysis
// results are still valid for the current codebase.
type SafeSet struct {
	Symbols map[atom.Atom]struct{}
	Members Set
	Files   map[atom.Atom]struct{}
}

// NewSafeSet returns an empty SafeSet.
func NewSafeSet() *SafeSet {
	return &SafeSet{
		Symbols: make(map[atom.Atom]struct{}),
		Members: make(Set),
		Files:   make(map[atom.Atom]struct{}),
	}
}

// Add marks id safe.
func (s *SafeSet) Add(id SymbolID) {
	if id.IsMember() {
		s.Members.Add(id)
		return
	}
	s.Symbols[id.Symbol] = struct{}{}
}

// AddFile marks a file's top-level code safe.
func (s *SafeSet) AddFile(file atom.Atom) {
	s.Files[file] = struct{}{}
}

// Contains reports whether id is safe. A nil SafeSet contains nothing.
func (s *SafeSet) Contains(id SymbolID) bool {
	if s == nil {
		return false
	}
	if id.IsMember() {
		return s.Members.Has(id)
	}
	_, ok := s.Symbols[id.Symbol]
	return ok
}

// ContainsFile reports whether file is safe.
func (s *SafeSet) ContainsFile(file atom.Atom) bool {
	if s == nil {
		return false
	}
	_, ok := s.Files[file]
	return ok
}

// Len returns the number of safe symbols and members.
func (s *SafeSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Symbols) + len(s.Members)
}
