// Package atom interns identifier strings into small integer handles so that
// symbol keys are cheap to hash, compare and copy.
package atom

import (
	"strings"
	"sync"
)

// Atom is an interned string handle. The zero Atom is the empty string.
type Atom uint32

// Empty is the handle of the empty string.
const Empty Atom = 0

// Interner maps strings to Atoms and back. It is safe for concurrent use;
// scanner and analyzer workers intern names while the engine reads them.
type Interner struct {
	mu    sync.RWMutex
	fold  bool
	ids   map[string]Atom
	names []string
}

// New returns an Interner that case-folds names before interning them.
// PHP function, class and member names are case-insensitive, so "Foo" and
// "foo" share one Atom.
func New() *Interner {
	return newInterner(true)
}

// NewExact returns an Interner that preserves case. It is used for file
// paths.
func NewExact() *Interner {
	return newInterner(false)
}

func newInterner(fold bool) *Interner {
	return &Interner{
		fold:  fold,
		ids:   map[string]Atom{"": Empty},
		names: []string{""},
	}
}

func (in *Interner) key(name string) string {
	if in.fold {
		return strings.ToLower(name)
	}
	return name
}

// Intern returns the Atom for name, allocating one if needed.
func (in *Interner) Intern(name string) Atom {
	k := in.key(name)

	in.mu.RLock()
	id, ok := in.ids[k]
	in.mu.RUnlock()
	if ok {
		return id
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if id, ok := in.ids[k]; ok {
		return id
	}
	id = Atom(len(in.names))
	in.names = append(in.names, k)
	in.ids[k] = id
	return id
}

// Find returns the Atom for name without allocating one.
func (in *Interner) Find(name string) (Atom, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	id, ok := in.ids[in.key(name)]
	return id, ok
}

// String returns the (normalized) string for a. Unknown atoms yield "".
func (in *Interner) String(a Atom) string {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if int(a) >= len(in.names) {
		return ""
	}
	return in.names[a]
}

// Len reports how many distinct strings have been interned, including "".
func (in *Interner) Len() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.names)
}
