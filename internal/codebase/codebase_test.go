package codebase

import (
	"testing"

	"github.com/jward/grove/internal/atom"
	"github.com/jward/grove/internal/refs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	in    *atom.Interner
	paths *atom.Interner
}

func newFixture() *fixture {
	return &fixture{in: atom.New(), paths: atom.NewExact()}
}

func (f *fixture) file(path string) File {
	return File{ID: f.paths.Intern(path), Path: path}
}

func (f *fixture) fn(file File, name, ret string, params ...Param) *FunctionLikeInfo {
	return &FunctionLikeInfo{
		Name:        f.in.Intern(name),
		DisplayName: name,
		File:        file,
		Line:        1,
		Params:      params,
		ReturnType:  ParseType(ret),
	}
}

func (f *fixture) class(file File, name, parent string, methods ...string) *ClassLikeInfo {
	c := NewClassLikeInfo(f.in.Intern(name), name, KindClass, file, 1)
	if parent != "" {
		c.Parent = f.in.Intern(parent)
	}
	for _, m := range methods {
		info := f.fn(file, m, "")
		info.Class = c.Name
		c.Methods[info.Name] = info
	}
	return c
}

// =============================================================================
// Extend / RemoveEntries
// =============================================================================

func TestExtendAndRemove(t *testing.T) {
	t.Parallel()
	f := newFixture()
	cb := New(f.in)
	a := f.file("a.php")

	keys := cb.Extend(&PartialMetadata{
		File:      a,
		Functions: []*FunctionLikeInfo{f.fn(a, "get_value", "int")},
		Classes:   []*ClassLikeInfo{f.class(a, "Widget", "")},
		Constants: []*ConstantInfo{{Name: f.in.Intern("LIMIT"), DisplayName: "LIMIT", File: a}},
	})
	require.Len(t, keys, 3)

	assert.NotNil(t, cb.FunctionByName("GET_VALUE"))
	assert.NotNil(t, cb.ClassByName(`\Widget`))
	assert.NotNil(t, cb.Constant(f.in.Intern("limit")))

	cb.RemoveEntries(a.ID, keys)
	assert.Nil(t, cb.FunctionByName("get_value"))
	assert.Nil(t, cb.ClassByName("widget"))
	assert.Nil(t, cb.Constant(f.in.Intern("limit")))
}

func TestDuplicatesFirstPathWins(t *testing.T) {
	t.Parallel()
	f := newFixture()
	cb := New(f.in)
	a := f.file("a.php")
	b := f.file("b.php")

	// Insert b first; a must still be effective.
	kb := cb.Extend(&PartialMetadata{File: b, Functions: []*FunctionLikeInfo{f.fn(b, "foo", "string")}})
	cb.Extend(&PartialMetadata{File: a, Functions: []*FunctionLikeInfo{f.fn(a, "foo", "int")}})

	assert.Equal(t, "a.php", cb.FunctionByName("foo").File.Path)
	assert.Equal(t, Winners{a.ID, 0, 0}, cb.WinnersOf(f.in.Intern("foo")))
	assert.Equal(t, Winners{}, cb.WinnersOf(f.in.Intern("missing")))
	dups := cb.Duplicates()
	require.Len(t, dups, 1)
	assert.Equal(t, "foo", dups[0].Name)
	assert.Equal(t, []File{a, b}, dups[0].Files)

	cb.RemoveEntries(b.ID, kb)
	assert.Empty(t, cb.Duplicates())
	assert.Equal(t, "a.php", cb.FunctionByName("foo").File.Path)
}

func TestDeclaringFiles(t *testing.T) {
	t.Parallel()
	f := newFixture()
	cb := New(f.in)
	a := f.file("a.php")
	meta := &PartialMetadata{File: a, Classes: []*ClassLikeInfo{f.class(a, "W", "", "run")}}
	cb.Extend(meta)
	cb.SetSignature(BuildSignature(meta, f.in))

	decl := cb.DeclaringFiles()
	assert.Equal(t, []atom.Atom{a.ID}, decl[refs.Symbol(f.in.Intern("w"))])
	assert.Equal(t, []atom.Atom{a.ID}, decl[refs.Member(f.in.Intern("w"), f.in.Intern("run"))])

	cb.RemoveSignature(a.ID)
	assert.Nil(t, cb.Signature(a.ID))
}

// =============================================================================
// Populate
// =============================================================================

func TestPopulateInheritance(t *testing.T) {
	t.Parallel()
	f := newFixture()
	cb := New(f.in)
	a := f.file("a.php")

	base := f.class(a, "Base", "", "run", "stop")
	child := f.class(a, "Child", "Base", "stop")
	iface := NewClassLikeInfo(f.in.Intern("Runner"), "Runner", KindInterface, a, 1)
	child.Interfaces = []atom.Atom{iface.Name}
	trait := NewClassLikeInfo(f.in.Intern("Helps"), "Helps", KindTrait, a, 1)
	trait.Methods[f.in.Intern("help")] = f.fn(a, "help", "")
	child.Traits = []atom.Atom{trait.Name}

	cb.Extend(&PartialMetadata{File: a, Classes: []*ClassLikeInfo{base, child, iface, trait}})
	n := cb.Populate(PopulateOptions{})
	assert.Equal(t, 4, n)

	_, decl := cb.Method(child.Name, f.in.Intern("run"))
	assert.Equal(t, base.Name, decl)
	_, decl = cb.Method(child.Name, f.in.Intern("stop"))
	assert.Equal(t, child.Name, decl)
	_, decl = cb.Method(child.Name, f.in.Intern("help"))
	assert.Equal(t, trait.Name, decl)

	assert.True(t, cb.IsSubclassOf(child.Name, base.Name))
	assert.True(t, cb.IsSubclassOf(child.Name, iface.Name))
	assert.False(t, cb.IsSubclassOf(child.Name, trait.Name))
	assert.False(t, cb.IsSubclassOf(base.Name, child.Name))
}

func TestPopulateMissingAndCyclic(t *testing.T) {
	t.Parallel()
	f := newFixture()
	cb := New(f.in)
	a := f.file("a.php")

	cb.Extend(&PartialMetadata{File: a, Classes: []*ClassLikeInfo{
		f.class(a, "Orphan", "Ghost"),
		f.class(a, "X", "Y"),
		f.class(a, "Y", "X"),
	}})
	cb.Populate(PopulateOptions{})

	orphan := cb.Resolution(f.in.Intern("orphan"))
	require.NotNil(t, orphan)
	assert.Equal(t, []atom.Atom{f.in.Intern("ghost")}, orphan.Missing)

	x := cb.Resolution(f.in.Intern("x"))
	y := cb.Resolution(f.in.Intern("y"))
	require.NotNil(t, x)
	require.NotNil(t, y)
	assert.True(t, x.Cyclic || y.Cyclic)
}

func TestPopulateTargeted(t *testing.T) {
	t.Parallel()
	f := newFixture()
	cb := New(f.in)
	a := f.file("a.php")
	b := f.file("b.php")

	cb.Extend(&PartialMetadata{File: a, Classes: []*ClassLikeInfo{f.class(a, "Base", "", "run")}})
	kb := cb.Extend(&PartialMetadata{File: b, Classes: []*ClassLikeInfo{f.class(b, "Child", "Base")}})
	assert.Equal(t, 2, cb.Populate(PopulateOptions{}))

	// Nothing dirty, everything safe: nothing recomputed.
	safe := refs.NewSafeSet()
	safe.Add(refs.Symbol(f.in.Intern("base")))
	safe.Add(refs.Symbol(f.in.Intern("child")))
	assert.Equal(t, 0, cb.Populate(PopulateOptions{Safe: safe, Dirty: refs.NewSet()}))

	// Child re-declared with a new method: only Child is recomputed.
	cb.RemoveEntries(b.ID, kb)
	cb.Extend(&PartialMetadata{File: b, Classes: []*ClassLikeInfo{f.class(b, "Child", "Base", "extra")}})
	dirty := refs.NewSet(refs.Symbol(f.in.Intern("child")))
	assert.Equal(t, 1, cb.Populate(PopulateOptions{Safe: safe, Dirty: dirty}))

	m, decl := cb.Method(f.in.Intern("child"), f.in.Intern("extra"))
	require.NotNil(t, m)
	assert.Equal(t, f.in.Intern("child"), decl)

	// Removing a class drops its resolution.
	cb.RemoveEntries(b.ID, []EntryKey{{Kind: EntryClass, Name: f.in.Intern("child")}})
	cb.Populate(PopulateOptions{Safe: safe, Dirty: refs.NewSet()})
	assert.Nil(t, cb.Resolution(f.in.Intern("child")))
}
