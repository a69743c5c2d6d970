package codebase

import (
	"sort"

	"github.com/jward/grove/internal/atom"
	"github.com/jward/grove/internal/refs"
)

// ClassResolution is the inherited view of a class-like: its ancestors and,
// for every visible member, the class that declares it.
type ClassResolution struct {
	Ancestors  map[atom.Atom]struct{}
	Methods    map[atom.Atom]atom.Atom
	Properties map[atom.Atom]atom.Atom
	Constants  map[atom.Atom]atom.Atom
	// Missing lists parents, interfaces and traits that are not declared.
	Missing []atom.Atom
	// Cyclic is set when the class appears among its own ancestors.
	Cyclic bool
}

func newResolution() *ClassResolution {
	return &ClassResolution{
		Ancestors:  make(map[atom.Atom]struct{}),
		Methods:    make(map[atom.Atom]atom.Atom),
		Properties: make(map[atom.Atom]atom.Atom),
		Constants:  make(map[atom.Atom]atom.Atom),
	}
}

// PopulateOptions selects which classes Populate recomputes. The zero value
// recomputes everything.
type PopulateOptions struct {
	// Safe classes keep their cached resolution.
	Safe *refs.SafeSet
	// Dirty symbols are always recomputed, even when also in Safe.
	Dirty refs.Set
}

func (o PopulateOptions) targeted() bool {
	return o.Safe != nil || o.Dirty != nil
}

type populator struct {
	cb         *Codebase
	opts       PopulateOptions
	dirtyClass map[atom.Atom]struct{}
	done       map[atom.Atom]struct{}
	visiting   map[atom.Atom]struct{}
	recomputed int
}

// Populate resolves inheritance for the classes selected by opts and
// returns how many resolutions it recomputed. Resolutions of classes that
// no longer exist are dropped.
func (c *Codebase) Populate(opts PopulateOptions) int {
	for name := range c.resolved {
		if c.ClassLike(name) == nil {
			delete(c.resolved, name)
		}
	}
	p := &populator{
		cb:         c,
		opts:       opts,
		dirtyClass: make(map[atom.Atom]struct{}),
		done:       make(map[atom.Atom]struct{}),
		visiting:   make(map[atom.Atom]struct{}),
	}
	for id := range opts.Dirty {
		p.dirtyClass[id.Symbol] = struct{}{}
	}
	names := make([]atom.Atom, 0, len(c.classes))
	for name := range c.classes {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return c.Interner.String(names[i]) < c.Interner.String(names[j])
	})
	for _, name := range names {
		if p.needs(name) {
			p.resolve(name)
		}
	}
	return p.recomputed
}

func (p *populator) needs(name atom.Atom) bool {
	if _, ok := p.done[name]; ok {
		return false
	}
	if !p.opts.targeted() {
		return true
	}
	if _, ok := p.cb.resolved[name]; !ok {
		return true
	}
	if _, ok := p.dirtyClass[name]; ok {
		return true
	}
	return p.opts.Safe != nil && !p.opts.Safe.Contains(refs.Symbol(name))
}

// ancestor returns the resolution of an ancestor, computing it first when
// it is due for recomputation in this pass.
func (p *populator) ancestor(name atom.Atom) *ClassResolution {
	if p.cb.ClassLike(name) == nil {
		return nil
	}
	if p.needs(name) {
		p.resolve(name)
	}
	return p.cb.resolved[name]
}

func (p *populator) resolve(name atom.Atom) {
	cl := p.cb.ClassLike(name)
	if cl == nil {
		return
	}
	if _, ok := p.visiting[name]; ok {
		return
	}
	p.visiting[name] = struct{}{}
	defer delete(p.visiting, name)

	res := newResolution()
	for m := range cl.Methods {
		res.Methods[m] = name
	}
	for prop := range cl.Properties {
		res.Properties[prop] = name
	}
	for k := range cl.Constants {
		res.Constants[k] = name
	}

	inherit := func(from atom.Atom, ancestor bool) {
		if from == name {
			res.Cyclic = true
			return
		}
		if _, ok := p.visiting[from]; ok {
			res.Cyclic = true
			return
		}
		parent := p.ancestor(from)
		if parent == nil {
			res.Missing = append(res.Missing, from)
			return
		}
		if ancestor {
			res.Ancestors[from] = struct{}{}
			for a := range parent.Ancestors {
				if a == name {
					res.Cyclic = true
					continue
				}
				res.Ancestors[a] = struct{}{}
			}
		}
		for m, decl := range parent.Methods {
			if _, ok := res.Methods[m]; !ok {
				res.Methods[m] = decl
			}
		}
		for prop, decl := range parent.Properties {
			if _, ok := res.Properties[prop]; !ok {
				res.Properties[prop] = decl
			}
		}
		for k, decl := range parent.Constants {
			if _, ok := res.Constants[k]; !ok {
				res.Constants[k] = decl
			}
		}
	}

	for _, t := range cl.Traits {
		inherit(t, false)
	}
	if cl.Parent != atom.Empty {
		inherit(cl.Parent, true)
	}
	for _, iface := range cl.Interfaces {
		inherit(iface, true)
	}

	p.cb.resolved[name] = res
	p.done[name] = struct{}{}
	p.recomputed++
}

// Resolution returns the inherited view of a class-like, or nil when it
// is unknown or not yet populated.
func (c *Codebase) Resolution(name atom.Atom) *ClassResolution {
	return c.resolved[name]
}

// Method finds a method visible on class, including inherited ones, and
// returns it with the class that declares it.
func (c *Codebase) Method(class, name atom.Atom) (*FunctionLikeInfo, atom.Atom) {
	res := c.resolved[class]
	if res == nil {
		return nil, atom.Empty
	}
	decl, ok := res.Methods[name]
	if !ok {
		return nil, atom.Empty
	}
	owner := c.ClassLike(decl)
	if owner == nil {
		return nil, atom.Empty
	}
	return owner.Methods[name], decl
}

// Property finds a property visible on class.
func (c *Codebase) Property(class, name atom.Atom) (*PropertyInfo, atom.Atom) {
	res := c.resolved[class]
	if res == nil {
		return nil, atom.Empty
	}
	decl, ok := res.Properties[name]
	if !ok {
		return nil, atom.Empty
	}
	owner := c.ClassLike(decl)
	if owner == nil {
		return nil, atom.Empty
	}
	return owner.Properties[name], decl
}

// ClassConstant finds a constant or enum case visible on class.
func (c *Codebase) ClassConstant(class, name atom.Atom) (*ConstantInfo, atom.Atom) {
	res := c.resolved[class]
	if res == nil {
		return nil, atom.Empty
	}
	decl, ok := res.Constants[name]
	if !ok {
		return nil, atom.Empty
	}
	owner := c.ClassLike(decl)
	if owner == nil {
		return nil, atom.Empty
	}
	return owner.Constants[name], decl
}

// IsSubclassOf reports whether child is parent or has it as an ancestor.
func (c *Codebase) IsSubclassOf(child, parent atom.Atom) bool {
	if child == parent {
		return true
	}
	res := c.resolved[child]
	if res == nil {
		return false
	}
	_, ok := res.Ancestors[parent]
	return ok
}
