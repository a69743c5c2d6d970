package codebase

import (
	"github.com/jward/grove/internal/atom"
	"github.com/jward/grove/internal/refs"
)

// Diff records which symbols changed shape between two versions of a set
// of files. Symbols that disappear from one file may reappear in another
// (a move); keep entries let such one-sided changes cancel out when the
// shape is identical.
type Diff struct {
	removed  map[refs.SymbolID]uint64
	added    map[refs.SymbolID]uint64
	modified refs.Set
	keep     map[refs.SymbolID]uint64
	// forced entries are changed regardless of hashes.
	forced refs.Set

	changed    refs.Set
	containers map[atom.Atom]struct{}
}

// NewDiff returns an empty Diff.
func NewDiff() *Diff {
	return &Diff{
		removed:  make(map[refs.SymbolID]uint64),
		added:    make(map[refs.SymbolID]uint64),
		modified: make(refs.Set),
		keep:     make(map[refs.SymbolID]uint64),
		forced:   make(refs.Set),
	}
}

// Between compares two signatures of one file. A nil signature stands for
// an absent file.
func Between(prev, next *FileSignature) *Diff {
	d := NewDiff()
	old := prev.Entries()
	cur := next.Entries()
	for id, h := range old {
		nh, ok := cur[id]
		switch {
		case !ok:
			d.removed[id] = h
		case nh != h:
			d.modified.Add(id)
		}
	}
	for id, h := range cur {
		if _, ok := old[id]; !ok {
			d.added[id] = h
		}
	}
	return d
}

func mergeSide(side map[refs.SymbolID]uint64, id refs.SymbolID, h uint64, modified refs.Set) {
	if prev, ok := side[id]; ok && prev != h {
		modified.Add(id)
	}
	side[id] = h
}

// Extend merges other into d.
func (d *Diff) Extend(other *Diff) {
	if other == nil {
		return
	}
	d.changed = nil
	d.modified.Extend(other.modified)
	for id, h := range other.removed {
		mergeSide(d.removed, id, h, d.modified)
	}
	for id, h := range other.added {
		mergeSide(d.added, id, h, d.modified)
	}
	for id, h := range other.keep {
		d.keep[id] = h
	}
	d.forced.Extend(other.forced)
}

// MarkChanged records id as changed even if no hash differs, as when a
// duplicate declaration takes over a name.
func (d *Diff) MarkChanged(id refs.SymbolID) {
	d.changed = nil
	d.forced.Add(id)
}

// AddKeepEntry records that id still exists, unchanged, with shape hash h
// somewhere outside the compared files.
func (d *Diff) AddKeepEntry(id refs.SymbolID, h uint64) {
	d.changed = nil
	d.keep[id] = h
}

// AddKeepEntries records every entry of sig as kept.
func (d *Diff) AddKeepEntries(sig *FileSignature) {
	for id, h := range sig.Entries() {
		d.AddKeepEntry(id, h)
	}
}

// Changed returns the symbols whose shape differs. A symbol removed from
// one file and added to another with the same hash is a move, not a change.
// A one-sided change is dropped when a kept declaration elsewhere has the
// same hash.
func (d *Diff) Changed() refs.Set {
	if d.changed != nil {
		return d.changed
	}
	out := d.modified.Clone()
	out.Extend(d.forced)
	oneSided := func(id refs.SymbolID, h uint64) {
		if kh, ok := d.keep[id]; ok && kh == h {
			return
		}
		out.Add(id)
	}
	for id, h := range d.removed {
		if ah, ok := d.added[id]; ok {
			if ah != h {
				out.Add(id)
			}
			continue
		}
		oneSided(id, h)
	}
	for id, h := range d.added {
		if _, ok := d.removed[id]; !ok {
			oneSided(id, h)
		}
	}
	containers := make(map[atom.Atom]struct{}, len(out))
	for id := range out {
		containers[id.Symbol] = struct{}{}
	}
	d.changed = out
	d.containers = containers
	return out
}

// ContainsChangedEntry reports whether container or any of its members
// changed.
func (d *Diff) ContainsChangedEntry(container atom.Atom) bool {
	d.Changed()
	_, ok := d.containers[container]
	return ok
}

// IsEmpty reports whether nothing changed.
func (d *Diff) IsEmpty() bool {
	return len(d.Changed()) == 0
}
