package refs

import "github.com/jward/grove/internal/atom"

// DefaultCascadeBudget bounds the work-list steps GetInvalidSymbols takes
// before giving up.
const DefaultCascadeBudget = 5000

// ChangeSet is the view of a codebase diff the cascade needs.
type ChangeSet interface {
	// Changed returns symbols and members whose shape changed.
	Changed() Set
	// ContainsChangedEntry reports whether container or any of its
	// members changed.
	ContainsChangedEntry(container atom.Atom) bool
}

// Invalidation is the outcome of a cascade.
type Invalidation struct {
	// Signature holds symbols whose shape may differ from the one other
	// code was analyzed against.
	Signature Set
	// Symbols holds everything whose analysis results are stale:
	// Signature plus symbols whose bodies reference Signature.
	Symbols Set
	// PartiallyInvalid holds classes with at least one stale member.
	PartiallyInvalid map[atom.Atom]struct{}
	// Files holds files whose top-level code references Signature.
	Files map[atom.Atom]struct{}
}

// IsSafe reports whether id survives the invalidation. A class with a
// stale member is never safe as a whole.
func (inv *Invalidation) IsSafe(id SymbolID) bool {
	if inv.Symbols.Has(id) {
		return false
	}
	if !id.IsMember() {
		if _, ok := inv.PartiallyInvalid[id.Symbol]; ok {
			return false
		}
	}
	return true
}

// GetInvalidSymbols propagates the changes in diff through the signature
// graph and then marks every body that uses an affected symbol. It returns
// ok=false when the propagation exceeds budget steps; callers must then fall
// back to a full analysis.
func (r *References) GetInvalidSymbols(diff ChangeSet, budget int) (*Invalidation, bool) {
	dependents := make(map[SymbolID][]SymbolID)
	for from, tos := range r.signature {
		for to := range tos {
			dependents[to] = append(dependents[to], from)
		}
	}

	sig := make(Set)
	partial := make(map[atom.Atom]struct{})
	queued := make(Set)
	var work []SymbolID
	enqueue := func(id SymbolID) {
		if queued.Has(id) {
			return
		}
		queued.Add(id)
		work = append(work, id)
	}

	for id := range diff.Changed() {
		enqueue(id)
	}
	for from, tos := range r.signature {
		for to := range tos {
			if !to.IsMember() && diff.ContainsChangedEntry(to.Symbol) {
				enqueue(from)
				break
			}
		}
	}

	steps := 0
	for len(work) > 0 {
		steps++
		if steps > budget {
			return nil, false
		}
		id := work[len(work)-1]
		work = work[:len(work)-1]

		sig.Add(id)
		if id.IsMember() {
			partial[id.Symbol] = struct{}{}
			enqueue(id.Container())
		}
		for _, dep := range dependents[id] {
			sig.Add(dep)
			enqueue(dep)
		}
	}

	invalid := sig.Clone()
	markIfHits := func(from SymbolID, tos Set) {
		if invalid.Has(from) {
			return
		}
		for to := range tos {
			if sig.Has(to) {
				invalid.Add(from)
				return
			}
		}
	}
	for from, tos := range r.body {
		markIfHits(from, tos)
	}
	for from, tos := range r.overridden {
		markIfHits(from, tos)
	}
	for from, tos := range r.returns {
		id := from.SymbolID()
		if invalid.Has(id) {
			continue
		}
		for to := range tos {
			if sig.Has(to.SymbolID()) {
				invalid.Add(id)
				break
			}
		}
	}
	for src, tos := range r.propReads {
		if !src.IsFile() {
			markIfHits(src.Symbol, tos)
		}
	}
	for src, tos := range r.propWrites {
		if !src.IsFile() {
			markIfHits(src.Symbol, tos)
		}
	}
	for id := range invalid {
		if id.IsMember() {
			partial[id.Symbol] = struct{}{}
		}
	}

	files := make(map[atom.Atom]struct{})
	markFile := func(file atom.Atom, tos Set) {
		for to := range tos {
			if sig.Has(to) {
				files[file] = struct{}{}
				return
			}
		}
	}
	for file, tos := range r.fileBody {
		markFile(file, tos)
	}
	for file, tos := range r.fileSignature {
		markFile(file, tos)
	}

	return &Invalidation{
		Signature:        sig,
		Symbols:          invalid,
		PartiallyInvalid: partial,
		Files:            files,
	}, true
}
