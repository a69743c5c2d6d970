package grove

import (
	"context"
	"sort"
	"time"

	"github.com/jward/grove/internal/atom"
	"github.com/jward/grove/internal/codebase"
	"github.com/jward/grove/internal/refs"
)

// incremental runs one incremental call over obs. The engine must be
// initialized.
func (e *Engine) incremental(ctx context.Context, obs *observation) (*Result, error) {
	changed, deleted := e.classify(obs)
	e.logger.Info("incremental.classify",
		"files", len(obs.listed),
		"read", len(obs.read),
		"changed", len(changed),
		"deleted", len(deleted),
	)

	stats := Stats{
		Files:   len(obs.listed),
		Changed: len(changed),
		Deleted: len(deleted),
	}
	if len(changed) == 0 && len(deleted) == 0 {
		e.logger.Info("incremental.noop")
		stats.Mode = ModeNoChange
		stats.Skipped = len(e.files)
		return &Result{Issues: e.assemble(obs), Stats: stats}, nil
	}

	// Re-scan changed files.
	t := time.Now()
	changedFiles := make([]codebase.File, len(changed))
	for i, p := range changed {
		changedFiles[i] = e.fileFor(p)
	}
	scans, hits, err := e.scanFiles(ctx, changedFiles, obs)
	if err != nil {
		return nil, err
	}
	stats.Scanned = len(changedFiles)
	stats.CacheHits = hits
	e.logger.Debug("pass.timing", "pass", "scan", "files", len(changedFiles), "elapsed", time.Since(t))

	// Diff old signatures against new ones; everything else is kept.
	isChanged := make(map[string]bool, len(changed))
	for _, p := range changed {
		isChanged[p] = true
	}
	isDeleted := make(map[string]bool, len(deleted))
	for _, p := range deleted {
		isDeleted[p] = true
	}
	diff := codebase.NewDiff()
	touched := make(map[string]refs.Set, len(changed)+len(deleted))
	for _, f := range changedFiles {
		prev := e.cb.Signature(f.ID)
		next := scans[f.Path].Signature
		diff.Extend(codebase.Between(prev, next))
		syms := prev.Symbols()
		syms.Extend(next.Symbols())
		touched[f.Path] = syms
	}
	for _, p := range deleted {
		prev := e.cb.Signature(e.files[p].file.ID)
		diff.Extend(codebase.Between(prev, nil))
		touched[p] = prev.Symbols()
	}
	var unchanged []string
	for p, st := range e.files {
		if !isChanged[p] && !isDeleted[p] {
			unchanged = append(unchanged, p)
			diff.AddKeepEntries(e.cb.Signature(st.file.ID))
		}
	}
	sort.Strings(unchanged)
	winners := e.effectiveDeclarations(touched)

	// From here on the engine state is being rewritten; an interruption
	// leaves it inconsistent.
	e.stale = true

	for _, p := range deleted {
		st := e.files[p]
		e.cb.RemoveEntries(st.file.ID, st.keys)
		e.cb.RemoveSignature(st.file.ID)
		delete(e.files, p)
	}
	for _, f := range changedFiles {
		res := scans[f.Path]
		if st, ok := e.files[f.Path]; ok {
			e.cb.RemoveEntries(f.ID, st.keys)
			e.cb.RemoveSignature(f.ID)
		}
		e.files[f.Path] = &fileState{
			file: f,
			hash: obs.hashes[f.Path],
			keys: e.cb.Extend(res.Metadata),
		}
		e.cb.SetSignature(res.Signature)
	}
	winners.markTakeovers(e.cb, diff)

	var inv *refs.Invalidation
	if diff.IsEmpty() && len(deleted) == 0 {
		stats.Mode = ModeBodyOnly
		inv = emptyInvalidation()
	} else {
		t = time.Now()
		var ok bool
		inv, ok = e.refs.GetInvalidSymbols(diff, e.budget)
		if !ok {
			e.logger.Warn("incremental.fallback",
				"reason", "cascade budget exceeded",
				"budget", e.budget,
				"changed_symbols", len(diff.Changed()),
			)
			res, err := e.full(ctx, obs, ModeFallback)
			if err != nil {
				return nil, err
			}
			res.Stats.Changed = len(changed)
			res.Stats.Deleted = len(deleted)
			return res, nil
		}
		stats.Mode = ModeCascade
		stats.Invalid = len(inv.Symbols)
		e.logger.Debug("pass.timing", "pass", "cascade", "elapsed", time.Since(t))
	}

	plan := e.plan(inv, changed, deleted, unchanged, touched)
	stats.Analyzed = len(plan.analyze)
	stats.Skipped = len(plan.skip)
	if stats.Mode == ModeBodyOnly {
		e.logger.Info("incremental.body_only", "changed", len(changed), "analyze", len(plan.analyze))
	} else {
		e.logger.Info("incremental.cascade",
			"changed_symbols", len(diff.Changed()),
			"invalid", len(inv.Symbols),
			"partially_invalid", len(inv.PartiallyInvalid),
			"invalid_files", len(inv.Files),
			"analyze", len(plan.analyze),
			"skip", len(plan.skip),
		)
	}

	t = time.Now()
	e.cb.Populate(codebase.PopulateOptions{Safe: plan.safe, Dirty: plan.dirty})
	e.logger.Debug("pass.timing", "pass", "populate", "elapsed", time.Since(t))

	e.evictReferences(stats.Mode, plan)

	analyze := make([]codebase.File, len(plan.analyze))
	for i, p := range plan.analyze {
		analyze[i] = e.files[p].file
	}
	if err := e.analyzeInto(ctx, analyze, obs); err != nil {
		return nil, err
	}

	e.cbIssues = e.codebaseIssues()
	e.stale = false
	return &Result{Issues: e.assemble(obs), Stats: stats}, nil
}

// declarationWinners records, for every name a changed or deleted file
// declared before or after the edit, which files held the effective
// declarations before the codebase was rewritten.
type declarationWinners struct {
	before map[atom.Atom]codebase.Winners
	sigs   map[atom.Atom]*codebase.FileSignature
}

func (e *Engine) effectiveDeclarations(touched map[string]refs.Set) *declarationWinners {
	dw := &declarationWinners{
		before: make(map[atom.Atom]codebase.Winners),
		sigs:   make(map[atom.Atom]*codebase.FileSignature),
	}
	for _, syms := range touched {
		for id := range syms {
			if id.IsMember() {
				continue
			}
			if _, ok := dw.before[id.Symbol]; ok {
				continue
			}
			w := e.cb.WinnersOf(id.Symbol)
			dw.before[id.Symbol] = w
			for _, file := range w {
				if file != atom.Empty {
					dw.sigs[file] = e.cb.Signature(file)
				}
			}
		}
	}
	return dw
}

// markTakeovers marks a name changed when another file's declaration became
// effective, together with every member of the old and new declarations.
// Same-shape duplicates produce no hash change, so the diff alone misses
// these.
func (dw *declarationWinners) markTakeovers(cb *codebase.Codebase, diff *codebase.Diff) {
	for name, was := range dw.before {
		now := cb.WinnersOf(name)
		if now == was {
			continue
		}
		diff.MarkChanged(refs.Symbol(name))
		for i := range now {
			if now[i] == was[i] {
				continue
			}
			markMembers(diff, name, dw.sigs[was[i]])
			markMembers(diff, name, cb.Signature(now[i]))
		}
	}
}

func markMembers(diff *codebase.Diff, name atom.Atom, sig *codebase.FileSignature) {
	for id := range sig.Symbols() {
		if id.Symbol == name && id.IsMember() {
			diff.MarkChanged(id)
		}
	}
}

func emptyInvalidation() *refs.Invalidation {
	return &refs.Invalidation{
		Signature:        make(refs.Set),
		Symbols:          make(refs.Set),
		PartiallyInvalid: make(map[atom.Atom]struct{}),
		Files:            make(map[atom.Atom]struct{}),
	}
}

// analysisPlan is the split of the tracked files into those re-analyzed
// and those whose cached results are reused.
type analysisPlan struct {
	analyze []string
	skip    []string
	// keys are the symbols whose references are rebuilt: everything
	// declared, before or after, by analyzed and deleted files.
	keys      refs.Set
	fileAtoms []atom.Atom
	// safe holds the symbols and files of skipped files.
	safe  *refs.SafeSet
	dirty refs.Set
}

// plan decides which files to re-analyze. An unchanged file is skipped
// when every symbol it declares is safe and its top-level code does not
// reference an invalid signature. Files sharing a declared symbol with an
// analyzed or deleted file are analyzed together, since references are
// evicted per symbol.
func (e *Engine) plan(inv *refs.Invalidation, changed, deleted, unchanged []string, touched map[string]refs.Set) *analysisPlan {
	analyze := make(map[string]bool, len(changed))
	for _, p := range changed {
		analyze[p] = true
	}
	declared := make(map[string]refs.Set, len(unchanged))
	for _, p := range unchanged {
		st := e.files[p]
		syms := e.cb.Signature(st.file.ID).Symbols()
		declared[p] = syms
		if _, hit := inv.Files[st.file.ID]; hit {
			analyze[p] = true
			continue
		}
		for id := range syms {
			if !inv.IsSafe(id) {
				analyze[p] = true
				break
			}
		}
	}

	keys := make(refs.Set)
	for _, p := range deleted {
		keys.Extend(touched[p])
	}
	for p := range analyze {
		if syms, ok := touched[p]; ok {
			keys.Extend(syms)
		} else {
			keys.Extend(declared[p])
		}
	}
	for grew := true; grew; {
		grew = false
		for _, p := range unchanged {
			if analyze[p] {
				continue
			}
			for id := range declared[p] {
				if keys.Has(id) {
					analyze[p] = true
					keys.Extend(declared[p])
					grew = true
					break
				}
			}
		}
	}

	pl := &analysisPlan{keys: keys, safe: refs.NewSafeSet(), dirty: inv.Symbols.Clone()}
	for _, p := range deleted {
		pl.dirty.Extend(touched[p])
		pl.fileAtoms = append(pl.fileAtoms, e.paths.Intern(p))
	}
	for _, p := range changed {
		pl.dirty.Extend(touched[p])
	}
	for p := range e.files {
		if analyze[p] {
			pl.analyze = append(pl.analyze, p)
			pl.fileAtoms = append(pl.fileAtoms, e.files[p].file.ID)
			continue
		}
		pl.skip = append(pl.skip, p)
		for id := range declared[p] {
			pl.safe.Add(id)
		}
		pl.safe.AddFile(e.files[p].file.ID)
	}
	sort.Strings(pl.analyze)
	sort.Strings(pl.skip)
	return pl
}

// evictReferences drops the references that the coming analysis pass will
// regenerate. A body-only edit leaves signature references in place.
// Otherwise the cheaper of removing the dirty edges or rebuilding from the
// safe ones is used.
func (e *Engine) evictReferences(mode Mode, pl *analysisPlan) {
	if mode == ModeBodyOnly {
		e.refs.RemoveBodyReferencesForSymbols(pl.keys, pl.fileAtoms)
		return
	}
	if len(pl.keys) <= pl.safe.Len() {
		e.refs.RemoveDirtySymbolReferences(pl.keys, pl.fileAtoms)
		return
	}
	fresh := refs.New()
	fresh.RestoreReferencesForSafeSymbols(e.refs, pl.safe)
	e.refs = fresh
}
