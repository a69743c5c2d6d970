package grove

import (
	"context"
	"sort"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/jward/grove/internal/codebase"
	"github.com/jward/grove/internal/php"
	"github.com/jward/grove/internal/refs"
	"github.com/jward/grove/internal/store"
)

func builtinsHash() uint64 {
	return xxh3.Hash(php.Builtins())
}

// Snapshot captures the state needed to resume incremental analysis in
// another process: file hashes, signatures and diagnostics, and the
// reference graph. It returns nil before the first analysis.
func (e *Engine) Snapshot() *Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized || e.stale {
		return nil
	}

	snap := &store.Snapshot{
		Version:      store.SnapshotVersion,
		BuiltinsHash: builtinsHash(),
	}
	paths := make([]string, 0, len(e.files))
	for p := range e.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		st := e.files[p]
		rec := store.FileRecord{
			Path:   p,
			Hash:   st.hash,
			Issues: st.issues,
		}
		if sig := e.cb.Signature(st.file.ID); sig != nil {
			rec.Signature = e.storeNodes(sig.Nodes)
		}
		snap.Files = append(snap.Files, rec)
	}

	e.refs.Edges(func(edge refs.Edge) {
		snap.References = append(snap.References, e.storeReference(edge))
	})
	sort.Slice(snap.References, func(i, j int) bool {
		return referenceLess(snap.References[i], snap.References[j])
	})
	return snap
}

func (e *Engine) storeNodes(nodes []codebase.SignatureNode) []store.SignatureNode {
	if len(nodes) == 0 {
		return nil
	}
	out := make([]store.SignatureNode, len(nodes))
	for i, n := range nodes {
		out[i] = store.SignatureNode{
			Name:     e.symbols.String(n.Name),
			Kind:     uint8(n.Kind),
			Hash:     n.Hash,
			Children: e.storeNodes(n.Children),
		}
	}
	return out
}

func (e *Engine) loadNodes(nodes []store.SignatureNode) []codebase.SignatureNode {
	if len(nodes) == 0 {
		return nil
	}
	out := make([]codebase.SignatureNode, len(nodes))
	for i, n := range nodes {
		out[i] = codebase.SignatureNode{
			Name:     e.symbols.Intern(n.Name),
			Kind:     codebase.NodeKind(n.Kind),
			Hash:     n.Hash,
			Children: e.loadNodes(n.Children),
		}
	}
	return out
}

func (e *Engine) storeReference(edge refs.Edge) store.Reference {
	r := store.Reference{
		Kind:     string(edge.Kind),
		ToSymbol: e.symbols.String(edge.To.Symbol),
		ToMember: e.symbols.String(edge.To.Member),
		FromKind: uint8(edge.FromKind),
		ToKind:   uint8(edge.ToKind),
	}
	if edge.From.IsFile() {
		r.FromFile = e.paths.String(edge.From.File)
	} else {
		r.FromSymbol = e.symbols.String(edge.From.Symbol.Symbol)
		r.FromMember = e.symbols.String(edge.From.Symbol.Member)
	}
	return r
}

func (e *Engine) loadReference(r store.Reference) refs.Edge {
	edge := refs.Edge{
		Kind:     refs.EdgeKind(r.Kind),
		To:       refs.SymbolID{Symbol: e.symbols.Intern(r.ToSymbol), Member: e.symbols.Intern(r.ToMember)},
		FromKind: refs.FunctionKind(r.FromKind),
		ToKind:   refs.FunctionKind(r.ToKind),
	}
	if r.FromFile != "" {
		edge.From = refs.FromFile(e.paths.Intern(r.FromFile))
	} else {
		edge.From = refs.FromSymbol(refs.SymbolID{
			Symbol: e.symbols.Intern(r.FromSymbol),
			Member: e.symbols.Intern(r.FromMember),
		})
	}
	return edge
}

func referenceLess(a, b store.Reference) bool {
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	if a.FromFile != b.FromFile {
		return a.FromFile < b.FromFile
	}
	if a.FromSymbol != b.FromSymbol {
		return a.FromSymbol < b.FromSymbol
	}
	if a.FromMember != b.FromMember {
		return a.FromMember < b.FromMember
	}
	if a.ToSymbol != b.ToSymbol {
		return a.ToSymbol < b.ToSymbol
	}
	if a.ToMember != b.ToMember {
		return a.ToMember < b.ToMember
	}
	if a.FromKind != b.FromKind {
		return a.FromKind < b.FromKind
	}
	return a.ToKind < b.ToKind
}

// Restore resumes from a snapshot taken by another Engine and brings it up
// to date with the file source. Files whose content still matches the
// snapshot keep their diagnostics and references; the rest go through the
// incremental path as if they had been edited. A nil or incompatible
// snapshot results in a full analysis.
func (e *Engine) Restore(ctx context.Context, snap *Snapshot) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	obs, err := e.observe(ctx, nil)
	if err != nil {
		return nil, err
	}
	if snap == nil || snap.Version != store.SnapshotVersion || snap.BuiltinsHash != builtinsHash() {
		e.logger.Info("restore.discard", "reason", "missing or incompatible snapshot")
		res, err := e.full(ctx, obs, ModeFull)
		if err != nil {
			return nil, err
		}
		res.Stats.Duration = time.Since(start)
		return res, nil
	}

	e.stale = true
	if err := e.reset(ctx); err != nil {
		return nil, err
	}

	// Files whose content is unchanged are scanned to rebuild their
	// declarations. The others only get their stored signature, which the
	// incremental pass diffs against a fresh scan.
	var current []codebase.File
	for _, rec := range snap.Files {
		f := e.fileFor(rec.Path)
		e.files[rec.Path] = &fileState{file: f, hash: rec.Hash, issues: rec.Issues}
		if obs.read[rec.Path] && obs.readErrs[rec.Path] == nil && obs.hashes[rec.Path] == rec.Hash {
			current = append(current, f)
			continue
		}
		e.cb.SetSignature(&codebase.FileSignature{File: f, Nodes: e.loadNodes(rec.Signature)})
	}
	scans, hits, err := e.scanFiles(ctx, current, obs)
	if err != nil {
		return nil, err
	}
	for _, f := range current {
		res := scans[f.Path]
		e.files[f.Path].keys = e.cb.Extend(res.Metadata)
		e.cb.SetSignature(res.Signature)
	}
	for _, r := range snap.References {
		e.refs.AddEdge(e.loadReference(r))
	}
	e.cbIssues = e.codebaseIssues()
	e.initialized = true
	e.stale = false
	e.logger.Info("restore.loaded",
		"files", len(snap.Files),
		"current", len(current),
		"references", len(snap.References),
	)

	res, err := e.incremental(ctx, obs)
	if err != nil {
		return nil, err
	}
	if res.Stats.Mode == ModeNoChange {
		// Nothing went through the targeted populate.
		e.cb.Populate(codebase.PopulateOptions{})
	}
	if res.Stats.Mode != ModeFallback {
		res.Stats.Mode = ModeRestored
	}
	res.Stats.Scanned += len(current)
	res.Stats.CacheHits += hits
	res.Stats.Duration = time.Since(start)
	return res, nil
}
