// Package grove is an incremental static analyzer for PHP built on
// tree-sitter. It keeps the results of the previous run and, on every call,
// re-analyzes only the code a set of edits can affect, while returning the
// same diagnostics a from-scratch run would.
//
// # Pipeline
//
// Analysis runs in three passes:
//
//  1. Scan: each file is parsed and its declarations are extracted, along
//     with a signature: one shape hash per declared symbol and member.
//     Bodies do not contribute to the signature.
//
//  2. Populate: the declarations of all files are merged into one codebase
//     and class inheritance is resolved.
//
//  3. Analyze: each file is checked against the populated codebase,
//     producing diagnostics and the references it makes to other symbols.
//
// # Usage
//
//	e, err := grove.New(grove.NewDirSource("path/to/project"))
//	if err != nil { ... }
//
//	ctx := context.Background()
//	res, err := e.Analyze(ctx)
//	...
//	// after edits
//	res, err = e.AnalyzeIncremental(ctx, nil)
//
// # Incremental Analysis
//
// [Engine.AnalyzeIncremental] hashes files (only the hinted ones when a
// hint is given) and re-scans those whose content changed. Old and new
// signatures are diffed. When no signature changed, only the edited files
// are re-analyzed. Otherwise the change is propagated through the
// signature references of the reference graph, and every file whose
// symbols or top-level code can observe it is re-analyzed. Every other
// file keeps its cached diagnostics. When the propagation exceeds its
// budget (see [WithCascadeBudget]) the engine falls back to a full run.
//
// [Engine.Snapshot] and [Engine.Restore] carry this state across
// processes; the internal/store package saves snapshots to SQLite or
// bbolt.
package grove
