package grove

import (
	"context"
	"fmt"

	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"github.com/jward/grove/internal/codebase"
	"github.com/jward/grove/internal/issue"
)

// The parallel phases below follow one pattern: a serial step lays out one
// slot per file, workers fill only their own slot, and a serial step merges
// the slots once every worker is done. Workers never touch engine state.

// readFiles reads and hashes paths. A failed read is recorded against its
// path and does not stop the others.
func (e *Engine) readFiles(ctx context.Context, paths []string) (*observation, error) {
	type slot struct {
		src  []byte
		hash uint64
		err  error
	}
	slots := make([]slot, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			src, err := e.source.Read(p)
			if err != nil {
				slots[i].err = err
				return nil
			}
			slots[i] = slot{src: src, hash: xxh3.Hash(src)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("grove: read files: %w", err)
	}

	obs := &observation{
		read:     make(map[string]bool, len(paths)),
		contents: make(map[string][]byte, len(paths)),
		hashes:   make(map[string]uint64, len(paths)),
		readErrs: make(map[string]error),
	}
	for i, p := range paths {
		obs.read[p] = true
		if slots[i].err != nil {
			obs.readErrs[p] = slots[i].err
			continue
		}
		obs.contents[p] = slots[i].src
		obs.hashes[p] = slots[i].hash
	}
	return obs, nil
}

func (o *observation) merge(other *observation) {
	for p := range other.read {
		o.read[p] = true
	}
	for p, src := range other.contents {
		o.contents[p] = src
	}
	for p, h := range other.hashes {
		o.hashes[p] = h
	}
	for p, err := range other.readErrs {
		o.readErrs[p] = err
	}
}

// content returns the source of path, reading it if the observation did
// not.
func (e *Engine) content(obs *observation, path string) ([]byte, error) {
	if src, ok := obs.contents[path]; ok {
		return src, nil
	}
	return e.source.Read(path)
}

// scanFiles scans files, reusing cached results for content seen before.
// It returns the results by path and how many came from the cache.
func (e *Engine) scanFiles(ctx context.Context, files []codebase.File, obs *observation) (map[string]*codebase.ScanResult, int, error) {
	type slot struct {
		res *codebase.ScanResult
		hit bool
	}
	slots := make([]slot, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, f := range files {
		g.Go(func() error {
			key := scanKey{path: f.Path, hash: obs.hashes[f.Path]}
			if e.cache != nil {
				if res, ok := e.cache.Get(key); ok {
					slots[i] = slot{res: res, hit: true}
					return nil
				}
			}
			src, err := e.content(obs, f.Path)
			if err != nil {
				slots[i].res = emptyScan(f)
				return nil
			}
			res, err := e.scanner.Scan(gctx, f, src)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				// The analyzer reports the parse failure for this file.
				slots[i].res = emptyScan(f)
				return nil
			}
			if e.cache != nil {
				e.cache.Add(key, res)
			}
			slots[i].res = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, fmt.Errorf("grove: scan: %w", err)
	}

	out := make(map[string]*codebase.ScanResult, len(files))
	hits := 0
	for i, f := range files {
		out[f.Path] = slots[i].res
		if slots[i].hit {
			hits++
		}
	}
	return out, hits, nil
}

func emptyScan(f codebase.File) *codebase.ScanResult {
	return &codebase.ScanResult{
		Metadata:  &codebase.PartialMetadata{File: f},
		Signature: &codebase.FileSignature{File: f},
	}
}

// analyzeFiles analyzes files against the current codebase. A file that
// fails to read or parse gets a single diagnostic instead of results.
func (e *Engine) analyzeFiles(ctx context.Context, files []codebase.File, obs *observation) (map[string]*codebase.AnalysisResult, error) {
	slots := make([]*codebase.AnalysisResult, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, f := range files {
		g.Go(func() error {
			src, err := e.content(obs, f.Path)
			if err != nil {
				slots[i] = failedAnalysis(f, issue.ReadError, err)
				return nil
			}
			res, err := e.analyzer.Analyze(gctx, f, src, e.cb)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				slots[i] = failedAnalysis(f, issue.ParseError, err)
				return nil
			}
			slots[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("grove: analyze: %w", err)
	}

	out := make(map[string]*codebase.AnalysisResult, len(files))
	for i, f := range files {
		out[f.Path] = slots[i]
	}
	return out, nil
}

func failedAnalysis(f codebase.File, kind issue.Kind, err error) *codebase.AnalysisResult {
	return &codebase.AnalysisResult{
		Issues: []issue.Issue{{
			Kind:    kind,
			File:    f.Path,
			Line:    1,
			Column:  1,
			Message: err.Error(),
		}},
	}
}
