package php

import (
	"context"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/grove/internal/atom"
	"github.com/jward/grove/internal/codebase"
)

// Scanner extracts the declarations of a single file. It holds no per-file
// state and is safe for concurrent use.
type Scanner struct {
	in *atom.Interner
}

// NewScanner returns a Scanner interning names with in.
func NewScanner(in *atom.Interner) *Scanner {
	return &Scanner{in: in}
}

// Scan parses src and returns its declarations and signature. Syntax errors
// do not fail the scan; whatever declarations parse are returned.
func (s *Scanner) Scan(ctx context.Context, file codebase.File, src []byte) (*codebase.ScanResult, error) {
	tree, err := parse(ctx, src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	b := &declBuilder{src: src, in: s.in, file: file}
	meta := &codebase.PartialMetadata{File: file}
	scanStatements(tree.RootNode(), b, meta)

	return &codebase.ScanResult{
		Metadata:  meta,
		Signature: codebase.BuildSignature(meta, s.in),
	}, nil
}

func scanStatements(n *sitter.Node, b *declBuilder, meta *codebase.PartialMetadata) {
	for _, c := range namedChildren(n) {
		switch typ := c.Type(); {
		case typ == "function_definition":
			if f := b.function(c); f != nil {
				meta.Functions = append(meta.Functions, f)
			}
		case isClassLike(typ):
			if cl := b.classLike(c); cl != nil {
				meta.Classes = append(meta.Classes, cl)
			}
		case typ == "const_declaration":
			meta.Constants = append(meta.Constants, b.constants(c)...)
		case typ == "namespace_definition":
			if body := c.ChildByFieldName("body"); body != nil {
				scanStatements(body, b, meta)
			}
		case typ == "expression_statement":
			if call := firstNamed(c); call != nil && call.Type() == "function_call_expression" {
				if k := b.define(call); k != nil {
					meta.Constants = append(meta.Constants, k)
				}
			}
		}
	}
}
