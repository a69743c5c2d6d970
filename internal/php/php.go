// Package php is the PHP front end: a tree-sitter based scanner that
// extracts declarations and signatures, and an analyzer that checks bodies
// against the codebase and records symbol references.
package php

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/php"
)

// parse parses src with a fresh parser. The caller must Close the tree.
func parse(ctx context.Context, src []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(php.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	return tree, nil
}

func text(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	return n.Content(src)
}

func line(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

func column(n *sitter.Node) int {
	return int(n.StartPoint().Column) + 1
}

func namedChildren(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	count := int(n.NamedChildCount())
	out := make([]*sitter.Node, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, n.NamedChild(i))
	}
	return out
}

func firstNamed(n *sitter.Node) *sitter.Node {
	if n == nil || n.NamedChildCount() == 0 {
		return nil
	}
	return n.NamedChild(0)
}

func lastNamed(n *sitter.Node) *sitter.Node {
	if n == nil || n.NamedChildCount() == 0 {
		return nil
	}
	return n.NamedChild(int(n.NamedChildCount()) - 1)
}

func childOfType(n *sitter.Node, types ...string) *sitter.Node {
	for _, c := range namedChildren(n) {
		for _, t := range types {
			if c.Type() == t {
				return c
			}
		}
	}
	return nil
}

func descendantOfType(n *sitter.Node, typ string) *sitter.Node {
	for _, c := range namedChildren(n) {
		if c.Type() == typ {
			return c
		}
		if d := descendantOfType(c, typ); d != nil {
			return d
		}
	}
	return nil
}

func sameNode(a, b *sitter.Node) bool {
	return a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}

// variableName strips the sigil and any by-reference marker from "$x".
func variableName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "&")
	s = strings.TrimPrefix(s, "...")
	return strings.TrimPrefix(s, "$")
}

// shortName drops the namespace from a possibly qualified name, keeping
// its case for messages.
func shortName(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, `\`); i >= 0 {
		return s[i+1:]
	}
	return s
}

func isNameNode(n *sitter.Node) bool {
	if n == nil {
		return false
	}
	switch n.Type() {
	case "name", "qualified_name":
		return true
	}
	return false
}

func isClassLike(typ string) bool {
	switch typ {
	case "class_declaration", "interface_declaration", "trait_declaration", "enum_declaration":
		return true
	}
	return false
}

// stringLiteral returns the contents of a simple quoted string node.
func stringLiteral(n *sitter.Node, src []byte) (string, bool) {
	if n == nil {
		return "", false
	}
	switch n.Type() {
	case "string", "encapsed_string":
	default:
		return "", false
	}
	s := text(n, src)
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1], true
	}
	return "", false
}
