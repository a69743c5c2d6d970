package codebase

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/jward/grove/internal/atom"
	"github.com/jward/grove/internal/refs"
)

// NodeKind classifies a signature node.
type NodeKind uint8

const (
	NodeFunction NodeKind = iota
	NodeClass
	NodeConstant
	NodeMethod
	NodeProperty
	NodeClassConstant
)

func (k NodeKind) String() string {
	switch k {
	case NodeFunction:
		return "function"
	case NodeClass:
		return "class"
	case NodeConstant:
		return "constant"
	case NodeMethod:
		return "method"
	case NodeProperty:
		return "property"
	case NodeClassConstant:
		return "class_constant"
	}
	return "unknown"
}

// SignatureNode is the shape hash of one declaration. Top-level nodes carry
// their members as Children.
type SignatureNode struct {
	Name     atom.Atom
	Kind     NodeKind
	Hash     uint64
	Children []SignatureNode
}

// FileSignature is the ordered list of shape hashes for everything a file
// declares. Bodies and source positions do not contribute.
type FileSignature struct {
	File  File
	Nodes []SignatureNode
}

// Entries flattens the signature into symbol → hash. Repeated declarations
// of one identifier within the file fold into a single combined hash.
func (s *FileSignature) Entries() map[refs.SymbolID]uint64 {
	out := make(map[refs.SymbolID]uint64)
	if s == nil {
		return out
	}
	put := func(id refs.SymbolID, h uint64) {
		if prev, ok := out[id]; ok {
			h = prev*31 + h
		}
		out[id] = h
	}
	for _, n := range s.Nodes {
		put(refs.Symbol(n.Name), n.Hash)
		for _, c := range n.Children {
			put(refs.Member(n.Name, c.Name), c.Hash)
		}
	}
	return out
}

// Symbols returns every symbol and member the file declares.
func (s *FileSignature) Symbols() refs.Set {
	out := make(refs.Set)
	if s == nil {
		return out
	}
	for _, n := range s.Nodes {
		out.Add(refs.Symbol(n.Name))
		for _, c := range n.Children {
			out.Add(refs.Member(n.Name, c.Name))
		}
	}
	return out
}

// BuildSignature computes the shape hashes of meta.
func BuildSignature(meta *PartialMetadata, in *atom.Interner) *FileSignature {
	sig := &FileSignature{File: meta.File}
	for _, f := range meta.Functions {
		sig.Nodes = append(sig.Nodes, SignatureNode{
			Name: f.Name,
			Kind: NodeFunction,
			Hash: hashFunction(f),
		})
	}
	for _, c := range meta.Constants {
		sig.Nodes = append(sig.Nodes, SignatureNode{
			Name: c.Name,
			Kind: NodeConstant,
			Hash: hashConstant(c),
		})
	}
	for _, c := range meta.Classes {
		node := SignatureNode{
			Name: c.Name,
			Kind: NodeClass,
			Hash: hashClass(c, in),
		}
		for name, m := range c.Methods {
			node.Children = append(node.Children, SignatureNode{Name: name, Kind: NodeMethod, Hash: hashFunction(m)})
		}
		for name, p := range c.Properties {
			node.Children = append(node.Children, SignatureNode{Name: name, Kind: NodeProperty, Hash: hashProperty(p)})
		}
		for name, k := range c.Constants {
			node.Children = append(node.Children, SignatureNode{Name: name, Kind: NodeClassConstant, Hash: hashConstant(k)})
		}
		sortNodes(node.Children, in)
		sig.Nodes = append(sig.Nodes, node)
	}
	sortNodes(sig.Nodes, in)
	return sig
}

func sortNodes(nodes []SignatureNode, in *atom.Interner) {
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := in.String(nodes[i].Name), in.String(nodes[j].Name)
		if a != b {
			return a < b
		}
		if nodes[i].Kind != nodes[j].Kind {
			return nodes[i].Kind < nodes[j].Kind
		}
		return nodes[i].Hash < nodes[j].Hash
	})
}

func writeAttributes(w io.Writer, attrs []string) {
	sorted := make([]string, len(attrs))
	copy(sorted, attrs)
	sort.Strings(sorted)
	fmt.Fprintf(w, "attributes:%s\n", strings.Join(sorted, ","))
}

func hashFunction(f *FunctionLikeInfo) uint64 {
	h := xxh3.New()
	fmt.Fprintf(h, "kind:function\n")
	fmt.Fprintf(h, "name:%s\n", f.DisplayName)
	fmt.Fprintf(h, "visibility:%s\n", f.Visibility)
	fmt.Fprintf(h, "modifiers:static=%t,abstract=%t,final=%t,byref=%t\n", f.Static, f.Abstract, f.Final, f.ByRefReturn)
	fmt.Fprintf(h, "return:%s\n", typeKey(f.ReturnType))
	for i, p := range f.Params {
		fmt.Fprintf(h, "param:%d:%s:%s:%t:%t:%t:%t:%s\n",
			i, strings.ToLower(p.Name), typeKey(p.Type), p.HasDefault, p.Variadic, p.ByRef, p.Promoted, p.Visibility)
	}
	writeAttributes(h, f.Attributes)
	return h.Sum64()
}

func hashClass(c *ClassLikeInfo, in *atom.Interner) uint64 {
	h := xxh3.New()
	fmt.Fprintf(h, "kind:%s\n", c.Kind)
	fmt.Fprintf(h, "name:%s\n", c.DisplayName)
	fmt.Fprintf(h, "modifiers:abstract=%t,final=%t,readonly=%t\n", c.Abstract, c.Final, c.Readonly)
	fmt.Fprintf(h, "parent:%s\n", in.String(c.Parent))
	fmt.Fprintf(h, "interfaces:%s\n", sortedNames(c.Interfaces, in))
	fmt.Fprintf(h, "traits:%s\n", sortedNames(c.Traits, in))
	writeAttributes(h, c.Attributes)
	return h.Sum64()
}

func hashProperty(p *PropertyInfo) uint64 {
	h := xxh3.New()
	fmt.Fprintf(h, "kind:property\n")
	fmt.Fprintf(h, "type:%s\n", typeKey(p.Type))
	fmt.Fprintf(h, "visibility:%s\n", p.Visibility)
	fmt.Fprintf(h, "modifiers:static=%t,readonly=%t,default=%t,promoted=%t\n", p.Static, p.Readonly, p.HasDefault, p.Promoted)
	return h.Sum64()
}

func hashConstant(c *ConstantInfo) uint64 {
	h := xxh3.New()
	fmt.Fprintf(h, "kind:constant\n")
	fmt.Fprintf(h, "case:%t\n", c.EnumCase)
	fmt.Fprintf(h, "type:%s\n", typeKey(c.Type))
	fmt.Fprintf(h, "value:%s\n", c.Value)
	return h.Sum64()
}

func typeKey(t *Type) string {
	if t == nil {
		return ""
	}
	return t.String()
}

func sortedNames(ids []atom.Atom, in *atom.Interner) string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = in.String(id)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}
