package php

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/grove/internal/atom"
	"github.com/jward/grove/internal/codebase"
	"github.com/jward/grove/internal/issue"
	"github.com/jward/grove/internal/refs"
)

// Analyzer checks function bodies and top-level code against a populated
// codebase. It is stateless and safe for concurrent use; each call works
// on its own parse tree and reference graph.
type Analyzer struct{}

// NewAnalyzer returns an Analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Analyze analyzes one file.
func (a *Analyzer) Analyze(ctx context.Context, file codebase.File, src []byte, cb *codebase.Codebase) (*codebase.AnalysisResult, error) {
	tree, err := parse(ctx, src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	fa := &fileAnalyzer{
		src:  src,
		file: file,
		cb:   cb,
		in:   cb.Interner,
		refs: refs.New(),
		decl: &declBuilder{src: src, in: cb.Interner, file: file},
	}
	root := tree.RootNode()
	if root.HasError() {
		fa.syntaxErrors(root)
	}
	fa.topLevel(root, fa.fileScope())

	return &codebase.AnalysisResult{
		Issues:     issue.Normalize(fa.issues),
		References: fa.refs,
	}, nil
}

type fileAnalyzer struct {
	src    []byte
	file   codebase.File
	cb     *codebase.Codebase
	in     *atom.Interner
	refs   *refs.References
	decl   *declBuilder
	issues []issue.Issue
}

// scope is the analysis context of one function-like body, initializer or
// the file's top-level code.
type scope struct {
	src   refs.Source
	fn    *refs.FunctionLikeID // nil outside function-like bodies
	label string

	class    *codebase.ClassLikeInfo // as declared in this file
	static   bool
	ret      *codebase.Type
	checkRet bool

	vars map[string]*codebase.Type
}

func (fa *fileAnalyzer) fileScope() *scope {
	return &scope{
		src:  refs.FromFile(fa.file.ID),
		vars: make(map[string]*codebase.Type),
	}
}

func (sc *scope) className() string {
	if sc.class == nil {
		return ""
	}
	return codebase.NormalizeName(sc.class.DisplayName)
}

func (fa *fileAnalyzer) text(n *sitter.Node) string {
	return text(n, fa.src)
}

func (fa *fileAnalyzer) report(kind issue.Kind, n *sitter.Node, sc *scope, format string, args ...any) {
	is := issue.Issue{
		Kind:    kind,
		File:    fa.file.Path,
		Line:    line(n),
		Column:  column(n),
		Message: fmt.Sprintf(format, args...),
	}
	if sc != nil {
		is.Symbol = sc.label
	}
	fa.issues = append(fa.issues, is)
}

func (fa *fileAnalyzer) syntaxErrors(n *sitter.Node) {
	if n.Type() == "ERROR" {
		snippet := strings.Join(strings.Fields(fa.text(n)), " ")
		if len(snippet) > 30 {
			snippet = snippet[:30] + "..."
		}
		fa.report(issue.ParseError, n, nil, "syntax error near %q", snippet)
		return
	}
	if n.IsMissing() {
		fa.report(issue.ParseError, n, nil, "syntax error: missing %s", n.Type())
		return
	}
	count := int(n.ChildCount())
	for i := 0; i < count; i++ {
		if c := n.Child(i); c.HasError() || c.IsMissing() {
			fa.syntaxErrors(c)
		}
	}
}

// =============================================================================
// Declarations
// =============================================================================

func (fa *fileAnalyzer) topLevel(n *sitter.Node, sc *scope) {
	for _, c := range namedChildren(n) {
		switch typ := c.Type(); {
		case typ == "function_definition":
			fa.function(c)
		case isClassLike(typ):
			fa.classLike(c)
		case typ == "const_declaration":
			fa.globalConstants(c)
		case typ == "namespace_definition":
			if body := c.ChildByFieldName("body"); body != nil {
				fa.topLevel(body, sc)
			}
		default:
			fa.stmt(c, sc)
		}
	}
}

// typeRefs records references to the classes a declared type names.
func (fa *fileAnalyzer) typeRefs(sc *scope, typeNode *sitter.Node, inSignature bool) {
	if typeNode == nil {
		return
	}
	for _, name := range codebase.ParseType(fa.text(typeNode)).ClassNames() {
		fa.classRef(sc, name, typeNode, inSignature)
	}
}

func (fa *fileAnalyzer) attributeRefs(sc *scope, n *sitter.Node) {
	for _, name := range fa.decl.attributes(n) {
		fa.refs.AddReference(sc.src, refs.Symbol(fa.in.Intern(name)), true)
	}
}

// classRef records a reference to a class-like and reports it when it is
// not declared anywhere.
func (fa *fileAnalyzer) classRef(sc *scope, name string, n *sitter.Node, inSignature bool) atom.Atom {
	id := fa.in.Intern(codebase.NormalizeName(name))
	fa.refs.AddReference(sc.src, refs.Symbol(id), inSignature)
	if fa.cb.ClassLike(id) == nil {
		fa.report(issue.UndefinedClass, n, sc, "class %s is not defined", shortName(name))
	}
	return id
}

// signature records the references of a function-like's parameter and
// return types and seeds the body scope with typed parameters.
func (fa *fileAnalyzer) signature(sc *scope, n *sitter.Node, info *codebase.FunctionLikeInfo, inSignature bool) {
	fa.attributeRefs(sc, n)
	params := n.ChildByFieldName("parameters")
	i := 0
	for _, p := range namedChildren(params) {
		switch p.Type() {
		case "simple_parameter", "variadic_parameter", "property_promotion_parameter":
		default:
			continue
		}
		fa.typeRefs(sc, p.ChildByFieldName("type"), inSignature)
		if def := p.ChildByFieldName("default_value"); def != nil {
			fa.expr(def, sc, true)
		}
		if i < len(info.Params) {
			param := info.Params[i]
			t := param.Type
			if param.Variadic {
				t = typeArray
			}
			if t != nil {
				sc.vars[param.Name] = t
			}
			if param.Promoted && info.Class != atom.Empty && t != nil {
				prop := refs.FromSymbol(refs.Member(info.Class, fa.in.Intern(param.Name)))
				for _, name := range t.ClassNames() {
					fa.refs.AddReference(prop, refs.Symbol(fa.in.Intern(name)), true)
				}
			}
		}
		i++
	}
	fa.typeRefs(sc, n.ChildByFieldName("return_type"), inSignature)
	sc.ret = info.ReturnType
	sc.checkRet = info.ReturnType != nil
}

func (fa *fileAnalyzer) function(n *sitter.Node) {
	info := fa.decl.function(n)
	if info == nil {
		return
	}
	id := info.ID()
	sc := &scope{
		src:   refs.FromSymbol(refs.Symbol(info.Name)),
		fn:    &id,
		label: info.DisplayName,
		vars:  make(map[string]*codebase.Type),
	}
	fa.signature(sc, n, info, true)
	if body := n.ChildByFieldName("body"); body != nil {
		fa.stmt(body, sc)
	}
}

func (fa *fileAnalyzer) classLike(n *sitter.Node) {
	c := fa.decl.classLike(n)
	if c == nil {
		return
	}
	sc := &scope{
		src:   refs.FromSymbol(refs.Symbol(c.Name)),
		label: c.DisplayName,
		class: c,
		vars:  make(map[string]*codebase.Type),
	}
	fa.attributeRefs(sc, n)
	for _, ch := range namedChildren(n) {
		switch ch.Type() {
		case "base_clause", "class_interface_clause":
			for _, name := range namedChildren(ch) {
				if isNameNode(name) {
					fa.classRef(sc, fa.text(name), name, true)
				}
			}
		}
	}

	for _, member := range namedChildren(n.ChildByFieldName("body")) {
		switch member.Type() {
		case "method_declaration":
			fa.method(member, c)
		case "property_declaration":
			fa.propertyDeclaration(member, c)
		case "const_declaration":
			for _, el := range namedChildren(member) {
				if el.Type() != "const_element" {
					continue
				}
				nameNode, value := constElement(el)
				if nameNode == nil {
					continue
				}
				msc := fa.memberScope(c, fa.text(nameNode))
				fa.expr(value, msc, true)
			}
		case "use_declaration":
			for _, name := range namedChildren(member) {
				if isNameNode(name) {
					fa.classRef(sc, fa.text(name), name, true)
				}
			}
		case "enum_case":
			nameNode := member.ChildByFieldName("name")
			if nameNode == nil {
				nameNode = childOfType(member, "name")
			}
			if nameNode != nil {
				fa.expr(member.ChildByFieldName("value"), fa.memberScope(c, fa.text(nameNode)), true)
			}
		}
	}
}

func (fa *fileAnalyzer) memberScope(c *codebase.ClassLikeInfo, member string) *scope {
	return &scope{
		src:    refs.FromSymbol(refs.Member(c.Name, fa.in.Intern(member))),
		label:  c.DisplayName + "::" + member,
		class:  c,
		static: true,
		vars:   make(map[string]*codebase.Type),
	}
}

func (fa *fileAnalyzer) method(n *sitter.Node, c *codebase.ClassLikeInfo) {
	info := fa.decl.method(n, c.Name)
	if info == nil {
		return
	}
	id := info.ID()
	sc := &scope{
		src:    refs.FromSymbol(refs.Member(c.Name, info.Name)),
		fn:     &id,
		label:  c.DisplayName + "::" + info.DisplayName,
		class:  c,
		static: info.Static,
		vars:   make(map[string]*codebase.Type),
	}
	fa.signature(sc, n, info, true)
	if body := n.ChildByFieldName("body"); body != nil {
		fa.stmt(body, sc)
	}
}

func (fa *fileAnalyzer) propertyDeclaration(n *sitter.Node, c *codebase.ClassLikeInfo) {
	typeNode := n.ChildByFieldName("type")
	for _, el := range namedChildren(n) {
		if el.Type() != "property_element" {
			continue
		}
		nameNode := el.ChildByFieldName("name")
		if nameNode == nil {
			nameNode = descendantOfType(el, "variable_name")
		}
		if nameNode == nil {
			continue
		}
		sc := fa.memberScope(c, variableName(fa.text(nameNode)))
		fa.typeRefs(sc, typeNode, true)
		for _, v := range namedChildren(el) {
			if sameNode(v, nameNode) {
				continue
			}
			fa.expr(v, sc, true)
		}
	}
}

func (fa *fileAnalyzer) globalConstants(n *sitter.Node) {
	for _, el := range namedChildren(n) {
		if el.Type() != "const_element" {
			continue
		}
		nameNode, value := constElement(el)
		if nameNode == nil {
			continue
		}
		name := fa.text(nameNode)
		sc := &scope{
			src:   refs.FromSymbol(refs.Symbol(fa.in.Intern(codebase.NormalizeName(name)))),
			label: name,
			vars:  make(map[string]*codebase.Type),
		}
		fa.expr(value, sc, true)
	}
}
