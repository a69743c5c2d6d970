package php

import (
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/grove/internal/atom"
	"github.com/jward/grove/internal/codebase"
	"github.com/jward/grove/internal/issue"
	"github.com/jward/grove/internal/refs"
)

// languageConstructs look like calls but are not functions.
var languageConstructs = map[string]*codebase.Type{
	"isset":   typeBool,
	"empty":   typeBool,
	"unset":   nil,
	"eval":    nil,
	"exit":    nil,
	"die":     nil,
	"list":    nil,
	"array":   typeArray,
	"compact": typeArray,
	"extract": typeInt,
}

type argument struct {
	node   *sitter.Node
	value  *sitter.Node
	named  bool
	spread bool
}

func arguments(args *sitter.Node, src []byte) []argument {
	var out []argument
	for _, c := range namedChildren(args) {
		switch c.Type() {
		case "argument":
			a := argument{node: c, value: lastNamed(c)}
			a.named = c.ChildByFieldName("name") != nil
			if a.value != nil && a.value.Type() == "variadic_unpacking" {
				a.spread = true
				a.value = firstNamed(a.value)
			}
			if strings.HasPrefix(strings.TrimSpace(text(c, src)), "...") {
				a.spread = true
			}
			out = append(out, a)
		case "variadic_placeholder":
			out = append(out, argument{node: c, spread: true})
		case "comment":
		default:
			out = append(out, argument{node: c, value: c})
		}
	}
	return out
}

// visitArguments analyzes argument expressions without checking them.
func (fa *fileAnalyzer) visitArguments(args *sitter.Node, sc *scope) {
	for _, a := range arguments(args, fa.src) {
		fa.expr(a.value, sc, true)
	}
}

// checkCall analyzes the arguments of a call to info and checks their
// count and types. owner binds self/static in the callee's declarations.
func (fa *fileAnalyzer) checkCall(call, argsNode *sitter.Node, info *codebase.FunctionLikeInfo, sc *scope, label, owner string) {
	args := arguments(argsNode, fa.src)
	types := make([]*codebase.Type, len(args))
	loose := false
	for i, a := range args {
		types[i] = fa.expr(a.value, sc, true)
		if a.named || a.spread {
			loose = true
		}
	}
	if loose {
		return
	}

	if req := info.RequiredParams(); len(args) < req {
		fa.report(issue.TooFewArguments, call, sc, "%s expects at least %d argument(s), %d given", label, req, len(args))
	}
	if !info.IsVariadic() && len(args) > len(info.Params) {
		fa.report(issue.TooManyArguments, call, sc, "%s expects at most %d argument(s), %d given", label, len(info.Params), len(args))
	}
	for i, t := range types {
		p, ok := info.ParamAt(i)
		if !ok {
			break
		}
		if p.ByRef || t == nil {
			continue
		}
		declared := bindSelf(p.Type, owner)
		if !fa.accepts(declared, t, sc) {
			fa.report(issue.InvalidArgument, args[i].node, sc, "argument %d of %s expects %s, %s given", i+1, label, declared, t)
		}
	}
}

func (fa *fileAnalyzer) consumeReturn(sc *scope, consumed bool, callee refs.FunctionLikeID) {
	if consumed && sc.fn != nil {
		fa.refs.AddReferenceToFunctionLikeReturn(*sc.fn, callee)
	}
}

func (fa *fileAnalyzer) functionCall(n *sitter.Node, sc *scope, consumed bool) *codebase.Type {
	fnNode := n.ChildByFieldName("function")
	args := n.ChildByFieldName("arguments")
	if !isNameNode(fnNode) {
		fa.expr(fnNode, sc, true)
		fa.visitArguments(args, sc)
		return nil
	}

	display := shortName(fa.text(fnNode))
	name := codebase.NormalizeName(display)
	if t, ok := languageConstructs[name]; ok {
		fa.visitArguments(args, sc)
		return t
	}

	id := fa.in.Intern(name)
	fa.refs.AddReference(sc.src, refs.Symbol(id), false)
	info := fa.cb.Function(id)
	if info == nil {
		fa.report(issue.UndefinedFunction, fnNode, sc, "function %s() is not defined", display)
		fa.visitArguments(args, sc)
		return nil
	}
	fa.checkCall(n, args, info, sc, info.DisplayName+"()", "")
	fa.consumeReturn(sc, consumed, info.ID())
	return info.ReturnType
}

// singleClass returns the class when t is exactly one (possibly nullable)
// class type.
func (fa *fileAnalyzer) singleClass(t *codebase.Type) (atom.Atom, bool) {
	t = t.Without("null")
	if t == nil || len(t.Atomics) != 1 {
		return atom.Empty, false
	}
	a := t.Atomics[0]
	if codebase.IsPrimitive(a) || strings.Contains(a, "&") || a == "closure" {
		return atom.Empty, false
	}
	return fa.in.Intern(a), true
}

func (fa *fileAnalyzer) hasMethod(class atom.Atom, name string) bool {
	m, _ := fa.cb.Method(class, fa.in.Intern(name))
	return m != nil
}

func (fa *fileAnalyzer) methodCall(n *sitter.Node, sc *scope, consumed bool) *codebase.Type {
	ot := fa.expr(n.ChildByFieldName("object"), sc, true)
	nameNode := n.ChildByFieldName("name")
	args := n.ChildByFieldName("arguments")
	if nameNode == nil || nameNode.Type() != "name" {
		fa.expr(nameNode, sc, true)
		fa.visitArguments(args, sc)
		return nil
	}
	class, ok := fa.singleClass(ot)
	if !ok {
		fa.visitArguments(args, sc)
		return nil
	}
	return fa.callMethod(n, nameNode, class, args, sc, consumed, false)
}

func (fa *fileAnalyzer) callMethod(call, nameNode *sitter.Node, class atom.Atom, args *sitter.Node, sc *scope, consumed, static bool) *codebase.Type {
	methodName := fa.text(nameNode)
	mid := fa.in.Intern(methodName)
	fa.refs.AddReference(sc.src, refs.Member(class, mid), false)

	cl := fa.cb.ClassLike(class)
	if cl == nil {
		fa.visitArguments(args, sc)
		return nil
	}
	info, decl := fa.cb.Method(class, mid)
	if info == nil {
		magic := fa.hasMethod(class, "__call") || (static && fa.hasMethod(class, "__callStatic"))
		if !magic {
			fa.report(issue.UndefinedMethod, nameNode, sc, "method %s::%s() is not defined", cl.DisplayName, methodName)
		}
		fa.visitArguments(args, sc)
		return nil
	}
	if decl != class {
		fa.refs.AddReference(sc.src, refs.Member(decl, mid), false)
	}
	owner := fa.in.String(decl)
	label := fmt.Sprintf("%s::%s()", fa.cb.ClassLike(decl).DisplayName, info.DisplayName)
	fa.checkCall(call, args, info, sc, label, owner)
	fa.consumeReturn(sc, consumed, refs.Method(decl, mid))

	ret := info.ReturnType.Replace("static", fa.in.String(class))
	return bindSelf(ret, owner)
}

// scopeClass resolves the class named on the left of "::".
func (fa *fileAnalyzer) scopeClass(n *sitter.Node, sc *scope) (atom.Atom, bool) {
	if n == nil {
		return atom.Empty, false
	}
	switch strings.ToLower(strings.TrimSpace(fa.text(n))) {
	case "self", "static":
		if sc.class == nil {
			return atom.Empty, false
		}
		return sc.class.Name, true
	case "parent":
		if sc.class == nil || sc.class.Parent == atom.Empty {
			return atom.Empty, false
		}
		return sc.class.Parent, true
	}
	if isNameNode(n) {
		return fa.classRef(sc, fa.text(n), n, false), true
	}
	return fa.singleClass(fa.expr(n, sc, true))
}

func (fa *fileAnalyzer) staticCall(n *sitter.Node, sc *scope, consumed bool) *codebase.Type {
	scopeNode := n.ChildByFieldName("scope")
	nameNode := n.ChildByFieldName("name")
	args := n.ChildByFieldName("arguments")

	class, ok := fa.scopeClass(scopeNode, sc)
	if !ok || nameNode == nil || nameNode.Type() != "name" {
		fa.expr(nameNode, sc, true)
		fa.visitArguments(args, sc)
		return nil
	}
	if strings.EqualFold(strings.TrimSpace(fa.text(scopeNode)), "parent") && sc.src.Symbol.IsMember() {
		fa.refs.AddReferenceToOverriddenMember(sc.src.Symbol, refs.Member(class, fa.in.Intern(fa.text(nameNode))))
	}
	return fa.callMethod(n, nameNode, class, args, sc, consumed, true)
}

func (fa *fileAnalyzer) newObject(n *sitter.Node, sc *scope) *codebase.Type {
	var (
		class atom.Atom
		found bool
		args  *sitter.Node
	)
	for _, c := range namedChildren(n) {
		switch c.Type() {
		case "name", "qualified_name":
			class, found = fa.classRef(sc, fa.text(c), c, false), true
		case "relative_scope":
			class, found = fa.scopeClass(c, sc)
		case "arguments":
			args = c
		case "anonymous_class", "declaration_list", "base_clause", "class_interface_clause", "attribute_list":
			// Anonymous classes are not tracked.
		default:
			if !found {
				class, found = fa.singleClass(fa.expr(c, sc, true))
			}
		}
	}
	if !found {
		fa.visitArguments(args, sc)
		return nil
	}

	cl := fa.cb.ClassLike(class)
	if cl == nil {
		fa.visitArguments(args, sc)
		return codebase.NewType(fa.in.String(class))
	}
	ctor := fa.in.Intern("__construct")
	fa.refs.AddReference(sc.src, refs.Member(class, ctor), false)
	info, decl := fa.cb.Method(class, ctor)
	if info == nil {
		fa.visitArguments(args, sc)
		return codebase.NewType(fa.in.String(class))
	}
	if decl != class {
		fa.refs.AddReference(sc.src, refs.Member(decl, ctor), false)
	}
	fa.checkCall(n, args, info, sc, cl.DisplayName+"::__construct()", fa.in.String(decl))
	return codebase.NewType(fa.in.String(class))
}

func isThis(n *sitter.Node, src []byte) bool {
	return n != nil && n.Type() == "variable_name" && text(n, src) == "$this"
}

func (fa *fileAnalyzer) propertyFetch(n *sitter.Node, sc *scope, write bool) *codebase.Type {
	obj := n.ChildByFieldName("object")
	nameNode := n.ChildByFieldName("name")
	ot := fa.expr(obj, sc, true)
	if nameNode == nil || nameNode.Type() != "name" {
		fa.expr(nameNode, sc, true)
		return nil
	}
	class, ok := fa.singleClass(ot)
	if !ok {
		return nil
	}
	propName := fa.text(nameNode)
	prop := fa.in.Intern(propName)
	fa.propertyRef(sc, class, prop, write)

	info, decl := fa.cb.Property(class, prop)
	if info == nil {
		cl := fa.cb.ClassLike(class)
		if !write && cl != nil && isThis(obj, fa.src) && !fa.hasMethod(class, "__get") {
			fa.report(issue.UndefinedProperty, nameNode, sc, "property %s::$%s is not defined", cl.DisplayName, propName)
		}
		return nil
	}
	if decl != class {
		fa.propertyRef(sc, decl, prop, write)
	}
	return bindSelf(info.Type, fa.in.String(decl))
}

func (fa *fileAnalyzer) propertyRef(sc *scope, class, prop atom.Atom, write bool) {
	if write {
		fa.refs.AddReferenceForPropertyWrite(sc.src, class, prop)
		return
	}
	fa.refs.AddReferenceForPropertyRead(sc.src, class, prop)
}

func (fa *fileAnalyzer) staticPropertyFetch(n *sitter.Node, sc *scope) *codebase.Type {
	class, ok := fa.scopeClass(n.ChildByFieldName("scope"), sc)
	nameNode := n.ChildByFieldName("name")
	if !ok || nameNode == nil || nameNode.Type() != "variable_name" {
		return nil
	}
	prop := fa.in.Intern(variableName(fa.text(nameNode)))
	fa.propertyRef(sc, class, prop, false)
	info, decl := fa.cb.Property(class, prop)
	if info == nil {
		return nil
	}
	return bindSelf(info.Type, fa.in.String(decl))
}

func (fa *fileAnalyzer) classConstant(n *sitter.Node, sc *scope) *codebase.Type {
	children := namedChildren(n)
	if len(children) < 2 {
		fa.children(n, sc)
		return nil
	}
	scopeNode, nameNode := children[0], children[len(children)-1]
	constName := fa.text(nameNode)
	class, ok := fa.scopeClass(scopeNode, sc)
	if strings.EqualFold(constName, "class") {
		return typeString
	}
	if !ok {
		return nil
	}
	kid := fa.in.Intern(constName)
	fa.refs.AddReference(sc.src, refs.Member(class, kid), false)

	cl := fa.cb.ClassLike(class)
	if cl == nil {
		return nil
	}
	info, decl := fa.cb.ClassConstant(class, kid)
	if info == nil {
		fa.report(issue.UndefinedConstant, nameNode, sc, "constant %s::%s is not defined", cl.DisplayName, constName)
		return nil
	}
	if decl != class {
		fa.refs.AddReference(sc.src, refs.Member(decl, kid), false)
	}
	return info.Type
}

func (fa *fileAnalyzer) constantFetch(n *sitter.Node, sc *scope) *codebase.Type {
	display := shortName(fa.text(n))
	name := codebase.NormalizeName(display)
	switch {
	case name == "true", name == "false":
		return typeBool
	case name == "null":
		return typeNull
	case strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__"):
		return nil
	}
	id := fa.in.Intern(name)
	fa.refs.AddReference(sc.src, refs.Symbol(id), false)
	info := fa.cb.Constant(id)
	if info == nil {
		fa.report(issue.UndefinedConstant, n, sc, "constant %s is not defined", display)
		return nil
	}
	return info.Type
}
