package php

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/grove/internal/codebase"
	"github.com/jward/grove/internal/issue"
)

var skippedStatements = map[string]bool{
	"comment":                   true,
	"php_tag":                   true,
	"text":                      true,
	"text_interpolation":        true,
	"namespace_use_declaration": true,
	"declare_statement":         true,
	"goto_statement":            true,
	"named_label_statement":     true,
	"break_statement":           true,
	"continue_statement":        true,
	"function_definition":       true,
	"class_declaration":         true,
	"interface_declaration":     true,
	"trait_declaration":         true,
	"enum_declaration":          true,
	"ERROR":                     true,
}

var literalExpressions = map[string]bool{
	"variable_name":      true,
	"name":               true,
	"qualified_name":     true,
	"integer":            true,
	"float":              true,
	"string":             true,
	"encapsed_string":    true,
	"heredoc":            true,
	"nowdoc":             true,
	"boolean":            true,
	"null":               true,
	"arrow_function":     true,
	"anonymous_function": true,
	"print_intrinsic":    true,
}

func isExpression(typ string) bool {
	return strings.HasSuffix(typ, "_expression") || literalExpressions[typ]
}

// stmt analyzes a statement. Unknown statement kinds are walked
// generically so nested expressions are never missed.
func (fa *fileAnalyzer) stmt(n *sitter.Node, sc *scope) {
	if n == nil || skippedStatements[n.Type()] {
		return
	}
	switch n.Type() {
	case "expression_statement":
		for _, c := range namedChildren(n) {
			fa.expr(c, sc, false)
		}
	case "return_statement":
		fa.returnStatement(n, sc)
	case "echo_statement":
		for _, c := range namedChildren(n) {
			fa.expr(c, sc, true)
		}
	case "foreach_statement":
		fa.foreach(n, sc)
	case "catch_clause":
		fa.catch(n, sc)
	default:
		if isExpression(n.Type()) {
			fa.expr(n, sc, true)
			return
		}
		fa.children(n, sc)
	}
}

func (fa *fileAnalyzer) children(n *sitter.Node, sc *scope) {
	for _, c := range namedChildren(n) {
		if isExpression(c.Type()) {
			fa.expr(c, sc, true)
			continue
		}
		fa.stmt(c, sc)
	}
}

func (fa *fileAnalyzer) returnStatement(n *sitter.Node, sc *scope) {
	value := firstNamed(n)
	if value == nil {
		return
	}
	actual := fa.expr(value, sc, true)
	if !sc.checkRet {
		return
	}
	if sc.ret.Has("void") {
		fa.report(issue.InvalidReturn, value, sc, "%s is declared void but returns a value", callableLabel(sc))
		return
	}
	if actual != nil && !fa.accepts(bindSelf(sc.ret, sc.className()), actual, sc) {
		fa.report(issue.InvalidReturn, value, sc, "%s must return %s, %s returned", callableLabel(sc), sc.ret, actual)
	}
}

func callableLabel(sc *scope) string {
	if sc.label == "" {
		return "closure"
	}
	return sc.label + "()"
}

// forget drops the inferred types of every variable under n.
func (fa *fileAnalyzer) forget(n *sitter.Node, sc *scope) {
	if n == nil {
		return
	}
	if n.Type() == "variable_name" {
		delete(sc.vars, variableName(fa.text(n)))
		return
	}
	for _, c := range namedChildren(n) {
		fa.forget(c, sc)
	}
}

func (fa *fileAnalyzer) foreach(n *sitter.Node, sc *scope) {
	children := namedChildren(n)
	if len(children) == 0 {
		return
	}
	fa.expr(children[0], sc, true)
	for _, c := range children[1:] {
		typ := c.Type()
		if typ == "compound_statement" || typ == "colon_block" || strings.HasSuffix(typ, "_statement") {
			fa.stmt(c, sc)
			continue
		}
		fa.forget(c, sc)
		switch typ {
		case "variable_name", "pair", "by_ref":
			// Loop targets are bindings, not reads.
		default:
			fa.children(c, sc)
		}
	}
}

func (fa *fileAnalyzer) catch(n *sitter.Node, sc *scope) {
	var caught []string
	for _, c := range namedChildren(n) {
		switch c.Type() {
		case "type_list":
			for _, name := range namedChildren(c) {
				if isNameNode(name) {
					fa.classRef(sc, fa.text(name), name, false)
					caught = append(caught, fa.text(name))
				} else if inner := firstNamed(name); isNameNode(inner) {
					fa.classRef(sc, fa.text(inner), inner, false)
					caught = append(caught, fa.text(inner))
				}
			}
		case "variable_name":
			if t := codebase.NewType(caught...); t != nil {
				sc.vars[variableName(fa.text(c))] = t
			}
		default:
			fa.stmt(c, sc)
		}
	}
}

// expr analyzes an expression and returns its inferred type, or nil when
// unknown. consumed reports whether the value is used.
func (fa *fileAnalyzer) expr(n *sitter.Node, sc *scope, consumed bool) *codebase.Type {
	if n == nil {
		return nil
	}
	switch n.Type() {
	case "ERROR":
		return nil
	case "integer":
		return typeInt
	case "float":
		return typeFloat
	case "string", "encapsed_string", "heredoc", "nowdoc":
		fa.children(n, sc)
		return typeString
	case "boolean":
		return typeBool
	case "null":
		return typeNull
	case "array_creation_expression":
		fa.children(n, sc)
		return typeArray
	case "parenthesized_expression":
		return fa.expr(firstNamed(n), sc, consumed)
	case "variable_name":
		return fa.variable(n, sc)
	case "assignment_expression":
		return fa.assign(n, sc)
	case "augmented_assignment_expression":
		left := n.ChildByFieldName("left")
		fa.expr(n.ChildByFieldName("right"), sc, true)
		if isPropertyAccess(left) {
			fa.propertyFetch(left, sc, false)
			fa.propertyFetch(left, sc, true)
			return nil
		}
		fa.expr(left, sc, true)
		fa.forget(left, sc)
		return nil
	case "reference_assignment_expression":
		fa.expr(n.ChildByFieldName("right"), sc, true)
		fa.forget(n.ChildByFieldName("left"), sc)
		return nil
	case "function_call_expression":
		return fa.functionCall(n, sc, consumed)
	case "member_call_expression", "nullsafe_member_call_expression":
		return fa.methodCall(n, sc, consumed)
	case "scoped_call_expression":
		return fa.staticCall(n, sc, consumed)
	case "object_creation_expression":
		return fa.newObject(n, sc)
	case "member_access_expression", "nullsafe_member_access_expression":
		return fa.propertyFetch(n, sc, false)
	case "scoped_property_access_expression":
		return fa.staticPropertyFetch(n, sc)
	case "class_constant_access_expression":
		return fa.classConstant(n, sc)
	case "name", "qualified_name":
		return fa.constantFetch(n, sc)
	case "binary_expression":
		return fa.binary(n, sc)
	case "unary_op_expression":
		inner := fa.expr(lastNamed(n), sc, true)
		op := strings.TrimSpace(fa.text(n))
		switch {
		case strings.HasPrefix(op, "!"):
			return typeBool
		case strings.HasPrefix(op, "-"), strings.HasPrefix(op, "+"):
			if isNumeric(inner) {
				return inner
			}
		case strings.HasPrefix(op, "~"):
			return typeInt
		}
		return nil
	case "cast_expression":
		fa.expr(n.ChildByFieldName("value"), sc, true)
		return castType(fa.text(n.ChildByFieldName("type")))
	case "conditional_expression":
		fa.expr(n.ChildByFieldName("condition"), sc, true)
		body := fa.expr(n.ChildByFieldName("body"), sc, consumed)
		alt := fa.expr(n.ChildByFieldName("alternative"), sc, consumed)
		return union(body, alt)
	case "anonymous_function_creation_expression", "anonymous_function", "arrow_function":
		fa.closure(n, sc)
		return codebase.NewType("closure")
	case "print_intrinsic":
		fa.children(n, sc)
		return typeInt
	}
	fa.children(n, sc)
	return nil
}

func (fa *fileAnalyzer) variable(n *sitter.Node, sc *scope) *codebase.Type {
	name := variableName(fa.text(n))
	if name == "this" {
		if sc.class == nil || sc.static {
			return nil
		}
		return codebase.NewType(sc.className())
	}
	return sc.vars[name]
}

func isPropertyAccess(n *sitter.Node) bool {
	if n == nil {
		return false
	}
	switch n.Type() {
	case "member_access_expression", "nullsafe_member_access_expression":
		return true
	}
	return false
}

func (fa *fileAnalyzer) assign(n *sitter.Node, sc *scope) *codebase.Type {
	left := n.ChildByFieldName("left")
	rt := fa.expr(n.ChildByFieldName("right"), sc, true)
	switch {
	case left == nil:
	case left.Type() == "variable_name":
		name := variableName(fa.text(left))
		if rt != nil {
			sc.vars[name] = rt
		} else {
			delete(sc.vars, name)
		}
	case isPropertyAccess(left):
		fa.propertyFetch(left, sc, true)
	case left.Type() == "subscript_expression", left.Type() == "scoped_property_access_expression":
		fa.expr(left, sc, true)
	default:
		fa.forget(left, sc)
		fa.children(left, sc)
	}
	return rt
}

func (fa *fileAnalyzer) closure(n *sitter.Node, outer *scope) {
	vars := make(map[string]*codebase.Type)
	if n.Type() == "arrow_function" {
		for k, v := range outer.vars {
			vars[k] = v
		}
	}
	sc := &scope{
		src:    outer.src,
		fn:     outer.fn,
		label:  "",
		class:  outer.class,
		static: outer.static,
		vars:   vars,
	}
	for _, c := range namedChildren(n) {
		if c.Type() != "anonymous_function_use_clause" {
			continue
		}
		for _, v := range namedChildren(c) {
			name := variableName(fa.text(v))
			if t, ok := outer.vars[name]; ok {
				sc.vars[name] = t
			}
		}
	}
	info := &codebase.FunctionLikeInfo{
		Params:     fa.decl.params(n.ChildByFieldName("parameters")),
		ReturnType: fa.decl.typeOf(n.ChildByFieldName("return_type")),
	}
	fa.signature(sc, n, info, false)

	body := n.ChildByFieldName("body")
	if n.Type() == "arrow_function" && body != nil && isExpression(body.Type()) {
		fa.expr(body, sc, true)
		return
	}
	fa.stmt(body, sc)
}

func castType(text string) *codebase.Type {
	switch strings.ToLower(strings.Trim(text, "() \t")) {
	case "int", "integer":
		return typeInt
	case "float", "double", "real":
		return typeFloat
	case "string", "binary":
		return typeString
	case "bool", "boolean":
		return typeBool
	case "array":
		return typeArray
	case "object":
		return codebase.NewType("object")
	}
	return nil
}

func isType(t *codebase.Type, atomic string) bool {
	return t != nil && len(t.Atomics) == 1 && t.Atomics[0] == atomic
}

func isNumeric(t *codebase.Type) bool {
	return isType(t, "int") || isType(t, "float")
}

func union(a, b *codebase.Type) *codebase.Type {
	if a == nil || b == nil {
		return nil
	}
	return codebase.NewType(append(append([]string{}, a.Atomics...), b.Atomics...)...)
}

func (fa *fileAnalyzer) binary(n *sitter.Node, sc *scope) *codebase.Type {
	left := n.ChildByFieldName("left")
	right := n.ChildByFieldName("right")
	op := strings.ToLower(fa.text(n.ChildByFieldName("operator")))

	if op == "instanceof" {
		fa.expr(left, sc, true)
		if isNameNode(right) {
			fa.classRef(sc, fa.text(right), right, false)
		} else {
			fa.expr(right, sc, true)
		}
		return typeBool
	}

	lt := fa.expr(left, sc, true)
	rt := fa.expr(right, sc, true)
	switch op {
	case ".":
		return typeString
	case "==", "===", "!=", "!==", "<>", "<", ">", "<=", ">=", "&&", "||", "and", "or", "xor":
		return typeBool
	case "<=>", "|", "&", "^", "<<", ">>", "%":
		return typeInt
	case "+", "-", "*", "**":
		switch {
		case isType(lt, "int") && isType(rt, "int"):
			return typeInt
		case isNumeric(lt) && isNumeric(rt):
			return typeFloat
		}
	case "/":
		if isNumeric(lt) && isNumeric(rt) {
			return codebase.NewType("int", "float")
		}
	case "??":
		if lt != nil {
			return union(lt.Without("null"), rt)
		}
	}
	return nil
}
