package php

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/grove/internal/atom"
	"github.com/jward/grove/internal/codebase"
)

var (
	typeInt    = codebase.NewType("int")
	typeFloat  = codebase.NewType("float")
	typeString = codebase.NewType("string")
	typeBool   = codebase.NewType("bool")
	typeNull   = codebase.NewType("null")
	typeArray  = codebase.NewType("array")
)

// declBuilder turns declaration nodes into codebase metadata. The scanner
// uses it to build a file's PartialMetadata; the analyzer uses it to see
// the declarations it is checking exactly as written in the file.
type declBuilder struct {
	src  []byte
	in   *atom.Interner
	file codebase.File
}

func (b *declBuilder) text(n *sitter.Node) string {
	return text(n, b.src)
}

func (b *declBuilder) intern(name string) atom.Atom {
	return b.in.Intern(codebase.NormalizeName(name))
}

func (b *declBuilder) typeOf(n *sitter.Node) *codebase.Type {
	if n == nil {
		return nil
	}
	return codebase.ParseType(b.text(n))
}

func (b *declBuilder) attributes(n *sitter.Node) []string {
	var out []string
	for _, list := range namedChildren(n) {
		if list.Type() != "attribute_list" {
			continue
		}
		b.collectAttributes(list, &out)
	}
	return out
}

func (b *declBuilder) collectAttributes(n *sitter.Node, out *[]string) {
	for _, c := range namedChildren(n) {
		if c.Type() == "attribute" {
			if name := firstNamed(c); isNameNode(name) {
				*out = append(*out, codebase.NormalizeName(b.text(name)))
			}
			continue
		}
		b.collectAttributes(c, out)
	}
}

// names returns the class names listed by an extends/implements/use clause.
func (b *declBuilder) names(clause *sitter.Node) []atom.Atom {
	var out []atom.Atom
	for _, c := range namedChildren(clause) {
		if isNameNode(c) {
			out = append(out, b.intern(b.text(c)))
		}
	}
	return out
}

func (b *declBuilder) function(n *sitter.Node) *codebase.FunctionLikeInfo {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	name := b.text(nameNode)
	return &codebase.FunctionLikeInfo{
		Name:        b.intern(name),
		DisplayName: name,
		File:        b.file,
		Line:        line(n),
		Params:      b.params(n.ChildByFieldName("parameters")),
		ReturnType:  b.typeOf(n.ChildByFieldName("return_type")),
		ByRefReturn: childOfType(n, "reference_modifier") != nil,
		Attributes:  b.attributes(n),
	}
}

func (b *declBuilder) params(list *sitter.Node) []codebase.Param {
	var out []codebase.Param
	for _, p := range namedChildren(list) {
		switch p.Type() {
		case "simple_parameter", "variadic_parameter", "property_promotion_parameter":
		default:
			continue
		}
		nameNode := p.ChildByFieldName("name")
		if nameNode == nil {
			nameNode = descendantOfType(p, "variable_name")
		}
		raw := b.text(nameNode)
		param := codebase.Param{
			Name:       variableName(raw),
			Type:       b.typeOf(p.ChildByFieldName("type")),
			HasDefault: p.ChildByFieldName("default_value") != nil,
			Variadic:   p.Type() == "variadic_parameter",
			ByRef:      childOfType(p, "reference_modifier") != nil || strings.HasPrefix(raw, "&"),
			Promoted:   p.Type() == "property_promotion_parameter",
		}
		if param.Promoted {
			if vis := childOfType(p, "visibility_modifier"); vis != nil {
				param.Visibility = codebase.ParseVisibility(b.text(vis))
			}
		}
		out = append(out, param)
	}
	return out
}

// modifiers applies visibility_modifier, static_modifier and friends.
type modifiers struct {
	visibility codebase.Visibility
	static     bool
	abstract   bool
	final      bool
	readonly   bool
}

func (b *declBuilder) modifiers(n *sitter.Node) modifiers {
	var m modifiers
	for _, c := range namedChildren(n) {
		if !strings.HasSuffix(c.Type(), "_modifier") {
			continue
		}
		switch strings.ToLower(b.text(c)) {
		case "public", "protected", "private":
			m.visibility = codebase.ParseVisibility(b.text(c))
		case "static":
			m.static = true
		case "abstract":
			m.abstract = true
		case "final":
			m.final = true
		case "readonly":
			m.readonly = true
		}
	}
	return m
}

func (b *declBuilder) method(n *sitter.Node, class atom.Atom) *codebase.FunctionLikeInfo {
	info := b.function(n)
	if info == nil {
		return nil
	}
	m := b.modifiers(n)
	info.Class = class
	info.Visibility = m.visibility
	info.Static = m.static
	info.Abstract = m.abstract
	info.Final = m.final
	return info
}

func classKind(typ string) codebase.ClassKind {
	switch typ {
	case "interface_declaration":
		return codebase.KindInterface
	case "trait_declaration":
		return codebase.KindTrait
	case "enum_declaration":
		return codebase.KindEnum
	}
	return codebase.KindClass
}

func (b *declBuilder) classLike(n *sitter.Node) *codebase.ClassLikeInfo {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	name := b.text(nameNode)
	c := codebase.NewClassLikeInfo(b.intern(name), name, classKind(n.Type()), b.file, line(n))
	c.Attributes = b.attributes(n)

	m := b.modifiers(n)
	c.Abstract = m.abstract
	c.Final = m.final
	c.Readonly = m.readonly

	for _, ch := range namedChildren(n) {
		switch ch.Type() {
		case "base_clause":
			names := b.names(ch)
			if c.Kind == codebase.KindInterface {
				c.Interfaces = append(c.Interfaces, names...)
			} else if len(names) > 0 {
				c.Parent = names[0]
			}
		case "class_interface_clause":
			c.Interfaces = append(c.Interfaces, b.names(ch)...)
		}
	}

	for _, member := range namedChildren(n.ChildByFieldName("body")) {
		switch member.Type() {
		case "method_declaration":
			b.addMethod(c, member)
		case "property_declaration":
			for _, p := range b.properties(member) {
				if _, dup := c.Properties[p.Name]; !dup {
					c.Properties[p.Name] = p
				}
			}
		case "const_declaration":
			for _, k := range b.constants(member) {
				if _, dup := c.Constants[k.Name]; !dup {
					c.Constants[k.Name] = k
				}
			}
		case "use_declaration":
			c.Traits = append(c.Traits, b.names(member)...)
		case "enum_case":
			if k := b.enumCase(member, c); k != nil {
				if _, dup := c.Constants[k.Name]; !dup {
					c.Constants[k.Name] = k
				}
			}
		}
	}
	return c
}

func (b *declBuilder) addMethod(c *codebase.ClassLikeInfo, n *sitter.Node) {
	info := b.method(n, c.Name)
	if info == nil {
		return
	}
	if c.Kind == codebase.KindInterface {
		info.Abstract = true
	}
	if _, dup := c.Methods[info.Name]; dup {
		return
	}
	c.Methods[info.Name] = info

	for i, p := range info.Params {
		if !p.Promoted {
			continue
		}
		prop := b.intern(p.Name)
		if _, dup := c.Properties[prop]; dup {
			continue
		}
		promoted := childOfParamIndex(n, i)
		c.Properties[prop] = &codebase.PropertyInfo{
			Name:        prop,
			DisplayName: p.Name,
			Type:        p.Type,
			Visibility:  p.Visibility,
			Readonly:    promoted != nil && b.modifiers(promoted).readonly,
			Promoted:    true,
			Line:        line(n),
		}
	}
}

// childOfParamIndex returns the i-th parameter node of a function-like.
func childOfParamIndex(fn *sitter.Node, i int) *sitter.Node {
	n := 0
	for _, p := range namedChildren(fn.ChildByFieldName("parameters")) {
		switch p.Type() {
		case "simple_parameter", "variadic_parameter", "property_promotion_parameter":
			if n == i {
				return p
			}
			n++
		}
	}
	return nil
}

func (b *declBuilder) properties(n *sitter.Node) []*codebase.PropertyInfo {
	m := b.modifiers(n)
	typ := b.typeOf(n.ChildByFieldName("type"))
	var out []*codebase.PropertyInfo
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
		name := variableName(b.text(nameNode))
		out = append(out, &codebase.PropertyInfo{
			Name:        b.intern(name),
			DisplayName: name,
			Type:        typ,
			Visibility:  m.visibility,
			Static:      m.static,
			Readonly:    m.readonly,
			HasDefault:  strings.Contains(b.text(el), "="),
			Line:        line(el),
		})
	}
	return out
}

// constElement splits a const_element into its name and value nodes.
func constElement(el *sitter.Node) (name, value *sitter.Node) {
	children := namedChildren(el)
	if len(children) == 0 {
		return nil, nil
	}
	name = children[0]
	if len(children) > 1 {
		value = children[len(children)-1]
	}
	return name, value
}

func (b *declBuilder) constants(n *sitter.Node) []*codebase.ConstantInfo {
	var out []*codebase.ConstantInfo
	for _, el := range namedChildren(n) {
		if el.Type() != "const_element" {
			continue
		}
		nameNode, value := constElement(el)
		if nameNode == nil {
			continue
		}
		name := b.text(nameNode)
		out = append(out, &codebase.ConstantInfo{
			Name:        b.intern(name),
			DisplayName: name,
			File:        b.file,
			Line:        line(el),
			Type:        literalType(value),
			Value:       b.text(value),
		})
	}
	return out
}

func (b *declBuilder) enumCase(n *sitter.Node, enum *codebase.ClassLikeInfo) *codebase.ConstantInfo {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		nameNode = childOfType(n, "name")
	}
	if nameNode == nil {
		return nil
	}
	name := b.text(nameNode)
	return &codebase.ConstantInfo{
		Name:        b.intern(name),
		DisplayName: name,
		File:        b.file,
		Line:        line(n),
		Type:        codebase.NewType(b.in.String(enum.Name)),
		Value:       b.text(n.ChildByFieldName("value")),
		EnumCase:    true,
	}
}

// define extracts a constant declared with define('NAME', value).
func (b *declBuilder) define(call *sitter.Node) *codebase.ConstantInfo {
	fn := call.ChildByFieldName("function")
	if fn == nil || codebase.NormalizeName(b.text(fn)) != "define" {
		return nil
	}
	args := argumentValues(call.ChildByFieldName("arguments"))
	if len(args) < 2 {
		return nil
	}
	name, ok := stringLiteral(args[0], b.src)
	if !ok || name == "" {
		return nil
	}
	return &codebase.ConstantInfo{
		Name:        b.intern(name),
		DisplayName: shortName(name),
		File:        b.file,
		Line:        line(call),
		Type:        literalType(args[1]),
		Value:       b.text(args[1]),
	}
}

// argumentValues returns the value node of every argument.
func argumentValues(args *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	for _, a := range namedChildren(args) {
		if a.Type() == "argument" {
			a = lastNamed(a)
		}
		if a != nil {
			out = append(out, a)
		}
	}
	return out
}

// literalType infers the type of a constant initializer.
func literalType(n *sitter.Node) *codebase.Type {
	if n == nil {
		return nil
	}
	switch n.Type() {
	case "integer":
		return typeInt
	case "float":
		return typeFloat
	case "string", "encapsed_string", "heredoc", "nowdoc":
		return typeString
	case "boolean":
		return typeBool
	case "null":
		return typeNull
	case "array_creation_expression":
		return typeArray
	case "parenthesized_expression":
		return literalType(firstNamed(n))
	case "unary_op_expression":
		inner := literalType(lastNamed(n))
		if inner == typeInt || inner == typeFloat {
			return inner
		}
	}
	return nil
}
