package codebase

import (
	"sort"
	"strings"
)

// Type is a normalized declared type: a sorted, de-duplicated union of
// lowercase atomic type names. "?T" is stored as "T|null". A nil *Type
// means "undeclared".
type Type struct {
	Atomics []string
}

var primitives = map[string]bool{
	"int": true, "float": true, "string": true, "bool": true,
	"true": true, "false": true, "null": true, "void": true,
	"never": true, "mixed": true, "array": true, "iterable": true,
	"callable": true, "object": true, "self": true, "static": true,
	"parent": true,
}

// IsPrimitive reports whether name is a built-in type keyword rather than
// a class name.
func IsPrimitive(name string) bool {
	return primitives[strings.ToLower(name)]
}

// NewType builds a normalized union from atomics.
func NewType(atomics ...string) *Type {
	seen := make(map[string]bool, len(atomics))
	out := make([]string, 0, len(atomics))
	for _, a := range atomics {
		a = normalizeAtomic(a)
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return &Type{Atomics: out}
}

// ParseType parses declared-type source text such as "?Foo", ": int|string"
// or "\App\Model". Namespace qualifiers are dropped.
func ParseType(text string) *Type {
	text = strings.TrimSpace(text)
	text = strings.TrimSpace(strings.TrimPrefix(text, ":"))
	if text == "" {
		return nil
	}
	var parts []string
	if strings.HasPrefix(text, "?") {
		parts = append(parts, "null")
		text = text[1:]
	}
	parts = append(parts, strings.Split(text, "|")...)
	return NewType(parts...)
}

func normalizeAtomic(a string) string {
	a = strings.TrimSpace(a)
	a = strings.TrimPrefix(strings.TrimSuffix(a, ")"), "(")
	if strings.Contains(a, "&") {
		parts := strings.Split(a, "&")
		for i, p := range parts {
			parts[i] = NormalizeName(p)
		}
		sort.Strings(parts)
		return strings.Join(parts, "&")
	}
	return NormalizeName(a)
}

// NormalizeName lowercases a symbol name and strips its namespace.
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndex(name, `\`); i >= 0 {
		name = name[i+1:]
	}
	return strings.ToLower(name)
}

// String renders the union, e.g. "int|null". A nil Type renders as "mixed".
func (t *Type) String() string {
	if t == nil {
		return "mixed"
	}
	return strings.Join(t.Atomics, "|")
}

// Has reports whether atomic is a member of the union.
func (t *Type) Has(atomic string) bool {
	if t == nil {
		return false
	}
	i := sort.SearchStrings(t.Atomics, atomic)
	return i < len(t.Atomics) && t.Atomics[i] == atomic
}

// ClassNames returns the atomics that name classes.
func (t *Type) ClassNames() []string {
	if t == nil {
		return nil
	}
	var out []string
	for _, a := range t.Atomics {
		if strings.Contains(a, "&") {
			out = append(out, strings.Split(a, "&")...)
			continue
		}
		if !primitives[a] {
			out = append(out, a)
		}
	}
	return out
}

// Without returns t minus atomic, or nil when nothing remains.
func (t *Type) Without(atomic string) *Type {
	if t == nil {
		return nil
	}
	var rest []string
	for _, a := range t.Atomics {
		if a != atomic {
			rest = append(rest, a)
		}
	}
	return NewType(rest...)
}

// Replace substitutes atomic with repl, used to bind self/static.
func (t *Type) Replace(atomic, repl string) *Type {
	if !t.Has(atomic) {
		return t
	}
	out := make([]string, 0, len(t.Atomics))
	for _, a := range t.Atomics {
		if a == atomic {
			a = repl
		}
		out = append(out, a)
	}
	return NewType(out...)
}
