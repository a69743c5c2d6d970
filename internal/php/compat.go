package php

import (
	"github.com/jward/grove/internal/codebase"
)

// bindSelf replaces self and static in t with class. An empty class leaves
// t unchanged.
func bindSelf(t *codebase.Type, class string) *codebase.Type {
	if class == "" {
		return t
	}
	return t.Replace("self", class).Replace("static", class)
}

// accepts reports whether a value of type actual may be passed where
// declared is expected. Unknown types on either side are accepted, so only
// provable mismatches are reported.
func (fa *fileAnalyzer) accepts(declared, actual *codebase.Type, sc *scope) bool {
	if declared == nil || actual == nil || declared.Has("mixed") {
		return true
	}
	for _, a := range actual.Atomics {
		if !fa.acceptsAtomic(declared, a) {
			return false
		}
	}
	return true
}

func (fa *fileAnalyzer) acceptsAtomic(declared *codebase.Type, actual string) bool {
	if declared.Has(actual) {
		return true
	}
	switch actual {
	case "mixed", "never":
		return true
	case "int":
		return declared.Has("float")
	case "true", "false":
		return declared.Has("bool")
	case "array":
		return declared.Has("iterable")
	case "closure":
		return declared.Has("callable") || declared.Has("object")
	case "self", "static", "parent", "object":
		return declared.Has("object") || len(declared.ClassNames()) > 0
	}
	if codebase.IsPrimitive(actual) {
		return false
	}

	// actual is a class name.
	if declared.Has("object") {
		return true
	}
	child := fa.in.Intern(actual)
	if fa.cb.ClassLike(child) == nil {
		return true
	}
	for _, want := range declared.ClassNames() {
		parent := fa.in.Intern(want)
		if fa.cb.ClassLike(parent) == nil || fa.cb.IsSubclassOf(child, parent) {
			return true
		}
		if want == "traversable" || want == "iterable" || want == "callable" {
			return true
		}
	}
	if declared.Has("iterable") || declared.Has("callable") {
		return true
	}
	return false
}
