// Package issue defines the diagnostics reported by analysis.
package issue

import (
	"fmt"
	"sort"
)

// Kind classifies a diagnostic.
type Kind string

const (
	ReadError         Kind = "read_error"
	ParseError        Kind = "parse_error"
	UndefinedFunction Kind = "undefined_function"
	UndefinedClass    Kind = "undefined_class"
	UndefinedMethod   Kind = "undefined_method"
	UndefinedConstant Kind = "undefined_constant"
	UndefinedProperty Kind = "undefined_property"
	TooFewArguments   Kind = "too_few_arguments"
	TooManyArguments  Kind = "too_many_arguments"
	InvalidArgument   Kind = "invalid_argument_type"
	InvalidReturn     Kind = "invalid_return_type"
	DuplicateSymbol   Kind = "duplicate_symbol"
	WriteOnlyProperty Kind = "write_only_property"
)

// Issue is a single diagnostic. Line and Column are 1-based.
type Issue struct {
	Kind    Kind   `json:"kind"`
	File    string `json:"file"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Message string `json:"message"`
	Symbol  string `json:"symbol,omitempty"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s:%d:%d: %s: %s", i.File, i.Line, i.Column, i.Kind, i.Message)
}

func less(a, b Issue) bool {
	if a.File != b.File {
		return a.File < b.File
	}
	if a.Line != b.Line {
		return a.Line < b.Line
	}
	if a.Column != b.Column {
		return a.Column < b.Column
	}
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	if a.Message != b.Message {
		return a.Message < b.Message
	}
	return a.Symbol < b.Symbol
}

// Normalize sorts issues by location and drops exact duplicates. The input
// slice is reordered in place; the returned slice shares its backing array.
func Normalize(issues []Issue) []Issue {
	sort.Slice(issues, func(i, j int) bool { return less(issues[i], issues[j]) })
	out := issues[:0]
	for i, is := range issues {
		if i > 0 && is == issues[i-1] {
			continue
		}
		out = append(out, is)
	}
	return out
}

// CountByKind tallies issues per kind.
func CountByKind(issues []Issue) map[Kind]int {
	out := make(map[Kind]int)
	for _, is := range issues {
		out[is.Kind]++
	}
	return out
}
