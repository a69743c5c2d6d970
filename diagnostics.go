package grove

import (
	"fmt"

	"github.com/jward/grove/internal/codebase"
	"github.com/jward/grove/internal/issue"
	"github.com/jward/grove/internal/refs"
)

// codebaseIssues computes the diagnostics that depend on the whole file
// set rather than on one file: duplicate declarations and private
// properties that are written but never read.
func (e *Engine) codebaseIssues() []issue.Issue {
	var out []issue.Issue
	for _, d := range e.cb.Duplicates() {
		first := d.Files[0]
		for i := 1; i < len(d.Files); i++ {
			f := d.Files[i]
			if f.Builtin {
				continue
			}
			where := first.Path
			if first.Builtin {
				where = "the builtins"
			}
			out = append(out, issue.Issue{
				Kind:    issue.DuplicateSymbol,
				File:    f.Path,
				Line:    d.Lines[i],
				Column:  1,
				Message: fmt.Sprintf("%s %s is already declared in %s", entryNoun(d.Kind), d.Name, where),
				Symbol:  d.Name,
			})
		}
	}

	read := e.refs.ReadProperties()
	written := e.refs.WrittenProperties()
	for _, cl := range e.cb.Classes() {
		if cl.File.Builtin {
			continue
		}
		for name, p := range cl.Properties {
			if p.Visibility != codebase.Private {
				continue
			}
			id := refs.Member(cl.Name, name)
			if !written.Has(id) || read.Has(id) {
				continue
			}
			out = append(out, issue.Issue{
				Kind:    issue.WriteOnlyProperty,
				File:    cl.File.Path,
				Line:    p.Line,
				Column:  1,
				Message: fmt.Sprintf("private property %s::$%s is written but never read", cl.DisplayName, p.DisplayName),
				Symbol:  cl.DisplayName + "::$" + p.DisplayName,
			})
		}
	}
	return out
}

func entryNoun(k codebase.EntryKind) string {
	switch k {
	case codebase.EntryFunction:
		return "function"
	case codebase.EntryClass:
		return "class"
	default:
		return "constant"
	}
}
