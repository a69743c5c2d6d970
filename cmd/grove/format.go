package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jward/grove"
	"github.com/jward/grove/internal/issue"
)

var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}

func buildResult(command string, res *grove.Result) CLIResult {
	issues := res.Issues
	if issues == nil {
		issues = []grove.Issue{}
	}
	return CLIResult{
		Command: command,
		Issues:  issues,
		Counts:  countsByKind(res.Issues),
		Stats:   statsToCLI(res.Stats),
	}
}

func countsByKind(issues []grove.Issue) []CLICount {
	counts := issue.CountByKind(issues)
	out := make([]CLICount, 0, len(counts))
	for kind, n := range counts {
		out = append(out, CLICount{Kind: kind, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// outputResult writes an analysis result to w in the selected format.
func outputResult(w io.Writer, command string, res *grove.Result) error {
	result := buildResult(command, res)
	if flagFormat == "text" {
		formatIssuesText(w, result)
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to stdout as a
// CLIResult envelope. In text mode it goes to stderr.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	result := CLIResult{
		Command: command,
		Issues:  []grove.Issue{},
		Error:   err.Error(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
	return err
}

// formatIssuesText prints one "file:line:col: kind: message" line per
// issue followed by per-kind totals.
func formatIssuesText(w io.Writer, result CLIResult) {
	for _, is := range result.Issues {
		fmt.Fprintln(w, is.String())
	}
	if len(result.Counts) == 0 {
		fmt.Fprintln(w, "No issues found.")
		return
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tCOUNT")
	for _, c := range result.Counts {
		fmt.Fprintf(tw, "%s\t%d\n", c.Kind, c.Count)
	}
	tw.Flush()
}

// printSummary writes the timing summary to stderr.
func printSummary(s *session, res *grove.Result, elapsed time.Duration) {
	writeSummary(os.Stderr, s.dir, s.dbPath, res.Stats, elapsed)
}

func writeSummary(w io.Writer, dir, dbPath string, st grove.Stats, elapsed time.Duration) {
	fmt.Fprintf(w, "Analyzed %s in %s (%s: %d files, %d changed, %d deleted, %d analyzed, %d skipped)\n",
		dir,
		elapsed.Round(time.Millisecond),
		st.Mode,
		st.Files,
		st.Changed,
		st.Deleted,
		st.Analyzed,
		st.Skipped,
	)
	fmt.Fprintf(w, "State: %s\n", dbPath)
}
