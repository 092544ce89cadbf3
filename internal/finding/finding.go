// Package finding defines the result types shared by every validator:
// individual findings, the aggregated report, and the error taxonomy that
// validators convert into findings instead of aborting a run.
package finding

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// Source identifies the validator that produced a finding.
type Source string

const (
	SourceSyntax    Source = "syntax"
	SourceReference Source = "reference"
	SourceOfficial  Source = "official"
)

// Severity classifies a finding. Only errors fail a run.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Location points into a configuration file. Line and Column are 1-based;
// zero means unknown. Path is the YAML path of the offending node
// (e.g. "[0].actions[1].target.entity_id").
type Location struct {
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
	Path   string `json:"path,omitempty"`
}

// String renders the location as file:line:column, omitting unknown parts.
func (l Location) String() string {
	var b strings.Builder
	b.WriteString(l.File)
	if l.Line > 0 {
		fmt.Fprintf(&b, ":%d", l.Line)
		if l.Column > 0 {
			fmt.Fprintf(&b, ":%d", l.Column)
		}
	}
	return b.String()
}

// Finding is one validation result. Findings are values; once produced
// they are never modified or merged.
type Finding struct {
	Source   Source   `json:"source"`
	Severity Severity `json:"severity"`
	Location
	Message string `json:"message"`

	// Identifier is the offending id (entity, device, area, automation
	// id, tag argument), if any.
	Identifier string `json:"identifier,omitempty"`

	// Suggestion is the nearest known id for an unresolved reference.
	Suggestion string `json:"suggestion,omitempty"`

	// Related lists the other locations involved, e.g. every further
	// definition of a duplicated automation id.
	Related []Location `json:"related,omitempty"`
}

// IsError reports whether the finding fails a run.
func (f Finding) IsError() bool {
	return f.Severity == SeverityError
}

// Errorf builds an error-severity finding.
func Errorf(src Source, loc Location, format string, args ...any) Finding {
	return Finding{Source: src, Severity: SeverityError, Location: loc, Message: fmt.Sprintf(format, args...)}
}

// Warnf builds a warning-severity finding.
func Warnf(src Source, loc Location, format string, args ...any) Finding {
	return Finding{Source: src, Severity: SeverityWarning, Location: loc, Message: fmt.Sprintf(format, args...)}
}

// Sort orders findings by file, line, column, then message so that
// repeated runs over unchanged input produce identical output.
func Sort(fs []Finding) {
	slices.SortStableFunc(fs, func(a, b Finding) int {
		return cmp.Or(
			cmp.Compare(a.File, b.File),
			cmp.Compare(a.Line, b.Line),
			cmp.Compare(a.Column, b.Column),
			cmp.Compare(a.Message, b.Message),
		)
	})
}

// Count returns the number of error and warning findings in fs.
func Count(fs []Finding) (errs, warnings int) {
	for _, f := range fs {
		if f.IsError() {
			errs++
		} else {
			warnings++
		}
	}
	return errs, warnings
}
