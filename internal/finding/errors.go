package finding

import (
	"fmt"
	"strings"
)

// SyntaxError reports an unparsable or structurally invalid document.
type SyntaxError struct {
	Location
	Msg string
	Err error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s: %s", e.Location, e.Msg)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

// Finding converts the error into an error-severity syntax finding.
func (e *SyntaxError) Finding() Finding {
	return Finding{Source: SourceSyntax, Severity: SeverityError, Location: e.Location, Message: e.Msg}
}

// UnresolvedReferenceError reports a reference to an entity, device or
// area that does not exist in the registry snapshot.
type UnresolvedReferenceError struct {
	Location
	Kind       string // "entity", "device" or "area"
	ID         string
	Suggestion string
}

func (e *UnresolvedReferenceError) Error() string {
	msg := fmt.Sprintf("%s %q not found in registry snapshot", e.Kind, e.ID)
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", e.Suggestion)
	}
	return msg
}

// Finding converts the error into a reference finding of the given severity.
func (e *UnresolvedReferenceError) Finding(sev Severity) Finding {
	return Finding{
		Source:     SourceReference,
		Severity:   sev,
		Location:   e.Location,
		Message:    e.Error(),
		Identifier: e.ID,
		Suggestion: e.Suggestion,
	}
}

// SnapshotError reports a missing or corrupt registry snapshot. It aborts
// the reference pass but no other validator.
type SnapshotError struct {
	Dir string
	Msg string
	Err error
}

func (e *SnapshotError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("registry snapshot %s: %s: %v", e.Dir, e.Msg, e.Err)
	}
	return fmt.Sprintf("registry snapshot %s: %s", e.Dir, e.Msg)
}

func (e *SnapshotError) Unwrap() error { return e.Err }

// Finding converts the error into an error-severity reference finding.
func (e *SnapshotError) Finding() Finding {
	return Finding{
		Source:   SourceReference,
		Severity: SeverityError,
		Message:  e.Error() + "; reference validation skipped",
	}
}

// UnavailableError reports that the external validator could not run at
// all. It is never treated as success.
type UnavailableError struct {
	Checker string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("external validator %s unavailable: %v", e.Checker, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Finding converts the error into an error-severity official finding.
func (e *UnavailableError) Finding() Finding {
	return Finding{
		Source:   SourceOfficial,
		Severity: SeverityError,
		Message:  e.Error() + "; result inconclusive",
	}
}

// RejectedError reports that the external validator ran and found
// configuration errors. Findings holds its normalized diagnostics.
type RejectedError struct {
	Checker  string
	Findings []Finding
}

func (e *RejectedError) Error() string {
	errs, _ := Count(e.Findings)
	parts := make([]string, 0, len(e.Findings))
	for _, f := range e.Findings {
		if f.IsError() {
			parts = append(parts, f.Message)
		}
	}
	return fmt.Sprintf("external validator %s rejected configuration (%d errors): %s",
		e.Checker, errs, strings.Join(parts, "; "))
}
