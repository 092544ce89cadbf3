// Package official runs the platform's own configuration check and
// normalizes its output into findings.
//
// The platform is the final authority on whether a configuration loads.
// Its check either runs locally as a command (CommandChecker) or on the
// live instance through the REST API (APIChecker). A check that cannot
// run is reported as *finding.UnavailableError and never counts as a
// pass.
package official

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nugget/haconf/internal/finding"
)

// Checker is an external validator.
//
// Check returns the findings of a successful run (usually warnings) with
// a nil error. A run that rejects the configuration returns
// *finding.RejectedError; one that could not run at all returns
// *finding.UnavailableError.
type Checker interface {
	Name() string
	Check(ctx context.Context, root string) ([]finding.Finding, error)
}

// tailLines is how much output is kept when a failed run printed nothing
// that normalizes into a finding.
const tailLines = 10

// tail returns the last n non-blank lines of s.
func tail(s string, n int) string {
	var lines []string
	for _, l := range strings.Split(s, "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, strings.TrimRight(l, " \t\r"))
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// rejected builds the error for a run that failed. When the diagnostics
// hold no error-severity item, one error carrying the tail of the raw
// output is added so the failure is never silent.
func rejected(name string, fs []finding.Finding, output string) *finding.RejectedError {
	if errs, _ := finding.Count(fs); errs == 0 {
		msg := "configuration check failed"
		if t := tail(output, tailLines); t != "" {
			msg += ":\n" + t
		}
		fs = append(fs, finding.Finding{
			Source:   finding.SourceOfficial,
			Severity: finding.SeverityError,
			Message:  msg,
		})
	}
	finding.Sort(fs)
	return &finding.RejectedError{Checker: name, Findings: fs}
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
