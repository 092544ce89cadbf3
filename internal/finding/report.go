package finding

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/fatih/color"
)

// Verdict is the overall outcome of a validation run.
type Verdict string

const (
	VerdictPass Verdict = "pass"
	VerdictFail Verdict = "fail"
)

// Report is the aggregated outcome of one validation run. A Report is
// built fresh for every run and never persisted.
type Report struct {
	GeneratedAt time.Time `json:"generated_at"`
	Findings    []Finding `json:"findings"`

	// Caveats are observations that qualify the verdict without being
	// findings themselves: a stale snapshot, a skipped validator.
	Caveats []string `json:"caveats,omitempty"`
}

// NewReport creates an empty report stamped with now.
func NewReport(now time.Time) *Report {
	return &Report{GeneratedAt: now.UTC(), Findings: []Finding{}}
}

// Add appends findings in the order given.
func (r *Report) Add(fs ...Finding) {
	r.Findings = append(r.Findings, fs...)
}

// Caveat records a qualifying note. Duplicate notes are ignored.
func (r *Report) Caveat(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if slices.Contains(r.Caveats, msg) {
		return
	}
	r.Caveats = append(r.Caveats, msg)
}

// Verdict is pass iff the report holds no error-severity finding.
func (r *Report) Verdict() Verdict {
	for _, f := range r.Findings {
		if f.IsError() {
			return VerdictFail
		}
	}
	return VerdictPass
}

// Passed reports whether the verdict is pass.
func (r *Report) Passed() bool {
	return r.Verdict() == VerdictPass
}

// Counts returns the number of error and warning findings.
func (r *Report) Counts() (errs, warnings int) {
	return Count(r.Findings)
}

// Summary is the one-line verdict printed after the findings.
func (r *Report) Summary() string {
	errs, warns := r.Counts()
	label := "PASS"
	if !r.Passed() {
		label = "FAIL"
	}
	return fmt.Sprintf("%s: %d %s, %d %s", label, errs, plural(errs, "error"), warns, plural(warns, "warning"))
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

// generalGroup is the heading for findings that are not tied to a file.
const generalGroup = "(general)"

// groups returns findings grouped by file. General findings come first,
// then files in lexical order; within a group the report order is kept.
func (r *Report) groups() ([]string, map[string][]Finding) {
	byFile := make(map[string][]Finding)
	var files []string
	for _, f := range r.Findings {
		key := f.File
		if key == "" {
			key = generalGroup
		}
		if _, ok := byFile[key]; !ok {
			files = append(files, key)
		}
		byFile[key] = append(byFile[key], f)
	}
	slices.SortFunc(files, func(a, b string) int {
		switch {
		case a == b:
			return 0
		case a == generalGroup:
			return -1
		case b == generalGroup:
			return 1
		case a < b:
			return -1
		default:
			return 1
		}
	})
	return files, byFile
}

// WriteText renders the report for humans: findings grouped by file,
// then caveats, then the summary line. Color is applied only when
// colorize is true.
func (r *Report) WriteText(w io.Writer, colorize bool) error {
	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow)
	green := color.New(color.FgGreen, color.Bold)
	bold := color.New(color.Bold)
	for _, c := range []*color.Color{red, yellow, green, bold} {
		if colorize {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	files, byFile := r.groups()
	for _, file := range files {
		if _, err := fmt.Fprintln(w, bold.Sprint(file)); err != nil {
			return err
		}
		for _, f := range byFile[file] {
			sev := yellow.Sprintf("%-7s", f.Severity)
			if f.IsError() {
				sev = red.Sprintf("%-7s", f.Severity)
			}
			pos := "-"
			if f.Line > 0 {
				pos = fmt.Sprintf("%d:%d", f.Line, f.Column)
			}
			fmt.Fprintf(w, "  %-8s %s %-9s %s", pos, sev, f.Source, f.Message)
			if f.Path != "" {
				fmt.Fprintf(w, " [%s]", f.Path)
			}
			fmt.Fprintln(w)
			for _, rel := range f.Related {
				fmt.Fprintf(w, "           also at %s\n", rel)
			}
		}
	}

	if len(r.Caveats) > 0 {
		if len(files) > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, "Caveats:")
		for _, c := range r.Caveats {
			fmt.Fprintf(w, "  - %s\n", c)
		}
	}

	if len(files) > 0 || len(r.Caveats) > 0 {
		fmt.Fprintln(w)
	}
	summary := green.Sprint(r.Summary())
	if !r.Passed() {
		summary = red.Sprint(r.Summary())
	}
	_, err := fmt.Fprintln(w, summary)
	return err
}

// jsonReport is the wire shape of a report, with derived fields made
// explicit for consumers.
type jsonReport struct {
	*Report
	Verdict  Verdict `json:"verdict"`
	Errors   int     `json:"errors"`
	Warnings int     `json:"warnings"`
}

// WriteJSON renders the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	errs, warns := r.Counts()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonReport{Report: r, Verdict: r.Verdict(), Errors: errs, Warnings: warns})
}
