// Package pipeline runs the validators in order and aggregates their
// findings into one report.
//
// The order is fixed: syntax, then references, then the external check.
// Every validator-level failure becomes a finding; Run itself fails only
// when the file set cannot be discovered or the context is cancelled.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/nugget/haconf/internal/configset"
	"github.com/nugget/haconf/internal/finding"
	"github.com/nugget/haconf/internal/official"
	"github.com/nugget/haconf/internal/reference"
	"github.com/nugget/haconf/internal/registry"
	"github.com/nugget/haconf/internal/syntax"
)

// Stage names one validator.
type Stage string

const (
	StageSyntax    Stage = "syntax"
	StageReference Stage = "reference"
	StageOfficial  Stage = "official"
)

// AllStages is the full pipeline in execution order.
func AllStages() []Stage {
	return []Stage{StageSyntax, StageReference, StageOfficial}
}

// ParseStages converts stage names as given on the command line.
// "references" is accepted for "reference".
func ParseStages(names []string) ([]Stage, error) {
	var out []Stage
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if n == "references" {
			n = string(StageReference)
		}
		s := Stage(n)
		if !slices.Contains(AllStages(), s) {
			return nil, fmt.Errorf("unknown stage %q (valid: syntax, reference, official)", n)
		}
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out, nil
}

// Options configures a run.
type Options struct {
	// Root is the configuration directory.
	Root string

	// SnapshotDir holds the registry snapshot. Default <Root>/.storage.
	SnapshotDir string

	// SecretsFile, Ignore and BlueprintDirs are passed to file discovery.
	SecretsFile   string
	Ignore        []string
	BlueprintDirs []string

	// Stages selects the validators to run. Nil means all of them.
	Stages []Stage

	// Workers bounds concurrent parsing. Zero means one per CPU.
	Workers int

	StrictUnparameterizedBlueprints bool

	// Official is the external validator. A nil checker is reported as
	// unavailable when the official stage is selected.
	Official official.Checker

	Logger *slog.Logger

	// Now stamps the report. Default time.Now.
	Now func() time.Time
}

// FailedError is returned by callers that turn a failing report into a
// non-zero exit status.
type FailedError struct {
	Errors   int
	Warnings int
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("validation failed: %d %s, %d %s",
		e.Errors, plural(e.Errors, "error"), e.Warnings, plural(e.Warnings, "warning"))
}

// Check returns a *FailedError if the report's verdict is fail.
func Check(r *finding.Report) error {
	if r.Passed() {
		return nil
	}
	errs, warns := r.Counts()
	return &FailedError{Errors: errs, Warnings: warns}
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

// Run validates the configuration tree under opts.Root. Running it twice
// over unchanged input gives identical reports apart from GeneratedAt.
func Run(ctx context.Context, opts Options) (*finding.Report, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	stages := opts.Stages
	if len(stages) == 0 {
		stages = AllStages()
	}
	snapshotDir := opts.SnapshotDir
	if snapshotDir == "" {
		snapshotDir = filepath.Join(opts.Root, ".storage")
	}

	report := finding.NewReport(now())
	if len(stages) < len(AllStages()) {
		names := make([]string, 0, len(stages))
		for _, s := range AllStages() {
			if slices.Contains(stages, s) {
				names = append(names, string(s))
			}
		}
		report.Caveat("only %s validation ran; the verdict does not cover the other stages", strings.Join(names, ", "))
	}

	files, err := configset.Discover(configset.Options{
		Root:          opts.Root,
		Ignore:        opts.Ignore,
		SecretsFile:   opts.SecretsFile,
		BlueprintDirs: opts.BlueprintDirs,
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("discovered configuration files", "root", opts.Root, "files", len(files))

	// Syntax always parses, because the reference pass needs the
	// documents; its findings are only reported when selected.
	start := time.Now()
	sv := syntax.New(syntax.Options{Workers: opts.Workers, Logger: logger})
	parsed, err := sv.Run(ctx, files)
	if err != nil {
		return nil, err
	}
	syntaxReported := slices.Contains(stages, StageSyntax)
	if syntaxReported {
		report.Add(parsed.Findings...)
		logStage(logger, StageSyntax, parsed.Findings, start)
	} else if n := len(parsed.Unparsed); n > 0 {
		report.Caveat("%d %s failed to parse and %s not checked", n, plural(n, "file"), verb(n))
	}

	if slices.Contains(stages, StageReference) {
		start = time.Now()
		fs := runReference(ctx, opts, snapshotDir, parsed, files, report, logger)
		report.Add(fs...)
		logStage(logger, StageReference, fs, start)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if slices.Contains(stages, StageOfficial) {
		start = time.Now()
		fs := runOfficial(ctx, opts, parsed, syntaxReported, report, logger)
		report.Add(fs...)
		logStage(logger, StageOfficial, fs, start)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return report, nil
}

func verb(n int) string {
	if n == 1 {
		return "was"
	}
	return "were"
}

func logStage(logger *slog.Logger, s Stage, fs []finding.Finding, start time.Time) {
	errs, warns := finding.Count(fs)
	logger.Info("stage complete",
		"stage", s,
		"errors", errs,
		"warnings", warns,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
}

// runReference loads the snapshot and resolves references in every
// document that parsed. A snapshot that cannot be loaded ends the stage
// with one finding.
func runReference(ctx context.Context, opts Options, dir string, parsed *syntax.Result, files []configset.File, report *finding.Report, logger *slog.Logger) []finding.Finding {
	ix, err := registry.Load(dir)
	if err != nil {
		var se *finding.SnapshotError
		if errors.As(err, &se) {
			logger.Warn("reference validation skipped", "error", err)
			return []finding.Finding{se.Finding()}
		}
		return []finding.Finding{finding.Errorf(finding.SourceReference, finding.Location{}, "%v", err)}
	}

	for _, c := range ix.Caveats() {
		report.Caveat("%s", c)
	}
	if n := ix.Skipped(); n > 0 {
		report.Caveat("%d snapshot entities with an unsupported domain were not indexed", n)
	}
	if newest := newestChange(files); ix.StaleAgainst(newest) {
		report.Caveat("registry snapshot taken %s predates the newest configuration change at %s; run \"haconf snapshot pull\"",
			ix.ModTime().UTC().Format(time.RFC3339), newest.UTC().Format(time.RFC3339))
	}
	logger.Debug("registry snapshot loaded",
		"dir", dir,
		"entities", ix.Len(registry.PartitionEntity),
		"devices", ix.Len(registry.PartitionDevice),
		"areas", ix.Len(registry.PartitionArea),
	)

	rv := reference.New(reference.Options{
		StrictUnparameterizedBlueprints: opts.StrictUnparameterizedBlueprints,
		Logger:                          logger,
	})
	return rv.Validate(ctx, parsed.Documents, ix)
}

func newestChange(files []configset.File) time.Time {
	var newest time.Time
	for _, f := range files {
		if f.ModTime.After(newest) {
			newest = f.ModTime
		}
	}
	return newest
}

// runOfficial runs the external check. It is skipped when a file failed
// to parse, since the platform would reject the tree for the same reason
// and the verdict already fails.
func runOfficial(ctx context.Context, opts Options, parsed *syntax.Result, syntaxReported bool, report *finding.Report, logger *slog.Logger) []finding.Finding {
	if n := len(parsed.Unparsed); n > 0 {
		report.Caveat("external validation skipped: %d %s failed to parse", n, plural(n, "file"))
		if !syntaxReported {
			// The parse failures are not otherwise in the report.
			return []finding.Finding{finding.Errorf(finding.SourceOfficial, finding.Location{},
				"external validation skipped: %s failed to parse", strings.Join(parsed.Unparsed, ", "))}
		}
		return nil
	}

	if opts.Official == nil {
		un := &finding.UnavailableError{Checker: "none", Err: errors.New("no external validator configured")}
		report.Caveat("external validation inconclusive: %v", un.Err)
		return []finding.Finding{un.Finding()}
	}

	fs, err := opts.Official.Check(ctx, opts.Root)
	if err == nil {
		return fs
	}

	var un *finding.UnavailableError
	var rej *finding.RejectedError
	switch {
	case errors.As(err, &un):
		logger.Warn("external validator unavailable", "checker", un.Checker, "error", un.Err)
		report.Caveat("external validation inconclusive: %v", un.Err)
		return []finding.Finding{un.Finding()}
	case errors.As(err, &rej):
		return rej.Findings
	default:
		report.Caveat("external validation inconclusive: %v", err)
		return []finding.Finding{finding.Errorf(finding.SourceOfficial, finding.Location{}, "external validator %s failed: %v", opts.Official.Name(), err)}
	}
}
