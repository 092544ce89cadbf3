// Package syntax checks that every file in a configuration tree parses
// and that the platform's custom tags appear only where they are valid.
//
// It also enforces the cross-file invariants that a plain YAML parser
// cannot see: automation and scene ids unique across the whole set,
// script names unique across every script file, !secret keys present in
// a secrets file, and !include targets that exist.
package syntax

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/nugget/haconf/internal/config"
	"github.com/nugget/haconf/internal/configset"
	"github.com/nugget/haconf/internal/document"
	"github.com/nugget/haconf/internal/finding"
)

// Options configures a Validator.
type Options struct {
	// Workers bounds the number of files parsed concurrently.
	// Zero means runtime.NumCPU().
	Workers int

	Logger *slog.Logger
}

// Validator runs the structural checks over a file set.
type Validator struct {
	workers int
	logger  *slog.Logger
}

// New creates a syntax validator.
func New(opts Options) *Validator {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{workers: workers, logger: logger}
}

// Result is the outcome of a syntax pass.
type Result struct {
	// Findings are sorted by file, line, column and message.
	Findings []finding.Finding

	// Documents holds every file that parsed, in file-set order.
	// Secrets files are never included.
	Documents []*document.Document

	// Unparsed lists the relative paths of files that failed to parse.
	Unparsed []string
}

// fileResult is what one worker produces for one file. Each worker owns
// exactly one slot, so no locking is needed.
type fileResult struct {
	doc      *document.Document
	findings []finding.Finding
	ids      []idDecl
	secrets  map[string]bool // keys, for secrets files only
	failed   bool
}

// Validate is Run without the parsed documents.
func (v *Validator) Validate(ctx context.Context, files []configset.File) ([]finding.Finding, error) {
	res, err := v.Run(ctx, files)
	if err != nil {
		return nil, err
	}
	return res.Findings, nil
}

// Run parses every file and applies the structural checks. A file that
// fails to parse yields one error finding and is left out of
// Result.Documents; it never stops the other files from being checked.
// The only error returned is context cancellation.
func (v *Validator) Run(ctx context.Context, files []configset.File) (*Result, error) {
	results := make([]fileResult, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = v.checkFile(f)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("syntax validation: %w", err)
	}

	res := &Result{}
	secrets := make(map[string]map[string]bool)
	var ids []idDecl
	for i, r := range results {
		res.Findings = append(res.Findings, r.findings...)
		if r.failed {
			res.Unparsed = append(res.Unparsed, files[i].Rel)
			continue
		}
		if r.secrets != nil {
			secrets[path.Dir(files[i].Rel)] = r.secrets
			continue
		}
		if r.doc != nil {
			res.Documents = append(res.Documents, r.doc)
		}
		ids = append(ids, r.ids...)
	}

	res.Findings = append(res.Findings, checkSecretRefs(res.Documents, secrets)...)
	res.Findings = append(res.Findings, duplicateIDs(ids)...)
	finding.Sort(res.Findings)

	errs, warns := finding.Count(res.Findings)
	v.logger.Debug("syntax validation complete",
		"files", len(files),
		"parsed", len(res.Documents),
		"errors", errs,
		"warnings", warns,
	)
	return res, nil
}

// checkFile parses one file and runs every check that needs only that
// file.
func (v *Validator) checkFile(f configset.File) fileResult {
	v.logger.Log(context.Background(), config.LevelTrace, "checking file",
		"file", f.Rel, "kind", f.Kind)

	doc, err := document.LoadFile(f.Path, f.Rel, f.Kind)
	if err != nil {
		var se *finding.SyntaxError
		if errors.As(err, &se) {
			return fileResult{findings: []finding.Finding{se.Finding()}, failed: true}
		}
		return fileResult{failed: true, findings: []finding.Finding{
			finding.Errorf(finding.SourceSyntax, finding.Location{File: f.Rel}, "%v", err),
		}}
	}

	if f.Kind == configset.KindSecrets {
		keys, found := checkSecretsFile(doc)
		if keys == nil {
			keys = map[string]bool{}
		}
		return fileResult{findings: found, secrets: keys}
	}

	var out []finding.Finding
	out = append(out, checkTags(doc, filepath.Dir(f.Path))...)
	out = append(out, duplicateKeys(doc)...)
	return fileResult{doc: doc, findings: out, ids: declaredIDs(doc)}
}

// checkTags validates the position and argument of every custom tag.
func checkTags(doc *document.Document, dir string) []finding.Finding {
	var out []finding.Finding
	for _, t := range doc.Tags {
		loc := finding.Location{File: doc.Path, Line: t.Line, Column: t.Column, Path: t.Path}

		if t.Kind == document.TagInput && doc.Kind != configset.KindBlueprint {
			f := finding.Errorf(finding.SourceSyntax, loc, "!input %q is only valid inside a blueprint", t.Arg)
			f.Identifier = t.Arg
			out = append(out, f)
			continue
		}
		if t.Node != yaml.ScalarNode {
			out = append(out, finding.Errorf(finding.SourceSyntax, loc, "%s must be applied to a scalar", t.Kind))
			continue
		}
		if t.Arg == "" {
			out = append(out, finding.Errorf(finding.SourceSyntax, loc, "%s requires an argument", t.Kind))
			continue
		}
		if t.Kind.IsInclude() {
			if f, ok := checkInclude(t, dir, loc); !ok {
				out = append(out, f)
			}
		}
	}
	return out
}

// checkInclude confirms that an include target exists, resolving it
// relative to the including file's directory.
func checkInclude(t document.Tag, dir string, loc finding.Location) (finding.Finding, bool) {
	target := filepath.FromSlash(t.Arg)
	if !filepath.IsAbs(target) {
		target = filepath.Join(dir, target)
	}

	info, err := os.Stat(target)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		f := finding.Errorf(finding.SourceSyntax, loc, "%s target %q not found", t.Kind, t.Arg)
		f.Identifier = t.Arg
		return f, false
	case err != nil:
		return finding.Errorf(finding.SourceSyntax, loc, "%s target %q: %v", t.Kind, t.Arg, err), false
	case t.Kind.IncludesDir() && !info.IsDir():
		return finding.Errorf(finding.SourceSyntax, loc, "%s target %q is not a directory", t.Kind, t.Arg), false
	case !t.Kind.IncludesDir() && info.IsDir():
		return finding.Errorf(finding.SourceSyntax, loc, "%s target %q is a directory", t.Kind, t.Arg), false
	}
	return finding.Finding{}, true
}

// duplicateKeys warns about a key repeated within one mapping. The
// platform keeps the last value, which silently drops configuration.
func duplicateKeys(doc *document.Document) []finding.Finding {
	var out []finding.Finding
	document.Walk(doc.Root, func(n *yaml.Node, p string) bool {
		if document.Tagged(n) {
			return false
		}
		if n.Kind != yaml.MappingNode {
			return true
		}
		seen := make(map[string]int)
		document.Pairs(n, func(k, _ *yaml.Node) {
			if k.Kind != yaml.ScalarNode || k.Value == "<<" {
				return
			}
			if first, dup := seen[k.Value]; dup {
				f := finding.Warnf(finding.SourceSyntax, doc.Location(k, document.KeyPath(p, k.Value)),
					"duplicate key %q (first defined at line %d); the last value wins", k.Value, first)
				f.Identifier = k.Value
				out = append(out, f)
				return
			}
			seen[k.Value] = k.Line
		})
		return true
	})
	return out
}
