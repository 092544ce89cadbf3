package reference

import (
	"context"
	"log/slog"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/nugget/haconf/internal/document"
	"github.com/nugget/haconf/internal/finding"
	"github.com/nugget/haconf/internal/registry"
)

// Options configures a Validator.
type Options struct {
	// StrictUnparameterizedBlueprints validates a blueprint that uses no
	// !input placeholder at all like a plain automation. By default such
	// a blueprint is validated leniently and flagged with a warning.
	StrictUnparameterizedBlueprints bool

	Logger *slog.Logger
}

// Validator checks references against a registry index.
type Validator struct {
	strict bool
	logger *slog.Logger
}

// New creates a reference validator.
func New(opts Options) *Validator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{strict: opts.StrictUnparameterizedBlueprints, logger: logger}
}

// Validate reports every reference in docs that does not resolve in ix.
// Documents that are not automations, scripts, scenes or blueprints are
// ignored. Findings are sorted; the index is only read.
func (v *Validator) Validate(ctx context.Context, docs []*document.Document, ix *registry.Index) []finding.Finding {
	var out []finding.Finding
	checked := 0
	for _, doc := range docs {
		if ctx.Err() != nil {
			break
		}
		if !holdsReferences(doc) {
			continue
		}
		checked++
		if isBlueprint(doc) {
			out = append(out, v.validateBlueprint(doc, ix)...)
			continue
		}
		out = append(out, resolve(Extract(doc), ix, finding.SeverityError)...)
	}
	finding.Sort(out)
	v.logger.Debug("reference validation complete", "documents", checked, "findings", len(out))
	return out
}

// resolve emits one finding of severity sev per unresolved reference.
func resolve(refs []Reference, ix *registry.Index, sev finding.Severity) []finding.Finding {
	var out []finding.Finding
	for _, r := range refs {
		if ix.Has(r.Partition, r.ID) {
			continue
		}
		suggestion, _ := ix.Suggest(r.Partition, r.ID)
		uerr := &finding.UnresolvedReferenceError{
			Location:   r.Location,
			Kind:       r.Partition.String(),
			ID:         r.ID,
			Suggestion: suggestion,
		}
		out = append(out, uerr.Finding(sev))
	}
	return out
}

// validateBlueprint applies the lenient blueprint rules: placeholders
// must be declared, and literal ids that do not resolve are only
// warnings because blueprints are meant to be parameterized.
func (v *Validator) validateBlueprint(doc *document.Document, ix *registry.Index) []finding.Finding {
	inputs := doc.TagsOf(document.TagInput)
	refs := Extract(doc)

	if len(inputs) == 0 {
		if v.strict {
			return resolve(refs, ix, finding.SeverityError)
		}
		f := finding.Warnf(finding.SourceReference, finding.Location{File: doc.Path},
			"blueprint uses no !input placeholders; literal ids validated leniently (set validation.strict_unparameterized_blueprints to treat it as an automation)")
		return append([]finding.Finding{f}, resolve(refs, ix, finding.SeverityWarning)...)
	}

	declared := declaredInputs(doc.Root)
	var out []finding.Finding
	for _, t := range inputs {
		if slices.Contains(declared, t.Arg) {
			continue
		}
		f := finding.Warnf(finding.SourceReference,
			finding.Location{File: doc.Path, Line: t.Line, Column: t.Column, Path: t.Path},
			"!input %q is not declared under blueprint.input", t.Arg)
		f.Identifier = t.Arg
		out = append(out, f)
	}
	return append(out, resolve(refs, ix, finding.SeverityWarning)...)
}

// declaredInputs returns the input names declared under blueprint.input,
// including inputs nested in input sections.
func declaredInputs(root *yaml.Node) []string {
	var names []string
	var collect func(m *yaml.Node)
	collect = func(m *yaml.Node) {
		document.Pairs(m, func(k, v *yaml.Node) {
			if section := document.Lookup(v, "input"); section != nil && section.Kind == yaml.MappingNode {
				collect(section)
				return
			}
			names = append(names, k.Value)
		})
	}
	collect(document.Lookup(document.Lookup(root, "blueprint"), "input"))
	return names
}
