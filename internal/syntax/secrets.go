package syntax

import (
	"path"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/nugget/haconf/internal/configset"
	"github.com/nugget/haconf/internal/document"
	"github.com/nugget/haconf/internal/finding"
)

// checkSecretsFile confirms that a secrets file is a flat mapping of keys
// to scalars and returns its keys. Values are never copied or reported.
func checkSecretsFile(doc *document.Document) (map[string]bool, []finding.Finding) {
	keys := make(map[string]bool)
	if doc.Root == nil {
		return keys, nil
	}
	if doc.Root.Kind != yaml.MappingNode {
		return nil, []finding.Finding{finding.Errorf(finding.SourceSyntax, doc.Location(doc.Root, ""),
			"secrets file must be a mapping of keys to scalar values")}
	}

	var out []finding.Finding
	document.Pairs(doc.Root, func(k, v *yaml.Node) {
		if v.Kind != yaml.ScalarNode {
			f := finding.Errorf(finding.SourceSyntax, doc.Location(k, k.Value),
				"secret %q must be a scalar value", k.Value)
			f.Identifier = k.Value
			out = append(out, f)
		}
		keys[k.Value] = true
	})
	return keys, out
}

// checkSecretRefs resolves every !secret key. The platform looks for the
// key in the secrets file beside the referencing file, then in each
// parent directory up to the configuration root; secrets is keyed by the
// root-relative directory of each secrets file.
func checkSecretRefs(docs []*document.Document, secrets map[string]map[string]bool) []finding.Finding {
	if len(secrets) == 0 {
		n := 0
		for _, doc := range docs {
			n += len(doc.TagsOf(document.TagSecret))
		}
		if n == 0 {
			return nil
		}
		return []finding.Finding{finding.Warnf(finding.SourceSyntax, finding.Location{},
			"no secrets file found; %d !secret references could not be verified", n)}
	}

	var out []finding.Finding
	for _, doc := range docs {
		for _, t := range doc.TagsOf(document.TagSecret) {
			if t.Arg == "" || secretDefined(secrets, doc.Path, t.Arg) {
				continue
			}
			f := finding.Errorf(finding.SourceSyntax,
				finding.Location{File: doc.Path, Line: t.Line, Column: t.Column, Path: t.Path},
				"secret %q is not defined in any secrets file", t.Arg)
			f.Identifier = t.Arg
			out = append(out, f)
		}
	}
	return out
}

func secretDefined(secrets map[string]map[string]bool, rel, key string) bool {
	dir := path.Dir(rel)
	for {
		if secrets[dir][key] {
			return true
		}
		if dir == "." || dir == "/" {
			return false
		}
		dir = path.Dir(dir)
	}
}

// idDecl is one declaration of an id that must be unique within its
// namespace across the whole file set.
type idDecl struct {
	namespace string
	id        string
	loc       finding.Location
}

// declaredIDs returns the automation ids, scene ids and script names a
// document declares.
func declaredIDs(doc *document.Document) []idDecl {
	if doc.Root == nil {
		return nil
	}
	ns := doc.Kind.String()

	var out []idDecl
	addID := func(item *yaml.Node, p string) {
		v := document.Lookup(item, "id")
		if v == nil || v.Kind != yaml.ScalarNode || document.Tagged(v) || v.Value == "" {
			return
		}
		out = append(out, idDecl{namespace: ns, id: v.Value, loc: doc.Location(v, document.KeyPath(p, "id"))})
	}

	switch doc.Kind {
	case configset.KindAutomation, configset.KindScene:
		switch doc.Root.Kind {
		case yaml.SequenceNode:
			for i, item := range doc.Root.Content {
				addID(item, document.IndexPath("", i))
			}
		case yaml.MappingNode:
			addID(doc.Root, "")
		}
	case configset.KindScript:
		// A file holding a single script body (!include_dir_named) has no
		// names of its own; the file name is the script name.
		if document.Lookup(doc.Root, "sequence") != nil {
			return nil
		}
		document.Pairs(doc.Root, func(k, v *yaml.Node) {
			if v.Kind != yaml.MappingNode {
				return
			}
			out = append(out, idDecl{namespace: ns, id: k.Value, loc: doc.Location(k, k.Value)})
		})
	}
	return out
}

// duplicateIDs reports each id declared more than once in its namespace:
// one error at the first declaration, with every other declaration
// listed as a related location.
func duplicateIDs(decls []idDecl) []finding.Finding {
	type key struct{ namespace, id string }
	groups := make(map[key][]finding.Location)
	var order []key
	for _, d := range decls {
		k := key{d.namespace, d.id}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], d.loc)
	}

	var out []finding.Finding
	for _, k := range order {
		locs := groups[k]
		if len(locs) < 2 {
			continue
		}
		noun := k.namespace + " id"
		if k.namespace == "script" {
			noun = "script name"
		}
		f := finding.Errorf(finding.SourceSyntax, locs[0],
			"duplicate %s %q defined %d times", noun, k.id, len(locs))
		f.Identifier = k.id
		f.Related = slices.Clone(locs[1:])
		out = append(out, f)
	}
	return out
}
