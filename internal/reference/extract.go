// Package reference extracts entity, device and area references from
// automations, scripts, scenes and blueprints, and checks each one
// against a registry snapshot.
package reference

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nugget/haconf/internal/configset"
	"github.com/nugget/haconf/internal/document"
	"github.com/nugget/haconf/internal/finding"
	"github.com/nugget/haconf/internal/registry"
)

// Reference is one mention of a registry id inside a document.
type Reference struct {
	Partition registry.Partition
	ID        string
	finding.Location
}

// Extract returns every reference in doc, in document order. Only fields
// that the platform interprets as ids are inspected: entity_id,
// device_id and area_id (scalar, list or comma-separated), the scene
// action shorthand, zone triggers and conditions, and the keys of a
// scene's entities mapping. Templates and tagged placeholders are never
// references.
func Extract(doc *document.Document) []Reference {
	if doc == nil || doc.Root == nil {
		return nil
	}
	x := &extractor{doc: doc}
	x.visit(doc.Root, "")
	return x.refs
}

type extractor struct {
	doc  *document.Document
	refs []Reference
}

func (x *extractor) visit(n *yaml.Node, path string) {
	if n == nil || document.Tagged(n) {
		return
	}
	switch n.Kind {
	case yaml.SequenceNode:
		for i, c := range n.Content {
			x.visit(c, document.IndexPath(path, i))
		}
	case yaml.MappingNode:
		document.Pairs(n, func(k, v *yaml.Node) {
			p := document.KeyPath(path, k.Value)
			switch k.Value {
			case "entity_id":
				x.collect(v, p, registry.PartitionEntity)
			case "device_id":
				x.collect(v, p, registry.PartitionDevice)
			case "area_id":
				x.collect(v, p, registry.PartitionArea)
			case "scene":
				x.single(v, p, "scene.")
			case "zone":
				x.single(v, p, "zone.")
			case "entities":
				if v.Kind == yaml.MappingNode {
					x.entityKeys(v, p)
				} else {
					x.visit(v, p)
				}
			default:
				x.visit(v, p)
			}
		})
	}
}

// collect records the ids held by an id field.
func (x *extractor) collect(v *yaml.Node, path string, part registry.Partition) {
	switch v.Kind {
	case yaml.ScalarNode:
		x.scalar(v, path, part)
	case yaml.SequenceNode:
		for i, c := range v.Content {
			if c.Kind == yaml.ScalarNode {
				x.scalar(c, document.IndexPath(path, i), part)
			}
		}
	}
}

func (x *extractor) scalar(v *yaml.Node, path string, part registry.Partition) {
	if document.Tagged(v) || isTemplate(v.Value) {
		return
	}
	for _, id := range strings.Split(v.Value, ",") {
		id = strings.TrimSpace(id)
		if id == "" || id == "all" || id == "none" {
			continue
		}
		if part == registry.PartitionEntity && !registry.IsEntityID(id) {
			continue
		}
		x.add(part, id, v, path)
	}
}

// single records a scalar entity id of a fixed domain, as used by the
// scene and zone shorthands.
func (x *extractor) single(v *yaml.Node, path, prefix string) {
	if v.Kind != yaml.ScalarNode {
		x.visit(v, path)
		return
	}
	if document.Tagged(v) || !strings.HasPrefix(v.Value, prefix) || !registry.IsEntityID(v.Value) {
		return
	}
	x.add(registry.PartitionEntity, v.Value, v, path)
}

// entityKeys records the keys of a scene's entities mapping.
func (x *extractor) entityKeys(m *yaml.Node, path string) {
	document.Pairs(m, func(k, v *yaml.Node) {
		p := document.KeyPath(path, k.Value)
		if registry.IsEntityID(k.Value) {
			x.add(registry.PartitionEntity, k.Value, k, p)
		}
		x.visit(v, p)
	})
}

func (x *extractor) add(part registry.Partition, id string, n *yaml.Node, path string) {
	x.refs = append(x.refs, Reference{
		Partition: part,
		ID:        id,
		Location:  x.doc.Location(n, path),
	})
}

func isTemplate(s string) bool {
	return strings.Contains(s, "{{") || strings.Contains(s, "{%")
}

// holdsReferences reports whether a document is subject to reference
// validation.
func holdsReferences(doc *document.Document) bool {
	return doc != nil && doc.Kind.HoldsReferences()
}

// isBlueprint reports whether doc is a blueprint.
func isBlueprint(doc *document.Document) bool {
	return doc.Kind == configset.KindBlueprint
}
