package document

import (
	"strconv"

	"gopkg.in/yaml.v3"
)

// WalkFunc is called for every value node with its YAML path. Returning
// false skips the node's children.
type WalkFunc func(n *yaml.Node, path string) bool

// Walk visits n and its descendants depth-first in document order.
// Mapping keys are not visited; alias nodes are visited but not followed,
// so anchors are inspected exactly once.
func Walk(n *yaml.Node, fn WalkFunc) {
	walk(n, "", fn)
}

func walk(n *yaml.Node, path string, fn WalkFunc) {
	if n == nil || !fn(n, path) {
		return
	}
	switch n.Kind {
	case yaml.DocumentNode:
		for _, c := range n.Content {
			walk(c, path, fn)
		}
	case yaml.SequenceNode:
		for i, c := range n.Content {
			walk(c, IndexPath(path, i), fn)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			walk(n.Content[i+1], KeyPath(path, n.Content[i].Value), fn)
		}
	}
}

// KeyPath extends a YAML path with a mapping key.
func KeyPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// IndexPath extends a YAML path with a sequence index.
func IndexPath(path string, i int) string {
	return path + "[" + strconv.Itoa(i) + "]"
}

// Lookup returns the value for key in a mapping node, or nil.
func Lookup(m *yaml.Node, key string) *yaml.Node {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

// Pairs calls fn for each key/value pair of a mapping node.
func Pairs(m *yaml.Node, fn func(key, value *yaml.Node)) {
	if m == nil || m.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		fn(m.Content[i], m.Content[i+1])
	}
}

// Tagged reports whether n carries one of the recognized custom tags.
func Tagged(n *yaml.Node) bool {
	if n == nil {
		return false
	}
	_, ok := ParseTagKind(n.Tag)
	return ok
}
