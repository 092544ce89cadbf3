// Package document parses Home Assistant YAML files into node trees.
//
// The platform extends YAML with !secret, !include (and its directory
// variants) and !input. The loader records every occurrence of those tags
// with its position but never resolves them: secret values are never
// loaded and included files are not inlined. Any other custom tag is a
// syntax error.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nugget/haconf/internal/configset"
	"github.com/nugget/haconf/internal/finding"
)

// Tag is one occurrence of a recognized custom tag.
type Tag struct {
	Kind   TagKind
	Arg    string // raw scalar argument, e.g. the secret key or include path
	Line   int
	Column int
	Path   string    // YAML path of the tagged node
	Node   yaml.Kind // kind of the tagged node; only scalars are valid
}

// Document is the parsed form of one configuration file.
type Document struct {
	Path string         // file path as reported in findings
	Kind configset.Kind // role of the file
	Root *yaml.Node     // top-level content node; nil for an empty file
	Tags []Tag          // custom tag occurrences in document order
}

// Location returns a finding location for a node in this document.
func (d *Document) Location(n *yaml.Node, path string) finding.Location {
	loc := finding.Location{File: d.Path, Path: path}
	if n != nil {
		loc.Line, loc.Column = n.Line, n.Column
	}
	return loc
}

// TagsOf returns the occurrences of a single tag kind.
func (d *Document) TagsOf(kind TagKind) []Tag {
	var out []Tag
	for _, t := range d.Tags {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// LoadFile reads and parses one file from disk. path is used for I/O;
// name is what findings report.
func LoadFile(path, name string, kind configset.Kind) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &finding.SyntaxError{
			Location: finding.Location{File: name},
			Msg:      "cannot read file: " + errorText(err),
			Err:      err,
		}
	}
	return Parse(name, data, kind)
}

// Parse turns raw YAML into a Document. It fails with a
// *finding.SyntaxError when the text does not parse, holds more than one
// YAML document, or uses a custom tag outside the recognized set.
// Identical input always yields an identical Document.
func Parse(name string, data []byte, kind configset.Kind) (*Document, error) {
	doc := &Document{Path: name, Kind: kind}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	var top yaml.Node
	if err := dec.Decode(&top); err != nil {
		if errors.Is(err, io.EOF) {
			return doc, nil
		}
		return nil, parseError(name, err)
	}

	var extra yaml.Node
	if err := dec.Decode(&extra); err == nil {
		return nil, &finding.SyntaxError{
			Location: finding.Location{File: name, Line: extra.Line, Column: extra.Column},
			Msg:      "multiple YAML documents in one file are not supported",
		}
	} else if !errors.Is(err, io.EOF) {
		return nil, parseError(name, err)
	}

	if top.Kind == yaml.DocumentNode && len(top.Content) > 0 {
		doc.Root = top.Content[0]
	}

	var unknown error
	// record notes one node's custom tag. It reports whether the node is
	// a plain node whose children should be inspected.
	record := func(n *yaml.Node, path string) bool {
		if isStandardTag(n.Tag) {
			return true
		}
		kind, ok := ParseTagKind(n.Tag)
		if !ok {
			unknown = &finding.SyntaxError{
				Location: doc.Location(n, path),
				Msg:      fmt.Sprintf("unknown tag %s", n.Tag),
			}
			return false
		}
		doc.Tags = append(doc.Tags, Tag{
			Kind:   kind,
			Arg:    strings.TrimSpace(n.Value),
			Line:   n.Line,
			Column: n.Column,
			Path:   path,
			Node:   n.Kind,
		})
		// A tagged node is a placeholder; its content is never inspected.
		return false
	}
	Walk(doc.Root, func(n *yaml.Node, path string) bool {
		if unknown != nil || !record(n, path) {
			return false
		}
		if n.Kind == yaml.MappingNode {
			// Walk visits values only, so keys are checked here.
			for i := 0; i+1 < len(n.Content) && unknown == nil; i += 2 {
				key := n.Content[i]
				record(key, KeyPath(path, key.Value))
			}
		}
		return unknown == nil
	})
	if unknown != nil {
		return nil, unknown
	}
	return doc, nil
}

var lineRe = regexp.MustCompile(`line (\d+)(?:, column (\d+))?`)

// parseError converts a yaml.v3 error into a SyntaxError, lifting the
// reported line and column when present.
func parseError(name string, err error) *finding.SyntaxError {
	loc := finding.Location{File: name}
	if m := lineRe.FindStringSubmatch(err.Error()); m != nil {
		loc.Line, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			loc.Column, _ = strconv.Atoi(m[2])
		}
	}
	return &finding.SyntaxError{Location: loc, Msg: errorText(err), Err: err}
}

// errorText strips the "yaml: " and "line N: " prefixes that duplicate
// the finding location.
func errorText(err error) string {
	msg := strings.TrimPrefix(err.Error(), "yaml: ")
	if loc := lineRe.FindStringIndex(msg); loc != nil && loc[0] == 0 {
		msg = strings.TrimLeft(msg[loc[1]:], ": ")
	}
	return msg
}
