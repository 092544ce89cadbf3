package document

import (
	"errors"
	"reflect"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/nugget/haconf/internal/configset"
	"github.com/nugget/haconf/internal/finding"
)

func TestParse_RecognizedTags(t *testing.T) {
	src := `homeassistant:
  name: Home
  auth: !secret ha_password
automation: !include automations.yaml
sensor: !include_dir_merge_list sensors/
trigger_entity: !input motion_sensor
`
	doc, err := Parse("configuration.yaml", []byte(src), configset.KindCore)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	want := []struct {
		kind TagKind
		arg  string
		line int
		path string
	}{
		{TagSecret, "ha_password", 3, "homeassistant.auth"},
		{TagInclude, "automations.yaml", 4, "automation"},
		{TagIncludeDirMergeList, "sensors/", 5, "sensor"},
		{TagInput, "motion_sensor", 6, "trigger_entity"},
	}
	if len(doc.Tags) != len(want) {
		t.Fatalf("got %d tags, want %d: %+v", len(doc.Tags), len(want), doc.Tags)
	}
	for i, w := range want {
		got := doc.Tags[i]
		if got.Kind != w.kind || got.Arg != w.arg || got.Line != w.line || got.Path != w.path {
			t.Errorf("tag %d = {%s %q line %d %q}, want {%s %q line %d %q}",
				i, got.Kind, got.Arg, got.Line, got.Path, w.kind, w.arg, w.line, w.path)
		}
		if got.Node != yaml.ScalarNode {
			t.Errorf("tag %d node kind = %v, want scalar", i, got.Node)
		}
	}
}

func TestParse_UnknownTag(t *testing.T) {
	src := "light:\n  - platform: group\n    name: !env_var LIGHT_NAME\n"
	_, err := Parse("lights.yaml", []byte(src), configset.KindOther)

	var se *finding.SyntaxError
	if !errors.As(err, &se) {
		t.Fatalf("Parse error = %v, want *finding.SyntaxError", err)
	}
	if se.Line != 3 {
		t.Errorf("line = %d, want 3", se.Line)
	}
	if se.Path != "light[0].name" {
		t.Errorf("path = %q, want %q", se.Path, "light[0].name")
	}
}

func TestParse_TaggedKey(t *testing.T) {
	_, err := Parse("a.yaml", []byte("- id: a\n  !bogus alias: x\n"), configset.KindAutomation)
	var se *finding.SyntaxError
	if !errors.As(err, &se) {
		t.Fatalf("Parse error = %v, want *finding.SyntaxError", err)
	}
	if se.Line != 2 || se.Path != "[0].alias" {
		t.Errorf("location = %d %q, want line 2 path [0].alias", se.Line, se.Path)
	}

	doc, err := Parse("b.yaml", []byte("trigger:\n  !input trig: y\n"), configset.KindBlueprint)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	tags := doc.TagsOf(TagInput)
	if len(tags) != 1 || tags[0].Arg != "trig" || tags[0].Path != "trigger.trig" || tags[0].Line != 2 {
		t.Errorf("tags = %+v, want one !input trig at trigger.trig", tags)
	}
}

func TestParse_MalformedYAML(t *testing.T) {
	_, err := Parse("broken.yaml", []byte("a: 1\n b: 2\n"), configset.KindOther)

	var se *finding.SyntaxError
	if !errors.As(err, &se) {
		t.Fatalf("Parse error = %v, want *finding.SyntaxError", err)
	}
	if se.File != "broken.yaml" {
		t.Errorf("file = %q, want broken.yaml", se.File)
	}
	if se.Line != 2 {
		t.Errorf("line = %d, want 2", se.Line)
	}
	if se.Msg == "" {
		t.Error("expected a parser message")
	}
}

func TestParse_EmptyFile(t *testing.T) {
	doc, err := Parse("scenes.yaml", nil, configset.KindScene)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if doc.Root != nil {
		t.Errorf("Root = %v, want nil", doc.Root)
	}
}

func TestParse_MultipleDocuments(t *testing.T) {
	_, err := Parse("multi.yaml", []byte("a: 1\n---\nb: 2\n"), configset.KindOther)
	var se *finding.SyntaxError
	if !errors.As(err, &se) {
		t.Fatalf("Parse error = %v, want *finding.SyntaxError", err)
	}
}

func TestParse_StandardTagsAccepted(t *testing.T) {
	src := "a: !!str 123\nb: ! plain\nc: !!int 4\n"
	doc, err := Parse("std.yaml", []byte(src), configset.KindOther)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(doc.Tags) != 0 {
		t.Errorf("got %d custom tags, want 0", len(doc.Tags))
	}
}

func TestParse_Deterministic(t *testing.T) {
	src := []byte("- id: a\n  actions:\n    - action: light.turn_on\n      target:\n        entity_id: !input lights\n")
	a, err := Parse("bp.yaml", src, configset.KindBlueprint)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Parse("bp.yaml", src, configset.KindBlueprint)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("parsing identical input produced different documents")
	}
}

func TestWalk_Paths(t *testing.T) {
	doc, err := Parse("x.yaml", []byte("a:\n  - b: 1\n    c: [x, y]\n"), configset.KindOther)
	if err != nil {
		t.Fatal(err)
	}
	var paths []string
	Walk(doc.Root, func(n *yaml.Node, path string) bool {
		if n.Kind == yaml.ScalarNode {
			paths = append(paths, path)
		}
		return true
	})
	want := []string{"a[0].b", "a[0].c[0]", "a[0].c[1]"}
	if !reflect.DeepEqual(paths, want) {
		t.Errorf("paths = %v, want %v", paths, want)
	}
}

func TestParseTagKind(t *testing.T) {
	for kind, name := range tagNames {
		got, ok := ParseTagKind(name)
		if !ok || got != kind {
			t.Errorf("ParseTagKind(%q) = %v, %v; want %v", name, got, ok, kind)
		}
	}
	if _, ok := ParseTagKind("!include_dir"); ok {
		t.Error("ParseTagKind accepted a tag outside the recognized set")
	}
}
