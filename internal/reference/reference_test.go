package reference

import (
	"context"
	"strings"
	"testing"

	"github.com/nugget/haconf/internal/configset"
	"github.com/nugget/haconf/internal/document"
	"github.com/nugget/haconf/internal/finding"
	"github.com/nugget/haconf/internal/registry"
)

func testIndex(t *testing.T) *registry.Index {
	t.Helper()
	ix, err := registry.New(
		[]registry.Entity{
			{ID: "light.home_kitchen_ceiling"},
			{ID: "lock.home_front_door_august_v2"},
			{ID: "scene.movie_night"},
			{ID: "zone.home"},
			{ID: "binary_sensor.hallway_motion"},
		},
		[]registry.Device{{ID: "5c0a7e2f9d"}},
		[]registry.Area{{ID: "kitchen"}},
	)
	if err != nil {
		t.Fatal(err)
	}
	return ix
}

func parse(t *testing.T, name, src string, kind configset.Kind) *document.Document {
	t.Helper()
	doc, err := document.Parse(name, []byte(src), kind)
	if err != nil {
		t.Fatalf("Parse(%s): %v", name, err)
	}
	return doc
}

func TestValidate_ExistingEntity(t *testing.T) {
	doc := parse(t, "automations.yaml", `
- id: kitchen_on
  triggers:
    - trigger: state
      entity_id: binary_sensor.hallway_motion
      to: "on"
  actions:
    - action: light.turn_on
      target:
        entity_id: light.home_kitchen_ceiling
        area_id: kitchen
        device_id: 5c0a7e2f9d
`, configset.KindAutomation)

	got := New(Options{}).Validate(context.Background(), []*document.Document{doc}, testIndex(t))
	if len(got) != 0 {
		t.Errorf("findings = %+v, want none", got)
	}
}

func TestValidate_UnresolvedWithSuggestion(t *testing.T) {
	doc := parse(t, "automations.yaml", `
- id: lock_up
  actions:
    - action: lock.lock
      target:
        entity_id: lock.home_front_door_august
`, configset.KindAutomation)

	got := New(Options{}).Validate(context.Background(), []*document.Document{doc}, testIndex(t))
	if len(got) != 1 {
		t.Fatalf("findings = %d, want 1: %+v", len(got), got)
	}
	f := got[0]
	if !f.IsError() || f.Source != finding.SourceReference {
		t.Errorf("finding = %+v, want reference error", f)
	}
	if f.Identifier != "lock.home_front_door_august" {
		t.Errorf("Identifier = %q", f.Identifier)
	}
	if f.Suggestion != "lock.home_front_door_august_v2" {
		t.Errorf("Suggestion = %q, want lock.home_front_door_august_v2", f.Suggestion)
	}
	if f.Line != 6 {
		t.Errorf("Line = %d, want 6", f.Line)
	}
	if f.Path != "[0].actions[0].target.entity_id" {
		t.Errorf("Path = %q", f.Path)
	}
	if !strings.Contains(f.Message, "lock.home_front_door_august_v2") {
		t.Errorf("Message %q does not name the suggestion", f.Message)
	}
}

func TestValidate_Partitions(t *testing.T) {
	doc := parse(t, "scripts.yaml", `
bedtime:
  sequence:
    - action: light.turn_off
      target:
        area_id: [kitchen, attic]
        device_id: ffff
    - scene: scene.movie_nigth
`, configset.KindScript)

	got := New(Options{}).Validate(context.Background(), []*document.Document{doc}, testIndex(t))
	want := []string{"attic", "ffff", "scene.movie_nigth"}
	if len(got) != len(want) {
		t.Fatalf("findings = %+v, want %d", got, len(want))
	}
	for i, id := range want {
		if got[i].Identifier != id {
			t.Errorf("finding[%d].Identifier = %q, want %q", i, got[i].Identifier, id)
		}
	}
	if got[2].Suggestion != "scene.movie_night" {
		t.Errorf("scene suggestion = %q, want scene.movie_night", got[2].Suggestion)
	}
}

func TestValidate_SkipsNonReferenceFiles(t *testing.T) {
	doc := parse(t, "configuration.yaml", `
homeassistant:
  customize:
    light.nowhere: {}
group:
  kitchen:
    entities:
      light.nowhere: {}
`, configset.KindCore)

	got := New(Options{}).Validate(context.Background(), []*document.Document{doc}, testIndex(t))
	if len(got) != 0 {
		t.Errorf("findings = %+v, want none for core configuration", got)
	}
}

func TestValidate_TemplatesAndSpecialValues(t *testing.T) {
	doc := parse(t, "automations.yaml", `
- id: templated
  actions:
    - action: light.turn_off
      target:
        entity_id: "{{ states.light | map(attribute='entity_id') | list }}"
    - action: light.turn_off
      target:
        entity_id: all
    - action: light.turn_on
      target:
        entity_id: light.home_kitchen_ceiling, light.pantry
`, configset.KindAutomation)

	got := New(Options{}).Validate(context.Background(), []*document.Document{doc}, testIndex(t))
	if len(got) != 1 || got[0].Identifier != "light.pantry" {
		t.Errorf("findings = %+v, want one for light.pantry", got)
	}
}

func TestValidate_SceneEntities(t *testing.T) {
	doc := parse(t, "scenes.yaml", `
- id: "1700000000"
  name: Movie night
  entities:
    light.home_kitchen_ceiling:
      state: "off"
    light.tv_backlight:
      state: "on"
`, configset.KindScene)

	got := New(Options{}).Validate(context.Background(), []*document.Document{doc}, testIndex(t))
	if len(got) != 1 || got[0].Identifier != "light.tv_backlight" {
		t.Fatalf("findings = %+v, want one for light.tv_backlight", got)
	}
	if got[0].Line != 7 {
		t.Errorf("Line = %d, want 7", got[0].Line)
	}
}

const blueprintSrc = `
blueprint:
  name: Motion light
  domain: automation
  input:
    motion_sensor:
      selector:
        entity: {}
    lights:
      name: Lights
      input:
        target_light:
          selector:
            entity: {}
triggers:
  - trigger: state
    entity_id: !input motion_sensor
actions:
  - action: light.turn_on
    target:
      entity_id: !input target_light
  - action: light.turn_on
    target:
      entity_id: !input missing_input
  - action: light.turn_on
    target:
      entity_id: light.porch
`

func TestValidate_Blueprint(t *testing.T) {
	doc := parse(t, "blueprints/automation/motion_light.yaml", blueprintSrc, configset.KindBlueprint)

	got := New(Options{}).Validate(context.Background(), []*document.Document{doc}, testIndex(t))
	if len(got) != 2 {
		t.Fatalf("findings = %+v, want 2", got)
	}
	for _, f := range got {
		if f.IsError() {
			t.Errorf("blueprint finding %+v should be a warning", f)
		}
	}
	if got[0].Identifier != "missing_input" {
		t.Errorf("first finding = %+v, want undeclared input missing_input", got[0])
	}
	if got[1].Identifier != "light.porch" {
		t.Errorf("second finding = %+v, want literal light.porch", got[1])
	}
}

const unparameterizedSrc = `
blueprint:
  name: Fixed
  domain: automation
triggers:
  - trigger: state
    entity_id: binary_sensor.garage
actions:
  - action: light.turn_on
    target:
      entity_id: light.home_kitchen_ceiling
`

func TestValidate_UnparameterizedBlueprint(t *testing.T) {
	doc := parse(t, "blueprints/automation/fixed.yaml", unparameterizedSrc, configset.KindBlueprint)
	docs := []*document.Document{doc}

	lenient := New(Options{}).Validate(context.Background(), docs, testIndex(t))
	errs, warns := finding.Count(lenient)
	if errs != 0 || warns != 2 {
		t.Errorf("lenient: errors=%d warnings=%d, want 0 and 2: %+v", errs, warns, lenient)
	}

	strict := New(Options{StrictUnparameterizedBlueprints: true}).Validate(context.Background(), docs, testIndex(t))
	errs, warns = finding.Count(strict)
	if errs != 1 || warns != 0 {
		t.Errorf("strict: errors=%d warnings=%d, want 1 and 0: %+v", errs, warns, strict)
	}
}

func TestValidate_Deterministic(t *testing.T) {
	a := parse(t, "automations/b.yaml", "- entity_id: light.x\n- entity_id: light.y\n", configset.KindAutomation)
	b := parse(t, "automations/a.yaml", "- entity_id: light.z\n", configset.KindAutomation)
	v := New(Options{})

	first := v.Validate(context.Background(), []*document.Document{a, b}, testIndex(t))
	second := v.Validate(context.Background(), []*document.Document{b, a}, testIndex(t))
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("findings = %d and %d, want 3", len(first), len(second))
	}
	for i := range first {
		if first[i].Location != second[i].Location || first[i].Message != second[i].Message {
			t.Errorf("finding %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
	if first[0].File != "automations/a.yaml" {
		t.Errorf("first finding file = %q, want automations/a.yaml", first[0].File)
	}
}

func TestExtract_SkipsPlaceholders(t *testing.T) {
	doc := parse(t, "blueprints/x.yaml", "entity_id: !input light\ntarget:\n  entity_id:\n    - light.a\n    - !input more\n", configset.KindBlueprint)
	refs := Extract(doc)
	if len(refs) != 1 || refs[0].ID != "light.a" || refs[0].Path != "target.entity_id[0]" {
		t.Errorf("refs = %+v, want only light.a", refs)
	}
}
