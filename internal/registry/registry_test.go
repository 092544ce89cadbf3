package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nugget/haconf/internal/finding"
)

const entityJSON = `{
  "version": 1,
  "minor_version": 15,
  "key": "core.entity_registry",
  "data": {
    "entities": [
      {"entity_id": "light.home_kitchen_ceiling", "name": null, "original_name": "Kitchen Ceiling", "area_id": "kitchen", "device_id": "d1", "platform": "hue"},
      {"entity_id": "lock.home_front_door_august_v2", "name": "Front Door", "area_id": null, "device_id": "d2", "platform": "august"},
      {"entity_id": "input_boolean.guest_mode", "name": "Guest Mode", "platform": "input_boolean"}
    ],
    "deleted_entities": []
  }
}`

const deviceJSON = `{"version": 1, "key": "core.device_registry", "data": {"devices": [
  {"id": "d1", "name": "Hue Bulb", "name_by_user": "Kitchen Bulb", "area_id": "kitchen"},
  {"id": "d2", "name": "August Lock", "area_id": "entry"}
]}}`

const areaJSON = `{"version": 1, "key": "core.area_registry", "data": {"areas": [
  {"id": "kitchen", "name": "Kitchen"},
  {"id": "entry", "name": "Entry"}
]}}`

func writeSnapshot(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestLoad(t *testing.T) {
	dir := writeSnapshot(t, map[string]string{
		EntityFile: entityJSON,
		DeviceFile: deviceJSON,
		AreaFile:   areaJSON,
	})

	ix, err := Load(dir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	e, ok := ix.Entity("light.home_kitchen_ceiling")
	if !ok {
		t.Fatal("light.home_kitchen_ceiling not indexed")
	}
	if e.Name != "Kitchen Ceiling" || e.Domain != "light" || e.AreaID != "kitchen" || e.DeviceID != "d1" {
		t.Errorf("entity = %+v", e)
	}
	if d, ok := ix.Device("d1"); !ok || d.Name != "Kitchen Bulb" {
		t.Errorf("device d1 = %+v, %v; want name Kitchen Bulb", d, ok)
	}
	if !ix.Has(PartitionArea, "entry") {
		t.Error("area entry not indexed")
	}
	if ix.Len(PartitionEntity) != 2 {
		t.Errorf("indexed entities = %d, want 2", ix.Len(PartitionEntity))
	}
	if ix.Skipped() != 1 {
		t.Errorf("skipped = %d, want 1 (input_boolean is not a validated domain)", ix.Skipped())
	}
	if len(ix.Caveats()) != 0 {
		t.Errorf("caveats = %v, want none", ix.Caveats())
	}
	if ix.ModTime().IsZero() {
		t.Error("ModTime is zero")
	}
}

func TestLoad_MissingDirectory(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent"))
	var se *finding.SnapshotError
	if !errors.As(err, &se) {
		t.Fatalf("Load error = %v, want *finding.SnapshotError", err)
	}
}

func TestLoad_MissingEntityRegistry(t *testing.T) {
	dir := writeSnapshot(t, map[string]string{AreaFile: areaJSON})
	_, err := Load(dir)
	var se *finding.SnapshotError
	if !errors.As(err, &se) {
		t.Fatalf("Load error = %v, want *finding.SnapshotError", err)
	}
}

func TestLoad_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "{entities"},
		{"wrong key", `{"version":1,"key":"core.area_registry","data":{"entities":[]}}`},
		{"duplicate id", `{"version":1,"data":{"entities":[{"entity_id":"light.a"},{"entity_id":"light.a"}]}}`},
		{"no domain", `{"version":1,"data":{"entities":[{"entity_id":"kitchen"}]}}`},
		{"domain mismatch", `{"version":1,"data":{"entities":[{"entity_id":"light.a","domain":"switch"}]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeSnapshot(t, map[string]string{EntityFile: tt.content})
			_, err := Load(dir)
			var se *finding.SnapshotError
			if !errors.As(err, &se) {
				t.Fatalf("Load error = %v, want *finding.SnapshotError", err)
			}
		})
	}
}

func TestLoad_OptionalRegistriesMissing(t *testing.T) {
	dir := writeSnapshot(t, map[string]string{EntityFile: entityJSON})
	ix, err := Load(dir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got := len(ix.Caveats()); got != 2 {
		t.Errorf("caveats = %d, want 2: %v", got, ix.Caveats())
	}
}

func TestSuggest(t *testing.T) {
	ix, err := New([]Entity{
		{ID: "lock.home_front_door_august_v2"},
		{ID: "lock.back_door"},
		{ID: "light.front_door"},
		{ID: "sensor.kitchen_temp"},
		{ID: "sensor.kitchen_temq"},
	}, []Device{{ID: "a1b2c3"}}, []Area{{ID: "living_room"}})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		p    Partition
		id   string
		want string
	}{
		{PartitionEntity, "lock.home_front_door_august", "lock.home_front_door_august_v2"},
		{PartitionEntity, "lock.bakc_door", "lock.back_door"},
		{PartitionEntity, "lock.front_door", ""}, // light.front_door is another domain
		{PartitionEntity, "sensor.kitchen_tem", "sensor.kitchen_temp"},
		{PartitionEntity, "sensor.garage_door", ""},
		{PartitionDevice, "a1b2c4", "a1b2c3"},
		{PartitionArea, "livingroom", "living_room"},
	}
	for _, tt := range tests {
		got, ok := ix.Suggest(tt.p, tt.id)
		if got != tt.want || ok != (tt.want != "") {
			t.Errorf("Suggest(%v, %q) = %q, %v; want %q", tt.p, tt.id, got, ok, tt.want)
		}
	}
}

func TestWriteLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	err := Write(dir,
		[]Entity{{ID: "light.porch", Name: "Porch", AreaID: "outside", DeviceID: "dev1"}},
		[]Device{{ID: "dev1", Name: "Porch Light", AreaID: "outside"}},
		[]Area{{ID: "outside", Name: "Outside"}},
	)
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}

	ix, err := Load(dir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	e, ok := ix.Entity("light.porch")
	if !ok || e.Name != "Porch" || e.DeviceID != "dev1" {
		t.Errorf("entity = %+v, %v", e, ok)
	}
	if !ix.Has(PartitionDevice, "dev1") || !ix.Has(PartitionArea, "outside") {
		t.Error("device or area lost in round trip")
	}
}

func TestStaleAgainst(t *testing.T) {
	dir := writeSnapshot(t, map[string]string{EntityFile: entityJSON})
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(filepath.Join(dir, EntityFile), old, old); err != nil {
		t.Fatal(err)
	}
	ix, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !ix.StaleAgainst(time.Now()) {
		t.Error("snapshot older than config should be stale")
	}
	if ix.StaleAgainst(old.Add(-time.Hour)) {
		t.Error("snapshot newer than config should not be stale")
	}
}

func TestIsEntityID(t *testing.T) {
	tests := map[string]bool{
		"light.kitchen":         true,
		"binary_sensor.door_1":  true,
		"alarm_control_panel.x": true,
		"fan.bedroom":           false,
		"light.Kitchen":         false,
		"light":                 false,
		"light.turn_on.extra":   false,
		"{{ states.light }}":    false,
	}
	for id, want := range tests {
		if got := IsEntityID(id); got != want {
			t.Errorf("IsEntityID(%q) = %v, want %v", id, got, want)
		}
	}
}
