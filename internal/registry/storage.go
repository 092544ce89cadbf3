package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/nugget/haconf/internal/finding"
)

// Registry file names inside a snapshot directory. These match the
// platform's own .storage layout.
const (
	EntityFile = "core.entity_registry"
	DeviceFile = "core.device_registry"
	AreaFile   = "core.area_registry"
)

// storeVersion is the envelope version written by Write.
const storeVersion = 1

// envelope is the platform's storage wrapper around every registry.
type envelope[T any] struct {
	Version      int    `json:"version"`
	MinorVersion int    `json:"minor_version,omitempty"`
	Key          string `json:"key"`
	Data         T      `json:"data"`
}

type entityData struct {
	Entities []storedEntity `json:"entities"`
}

type storedEntity struct {
	EntityID     string `json:"entity_id"`
	Name         string `json:"name,omitempty"`
	OriginalName string `json:"original_name,omitempty"`
	Domain       string `json:"domain,omitempty"`
	AreaID       string `json:"area_id,omitempty"`
	DeviceID     string `json:"device_id,omitempty"`
	Platform     string `json:"platform,omitempty"`
}

type deviceData struct {
	Devices []storedDevice `json:"devices"`
}

type storedDevice struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	NameByUser string `json:"name_by_user,omitempty"`
	AreaID     string `json:"area_id,omitempty"`
}

type areaData struct {
	Areas []storedArea `json:"areas"`
}

type storedArea struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Load reads a snapshot directory into an Index. The entity registry is
// required; the device and area registries are optional and their
// absence is recorded as a caveat. Any other problem yields a
// *finding.SnapshotError.
func Load(dir string) (*Index, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &finding.SnapshotError{Dir: dir, Msg: "directory not found"}
		}
		return nil, &finding.SnapshotError{Dir: dir, Msg: "cannot access directory", Err: err}
	}
	if !info.IsDir() {
		return nil, &finding.SnapshotError{Dir: dir, Msg: "not a directory"}
	}

	var (
		newest  time.Time
		caveats []string
	)

	var ents envelope[entityData]
	mod, found, err := readStore(filepath.Join(dir, EntityFile), EntityFile, &ents)
	if err != nil {
		return nil, &finding.SnapshotError{Dir: dir, Msg: EntityFile + " is malformed", Err: err}
	}
	if !found {
		return nil, &finding.SnapshotError{Dir: dir, Msg: EntityFile + " not found"}
	}
	newest = mod

	var devs envelope[deviceData]
	mod, found, err = readStore(filepath.Join(dir, DeviceFile), DeviceFile, &devs)
	if err != nil {
		return nil, &finding.SnapshotError{Dir: dir, Msg: DeviceFile + " is malformed", Err: err}
	}
	if !found {
		caveats = append(caveats, fmt.Sprintf("%s missing from snapshot; device references cannot be resolved", DeviceFile))
	} else if mod.After(newest) {
		newest = mod
	}

	var areas envelope[areaData]
	mod, found, err = readStore(filepath.Join(dir, AreaFile), AreaFile, &areas)
	if err != nil {
		return nil, &finding.SnapshotError{Dir: dir, Msg: AreaFile + " is malformed", Err: err}
	}
	if !found {
		caveats = append(caveats, fmt.Sprintf("%s missing from snapshot; area references cannot be resolved", AreaFile))
	} else if mod.After(newest) {
		newest = mod
	}

	entities := make([]Entity, 0, len(ents.Data.Entities))
	for _, e := range ents.Data.Entities {
		name := e.Name
		if name == "" {
			name = e.OriginalName
		}
		entities = append(entities, Entity{
			ID:       e.EntityID,
			Name:     name,
			Domain:   e.Domain,
			AreaID:   e.AreaID,
			DeviceID: e.DeviceID,
		})
	}
	devices := make([]Device, 0, len(devs.Data.Devices))
	for _, d := range devs.Data.Devices {
		name := d.NameByUser
		if name == "" {
			name = d.Name
		}
		devices = append(devices, Device{ID: d.ID, Name: name, AreaID: d.AreaID})
	}
	areaRecs := make([]Area, 0, len(areas.Data.Areas))
	for _, a := range areas.Data.Areas {
		areaRecs = append(areaRecs, Area{ID: a.ID, Name: a.Name})
	}

	ix, err := New(entities, devices, areaRecs)
	if err != nil {
		return nil, &finding.SnapshotError{Dir: dir, Msg: "invalid registry contents", Err: err}
	}
	ix.dir = dir
	ix.modTime = newest
	ix.caveats = caveats
	return ix, nil
}

// readStore decodes one registry file. found is false when the file does
// not exist.
func readStore[T any](path, key string, into *envelope[T]) (mod time.Time, found bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	if err := json.Unmarshal(data, into); err != nil {
		return time.Time{}, true, fmt.Errorf("decode: %w", err)
	}
	if into.Key != "" && into.Key != key {
		return time.Time{}, true, fmt.Errorf("storage key %q, want %q", into.Key, key)
	}
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, true, err
	}
	return info.ModTime(), true, nil
}

// Write stores records in dir using the platform's .storage layout, so
// that Load can read them back. Files are replaced atomically.
func Write(dir string, entities []Entity, devices []Device, areas []Area) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	ed := entityData{Entities: make([]storedEntity, 0, len(entities))}
	for _, e := range entities {
		ed.Entities = append(ed.Entities, storedEntity{
			EntityID: e.ID,
			Name:     e.Name,
			AreaID:   e.AreaID,
			DeviceID: e.DeviceID,
		})
	}
	dd := deviceData{Devices: make([]storedDevice, 0, len(devices))}
	for _, d := range devices {
		dd.Devices = append(dd.Devices, storedDevice{ID: d.ID, Name: d.Name, AreaID: d.AreaID})
	}
	ad := areaData{Areas: make([]storedArea, 0, len(areas))}
	for _, a := range areas {
		ad.Areas = append(ad.Areas, storedArea{ID: a.ID, Name: a.Name})
	}

	if err := writeStore(dir, EntityFile, ed); err != nil {
		return err
	}
	if err := writeStore(dir, DeviceFile, dd); err != nil {
		return err
	}
	return writeStore(dir, AreaFile, ad)
}

func writeStore[T any](dir, key string, data T) error {
	b, err := json.MarshalIndent(envelope[T]{Version: storeVersion, Key: key, Data: data}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	tmp, err := os.CreateTemp(dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
