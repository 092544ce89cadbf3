// Package registry reads a point-in-time dump of the platform's entity,
// device and area registries into a read-only index.
//
// The dump is the platform's own .storage directory (as pulled alongside
// the configuration, or exported by "haconf snapshot pull"). An Index is
// built once per validation run and passed explicitly to every consumer;
// it is never mutated after construction.
package registry

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Partition selects one of the id spaces held by an Index.
type Partition int

const (
	PartitionEntity Partition = iota
	PartitionDevice
	PartitionArea
)

func (p Partition) String() string {
	switch p {
	case PartitionDevice:
		return "device"
	case PartitionArea:
		return "area"
	default:
		return "entity"
	}
}

// Entity is one row of the entity registry.
type Entity struct {
	ID       string // domain-qualified, e.g. "light.kitchen_ceiling"
	Name     string // friendly name, may be empty
	Domain   string // derived from ID
	AreaID   string // optional
	DeviceID string // optional
}

// Device is one row of the device registry.
type Device struct {
	ID     string
	Name   string
	AreaID string
}

// Area is one row of the area registry.
type Area struct {
	ID   string
	Name string
}

// Index is the in-memory view of a registry snapshot. The zero value is
// not usable; build one with Load or New.
type Index struct {
	dir      string
	modTime  time.Time
	entities map[string]Entity
	devices  map[string]Device
	areas    map[string]Area
	ids      [3][]string // sorted ids per partition, for suggestions
	caveats  []string
	skipped  int
}

// New builds an Index from records. It enforces the snapshot invariants:
// entity ids are unique, well-formed, and agree with their domain.
// Entities in domains outside [Domains] are counted but not indexed.
func New(entities []Entity, devices []Device, areas []Area) (*Index, error) {
	ix := &Index{
		entities: make(map[string]Entity, len(entities)),
		devices:  make(map[string]Device, len(devices)),
		areas:    make(map[string]Area, len(areas)),
	}

	for _, e := range entities {
		domain, _, ok := SplitEntityID(e.ID)
		if !ok {
			return nil, fmt.Errorf("malformed entity id %q", e.ID)
		}
		if e.Domain != "" && e.Domain != domain {
			return nil, fmt.Errorf("entity %q records domain %q, id implies %q", e.ID, e.Domain, domain)
		}
		if !IsDomain(domain) {
			ix.skipped++
			continue
		}
		if _, dup := ix.entities[e.ID]; dup {
			return nil, fmt.Errorf("duplicate entity id %q", e.ID)
		}
		e.Domain = domain
		ix.entities[e.ID] = e
	}
	for _, d := range devices {
		if d.ID == "" {
			return nil, fmt.Errorf("device without id")
		}
		if _, dup := ix.devices[d.ID]; dup {
			return nil, fmt.Errorf("duplicate device id %q", d.ID)
		}
		ix.devices[d.ID] = d
	}
	for _, a := range areas {
		if a.ID == "" {
			return nil, fmt.Errorf("area without id")
		}
		if _, dup := ix.areas[a.ID]; dup {
			return nil, fmt.Errorf("duplicate area id %q", a.ID)
		}
		ix.areas[a.ID] = a
	}

	ix.ids[PartitionEntity] = sortedKeys(ix.entities)
	ix.ids[PartitionDevice] = sortedKeys(ix.devices)
	ix.ids[PartitionArea] = sortedKeys(ix.areas)
	return ix, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Entity looks up an entity by id.
func (ix *Index) Entity(id string) (Entity, bool) {
	e, ok := ix.entities[id]
	return e, ok
}

// Device looks up a device by id.
func (ix *Index) Device(id string) (Device, bool) {
	d, ok := ix.devices[id]
	return d, ok
}

// Area looks up an area by id.
func (ix *Index) Area(id string) (Area, bool) {
	a, ok := ix.areas[id]
	return a, ok
}

// Has reports whether id exists in partition p.
func (ix *Index) Has(p Partition, id string) bool {
	switch p {
	case PartitionDevice:
		_, ok := ix.devices[id]
		return ok
	case PartitionArea:
		_, ok := ix.areas[id]
		return ok
	default:
		_, ok := ix.entities[id]
		return ok
	}
}

// Len returns the number of records in partition p.
func (ix *Index) Len(p Partition) int {
	return len(ix.ids[p])
}

// Entities returns all indexed entities ordered by id.
func (ix *Index) Entities() []Entity {
	out := make([]Entity, 0, len(ix.entities))
	for _, id := range ix.ids[PartitionEntity] {
		out = append(out, ix.entities[id])
	}
	return out
}

// Skipped returns the number of entities ignored because their domain is
// not in [Domains].
func (ix *Index) Skipped() int {
	return ix.skipped
}

// Dir is the snapshot directory the index was loaded from, if any.
func (ix *Index) Dir() string {
	return ix.dir
}

// ModTime is when the snapshot was taken (the newest registry file).
func (ix *Index) ModTime() time.Time {
	return ix.modTime
}

// Caveats lists non-fatal observations made while loading, such as a
// missing optional registry file.
func (ix *Index) Caveats() []string {
	return slices.Clone(ix.caveats)
}

// StaleAgainst reports whether the snapshot predates t. A stale snapshot
// is a caveat, never an error.
func (ix *Index) StaleAgainst(t time.Time) bool {
	return !ix.modTime.IsZero() && ix.modTime.Before(t)
}

// MaxSuggestDistance is the largest edit distance at which Suggest offers
// an existing id.
const MaxSuggestDistance = 2

// Suggest returns the existing id in partition p closest to id, provided
// it is within [MaxSuggestDistance] edits. Underscores are not counted as
// edits, so "lock.front_door" reaches "lock.front_door_v2". Ties go to
// the lexically smallest id. Entity suggestions stay within the same
// domain.
func (ix *Index) Suggest(p Partition, id string) (string, bool) {
	domain := ""
	if p == PartitionEntity {
		domain, _, _ = SplitEntityID(id)
	}
	want := squash(id)

	best, bestDist := "", MaxSuggestDistance+1
	for _, cand := range ix.ids[p] {
		if cand == id {
			continue
		}
		if domain != "" && !strings.HasPrefix(cand, domain+".") {
			continue
		}
		got := squash(cand)
		if abs(len(got)-len(want)) >= bestDist {
			continue
		}
		if d := levenshtein(want, got, bestDist); d < bestDist {
			best, bestDist = cand, d
		}
	}
	return best, best != ""
}

func squash(id string) string {
	return strings.ReplaceAll(id, "_", "")
}

// levenshtein returns the edit distance between a and b, or limit when it
// is known to be at least limit.
func levenshtein(a, b string, limit int) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		rowMin := curr[0]
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
			rowMin = min(rowMin, curr[j])
		}
		if rowMin >= limit {
			return limit
		}
		prev, curr = curr, prev
	}
	return min(prev[len(rb)], limit)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
