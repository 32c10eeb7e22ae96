// Package search defines the index collaborator the facade feeds on entity
// save: a geo index keyed by entity position and a per-field text index. The
// store consumes it through the narrow Index interface; production
// deployments plug in an external search service, while the in-memory
// implementation backs tests and the default wiring.
package search

import (
	"context"
	"sort"
	"strings"
	"sync"

	"entitycore/internal/geo"
	"entitycore/pkg/domain"
)

// Index is the search collaborator contract. All methods are scoped to one
// storage directory; identifiers from different directories never mix.
type Index interface {
	// IndexGeo records or replaces the entity's position.
	IndexGeo(ctx context.Context, dir string, id domain.ID, lon, lat float64) error
	// IndexText records or replaces the entity's text under the field.
	IndexText(ctx context.Context, dir string, id domain.ID, field, text string) error
	// SearchNeighbor returns ids within radiusMeters of the point, nearest
	// first, skipping cursor entries and returning at most limit.
	SearchNeighbor(ctx context.Context, dir string, lon, lat, radiusMeters float64, cursor, limit int) ([]domain.ID, error)
	// Search returns ids whose indexed field contains the query as a
	// case-insensitive substring, in indexing order, cursor/limit paged.
	Search(ctx context.Context, dir, field, query string, cursor, limit int) ([]domain.ID, error)
	// Remove drops every index entry of the entity.
	Remove(ctx context.Context, dir string, id domain.ID) error
}

type geoEntry struct {
	id       domain.ID
	lon, lat float64
}

type textEntry struct {
	id   domain.ID
	text string
}

type memoryDir struct {
	geo       []geoEntry
	geoByID   map[domain.ID]int
	text      map[string][]textEntry
	textByID  map[string]map[domain.ID]int
	fieldList []string
}

// Memory is the in-memory Index implementation.
type Memory struct {
	mu   sync.RWMutex
	dirs map[string]*memoryDir
}

var _ Index = (*Memory)(nil)

// NewMemory returns an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{dirs: make(map[string]*memoryDir)}
}

func (m *Memory) dir(name string) *memoryDir {
	d, ok := m.dirs[name]
	if !ok {
		d = &memoryDir{
			geoByID:  make(map[domain.ID]int),
			text:     make(map[string][]textEntry),
			textByID: make(map[string]map[domain.ID]int),
		}
		m.dirs[name] = d
	}
	return d
}

// IndexGeo implements Index.
func (m *Memory) IndexGeo(_ context.Context, dir string, id domain.ID, lon, lat float64) error {
	if err := (domain.GeoPoint{Lon: lon, Lat: lat}).Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.dir(dir)
	if i, ok := d.geoByID[id]; ok {
		d.geo[i] = geoEntry{id: id, lon: lon, lat: lat}
		return nil
	}
	d.geoByID[id] = len(d.geo)
	d.geo = append(d.geo, geoEntry{id: id, lon: lon, lat: lat})
	return nil
}

// IndexText implements Index.
func (m *Memory) IndexText(_ context.Context, dir string, id domain.ID, field, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.dir(dir)
	byID, ok := d.textByID[field]
	if !ok {
		byID = make(map[domain.ID]int)
		d.textByID[field] = byID
		d.fieldList = append(d.fieldList, field)
	}
	if i, exists := byID[id]; exists {
		d.text[field][i] = textEntry{id: id, text: text}
		return nil
	}
	byID[id] = len(d.text[field])
	d.text[field] = append(d.text[field], textEntry{id: id, text: text})
	return nil
}

// SearchNeighbor implements Index using ellipsoidal distance, so results are
// exact rather than geohash-bucketed.
func (m *Memory) SearchNeighbor(_ context.Context, dir string, lon, lat, radiusMeters float64, cursor, limit int) ([]domain.ID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.dirs[dir]
	if !ok {
		return nil, nil
	}
	type hit struct {
		id       domain.ID
		distance float64
	}
	hits := make([]hit, 0, len(d.geo))
	for _, entry := range d.geo {
		dist := geo.Distance(lon, lat, entry.lon, entry.lat)
		if dist <= radiusMeters {
			hits = append(hits, hit{id: entry.id, distance: dist})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].distance < hits[j].distance })
	out := make([]domain.ID, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.id)
	}
	return page(out, cursor, limit), nil
}

// Search implements Index with case-insensitive substring matching.
func (m *Memory) Search(_ context.Context, dir, field, query string, cursor, limit int) ([]domain.ID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.dirs[dir]
	if !ok {
		return nil, nil
	}
	needle := strings.ToLower(query)
	var out []domain.ID
	for _, entry := range d.text[field] {
		if strings.Contains(strings.ToLower(entry.text), needle) {
			out = append(out, entry.id)
		}
	}
	return page(out, cursor, limit), nil
}

// Remove implements Index.
func (m *Memory) Remove(_ context.Context, dir string, id domain.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dirs[dir]
	if !ok {
		return nil
	}
	if i, exists := d.geoByID[id]; exists {
		d.geo = append(d.geo[:i], d.geo[i+1:]...)
		delete(d.geoByID, id)
		for j := i; j < len(d.geo); j++ {
			d.geoByID[d.geo[j].id] = j
		}
	}
	for _, field := range d.fieldList {
		byID := d.textByID[field]
		i, exists := byID[id]
		if !exists {
			continue
		}
		entries := d.text[field]
		d.text[field] = append(entries[:i], entries[i+1:]...)
		delete(byID, id)
		for j := i; j < len(d.text[field]); j++ {
			byID[d.text[field][j].id] = j
		}
	}
	return nil
}

func page(ids []domain.ID, cursor, limit int) []domain.ID {
	if cursor < 0 {
		cursor = 0
	}
	if cursor >= len(ids) {
		return nil
	}
	ids = ids[cursor:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	return append([]domain.ID(nil), ids...)
}
