package engine

import (
	"entitycore/pkg/domain"
)

// record is the stored form of one entity: typed properties in insertion
// order, named links in insertion order, and blob references whose payloads
// live in the environment's blob store.
type record struct {
	id        domain.ID
	typ       string
	props     *domain.PropertyMap
	linkNames []string
	links     map[string][]domain.ID
	blobNames []string
	blobs     map[string]blobMeta
}

type blobMeta struct {
	size     int64
	multiple bool
}

func newRecord(typ string, id domain.ID) *record {
	return &record{
		id:    id,
		typ:   typ,
		props: domain.NewPropertyMap(),
		links: make(map[string][]domain.ID),
		blobs: make(map[string]blobMeta),
	}
}

func (r *record) clone() *record {
	cp := &record{
		id:    r.id,
		typ:   r.typ,
		props: r.props.Clone(),
		links: make(map[string][]domain.ID, len(r.links)),
		blobs: make(map[string]blobMeta, len(r.blobs)),
	}
	cp.linkNames = append([]string(nil), r.linkNames...)
	for name, targets := range r.links {
		cp.links[name] = append([]domain.ID(nil), targets...)
	}
	cp.blobNames = append([]string(nil), r.blobNames...)
	for name, meta := range r.blobs {
		cp.blobs[name] = meta
	}
	return cp
}

func (r *record) addLink(name string, target domain.ID) {
	targets, exists := r.links[name]
	if !exists {
		r.linkNames = append(r.linkNames, name)
	}
	for _, t := range targets {
		if t == target {
			return // links are a set per name
		}
	}
	r.links[name] = append(targets, target)
}

func (r *record) removeLinkTarget(name string, target domain.ID) {
	targets, exists := r.links[name]
	if !exists {
		return
	}
	out := targets[:0]
	for _, t := range targets {
		if t != target {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		r.dropLink(name)
		return
	}
	r.links[name] = out
}

func (r *record) dropLink(name string) {
	if _, exists := r.links[name]; !exists {
		return
	}
	delete(r.links, name)
	for i, n := range r.linkNames {
		if n == name {
			r.linkNames = append(r.linkNames[:i], r.linkNames[i+1:]...)
			break
		}
	}
}

func (r *record) setBlob(name string, meta blobMeta) {
	if _, exists := r.blobs[name]; !exists {
		r.blobNames = append(r.blobNames, name)
	}
	r.blobs[name] = meta
}

func (r *record) dropBlob(name string) {
	if _, exists := r.blobs[name]; !exists {
		return
	}
	delete(r.blobs, name)
	for i, n := range r.blobNames {
		if n == name {
			r.blobNames = append(r.blobNames[:i], r.blobNames[i+1:]...)
			break
		}
	}
}

// state holds every record of one environment plus per-type insertion order.
type state struct {
	entities map[domain.ID]*record
	types    []string
	byType   map[string][]domain.ID
}

func newState() *state {
	return &state{
		entities: make(map[domain.ID]*record),
		byType:   make(map[string][]domain.ID),
	}
}

func (s *state) clone() *state {
	cp := newState()
	for id, rec := range s.entities {
		cp.entities[id] = rec.clone()
	}
	cp.types = append([]string(nil), s.types...)
	for typ, ids := range s.byType {
		cp.byType[typ] = append([]domain.ID(nil), ids...)
	}
	return cp
}

func (s *state) registerType(typ string) {
	if _, exists := s.byType[typ]; exists {
		return
	}
	s.types = append(s.types, typ)
	s.byType[typ] = nil
}

func (s *state) insert(rec *record) {
	s.registerType(rec.typ)
	s.entities[rec.id] = rec
	s.byType[rec.typ] = append(s.byType[rec.typ], rec.id)
}

func (s *state) remove(id domain.ID) {
	rec, ok := s.entities[id]
	if !ok {
		return
	}
	delete(s.entities, id)
	ids := s.byType[rec.typ]
	for i, candidate := range ids {
		if candidate == id {
			s.byType[rec.typ] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
}

func (s *state) dropType(typ string) {
	if _, exists := s.byType[typ]; !exists {
		return
	}
	delete(s.byType, typ)
	for i, t := range s.types {
		if t == typ {
			s.types = append(s.types[:i], s.types[i+1:]...)
			break
		}
	}
}
