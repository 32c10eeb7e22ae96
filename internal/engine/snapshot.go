package engine

import (
	"fmt"

	"entitycore/internal/codec"
	"entitycore/pkg/domain"
)

// Snapshot is the portable form of one environment's graph state. Property
// values are carried as codec payloads so snapshots survive custom value
// kinds without the persistence backends knowing about them. Blob payloads
// are not part of a snapshot; their durability belongs to the blob backend.
type Snapshot struct {
	Dir      string           `json:"dir"`
	Entities []SnapshotEntity `json:"entities"`
}

// SnapshotEntity is one stored entity with its ordered properties, links and
// blob references.
type SnapshotEntity struct {
	Type       string             `json:"type"`
	ID         string             `json:"id"`
	Properties []SnapshotProperty `json:"properties,omitempty"`
	Links      []SnapshotLink     `json:"links,omitempty"`
	Blobs      []SnapshotBlob     `json:"blobs,omitempty"`
}

// SnapshotProperty is one codec-encoded property value.
type SnapshotProperty struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Payload []byte `json:"payload"`
}

// SnapshotLink is one named link with its ordered targets.
type SnapshotLink struct {
	Name    string   `json:"name"`
	Targets []string `json:"targets"`
}

// SnapshotBlob is one blob reference. The payload stays in the blob backend
// under the same key the environment wrote it to.
type SnapshotBlob struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Multiple bool   `json:"multiple,omitempty"`
}

// ExportSnapshot captures the environment's current state. It takes the read
// lock, so it is safe to call concurrently with transactions.
func (e *Environment) ExportSnapshot(reg *codec.Registry) (*Snapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := &Snapshot{Dir: e.dir}
	for _, typ := range e.state.types {
		for _, id := range e.state.byType[typ] {
			rec := e.state.entities[id]
			ent, err := exportRecord(reg, rec)
			if err != nil {
				return nil, fmt.Errorf("export %s/%s: %w", typ, id, err)
			}
			snap.Entities = append(snap.Entities, ent)
		}
	}
	return snap, nil
}

func exportRecord(reg *codec.Registry, rec *record) (SnapshotEntity, error) {
	ent := SnapshotEntity{Type: rec.typ, ID: string(rec.id)}
	var encodeErr error
	rec.props.Range(func(name string, value any) bool {
		kind, payload, err := reg.EncodeValue(value)
		if err != nil {
			encodeErr = fmt.Errorf("property %q: %w", name, err)
			return false
		}
		ent.Properties = append(ent.Properties, SnapshotProperty{
			Name:    name,
			Kind:    string(kind),
			Payload: payload,
		})
		return true
	})
	if encodeErr != nil {
		return SnapshotEntity{}, encodeErr
	}
	for _, name := range rec.linkNames {
		link := SnapshotLink{Name: name}
		for _, target := range rec.links[name] {
			link.Targets = append(link.Targets, string(target))
		}
		ent.Links = append(ent.Links, link)
	}
	for _, name := range rec.blobNames {
		meta := rec.blobs[name]
		ent.Blobs = append(ent.Blobs, SnapshotBlob{
			Name:     name,
			Size:     meta.size,
			Multiple: meta.multiple,
		})
	}
	return ent, nil
}

// ImportSnapshot replaces the environment's state with the snapshot contents.
// Persistence wrappers call it once at open, before the environment serves
// transactions.
func (e *Environment) ImportSnapshot(reg *codec.Registry, snap *Snapshot) error {
	st := newState()
	for _, ent := range snap.Entities {
		rec, err := importRecord(reg, ent)
		if err != nil {
			return fmt.Errorf("import %s/%s: %w", ent.Type, ent.ID, err)
		}
		if _, exists := st.entities[rec.id]; exists {
			return fmt.Errorf("import %s/%s: duplicate entity id", ent.Type, ent.ID)
		}
		st.insert(rec)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = st
	return nil
}

func importRecord(reg *codec.Registry, ent SnapshotEntity) (*record, error) {
	rec := newRecord(ent.Type, domain.ID(ent.ID))
	for _, prop := range ent.Properties {
		value, err := reg.DecodeValue(domain.Kind(prop.Kind), prop.Payload)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", prop.Name, err)
		}
		if err := rec.props.Set(prop.Name, value); err != nil {
			return nil, fmt.Errorf("property %q: %w", prop.Name, err)
		}
	}
	for _, link := range ent.Links {
		for _, target := range link.Targets {
			rec.addLink(link.Name, domain.ID(target))
		}
	}
	for _, b := range ent.Blobs {
		rec.setBlob(b.Name, blobMeta{size: b.Size, multiple: b.Multiple})
	}
	return rec, nil
}
