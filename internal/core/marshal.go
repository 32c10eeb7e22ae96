package core

import (
	"strings"

	"entitycore/internal/engine"
	"entitycore/pkg/domain"
)

// marshalEntity converts a stored entity into its wire form. The reserved
// namespace property surfaces as the Namespace field, and companion geohash
// properties stay internal.
func marshalEntity(tx *engine.Txn, dir string, id domain.ID) *domain.Entity {
	typ, ok := tx.TypeOf(id)
	if !ok {
		return nil
	}
	out := &domain.Entity{
		Environment: dir,
		Type:        typ,
		ID:          id,
		Properties:  domain.NewPropertyMap(),
	}
	for _, name := range tx.PropertyNames(id) {
		v, found := tx.Property(id, name)
		if !found {
			continue
		}
		if name == domain.NamespaceProperty {
			if ns, isString := v.(string); isString {
				out.Namespace = ns
			}
			continue
		}
		// Hide only real companions: a user property that merely ends in the
		// suffix surfaces unless its base property holds a geo point.
		if base, isCompanion := strings.CutSuffix(name, geoHashSuffix); isCompanion && base != "" {
			if bv, found := tx.Property(id, base); found {
				if _, isPoint := bv.(domain.GeoPoint); isPoint {
					continue
				}
			}
		}
		// Set cannot fail here: names come from a stored map.
		_ = out.Properties.Set(name, v)
	}
	for _, name := range tx.BlobNames(id) {
		size, multiple, found := tx.BlobMeta(id, name)
		if !found {
			continue
		}
		out.Blobs = append(out.Blobs, domain.Blob{Name: name, Size: size, Multiple: multiple})
	}
	for _, name := range tx.LinkNames(id) {
		targets := tx.Links(id, name)
		if len(targets) == 0 {
			continue
		}
		if out.Links == nil {
			out.Links = make(map[string][]domain.Ref, len(targets))
		}
		refs := make([]domain.Ref, 0, len(targets))
		for _, target := range targets {
			targetType, _ := tx.TypeOf(target)
			refs = append(refs, domain.Ref{Type: targetType, ID: target})
		}
		out.Links[name] = refs
	}
	return out
}
