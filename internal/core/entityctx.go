package core

import (
	"fmt"
	"strings"

	"github.com/mmcloughlin/geohash"

	"entitycore/internal/engine"
	"entitycore/pkg/domain"
)

// entityCtx is the live handle for the single entity being mutated during one
// save. It is constructed when the transaction opens, threaded through the
// condition checks and action dispatch, and discarded at commit or abort.
type entityCtx struct {
	tx      *engine.Txn
	typ     string
	id      domain.ID
	created bool
	// indexed collects property names a property-index action touched, so the
	// facade can feed the text index after commit.
	indexed map[string]struct{}
}

var _ domain.EntityHandle = (*entityCtx)(nil)

func newEntityCtx(tx *engine.Txn, typ string, id domain.ID, created bool) *entityCtx {
	return &entityCtx{tx: tx, typ: typ, id: id, created: created, indexed: make(map[string]struct{})}
}

func (e *entityCtx) Type() string { return e.typ }

func (e *entityCtx) ID() domain.ID { return e.id }

func (e *entityCtx) Property(name string) (any, bool) {
	return e.tx.Property(e.id, name)
}

func (e *entityCtx) SetProperty(name string, value any) error {
	normalized, err := domain.NormalizeValue(value)
	if err != nil {
		return fmt.Errorf("property %q: %w", name, err)
	}
	if err := e.tx.SetProperty(e.id, name, normalized); err != nil {
		return err
	}
	return e.syncGeoHash(name, normalized)
}

func (e *entityCtx) DeleteProperty(name string) error {
	if err := e.tx.DeleteProperty(e.id, name); err != nil {
		return err
	}
	return e.tx.DeleteProperty(e.id, geoHashProperty(name))
}

// syncGeoHash maintains the companion geohash property next to a geo point
// write, whichever path performed it (the bulk write, a property copy, a
// custom mutator). Non-point writes drop a stale companion.
func (e *entityCtx) syncGeoHash(name string, value any) error {
	if strings.HasSuffix(name, geoHashSuffix) {
		return nil
	}
	point, ok := value.(domain.GeoPoint)
	if !ok {
		return e.tx.DeleteProperty(e.id, geoHashProperty(name))
	}
	if err := point.Validate(); err != nil {
		return fmt.Errorf("property %q: %w", name, err)
	}
	return e.tx.SetProperty(e.id, geoHashProperty(name), geohash.Encode(point.Lat, point.Lon))
}

func (e *entityCtx) Links(name string) []domain.ID {
	return e.tx.Links(e.id, name)
}

func (e *entityCtx) HasBlob(name string) bool {
	return e.tx.HasBlob(e.id, name)
}

func (e *entityCtx) markIndexed(name string) {
	e.indexed[name] = struct{}{}
}
