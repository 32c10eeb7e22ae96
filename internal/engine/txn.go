package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"entitycore/internal/blob"
	"entitycore/pkg/domain"
)

// Txn is one transaction against an environment. All lookups, set algebra
// inputs, and per-entity mutations of a single logical request execute on one
// Txn; the engine serializes writers per environment, so a Txn is never used
// concurrently.
type Txn struct {
	env      *Environment
	ctx      context.Context
	state    *state
	readOnly bool

	cacheOff   bool
	queryCache map[string]*Scope

	blobPuts map[string][]byte
	blobDels map[string]struct{}
}

func (tx *Txn) writable() error {
	if tx.readOnly {
		return fmt.Errorf("mutation inside read-only transaction")
	}
	return nil
}

// --- lookups -------------------------------------------------------------

// AllOfType returns every entity of the type in insertion order.
func (tx *Txn) AllOfType(typ string) *Scope {
	return NewScope(tx.state.byType[typ])
}

// FindByProperty returns entities of the type whose property equals value.
// Results are served from a per-transaction memo unless caching is disabled.
func (tx *Txn) FindByProperty(typ, name string, value any) *Scope {
	if n, err := domain.NormalizeValue(value); err == nil {
		value = n
	}
	// The memo key carries the value's concrete type: values of distinct
	// kinds can render identically ("1" and int64(1)) and must not collide.
	key := fmt.Sprintf("eq\x00%s\x00%s\x00%T\x00%v", typ, name, value, value)
	if cached, ok := tx.cachedScope(key); ok {
		return cached
	}
	scope := tx.scanType(typ, func(rec *record) bool {
		v, ok := rec.props.Get(name)
		return ok && domain.ValuesEqual(v, value)
	})
	tx.cacheScope(key, scope)
	return scope
}

// FindByPropertyRange returns entities whose property falls inside the closed
// [min,max] range. Values that do not compare with the bounds are excluded.
func (tx *Txn) FindByPropertyRange(typ, name string, minVal, maxVal any) *Scope {
	return tx.scanType(typ, func(rec *record) bool {
		v, ok := rec.props.Get(name)
		if !ok {
			return false
		}
		lo, err := domain.CompareValues(v, minVal)
		if err != nil {
			return false
		}
		hi, err := domain.CompareValues(v, maxVal)
		if err != nil {
			return false
		}
		return lo >= 0 && hi <= 0
	})
}

// FindByPropertyPrefix returns entities whose string property starts with
// prefix. Non-string values never match.
func (tx *Txn) FindByPropertyPrefix(typ, name, prefix string) *Scope {
	return tx.scanType(typ, func(rec *record) bool {
		v, ok := rec.props.Get(name)
		if !ok {
			return false
		}
		s, isString := v.(string)
		return isString && strings.HasPrefix(s, prefix)
	})
}

// FindWithProperty returns entities that carry the named property at all.
func (tx *Txn) FindWithProperty(typ, name string) *Scope {
	return tx.scanType(typ, func(rec *record) bool {
		_, ok := rec.props.Get(name)
		return ok
	})
}

// FindByBlob returns entities that carry the named blob.
func (tx *Txn) FindByBlob(typ, blobName string) *Scope {
	return tx.scanType(typ, func(rec *record) bool {
		_, ok := rec.blobs[blobName]
		return ok
	})
}

func (tx *Txn) scanType(typ string, match func(*record) bool) *Scope {
	ids := tx.state.byType[typ]
	out := make([]domain.ID, 0, len(ids))
	for _, id := range ids {
		rec := tx.state.entities[id]
		if rec != nil && match(rec) {
			out = append(out, id)
		}
	}
	return NewScope(out)
}

// Exists reports whether an entity id resolves.
func (tx *Txn) Exists(id domain.ID) bool {
	_, ok := tx.state.entities[id]
	return ok
}

// TypeOf returns the entity type of id.
func (tx *Txn) TypeOf(id domain.ID) (string, bool) {
	rec, ok := tx.state.entities[id]
	if !ok {
		return "", false
	}
	return rec.typ, true
}

// EntityTypes returns every known type in registration order.
func (tx *Txn) EntityTypes() []string {
	return append([]string(nil), tx.state.types...)
}

// CountOfType returns the number of entities of the type.
func (tx *Txn) CountOfType(typ string) int64 {
	return int64(len(tx.state.byType[typ]))
}

// --- cache toggle --------------------------------------------------------

// DisableCache suspends the per-transaction query memo. An exact proximity
// scan disables it so a one-off full scan does not pollute the memo.
func (tx *Txn) DisableCache() {
	tx.cacheOff = true
}

// EnableCache re-enables the query memo.
func (tx *Txn) EnableCache() {
	tx.cacheOff = false
}

func (tx *Txn) cachedScope(key string) (*Scope, bool) {
	if tx.cacheOff || tx.queryCache == nil {
		return nil, false
	}
	s, ok := tx.queryCache[key]
	return s, ok
}

func (tx *Txn) cacheScope(key string, s *Scope) {
	if tx.cacheOff {
		return
	}
	if tx.queryCache == nil {
		tx.queryCache = make(map[string]*Scope)
	}
	tx.queryCache[key] = s
}

func (tx *Txn) invalidateCache() {
	tx.queryCache = nil
}

// --- entity lifecycle ----------------------------------------------------

// NewEntity creates a fresh entity of the type and returns its id.
func (tx *Txn) NewEntity(typ string) (domain.ID, error) {
	if err := tx.writable(); err != nil {
		return "", err
	}
	if typ == "" {
		return "", domain.ErrInvalidRequest
	}
	id := domain.NewID()
	tx.state.insert(newRecord(typ, id))
	tx.invalidateCache()
	return id, nil
}

// DeleteEntity removes the record itself. Link consistency and blob cleanup
// are the caller's responsibility; the pipeline performs the full referrer
// sweep before calling this.
func (tx *Txn) DeleteEntity(id domain.ID) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if _, ok := tx.state.entities[id]; !ok {
		return domain.ErrNotFound{ID: id}
	}
	tx.state.remove(id)
	tx.invalidateCache()
	return nil
}

// DropEntityType removes the type registration once its entities are gone.
func (tx *Txn) DropEntityType(typ string) error {
	if err := tx.writable(); err != nil {
		return err
	}
	tx.state.dropType(typ)
	tx.invalidateCache()
	return nil
}

// --- properties ----------------------------------------------------------

// Property returns a property value of the entity.
func (tx *Txn) Property(id domain.ID, name string) (any, bool) {
	rec, ok := tx.state.entities[id]
	if !ok {
		return nil, false
	}
	return rec.props.Get(name)
}

// SetProperty writes a property value.
func (tx *Txn) SetProperty(id domain.ID, name string, value any) error {
	if err := tx.writable(); err != nil {
		return err
	}
	rec, ok := tx.state.entities[id]
	if !ok {
		return domain.ErrNotFound{ID: id}
	}
	if err := rec.props.Set(name, value); err != nil {
		return err
	}
	tx.invalidateCache()
	return nil
}

// DeleteProperty removes a property. Absent names are a no-op.
func (tx *Txn) DeleteProperty(id domain.ID, name string) error {
	if err := tx.writable(); err != nil {
		return err
	}
	rec, ok := tx.state.entities[id]
	if !ok {
		return domain.ErrNotFound{ID: id}
	}
	rec.props.Delete(name)
	tx.invalidateCache()
	return nil
}

// PropertyNames returns property names in insertion order.
func (tx *Txn) PropertyNames(id domain.ID) []string {
	rec, ok := tx.state.entities[id]
	if !ok {
		return nil
	}
	return rec.props.Keys()
}

// Properties returns a deep copy of the entity's property map.
func (tx *Txn) Properties(id domain.ID) *domain.PropertyMap {
	rec, ok := tx.state.entities[id]
	if !ok {
		return nil
	}
	return rec.props.Clone()
}

// --- links ---------------------------------------------------------------

// Links returns the targets stored under the named link in insertion order.
func (tx *Txn) Links(id domain.ID, name string) []domain.ID {
	rec, ok := tx.state.entities[id]
	if !ok {
		return nil
	}
	return append([]domain.ID(nil), rec.links[name]...)
}

// LinkNames returns the entity's link names in insertion order.
func (tx *Txn) LinkNames(id domain.ID) []string {
	rec, ok := tx.state.entities[id]
	if !ok {
		return nil
	}
	return append([]string(nil), rec.linkNames...)
}

// AddLink links id to target under name. Duplicate targets collapse.
func (tx *Txn) AddLink(id domain.ID, name string, target domain.ID) error {
	if err := tx.writable(); err != nil {
		return err
	}
	rec, ok := tx.state.entities[id]
	if !ok {
		return domain.ErrNotFound{ID: id}
	}
	if _, ok := tx.state.entities[target]; !ok {
		return domain.ErrNotFound{ID: target}
	}
	rec.addLink(name, target)
	return nil
}

// DeleteLink removes every target under the named link.
func (tx *Txn) DeleteLink(id domain.ID, name string) error {
	if err := tx.writable(); err != nil {
		return err
	}
	rec, ok := tx.state.entities[id]
	if !ok {
		return domain.ErrNotFound{ID: id}
	}
	rec.dropLink(name)
	return nil
}

// DeleteLinkTarget removes one target from the named link.
func (tx *Txn) DeleteLinkTarget(id domain.ID, name string, target domain.ID) error {
	if err := tx.writable(); err != nil {
		return err
	}
	rec, ok := tx.state.entities[id]
	if !ok {
		return domain.ErrNotFound{ID: id}
	}
	rec.removeLinkTarget(name, target)
	return nil
}

// --- blobs ---------------------------------------------------------------

// SetBlob stores a blob payload under the name, replacing any previous one.
// The payload is buffered until commit; an aborted transaction writes nothing
// to the blob backend.
func (tx *Txn) SetBlob(id domain.ID, name string, data []byte, multiple bool) error {
	if err := tx.writable(); err != nil {
		return err
	}
	rec, ok := tx.state.entities[id]
	if !ok {
		return domain.ErrNotFound{ID: id}
	}
	rec.setBlob(name, blobMeta{size: int64(len(data)), multiple: multiple})
	key := blobKey(tx.env.dir, rec.typ, id, name)
	delete(tx.blobDels, key)
	tx.blobPuts[key] = append([]byte(nil), data...)
	return nil
}

// Blob returns a blob payload, consulting the transaction's buffered writes
// before the backend.
func (tx *Txn) Blob(id domain.ID, name string) ([]byte, error) {
	rec, ok := tx.state.entities[id]
	if !ok {
		return nil, domain.ErrNotFound{ID: id}
	}
	if _, ok := rec.blobs[name]; !ok {
		return nil, fmt.Errorf("blob %q not found on entity %s", name, id)
	}
	key := blobKey(tx.env.dir, rec.typ, id, name)
	if data, buffered := tx.blobPuts[key]; buffered {
		return append([]byte(nil), data...), nil
	}
	_, rc, err := tx.env.blobs.Get(tx.ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read blob %q: %w", name, err)
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}

// HasBlob reports blob presence by name.
func (tx *Txn) HasBlob(id domain.ID, name string) bool {
	rec, ok := tx.state.entities[id]
	if !ok {
		return false
	}
	_, ok = rec.blobs[name]
	return ok
}

// BlobNames returns blob names in insertion order.
func (tx *Txn) BlobNames(id domain.ID) []string {
	rec, ok := tx.state.entities[id]
	if !ok {
		return nil
	}
	return append([]string(nil), rec.blobNames...)
}

// BlobMeta returns the stored size and multiplicity flag.
func (tx *Txn) BlobMeta(id domain.ID, name string) (size int64, multiple bool, ok bool) {
	rec, found := tx.state.entities[id]
	if !found {
		return 0, false, false
	}
	meta, found := rec.blobs[name]
	if !found {
		return 0, false, false
	}
	return meta.size, meta.multiple, true
}

// DeleteBlob removes the named blob and schedules backend deletion at commit.
func (tx *Txn) DeleteBlob(id domain.ID, name string) error {
	if err := tx.writable(); err != nil {
		return err
	}
	rec, ok := tx.state.entities[id]
	if !ok {
		return domain.ErrNotFound{ID: id}
	}
	if _, ok := rec.blobs[name]; !ok {
		return nil
	}
	rec.dropBlob(name)
	key := blobKey(tx.env.dir, rec.typ, id, name)
	delete(tx.blobPuts, key)
	tx.blobDels[key] = struct{}{}
	return nil
}

// RenameBlob moves a payload to a new name within the same entity.
func (tx *Txn) RenameBlob(id domain.ID, from, to string) error {
	if err := tx.writable(); err != nil {
		return err
	}
	rec, ok := tx.state.entities[id]
	if !ok {
		return domain.ErrNotFound{ID: id}
	}
	meta, ok := rec.blobs[from]
	if !ok {
		return fmt.Errorf("blob %q not found on entity %s", from, id)
	}
	data, err := tx.Blob(id, from)
	if err != nil {
		return err
	}
	if err := tx.DeleteBlob(id, from); err != nil {
		return err
	}
	return tx.SetBlob(id, to, data, meta.multiple)
}

// flushBlobs writes buffered payloads to the backend. Puts run first so a
// mid-flush failure can be compensated by deleting the keys written so far;
// irreversible deletions run only once every put stuck.
func (tx *Txn) flushBlobs(ctx context.Context) error {
	var written []string
	for key, data := range tx.blobPuts {
		// Replace semantics: rewrites of an existing key delete first.
		if _, err := tx.env.blobs.Delete(ctx, key); err != nil {
			tx.unflush(ctx, written)
			return fmt.Errorf("replace blob %s: %w", key, err)
		}
		if _, err := tx.env.blobs.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{}); err != nil {
			tx.unflush(ctx, written)
			return fmt.Errorf("write blob %s: %w", key, err)
		}
		written = append(written, key)
	}
	for key := range tx.blobDels {
		if _, err := tx.env.blobs.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete blob %s: %w", key, err)
		}
	}
	return nil
}

func (tx *Txn) unflush(ctx context.Context, keys []string) {
	for _, key := range keys {
		_, _ = tx.env.blobs.Delete(ctx, key)
	}
}
