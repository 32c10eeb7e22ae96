package core

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/mmcloughlin/geohash"

	"entitycore/internal/engine"
	"entitycore/internal/search"
	"entitycore/pkg/domain"
)

// DefaultEnvironment is the storage directory used when a request does not
// name one.
const DefaultEnvironment = "default"

// EntityStore is the facade over the embedded engine: entity CRUD, the link
// graph, blob storage, and the condition/action pipeline, bound to
// per-directory transactions.
type EntityStore struct {
	envs    *engine.Manager
	index   search.Index
	metrics MetricsRecorder
	tracer  Tracer
}

// Option configures an EntityStore.
type Option func(*EntityStore)

// WithSearchIndex attaches the search collaborator fed on entity save and
// drained on removal.
func WithSearchIndex(idx search.Index) Option {
	return func(s *EntityStore) { s.index = idx }
}

// WithMetrics attaches a metrics recorder observed once per facade operation.
func WithMetrics(rec MetricsRecorder) Option {
	return func(s *EntityStore) { s.metrics = rec }
}

// WithTracer attaches a tracer spanning each facade operation.
func WithTracer(tr Tracer) Option {
	return func(s *EntityStore) { s.tracer = tr }
}

// NewEntityStore builds the facade over an environment manager.
func NewEntityStore(envs *engine.Manager, opts ...Option) *EntityStore {
	s := &EntityStore{envs: envs}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes every open environment.
func (s *EntityStore) Close() error {
	return s.envs.Close()
}

func resolveDir(e *domain.Entity) string {
	if e == nil || e.Environment == "" {
		return DefaultEnvironment
	}
	return e.Environment
}

// pipeline carries the per-transaction state of one save or removal group.
type pipeline struct {
	store *EntityStore
	tx    *engine.Txn
	dir   string
	saved []indexFeed
}

// indexFeed is what one committed entity contributes to the search index.
type indexFeed struct {
	id   domain.ID
	geo  map[string]domain.GeoPoint
	text map[string]string
}

// saveOne runs the full pipeline for one entity: build the entity in context,
// scope it, check preconditions, apply actions, then the bulk blob and
// property writes. The bulk writes come last since actions may touch the very
// blobs and properties about to be overwritten.
func (p *pipeline) saveOne(e *domain.Entity) (domain.ID, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}

	var ec *entityCtx
	switch {
	case e.ID != "":
		typ, ok := p.tx.TypeOf(e.ID)
		if !ok {
			return "", domain.ErrNotFound{Type: e.Type, ID: e.ID}
		}
		if e.Type != "" && e.Type != typ {
			return "", domain.ErrNotFound{Type: e.Type, ID: e.ID}
		}
		ec = newEntityCtx(p.tx, typ, e.ID, false)
	default:
		id, err := p.tx.NewEntity(e.Type)
		if err != nil {
			return "", err
		}
		ec = newEntityCtx(p.tx, e.Type, id, true)
	}

	scope := narrowByNamespace(p.tx, ec.Type(), e.Namespace)
	scope, err := applyFilters(p.tx, ec.Type(), scope, e.Filters)
	if err != nil {
		return "", err
	}
	scopeRef := engine.NewRef(scope)

	if err := checkConditions(p.tx, scopeRef.Get(), e.Conditions, ec); err != nil {
		return "", err
	}
	if err := p.applyActions(e.Actions, scopeRef, ec, e.Properties); err != nil {
		return "", err
	}
	if err := p.bulkWrite(e, ec); err != nil {
		return "", err
	}

	p.saved = append(p.saved, p.collectFeed(ec))
	return ec.ID(), nil
}

// bulkWrite lands the request's namespace, blob payloads, and property map.
// A nil property value deletes the key.
func (p *pipeline) bulkWrite(e *domain.Entity, ec *entityCtx) error {
	if e.Namespace != "" {
		if err := ec.SetProperty(domain.NamespaceProperty, e.Namespace); err != nil {
			return err
		}
	}
	for _, b := range e.Blobs {
		if b.Data == nil {
			continue
		}
		if err := p.tx.SetBlob(ec.ID(), b.Name, b.Data, b.Multiple); err != nil {
			return err
		}
	}
	if e.Properties == nil {
		return nil
	}
	var writeErr error
	e.Properties.Range(func(name string, value any) bool {
		writeErr = p.writeProperty(ec, name, value)
		return writeErr == nil
	})
	return writeErr
}

func (p *pipeline) writeProperty(ec *entityCtx, name string, value any) error {
	if name == domain.NamespaceProperty {
		return fmt.Errorf("%w: property name %q is reserved", domain.ErrInvalidRequest, name)
	}
	if value == nil {
		return ec.DeleteProperty(name)
	}
	// Normalization, geo point validation and companion geohash upkeep all
	// live in the handle so custom mutators get the same treatment.
	return ec.SetProperty(name, value)
}

func (p *pipeline) collectFeed(ec *entityCtx) indexFeed {
	feed := indexFeed{id: ec.ID()}
	for _, name := range p.tx.PropertyNames(ec.ID()) {
		v, ok := p.tx.Property(ec.ID(), name)
		if !ok {
			continue
		}
		if point, isPoint := v.(domain.GeoPoint); isPoint {
			if feed.geo == nil {
				feed.geo = make(map[string]domain.GeoPoint)
			}
			feed.geo[name] = point
		}
	}
	for name := range ec.indexed {
		v, ok := p.tx.Property(ec.ID(), name)
		if !ok {
			continue
		}
		if text, isString := v.(string); isString {
			if feed.text == nil {
				feed.text = make(map[string]string)
			}
			feed.text[name] = text
		}
	}
	return feed
}

// SaveEntity persists one entity through the full pipeline in its own
// transaction.
func (s *EntityStore) SaveEntity(ctx context.Context, e *domain.Entity) (*domain.Entity, error) {
	ctx, done := s.observe(ctx, "save_entity")
	out, err := s.saveGroup(ctx, resolveDir(e), []*domain.Entity{e})
	done(err)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// SaveEntities persists a batch. Entities group by storage environment; each
// group runs in its own transaction, so one group's failure neither rolls
// back nor blocks the others. Results cover the groups that committed; the
// returned error joins the failures.
func (s *EntityStore) SaveEntities(ctx context.Context, entities []*domain.Entity) ([]*domain.Entity, error) {
	ctx, done := s.observe(ctx, "save_entities")
	var (
		out  []*domain.Entity
		errs []error
	)
	for _, group := range groupByEnvironment(entities) {
		saved, err := s.saveGroup(ctx, group.dir, group.entities)
		if err != nil {
			errs = append(errs, fmt.Errorf("environment %q: %w", group.dir, err))
			continue
		}
		out = append(out, saved...)
	}
	err := errors.Join(errs...)
	done(err)
	return out, err
}

type envGroup struct {
	dir      string
	entities []*domain.Entity
}

func groupByEnvironment(entities []*domain.Entity) []envGroup {
	var groups []envGroup
	byDir := make(map[string]int)
	for _, e := range entities {
		dir := resolveDir(e)
		i, ok := byDir[dir]
		if !ok {
			i = len(groups)
			byDir[dir] = i
			groups = append(groups, envGroup{dir: dir})
		}
		groups[i].entities = append(groups[i].entities, e)
	}
	return groups
}

func (s *EntityStore) saveGroup(ctx context.Context, dir string, entities []*domain.Entity) ([]*domain.Entity, error) {
	env, err := s.envs.Environment(dir)
	if err != nil {
		return nil, err
	}
	var (
		out   []*domain.Entity
		feeds []indexFeed
	)
	err = env.Update(ctx, func(tx *engine.Txn) error {
		p := &pipeline{store: s, tx: tx, dir: dir}
		for _, e := range entities {
			id, err := p.saveOne(e)
			if err != nil {
				return err
			}
			out = append(out, marshalEntity(tx, dir, id))
		}
		feeds = p.saved
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.feedIndex(ctx, dir, feeds); err != nil {
		return out, err
	}
	return out, nil
}

func (s *EntityStore) feedIndex(ctx context.Context, dir string, feeds []indexFeed) error {
	if s.index == nil {
		return nil
	}
	for _, feed := range feeds {
		for _, point := range feed.geo {
			if err := s.index.IndexGeo(ctx, dir, feed.id, point.Lon, point.Lat); err != nil {
				return fmt.Errorf("index geo for %s: %w", feed.id, err)
			}
		}
		for field, text := range feed.text {
			if err := s.index.IndexText(ctx, dir, feed.id, field, text); err != nil {
				return fmt.Errorf("index text for %s: %w", feed.id, err)
			}
		}
	}
	return nil
}

// GetEntity fetches a single entity. A request carrying an ID short-circuits
// scoping entirely; the namespace is still validated against the fetched
// entity.
func (s *EntityStore) GetEntity(ctx context.Context, q *domain.Entity) (*domain.Entity, error) {
	ctx, done := s.observe(ctx, "get_entity")
	out, err := s.getEntity(ctx, q)
	done(err)
	return out, err
}

func (s *EntityStore) getEntity(ctx context.Context, q *domain.Entity) (*domain.Entity, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	dir := resolveDir(q)
	env, err := s.envs.Environment(dir)
	if err != nil {
		return nil, err
	}
	var out *domain.Entity
	err = env.View(ctx, func(tx *engine.Txn) error {
		if q.ID != "" {
			id, err := resolveByID(tx, q)
			if err != nil {
				return err
			}
			out = marshalEntity(tx, dir, id)
			return nil
		}
		scope, err := queryScope(tx, q)
		if err != nil {
			return err
		}
		id, ok := scope.First()
		if !ok {
			return domain.ErrNotFound{Type: q.Type}
		}
		out = marshalEntity(tx, dir, id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// resolveByID validates an ID lookup against the request's type and
// namespace.
func resolveByID(tx *engine.Txn, q *domain.Entity) (domain.ID, error) {
	typ, ok := tx.TypeOf(q.ID)
	if !ok {
		return "", domain.ErrNotFound{Type: q.Type, ID: q.ID}
	}
	if q.Type != "" && q.Type != typ {
		return "", domain.ErrNotFound{Type: q.Type, ID: q.ID}
	}
	if q.Namespace != "" {
		ns, _ := tx.Property(q.ID, domain.NamespaceProperty)
		if ns != q.Namespace {
			return "", domain.ErrNotFound{Type: typ, ID: q.ID}
		}
	}
	return q.ID, nil
}

// queryScope builds the candidate scope for a multi-entity request: namespace
// narrowing, then filters, then conditions in query mode.
func queryScope(tx *engine.Txn, q *domain.Entity) (*engine.Scope, error) {
	if q.Type == "" {
		return nil, fmt.Errorf("%w: query without entity type", domain.ErrInvalidRequest)
	}
	scope := narrowByNamespace(tx, q.Type, q.Namespace)
	scope, err := applyFilters(tx, q.Type, scope, q.Filters)
	if err != nil {
		return nil, err
	}
	return narrowConditions(tx, q.Type, scope, q.Conditions)
}

// QueryOptions page and order GetEntities results.
type QueryOptions struct {
	Offset     int
	Max        int
	SortBy     string
	Descending bool
}

// GetEntities fetches every entity matching the query, paged and optionally
// sorted by a property.
func (s *EntityStore) GetEntities(ctx context.Context, q *domain.Entity, opts QueryOptions) ([]*domain.Entity, error) {
	ctx, done := s.observe(ctx, "get_entities")
	out, err := s.getEntities(ctx, q, opts)
	done(err)
	return out, err
}

func (s *EntityStore) getEntities(ctx context.Context, q *domain.Entity, opts QueryOptions) ([]*domain.Entity, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	dir := resolveDir(q)
	env, err := s.envs.Environment(dir)
	if err != nil {
		return nil, err
	}
	var out []*domain.Entity
	err = env.View(ctx, func(tx *engine.Txn) error {
		var ids []domain.ID
		if q.ID != "" {
			id, err := resolveByID(tx, q)
			if err != nil {
				return err
			}
			ids = []domain.ID{id}
		} else {
			scope, err := queryScope(tx, q)
			if err != nil {
				return err
			}
			ids = scope.IDs()
		}
		if opts.SortBy != "" {
			sortByProperty(tx, ids, opts.SortBy, opts.Descending)
		}
		for _, id := range pageIDs(ids, opts.Offset, opts.Max) {
			out = append(out, marshalEntity(tx, dir, id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// sortByProperty orders ids by a property value. Entities missing the
// property, and values that do not compare, sort last; the sort is stable so
// insertion order breaks ties.
func sortByProperty(tx *engine.Txn, ids []domain.ID, name string, descending bool) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, aok := tx.Property(ids[i], name)
		b, bok := tx.Property(ids[j], name)
		if !aok || !bok {
			return aok && !bok
		}
		cmp, err := domain.CompareValues(a, b)
		if err != nil {
			return false
		}
		if descending {
			return cmp > 0
		}
		return cmp < 0
	})
}

func pageIDs(ids []domain.ID, offset, max int) []domain.ID {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(ids) {
		return nil
	}
	ids = ids[offset:]
	if max > 0 && max < len(ids) {
		ids = ids[:max]
	}
	return ids
}

// RemoveEntity deletes every entity matching the query. It reports true only
// when at least one entity was removed and nothing errored; repeating the
// same removal is a no-op that reports false.
func (s *EntityStore) RemoveEntity(ctx context.Context, q *domain.Entity) (bool, error) {
	ctx, done := s.observe(ctx, "remove_entity")
	removed, err := s.removeGroup(ctx, resolveDir(q), []*domain.Entity{q})
	done(err)
	return removed > 0 && err == nil, err
}

// RemoveEntities deletes everything matching a batch of queries, grouped per
// environment exactly like SaveEntities.
func (s *EntityStore) RemoveEntities(ctx context.Context, queries []*domain.Entity) (bool, error) {
	ctx, done := s.observe(ctx, "remove_entities")
	var (
		total int
		errs  []error
	)
	for _, group := range groupByEnvironment(queries) {
		removed, err := s.removeGroup(ctx, group.dir, group.entities)
		if err != nil {
			errs = append(errs, fmt.Errorf("environment %q: %w", group.dir, err))
			continue
		}
		total += removed
	}
	err := errors.Join(errs...)
	done(err)
	return total > 0 && err == nil, err
}

func (s *EntityStore) removeGroup(ctx context.Context, dir string, queries []*domain.Entity) (int, error) {
	env, err := s.envs.Environment(dir)
	if err != nil {
		return 0, err
	}
	var removed []domain.ID
	err = env.Update(ctx, func(tx *engine.Txn) error {
		for _, q := range queries {
			if err := q.Validate(); err != nil {
				return err
			}
			ids, err := matchForRemoval(tx, q)
			if err != nil {
				return err
			}
			for _, id := range ids {
				if err := removeOne(tx, id); err != nil {
					return err
				}
				removed = append(removed, id)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if s.index != nil {
		for _, id := range removed {
			if err := s.index.Remove(ctx, dir, id); err != nil {
				return len(removed), fmt.Errorf("drop index entries for %s: %w", id, err)
			}
		}
	}
	return len(removed), nil
}

func matchForRemoval(tx *engine.Txn, q *domain.Entity) ([]domain.ID, error) {
	if q.ID != "" {
		id, err := resolveByID(tx, q)
		if err != nil {
			var notFound domain.ErrNotFound
			if errors.As(err, &notFound) {
				return nil, nil // already gone: no-op, never an error
			}
			return nil, err
		}
		return []domain.ID{id}, nil
	}
	scope, err := queryScope(tx, q)
	if err != nil {
		return nil, err
	}
	return scope.IDs(), nil
}

// removeOne deletes an entity with full link consistency: drop outgoing
// links, sweep every type and link name for referrers and unlink those too,
// delete blobs, then the entity itself. The referrer sweep is
// O(types x links x entities); a reverse-link index would cut it but the
// consistency guarantee stays either way.
func removeOne(tx *engine.Txn, id domain.ID) error {
	for _, name := range tx.LinkNames(id) {
		if err := tx.DeleteLink(id, name); err != nil {
			return err
		}
	}
	for _, typ := range tx.EntityTypes() {
		for _, referrer := range tx.AllOfType(typ).IDs() {
			for _, name := range tx.LinkNames(referrer) {
				for _, target := range tx.Links(referrer, name) {
					if target != id {
						continue
					}
					if err := tx.DeleteLinkTarget(referrer, name, id); err != nil {
						return err
					}
					break
				}
			}
		}
	}
	for _, name := range tx.BlobNames(id) {
		if err := tx.DeleteBlob(id, name); err != nil {
			return err
		}
	}
	return tx.DeleteEntity(id)
}

// SaveProperty renames a property across every entity of the type, scoped by
// namespace. Entities without the old name are untouched.
func (s *EntityStore) SaveProperty(ctx context.Context, dir, typ, namespace, from, to string) error {
	ctx, done := s.observe(ctx, "save_property")
	err := s.eachScoped(ctx, dir, typ, namespace, func(tx *engine.Txn, id domain.ID) error {
		v, ok := tx.Property(id, from)
		if !ok {
			return nil
		}
		if err := tx.DeleteProperty(id, from); err != nil {
			return err
		}
		if err := tx.DeleteProperty(id, geoHashProperty(from)); err != nil {
			return err
		}
		if err := tx.SetProperty(id, to, v); err != nil {
			return err
		}
		// A renamed geo point keeps its companion under the new name.
		if point, isPoint := v.(domain.GeoPoint); isPoint {
			return tx.SetProperty(id, geoHashProperty(to), geohash.Encode(point.Lat, point.Lon))
		}
		return nil
	})
	done(err)
	return err
}

// RemoveProperty deletes a property across every entity of the type, scoped
// by namespace.
func (s *EntityStore) RemoveProperty(ctx context.Context, dir, typ, namespace, name string) error {
	ctx, done := s.observe(ctx, "remove_property")
	err := s.eachScoped(ctx, dir, typ, namespace, func(tx *engine.Txn, id domain.ID) error {
		if err := tx.DeleteProperty(id, name); err != nil {
			return err
		}
		return tx.DeleteProperty(id, geoHashProperty(name))
	})
	done(err)
	return err
}

func (s *EntityStore) eachScoped(ctx context.Context, dir, typ, namespace string, fn func(tx *engine.Txn, id domain.ID) error) error {
	if typ == "" {
		return fmt.Errorf("%w: bulk property operation without entity type", domain.ErrInvalidRequest)
	}
	if dir == "" {
		dir = DefaultEnvironment
	}
	env, err := s.envs.Environment(dir)
	if err != nil {
		return err
	}
	return env.Update(ctx, func(tx *engine.Txn) error {
		for _, id := range narrowByNamespace(tx, typ, namespace).IDs() {
			if err := fn(tx, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveEntityType deletes every entity of the type with full link
// consistency and drops the type registration.
func (s *EntityStore) RemoveEntityType(ctx context.Context, dir, typ string) (bool, error) {
	ctx, done := s.observe(ctx, "remove_entity_type")
	removed, err := s.removeEntityType(ctx, dir, typ)
	done(err)
	return removed, err
}

func (s *EntityStore) removeEntityType(ctx context.Context, dir, typ string) (bool, error) {
	if typ == "" {
		return false, fmt.Errorf("%w: remove without entity type", domain.ErrInvalidRequest)
	}
	if dir == "" {
		dir = DefaultEnvironment
	}
	env, err := s.envs.Environment(dir)
	if err != nil {
		return false, err
	}
	var swept []domain.ID
	err = env.Update(ctx, func(tx *engine.Txn) error {
		for _, id := range tx.AllOfType(typ).IDs() {
			if err := removeOne(tx, id); err != nil {
				return err
			}
			swept = append(swept, id)
		}
		return tx.DropEntityType(typ)
	})
	if err != nil {
		return false, err
	}
	if s.index != nil {
		for _, id := range swept {
			if err := s.index.Remove(ctx, dir, id); err != nil {
				return false, err
			}
		}
	}
	removed := false
	// TODO: removed stays false even after a successful sweep; existing
	// callers depend on that result, so confirm the intended contract before
	// reporting true here.
	return removed, nil
}

// GetEntityTypes lists every entity type of the environment in registration
// order, optionally with entity counts.
func (s *EntityStore) GetEntityTypes(ctx context.Context, dir string, withCounts bool) ([]domain.TypeInfo, error) {
	ctx, done := s.observe(ctx, "get_entity_types")
	out, err := s.getEntityTypes(ctx, dir, withCounts)
	done(err)
	return out, err
}

func (s *EntityStore) getEntityTypes(ctx context.Context, dir string, withCounts bool) ([]domain.TypeInfo, error) {
	if dir == "" {
		dir = DefaultEnvironment
	}
	env, err := s.envs.Environment(dir)
	if err != nil {
		return nil, err
	}
	var out []domain.TypeInfo
	err = env.View(ctx, func(tx *engine.Txn) error {
		for _, typ := range tx.EntityTypes() {
			info := domain.TypeInfo{Name: typ}
			if withCounts {
				info.Count = tx.CountOfType(typ)
			}
			out = append(out, info)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
