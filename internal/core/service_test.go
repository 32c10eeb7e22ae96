package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"entitycore/internal/search"
	"entitycore/pkg/domain"
)

func newTestStore(t *testing.T, opts ...Option) *EntityStore {
	t.Helper()
	s := NewEntityStore(NewMemoryManager(), opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func props(t *testing.T, pairs ...any) *domain.PropertyMap {
	t.Helper()
	if len(pairs)%2 != 0 {
		t.Fatalf("props wants key/value pairs")
	}
	m := domain.NewPropertyMap()
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			t.Fatalf("props key %v is not a string", pairs[i])
		}
		if err := m.Set(key, pairs[i+1]); err != nil {
			t.Fatalf("props set %s: %v", key, err)
		}
	}
	return m
}

func mustSave(t *testing.T, s *EntityStore, e *domain.Entity) *domain.Entity {
	t.Helper()
	saved, err := s.SaveEntity(context.Background(), e)
	if err != nil {
		t.Fatalf("SaveEntity: %v", err)
	}
	return saved
}

func TestSaveAndFetchRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saved := mustSave(t, s, &domain.Entity{
		Type:       "Foo",
		Properties: props(t, "foo", "bar", "answer", 42),
	})
	if saved.ID == "" {
		t.Fatalf("saved entity has no id")
	}

	got, err := s.GetEntity(ctx, &domain.Entity{ID: saved.ID})
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if got.Type != "Foo" {
		t.Fatalf("type = %q", got.Type)
	}
	// Insertion order survives the round trip.
	keys := got.Properties.Keys()
	if len(keys) != 2 || keys[0] != "foo" || keys[1] != "answer" {
		t.Fatalf("keys = %v", keys)
	}
	if v, _ := got.Properties.Get("foo"); v != "bar" {
		t.Fatalf("foo = %v", v)
	}
	if v, _ := got.Properties.Get("answer"); v != int64(42) {
		t.Fatalf("answer = %v", v)
	}
}

func TestQueryByTypeReturnsSavedEntity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustSave(t, s, &domain.Entity{Type: "Foo", Properties: props(t, "foo", "bar")})

	got, err := s.GetEntities(ctx, &domain.Entity{Type: "Foo"}, QueryOptions{})
	if err != nil {
		t.Fatalf("GetEntities: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("count = %d, want 1", len(got))
	}
	if v, _ := got[0].Properties.Get("foo"); v != "bar" {
		t.Fatalf("foo = %v", v)
	}
}

func TestMinMaxConditionClosedRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	saved := mustSave(t, s, &domain.Entity{Type: "reading", Properties: props(t, "value", 10)})

	cases := []struct {
		name     string
		min, max any
		ok       bool
	}{
		{"inside", 0, 20, true},
		{"at lower bound", 10, 20, true},
		{"at upper bound", 0, 10, true},
		{"below", 11, 20, false},
		{"above", 0, 9, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.SaveEntity(ctx, &domain.Entity{
				ID: saved.ID,
				Conditions: []domain.Condition{
					domain.PropertyMinMax{Name: "value", Min: tc.min, Max: tc.max},
				},
			})
			var unsatisfied *domain.UnsatisfiedConditionError
			switch {
			case tc.ok && err != nil:
				t.Fatalf("want pass, got %v", err)
			case !tc.ok && !errors.As(err, &unsatisfied):
				t.Fatalf("want unsatisfied condition, got %v", err)
			}
		})
	}
}

func TestStartsWithConditionRejectsNonString(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	saved := mustSave(t, s, &domain.Entity{
		Type:       "doc",
		Properties: props(t, "title", "draft: notes", "revision", 3),
	})

	_, err := s.SaveEntity(ctx, &domain.Entity{
		ID:         saved.ID,
		Conditions: []domain.Condition{domain.PropertyStartsWith{Name: "title", Prefix: "draft:"}},
	})
	if err != nil {
		t.Fatalf("string prefix should pass: %v", err)
	}

	var unsatisfied *domain.UnsatisfiedConditionError
	_, err = s.SaveEntity(ctx, &domain.Entity{
		ID:         saved.ID,
		Conditions: []domain.Condition{domain.PropertyStartsWith{Name: "revision", Prefix: "3"}},
	})
	if !errors.As(err, &unsatisfied) {
		t.Fatalf("non-string property should fail the condition, got %v", err)
	}
}

func TestRemoveEntityIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	saved := mustSave(t, s, &domain.Entity{Type: "ephemeral"})

	removed, err := s.RemoveEntity(ctx, &domain.Entity{ID: saved.ID})
	if err != nil || !removed {
		t.Fatalf("first remove = (%v, %v), want (true, nil)", removed, err)
	}
	removed, err = s.RemoveEntity(ctx, &domain.Entity{ID: saved.ID})
	if err != nil {
		t.Fatalf("second remove errored: %v", err)
	}
	if removed {
		t.Fatalf("second remove reported success")
	}
}

func TestRemoveEntityScopedByBlobPresence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustSave(t, s, &domain.Entity{
		Type:  "picture",
		Blobs: []domain.Blob{{Name: "photo", Data: []byte("Mock Image")}},
	})
	mustSave(t, s, &domain.Entity{Type: "picture"})

	query := &domain.Entity{
		Type:       "picture",
		Conditions: []domain.Condition{domain.BlobExists{Name: "photo"}},
	}
	removed, err := s.RemoveEntity(ctx, query)
	if err != nil || !removed {
		t.Fatalf("remove = (%v, %v), want (true, nil)", removed, err)
	}

	got, err := s.GetEntities(ctx, query, QueryOptions{})
	if err != nil {
		t.Fatalf("GetEntities: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("count after removal = %d, want 0", len(got))
	}
	// The entity without the blob is untouched.
	rest, err := s.GetEntities(ctx, &domain.Entity{Type: "picture"}, QueryOptions{})
	if err != nil {
		t.Fatalf("GetEntities all: %v", err)
	}
	if len(rest) != 1 {
		t.Fatalf("remaining = %d, want 1", len(rest))
	}
}

func TestCustomConditionAndAction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	saved := mustSave(t, s, &domain.Entity{Type: "post"})

	hasBeenLiked := domain.CustomCondition{
		Name: "HasBeenLiked",
		Check: func(e domain.EntityHandle) error {
			if _, ok := e.Property("likes"); !ok {
				return fmt.Errorf("no likes yet")
			}
			return nil
		},
	}
	boost := domain.CustomAction{
		Name: "BoostLikes",
		Apply: func(e domain.EntityHandle) error {
			v, _ := e.Property("likes")
			n, _ := v.(int64)
			return e.SetProperty("likes", n+100)
		},
	}

	var unsatisfied *domain.UnsatisfiedConditionError
	_, err := s.SaveEntity(ctx, &domain.Entity{
		ID:         saved.ID,
		Conditions: []domain.Condition{hasBeenLiked},
		Actions:    []domain.Action{boost},
	})
	if !errors.As(err, &unsatisfied) {
		t.Fatalf("save without likes should fail the condition, got %v", err)
	}

	mustSave(t, s, &domain.Entity{ID: saved.ID, Properties: props(t, "likes", 1)})
	mustSave(t, s, &domain.Entity{
		ID:         saved.ID,
		Conditions: []domain.Condition{hasBeenLiked},
		Actions:    []domain.Action{boost},
	})

	got, err := s.GetEntity(ctx, &domain.Entity{ID: saved.ID})
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if v, _ := got.Properties.Get("likes"); v != int64(101) {
		t.Fatalf("likes = %v, want 101", v)
	}
}

func TestLinkSetLastWriteWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	first := mustSave(t, s, &domain.Entity{Type: "track"})
	second := mustSave(t, s, &domain.Entity{Type: "track"})
	album := mustSave(t, s, &domain.Entity{Type: "album"})

	mustSave(t, s, &domain.Entity{
		ID: album.ID,
		Actions: []domain.Action{
			domain.LinkAction{Name: "favorite", Target: domain.Ref{ID: first.ID}, IsSet: true},
			domain.LinkAction{Name: "favorite", Target: domain.Ref{ID: second.ID}, IsSet: true},
		},
	})

	got, err := s.GetEntity(ctx, &domain.Entity{ID: album.ID})
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	refs := got.Links["favorite"]
	if len(refs) != 1 || refs[0].ID != second.ID {
		t.Fatalf("favorite links = %v, want exactly [%s]", refs, second.ID)
	}
}

func TestOppositeLinkActionMaintainsBothSides(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	author := mustSave(t, s, &domain.Entity{Type: "author"})
	book := mustSave(t, s, &domain.Entity{Type: "book"})

	mustSave(t, s, &domain.Entity{
		ID: book.ID,
		Actions: []domain.Action{
			domain.OppositeLinkAction{
				Name:         "wrote",
				OppositeName: "writtenBy",
				Source:       domain.Ref{ID: author.ID},
				IsSet:        true,
			},
		},
	})

	gotAuthor, err := s.GetEntity(ctx, &domain.Entity{ID: author.ID})
	if err != nil {
		t.Fatalf("GetEntity author: %v", err)
	}
	if refs := gotAuthor.Links["wrote"]; len(refs) != 1 || refs[0].ID != book.ID {
		t.Fatalf("author wrote = %v", refs)
	}
	gotBook, err := s.GetEntity(ctx, &domain.Entity{ID: book.ID})
	if err != nil {
		t.Fatalf("GetEntity book: %v", err)
	}
	if refs := gotBook.Links["writtenBy"]; len(refs) != 1 || refs[0].ID != author.ID {
		t.Fatalf("book writtenBy = %v", refs)
	}

	// Reciprocal pair satisfies the opposite-link precondition.
	_, err = s.SaveEntity(ctx, &domain.Entity{
		ID: gotBook.ID,
		Conditions: []domain.Condition{
			domain.OppositeLinkCondition{Name: "writtenBy", OppositeName: "wrote", IsSet: true},
		},
	})
	if err != nil {
		t.Fatalf("opposite-link condition should pass: %v", err)
	}
}

func TestRemovalSweepsReferrers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	target := mustSave(t, s, &domain.Entity{Type: "tag"})
	referrer := mustSave(t, s, &domain.Entity{Type: "article"})
	mustSave(t, s, &domain.Entity{
		ID:      referrer.ID,
		Actions: []domain.Action{domain.LinkAction{Name: "tags", Target: domain.Ref{ID: target.ID}}},
	})

	if removed, err := s.RemoveEntity(ctx, &domain.Entity{ID: target.ID}); err != nil || !removed {
		t.Fatalf("remove = (%v, %v)", removed, err)
	}

	got, err := s.GetEntity(ctx, &domain.Entity{ID: referrer.ID})
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if refs := got.Links["tags"]; len(refs) != 0 {
		t.Fatalf("dangling link survived removal: %v", refs)
	}
}

func TestPropertyIndexActionEnforcesUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustSave(t, s, &domain.Entity{
		Type:       "account",
		Properties: props(t, "email", "a@example.com"),
		Actions:    []domain.Action{domain.PropertyIndexAction{Name: "email"}},
	})

	_, err := s.SaveEntity(ctx, &domain.Entity{
		Type:       "account",
		Properties: props(t, "email", "a@example.com"),
		Actions:    []domain.Action{domain.PropertyIndexAction{Name: "email"}},
	})
	var unique *domain.UniqueConstraintError
	if !errors.As(err, &unique) {
		t.Fatalf("duplicate indexed value should fail, got %v", err)
	}
	if unique.Property != "email" {
		t.Fatalf("violation property = %q", unique.Property)
	}

	// The failed save left nothing behind.
	got, err := s.GetEntities(ctx, &domain.Entity{Type: "account"}, QueryOptions{})
	if err != nil {
		t.Fatalf("GetEntities: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("count = %d, want 1", len(got))
	}
}

func TestPropertyCopyFromScope(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustSave(t, s, &domain.Entity{Type: "node", Properties: props(t, "color", "red")})
	mustSave(t, s, &domain.Entity{Type: "node", Properties: props(t, "color", "blue")})

	fromFirst := mustSave(t, s, &domain.Entity{
		Type:    "node",
		Actions: []domain.Action{domain.PropertyCopyAction{Name: "color", First: true}},
	})
	got, err := s.GetEntity(ctx, &domain.Entity{ID: fromFirst.ID})
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if v, _ := got.Properties.Get("color"); v != "red" {
		t.Fatalf("copied color = %v, want red (first scope member)", v)
	}
}

func TestBlobRenameRegexAction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	saved := mustSave(t, s, &domain.Entity{
		Type: "doc",
		Blobs: []domain.Blob{
			{Name: "draft-intro.txt", Data: []byte("one")},
			{Name: "draft-body.txt", Data: []byte("two")},
			{Name: "cover.png", Data: []byte("img")},
		},
	})

	mustSave(t, s, &domain.Entity{
		ID: saved.ID,
		Actions: []domain.Action{
			domain.BlobRenameRegexAction{Pattern: `draft-(.+)\.txt`, Replacement: `final-$1.txt`},
		},
	})

	got, err := s.GetEntity(ctx, &domain.Entity{ID: saved.ID})
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	names := make(map[string]bool, len(got.Blobs))
	for _, b := range got.Blobs {
		names[b.Name] = true
	}
	for _, want := range []string{"final-intro.txt", "final-body.txt", "cover.png"} {
		if !names[want] {
			t.Fatalf("blob %q missing after regex rename: %v", want, names)
		}
	}
	if names["draft-intro.txt"] {
		t.Fatalf("old blob name survived rename")
	}
}

func TestLinkNewEntityActionNests(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	parent := mustSave(t, s, &domain.Entity{
		Type: "order",
		Actions: []domain.Action{
			domain.LinkNewEntityAction{
				Name: "items",
				Entity: &domain.Entity{
					Type:       "item",
					Properties: props(t, "sku", "A-1"),
				},
			},
		},
	})

	got, err := s.GetEntity(ctx, &domain.Entity{ID: parent.ID})
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	refs := got.Links["items"]
	if len(refs) != 1 {
		t.Fatalf("items links = %v", refs)
	}
	item, err := s.GetEntity(ctx, &domain.Entity{ID: refs[0].ID})
	if err != nil {
		t.Fatalf("GetEntity item: %v", err)
	}
	if v, _ := item.Properties.Get("sku"); v != "A-1" {
		t.Fatalf("nested item sku = %v", v)
	}
}

func TestCustomActionWithoutMutatorFailsHard(t *testing.T) {
	s := newTestStore(t)
	saved := mustSave(t, s, &domain.Entity{Type: "thing"})

	_, err := s.SaveEntity(context.Background(), &domain.Entity{
		ID:      saved.ID,
		Actions: []domain.Action{domain.CustomAction{Name: "broken"}},
	})
	if !errors.Is(err, domain.ErrInvalidAction) {
		t.Fatalf("want ErrInvalidAction, got %v", err)
	}
}

func TestReservedFilterOperatorsFail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustSave(t, s, &domain.Entity{Type: "thing", Properties: props(t, "n", 1)})

	for _, op := range []domain.FilterOp{domain.FilterInRange, domain.FilterContains} {
		_, err := s.GetEntities(ctx, &domain.Entity{
			Type:    "thing",
			Filters: []domain.Filter{{Op: op, Name: "n", Value: 1}},
		}, QueryOptions{})
		if !errors.Is(err, domain.ErrNotImplemented) {
			t.Fatalf("filter %s: want ErrNotImplemented, got %v", op, err)
		}
	}
}

func TestFiltersNarrowSequentially(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustSave(t, s, &domain.Entity{Type: "host", Properties: props(t, "region", "eu-west", "tier", "prod")})
	mustSave(t, s, &domain.Entity{Type: "host", Properties: props(t, "region", "eu-east", "tier", "prod")})
	mustSave(t, s, &domain.Entity{Type: "host", Properties: props(t, "region", "eu-west", "tier", "dev")})

	got, err := s.GetEntities(ctx, &domain.Entity{
		Type: "host",
		Filters: []domain.Filter{
			{Op: domain.FilterStartsWith, Name: "region", Value: "eu-"},
			{Op: domain.FilterNotEqual, Name: "tier", Value: "dev"},
			{Op: domain.FilterEqual, Name: "region", Value: "eu-west"},
		},
	}, QueryOptions{})
	if err != nil {
		t.Fatalf("GetEntities: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("count = %d, want 1", len(got))
	}
	if v, _ := got[0].Properties.Get("tier"); v != "prod" {
		t.Fatalf("tier = %v", v)
	}
}

func TestNamespacePartitionsType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustSave(t, s, &domain.Entity{Type: "widget", Namespace: "alpha"})
	mustSave(t, s, &domain.Entity{Type: "widget", Namespace: "beta"})
	mustSave(t, s, &domain.Entity{Type: "widget"})

	got, err := s.GetEntities(ctx, &domain.Entity{Type: "widget", Namespace: "alpha"}, QueryOptions{})
	if err != nil {
		t.Fatalf("GetEntities: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("alpha count = %d, want 1", len(got))
	}
	if got[0].Namespace != "alpha" {
		t.Fatalf("namespace = %q", got[0].Namespace)
	}

	all, err := s.GetEntities(ctx, &domain.Entity{Type: "widget"}, QueryOptions{})
	if err != nil {
		t.Fatalf("GetEntities all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("unscoped count = %d, want 3", len(all))
	}
}

func TestGetEntityByIDValidatesNamespace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	saved := mustSave(t, s, &domain.Entity{Type: "widget", Namespace: "alpha"})

	if _, err := s.GetEntity(ctx, &domain.Entity{ID: saved.ID, Namespace: "alpha"}); err != nil {
		t.Fatalf("matching namespace: %v", err)
	}
	var notFound domain.ErrNotFound
	_, err := s.GetEntity(ctx, &domain.Entity{ID: saved.ID, Namespace: "beta"})
	if !errors.As(err, &notFound) {
		t.Fatalf("mismatched namespace: want ErrNotFound, got %v", err)
	}
}

func TestGetEntitiesSortAndPage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, n := range []int{30, 10, 20, 40} {
		mustSave(t, s, &domain.Entity{Type: "score", Properties: props(t, "points", n)})
	}

	got, err := s.GetEntities(ctx, &domain.Entity{Type: "score"}, QueryOptions{
		SortBy: "points", Descending: true, Offset: 1, Max: 2,
	})
	if err != nil {
		t.Fatalf("GetEntities: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("count = %d, want 2", len(got))
	}
	first, _ := got[0].Properties.Get("points")
	second, _ := got[1].Properties.Get("points")
	if first != int64(30) || second != int64(20) {
		t.Fatalf("page = [%v %v], want [30 20]", first, second)
	}
}

func TestSaveEntitiesPartialBatchFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	good := &domain.Entity{Environment: "east", Type: "job"}
	bad := &domain.Entity{Environment: "west", ID: "missing-id"}

	out, err := s.SaveEntities(ctx, []*domain.Entity{good, bad})
	if err == nil {
		t.Fatalf("expected the west group to fail")
	}
	if len(out) != 1 {
		t.Fatalf("committed results = %d, want 1", len(out))
	}
	// The east group committed despite the west failure.
	got, err := s.GetEntities(ctx, &domain.Entity{Environment: "east", Type: "job"}, QueryOptions{})
	if err != nil {
		t.Fatalf("GetEntities: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("east count = %d, want 1", len(got))
	}
}

func TestSaveAndRemovePropertyBulk(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustSave(t, s, &domain.Entity{Type: "cfg", Namespace: "a", Properties: props(t, "old", 1)})
	mustSave(t, s, &domain.Entity{Type: "cfg", Namespace: "b", Properties: props(t, "old", 2)})

	if err := s.SaveProperty(ctx, "", "cfg", "a", "old", "new"); err != nil {
		t.Fatalf("SaveProperty: %v", err)
	}
	renamed, err := s.GetEntities(ctx, &domain.Entity{Type: "cfg", Namespace: "a"}, QueryOptions{})
	if err != nil {
		t.Fatalf("GetEntities: %v", err)
	}
	if _, ok := renamed[0].Properties.Get("old"); ok {
		t.Fatalf("old property survived rename")
	}
	if v, _ := renamed[0].Properties.Get("new"); v != int64(1) {
		t.Fatalf("new property = %v", v)
	}
	// Other namespace untouched.
	other, err := s.GetEntities(ctx, &domain.Entity{Type: "cfg", Namespace: "b"}, QueryOptions{})
	if err != nil {
		t.Fatalf("GetEntities b: %v", err)
	}
	if _, ok := other[0].Properties.Get("old"); !ok {
		t.Fatalf("rename leaked into another namespace")
	}

	if err := s.RemoveProperty(ctx, "", "cfg", "b", "old"); err != nil {
		t.Fatalf("RemoveProperty: %v", err)
	}
	other, err = s.GetEntities(ctx, &domain.Entity{Type: "cfg", Namespace: "b"}, QueryOptions{})
	if err != nil {
		t.Fatalf("GetEntities b after remove: %v", err)
	}
	if _, ok := other[0].Properties.Get("old"); ok {
		t.Fatalf("old property survived bulk remove")
	}
}

func TestRemoveEntityTypeResultStaysFalse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustSave(t, s, &domain.Entity{Type: "legacy"})

	removed, err := s.RemoveEntityType(ctx, "", "legacy")
	if err != nil {
		t.Fatalf("RemoveEntityType: %v", err)
	}
	if removed {
		t.Fatalf("result flag changed; callers depend on false")
	}
	types, err := s.GetEntityTypes(ctx, "", true)
	if err != nil {
		t.Fatalf("GetEntityTypes: %v", err)
	}
	for _, info := range types {
		if info.Name == "legacy" {
			t.Fatalf("type survived removal: %+v", types)
		}
	}
}

func TestGetEntityTypesWithCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustSave(t, s, &domain.Entity{Type: "a"})
	mustSave(t, s, &domain.Entity{Type: "b"})
	mustSave(t, s, &domain.Entity{Type: "b"})

	types, err := s.GetEntityTypes(ctx, "", true)
	if err != nil {
		t.Fatalf("GetEntityTypes: %v", err)
	}
	if len(types) != 2 || types[0].Name != "a" || types[1].Name != "b" {
		t.Fatalf("types = %+v", types)
	}
	if types[0].Count != 1 || types[1].Count != 2 {
		t.Fatalf("counts = %+v", types)
	}
}

func TestSearchIndexFedOnSave(t *testing.T) {
	idx := search.NewMemory()
	s := newTestStore(t, WithSearchIndex(idx))
	ctx := context.Background()

	saved := mustSave(t, s, &domain.Entity{
		Type:       "station",
		Properties: props(t, "position", domain.GeoPoint{Lon: 11.34, Lat: 44.49}),
	})

	ids, err := idx.SearchNeighbor(ctx, DefaultEnvironment, 11.34, 44.49, 1000, 0, 10)
	if err != nil {
		t.Fatalf("SearchNeighbor: %v", err)
	}
	if len(ids) != 1 || ids[0] != saved.ID {
		t.Fatalf("indexed ids = %v, want [%s]", ids, saved.ID)
	}

	if _, err := s.RemoveEntity(ctx, &domain.Entity{ID: saved.ID}); err != nil {
		t.Fatalf("RemoveEntity: %v", err)
	}
	ids, _ = idx.SearchNeighbor(ctx, DefaultEnvironment, 11.34, 44.49, 1000, 0, 10)
	if len(ids) != 0 {
		t.Fatalf("index entry survived removal: %v", ids)
	}
}

func TestObservabilityHooksFire(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	tracer := NewJSONTracer(nil)
	s := newTestStore(t, WithMetrics(rec), WithTracer(tracer))

	mustSave(t, s, &domain.Entity{Type: "probe"})

	snap := rec.Snapshot()
	if snap.Results["save_entity"]["success"] != 1 {
		t.Fatalf("metrics = %+v", snap.Results)
	}
	entries := tracer.Entries()
	if len(entries) != 1 || entries[0].Operation != "save_entity" || entries[0].Status != "success" {
		t.Fatalf("trace entries = %+v", entries)
	}
}
