package core

import (
	"context"
	"errors"
	"testing"

	"entitycore/pkg/domain"
)

func saveCity(t *testing.T, s *EntityStore, name string, lon, lat float64) *domain.Entity {
	t.Helper()
	return mustSave(t, s, &domain.Entity{
		Type:       "city",
		Properties: props(t, "name", name, "position", domain.GeoPoint{Lon: lon, Lat: lat}),
	})
}

func cityNames(t *testing.T, got []*domain.Entity) map[string]bool {
	t.Helper()
	names := make(map[string]bool, len(got))
	for _, e := range got {
		v, _ := e.Properties.Get("name")
		names[v.(string)] = true
	}
	return names
}

func TestNearbyConditionExactMode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	saveCity(t, s, "Bologna", 11.3426, 44.4949)
	saveCity(t, s, "Modena", 10.9252, 44.6471)
	saveCity(t, s, "Palermo", 13.3615, 38.1157)

	got, err := s.GetEntities(ctx, &domain.Entity{
		Type: "city",
		Conditions: []domain.Condition{
			domain.PropertyNearby{Name: "position", Lon: 11.3426, Lat: 44.4949, Distance: 50},
		},
	}, QueryOptions{})
	if err != nil {
		t.Fatalf("GetEntities: %v", err)
	}
	names := cityNames(t, got)
	if len(names) != 2 || !names["Bologna"] || !names["Modena"] {
		t.Fatalf("within 50km of Bologna = %v", names)
	}
}

func TestNearbyConditionGeoHashMode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	saveCity(t, s, "Bologna", 11.3426, 44.4949)
	saveCity(t, s, "Palermo", 13.3615, 38.1157)

	// The query point matches the stored coordinate exactly so the prefix
	// comparison cannot straddle a geohash cell boundary.
	got, err := s.GetEntities(ctx, &domain.Entity{
		Type: "city",
		Conditions: []domain.Condition{
			domain.PropertyNearby{Name: "position", Lon: 11.3426, Lat: 44.4949, Distance: 20, UseGeoHash: true},
		},
	}, QueryOptions{})
	if err != nil {
		t.Fatalf("GetEntities: %v", err)
	}
	names := cityNames(t, got)
	if len(names) != 1 || !names["Bologna"] {
		t.Fatalf("geohash neighborhood = %v", names)
	}
}

func TestGeoHashModeSeesCustomActionWrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// The geo point arrives through a custom mutator, not the bulk write.
	mustSave(t, s, &domain.Entity{
		Type:       "city",
		Properties: props(t, "name", "Bologna"),
		Actions: []domain.Action{
			domain.CustomAction{Name: "locate", Apply: func(e domain.EntityHandle) error {
				return e.SetProperty("position", domain.GeoPoint{Lon: 11.3426, Lat: 44.4949})
			}},
		},
	})

	got, err := s.GetEntities(ctx, &domain.Entity{
		Type: "city",
		Conditions: []domain.Condition{
			domain.PropertyNearby{Name: "position", Lon: 11.3426, Lat: 44.4949, Distance: 20, UseGeoHash: true},
		},
	}, QueryOptions{})
	if err != nil {
		t.Fatalf("GetEntities: %v", err)
	}
	if names := cityNames(t, got); len(names) != 1 || !names["Bologna"] {
		t.Fatalf("geohash neighborhood = %v", names)
	}
}

func TestGeoHashSuffixedUserPropertySurvives(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saved := mustSave(t, s, &domain.Entity{
		Type:       "city",
		Properties: props(t, "name", "Bologna", "grid.geohash", "user-chosen"),
	})

	got, err := s.GetEntity(ctx, &domain.Entity{ID: saved.ID})
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	v, ok := got.Properties.Get("grid.geohash")
	if !ok || v != "user-chosen" {
		t.Fatalf("suffixed user property = (%v, %v), want preserved", v, ok)
	}

	// A real companion next to a stored geo point stays internal.
	located := mustSave(t, s, &domain.Entity{
		Type:       "city",
		Properties: props(t, "name", "Modena", "position", domain.GeoPoint{Lon: 10.9252, Lat: 44.6471}),
	})
	if _, ok := located.Properties.Get("position" + geoHashSuffix); ok {
		t.Fatalf("companion property leaked into the wire form")
	}
}

func TestNearbyConditionRejectsInvalidQueryPoint(t *testing.T) {
	s := newTestStore(t)
	saveCity(t, s, "Bologna", 11.3426, 44.4949)

	_, err := s.GetEntities(context.Background(), &domain.Entity{
		Type: "city",
		Conditions: []domain.Condition{
			domain.PropertyNearby{Name: "position", Lon: 11.34, Lat: 91, Distance: 10},
		},
	}, QueryOptions{})
	if err == nil {
		t.Fatalf("out-of-range latitude should fail the query")
	}
}

func TestQueryConditionOperators(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustSave(t, s, &domain.Entity{Type: "task", Properties: props(t, "state", "open", "priority", 1)})
	mustSave(t, s, &domain.Entity{Type: "task", Properties: props(t, "state", "open", "priority", 5)})
	mustSave(t, s, &domain.Entity{Type: "task", Properties: props(t, "state", "done", "priority", 9)})

	cases := []struct {
		name  string
		conds []domain.Condition
		want  int
	}{
		{
			"equal",
			[]domain.Condition{domain.PropertyEqual{Name: "state", Value: "open"}},
			2,
		},
		{
			"min max closed",
			[]domain.Condition{domain.PropertyMinMax{Name: "priority", Min: 1, Max: 5}},
			2,
		},
		{
			"starts with",
			[]domain.Condition{domain.PropertyStartsWith{Name: "state", Prefix: "op"}},
			2,
		},
		{
			"contains",
			[]domain.Condition{domain.PropertyContains{Name: "state", Substring: "on"}},
			1,
		},
		{
			"minus",
			[]domain.Condition{domain.PropertyEqual{Name: "state", Value: "done", Op: domain.OpMinus}},
			2,
		},
		{
			"union",
			[]domain.Condition{
				domain.PropertyEqual{Name: "state", Value: "done"},
				domain.PropertyMinMax{Name: "priority", Min: 1, Max: 1, Op: domain.OpUnion},
			},
			2,
		},
		{
			"custom narrow",
			[]domain.Condition{domain.CustomCondition{
				Name:   "TakeOne",
				Narrow: func(ids []domain.ID) []domain.ID { return ids[:1] },
			}},
			1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.GetEntities(ctx, &domain.Entity{Type: "task", Conditions: tc.conds}, QueryOptions{})
			if err != nil {
				t.Fatalf("GetEntities: %v", err)
			}
			if len(got) != tc.want {
				t.Fatalf("count = %d, want %d", len(got), tc.want)
			}
		})
	}
}

func TestPreconditionOnlyKindsRejectedInQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustSave(t, s, &domain.Entity{Type: "task"})

	conds := []domain.Condition{
		domain.LinkCondition{Name: "owner"},
		domain.OppositeLinkCondition{Name: "owner", OppositeName: "owns"},
		domain.PropertyUnique{Name: "state", Value: "open"},
		domain.LocalTimeRangeCondition{Name: "at"},
	}
	for _, cond := range conds {
		_, err := s.GetEntities(ctx, &domain.Entity{Type: "task", Conditions: []domain.Condition{cond}}, QueryOptions{})
		if !errors.Is(err, domain.ErrInvalidCondition) {
			t.Fatalf("%T in a query: want ErrInvalidCondition, got %v", cond, err)
		}
	}

	// A custom condition without a scope transformer is equally invalid.
	_, err := s.GetEntities(ctx, &domain.Entity{
		Type:       "task",
		Conditions: []domain.Condition{domain.CustomCondition{Name: "NoNarrow"}},
	}, QueryOptions{})
	if !errors.Is(err, domain.ErrInvalidCondition) {
		t.Fatalf("custom condition without Narrow: want ErrInvalidCondition, got %v", err)
	}
}

func TestLinkConditionPrecondition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := mustSave(t, s, &domain.Entity{Type: "user"})
	task := mustSave(t, s, &domain.Entity{
		Type:    "task",
		Actions: []domain.Action{domain.LinkAction{Name: "owner", Target: domain.Ref{ID: owner.ID}}},
	})

	_, err := s.SaveEntity(ctx, &domain.Entity{
		ID: task.ID,
		Conditions: []domain.Condition{
			domain.LinkCondition{Name: "owner", Other: domain.Ref{ID: owner.ID}, IsSet: true},
		},
	})
	if err != nil {
		t.Fatalf("matching link: %v", err)
	}

	var unsatisfied *domain.UnsatisfiedConditionError
	_, err = s.SaveEntity(ctx, &domain.Entity{
		ID: task.ID,
		Conditions: []domain.Condition{
			domain.LinkCondition{Name: "owner", Other: domain.Ref{Type: "robot"}, IsSet: true},
		},
	})
	if !errors.As(err, &unsatisfied) {
		t.Fatalf("wrong target type: want unsatisfied, got %v", err)
	}
	_, err = s.SaveEntity(ctx, &domain.Entity{
		ID:         task.ID,
		Conditions: []domain.Condition{domain.LinkCondition{Name: "reviewer"}},
	})
	if !errors.As(err, &unsatisfied) {
		t.Fatalf("absent link: want unsatisfied, got %v", err)
	}
}

func TestPropertyUniquePrecondition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustSave(t, s, &domain.Entity{Type: "user", Properties: props(t, "handle", "ada")})
	second := mustSave(t, s, &domain.Entity{Type: "user", Properties: props(t, "handle", "grace")})

	var unsatisfied *domain.UnsatisfiedConditionError
	_, err := s.SaveEntity(ctx, &domain.Entity{
		ID:         second.ID,
		Conditions: []domain.Condition{domain.PropertyUnique{Name: "handle", Value: "ada"}},
	})
	if !errors.As(err, &unsatisfied) {
		t.Fatalf("taken value: want unsatisfied, got %v", err)
	}

	_, err = s.SaveEntity(ctx, &domain.Entity{
		ID:         second.ID,
		Conditions: []domain.Condition{domain.PropertyUnique{Name: "handle", Value: "linus"}},
	})
	if err != nil {
		t.Fatalf("free value should pass: %v", err)
	}
}

func TestLocalTimeRangePrecondition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	opening := domain.LocalTimeRange{
		Lower: domain.LocalTime{Hour: 9},
		Upper: domain.LocalTime{Hour: 17},
	}
	saved := mustSave(t, s, &domain.Entity{
		Type: "shop",
		Properties: props(t,
			"lastOrder", domain.LocalTime{Hour: 12, Minute: 30},
			"lunch", domain.LocalTimeRange{Lower: domain.LocalTime{Hour: 12}, Upper: domain.LocalTime{Hour: 13}},
		),
	})

	for _, name := range []string{"lastOrder", "lunch"} {
		_, err := s.SaveEntity(ctx, &domain.Entity{
			ID: saved.ID,
			Conditions: []domain.Condition{
				domain.LocalTimeRangeCondition{Name: name, Lower: opening.Lower, Upper: opening.Upper},
			},
		})
		if err != nil {
			t.Fatalf("%s inside opening hours: %v", name, err)
		}
	}

	var unsatisfied *domain.UnsatisfiedConditionError
	_, err := s.SaveEntity(ctx, &domain.Entity{
		ID: saved.ID,
		Conditions: []domain.Condition{
			domain.LocalTimeRangeCondition{
				Name:  "lastOrder",
				Lower: domain.LocalTime{Hour: 14},
				Upper: domain.LocalTime{Hour: 15},
			},
		},
	})
	if !errors.As(err, &unsatisfied) {
		t.Fatalf("time outside range: want unsatisfied, got %v", err)
	}
}
