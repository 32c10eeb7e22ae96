package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind identifies the concrete type of a property value.
type Kind string

// Property value kinds supported by the store. Custom kinds (geo point, local
// time, local time range, embedded composites) are persisted through pluggable
// binary codecs keyed by Kind.
const (
	KindString         Kind = "string"
	KindInt            Kind = "int"
	KindFloat          Kind = "float"
	KindBool           Kind = "bool"
	KindGeoPoint       Kind = "geo_point"
	KindLocalTime      Kind = "local_time"
	KindLocalTimeRange Kind = "local_time_range"
	KindMap            Kind = "map"
	KindArray          Kind = "array"
)

// KindOf reports the Kind of a property value. Integer inputs are normalised
// to int64 before storage; callers should use NormalizeValue first.
func KindOf(v any) (Kind, error) {
	switch v.(type) {
	case string:
		return KindString, nil
	case int64:
		return KindInt, nil
	case float64:
		return KindFloat, nil
	case bool:
		return KindBool, nil
	case GeoPoint:
		return KindGeoPoint, nil
	case LocalTime:
		return KindLocalTime, nil
	case LocalTimeRange:
		return KindLocalTimeRange, nil
	case *PropertyMap:
		return KindMap, nil
	case []any:
		return KindArray, nil
	default:
		return "", fmt.Errorf("unsupported property value type %T", v)
	}
}

// NormalizeValue widens integer inputs to int64 and validates that the value
// belongs to a supported kind. nil passes through unchanged (a nil value is
// the delete marker in a property map).
func NormalizeValue(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case float32:
		return float64(t), nil
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			n, err := NormalizeValue(elem)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		if _, err := KindOf(v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// CompareValues orders two property values of the same comparable kind.
// Returns -1, 0 or 1. Strings compare lexicographically, numbers numerically
// (int and float compare across kinds), local times by time of day. Local time
// ranges use containment ordering: a range compares equal to any range it
// contains. Narrow inputs (int, int32, float32) widen before comparison, so
// bounds written as plain Go literals compare against stored values.
// Non-comparable kinds return an error.
func CompareValues(a, b any) (int, error) {
	na, err := NormalizeValue(a)
	if err != nil {
		return 0, comparisonError(a, b)
	}
	nb, err := NormalizeValue(b)
	if err != nil {
		return 0, comparisonError(a, b)
	}
	a, b = na, nb
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, comparisonError(a, b)
		}
		return strings.Compare(av, bv), nil
	case int64:
		switch bv := b.(type) {
		case int64:
			return compareFloat(float64(av), float64(bv)), nil
		case float64:
			return compareFloat(float64(av), bv), nil
		}
		return 0, comparisonError(a, b)
	case float64:
		switch bv := b.(type) {
		case int64:
			return compareFloat(av, float64(bv)), nil
		case float64:
			return compareFloat(av, bv), nil
		}
		return 0, comparisonError(a, b)
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, comparisonError(a, b)
		}
		if av == bv {
			return 0, nil
		}
		if !av {
			return -1, nil
		}
		return 1, nil
	case LocalTime:
		bv, ok := b.(LocalTime)
		if !ok {
			return 0, comparisonError(a, b)
		}
		return av.Compare(bv), nil
	case LocalTimeRange:
		bv, ok := b.(LocalTimeRange)
		if !ok {
			return 0, comparisonError(a, b)
		}
		return av.Compare(bv), nil
	}
	return 0, comparisonError(a, b)
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func comparisonError(a, b any) error {
	return fmt.Errorf("cannot compare %T with %T", a, b)
}

// ValuesEqual reports whether two property values are equal. Comparable kinds
// use CompareValues; composites compare structurally.
func ValuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if n, err := NormalizeValue(a); err == nil {
		a = n
	}
	if n, err := NormalizeValue(b); err == nil {
		b = n
	}
	switch av := a.(type) {
	case GeoPoint:
		bv, ok := b.(GeoPoint)
		return ok && av == bv
	case *PropertyMap:
		bv, ok := b.(*PropertyMap)
		return ok && av.Equal(bv)
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !ValuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	}
	cmp, err := CompareValues(a, b)
	return err == nil && cmp == 0
}

// GeoPoint is a geographic coordinate stored as a custom property value.
type GeoPoint struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// Validate checks coordinate bounds: lat in [-90,90], lon in [-180,180].
func (p GeoPoint) Validate() error {
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("latitude %v out of range [-90,90]", p.Lat)
	}
	if p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("longitude %v out of range [-180,180]", p.Lon)
	}
	return nil
}

// LocalTime is a wall-clock time of day without a date or zone.
type LocalTime struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
	Second int `json:"second"`
	Nano   int `json:"nano,omitempty"`
}

// Validate checks the component ranges.
func (t LocalTime) Validate() error {
	if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 ||
		t.Second < 0 || t.Second > 59 || t.Nano < 0 || t.Nano > 999999999 {
		return fmt.Errorf("invalid local time %02d:%02d:%02d.%d", t.Hour, t.Minute, t.Second, t.Nano)
	}
	return nil
}

func (t LocalTime) nanosOfDay() int64 {
	return ((int64(t.Hour)*60+int64(t.Minute))*60+int64(t.Second))*1_000_000_000 + int64(t.Nano)
}

// Compare orders two local times by time of day.
func (t LocalTime) Compare(other LocalTime) int {
	a, b := t.nanosOfDay(), other.nanosOfDay()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// String formats the time as HH:MM:SS.
func (t LocalTime) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// LocalTimeRange is a closed interval of local times. A single point is
// represented as a range whose bounds coincide, which makes point-in-range
// checks a containment comparison.
type LocalTimeRange struct {
	Lower LocalTime `json:"lower"`
	Upper LocalTime `json:"upper"`
}

// PointRange wraps a single local time as a degenerate range.
func PointRange(t LocalTime) LocalTimeRange {
	return LocalTimeRange{Lower: t, Upper: t}
}

// Validate checks both bounds and their ordering.
func (r LocalTimeRange) Validate() error {
	if err := r.Lower.Validate(); err != nil {
		return err
	}
	if err := r.Upper.Validate(); err != nil {
		return err
	}
	if r.Lower.Compare(r.Upper) > 0 {
		return fmt.Errorf("range lower bound %s after upper bound %s", r.Lower, r.Upper)
	}
	return nil
}

// Contains reports whether the range includes the given time, bounds inclusive.
func (r LocalTimeRange) Contains(t LocalTime) bool {
	return r.Lower.Compare(t) <= 0 && r.Upper.Compare(t) >= 0
}

// Compare implements containment ordering: 0 when the other range lies within
// this one (or vice versa), otherwise the ranges order by lower bound.
func (r LocalTimeRange) Compare(other LocalTimeRange) int {
	if r.Contains(other.Lower) && r.Contains(other.Upper) {
		return 0
	}
	if other.Contains(r.Lower) && other.Contains(r.Upper) {
		return 0
	}
	return r.Lower.Compare(other.Lower)
}

// Tagged JSON wrappers keep custom kinds distinguishable inside generic
// property maps across a wire round trip.

type taggedValue struct {
	Type  Kind            `json:"$type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON emits a tagged object so the kind survives a round trip.
func (p GeoPoint) MarshalJSON() ([]byte, error) {
	return marshalTagged(KindGeoPoint, struct {
		Lon float64 `json:"lon"`
		Lat float64 `json:"lat"`
	}{p.Lon, p.Lat})
}

// MarshalJSON emits a tagged object so the kind survives a round trip.
func (t LocalTime) MarshalJSON() ([]byte, error) {
	return marshalTagged(KindLocalTime, struct {
		Hour   int `json:"hour"`
		Minute int `json:"minute"`
		Second int `json:"second"`
		Nano   int `json:"nano,omitempty"`
	}{t.Hour, t.Minute, t.Second, t.Nano})
}

// MarshalJSON emits a tagged object so the kind survives a round trip.
func (r LocalTimeRange) MarshalJSON() ([]byte, error) {
	type bound struct {
		Hour   int `json:"hour"`
		Minute int `json:"minute"`
		Second int `json:"second"`
		Nano   int `json:"nano,omitempty"`
	}
	return marshalTagged(KindLocalTimeRange, struct {
		Lower bound `json:"lower"`
		Upper bound `json:"upper"`
	}{
		bound(r.Lower),
		bound(r.Upper),
	})
}

func marshalTagged(kind Kind, v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(taggedValue{Type: kind, Value: raw})
}

// decodeTaggedValue rehydrates a tagged custom value from its generic JSON
// form. Returns (nil, false, nil) when the map is not a tagged value.
func decodeTaggedValue(raw json.RawMessage) (any, bool, error) {
	var tag taggedValue
	if err := json.Unmarshal(raw, &tag); err != nil || tag.Type == "" {
		return nil, false, nil
	}
	switch tag.Type {
	case KindGeoPoint:
		var aux struct {
			Lon float64 `json:"lon"`
			Lat float64 `json:"lat"`
		}
		if err := json.Unmarshal(tag.Value, &aux); err != nil {
			return nil, false, err
		}
		return GeoPoint(aux), true, nil
	case KindLocalTime:
		var aux struct {
			Hour   int `json:"hour"`
			Minute int `json:"minute"`
			Second int `json:"second"`
			Nano   int `json:"nano"`
		}
		if err := json.Unmarshal(tag.Value, &aux); err != nil {
			return nil, false, err
		}
		return LocalTime(aux), true, nil
	case KindLocalTimeRange:
		var aux struct {
			Lower LocalTime `json:"lower"`
			Upper LocalTime `json:"upper"`
		}
		if err := json.Unmarshal(tag.Value, &aux); err != nil {
			return nil, false, err
		}
		return LocalTimeRange(aux), true, nil
	}
	return nil, false, fmt.Errorf("unknown tagged value type %q", tag.Type)
}
