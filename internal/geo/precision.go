// Package geo implements the proximity matching primitives of the store: the
// distance-to-geohash-precision bucket table and ellipsoidal geodetic
// distance on the WGS84 reference ellipsoid.
package geo

import "sort"

// distance ranges in kilometers, indexed by precision level 0-11. Each entry
// is a closed [min,max] bracket. Level 0 resolves street-scale searches,
// level 11 continental ones.
var precisionRanges = [12][2]float64{
	{0.018, 0.037},
	{0.037, 0.075},
	{0.075, 0.15},
	{0.15, 0.6},
	{0.6, 1.2},
	{1.2, 4.8},
	{4.8, 19.2},
	{19.2, 76.8},
	{76.8, 307.0},
	{307.0, 1229.0},
	{1229.0, 2458.0},
	{2458.0, 10008.0},
}

// MaxGeoHashLength is the longest geohash stored for an indexed geo point.
const MaxGeoHashLength = 12

// Precision maps a requested search radius in kilometers to a precision level
// 0-11. An exact bracket match wins; otherwise the closest range boundary
// decides, so any in-domain distance resolves to a level rather than -1.
func Precision(distanceKm float64) int {
	for i, r := range precisionRanges {
		if distanceKm >= r[0] && distanceKm <= r[1] {
			return i
		}
	}
	boundaries := make([]float64, 0, len(precisionRanges)*2)
	for _, r := range precisionRanges {
		boundaries = append(boundaries, r[0], r[1])
	}
	sort.Float64s(boundaries)
	closest := closestValue(boundaries, distanceKm)
	for i, r := range precisionRanges {
		if r[0] == closest || r[1] == closest {
			return i
		}
	}
	return len(precisionRanges) - 1
}

// GeoHashPrefixLength derives the geohash prefix length used for candidate
// filtering from the requested distance. Short prefixes match coarse cells.
func GeoHashPrefixLength(distanceKm float64) int {
	n := MaxGeoHashLength - Precision(distanceKm)
	if n < 1 {
		n = 1
	}
	if n > MaxGeoHashLength {
		n = MaxGeoHashLength
	}
	return n
}

// closestValue returns the element of the sorted slice nearest to target.
// Below-range targets resolve to the first element, above-range to the last.
// On an exact midpoint tie the higher neighbor wins.
func closestValue(sorted []float64, target float64) float64 {
	lo, hi := 0, len(sorted)-1
	if target <= sorted[lo] {
		return sorted[lo]
	}
	if target >= sorted[hi] {
		return sorted[hi]
	}
	for lo <= hi {
		mid := (lo + hi) / 2
		switch {
		case sorted[mid] < target:
			lo = mid + 1
		case sorted[mid] > target:
			hi = mid - 1
		default:
			return sorted[mid]
		}
	}
	// lo is the first element above target, hi the last below it.
	if target-sorted[hi] >= sorted[lo]-target {
		return sorted[lo]
	}
	return sorted[hi]
}
