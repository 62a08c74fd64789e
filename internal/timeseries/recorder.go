// Package timeseries implements the timeseries recorder (C7): maintains
// value-run base records and their varint delta chains, and answers
// interpolated range queries.
//
// Grounded on internal/codec (C1) plus the pack's columnar-encoding
// reference's separation of "base" (first full value) from "delta chain"
// (subsequent compressed gaps) — mirrors this engine's TimeseriesBase /
// TimeseriesDelta split.
package timeseries

import (
	"sort"
	"strconv"
	"time"

	"github.com/dataengine/core/internal/codec"
	"github.com/dataengine/core/internal/domain"
)

// AppendResult describes the base/delta mutation produced by one Append call.
type AppendResult struct {
	Base       domain.TimeseriesBase
	Delta      domain.TimeseriesDelta
	NewBase    bool // true if Base is a freshly created value-run
}

// Append records a change to (tableName, entityId, property) at atTime with
// newValue, per §4.7's append path. latest is the most recent base/delta
// pair for that triple, or nil if none exists yet.
func Append(tableName, entityID, property, newValue string, atTime time.Time, latest *BaseDelta, idFor func() string) (AppendResult, error) {
	if latest != nil && domain.StringifyAny(latest.Base.Value) == newValue {
		gapMs := atTime.UnixMilli() - latest.Base.StartTime.UnixMilli()
		decoded, err := codec.Decode(latest.Delta.CompressedDeltas)
		if err != nil {
			return AppendResult{}, err
		}

		decoded = append(decoded, gapMs-latest.Delta.LastTimestamp)
		encoded := codec.Encode(decoded)

		delta := domain.TimeseriesDelta{
			ID:               latest.Delta.ID,
			BaseID:           latest.Delta.BaseID,
			CompressedDeltas: encoded,
			LastTimestamp:    gapMs,
			Version:          latest.Delta.Version + 1,
		}
		return AppendResult{Base: latest.Base, Delta: delta, NewBase: false}, nil
	}

	base := domain.TimeseriesBase{
		ID:           idFor(),
		TableName:    tableName,
		EntityID:     entityID,
		PropertyName: property,
		Value:        newValue,
		StartTime:    atTime,
	}
	delta := domain.TimeseriesDelta{
		ID:               idFor(),
		BaseID:           base.ID,
		CompressedDeltas: codec.Encode([]int64{0}),
		LastTimestamp:    0,
		Version:          1,
	}
	return AppendResult{Base: base, Delta: delta, NewBase: true}, nil
}

// BaseDelta pairs a base with its one delta record.
type BaseDelta struct {
	Base  domain.TimeseriesBase
	Delta domain.TimeseriesDelta
}

// Expand flattens a base/delta pair into raw (timestamp, value) samples by
// adding each decoded delta gap (as a running offset) to the base's
// startTime, retaining the base value for every sample in the run.
func Expand(bd BaseDelta) ([]domain.TimeseriesSample, error) {
	gaps, err := codec.Decode(bd.Delta.CompressedDeltas)
	if err != nil {
		return nil, err
	}

	samples := make([]domain.TimeseriesSample, 0, len(gaps))
	var offset int64
	for _, gap := range gaps {
		offset += gap
		samples = append(samples, domain.TimeseriesSample{
			Timestamp: bd.Base.StartTime.Add(time.Duration(offset) * time.Millisecond),
			Value:     bd.Base.Value,
		})
	}
	return samples, nil
}

// GetInterpolated implements the query path of §4.7: collects every sample
// from the supplied base/delta pairs whose range intersects [from, to],
// builds a tick grid from..to stepping by step, and fills each tick per
// method.
func GetInterpolated(pairs []BaseDelta, from, to time.Time, step time.Duration, method domain.InterpolationMethod) ([]domain.TimeseriesPoint, error) {
	var samples []domain.TimeseriesSample
	for _, bd := range pairs {
		expanded, err := Expand(bd)
		if err != nil {
			return nil, err
		}
		for _, s := range expanded {
			if !s.Timestamp.Before(from) && !s.Timestamp.After(to) {
				samples = append(samples, s)
			}
		}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Timestamp.Before(samples[j].Timestamp) })

	var points []domain.TimeseriesPoint
	if step <= 0 {
		return points, nil
	}
	for t := from; !t.After(to); t = t.Add(step) {
		if p, ok := interpolateAt(samples, t, method); ok {
			points = append(points, p)
		}
	}
	return points, nil
}

func interpolateAt(samples []domain.TimeseriesSample, t time.Time, method domain.InterpolationMethod) (domain.TimeseriesPoint, bool) {
	prev, hasPrev := lastAtOrBefore(samples, t)
	next, hasNext := firstAtOrAfter(samples, t)

	switch method {
	case domain.InterpolateNone:
		if hasPrev && prev.Timestamp.Equal(t) {
			return domain.TimeseriesPoint{Timestamp: t, Value: prev.Value}, true
		}
		return domain.TimeseriesPoint{}, false

	case domain.InterpolatePrevious:
		if hasPrev {
			return domain.TimeseriesPoint{Timestamp: t, Value: prev.Value}, true
		}
		return domain.TimeseriesPoint{}, false

	case domain.InterpolateNext:
		if hasNext {
			return domain.TimeseriesPoint{Timestamp: t, Value: next.Value}, true
		}
		return domain.TimeseriesPoint{}, false

	case domain.InterpolateNearest:
		switch {
		case hasPrev && hasNext:
			dPrev := t.Sub(prev.Timestamp)
			dNext := next.Timestamp.Sub(t)
			if dNext < dPrev {
				return domain.TimeseriesPoint{Timestamp: t, Value: next.Value}, true
			}
			return domain.TimeseriesPoint{Timestamp: t, Value: prev.Value}, true
		case hasPrev:
			return domain.TimeseriesPoint{Timestamp: t, Value: prev.Value}, true
		case hasNext:
			return domain.TimeseriesPoint{Timestamp: t, Value: next.Value}, true
		default:
			return domain.TimeseriesPoint{}, false
		}

	case domain.InterpolateLinear:
		if hasPrev && prev.Timestamp.Equal(t) {
			return domain.TimeseriesPoint{Timestamp: t, Value: prev.Value}, true
		}
		if hasPrev && hasNext {
			pv, errP := strconv.ParseFloat(prev.Value, 64)
			nv, errN := strconv.ParseFloat(next.Value, 64)
			if errP == nil && errN == nil {
				span := next.Timestamp.Sub(prev.Timestamp)
				if span <= 0 {
					return domain.TimeseriesPoint{Timestamp: t, Value: prev.Value}, true
				}
				frac := float64(t.Sub(prev.Timestamp)) / float64(span)
				v := pv + (nv-pv)*frac
				return domain.TimeseriesPoint{Timestamp: t, Value: strconv.FormatFloat(v, 'g', -1, 64)}, true
			}
		}
		// fall back to Previous
		if hasPrev {
			return domain.TimeseriesPoint{Timestamp: t, Value: prev.Value}, true
		}
		if hasNext {
			return domain.TimeseriesPoint{Timestamp: t, Value: next.Value}, true
		}
		return domain.TimeseriesPoint{}, false

	default:
		return domain.TimeseriesPoint{}, false
	}
}

func lastAtOrBefore(samples []domain.TimeseriesSample, t time.Time) (domain.TimeseriesSample, bool) {
	var best domain.TimeseriesSample
	found := false
	for _, s := range samples {
		if !s.Timestamp.After(t) && (!found || s.Timestamp.After(best.Timestamp)) {
			best = s
			found = true
		}
	}
	return best, found
}

func firstAtOrAfter(samples []domain.TimeseriesSample, t time.Time) (domain.TimeseriesSample, bool) {
	var best domain.TimeseriesSample
	found := false
	for _, s := range samples {
		if !s.Timestamp.Before(t) && (!found || s.Timestamp.Before(best.Timestamp)) {
			best = s
			found = true
		}
	}
	return best, found
}
