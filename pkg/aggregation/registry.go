// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package aggregation holds the aggregator-tag registry: a lookup table of
// pure reduction functions over a bucket's samples, resolved dynamically by
// tag string the way the original Twisted worker resolves
// `Aggregator.from_name(agg_name)` at runtime. Unknown tags are skipped by
// callers, not treated as errors (spec.md §7).
package aggregation

import (
	"math"
	"sort"

	"github.com/vumi-metrics/pipeline/pkg/metricwire"
)

// Func reduces a non-empty, unsorted list of samples to a single value.
type Func func(values []metricwire.Sample) float64

// Tags lists the closed set of aggregator tags spec.md §3 allows.
const (
	TagSum    = "sum"
	TagAvg    = "avg"
	TagMin    = "min"
	TagMax    = "max"
	TagCount  = "count"
	TagStddev = "stddev"
	TagP50    = "p50"
	TagP95    = "p95"
	TagP99    = "p99"
)

// registry maps an aggregator tag to the function computing it. Populated
// once at init, mirroring the teacher's use of package-level var tables
// resolved by string key (see internal/config's schema registries).
var registry = map[string]Func{
	TagSum:    sum,
	TagAvg:    avg,
	TagMin:    min_,
	TagMax:    max_,
	TagCount:  count,
	TagStddev: stddev,
	TagP50:    percentile(0.50),
	TagP95:    percentile(0.95),
	TagP99:    percentile(0.99),
}

// Lookup resolves an aggregator tag to its function. The boolean result is
// false for unknown tags; callers must skip those rather than error
// (spec.md §7, "Unknown aggregator tag ... log + skip that tag").
func Lookup(tag string) (Func, bool) {
	f, ok := registry[tag]
	return f, ok
}

func values(samples []metricwire.Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Value
	}
	return out
}

func sum(samples []metricwire.Sample) float64 {
	var total float64
	for _, s := range samples {
		total += s.Value
	}
	return total
}

func count(samples []metricwire.Sample) float64 {
	return float64(len(samples))
}

func avg(samples []metricwire.Sample) float64 {
	return sum(samples) / float64(len(samples))
}

func min_(samples []metricwire.Sample) float64 {
	m := samples[0].Value
	for _, s := range samples[1:] {
		if s.Value < m {
			m = s.Value
		}
	}
	return m
}

func max_(samples []metricwire.Sample) float64 {
	m := samples[0].Value
	for _, s := range samples[1:] {
		if s.Value > m {
			m = s.Value
		}
	}
	return m
}

// stddev computes the population standard deviation, consistent with a
// single-value bucket always reducing to 0 (spec.md §8 round-trip law).
func stddev(samples []metricwire.Sample) float64 {
	mean := avg(samples)
	var sqDiffSum float64
	for _, s := range samples {
		d := s.Value - mean
		sqDiffSum += d * d
	}
	return math.Sqrt(sqDiffSum / float64(len(samples)))
}

// percentile returns a Func computing the linear-interpolated percentile
// `p` (0..1) over the sorted values - the "decide and document" choice
// spec.md §9 leaves open. The rank is p*(n-1) and the result interpolates
// linearly between the two bracketing order statistics, the same as
// numpy.percentile's default linear method.
func percentile(p float64) Func {
	return func(samples []metricwire.Sample) float64 {
		vs := values(samples)
		sort.Float64s(vs)
		if len(vs) == 1 {
			return vs[0]
		}

		rank := p * float64(len(vs)-1)
		lo := int(math.Floor(rank))
		hi := int(math.Ceil(rank))
		if lo == hi {
			return vs[lo]
		}
		frac := rank - float64(lo)
		return vs[lo]*(1-frac) + vs[hi]*frac
	}
}
