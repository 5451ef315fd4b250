// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package aggregation

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vumi-metrics/pipeline/pkg/metricwire"
)

func samples(vs ...float64) []metricwire.Sample {
	out := make([]metricwire.Sample, len(vs))
	for i, v := range vs {
		out[i] = metricwire.Sample{Timestamp: int64(10 + i), Value: v}
	}
	return out
}

func TestSingleValueBucket(t *testing.T) {
	vs := samples(42.0)

	for _, tag := range []string{TagSum, TagMin, TagMax, TagAvg} {
		f, ok := Lookup(tag)
		require.True(t, ok)
		require.Equal(t, 42.0, f(vs))
	}

	countFn, _ := Lookup(TagCount)
	require.Equal(t, 1.0, countFn(vs))

	stddevFn, _ := Lookup(TagStddev)
	require.Equal(t, 0.0, stddevFn(vs))
}

func TestSumCountAvg(t *testing.T) {
	vs := samples(1.0, 2.0, 3.0)

	sumFn, _ := Lookup(TagSum)
	require.Equal(t, 6.0, sumFn(vs))

	countFn, _ := Lookup(TagCount)
	require.Equal(t, 3.0, countFn(vs))

	avgFn, _ := Lookup(TagAvg)
	require.InDelta(t, 2.0, avgFn(vs), 1e-9)
}

func TestMinMax(t *testing.T) {
	vs := samples(3.0, 1.0, 2.0)
	minFn, _ := Lookup(TagMin)
	maxFn, _ := Lookup(TagMax)
	require.Equal(t, 1.0, minFn(vs))
	require.Equal(t, 3.0, maxFn(vs))
}

func TestStddev(t *testing.T) {
	vs := samples(2.0, 4.0, 4.0, 4.0, 5.0, 5.0, 7.0, 9.0)
	f, _ := Lookup(TagStddev)
	require.InDelta(t, 2.0, f(vs), 1e-9)
}

func TestPercentileInterpolated(t *testing.T) {
	vs := samples(1.0, 2.0, 3.0, 4.0)
	p50, _ := Lookup(TagP50)
	require.InDelta(t, 2.5, p50(vs), 1e-9)

	p95, _ := Lookup(TagP95)
	require.InDelta(t, 3.85, p95(vs), 1e-9)
}

func TestUnknownTagNotFound(t *testing.T) {
	_, ok := Lookup("p999")
	require.False(t, ok)
}
