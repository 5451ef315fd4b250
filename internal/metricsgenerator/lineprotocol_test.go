// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package metricsgenerator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeLineProtocolKnownMetric(t *testing.T) {
	line := []byte("vumi.random.gauge value=42.5 1700000000\n")

	dps, err := decodeLineProtocol(line)
	require.NoError(t, err)
	require.Len(t, dps, 1)

	assert.Equal(t, "vumi.random.gauge", dps[0].MetricName)
	assert.Equal(t, []string{"avg", "min", "max"}, dps[0].Aggregators)
	require.Len(t, dps[0].Values, 1)
	assert.Equal(t, 42.5, dps[0].Values[0].Value)
	assert.Equal(t, int64(1700000000), dps[0].Values[0].Timestamp)
}

func TestDecodeLineProtocolUnknownMetricGetsGeneralAggregators(t *testing.T) {
	line := []byte("custom.thing value=1i 1700000001\n")

	dps, err := decodeLineProtocol(line)
	require.NoError(t, err)
	require.Len(t, dps, 1)

	assert.Equal(t, "custom.thing", dps[0].MetricName)
	assert.Equal(t, []string{"sum", "avg", "min", "max", "count"}, dps[0].Aggregators)
	assert.Equal(t, 1.0, dps[0].Values[0].Value)
}

func TestDecodeLineProtocolMultipleLines(t *testing.T) {
	data := []byte("a value=1 1700000000\nb value=2 1700000001\n")

	dps, err := decodeLineProtocol(data)
	require.NoError(t, err)
	require.Len(t, dps, 2)
	assert.Equal(t, "a", dps[0].MetricName)
	assert.Equal(t, "b", dps[1].MetricName)
}

func TestDecodeLineProtocolMissingValueFieldFails(t *testing.T) {
	_, err := decodeLineProtocol([]byte("nofield other=1 1700000000\n"))
	assert.Error(t, err)
}
