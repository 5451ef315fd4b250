// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package metricsgenerator

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vumi-metrics/pipeline/internal/shardrouter"
	"github.com/vumi-metrics/pipeline/pkg/metricwire"
)

type fakeClient struct {
	subject string
	data    []byte
}

func (f *fakeClient) Publish(subject string, data []byte) error {
	f.subject = subject
	f.data = data
	return nil
}

func TestPublishBatchSizeMatchesConfig(t *testing.T) {
	fc := &fakeClient{}
	g := &Generator{client: fc, rng: rand.New(rand.NewSource(1)), cfg: Config{DatapointsPerTick: 5}, metrics: newMetrics()}

	g.publishBatch(1700000000)

	assert.Equal(t, shardrouter.IngressSubject, fc.subject)

	msg, err := metricwire.Decode(fc.data)
	require.NoError(t, err)
	assert.Len(t, msg.Datapoints, 5)
}

func TestPublishBatchEveryDatapointUsesKnownMetricName(t *testing.T) {
	fc := &fakeClient{}
	g := &Generator{client: fc, rng: rand.New(rand.NewSource(42)), cfg: Config{DatapointsPerTick: 10}, metrics: newMetrics()}

	g.publishBatch(1700000000)

	msg, err := metricwire.Decode(fc.data)
	require.NoError(t, err)

	known := map[string]bool{}
	for _, m := range metricNames {
		known[m.name] = true
	}
	for _, dp := range msg.Datapoints {
		assert.True(t, known[dp.MetricName], "unexpected metric name %q", dp.MetricName)
		require.NotEmpty(t, dp.Aggregators)
		require.Len(t, dp.Values, 1)
		assert.Equal(t, int64(1700000000), dp.Values[0].Timestamp)
	}
}
