// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vumi-metrics/pipeline/pkg/broker"
	"github.com/vumi-metrics/pipeline/pkg/metricwire"
)

type published struct {
	subject string
	data    []byte
}

type fakeClient struct {
	published []published
}

func (f *fakeClient) QueueSubscribe(string, string, broker.MessageHandler) error { return nil }

func (f *fakeClient) Publish(subject string, data []byte) error {
	f.published = append(f.published, published{subject: subject, data: data})
	return nil
}

func newTestAggregator(cfg Config) (*Aggregator, *fakeClient) {
	fc := &fakeClient{}
	return &Aggregator{client: fc, cfg: cfg, buckets: make(map[int64]map[string]*bucketEntry), metrics: newMetrics()}, fc
}

func inboundMessage(t *testing.T, metricName string, aggregators []string, values ...metricwire.Sample) []byte {
	t.Helper()
	msg := metricwire.NewMessage(metricwire.Datapoint{
		MetricName:  metricName,
		Aggregators: aggregators,
		Values:      values,
	})
	buf, err := metricwire.Encode(msg)
	require.NoError(t, err)
	return buf
}

func decodeAll(t *testing.T, p []published) []metricwire.Datapoint {
	t.Helper()
	var out []metricwire.Datapoint
	for _, m := range p {
		msg, err := metricwire.Decode(m.data)
		require.NoError(t, err)
		out = append(out, msg.Datapoints...)
	}
	return out
}

// TestCloseComputesSumAndCount exercises spec.md §8 scenario 2: a single
// bucket accumulating several values closes with correct sum and count.
func TestCloseComputesSumAndCount(t *testing.T) {
	a, fc := newTestAggregator(Config{Shard: 0, BucketSize: 5, TickIntervalSeconds: 1})

	a.handleInbound(inboundMessage(t, "cpu.load", []string{"sum", "count"},
		metricwire.Sample{Timestamp: 10, Value: 1},
		metricwire.Sample{Timestamp: 11, Value: 2},
		metricwire.Sample{Timestamp: 12, Value: 3},
	))

	// bucket key for ts=10..12 with size=5 is 2; now_key-1 == 2 => now_key == 3
	a.tick(3)

	dps := decodeAll(t, fc.published)
	got := map[string]float64{}
	for _, dp := range dps {
		got[dp.MetricName] = dp.Values[0].Value
	}
	assert.Equal(t, 6.0, got["cpu.load.sum"])
	assert.Equal(t, 3.0, got["cpu.load.count"])

	for _, dp := range dps {
		assert.Equal(t, int64(2)*a.cfg.BucketSize, dp.Values[0].Timestamp, "aggregate timestamp is the bucket start")
	}
}

// TestLateArrivalAfterCloseIsDropped exercises spec.md §8 scenario 3: a
// value for an already-closed bucket must not reopen it or appear in any
// later publish.
func TestLateArrivalAfterCloseIsDropped(t *testing.T) {
	a, fc := newTestAggregator(Config{Shard: 0, BucketSize: 5, TickIntervalSeconds: 1})

	a.handleInbound(inboundMessage(t, "cpu.load", []string{"sum"}, metricwire.Sample{Timestamp: 10, Value: 1}))
	a.tick(3) // closes bucket 2
	require.Len(t, fc.published, 1)

	fc.published = nil
	a.handleInbound(inboundMessage(t, "cpu.load", []string{"sum"}, metricwire.Sample{Timestamp: 11, Value: 100}))
	a.tick(4) // nothing new should close, bucket 2 must not reappear

	assert.Empty(t, fc.published)
	assert.NotContains(t, a.buckets, int64(2))
}

// TestUnionOfAggregatorSets exercises spec.md §8 scenario 4: two
// datapoints for the same metric/bucket requesting different aggregator
// tags produce the union of both tags at close, not just the first or
// last datapoint's set.
func TestUnionOfAggregatorSets(t *testing.T) {
	a, fc := newTestAggregator(Config{Shard: 0, BucketSize: 5, TickIntervalSeconds: 1})

	a.handleInbound(inboundMessage(t, "cpu.load", []string{"sum"}, metricwire.Sample{Timestamp: 10, Value: 1}))
	a.handleInbound(inboundMessage(t, "cpu.load", []string{"max"}, metricwire.Sample{Timestamp: 11, Value: 5}))
	a.tick(3)

	dps := decodeAll(t, fc.published)
	tags := map[string]bool{}
	for _, dp := range dps {
		tags[dp.Aggregators[0]] = true
	}
	assert.True(t, tags["sum"])
	assert.True(t, tags["max"])
	assert.Len(t, dps, 2)
}

func TestOpenBucketStaysOpenUntilItsCloseTick(t *testing.T) {
	a, fc := newTestAggregator(Config{Shard: 0, BucketSize: 5, TickIntervalSeconds: 1})

	a.handleInbound(inboundMessage(t, "cpu.load", []string{"sum"}, metricwire.Sample{Timestamp: 10, Value: 1}))
	a.tick(2) // now_key=2 => close key is 1, bucket 2 stays open

	assert.Empty(t, fc.published)
	assert.Contains(t, a.buckets, int64(2))
}

// TestFlushAllClosesOnlyPriorBucketAndAbandonsTheRest exercises spec.md §8
// scenario 6: on graceful shutdown, the bucket at now_key-1 closes and
// publishes normally, but the still-open bucket at now_key (and anything
// later) is abandoned, not emitted.
func TestFlushAllClosesOnlyPriorBucketAndAbandonsTheRest(t *testing.T) {
	a, fc := newTestAggregator(Config{Shard: 0, BucketSize: 5, TickIntervalSeconds: 1})

	// bucket key 2 (ts=10..14): closeable prior bucket.
	a.handleInbound(inboundMessage(t, "cpu.load", []string{"sum"}, metricwire.Sample{Timestamp: 10, Value: 1}))
	// bucket key 4 (ts=20..24): still-open current bucket, must be abandoned.
	a.handleInbound(inboundMessage(t, "mem.used", []string{"avg"}, metricwire.Sample{Timestamp: 20, Value: 4}))
	require.Len(t, a.buckets, 2)

	a.currentNowKey = 3 // now_key-1 == 2
	a.flushAll()

	assert.Empty(t, a.buckets)
	dps := decodeAll(t, fc.published)
	require.Len(t, dps, 1)
	assert.Equal(t, "cpu.load.sum", dps[0].MetricName)
}

func TestUnknownAggregatorTagIsSkippedNotErrored(t *testing.T) {
	a, fc := newTestAggregator(Config{Shard: 0, BucketSize: 5, TickIntervalSeconds: 1})

	a.handleInbound(inboundMessage(t, "cpu.load", []string{"sum", "nonsense"}, metricwire.Sample{Timestamp: 10, Value: 1}))
	a.tick(3)

	dps := decodeAll(t, fc.published)
	require.Len(t, dps, 1)
	assert.Equal(t, "cpu.load.sum", dps[0].MetricName)
}
