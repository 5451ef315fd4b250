// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sinkforwarder

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

func (f *fakeClient) Subscribe(string, broker.MessageHandler) error { return nil }

func (f *fakeClient) Publish(subject string, data []byte) error {
	f.published = append(f.published, published{subject: subject, data: data})
	return nil
}

// TestTranslateUTCPlus2 exercises spec.md §8 scenario 5 verbatim.
func TestTranslateUTCPlus2(t *testing.T) {
	fc := &fakeClient{}
	f := &Forwarder{client: fc, cfg: Config{LocalOffsetSeconds: 7200}, metrics: newMetrics()}

	msg := metricwire.NewMessage(metricwire.Datapoint{
		MetricName:  "m.sum",
		Aggregators: []string{"sum"},
		Values:      []metricwire.Sample{{Timestamp: 1700000000, Value: 42.0}},
	})
	buf, err := metricwire.Encode(msg)
	require.NoError(t, err)

	f.handle("vumi.metrics.aggregates", buf)

	require.Len(t, fc.published, 1)
	assert.Equal(t, SinkSubject("m.sum"), fc.published[0].subject)
	assert.Equal(t, "42.000000 1699992800\n", string(fc.published[0].data))
}

func TestTranslateNoOffset(t *testing.T) {
	fc := &fakeClient{}
	f := &Forwarder{client: fc, cfg: Config{LocalOffsetSeconds: 0}, metrics: newMetrics()}

	assert.Equal(t, int64(100), f.translate(100))
}

func TestHandleDropsMalformedMessage(t *testing.T) {
	fc := &fakeClient{}
	f := &Forwarder{client: fc, cfg: Config{}, metrics: newMetrics()}

	f.handle("vumi.metrics.aggregates", []byte("garbage"))
	assert.Empty(t, fc.published)
}

func TestHandleForwardsEverySampleOnEveryDatapoint(t *testing.T) {
	fc := &fakeClient{}
	f := &Forwarder{client: fc, cfg: Config{LocalOffsetSeconds: 0}, metrics: newMetrics()}

	msg := metricwire.NewMessage(
		metricwire.Datapoint{MetricName: "a.sum", Aggregators: []string{"sum"}, Values: []metricwire.Sample{{Timestamp: 1, Value: 1}, {Timestamp: 2, Value: 2}}},
		metricwire.Datapoint{MetricName: "b.count", Aggregators: []string{"count"}, Values: []metricwire.Sample{{Timestamp: 3, Value: 3}}},
	)
	buf, err := metricwire.Encode(msg)
	require.NoError(t, err)

	f.handle("vumi.metrics.aggregates", buf)

	require.Len(t, fc.published, 3)
}
