// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package sinkforwarder implements the SinkForwarder component
// (spec.md §4.3): it consumes closed-bucket aggregates, rewrites their
// UTC bucket timestamps to the sink's local clock, and republishes one
// ASCII line per aggregate to the external sink.
//
// SinkForwarder holds no state of its own beyond the broker connection;
// any number of instances may run against the aggregate subject.
package sinkforwarder

import (
	"fmt"
	"sync"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vumi-metrics/pipeline/internal/aggregator"
	"github.com/vumi-metrics/pipeline/pkg/broker"
	"github.com/vumi-metrics/pipeline/pkg/metricwire"
)

// SinkSubjectPrefix, combined with a metric name, is where translated
// ASCII lines are published (spec.md §6, the "graphite" exchange, routing
// key "<metric-name>").
const SinkSubjectPrefix = "graphite."

// Config is the SinkForwarder's configuration (spec.md §6): only the
// sink's UTC offset is needed, since aggregates always arrive in UTC.
type Config struct {
	LocalOffsetSeconds int64 `json:"local_offset_seconds"`
}

// ConfigSchema validates a SinkForwarder Config.
const ConfigSchema = `{
    "type": "object",
    "description": "SinkForwarder configuration.",
    "properties": {
        "local_offset_seconds": {"type": "integer"}
    },
    "required": ["local_offset_seconds"]
}`

// SinkSubject returns the sink-exchange subject for metricName.
func SinkSubject(metricName string) string {
	return SinkSubjectPrefix + metricName
}

// brokerClient is the subset of *broker.Client the Forwarder needs.
type brokerClient interface {
	Subscribe(subject string, handler broker.MessageHandler) error
	Publish(subject string, data []byte) error
}

type metrics struct {
	linesForwarded prometheus.Counter
	decodeErrors   prometheus.Counter
	publishErrors  prometheus.Counter
}

var (
	metricsOnce   sync.Once
	sharedMetrics *metrics
)

// newMetrics registers this package's counters on the first call and
// returns that same set on every later call.
func newMetrics() *metrics {
	metricsOnce.Do(func() { sharedMetrics = registerMetrics() })
	return sharedMetrics
}

func registerMetrics() *metrics {
	return &metrics{
		linesForwarded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sinkforwarder_lines_forwarded_total",
			Help: "ASCII lines republished to the sink.",
		}),
		decodeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sinkforwarder_decode_errors_total",
			Help: "Inbound aggregate messages that failed to decode and were dropped.",
		}),
		publishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sinkforwarder_publish_errors_total",
			Help: "Publishes of a translated line that failed.",
		}),
	}
}

// Forwarder is the SinkForwarder component.
type Forwarder struct {
	client  brokerClient
	cfg     Config
	metrics *metrics
}

// New builds a Forwarder bound to client with the given configuration.
func New(client *broker.Client, cfg Config) *Forwarder {
	return &Forwarder{client: client, cfg: cfg, metrics: newMetrics()}
}

// Start subscribes to the aggregate subject.
func (f *Forwarder) Start() error {
	return f.client.Subscribe(aggregator.AggregateSubject, f.handle)
}

// handle decodes one aggregate MetricMessage and republishes each of its
// Datapoints as a translated ASCII line (spec.md §4.3).
func (f *Forwarder) handle(_ string, data []byte) {
	msg, err := metricwire.Decode(data)
	if err != nil {
		f.metrics.decodeErrors.Inc()
		cclog.Warnf("sinkforwarder: dropping malformed aggregate message: %v", err)
		return
	}

	for _, dp := range msg.Datapoints {
		if err := dp.Validate(); err != nil {
			f.metrics.decodeErrors.Inc()
			cclog.Warnf("sinkforwarder: dropping invalid aggregate datapoint: %v", err)
			continue
		}
		for _, v := range dp.Values {
			f.forward(dp.MetricName, v)
		}
	}
}

// translate converts an aggregate's UTC bucket timestamp into the sink's
// local clock: local = utc - offset, so a UTC+2 deployment (offset=7200)
// reports a timestamp two hours behind the UTC value it received.
func (f *Forwarder) translate(timestamp int64) int64 {
	return timestamp - f.cfg.LocalOffsetSeconds
}

// line renders one sample as the exact ASCII wire format the sink expects:
// "<value> <timestamp>\n", value printed with %f's default six fractional
// digits.
func line(value float64, timestamp int64) []byte {
	return []byte(fmt.Sprintf("%f %d\n", value, timestamp))
}

func (f *Forwarder) forward(metricName string, v metricwire.Sample) {
	localTS := f.translate(v.Timestamp)
	if err := f.client.Publish(SinkSubject(metricName), line(v.Value, localTS)); err != nil {
		f.metrics.publishErrors.Inc()
		cclog.Warnf("sinkforwarder: publish for %q failed: %v", metricName, err)
		return
	}
	f.metrics.linesForwarded.Inc()
}
