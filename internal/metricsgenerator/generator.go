// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metricsgenerator is a synthetic-traffic producer for the
// pipeline's ingress subject: a test/demo harness, not part of the core
// pipeline, supplemented from the original random-metrics demo worker.
package metricsgenerator

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vumi-metrics/pipeline/internal/shardrouter"
	"github.com/vumi-metrics/pipeline/pkg/broker"
	"github.com/vumi-metrics/pipeline/pkg/metricwire"
)

// Config controls the synthetic traffic shape.
type Config struct {
	IntervalSeconds   int64  `json:"interval_seconds"`      // time between publish batches
	DatapointsPerTick int    `json:"datapoints_per_tick"`   // batched into one MetricMessage
	ReplayFile        string `json:"replay_file,omitempty"` // optional: InfluxDB line protocol text replayed once at startup
}

// ConfigSchema validates a Generator Config.
const ConfigSchema = `{
    "type": "object",
    "description": "Synthetic metrics generator configuration.",
    "properties": {
        "interval_seconds": {"type": "integer", "minimum": 1},
        "datapoints_per_tick": {"type": "integer", "minimum": 1},
        "replay_file": {"type": "string"}
    },
    "required": ["interval_seconds", "datapoints_per_tick"]
}`

// brokerClient is the subset of *broker.Client the Generator needs.
type brokerClient interface {
	Publish(subject string, data []byte) error
}

// metricNames mirrors the original demo worker's vumi.random.* namespace:
// a counter, a gauge-like value, and a timer.
var metricNames = []struct {
	name        string
	aggregators []string
}{
	{"vumi.random.count", []string{"sum", "count"}},
	{"vumi.random.gauge", []string{"avg", "min", "max"}},
	{"vumi.random.timer", []string{"avg", "p50", "p95", "p99"}},
}

type metrics struct {
	batchesPublished prometheus.Counter
	publishErrors    prometheus.Counter
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
		batchesPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "metricsgenerator_batches_published_total",
			Help: "Batched MetricMessages published to the ingress subject.",
		}),
		publishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "metricsgenerator_publish_errors_total",
			Help: "Publishes to the ingress subject that failed.",
		}),
	}
}

// Generator publishes synthetic Datapoint batches on a timer.
type Generator struct {
	client  brokerClient
	cfg     Config
	rng     *rand.Rand
	metrics *metrics
}

// New builds a Generator bound to client.
func New(client *broker.Client, cfg Config) *Generator {
	return &Generator{
		client:  client,
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		metrics: newMetrics(),
	}
}

// Run publishes one batch every IntervalSeconds until ctx is cancelled.
func (g *Generator) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(g.cfg.IntervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.publishBatch(time.Now().Unix())
		}
	}
}

// publishBatch builds one MetricMessage carrying DatapointsPerTick
// synthetic datapoints and publishes it to the ShardRouter's ingress
// subject, exercising the multi-datapoint-per-message path end to end.
func (g *Generator) publishBatch(now int64) {
	dps := make([]metricwire.Datapoint, 0, g.cfg.DatapointsPerTick)
	for i := 0; i < g.cfg.DatapointsPerTick; i++ {
		choice := metricNames[g.rng.Intn(len(metricNames))]
		dps = append(dps, metricwire.Datapoint{
			MetricName:  choice.name,
			Aggregators: choice.aggregators,
			Values: []metricwire.Sample{{
				Timestamp: now,
				Value:     g.rng.Float64() * 100,
			}},
		})
	}
	g.publishDatapoints(dps)
}

// publishDatapoints encodes dps into a single MetricMessage and publishes
// it to the ShardRouter's ingress subject.
func (g *Generator) publishDatapoints(dps []metricwire.Datapoint) {
	msg := metricwire.NewMessage(dps...)
	buf, err := metricwire.Encode(msg)
	if err != nil {
		cclog.Errorf("metricsgenerator: encode failed: %v", err)
		return
	}

	if err := g.client.Publish(shardrouter.IngressSubject, buf); err != nil {
		g.metrics.publishErrors.Inc()
		cclog.Warnf("metricsgenerator: publish failed: %v", err)
		return
	}
	g.metrics.batchesPublished.Inc()
}

// Replay reads an InfluxDB line protocol file and publishes its contents
// as synthetic ingress traffic, once, in a single batch. This is the
// debug/replay path: recorded or hand-written traffic can be fed through
// the real pipeline without a live producer.
func (g *Generator) Replay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("metricsgenerator: reading replay file: %w", err)
	}

	dps, err := decodeLineProtocol(data)
	if err != nil {
		return err
	}
	if len(dps) == 0 {
		cclog.Warnf("metricsgenerator: replay file %q contained no lines", path)
		return nil
	}

	cclog.Infof("metricsgenerator: replaying %d datapoint(s) from %q", len(dps), path)
	g.publishDatapoints(dps)
	return nil
}
