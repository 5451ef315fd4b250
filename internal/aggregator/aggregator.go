// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package aggregator implements the Aggregator component (spec.md §4.2):
// one instance per shard, holding every currently-open time bucket for
// that shard in memory and closing them as wall-clock time advances.
//
// State is owned by a single goroutine (Run's event loop). NATS delivery
// callbacks and the gocron close-tick never touch the bucket map directly;
// they only enqueue an event, so the map needs no lock.
package aggregator

import (
	"context"
	"fmt"
	"sync"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/go-co-op/gocron/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vumi-metrics/pipeline/internal/shardrouter"
	"github.com/vumi-metrics/pipeline/pkg/aggregation"
	"github.com/vumi-metrics/pipeline/pkg/broker"
	"github.com/vumi-metrics/pipeline/pkg/metricwire"
)

// AggregateSubject is where closed-bucket aggregates are published
// (spec.md §6, the "vumi.metrics.aggregates" exchange).
const AggregateSubject = "vumi.metrics.aggregates"

// Config is one Aggregator instance's configuration (spec.md §6). Shard
// selects which bucket-exchange subject this instance is the sole
// consumer of; BucketSize must match the value the ShardRouter fleet
// uses, or bucket keys will not line up.
type Config struct {
	Shard               int   `json:"shard"`
	BucketSize          int64 `json:"bucket_size"`            // seconds
	TickIntervalSeconds int64 `json:"tick_interval_seconds"` // close-tick period
}

// ConfigSchema validates an Aggregator Config.
const ConfigSchema = `{
    "type": "object",
    "description": "Aggregator configuration.",
    "properties": {
        "shard": {"type": "integer", "minimum": 0},
        "bucket_size": {"type": "integer", "minimum": 1},
        "tick_interval_seconds": {"type": "integer", "minimum": 1}
    },
    "required": ["shard", "bucket_size", "tick_interval_seconds"]
}`

// queueName is this shard's exclusive-consumer queue group: at most one
// live Aggregator process should ever join it for a given shard.
func queueName(shard int) string {
	return fmt.Sprintf("aggregator.shard.%d", shard)
}

// brokerClient is the subset of *broker.Client the Aggregator needs.
type brokerClient interface {
	QueueSubscribe(subject, queue string, handler broker.MessageHandler) error
	Publish(subject string, data []byte) error
}

type bucketEntry struct {
	aggregatorSet map[string]struct{}
	values        []metricwire.Sample
}

func newBucketEntry() *bucketEntry {
	return &bucketEntry{aggregatorSet: make(map[string]struct{})}
}

func (e *bucketEntry) addAggregators(tags []string) {
	for _, t := range tags {
		e.aggregatorSet[t] = struct{}{}
	}
}

type eventKind int

const (
	eventInbound eventKind = iota
	eventTick
)

type event struct {
	kind   eventKind
	data   []byte
	nowKey int64
}

type metrics struct {
	datapointsIngested prometheus.Counter
	staleDropped       prometheus.Counter
	bucketsClosed      prometheus.Counter
	decodeErrors       prometheus.Counter
	publishErrors      prometheus.Counter
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
		datapointsIngested: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aggregator_datapoints_ingested_total",
			Help: "Datapoints merged into an open bucket.",
		}),
		staleDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aggregator_stale_datapoints_dropped_total",
			Help: "Datapoints arriving for an already-closed bucket, dropped.",
		}),
		bucketsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aggregator_buckets_closed_total",
			Help: "Time buckets closed and published.",
		}),
		decodeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aggregator_decode_errors_total",
			Help: "Inbound messages that failed to decode and were dropped.",
		}),
		publishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aggregator_publish_errors_total",
			Help: "Publishes of a closed bucket's aggregates that failed.",
		}),
	}
}

// Aggregator is one shard's bucket-holding, bucket-closing state machine.
type Aggregator struct {
	client brokerClient
	cfg    Config

	// currentNowKey is the bucket key of "now" as of the most recent tick;
	// it is what lets handleInbound recognize a late arrival for a bucket
	// that has already closed (spec.md §3's "now_key - 1" close policy).
	currentNowKey int64
	buckets       map[int64]map[string]*bucketEntry

	metrics *metrics
}

// New builds an Aggregator for shard, bound to client.
func New(client *broker.Client, cfg Config) *Aggregator {
	return &Aggregator{
		client:  client,
		cfg:     cfg,
		buckets: make(map[int64]map[string]*bucketEntry),
		metrics: newMetrics(),
	}
}

// Run subscribes to this shard's bucket subject, starts the close-tick
// scheduler, and processes events until ctx is cancelled. On cancellation
// it runs the close policy once more for currentNowKey-1 and abandons
// anything still open after that (spec.md §4.2 Shutdown) before returning.
func (a *Aggregator) Run(ctx context.Context) error {
	events := make(chan event, 256)

	subject := shardrouter.BucketSubject(a.cfg.Shard)
	if err := a.client.QueueSubscribe(subject, queueName(a.cfg.Shard), func(_ string, data []byte) {
		events <- event{kind: eventInbound, data: data}
	}); err != nil {
		return fmt.Errorf("aggregator: subscribe failed: %w", err)
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("aggregator: scheduler init failed: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(time.Duration(a.cfg.TickIntervalSeconds)*time.Second),
		gocron.NewTask(func() {
			nowKey := shardrouter.BucketKey(time.Now().Unix(), a.cfg.BucketSize)
			events <- event{kind: eventTick, nowKey: nowKey}
		}),
	)
	if err != nil {
		return fmt.Errorf("aggregator: schedule close-tick failed: %w", err)
	}

	scheduler.Start()
	defer func() {
		if err := scheduler.Shutdown(); err != nil {
			cclog.Warnf("aggregator: scheduler shutdown: %v", err)
		}
	}()

	cclog.Infof("aggregator: shard %d running (bucket_size=%ds, tick=%ds)",
		a.cfg.Shard, a.cfg.BucketSize, a.cfg.TickIntervalSeconds)

	for {
		select {
		case <-ctx.Done():
			a.flushAll()
			return nil
		case ev := <-events:
			switch ev.kind {
			case eventInbound:
				a.handleInbound(ev.data)
			case eventTick:
				a.tick(ev.nowKey)
			}
		}
	}
}

// handleInbound merges one routed MetricMessage into its open bucket, or
// drops it as stale if its bucket has already closed.
func (a *Aggregator) handleInbound(data []byte) {
	msg, err := metricwire.Decode(data)
	if err != nil {
		a.metrics.decodeErrors.Inc()
		cclog.Warnf("aggregator: dropping malformed message: %v", err)
		return
	}

	for _, dp := range msg.Datapoints {
		if err := dp.Validate(); err != nil || len(dp.Values) == 0 {
			a.metrics.decodeErrors.Inc()
			cclog.Warnf("aggregator: dropping invalid datapoint: %v", err)
			continue
		}
		a.merge(dp)
	}
}

func (a *Aggregator) merge(dp metricwire.Datapoint) {
	key := shardrouter.BucketKey(dp.Values[0].Timestamp, a.cfg.BucketSize)

	if key < a.currentNowKey {
		a.metrics.staleDropped.Add(float64(len(dp.Values)))
		cclog.Warnf("aggregator: dropping %d late value(s) for %q, bucket %d already closed",
			len(dp.Values), dp.MetricName, key)
		return
	}

	metricsInBucket, ok := a.buckets[key]
	if !ok {
		metricsInBucket = make(map[string]*bucketEntry)
		a.buckets[key] = metricsInBucket
	}

	e, ok := metricsInBucket[dp.MetricName]
	if !ok {
		e = newBucketEntry()
		metricsInBucket[dp.MetricName] = e
	}

	e.addAggregators(dp.Aggregators)
	e.values = append(e.values, dp.Values...)
	a.metrics.datapointsIngested.Add(float64(len(dp.Values)))
}

// tick advances the aggregator's notion of "now" and applies the close
// policy (spec.md §3): the bucket at now_key-1 closes, anything older is
// stale leftover and is dropped, anything at now_key or later stays open.
func (a *Aggregator) tick(nowKey int64) {
	a.currentNowKey = nowKey
	closeKey := nowKey - 1

	for key := range a.buckets {
		switch {
		case key == closeKey:
			a.closeBucket(key)
		case key < closeKey:
			cclog.Warnf("aggregator: dropping stale open bucket %d at tick now_key=%d", key, nowKey)
			delete(a.buckets, key)
		}
	}
}

// flushAll runs the close policy one last time on shutdown: the bucket at
// currentNowKey-1 closes and publishes normally, but anything at
// currentNowKey or later is still incomplete and is abandoned, not emitted
// (spec.md §4.2 Shutdown: "Buckets with ts_key == now_key are intentionally
// abandoned"). A later Aggregator instance owns closing those buckets in
// the ordinary course of ticking; emitting them here would double-publish.
func (a *Aggregator) flushAll() {
	closeKey := a.currentNowKey - 1
	if _, ok := a.buckets[closeKey]; ok {
		a.closeBucket(closeKey)
	}
	for key := range a.buckets {
		cclog.Warnf("aggregator: shard %d abandoning open bucket %d on shutdown", a.cfg.Shard, key)
		delete(a.buckets, key)
	}
}

// closeBucket computes every requested aggregate for every metric in key,
// publishes the results, then discards the bucket.
func (a *Aggregator) closeBucket(key int64) {
	metricsInBucket := a.buckets[key]
	delete(a.buckets, key)

	var out []metricwire.Datapoint
	for metricName, e := range metricsInBucket {
		for tag := range e.aggregatorSet {
			fn, ok := aggregation.Lookup(tag)
			if !ok {
				cclog.Warnf("aggregator: unknown aggregator tag %q for metric %q, skipped", tag, metricName)
				continue
			}
			out = append(out, metricwire.Datapoint{
				MetricName:  metricName + "." + tag,
				Aggregators: []string{tag},
				Values: []metricwire.Sample{{
					Timestamp: key * a.cfg.BucketSize,
					Value:     fn(e.values),
				}},
			})
		}
	}

	if len(out) == 0 {
		return
	}

	msg := metricwire.NewMessage(out...)
	buf, err := metricwire.Encode(msg)
	if err != nil {
		cclog.Errorf("aggregator: encode failed for bucket %d: %v", key, err)
		return
	}

	if err := a.client.Publish(AggregateSubject, buf); err != nil {
		a.metrics.publishErrors.Inc()
		cclog.Warnf("aggregator: publish of bucket %d failed: %v", key, err)
		return
	}
	a.metrics.bucketsClosed.Inc()
}
