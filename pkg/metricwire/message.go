// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metricwire defines the wire envelope shared by every stage of the
// metrics pipeline (ShardRouter, Aggregator, SinkForwarder) and its binary
// encoding.
//
// A MetricMessage is the atomic unit of broker delivery: it carries one or
// more Datapoints, and a partial decode fails the whole message rather than
// salvaging the datapoints that happened to parse.
package metricwire

import "fmt"

// Sample is one (timestamp, value) observation. Timestamp is whole seconds
// since the Unix epoch, UTC.
type Sample struct {
	Timestamp int64
	Value     float64
}

// Datapoint is one metric observation: a name, the set of aggregator tags
// requested for it, and one or more samples. Aggregators may be empty for
// values that have already passed through one aggregation stage.
type Datapoint struct {
	MetricName  string
	Aggregators []string
	Values      []Sample
}

// Validate checks the invariants a Datapoint must satisfy to be accepted
// anywhere in the pipeline (spec: non-empty name, non-empty values).
func (d Datapoint) Validate() error {
	if d.MetricName == "" {
		return fmt.Errorf("metricwire: datapoint has empty metric_name")
	}
	if len(d.Values) == 0 {
		return fmt.Errorf("metricwire: datapoint %q has no values", d.MetricName)
	}
	return nil
}

// MetricMessage is the broker envelope: one or more Datapoints plus a
// schema version tag so future field additions can be detected by readers
// built against an older schema.
type MetricMessage struct {
	SchemaVersion int32
	Datapoints    []Datapoint
}

// NewMessage builds a MetricMessage at the current schema version.
func NewMessage(datapoints ...Datapoint) MetricMessage {
	return MetricMessage{
		SchemaVersion: CurrentSchemaVersion,
		Datapoints:    datapoints,
	}
}

// Append adds one Datapoint built from its constituent fields, mirroring
// the original `MetricMessage.append((name, aggregators, values))` shape.
func (m *MetricMessage) Append(metricName string, aggregators []string, values []Sample) {
	m.Datapoints = append(m.Datapoints, Datapoint{
		MetricName:  metricName,
		Aggregators: aggregators,
		Values:      values,
	})
}
