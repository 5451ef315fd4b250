// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/google/gops/agent"
	"github.com/joho/godotenv"
	"github.com/vumi-metrics/pipeline/internal/cli"
	"github.com/vumi-metrics/pipeline/internal/config"
	"github.com/vumi-metrics/pipeline/internal/metricsgenerator"
	"github.com/vumi-metrics/pipeline/pkg/broker"
	"github.com/vumi-metrics/pipeline/pkg/httpapi"
	"github.com/vumi-metrics/pipeline/pkg/runtimeenv"
)

type programConfig struct {
	HTTPAddr string `json:"http_addr"`
	metricsgenerator.Config
	Broker broker.Config `json:"broker"`
}

const configSchema = `{
    "type": "object",
    "properties": {
        "http_addr": {"type": "string"},
        "interval_seconds": {"type": "integer", "minimum": 1},
        "datapoints_per_tick": {"type": "integer", "minimum": 1},
        "replay_file": {"type": "string"},
        "broker": {
            "type": "object",
            "properties": {"address": {"type": "string"}},
            "required": ["address"]
        }
    },
    "required": ["interval_seconds", "datapoints_per_tick", "broker"]
}`

var version = "development"

func main() {
	flags := cli.Parse(os.Args[1:])
	if flags.Version {
		fmt.Printf("metricsgenerator %s\n", version)
		return
	}

	cclog.Init(flags.LogLevel, flags.LogDateTime)

	if flags.Gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			cclog.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		cclog.Fatalf("parsing './.env' file failed: %s", err.Error())
	}

	cfg := programConfig{HTTPAddr: ":8084"}
	if err := config.Load(flags.ConfigFile, configSchema, &cfg); err != nil {
		cclog.Fatalf("loading config: %s", err.Error())
	}

	client, err := broker.Connect(cfg.Broker)
	if err != nil {
		cclog.Fatalf("broker connect failed: %s", err.Error())
	}
	defer client.Close()

	gen := metricsgenerator.New(client, cfg.Config)

	if cfg.ReplayFile != "" {
		if err := gen.Replay(cfg.ReplayFile); err != nil {
			cclog.Fatalf("replay failed: %s", err.Error())
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		gen.Run(ctx)
	}()

	httpServer := httpapi.NewServer(cfg.HTTPAddr, func() error {
		if !client.IsConnected() {
			return fmt.Errorf("broker not connected")
		}
		return nil
	})
	httpServer.Start()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	runtimeenv.SystemdNotify(true, "running")
	cclog.Infof("metricsgenerator running (interval=%ds, batch=%d)", cfg.IntervalSeconds, cfg.DatapointsPerTick)

	<-sigs
	runtimeenv.SystemdNotify(false, "shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cli.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		cclog.Warnf("http shutdown: %s", err.Error())
	}

	wg.Wait()
	cclog.Info("metricsgenerator: graceful shutdown complete")
}
