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
	"github.com/vumi-metrics/pipeline/internal/sinkforwarder"
	"github.com/vumi-metrics/pipeline/pkg/broker"
	"github.com/vumi-metrics/pipeline/pkg/httpapi"
	"github.com/vumi-metrics/pipeline/pkg/runtimeenv"
)

type programConfig struct {
	HTTPAddr string `json:"http_addr"`
	sinkforwarder.Config
	Broker broker.Config `json:"broker"`
}

const configSchema = `{
    "type": "object",
    "properties": {
        "http_addr": {"type": "string"},
        "local_offset_seconds": {"type": "integer"},
        "broker": {
            "type": "object",
            "properties": {"address": {"type": "string"}},
            "required": ["address"]
        }
    },
    "required": ["local_offset_seconds", "broker"]
}`

var version = "development"

func main() {
	flags := cli.Parse(os.Args[1:])
	if flags.Version {
		fmt.Printf("sinkforwarder %s\n", version)
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

	cfg := programConfig{HTTPAddr: ":8083"}
	if err := config.Load(flags.ConfigFile, configSchema, &cfg); err != nil {
		cclog.Fatalf("loading config: %s", err.Error())
	}

	client, err := broker.Connect(cfg.Broker)
	if err != nil {
		cclog.Fatalf("broker connect failed: %s", err.Error())
	}
	defer client.Close()

	forwarder := sinkforwarder.New(client, cfg.Config)
	if err := forwarder.Start(); err != nil {
		cclog.Fatalf("forwarder start failed: %s", err.Error())
	}

	httpServer := httpapi.NewServer(cfg.HTTPAddr, func() error {
		if !client.IsConnected() {
			return fmt.Errorf("broker not connected")
		}
		return nil
	})
	httpServer.Start()

	var wg sync.WaitGroup
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-sigs
		runtimeenv.SystemdNotify(false, "shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), cli.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			cclog.Warnf("http shutdown: %s", err.Error())
		}
	}()

	runtimeenv.SystemdNotify(true, "running")
	cclog.Infof("sinkforwarder running (local_offset_seconds=%d)", cfg.LocalOffsetSeconds)
	wg.Wait()
	cclog.Info("sinkforwarder: graceful shutdown complete")
}
