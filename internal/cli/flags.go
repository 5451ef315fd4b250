// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package cli holds the flag set and shutdown timeout shared by every
// cmd/* binary, generalizing cmd/cc-backend/cli.go's single flag set to
// four small standalone programs instead of one monolith.
package cli

import (
	"flag"
	"time"
)

// ShutdownTimeout bounds graceful drain on SIGINT/SIGTERM. It is a fixed
// 30s; no flag or config key changes it.
const ShutdownTimeout = 30 * time.Second

// Flags are the command-line options common to every component binary.
type Flags struct {
	ConfigFile  string
	LogLevel    string
	LogDateTime bool
	Gops        bool
	Version     bool
}

// Parse registers the common flag set and parses args (typically
// os.Args[1:]).
func Parse(args []string) Flags {
	var f Flags
	fs := flag.NewFlagSet(args0(), flag.ExitOnError)
	fs.StringVar(&f.ConfigFile, "config", "./config.json", "Path to `config.json`")
	fs.StringVar(&f.LogLevel, "loglevel", "warn", "Sets the logging level: `[debug, info, warn, err, crit]`")
	fs.BoolVar(&f.LogDateTime, "logdate", false, "Add date and time to log messages")
	fs.BoolVar(&f.Gops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	fs.BoolVar(&f.Version, "version", false, "Show version information and exit")
	fs.Parse(args)
	return f
}

func args0() string {
	return "vumi-metrics"
}
