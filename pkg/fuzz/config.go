// Copyright 2024 healer-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzz

import (
	"fmt"
	"time"

	"github.com/healer-fuzz/healer/pkg/prog"
	"github.com/prometheus/client_golang/prometheus"
)

// BootFunc boots one isolated execution backend (e.g. a VM plus its
// executor channel) for the given job. A boot failure is fatal to the
// worker.
type BootFunc func(id int) (Executor, error)

// Config describes one fuzzing session.
type Config struct {
	// Target is the OS/arch tuple being fuzzed, e.g. "linux/amd64".
	Target string
	// OutDir receives queue snapshots, crash data and bench records.
	OutDir string
	// Jobs is the number of parallel fuzzing workers, one OS thread each.
	Jobs int

	// Boot creates the execution backend of one worker.
	Boot BootFunc
	// NewTarget loads a private target-metadata instance per worker.
	NewTarget func() (*prog.Target, error)
	// Generator creates the program generation/mutation collaborator of
	// one worker.
	Generator func(id int) Generator

	// CullingThreshold/CullingDuration override the queue culling triggers
	// when both are non-zero.
	CullingThreshold int
	CullingDuration  time.Duration

	// BenchInterval is the period of job-0 stats snapshots (default 10s).
	BenchInterval time.Duration

	// Registerer, when set, exports all stats as prometheus gauges.
	Registerer prometheus.Registerer

	// Shutdown, when non-nil, stops the session when closed (in addition
	// to SIGINT/SIGTERM).
	Shutdown <-chan struct{}
}

// Check validates the configuration; any error here is fatal before
// fuzzing begins.
func (cfg *Config) Check() error {
	if cfg.Target == "" {
		return fmt.Errorf("no fuzzing target specified")
	}
	if cfg.Jobs < 1 {
		return fmt.Errorf("bad number of jobs: %v", cfg.Jobs)
	}
	if cfg.OutDir == "" {
		return fmt.Errorf("no output directory specified")
	}
	if cfg.Boot == nil {
		return fmt.Errorf("no execution backend configured")
	}
	if cfg.NewTarget == nil {
		return fmt.Errorf("no target metadata provider configured")
	}
	if cfg.Generator == nil {
		return fmt.Errorf("no program generator configured")
	}
	if cfg.BenchInterval == 0 {
		cfg.BenchInterval = 10 * time.Second
	}
	return nil
}
