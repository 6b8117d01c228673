// Copyright 2024 healer-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzz

import (
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/healer-fuzz/healer/pkg/corpus"
	"github.com/healer-fuzz/healer/pkg/log"
	"github.com/healer-fuzz/healer/pkg/osutil"
	"github.com/healer-fuzz/healer/pkg/stats"
)

const banner = `
 ___   ___   ______   ________   __       ______   ______
/__/\ /__/\ /_____/\ /_______/\ /_/\     /_____/\ /_____/\
\::\ \\  \ \\::::_\/_\::: _  \ \\:\ \    \::::_\/_\:::_ \ \
 \::\/_\ .\ \\:\/___/\\::(_)  \ \\:\ \    \:\/___/\\:(_) ) )_
  \:: ___::\ \\::___\/_\:: __  \ \\:\ \____\::___\/_\: __ ` + "`" + `\ \
   \: \ \\::\ \\:\____/\\:.\ \  \ \\:\/___/\\:\____/\\ \ ` + "`" + `\ \ \
    \__\/ \::\/ \_____\/ \__\/\__\/ \_____\/ \_____\/ \_\/ \_\/`

// Loop is the orchestrator: it allocates the shared state, spawns the
// workers, releases them together once every execution backend has booted,
// and then serves periodic stats snapshots until a cooperative shutdown.
func Loop(cfg *Config) error {
	if err := cfg.Check(); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if err := makeOutDir(cfg.OutDir); err != nil {
		return err
	}

	set := stats.NewSet(cfg.Registerer)
	shared := NewSharedState(set)
	fstats := NewStats(set)

	// Barrier of jobs+1: fuzzing is not considered started until every
	// worker has booted its own backend; all are then released together.
	var booted sync.WaitGroup
	booted.Add(cfg.Jobs)
	start := make(chan struct{})

	log.Logf(0, "booting %v x %v...", cfg.Jobs, cfg.Target)
	bootBegin := time.Now()

	var g errgroup.Group
	for id := 0; id < cfg.Jobs; id++ {
		id := id
		g.Go(func() error {
			runWorker(id, cfg, shared, fstats, &booted, start)
			return nil
		})
	}

	booted.Wait()
	close(start)
	fmt.Println(banner)
	log.Logf(0, "boot finished, cost %v", time.Since(bootBegin).Round(time.Second))
	log.Logf(0, "let the fuzz begin")

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, unix.SIGINT, unix.SIGTERM)
	go func() {
		select {
		case sig := <-sigC:
			log.Logf(0, "received %v, waiting for fuzzers to exit...", sig)
		case <-cfg.Shutdown:
			log.Logf(0, "shutdown requested, waiting for fuzzers to exit...")
		}
		shared.Stop.Store(true)
	}()

	set.BenchLoop(cfg.BenchInterval, cfg.OutDir, &shared.Stop)
	err := g.Wait()
	if dumpErr := shared.Crashes.Dump(cfg.OutDir); dumpErr != nil {
		log.Logf(0, "failed to dump crash data: %v", dumpErr)
	}
	total, unique := shared.Crashes.Counts()
	log.Logf(0, "done: %v branches (%v calibrated), %v crashes (%v unique)",
		shared.MaxCover.Len(), shared.CalibratedCover.Len(), total, unique)
	return err
}

// runWorker boots one worker and runs its fuzz loop. All boot failures are
// fatal: a worker cannot usefully exist without its queue and backend.
func runWorker(id int, cfg *Config, shared *SharedState, fstats *Stats,
	booted *sync.WaitGroup, start <-chan struct{}) {
	target, err := cfg.NewTarget()
	if err != nil {
		log.Fatalf("fuzzer-%v: failed to load target %v: %v", id, cfg.Target, err)
	}
	rnd := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)*1e12))
	queue, err := corpus.WithWorkdir(id, cfg.OutDir, rnd)
	if err != nil {
		log.Fatalf("fuzzer-%v: failed to initialize queue: %v", id, err)
	}
	if cfg.CullingThreshold != 0 && cfg.CullingDuration != 0 {
		queue.SetCullingLimits(cfg.CullingThreshold, cfg.CullingDuration)
	}
	if id == 0 {
		// Only job 0 exports queue stats.
		queue.SetStats(corpus.NewStats(shared.Stats))
	}
	exec, err := cfg.Boot(id)
	if err != nil {
		log.Fatalf("fuzzer-%v: failed to boot execution backend: %v", id, err)
	}

	booted.Done()
	<-start

	fuzzer := NewFuzzer(id, shared, fstats, target, queue, exec, cfg.Generator(id), rnd)
	fuzzer.Loop()
}

func makeOutDir(dir string) error {
	if osutil.IsDir(dir) {
		crashDir := filepath.Join(dir, "crashes")
		if osutil.IsExist(crashDir) {
			log.Logf(0, "existing crash data (%v) may be overwritten", crashDir)
		}
		return nil
	}
	if err := osutil.MkdirAll(dir); err != nil {
		return fmt.Errorf("failed to create output directory %v: %w", dir, err)
	}
	return nil
}
