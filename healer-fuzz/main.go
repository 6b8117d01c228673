// Copyright 2024 healer-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// healer-fuzz is the fuzzing session binary: it loads the target syscall
// descriptions, boots one executor subprocess per job and runs the fuzzing
// loop until interrupted.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/healer-fuzz/healer/pkg/fuzz"
	"github.com/healer-fuzz/healer/pkg/gen"
	"github.com/healer-fuzz/healer/pkg/log"
	"github.com/healer-fuzz/healer/pkg/osutil"
	"github.com/healer-fuzz/healer/pkg/prog"
)

var (
	flagTarget   = flag.String("target", "", "fuzzing target, e.g. linux/amd64")
	flagOut      = flag.String("out", "./output", "output directory for queue/crash/bench data")
	flagJobs     = flag.Int("jobs", 1, "number of parallel fuzzing jobs")
	flagConfig   = flag.String("config", "", "optional yaml config file (flags take precedence)")
	flagExecutor = flag.String("executor", "", "path to the executor binary")
	flagHTTP     = flag.String("http", "", "address to serve /metrics on (disabled when empty)")
)

// fileConfig mirrors the flags plus everything too structured for a flag.
type fileConfig struct {
	Target   string   `yaml:"target"`
	Out      string   `yaml:"out"`
	Jobs     int      `yaml:"jobs"`
	Executor string   `yaml:"executor"`
	Args     []string `yaml:"executor_args"`
	HTTP     string   `yaml:"http"`

	CullingThreshold int    `yaml:"culling_threshold"`
	CullingDuration  string `yaml:"culling_duration"`
	BenchInterval    string `yaml:"bench_interval"`

	Syscalls []struct {
		Name     string   `yaml:"name"`
		Consumes []string `yaml:"consumes"`
		Produces []string `yaml:"produces"`
	} `yaml:"syscalls"`
}

func main() {
	flag.Parse()
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("%v", err)
	}

	if cfg.HTTP != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.HTTP, mux); err != nil {
				log.Errorf("failed to serve metrics on %v: %v", cfg.HTTP, err)
			}
		}()
	}

	osArch := strings.SplitN(cfg.Target, "/", 2)
	executor, args := cfg.Executor, cfg.Args
	syscalls := cfg.Syscalls
	fuzzCfg := &fuzz.Config{
		Target: cfg.Target,
		OutDir: cfg.Out,
		Jobs:   cfg.Jobs,
		Boot: func(id int) (fuzz.Executor, error) {
			return bootExecutor(executor, args, osArch[0]+"/"+osArch[1], id)
		},
		NewTarget: func() (*prog.Target, error) {
			// Each worker gets a private instance: call counting keys off
			// syscall identity, which must not be shared between queues.
			calls := make([]*prog.Syscall, len(syscalls))
			for i, desc := range syscalls {
				calls[i] = &prog.Syscall{
					Name:     desc.Name,
					Consumes: desc.Consumes,
					Produces: desc.Produces,
				}
			}
			return prog.MakeTarget(osArch[0], osArch[1], calls), nil
		},
		Generator: func(id int) fuzz.Generator {
			return gen.New()
		},
		CullingThreshold: cfg.CullingThreshold,
		Registerer:       prometheus.DefaultRegisterer,
	}
	if fuzzCfg.CullingDuration, err = parseDuration("culling_duration", cfg.CullingDuration); err != nil {
		log.Fatalf("%v", err)
	}
	if fuzzCfg.BenchInterval, err = parseDuration("bench_interval", cfg.BenchInterval); err != nil {
		log.Fatalf("%v", err)
	}

	if err := fuzz.Loop(fuzzCfg); err != nil {
		log.Fatalf("%v", err)
	}
}

// loadConfig merges the optional yaml file and the flags (flags win) and
// validates everything that would otherwise fail deep inside a worker.
func loadConfig() (*fileConfig, error) {
	cfg := &fileConfig{}
	if *flagConfig != "" {
		data, err := os.ReadFile(*flagConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %v: %w", *flagConfig, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %v: %w", *flagConfig, err)
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "target":
			cfg.Target = *flagTarget
		case "out":
			cfg.Out = *flagOut
		case "jobs":
			cfg.Jobs = *flagJobs
		case "executor":
			cfg.Executor = *flagExecutor
		case "http":
			cfg.HTTP = *flagHTTP
		}
	})
	if cfg.Out == "" {
		cfg.Out = *flagOut
	}
	if cfg.Jobs == 0 {
		cfg.Jobs = *flagJobs
	}

	if parts := strings.SplitN(cfg.Target, "/", 2); len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("bad target %q, expected os/arch", cfg.Target)
	}
	if cfg.Executor == "" {
		return nil, fmt.Errorf("no executor binary specified")
	}
	if !osutil.IsExecutable(cfg.Executor) {
		return nil, fmt.Errorf("bad executor binary %q", cfg.Executor)
	}
	if len(cfg.Syscalls) == 0 {
		return nil, fmt.Errorf("config %v declares no syscalls", *flagConfig)
	}
	return cfg, nil
}

func parseDuration(what, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("bad %v %q: %w", what, s, err)
	}
	return d, nil
}
