// Copyright 2024 healer-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package stats provides named counters and timers that are updated by all
// fuzzing workers concurrently and periodically snapshotted by one of them.
package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VividCortex/gohistogram"
	"github.com/healer-fuzz/healer/pkg/log"
	"github.com/prometheus/client_golang/prometheus"
)

// Set is a collection of vals. The orchestrator creates one Set per process
// and hands it to workers; there are no ambient globals so tests can use
// isolated instances.
type Set struct {
	mu   sync.Mutex
	vals []*Val
	prom prometheus.Registerer
}

// NewSet creates an empty stats set. registerer may be nil, in which case
// no prometheus metrics are exported.
func NewSet(registerer prometheus.Registerer) *Set {
	return &Set{prom: registerer}
}

// Val is a single named counter/timer. All mutating operations are atomic
// and may be called from any worker without extra locking.
type Val struct {
	Name string
	Desc string

	v    atomic.Int64
	hist *histogram
}

type histogram struct {
	mu sync.Mutex
	h  *gohistogram.NumericHistogram
}

type option func(*Val)

// Distribution makes the val track a streaming histogram of recorded
// samples; Val() then reports the median.
func Distribution() option {
	return func(v *Val) {
		v.hist = &histogram{h: gohistogram.NewHistogram(80)}
	}
}

// Create registers a new val in the set. Names must be unique within a set.
func (s *Set) Create(name, desc string, opts ...option) *Val {
	v := &Val{Name: name, Desc: desc}
	for _, opt := range opts {
		opt(v)
	}
	s.mu.Lock()
	for _, old := range s.vals {
		if old.Name == name {
			panic(fmt.Sprintf("duplicate stat %q", name))
		}
	}
	s.vals = append(s.vals, v)
	s.mu.Unlock()
	if s.prom != nil {
		s.prom.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: promName(v.Name),
			Help: desc,
		}, func() float64 { return float64(v.Val()) }))
	}
	return v
}

func promName(name string) string {
	r := strings.NewReplacer(" ", "_", "-", "_", "/", "_")
	return "healer_" + r.Replace(strings.ToLower(name))
}

func (v *Val) Add(delta int64) {
	v.v.Add(delta)
}

// Set stores an absolute value, overwriting the previous one.
func (v *Val) Set(val int64) {
	v.v.Store(val)
}

// SetNow stores the current unix time; used for "last X" timestamps.
func (v *Val) SetNow() {
	v.v.Store(time.Now().Unix())
}

// Record adds a sample to a Distribution val.
func (v *Val) Record(sample float64) {
	if v.hist == nil {
		panic(fmt.Sprintf("stat %q is not a distribution", v.Name))
	}
	v.hist.mu.Lock()
	v.hist.h.Add(sample)
	v.hist.mu.Unlock()
}

func (v *Val) Val() int64 {
	if v.hist != nil {
		v.hist.mu.Lock()
		defer v.hist.mu.Unlock()
		if v.hist.h.Count() == 0 {
			return 0
		}
		return int64(v.hist.h.Quantile(0.5))
	}
	return v.v.Load()
}

// Snapshot returns a consistent-enough copy of all vals keyed by name.
func (s *Set) Snapshot() map[string]int64 {
	s.mu.Lock()
	vals := make([]*Val, len(s.vals))
	copy(vals, s.vals)
	s.mu.Unlock()
	snap := make(map[string]int64, len(vals))
	for _, v := range vals {
		snap[v.Name] = v.Val()
	}
	return snap
}

// String renders the snapshot sorted by name, one val per line.
func (s *Set) String() string {
	snap := s.Snapshot()
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%v: %v\n", name, snap[name])
	}
	return b.String()
}

type benchRecord struct {
	TS    int64            `json:"ts"`
	Stats map[string]int64 `json:"stats"`
}

// BenchLoop appends a JSON snapshot line to out_dir/bench.json every
// interval until stop is observed. Persistence errors are warnings.
func (s *Set) BenchLoop(interval time.Duration, outDir string, stop *atomic.Bool) {
	bench := filepath.Join(outDir, "bench.json")
	f, err := os.OpenFile(bench, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Logf(0, "failed to open %v: %v, snapshots disabled", bench, err)
		f = nil
	} else {
		defer f.Close()
	}
	enc := json.NewEncoder(f)
	last := time.Now()
	for !stop.Load() {
		time.Sleep(interval / 100)
		if time.Since(last) < interval {
			continue
		}
		last = time.Now()
		if f == nil {
			continue
		}
		enc.Encode(&benchRecord{
			TS:    last.Unix(),
			Stats: s.Snapshot(),
		})
	}
}
