// Copyright 2024 healer-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzz

import (
	"crypto/sha1"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/healer-fuzz/healer/pkg/log"
	"github.com/healer-fuzz/healer/pkg/osutil"
)

const (
	// Capacity of the raw (untriaged) crash report ring; insertion past it
	// drops the oldest entry.
	rawCrashCap = 1024

	// How much of a raw report is retained (head/tail bytes).
	reportHead = 16 << 10
	reportTail = 16 << 10
)

// Crash aggregates all occurrences of one crash signature.
type Crash struct {
	Sig   string
	Count int
	First time.Time
	Last  time.Time
}

// Repro is the serialized program that first triggered a signature; actual
// reproduction/minimization is the job of external triage.
type Repro struct {
	Sig   string
	Prog  []byte
	Found time.Time
}

// RawCrash is one untriaged crash report.
type RawCrash struct {
	ID     uuid.UUID
	Job    int
	Time   time.Time
	Sig    string
	Report []byte
}

// CrashTable is the process-wide crash/dedup state shared by all workers.
type CrashTable struct {
	mu      sync.Mutex
	crashes map[string]*Crash
	repros  map[string]*Repro
	raw     []*RawCrash
	rawPos  int
}

func NewCrashTable() *CrashTable {
	return &CrashTable{
		crashes: make(map[string]*Crash),
		repros:  make(map[string]*Repro),
		raw:     make([]*RawCrash, 0, rawCrashCap),
	}
}

// Record registers one crash occurrence and returns whether the signature
// is new. The raw report is truncated and pushed to the bounded ring; the
// triggering program is kept as a reproduction candidate for new
// signatures.
func (t *CrashTable) Record(job int, sig string, report, progText []byte) bool {
	now := time.Now()
	raw := &RawCrash{
		ID:     uuid.New(),
		Job:    job,
		Time:   now,
		Sig:    sig,
		Report: log.Truncate(report, reportHead, reportTail),
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.raw) < rawCrashCap {
		t.raw = append(t.raw, raw)
	} else {
		t.raw[t.rawPos] = raw
		t.rawPos = (t.rawPos + 1) % rawCrashCap
	}

	crash := t.crashes[sig]
	if crash != nil {
		crash.Count++
		crash.Last = now
		return false
	}
	t.crashes[sig] = &Crash{Sig: sig, Count: 1, First: now, Last: now}
	t.repros[sig] = &Repro{Sig: sig, Prog: progText, Found: now}
	return true
}

// Repro returns the reproduction candidate for a signature, if any.
func (t *CrashTable) Repro(sig string) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	repro, ok := t.repros[sig]
	if !ok {
		return nil, false
	}
	return repro.Prog, true
}

// Counts returns the total and unique crash counts.
func (t *CrashTable) Counts() (total, unique int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, crash := range t.crashes {
		total += crash.Count
	}
	return total, len(t.crashes)
}

// Dump persists the table under dir/crashes: one directory per signature
// (named by the signature hash) holding a description file, the repro
// candidate and the retained raw reports.
func (t *CrashTable) Dump(dir string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	crashDir := filepath.Join(dir, "crashes")
	for sig, crash := range t.crashes {
		sigDir := filepath.Join(crashDir, fmt.Sprintf("%x", sha1.Sum([]byte(sig))))
		if err := osutil.MkdirAll(sigDir); err != nil {
			return err
		}
		desc := fmt.Sprintf("%v\ncount: %v\nfirst: %v\nlast: %v\n",
			sig, crash.Count, crash.First.Format(time.RFC3339), crash.Last.Format(time.RFC3339))
		if err := osutil.WriteFile(filepath.Join(sigDir, "description"), []byte(desc)); err != nil {
			return err
		}
		if repro := t.repros[sig]; repro != nil {
			if err := osutil.WriteFile(filepath.Join(sigDir, "repro.prog"), repro.Prog); err != nil {
				return err
			}
		}
	}
	for i, raw := range t.raw {
		sigDir := filepath.Join(crashDir, fmt.Sprintf("%x", sha1.Sum([]byte(raw.Sig))))
		name := fmt.Sprintf("report-%v-%v", i, raw.ID)
		if err := osutil.WriteFile(filepath.Join(sigDir, name), raw.Report); err != nil {
			return err
		}
	}
	return nil
}

// RawReports returns a copy of the retained raw reports, oldest first.
func (t *CrashTable) RawReports() []*RawCrash {
	t.mu.Lock()
	defer t.mu.Unlock()
	res := make([]*RawCrash, 0, len(t.raw))
	res = append(res, t.raw[t.rawPos:]...)
	res = append(res, t.raw[:t.rawPos]...)
	return res
}
