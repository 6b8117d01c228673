// Copyright 2024 healer-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package prog holds the minimal syscall/program model the fuzzing core
// consumes. Loading of the full target descriptions is the job of an
// external metadata provider; the core only needs call identity, resource
// kinds and a textual serialization.
package prog

import (
	"bytes"
	"fmt"
	"strings"
)

// Syscall is the identity used as a key in corpus call-count tables.
type Syscall struct {
	ID   int
	Name string
	// Resource kinds this call consumes/produces. A call consuming a kind
	// nothing earlier in the program produces makes the program depend on
	// externally created handles.
	Consumes []string
	Produces []string
}

type Target struct {
	OS       string
	Arch     string
	Revision string

	Syscalls   []*Syscall
	SyscallMap map[string]*Syscall
}

func (target *Target) Name() string {
	return target.OS + "/" + target.Arch
}

// MakeTarget assembles a target from already-loaded syscall metadata.
func MakeTarget(os, arch string, syscalls []*Syscall) *Target {
	target := &Target{
		OS:         os,
		Arch:       arch,
		Syscalls:   syscalls,
		SyscallMap: make(map[string]*Syscall, len(syscalls)),
	}
	for i, call := range syscalls {
		call.ID = i
		target.SyscallMap[call.Name] = call
	}
	return target
}

type Call struct {
	Meta *Syscall
}

// Prog is an ordered sequence of calls; immutable once accepted into a
// corpus queue.
type Prog struct {
	Target *Target
	Calls  []*Call
}

func (p *Prog) Len() int {
	return len(p.Calls)
}

// Size returns the serialized byte size.
func (p *Prog) Size() int {
	return len(p.Serialize())
}

func (p *Prog) Clone() *Prog {
	calls := make([]*Call, len(p.Calls))
	for i, c := range p.Calls {
		calls[i] = &Call{Meta: c.Meta}
	}
	return &Prog{Target: p.Target, Calls: calls}
}

// Serialize renders the program in the textual corpus format, one call per
// line.
func (p *Prog) Serialize() []byte {
	var b bytes.Buffer
	for _, c := range p.Calls {
		fmt.Fprintf(&b, "%v()\n", c.Meta.Name)
	}
	return b.Bytes()
}

func (p *Prog) String() string {
	names := make([]string, len(p.Calls))
	for i, c := range p.Calls {
		names[i] = c.Meta.Name
	}
	return strings.Join(names, "-")
}

// SelfContained reports whether every resource kind consumed by a call is
// produced by an earlier call of the same program, i.e. the program does
// not depend on handles created elsewhere.
func (p *Prog) SelfContained() bool {
	produced := make(map[string]bool)
	for _, c := range p.Calls {
		for _, kind := range c.Meta.Consumes {
			if !produced[kind] {
				return false
			}
		}
		for _, kind := range c.Meta.Produces {
			produced[kind] = true
		}
	}
	return true
}
