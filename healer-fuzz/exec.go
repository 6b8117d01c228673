// Copyright 2024 healer-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/healer-fuzz/healer/pkg/fuzz"
	"github.com/healer-fuzz/healer/pkg/prog"
)

// The executor is a separate binary speaking a line-oriented JSON protocol
// over stdin/stdout: one request line per program, one reply line per run.
// The protocol is private to this file; the fuzzing core only sees the
// Executor interface.

type execRequest struct {
	Calls []string `json:"calls"`
}

type execCallReply struct {
	Branches []uint64 `json:"branches"`
	Errno    int      `json:"errno"`
}

type execReply struct {
	Calls    []execCallReply `json:"calls"`
	ResCount int             `json:"res_count"`
	Crashed  bool            `json:"crashed"`
	CrashSig string          `json:"crash_sig"`
	Report   string          `json:"report"`
}

type subprocExecutor struct {
	id    int
	cmd   *exec.Cmd
	stdin io.WriteCloser
	enc   *json.Encoder
	dec   *json.Decoder
}

// bootExecutor starts one executor subprocess for the given job. Any later
// protocol or process failure is fatal to the owning worker.
func bootExecutor(bin string, args []string, targetName string, id int) (fuzz.Executor, error) {
	argv := append(append([]string(nil), args...),
		"-target", targetName, "-job", strconv.Itoa(id))
	cmd := exec.Command(bin, argv...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to pipe executor stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to pipe executor stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start executor %v: %w", bin, err)
	}
	return &subprocExecutor{
		id:    id,
		cmd:   cmd,
		stdin: stdin,
		enc:   json.NewEncoder(stdin),
		dec:   json.NewDecoder(bufio.NewReader(stdout)),
	}, nil
}

func (e *subprocExecutor) Exec(p *prog.Prog) (*fuzz.ExecResult, error) {
	req := execRequest{Calls: make([]string, len(p.Calls))}
	for i, c := range p.Calls {
		req.Calls[i] = c.Meta.Name
	}
	begin := time.Now()
	if err := e.enc.Encode(req); err != nil {
		return nil, fmt.Errorf("executor-%v: failed to send program: %w", e.id, err)
	}
	var reply execReply
	if err := e.dec.Decode(&reply); err != nil {
		return nil, fmt.Errorf("executor-%v: failed to read reply: %w", e.id, err)
	}
	res := &fuzz.ExecResult{
		Calls:    make([]fuzz.CallResult, len(reply.Calls)),
		ExecTime: time.Since(begin),
		ResCount: reply.ResCount,
		Crashed:  reply.Crashed,
		CrashSig: reply.CrashSig,
		Report:   []byte(reply.Report),
	}
	for i, call := range reply.Calls {
		res.Calls[i] = fuzz.CallResult{Branches: call.Branches, Errno: call.Errno}
	}
	return res, nil
}

func (e *subprocExecutor) Close() error {
	// Closing stdin signals the executor to exit; kill if it does not.
	e.stdin.Close()
	done := make(chan error, 1)
	go func() {
		done <- e.cmd.Wait()
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		e.cmd.Process.Kill()
		return <-done
	}
}
