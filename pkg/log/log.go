// Copyright 2024 healer-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package log provides functionality similar to standard log package with
// verbosity levels. Functions are safe for concurrent use.
package log

import (
	"flag"
	"fmt"
	golog "log"
	"os"
)

var flagV = flag.Int("vv", 0, "verbosity")

// V reports whether logging at the given level is enabled.
func V(level int) bool {
	return level <= *flagV
}

func Logf(level int, msg string, args ...interface{}) {
	if !V(level) {
		return
	}
	golog.Print(fmt.Sprintf(msg, args...))
}

func Errorf(msg string, args ...interface{}) {
	golog.Print("ERROR: " + fmt.Sprintf(msg, args...))
}

// Fatalf logs the message and terminates the process with non-zero status.
func Fatalf(msg string, args ...interface{}) {
	golog.Print("FATAL: " + fmt.Sprintf(msg, args...))
	os.Exit(1)
}
