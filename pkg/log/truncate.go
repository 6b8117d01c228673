// Copyright 2024 healer-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package log

import (
	"bytes"
	"fmt"
)

// Truncate bounds a (potentially huge) crash report before it is stored or
// logged: up to head bytes from the beginning and up to tail bytes from the
// end are kept, the middle is replaced with a cut marker.
func Truncate(report []byte, head, tail int) []byte {
	if head+tail >= len(report) {
		return report
	}
	cut := len(report) - head - tail
	var b bytes.Buffer
	b.Grow(head + tail + 32)
	b.Write(report[:head])
	if head > 0 {
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "<<cut %d bytes out>>", cut)
	if tail > 0 {
		b.WriteString("\n\n")
	}
	b.Write(report[len(report)-tail:])
	return b.Bytes()
}
