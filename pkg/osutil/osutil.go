// Copyright 2024 healer-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package osutil contains filesystem helpers shared by corpus persistence
// and the binary's config validation.
package osutil

import (
	"fmt"
	"os"
)

const (
	DefaultDirPerm  = 0755
	DefaultFilePerm = 0644
)

func MkdirAll(dir string) error {
	return os.MkdirAll(dir, DefaultDirPerm)
}

func WriteFile(filename string, data []byte) error {
	return os.WriteFile(filename, data, DefaultFilePerm)
}

// IsExist reports whether the file or directory exists.
func IsExist(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

func IsDir(name string) bool {
	st, err := os.Stat(name)
	return err == nil && st.IsDir()
}

// IsExecutable reports whether the file exists and has an executable bit set.
func IsExecutable(name string) bool {
	st, err := os.Stat(name)
	return err == nil && st.Mode().IsRegular() && st.Mode()&0111 != 0
}

// CheckDirExists returns a descriptive error naming the path when dir is
// missing or not a directory. Used for fatal config validation.
func CheckDirExists(what, dir string) error {
	if !IsDir(dir) {
		return fmt.Errorf("bad %v directory %q", what, dir)
	}
	return nil
}
