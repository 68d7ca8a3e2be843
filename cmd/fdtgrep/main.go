// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package main

import (
	"log"
	"os"
)

func main() {
	os.Exit(fdtgrepMain())
}

// fdtgrepMain runs the command and returns its exit code rather than
// calling os.Exit directly, so the testscript harness in script_test.go
// can register it as the "fdtgrep" program.
func fdtgrepMain() int {
	log.SetFlags(log.Lmicroseconds)

	if err := newRootCmd().Execute(); err != nil {
		log.Printf("fdtgrep: %v", err)
		return 1
	}
	return 0
}
