// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Bambustat - Bambu Lab printer monitor and control
//
// A CLI tool for monitoring and operating Bambu Lab printers in LAN mode
// from a terminal, a remote display or a serial touchscreen.

package main

import (
	"os"

	"github.com/Thermoquad/bambustat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
