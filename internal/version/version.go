/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version provides build information.
package version

import (
	"fmt"
	"runtime"
)

// Version is the current version of timelapse.
// This is set at build time via ldflags:
//
//	-X github.com/friendsincode/timelapse/internal/version.Version=X.Y.Z
var Version = "0.3.0"

// Commit is the git commit the binary was built from.
var Commit = "dev"

// String returns a one-line description of the build.
func String() string {
	return fmt.Sprintf("timelapse %s (%s, %s)", Version, Commit, runtime.Version())
}
