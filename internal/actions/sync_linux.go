//go:build linux

package actions

import "golang.org/x/sys/unix"

// syncFilesystems flushes dirty pages so drop_caches can release them.
func syncFilesystems() { unix.Sync() }
