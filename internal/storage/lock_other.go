//go:build !(linux || darwin || freebsd || openbsd || netbsd || dragonfly)

package storage

import "os"

// File locking is not supported on this platform
func lockFile(*os.File) error { return nil }

func unlockFile(*os.File) error { return nil }
