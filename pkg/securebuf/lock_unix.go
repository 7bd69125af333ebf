//go:build unix

package securebuf

import "golang.org/x/sys/unix"

// lockMemory keeps the pages spanning p out of swap. Failure (typically
// RLIMIT_MEMLOCK) is not fatal; the caller records that the storage is
// unlocked. Locks cover whole pages and do not nest, so unlockMemory on one
// allocation may unlock a page shared with another.
func lockMemory(p []byte) bool {
	if len(p) == 0 {
		return false
	}
	return unix.Mlock(p) == nil
}

func unlockMemory(p []byte) {
	if len(p) == 0 {
		return
	}
	_ = unix.Munlock(p)
}
