//go:build !unix

package securebuf

func lockMemory([]byte) bool { return false }

func unlockMemory([]byte) {}
