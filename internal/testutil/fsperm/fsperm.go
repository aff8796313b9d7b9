package fsperm

import (
	"os"
	"runtime"
	"testing"
)

// AssertPrivate verifies that path exists with exactly the given permission
// bits. Windows has no POSIX modes and is skipped.
func AssertPrivate(t testing.TB, path string, want os.FileMode) {
	t.Helper()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	if runtime.GOOS == "windows" {
		return
	}
	if perm := info.Mode().Perm(); perm != want {
		t.Fatalf("expected perm %04o, got %04o for %s", want, perm, path)
	}
}

// AssertPrivateFile checks a key or credential file is owner read/write only.
func AssertPrivateFile(t testing.TB, path string) {
	t.Helper()
	AssertPrivate(t, path, 0o600)
}

func AssertPrivateDir(t testing.TB, dir string) {
	t.Helper()
	AssertPrivate(t, dir, 0o700)
}
