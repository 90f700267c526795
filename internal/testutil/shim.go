// Package testutil holds helpers shared by package tests.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
)

// WriteShim writes an executable POSIX shell script named name into a temp
// directory and returns its path. Tests are skipped where sh is unavailable.
func WriteShim(t testing.TB, name, body string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("shell shims are not supported on windows")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not found")
	}

	path := filepath.Join(t.TempDir(), name)
	script := "#!/bin/sh\n" + body + "\n"
	// #nosec G306 -- test helper script needs to be executable
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("failed to write %s shim: %v", name, err)
	}
	return path
}

// Touch creates path (and its parents) with the given content.
func Touch(t testing.TB, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
