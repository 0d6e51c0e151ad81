package preflight_test

import (
	"path/filepath"
	"testing"

	"scoreforge/internal/preflight"
)

func TestCheckDirectoryAccess(t *testing.T) {
	dir := t.TempDir()
	result := preflight.CheckDirectoryAccess("Storage directory", dir)
	if !result.Passed {
		t.Errorf("writable directory failed: %s", result.Detail)
	}

	result = preflight.CheckDirectoryAccess("Storage directory", filepath.Join(dir, "missing"))
	if result.Passed {
		t.Error("missing directory passed")
	}
}
