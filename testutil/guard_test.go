package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAssertNoDirectImportsFindsViolation(t *testing.T) {
	dir := t.TempDir()
	src := "package probe\n\nimport _ \"entitycore/internal/core\"\n"
	if err := os.WriteFile(filepath.Join(dir, "probe.go"), []byte(src), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	viols, err := directImportViolations(dir, FacadeImport)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || !strings.Contains(viols[0], "entitycore/internal/core") {
		t.Fatalf("violations = %v", viols)
	}

	viols, err = directImportViolations(dir, func(string) bool { return false })
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 0 {
		t.Fatalf("unexpected violations: %v", viols)
	}
}

func TestPredicates(t *testing.T) {
	if !InternalImport("entitycore/internal/engine") {
		t.Fatalf("internal path not matched")
	}
	if InternalImport("entitycore/pkg/domain") {
		t.Fatalf("public path matched as internal")
	}
	if !FacadeImport("entitycore/internal/core") {
		t.Fatalf("facade path not matched")
	}
	if FacadeImport("entitycore/internal/codec") {
		t.Fatalf("non-facade internal path matched")
	}
}
