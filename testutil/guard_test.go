package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type recordingFatal struct {
	msg string
}

func (r *recordingFatal) Fatalf(format string, args ...any) {
	r.msg = fmt.Sprintf(format, args...)
}

func TestPredicates(t *testing.T) {
	cases := []struct {
		name string
		pred ImportPredicate
		in   string
		want bool
	}{
		{"internal", InternalImport, "medkb/internal/core", true},
		{"internal root", InternalImport, "medkb/internal", true},
		{"internal lookalike", InternalImport, "medkb/internalize", false},
		{"public", InternalImport, "medkb/pkg/domain", false},
		{"core", CoreImport, "medkb/internal/core", true},
		{"not core", CoreImport, "medkb/internal/config", false},
		{"gin", TransportImport, "github.com/gin-gonic/gin", true},
		{"cobra", TransportImport, "github.com/spf13/cobra", true},
		{"net/http", TransportImport, "net/http/httptest", true},
		{"zap", TransportImport, "go.uber.org/zap", false},
		{"third party", ThirdPartyImport, "go.uber.org/zap", true},
		{"stdlib", ThirdPartyImport, "encoding/json", false},
		{"module", ThirdPartyImport, "medkb/pkg/domain", false},
	}
	for _, tc := range cases {
		if got := tc.pred(tc.in); got != tc.want {
			t.Fatalf("%s: predicate(%q)=%v want %v", tc.name, tc.in, got, tc.want)
		}
	}
	either := AnyOf(CoreImport, TransportImport)
	if !either("github.com/gin-gonic/gin") || !either("medkb/internal/core") || either("fmt") {
		t.Fatalf("AnyOf should match either predicate")
	}
}

func writeFile(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package tmp\nimport (\n\t\"fmt\"\n\t\"medkb/internal/core\"\n)\nvar _ = fmt.Sprint\n")
	writeFile(t, dir, "a_test.go", "package tmp\nimport \"github.com/gin-gonic/gin\"\n")
	writeFile(t, dir, "notes.txt", "import \"medkb/internal/config\"")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, filepath.Join(dir, "sub"), "b.go", "package sub\nimport \"medkb/internal/config\"\n")

	viols, err := directImportViolations(dir, AnyOf(InternalImport, TransportImport))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || viols[0] != "medkb/internal/core (in a.go)" {
		t.Fatalf("expected only the non-test internal import, got %v", viols)
	}
	AssertNoDirectImports(t, dir, TransportImport, "test files and subdirectories are skipped")
}

func TestDirectImportViolationsParseError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.go", "package\n")
	if _, err := directImportViolations(dir, InternalImport); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := directImportViolations(filepath.Join(dir, "missing"), InternalImport); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestTransitiveDependencyUsesGoList(t *testing.T) {
	orig := goListDeps
	defer func() { goListDeps = orig }()

	goListDeps = func(string) ([]byte, error) {
		return []byte("fmt\nmedkb/pkg/domain\n\ngithub.com/gin-gonic/gin\n"), nil
	}
	rec := &recordingFatal{}
	out, _ := goListDeps("./...")
	failIfViolations(rec, "transitive dependency", "engine stays transport free", matchLines(string(out), TransportImport))
	if !strings.Contains(rec.msg, "github.com/gin-gonic/gin") || !strings.Contains(rec.msg, "engine stays transport free") {
		t.Fatalf("unexpected failure message %q", rec.msg)
	}
	AssertNoTransitiveDependency(t, "./...", InternalImport, "stubbed output has no internal packages")

	if got := matchLines("", InternalImport); got != nil {
		t.Fatalf("empty output should not match, got %v", got)
	}
}
