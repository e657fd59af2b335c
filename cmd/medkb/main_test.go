package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"medkb/internal/config"
)

const corpus = `{
  "metadata": {"version": "1.0", "last_updated": "2024-01-01T00:00:00Z"},
  "facts": {"symptoms": ["fever", "cough", "fatigue", "sore throat", "runny nose"]},
  "diseases": [
    {"id": "flu", "name": "Influenza", "symptoms": ["fever", "cough", "fatigue"], "description": "", "diagnostics": [], "treatment": [], "references": ""},
    {"id": "cold", "name": "Common Cold", "symptoms": ["runny nose", "sore throat"], "description": "", "diagnostics": [], "treatment": [], "references": ""},
    {"id": "strep", "name": "Strep Throat", "symptoms": ["sore throat", "fever"], "description": "", "diagnostics": [], "treatment": [], "references": ""}
  ],
  "rules": [
    {"id": "R1", "if_symptoms": ["fever", "cough", "fatigue"], "then_disease_id": "flu", "confidence": 0.9},
    {"id": "R2", "if_symptoms": ["fever", "cough"], "then_disease_id": "flu", "confidence": 0.8},
    {"id": "R3", "if_symptoms": ["runny nose", "sore throat"], "then_disease_id": "cold", "confidence": 0.7},
    {"id": "R4", "if_symptoms": ["sore throat", "fever"], "then_disease_id": "strep", "confidence": 0.6}
  ]
}`

type workspace struct {
	dir        string
	configPath string
	history    string
}

// newWorkspace writes a config pointing the file driver into a temp dir.
func newWorkspace(t *testing.T) workspace {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Storage.CorpusPath = filepath.Join(dir, "kb.json")
	cfg.Logging.Level = "error"
	cfg.History.Path = filepath.Join(dir, "history.jsonl")
	path := filepath.Join(dir, "medkb.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save config: %v", err)
	}
	return workspace{dir: dir, configPath: path, history: cfg.History.Path}
}

func (w workspace) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func (w workspace) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", w.configPath}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (w workspace) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := w.run(t, args...)
	if err != nil {
		t.Fatalf("medkb %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func TestMissingCorpusHintsImport(t *testing.T) {
	ws := newWorkspace(t)
	_, err := ws.run(t, "status")
	if err == nil || !strings.Contains(err.Error(), "medkb import") {
		t.Fatalf("expected import hint, got %v", err)
	}
}

func TestImportStatusInfer(t *testing.T) {
	ws := newWorkspace(t)
	src := ws.write(t, "seed.json", corpus)
	out := ws.mustRun(t, "import", src)
	if !strings.Contains(out, "valid") {
		t.Fatalf("import summary missing status:\n%s", out)
	}
	out = ws.mustRun(t, "status")
	if !strings.Contains(out, "diseases:") || !strings.Contains(out, "3") {
		t.Fatalf("unexpected status output:\n%s", out)
	}
	out = ws.mustRun(t, "infer", "Fever", "cough")
	if !strings.Contains(out, "Influenza (flu)") || !strings.Contains(out, "80%") || !strings.Contains(out, "Rule 'R2' fired") {
		t.Fatalf("unexpected infer output:\n%s", out)
	}
	out = ws.mustRun(t, "--json", "infer", "headache")
	if strings.TrimSpace(out) != "[]" {
		t.Fatalf("unknown symptom should yield an empty list, got %q", out)
	}
	history, err := os.ReadFile(ws.history)
	if err != nil {
		t.Fatalf("read history: %v", err)
	}
	if n := strings.Count(string(history), "\n"); n != 2 {
		t.Fatalf("expected two history lines, got %d", n)
	}
}

func TestValidateFailsOnErrors(t *testing.T) {
	ws := newWorkspace(t)
	ws.mustRun(t, "import", ws.write(t, "seed.json", strings.Replace(corpus, `"then_disease_id": "strep"`, `"then_disease_id": "ghost"`, 1)))
	out, err := ws.run(t, "validate")
	if err == nil {
		t.Fatalf("expected validate to fail")
	}
	if !strings.Contains(out, "dangling_disease_reference") {
		t.Fatalf("report should name the dangling rule:\n%s", out)
	}
	if _, err := ws.run(t, "infer", "fever"); err == nil {
		t.Fatalf("inference must refuse an invalid knowledge base")
	}
	// Adding the missing disease repairs the corpus.
	ws.mustRun(t, "disease", "add", "--id", "ghost", "--name", "Ghost Fever")
	ws.mustRun(t, "validate")
}

func TestEditCommands(t *testing.T) {
	ws := newWorkspace(t)
	ws.mustRun(t, "import", ws.write(t, "seed.json", corpus))

	out := ws.mustRun(t, "symptom", "add", "Nausea")
	if !strings.Contains(out, "create symptom nausea") {
		t.Fatalf("unexpected symptom add output:\n%s", out)
	}
	if _, err := ws.run(t, "symptom", "add", "nausea"); err == nil {
		t.Fatalf("duplicate symptom should be rejected")
	}
	out = ws.mustRun(t, "symptom", "rename", "sore throat", "pharyngitis")
	if !strings.Contains(out, "rule R3 (cascade)") {
		t.Fatalf("rename should cascade into rules:\n%s", out)
	}

	ws.mustRun(t, "disease", "add", "--name", "Gastroenteritis", "--symptoms", "nausea,diarrhea", "--register-symptoms")
	out = ws.mustRun(t, "rule", "add", "--if", "nausea,diarrhea", "--then", "gastroenteritis", "--confidence", "0.7")
	if !strings.Contains(out, "create rule R5") {
		t.Fatalf("expected rule R5:\n%s", out)
	}
	if _, err := ws.run(t, "rule", "add", "--if", "fever", "--then", "ghost", "--confidence", "0.5"); err == nil {
		t.Fatalf("dangling rule should be rejected")
	}
	if _, err := ws.run(t, "rule", "add", "--if", "vertigo", "--then", "cold", "--confidence", "0.3"); err == nil {
		t.Fatalf("unknown symptom should be rejected without registration")
	}
	out = ws.mustRun(t, "rule", "add", "--if", "vertigo", "--then", "cold", "--confidence", "0.3", "--register-symptoms")
	if !strings.Contains(out, "create rule R6") || !strings.Contains(out, "create symptom vertigo") {
		t.Fatalf("expected R6 and the vertigo symptom:\n%s", out)
	}

	if _, err := ws.run(t, "disease", "delete", "flu"); err == nil {
		t.Fatalf("referenced disease delete should be rejected")
	}
	out = ws.mustRun(t, "disease", "delete", "flu", "--cascade")
	if !strings.Contains(out, "delete rule R1 (cascade)") || !strings.Contains(out, "delete rule R2 (cascade)") {
		t.Fatalf("cascade should delete the flu rules:\n%s", out)
	}
	ws.mustRun(t, "rule", "delete", "R5")
	ws.mustRun(t, "symptom", "delete", "diarrhea")

	out = ws.mustRun(t, "search", "--symptom", "nausea")
	if !strings.Contains(out, "gastroenteritis") {
		t.Fatalf("search by symptom missed the new disease:\n%s", out)
	}
	out = ws.mustRun(t, "support", "cold")
	if !strings.Contains(out, "R3: runny nose, pharyngitis") {
		t.Fatalf("unexpected support output:\n%s", out)
	}
}

func TestBatchCommand(t *testing.T) {
	ws := newWorkspace(t)
	ws.mustRun(t, "import", ws.write(t, "seed.json", corpus))
	cases := ws.write(t, "cases.txt", "# triage\nfever,cough\n\nrunny nose, sore throat\n")
	out := ws.mustRun(t, "batch", cases)
	if !strings.Contains(out, "# case 1: fever, cough") || !strings.Contains(out, "Common Cold (cold)") {
		t.Fatalf("unexpected batch output:\n%s", out)
	}
	if strings.Contains(out, "# case 3") {
		t.Fatalf("comments and blank lines should be skipped:\n%s", out)
	}
}

func TestServeRouter(t *testing.T) {
	ws := newWorkspace(t)
	ws.mustRun(t, "import", ws.write(t, "seed.json", corpus))

	root := newRootCmd()
	root.SetContext(context.Background())
	a := &app{configPath: ws.configPath}
	if err := a.setup(root); err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer a.teardown()
	if _, err := a.load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	router := a.router()

	for _, path := range []string{"/api/v1/status", "/metrics", "/debug/vars"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s: %d", path, w.Code)
		}
		if path == "/metrics" && !strings.Contains(w.Body.String(), `medkb_operations_total{operation="load",status="success"} 1`) {
			t.Fatalf("metrics missing load counter:\n%s", w.Body.String())
		}
	}
}
