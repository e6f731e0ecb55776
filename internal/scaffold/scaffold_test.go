package scaffold

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/autoforge/autoforge/pkg/models"
)

// stubClient answers every request with canned content.
type stubClient struct {
	content string
	fail    bool
	seen    []string
}

func (s *stubClient) Send(ctx context.Context, req *models.InferenceRequest, timeout time.Duration) (*models.InferenceResponse, error) {
	s.seen = append(s.seen, req.Prompt)
	if s.fail {
		return nil, fmt.Errorf("backend down")
	}
	return &models.InferenceResponse{RequestID: req.RequestID, Status: "success", GeneratedCode: s.content}, nil
}

func (s *stubClient) Cancel(string)   {}
func (s *stubClient) Available() bool { return true }
func (s *stubClient) Close() error    { return nil }

var testConfig = ProjectConfig{
	Name:        "todoapp",
	Description: "a todo list service",
	Framework:   "net/http",
	Structure: map[string]string{
		"internal/api":     "HTTP handlers",
		"internal/storage": "persistence layer",
	},
}

func TestCreateBuildsStructure(t *testing.T) {
	root := t.TempDir()
	client := &stubClient{content: "generated"}
	s := New(client, nil, models.GenerationParams{MaxTokens: 256}, time.Second, zerolog.Nop())

	path, err := s.Create(context.Background(), root, testConfig)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if path != filepath.Join(root, "todoapp") {
		t.Errorf("path = %q", path)
	}

	for dir, want := range testConfig.Structure {
		readme := filepath.Join(path, dir, "README.md")
		data, err := os.ReadFile(readme)
		if err != nil {
			t.Fatalf("missing %s: %v", readme, err)
		}
		if !strings.Contains(string(data), want) {
			t.Errorf("%s = %q, want %q", readme, data, want)
		}
	}

	for _, core := range []string{"README.md", "main.go", "go.mod"} {
		if _, err := os.Stat(filepath.Join(path, core)); err != nil {
			t.Errorf("core file %s not written: %v", core, err)
		}
	}
}

func TestCreateSurvivesBackendFailure(t *testing.T) {
	root := t.TempDir()
	client := &stubClient{fail: true}
	s := New(client, nil, models.GenerationParams{}, time.Second, zerolog.Nop())

	path, err := s.Create(context.Background(), root, testConfig)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// Structure still exists even though every generation failed.
	if _, err := os.Stat(filepath.Join(path, "internal/api")); err != nil {
		t.Errorf("structure missing after backend failure: %v", err)
	}
	if _, err := os.Stat(filepath.Join(path, "main.go")); err == nil {
		t.Error("main.go written despite failed generation")
	}
}

func TestTemplateStoreRender(t *testing.T) {
	dir := t.TempDir()
	tdir := filepath.Join(dir, "main_go")
	if err := os.MkdirAll(tdir, 0o755); err != nil {
		t.Fatal(err)
	}
	manifest := "default: default.tmpl\nframeworks:\n  gin: gin.tmpl\n"
	if err := os.WriteFile(filepath.Join(tdir, "template.yaml"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tdir, "default.tmpl"), []byte("plain {{.Name}}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tdir, "gin.tmpl"), []byte("gin app {{.Name}}"), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := LoadTemplates(dir)
	if err != nil {
		t.Fatalf("LoadTemplates: %v", err)
	}
	if !store.Has("main.go") {
		t.Fatal("Has(main.go) = false")
	}

	got, err := store.Render("main.go", "gin", ProjectConfig{Name: "todoapp"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "gin app todoapp" {
		t.Errorf("Render = %q", got)
	}

	got, err = store.Render("main.go", "unknown-framework", ProjectConfig{Name: "todoapp"})
	if err != nil {
		t.Fatalf("Render default: %v", err)
	}
	if got != "plain todoapp" {
		t.Errorf("Render default = %q", got)
	}

	if _, err := store.Render("nope.go", "", nil); err == nil {
		t.Error("Render of unknown template should fail")
	}
}

func TestTemplateOverridesCorePrompt(t *testing.T) {
	dir := t.TempDir()
	tdir := filepath.Join(dir, "readme_md")
	if err := os.MkdirAll(tdir, 0o755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(tdir, "template.yaml"), []byte("default: body.tmpl\n"), 0o644)
	os.WriteFile(filepath.Join(tdir, "body.tmpl"), []byte("custom prompt for {{.Name}}"), 0o644)

	store, err := LoadTemplates(dir)
	if err != nil {
		t.Fatalf("LoadTemplates: %v", err)
	}

	client := &stubClient{content: "generated"}
	s := New(client, store, models.GenerationParams{}, time.Second, zerolog.Nop())
	if _, err := s.Create(context.Background(), t.TempDir(), testConfig); err != nil {
		t.Fatalf("Create: %v", err)
	}

	var found bool
	for _, prompt := range client.seen {
		if prompt == "custom prompt for todoapp" {
			found = true
		}
	}
	if !found {
		t.Errorf("template prompt never sent; prompts = %v", client.seen)
	}
}
