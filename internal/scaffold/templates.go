package scaffold

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// templateManifest is the template.yaml sitting in each template directory.
// Default names the fallback body file; Frameworks maps a framework to a
// framework-specific body.
type templateManifest struct {
	Default    string            `yaml:"default"`
	Frameworks map[string]string `yaml:"frameworks"`
}

// TemplateStore loads prompt templates from a directory tree. Each
// subdirectory holds a template.yaml manifest plus one or more
// text/template bodies; the directory name is the template name.
type TemplateStore struct {
	dir       string
	manifests map[string]templateManifest
}

// LoadTemplates walks dir collecting every template.yaml manifest.
// Malformed manifests are skipped, not fatal.
func LoadTemplates(dir string) (*TemplateStore, error) {
	store := &TemplateStore{dir: dir, manifests: make(map[string]templateManifest)}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != "template.yaml" {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		var manifest templateManifest
		if err := yaml.Unmarshal(data, &manifest); err != nil {
			return nil
		}
		name := filepath.Base(filepath.Dir(path))
		store.manifests[name] = manifest
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scaffold: load templates: %w", err)
	}
	return store, nil
}

// Has reports whether a template is registered under name.
func (s *TemplateStore) Has(name string) bool {
	_, ok := s.manifests[sanitize(name)]
	return ok
}

// Render executes the template for name, preferring a framework-specific
// body over the manifest's default.
func (s *TemplateStore) Render(name, framework string, data any) (string, error) {
	key := sanitize(name)
	manifest, ok := s.manifests[key]
	if !ok {
		return "", fmt.Errorf("scaffold: no template %q", name)
	}

	body := manifest.Default
	if fw, ok := manifest.Frameworks[framework]; ok {
		body = fw
	}
	if body == "" {
		return "", fmt.Errorf("scaffold: template %q has no body for framework %q", name, framework)
	}

	path := filepath.Join(s.dir, key, body)
	tmpl, err := template.ParseFiles(path)
	if err != nil {
		return "", fmt.Errorf("scaffold: parse template %s: %w", path, err)
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("scaffold: render template %q: %w", name, err)
	}
	return b.String(), nil
}

// sanitize maps a core file name to its template directory name.
func sanitize(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), ".", "_")
}
