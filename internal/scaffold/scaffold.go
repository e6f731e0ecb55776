// Package scaffold creates the on-disk skeleton of a generated project:
// the directory layout, per-directory notes, and prompts for the core
// files the inference service fills in.
package scaffold

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/autoforge/autoforge/internal/inference"
	"github.com/autoforge/autoforge/pkg/models"
)

// ProjectConfig describes the project being scaffolded.
type ProjectConfig struct {
	// Name is the project's short name.
	Name string `yaml:"name"`
	// Description is the human description driving generation.
	Description string `yaml:"description"`
	// Framework is the primary framework choice from the plan.
	Framework string `yaml:"framework"`
	// Dependencies lists libraries the project should declare.
	Dependencies []string `yaml:"dependencies"`
	// Structure maps directory paths to a one-line description. Each
	// directory is created with a README carrying its description.
	Structure map[string]string `yaml:"structure"`
}

// Scaffolder writes project skeletons and asks the generation backend for
// the core files.
type Scaffolder struct {
	client    inference.Client
	templates *TemplateStore
	params    models.GenerationParams
	timeout   time.Duration
	log       zerolog.Logger
}

// New creates a Scaffolder. templates may be nil when no template
// directory is configured.
func New(client inference.Client, templates *TemplateStore, params models.GenerationParams, timeout time.Duration, log zerolog.Logger) *Scaffolder {
	return &Scaffolder{
		client:    client,
		templates: templates,
		params:    params,
		timeout:   timeout,
		log:       log,
	}
}

// Create builds the project directory, its structure, and the generated
// core files. Core file generation is best effort: a failed generation is
// logged and skipped so a flaky backend does not abort the scaffold.
func (s *Scaffolder) Create(ctx context.Context, root string, cfg ProjectConfig) (string, error) {
	path := filepath.Join(root, cfg.Name)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("scaffold: create project dir: %w", err)
	}

	if err := s.createStructure(path, cfg); err != nil {
		return "", err
	}
	s.generateCoreFiles(ctx, path, cfg)
	return path, nil
}

func (s *Scaffolder) createStructure(path string, cfg ProjectConfig) error {
	for dir, description := range cfg.Structure {
		full := filepath.Join(path, filepath.FromSlash(dir))
		if err := os.MkdirAll(full, 0o755); err != nil {
			return fmt.Errorf("scaffold: create %s: %w", dir, err)
		}
		if description == "" {
			continue
		}
		readme := filepath.Join(full, "README.md")
		if err := os.WriteFile(readme, []byte(description+"\n"), 0o644); err != nil {
			return fmt.Errorf("scaffold: write %s: %w", readme, err)
		}
	}
	return nil
}

// generateCoreFiles asks the backend for each core file in turn. Template
// manifests override the built-in prompts when one matches the framework.
func (s *Scaffolder) generateCoreFiles(ctx context.Context, path string, cfg ProjectConfig) {
	for filename, prompt := range s.corePrompts(cfg) {
		content, err := s.generate(ctx, prompt)
		if err != nil {
			s.log.Error().Err(err).Str("file", filename).Msg("core file generation failed")
			continue
		}
		target := filepath.Join(path, filename)
		if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
			s.log.Error().Err(err).Str("file", filename).Msg("core file write failed")
		}
	}
}

func (s *Scaffolder) corePrompts(cfg ProjectConfig) map[string]string {
	prompts := map[string]string{
		"README.md": readmePrompt(cfg),
		"main.go":   mainPrompt(cfg),
		"go.mod":    modulePrompt(cfg),
	}

	if s.templates == nil {
		return prompts
	}
	for filename := range prompts {
		rendered, err := s.templates.Render(filename, cfg.Framework, cfg)
		if err != nil {
			continue
		}
		prompts[filename] = rendered
	}
	return prompts
}

func (s *Scaffolder) generate(ctx context.Context, prompt string) (string, error) {
	req := &models.InferenceRequest{
		RequestID: uuid.New().String(),
		Kind:      models.RequestCompletion,
		Prompt:    prompt,
		Params:    s.params,
	}
	resp, err := s.client.Send(ctx, req, s.timeout)
	if err != nil {
		return "", err
	}
	if !resp.OK() {
		return "", fmt.Errorf("scaffold: generation error: %s", resp.Error)
	}
	return resp.GeneratedCode, nil
}

func readmePrompt(cfg ProjectConfig) string {
	return fmt.Sprintf(`Create a README.md file for project %s.
Description: %s
Framework: %s
Include sections for setup, usage, and development.`, cfg.Name, cfg.Description, cfg.Framework)
}

func mainPrompt(cfg ProjectConfig) string {
	return fmt.Sprintf(`Create the main.go file for a %s project.
Project description: %s
Include proper imports, configuration loading, and a basic application setup.`, cfg.Framework, cfg.Description)
}

func modulePrompt(cfg ProjectConfig) string {
	deps := "none"
	if len(cfg.Dependencies) > 0 {
		deps = fmt.Sprintf("%v", cfg.Dependencies)
	}
	return fmt.Sprintf(`Generate a go.mod file for module %s using these dependencies: %s
Include version numbers and ensure compatibility.`, cfg.Name, deps)
}
