package prompt

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/jdgilhuly/go_llm_fallback/pkg/dispatch"
)

// Template is a reusable prompt loaded from YAML and rendered with variable
// interpolation before being dispatched.
type Template struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	System      string            `yaml:"system"`
	User        string            `yaml:"user"`
	MaxTokens   int               `yaml:"max_tokens"`
	Temperature *float64          `yaml:"temperature"`
	Metadata    map[string]string `yaml:"metadata"`
}

// Load reads a single Template from a YAML file at path.
func Load(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading prompt file %s: %w", path, err)
	}

	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing prompt file %s: %w", path, err)
	}

	return &t, nil
}

// LoadDir loads all .yaml and .yml files from dir as Templates.
func LoadDir(dir string) ([]*Template, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading prompt directory %s: %w", dir, err)
	}

	var templates []*Template
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		t, err := Load(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}

	return templates, nil
}

// Validate checks that the Template has the minimum required fields. A
// template must render to a non-empty prompt, so User is required.
func (t *Template) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("prompt name is required")
	}
	if strings.TrimSpace(t.User) == "" {
		return fmt.Errorf("prompt %q must have a user prompt", t.Name)
	}
	if t.MaxTokens < 0 {
		return fmt.Errorf("prompt %q: max_tokens must be >= 0, got %d", t.Name, t.MaxTokens)
	}
	if t.Temperature != nil && (*t.Temperature < 0 || *t.Temperature > 2) {
		return fmt.Errorf("prompt %q: temperature must be within [0, 2], got %g", t.Name, *t.Temperature)
	}
	return nil
}

// Interpolate applies Go text/template rendering to the System and User fields
// using the provided variables. It returns a new Template with the rendered
// strings; the original is not modified.
//
// Template variables use {{.VarName}} syntax. An error is returned if a
// template references a variable not present in vars.
func (t *Template) Interpolate(vars map[string]any) (*Template, error) {
	rendered := *t

	var err error
	rendered.System, err = renderTemplate(t.Name+".system", t.System, vars)
	if err != nil {
		return nil, fmt.Errorf("interpolating system prompt for %q: %w", t.Name, err)
	}

	rendered.User, err = renderTemplate(t.Name+".user", t.User, vars)
	if err != nil {
		return nil, fmt.Errorf("interpolating user prompt for %q: %w", t.Name, err)
	}

	return &rendered, nil
}

// Request renders the template and converts it into a dispatch request.
// Generation parameters are carried over only when the template sets them.
func (t *Template) Request(vars map[string]any) (dispatch.Request, error) {
	r, err := t.Interpolate(vars)
	if err != nil {
		return dispatch.Request{}, err
	}

	req := dispatch.Request{Prompt: r.User, System: r.System}
	if r.MaxTokens > 0 || r.Temperature != nil {
		req.Params = &dispatch.Params{MaxTokens: r.MaxTokens, Temperature: r.Temperature}
	}
	return req, nil
}

// renderTemplate parses and executes a Go text/template with "missingkey=error"
// so that undefined variables produce an error instead of empty strings.
func renderTemplate(name, text string, vars map[string]any) (string, error) {
	if text == "" {
		return "", nil
	}

	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parsing template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("executing template: %w", err)
	}

	return buf.String(), nil
}
