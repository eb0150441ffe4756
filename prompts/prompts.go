// Package prompts provides the embedded agent personas and task briefs used
// by riskcrew. The embedded files are also written out by `riskcrew init` so
// that users can inspect and customise them; a customised directory is
// selected with analysis.prompts_dir.
package prompts

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	AgentsFile = "agents.yaml"
	TasksFile  = "tasks.yaml"
)

//go:embed agents.yaml
var agentsYAML []byte

//go:embed tasks.yaml
var tasksYAML []byte

// defaultFiles maps filename -> content for all embedded prompt files.
var defaultFiles = map[string][]byte{
	AgentsFile: agentsYAML,
	TasksFile:  tasksYAML,
}

// Persona is the fixed identity of one agent.
type Persona struct {
	Role      string `yaml:"role"`
	Goal      string `yaml:"goal"`
	Backstory string `yaml:"backstory"`
}

// Brief is a task template. Description and ExpectedOutput may contain
// placeholders substituted by Render.
type Brief struct {
	Description    string `yaml:"description"`
	ExpectedOutput string `yaml:"expected_output"`
}

// Catalog holds personas keyed by agent key (senior_analyst, critic, ...)
// and briefs keyed by task name (data_analysis, report, plan, ...).
type Catalog struct {
	Agents map[string]Persona
	Tasks  map[string]Brief
}

// Vars holds the values substituted into briefs.
type Vars struct {
	Question string
	Context  string
	Tasks    string
}

// ReadDefault returns the embedded content of the named prompt file
// (e.g. "agents.yaml").  It returns an error if the name is unknown.
func ReadDefault(name string) ([]byte, error) {
	data, ok := defaultFiles[name]
	if !ok {
		return nil, fmt.Errorf("no embedded default prompt for %q", name)
	}
	return data, nil
}

// WriteDefaults writes all embedded prompt files into dir, creating the
// directory if necessary.  Files that already exist are left alone so that
// user customisations are preserved.
func WriteDefaults(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create prompts dir: %w", err)
	}

	for name, data := range defaultFiles {
		dst := filepath.Join(dir, name)
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		if err := os.WriteFile(dst, data, 0644); err != nil {
			return fmt.Errorf("write default prompt %s: %w", name, err)
		}
	}
	return nil
}

// Default parses the embedded catalogue.
func Default() (*Catalog, error) {
	return parse(agentsYAML, tasksYAML)
}

// Load reads agents.yaml and tasks.yaml from dir. A missing file falls back
// to the embedded default; entries present in dir override the defaults key
// by key. An empty dir returns the embedded catalogue.
func Load(dir string) (*Catalog, error) {
	cat, err := Default()
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return cat, nil
	}

	agents, err := readOptional(filepath.Join(dir, AgentsFile))
	if err != nil {
		return nil, err
	}
	tasks, err := readOptional(filepath.Join(dir, TasksFile))
	if err != nil {
		return nil, err
	}
	custom, err := parse(agents, tasks)
	if err != nil {
		return nil, fmt.Errorf("prompts in %s: %w", dir, err)
	}
	for k, v := range custom.Agents {
		cat.Agents[k] = v
	}
	for k, v := range custom.Tasks {
		cat.Tasks[k] = v
	}
	return cat, nil
}

func readOptional(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func parse(agents, tasks []byte) (*Catalog, error) {
	cat := &Catalog{Agents: map[string]Persona{}, Tasks: map[string]Brief{}}
	if err := yaml.Unmarshal(agents, &cat.Agents); err != nil {
		return nil, fmt.Errorf("parse %s: %w", AgentsFile, err)
	}
	if err := yaml.Unmarshal(tasks, &cat.Tasks); err != nil {
		return nil, fmt.Errorf("parse %s: %w", TasksFile, err)
	}
	if cat.Agents == nil {
		cat.Agents = map[string]Persona{}
	}
	if cat.Tasks == nil {
		cat.Tasks = map[string]Brief{}
	}
	return cat, nil
}

// Persona returns the persona for an agent key.
func (c *Catalog) Persona(key string) (Persona, error) {
	p, ok := c.Agents[key]
	if !ok {
		return Persona{}, fmt.Errorf("no persona for agent %q", key)
	}
	return Persona{
		Role:      strings.TrimSpace(p.Role),
		Goal:      strings.TrimSpace(p.Goal),
		Backstory: strings.TrimSpace(p.Backstory),
	}, nil
}

// Brief returns the named task brief with vars substituted.
func (c *Catalog) Brief(name string, vars Vars) (Brief, error) {
	b, ok := c.Tasks[name]
	if !ok {
		return Brief{}, fmt.Errorf("no brief for task %q", name)
	}
	return Brief{
		Description:    strings.TrimSpace(Render(b.Description, vars)),
		ExpectedOutput: strings.TrimSpace(Render(b.ExpectedOutput, vars)),
	}, nil
}

// Render substitutes {{QUESTION}}, {{CONTEXT}} and {{TASKS}} in s.
func Render(s string, vars Vars) string {
	r := strings.NewReplacer(
		"{{QUESTION}}", vars.Question,
		"{{CONTEXT}}", vars.Context,
		"{{TASKS}}", vars.Tasks,
	)
	return r.Replace(s)
}
