package script

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// yamlGameFile is the top-level YAML structure for game definition files.
type yamlGameFile struct {
	Game yamlGame `yaml:"game"`
}

type yamlGame struct {
	ID               string    `yaml:"id"`
	Name             string    `yaml:"name"`
	Script           string    `yaml:"script"`
	InstructionLimit int       `yaml:"instruction_limit"`
	Sides            yamlSides `yaml:"sides"`
}

type yamlSides struct {
	First  string `yaml:"first"`
	Second string `yaml:"second"`
}

// Definition describes one scripted game family.
type Definition struct {
	ID   string
	Name string
	// ScriptPath is the resolved path of the Lua rules file.
	ScriptPath       string
	InstructionLimit int
	FirstSide        string
	SecondSide       string
}

// Validate checks that the definition can be loaded.
//
// Postcondition: Returns nil or an error describing every violation.
func (d Definition) Validate() error {
	var errs []string
	if d.ID == "" {
		errs = append(errs, "game.id must not be empty")
	}
	if d.ScriptPath == "" {
		errs = append(errs, "game.script must not be empty")
	}
	if d.InstructionLimit < 0 {
		errs = append(errs, fmt.Sprintf("game.instruction_limit must be >= 0, got %d", d.InstructionLimit))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// LoadDefinitionFromBytes parses a game definition. A relative script path
// is resolved against baseDir.
//
// Postcondition: Returns a validated Definition or a non-nil error.
func LoadDefinitionFromBytes(data []byte, baseDir string) (Definition, error) {
	var file yamlGameFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Definition{}, fmt.Errorf("parsing game YAML: %w", err)
	}
	g := file.Game
	script := g.Script
	if script != "" && !filepath.IsAbs(script) {
		script = filepath.Join(baseDir, script)
	}
	def := Definition{
		ID:               g.ID,
		Name:             g.Name,
		ScriptPath:       script,
		InstructionLimit: g.InstructionLimit,
		FirstSide:        g.Sides.First,
		SecondSide:       g.Sides.Second,
	}
	if def.Name == "" {
		def.Name = def.ID
	}
	if err := def.Validate(); err != nil {
		return Definition{}, fmt.Errorf("validating game: %w", err)
	}
	return def, nil
}

// LoadDefinitionFromFile reads a single game definition file.
func LoadDefinitionFromFile(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("reading game file %s: %w", path, err)
	}
	return LoadDefinitionFromBytes(data, filepath.Dir(path))
}

// LoadDefinitions loads every *.yaml and *.yml file in dir, keyed by game id.
//
// Precondition: dir must be a readable directory.
// Postcondition: Returns all definitions or the first error encountered.
func LoadDefinitions(dir string) (map[string]Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading game dir %s: %w", dir, err)
	}
	defs := make(map[string]Definition)
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		def, err := LoadDefinitionFromFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if _, dup := defs[def.ID]; dup {
			return nil, fmt.Errorf("duplicate game id %q in %s", def.ID, dir)
		}
		defs[def.ID] = def
	}
	return defs, nil
}
