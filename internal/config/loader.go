// Package config loads a single declarative agent definition file into a
// models.AgentDefinition. Workspace-wide discovery ($include directives,
// multi-file composition) is out of scope here; this loader reads exactly
// one file at a time, the contract an orchestrator's caller (a CLI command,
// a directory walk) builds on top of.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ddalcu/agent-orcha/internal/chatmodel"
	"github.com/ddalcu/agent-orcha/pkg/models"
)

// LoadFile reads and parses one agent definition YAML file from disk.
func LoadFile(path string) (models.AgentDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.AgentDefinition{}, fmt.Errorf("config: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes raw YAML bytes into a models.AgentDefinition and validates
// the fields a valid agent definition requires to be present.
func Parse(data []byte) (models.AgentDefinition, error) {
	var def models.AgentDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return models.AgentDefinition{}, fmt.Errorf("config: parse YAML: %w", err)
	}
	def.NormalizeVersion()
	if err := validate(def); err != nil {
		return models.AgentDefinition{}, err
	}
	return def, nil
}

// LoadProviders reads a named-provider config file: a flat map of config
// name to chatmodel.ProviderConfig, the table AgentDefinition.LLM.Name
// indexes into.
func LoadProviders(path string) (map[string]chatmodel.ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read providers file %q: %w", path, err)
	}
	var providers map[string]chatmodel.ProviderConfig
	if err := yaml.Unmarshal(data, &providers); err != nil {
		return nil, fmt.Errorf("config: parse providers file %q: %w", path, err)
	}
	return providers, nil
}

// LoadAgentsDir loads every *.yaml/*.yml file directly under dir as an agent
// definition. Subdirectories are not walked; this declarative core has no
// workspace-discovery component, so a flat directory is the whole contract.
func LoadAgentsDir(dir string) ([]models.AgentDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("config: read agents dir %q: %w", dir, err)
	}
	var defs []models.AgentDefinition
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		def, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func validate(def models.AgentDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("config: agent definition missing required field %q", "name")
	}
	if def.LLM.Name == "" {
		return fmt.Errorf("config: agent %q missing required field %q", def.Name, "llm.name")
	}
	if def.Prompt.System == "" {
		return fmt.Errorf("config: agent %q missing required field %q", def.Name, "prompt.system")
	}
	seenPaths := make(map[string]bool)
	for i, trig := range def.Triggers {
		switch trig.Type {
		case "cron":
			if trig.Cron == "" {
				return fmt.Errorf("config: agent %q trigger[%d] is type \"cron\" but has no cron expression", def.Name, i)
			}
		case "webhook":
			path := trig.Path
			if path == "" {
				path = fmt.Sprintf("/api/triggers/webhooks/%s", def.Name)
			}
			if seenPaths[path] {
				return fmt.Errorf("config: agent %q declares two webhook triggers at path %q", def.Name, path)
			}
			seenPaths[path] = true
		case "":
			return fmt.Errorf("config: agent %q trigger[%d] missing required field %q", def.Name, i, "type")
		default:
			return fmt.Errorf("config: agent %q trigger[%d] has unknown type %q", def.Name, i, trig.Type)
		}
	}
	return nil
}
