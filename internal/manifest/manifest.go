package manifest

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Project holds the name and version a project declares for itself.
// The version is read fresh on every run, never cached.
type Project struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// manifest files probed, in order
var yamlManifests = []string{"project.yaml", "project.yml"}

// Load reads the project metadata from a checkout directory. It probes
// a YAML manifest first and falls back to scanning pyproject.toml for
// repositories that carry Python packaging metadata.
func Load(dir string) (*Project, error) {
	for _, name := range yamlManifests {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		p := &Project{}
		if err := yaml.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}
		if p.Name == "" || p.Version == "" {
			return nil, fmt.Errorf("%s is missing name or version", name)
		}
		return p, nil
	}

	if p, err := loadPyproject(filepath.Join(dir, "pyproject.toml")); err == nil {
		return p, nil
	}

	return nil, fmt.Errorf("no project metadata found in %s", dir)
}

// loadPyproject scans a pyproject.toml for name and version under the
// [project] or [tool.poetry] table. A line scan is enough for the flat
// key = "value" form those tables use.
func loadPyproject(path string) (*Project, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	p := &Project{}
	section := ""
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.Trim(line, "[]")
			continue
		}
		if section != "project" && section != "tool.poetry" {
			continue
		}
		key, value, ok := splitAssignment(line)
		if !ok {
			continue
		}
		switch key {
		case "name":
			if p.Name == "" {
				p.Name = value
			}
		case "version":
			if p.Version == "" {
				p.Version = value
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if p.Name == "" || p.Version == "" {
		return nil, fmt.Errorf("pyproject.toml is missing name or version")
	}
	return p, nil
}

// splitAssignment parses a `key = "value"` line
func splitAssignment(line string) (string, string, bool) {
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	value = strings.Trim(value, `"'`)
	if key == "" || value == "" {
		return "", "", false
	}
	return key, value, true
}
