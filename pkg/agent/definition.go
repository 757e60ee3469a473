package agent

import (
	_ "embed"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed default_agent.yaml
var defaultAgentYAML []byte

// Definition describes the agent the relay talks to.
type Definition struct {
	Name        string `yaml:"name"`
	Model       string `yaml:"model"`
	Description string `yaml:"description"`
	Instruction string `yaml:"instruction"`
}

// DefaultDefinition returns the built-in agent definition.
func DefaultDefinition() Definition {
	def, err := ParseDefinition(defaultAgentYAML)
	if err != nil {
		panic(errors.Wrap(err, "embedded agent definition"))
	}
	return def
}

// LoadDefinition reads a definition from path. An empty path yields the default.
func LoadDefinition(path string) (Definition, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultDefinition(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, errors.Wrapf(err, "read agent definition %s", path)
	}
	def, err := ParseDefinition(b)
	if err != nil {
		return Definition{}, errors.Wrapf(err, "agent definition %s", path)
	}
	return def, nil
}

func ParseDefinition(b []byte) (Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(b, &def); err != nil {
		return Definition{}, errors.Wrap(err, "parse yaml")
	}
	def.Name = strings.TrimSpace(def.Name)
	def.Model = strings.TrimSpace(def.Model)
	if def.Name == "" {
		return Definition{}, errors.New("agent name is empty")
	}
	return def, nil
}
