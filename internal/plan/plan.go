// Package plan loads workflow plan files: an ordered list of pulse
// descriptions plus the verification commands to run after each pulse.
package plan

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/pulse-orchestrator/internal/domain"
)

// Plan is a parsed workflow plan file
type Plan struct {
	Workflow  string    `yaml:"workflow"`
	Pulses    []Pulse   `yaml:"pulses"`
	Preflight Preflight `yaml:"preflight"`
}

// Pulse is one planned unit of work
type Pulse struct {
	Description string `yaml:"description"`
}

// Preflight lists the verification commands for the workflow
type Preflight struct {
	Commands []Command `yaml:"commands"`
}

// Command pairs a shell command with its output category
type Command struct {
	Command string `yaml:"command"`
	Source  string `yaml:"source"`
}

// Load reads and validates a plan file
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan: %w", err)
	}

	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	return &p, nil
}

// Validate checks the plan for structural problems before anything is
// persisted.
func (p *Plan) Validate() error {
	if strings.TrimSpace(p.Workflow) == "" {
		return fmt.Errorf("workflow id is required")
	}
	if len(p.Pulses) == 0 {
		return fmt.Errorf("plan has no pulses")
	}
	for i, pulse := range p.Pulses {
		if strings.TrimSpace(pulse.Description) == "" {
			return fmt.Errorf("pulse %d has an empty description", i+1)
		}
	}
	for i, cmd := range p.Preflight.Commands {
		if strings.TrimSpace(cmd.Command) == "" {
			return fmt.Errorf("preflight command %d is empty", i+1)
		}
		if _, err := parseSource(cmd.Source); err != nil {
			return fmt.Errorf("preflight command %d: %w", i+1, err)
		}
	}
	return nil
}

// Descriptions returns the pulse descriptions in plan order
func (p *Plan) Descriptions() []string {
	out := make([]string, len(p.Pulses))
	for i, pulse := range p.Pulses {
		out[i] = pulse.Description
	}
	return out
}

// VerificationCommands converts the preflight section to domain commands.
// Validate must have accepted the plan first.
func (p *Plan) VerificationCommands() []domain.VerificationCommand {
	out := make([]domain.VerificationCommand, len(p.Preflight.Commands))
	for i, cmd := range p.Preflight.Commands {
		source, _ := parseSource(cmd.Source)
		out[i] = domain.VerificationCommand{Command: cmd.Command, Source: source}
	}
	return out
}

func parseSource(s string) (domain.CommandSource, error) {
	switch s {
	case "build":
		return domain.SourceBuild, nil
	case "lint":
		return domain.SourceLint, nil
	case "test":
		return domain.SourceTest, nil
	default:
		return "", fmt.Errorf("unknown command source %q (want build, lint or test)", s)
	}
}
