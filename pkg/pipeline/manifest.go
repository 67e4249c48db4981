package pipeline

import (
	"os"

	"github.com/dominikbraun/graph"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Pipeline describes an ordered sequence of stages.
type Pipeline struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Stages      []*Stage `yaml:"stages"`
}

// Default returns the fixed three-stage chain: SIREN extraction, daily
// BODACC fetch, BODACC filtering. Each stage runs the given executable
// with its own subcommand.
func Default(executable string) *Pipeline {
	return &Pipeline{
		Name: "bodacc-daily",
		Stages: []*Stage{
			{Name: "siren-extract", Command: []string{executable, "siren"}},
			{Name: "bodacc-fetch", Command: []string{executable, "fetch"}, Needs: []string{"siren-extract"}},
			{Name: "bodacc-filter", Command: []string{executable, "filter"}, Needs: []string{"bodacc-fetch"}},
		},
	}
}

// LoadManifest reads a pipeline definition from a YAML file.
func LoadManifest(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read manifest")
	}

	var p Pipeline
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(err, "parse manifest")
	}

	return &p, nil
}

// Validate checks the pipeline definition for errors.
func (p *Pipeline) Validate() error {
	if p.Name == "" {
		return errors.New("pipeline name is required")
	}
	if len(p.Stages) == 0 {
		return errors.New("pipeline must define at least one stage")
	}

	seen := make(map[string]struct{})
	for _, stage := range p.Stages {
		if stage.Name == "" {
			return errors.New("stage name is required")
		}
		if len(stage.Command) == 0 {
			return errors.Errorf("stage %s must have a command", stage.Name)
		}
		if _, ok := seen[stage.Name]; ok {
			return errors.Errorf("duplicate stage name: %s", stage.Name)
		}
		seen[stage.Name] = struct{}{}
	}

	for _, stage := range p.Stages {
		for _, need := range stage.Needs {
			if need == stage.Name {
				return errors.Errorf("stage %s depends on itself", stage.Name)
			}
			if _, ok := seen[need]; !ok {
				return errors.Errorf("stage %s needs unknown stage %s", stage.Name, need)
			}
		}
	}

	return nil
}

// ExecutionOrder resolves the stage sequence. Declared order is preserved;
// needs edges only constrain it and reject cycles.
func (p *Pipeline) ExecutionOrder() ([]*Stage, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	byName := make(map[string]*Stage, len(p.Stages))
	rank := make(map[string]int, len(p.Stages))

	g := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())
	for i, stage := range p.Stages {
		byName[stage.Name] = stage
		rank[stage.Name] = i
		if err := g.AddVertex(stage.Name); err != nil {
			return nil, errors.Wrapf(err, "stage %s", stage.Name)
		}
	}
	for _, stage := range p.Stages {
		for _, need := range stage.Needs {
			if err := g.AddEdge(need, stage.Name); err != nil {
				return nil, errors.Wrapf(err, "stage %s needs %s", stage.Name, need)
			}
		}
	}

	names, err := graph.StableTopologicalSort(g, func(a, b string) bool {
		return rank[a] < rank[b]
	})
	if err != nil {
		return nil, errors.Wrap(err, "resolve stage order")
	}

	ordered := make([]*Stage, 0, len(names))
	for _, name := range names {
		ordered = append(ordered, byName[name])
	}
	return ordered, nil
}
