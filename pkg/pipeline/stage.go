package pipeline

// Stage is one independently invokable processing unit of the pipeline.
type Stage struct {
	Name    string   `yaml:"name"`
	Command []string `yaml:"command"`
	Needs   []string `yaml:"needs,omitempty"`
}

// Invocation is the frozen argv for a single stage run. It is built once,
// before the child process starts, and never mutated.
type Invocation struct {
	Stage string
	Argv  []string
}

// Invocation composes the stage argv, appending the configuration path as a
// discrete --config token pair when one was supplied. Tokens go to the
// process spawner as-is; nothing is ever joined into a shell string.
func (s *Stage) Invocation(configPath string) Invocation {
	argv := make([]string, 0, len(s.Command)+2)
	argv = append(argv, s.Command...)
	if configPath != "" {
		argv = append(argv, "--config", configPath)
	}
	return Invocation{Stage: s.Name, Argv: argv}
}
