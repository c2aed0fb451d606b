// Package config resolves Feline's runtime tunables (GC behavior, FFI
// library resolution, module search roots) from the environment and an
// optional project file, the way the teacher's own tools read theirs: struct
// tags plus a small typed loader rather than ad hoc os.Getenv calls.
package config

import (
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"

	"github.com/felinelang/feline/lang/machine"
)

// ProjectFile is the optional file consulted alongside environment
// variables, following the module's root directory.
const ProjectFile = "feline.yaml"

// Config carries every tunable that influences Feline's compiler and VM,
// assembled by Load from (in increasing priority) defaults, feline.yaml, then
// environment variables.
type Config struct {
	// StressGC forces a collection before every instruction, for exercising
	// GC correctness rather than throughput.
	StressGC bool `env:"FELINE_STRESS_GC" yaml:"stressGC"`

	// LogGC prints a line to stderr for every collection cycle.
	LogGC bool `env:"FELINE_LOG_GC" yaml:"logGC"`

	// TraceInstructions prints each dispatched opcode before it executes.
	TraceInstructions bool `env:"FELINE_TRACE" yaml:"trace"`

	// MaxCallDepth overrides machine.MaxFrames when positive.
	MaxCallDepth int `env:"FELINE_MAX_CALL_DEPTH" yaml:"maxCallDepth"`

	// LibExt overrides the platform-default dynamic-library extension
	// (".so"/".dylib"/".dll") that NATIVE declarations resolve FFI sibling
	// libraries against, for cross-compiling a library ahead of time for a
	// different host.
	LibExt string `env:"FELINE_LIB_EXT" yaml:"libExt"`

	// ModuleRoots are additional directories IMPORT searches after the
	// importing module's own directory, joined to the path before appending
	// ".fn".
	ModuleRoots []string `env:"FELINE_MODULE_ROOTS" envSeparator:":" yaml:"moduleRoots"`
}

// Load reads feline.yaml from dir if present, then overlays environment
// variables, matching the precedence the teacher documents for its own
// project-file plus env configuration.
func Load(dir string) (Config, error) {
	var cfg Config

	path := filepath.Join(dir, ProjectFile)
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	} else if !os.IsNotExist(err) {
		return Config{}, err
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// VMConfig adapts Config to the machine package's own Config shape.
func (c Config) VMConfig() machine.Config {
	depth := c.MaxCallDepth
	if depth <= 0 {
		depth = machine.MaxFrames
	}
	return machine.Config{
		StressGC:          c.StressGC,
		LogGC:             c.LogGC,
		TraceInstructions: c.TraceInstructions,
		MaxCallDepth:      depth,
		ModuleRoots:       c.ModuleRoots,
	}
}
