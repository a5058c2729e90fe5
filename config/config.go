// Package config loads run configuration from TOML: time stepping, the
// numeric strategy parameters, mesh/partition sizing for the demo mesh,
// and per-side boundary dispositions.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Config is the top-level run configuration.
type Config struct {
	// StepSeconds is the simulation time step duration.
	StepSeconds float64 `toml:"step_seconds"`
	// Steps is the number of steps the run command advances.
	Steps int `toml:"steps"`

	// BlendWeight mixes current and previous DEM velocity into the
	// advection velocity; 0.5 is the trapezoidal average.
	BlendWeight float64 `toml:"blend_weight"`
	// EnsembleWindow bounds the running ensemble average; 0 means whole
	// lifetime.
	EnsembleWindow int `toml:"ensemble_window"`
	// MaxCrossings caps face crossings per particle per step.
	MaxCrossings int `toml:"max_crossings"`

	History HistoryConfig `toml:"history"`
	Mesh    MeshConfig    `toml:"mesh"`
}

// HistoryConfig selects the unsteady-force kernel.
type HistoryConfig struct {
	// Kernel is "none" or "powerlaw".
	Kernel      string  `toml:"kernel"`
	Coefficient float64 `toml:"coefficient"`
	Decay       float64 `toml:"decay"`
}

// MeshConfig sizes the demo box mesh.
type MeshConfig struct {
	Nx         int        `toml:"nx"`
	Ny         int        `toml:"ny"`
	Nz         int        `toml:"nz"`
	Min        [3]float64 `toml:"min"`
	Max        [3]float64 `toml:"max"`
	Partitions int        `toml:"partitions"`
	// Sides maps xmin/xmax/ymin/ymax/zmin/zmax to a disposition:
	// wall, outlet, or periodic.
	Sides map[string]string `toml:"sides"`
}

// Default returns a runnable configuration.
func Default() Config {
	return Config{
		StepSeconds:    1e-3,
		Steps:          100,
		BlendWeight:    0.5,
		EnsembleWindow: 0,
		MaxCrossings:   128,
		History: HistoryConfig{
			Kernel:      "powerlaw",
			Coefficient: 1.0,
			Decay:       0.5,
		},
		Mesh: MeshConfig{
			Nx: 8, Ny: 4, Nz: 4,
			Min:        [3]float64{0, 0, 0},
			Max:        [3]float64{2, 1, 1},
			Partitions: 2,
			Sides:      map[string]string{},
		},
	}
}

// Load reads and validates a TOML configuration file. Fields absent from
// the file keep their defaults.
func Load(path string) (Config, error) {
	c := Default()
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return c, fmt.Errorf("config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Validate rejects configurations the tracker cannot run.
func (c Config) Validate() error {
	if c.StepSeconds <= 0 {
		return fmt.Errorf("config: step_seconds %g must be positive", c.StepSeconds)
	}
	if c.Steps < 0 {
		return fmt.Errorf("config: steps %d must be non-negative", c.Steps)
	}
	if c.BlendWeight < 0 || c.BlendWeight > 1 {
		return fmt.Errorf("config: blend_weight %g outside [0,1]", c.BlendWeight)
	}
	if c.EnsembleWindow < 0 {
		return fmt.Errorf("config: ensemble_window %d must be non-negative", c.EnsembleWindow)
	}
	if c.MaxCrossings <= 0 {
		return fmt.Errorf("config: max_crossings %d must be positive", c.MaxCrossings)
	}
	switch c.History.Kernel {
	case "none", "powerlaw":
	default:
		return fmt.Errorf("config: unknown history kernel %q", c.History.Kernel)
	}
	m := c.Mesh
	if m.Nx <= 0 || m.Ny <= 0 || m.Nz <= 0 {
		return fmt.Errorf("config: mesh cells %dx%dx%d must be positive", m.Nx, m.Ny, m.Nz)
	}
	if m.Partitions <= 0 || m.Partitions > m.Nx {
		return fmt.Errorf("config: %d partitions for %d x-cells", m.Partitions, m.Nx)
	}
	for side, kind := range m.Sides {
		switch side {
		case "xmin", "xmax", "ymin", "ymax", "zmin", "zmax":
		default:
			return fmt.Errorf("config: unknown mesh side %q", side)
		}
		switch kind {
		case "wall", "outlet", "periodic":
		default:
			return fmt.Errorf("config: unknown disposition %q for side %s", kind, side)
		}
	}
	return nil
}
