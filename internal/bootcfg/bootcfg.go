// Package bootcfg loads the optional YAML file that pre-seeds kernel
// boot tuning (the --boot-config flag on cmd/c4ke), so operators can
// pin preemption rate, task table size and calibration skipping without
// passing them as flags every run.
package bootcfg

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the boot tuning knobs. cmd/c4ke applies PreemptionHz,
// MaxTasks and SkipCalibrate; -c overrides the interval derived from
// PreemptionHz, and -m skips calibration whatever SkipCalibrate says.
// DefaultNice and IdleNiceBase are decoded but not applied: the kernel
// uses its own fixed nice bases.
type Config struct {
	PreemptionHz  int  `yaml:"preemption_hz"`
	MaxTasks      int  `yaml:"max_tasks"`
	DefaultNice   int  `yaml:"default_nice"`
	IdleNiceBase  int  `yaml:"idle_nice_base"`
	SkipCalibrate bool `yaml:"skip_calibrate"`
}

// Defaults returns the tuning cmd/c4ke falls back to when no boot
// config file and no overriding flag set a field.
func Defaults() Config {
	return Config{
		PreemptionHz: 100,
		MaxTasks:     64,
		DefaultNice:  1,
		IdleNiceBase: 1000,
	}
}

// Load reads and validates a boot-tuning file. Fields absent from the
// YAML are left at whatever Defaults (or a prior Load) already populated
// in cfg, since yaml.v3 leaves fields it doesn't see untouched on the
// struct passed to Decode. A field present with an explicit zero value
// does overwrite cfg, so "max_tasks: 0" is rejected.
func Load(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("bootcfg: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("bootcfg: %s: %w", path, err)
	}
	if cfg.PreemptionHz < 0 {
		return fmt.Errorf("bootcfg: %s: preemption_hz must be >= 0", path)
	}
	if cfg.MaxTasks <= 0 {
		return fmt.Errorf("bootcfg: %s: max_tasks must be > 0", path)
	}
	return nil
}
