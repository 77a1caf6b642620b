// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config defines the run configuration model and its resolution
// from disk, environment, and defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	lberrors "github.com/tombee/loadbench/pkg/errors"
)

// Workload intensity presets. "user_defined" defers entirely to Options.
const (
	IntensityLow         = "low"
	IntensityMedium      = "medium"
	IntensityHigh        = "high"
	IntensityUserDefined = "user_defined"
)

// HostSpec describes one remote host in the run inventory.
// Names are unique within a run.
type HostSpec struct {
	Name       string            `yaml:"name" json:"name" validate:"required"`
	Address    string            `yaml:"address" json:"address" validate:"required"`
	Port       int               `yaml:"port" json:"port" validate:"gte=0,lte=65535"`
	User       string            `yaml:"user" json:"user"`
	Privileged bool              `yaml:"privileged" json:"privileged"`
	Vars       map[string]string `yaml:"vars,omitempty" json:"vars,omitempty"`
}

// WorkloadSpec describes one named benchmark workload. The workload itself is
// opaque to the controller; PluginID is resolved through the plugin registry.
type WorkloadSpec struct {
	Name      string         `yaml:"name" json:"name"`
	PluginID  string         `yaml:"plugin" json:"plugin" validate:"required"`
	Enabled   bool           `yaml:"enabled" json:"enabled"`
	Intensity string         `yaml:"intensity" json:"intensity" validate:"oneof=low medium high user_defined"`
	Options   map[string]any `yaml:"options,omitempty" json:"options,omitempty"`
}

// RemoteExecution selects which global phases run and the scripts backing
// each phase.
type RemoteExecution struct {
	RunSetup       bool   `yaml:"run_setup" json:"run_setup"`
	RunTeardown    bool   `yaml:"run_teardown" json:"run_teardown"`
	RunCollect     bool   `yaml:"run_collect" json:"run_collect"`
	SetupScript    string `yaml:"setup_script" json:"setup_script"`
	RunScript      string `yaml:"run_script" json:"run_script"`
	CollectScript  string `yaml:"collect_script" json:"collect_script"`
	TeardownScript string `yaml:"teardown_script" json:"teardown_script"`
}

// Timeouts groups the controller-side deadlines.
type Timeouts struct {
	Stop         Duration `yaml:"stop" json:"stop"`
	Connectivity Duration `yaml:"connectivity" json:"connectivity"`
}

// Collectors configures the external metric collectors. The controller only
// needs to know enough to compute required packages for the remote side.
type Collectors struct {
	CLICommands bool     `yaml:"cli_commands" json:"cli_commands"`
	Interval    Duration `yaml:"interval" json:"interval"`
}

// Config is the aggregate run configuration.
type Config struct {
	Workloads       map[string]WorkloadSpec `yaml:"workloads" json:"workloads" validate:"required,dive"`
	Hosts           []HostSpec              `yaml:"hosts" json:"hosts" validate:"dive"`
	Repetitions     int                     `yaml:"repetitions" json:"repetitions" validate:"gte=1"`
	OutputRoot      string                  `yaml:"output_root" json:"output_root" validate:"required"`
	ReportRoot      string                  `yaml:"report_root" json:"report_root"`
	Timeouts        Timeouts                `yaml:"timeouts" json:"timeouts"`
	RemoteExecution RemoteExecution         `yaml:"remote_execution" json:"remote_execution"`
	Collectors      Collectors              `yaml:"collectors" json:"collectors"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Workloads:   map[string]WorkloadSpec{},
		Repetitions: 1,
		OutputRoot:  "benchmark_results",
		Timeouts: Timeouts{
			Stop:         Duration(30 * time.Second),
			Connectivity: Duration(10 * time.Second),
		},
		RemoteExecution: RemoteExecution{
			RunSetup:    true,
			RunTeardown: true,
			RunCollect:  true,
		},
	}
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, lberrors.Wrapf(err, "reading config %s", path)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, lberrors.Wrapf(err, "parsing config %s", path)
	}
	for name, w := range cfg.Workloads {
		if w.Name == "" {
			w.Name = name
			cfg.Workloads[name] = w
		}
		if w.Intensity == "" {
			w.Intensity = IntensityMedium
			cfg.Workloads[name] = w
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks structural constraints and host-name uniqueness.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return lberrors.Wrap(err, "invalid config")
	}
	seen := make(map[string]struct{}, len(c.Hosts))
	for _, h := range c.Hosts {
		if _, dup := seen[h.Name]; dup {
			return fmt.Errorf("invalid config: duplicate host name %q", h.Name)
		}
		seen[h.Name] = struct{}{}
	}
	return nil
}

// EnabledWorkloads returns the names of enabled workloads, filtered by the
// optional requested list. Order follows the request when given.
func (c *Config) EnabledWorkloads(requested []string) []string {
	if len(requested) > 0 {
		out := make([]string, 0, len(requested))
		for _, name := range requested {
			if w, ok := c.Workloads[name]; ok && w.Enabled {
				out = append(out, name)
			}
		}
		return out
	}
	out := make([]string, 0, len(c.Workloads))
	for name, w := range c.Workloads {
		if w.Enabled {
			out = append(out, name)
		}
	}
	return out
}

// HostNames returns the inventory names in order.
func (c *Config) HostNames() []string {
	names := make([]string, len(c.Hosts))
	for i, h := range c.Hosts {
		names[i] = h.Name
	}
	return names
}
