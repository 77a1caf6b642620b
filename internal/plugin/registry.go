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

// Package plugin resolves workload plugin ids to their setup/teardown assets
// and package requirements. Workload implementations live outside this
// module; the controller only consumes descriptors.
package plugin

import (
	"fmt"
	"sort"
)

// Descriptor is the typed asset description for one workload plugin.
type Descriptor struct {
	Name                string
	RequiredAptPackages []string
	SetupScript         string
	TeardownScript      string
	SetupExtravars      map[string]any
	TeardownExtravars   map[string]any
	RequiredUVExtras    []string
}

// Registry resolves plugin ids.
type Registry interface {
	Get(pluginID string) (Descriptor, error)
	Available() map[string]Descriptor
}

// StaticRegistry is a Registry over a fixed descriptor table.
type StaticRegistry struct {
	descriptors map[string]Descriptor
}

// NewStaticRegistry builds a registry from the given descriptors.
func NewStaticRegistry(descriptors map[string]Descriptor) *StaticRegistry {
	cp := make(map[string]Descriptor, len(descriptors))
	for id, d := range descriptors {
		cp[id] = d
	}
	return &StaticRegistry{descriptors: cp}
}

// Get returns the descriptor for a plugin id.
func (r *StaticRegistry) Get(pluginID string) (Descriptor, error) {
	d, ok := r.descriptors[pluginID]
	if !ok {
		return Descriptor{}, fmt.Errorf("unknown plugin %q", pluginID)
	}
	return d, nil
}

// Available returns all descriptors.
func (r *StaticRegistry) Available() map[string]Descriptor {
	out := make(map[string]Descriptor, len(r.descriptors))
	for id, d := range r.descriptors {
		out[id] = d
	}
	return out
}

// Names returns the registered plugin ids, sorted.
func (r *StaticRegistry) Names() []string {
	names := make([]string, 0, len(r.descriptors))
	for id := range r.descriptors {
		names = append(names, id)
	}
	sort.Strings(names)
	return names
}

// Builtin returns the registry of well-known plugins. Scripts are resolved
// relative to the deployment's playbook directory by the remote executor.
func Builtin() *StaticRegistry {
	return NewStaticRegistry(map[string]Descriptor{
		"cpu_stress": {
			Name:                "cpu_stress",
			RequiredAptPackages: []string{"stress-ng"},
			SetupScript:         "plugins/cpu_stress/setup.yml",
			TeardownScript:      "plugins/cpu_stress/teardown.yml",
		},
		"memory_stress": {
			Name:                "memory_stress",
			RequiredAptPackages: []string{"stress-ng"},
			SetupScript:         "plugins/memory_stress/setup.yml",
			TeardownScript:      "plugins/memory_stress/teardown.yml",
		},
		"disk_io": {
			Name:                "disk_io",
			RequiredAptPackages: []string{"fio"},
			SetupScript:         "plugins/disk_io/setup.yml",
			TeardownScript:      "plugins/disk_io/teardown.yml",
			SetupExtravars:      map[string]any{"fio_directory": "/var/tmp/lb-fio"},
		},
		"network_load": {
			Name:                "network_load",
			RequiredAptPackages: []string{"iperf3"},
			SetupScript:         "plugins/network_load/setup.yml",
			TeardownScript:      "plugins/network_load/teardown.yml",
			RequiredUVExtras:    []string{"net"},
		},
	})
}
