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

// Package provision abstracts host materialization. Real cluster
// provisioning lives outside this module; the static implementation serves
// the remote mode (config hosts) and synthesizes localhost nodes for the
// container/vm modes.
package provision

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/tombee/loadbench/internal/config"
	lberrors "github.com/tombee/loadbench/pkg/errors"
)

// Execution modes.
const (
	ModeRemote = "remote"
	ModeDocker = "docker"
	ModeVM     = "vm"
)

// Result carries the materialized node set. KeepNodes is flipped by the
// facade when a failed run should retain nodes for inspection.
type Result struct {
	Nodes []config.HostSpec

	mu        sync.Mutex
	keepNodes bool
	destroy   func() error
}

// KeepNodes reports whether nodes are retained after the run.
func (r *Result) KeepNodes() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.keepNodes
}

// SetKeepNodes marks the nodes for retention.
func (r *Result) SetKeepNodes(keep bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keepNodes = keep
}

// DestroyAll tears the nodes down unless they are retained.
func (r *Result) DestroyAll() error {
	r.mu.Lock()
	keep := r.keepNodes
	destroy := r.destroy
	r.mu.Unlock()

	if keep || destroy == nil {
		return nil
	}
	return destroy()
}

// Provisioner materializes a concrete host list for a run.
type Provisioner interface {
	Provision(ctx context.Context, mode string, count int) (*Result, error)
}

// Static provisions from configuration: remote mode returns the configured
// hosts; docker/vm modes synthesize ephemeral localhost nodes.
type Static struct {
	Config *config.Config
}

// Provision implements Provisioner.
func (s *Static) Provision(ctx context.Context, mode string, count int) (*Result, error) {
	switch mode {
	case "", ModeRemote:
		nodes := s.Config.Hosts
		if count > 0 && count < len(nodes) {
			nodes = nodes[:count]
		}
		if len(nodes) == 0 {
			return nil, &lberrors.ProvisioningError{
				Mode: ModeRemote,
				Err:  fmt.Errorf("no hosts configured"),
			}
		}
		return &Result{Nodes: nodes}, nil
	case ModeDocker, ModeVM:
		if count <= 0 {
			count = 1
		}
		nodes := make([]config.HostSpec, count)
		for i := range nodes {
			nodes[i] = config.HostSpec{
				Name:    fmt.Sprintf("%s-node-%s", mode, uuid.NewString()[:8]),
				Address: "127.0.0.1",
			}
		}
		return &Result{Nodes: nodes, destroy: func() error { return nil }}, nil
	default:
		return nil, &lberrors.ProvisioningError{
			Mode: mode,
			Err:  fmt.Errorf("unknown execution mode"),
		}
	}
}
