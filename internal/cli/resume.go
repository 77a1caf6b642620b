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

package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/loadbench/internal/app"
)

func newResumeCommand() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "resume <run_id> [workload...]",
		Short: "Resume an interrupted run from its journal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			journalPath, err := resolveResumeJournal(flags.configPath, args[0])
			if err != nil {
				return err
			}
			req := app.Request{
				ConfigPath:            flags.configPath,
				Workloads:             args[1:],
				ResumeJournalPath:     journalPath,
				ExecutionMode:         flags.executionMode,
				NodeCount:             flags.nodeCount,
				StopFilePath:          flags.stopFile,
				SkipConnectivityCheck: flags.skipConnectivity,
				ConnectivityTimeout:   time.Duration(flags.connectivityTimeout) * time.Second,
			}
			if cmd.Flags().Changed("setup") {
				req.RunSetup = &flags.setup
			}
			return startRun(cmd, req)
		},
	}
	flags.register(cmd.Flags())
	return cmd
}
