// Copyright 2026 Tom Barlow
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

// Package execute implements the stepflow execute command.
package execute

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/tombee/stepflow/internal/commands/shared"
	"github.com/tombee/stepflow/pkg/tools"
	"github.com/tombee/stepflow/pkg/workflow"
)

// NewCommand creates the execute command.
func NewCommand() *cobra.Command {
	var (
		vars        []string
		mock        bool
		outputPath  string
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "execute <workflow>",
		Short: "Execute a workflow file",
		Long: `Execute loads a workflow definition from a YAML file, validates it,
runs it to completion, and writes a JSON report of every step's outcome.

Initial variables are supplied with repeated --var key=value flags and
overlay the definition's own variables block.

With --mock, every tool named in the definition is replaced by a
deterministic stub, so the run exercises ordering, templating, and
error policy without touching real tools.`,
		Example: `  # Run a workflow with its built-in variables
  stepflow execute deploy.yaml

  # Override a variable and write the report to a file
  stepflow execute deploy.yaml --var env=staging --output report.json

  # Dry-run against deterministic stubs
  stepflow execute deploy.yaml --mock`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0], vars, mock, outputPath, concurrency)
		},
	}

	cmd.Flags().StringArrayVar(&vars, "var", nil, "Initial variable as key=value (repeatable)")
	cmd.Flags().BoolVar(&mock, "mock", false, "Replace all tools with deterministic stubs")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the JSON report to a file instead of stdout")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Worker pool size for parallel groups (default 4)")

	return cmd
}

func run(cmd *cobra.Command, path string, vars []string, mock bool, outputPath string, concurrency int) error {
	def, err := workflow.LoadFile(path)
	if err != nil {
		return &shared.ExitError{Code: 2, Message: err.Error()}
	}

	initial, err := shared.ParseVars(vars)
	if err != nil {
		return &shared.ExitError{Code: 2, Message: err.Error()}
	}

	registry := buildRegistry(def, mock)

	events := workflow.NewEventEmitter()
	if !shared.GetJSON() {
		events.On(workflow.EventStepCompleted, func(ev workflow.Event) {
			fmt.Fprintf(cmd.ErrOrStderr(), "step %s: %s\n", ev.StepID, ev.Status)
		})
	}

	engine := workflow.NewEngine(registry).
		WithLogger(slog.Default()).
		WithMaxConcurrency(concurrency).
		WithEvents(events)

	ec, err := engine.Run(cmd.Context(), def, initial)
	if err != nil {
		return &shared.ExitError{Code: 1, Message: err.Error()}
	}

	report := workflow.BuildReport(ec)

	out := cmd.OutOrStdout()
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return &shared.ExitError{Code: 2, Message: fmt.Sprintf("failed to create report file: %v", err)}
		}
		defer f.Close()
		out = f
	}
	if err := report.WriteJSON(out); err != nil {
		return &shared.ExitError{Code: 2, Message: fmt.Sprintf("failed to write report: %v", err)}
	}

	if !report.Success {
		return &shared.ExitError{Code: 1, Message: fmt.Sprintf("run finished with status %s", report.Status)}
	}
	return nil
}

// buildRegistry assembles the tool set for a run. Mock mode stubs every
// tool the definition names; otherwise the built-in tools are offered
// and the definition's validation catches anything missing.
func buildRegistry(def *workflow.Definition, mock bool) *tools.Registry {
	if mock {
		names := make(map[string]struct{})
		for _, step := range def.Steps {
			names[step.Tool] = struct{}{}
		}
		list := make([]string, 0, len(names))
		for name := range names {
			list = append(list, name)
		}
		return tools.NewMockRegistry(list...)
	}

	r := tools.NewRegistry()
	_ = r.Register(tools.NewEcho())
	_ = r.Register(tools.NewSleep())
	return r
}
