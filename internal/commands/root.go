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

// Package commands assembles the stepflow command tree.
package commands

import (
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/tombee/stepflow/internal/commands/execute"
	"github.com/tombee/stepflow/internal/commands/shared"
	"github.com/tombee/stepflow/internal/commands/validate"
	versioncmd "github.com/tombee/stepflow/internal/commands/version"
	"github.com/tombee/stepflow/internal/log"
)

// NewRootCommand creates the stepflow root command with all
// subcommands attached.
func NewRootCommand() *cobra.Command {
	var (
		jsonOutput bool
		logLevel   string
		logFormat  string
	)

	cmd := &cobra.Command{
		Use:   "stepflow",
		Short: "Declarative workflow execution engine",
		Long: `Stepflow executes declarative YAML workflows: ordered steps that
dispatch to registered tools, with templating, conditions, retries,
timeouts, parallel groups, and foreach expansion.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			shared.SetJSON(jsonOutput)

			cfg := log.FromEnv()
			if logLevel != "" {
				cfg.Level = logLevel
			}
			if logFormat != "" {
				cfg.Format = log.Format(logFormat)
			}
			slog.SetDefault(log.New(cfg))
		},
	}

	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output machine-readable JSON")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (json, text)")

	cmd.AddCommand(execute.NewCommand())
	cmd.AddCommand(validate.NewCommand())
	cmd.AddCommand(versioncmd.NewCommand())

	return cmd
}
