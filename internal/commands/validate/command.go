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

// Package validate implements the stepflow validate command.
package validate

import (
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tombee/stepflow/internal/commands/shared"
	"github.com/tombee/stepflow/pkg/errors"
	"github.com/tombee/stepflow/pkg/workflow"
)

// NewCommand creates the validate command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <workflow>",
		Short: "Validate a workflow file without executing it",
		Long: `Validate checks that a workflow file parses as YAML and passes
structural validation: unique step ids, required fields, and template
references that point only at earlier steps.

Validation does not require any tools to be registered; unknown tool
names are only caught at execution time.`,
		Example: `  # Basic validation
  stepflow validate workflow.yaml

  # Machine-readable result
  stepflow validate workflow.yaml --json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runValidate,
	}

	return cmd
}

type validateResult struct {
	Valid    bool   `json:"valid"`
	Workflow string `json:"workflow,omitempty"`
	Steps    int    `json:"steps,omitempty"`
	Error    string `json:"error,omitempty"`
	Field    string `json:"field,omitempty"`
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := args[0]

	def, err := workflow.LoadFile(path)
	if err != nil {
		result := validateResult{Valid: false, Error: err.Error()}
		var verr *errors.ValidationError
		if stderrors.As(err, &verr) {
			result.Field = verr.Field
		}
		if shared.GetJSON() {
			emit(cmd, result)
		} else {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: error: %s\n", path, err.Error())
			if verr != nil && verr.Suggestion != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "  Suggestion: %s\n", verr.Suggestion)
			}
		}
		return &shared.ExitError{Code: 1, Message: "validation failed"}
	}

	if shared.GetJSON() {
		emit(cmd, validateResult{Valid: true, Workflow: def.Name, Steps: len(def.Steps)})
		return nil
	}

	cmd.Println("Validation Results:")
	cmd.Println("  [OK] Syntax valid")
	cmd.Println("  [OK] Structure valid")
	cmd.Println("  [OK] All step references resolve correctly")
	return nil
}

func emit(cmd *cobra.Command, result validateResult) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return
	}
	cmd.Println(string(data))
}
