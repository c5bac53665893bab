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

// Package shared holds state and helpers common to all stepflow
// subcommands: version metadata, the global --json flag, exit-code
// aware errors, and --var parsing.
package shared

import (
	"fmt"
	"strings"

	"github.com/tombee/stepflow/pkg/workflow"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"

	jsonOutput bool
)

// SetVersion stores build-time version metadata.
func SetVersion(v, c, b string) {
	version, commit, buildDate = v, c, b
}

// GetVersion returns the stored version metadata.
func GetVersion() (string, string, string) {
	return version, commit, buildDate
}

// SetJSON stores the global --json flag.
func SetJSON(v bool) { jsonOutput = v }

// GetJSON reports whether JSON output was requested.
func GetJSON() bool { return jsonOutput }

// ExitError carries an exit code through cobra's error return.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string { return e.Message }

// ParseVars converts repeated --var key=value flags into initial
// workflow variables. Values are passed through as strings; template
// resolution handles them like any other string variable.
func ParseVars(pairs []string) (map[string]workflow.Value, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vars := make(map[string]workflow.Value, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q: expected key=value", pair)
		}
		vars[key] = workflow.String(value)
	}
	return vars, nil
}
