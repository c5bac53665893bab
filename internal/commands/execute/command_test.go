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

package execute

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/stepflow/internal/commands/shared"
)

func writeWorkflow(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestExecuteCommand(t *testing.T) {
	path := writeWorkflow(t, `
name: smoke
variables:
  env: dev
steps:
  - id: s1
    tool: echo
    params:
      v: "${variables.env}"
`)

	var out, errOut bytes.Buffer
	cmd := NewCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{path, "--var", "env=prod"})

	require.NoError(t, cmd.Execute())

	var report map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, true, report["success"])
	assert.Equal(t, "completed", report["status"])

	results := report["results"].(map[string]interface{})
	s1 := results["s1"].(map[string]interface{})
	assert.Equal(t, "prod", s1["value"], "--var overrides the definition default")
}

func TestExecuteCommandMock(t *testing.T) {
	path := writeWorkflow(t, `
name: mocked
steps:
  - id: s1
    tool: deploy
    params:
      env: prod
`)

	var out, errOut bytes.Buffer
	cmd := NewCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{path, "--mock"})

	require.NoError(t, cmd.Execute(), "mock mode stubs tools the host never registered")

	var report map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, true, report["success"])
}

func TestExecuteCommandUnknownToolFails(t *testing.T) {
	path := writeWorkflow(t, `
name: broken
steps:
  - id: s1
    tool: not-registered
`)

	cmd := NewCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.Error(t, err)
	var exitErr *shared.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.Code)
}

func TestExecuteCommandMissingFile(t *testing.T) {
	cmd := NewCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"/nonexistent.yaml"})

	err := cmd.Execute()
	require.Error(t, err)
	var exitErr *shared.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
}

func TestExecuteCommandWritesOutputFile(t *testing.T) {
	path := writeWorkflow(t, `
name: filed
steps:
  - id: s1
    tool: echo
    params:
      v: 7
`)
	reportPath := filepath.Join(t.TempDir(), "report.json")

	cmd := NewCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{path, "--output", reportPath})

	require.NoError(t, cmd.Execute())

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var report map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, true, report["success"])
}
