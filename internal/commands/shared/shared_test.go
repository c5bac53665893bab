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

package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/stepflow/pkg/workflow"
)

func TestParseVars(t *testing.T) {
	vars, err := ParseVars([]string{"env=prod", "region=eu-west-1", "empty="})
	require.NoError(t, err)

	assert.Equal(t, workflow.String("prod"), vars["env"])
	assert.Equal(t, workflow.String("eu-west-1"), vars["region"])
	assert.Equal(t, workflow.String(""), vars["empty"])
}

func TestParseVarsKeepsEqualsInValue(t *testing.T) {
	vars, err := ParseVars([]string{"query=a=b"})
	require.NoError(t, err)
	assert.Equal(t, workflow.String("a=b"), vars["query"])
}

func TestParseVarsErrors(t *testing.T) {
	_, err := ParseVars([]string{"no-separator"})
	require.Error(t, err)

	_, err = ParseVars([]string{"=value"})
	require.Error(t, err)
}

func TestParseVarsEmpty(t *testing.T) {
	vars, err := ParseVars(nil)
	require.NoError(t, err)
	assert.Nil(t, vars)
}

func TestVersionRoundTrip(t *testing.T) {
	SetVersion("1.2.3", "abc123", "2026-01-01")
	v, c, b := GetVersion()
	assert.Equal(t, "1.2.3", v)
	assert.Equal(t, "abc123", c)
	assert.Equal(t, "2026-01-01", b)
}

func TestExitError(t *testing.T) {
	err := &ExitError{Code: 2, Message: "bad input"}
	assert.Equal(t, "bad input", err.Error())
}
