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

package errors

// Classifier is implemented by errors that carry a taxonomy code.
// All engine error types implement it; step results use the code to
// report why a step failed.
type Classifier interface {
	error

	// Code returns the taxonomy code for this error category.
	Code() Code
}

// Classify returns the taxonomy code for err. Errors outside the taxonomy
// (tool panics surfaced as plain errors, wrapped stdlib errors) classify
// as tool execution failures since they can only originate at the
// dispatch boundary.
func Classify(err error) Code {
	var c Classifier
	if As(err, &c) {
		return c.Code()
	}
	return CodeToolExecution
}

// IsRetryable reports whether a failed step attempt may be retried.
// Resolution and condition errors are deterministic: the same inputs
// produce the same failure, so retrying cannot help. Cancellation means
// the run is shutting down.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case CodeToolExecution, CodeTimeout:
		return true
	default:
		return false
	}
}
