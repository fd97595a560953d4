/*
Copyright 2024 The Couchstore-Go Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package cstest holds small test helpers shared across couchstore's
// own test files, in the spirit of Perkeep's pkg/sorted/kvtest: a
// scratch-file path generator and a handful of byte-slice assertions
// that would otherwise be copy-pasted into every _test.go file.
package cstest

import (
	"path/filepath"
	"testing"
)

// TempFile returns a path to a not-yet-existing file inside a fresh
// temp directory, suitable for Open(path, OpenOptions{Create: true}).
func TempFile(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.couch")
}

// RequireNoError fails the test immediately if err is non-nil,
// prefixing the message with what operation was being attempted.
func RequireNoError(t *testing.T, op string, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", op, err)
	}
}
