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

package couchstore

import (
	"errors"
	"fmt"

	"couchstore.dev/internal/btree"
	"couchstore.dev/internal/chunk"
	"couchstore.dev/internal/docindex"
	"couchstore.dev/internal/header"
	"couchstore.dev/internal/node"
)

// Sentinel errors (§7). Callers should compare against these with
// errors.Is; StoreError wraps them with the operation and path that
// failed, the way *os.PathError wraps a syscall error.
var (
	ErrNoHeader          = errors.New("couchstore: no header found")
	ErrDocNotFound       = errors.New("couchstore: document not found")
	ErrChecksumFail      = errors.New("couchstore: checksum mismatch")
	ErrCorrupt           = errors.New("couchstore: corrupt data")
	ErrReductionTooLarge = errors.New("couchstore: reduce value too large")
	ErrFileClosed        = errors.New("couchstore: file closed")
	ErrDBNoLongerValid   = errors.New("couchstore: header position no longer valid")
	ErrInvalidArguments  = errors.New("couchstore: invalid arguments")
)

// StoreError reports the operation and file path a failure occurred
// in, analogous to *os.PathError.
type StoreError struct {
	Op   string
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("couchstore: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func wrapErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Path: path, Err: mapErr(err)}
}

// mapErr translates an internal package's sentinel error into the
// public one it corresponds to, so callers never need to import
// internal/chunk or internal/header to recognize a failure kind.
func mapErr(err error) error {
	switch {
	case errors.Is(err, header.ErrNoHeader):
		return ErrNoHeader
	case errors.Is(err, chunk.ErrChecksumFail):
		return ErrChecksumFail
	case errors.Is(err, chunk.ErrCorrupt), errors.Is(err, node.ErrCorrupt), errors.Is(err, docindex.ErrCorrupt):
		return ErrCorrupt
	case errors.Is(err, btree.ErrReductionTooLarge):
		return ErrReductionTooLarge
	default:
		return err
	}
}
