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

import "couchstore.dev/internal/storeconfig"

// OpenOptions tunes how Open behaves. The zero value is not valid;
// use DefaultOpenOptions and override selectively.
type OpenOptions struct {
	// Create allows Open to create path if it doesn't already exist,
	// rather than returning an error.
	Create bool
	// ChunkThreshold bounds the encoded size of a B+tree node before
	// it's split (§3).
	ChunkThreshold int
	// Compress Snappy-compresses B+tree node payloads and, per
	// document, bodies whose caller-supplied ContentMeta requests it.
	Compress bool
	// TolerateCorruption downgrades a corrupt or unreadable B+tree
	// node to a logged skip instead of a hard failure, across every
	// read on this Store (§7 TOLERATE_CORRUPTION). Off by default:
	// normal operation propagates the first error.
	TolerateCorruption bool
	// CRC32Legacy forces a newly created file's checksum scheme to
	// plain CRC-32 instead of the version-12+ default of CRC-32C. It
	// has no effect when opening an existing file, whose scheme
	// always follows its own header's disk version.
	CRC32Legacy bool
}

// DefaultOpenOptions returns the options Open uses when none are
// given explicitly.
func DefaultOpenOptions() OpenOptions {
	t := storeconfig.DefaultTuning()
	return OpenOptions{ChunkThreshold: t.ChunkThreshold, Compress: t.Compress, CRC32Legacy: t.CRC32Legacy}
}

// OptionsFromConfig builds OpenOptions from a JSON configuration
// object (internal/storeconfig), for callers that externalize tuning
// knobs rather than hardcoding them at the call site.
func OptionsFromConfig(cfg storeconfig.Obj) OpenOptions {
	t := cfg.Tuning()
	return OpenOptions{ChunkThreshold: t.ChunkThreshold, Compress: t.Compress, CRC32Legacy: t.CRC32Legacy}
}

// SaveOptions controls a single SaveDocument(s) call.
type SaveOptions struct {
	// CompressBody forces Snappy compression of the document body
	// regardless of OpenOptions.Compress, setting content_meta bit 7.
	CompressBody bool
	// SequenceAsIs uses each DocUpdate's DBSeq as its by-seq key
	// instead of auto-assigning UpdateSeq+1 (§6.2 SEQUENCE_AS_IS).
	// update_seq still only ever moves forward: it becomes the
	// highest db_seq saved so far, even when a later save supplies a
	// smaller DBSeq (§8 "As-is sequences").
	SequenceAsIs bool
}
