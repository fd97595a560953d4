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

// Package storeconfig defines a small JSON configuration object, in
// the style of Perkeep's jsonconfig.Obj, for the handful of open-time
// knobs a deployment might want to externalize (chunk threshold,
// compression, CRC scheme) rather than wire into every Open call.
package storeconfig

import (
	"encoding/json"
	"fmt"
	"os"
)

// Obj is a JSON configuration map, mirroring jsonconfig.Obj's
// required/optional accessor pattern but trimmed to what couchstore's
// own config needs.
type Obj map[string]interface{}

// ReadFile loads a JSON object from path.
func ReadFile(path string) (Obj, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("storeconfig: parsing %s: %w", path, err)
	}
	return Obj(m), nil
}

// OptionalInt returns key's value as an int, or def if absent.
func (o Obj) OptionalInt(key string, def int) int {
	v, ok := o[key]
	if !ok {
		return def
	}
	f, ok := v.(float64)
	if !ok {
		return def
	}
	return int(f)
}

// OptionalBool returns key's value as a bool, or def if absent.
func (o Obj) OptionalBool(key string, def bool) bool {
	v, ok := o[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// OptionalString returns key's value as a string, or def if absent.
func (o Obj) OptionalString(key, def string) string {
	v, ok := o[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

// Tuning is the subset of a store's open-time behavior a deployment
// can externalize via config rather than Go call sites.
type Tuning struct {
	ChunkThreshold int
	Compress       bool
	CRC32Legacy    bool // force CRC-32 for newly created files; existing files keep their header's scheme
}

// DefaultTuning matches the zero-config behavior of Open.
func DefaultTuning() Tuning {
	return Tuning{ChunkThreshold: 1279, Compress: true}
}

// Tuning decodes a Tuning from o, falling back to DefaultTuning for
// any field o doesn't set.
func (o Obj) Tuning() Tuning {
	def := DefaultTuning()
	return Tuning{
		ChunkThreshold: o.OptionalInt("chunk_threshold", def.ChunkThreshold),
		Compress:       o.OptionalBool("compress", def.Compress),
		CRC32Legacy:    o.OptionalBool("crc32_legacy", def.CRC32Legacy),
	}
}
