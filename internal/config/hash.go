// Copyright 2025 Tom Barlow
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

package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Dump returns a JSON-friendly representation of the config, used for the
// journal's config_dump and as the canonical hash input. Map keys serialize
// sorted, so the dump is stable across processes.
func (c *Config) Dump() (map[string]any, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Hash returns the SHA-256 of the canonical serialized config. Resume
// validation compares this against the hash stored in the journal.
func (c *Config) Hash() (string, error) {
	dump, err := c.Dump()
	if err != nil {
		return "", err
	}
	return HashDump(dump), nil
}

// HashDump hashes an already-serialized config dump.
func HashDump(dump map[string]any) string {
	payload, err := json.Marshal(dump)
	if err != nil {
		payload = []byte("{}")
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// FromDump reconstructs a Config from a journal's config_dump. Used on
// resume when the operator has no local copy of the original config.
func FromDump(dump map[string]any) (*Config, error) {
	raw, err := json.Marshal(dump)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
