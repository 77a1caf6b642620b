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

package events

import (
	"encoding/json"
	"strings"
)

// DefaultMarker is the stdout token that prefixes inline event payloads.
const DefaultMarker = "LB_EVENT"

// ExtractPayload scans a stdout line for a marker token followed by a JSON
// object and returns the decoded payload. Intermediate log renderers may
// quote or backslash-escape the payload and may append trailing junk, so the
// scan tracks brace depth to find the real end of the object and retries a
// few unquoting variants.
func ExtractPayload(line, token string) (map[string]any, bool) {
	idx := strings.Index(line, token)
	if idx == -1 {
		return nil, false
	}

	payload := strings.TrimSpace(line[idx+len(token):])
	start := strings.IndexByte(payload, '{')
	if start == -1 {
		return nil, false
	}

	depth := 0
	end := -1
	for i := start; i < len(payload); i++ {
		switch payload[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				end = i + 1
			}
		}
		if end != -1 {
			break
		}
	}
	if end == -1 {
		return nil, false
	}

	raw := payload[start:end]
	candidates := []string{
		raw,
		strings.Trim(raw, `"'`),
		strings.ReplaceAll(raw, `\"`, `"`),
		strings.ReplaceAll(strings.Trim(raw, `"'`), `\"`, `"`),
	}
	for _, candidate := range candidates {
		var data map[string]any
		if err := json.Unmarshal([]byte(candidate), &data); err == nil {
			return data, true
		}
	}
	return nil, false
}
