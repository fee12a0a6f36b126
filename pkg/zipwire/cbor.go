// SPDX-License-Identifier: Apache-2.0

package zipwire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ParseCBORPayload decodes a binary frame payload as a CBOR map with
// integer keys. Telemetry and diagnostics frames use this encoding.
func ParseCBORPayload(data []byte) (map[int]interface{}, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty CBOR payload")
	}

	var raw interface{}
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode CBOR: %w", err)
	}

	if raw == nil {
		return nil, nil
	}

	m, ok := raw.(map[interface{}]interface{})
	if !ok {
		return nil, fmt.Errorf("expected map or nil for payload, got %T", raw)
	}

	payload := make(map[int]interface{}, len(m))
	for key, val := range m {
		switch k := key.(type) {
		case uint64:
			payload[int(k)] = val
		case int64:
			payload[int(k)] = val
		default:
			return nil, fmt.Errorf("expected integer map key, got %T", key)
		}
	}
	return payload, nil
}

// EncodeCBORPayload encodes a payload map for a binary frame
func EncodeCBORPayload(payload map[int]interface{}) ([]byte, error) {
	if payload == nil {
		return cbor.Marshal(nil)
	}
	return cbor.Marshal(payload)
}

// Map value extraction helpers

// GetMapUint extracts a uint64 from a payload map by key
func GetMapUint(m map[int]interface{}, key int) (uint64, bool) {
	if m == nil {
		return 0, false
	}
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch val := v.(type) {
	case uint64:
		return val, true
	case int64:
		if val >= 0 {
			return uint64(val), true
		}
		return 0, false
	}
	return 0, false
}

// GetMapInt extracts an int64 from a payload map by key
func GetMapInt(m map[int]interface{}, key int) (int64, bool) {
	if m == nil {
		return 0, false
	}
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch val := v.(type) {
	case int64:
		return val, true
	case uint64:
		return int64(val), true
	}
	return 0, false
}

// GetMapBool extracts a bool from a payload map by key
func GetMapBool(m map[int]interface{}, key int) (bool, bool) {
	if m == nil {
		return false, false
	}
	v, ok := m[key]
	if !ok {
		return false, false
	}
	if val, ok := v.(bool); ok {
		return val, true
	}
	return false, false
}

// GetMapString extracts a string from a payload map by key
func GetMapString(m map[int]interface{}, key int) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m[key]
	if !ok {
		return "", false
	}
	if val, ok := v.(string); ok {
		return val, true
	}
	return "", false
}
