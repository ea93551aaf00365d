package span

import (
	"encoding/json"
	"fmt"
)

// deepCopy returns a structural copy of v that shares no mutable state with
// the original. Scalars pass through untouched; everything else goes through
// a JSON round trip. Values that cannot be serialized (circular structures,
// channels, ...) degrade to a placeholder string instead of failing the
// instrumented code.
func deepCopy(v any) any {
	switch v := v.(type) {
	case nil:
		return nil
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v
	case error:
		return v.Error()
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("<unserializable %T>", v)
		}
		var out any
		if err := json.Unmarshal(raw, &out); err != nil {
			return string(raw)
		}
		return out
	}
}

// Stringify coerces v to a string, JSON-encoding non-string values.
func Stringify(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case error:
		return v.Error()
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("<unserializable %T>", v)
		}
		return string(raw)
	}
}
