package models

import (
	"encoding/json"
	"fmt"
)

// scanJSON decodes a JSON/JSONB column into dst, treating NULL and empty as zero.
func scanJSON(value interface{}, dst interface{}, name string) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for %s", value, name)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("unmarshal %s: %w", name, err)
	}
	return nil
}
