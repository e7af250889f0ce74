package types

import (
	"encoding/json"
	"fmt"
)

func scanJSON(name string, value any, dest any) (bool, error) {
	if value == nil {
		return false, nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return false, fmt.Errorf("%s: unsupported scan type %T", name, value)
	}
	if len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return true, nil
}
