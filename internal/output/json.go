package output

import "encoding/json"

// RenderJSON marshals any value as indented JSON.
func RenderJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
