package retrieval

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SourceFilter decodes a source filter given either as a single string or
// as an array of strings.
type SourceFilter []string

func (f *SourceFilter) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = SourceFilter{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("source must be a string or an array of strings: %w", err)
	}
	*f = list
	return nil
}
