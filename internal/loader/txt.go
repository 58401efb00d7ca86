package loader

import (
	"fmt"
	"os"
	"strings"
)

func extractTXT(path string) ([]Unit, int, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- path comes from the configured document directory
	if err != nil {
		return nil, 0, fmt.Errorf("%w: read %s: %v", ErrExtraction, path, err)
	}
	return []Unit{{Index: 1, Text: strings.ToValidUTF8(string(raw), "")}}, 1, nil
}
