package indexer

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"docsearch/internal/loader"
)

// DocumentPattern matches the file names the builder indexes.
var DocumentPattern = func() string {
	exts := make([]string, len(loader.Extensions))
	for i, e := range loader.Extensions {
		exts[i] = strings.TrimPrefix(e, ".")
	}
	return "*.{" + strings.Join(exts, ",") + "}"
}()

// IsDocument reports whether name is an indexable, non-hidden document.
func IsDocument(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	ok, _ := doublestar.Match(DocumentPattern, strings.ToLower(base))
	return ok
}

// Discover lists the indexable files directly inside dir, sorted by name.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: Document directory '%s' not found.", ErrConfig, dir)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !IsDocument(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: No supported files found in '%s'.", ErrNoDocuments, dir)
	}
	sort.Strings(files)
	return files, nil
}
