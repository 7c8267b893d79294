// Package fileref substitutes JSON documents for property values that name a
// .json file.
package fileref

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/picklr-io/picklr-aws/internal/errdefs"
)

// Extension marks a value as a file reference.
const Extension = ".json"

// IsReference reports whether value should be read from a file.
func IsReference(value string) bool {
	v := strings.TrimSpace(value)
	return strings.HasSuffix(strings.ToLower(v), Extension) && !strings.ContainsAny(v, "{[\n")
}

// Resolve returns the compacted JSON content of the file named by value,
// relative paths being taken from baseDir. Values that are not references
// are returned unchanged.
func Resolve(field, value, baseDir string) (string, error) {
	if !IsReference(value) {
		return value, nil
	}
	path := strings.TrimSpace(value)
	if !filepath.IsAbs(path) && baseDir != "" {
		path = filepath.Join(baseDir, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", errdefs.Configf(field, "cannot read %s: %v", value, err)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return "", errdefs.Configf(field, "%s is not valid JSON: %v", value, err)
	}
	return buf.String(), nil
}

// MustBeJSON checks that an inline value is a JSON document.
func MustBeJSON(field, value string) error {
	if value == "" || json.Valid([]byte(value)) {
		return nil
	}
	return errdefs.Configf(field, "not valid JSON and not a path ending in %s", Extension)
}
