package eval

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasProjectFile(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, hasProjectFile(dir))

	if err := os.WriteFile(filepath.Join(dir, "PklProject"), []byte("amends \"pkl:Project\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	assert.True(t, hasProjectFile(dir))
}
