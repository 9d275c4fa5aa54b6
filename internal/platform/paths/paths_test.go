package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeJoin(t *testing.T) {
	base := filepath.Join(os.TempDir(), "camdeck_paths_test")

	cases := []struct {
		name     string
		elements []string
		valid    bool
	}{
		{"normal", []string{"logs", "app.log"}, true},
		{"parent", []string{"..", "other"}, false},
		{"nested_parent", []string{"logs", "..", "..", "secrets"}, false},
		{"absolute", []string{string(filepath.Separator) + "etc" + string(filepath.Separator) + "passwd"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := SafeJoin(base, tc.elements...)
			if tc.valid {
				assert.NoError(t, err)
				assert.Contains(t, res, base)
			} else if assert.Error(t, err) {
				assert.Contains(t, err.Error(), "traversal")
			}
		})
	}
}

func TestSafeJoinRejectsSiblingDirectoryWithSharedPrefix(t *testing.T) {
	base := filepath.Join(os.TempDir(), "camdeck_data")
	sibling := filepath.Join(os.TempDir(), "camdeck_data2", "secret")

	rel, err := filepath.Rel(base, sibling)
	assert.NoError(t, err)

	_, err = SafeJoin(base, rel)
	assert.Error(t, err)
}

func TestEnsureDataDirsCreatesStandardLayout(t *testing.T) {
	tmpRoot := filepath.Join(os.TempDir(), "camdeck_test_data_root")
	defer os.RemoveAll(tmpRoot)

	err := EnsureDataDirs(tmpRoot)
	assert.NoError(t, err)

	for name, path := range Subdirs(tmpRoot) {
		_, err := os.Stat(path)
		assert.NoError(t, err, "subdirectory %s should exist", name)
	}
}
