package security

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	safeDir := filepath.Join(tmpDir, "safe")
	unsafeDir := filepath.Join(tmpDir, "unsafe")
	require.NoError(t, os.MkdirAll(safeDir, 0755))
	require.NoError(t, os.MkdirAll(unsafeDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(unsafeDir, "tuning.json"), []byte("{}"), 0644))

	// A link inside the safe directory that points out of it.
	symlinkPath := filepath.Join(safeDir, "evil-symlink")
	require.NoError(t, os.Symlink(unsafeDir, symlinkPath))

	tests := []struct {
		name      string
		filePath  string
		safeDir   string
		wantError bool
	}{
		{name: "file in directory", filePath: filepath.Join(tmpDir, "tuning.json"), safeDir: tmpDir},
		{name: "nested file that does not exist yet", filePath: filepath.Join(tmpDir, "reports", "a.png"), safeDir: tmpDir},
		{name: "dot dot", filePath: filepath.Join(tmpDir, "..", "tuning.json"), safeDir: tmpDir, wantError: true},
		{name: "relative escape", filePath: "../../../etc/passwd", safeDir: tmpDir, wantError: true},
		{name: "absolute path elsewhere", filePath: "/etc/passwd", safeDir: tmpDir, wantError: true},
		{name: "through symlink", filePath: filepath.Join(symlinkPath, "tuning.json"), safeDir: safeDir, wantError: true},
		{name: "new file through symlink", filePath: filepath.Join(symlinkPath, "new.png"), safeDir: safeDir, wantError: true},
		{name: "symlink itself", filePath: symlinkPath, safeDir: safeDir, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.filePath, tt.safeDir)
			if !tt.wantError {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrPathEscapes), "got %v", err)
		})
	}
}

func TestValidatePathWithinDirectory_MissingSafeDir(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")
	err := ValidatePathWithinDirectory(filepath.Join(missing, "x.json"), missing)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrPathEscapes))
}

func TestValidatePathWithinAllowedDirs(t *testing.T) {
	dir1 := t.TempDir()
	dir2 := t.TempDir()

	assert.NoError(t, ValidatePathWithinAllowedDirs(filepath.Join(dir1, "a.json"), []string{dir1, dir2}))
	assert.NoError(t, ValidatePathWithinAllowedDirs(filepath.Join(dir2, "a.json"), []string{dir1, dir2}))
	assert.Error(t, ValidatePathWithinAllowedDirs("/etc/passwd", []string{dir1, dir2}))
	assert.Error(t, ValidatePathWithinAllowedDirs(filepath.Join(dir1, "a.json"), nil))
}

func TestValidateConfigPathAndOutputDir(t *testing.T) {
	originalWd, err := os.Getwd()
	require.NoError(t, err)
	tmpDir := t.TempDir()
	require.NoError(t, os.Chdir(tmpDir))
	t.Cleanup(func() {
		if err := os.Chdir(originalWd); err != nil {
			t.Errorf("Failed to restore directory: %v", err)
		}
	})

	assert.NoError(t, ValidateConfigPath("config/tuning.json"))
	assert.Error(t, ValidateConfigPath("/etc/passwd"))

	assert.NoError(t, ValidateOutputDir("reports"))
	assert.NoError(t, ValidateOutputDir(filepath.Join(os.TempDir(), "reports")))
	assert.Error(t, ValidateOutputDir("/proc"))
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"":                 "unknown",
		"3f2a-11ee.b":      "3f2a-11ee.b",
		"../../etc/passwd": "etc_passwd",
		"lobby door #2":    "lobby_door_2",
		"__":               "unknown",
		"a//b??c":          "a_b_c",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeFilename(in), "input %q", in)
	}
}
