package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteCrashFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	previous := CrashLogDir
	t.Cleanup(func() { CrashLogDir = previous })

	InstallCrashHandler(dir)
	path := WriteCrashFile("listing exploded", "main.go:42")

	require.NotEmpty(t, path)
	assert.Equal(t, dir, filepath.Dir(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "HARVESTER CRASH REPORT")
	assert.Contains(t, string(data), "listing exploded")
	assert.Contains(t, string(data), "main.go:42")
}
