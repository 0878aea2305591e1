package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("BCA_TEST_INT", "2027")
	t.Setenv("BCA_TEST_FLOAT", " 0.07 ")
	t.Setenv("BCA_TEST_BOOL", "TRUE")
	t.Setenv("BCA_TEST_BAD_INT", "twenty")

	assert.Equal(t, 2027, GetEnvInt("BCA_TEST_INT", 0))
	assert.Equal(t, 5, GetEnvInt("BCA_TEST_BAD_INT", 5))
	assert.InDelta(t, 0.07, GetEnvFloat("BCA_TEST_FLOAT", 0), 1e-12)
	assert.True(t, GetEnvBool("BCA_TEST_BOOL", false))
	assert.Equal(t, "fallback", GetEnv("BCA_TEST_UNSET_KEY", "fallback"))
}

func TestLoadDotEnvSkipsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("BCA_DOTENV_PROBE=loaded\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("BCA_DOTENV_PROBE") })

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "loaded", os.Getenv("BCA_DOTENV_PROBE"))
}
