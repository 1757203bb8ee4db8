package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckConfigPath(t *testing.T) {
	assert.NoError(t, checkConfigPath("semwire.yaml"))
	assert.NoError(t, checkConfigPath("/etc/semwire/semwire.JSON"))
	assert.Error(t, checkConfigPath(""))
	assert.Error(t, checkConfigPath("semwire.toml"))
	assert.Error(t, checkConfigPath("../semwire.yaml"))
	assert.Error(t, checkConfigPath("/etc/semwire/../passwd.yml"))
}

func TestReadWriteConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "semwire.json")

	require.NoError(t, writeConfigFile(path, []byte(`{"runtime":{"id":"a"}}`)))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := readConfigFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"runtime":{"id":"a"}}`, string(data))

	_, err = readConfigFile(dir + ".json")
	assert.Error(t, err)

	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.yaml"), 0o700))
	_, err = readConfigFile(filepath.Join(dir, "nested.yaml"))
	assert.ErrorContains(t, err, "not a regular file")
}

func TestCheckJSONDepth(t *testing.T) {
	assert.NoError(t, checkJSONDepth([]byte(`{"a":[{"b":"[[[["}]}`)))
	assert.NoError(t, checkJSONDepth([]byte(`{broken`)), "syntax errors are left to the decoder")

	deep := strings.Repeat("[", maxJSONDepth+1) + strings.Repeat("]", maxJSONDepth+1)
	assert.ErrorContains(t, checkJSONDepth([]byte(deep)), "too deep")
}

func TestCheckEnvValue(t *testing.T) {
	assert.NoError(t, checkEnvValue("SEMWIRE_RUNTIME_ID", "edge-1"))
	assert.Error(t, checkEnvValue("SEMWIRE_RUNTIME_ID", "a\x00b"))
	assert.Error(t, checkEnvValue("SEMWIRE_RUNTIME_ID", strings.Repeat("x", maxEnvVarLen+1)))
}
