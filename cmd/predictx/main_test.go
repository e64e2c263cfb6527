package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictx/internal/crypto"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "predictx dev\n", out.String())
}

func TestEncryptKeyCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "op.json")
	t.Setenv("TEST_OPERATOR_KEY", "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	t.Setenv("TEST_OPERATOR_PW", "hunter2")

	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"encrypt-key", "--key-env", "TEST_OPERATOR_KEY", "--password-env", "TEST_OPERATOR_PW", "-o", path})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	_, err = crypto.DecryptKey(data, "hunter2")
	assert.NoError(t, err)
}

func TestEncryptKeyCommandNeedsPassword(t *testing.T) {
	t.Setenv("TEST_OPERATOR_KEY", "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	cmd := rootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"encrypt-key", "--key-env", "TEST_OPERATOR_KEY", "--password-env", "TEST_UNSET_PW_VAR"})
	assert.Error(t, cmd.Execute())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}
