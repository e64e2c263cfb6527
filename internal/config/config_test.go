package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "1000", cfg.Prediction.LiquidityDecimal().String())
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "predictx.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "api"

[server]
port = 9001
rate_window = "30s"

[evaluator]
interval = "90s"

[prediction]
liquidity = 250
`), 0o600))

	t.Setenv("PREDICTX_SERVER_API_KEY", "k")
	t.Setenv("PREDICTX_SERVER_CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("PREDICTX_EVALUATOR_INTERVAL", "2m")
	t.Setenv("PREDICTX_CHAIN_ID", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "api", cfg.Mode)
	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.RateWindow.Duration)
	assert.Equal(t, "k", cfg.Server.APIKey)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 2*time.Minute, cfg.Evaluator.Interval.Duration, "env wins over file")
	assert.Equal(t, 250.0, cfg.Prediction.Liquidity)
	assert.Equal(t, int64(84532), cfg.Chain.ChainID, "unparsable env is ignored")
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().Server.Port, cfg.Server.Port)
}

func TestLoadRejectsBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte(`[server]
rate_window = "soon"`), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Server.Port = 0
	cfg.Server.RateLimit = 10
	cfg.Events.Backend = "kafka"
	cfg.Chain.Enabled = true
	cfg.LLM.Provider = "azure"
	cfg.Prediction.Liquidity = 0

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		"server: port",
		"rate_limit requires redis.enabled",
		`unknown backend "kafka"`,
		"chain: rpc_url",
		"chain: either private_key or encrypted_key_path",
		"llm: api_key and base_url",
		"prediction: liquidity",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateArchiveNeedsPostgres(t *testing.T) {
	cfg := Defaults()
	cfg.Archive.Enabled = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive: requires postgres.enabled")

	cfg.Postgres.Enabled = true
	assert.NoError(t, cfg.Validate())
}

func TestRedacted(t *testing.T) {
	cfg := Defaults()
	cfg.Chain.PrivateKey = "0xabc"
	cfg.LLM.APIKey = "sk-1"
	cfg.Notify.Events = []string{"market_resolved"}

	out := cfg.Redacted()
	assert.Equal(t, "***", out.Chain.PrivateKey)
	assert.Equal(t, "***", out.LLM.APIKey)
	assert.Empty(t, out.Postgres.Password, "empty secrets stay empty")
	assert.Equal(t, "0xabc", cfg.Chain.PrivateKey)

	out.Notify.Events[0] = "changed"
	assert.Equal(t, "market_resolved", cfg.Notify.Events[0])
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration)
	b, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(b))
	assert.Error(t, d.UnmarshalText([]byte("later")))
}

func TestValidateArchiveCron(t *testing.T) {
	cfg := Defaults()
	cfg.Archive.Enabled = true
	cfg.Postgres.Enabled = true
	cfg.Archive.Cron = "0 25 * * *"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `archive: cron "0 25 * * *"`)

	cfg.Archive.Cron = "@weekly"
	assert.NoError(t, cfg.Validate())
}
