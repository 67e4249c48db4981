package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afterdata/bodacc/pkg/crypto"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
directories:
  main_dir: /srv/bodacc
  tmp_dir: tmp
  output_dir: output
  log_dir: logs
general:
  api_url: https://example.org/api
`)

	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.General.PerPage)
	assert.Equal(t, 5, cfg.General.MaxRetries)
	assert.Equal(t, 300, cfg.General.TooManyRequestsWait)
	assert.Equal(t, 7, cfg.General.DefaultDaysDepth)
	assert.Equal(t, "bodacc_by_day", cfg.Directories.DailyDir)
	assert.Equal(t, "bodacc_filtered_by_day", cfg.Directories.FilteredDir)
	assert.Equal(t, "require", cfg.MasterData.SSLMode)
}

func TestLoadDecryptsWithExplicitKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	c, err := crypto.NewCipher(key)
	require.NoError(t, err)
	sealed, err := c.EncryptValue("db-secret")
	require.NoError(t, err)

	path := writeConfig(t, `
directories:
  main_dir: /srv/bodacc
master_data:
  host: db.internal
  password: `+sealed+`
`)

	cfg, err := Load(path, key)
	require.NoError(t, err)
	assert.Equal(t, "db-secret", cfg.MasterData.Password)
}

func TestLoadDecryptsWithDefaultKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	c, err := crypto.NewCipher(key)
	require.NoError(t, err)
	sealed, err := c.EncryptValue("proxy-secret")
	require.NoError(t, err)

	path := writeConfig(t, `
proxy:
  password: `+sealed+`
encryption:
  default_key: `+key+`
`)

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "proxy-secret", cfg.Proxy.Password)
}

func TestLoadFailsOnEncryptedValueWithoutKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	c, err := crypto.NewCipher(key)
	require.NoError(t, err)
	sealed, err := c.EncryptValue("secret")
	require.NoError(t, err)

	path := writeConfig(t, "proxy:\n  password: "+sealed+"\n")

	_, err = Load(path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no decryption key")
}

func TestResolvePriority(t *testing.T) {
	explicit := writeConfig(t, "directories: {main_dir: /a}\n")
	fromEnv := writeConfig(t, "directories: {main_dir: /b}\n")

	got, err := Resolve(explicit)
	require.NoError(t, err)
	assert.Equal(t, explicit, got)

	t.Setenv(EnvConfigPath, fromEnv)
	got, err = Resolve("")
	require.NoError(t, err)
	assert.Equal(t, fromEnv, got)

	got, err = Resolve(explicit)
	require.NoError(t, err)
	assert.Equal(t, explicit, got, "explicit path wins over the environment")
}

func TestResolveFailsWithNothingAvailable(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Chdir(t.TempDir())

	_, err := Resolve("")
	require.Error(t, err)
}

func TestDirectoriesAreCreatedUnderMainDir(t *testing.T) {
	main := t.TempDir()
	cfg := &Config{Directories: Directories{
		MainDir:   main,
		TmpDir:    "tmp",
		OutputDir: "output",
		LogDir:    "logs",
	}}
	cfg.applyDefaults()

	daily, err := cfg.DailyOutputDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(main, "output", "bodacc_by_day"), daily)
	assert.DirExists(t, daily)

	filtered, err := cfg.FilteredOutputDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(main, "output", "bodacc_filtered_by_day"), filtered)

	sirenPath, err := cfg.SirenCSVPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(main, "tmp", "siren_registry.csv"), sirenPath)
}

func TestEnsureDirRequiresMainDir(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	_, err := cfg.TmpDir()
	require.Error(t, err)
}
