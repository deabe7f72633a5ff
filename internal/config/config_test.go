package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs the test in an empty working directory with no user config.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)

	prev := userConfigDir
	userConfigDir = filepath.Join(dir, "user-config")
	t.Cleanup(func() { userConfigDir = prev })

	// make sure MIRRORCTL_PASSWORD is restored whatever .env does
	t.Setenv(EnvPassword, "")
	os.Unsetenv(EnvPassword)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	resolved, _ := filepath.EvalSymlinks(dir)
	got, _ := filepath.EvalSymlinks(cfg.LocalRoot)
	assert.Equal(t, resolved, got)
	assert.Equal(t, 22, cfg.RemotePort)
	assert.Equal(t, AuthKey, cfg.Auth)
	assert.Equal(t, DefaultExclude, cfg.Exclude)
	assert.Empty(t, cfg.SyncDirs)
	assert.Equal(t, 60*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, WatchAuto, cfg.WatchMode)
	assert.Equal(t, 150*time.Millisecond, cfg.ProgressEvery)
	assert.Empty(t, cfg.Path)

	var cfgErr *Error
	require.ErrorAs(t, cfg.Validate(), &cfgErr)
	assert.Equal(t, "remote_host", cfgErr.Key)
}

func TestLoadConfigFile(t *testing.T) {
	dir := isolate(t)
	yaml := `
remote_host: gpu-box
remote_root: /srv/project
remote_port: 2222
exclude: [".git", "*.log"]
sync_dirs: ["outputs/", "checkpoints"]
idle_timeout: 30s
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".mirrorctl.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "gpu-box", cfg.RemoteHost)
	assert.Equal(t, 2222, cfg.RemotePort)
	assert.Equal(t, []string{".git", "*.log"}, cfg.Exclude)
	assert.Equal(t, []string{"outputs", "checkpoints"}, cfg.SyncDirs)
	assert.Equal(t, 30*time.Second, cfg.IdleTimeout)
	assert.Contains(t, cfg.Path, ".mirrorctl.yaml")

	ex := cfg.Exclusions()
	assert.Equal(t, []string{".git", "*.log"}, ex.Base.Patterns())
	assert.Equal(t, []string{".git", "*.log", "outputs", "checkpoints"}, ex.Code.Patterns())
	assert.True(t, cfg.HasSyncDir("outputs/"))
	assert.False(t, cfg.HasSyncDir("src"))
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".mirrorctl.yaml"), []byte("remote_host: from-file\nremote_root: /r\n"), 0o644))

	t.Setenv("MIRRORCTL_REMOTE_HOST", "from-env")
	t.Setenv("MIRRORCTL_SYNC_DIRS", "outputs, logs ,")
	t.Setenv("MIRRORCTL_WATCH_MODE", "POLL")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.RemoteHost)
	assert.Equal(t, []string{"outputs", "logs"}, cfg.SyncDirs)
	assert.Equal(t, WatchPoll, cfg.WatchMode)
}

func TestLoadExplicitConfigFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("remote_host: h\nremote_root: /r\n"), 0o644))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "h", cfg.RemoteHost)
	assert.Equal(t, path, cfg.Path)

	_, err = Load(viper.New(), filepath.Join(dir, "missing.yaml"))
	assert.NoError(t, err, "a missing explicit file falls back to defaults")
}

func TestLoadUserConfig(t *testing.T) {
	isolate(t)
	require.NoError(t, os.MkdirAll(userConfigDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(userConfigDir, "config.yaml"), []byte("remote_host: user-host\n"), 0o644))

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "user-host", cfg.RemoteHost)
}

func TestLoadDotEnvPassword(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(EnvPassword+"=s3cret\n"), 0o600))

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Password)

	cfg.Auth = AuthPassword
	assert.True(t, cfg.UsesPassword())
	assert.Equal(t, []string{"SSHPASS=s3cret"}, cfg.Shell().Env())
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			LocalRoot:  t.TempDir(),
			RemoteHost: "h",
			RemoteRoot: "/r",
			RemotePort: 22,
			Auth:       AuthKey,
			WatchMode:  WatchAuto,
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		key    string
	}{
		{"valid", func(c *Config) {}, ""},
		{"no remote root", func(c *Config) { c.RemoteRoot = "" }, "remote_root"},
		{"missing local root", func(c *Config) { c.LocalRoot = "/does/not/exist" }, "local_root"},
		{"bad port", func(c *Config) { c.RemotePort = 70000 }, "remote_port"},
		{"bad auth", func(c *Config) { c.Auth = "token" }, "auth"},
		{"password auth without password", func(c *Config) { c.Auth = AuthPassword }, "auth"},
		{"bad watch mode", func(c *Config) { c.WatchMode = "inotify" }, "watch_mode"},
		{"nested sync dir", func(c *Config) { c.SyncDirs = []string{"a/b"} }, "sync_dirs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if tt.key == "" {
				assert.NoError(t, err)
				return
			}
			var cfgErr *Error
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.key, cfgErr.Key)
		})
	}
}

func TestCheckTools(t *testing.T) {
	c := &Config{RsyncPath: "rsync", SSHPath: "ssh", Auth: AuthPassword, Password: "x"}

	var looked []string
	err := c.CheckTools(func(name string) (string, error) {
		looked = append(looked, name)
		if name == "sshpass" {
			return "", errors.New("not found")
		}
		return "/usr/bin/" + name, nil
	})

	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "sshpass", cfgErr.Key)
	assert.Equal(t, []string{"rsync", "ssh", "sshpass"}, looked)

	c.Auth = AuthKey
	assert.NoError(t, c.CheckTools(func(string) (string, error) { return "", nil }))
}

func TestProjectName(t *testing.T) {
	assert.Equal(t, "proj", (&Config{LocalRoot: "/home/me/proj"}).ProjectName())
}
