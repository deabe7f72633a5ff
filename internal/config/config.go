// Package config loads mirrorctl settings from flags, environment, an optional
// .env credential file and an optional YAML config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/openmined/mirrorctl/internal/exclude"
	"github.com/openmined/mirrorctl/internal/remote"
	"github.com/openmined/mirrorctl/internal/utils"
	"github.com/spf13/viper"
)

const (
	EnvPrefix   = "MIRRORCTL"
	EnvPassword = EnvPrefix + "_PASSWORD"

	AuthKey      = "key"
	AuthPassword = "password"

	WatchAuto   = "auto"
	WatchEvents = "events"
	WatchPoll   = "poll"
)

var (
	home, _               = os.UserHomeDir()
	DefaultLogFilePath    = filepath.Join(home, ".mirrorctl", "logs", "mirrorctl.log")
	DefaultLockDir        = filepath.Join(os.TempDir(), "mirrorctl")
	DefaultExclude        = []string{".git", "__pycache__", "*.pyc", ".DS_Store", "node_modules"}
	configFileName        = ".mirrorctl"
	userConfigDir         = filepath.Join(home, ".config", "mirrorctl")
	DefaultConfigFileName = "config"
)

// Error is a configuration problem the user has to fix before anything runs.
type Error struct {
	Key    string
	Reason string
}

func (e *Error) Error() string {
	if e.Key == "" {
		return "config: " + e.Reason
	}
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}

type Config struct {
	LocalRoot      string        `yaml:"local_root"`
	RemoteHost     string        `yaml:"remote_host"`
	RemoteUser     string        `yaml:"remote_user,omitempty"`
	RemotePort     int           `yaml:"remote_port"`
	RemoteRoot     string        `yaml:"remote_root"`
	Password       string        `yaml:"-"`
	Auth           string        `yaml:"auth"`
	Exclude        []string      `yaml:"exclude"`
	SyncDirs       []string      `yaml:"sync_dirs"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	LockDir        string        `yaml:"lock_dir"`
	RsyncPath      string        `yaml:"rsync_path"`
	SSHPath        string        `yaml:"ssh_path"`
	WatchMode      string        `yaml:"watch_mode"`
	WatchInterval  time.Duration `yaml:"watch_interval"`
	WatchDebounce  time.Duration `yaml:"watch_debounce"`
	ProgressEvery  time.Duration `yaml:"progress_interval"`
	LogFile        string        `yaml:"log_file"`
	Path           string        `yaml:"config_file,omitempty"`
}

// SetDefaults registers every key with its default so that environment
// variables are picked up for all of them.
func SetDefaults(v *viper.Viper) {
	cwd, _ := os.Getwd()

	v.SetDefault("local_root", cwd)
	v.SetDefault("remote_host", "")
	v.SetDefault("remote_user", "")
	v.SetDefault("remote_port", remote.DefaultPort)
	v.SetDefault("remote_root", "")
	v.SetDefault("auth", AuthKey)
	v.SetDefault("exclude", DefaultExclude)
	v.SetDefault("sync_dirs", []string{})
	v.SetDefault("idle_timeout", 60*time.Second)
	v.SetDefault("connect_timeout", remote.DefaultConnectTimeout)
	v.SetDefault("lock_dir", DefaultLockDir)
	v.SetDefault("rsync_path", "rsync")
	v.SetDefault("ssh_path", "ssh")
	v.SetDefault("watch_mode", WatchAuto)
	v.SetDefault("watch_interval", 2*time.Second)
	v.SetDefault("watch_debounce", 500*time.Millisecond)
	v.SetDefault("progress_interval", 150*time.Millisecond)
	v.SetDefault("log_file", DefaultLogFilePath)
}

// Load resolves the configuration. configFile overrides the search path when
// non-empty. Flags must already be bound to v. Load does not validate.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	// .env never overrides variables that are already set
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	SetDefaults(v)
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(configFileName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
		if configFile == "" {
			if err := readUserConfig(v); err != nil {
				return nil, err
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	cfg := &Config{
		LocalRoot:      v.GetString("local_root"),
		RemoteHost:     strings.TrimSpace(v.GetString("remote_host")),
		RemoteUser:     strings.TrimSpace(v.GetString("remote_user")),
		RemotePort:     v.GetInt("remote_port"),
		RemoteRoot:     strings.TrimSpace(v.GetString("remote_root")),
		Password:       os.Getenv(EnvPassword),
		Auth:           strings.ToLower(strings.TrimSpace(v.GetString("auth"))),
		Exclude:        stringList(v.Get("exclude")),
		SyncDirs:       stringList(v.Get("sync_dirs")),
		IdleTimeout:    v.GetDuration("idle_timeout"),
		ConnectTimeout: v.GetDuration("connect_timeout"),
		LockDir:        v.GetString("lock_dir"),
		RsyncPath:      v.GetString("rsync_path"),
		SSHPath:        v.GetString("ssh_path"),
		WatchMode:      strings.ToLower(v.GetString("watch_mode")),
		WatchInterval:  v.GetDuration("watch_interval"),
		WatchDebounce:  v.GetDuration("watch_debounce"),
		ProgressEvery:  v.GetDuration("progress_interval"),
		LogFile:        v.GetString("log_file"),
		Path:           v.ConfigFileUsed(),
	}

	for _, p := range []*string{&cfg.LocalRoot, &cfg.LockDir, &cfg.LogFile} {
		if *p == "" {
			continue
		}
		resolved, err := utils.ResolvePath(*p)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", *p, err)
		}
		*p = resolved
	}
	for i, d := range cfg.SyncDirs {
		cfg.SyncDirs[i] = strings.Trim(d, "/")
	}

	return cfg, nil
}

func readUserConfig(v *viper.Viper) error {
	path := filepath.Join(userConfigDir, DefaultConfigFileName+".yaml")
	if !utils.FileExists(path) {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config read '%s': %w", path, err)
	}
	return nil
}

// stringList accepts a YAML list or a comma separated string.
func stringList(raw any) []string {
	var items []string
	switch val := raw.(type) {
	case nil:
		return nil
	case string:
		items = strings.Split(val, ",")
	case []string:
		items = val
	case []any:
		for _, item := range val {
			items = append(items, fmt.Sprint(item))
		}
	default:
		items = []string{fmt.Sprint(val)}
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate reports the first problem as *Error.
func (c *Config) Validate() error {
	switch {
	case c.RemoteHost == "":
		return &Error{Key: "remote_host", Reason: "is required"}
	case c.RemoteRoot == "":
		return &Error{Key: "remote_root", Reason: "is required"}
	case !utils.DirExists(c.LocalRoot):
		return &Error{Key: "local_root", Reason: fmt.Sprintf("%q is not a directory", c.LocalRoot)}
	case c.RemotePort <= 0 || c.RemotePort > 65535:
		return &Error{Key: "remote_port", Reason: fmt.Sprintf("%d is out of range", c.RemotePort)}
	case c.Auth != AuthKey && c.Auth != AuthPassword:
		return &Error{Key: "auth", Reason: fmt.Sprintf("must be %q or %q", AuthKey, AuthPassword)}
	case c.Auth == AuthPassword && c.Password == "":
		return &Error{Key: "auth", Reason: "password auth needs " + EnvPassword}
	case !slices.Contains([]string{WatchAuto, WatchEvents, WatchPoll}, c.WatchMode):
		return &Error{Key: "watch_mode", Reason: fmt.Sprintf("unknown mode %q", c.WatchMode)}
	case c.IdleTimeout < 0 || c.ConnectTimeout < 0:
		return &Error{Key: "idle_timeout", Reason: "timeouts must not be negative"}
	}

	for _, d := range c.SyncDirs {
		if d == "" || d == "." || d == ".." || strings.Contains(d, "/") {
			return &Error{Key: "sync_dirs", Reason: fmt.Sprintf("%q must be a plain directory name", d)}
		}
	}
	return nil
}

// CheckTools verifies that the external programs are installed. lookPath is
// exec.LookPath outside of tests.
func (c *Config) CheckTools(lookPath func(string) (string, error)) error {
	tools := map[string]string{"rsync_path": c.RsyncPath, "ssh_path": c.SSHPath}
	if c.UsesPassword() {
		tools["sshpass"] = "sshpass"
	}

	keys := make([]string, 0, len(tools))
	for k := range tools {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, key := range keys {
		if _, err := lookPath(tools[key]); err != nil {
			return &Error{Key: key, Reason: fmt.Sprintf("%q not found in PATH", tools[key])}
		}
	}
	return nil
}

// UsesPassword reports whether ssh goes through sshpass.
func (c *Config) UsesPassword() bool {
	return c.Auth == AuthPassword && c.Password != ""
}

// ProjectName is the base name of the local root.
func (c *Config) ProjectName() string {
	return filepath.Base(c.LocalRoot)
}

// Exclusions resolves the base and code exclusion sets.
func (c *Config) Exclusions() exclude.Resolved {
	return exclude.Resolve(c.Exclude, c.SyncDirs)
}

func (c *Config) Shell() *remote.Shell {
	s := &remote.Shell{
		Host:           c.RemoteHost,
		User:           c.RemoteUser,
		Port:           c.RemotePort,
		ConnectTimeout: c.ConnectTimeout,
		SSHPath:        c.SSHPath,
	}
	if c.UsesPassword() {
		s.Password = c.Password
	}
	return s
}

// HasSyncDir reports whether name is one of the configured pull-only dirs.
func (c *Config) HasSyncDir(name string) bool {
	return slices.Contains(c.SyncDirs, strings.Trim(name, "/"))
}
