package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mcoot/basequiz/internal/factory"
	"github.com/mcoot/basequiz/internal/model"
	realtimeredis "github.com/mcoot/basequiz/internal/realtime/redis"
	"github.com/mcoot/basequiz/internal/services/chat"
	"github.com/mcoot/basequiz/internal/services/cleanup"
	"github.com/mcoot/basequiz/internal/services/lock"
	"github.com/mcoot/basequiz/internal/services/reaper"
)

// envPrefix is prepended to every flag name to form its environment variable
const envPrefix = "QUIZPEER"

// Config holds CLI configuration
type Config struct {
	Storage     string
	RedisURL    string
	KeyPrefix   string
	SessionFile string
	ConfigFile  string
	Output      string
	Verbose     bool

	LockTimeout     time.Duration
	GuestTTL        time.Duration
	CleanupInterval time.Duration
	ChatLimit       int

	// Session is the uid resumed on start, empty when signed out
	Session model.UserID
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	redisDefaults := realtimeredis.DefaultConfig()
	return &Config{
		Storage:         factory.StorageTypeMemory,
		RedisURL:        redisDefaults.URL,
		KeyPrefix:       redisDefaults.KeyPrefix,
		SessionFile:     defaultSessionFile(),
		Output:          "text",
		LockTimeout:     lock.DefaultConfig().Timeout,
		GuestTTL:        reaper.DefaultConfig().GuestTTL,
		CleanupInterval: cleanup.DefaultConfig().Interval,
		ChatLimit:       chat.DefaultLimit,
	}
}

func (c *Config) validate() error {
	switch c.Storage {
	case factory.StorageTypeMemory, factory.StorageTypeRedis:
	default:
		return fmt.Errorf("invalid --storage %q: must be memory or redis", c.Storage)
	}
	switch c.Output {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("invalid --output %q: must be text, json or yaml", c.Output)
	}
	if c.ChatLimit <= 0 {
		return errors.New("--chat-limit must be positive")
	}
	return nil
}

// factoryConfig translates the CLI settings into the peer factory's
func (c *Config) factoryConfig() factory.Config {
	fc := factory.Config{
		StorageType:     c.Storage,
		LockTimeout:     c.LockTimeout,
		GuestTTL:        c.GuestTTL,
		CleanupInterval: c.CleanupInterval,
		ChatLimit:       c.ChatLimit,
	}
	if c.Storage == factory.StorageTypeRedis {
		redisCfg := realtimeredis.DefaultConfig()
		redisCfg.URL = c.RedisURL
		redisCfg.KeyPrefix = c.KeyPrefix
		fc.RedisConfig = &redisCfg
	}
	return fc
}

// LoadSession loads the signed-in uid from the session file. A missing file
// means signed out.
func (c *Config) LoadSession() error {
	data, err := os.ReadFile(c.SessionFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	c.Session = model.UserID(strings.TrimSpace(string(data)))
	return nil
}

// SaveSession records uid as the signed-in user
func (c *Config) SaveSession(uid model.UserID) error {
	c.Session = uid

	dir := filepath.Dir(c.SessionFile)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	return os.WriteFile(c.SessionFile, []byte(uid), 0600)
}

// ClearSession forgets the signed-in user
func (c *Config) ClearSession() error {
	c.Session = ""
	if err := os.Remove(c.SessionFile); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func defaultSessionFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".quizpeer/session"
	}
	return filepath.Join(home, ".quizpeer", "session")
}

// bindFlags fills every flag the command line left alone from the environment,
// then from the config file. Changed flags always win.
func bindFlags(fs *pflag.FlagSet, configFile string) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			if err := fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name))); err != nil {
				errs = append(errs, fmt.Errorf("--%s: %w", f.Name, err))
			}
		}
	})
	return errors.Join(errs...)
}
