package config

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tcriess/lightspeed-sync/globals"
)

const (
	defaultTokenTTL        = 7 * 24 * time.Hour
	defaultRoomTTL         = 7 * 24 * time.Hour
	defaultSocketLimit     = 300
	defaultRoomLimit       = 1000
	defaultHTTPLimit       = 60
	defaultWindow          = time.Minute
	defaultIPCap           = 100
	defaultGaugeTTL        = time.Hour
	defaultMembersTTL      = time.Minute
	defaultCacheSweep      = 5 * time.Minute
	defaultProbeInterval   = 5 * time.Second
	defaultRedisMaxRetries = 2
)

// Config is the global configuration object which is filled via the configuration file
type Config struct {
	RedisConfig  RedisConfig  `mapstructure:"redis"`
	AuthConfig   AuthConfig   `mapstructure:"auth"`
	LimitsConfig LimitsConfig `mapstructure:"limits"`
	CacheConfig  CacheConfig  `mapstructure:"cache"`
	StoreConfig  StoreConfig  `mapstructure:"store"`
	LogLevel     string       `mapstructure:"log_level"`
}

// RedisConfig configures the primary networked state store. If Addr is empty,
// the in-process fallback store serves everything.
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	MaxRetries  int           `mapstructure:"max_retries"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

// AuthConfig configures the stateless room token credentials.
type AuthConfig struct {
	TokenSecret string        `mapstructure:"token_secret"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
}

// LimitsConfig configures the rate limit dimensions. FailOpen controls whether
// windowed checks allow traffic when the state store cannot be reached at all,
// EnforceMessages turns per-message limit violations from advisory into drops.
type LimitsConfig struct {
	SocketLimit     int           `mapstructure:"socket_limit"`
	RoomLimit       int           `mapstructure:"room_limit"`
	HTTPLimit       int           `mapstructure:"http_limit"`
	Window          time.Duration `mapstructure:"window"`
	IPCap           int           `mapstructure:"ip_cap"`
	GaugeTTL        time.Duration `mapstructure:"gauge_ttl"`
	FailOpen        bool          `mapstructure:"fail_open"`
	EnforceMessages bool          `mapstructure:"enforce_messages"`
}

// CacheConfig configures the membership cache in front of the room registry.
type CacheConfig struct {
	MembersTTL    time.Duration `mapstructure:"members_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// StoreConfig configures the tiered store internals: how often the primary is
// probed for recovery, plus the retention of room state.
type StoreConfig struct {
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	RoomTTL       time.Duration `mapstructure:"room_ttl"`
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.StringP("token-secret", "s", "", "secret used to sign room tokens")
	flagSet.String("redis-addr", "", "address of the redis state store (host:port)")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	from := "-"
	to := "_"
	name = strings.Replace(name, from, to, -1)
	return pflag.NormalizedName(name)
}

// ReadConfiguration reads and parses the configuration located at configPath, which can either point to a single TOML
// file or to a directory, in which case all *.toml files in this directory are concatenated. It returns a Config
// object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	cfg := Config{}
	flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
	setDefaults()
	// flags override nested config keys, so each flag is bound to its key
	// explicitly
	err := viper.BindPFlag("auth.token_secret", flagSet.Lookup("token-secret"))
	if err != nil {
		globals.AppLogger.Error("could not bind flags (ignored)", "error", err)
	}
	err = viper.BindPFlag("redis.addr", flagSet.Lookup("redis-addr"))
	if err != nil {
		globals.AppLogger.Error("could not bind flags (ignored)", "error", err)
	}
	viper.SetEnvPrefix("LSSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := ioutil.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		viper.SetConfigType("toml")
		err = viper.ReadConfig(bytes.NewBuffer(contents))
		if err != nil {
			globals.AppLogger.Error("could not read config:", "error", err)
		}
	}
	err = viper.Unmarshal(&cfg)
	if err != nil {
		globals.AppLogger.Error("could not unmarshal config:", "error", err)
	}

	globals.AppLogger.Info("config", "cfg", cfg, "all", viper.AllSettings())
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("auth.token_ttl", defaultTokenTTL)
	viper.SetDefault("limits.socket_limit", defaultSocketLimit)
	viper.SetDefault("limits.room_limit", defaultRoomLimit)
	viper.SetDefault("limits.http_limit", defaultHTTPLimit)
	viper.SetDefault("limits.window", defaultWindow)
	viper.SetDefault("limits.ip_cap", defaultIPCap)
	viper.SetDefault("limits.gauge_ttl", defaultGaugeTTL)
	viper.SetDefault("limits.fail_open", true)
	viper.SetDefault("cache.members_ttl", defaultMembersTTL)
	viper.SetDefault("cache.sweep_interval", defaultCacheSweep)
	viper.SetDefault("store.probe_interval", defaultProbeInterval)
	viper.SetDefault("store.room_ttl", defaultRoomTTL)
	viper.SetDefault("redis.max_retries", defaultRedisMaxRetries)
}
