package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/go-go-golems/agent-relay/pkg/logging"
	"github.com/go-go-golems/agent-relay/pkg/redisstream"
)

const EnvPrefix = "AGENT_RELAY"

const (
	ResponderEcho   = "echo"
	ResponderOpenAI = "openai"
)

// Config is the full server configuration.
type Config struct {
	Addr           string        `mapstructure:"addr"`
	StaticDir      string        `mapstructure:"static-dir"`
	UploadsDir     string        `mapstructure:"uploads-dir"`
	MaxUploadBytes int64         `mapstructure:"max-upload-bytes"`
	WriteTimeout   time.Duration `mapstructure:"write-timeout"`
	MaxSessions    int           `mapstructure:"max-sessions"`
	EvictIdle      time.Duration `mapstructure:"evict-idle"`
	EvictInterval  time.Duration `mapstructure:"evict-interval"`
	InboundRate    float64       `mapstructure:"inbound-rate"`
	InboundBurst   int           `mapstructure:"inbound-burst"`

	Responder     string `mapstructure:"responder"`
	AgentFile     string `mapstructure:"agent-file"`
	OpenAIBaseURL string `mapstructure:"openai-base-url"`
	OpenAIAPIKey  string `mapstructure:"openai-api-key"`
	OpenAIModel   string `mapstructure:"openai-model"`

	TranscriptDB       string `mapstructure:"transcript-db"`
	TranscriptInMemMax int    `mapstructure:"transcript-inmem-max"`

	EnvFile string `mapstructure:"env-file"`

	Redis   redisstream.Settings `mapstructure:",squash"`
	Logging logging.Settings     `mapstructure:",squash"`
}

func Default() Config {
	return Config{
		Addr:               ":8000",
		StaticDir:          "static",
		UploadsDir:         "uploads",
		MaxUploadBytes:     32 << 20,
		WriteTimeout:       10 * time.Second,
		EvictInterval:      time.Minute,
		Responder:          ResponderEcho,
		TranscriptInMemMax: 500,
		EnvFile:            ".env",
		Redis:              redisstream.DefaultSettings(),
		Logging:            logging.DefaultSettings(),
	}
}

// AddFlags registers every setting as a flag with its default value.
func AddFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("addr", d.Addr, "listen address")
	fs.String("static-dir", d.StaticDir, "directory with static assets; the embedded UI is used when missing")
	fs.String("uploads-dir", d.UploadsDir, "directory for uploaded files")
	fs.Int64("max-upload-bytes", d.MaxUploadBytes, "maximum upload size in bytes (0 = unlimited)")
	fs.Duration("write-timeout", d.WriteTimeout, "websocket write deadline (0 = none)")
	fs.Int("max-sessions", d.MaxSessions, "maximum concurrent sessions (0 = unlimited)")
	fs.Duration("evict-idle", d.EvictIdle, "close sessions idle for this long (0 = never)")
	fs.Duration("evict-interval", d.EvictInterval, "how often idle sessions are checked")
	fs.Float64("inbound-rate", d.InboundRate, "client frames per second per session (0 = unlimited)")
	fs.Int("inbound-burst", d.InboundBurst, "burst size for inbound-rate")
	fs.String("responder", d.Responder, "agent responder: echo or openai")
	fs.String("agent-file", d.AgentFile, "agent definition yaml (built-in definition when empty)")
	fs.String("openai-base-url", d.OpenAIBaseURL, "OpenAI-compatible base url")
	fs.String("openai-api-key", d.OpenAIAPIKey, "OpenAI api key (also read from OPENAI_API_KEY)")
	fs.String("openai-model", d.OpenAIModel, "model override for the openai responder")
	fs.String("transcript-db", d.TranscriptDB, "sqlite file for transcripts")
	fs.Int("transcript-inmem-max", d.TranscriptInMemMax, "in-memory transcript entries per session when no db is set (0 = off)")
	fs.String("env-file", d.EnvFile, "dotenv file loaded at startup")
	fs.Bool("redis-enabled", d.Redis.Enabled, "carry agent events over redis streams")
	fs.String("redis-addr", d.Redis.Addr, "redis address")
	fs.String("redis-group", d.Redis.Group, "redis consumer group")
}

// AddLoggingFlags registers the logging settings, usually as persistent flags.
func AddLoggingFlags(fs *pflag.FlagSet) {
	d := logging.DefaultSettings()
	fs.String("log-level", d.Level, "log level (trace, debug, info, warn, error)")
	fs.String("log-format", d.Format, "log format (auto, text, json)")
	fs.Bool("with-caller", d.WithCaller, "include caller in log lines")
}

// Load resolves the configuration from flags, the environment and the dotenv file,
// in that order of precedence. Non-fatal problems are returned as warnings.
func Load(v *viper.Viper, fs *pflag.FlagSet) (Config, []string, error) {
	if v == nil {
		v = viper.New()
	}
	UseEnv(v)
	setDefaults(v)
	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return Config{}, nil, errors.Wrap(err, "bind flags")
		}
	}
	if err := v.BindEnv("openai-api-key", EnvPrefix+"_OPENAI_API_KEY", "OPENAI_API_KEY"); err != nil {
		return Config{}, nil, errors.Wrap(err, "bind openai key env")
	}

	var warnings []string
	if envFile := v.GetString("env-file"); envFile != "" {
		w, err := LoadDotEnv(envFile)
		if err != nil {
			return Config{}, nil, err
		}
		warnings = append(warnings, w...)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, nil, errors.Wrap(err, "decode config")
	}
	w, err := cfg.validate()
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, append(warnings, w...), nil
}

// UseEnv makes v read AGENT_RELAY_* variables, with dashes mapped to underscores.
func UseEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("addr", d.Addr)
	v.SetDefault("static-dir", d.StaticDir)
	v.SetDefault("uploads-dir", d.UploadsDir)
	v.SetDefault("max-upload-bytes", d.MaxUploadBytes)
	v.SetDefault("write-timeout", d.WriteTimeout)
	v.SetDefault("max-sessions", d.MaxSessions)
	v.SetDefault("evict-idle", d.EvictIdle)
	v.SetDefault("evict-interval", d.EvictInterval)
	v.SetDefault("inbound-rate", d.InboundRate)
	v.SetDefault("inbound-burst", d.InboundBurst)
	v.SetDefault("responder", d.Responder)
	v.SetDefault("agent-file", d.AgentFile)
	v.SetDefault("openai-base-url", d.OpenAIBaseURL)
	v.SetDefault("openai-api-key", d.OpenAIAPIKey)
	v.SetDefault("openai-model", d.OpenAIModel)
	v.SetDefault("transcript-db", d.TranscriptDB)
	v.SetDefault("transcript-inmem-max", d.TranscriptInMemMax)
	v.SetDefault("env-file", d.EnvFile)
	v.SetDefault("redis-enabled", d.Redis.Enabled)
	v.SetDefault("redis-addr", d.Redis.Addr)
	v.SetDefault("redis-group", d.Redis.Group)
	v.SetDefault("log-level", d.Logging.Level)
	v.SetDefault("log-format", d.Logging.Format)
	v.SetDefault("with-caller", d.Logging.WithCaller)
}

func (c *Config) validate() ([]string, error) {
	var warnings []string
	if strings.TrimSpace(c.Addr) == "" {
		return nil, errors.New("addr is empty")
	}
	if c.MaxSessions < 0 || c.InboundBurst < 0 || c.TranscriptInMemMax < 0 {
		return nil, errors.New("max-sessions, inbound-burst and transcript-inmem-max must not be negative")
	}
	if c.InboundRate < 0 {
		return nil, errors.New("inbound-rate must not be negative")
	}
	if c.InboundRate > 0 && c.InboundBurst == 0 {
		c.InboundBurst = 1
	}
	if c.EvictIdle > 0 && c.EvictInterval <= 0 {
		return nil, errors.New("evict-interval must be positive when evict-idle is set")
	}
	c.Responder = strings.ToLower(strings.TrimSpace(c.Responder))
	switch c.Responder {
	case ResponderEcho:
	case ResponderOpenAI:
		if strings.TrimSpace(c.OpenAIAPIKey) == "" {
			warnings = append(warnings, "OPENAI_API_KEY is not set; falling back to the echo responder")
			c.Responder = ResponderEcho
		}
	default:
		return nil, errors.Errorf("unknown responder %q", c.Responder)
	}
	return warnings, nil
}

// LoadDotEnv exports the variables of a dotenv file that are not already set in
// the environment. A missing file yields a warning.
func LoadDotEnv(path string) ([]string, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return []string{"env file " + path + " not found; using process environment only"}, nil
		}
		return nil, errors.Wrapf(err, "stat env file %s", path)
	}
	ev := viper.New()
	ev.SetConfigFile(path)
	ev.SetConfigType("env")
	if err := ev.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read env file %s", path)
	}
	for _, key := range ev.AllKeys() {
		name := strings.ToUpper(key)
		if _, ok := os.LookupEnv(name); ok {
			continue
		}
		if err := os.Setenv(name, ev.GetString(key)); err != nil {
			return nil, errors.Wrapf(err, "set %s", name)
		}
	}
	return nil, nil
}
