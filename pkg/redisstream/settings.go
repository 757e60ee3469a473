package redisstream

import "strings"

// Settings holds Redis Streams transport configuration for Watermill.
type Settings struct {
	Enabled bool   `mapstructure:"redis-enabled"`
	Addr    string `mapstructure:"redis-addr"`
	Group   string `mapstructure:"redis-group"`
}

func DefaultSettings() Settings {
	return Settings{Addr: "localhost:6379", Group: "agent-relay"}
}

func (s Settings) normalized() Settings {
	d := DefaultSettings()
	if strings.TrimSpace(s.Addr) == "" {
		s.Addr = d.Addr
	}
	if strings.TrimSpace(s.Group) == "" {
		s.Group = d.Group
	}
	return s
}
