package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Settings struct {
	Level      string `mapstructure:"log-level"`
	Format     string `mapstructure:"log-format"`
	WithCaller bool   `mapstructure:"with-caller"`
}

func DefaultSettings() Settings {
	return Settings{Level: "info", Format: "auto"}
}

// Init configures the global zerolog logger. Format "auto" picks the console writer
// when out is a terminal and JSON otherwise.
func Init(s Settings, out *os.File) error {
	if out == nil {
		out = os.Stderr
	}
	lvl := zerolog.InfoLevel
	if strings.TrimSpace(s.Level) != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(s.Level))
		if err != nil {
			return errors.Wrapf(err, "invalid log level %q", s.Level)
		}
		lvl = l
	}
	w, err := writerFor(s.Format, out)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	ctx := zerolog.New(w).With().Timestamp()
	if s.WithCaller {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()
	return nil
}

func writerFor(format string, out *os.File) (io.Writer, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "auto":
		if isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd()) {
			return zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}, nil
		}
		return out, nil
	case "text", "console":
		return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: true}, nil
	case "json":
		return out, nil
	default:
		return nil, errors.Errorf("invalid log format %q", format)
	}
}
