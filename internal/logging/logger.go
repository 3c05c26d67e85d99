package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type closer func()

type Options struct {
	File       string
	Level      string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewLogger writes JSON lines to stdout and, when File is set, to a rotating
// file. The returned logger also becomes the global log.Logger.
func NewLogger(o Options) (zerolog.Logger, closer, error) {
	return newLogger(os.Stdout, o)
}

func newLogger(stdout io.Writer, o Options) (zerolog.Logger, closer, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(o.Level)))
	if err != nil || o.Level == "" {
		lvl = zerolog.InfoLevel
	}
	w := stdout
	closeFn := func() {}
	if o.File != "" {
		if err := os.MkdirAll(filepath.Dir(o.File), 0o755); err != nil {
			return zerolog.Nop(), closeFn, err
		}
		lj := &lumberjack.Logger{
			Filename:   o.File,
			MaxSize:    o.MaxSizeMB,
			MaxBackups: o.MaxBackups,
			MaxAge:     o.MaxAgeDays,
		}
		w = io.MultiWriter(stdout, lj)
		closeFn = func() { _ = lj.Close() }
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	base := zerolog.New(w).Level(lvl).With().Timestamp().Caller().Logger()
	log.Logger = base
	return base, closeFn, nil
}
