package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options задает уровень, формат и необязательный файл с ротацией.
type Options struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New возвращает логгер; уровень из LOG_LEVEL имеет приоритет над Options.Level.
// Логгер также становится глобальным log.Logger.
func New(app string, opts Options) zerolog.Logger {
	lg := zerolog.New(writer(opts)).
		Level(parseLevel(opts.Level)).
		With().Timestamp().Str("app", app).Logger()
	log.Logger = lg
	return lg
}

func writer(opts Options) io.Writer {
	var out io.Writer = os.Stderr
	if opts.File != "" {
		out = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
	}
	if strings.EqualFold(opts.Format, "console") {
		return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: opts.File != ""}
	}
	return out
}

func parseLevel(configured string) zerolog.Level {
	raw := configured
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		raw = env
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil || raw == "" {
		return zerolog.InfoLevel
	}
	return level
}
