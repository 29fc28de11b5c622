package logx

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/shopassist/server/internal/core"
)

var DefaultLoggerOpts = &LoggerOpts{
	Environment: core.Development,
}

type LoggerOpts struct {
	Environment core.Environment
	// Output overrides the destination; defaults to stderr.
	Output io.Writer
}

func safe(otps ...LoggerOpts) *LoggerOpts {
	if len(otps) == 0 {
		return DefaultLoggerOpts
	}
	return &otps[0]
}

func Init(otps ...LoggerOpts) {
	opts := safe(otps...)
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	switch opts.Environment {
	case core.Production:
		log.Logger = zerolog.New(out).With().Timestamp().Logger().Level(zerolog.InfoLevel)
	case core.Testing:
		log.Logger = zerolog.New(out).With().Timestamp().Logger().Level(zerolog.WarnLevel)
	default:
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Caller().Logger()
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	}
}

func Debug() *zerolog.Event {
	return log.Debug()
}

func Info() *zerolog.Event {
	return log.Info()
}

func Warn() *zerolog.Event {
	return log.Warn()
}

func Error() *zerolog.Event {
	return log.Error()
}

func Panic() *zerolog.Event {
	return log.Panic()
}

func Fatal() *zerolog.Event {
	return log.Fatal()
}
