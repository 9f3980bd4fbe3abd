package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ZerologLogger adapts rs/zerolog to the core logger interface. Every line
// carries the component that produced it, so one service log interleaves the
// mpc, realtime, thermal and transport components legibly.
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger returns a logger for one service component. Output is
// JSON on stdout; APP_ENV=dev switches to the human readable console writer
// for local runs.
func NewZerologLogger(component string) Logger {
	out := io.Writer(os.Stdout)
	if strings.ToLower(os.Getenv("APP_ENV")) == "dev" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	z := zerolog.New(out).With().Timestamp().Str("component", component).Logger()
	return &ZerologLogger{log: z}
}

func (l *ZerologLogger) Debugf(format string, args ...any) { l.log.Debug().Msgf(format, args...) }

func (l *ZerologLogger) Debugw(msg string, fields map[string]any) {
	l.log.Debug().Fields(fields).Msg(msg)
}

func (l *ZerologLogger) Infof(format string, args ...any) { l.log.Info().Msgf(format, args...) }

func (l *ZerologLogger) Warnf(format string, args ...any) { l.log.Warn().Msgf(format, args...) }

func (l *ZerologLogger) Errorf(format string, args ...any) { l.log.Error().Msgf(format, args...) }
