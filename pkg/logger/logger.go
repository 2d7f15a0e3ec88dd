package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

var log zerolog.Logger

// Init configures the process logger. level is a zerolog level name and
// defaults to info. format is "json" or "console"; when empty, debug level
// gets the console writer and every other level gets JSON.
func Init(level, format string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	var w io.Writer = os.Stdout
	switch strings.ToLower(format) {
	case "console":
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	case "json":
	default:
		if lvl == zerolog.DebugLevel {
			w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		}
	}
	SetOutput(w, lvl)
}

// SetOutput swaps the sink, mainly so tests can capture or silence output.
func SetOutput(w io.Writer, lvl zerolog.Level) {
	log = zerolog.New(w).Level(lvl).With().Timestamp().Caller().Logger()
}

func init() {
	Init("info", "json")
}

func Debug() *zerolog.Event { return log.Debug() }
func Info() *zerolog.Event  { return log.Info() }
func Warn() *zerolog.Event  { return log.Warn() }
func Error() *zerolog.Event { return log.Error() }
func Fatal() *zerolog.Event { return log.Fatal() }

func Infof(format string, v ...interface{})  { log.Info().Msgf(format, v...) }
func Warnf(format string, v ...interface{})  { log.Warn().Msgf(format, v...) }
func Errorf(format string, v ...interface{}) { log.Error().Msgf(format, v...) }

// Fatalf logs and exits the process.
func Fatalf(format string, v ...interface{}) { log.Fatal().Msgf(format, v...) }

// GinLogger writes one access line per request. Health probes are logged at
// debug level only, and the route template is recorded next to the raw path
// so /api/tasks/:id lines can be grouped.
func GinLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		var event *zerolog.Event
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		case path == "/health":
			event = log.Debug()
		default:
			event = log.Info()
		}

		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		if uid, ok := c.Get("user_id"); ok {
			event = event.Interface("user_id", uid)
		}

		event.
			Int("status", status).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("route", c.FullPath()).
			Str("query", c.Request.URL.RawQuery).
			Str("ip", c.ClientIP()).
			Dur("latency", time.Since(start)).
			Int("size", c.Writer.Size()).
			Msg("request")
	}
}

// GinRecovery turns a handler panic into a logged 500.
func GinRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.Error().
			Interface("panic", recovered).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("ip", c.ClientIP()).
			Msg("panic recovered")
		c.AbortWithStatusJSON(500, gin.H{"code": 500, "message": "internal server error", "kind": "internal"})
	})
}
