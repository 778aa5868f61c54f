package ramadctl

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// The CLI logs through zerolog's console writer so its output reads like
// the daemon's own dev-mode logs.
var clog = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
	Level(zerolog.InfoLevel).
	With().Timestamp().Logger()

func init() {
	SetLogLevel(envStr("RAMADCTL_LOG_LEVEL", "info"))
}

func SetLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	clog = clog.Level(lvl)
}

func debug(format string, a ...any) { clog.Debug().Msgf(format, a...) }
func info(format string, a ...any)  { clog.Info().Msgf(format, a...) }
func warn(format string, a ...any)  { clog.Warn().Msgf(format, a...) }
func errl(format string, a ...any)  { clog.Error().Msgf(format, a...) }

func must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// Env helpers used for flag defaults.
func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
