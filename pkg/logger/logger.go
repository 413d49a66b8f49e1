package logger

import (
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// Global logger instance
	Logger = zerolog.Nop()

	// Pre-compiled regex patterns for sensitive data detection
	passwordPattern   = regexp.MustCompile(`(?i)(password|passwd|pwd|secret|token|api[_-]?key|auth)`)
	credentialPattern = regexp.MustCompile(`(?i)://([^:]+):([^@]+)@`)
)

// maxWireDump bounds the escaped size of a raw data dump
const maxWireDump = 8192

// Config holds logger configuration
type Config struct {
	Level      string // trace, debug, info, warn, error
	Format     string // json, console
	Output     string // stdout, stderr, file
	FilePath   string // path to log file if output=file
	Component  string // component name for structured logging
	EnableFile bool   // enable file output
}

// InitLogger initializes the global logger with the provided configuration
func InitLogger(cfg Config) error {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339Nano,
			NoColor:    false,
		}
		Logger = zerolog.New(output).With().Timestamp().Str("component", cfg.Component).Logger()
	} else {
		var writer io.Writer
		switch cfg.Output {
		case "stderr":
			writer = os.Stderr
		case "file":
			if cfg.EnableFile && cfg.FilePath != "" {
				file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
				if err != nil {
					return err
				}
				writer = file
			} else {
				writer = os.Stdout
			}
		default:
			writer = os.Stdout
		}

		Logger = zerolog.New(writer).With().Timestamp().Str("component", cfg.Component).Logger()
	}

	log.Logger = Logger

	return nil
}

// SetOutput redirects the global logger to w, keeping JSON format
func SetOutput(w io.Writer, component string) {
	Logger = zerolog.New(w).With().Timestamp().Str("component", component).Logger()
	log.Logger = Logger
}

// parseLevel converts string level to zerolog.Level
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// sanitizeFields removes or redacts sensitive information from fields
func sanitizeFields(fields map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(fields))
	for key, value := range fields {
		if passwordPattern.MatchString(key) {
			result[key] = "***REDACTED***"
			continue
		}

		if strValue, ok := value.(string); ok {
			result[key] = sanitizeString(strValue)
		} else {
			result[key] = value
		}
	}

	return result
}

// sanitizeString removes sensitive information from strings
func sanitizeString(s string) string {
	return credentialPattern.ReplaceAllString(s, "://$1:***@")
}

// Debug logs a debug message
func Debug(pkg, message string) {
	Logger.Debug().
		Str("package", pkg).
		Msg(message)
}

// Debugf logs a formatted debug message
func Debugf(pkg, format string, args ...interface{}) {
	Logger.Debug().
		Str("package", pkg).
		Msgf(format, args...)
}

// Info logs an info message
func Info(pkg, message string) {
	Logger.Info().
		Str("package", pkg).
		Msg(message)
}

// Infof logs a formatted info message
func Infof(pkg, format string, args ...interface{}) {
	Logger.Info().
		Str("package", pkg).
		Msgf(format, args...)
}

// Warn logs a warning message
func Warn(pkg, message string) {
	Logger.Warn().
		Str("package", pkg).
		Msg(message)
}

// Warnf logs a formatted warning message
func Warnf(pkg, format string, args ...interface{}) {
	Logger.Warn().
		Str("package", pkg).
		Msgf(format, args...)
}

// Error logs an error message
func Error(pkg, message string, err error) {
	Logger.Error().
		Str("package", pkg).
		Err(err).
		Msg(message)
}

// Errorf logs a formatted error message
func Errorf(pkg string, err error, format string, args ...interface{}) {
	Logger.Error().
		Str("package", pkg).
		Err(err).
		Msgf(format, args...)
}

// Fatal logs a fatal message and exits
func Fatal(pkg, message string, err error) {
	Logger.Fatal().
		Str("package", pkg).
		Err(err).
		Msg(message)
}

// SafeDebug logs a debug message with sanitized fields
func SafeDebug(pkg, message string, fields map[string]interface{}) {
	safeEvent(Logger.Debug(), pkg, fields).Msg(message)
}

// SafeInfo logs an info message with sanitized fields
func SafeInfo(pkg, message string, fields map[string]interface{}) {
	safeEvent(Logger.Info(), pkg, fields).Msg(message)
}

// SafeWarn logs a warning message with sanitized fields
func SafeWarn(pkg, message string, fields map[string]interface{}) {
	safeEvent(Logger.Warn(), pkg, fields).Msg(message)
}

// SafeError logs an error message with sanitized fields
func SafeError(pkg, message string, err error, fields map[string]interface{}) {
	safeEvent(Logger.Error(), pkg, fields).Err(err).Msg(message)
}

func safeEvent(event *zerolog.Event, pkg string, fields map[string]interface{}) *zerolog.Event {
	event = event.Str("package", pkg)
	for k, v := range sanitizeFields(fields) {
		event = event.Interface(k, v)
	}
	return event
}

// HTTP logs HTTP request information
func HTTP(method, path string, statusCode int, duration time.Duration, remoteAddr string) {
	Logger.Info().
		Str("package", "http").
		Str("method", method).
		Str("path", path).
		Int("status", statusCode).
		Dur("duration", duration).
		Str("remote_addr", sanitizeString(remoteAddr)).
		Msg("HTTP request")
}

// Clock logs a clockstats line for a refclock unit. The tallies are kept in
// order so the message doubles as the classic space separated stats record.
func Clock(unit string, names []string, values []uint64) {
	event := Logger.Info().
		Str("package", "clockstats").
		Str("unit", unit)

	var line strings.Builder
	for i, name := range names {
		if i >= len(values) {
			break
		}
		event = event.Uint64(name, values[i])
		if i > 0 {
			line.WriteByte(' ')
		}
		line.WriteString(strconv.FormatUint(values[i], 10))
	}

	event.Msg(line.String())
}

// Wire dumps raw protocol data at trace level. Non-printable bytes are
// escaped as \xNN and backslashes are doubled.
func Wire(unit, direction string, data []byte) {
	if Logger.GetLevel() > zerolog.TraceLevel || zerolog.GlobalLevel() > zerolog.TraceLevel {
		return
	}
	Logger.Trace().
		Str("package", "wire").
		Str("unit", unit).
		Str("direction", direction).
		Msg(EscapeData(data))
}

// EscapeData renders raw bytes as a printable string
func EscapeData(data []byte) string {
	var sb strings.Builder
	for _, c := range data {
		if sb.Len() >= maxWireDump {
			break
		}
		switch {
		case c == '\\':
			sb.WriteString(`\\`)
		case c >= 0x20 && c < 0x7F:
			sb.WriteByte(c)
		default:
			sb.WriteString(`\x`)
			sb.WriteByte("0123456789abcdef"[c>>4])
			sb.WriteByte("0123456789abcdef"[c&0x0F])
		}
	}
	return sb.String()
}

// Refclock logs a driver event for a refclock unit
func Refclock(level zerolog.Level, unit, message string, fields map[string]interface{}) {
	event := Logger.WithLevel(level).
		Str("package", "gpsd").
		Str("unit", unit)
	for k, v := range sanitizeFields(fields) {
		event = event.Interface(k, v)
	}
	event.Msg(message)
}

// Startup logs application startup information
func Startup(version, commit string, config interface{}) {
	Logger.Info().
		Str("package", "main").
		Str("version", version).
		Str("commit", commit).
		Interface("config", config).
		Msg("gpsd refclock starting")
}

// Shutdown logs application shutdown
func Shutdown(reason string) {
	Logger.Info().
		Str("package", "main").
		Str("reason", reason).
		Msg("gpsd refclock shutting down")
}
