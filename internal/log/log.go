// Package log provides the structured component loggers of an XChain node.
package log

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the root logger. Component loggers derive from it.
var Logger zerolog.Logger

// Component loggers.
var (
	Chain     zerolog.Logger
	Community zerolog.Logger
	P2P       zerolog.Logger
	RPC       zerolog.Logger
	Storage   zerolog.Logger
	Wallet    zerolog.Logger
	Node      zerolog.Logger
)

const consoleTimeFormat = "15:04:05"

func init() {
	Logger = NewConsoleLogger(os.Stdout, "info")
	deriveComponents()
}

// Init replaces the root logger. With a file, records go to the console
// (colored or JSON) and to the file as JSON.
func Init(level string, jsonOutput bool, file string) error {
	var console io.Writer = os.Stdout
	if !jsonOutput {
		console = consoleWriter(os.Stdout)
	}

	out := console
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		out = zerolog.MultiLevelWriter(console, f)
	}

	Logger = newLogger(out, level)
	deriveComponents()
	return nil
}

// NewConsoleLogger returns a colored human-readable logger writing to w.
func NewConsoleLogger(w io.Writer, level string) zerolog.Logger {
	return newLogger(consoleWriter(w), level)
}

// NewJSONLogger returns a JSON logger writing to w.
func NewJSONLogger(w io.Writer, level string) zerolog.Logger {
	return newLogger(w, level)
}

func consoleWriter(w io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat}
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	return zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()
}

// ParseLevel maps a config level name to a zerolog level. Unknown names
// fall back to info.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

func deriveComponents() {
	Chain = WithComponent("chain")
	Community = WithComponent("community")
	P2P = WithComponent("p2p")
	RPC = WithComponent("rpc")
	Storage = WithComponent("storage")
	Wallet = WithComponent("wallet")
	Node = WithComponent("node")
}

// WithComponent returns a logger tagged with a component field.
func WithComponent(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// Debug starts a debug record on the root logger.
func Debug() *zerolog.Event { return Logger.Debug() }

// Info starts an info record on the root logger.
func Info() *zerolog.Event { return Logger.Info() }

// Warn starts a warning record on the root logger.
func Warn() *zerolog.Event { return Logger.Warn() }

// Error starts an error record on the root logger.
func Error() *zerolog.Event { return Logger.Error() }

// Fatal starts a fatal record; the process exits after it is written.
func Fatal() *zerolog.Event { return Logger.Fatal() }

// Timed logs the duration of an operation at debug level when the returned
// func is called.
func Timed(l zerolog.Logger, op string) func() {
	start := time.Now()
	return func() {
		l.Debug().Str("op", op).Dur("took", time.Since(start)).Msg("Timed operation")
	}
}
