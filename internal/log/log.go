// Package log provides structured, colored logging for the ledger node.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Component loggers. They are rebuilt from Logger by Init.
var (
	Chain     zerolog.Logger
	P2P       zerolog.Logger
	RPC       zerolog.Logger
	Consensus zerolog.Logger
	Miner     zerolog.Logger
	Storage   zerolog.Logger
	Node      zerolog.Logger
)

var components = map[string]*zerolog.Logger{
	"chain":     &Chain,
	"p2p":       &P2P,
	"rpc":       &RPC,
	"consensus": &Consensus,
	"miner":     &Miner,
	"storage":   &Storage,
	"node":      &Node,
}

func init() {
	setRoot(NewConsoleLogger(os.Stdout, "info"))
}

// Init replaces the global and component loggers. Console output is
// colored unless jsonOutput is set. A non-empty file additionally receives
// every entry as JSON.
func Init(level string, jsonOutput bool, file string) error {
	var out io.Writer = os.Stdout
	if !jsonOutput {
		out = consoleOutput(os.Stdout)
	}
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		out = zerolog.MultiLevelWriter(out, f)
	}
	setRoot(newLogger(out, level))
	return nil
}

func setRoot(l zerolog.Logger) {
	Logger = l
	for name, c := range components {
		*c = WithComponent(name)
	}
}

// NewConsoleLogger creates a human-readable logger. Colors are disabled
// when w is not a terminal.
func NewConsoleLogger(w io.Writer, level string) zerolog.Logger {
	return newLogger(consoleOutput(w), level)
}

// NewJSONLogger creates a structured JSON logger.
func NewJSONLogger(w io.Writer, level string) zerolog.Logger {
	return newLogger(w, level)
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	return zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()
}

func consoleOutput(w io.Writer) zerolog.ConsoleWriter {
	f, isFile := w.(*os.File)
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.TimeOnly,
		NoColor:    !isFile || !term.IsTerminal(int(f.Fd())),
	}
}

// ParseLevel converts a level name to a zerolog.Level. Empty or unknown
// names map to info.
func ParseLevel(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(level)
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}

// WithComponent returns a logger with a component field.
func WithComponent(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// Benchmark logs the time until the returned func is called, at debug level.
func Benchmark(name string) func() {
	start := time.Now()
	return func() {
		Logger.Debug().
			Str("operation", name).
			Dur("duration", time.Since(start)).
			Msg("benchmark")
	}
}
