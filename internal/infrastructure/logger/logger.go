package logger

import (
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

var (
	Info  *log.Logger
	Error *log.Logger
	Debug *log.Logger
	Warn  *log.Logger
)

var (
	mu     sync.Mutex
	output io.Writer = os.Stdout
	level            = "info"
)

func init() {
	logFlags := log.Ldate | log.Ltime | log.LUTC | log.Lshortfile

	Info = log.New(output, "INFO: ", logFlags)
	Error = log.New(output, "ERROR: ", logFlags)
	Debug = log.New(io.Discard, "DEBUG: ", logFlags)
	Warn = log.New(output, "WARN: ", logFlags)
}

// SetLevel silences loggers below level: debug, info, warn or error.
// Unknown levels behave like info.
func SetLevel(l string) {
	mu.Lock()
	defer mu.Unlock()
	level = strings.ToLower(strings.TrimSpace(l))
	apply()
}

// SetOutput redirects every logger to w, keeping the current level.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	apply()
}

func apply() {
	debug, info, warn := io.Discard, output, output
	switch level {
	case "debug":
		debug = output
	case "warn", "warning":
		info = io.Discard
	case "error":
		info, warn = io.Discard, io.Discard
	}
	Debug.SetOutput(debug)
	Info.SetOutput(info)
	Warn.SetOutput(warn)
	Error.SetOutput(output)
}
