// Package logging provides leveled, package-level logging with an optional
// rotating log file.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/natefinch/lumberjack"
)

// ModeFlag is the minimum severity that is written.
type ModeFlag uint

const (
	DebugMode ModeFlag = iota
	InfoMode
	WarningMode
	ErrorMode
	CriticalMode
	SilentMode
)

var (
	mode   = InfoMode
	mu     sync.Mutex
	rotate *lumberjack.Logger
	std    = log.New(os.Stderr, "", log.LstdFlags)
)

// Config describes where log messages go.  An empty Logfile keeps logging on
// standard error.
type Config struct {
	Logfile string `yaml:"logfile" toml:"logfile"`
	MaxSize int    `yaml:"maxSize" toml:"max_log_size"`
	MaxAge  int    `yaml:"maxAge" toml:"max_log_age"`
	Verbose bool   `yaml:"verbose" toml:"verbose"`
}

// SetLogger routes log output according to the configuration.
func (c *Config) SetLogger() {
	if c == nil {
		return
	}
	if c.Verbose {
		SetLogMode(DebugMode)
	}
	if c.Logfile == "" {
		Debugf("Sending log messages to stderr since no log file specified.")
		return
	}
	fmt.Printf("Sending log messages to: %s\n", c.Logfile)
	l := &lumberjack.Logger{
		Filename: c.Logfile,
		MaxSize:  c.MaxSize, // megabytes
		MaxAge:   c.MaxAge,  // days
	}
	mu.Lock()
	rotate = l
	std.SetOutput(l)
	mu.Unlock()
}

// SetOutput redirects log output, mainly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	std.SetOutput(w)
	mu.Unlock()
}

// SetLogMode sets the severity required for a log message to be printed.
// SetLogMode(WarningMode) writes Warningf, Errorf and Criticalf messages.
// To turn off all logging, use SilentMode.
func SetLogMode(newMode ModeFlag) {
	mu.Lock()
	mode = newMode
	mu.Unlock()
}

func enabled(level ModeFlag) bool {
	mu.Lock()
	defer mu.Unlock()
	return mode <= level
}

func Debugf(format string, args ...interface{}) {
	if enabled(DebugMode) {
		std.Printf("   DEBUG "+format, args...)
	}
}

func Infof(format string, args ...interface{}) {
	if enabled(InfoMode) {
		std.Printf("    INFO "+format, args...)
	}
}

func Warningf(format string, args ...interface{}) {
	if enabled(WarningMode) {
		std.Printf(" WARNING "+format, args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if enabled(ErrorMode) {
		std.Printf("   ERROR "+format, args...)
	}
}

func Criticalf(format string, args ...interface{}) {
	if enabled(CriticalMode) {
		std.Printf("CRITICAL "+format, args...)
	}
}

// Shutdown closes the rotating log file if one is open.
func Shutdown() {
	mu.Lock()
	defer mu.Unlock()
	if rotate != nil {
		rotate.Close()
		rotate = nil
		std.SetOutput(os.Stderr)
	}
}

// TimeLog adds elapsed time to logging.
// Example:
//
//	tlog := logging.NewTimeLog()
//	...
//	tlog.Debugf("filtered %d objects", n) // appends time elapsed since NewTimeLog()
type TimeLog struct {
	start time.Time
}

func NewTimeLog() TimeLog {
	return TimeLog{time.Now()}
}

func (t TimeLog) Debugf(format string, args ...interface{}) {
	Debugf(format+": %s\n", append(args, time.Since(t.start))...)
}

func (t TimeLog) Infof(format string, args ...interface{}) {
	Infof(format+": %s\n", append(args, time.Since(t.start))...)
}

func (t TimeLog) Warningf(format string, args ...interface{}) {
	Warningf(format+": %s\n", append(args, time.Since(t.start))...)
}
