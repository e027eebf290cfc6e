package logsvc

import (
	"log"

	"github.com/maktabahq/maktaba/core"
)

// TestLogger writes to the standard logger only, never to rollbar.
type TestLogger struct {
	std *log.Logger
}

var _ core.Logger = (*TestLogger)(nil)

func NewTestLogger(std *log.Logger) *TestLogger {
	return &TestLogger{std: std}
}

func (l TestLogger) Enable(bool) {}

func (l TestLogger) log(lvl, msg string, args []interface{}) {
	l.std.Printf("[%s] %s", lvl, msg)
	for _, arg := range args {
		l.std.Printf("%+v\n", arg)
	}
}

func (l TestLogger) Debug(msg string, args ...interface{}) { l.log("DEBUG", msg, args) }
func (l TestLogger) Info(msg string, args ...interface{})  { l.log("INFO", msg, args) }
func (l TestLogger) Warn(msg string, args ...interface{})  { l.log("WARN", msg, args) }
func (l TestLogger) Error(msg string, args ...interface{}) { l.log("ERROR", msg, args) }
func (l TestLogger) Fatal(msg string, args ...interface{}) {
	l.log("FATAL", msg, args)
	l.std.Fatal(msg)
}
