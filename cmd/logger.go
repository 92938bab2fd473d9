package main

import (
	"fmt"
	"log"
)

// stdLogger adapts the info and error loggers to the Infof/Errorf contract
// of the internal packages.
type stdLogger struct {
	info *log.Logger
	err  *log.Logger
}

func newLogger(info, errorLog *log.Logger) *stdLogger {
	return &stdLogger{info: info, err: errorLog}
}

func (l *stdLogger) Infof(format string, args ...interface{}) {
	l.info.Printf(format, args...)
}

func (l *stdLogger) Errorf(format string, args ...interface{}) {
	_ = l.err.Output(2, fmt.Sprintf(format, args...))
}
