package testlogger

import (
	"testing"
)

type Logger struct {
	T *testing.T
}

func (s *Logger) Error(err error, text, interfaceName, command string) {
	s.T.Logf("ERROR %s in interface %s command %s: %s\r\n", text, interfaceName, command, err)
}

func (s *Logger) Info(text string, interfaceName string, command string) {
	s.T.Logf("INFO interface %s; command %s; text '%s'\r\n", interfaceName, command, text)
}

func (s *Logger) Debug(text string, interfaceName string, command string) {
	s.T.Logf("DEBUG interface %s; command %s; text '%s'\r\n", interfaceName, command, text)
}

func New(t *testing.T) *Logger {
	return &Logger{T: t}
}
