package logger

import (
	"fmt"
)

type DefaultLogger struct {
}

func (d *DefaultLogger) Error(err error, text, interfaceName, command string) {
	fmt.Printf("ERROR %s in interface %s command %s: %s\r\n", text, interfaceName, command, err)
}

func (d *DefaultLogger) Info(text string, interfaceName string, command string) {
	fmt.Printf("INFO interface %s; command %s; text '%s'\r\n", interfaceName, command, text)
}

func (d *DefaultLogger) Debug(text string, interfaceName string, command string) {
	fmt.Printf("DEBUG interface %s; command %s; text '%s'\r\n", interfaceName, command, text)
}
