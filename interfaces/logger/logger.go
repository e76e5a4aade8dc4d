package logger

// Logger is the ambient logging contract of the engine. interfaceName is
// the logical service the message belongs to, command the RPC operation
// being processed (empty when not applicable).
type Logger interface {
	Error(err error, text, interfaceName, command string)
	Info(text, interfaceName, command string)
	Debug(text, interfaceName, command string)
}
