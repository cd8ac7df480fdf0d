// Package logger provides leveled logging for the orchestration core.
//
// Components accept the Logger interface and must tolerate a nil logger; the
// console implementation is thread-safe and colors output when the writer is
// a TTY.
package logger

// Logger is the logging interface consumed by the core components.
type Logger interface {
	Tracef(format string, args ...any)
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Nop is a Logger that discards everything.
type Nop struct{}

func (Nop) Tracef(string, ...any) {}
func (Nop) Debugf(string, ...any) {}
func (Nop) Infof(string, ...any)  {}
func (Nop) Warnf(string, ...any)  {}
func (Nop) Errorf(string, ...any) {}

// OrNop returns l, or a Nop logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop{}
	}
	return l
}
