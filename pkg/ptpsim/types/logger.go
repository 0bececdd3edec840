package types

// Logger is the logging abstraction used throughout the simulator. Every
// node (grandmaster, switch, slave) is constructed with one, so a caller
// can swap in a test double without touching protocol code.
type Logger interface {
	Info(v ...interface{})
	Infof(format string, v ...interface{})

	Warn(v ...interface{})
	Warnf(format string, v ...interface{})

	Error(v ...interface{})
	Errorf(format string, v ...interface{})

	Debug(v ...interface{})
	Debugf(format string, v ...interface{})

	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})

	Panic(v ...interface{})
	Panicf(format string, v ...interface{})

	// ToggleDebug enables or disables Debug/Debugf output, returning the
	// new state.
	ToggleDebug(value bool) bool
}
