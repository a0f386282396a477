package logger

import "go.uber.org/zap/zapcore"

// Verbosity levels for the repeated -v CLI flag.
const (
	VerbosityUser  = 0 // results and errors only
	VerbosityInfo  = 1 // -v: + startup, poller ticks
	VerbosityDebug = 2 // -vv: + lease contention, provider calls
)

// VerbosityToLevel maps a -v count to a zap level.
//
//	0 (none) -> WarnLevel
//	1 (-v)   -> InfoLevel
//	2+ (-vv) -> DebugLevel
func VerbosityToLevel(verbosity int) zapcore.Level {
	switch {
	case verbosity <= VerbosityUser:
		return zapcore.WarnLevel
	case verbosity == VerbosityInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// LevelName returns a human-readable name for a verbosity count.
func LevelName(verbosity int) string {
	switch {
	case verbosity <= VerbosityUser:
		return "User"
	case verbosity == VerbosityInfo:
		return "Info (-v)"
	default:
		return "Debug (-vv)"
	}
}
