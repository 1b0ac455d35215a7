package logx

import (
	"strings"

	"github.com/rs/zerolog"
)

var levelNames = map[string]zerolog.Level{
	"TRACE":   zerolog.TraceLevel,
	"DEBUG":   zerolog.DebugLevel,
	"INFO":    zerolog.InfoLevel,
	"WARN":    zerolog.WarnLevel,
	"WARNING": zerolog.WarnLevel,
	"ERROR":   zerolog.ErrorLevel,
}

func lookupLevel(s string) (zerolog.Level, bool) {
	lvl, ok := levelNames[strings.ToUpper(strings.TrimSpace(s))]
	return lvl, ok
}

func parseLevel(s string, def zerolog.Level) zerolog.Level {
	if lvl, ok := lookupLevel(s); ok {
		return lvl
	}
	return def
}

// ValidLevel reports whether s names a supported level (case-insensitive).
func ValidLevel(s string) bool {
	_, ok := lookupLevel(s)
	return ok
}

func levelName(l zerolog.Level) string {
	return strings.ToUpper(l.String())
}
