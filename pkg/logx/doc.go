// Package logx is amd's structured logging layer over zerolog.
//
// Loggers are cheap values carrying fixed fields (Comp names the
// component). Console output is human readable with a short caller, the file
// sink writes JSON lines, and the optional operator sink forwards WARN and
// above to a Telegram chat under a rate limit without ever blocking the
// caller.
//
// Service doubles as the runtime verbosity handle shared with jobs and
// commands. Level and SetLevel are safe for concurrent use and every log
// call observes either the previous or the new level.
package logx
