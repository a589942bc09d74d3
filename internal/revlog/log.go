// Package revlog sets up leveled, optionally syslog-backed logging for the
// reverse-tunnel daemons: a package-level *logging.Logger handed out by a
// constructor, one instance per process.
package revlog

import (
	"os"

	"github.com/op/go-logging"
)

var stdoutFormat = logging.MustStringFormatter(
	`%{color}%{time:15:04:05.000} %{shortfunc} ▶ %{level:.4s}%{color:reset} %{message}`,
)

var syslogFormat = logging.MustStringFormatter(
	`%{shortfunc} ▶ %{level:.4s} %{message}`,
)

// SetupLogging builds a *logging.Logger named name at the given level. When
// useSyslog is true and a local syslog daemon is reachable, log lines are
// additionally mirrored there; failure to reach syslog is not fatal, it just
// means the stdout backend is the only one active.
func SetupLogging(name string, level logging.Level, useSyslog bool) *logging.Logger {
	log := logging.MustGetLogger(name)

	backends := make([]logging.Backend, 0, 2)

	stdoutBackend := logging.NewLogBackend(os.Stderr, "", 0)
	stdoutFormatted := logging.NewBackendFormatter(stdoutBackend, stdoutFormat)
	stdoutLeveled := logging.AddModuleLevel(stdoutFormatted)
	stdoutLeveled.SetLevel(level, "")
	backends = append(backends, stdoutLeveled)

	if useSyslog {
		if syslogBackend, err := logging.NewSyslogBackend(name); err == nil {
			syslogFormatted := logging.NewBackendFormatter(syslogBackend, syslogFormat)
			syslogLeveled := logging.AddModuleLevel(syslogFormatted)
			syslogLeveled.SetLevel(level, "")
			backends = append(backends, syslogLeveled)
		}
	}

	logging.SetBackend(backends...)
	return log
}

// Discard returns a logger backed by nothing, for use in tests that don't
// want to assert on log output but still need a non-nil *logging.Logger.
func Discard() *logging.Logger {
	log := logging.MustGetLogger("discard")
	backend := logging.AddModuleLevel(logging.NewLogBackend(discardWriter{}, "", 0))
	backend.SetLevel(logging.CRITICAL, "")
	logging.SetBackend(backend)
	return log
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
