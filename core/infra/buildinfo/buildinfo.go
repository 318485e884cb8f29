// Package buildinfo carries the release stamp of the gridstore binaries.
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/cordum/gridstore/core/infra/logging"
)

const unknown = "unknown"

// Populated through -ldflags at release time.
var (
	Version = "dev"
	Commit  = unknown
	Date    = unknown
)

// Stamp is the resolved identity of the running binary.
type Stamp struct {
	Version   string
	Commit    string
	Date      string
	GoVersion string
}

// Current resolves the stamp. Commit and date fall back to the VCS settings
// the toolchain embeds when ldflags left them unset.
func Current() Stamp {
	s := Stamp{Version: Version, Commit: Commit, Date: Date, GoVersion: runtime.Version()}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return s
	}
	for _, kv := range bi.Settings {
		switch {
		case kv.Key == "vcs.revision" && s.Commit == unknown:
			s.Commit = shortRevision(kv.Value)
		case kv.Key == "vcs.time" && s.Date == unknown:
			s.Date = kv.Value
		}
	}
	return s
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

func (s Stamp) String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s go=%s", s.Version, s.Commit, s.Date, s.GoVersion)
}

// Log announces a service start. kv carries deployment fields such as the
// repository backend and the bus url.
func Log(service string, kv ...any) {
	s := Current()
	fields := append([]any{"version", s.Version, "commit", s.Commit, "date", s.Date, "go", s.GoVersion}, kv...)
	logging.Info(service, "starting", fields...)
}
