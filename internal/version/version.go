package version

import (
	"fmt"
	"runtime/debug"
)

// Заполняются через -ldflags "-X github.com/vladislavdragonenkov/storefront/internal/version.version=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func init() {
	if commit != "unknown" {
		return
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			if setting.Value != "" {
				commit = setting.Value
			}
		case "vcs.time":
			if date == "unknown" && setting.Value != "" {
				date = setting.Value
			}
		}
	}
}

// Info returns version information populated via -ldflags or VCS build info.
func Info() (v, c, d string) { return version, commit, date }

func GetVersion() string { return version }

func GetCommit() string { return commit }

func GetDate() string { return date }

func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}

// UserAgent используется исходящими HTTP-клиентами сервиса.
func UserAgent(component string) string {
	return fmt.Sprintf("storefront-%s/%s", component, version)
}
