// Package version reports build information. Release builds set the
// variables with -ldflags "-X github.com/lkarlslund/ccswitch/pkg/version.Version=vX.Y.Z";
// other builds fall back to the VCS stamp embedded by the go tool.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
)

var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	Date    string `json:"date,omitempty"`
	Dirty   bool   `json:"dirty,omitempty"`
}

var current = sync.OnceValue(func() Info {
	info := Info{
		Version: strings.TrimSpace(Version),
		Commit:  strings.TrimSpace(Commit),
		Date:    strings.TrimSpace(Date),
	}
	if info.Version == "" {
		info.Version = "dev"
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "" {
				info.Commit = s.Value
			}
		case "vcs.time":
			if info.Date == "" {
				info.Date = s.Value
			}
		case "vcs.modified":
			info.Dirty = s.Value == "true"
		}
	}
	return info
})

func Current() Info { return current() }

// Short is "<version>[+<commit12>][+dirty]".
func Short() string {
	v := Current()
	out := v.Version
	if v.Commit != "" {
		out += "+" + v.Commit[:min(12, len(v.Commit))]
	}
	if v.Dirty {
		out += "+dirty"
	}
	return out
}

// UserAgent identifies outbound requests made on the user's behalf, such
// as usage-script queries.
func UserAgent() string {
	return fmt.Sprintf("ccswitch/%s (%s/%s)", Current().Version, runtime.GOOS, runtime.GOARCH)
}

func Detailed(component string) string {
	if strings.TrimSpace(component) == "" {
		component = "ccswitch"
	}
	out := component + " " + Short()
	if d := Current().Date; d != "" {
		out += "\nBuilt: " + d
	}
	return out + "\n" + runtime.Version()
}
