// Package version reports the build being run.
package version

import (
	"encoding/json"
	"os"
	"runtime/debug"
	"time"

	"github.com/zircuit-labs/zkr-go-thunk/xerrors/stacktrace"
)

// DefaultPath is where deployment images place version information.
const DefaultPath = "/etc/version.json"

type Information struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	GitDate   string    `json:"git_date"`
	Date      time.Time `json:"-"`
}

// Info is read at startup from DefaultPath, falling back to the module
// build information.
var Info = Load(DefaultPath)

// Load returns the information in the JSON file at path, or build
// information embedded by the Go toolchain when the file is unusable.
func Load(path string) Information {
	info, err := Read(path)
	if err != nil {
		return fromBuildInfo()
	}
	return info
}

// Read parses the JSON file at path.
func Read(path string) (Information, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Information{}, stacktrace.Wrap(err)
	}
	var info Information
	if err := json.Unmarshal(data, &info); err != nil {
		return Information{}, stacktrace.Wrap(err)
	}
	info.Date = parseDate(info.GitDate)
	return info, nil
}

func fromBuildInfo() Information {
	var info Information
	build, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	info.Version = build.Main.Version
	for _, s := range build.Settings {
		switch s.Key {
		case "vcs.revision":
			info.GitCommit = s.Value
		case "vcs.time":
			info.GitDate = s.Value
		}
	}
	info.Date = parseDate(info.GitDate)
	return info
}

func parseDate(s string) time.Time {
	d, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return d.UTC()
}
