// Package version exposes the build identity of the running binary.
package version

import (
	"fmt"
	"runtime/debug"
)

// Overridden through linker options on release builds.
var (
	gitTag    = "untagged"
	gitCommit = ""
	buildDate = "unknown"
)

// GetVersion returns the human-readable version string of this build.
func GetVersion() string {
	return fmt.Sprintf("%s. Built at: %s", GetBuildData(), buildDate)
}

// GetBuildData returns the tag and commit of the current build, falling
// back to the vcs metadata the Go toolchain embeds in module builds.
func GetBuildData() string {
	commit := gitCommit
	if commit == "" {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, setting := range info.Settings {
				if setting.Key == "vcs.revision" {
					commit = setting.Value
				}
			}
		}
	}
	if len(commit) > 8 {
		commit = commit[:8]
	}
	if commit == "" {
		commit = "local"
	}
	return fmt.Sprintf("Maestro/%s/%s", gitTag, commit)
}
