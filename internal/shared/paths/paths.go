// Package paths resolves where durable state lives on disk. All storage
// tiers anchor at one state directory so a user can inspect or wipe
// everything in a single place.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultDirName is the state directory used when configuration gives a
// relative location.
const DefaultDirName = ".sessionkit"

// ResolveStateDir turns a configured state directory into an absolute path.
// Absolute paths pass through unchanged; relative ones are anchored at the
// user's home directory. When the home directory cannot be determined the
// relative path is used as-is, i.e. against the working directory.
func ResolveStateDir(configured string) string {
	if configured == "" {
		configured = DefaultDirName
	}
	if filepath.IsAbs(configured) {
		return configured
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return configured
	}
	return filepath.Join(home, configured)
}

// ValidateNamespace guards namespace strings before they become directory
// names under the state dir.
func ValidateNamespace(ns string) error {
	if ns == "" {
		return fmt.Errorf("namespace cannot be empty")
	}
	if filepath.IsAbs(ns) {
		return fmt.Errorf("namespace cannot be an absolute path")
	}
	if filepath.Clean(ns) != ns || ns == ".." {
		return fmt.Errorf("namespace contains invalid path components")
	}
	return nil
}
