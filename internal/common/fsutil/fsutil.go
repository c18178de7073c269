// Package fsutil holds small path helpers shared by the model checks.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExpandHome expands $VAR references and a leading '~' to the user's home
// directory, e.g. "~/models/DotsOCR" or "$MODELS_ROOT/DotsOCR".
func ExpandHome(path string) (string, error) {
	path = os.ExpandEnv(strings.TrimSpace(path))
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	rest := strings.TrimPrefix(path, "~")
	if rest != "" && rest[0] != '/' && rest[0] != filepath.Separator {
		// ~otheruser is not supported
		return path, nil
	}
	return filepath.Join(home, rest), nil
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// IsFile reports whether path exists and is not a directory.
func IsFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}
