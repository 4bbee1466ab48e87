// Package appdir resolves the per-user application-data directory used as
// the default location for PicoDB database files.
package appdir

import (
	"fmt"
	"os"
	"path/filepath"
)

const appName = "picodb"

// DefaultDataDir returns the default database directory for the current
// user, e.g. ~/.config/picodb on Linux or the platform equivalent. The
// directory is not created; callers create it via storageengine.Create.
func DefaultDataDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve user config dir: %w", err)
	}
	return filepath.Join(base, appName), nil
}
